// Package enginestore adapts a callback-style backend engine into the
// blocking Store contract. Completion signals bridge per-key requests, the
// outcome cell bridges the terminal events, and an RWMutex admits readers
// and the single writer in arrival order, since no engine is required to
// serialize new readers behind a waiting writer on its own.
package enginestore

import (
	"fmt"
	"sync"

	"perch"
	"perch/engine"
	"perch/signal"
)

var (
	_ perch.Store = (*Store)(nil)
	_ perch.Read  = (*readTx)(nil)
	_ perch.Write = (*writeTx)(nil)
)

type Store struct {
	mx  sync.RWMutex
	eng engine.Engine
}

// New runs the store contract over eng. The store owns no engine state
// beyond open transactions; Close closes the engine.
func New(eng engine.Engine) *Store {
	return &Store{eng: eng}
}

func (s *Store) Read() (perch.Read, error) {
	s.mx.RLock()
	tx, err := s.eng.Begin(false)
	if err != nil {
		s.mx.RUnlock()
		return nil, perch.NewStoreError("starting read transaction", err)
	}
	// handlers registered before any request so teardown is awaitable
	closed := signal.New[struct{}]()
	tx.OnComplete(func() { closed.Fulfill(struct{}{}) })
	tx.OnAbort(func() { closed.Fulfill(struct{}{}) })
	tx.OnError(func(error) { closed.Fulfill(struct{}{}) })
	return &readTx{unlock: s.mx.RUnlock, tx: tx, closed: closed}, nil
}

func (s *Store) Write() (perch.Write, error) {
	s.mx.Lock()
	tx, err := s.eng.Begin(true)
	if err != nil {
		s.mx.Unlock()
		return nil, perch.NewStoreError("starting write transaction", err)
	}
	wt := &writeTx{
		unlock:  s.mx.Unlock,
		tx:      tx,
		pending: perch.NewBuffer(),
		outcome: signal.NewOutcome(),
	}
	// whichever terminal event fires first resolves the outcome cell;
	// the cell logs and drops any later resolution
	tx.OnComplete(func() { wt.outcome.Resolve(signal.Committed) })
	tx.OnAbort(func() { wt.outcome.Resolve(signal.Aborted) })
	tx.OnError(func(error) { wt.outcome.Resolve(signal.Errored) })
	return wt, nil
}

func (s *Store) Put(key string, value []byte) error {
	wt, err := s.Write()
	if err != nil {
		return err
	}
	if err := wt.Put(key, value); err != nil {
		_ = wt.Rollback()
		return err
	}
	return wt.Commit()
}

func (s *Store) Has(key string) (bool, error) {
	rt, err := s.Read()
	if err != nil {
		return false, err
	}
	defer rt.Release()
	return rt.Has(key)
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	rt, err := s.Read()
	if err != nil {
		return nil, false, err
	}
	defer rt.Release()
	return rt.Get(key)
}

func (s *Store) Close() error {
	return s.eng.Close()
}

type getReply struct {
	value []byte
	ok    bool
	err   error
}

type countReply struct {
	n   int
	err error
}

// txGet issues one engine get and blocks on its completion signal.
func txGet(tx engine.Tx, key string) ([]byte, bool, error) {
	sig := signal.New[getReply]()
	tx.Get(key, func(value []byte, ok bool, err error) {
		sig.Fulfill(getReply{value: value, ok: ok, err: err})
	})
	reply, err := sig.Await()
	if err != nil {
		return nil, false, perch.NewStoreError("get", err)
	}
	if reply.err != nil {
		return nil, false, perch.NewStoreError("get", reply.err)
	}
	return reply.value, reply.ok, nil
}

// txHas issues one engine count and reads it as presence.
func txHas(tx engine.Tx, key string) (bool, error) {
	sig := signal.New[countReply]()
	tx.Count(key, func(n int, err error) {
		sig.Fulfill(countReply{n: n, err: err})
	})
	reply, err := sig.Await()
	if err != nil {
		return false, perch.NewStoreError("has", err)
	}
	if reply.err != nil {
		return false, perch.NewStoreError("has", reply.err)
	}
	return reply.n >= 1, nil
}

type readTx struct {
	unlock  func()
	tx      engine.Tx
	closed  *signal.Signal[struct{}]
	release sync.Once
}

func (rt *readTx) Has(key string) (bool, error) {
	return txHas(rt.tx, key)
}

func (rt *readTx) Get(key string) ([]byte, bool, error) {
	return txGet(rt.tx, key)
}

func (rt *readTx) Release() {
	rt.release.Do(func() {
		rt.tx.Abort()
		_, _ = rt.closed.Await()
		rt.unlock()
	})
}

type writeTx struct {
	unlock  func()
	tx      engine.Tx
	pending *perch.Buffer
	outcome *signal.Outcome
	finish  sync.Once
}

func (wt *writeTx) Has(key string) (bool, error) {
	if entry, staged := wt.pending.Get(key); staged {
		return entry.IsPresent(), nil
	}
	return txHas(wt.tx, key)
}

func (wt *writeTx) Get(key string) ([]byte, bool, error) {
	if entry, staged := wt.pending.Get(key); staged {
		value, present := entry.Get()
		return value, present, nil
	}
	return txGet(wt.tx, key)
}

func (wt *writeTx) Put(key string, value []byte) error {
	if wt.outcome.Load() != signal.Open {
		return perch.ErrTxFinished
	}
	wt.pending.Put(key, value)
	return nil
}

func (wt *writeTx) Del(key string) error {
	if wt.outcome.Load() != signal.Open {
		return perch.ErrTxFinished
	}
	wt.pending.Del(key)
	return nil
}

func (wt *writeTx) Commit() error {
	if wt.pending.Len() == 0 {
		// nothing staged: succeed without backend write traffic and
		// without waiting on the outcome, even if the engine side already
		// expired; the engine transaction is still disposed of
		wt.tx.Abort()
		wt.releaseGate()
		return nil
	}

	switch wt.outcome.Load() {
	case signal.Committed:
		return nil
	case signal.Aborted, signal.Errored:
		if err := wt.tx.Err(); err != nil {
			return perch.NewStoreError("commit", err)
		}
		return fmt.Errorf("commit: %w", perch.ErrTxAborted)
	}

	// every staged entry becomes one engine request, each with its own
	// completion signal created before the request is issued
	entries := wt.pending.Snapshot()
	acks := make([]*signal.Signal[error], 0, len(entries))
	for key, entry := range entries {
		ack := signal.New[error]()
		if value, present := entry.Get(); present {
			wt.tx.Put(key, value, ack.Fulfill)
		} else {
			wt.tx.Delete(key, ack.Fulfill)
		}
		acks = append(acks, ack)
	}
	// request failures surface through the transaction-level error below
	for _, ack := range acks {
		if _, err := ack.Await(); err != nil {
			wt.releaseGate()
			return perch.NewStoreError("commit interrupted", err)
		}
	}

	wt.tx.Commit()
	state := wt.outcome.Wait()
	wt.releaseGate()

	if err := wt.tx.Err(); err != nil {
		return perch.NewStoreError("commit", err)
	}
	if state != signal.Committed {
		return fmt.Errorf("commit: %w", perch.ErrTxAborted)
	}
	return nil
}

func (wt *writeTx) Rollback() error {
	if wt.pending.Len() == 0 {
		wt.tx.Abort()
		wt.releaseGate()
		return nil
	}

	switch wt.outcome.Load() {
	case signal.Committed, signal.Aborted:
		// the backend already finished the transaction on its own
		wt.releaseGate()
		return nil
	}

	wt.tx.Abort()
	state := wt.outcome.Wait()
	wt.releaseGate()

	if err := wt.tx.Err(); err != nil {
		return perch.NewStoreError("rollback", err)
	}
	if state != signal.Aborted {
		return perch.NewStoreError("transaction abort failed", nil)
	}
	return nil
}

func (wt *writeTx) Release() {
	_ = wt.Rollback()
}

func (wt *writeTx) releaseGate() {
	wt.finish.Do(wt.unlock)
}
