// Package memstore is the reference in-memory backend: the full transaction
// contract with no engine underneath. It exists so contract semantics can
// be verified deterministically and so layers above the store can be tested
// without a durable engine.
package memstore

import (
	"fmt"
	"sync"

	"perch"
	"perch/signal"
	"perch/storage"
)

var (
	_ perch.Store = (*Store)(nil)
	_ perch.Read  = (*readTx)(nil)
	_ perch.Write = (*writeTx)(nil)
)

// Store keeps the authoritative data in a Storage map. The RWMutex is the
// admission gate: any number of readers or one writer, arrivals served in
// order, so writers see no readers and readers never see a half-applied
// commit.
type Store struct {
	mx   sync.RWMutex
	data storage.Storage[[]byte]
}

func New() *Store {
	return NewWith(storage.NewSkipmapStorage[[]byte]())
}

// NewWith runs the store over a caller-chosen storage implementation.
func NewWith(data storage.Storage[[]byte]) *Store {
	return &Store{data: data}
}

func (s *Store) Read() (perch.Read, error) {
	s.mx.RLock()
	return &readTx{store: s}, nil
}

func (s *Store) Write() (perch.Write, error) {
	s.mx.Lock()
	return &writeTx{
		store:   s,
		pending: perch.NewBuffer(),
		outcome: signal.NewOutcome(),
	}, nil
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

func (s *Store) Close() error { return nil }

type readTx struct {
	store   *Store
	release sync.Once
}

func (rt *readTx) Has(key string) (bool, error) {
	_, ok := rt.store.data.Get(key)
	return ok, nil
}

func (rt *readTx) Get(key string) ([]byte, bool, error) {
	v, ok := rt.store.data.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, v...), true, nil
}

func (rt *readTx) Release() {
	rt.release.Do(rt.store.mx.RUnlock)
}

type writeTx struct {
	store   *Store
	pending *perch.Buffer
	outcome *signal.Outcome
	finish  sync.Once
}

func (wt *writeTx) Has(key string) (bool, error) {
	if entry, staged := wt.pending.Get(key); staged {
		return entry.IsPresent(), nil
	}
	_, ok := wt.store.data.Get(key)
	return ok, nil
}

func (wt *writeTx) Get(key string) ([]byte, bool, error) {
	if entry, staged := wt.pending.Get(key); staged {
		v, present := entry.Get()
		return v, present, nil
	}
	v, ok := wt.store.data.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, v...), true, nil
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
		if wt.outcome.Load() == signal.Open {
			wt.outcome.Resolve(signal.Committed)
		}
		wt.releaseGate()
		return nil
	}

	switch wt.outcome.Load() {
	case signal.Committed:
		return nil
	case signal.Aborted, signal.Errored:
		return fmt.Errorf("commit: %w", perch.ErrTxAborted)
	}

	for key, entry := range wt.pending.Snapshot() {
		if v, present := entry.Get(); present {
			wt.store.data.Set(key, v)
		} else {
			wt.store.data.Del(key)
		}
	}
	wt.outcome.Resolve(signal.Committed)
	wt.releaseGate()
	return nil
}

func (wt *writeTx) Rollback() error {
	if wt.pending.Len() == 0 {
		if wt.outcome.Load() == signal.Open {
			wt.outcome.Resolve(signal.Aborted)
		}
		wt.releaseGate()
		return nil
	}

	switch wt.outcome.Load() {
	case signal.Committed, signal.Aborted:
		wt.releaseGate()
		return nil
	case signal.Errored:
		wt.releaseGate()
		return perch.NewStoreError("transaction abort failed", nil)
	}

	wt.outcome.Resolve(signal.Aborted)
	wt.releaseGate()
	return nil
}

func (wt *writeTx) Release() {
	_ = wt.Rollback()
}

func (wt *writeTx) releaseGate() {
	wt.finish.Do(wt.store.mx.Unlock)
}
