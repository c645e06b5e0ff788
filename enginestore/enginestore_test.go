package enginestore_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perch"
	"perch/engine"
	"perch/engine/bolt"
	"perch/engine/sqlite"
	"perch/enginestore"
	"perch/storetest"
)

func TestMain(m *testing.M) {
	storetest.ConfigureLogging()
	m.Run()
}

func TestContractOverBolt(t *testing.T) {
	storetest.All(t, func(t *testing.T) perch.Store {
		eng, err := bolt.Open(filepath.Join(t.TempDir(), "perch.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = eng.Close() })
		return enginestore.New(eng)
	})
}

func TestContractOverSqlite(t *testing.T) {
	storetest.All(t, func(t *testing.T) perch.Store {
		eng, err := sqlite.Open(filepath.Join(t.TempDir(), "perch.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = eng.Close() })
		return enginestore.New(eng)
	})
}

// An empty commit skips the backend but must still dispose of the engine
// transaction, or the next write would wait on the engine forever.
func TestEmptyCommitLeavesEngineUsable(t *testing.T) {
	eng, err := bolt.Open(filepath.Join(t.TempDir(), "perch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	s := enginestore.New(eng)

	wt, err := s.Write()
	require.NoError(t, err)
	require.NoError(t, wt.Commit())

	next := awaitWrite(t, s)
	require.NoError(t, next.Put("k", []byte("v")))
	require.NoError(t, next.Commit())

	v, ok, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func TestCommitBackendAborts(t *testing.T) {
	// arrange: the engine answers the commit request with a rollback
	tx := newStubTx()
	tx.commitNow = func(tx *stubTx) { tx.fireAbort() }
	s := enginestore.New(singleTxEngine(tx))

	wt, err := s.Write()
	require.NoError(t, err)
	require.NoError(t, wt.Put("k", []byte("v")))

	// act & assert
	assert.ErrorIs(t, wt.Commit(), perch.ErrTxAborted)
}

func TestCommitBackendErrorIsAuthoritative(t *testing.T) {
	boom := errors.New("backing file torn away")
	tx := newStubTx()
	tx.commitNow = func(tx *stubTx) { tx.fireError(boom) }
	s := enginestore.New(singleTxEngine(tx))

	wt, err := s.Write()
	require.NoError(t, err)
	require.NoError(t, wt.Put("k", []byte("v")))

	err = wt.Commit()
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, perch.ErrTxAborted)
}

func TestRollbackAfterBackendFinished(t *testing.T) {
	tx := newStubTx()
	s := enginestore.New(singleTxEngine(tx))

	wt, err := s.Write()
	require.NoError(t, err)
	require.NoError(t, wt.Put("k", []byte("v")))

	// the backend finishes the transaction on its own before rollback
	tx.fireComplete()
	assert.NoError(t, wt.Rollback())
}

func TestRollbackAbortFailure(t *testing.T) {
	// the engine answers the abort request with a completion instead
	tx := newStubTx()
	tx.abortNow = func(tx *stubTx) { tx.fireComplete() }
	s := enginestore.New(singleTxEngine(tx))

	wt, err := s.Write()
	require.NoError(t, err)
	require.NoError(t, wt.Put("k", []byte("v")))

	assert.ErrorContains(t, wt.Rollback(), "transaction abort failed")
}

func TestFailedOpenReleasesGate(t *testing.T) {
	calls := 0
	eng := &stubEngine{}
	eng.begin = func(writable bool) (engine.Tx, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("backend refused")
		}
		return newStubTx(), nil
	}
	s := enginestore.New(eng)

	_, err := s.Read()
	require.Error(t, err)

	// a failed open must not leave the admission gate held
	wt := awaitWrite(t, s)
	require.NoError(t, wt.Rollback())
}

func TestCloseClosesEngine(t *testing.T) {
	eng := &stubEngine{begin: func(bool) (engine.Tx, error) { return newStubTx(), nil }}
	s := enginestore.New(eng)
	require.NoError(t, s.Close())
	assert.True(t, eng.closed)
}

func awaitWrite(t *testing.T, s perch.Store) perch.Write {
	t.Helper()
	ch := make(chan perch.Write, 1)
	go func() {
		wt, err := s.Write()
		if err != nil {
			t.Errorf("opening write transaction: %s", err.Error())
			return
		}
		ch <- wt
	}()
	select {
	case wt := <-ch:
		return wt
	case <-time.After(5 * time.Second):
		t.Fatal("write transaction never admitted")
	}
	return nil
}

var (
	_ engine.Engine = (*stubEngine)(nil)
	_ engine.Tx     = (*stubTx)(nil)
)

// stubEngine scripts engine behavior for adapter paths the file-backed
// engines only reach under backend failures.
type stubEngine struct {
	begin  func(writable bool) (engine.Tx, error)
	closed bool
}

func singleTxEngine(tx *stubTx) *stubEngine {
	return &stubEngine{begin: func(bool) (engine.Tx, error) { return tx, nil }}
}

func (e *stubEngine) Begin(writable bool) (engine.Tx, error) { return e.begin(writable) }

func (e *stubEngine) Close() error {
	e.closed = true
	return nil
}

// stubTx answers every request synchronously and finishes however the
// test scripted it.
type stubTx struct {
	onComplete func()
	onAbort    func()
	onError    func(error)

	failure error

	commitNow func(tx *stubTx)
	abortNow  func(tx *stubTx)
}

func newStubTx() *stubTx {
	tx := &stubTx{}
	tx.commitNow = func(tx *stubTx) { tx.fireComplete() }
	tx.abortNow = func(tx *stubTx) { tx.fireAbort() }
	return tx
}

func (tx *stubTx) Get(key string, done func([]byte, bool, error)) { done(nil, false, nil) }
func (tx *stubTx) Count(key string, done func(int, error))        { done(0, nil) }
func (tx *stubTx) Put(key string, value []byte, done func(error)) { done(nil) }
func (tx *stubTx) Delete(key string, done func(error))            { done(nil) }

func (tx *stubTx) OnComplete(f func())   { tx.onComplete = f }
func (tx *stubTx) OnAbort(f func())      { tx.onAbort = f }
func (tx *stubTx) OnError(f func(error)) { tx.onError = f }

func (tx *stubTx) Commit() { tx.commitNow(tx) }
func (tx *stubTx) Abort()  { tx.abortNow(tx) }

func (tx *stubTx) Err() error { return tx.failure }

func (tx *stubTx) fireComplete() { tx.onComplete() }
func (tx *stubTx) fireAbort()    { tx.onAbort() }

func (tx *stubTx) fireError(err error) {
	tx.failure = err
	tx.onError(err)
}
