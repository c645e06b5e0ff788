package sqlite_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perch/engine"
	"perch/engine/sqlite"
)

func TestPutGetAcrossTransactions(t *testing.T) {
	eng := open(t, filepath.Join(t.TempDir(), "perch.db"))

	// arrange: commit one entry
	wt, err := eng.Begin(true)
	require.NoError(t, err)
	wev := watch(wt)
	txPut(t, wt, "k1", []byte("v1"))
	got := txGet(t, wt, "k1")
	require.NoError(t, got.err)
	require.True(t, got.ok)
	assert.Equal(t, []byte("v1"), got.v)
	wt.Commit()
	wev.awaitComplete(t)

	// act & assert: a fresh read transaction sees it
	rt, err := eng.Begin(false)
	require.NoError(t, err)
	rev := watch(rt)
	got = txGet(t, rt, "k1")
	require.NoError(t, got.err)
	require.True(t, got.ok)
	assert.Equal(t, []byte("v1"), got.v)
	assert.Equal(t, 1, txCount(t, rt, "k1"))
	assert.Equal(t, 0, txCount(t, rt, "missing"))
	rt.Abort()
	rev.awaitAbort(t)
}

func TestUpsertReplaces(t *testing.T) {
	eng := open(t, filepath.Join(t.TempDir(), "perch.db"))

	for _, value := range []string{"first", "second"} {
		wt, err := eng.Begin(true)
		require.NoError(t, err)
		ev := watch(wt)
		txPut(t, wt, "k", []byte(value))
		wt.Commit()
		ev.awaitComplete(t)
	}

	rt, err := eng.Begin(false)
	require.NoError(t, err)
	rev := watch(rt)
	got := txGet(t, rt, "k")
	require.NoError(t, got.err)
	require.True(t, got.ok)
	assert.Equal(t, []byte("second"), got.v)
	assert.Equal(t, 1, txCount(t, rt, "k"))
	rt.Abort()
	rev.awaitAbort(t)
}

// Reopening must keep existing rows: the user_version guard makes the
// schema setup a first-run-only step.
func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perch.db")

	eng := open(t, path)
	wt, err := eng.Begin(true)
	require.NoError(t, err)
	ev := watch(wt)
	txPut(t, wt, "k", []byte("v"))
	wt.Commit()
	ev.awaitComplete(t)
	require.NoError(t, eng.Close())

	eng = open(t, path)
	rt, err := eng.Begin(false)
	require.NoError(t, err)
	rev := watch(rt)
	got := txGet(t, rt, "k")
	require.NoError(t, got.err)
	require.True(t, got.ok)
	assert.Equal(t, []byte("v"), got.v)
	rt.Abort()
	rev.awaitAbort(t)
}

// The column is NOT NULL, so empty values must stay empty blobs on the
// way in and come back present on the way out.
func TestEmptyValueIsPresent(t *testing.T) {
	eng := open(t, filepath.Join(t.TempDir(), "perch.db"))

	wt, err := eng.Begin(true)
	require.NoError(t, err)
	ev := watch(wt)
	txPut(t, wt, "empty", []byte{})
	wt.Commit()
	ev.awaitComplete(t)

	rt, err := eng.Begin(false)
	require.NoError(t, err)
	rev := watch(rt)
	got := txGet(t, rt, "empty")
	require.NoError(t, got.err)
	assert.True(t, got.ok)
	assert.Empty(t, got.v)
	assert.Equal(t, 1, txCount(t, rt, "empty"))
	rt.Abort()
	rev.awaitAbort(t)
}

func TestDeleteRemoves(t *testing.T) {
	eng := open(t, filepath.Join(t.TempDir(), "perch.db"))

	wt, err := eng.Begin(true)
	require.NoError(t, err)
	ev := watch(wt)
	txPut(t, wt, "k", []byte("v"))
	txDelete(t, wt, "k")
	wt.Commit()
	ev.awaitComplete(t)

	rt, err := eng.Begin(false)
	require.NoError(t, err)
	rev := watch(rt)
	assert.Equal(t, 0, txCount(t, rt, "k"))
	rt.Abort()
	rev.awaitAbort(t)
}

func TestAbortDiscards(t *testing.T) {
	eng := open(t, filepath.Join(t.TempDir(), "perch.db"))

	wt, err := eng.Begin(true)
	require.NoError(t, err)
	ev := watch(wt)
	txPut(t, wt, "k", []byte("v"))
	wt.Abort()
	ev.awaitAbort(t)

	rt, err := eng.Begin(false)
	require.NoError(t, err)
	rev := watch(rt)
	assert.Equal(t, 0, txCount(t, rt, "k"))
	rt.Abort()
	rev.awaitAbort(t)
}

func TestReadOnlyTransactionRejectsMutations(t *testing.T) {
	eng := open(t, filepath.Join(t.TempDir(), "perch.db"))

	rt, err := eng.Begin(false)
	require.NoError(t, err)
	ev := watch(rt)

	errc := make(chan error, 1)
	rt.Put("k", []byte("v"), func(err error) { errc <- err })
	assert.ErrorIs(t, <-errc, engine.ErrReadOnly)
	rt.Delete("k", func(err error) { errc <- err })
	assert.ErrorIs(t, <-errc, engine.ErrReadOnly)

	// the recorded failure turns the commit request into the error event
	rt.Commit()
	assert.ErrorIs(t, ev.awaitError(t), engine.ErrReadOnly)
	assert.ErrorIs(t, rt.Err(), engine.ErrReadOnly)
}

func TestRequestsAfterFinishAreRejected(t *testing.T) {
	eng := open(t, filepath.Join(t.TempDir(), "perch.db"))

	wt, err := eng.Begin(true)
	require.NoError(t, err)
	ev := watch(wt)
	txPut(t, wt, "k", []byte("v"))
	wt.Commit()
	ev.awaitComplete(t)

	got := txGet(t, wt, "k")
	assert.ErrorIs(t, got.err, engine.ErrTxDone)
	errc := make(chan error, 1)
	wt.Delete("k", func(err error) { errc <- err })
	assert.ErrorIs(t, <-errc, engine.ErrTxDone)
}

func open(t *testing.T, path string) *sqlite.Engine {
	t.Helper()
	eng, err := sqlite.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

// events collects a transaction's terminal events. Handlers are registered
// before any request, as the contract requires.
type events struct {
	completed chan struct{}
	aborted   chan struct{}
	failed    chan error
}

func watch(tx engine.Tx) *events {
	ev := &events{
		completed: make(chan struct{}, 1),
		aborted:   make(chan struct{}, 1),
		failed:    make(chan error, 1),
	}
	tx.OnComplete(func() { ev.completed <- struct{}{} })
	tx.OnAbort(func() { ev.aborted <- struct{}{} })
	tx.OnError(func(err error) { ev.failed <- err })
	return ev
}

func (ev *events) awaitComplete(t *testing.T) {
	t.Helper()
	select {
	case <-ev.completed:
	case <-ev.aborted:
		t.Fatal("transaction aborted instead of completing")
	case err := <-ev.failed:
		t.Fatalf("transaction failed: %s", err.Error())
	case <-time.After(5 * time.Second):
		t.Fatal("transaction never completed")
	}
}

func (ev *events) awaitAbort(t *testing.T) {
	t.Helper()
	select {
	case <-ev.aborted:
	case <-ev.completed:
		t.Fatal("transaction completed instead of aborting")
	case err := <-ev.failed:
		t.Fatalf("transaction failed: %s", err.Error())
	case <-time.After(5 * time.Second):
		t.Fatal("transaction never aborted")
	}
}

func (ev *events) awaitError(t *testing.T) error {
	t.Helper()
	select {
	case err := <-ev.failed:
		return err
	case <-ev.completed:
		t.Fatal("transaction completed instead of failing")
	case <-ev.aborted:
		t.Fatal("transaction aborted instead of failing")
	case <-time.After(5 * time.Second):
		t.Fatal("transaction never failed")
	}
	return nil
}

type getReply struct {
	v   []byte
	ok  bool
	err error
}

func txGet(t *testing.T, tx engine.Tx, key string) getReply {
	t.Helper()
	ch := make(chan getReply, 1)
	tx.Get(key, func(v []byte, ok bool, err error) { ch <- getReply{v: v, ok: ok, err: err} })
	return <-ch
}

func txCount(t *testing.T, tx engine.Tx, key string) int {
	t.Helper()
	type reply struct {
		n   int
		err error
	}
	ch := make(chan reply, 1)
	tx.Count(key, func(n int, err error) { ch <- reply{n: n, err: err} })
	r := <-ch
	require.NoError(t, r.err)
	return r.n
}

func txPut(t *testing.T, tx engine.Tx, key string, value []byte) {
	t.Helper()
	ch := make(chan error, 1)
	tx.Put(key, value, func(err error) { ch <- err })
	require.NoError(t, <-ch)
}

func txDelete(t *testing.T, tx engine.Tx, key string) {
	t.Helper()
	ch := make(chan error, 1)
	tx.Delete(key, func(err error) { ch <- err })
	require.NoError(t, <-ch)
}
