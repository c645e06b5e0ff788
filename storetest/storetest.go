// Package storetest is the backend conformance suite: every Store
// implementation runs the same sections unmodified from its own package
// tests. Blocking expectations are verified with bounded waits, so a
// backend that admits transactions in the wrong order fails fast here.
package storetest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perch"
)

const (
	// settleTime is how long an operation must stay blocked before the
	// suite believes it is actually being held back.
	settleTime = 200 * time.Millisecond

	// awaitTime bounds every wait for an admission that should happen.
	awaitTime = 5 * time.Second
)

// All runs the whole suite, opening a fresh store per section.
func All(t *testing.T, open func(t *testing.T) perch.Store) {
	t.Run("store", func(t *testing.T) { Store(t, open(t)) })
	t.Run("read transaction", func(t *testing.T) { ReadTransaction(t, open(t)) })
	t.Run("write transaction", func(t *testing.T) { WriteTransaction(t, open(t)) })
	t.Run("snapshot", func(t *testing.T) { Snapshot(t, open(t)) })
	t.Run("isolation", func(t *testing.T) { Isolation(t, open(t)) })
	t.Run("scenarios", func(t *testing.T) { Scenarios(t, open(t)) })
}

// Store verifies the one-shot convenience operations.
func Store(t *testing.T, s perch.Store) {
	// fresh keys miss
	ok, err := s.Has("foo")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Get("foo")
	require.NoError(t, err)
	assert.False(t, ok)

	// put, then read back
	require.NoError(t, s.Put("foo", []byte("bar")))
	ok, err = s.Has("foo")
	require.NoError(t, err)
	assert.True(t, ok)
	v, ok, err := s.Get("foo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("bar"), v)

	// the last write wins
	require.NoError(t, s.Put("foo", []byte("baz")))
	v, ok, err = s.Get("foo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("baz"), v)

	// an empty value is present, not absent
	require.NoError(t, s.Put("empty", []byte{}))
	ok, err = s.Has("empty")
	require.NoError(t, err)
	assert.True(t, ok)
	v, ok, err = s.Get("empty")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, v)

	// arbitrary bytes round-trip exactly
	blob := []byte{0x00, 0xff, 0xfe, 0x01}
	require.NoError(t, s.Put("blob", blob))
	v, ok, err = s.Get("blob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blob, v)

	// a value showing up under one key says nothing about others
	ok, err = s.Has("baz")
	require.NoError(t, err)
	assert.False(t, ok)
}

// ReadTransaction verifies snapshot reads through an explicit Read.
func ReadTransaction(t *testing.T, s perch.Store) {
	require.NoError(t, s.Put("rk", []byte("rv")))

	rt, err := s.Read()
	require.NoError(t, err)
	defer rt.Release()

	ok, err := rt.Has("rk")
	require.NoError(t, err)
	assert.True(t, ok)

	v, ok, err := rt.Get("rk")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("rv"), v)

	_, ok, err = rt.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	// releasing more than once is fine
	rt.Release()
	rt.Release()
}

// WriteTransaction verifies staging, commit and rollback through the write
// capability.
func WriteTransaction(t *testing.T, s perch.Store) {
	require.NoError(t, s.Put("k1", []byte("v1")))

	// staged entries read back through the transaction, then roll back
	wt, err := s.Write()
	require.NoError(t, err)
	ok, err := wt.Has("k1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, wt.Put("k2", []byte("v2")))
	v, ok, err := wt.Get("k2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), v)
	require.NoError(t, wt.Rollback())
	ok, err = s.Has("k2")
	require.NoError(t, err)
	assert.False(t, ok)

	// commit applies the staged entries
	wt, err = s.Write()
	require.NoError(t, err)
	require.NoError(t, wt.Put("k2", []byte("v2")))
	require.NoError(t, wt.Commit())
	v, ok, err = s.Get("k2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), v)

	// a staged deletion is visible in the transaction before commit
	wt, err = s.Write()
	require.NoError(t, err)
	require.NoError(t, wt.Del("k1"))
	ok, err = wt.Has("k1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = wt.Get("k1")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, wt.Commit())
	ok, err = s.Has("k1")
	require.NoError(t, err)
	assert.False(t, ok)

	// a deletion rolled back leaves the value in place
	wt, err = s.Write()
	require.NoError(t, err)
	require.NoError(t, wt.Del("k2"))
	require.NoError(t, wt.Rollback())
	v, ok, err = s.Get("k2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), v)

	// same-key staging collapses to the final entry
	wt, err = s.Write()
	require.NoError(t, err)
	require.NoError(t, wt.Put("k3", []byte("a")))
	require.NoError(t, wt.Del("k3"))
	require.NoError(t, wt.Put("k3", []byte("final")))
	require.NoError(t, wt.Commit())
	v, ok, err = s.Get("k3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("final"), v)

	// a write doubles as a read over its own dirty view
	wt, err = s.Write()
	require.NoError(t, err)
	require.NoError(t, wt.Put("k4", []byte("v4")))
	var r perch.Read = wt
	v, ok, err = r.Get("k4")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v4"), v)
	require.NoError(t, wt.Rollback())
}

// Snapshot verifies a reader keeps its view while a deleting writer waits
// for admission, and that fresh reads observe the deletion once committed.
func Snapshot(t *testing.T, s perch.Store) {
	require.NoError(t, s.Put("sk", []byte("sv")))

	rt, err := s.Read()
	require.NoError(t, err)

	admitted := asyncWrite(t, s)
	assertBlocked(t, admitted, "write admitted while a read is open")

	v, ok, err := rt.Get("sk")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("sv"), v)
	rt.Release()

	wt := await(t, admitted, "write never admitted after the reader closed")
	require.NoError(t, wt.Del("sk"))
	ok, err = wt.Has("sk")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, wt.Commit())

	ok, err = s.Has("sk")
	require.NoError(t, err)
	assert.False(t, ok)
}

// Isolation verifies reader/writer admission ordering with bounded waits.
func Isolation(t *testing.T, s perch.Store) {
	// two open readers hold the writer back until the last one closes
	r1, err := s.Read()
	require.NoError(t, err)
	r2, err := s.Read()
	require.NoError(t, err)

	admitted := asyncWrite(t, s)
	assertBlocked(t, admitted, "write admitted while two reads are open")
	r1.Release()
	assertBlocked(t, admitted, "write admitted while one read is open")
	r2.Release()
	wt := await(t, admitted, "write never admitted after the last reader closed")

	// an open writer holds back new writers and new readers alike
	nextWrite := asyncWrite(t, s)
	nextRead := asyncRead(t, s)
	assertBlocked(t, nextWrite, "second write admitted while a write is open")
	assertBlocked(t, nextRead, "read admitted while a write is open")

	require.NoError(t, wt.Rollback())

	// both blocked requests are admitted now, in whichever order the
	// gate picks, each one only after its predecessor closes
	pendingW, pendingR := nextWrite, nextRead
	for pendingW != nil || pendingR != nil {
		select {
		case w2 := <-pendingW:
			require.NoError(t, w2.Rollback())
			pendingW = nil
		case r3 := <-pendingR:
			r3.Release()
			pendingR = nil
		case <-time.After(awaitTime):
			t.Fatal("blocked transactions never admitted after the writer closed")
		}
	}
}

func asyncWrite(t *testing.T, s perch.Store) chan perch.Write {
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
	return ch
}

func asyncRead(t *testing.T, s perch.Store) chan perch.Read {
	t.Helper()
	ch := make(chan perch.Read, 1)
	go func() {
		rt, err := s.Read()
		if err != nil {
			t.Errorf("opening read transaction: %s", err.Error())
			return
		}
		ch <- rt
	}()
	return ch
}

func assertBlocked[T any](t *testing.T, ch <-chan T, msg string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal(msg)
	case <-time.After(settleTime):
	}
}

func await[T any](t *testing.T, ch <-chan T, msg string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(awaitTime):
		t.Fatal(msg)
	}
	var zero T
	return zero
}
