package memstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perch"
	"perch/memstore"
	"perch/storage"
	"perch/storetest"
)

func TestMain(m *testing.M) {
	storetest.ConfigureLogging()
	m.Run()
}

func TestContract(t *testing.T) {
	storetest.All(t, func(t *testing.T) perch.Store {
		return memstore.New()
	})
}

func TestContractOverPrefixTree(t *testing.T) {
	storetest.All(t, func(t *testing.T) perch.Store {
		return memstore.NewWith(storage.NewPrefixTreeStorage[[]byte]())
	})
}

func TestWriteAfterCommitFails(t *testing.T) {
	// arrange
	s := memstore.New()
	wt, err := s.Write()
	require.NoError(t, err)
	require.NoError(t, wt.Put("k", []byte("v")))
	require.NoError(t, wt.Commit())

	// act & assert
	assert.ErrorIs(t, wt.Put("k", []byte("again")), perch.ErrTxFinished)
	assert.ErrorIs(t, wt.Del("k"), perch.ErrTxFinished)
}

func TestWriteAfterRollbackFails(t *testing.T) {
	s := memstore.New()
	wt, err := s.Write()
	require.NoError(t, err)
	require.NoError(t, wt.Put("k", []byte("v")))
	require.NoError(t, wt.Rollback())

	assert.ErrorIs(t, wt.Put("k", []byte("again")), perch.ErrTxFinished)
}

func TestReleaseRollsBack(t *testing.T) {
	// arrange
	s := memstore.New()
	wt, err := s.Write()
	require.NoError(t, err)
	require.NoError(t, wt.Put("k", []byte("v")))

	// act
	wt.Release()

	// assert: nothing landed and the store admits the next transaction
	ok, err := s.Has("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommitTwiceIsLenient(t *testing.T) {
	s := memstore.New()
	wt, err := s.Write()
	require.NoError(t, err)
	require.NoError(t, wt.Put("k", []byte("v")))
	require.NoError(t, wt.Commit())

	assert.NoError(t, wt.Commit())
	assert.NoError(t, wt.Rollback())
}

func TestClose(t *testing.T) {
	s := memstore.New()
	require.NoError(t, s.Put("k", []byte("v")))
	assert.NoError(t, s.Close())
}
