package perch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferLastWriteWins(t *testing.T) {
	// arrange
	buf := NewBuffer()

	// act
	buf.Put("k", []byte("one"))
	buf.Del("k")
	buf.Put("k", []byte("two"))
	entry, staged := buf.Get("k")

	// assert
	require.True(t, staged)
	v, present := entry.Get()
	assert.True(t, present)
	assert.Equal(t, []byte("two"), v)
	assert.Equal(t, 1, buf.Len())
}

func TestBufferTombstone(t *testing.T) {
	// arrange
	buf := NewBuffer()
	buf.Put("k", []byte("v"))

	// act
	buf.Del("k")
	entry, staged := buf.Get("k")

	// assert
	assert.True(t, staged)
	assert.True(t, entry.IsAbsent())
	assert.Equal(t, 1, buf.Len())
}

func TestBufferMissIsNotATombstone(t *testing.T) {
	buf := NewBuffer()

	entry, staged := buf.Get("nope")

	assert.False(t, staged)
	assert.True(t, entry.IsAbsent())
}

func TestBufferCopiesValues(t *testing.T) {
	// arrange
	buf := NewBuffer()
	in := []byte("abc")

	// act
	buf.Put("k", in)
	in[0] = 'x'
	entry, _ := buf.Get("k")
	out, _ := entry.Get()
	out[0] = 'y'
	again, _ := buf.Get("k")
	kept, _ := again.Get()

	// assert
	assert.Equal(t, []byte("abc"), kept)
}

func TestBufferEmptyValueStaysPresent(t *testing.T) {
	buf := NewBuffer()

	buf.Put("k", nil)
	entry, staged := buf.Get("k")

	require.True(t, staged)
	v, present := entry.Get()
	assert.True(t, present)
	assert.NotNil(t, v)
	assert.Empty(t, v)
}

func TestBufferSnapshot(t *testing.T) {
	// arrange
	buf := NewBuffer()
	buf.Put("a", []byte("1"))
	buf.Del("b")

	// act
	snap := buf.Snapshot()

	// assert
	require.Len(t, snap, 2)
	a, present := snap["a"].Get()
	assert.True(t, present)
	assert.Equal(t, []byte("1"), a)
	assert.True(t, snap["b"].IsAbsent())
}
