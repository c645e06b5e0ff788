package perch

import (
	"sync"

	"github.com/samber/mo"
)

// Buffer is the pending-write map of a write transaction: staged values and
// tombstones keyed by key, last writer wins. Byte slices are copied on the
// way in and on the way out, so neither callers nor backends ever alias
// buffer memory.
type Buffer struct {
	mx      sync.Mutex
	entries map[string]mo.Option[[]byte]
}

func NewBuffer() *Buffer {
	return &Buffer{entries: make(map[string]mo.Option[[]byte])}
}

// Put stages value under key, replacing whatever entry was staged before.
func (b *Buffer) Put(key string, value []byte) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.entries[key] = mo.Some(cloneBytes(value))
}

// Del stages a tombstone under key, replacing whatever entry was staged
// before.
func (b *Buffer) Del(key string) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.entries[key] = mo.None[[]byte]()
}

// Get reports the staged entry for key. The bool reports whether the key is
// staged at all; a staged None is a tombstone.
func (b *Buffer) Get(key string) (mo.Option[[]byte], bool) {
	b.mx.Lock()
	defer b.mx.Unlock()
	entry, ok := b.entries[key]
	if !ok {
		return mo.None[[]byte](), false
	}
	if v, present := entry.Get(); present {
		return mo.Some(cloneBytes(v)), true
	}
	return entry, true
}

// Len reports the number of staged entries.
func (b *Buffer) Len() int {
	b.mx.Lock()
	defer b.mx.Unlock()
	return len(b.entries)
}

// Snapshot copies the staged entries out for applying.
func (b *Buffer) Snapshot() map[string]mo.Option[[]byte] {
	b.mx.Lock()
	defer b.mx.Unlock()
	out := make(map[string]mo.Option[[]byte], len(b.entries))
	for k, e := range b.entries {
		out[k] = e
	}
	return out
}

// cloneBytes never returns nil, so a staged empty value stays present.
func cloneBytes(b []byte) []byte {
	return append([]byte{}, b...)
}
