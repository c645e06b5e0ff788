package storage

import (
	"github.com/s0rg/trie"
)

// NewPrefixTreeStorage keeps keys in a trie. Slower than the skiplist for
// point lookups but kept as the second implementation the conformance
// tests run against.
func NewPrefixTreeStorage[V any]() *prefixTreeStorage[V] {
	return &prefixTreeStorage[V]{trie.New[V]()}
}

type prefixTreeStorage[V any] struct {
	inner *trie.Trie[V]
}

func (s *prefixTreeStorage[V]) Get(key string) (V, bool) {
	return s.inner.Find(key)
}

func (s *prefixTreeStorage[V]) Set(key string, value V) {
	s.inner.Add(key, value)
}

func (s *prefixTreeStorage[V]) Del(key string) {
	s.inner.Del(key)
}

func (s *prefixTreeStorage[V]) ToMap() map[string]V {
	keys, _ := s.inner.Suggest("")
	out := make(map[string]V, len(keys))
	for _, k := range keys {
		v, _ := s.inner.Find(k)
		out[k] = v
	}

	return out
}
