package storage

import (
	"github.com/zhangyunhao116/skipmap"
)

// NewSkipmapStorage is the default map: a concurrent skiplist, ordered and
// lock-free on the read side.
func NewSkipmapStorage[V any]() *skipmapStorage[V] {
	return &skipmapStorage[V]{skipmap.NewString[V]()}
}

type skipmapStorage[V any] struct {
	inner *skipmap.StringMap[V]
}

func (s *skipmapStorage[V]) Get(key string) (V, bool) {
	return s.inner.Load(key)
}

func (s *skipmapStorage[V]) Set(key string, value V) {
	s.inner.Store(key, value)
}

func (s *skipmapStorage[V]) Del(key string) {
	s.inner.Delete(key)
}

func (s *skipmapStorage[V]) ToMap() map[string]V {
	out := make(map[string]V, s.inner.Len())
	s.inner.Range(func(key string, value V) bool {
		out[key] = value
		return true
	})
	return out
}
