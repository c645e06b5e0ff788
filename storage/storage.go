// Package storage provides the pluggable in-memory maps behind the
// reference backend.
package storage

// Storage is a string-keyed map. Implementations are safe for the access
// pattern the store's admission gate allows: concurrent readers, or one
// writer alone.
type Storage[V any] interface {
	Get(string) (V, bool)
	Set(string, V)
	Del(string)
	ToMap() map[string]V
}

var (
	_ Storage[[]byte] = (*skipmapStorage[[]byte])(nil)
	_ Storage[[]byte] = (*prefixTreeStorage[[]byte])(nil)
)
