// Package registry tracks open stores by database name. Callers hold a
// Registry explicitly; there is no process-wide instance.
package registry

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/zhangyunhao116/skipmap"

	"perch"
)

// ErrEmptyName rejects Open calls without a database name.
var ErrEmptyName = errors.New("db name must be non-empty")

// Opener builds the store behind a database name.
type Opener func(name string) (perch.Store, error)

// Fallback composes two openers: when the primary reports
// perch.ErrUnavailable the fallback takes over. Any other failure
// propagates untouched.
func Fallback(primary, fallback Opener) Opener {
	return func(name string) (perch.Store, error) {
		s, err := primary(name)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, perch.ErrUnavailable) {
			return nil, err
		}
		slog.Warn("primary store unavailable, falling back", "db", name, "reason", err)
		return fallback(name)
	}
}

// Registry is a name to open-store mapping. Lookups run lock-free on the
// skipmap; opening and closing serialize on the mutex so one name is only
// ever opened once.
type Registry struct {
	opener Opener

	mx     sync.Mutex
	stores *skipmap.StringMap[perch.Store]
}

func New(opener Opener) *Registry {
	return &Registry{
		opener: opener,
		stores: skipmap.NewString[perch.Store](),
	}
}

// Open opens the named store, or returns the one already open under that
// name.
func (r *Registry) Open(name string) (perch.Store, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	if s, ok := r.stores.Load(name); ok {
		return s, nil
	}
	s, err := r.opener(name)
	if err != nil {
		return nil, err
	}
	r.stores.Store(name, s)
	return s, nil
}

// Get reports the open store under name, if any.
func (r *Registry) Get(name string) (perch.Store, bool) {
	return r.stores.Load(name)
}

// Close closes the named store and forgets it. A name that is not open is
// a no-op.
func (r *Registry) Close(name string) error {
	r.mx.Lock()
	s, ok := r.stores.Load(name)
	if ok {
		r.stores.Delete(name)
	}
	r.mx.Unlock()

	if !ok {
		return nil
	}
	return s.Close()
}

// List reports the open database names in ascending order.
func (r *Registry) List() []string {
	names := make([]string, 0)
	r.stores.Range(func(name string, _ perch.Store) bool {
		names = append(names, name)
		return true
	})
	return names
}

// CloseAll closes every open store, keeping going past failures.
func (r *Registry) CloseAll() error {
	r.mx.Lock()
	defer r.mx.Unlock()

	var errs []error
	r.stores.Range(func(name string, s perch.Store) bool {
		r.stores.Delete(name)
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}
