// Package bolt implements the engine contract over a bbolt file. One
// bucket is the object store; transactions map one-to-one onto bbolt
// transactions, with requests served from the transaction's runner
// goroutine.
package bolt

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	bbolt "go.etcd.io/bbolt"

	"perch"
	"perch/engine"
)

const bucketName = "chunks"

var _ engine.Engine = (*Engine)(nil)

type Engine struct {
	db *bbolt.DB
}

// Open opens or creates the database file and performs first-run schema
// setup, creating the object store bucket. A path whose directory cannot
// be prepared reports perch.ErrUnavailable so callers can fall back to
// another backend.
func Open(path string) (*Engine, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %s", perch.ErrUnavailable, err)
		}
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening bolt file: %w", err)
	}
	err = db.Update(func(btx *bbolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating object store: %w", err)
	}
	return &Engine{db: db}, nil
}

func (e *Engine) Begin(writable bool) (engine.Tx, error) {
	btx, err := e.db.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &tx{Runner: engine.NewRunner(), btx: btx, writable: writable}, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

type tx struct {
	*engine.Runner
	btx      *bbolt.Tx
	writable bool
}

func (t *tx) bucket() *bbolt.Bucket {
	return t.btx.Bucket([]byte(bucketName))
}

// seek distinguishes an absent key from a present empty value, which
// Bucket.Get conflates.
func (t *tx) seek(key string) ([]byte, bool) {
	k, v := t.bucket().Cursor().Seek([]byte(key))
	if k == nil || !bytes.Equal(k, []byte(key)) {
		return nil, false
	}
	return v, true
}

func (t *tx) Get(key string, done func([]byte, bool, error)) {
	ok := t.Do(func() {
		v, found := t.seek(key)
		if !found {
			done(nil, false, nil)
			return
		}
		done(append([]byte{}, v...), true, nil)
	})
	if !ok {
		done(nil, false, engine.ErrTxDone)
	}
}

func (t *tx) Count(key string, done func(int, error)) {
	ok := t.Do(func() {
		if _, found := t.seek(key); found {
			done(1, nil)
			return
		}
		done(0, nil)
	})
	if !ok {
		done(0, engine.ErrTxDone)
	}
}

func (t *tx) Put(key string, value []byte, done func(error)) {
	ok := t.Do(func() {
		err := t.bucket().Put([]byte(key), append([]byte{}, value...))
		if err != nil {
			t.Fail(err)
		}
		done(err)
	})
	if !ok {
		done(engine.ErrTxDone)
	}
}

func (t *tx) Delete(key string, done func(error)) {
	ok := t.Do(func() {
		err := t.bucket().Delete([]byte(key))
		if err != nil {
			t.Fail(err)
		}
		done(err)
	})
	if !ok {
		done(engine.ErrTxDone)
	}
}

func (t *tx) Commit() {
	t.Finish(func() {
		if err := t.Err(); err != nil {
			_ = t.btx.Rollback()
			t.FireError(err)
			return
		}
		if !t.writable {
			// read transactions must roll back in bbolt
			if err := t.btx.Rollback(); err != nil {
				t.FireError(err)
				return
			}
			t.FireComplete()
			return
		}
		if err := t.btx.Commit(); err != nil {
			t.FireError(err)
			return
		}
		t.FireComplete()
	})
}

func (t *tx) Abort() {
	t.Finish(func() {
		if err := t.btx.Rollback(); err != nil {
			t.FireError(err)
			return
		}
		t.FireAbort()
	})
}
