// Package sqlite implements the engine contract over a SQLite file. One
// table is the object store; transactions map one-to-one onto sql
// transactions, with requests served from the transaction's runner
// goroutine.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"perch"
	"perch/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	k TEXT PRIMARY KEY NOT NULL,
	v BLOB NOT NULL
);
`

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

var _ engine.Engine = (*Engine)(nil)

type Engine struct {
	db *sql.DB
}

// Open opens or creates the database file, applies the connection pragmas
// and performs first-run schema setup guarded by PRAGMA user_version. A
// build without the sqlite3 driver reports perch.ErrUnavailable so callers
// can fall back to another backend.
func Open(path string) (*Engine, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", perch.ErrUnavailable, err)
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Engine{db: db}, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version >= 1 {
		return nil
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating object store: %w", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 1"); err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	return nil
}

func (e *Engine) Begin(writable bool) (engine.Tx, error) {
	stx, err := e.db.Begin()
	if err != nil {
		return nil, err
	}
	return &tx{Runner: engine.NewRunner(), stx: stx, writable: writable}, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

type tx struct {
	*engine.Runner
	stx      *sql.Tx
	writable bool
}

func (t *tx) Get(key string, done func([]byte, bool, error)) {
	ok := t.Do(func() {
		var v []byte
		err := t.stx.QueryRow("SELECT v FROM chunks WHERE k = ?", key).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			done(nil, false, nil)
			return
		}
		if err != nil {
			t.Fail(err)
			done(nil, false, err)
			return
		}
		if v == nil {
			v = []byte{}
		}
		done(v, true, nil)
	})
	if !ok {
		done(nil, false, engine.ErrTxDone)
	}
}

func (t *tx) Count(key string, done func(int, error)) {
	ok := t.Do(func() {
		var n int
		err := t.stx.QueryRow("SELECT COUNT(*) FROM chunks WHERE k = ?", key).Scan(&n)
		if err != nil {
			t.Fail(err)
			done(0, err)
			return
		}
		done(n, nil)
	})
	if !ok {
		done(0, engine.ErrTxDone)
	}
}

func (t *tx) Put(key string, value []byte, done func(error)) {
	if value == nil {
		value = []byte{}
	}
	ok := t.Do(func() {
		if !t.writable {
			t.Fail(engine.ErrReadOnly)
			done(engine.ErrReadOnly)
			return
		}
		_, err := t.stx.Exec(
			"INSERT INTO chunks (k, v) VALUES (?, ?) ON CONFLICT (k) DO UPDATE SET v = excluded.v",
			key, value)
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
		if !t.writable {
			t.Fail(engine.ErrReadOnly)
			done(engine.ErrReadOnly)
			return
		}
		_, err := t.stx.Exec("DELETE FROM chunks WHERE k = ?", key)
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
			_ = t.stx.Rollback()
			t.FireError(err)
			return
		}
		if !t.writable {
			if err := t.stx.Rollback(); err != nil {
				t.FireError(err)
				return
			}
			t.FireComplete()
			return
		}
		if err := t.stx.Commit(); err != nil {
			t.FireError(err)
			return
		}
		t.FireComplete()
	})
}

func (t *tx) Abort() {
	t.Finish(func() {
		if err := t.stx.Rollback(); err != nil {
			t.FireError(err)
			return
		}
		t.FireAbort()
	})
}
