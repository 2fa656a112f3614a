// Package store implements the task store (C2): a transactional
// SQLite-backed journal for tasks, subtasks, lists, the mutation log,
// the sync queue, the move-saga tables, the idempotency ledger, and
// operation locks.
//
// Writers serialize through a single process-wide mutex held for the
// duration of a mutation transaction, mirroring SQLite's single-writer
// constraint (spec.md §4.2, §5); readers never take the lock.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"gtasksync/internal/logging"
)

// Error wraps a store operation failure with enough context for a
// caller to log usefully, in the shape the teacher's own
// *backend.SQLiteError carries.
type Error struct {
	Op     string
	TaskID string
	ListID string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.TaskID != "" && e.ListID != "":
		return fmt.Sprintf("store %s failed for task %s in list %s: %v", e.Op, e.TaskID, e.ListID, e.Err)
	case e.TaskID != "":
		return fmt.Sprintf("store %s failed for task %s: %v", e.Op, e.TaskID, e.Err)
	case e.ListID != "":
		return fmt.Sprintf("store %s failed for list %s: %v", e.Op, e.ListID, e.Err)
	default:
		return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Store is the task store. Construct with Open.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	log     *logging.Logger
	newID   func() string
	now     func() time.Time
}

// Option customizes a Store at construction, mainly for tests that
// need deterministic ids/clocks.
type Option func(*Store)

// WithIDGenerator overrides the id generator (default: uuid.NewString).
func WithIDGenerator(f func() string) Option { return func(s *Store) { s.newID = f } }

// WithClock overrides the wall clock (default: time.Now).
func WithClock(f func() time.Time) Option { return func(s *Store) { s.now = f } }

// Open opens (creating if absent) the SQLite database at path,
// applies pragmas, and ensures the schema exists.
func Open(path string, log *logging.Logger, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite + WAL: one connection, lock serializes writers

	s := &Store{db: db, log: log, newID: uuid.NewString, now: time.Now}
	for _, o := range opts {
		o(s)
	}

	for _, pragma := range PragmaStatements() {
		if _, err := db.Exec(pragma); err != nil {
			return nil, &Error{Op: "pragma", Err: err}
		}
	}
	for _, stmt := range AllTableSchemas() {
		if _, err := db.Exec(stmt); err != nil {
			return nil, &Error{Op: "create-table", Err: err}
		}
	}
	for _, stmt := range AllIndexes() {
		if _, err := db.Exec(stmt); err != nil {
			return nil, &Error{Op: "create-index", Err: err}
		}
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO schema_version(version, applied_at) VALUES (?, ?)`,
		SchemaVersion, s.now().Unix()); err != nil {
		return nil, &Error{Op: "schema-version", Err: err}
	}

	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for read-only queries issued by
// other components (C5/C6/C7 read freely without the write lock).
func (s *Store) DB() *sql.DB { return s.db }

// withWriteTx runs fn inside a transaction while holding the
// process-wide write mutex, committing on success and rolling back on
// error or panic.
func (s *Store) withWriteTx(fn func(*sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return &Error{Op: "begin-tx", Err: err}
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "commit-tx", Err: err}
	}
	return nil
}

func (s *Store) genID() string { return s.newID() }
func (s *Store) clock() time.Time { return s.now() }

// marshalJSON/unmarshalJSON are the JSON<->column helpers used
// throughout tasks.go/subtasks.go.

func marshalJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func unmarshalJSON(s string, v interface{}) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), v)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromNullTime(ni sql.NullInt64) *time.Time {
	if !ni.Valid {
		return nil
	}
	t := time.Unix(ni.Int64, 0).UTC()
	return &t
}

func unixTime(sec int64) time.Time { return time.Unix(sec, 0).UTC() }
