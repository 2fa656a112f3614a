package store

import (
	"database/sql"
	"time"
)

// MarkListFullySynced records the wall-clock time a list finished a
// full reconcile pass, grounding the staleness check a reconciler built
// with reconcile.WithSyncInterval applies (SPEC_FULL.md §3, §C.1).
func (s *Store) MarkListFullySynced(listID string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO list_sync_metadata(list_id, last_full_sync) VALUES (?, ?)
			ON CONFLICT(list_id) DO UPDATE SET last_full_sync = excluded.last_full_sync`,
			listID, s.clock().Unix())
		return err
	})
	if err != nil {
		return &Error{Op: "MarkListFullySynced", ListID: listID, Err: err}
	}
	return nil
}

// IsListStale reports whether listID needs a fresh pull given
// interval, following the teacher's IsStale semantics: interval <= 0
// means never stale once synced at all, and a never-synced list is
// always stale.
func (s *Store) IsListStale(listID string, interval time.Duration) (bool, error) {
	var lastSync sql.NullInt64
	err := s.db.QueryRow(`SELECT last_full_sync FROM list_sync_metadata WHERE list_id = ?`, listID).Scan(&lastSync)
	if err == sql.ErrNoRows || !lastSync.Valid {
		return true, nil
	}
	if err != nil {
		return true, &Error{Op: "IsListStale", ListID: listID, Err: err}
	}
	if interval <= 0 {
		return false, nil
	}
	return s.clock().Sub(time.Unix(lastSync.Int64, 0)) > interval, nil
}
