package store

import "database/sql"

// OrphanShadowTaskIDs finds local rows with no google_id whose
// (list_id, title, notes, due_date) matches an existing synced
// "google-{rid}" row, excluding shadows that are mid-flight
// (spec.md §4.6 Dedupe sweep, step 1).
func (s *Store) OrphanShadowTaskIDs() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT orphan.id
		FROM tasks orphan
		JOIN tasks remote
		  ON remote.google_id IS NOT NULL
		 AND remote.id = ('google-' || remote.google_id)
		 AND remote.list_id = orphan.list_id
		 AND remote.title = orphan.title
		 AND IFNULL(remote.notes, '') = IFNULL(orphan.notes, '')
		 AND IFNULL(remote.due_date, '') = IFNULL(orphan.due_date, '')
		WHERE orphan.google_id IS NULL
		  AND orphan.deleted_at IS NULL
		  AND remote.deleted_at IS NULL
		  AND orphan.sync_state NOT IN ('pending', 'processing')`)
	if err != nil {
		return nil, &Error{Op: "OrphanShadowTaskIDs", Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SyncedDuplicate is a synced row that is not the most-recently-synced
// member of its (list_id, metadata_hash) partition.
type SyncedDuplicate struct {
	ID        string
	GoogleID  string
	ListID    string
	SyncState string
}

// SyncedDuplicates partitions synced rows by (list_id, metadata_hash)
// and returns every row except the most recently synced in each
// partition (spec.md §4.6 Dedupe sweep, step 2).
func (s *Store) SyncedDuplicates() ([]SyncedDuplicate, error) {
	rows, err := s.db.Query(`
		SELECT id, google_id, list_id, sync_state FROM (
			SELECT id, google_id, list_id, sync_state,
			       ROW_NUMBER() OVER (
			           PARTITION BY list_id, metadata_hash
			           ORDER BY COALESCE(last_synced_at, updated_at, created_at) DESC
			       ) AS rn
			FROM tasks
			WHERE deleted_at IS NULL AND google_id IS NOT NULL
		) WHERE rn > 1`)
	if err != nil {
		return nil, &Error{Op: "SyncedDuplicates", Err: err}
	}
	defer rows.Close()

	var out []SyncedDuplicate
	for rows.Next() {
		var d SyncedDuplicate
		if err := rows.Scan(&d.ID, &d.GoogleID, &d.ListID, &d.SyncState); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteOrphanShadowTasks removes the queue entries and rows for the
// given shadow task ids in one transaction.
func (s *Store) DeleteOrphanShadowTasks(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.withWriteTx(func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.Exec(`DELETE FROM sync_queue WHERE task_id = ?`, id); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &Error{Op: "DeleteOrphanShadowTasks", Err: err}
	}
	return nil
}

// FlagDuplicateForDeletion tombstones a synced-duplicate row, logs the
// system-actor deletion, and re-enqueues a delete, skipping rows
// already pending_delete (spec.md §4.6 Dedupe sweep, step 2).
func (s *Store) FlagDuplicateForDeletion(d SyncedDuplicate) error {
	if d.SyncState == SyncPendingDelete {
		return nil
	}
	err := s.withWriteTx(func(tx *sql.Tx) error {
		now := s.clock().Unix()
		if _, err := tx.Exec(`
			UPDATE tasks SET deleted_at = ?, sync_state = 'pending_delete', sync_attempts = 0 WHERE id = ?`,
			now, d.ID); err != nil {
			return err
		}
		if err := s.appendMutationLogLocked(tx, d.ID, "delete", "", nil, nil, ActorSystem); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM sync_queue WHERE task_id = ?`, d.ID); err != nil {
			return err
		}
		return s.enqueueLocked(tx, d.ID, OpDelete, "", s.clock())
	})
	if err != nil {
		return &Error{Op: "FlagDuplicateForDeletion", TaskID: d.ID, Err: err}
	}
	return nil
}
