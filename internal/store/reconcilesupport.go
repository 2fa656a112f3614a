package store

import (
	"database/sql"

	"gtasksync/internal/codec"
)

// OverwriteTaskFromRemote applies remote field values onto an existing
// row matched by google_id, marking it synced with empty dirty fields
// (spec.md §4.6 step 2).
func (s *Store) OverwriteTaskFromRemote(id string, meta codec.Metadata, remoteHash string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		now := s.clock().Unix()
		_, err := tx.Exec(`
			UPDATE tasks SET title=?, notes=?, due_date=?, priority=?, labels=?, status=?, time_block=?,
				metadata_hash=?, last_remote_hash=?, dirty_fields='[]', sync_state='synced',
				sync_error=NULL, last_synced_at=?, updated_at=?
			WHERE id = ?`,
			meta.Title, nullString(meta.Notes), nullString(meta.DueDate), meta.Priority,
			marshalJSON(meta.Labels), meta.Status, nullString(meta.TimeBlock),
			remoteHash, remoteHash, now, now, id)
		return err
	})
	if err != nil {
		return &Error{Op: "OverwriteTaskFromRemote", TaskID: id, Err: err}
	}
	return nil
}

// LinkTaskByHash writes google_id onto a not-yet-synced local row that
// matched the remote content by hash, and finalizes it synced
// (spec.md §4.6 step 4).
func (s *Store) LinkTaskByHash(id, googleID, remoteHash string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		now := s.clock().Unix()
		_, err := tx.Exec(`
			UPDATE tasks SET google_id=?, last_remote_hash=?, dirty_fields='[]', sync_state='synced',
				sync_error=NULL, last_synced_at=?, updated_at=?
			WHERE id = ?`, googleID, remoteHash, now, now, id)
		return err
	})
	if err != nil {
		return &Error{Op: "LinkTaskByHash", TaskID: id, Err: err}
	}
	return nil
}

// InsertSyncedTask inserts a brand-new synced row for a remote task
// with no local counterpart (spec.md §4.6 step 5), using local id
// "google-{remoteID}".
func (s *Store) InsertSyncedTask(remoteID, listID string, meta codec.Metadata, remoteHash string) (*Task, error) {
	id := "google-" + remoteID
	now := s.clock()
	task := Task{
		ID: id, GoogleID: &remoteID, ListID: listID, Title: meta.Title, Notes: meta.Notes,
		DueDate: meta.DueDate, Priority: meta.Priority, Labels: meta.Labels, Status: meta.Status,
		TimeBlock: meta.TimeBlock, CreatedAt: now, UpdatedAt: now, MetadataHash: remoteHash,
		LastRemoteHash: &remoteHash, DirtyFields: nil, SyncState: SyncSynced, LastSyncedAt: &now,
	}
	err := s.withWriteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO tasks(id, google_id, list_id, title, notes, due_date, priority, labels, status,
				time_block, created_at, updated_at, metadata_hash, dirty_fields, sync_state,
				last_remote_hash, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '[]', 'synced', ?, ?)`,
			task.ID, remoteID, listID, task.Title, nullString(task.Notes), nullString(task.DueDate),
			task.Priority, marshalJSON(task.Labels), task.Status, nullString(task.TimeBlock),
			now.Unix(), now.Unix(), remoteHash, remoteHash, now.Unix())
		return err
	})
	if err != nil {
		return nil, &Error{Op: "InsertSyncedTask", Err: err}
	}
	return &task, nil
}

// PendingDeleteGoogleIDs returns the set of google ids currently
// recorded as an outgoing move's delete obligation, used to skip
// reconciling a task the reconciler will shortly see vanish
// (spec.md §4.6 step 3).
func (s *Store) PendingDeleteGoogleIDs() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT pending_delete_google_id FROM tasks WHERE pending_delete_google_id IS NOT NULL`)
	if err != nil {
		return nil, &Error{Op: "PendingDeleteGoogleIDs", Err: err}
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// PruneTasksInList deletes local rows in listID with a non-null
// google_id absent from present, unless pending_delete (spec.md §4.6
// Pruning).
func (s *Store) PruneTasksInList(listID string, present map[string]bool) error {
	rows, err := s.db.Query(`SELECT id, google_id, sync_state FROM tasks WHERE list_id = ? AND google_id IS NOT NULL`, listID)
	if err != nil {
		return &Error{Op: "PruneTasksInList", ListID: listID, Err: err}
	}
	var stale []string
	for rows.Next() {
		var id, gid, syncState string
		if err := rows.Scan(&id, &gid, &syncState); err != nil {
			rows.Close()
			return &Error{Op: "PruneTasksInList", Err: err}
		}
		if !present[gid] && syncState != SyncPendingDelete {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &Error{Op: "PruneTasksInList", Err: err}
	}

	if len(stale) == 0 {
		return nil
	}
	err = s.withWriteTx(func(tx *sql.Tx) error {
		for _, id := range stale {
			if _, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &Error{Op: "PruneTasksInList", Err: err}
	}
	return nil
}

// Subtask reconciliation mirrors is below.

func (s *Store) OverwriteSubtaskFromRemote(id string, meta codec.SubtaskMetadata, remoteHash, parentGoogleID string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		now := s.clock().Unix()
		_, err := tx.Exec(`
			UPDATE subtasks SET title=?, completed=?, position=?, due_date=?, metadata_hash=?,
				dirty_fields='[]', sync_state='synced', sync_error=NULL, last_synced_at=?,
				parent_google_id=?
			WHERE id = ?`,
			meta.Title, boolToInt(meta.Completed), meta.Position, nullString(meta.DueDate),
			remoteHash, now, parentGoogleID, id)
		return err
	})
	if err != nil {
		return &Error{Op: "OverwriteSubtaskFromRemote", Err: err}
	}
	return nil
}

func (s *Store) LinkSubtaskByHash(id, googleID, remoteHash, parentGoogleID string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		now := s.clock().Unix()
		_, err := tx.Exec(`
			UPDATE subtasks SET google_id=?, parent_google_id=?, metadata_hash=?, dirty_fields='[]',
				sync_state='synced', sync_error=NULL, last_synced_at=?
			WHERE id = ?`, googleID, parentGoogleID, remoteHash, now, id)
		return err
	})
	if err != nil {
		return &Error{Op: "LinkSubtaskByHash", Err: err}
	}
	return nil
}

func (s *Store) FindUnsyncedSubtaskByHash(taskID, hash string) (*Subtask, error) {
	var sub Subtask
	found, err := scanSubtask(s.db.QueryRow(
		subtaskSelectSQL+` WHERE task_id = ? AND metadata_hash = ? AND google_id IS NULL`, taskID, hash), &sub)
	if err != nil {
		return nil, &Error{Op: "FindUnsyncedSubtaskByHash", Err: err}
	}
	if !found {
		return nil, nil
	}
	return &sub, nil
}

func (s *Store) InsertSyncedSubtask(remoteID, taskID, parentGoogleID string, meta codec.SubtaskMetadata, remoteHash string) error {
	id := "google-subtask-" + remoteID
	now := s.clock().Unix()
	err := s.withWriteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO subtasks(id, task_id, google_id, parent_google_id, title, completed, position,
				due_date, metadata_hash, dirty_fields, sync_state, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '[]', 'synced', ?)`,
			id, taskID, remoteID, parentGoogleID, meta.Title, boolToInt(meta.Completed), meta.Position,
			nullString(meta.DueDate), remoteHash, now)
		return err
	})
	if err != nil {
		return &Error{Op: "InsertSyncedSubtask", Err: err}
	}
	return nil
}

func (s *Store) PruneSubtasksForTask(taskID string, present map[string]bool) error {
	rows, err := s.db.Query(`SELECT id, google_id FROM subtasks WHERE task_id = ? AND google_id IS NOT NULL`, taskID)
	if err != nil {
		return &Error{Op: "PruneSubtasksForTask", Err: err}
	}
	var stale []string
	for rows.Next() {
		var id, gid string
		if err := rows.Scan(&id, &gid); err != nil {
			rows.Close()
			return &Error{Op: "PruneSubtasksForTask", Err: err}
		}
		if !present[gid] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &Error{Op: "PruneSubtasksForTask", Err: err}
	}
	if len(stale) == 0 {
		return nil
	}
	return s.withWriteTx(func(tx *sql.Tx) error {
		for _, id := range stale {
			if _, err := tx.Exec(`DELETE FROM subtasks WHERE id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// FinalizeTaskSync applies the post-sync-state rule, clears sync
// bookkeeping, and removes the now-completed queue entry in one
// transaction (spec.md §4.5 "Post-sync state rule" /
// "finalize_task_sync"). The task lands synced only when the payload
// hash it was sent with still matches its current metadata_hash;
// otherwise it's left pending so the next drain re-sends the edit that
// arrived while the request was in flight.
func (s *Store) FinalizeTaskSync(taskID, entryID, googleID, sentHash string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		var currentHash string
		if err := tx.QueryRow(`SELECT metadata_hash FROM tasks WHERE id = ?`, taskID).Scan(&currentHash); err != nil {
			return err
		}
		now := s.clock().Unix()
		if currentHash == sentHash {
			if _, err := tx.Exec(`
				UPDATE tasks SET google_id=?, last_remote_hash=?, dirty_fields='[]', sync_state='synced',
					sync_attempts=0, sync_error=NULL, pending_move_from=NULL, pending_delete_google_id=NULL,
					last_synced_at=?, updated_at=?
				WHERE id = ?`, googleID, sentHash, now, now, taskID); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(`
				UPDATE tasks SET google_id=?, last_remote_hash=?, sync_state='pending',
					sync_attempts=0, sync_error=NULL, pending_move_from=NULL, pending_delete_google_id=NULL,
					updated_at=?
				WHERE id = ?`, googleID, sentHash, now, taskID); err != nil {
				return err
			}
		}
		if err := s.pumpPendingParentSubtasksLocked(tx, taskID, s.clock()); err != nil {
			return err
		}
		if entryID == "" {
			return nil
		}
		_, err := tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, entryID)
		return err
	})
	if err != nil {
		return &Error{Op: "FinalizeTaskSync", TaskID: taskID, Err: err}
	}
	return nil
}

// FinalizeDelete removes the task row and its queue entry together.
func (s *Store) FinalizeDelete(taskID, entryID string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, taskID); err != nil {
			return err
		}
		if entryID != "" {
			if _, err := tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, entryID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &Error{Op: "FinalizeDelete", TaskID: taskID, Err: err}
	}
	return nil
}

// FinalizeSubtaskSync applies the same post-sync-state rule as
// FinalizeTaskSync at subtask granularity, after a successful
// subtask_create/subtask_update.
func (s *Store) FinalizeSubtaskSync(subtaskID, entryID, googleID, parentGoogleID, sentHash string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		var currentHash string
		if err := tx.QueryRow(`SELECT metadata_hash FROM subtasks WHERE id = ?`, subtaskID).Scan(&currentHash); err != nil {
			return err
		}
		now := s.clock().Unix()
		state := SyncSynced
		if currentHash != sentHash {
			state = SyncPending
		}
		if _, err := tx.Exec(`
			UPDATE subtasks SET google_id=?, parent_google_id=?, sync_state=?, sync_error=NULL, last_synced_at=?
			WHERE id = ?`, googleID, parentGoogleID, state, now, subtaskID); err != nil {
			return err
		}
		if entryID == "" {
			return nil
		}
		_, err := tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, entryID)
		return err
	})
	if err != nil {
		return &Error{Op: "FinalizeSubtaskSync", Err: err}
	}
	return nil
}

// FinalizeSubtaskDelete removes a subtask row and its queue entry together.
func (s *Store) FinalizeSubtaskDelete(subtaskID, entryID string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM subtasks WHERE id = ?`, subtaskID); err != nil {
			return err
		}
		if entryID != "" {
			if _, err := tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, entryID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &Error{Op: "FinalizeSubtaskDelete", Err: err}
	}
	return nil
}

// MarkPendingParent flags a subtask as waiting on its parent's
// google_id (supplemented feature C.2).
func (s *Store) MarkPendingParent(subtaskID string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE subtasks SET sync_state = 'pending_parent' WHERE id = ?`, subtaskID)
		return err
	})
	if err != nil {
		return &Error{Op: "MarkPendingParent", Err: err}
	}
	return nil
}
