package store

import (
	"database/sql"
	"encoding/json"
)

// LoadOrCreateSaga returns the existing saga_log row for taskID, or
// creates a fresh one in Initialized state (spec.md §4.7 "Entry
// conditions" / crash-resume semantics).
func (s *Store) LoadOrCreateSaga(taskID, fromListID, toListID string) (*SagaRecord, error) {
	var rec *SagaRecord
	err := s.withWriteTx(func(tx *sql.Tx) error {
		existing, err := s.getActiveSagaLocked(tx, taskID)
		if err != nil {
			return err
		}
		if existing != nil {
			rec = existing
			return nil
		}
		now := s.clock()
		id := s.genID()
		if _, err := tx.Exec(`
			INSERT INTO saga_log(id, saga_type, state, task_id, from_list_id, to_list_id, created_at, updated_at)
			VALUES (?, 'task_move', 'Initialized', ?, ?, ?, ?, ?)`,
			id, taskID, fromListID, toListID, now.Unix(), now.Unix()); err != nil {
			return err
		}
		rec = &SagaRecord{ID: id, SagaType: "task_move", State: "Initialized", TaskID: taskID,
			FromListID: fromListID, ToListID: toListID, CreatedAt: now, UpdatedAt: now}
		return nil
	})
	if err != nil {
		return nil, &Error{Op: "LoadOrCreateSaga", TaskID: taskID, Err: err}
	}
	return rec, nil
}

func (s *Store) getActiveSagaLocked(tx *sql.Tx, taskID string) (*SagaRecord, error) {
	row := tx.QueryRow(`
		SELECT id, saga_type, state, task_id, from_list_id, to_list_id, created_at, updated_at, completed_at, error
		FROM saga_log WHERE task_id = ? AND completed_at IS NULL ORDER BY created_at DESC LIMIT 1`, taskID)
	return scanSagaRow(row)
}

func scanSagaRow(row rowScanner) (*SagaRecord, error) {
	var rec SagaRecord
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64
	var errStr sql.NullString
	err := row.Scan(&rec.ID, &rec.SagaType, &rec.State, &rec.TaskID, &rec.FromListID, &rec.ToListID,
		&createdAt, &updatedAt, &completedAt, &errStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = unixTime(createdAt)
	rec.UpdatedAt = unixTime(updatedAt)
	rec.CompletedAt = fromNullTime(completedAt)
	rec.Error = fromNullString(errStr)
	return &rec, nil
}

// PersistSagaState writes a new state to the saga log before the
// corresponding action is taken, so a crash can resume from it
// (spec.md §4.7: "Each transition persists the new state ... before
// acting"). Terminal states (Completed/Failed/Compensated) also stamp
// completed_at.
func (s *Store) PersistSagaState(sagaID, state string, sagaErr *string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		now := s.clock().Unix()
		terminal := state == "Completed" || state == "Failed" || state == "Compensated"
		if terminal {
			_, err := tx.Exec(`UPDATE saga_log SET state=?, updated_at=?, completed_at=?, error=? WHERE id=?`,
				state, now, now, nullString(sagaErr), sagaID)
			return err
		}
		_, err := tx.Exec(`UPDATE saga_log SET state=?, updated_at=?, error=? WHERE id=?`,
			state, now, nullString(sagaErr), sagaID)
		return err
	})
	if err != nil {
		return &Error{Op: "PersistSagaState", Err: err}
	}
	return nil
}

// SaveBackup stores the pre-mutation snapshot of a task and its
// subtasks, keyed by saga id (spec.md §4.7 Step 1).
func (s *Store) SaveBackup(sagaID string, task Task, subtasks []Subtask) error {
	taskJSON, err := json.Marshal(task)
	if err != nil {
		return &Error{Op: "SaveBackup", Err: err}
	}
	subtasksJSON, err := json.Marshal(subtasks)
	if err != nil {
		return &Error{Op: "SaveBackup", Err: err}
	}
	err = s.withWriteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO saga_backups(saga_id, task_json, subtasks_json, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(saga_id) DO UPDATE SET task_json=excluded.task_json, subtasks_json=excluded.subtasks_json`,
			sagaID, string(taskJSON), string(subtasksJSON), s.clock().Unix())
		return err
	})
	if err != nil {
		return &Error{Op: "SaveBackup", Err: err}
	}
	return nil
}

// LoadBackup retrieves a saga's pre-mutation snapshot.
func (s *Store) LoadBackup(sagaID string) (*Task, []Subtask, error) {
	var taskJSON, subtasksJSON string
	err := s.db.QueryRow(`SELECT task_json, subtasks_json FROM saga_backups WHERE saga_id = ?`, sagaID).
		Scan(&taskJSON, &subtasksJSON)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, &Error{Op: "LoadBackup", Err: err}
	}
	var task Task
	var subtasks []Subtask
	if err := json.Unmarshal([]byte(taskJSON), &task); err != nil {
		return nil, nil, &Error{Op: "LoadBackup", Err: err}
	}
	if err := json.Unmarshal([]byte(subtasksJSON), &subtasks); err != nil {
		return nil, nil, &Error{Op: "LoadBackup", Err: err}
	}
	return &task, subtasks, nil
}

// RecordSubtaskProgress marks a subtask recreation as completed so a
// resumed saga skips it (spec.md §4.7 Step 4).
func (s *Store) RecordSubtaskProgress(sagaID, oldSubtaskID, newGoogleID string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT OR IGNORE INTO saga_subtask_progress(saga_id, old_subtask_id, new_google_id, created_at)
			VALUES (?, ?, ?, ?)`, sagaID, oldSubtaskID, newGoogleID, s.clock().Unix())
		return err
	})
	if err != nil {
		return &Error{Op: "RecordSubtaskProgress", Err: err}
	}
	return nil
}

// SubtaskProgress returns the already-completed old-id -> new-id
// recreation map for a saga.
func (s *Store) SubtaskProgress(sagaID string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT old_subtask_id, new_google_id FROM saga_subtask_progress WHERE saga_id = ?`, sagaID)
	if err != nil {
		return nil, &Error{Op: "SubtaskProgress", Err: err}
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var oldID, newID string
		if err := rows.Scan(&oldID, &newID); err != nil {
			return nil, err
		}
		out[oldID] = newID
	}
	return out, rows.Err()
}

// CleanupSaga deletes backup and progress rows for a completed saga
// (spec.md §4.7 Step 6).
func (s *Store) CleanupSaga(sagaID string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM saga_backups WHERE saga_id = ?`, sagaID); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM saga_subtask_progress WHERE saga_id = ?`, sagaID)
		return err
	})
	if err != nil {
		return &Error{Op: "CleanupSaga", Err: err}
	}
	return nil
}

// RewriteTaskForMove performs the atomic Step-5 database rewrite:
// renumbering a google-{old} shaped local id if necessary, updating
// the remote id/list/sync fields, remapping subtask parent ids, and
// fixing up queue/mutation-log foreign keys that referenced the old
// local id. All in one transaction with foreign keys deferred, per
// spec.md §4.7 Step 5.
func (s *Store) RewriteTaskForMove(oldTaskID, newTaskID, newGoogleID, newListID string, subtaskRemap map[string]string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`PRAGMA defer_foreign_keys = ON`); err != nil {
			return err
		}
		now := s.clock().Unix()

		if oldTaskID != newTaskID {
			if _, err := tx.Exec(`UPDATE tasks SET id = ? WHERE id = ?`, newTaskID, oldTaskID); err != nil {
				return err
			}
			if _, err := tx.Exec(`UPDATE subtasks SET task_id = ? WHERE task_id = ?`, newTaskID, oldTaskID); err != nil {
				return err
			}
			if _, err := tx.Exec(`UPDATE sync_queue SET task_id = ? WHERE task_id = ?`, newTaskID, oldTaskID); err != nil {
				return err
			}
			if _, err := tx.Exec(`UPDATE task_mutation_log SET task_id = ? WHERE task_id = ?`, newTaskID, oldTaskID); err != nil {
				return err
			}
			if _, err := tx.Exec(`UPDATE saga_log SET task_id = ? WHERE task_id = ?`, newTaskID, oldTaskID); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(`
			UPDATE tasks
			SET google_id = ?, list_id = ?, pending_move_from = NULL, pending_delete_google_id = NULL,
				sync_state = 'synced', last_synced_at = ?, updated_at = ?
			WHERE id = ?`, newGoogleID, newListID, now, now, newTaskID); err != nil {
			return err
		}

		for oldSubtaskID, newSubtaskGoogleID := range subtaskRemap {
			if _, err := tx.Exec(`
				UPDATE subtasks
				SET google_id = ?, parent_google_id = ?, sync_state = 'synced', last_synced_at = ?
				WHERE id = ?`, newSubtaskGoogleID, newGoogleID, now, oldSubtaskID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &Error{Op: "RewriteTaskForMove", TaskID: oldTaskID, Err: err}
	}
	return nil
}
