package store

import (
	"database/sql"
	"errors"
	"time"

	"gtasksync/internal/codec"
)

func subtaskQueuePayload(s Subtask) SubtaskQueuePayload {
	return SubtaskQueuePayload{SubtaskID: s.ID, SubtaskMetadata: s.Metadata()}
}

// ErrSubtaskNotFound is returned by UpdateSubtask/DeleteSubtask when
// the subtask row doesn't exist.
var ErrSubtaskNotFound = errors.New("subtask not found")

// insertSubtaskLocked inserts a subtask row under an open transaction;
// callers enqueue the corresponding queue op themselves.
func (s *Store) insertSubtaskLocked(tx *sql.Tx, taskID string, in SubtaskInput) (Subtask, error) {
	id := s.genID()
	if in.ID != nil {
		id = *in.ID
	}
	meta := codec.NormalizeSubtask(codec.SubtaskMetadata{
		Title: in.Title, Completed: in.Completed, Position: orDefault(in.Position, "00000000"), DueDate: in.DueDate,
	})
	sub := Subtask{
		ID: id, TaskID: taskID, GoogleID: in.GoogleID, ParentGoogleID: in.ParentGoogleID,
		Title: meta.Title, Completed: meta.Completed, Position: meta.Position, DueDate: meta.DueDate,
		MetadataHash: codec.HashSubtask(meta), DirtyFields: []string{"title", "completed", "position", "due_date"},
		SyncState: SyncPending,
	}
	_, err := tx.Exec(`
		INSERT INTO subtasks(id, task_id, google_id, parent_google_id, title, completed, position,
			due_date, metadata_hash, dirty_fields, sync_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.TaskID, nullString(sub.GoogleID), nullString(sub.ParentGoogleID), sub.Title,
		boolToInt(sub.Completed), sub.Position, nullString(sub.DueDate), sub.MetadataHash,
		marshalJSON(sub.DirtyFields), sub.SyncState)
	return sub, err
}

// CreateSubtask inserts and enqueues a single subtask under an
// already-existing task, used by update_task when new subtasks are
// added to an existing task.
func (s *Store) CreateSubtask(taskID string, in SubtaskInput) (*Subtask, error) {
	var result Subtask
	err := s.withWriteTx(func(tx *sql.Tx) error {
		sub, err := s.insertSubtaskLocked(tx, taskID, in)
		if err != nil {
			return err
		}
		if err := s.enqueueLocked(tx, taskID, OpSubtaskCreate, marshalJSON(subtaskQueuePayload(sub)), s.clock()); err != nil {
			return err
		}
		result = sub
		return nil
	})
	if err != nil {
		return nil, &Error{Op: "CreateSubtask", TaskID: taskID, Err: err}
	}
	return &result, nil
}

// SubtaskUpdates carries only the fields the caller wants to change on
// a subtask; nil means "leave as-is".
type SubtaskUpdates struct {
	Title     *string
	Completed *bool
	Position  *string
	DueDate   *string
}

// UpdateSubtask loads the current row, diffs it against updates, and —
// if anything changed — persists the new fields and enqueues a fresh
// subtask_update (or upgrades to subtask_create if the subtask never
// synced). A no-op diff does nothing (spec.md §4.2, mirrors UpdateTask).
func (s *Store) UpdateSubtask(id string, updates SubtaskUpdates) (*Subtask, error) {
	var result *Subtask
	err := s.withWriteTx(func(tx *sql.Tx) error {
		var current Subtask
		found, err := scanSubtask(tx.QueryRow(subtaskSelectSQL+` WHERE id = ?`, id), &current)
		if err != nil {
			return err
		}
		if !found {
			return ErrSubtaskNotFound
		}

		next := current
		if updates.Title != nil {
			next.Title = *updates.Title
		}
		if updates.Completed != nil {
			next.Completed = *updates.Completed
		}
		if updates.Position != nil {
			next.Position = *updates.Position
		}
		if updates.DueDate != nil {
			next.DueDate = updates.DueDate
		}
		nextMeta := codec.NormalizeSubtask(next.Metadata())
		nextHash := codec.HashSubtask(nextMeta)
		if nextHash == current.MetadataHash {
			result = &current
			return nil
		}

		next.Title, next.Completed, next.Position, next.DueDate =
			nextMeta.Title, nextMeta.Completed, nextMeta.Position, nextMeta.DueDate
		next.MetadataHash = nextHash
		next.DirtyFields = []string{"title", "completed", "position", "due_date"}

		if _, err := tx.Exec(`
			UPDATE subtasks SET title=?, completed=?, position=?, due_date=?, metadata_hash=?,
				dirty_fields=?, sync_state='pending', sync_error=NULL
			WHERE id = ?`,
			next.Title, boolToInt(next.Completed), next.Position, nullString(next.DueDate),
			next.MetadataHash, marshalJSON(next.DirtyFields), id); err != nil {
			return err
		}

		op := OpSubtaskUpdate
		if next.GoogleID == nil {
			op = OpSubtaskCreate
		}
		if err := s.enqueueLocked(tx, next.TaskID, op, marshalJSON(subtaskQueuePayload(next)), s.clock()); err != nil {
			return err
		}
		result = &next
		return nil
	})
	if err != nil {
		return nil, &Error{Op: "UpdateSubtask", TaskID: id, Err: err}
	}
	return result, nil
}

// DeleteSubtask removes a never-synced subtask outright, or tombstones
// a synced one and enqueues a subtask_delete op (spec.md §4.2).
func (s *Store) DeleteSubtask(id string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		var current Subtask
		found, err := scanSubtask(tx.QueryRow(subtaskSelectSQL+` WHERE id = ?`, id), &current)
		if err != nil {
			return err
		}
		if !found {
			return ErrSubtaskNotFound
		}
		if current.GoogleID == nil {
			_, err := tx.Exec(`DELETE FROM subtasks WHERE id = ?`, id)
			return err
		}
		if _, err := tx.Exec(`UPDATE subtasks SET sync_state = 'pending_delete' WHERE id = ?`, id); err != nil {
			return err
		}
		payload := marshalJSON(SubtaskQueuePayload{SubtaskID: id})
		return s.enqueueLocked(tx, current.TaskID, OpSubtaskDelete, payload, s.clock())
	})
	if err != nil {
		return &Error{Op: "DeleteSubtask", TaskID: id, Err: err}
	}
	return nil
}

const subtaskSelectSQL = `
SELECT id, task_id, google_id, parent_google_id, title, completed, position, due_date,
	metadata_hash, dirty_fields, sync_state, sync_error, last_synced_at
FROM subtasks`

func scanSubtask(row rowScanner, out *Subtask) (bool, error) {
	var googleID, parentGoogleID, dueDate, syncErr sql.NullString
	var dirtyJSON string
	var completed int
	var lastSyncedAt sql.NullInt64

	err := row.Scan(&out.ID, &out.TaskID, &googleID, &parentGoogleID, &out.Title, &completed,
		&out.Position, &dueDate, &out.MetadataHash, &dirtyJSON, &out.SyncState, &syncErr, &lastSyncedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	out.GoogleID = fromNullString(googleID)
	out.ParentGoogleID = fromNullString(parentGoogleID)
	out.DueDate = fromNullString(dueDate)
	out.SyncError = fromNullString(syncErr)
	out.LastSyncedAt = fromNullTime(lastSyncedAt)
	out.Completed = completed != 0
	unmarshalJSON(dirtyJSON, &out.DirtyFields)
	return true, nil
}

// ListSubtasksByTask returns every subtask of a task, ordered by
// position.
func (s *Store) ListSubtasksByTask(taskID string) ([]Subtask, error) {
	rows, err := s.db.Query(subtaskSelectSQL+` WHERE task_id = ? ORDER BY position ASC`, taskID)
	if err != nil {
		return nil, &Error{Op: "ListSubtasksByTask", TaskID: taskID, Err: err}
	}
	defer rows.Close()
	var out []Subtask
	for rows.Next() {
		var sub Subtask
		found, err := scanSubtask(rows, &sub)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, sub)
		}
	}
	return out, rows.Err()
}

// GetSubtask fetches a single subtask by local id.
func (s *Store) GetSubtask(id string) (*Subtask, error) {
	var sub Subtask
	found, err := scanSubtask(s.db.QueryRow(subtaskSelectSQL+` WHERE id = ?`, id), &sub)
	if err != nil {
		return nil, &Error{Op: "GetSubtask", Err: err}
	}
	if !found {
		return nil, nil
	}
	return &sub, nil
}

// GetSubtaskByGoogleID fetches a subtask by its remote id (reconciler
// by-remote-id step).
func (s *Store) GetSubtaskByGoogleID(googleID string) (*Subtask, error) {
	var sub Subtask
	found, err := scanSubtask(s.db.QueryRow(subtaskSelectSQL+` WHERE google_id = ?`, googleID), &sub)
	if err != nil {
		return nil, &Error{Op: "GetSubtaskByGoogleID", Err: err}
	}
	if !found {
		return nil, nil
	}
	return &sub, nil
}

// ListPendingParentSubtasks returns subtasks waiting on a parent's
// google_id to become known (supplemented feature C.2: the
// pending_parent pump).
func (s *Store) ListPendingParentSubtasks(taskID string) ([]Subtask, error) {
	rows, err := s.db.Query(subtaskSelectSQL+` WHERE task_id = ? AND sync_state = 'pending_parent'`, taskID)
	if err != nil {
		return nil, &Error{Op: "ListPendingParentSubtasks", TaskID: taskID, Err: err}
	}
	defer rows.Close()
	out, err := scanSubtasks(rows)
	if err != nil {
		return nil, err
	}
	return out, rows.Err()
}

// pumpPendingParentSubtasksLocked re-enqueues every subtask of taskID
// parked in pending_parent, now that taskID has a google_id, restoring
// them to pending and inserting a fresh subtask_create op for each
// (supplemented feature C.2: the pending_parent pump, run as part of
// the same transaction that finalizes the parent so the two can never
// drift apart).
func (s *Store) pumpPendingParentSubtasksLocked(tx *sql.Tx, taskID string, now time.Time) error {
	rows, err := tx.Query(subtaskSelectSQL+` WHERE task_id = ? AND sync_state = 'pending_parent'`, taskID)
	if err != nil {
		return err
	}
	parked, err := scanSubtasks(rows)
	rows.Close()
	if err != nil {
		return err
	}

	for _, sub := range parked {
		if _, err := tx.Exec(`UPDATE subtasks SET sync_state = 'pending' WHERE id = ?`, sub.ID); err != nil {
			return err
		}
		if err := s.enqueueLocked(tx, taskID, OpSubtaskCreate, marshalJSON(subtaskQueuePayload(sub)), now); err != nil {
			return err
		}
	}
	return nil
}

func scanSubtasks(rows *sql.Rows) ([]Subtask, error) {
	var out []Subtask
	for rows.Next() {
		var sub Subtask
		found, err := scanSubtask(rows, &sub)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, sub)
		}
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
