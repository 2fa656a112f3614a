package store

import (
	"database/sql"
	"errors"
	"time"

	"gtasksync/internal/codec"
)

// TaskInput is the write-side shape accepted by CreateTask, matching
// the Command API's TaskInput (spec.md §6).
type TaskInput struct {
	ID        *string
	ListID    string
	Title     string
	Priority  string
	Labels    []codec.Label
	TimeBlock *string
	Notes     *string
	DueDate   *string
	Status    string
	Subtasks  []SubtaskInput
}

// SubtaskInput is the write-side shape for a subtask nested under a
// TaskInput or passed to CreateSubtask directly.
type SubtaskInput struct {
	ID             *string
	GoogleID       *string
	ParentGoogleID *string
	Title          string
	Completed      bool
	DueDate        *string
	Position       string
}

// TaskUpdates carries only the fields the caller wants to change;
// nil means "leave as-is".
type TaskUpdates struct {
	Title     *string
	Notes     *string
	DueDate   *string
	Priority  *string
	Labels    *[]codec.Label
	Status    *string
	TimeBlock *string
}

func applyUpdates(current Task, u TaskUpdates) Task {
	next := current
	if u.Title != nil {
		next.Title = *u.Title
	}
	if u.Notes != nil {
		next.Notes = u.Notes
	}
	if u.DueDate != nil {
		next.DueDate = u.DueDate
	}
	if u.Priority != nil {
		next.Priority = *u.Priority
	}
	if u.Labels != nil {
		next.Labels = *u.Labels
	}
	if u.Status != nil {
		next.Status = *u.Status
	}
	if u.TimeBlock != nil {
		next.TimeBlock = u.TimeBlock
	}
	return next
}

// ErrTaskNotFound is returned by getters and UpdateTask/DeleteTask
// when the task row doesn't exist.
var ErrTaskNotFound = errors.New("task not found")

// CreateTask inserts a new task row (sync_state=pending, full dirty
// set), appends a mutation-log entry, enqueues a create op with the
// encoded remote payload, and — if subtasks were supplied — inserts
// them pending and enqueues their subtask_create ops (spec.md §4.2).
func (s *Store) CreateTask(in TaskInput) (*Task, []Subtask, error) {
	id := s.genID()
	if in.ID != nil {
		id = *in.ID
	}
	now := s.clock()

	meta := codec.Normalize(codec.Metadata{
		Title: in.Title, Notes: in.Notes, DueDate: in.DueDate,
		Priority: orDefault(in.Priority, "none"), Labels: in.Labels,
		Status: orDefault(in.Status, "needsAction"), TimeBlock: in.TimeBlock,
	})
	hash := codec.Hash(meta)
	dirty := []string{"title", "notes", "due_date", "priority", "labels", "status", "time_block"}

	task := Task{
		ID: id, ListID: in.ListID, Title: meta.Title, Notes: meta.Notes,
		DueDate: meta.DueDate, Priority: meta.Priority, Labels: meta.Labels,
		Status: meta.Status, TimeBlock: meta.TimeBlock,
		CreatedAt: now, UpdatedAt: now, MetadataHash: hash, DirtyFields: dirty,
		SyncState: SyncPending,
	}

	var subtasks []Subtask

	err := s.withWriteTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO tasks(id, google_id, list_id, title, notes, due_date, priority, labels,
				status, time_block, created_at, updated_at, metadata_hash, dirty_fields, sync_state)
			VALUES (?, NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.ListID, task.Title, nullString(task.Notes), nullString(task.DueDate),
			task.Priority, marshalJSON(task.Labels), task.Status, nullString(task.TimeBlock),
			task.CreatedAt.Unix(), task.UpdatedAt.Unix(), task.MetadataHash, marshalJSON(task.DirtyFields),
			task.SyncState); err != nil {
			return err
		}

		if err := s.appendMutationLogLocked(tx, task.ID, "create", "", nil, &task.MetadataHash, ActorUser); err != nil {
			return err
		}

		payload := marshalJSON(codec.EncodeForRemote(meta))
		if err := s.enqueueLocked(tx, task.ID, OpCreate, payload, now); err != nil {
			return err
		}

		for _, si := range in.Subtasks {
			sub, err := s.insertSubtaskLocked(tx, task.ID, si)
			if err != nil {
				return err
			}
			subtasks = append(subtasks, sub)
			if err := s.enqueueLocked(tx, task.ID, OpSubtaskCreate, marshalJSON(subtaskQueuePayload(sub)), now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, &Error{Op: "CreateTask", TaskID: id, Err: err}
	}
	return &task, subtasks, nil
}

// UpdateTask loads the current row, diffs it against updates, and —
// if anything changed — persists the new fields, appends a mutation
// log entry, collapses prior pending whole-task ops, and enqueues a
// fresh update (or upgrades to create if the task never synced). A
// no-op diff with no subtask changes does nothing (spec.md §4.2).
func (s *Store) UpdateTask(id string, updates TaskUpdates) (*Task, error) {
	var result *Task
	err := s.withWriteTx(func(tx *sql.Tx) error {
		current, err := s.getTaskLocked(tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrTaskNotFound
		}

		next := applyUpdates(*current, updates)
		nextMeta := codec.Normalize(next.Metadata())
		diff := codec.Diff(current.Metadata(), nextMeta)
		if len(diff) == 0 {
			result = current
			return nil
		}

		next.Title, next.Notes, next.DueDate = nextMeta.Title, nextMeta.Notes, nextMeta.DueDate
		next.Priority, next.Labels, next.Status, next.TimeBlock =
			nextMeta.Priority, nextMeta.Labels, nextMeta.Status, nextMeta.TimeBlock
		next.MetadataHash = codec.Hash(nextMeta)
		next.UpdatedAt = s.clock()
		next.DirtyFields = mergeDirty(current.DirtyFields, diff)

		if _, err := tx.Exec(`
			UPDATE tasks SET title=?, notes=?, due_date=?, priority=?, labels=?, status=?,
				time_block=?, updated_at=?, metadata_hash=?, dirty_fields=?
			WHERE id = ?`,
			next.Title, nullString(next.Notes), nullString(next.DueDate), next.Priority,
			marshalJSON(next.Labels), next.Status, nullString(next.TimeBlock),
			next.UpdatedAt.Unix(), next.MetadataHash, marshalJSON(next.DirtyFields), id); err != nil {
			return err
		}

		if err := s.appendMutationLogLocked(tx, id, "update", "", &current.MetadataHash, &next.MetadataHash, ActorUser); err != nil {
			return err
		}

		op := OpUpdate
		if next.GoogleID == nil {
			op = OpCreate // upgrade: task never synced, so this is still a create
		}
		payload := marshalJSON(codec.EncodeForRemote(nextMeta))
		if err := s.collapseAndEnqueueLocked(tx, id, op, payload); err != nil {
			return err
		}

		result = &next
		return nil
	})
	if err != nil {
		return nil, &Error{Op: "UpdateTask", TaskID: id, Err: err}
	}
	return result, nil
}

// DeleteTask tombstones the row, purges any queue entries, appends a
// mutation log entry, and enqueues a single delete op (spec.md §4.2).
func (s *Store) DeleteTask(id string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		current, err := s.getTaskLocked(tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrTaskNotFound
		}

		now := s.clock()
		if _, err := tx.Exec(`
			UPDATE tasks SET deleted_at = ?, sync_state = 'pending_delete', updated_at = ?
			WHERE id = ?`, now.Unix(), now.Unix(), id); err != nil {
			return err
		}
		if err := s.appendMutationLogLocked(tx, id, "delete", "", &current.MetadataHash, nil, ActorUser); err != nil {
			return err
		}
		if err := s.purgeQueueForTaskLocked(tx, id); err != nil {
			return err
		}
		return s.enqueueLocked(tx, id, OpDelete, "", now)
	})
	if err != nil {
		return &Error{Op: "DeleteTask", TaskID: id, Err: err}
	}
	return nil
}

// QueueMove records the pending-move fields and enqueues a move op
// whose payload is the destination list id (spec.md §4.2).
func (s *Store) QueueMove(taskID, toListID string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		current, err := s.getTaskLocked(tx, taskID)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrTaskNotFound
		}
		if current.GoogleID == nil {
			return errors.New("cannot move a task that has never synced")
		}

		fromList := current.ListID
		googleID := *current.GoogleID
		now := s.clock()

		if _, err := tx.Exec(`
			UPDATE tasks
			SET pending_move_from = ?, pending_delete_google_id = ?, list_id = ?,
				sync_state = 'pending_move', updated_at = ?
			WHERE id = ?`, fromList, googleID, toListID, now.Unix(), taskID); err != nil {
			return err
		}
		if err := s.collapseAndEnqueueLocked(tx, taskID, OpMove, toListID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return &Error{Op: "QueueMove", TaskID: taskID, Err: err}
	}
	return nil
}

// GetTask fetches a task by local id, or nil if not found.
func (s *Store) GetTask(id string) (*Task, error) {
	var t *Task
	row := s.db.QueryRow(taskSelectSQL+` WHERE id = ?`, id)
	found, err := scanTask(row, &t)
	if err != nil {
		return nil, &Error{Op: "GetTask", TaskID: id, Err: err}
	}
	if !found {
		return nil, nil
	}
	return t, nil
}

func (s *Store) getTaskLocked(tx *sql.Tx, id string) (*Task, error) {
	row := tx.QueryRow(taskSelectSQL+` WHERE id = ?`, id)
	var t *Task
	found, err := scanTask(row, &t)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return t, nil
}

// GetTaskByGoogleID fetches a task by its remote id.
func (s *Store) GetTaskByGoogleID(googleID string) (*Task, error) {
	row := s.db.QueryRow(taskSelectSQL+` WHERE google_id = ?`, googleID)
	var t *Task
	found, err := scanTask(row, &t)
	if err != nil {
		return nil, &Error{Op: "GetTaskByGoogleID", Err: err}
	}
	if !found {
		return nil, nil
	}
	return t, nil
}

// FindUnsyncedByHash looks up a not-yet-synced local row matching a
// remote hash within a list (reconciler link-by-hash step).
func (s *Store) FindUnsyncedByHash(listID, hash string) (*Task, error) {
	row := s.db.QueryRow(taskSelectSQL+` WHERE list_id = ? AND metadata_hash = ? AND google_id IS NULL AND deleted_at IS NULL`, listID, hash)
	var t *Task
	found, err := scanTask(row, &t)
	if err != nil {
		return nil, &Error{Op: "FindUnsyncedByHash", Err: err}
	}
	if !found {
		return nil, nil
	}
	return t, nil
}

// ListTasksByList returns every non-deleted task in a list.
func (s *Store) ListTasksByList(listID string) ([]Task, error) {
	rows, err := s.db.Query(taskSelectSQL+` WHERE list_id = ? AND deleted_at IS NULL ORDER BY created_at ASC`, listID)
	if err != nil {
		return nil, &Error{Op: "ListTasksByList", ListID: listID, Err: err}
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListAllTasks returns every task, including tombstones, used by the
// command layer's get_tasks.
func (s *Store) ListAllTasks() ([]Task, error) {
	rows, err := s.db.Query(taskSelectSQL + ` ORDER BY created_at ASC`)
	if err != nil {
		return nil, &Error{Op: "ListAllTasks", Err: err}
	}
	defer rows.Close()
	return scanTasks(rows)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func mergeDirty(existing, newDirty []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range existing {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, f := range newDirty {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

const taskSelectSQL = `
SELECT id, google_id, list_id, title, notes, due_date, priority, labels, status, time_block,
	created_at, updated_at, metadata_hash, dirty_fields, sync_state, sync_attempts,
	last_synced_at, last_remote_hash, sync_error, has_conflict, deleted_at,
	pending_move_from, pending_delete_google_id
FROM tasks`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner, out **Task) (bool, error) {
	var t Task
	var googleID, notes, dueDate, timeBlock, lastRemoteHash, syncErr, pendingMoveFrom, pendingDeleteGID sql.NullString
	var labelsJSON, dirtyJSON string
	var createdAt, updatedAt int64
	var lastSyncedAt, deletedAt sql.NullInt64
	var hasConflict int

	err := row.Scan(&t.ID, &googleID, &t.ListID, &t.Title, &notes, &dueDate, &t.Priority,
		&labelsJSON, &t.Status, &timeBlock, &createdAt, &updatedAt, &t.MetadataHash,
		&dirtyJSON, &t.SyncState, &t.SyncAttempts, &lastSyncedAt, &lastRemoteHash, &syncErr,
		&hasConflict, &deletedAt, &pendingMoveFrom, &pendingDeleteGID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	t.GoogleID = fromNullString(googleID)
	t.Notes = fromNullString(notes)
	t.DueDate = fromNullString(dueDate)
	t.TimeBlock = fromNullString(timeBlock)
	t.LastRemoteHash = fromNullString(lastRemoteHash)
	t.SyncError = fromNullString(syncErr)
	t.PendingMoveFrom = fromNullString(pendingMoveFrom)
	t.PendingDeleteGoogleID = fromNullString(pendingDeleteGID)
	t.LastSyncedAt = fromNullTime(lastSyncedAt)
	t.DeletedAt = fromNullTime(deletedAt)
	t.HasConflict = hasConflict != 0
	unmarshalJSON(labelsJSON, &t.Labels)
	unmarshalJSON(dirtyJSON, &t.DirtyFields)

	*out = &t
	return true, nil
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	var out []Task
	for rows.Next() {
		var t *Task
		found, err := scanTask(rows, &t)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, *t)
		}
	}
	return out, rows.Err()
}
