// Package saga implements the cross-list move saga (C7): a durable
// state machine that performs a Google Tasks move as export,
// delete-source, create-destination, recreate-subtasks, atomic local
// rewrite, and cleanup, with idempotency keys and resumable sub-step
// progress (spec.md §4.7).
package saga

import (
	"context"
	"fmt"
	"time"

	"gtasksync/internal/codec"
	"gtasksync/internal/logging"
	"gtasksync/internal/remote"
	"gtasksync/internal/store"
	"gtasksync/internal/syncerr"
)

// subtaskRateLimit is the pause between subtask recreate calls
// (spec.md §4.7 Step 4).
const subtaskRateLimit = 200 * time.Millisecond

// Runner executes the move saga, implementing queue.Mover.
type Runner struct {
	store  *store.Store
	remote *remote.Client
	log    *logging.Logger
	sleep  func(time.Duration)
}

func New(s *store.Store, r *remote.Client, log *logging.Logger) *Runner {
	return &Runner{store: s, remote: r, log: log, sleep: time.Sleep}
}

// Execute runs the saga to completion (or resumes one already
// in-flight for taskID), moving the task to toListID.
func (r *Runner) Execute(ctx context.Context, taskID, toListID, accessToken string) error {
	lockKey := "task_move:" + taskID
	acquired, err := r.store.AcquireLock(lockKey)
	if err != nil {
		return err
	}
	if !acquired {
		return syncerr.New(syncerr.KindConflict, "move_task", "a move is already in progress for this task").WithTaskID(taskID)
	}
	defer func() {
		if relErr := r.store.ReleaseLock(lockKey); relErr != nil {
			r.log.Warn("release move lock %s: %v", lockKey, relErr)
		}
	}()

	task, err := r.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return syncerr.New(syncerr.KindValidation, "move_task", "task not found").WithTaskID(taskID)
	}
	if task.GoogleID == nil {
		return syncerr.New(syncerr.KindValidation, "move_task", "cannot move a task that has never synced").WithTaskID(taskID)
	}

	fromListID := task.ListID
	if task.PendingMoveFrom != nil {
		fromListID = *task.PendingMoveFrom
	}

	rec, err := r.store.LoadOrCreateSaga(taskID, fromListID, toListID)
	if err != nil {
		return err
	}

	return r.advance(ctx, rec, accessToken)
}

// advance drives the saga forward from whatever state it was loaded
// in, so a crash-resumed saga picks up exactly where it left off
// (spec.md §4.7 "Each transition persists the new state ... before
// acting").
func (r *Runner) advance(ctx context.Context, rec *store.SagaRecord, accessToken string) error {
	state := rec.State
	for {
		var err error
		switch state {
		case "Initialized":
			err = r.stepExport(rec)
			state = "TaskExported"
		case "TaskExported":
			err = r.stepDeleteSource(ctx, rec, accessToken)
			state = "SourceDeleted"
		case "SourceDeleted":
			err = r.stepCreateDestination(ctx, rec, accessToken)
			state = "DestinationCreated"
		case "DestinationCreated":
			err = r.stepRecreateSubtasks(ctx, rec, accessToken)
			state = "SubtasksCreated"
		case "SubtasksCreated":
			err = r.stepRewriteDatabase(rec)
			state = "DatabaseUpdated"
		case "DatabaseUpdated":
			err = r.stepCleanup(rec)
			state = "Completed"
		case "Completed":
			return nil
		default:
			return syncerr.New(syncerr.KindInternal, "move_task", "saga in unexpected state "+state).WithTaskID(rec.TaskID)
		}
		if err != nil {
			msg := err.Error()
			if failErr := r.store.PersistSagaState(rec.ID, "Failed", &msg); failErr != nil {
				r.log.Error("persist saga Failed state for %s: %v", rec.ID, failErr)
			}
			return err
		}
		if err := r.store.PersistSagaState(rec.ID, state, nil); err != nil {
			return err
		}
		rec.State = state
	}
}

// stepExport serializes the task and its subtasks into a backup row
// before any remote mutation (spec.md §4.7 Step 1).
func (r *Runner) stepExport(rec *store.SagaRecord) error {
	task, err := r.store.GetTask(rec.TaskID)
	if err != nil {
		return err
	}
	if task == nil {
		return syncerr.New(syncerr.KindInternal, "move_task_export", "task vanished mid-saga").WithTaskID(rec.TaskID)
	}
	subtasks, err := r.store.ListSubtasksByTask(rec.TaskID)
	if err != nil {
		return err
	}
	return r.store.SaveBackup(rec.ID, *task, subtasks)
}

// stepDeleteSource deletes the task from its source list under an
// idempotency key; 404 counts as success (spec.md §4.7 Step 2).
func (r *Runner) stepDeleteSource(ctx context.Context, rec *store.SagaRecord, accessToken string) error {
	task, subtasks, err := r.store.LoadBackup(rec.ID)
	if err != nil {
		return err
	}
	if task == nil || task.GoogleID == nil {
		return syncerr.New(syncerr.KindInternal, "move_task_delete_source", "missing backup").WithTaskID(rec.TaskID)
	}
	_ = subtasks

	key := fmt.Sprintf("delete-task-%s:%s", rec.ID, *task.GoogleID)
	_, err = r.withIdempotency(key, "delete_task", *task.GoogleID, func() (string, error) {
		if err := r.remote.DeleteTask(ctx, accessToken, rec.FromListID, *task.GoogleID); err != nil {
			return "", err
		}
		return "ok", nil
	})
	return err
}

// stepCreateDestination creates the task on the destination list under
// an idempotency key, caching the new remote id so a resume does not
// double-create (spec.md §4.7 Step 3).
func (r *Runner) stepCreateDestination(ctx context.Context, rec *store.SagaRecord, accessToken string) error {
	task, _, err := r.store.LoadBackup(rec.ID)
	if err != nil {
		return err
	}
	if task == nil {
		return syncerr.New(syncerr.KindInternal, "move_task_create_destination", "missing backup").WithTaskID(rec.TaskID)
	}

	key := fmt.Sprintf("create-task-%s:%s", rec.ID, orEmpty(task.GoogleID))
	payload := codec.EncodeForRemote(task.Metadata())
	_, err = r.withIdempotency(key, "create_task", task.Title, func() (string, error) {
		return r.remote.CreateTask(ctx, accessToken, rec.ToListID, payload)
	})
	return err
}

// stepRecreateSubtasks recreates every backed-up subtask under the new
// parent remote id, skipping any already recorded in
// saga_subtask_progress, with a rate-limit sleep between calls
// (spec.md §4.7 Step 4).
func (r *Runner) stepRecreateSubtasks(ctx context.Context, rec *store.SagaRecord, accessToken string) error {
	_, subtasks, err := r.store.LoadBackup(rec.ID)
	if err != nil {
		return err
	}
	if len(subtasks) == 0 {
		return nil
	}

	newGoogleID, err := r.createdDestinationID(rec)
	if err != nil {
		return err
	}

	done, err := r.store.SubtaskProgress(rec.ID)
	if err != nil {
		return err
	}

	first := true
	for _, sub := range subtasks {
		if _, already := done[sub.ID]; already {
			continue
		}
		if !first {
			r.sleep(subtaskRateLimit)
		}
		first = false

		key := fmt.Sprintf("create-subtask-%s:%s", rec.ID, sub.ID)
		payload := codec.EncodeForRemote(codec.Metadata{
			Title: sub.Title, Status: subtaskRemoteStatus(sub.Completed), DueDate: sub.DueDate,
		})
		newSubtaskID, err := r.withIdempotency(key, "create_subtask", sub.ID, func() (string, error) {
			return r.remote.CreateSubtask(ctx, accessToken, rec.ToListID, newGoogleID, payload)
		})
		if err != nil {
			return err
		}
		if err := r.store.RecordSubtaskProgress(rec.ID, sub.ID, newSubtaskID); err != nil {
			return err
		}
	}
	return nil
}

// stepRewriteDatabase applies the single atomic local rewrite: new
// remote id, new list, cleared move fields, remapped subtasks, and
// renumbered local id if it had the google-{old_rid} shape (spec.md
// §4.7 Step 5).
func (r *Runner) stepRewriteDatabase(rec *store.SagaRecord) error {
	newGoogleID, err := r.createdDestinationID(rec)
	if err != nil {
		return err
	}
	subtaskRemap, err := r.store.SubtaskProgress(rec.ID)
	if err != nil {
		return err
	}

	newTaskID := rec.TaskID
	if isGoogleShapedID(rec.TaskID) {
		newTaskID = "google-" + newGoogleID
	}

	return r.store.RewriteTaskForMove(rec.TaskID, newTaskID, newGoogleID, rec.ToListID, subtaskRemap)
}

// stepCleanup deletes the saga's backup and progress rows; the saga
// state transitions to Completed by the caller immediately after
// (spec.md §4.7 Step 6).
func (r *Runner) stepCleanup(rec *store.SagaRecord) error {
	return r.store.CleanupSaga(rec.ID)
}

// createdDestinationID recovers the new remote id cached by
// stepCreateDestination's idempotency entry, for steps that run after
// it (subtask recreation, database rewrite) regardless of whether this
// call is a fresh pass or a resume.
func (r *Runner) createdDestinationID(rec *store.SagaRecord) (string, error) {
	task, _, err := r.store.LoadBackup(rec.ID)
	if err != nil {
		return "", err
	}
	if task == nil {
		return "", syncerr.New(syncerr.KindInternal, "move_task", "missing backup").WithTaskID(rec.TaskID)
	}
	key := fmt.Sprintf("create-task-%s:%s", rec.ID, orEmpty(task.GoogleID))
	entry, _, err := r.store.BeginIdempotent(key, "create_task", task.Title)
	if err != nil {
		return "", err
	}
	if entry == nil || entry.ResponseData == nil {
		return "", syncerr.New(syncerr.KindInternal, "move_task", "destination id not yet recorded").WithTaskID(rec.TaskID)
	}
	return *entry.ResponseData, nil
}

// withIdempotency wraps fn with the idempotency ledger semantics from
// spec.md §4.7: a completed key short-circuits and returns its cached
// response; a pending/failed key (or none) runs fn, records success or
// failure, and returns the result.
func (r *Runner) withIdempotency(key, operationType, requestParams string, fn func() (string, error)) (string, error) {
	entry, created, err := r.store.BeginIdempotent(key, operationType, requestParams)
	if err != nil {
		return "", err
	}
	if !created {
		switch entry.Status {
		case store.IdemCompleted:
			if entry.ResponseData != nil {
				return *entry.ResponseData, nil
			}
			return "", nil
		case store.IdemPending, store.IdemFailed:
			// Fall through and retry.
		}
	}

	result, err := fn()
	if err != nil {
		if failErr := r.store.FailIdempotent(key); failErr != nil {
			r.log.Error("fail idempotent key %s: %v", key, failErr)
		}
		return "", err
	}
	if err := r.store.CompleteIdempotent(key, result); err != nil {
		return "", err
	}
	return result, nil
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func subtaskRemoteStatus(completed bool) string {
	if completed {
		return "completed"
	}
	return "needsAction"
}

// isGoogleShapedID reports whether id was minted by the reconciler's
// InsertSyncedTask (local id "google-{remote_id}"), the one case where
// a completed move must renumber the local id to match the new remote
// id (spec.md §4.7 Step 5).
func isGoogleShapedID(id string) bool {
	return len(id) > 7 && id[:7] == "google-"
}
