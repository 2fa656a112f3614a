// Package queue implements the sync queue worker (C5): draining
// pending sync_queue entries and dispatching each to the remote API,
// per spec.md §4.5.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"gtasksync/internal/codec"
	"gtasksync/internal/logging"
	"gtasksync/internal/remote"
	"gtasksync/internal/store"
	"gtasksync/internal/syncerr"
)

// DrainBatchSize is the maximum number of entries a single drain claims.
const DrainBatchSize = 25

// Mover executes the cross-list move saga for a task (C7), kept as an
// interface here so this package does not import internal/saga
// directly: the queue dispatches a move, the saga owns how it happens.
type Mover interface {
	Execute(ctx context.Context, taskID, toListID, accessToken string) error
}

// Result mirrors the original implementation's QueueExecutionResult:
// a drain either completes or signals that the caller must refresh the
// access token and retry once (spec.md §4.5 step 4).
type Result int

const (
	Completed Result = iota
	RequiresTokenRefresh
)

// Worker drains the sync queue.
type Worker struct {
	store  *store.Store
	remote *remote.Client
	mover  Mover
	log    *logging.Logger
}

func New(s *store.Store, r *remote.Client, mover Mover, log *logging.Logger) *Worker {
	return &Worker{store: s, remote: r, mover: mover, log: log}
}

// Drain claims up to DrainBatchSize pending entries and processes each
// in scheduled_at order. A 401 on any entry stops the drain immediately
// and reports RequiresTokenRefresh so the caller can refresh and retry
// the whole drain once (spec.md §4.5).
func (w *Worker) Drain(ctx context.Context, accessToken string) (Result, error) {
	entries, err := w.store.ClaimBatch(DrainBatchSize)
	if err != nil {
		return Completed, err
	}

	for _, entry := range entries {
		err := w.process(ctx, accessToken, entry)
		if err == nil {
			w.log.Debug("queue entry %s (%s) processed", entry.ID, entry.Operation)
			continue
		}

		if se, ok := err.(*syncerr.SyncError); ok && se.IsUnauthorized() {
			w.log.Warn("queue entry %s unauthorized, reverting claim", entry.ID)
			if revertErr := w.store.RevertClaim(entry.ID, entry.Attempts-1, err.Error()); revertErr != nil {
				return Completed, revertErr
			}
			return RequiresTokenRefresh, nil
		}

		w.log.Warn("queue entry %s failed: %v", entry.ID, err)
		delay := time.Duration(remote.BackoffSeconds(entry.Attempts)) * time.Second
		if rescheduleErr := w.store.RescheduleWithBackoff(entry.ID, entry.TaskID, entry.Attempts, delay, err.Error()); rescheduleErr != nil {
			return Completed, rescheduleErr
		}
	}

	return Completed, nil
}

func (w *Worker) process(ctx context.Context, accessToken string, entry store.QueueEntry) error {
	switch entry.Operation {
	case store.OpCreate, store.OpUpdate:
		return w.processUpsert(ctx, accessToken, entry)
	case store.OpDelete:
		return w.processDelete(ctx, accessToken, entry)
	case store.OpMove:
		return w.processMove(ctx, accessToken, entry)
	case store.OpSubtaskCreate, store.OpSubtaskUpdate:
		return w.processSubtaskUpsert(ctx, accessToken, entry)
	case store.OpSubtaskDelete:
		return w.processSubtaskDelete(ctx, accessToken, entry)
	default:
		return syncerr.New(syncerr.KindValidation, "process_queue_entry", "unsupported operation "+entry.Operation)
	}
}

// processUpsert handles both create and update: a bare create whose
// task vanished before it ran, an update on a task that never
// actually synced (upgraded to create at enqueue time by
// store.UpdateTask), and the ordinary create/update path.
func (w *Worker) processUpsert(ctx context.Context, accessToken string, entry store.QueueEntry) error {
	task, err := w.store.GetTask(entry.TaskID)
	if err != nil {
		return err
	}
	if task == nil {
		return w.store.DeleteQueueEntry(entry.ID)
	}
	if task.DeletedAt != nil {
		return w.store.FinalizeDelete(task.ID, entry.ID)
	}

	var payload codec.RemotePayload
	if err := json.Unmarshal([]byte(entry.Payload), &payload); err != nil {
		return syncerr.Internal("process_upsert", err)
	}
	sentHash := codec.Hash(codec.DecodeFromRemote(payload))

	if task.GoogleID == nil {
		googleID, err := w.remote.CreateTask(ctx, accessToken, task.ListID, payload)
		if err != nil {
			return err
		}
		return w.store.FinalizeTaskSync(task.ID, entry.ID, googleID, sentHash)
	}

	if err := w.remote.UpdateTask(ctx, accessToken, task.ListID, *task.GoogleID, payload); err != nil {
		return err
	}
	return w.store.FinalizeTaskSync(task.ID, entry.ID, *task.GoogleID, sentHash)
}

func (w *Worker) processDelete(ctx context.Context, accessToken string, entry store.QueueEntry) error {
	task, err := w.store.GetTask(entry.TaskID)
	if err != nil {
		return err
	}
	if task == nil {
		return w.store.DeleteQueueEntry(entry.ID)
	}
	if task.GoogleID != nil {
		if err := w.remote.DeleteTask(ctx, accessToken, task.ListID, *task.GoogleID); err != nil {
			return err
		}
	}
	return w.store.FinalizeDelete(task.ID, entry.ID)
}

// processMove delegates to the C7 saga rather than reimplementing a
// simpler inline move (spec.md §4.5 point 4: "move: delegate to C7").
// The move's payload is the bare destination list id, not JSON.
func (w *Worker) processMove(ctx context.Context, accessToken string, entry store.QueueEntry) error {
	task, err := w.store.GetTask(entry.TaskID)
	if err != nil {
		return err
	}
	if task == nil || task.DeletedAt != nil {
		return w.store.DeleteQueueEntry(entry.ID)
	}
	toListID := entry.Payload
	if err := w.mover.Execute(ctx, task.ID, toListID, accessToken); err != nil {
		return err
	}
	return w.store.DeleteQueueEntry(entry.ID)
}

func (w *Worker) processSubtaskUpsert(ctx context.Context, accessToken string, entry store.QueueEntry) error {
	var payload store.SubtaskQueuePayload
	if err := json.Unmarshal([]byte(entry.Payload), &payload); err != nil {
		return syncerr.Internal("process_subtask_upsert", err)
	}

	sub, err := w.store.GetSubtask(payload.SubtaskID)
	if err != nil {
		return err
	}
	if sub == nil {
		return w.store.DeleteQueueEntry(entry.ID)
	}
	task, err := w.store.GetTask(sub.TaskID)
	if err != nil {
		return err
	}
	if task == nil || task.DeletedAt != nil {
		return w.store.DeleteQueueEntry(entry.ID)
	}
	if task.GoogleID == nil {
		// Parent not yet synced: park this subtask and drop the op. The
		// pending_parent pump re-enqueues it once the parent finalizes.
		if err := w.store.MarkPendingParent(sub.ID); err != nil {
			return err
		}
		return w.store.DeleteQueueEntry(entry.ID)
	}

	remotePayload := codec.EncodeForRemote(codec.Metadata{
		Title: payload.Title, Status: subtaskStatus(payload.Completed), DueDate: payload.DueDate,
	})
	sentHash := codec.HashSubtask(payload.SubtaskMetadata)

	if sub.GoogleID == nil {
		googleID, err := w.remote.CreateSubtask(ctx, accessToken, task.ListID, *task.GoogleID, remotePayload)
		if err != nil {
			return err
		}
		return w.store.FinalizeSubtaskSync(sub.ID, entry.ID, googleID, *task.GoogleID, sentHash)
	}

	if err := w.remote.UpdateSubtask(ctx, accessToken, task.ListID, *sub.GoogleID, remotePayload); err != nil {
		return err
	}
	return w.store.FinalizeSubtaskSync(sub.ID, entry.ID, *sub.GoogleID, *task.GoogleID, sentHash)
}

func (w *Worker) processSubtaskDelete(ctx context.Context, accessToken string, entry store.QueueEntry) error {
	var payload store.SubtaskQueuePayload
	if err := json.Unmarshal([]byte(entry.Payload), &payload); err != nil {
		return syncerr.Internal("process_subtask_delete", err)
	}

	sub, err := w.store.GetSubtask(payload.SubtaskID)
	if err != nil {
		return err
	}
	if sub == nil {
		return w.store.DeleteQueueEntry(entry.ID)
	}
	if sub.GoogleID != nil {
		task, err := w.store.GetTask(sub.TaskID)
		if err != nil {
			return err
		}
		if task != nil {
			if err := w.remote.DeleteSubtask(ctx, accessToken, task.ListID, *sub.GoogleID); err != nil {
				return err
			}
		}
	}
	return w.store.FinalizeSubtaskDelete(sub.ID, entry.ID)
}

func subtaskStatus(completed bool) string {
	if completed {
		return "completed"
	}
	return "needsAction"
}
