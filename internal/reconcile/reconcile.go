// Package reconcile implements the reconciler (C6): pulling the
// remote account and folding it into the local store, plus the
// dedupe sweep that runs ahead of each poll (spec.md §4.6).
package reconcile

import (
	"context"
	"sort"
	"time"

	"gtasksync/internal/codec"
	"gtasksync/internal/logging"
	"gtasksync/internal/remote"
	"gtasksync/internal/store"
)

// Reconciler pulls task lists, tasks, and subtasks from the remote
// account and merges them into the local store.
type Reconciler struct {
	store        *store.Store
	remote       *remote.Client
	log          *logging.Logger
	syncInterval time.Duration
}

// Option configures optional Reconciler behavior.
type Option func(*Reconciler)

// WithSyncInterval enables the staleness check ahead of each list pull:
// a list fully synced within interval is left alone rather than
// re-fetched over the network (SPEC_FULL.md §3, store.IsListStale). Zero
// (the default) disables the check, so every Pull call does a full
// remote round trip for every list, matching the periodic driver's own
// ticker-paced cadence.
func WithSyncInterval(interval time.Duration) Option {
	return func(rc *Reconciler) { rc.syncInterval = interval }
}

func New(s *store.Store, r *remote.Client, log *logging.Logger, opts ...Option) *Reconciler {
	rc := &Reconciler{store: s, remote: r, log: log}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// DedupeSweep removes orphan shadow tasks and flags true duplicate
// synced rows for deletion (spec.md §4.6 Dedupe sweep). It runs ahead
// of Pull each cycle and does not touch the remote API.
func (rc *Reconciler) DedupeSweep() error {
	orphans, err := rc.store.OrphanShadowTaskIDs()
	if err != nil {
		return err
	}
	if len(orphans) > 0 {
		rc.log.Debug("dedupe sweep: removing %d orphan shadow tasks", len(orphans))
		if err := rc.store.DeleteOrphanShadowTasks(orphans); err != nil {
			return err
		}
	}

	dups, err := rc.store.SyncedDuplicates()
	if err != nil {
		return err
	}
	for _, d := range dups {
		if err := rc.store.FlagDuplicateForDeletion(d); err != nil {
			return err
		}
	}
	if len(dups) > 0 {
		rc.log.Debug("dedupe sweep: flagged %d duplicate rows for deletion", len(dups))
	}
	return nil
}

// Pull fetches the whole remote account and folds it into the local
// store: lists first, then each list's tasks and subtasks (spec.md
// §4.6 List/Task/Subtask reconciliation). A failure to fetch the list
// of lists is fatal and returned immediately; a failure reconciling
// one list is logged and does not abort the others, but its error is
// returned once every list has had a chance to run.
func (rc *Reconciler) Pull(ctx context.Context, accessToken string) error {
	if err := rc.reconcileLists(ctx, accessToken); err != nil {
		return err
	}

	lists, err := rc.store.ListTaskLists()
	if err != nil {
		return err
	}

	var firstErr error
	for _, list := range lists {
		if list.GoogleID == nil {
			// Awaiting its own first remote creation; nothing to pull yet.
			continue
		}
		if rc.syncInterval > 0 {
			stale, err := rc.store.IsListStale(list.ID, rc.syncInterval)
			if err != nil {
				rc.log.Warn("check staleness of list %s: %v", list.ID, err)
			} else if !stale {
				continue
			}
		}
		if err := rc.reconcileListTasks(ctx, accessToken, list); err != nil {
			rc.log.Warn("reconcile list %s: %v", list.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := rc.store.MarkListFullySynced(list.ID); err != nil {
			rc.log.Warn("mark list %s fully synced: %v", list.ID, err)
		}
	}
	return firstErr
}

func (rc *Reconciler) reconcileLists(ctx context.Context, accessToken string) error {
	remoteLists, err := rc.remote.ListTaskLists(ctx, accessToken)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(remoteLists))
	for _, l := range remoteLists {
		seen[l.ID] = true
		if err := rc.store.UpsertTaskListByGoogleID(l.ID, l.Title); err != nil {
			rc.log.Warn("upsert task list %s: %v", l.ID, err)
		}
	}
	return rc.store.PruneListsNotIn(seen)
}

// reconcileListTasks reconciles one list's top-level tasks, then its
// subtasks grouped by parent, then prunes both (spec.md §4.6 Task
// reconciliation, Subtask reconciliation, Pruning).
func (rc *Reconciler) reconcileListTasks(ctx context.Context, accessToken string, list store.TaskList) error {
	remoteTasks, err := rc.remote.ListTasks(ctx, accessToken, *list.GoogleID)
	if err != nil {
		return err
	}

	var topLevel []remote.RemoteTask
	subtasksByParent := make(map[string][]remote.RemoteTask)
	for _, t := range remoteTasks {
		if t.Parent != "" {
			subtasksByParent[t.Parent] = append(subtasksByParent[t.Parent], t)
			continue
		}
		topLevel = append(topLevel, t)
	}

	pendingDelete, err := rc.store.PendingDeleteGoogleIDs()
	if err != nil {
		return err
	}

	present := make(map[string]bool, len(topLevel))
	localIDByRemote := make(map[string]string, len(topLevel))
	for _, t := range topLevel {
		present[t.ID] = true
		localID, err := rc.reconcileOneTask(list.ID, t, pendingDelete)
		if err != nil {
			rc.log.Warn("reconcile task %s: %v", t.ID, err)
			continue
		}
		if localID != "" {
			localIDByRemote[t.ID] = localID
		}
	}

	if err := rc.store.PruneTasksInList(list.ID, present); err != nil {
		rc.log.Warn("prune tasks in list %s: %v", list.ID, err)
	}

	for parentRemoteID, subs := range subtasksByParent {
		parentLocalID, ok := localIDByRemote[parentRemoteID]
		if !ok {
			// Parent wasn't resolved this pass (pending_move, error, or
			// skipped as a pending outgoing delete): leave its subtasks
			// for the next cycle rather than orphaning them.
			continue
		}
		rc.reconcileSubtasksOfParent(parentLocalID, parentRemoteID, subs)
	}
	return nil
}

// reconcileOneTask applies the by-remote-id / pending-delete /
// by-hash / insert cascade to a single top-level remote task and
// returns the local id it now maps to ("" if the task was skipped).
func (rc *Reconciler) reconcileOneTask(listID string, t remote.RemoteTask, pendingDelete map[string]bool) (string, error) {
	meta := t.Metadata()
	hash := codec.Hash(meta)

	existing, err := rc.store.GetTaskByGoogleID(t.ID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if existing.SyncState == store.SyncPendingMove {
			return existing.ID, nil
		}
		if err := rc.store.OverwriteTaskFromRemote(existing.ID, meta, hash); err != nil {
			return "", err
		}
		return existing.ID, nil
	}

	if pendingDelete[t.ID] {
		return "", nil
	}

	found, err := rc.store.FindUnsyncedByHash(listID, hash)
	if err != nil {
		return "", err
	}
	if found != nil {
		if err := rc.store.LinkTaskByHash(found.ID, t.ID, hash); err != nil {
			return "", err
		}
		return found.ID, nil
	}

	inserted, err := rc.store.InsertSyncedTask(t.ID, listID, meta, hash)
	if err != nil {
		return "", err
	}
	return inserted.ID, nil
}

// reconcileSubtasksOfParent applies the same cascade to one parent's
// subtasks, processed in remote position order, then prunes whatever
// wasn't present in this pull (spec.md §4.6 Subtask reconciliation).
func (rc *Reconciler) reconcileSubtasksOfParent(parentLocalID, parentRemoteID string, subs []remote.RemoteTask) {
	sort.Slice(subs, func(i, j int) bool { return subs[i].Position < subs[j].Position })

	present := make(map[string]bool, len(subs))
	for _, sub := range subs {
		present[sub.ID] = true
		if err := rc.reconcileOneSubtask(parentLocalID, parentRemoteID, sub); err != nil {
			rc.log.Warn("reconcile subtask %s: %v", sub.ID, err)
		}
	}
	if err := rc.store.PruneSubtasksForTask(parentLocalID, present); err != nil {
		rc.log.Warn("prune subtasks of %s: %v", parentLocalID, err)
	}
}

func (rc *Reconciler) reconcileOneSubtask(parentLocalID, parentRemoteID string, sub remote.RemoteTask) error {
	meta := subtaskMetadata(sub)
	hash := codec.HashSubtask(meta)

	existing, err := rc.store.GetSubtaskByGoogleID(sub.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return rc.store.OverwriteSubtaskFromRemote(existing.ID, meta, hash, parentRemoteID)
	}

	found, err := rc.store.FindUnsyncedSubtaskByHash(parentLocalID, hash)
	if err != nil {
		return err
	}
	if found != nil {
		return rc.store.LinkSubtaskByHash(found.ID, sub.ID, hash, parentRemoteID)
	}

	return rc.store.InsertSyncedSubtask(sub.ID, parentLocalID, parentRemoteID, meta, hash)
}

func subtaskMetadata(t remote.RemoteTask) codec.SubtaskMetadata {
	return codec.SubtaskMetadata{
		Title:     t.Title,
		Completed: t.Status == "completed",
		Position:  t.Position,
		DueDate:   t.Due,
	}
}
