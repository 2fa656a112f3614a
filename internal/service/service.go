// Package service implements the Command API (C10): the request/
// response surface a shell calls, closing over the store, the remote
// client, the token provider, and the sync service (spec.md §6).
package service

import (
	"context"

	"github.com/go-playground/validator/v10"

	"gtasksync/internal/codec"
	"gtasksync/internal/remote"
	"gtasksync/internal/store"
	"gtasksync/internal/syncerr"
	"gtasksync/internal/syncsvc"
)

// TaskResponse is a metadata row plus its subtasks (spec.md §6).
type TaskResponse struct {
	Task     store.Task
	Subtasks []store.Subtask
}

// CreateTaskInput is the Command API's TaskInput (spec.md §6).
type CreateTaskInput struct {
	ID        *string
	ListID    string `validate:"required"`
	Title     string `validate:"required"`
	Priority  string
	Labels    []codec.Label
	TimeBlock *string
	Notes     *string
	DueDate   *string
	Status    string
	Subtasks  []SubtaskInput
}

// SubtaskInput is the Command API's SubtaskInput (spec.md §6).
type SubtaskInput struct {
	ID             *string
	GoogleID       *string
	ParentGoogleID *string
	Title          string `validate:"required"`
	Completed      bool
	DueDate        *string
	Position       string
}

// TaskUpdates carries only the fields the caller wants to change;
// nil means "leave as-is". Subtasks, if non-nil, replaces the task's
// whole subtask set (spec.md §6 TaskUpdates).
type TaskUpdates struct {
	Title     *string
	Notes     *string
	DueDate   *string
	Priority  *string
	Labels    *[]codec.Label
	Status    *string
	TimeBlock *string
	Subtasks  *[]SubtaskInput
}

// DeleteTaskListInput is create_task_list's sibling input.
type DeleteTaskListInput struct {
	ID         string `validate:"required"`
	ReassignTo *string
}

// Service implements every Command API operation.
type Service struct {
	store    *store.Store
	remote   *remote.Client
	tokens   syncsvc.TokenProvider
	sync     *syncsvc.Service
	validate *validator.Validate
}

func New(s *store.Store, r *remote.Client, tokens syncsvc.TokenProvider, sync *syncsvc.Service) *Service {
	return &Service{store: s, remote: r, tokens: tokens, sync: sync, validate: validator.New()}
}

// CreateTask validates and inserts a task, returning it with its
// subtasks (spec.md §6 create_task).
func (svc *Service) CreateTask(in CreateTaskInput) (*TaskResponse, error) {
	if err := svc.validate.Struct(in); err != nil {
		return nil, syncerr.Validation("create_task", err.Error())
	}

	storeIn := store.TaskInput{
		ID: in.ID, ListID: in.ListID, Title: in.Title, Priority: in.Priority,
		Labels: in.Labels, TimeBlock: in.TimeBlock, Notes: in.Notes, DueDate: in.DueDate,
		Status: in.Status, Subtasks: toStoreSubtaskInputs(in.Subtasks),
	}
	task, subtasks, err := svc.store.CreateTask(storeIn)
	if err != nil {
		return nil, err
	}
	return &TaskResponse{Task: *task, Subtasks: subtasks}, nil
}

// UpdateTask validates and applies a partial update, replacing the
// subtask set if Subtasks was supplied (spec.md §6 update_task).
func (svc *Service) UpdateTask(taskID string, updates TaskUpdates) (*TaskResponse, error) {
	if updates.Title != nil && *updates.Title == "" {
		return nil, syncerr.Validation("title", "must not be empty")
	}

	storeUpdates := store.TaskUpdates{
		Title: updates.Title, Notes: updates.Notes, DueDate: updates.DueDate,
		Priority: updates.Priority, Labels: updates.Labels, Status: updates.Status,
		TimeBlock: updates.TimeBlock,
	}
	task, err := svc.store.UpdateTask(taskID, storeUpdates)
	if err != nil {
		return nil, err
	}

	if updates.Subtasks != nil {
		if err := svc.replaceSubtasks(taskID, *updates.Subtasks); err != nil {
			return nil, err
		}
	}

	subtasks, err := svc.store.ListSubtasksByTask(taskID)
	if err != nil {
		return nil, err
	}
	return &TaskResponse{Task: *task, Subtasks: subtasks}, nil
}

// replaceSubtasks diffs the requested subtask set against what's
// stored: entries with a known id are updated, new entries (no id, or
// an id the task doesn't have) are created, and anything no longer
// referenced is deleted, mirroring the original implementation's
// replace_subtasks diff (spec.md §6 TaskUpdates.subtasks).
func (svc *Service) replaceSubtasks(taskID string, inputs []SubtaskInput) error {
	current, err := svc.store.ListSubtasksByTask(taskID)
	if err != nil {
		return err
	}
	existing := make(map[string]bool, len(current))
	for _, s := range current {
		existing[s.ID] = true
	}

	kept := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		if in.ID != nil && existing[*in.ID] {
			kept[*in.ID] = true
			_, err := svc.store.UpdateSubtask(*in.ID, store.SubtaskUpdates{
				Title: &in.Title, Completed: &in.Completed, Position: &in.Position, DueDate: in.DueDate,
			})
			if err != nil {
				return err
			}
			continue
		}
		if _, err := svc.store.CreateSubtask(taskID, toStoreSubtaskInput(in)); err != nil {
			return err
		}
	}

	for _, s := range current {
		if !kept[s.ID] {
			if err := svc.store.DeleteSubtask(s.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteTask tombstones the task and enqueues its remote delete
// (spec.md §6 delete_task).
func (svc *Service) DeleteTask(taskID string) error {
	return svc.store.DeleteTask(taskID)
}

// GetTasks returns every local task with its subtasks (spec.md §6
// get_tasks).
func (svc *Service) GetTasks() ([]TaskResponse, error) {
	tasks, err := svc.store.ListAllTasks()
	if err != nil {
		return nil, err
	}
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		subs, err := svc.store.ListSubtasksByTask(t.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, TaskResponse{Task: t, Subtasks: subs})
	}
	return out, nil
}

// GetTaskLists returns every local task list (spec.md §6
// get_task_lists).
func (svc *Service) GetTaskLists() ([]store.TaskList, error) {
	return svc.store.ListTaskLists()
}

// CreateTaskList performs an immediate remote create and stores the
// returned remote id as the local id (spec.md §6 create_task_list).
func (svc *Service) CreateTaskList(ctx context.Context, title string) (*store.TaskList, error) {
	if title == "" {
		return nil, syncerr.Validation("title", "must not be empty")
	}
	accessToken, err := svc.tokens.EnsureAccessToken(ctx, false)
	if err != nil {
		return nil, err
	}
	created, err := svc.remote.CreateTaskList(ctx, accessToken, title)
	if err != nil {
		return nil, err
	}
	return svc.store.CreateTaskList("google-"+created.ID, created.ID, created.Title)
}

// DeleteTaskList is local-only: it refuses to delete a non-empty list
// unless reassign_to names another existing list, and rejects
// reassigning to the list being deleted (spec.md §6 delete_task_list).
func (svc *Service) DeleteTaskList(in DeleteTaskListInput) error {
	if in.ReassignTo != nil {
		if *in.ReassignTo == in.ID {
			return syncerr.Validation("reassign_to", "cannot reassign tasks to the list being deleted")
		}
		lists, err := svc.store.ListTaskLists()
		if err != nil {
			return err
		}
		found := false
		for _, l := range lists {
			if l.ID == *in.ReassignTo {
				found = true
				break
			}
		}
		if !found {
			return syncerr.Validation("reassign_to", "reassignment list not found")
		}
		if err := svc.store.ReassignListTasks(in.ID, *in.ReassignTo); err != nil {
			return err
		}
	} else {
		count, err := svc.store.CountTasksInList(in.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			return syncerr.Validation("id", "cannot delete a task list that still contains tasks without reassigning them")
		}
	}
	return svc.store.DeleteTaskList(in.ID)
}

// QueueMoveTask enqueues a cross-list move, dispatched by the queue
// worker into the move saga (spec.md §6 queue_move_task).
func (svc *Service) QueueMoveTask(taskID, toListID string) error {
	return svc.store.QueueMove(taskID, toListID)
}

// ProcessSyncQueueOnly runs the on-demand drain path (spec.md §6
// process_sync_queue_only).
func (svc *Service) ProcessSyncQueueOnly(ctx context.Context) error {
	return svc.sync.DrainQueueOnly(ctx)
}

func toStoreSubtaskInputs(in []SubtaskInput) []store.SubtaskInput {
	out := make([]store.SubtaskInput, 0, len(in))
	for _, s := range in {
		out = append(out, toStoreSubtaskInput(s))
	}
	return out
}

func toStoreSubtaskInput(in SubtaskInput) store.SubtaskInput {
	return store.SubtaskInput{
		ID: in.ID, GoogleID: in.GoogleID, ParentGoogleID: in.ParentGoogleID,
		Title: in.Title, Completed: in.Completed, DueDate: in.DueDate, Position: in.Position,
	}
}
