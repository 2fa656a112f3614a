package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gtasksync/internal/logging"
	"gtasksync/internal/queue"
	"gtasksync/internal/reconcile"
	"gtasksync/internal/remote"
	"gtasksync/internal/service"
	"gtasksync/internal/store"
	"gtasksync/internal/syncsvc"
)

type stubTokens struct{ token string }

func (s *stubTokens) EnsureAccessToken(ctx context.Context, forceRefresh bool) (string, error) {
	return s.token, nil
}

type noopMover struct{}

func (noopMover) Execute(ctx context.Context, taskID, toListID, accessToken string) error { return nil }

func newHarness(t *testing.T) (*service.Service, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gtasksync.db")
	seq := 0
	ids := func() string {
		seq++
		return "id-" + string(rune('a'+seq))
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s, err := store.Open(path, logging.Discard(), store.WithIDGenerator(ids), store.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/@me/lists":
			_ = json.NewEncoder(w).Encode(remote.TaskList{ID: "rlist-new", Title: "New list"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	client := remote.WithBaseURL(remote.New(), srv.URL)

	worker := queue.New(s, client, noopMover{}, logging.Discard())
	rc := reconcile.New(s, client, logging.Discard())
	tokens := &stubTokens{token: "token-1"}
	sync := syncsvc.New(worker, rc, tokens, logging.Discard())
	svc := service.New(s, client, tokens, sync)
	return svc, s
}

func TestCreateTaskRequiresTitleAndList(t *testing.T) {
	svc, _ := newHarness(t)
	_, err := svc.CreateTask(service.CreateTaskInput{ListID: "list-1"})
	require.Error(t, err)
}

func TestCreateAndGetTask(t *testing.T) {
	svc, s := newHarness(t)
	_, err := s.CreateTaskList("list-1", "", "Inbox")
	require.NoError(t, err)

	resp, err := svc.CreateTask(service.CreateTaskInput{
		ListID: "list-1", Title: "Write report",
		Subtasks: []service.SubtaskInput{{Title: "Draft outline"}},
	})
	require.NoError(t, err)
	require.Equal(t, "Write report", resp.Task.Title)
	require.Len(t, resp.Subtasks, 1)

	all, err := svc.GetTasks()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Len(t, all[0].Subtasks, 1)
}

func TestUpdateTaskReplacesSubtasks(t *testing.T) {
	svc, s := newHarness(t)
	_, err := s.CreateTaskList("list-1", "", "Inbox")
	require.NoError(t, err)
	created, err := svc.CreateTask(service.CreateTaskInput{
		ListID: "list-1", Title: "Write report",
		Subtasks: []service.SubtaskInput{{Title: "Draft outline"}},
	})
	require.NoError(t, err)
	require.Len(t, created.Subtasks, 1)

	keepID := created.Subtasks[0].ID
	newTitle := "Write the quarterly report"
	subtasks := []service.SubtaskInput{
		{ID: &keepID, Title: "Draft outline", Completed: true},
		{Title: "Send for review"},
	}
	updated, err := svc.UpdateTask(created.Task.ID, service.TaskUpdates{
		Title: &newTitle, Subtasks: &subtasks,
	})
	require.NoError(t, err)
	require.Equal(t, newTitle, updated.Task.Title)
	require.Len(t, updated.Subtasks, 2)
}

func TestDeleteTaskListRefusesNonEmptyWithoutReassignment(t *testing.T) {
	svc, s := newHarness(t)
	_, err := s.CreateTaskList("list-1", "", "Inbox")
	require.NoError(t, err)
	_, err = svc.CreateTask(service.CreateTaskInput{ListID: "list-1", Title: "Write report"})
	require.NoError(t, err)

	err = svc.DeleteTaskList(service.DeleteTaskListInput{ID: "list-1"})
	require.Error(t, err)
}

func TestDeleteTaskListReassignsTasks(t *testing.T) {
	svc, s := newHarness(t)
	_, err := s.CreateTaskList("list-1", "", "Inbox")
	require.NoError(t, err)
	_, err = s.CreateTaskList("list-2", "", "Later")
	require.NoError(t, err)
	created, err := svc.CreateTask(service.CreateTaskInput{ListID: "list-1", Title: "Write report"})
	require.NoError(t, err)

	to := "list-2"
	require.NoError(t, svc.DeleteTaskList(service.DeleteTaskListInput{ID: "list-1", ReassignTo: &to}))

	moved, err := s.GetTask(created.Task.ID)
	require.NoError(t, err)
	require.Equal(t, "list-2", moved.ListID)

	lists, err := svc.GetTaskLists()
	require.NoError(t, err)
	require.Len(t, lists, 1)
}

func TestCreateTaskListPerformsImmediateRemoteCreate(t *testing.T) {
	svc, _ := newHarness(t)
	list, err := svc.CreateTaskList(context.Background(), "New list")
	require.NoError(t, err)
	require.Equal(t, "google-rlist-new", list.ID)
	require.NotNil(t, list.GoogleID)
	require.Equal(t, "rlist-new", *list.GoogleID)
}

func TestQueueMoveTaskRequiresSyncedTask(t *testing.T) {
	svc, s := newHarness(t)
	_, err := s.CreateTaskList("list-1", "", "Inbox")
	require.NoError(t, err)
	_, err = s.CreateTaskList("list-2", "", "Later")
	require.NoError(t, err)
	created, err := svc.CreateTask(service.CreateTaskInput{ListID: "list-1", Title: "Write report"})
	require.NoError(t, err)

	err = svc.QueueMoveTask(created.Task.ID, "list-2")
	require.Error(t, err, "a task that never synced has no remote id to move")
}

func TestProcessSyncQueueOnlyDrainsQueue(t *testing.T) {
	svc, s := newHarness(t)
	_, err := s.CreateTaskList("list-1", "", "Inbox")
	require.NoError(t, err)
	_, err = svc.CreateTask(service.CreateTaskInput{ListID: "list-1", Title: "Write report"})
	require.NoError(t, err)

	require.NoError(t, svc.ProcessSyncQueueOnly(context.Background()))
}
