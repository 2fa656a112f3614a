package queue_test

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
	"gtasksync/internal/remote"
	"gtasksync/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
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

	_, err = s.CreateTaskList("list-1", "", "Inbox")
	require.NoError(t, err)
	return s
}

type stubMover struct {
	calls []string
	err   error
}

func (m *stubMover) Execute(ctx context.Context, taskID, toListID, accessToken string) error {
	m.calls = append(m.calls, taskID+"->"+toListID)
	return m.err
}

func TestDrainCreatesRemoteTaskAndFinalizes(t *testing.T) {
	s := newTestStore(t)
	task, _, err := s.CreateTask(store.TaskInput{ListID: "list-1", Title: "Write report"})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/lists/list-1/tasks", r.URL.Path)
		_ = json.NewEncoder(w).Encode(remote.RemoteTask{ID: "google-1"})
	}))
	defer srv.Close()

	client := remote.WithBaseURL(remote.New(), srv.URL)
	w := queue.New(s, client, &stubMover{}, logging.Discard())

	result, err := w.Drain(context.Background(), "token-1")
	require.NoError(t, err)
	require.Equal(t, queue.Completed, result)

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.GoogleID)
	require.Equal(t, "google-1", *got.GoogleID)
	require.Equal(t, store.SyncSynced, got.SyncState)

	entries, err := s.ClaimBatch(10)
	require.NoError(t, err)
	require.Empty(t, entries, "finalized entry must be removed from the queue")
}

func TestDrainOn401RevertsClaimAndSignalsRefresh(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.CreateTask(store.TaskInput{ListID: "list-1", Title: "Task"})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := remote.WithBaseURL(remote.New(), srv.URL)
	w := queue.New(s, client, &stubMover{}, logging.Discard())

	result, err := w.Drain(context.Background(), "stale-token")
	require.NoError(t, err)
	require.Equal(t, queue.RequiresTokenRefresh, result)

	entries, err := s.ClaimBatch(10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "reverted entry must be reclaimable")
}

func TestDrainRescheduleWithBackoffOnRemoteError(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.CreateTask(store.TaskInput{ListID: "list-1", Title: "Task"})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := remote.WithBaseURL(remote.New(), srv.URL)
	w := queue.New(s, client, &stubMover{}, logging.Discard())

	result, err := w.Drain(context.Background(), "token-1")
	require.NoError(t, err)
	require.Equal(t, queue.Completed, result)

	entries, err := s.ClaimBatch(10)
	require.NoError(t, err, "not yet due, so claim should find nothing")
	require.Empty(t, entries)
}

func TestDrainMoveDelegatesToSaga(t *testing.T) {
	s := newTestStore(t)
	task, _, err := s.CreateTask(store.TaskInput{ListID: "list-1", Title: "Task"})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remote.RemoteTask{ID: "google-1"})
	}))
	defer srv.Close()
	client := remote.WithBaseURL(remote.New(), srv.URL)

	// Drain the create so the task has a google_id, then queue a move.
	mover := &stubMover{}
	w := queue.New(s, client, mover, logging.Discard())
	_, err = w.Drain(context.Background(), "token-1")
	require.NoError(t, err)

	_, err = s.CreateTaskList("list-2", "", "Later")
	require.NoError(t, err)
	require.NoError(t, s.QueueMove(task.ID, "list-2"))

	result, err := w.Drain(context.Background(), "token-1")
	require.NoError(t, err)
	require.Equal(t, queue.Completed, result)
	require.Equal(t, []string{task.ID + "->list-2"}, mover.calls)

	entries, err := s.ClaimBatch(10)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestDrainSubtaskCreateParksOnUnsyncedParent(t *testing.T) {
	s := newTestStore(t)
	task, _, err := s.CreateTask(store.TaskInput{ListID: "list-1", Title: "Task"})
	require.NoError(t, err)

	sub, err := s.CreateSubtask(task.ID, store.SubtaskInput{Title: "Sub"})
	require.NoError(t, err)

	// Claim both the parent create and the subtask_create, then revert
	// only the subtask op to pending (simulating it being drained before
	// the parent's own create has run): the worker must find the parent
	// still unsynced and park the subtask rather than call the remote.
	entries, err := s.ClaimBatch(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		if e.Operation == store.OpSubtaskCreate {
			require.NoError(t, s.RevertClaim(e.ID, 0, ""))
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("remote should not be called for a parked subtask op, got %s", r.URL.Path)
	}))
	defer srv.Close()
	client := remote.WithBaseURL(remote.New(), srv.URL)
	wk := queue.New(s, client, &stubMover{}, logging.Discard())

	result, err := wk.Drain(context.Background(), "token-1")
	require.NoError(t, err)
	require.Equal(t, queue.Completed, result)

	got, err := s.GetSubtask(sub.ID)
	require.NoError(t, err)
	require.Equal(t, store.SyncPendingParent, got.SyncState)
}
