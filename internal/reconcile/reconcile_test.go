package reconcile_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gtasksync/internal/codec"
	"gtasksync/internal/logging"
	"gtasksync/internal/reconcile"
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
	return s
}

func newServer(t *testing.T, listsBody string, tasksByList map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/users/@me/lists" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(listsBody))
			return
		}
		for listID, body := range tasksByList {
			if r.URL.Path == "/lists/"+listID+"/tasks" {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(body))
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	}))
}

func TestPullInsertsNewRemoteListsAndTasks(t *testing.T) {
	s := newTestStore(t)

	listsBody := `{"items":[{"id":"rlist-1","title":"Inbox"}]}`
	tasksBody := `{"items":[{"id":"rtask-1","title":"Write report","status":"needsAction"}]}`
	srv := newServer(t, listsBody, map[string]string{"rlist-1": tasksBody})
	defer srv.Close()

	client := remote.WithBaseURL(remote.New(), srv.URL)
	rc := reconcile.New(s, client, logging.Discard())

	require.NoError(t, rc.Pull(context.Background(), "token-1"))

	lists, err := s.ListTaskLists()
	require.NoError(t, err)
	require.Len(t, lists, 1)
	require.Equal(t, "google-rlist-1", lists[0].ID)
	require.Equal(t, "Inbox", lists[0].Title)

	task, err := s.GetTaskByGoogleID("rtask-1")
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, "google-rtask-1", task.ID)
	require.Equal(t, store.SyncSynced, task.SyncState)
}

func TestPullLinksUnsyncedLocalTaskByHash(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateTaskList("google-rlist-1", "rlist-1", "Inbox")
	require.NoError(t, err)
	task, _, err := s.CreateTask(store.TaskInput{ListID: "google-rlist-1", Title: "Write report"})
	require.NoError(t, err)
	require.Nil(t, task.GoogleID)

	listsBody := `{"items":[{"id":"rlist-1","title":"Inbox"}]}`
	tasksBody := `{"items":[{"id":"rtask-1","title":"Write report","status":"needsAction"}]}`
	srv := newServer(t, listsBody, map[string]string{"rlist-1": tasksBody})
	defer srv.Close()

	client := remote.WithBaseURL(remote.New(), srv.URL)
	rc := reconcile.New(s, client, logging.Discard())
	require.NoError(t, rc.Pull(context.Background(), "token-1"))

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.GoogleID)
	require.Equal(t, "rtask-1", *got.GoogleID)
	require.Equal(t, store.SyncSynced, got.SyncState)

	all, err := s.ListTasksByList("google-rlist-1")
	require.NoError(t, err)
	require.Len(t, all, 1, "must link onto the existing row, not insert a second one")
}

func TestPullPrunesTaskRemovedRemotely(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateTaskList("google-rlist-1", "rlist-1", "Inbox")
	require.NoError(t, err)
	task, _, err := s.CreateTask(store.TaskInput{ListID: "google-rlist-1", Title: "Old task"})
	require.NoError(t, err)
	entries, err := s.ClaimBatch(10)
	require.NoError(t, err)
	require.NoError(t, s.FinalizeTaskSync(task.ID, entries[0].ID, "rtask-gone", task.MetadataHash))

	listsBody := `{"items":[{"id":"rlist-1","title":"Inbox"}]}`
	tasksBody := `{"items":[]}`
	srv := newServer(t, listsBody, map[string]string{"rlist-1": tasksBody})
	defer srv.Close()

	client := remote.WithBaseURL(remote.New(), srv.URL)
	rc := reconcile.New(s, client, logging.Discard())
	require.NoError(t, rc.Pull(context.Background(), "token-1"))

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	require.Nil(t, got, "task absent from remote must be pruned")
}

func TestPullSkipsPendingMoveTask(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateTaskList("google-rlist-1", "rlist-1", "Inbox")
	require.NoError(t, err)
	_, err = s.CreateTaskList("google-rlist-2", "rlist-2", "Later")
	require.NoError(t, err)
	task, _, err := s.CreateTask(store.TaskInput{ListID: "google-rlist-1", Title: "Moving task"})
	require.NoError(t, err)
	entries, err := s.ClaimBatch(10)
	require.NoError(t, err)
	require.NoError(t, s.FinalizeTaskSync(task.ID, entries[0].ID, "rtask-1", task.MetadataHash))
	require.NoError(t, s.QueueMove(task.ID, "google-rlist-2"))

	moved, err := s.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, store.SyncPendingMove, moved.SyncState)

	listsBody := `{"items":[{"id":"rlist-1","title":"Inbox"},{"id":"rlist-2","title":"Later"}]}`
	tasksBody := `{"items":[{"id":"rtask-1","title":"Moving task (stale remote copy)","status":"needsAction"}]}`
	srv := newServer(t, listsBody, map[string]string{"rlist-1": tasksBody, "rlist-2": `{"items":[]}`})
	defer srv.Close()

	client := remote.WithBaseURL(remote.New(), srv.URL)
	rc := reconcile.New(s, client, logging.Discard())
	require.NoError(t, rc.Pull(context.Background(), "token-1"))

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, store.SyncPendingMove, got.SyncState, "pending_move rows are owned by the outgoing move, not overwritten")
	require.Equal(t, "Moving task", got.Title)
}

func TestPullInsertsSubtaskUnderResolvedParent(t *testing.T) {
	s := newTestStore(t)

	listsBody := `{"items":[{"id":"rlist-1","title":"Inbox"}]}`
	tasksBody := `{"items":[
		{"id":"rtask-1","title":"Parent","status":"needsAction"},
		{"id":"rsub-1","title":"Child","status":"needsAction","parent":"rtask-1","position":"00000001"}
	]}`
	srv := newServer(t, listsBody, map[string]string{"rlist-1": tasksBody})
	defer srv.Close()

	client := remote.WithBaseURL(remote.New(), srv.URL)
	rc := reconcile.New(s, client, logging.Discard())
	require.NoError(t, rc.Pull(context.Background(), "token-1"))

	parent, err := s.GetTaskByGoogleID("rtask-1")
	require.NoError(t, err)
	require.NotNil(t, parent)

	sub, err := s.GetSubtaskByGoogleID("rsub-1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.Equal(t, parent.ID, sub.TaskID)
	require.Equal(t, "rtask-1", *sub.ParentGoogleID)
}

func TestDedupeSweepRemovesOrphanShadow(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateTaskList("list-1", "", "Inbox")
	require.NoError(t, err)

	// A synced row the reconciler would have inserted as "google-{rid}",
	// plus a leftover local shadow with identical content whose own
	// create attempt failed and is no longer mid-flight.
	meta := codec.Metadata{Title: "Same title", Priority: "none", Status: "needsAction"}
	_, err = s.InsertSyncedTask("rid-1", "list-1", meta, codec.Hash(meta))
	require.NoError(t, err)

	shadow, _, err := s.CreateTask(store.TaskInput{ListID: "list-1", Title: "Same title"})
	require.NoError(t, err)
	entries, err := s.ClaimBatch(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoError(t, s.RescheduleWithBackoff(entries[0].ID, shadow.ID, 1, time.Hour, "boom"))

	rc := reconcile.New(s, remote.New(), logging.Discard())
	require.NoError(t, rc.DedupeSweep())

	got, err := s.GetTask(shadow.ID)
	require.NoError(t, err)
	require.Nil(t, got, "shadow duplicating a synced row must be removed")
}

func TestPullSkipsFreshListWhenIntervalConfigured(t *testing.T) {
	s := newTestStore(t)

	var tasksHits int
	listsBody := `{"items":[{"id":"rlist-1","title":"Inbox"}]}`
	tasksBody := `{"items":[{"id":"rtask-1","title":"Write report","status":"needsAction"}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/users/@me/lists":
			_, _ = w.Write([]byte(listsBody))
		case "/lists/rlist-1/tasks":
			tasksHits++
			_, _ = w.Write([]byte(tasksBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := remote.WithBaseURL(remote.New(), srv.URL)
	rc := reconcile.New(s, client, logging.Discard(), reconcile.WithSyncInterval(time.Hour))

	require.NoError(t, rc.Pull(context.Background(), "token-1"))
	require.Equal(t, 1, tasksHits, "first pull has nothing recorded yet, so it must hit the network")

	require.NoError(t, rc.Pull(context.Background(), "token-1"))
	require.Equal(t, 1, tasksHits, "list was just fully synced within the interval, second pull must skip it")
}
