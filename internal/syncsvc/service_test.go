package syncsvc_test

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
	"gtasksync/internal/store"
	"gtasksync/internal/syncsvc"
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
	_, err = s.CreateTaskList("google-rlist-1", "rlist-1", "Inbox")
	require.NoError(t, err)
	return s
}

type stubTokens struct {
	token string
}

func (s *stubTokens) EnsureAccessToken(ctx context.Context, forceRefresh bool) (string, error) {
	return s.token, nil
}

type noopMover struct{}

func (noopMover) Execute(ctx context.Context, taskID, toListID, accessToken string) error { return nil }

func TestDrainQueueOnlyEmitsQueueProcessed(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.CreateTask(store.TaskInput{ListID: "google-rlist-1", Title: "Write report"})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remote.RemoteTask{ID: "rtask-1"})
	}))
	defer srv.Close()
	client := remote.WithBaseURL(remote.New(), srv.URL)

	worker := queue.New(s, client, noopMover{}, logging.Discard())
	rc := reconcile.New(s, client, logging.Discard())
	svc := syncsvc.New(worker, rc, &stubTokens{token: "token-1"}, logging.Discard())

	err = svc.DrainQueueOnly(context.Background())
	require.NoError(t, err)

	select {
	case ev := <-svc.Events():
		require.Equal(t, syncsvc.EventQueueProcessed, ev.Type)
		require.Equal(t, syncsvc.StatusSuccess, ev.Status)
		require.Empty(t, ev.Error)
	default:
		t.Fatal("expected a queue-processed event")
	}
}

func TestRunFirstCycleIsImmediateAndEmitsSyncComplete(t *testing.T) {
	s := newTestStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/@me/lists":
			_ = json.NewEncoder(w).Encode(map[string]any{"items": []map[string]string{{"id": "rlist-1", "title": "Inbox"}}})
		case "/lists/rlist-1/tasks":
			_ = json.NewEncoder(w).Encode(map[string]any{"items": []map[string]string{}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	client := remote.WithBaseURL(remote.New(), srv.URL)

	worker := queue.New(s, client, noopMover{}, logging.Discard())
	rc := reconcile.New(s, client, logging.Discard())
	svc := syncsvc.New(worker, rc, &stubTokens{token: "token-1"}, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	select {
	case ev := <-svc.Events():
		require.Equal(t, syncsvc.EventSyncComplete, ev.Type)
		require.Equal(t, syncsvc.StatusSuccess, ev.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an immediate sync:complete event without waiting for the ticker")
	}

	cancel()
	<-done
}
