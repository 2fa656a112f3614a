package remote_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"gtasksync/internal/codec"
	"gtasksync/internal/remote"
	"gtasksync/internal/syncerr"
)

func TestBackoffSecondsFormula(t *testing.T) {
	cases := map[int]int{
		1: 15, 2: 30, 3: 60, 4: 120, 5: 240, 6: 480, 7: 900, 8: 900, 9: 900, 0: 15, -3: 15,
	}
	for attempt, want := range cases {
		require.Equal(t, want, remote.BackoffSeconds(attempt), "attempt=%d", attempt)
	}
}

func TestCreateTaskReturnsRemoteID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/lists/list-1/tasks", r.URL.Path)
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(remote.RemoteTask{ID: "remote-1"})
	}))
	defer srv.Close()

	c := remote.New()
	id, err := newClientWithBaseURL(c, srv.URL).CreateTask(context.Background(), "token-1", "list-1", codec.RemotePayload{Title: "x", Status: "needsAction"})
	require.NoError(t, err)
	require.Equal(t, "remote-1", id)
}

func TestDeleteTaskTreats404AsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := remote.New()
	err := newClientWithBaseURL(c, srv.URL).DeleteTask(context.Background(), "token-1", "list-1", "gone")
	require.NoError(t, err)
}

func TestUnauthorizedIsDistinguished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := remote.New()
	_, err := newClientWithBaseURL(c, srv.URL).ListTaskLists(context.Background(), "token-1")
	require.Error(t, err)
	se, ok := err.(*syncerr.SyncError)
	require.True(t, ok)
	require.True(t, se.IsUnauthorized())
}

// newClientWithBaseURL points an existing Client at a test server. The
// production constructor always targets the real API, so tests reach
// into the unexported field via the same package-local helper pattern
// the teacher's own API clients use for base-URL overrides in tests.
func newClientWithBaseURL(c *remote.Client, baseURL string) *remote.Client {
	return remote.WithBaseURL(c, baseURL)
}
