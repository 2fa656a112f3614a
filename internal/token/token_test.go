package token_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"gtasksync/internal/syncerr"
	"gtasksync/internal/token"
)

func TestEnsureAccessTokenReturnsCachedWhenFresh(t *testing.T) {
	keyring.MockInit()
	store := token.NewStore()
	snap := token.Snapshot{AccessToken: "cached", RefreshToken: "rt", AccessTokenExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, setSnapshot(store, snap))

	p := token.NewProvider(store, token.OAuthConfig{ClientID: "client"})
	got, err := p.EnsureAccessToken(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, "cached", got)
}

func TestEnsureAccessTokenRefreshesWhenExpired(t *testing.T) {
	keyring.MockInit()
	store := token.NewStore()
	snap := token.Snapshot{AccessToken: "stale", RefreshToken: "rt", AccessTokenExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, setSnapshot(store, snap))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.FormValue("grant_type"))
		require.Equal(t, "rt", r.FormValue("refresh_token"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "fresh", "expires_in": 3600,
		})
	}))
	defer srv.Close()

	p := token.WithEndpoint(token.NewProvider(store, token.OAuthConfig{ClientID: "client"}), srv.URL)
	got, err := p.EnsureAccessToken(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, "fresh", got)
}

func TestEnsureAccessTokenNotConnectedWithoutSnapshot(t *testing.T) {
	keyring.MockInit()
	store := token.NewStore()
	p := token.NewProvider(store, token.OAuthConfig{ClientID: "client"})

	_, err := p.EnsureAccessToken(context.Background(), false)
	require.Error(t, err)
	se, ok := err.(*syncerr.SyncError)
	require.True(t, ok)
	require.Equal(t, syncerr.KindNotConnected, se.Kind)
}

func TestEnsureAccessTokenForceRefreshIgnoresFreshness(t *testing.T) {
	keyring.MockInit()
	store := token.NewStore()
	snap := token.Snapshot{AccessToken: "cached", RefreshToken: "rt", AccessTokenExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, setSnapshot(store, snap))

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "forced", "expires_in": 3600})
	}))
	defer srv.Close()

	p := token.WithEndpoint(token.NewProvider(store, token.OAuthConfig{ClientID: "client"}), srv.URL)
	got, err := p.EnsureAccessToken(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, "forced", got)
	require.Equal(t, 1, hits)
}

func TestEnsureAccessTokenRecordsErrorOnFailedRefresh(t *testing.T) {
	keyring.MockInit()
	store := token.NewStore()
	snap := token.Snapshot{AccessToken: "stale", RefreshToken: "rt", AccessTokenExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, setSnapshot(store, snap))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid_grant"))
	}))
	defer srv.Close()

	p := token.WithEndpoint(token.NewProvider(store, token.OAuthConfig{ClientID: "client"}), srv.URL)
	_, err := p.EnsureAccessToken(context.Background(), false)
	require.Error(t, err)

	got, err := loadSnapshot(store)
	require.NoError(t, err)
	require.NotEmpty(t, got.LastError)
	require.False(t, got.LastErrorAt.IsZero())
}

func TestEnsureAccessTokenClearsPriorErrorOnSuccess(t *testing.T) {
	keyring.MockInit()
	store := token.NewStore()
	snap := token.Snapshot{
		AccessToken: "stale", RefreshToken: "rt", AccessTokenExpiresAt: time.Now().Add(-time.Minute),
		LastError: "invalid_grant", LastErrorAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, setSnapshot(store, snap))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "fresh", "expires_in": 3600})
	}))
	defer srv.Close()

	p := token.WithEndpoint(token.NewProvider(store, token.OAuthConfig{ClientID: "client"}), srv.URL)
	got, err := p.EnsureAccessToken(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, "fresh", got)

	snapAfter, err := loadSnapshot(store)
	require.NoError(t, err)
	require.Empty(t, snapAfter.LastError)
	require.True(t, snapAfter.LastErrorAt.IsZero())
}

// setSnapshot reaches through the package-private save path via the
// same Store the Provider uses, keeping the test independent of the
// keyring's own storage format.
func setSnapshot(store *token.Store, snap token.Snapshot) error {
	return token.SaveForTest(store, snap)
}

func loadSnapshot(store *token.Store) (*token.Snapshot, error) {
	return token.LoadForTest(store)
}
