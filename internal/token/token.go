// Package token implements the token provider (C4): maintaining an
// OAuth2 refresh-token-grant snapshot for the connected Google account
// in the OS keyring, refreshing it on demand (spec.md §4.4).
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zalando/go-keyring"

	"gtasksync/internal/syncerr"
)

// KeyringService/KeyringUser locate the single stored snapshot, mirroring
// the teacher's per-backend keyring service naming convention.
const (
	KeyringService = "gtasksync-google"
	KeyringUser    = "default"

	// RefreshSkew is how far ahead of actual expiry a token is treated
	// as already expired (spec.md §4.4 step 2).
	RefreshSkew = 60 * time.Second

	tokenEndpoint = "https://oauth2.googleapis.com/token"
)

// Snapshot is the persisted OAuth2 state for the connected account.
type Snapshot struct {
	AccessToken          string    `json:"access_token"`
	RefreshToken         string    `json:"refresh_token"`
	AccessTokenExpiresAt time.Time `json:"access_token_expires_at"`
	LastRefreshAt        time.Time `json:"last_refresh_at,omitempty"`
	AccountEmail         string    `json:"account_email,omitempty"`

	// LastError/LastErrorAt record the most recent failed refresh, mirroring
	// account.syncStatus.tasks.{lastError,lastErrorAt} in the original
	// implementation (token.rs::update_snapshot_with_token). A successful
	// refresh clears both, so a resolved auth problem doesn't leave a stale
	// error visible to a caller reading the snapshot directly.
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

func (s Snapshot) expired(now time.Time) bool {
	return s.AccessToken == "" || !s.AccessTokenExpiresAt.After(now.Add(RefreshSkew))
}

// Store persists and retrieves the snapshot from the OS keyring. No
// in-memory cache is kept: every call reads/writes through to the
// keyring, so a token refreshed by a concurrent process is observed on
// the next call, matching the store's own no-stale-cache design.
type Store struct{}

func NewStore() *Store { return &Store{} }

func (Store) load() (*Snapshot, error) {
	raw, err := keyring.Get(KeyringService, KeyringUser)
	if err == keyring.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token snapshot from keyring: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("parse stored token snapshot: %w", err)
	}
	return &snap, nil
}

func (Store) save(snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal token snapshot: %w", err)
	}
	if err := keyring.Set(KeyringService, KeyringUser, string(raw)); err != nil {
		return fmt.Errorf("write token snapshot to keyring: %w", err)
	}
	return nil
}

// SaveForTest exposes save to test code in other packages, which
// cannot reach an unexported method across package boundaries.
func SaveForTest(s *Store, snap Snapshot) error { return s.save(snap) }

// LoadForTest exposes load to test code in other packages.
func LoadForTest(s *Store) (*Snapshot, error) { return s.load() }

// Connect bootstraps the keyring snapshot from a refresh token obtained
// out of band (the OAuth consent flow itself has no place in this core;
// spec.md §4.4 assumes a refresh token already exists). The access token
// is left empty so the first EnsureAccessToken call refreshes it.
func (s *Store) Connect(refreshToken string) error {
	if refreshToken == "" {
		return fmt.Errorf("refresh token must not be empty")
	}
	return s.save(Snapshot{RefreshToken: refreshToken})
}

// Clear removes the stored snapshot (used when the user disconnects
// the account).
func (Store) Clear() error {
	err := keyring.Delete(KeyringService, KeyringUser)
	if err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("clear token snapshot: %w", err)
	}
	return nil
}

// OAuthConfig carries the client credentials used for the refresh
// grant, sourced from configuration (C9) rather than hardcoded.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
}

// Provider implements ensure_access_token against a Store and an HTTP
// client to the Google token endpoint.
type Provider struct {
	store    *Store
	cfg      OAuthConfig
	http     *http.Client
	endpoint string
}

func NewProvider(store *Store, cfg OAuthConfig) *Provider {
	return &Provider{store: store, cfg: cfg, http: &http.Client{Timeout: 15 * time.Second}, endpoint: tokenEndpoint}
}

// WithEndpoint overrides the token endpoint, for tests that stand up
// an httptest.Server in place of Google's.
func WithEndpoint(p *Provider, endpoint string) *Provider {
	clone := *p
	clone.endpoint = endpoint
	return &clone
}

// EnsureAccessToken returns a valid access token, refreshing it first
// if forceRefresh is set or the stored token is missing/near expiry
// (spec.md §4.4).
func (p *Provider) EnsureAccessToken(ctx context.Context, forceRefresh bool) (string, error) {
	snap, err := p.store.load()
	if err != nil {
		return "", syncerr.Internal("ensure_access_token", err)
	}
	if snap == nil {
		return "", syncerr.NotConnected("ensure_access_token")
	}

	now := time.Now()
	if !forceRefresh && !snap.expired(now) {
		return snap.AccessToken, nil
	}
	if snap.RefreshToken == "" {
		return "", syncerr.NotConnected("ensure_access_token")
	}

	refreshed, err := p.refresh(ctx, snap.RefreshToken)
	if err != nil {
		failed := *snap
		failed.LastError = err.Error()
		failed.LastErrorAt = now
		_ = p.store.save(failed)
		return "", err
	}

	next := *snap
	next.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		next.RefreshToken = refreshed.RefreshToken
	}
	next.AccessTokenExpiresAt = now.Add(time.Duration(refreshed.ExpiresIn) * time.Second)
	next.LastRefreshAt = now
	next.LastError = ""
	next.LastErrorAt = time.Time{}

	if err := p.store.save(next); err != nil {
		return "", syncerr.Internal("ensure_access_token", err)
	}
	return next.AccessToken, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// refresh performs the refresh_token grant against the Google token
// endpoint (spec.md §4.4 step 2/original_source token.rs).
func (p *Provider) refresh(ctx context.Context, refreshToken string) (*tokenResponse, error) {
	if p.cfg.ClientID == "" {
		return nil, syncerr.New(syncerr.KindValidation, "refresh_token", "Google OAuth client id not configured")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {p.cfg.ClientID},
	}
	if p.cfg.ClientSecret != "" {
		form.Set("client_secret", p.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, syncerr.Internal("refresh_token", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, syncerr.Network("refresh_token", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body strings.Builder
		_, _ = body.WriteString(resp.Status)
		return nil, syncerr.Remote("refresh_token", resp.StatusCode, body.String())
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, syncerr.Internal("refresh_token", err)
	}
	return &tok, nil
}
