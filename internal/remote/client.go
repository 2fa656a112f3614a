// Package remote implements the remote client (C3): a stateless typed
// HTTP client for the Google Tasks v1 API, grounded on the same
// doRequest-then-status-switch shape the rest of this module's domain
// clients use, generalized to the pagination and 401/404 semantics
// Google Tasks requires.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"gtasksync/internal/codec"
	"gtasksync/internal/syncerr"
)

// BaseURL is the Google Tasks v1 REST root.
const BaseURL = "https://tasks.googleapis.com/tasks/v1"

// Client is a stateless typed client: every call takes its own bearer
// token, so a single Client is shared across token refreshes.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client with a 15s connect timeout and a 120s total
// per-request timeout.
func New() *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: 15 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	return &Client{baseURL: BaseURL, http: &http.Client{Timeout: 120 * time.Second, Transport: transport}}
}

// WithBaseURL returns a copy of c pointed at baseURL, for tests that
// stand up an httptest.Server in place of the real API.
func WithBaseURL(c *Client, baseURL string) *Client {
	clone := *c
	clone.baseURL = baseURL
	return &clone
}

// BackoffSeconds is the retry-scheduling helper used by the queue
// worker (spec.md §4.3): delay_seconds(attempt) = min(900, 15 *
// 2^(clamp(attempt,1,8)-1)).
func BackoffSeconds(attempt int) int {
	clamped := attempt
	if clamped < 1 {
		clamped = 1
	}
	if clamped > 8 {
		clamped = 8
	}
	return min(900, 15*(1<<(clamped-1)))
}

// TaskList is the remote task list shape (the fields this client reads).
type TaskList struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// RemoteTask is the remote task shape, including the "parent" field
// that distinguishes subtasks in a flat list response.
type RemoteTask struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Notes    *string `json:"notes,omitempty"`
	Due      *string `json:"due,omitempty"`
	Status   string  `json:"status"`
	Parent   string  `json:"parent,omitempty"`
	Position string  `json:"position,omitempty"`
}

func (t RemoteTask) Metadata() codec.Metadata {
	return codec.DecodeFromRemote(codec.RemotePayload{Title: t.Title, Notes: t.Notes, Due: t.Due, Status: t.Status})
}

type listsPage struct {
	Items         []TaskList `json:"items"`
	NextPageToken string     `json:"nextPageToken"`
}

type tasksPage struct {
	Items         []RemoteTask `json:"items"`
	NextPageToken string       `json:"nextPageToken"`
}

// ListTaskLists fetches every page of the account's task lists.
func (c *Client) ListTaskLists(ctx context.Context, accessToken string) ([]TaskList, error) {
	var out []TaskList
	pageToken := ""
	for {
		q := url.Values{}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page listsPage
		if err := c.do(ctx, http.MethodGet, "/users/@me/lists", q, accessToken, nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

// ListTasks fetches every page of a list's tasks, including hidden,
// completed, and subtask items (spec.md §4.3/§4.6).
func (c *Client) ListTasks(ctx context.Context, accessToken, listID string) ([]RemoteTask, error) {
	var out []RemoteTask
	pageToken := ""
	for {
		q := url.Values{"showHidden": {"true"}, "showCompleted": {"true"}, "maxResults": {"100"}}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page tasksPage
		if err := c.do(ctx, http.MethodGet, "/lists/"+url.PathEscape(listID)+"/tasks", q, accessToken, nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

// CreateTaskList POSTs a new task list and returns the created remote
// list (spec.md §6 create_task_list: an immediate remote create, its
// id becomes the local list id).
func (c *Client) CreateTaskList(ctx context.Context, accessToken, title string) (TaskList, error) {
	var created TaskList
	if err := c.do(ctx, http.MethodPost, "/users/@me/lists", nil, accessToken, map[string]string{"title": title}, &created); err != nil {
		return TaskList{}, err
	}
	if created.ID == "" {
		return TaskList{}, syncerr.New(syncerr.KindInternal, "create task list", "response missing id")
	}
	return created, nil
}

// CreateTask POSTs payload to a list and returns the new remote id.
func (c *Client) CreateTask(ctx context.Context, accessToken, listID string, payload codec.RemotePayload) (string, error) {
	var created RemoteTask
	if err := c.do(ctx, http.MethodPost, "/lists/"+url.PathEscape(listID)+"/tasks", nil, accessToken, payload, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", syncerr.New(syncerr.KindInternal, "create task", "response missing id")
	}
	return created.ID, nil
}

// UpdateTask PATCHes an existing task.
func (c *Client) UpdateTask(ctx context.Context, accessToken, listID, googleID string, payload codec.RemotePayload) error {
	path := "/lists/" + url.PathEscape(listID) + "/tasks/" + url.PathEscape(googleID)
	return c.do(ctx, http.MethodPatch, path, nil, accessToken, payload, nil)
}

// DeleteTask deletes a task; a 404 is treated as success (spec.md §4.3).
func (c *Client) DeleteTask(ctx context.Context, accessToken, listID, googleID string) error {
	path := "/lists/" + url.PathEscape(listID) + "/tasks/" + url.PathEscape(googleID)
	err := c.do(ctx, http.MethodDelete, path, nil, accessToken, nil, nil)
	var se *syncerr.SyncError
	if err != nil && asSyncError(err, &se) && se.IsNotFound() {
		return nil
	}
	return err
}

// CreateSubtask POSTs payload to the list with the parent query
// parameter and returns the new remote id.
func (c *Client) CreateSubtask(ctx context.Context, accessToken, listID, parentGoogleID string, payload codec.RemotePayload) (string, error) {
	q := url.Values{"parent": {parentGoogleID}}
	var created RemoteTask
	if err := c.do(ctx, http.MethodPost, "/lists/"+url.PathEscape(listID)+"/tasks", q, accessToken, payload, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", syncerr.New(syncerr.KindInternal, "create subtask", "response missing id")
	}
	return created.ID, nil
}

// UpdateSubtask PATCHes an existing subtask, which is addressed the
// same way a top-level task is.
func (c *Client) UpdateSubtask(ctx context.Context, accessToken, listID, googleID string, payload codec.RemotePayload) error {
	return c.UpdateTask(ctx, accessToken, listID, googleID, payload)
}

// DeleteSubtask deletes a subtask; 404 is success.
func (c *Client) DeleteSubtask(ctx context.Context, accessToken, listID, googleID string) error {
	return c.DeleteTask(ctx, accessToken, listID, googleID)
}

// do issues one request, decoding the JSON body into out (if non-nil
// and the response has one), and translating non-2xx statuses into
// syncerr.SyncError per spec.md §4.3/§7.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, accessToken string, body, out interface{}) error {
	operation := method + " " + path

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return syncerr.Internal(operation, err)
		}
		reqBody = bytes.NewReader(b)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return syncerr.Internal(operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return syncerr.Network(operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		text, _ := io.ReadAll(resp.Body)
		return syncerr.Unauthorized(operation).WithBody(string(text))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(resp.Body)
		return syncerr.Remote(operation, resp.StatusCode, string(text))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return syncerr.Internal(operation, err)
	}
	return nil
}

func asSyncError(err error, target **syncerr.SyncError) bool {
	se, ok := err.(*syncerr.SyncError)
	if ok {
		*target = se
	}
	return ok
}
