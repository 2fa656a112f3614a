// Package syncerr defines the error-kind taxonomy every component
// reports through, so callers distinguish failure modes without
// parsing message text.
package syncerr

import "fmt"

// Kind is one of the error kinds callers switch on.
type Kind int

const (
	// KindNotConnected means no stored credentials/refresh token.
	KindNotConnected Kind = iota
	// KindUnauthorized means the remote returned 401; the caller may
	// refresh the token and retry once.
	KindUnauthorized
	// KindRemoteError is a non-2xx remote response.
	KindRemoteError
	// KindNetwork is a transport failure, retried like KindRemoteError.
	KindNetwork
	// KindConflict is reserved for manual resolution; see has_conflict
	// in internal/store. No reconciliation path sets it today.
	KindConflict
	// KindValidation is malformed input, surfaced without journaling.
	KindValidation
	// KindInternal is a storage, serialization, or invariant violation.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotConnected:
		return "NotConnected"
	case KindUnauthorized:
		return "Unauthorized"
	case KindRemoteError:
		return "RemoteError"
	case KindNetwork:
		return "Network"
	case KindConflict:
		return "Conflict"
	case KindValidation:
		return "Validation"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// SyncError is the structured error every layer of the core returns.
type SyncError struct {
	Kind       Kind
	Operation  string
	StatusCode int
	Message    string
	TaskID     string
	ListID     string
	Body       string
	Err        error
}

func (e *SyncError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s failed with status %d: %s", e.Kind, e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s failed: %s", e.Kind, e.Operation, e.Message)
}

func (e *SyncError) Unwrap() error { return e.Err }

func (e *SyncError) IsUnauthorized() bool { return e.Kind == KindUnauthorized }
func (e *SyncError) IsNotFound() bool     { return e.StatusCode == 404 }
func (e *SyncError) IsRetryable() bool {
	return e.Kind == KindRemoteError || e.Kind == KindNetwork
}

func New(kind Kind, operation, message string) *SyncError {
	return &SyncError{Kind: kind, Operation: operation, Message: message}
}

func (e *SyncError) WithTaskID(id string) *SyncError  { e.TaskID = id; return e }
func (e *SyncError) WithListID(id string) *SyncError  { e.ListID = id; return e }
func (e *SyncError) WithStatus(code int) *SyncError   { e.StatusCode = code; return e }
func (e *SyncError) WithBody(body string) *SyncError  { e.Body = body; return e }
func (e *SyncError) WithError(err error) *SyncError   { e.Err = err; return e }

// NotConnected builds a KindNotConnected error.
func NotConnected(operation string) *SyncError {
	return New(KindNotConnected, operation, "no stored Google credentials")
}

// Unauthorized builds a KindUnauthorized error.
func Unauthorized(operation string) *SyncError {
	return New(KindUnauthorized, operation, "remote rejected the access token").WithStatus(401)
}

// Remote builds a KindRemoteError error from a status code and body.
func Remote(operation string, status int, body string) *SyncError {
	return New(KindRemoteError, operation, fmt.Sprintf("unexpected response (%d)", status)).WithStatus(status).WithBody(body)
}

// Network wraps a transport-level error.
func Network(operation string, err error) *SyncError {
	return New(KindNetwork, operation, err.Error()).WithError(err)
}

// Validation builds a KindValidation error with a user-facing reason.
func Validation(field, reason string) *SyncError {
	return New(KindValidation, "validate", fmt.Sprintf("%s: %s", field, reason))
}

// Internal wraps an unexpected internal failure.
func Internal(operation string, err error) *SyncError {
	return New(KindInternal, operation, err.Error()).WithError(err)
}
