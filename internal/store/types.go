package store

import (
	"time"

	"gtasksync/internal/codec"
)

// Sync states a task or subtask can be in (spec.md §3 Lifecycles).
const (
	SyncPending        = "pending"
	SyncProcessing      = "processing"
	SyncSynced           = "synced"
	SyncPendingDelete     = "pending_delete"
	SyncPendingMove        = "pending_move"
	SyncError               = "error"
	SyncPendingParent         = "pending_parent"
)

// Queue operation kinds (spec.md §3 Sync queue entry).
const (
	OpCreate         = "create"
	OpUpdate         = "update"
	OpDelete         = "delete"
	OpMove           = "move"
	OpSubtaskCreate  = "subtask_create"
	OpSubtaskUpdate  = "subtask_update"
	OpSubtaskDelete  = "subtask_delete"
)

// Queue entry statuses.
const (
	QueuePending    = "pending"
	QueueProcessing = "processing"
)

// Mutation log actors.
const (
	ActorUser   = "user"
	ActorSystem = "system"
)

// Task is the local record for a top-level task.
type Task struct {
	ID                    string
	GoogleID              *string
	ListID                string
	Title                 string
	Notes                 *string
	DueDate               *string
	Priority              string
	Labels                []codec.Label
	Status                string
	TimeBlock             *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	MetadataHash          string
	DirtyFields           []string
	SyncState             string
	SyncAttempts          int
	LastSyncedAt          *time.Time
	LastRemoteHash        *string
	SyncError             *string
	HasConflict           bool
	DeletedAt             *time.Time
	PendingMoveFrom       *string
	PendingDeleteGoogleID *string
}

// Metadata projects the codec-relevant fields out of a Task.
func (t Task) Metadata() codec.Metadata {
	return codec.Metadata{
		Title:     t.Title,
		Notes:     t.Notes,
		DueDate:   t.DueDate,
		Priority:  t.Priority,
		Labels:    t.Labels,
		Status:    t.Status,
		TimeBlock: t.TimeBlock,
	}
}

// Subtask is the local record for a subtask of a Task.
type Subtask struct {
	ID             string
	TaskID         string
	GoogleID       *string
	ParentGoogleID *string
	Title          string
	Completed      bool
	Position       string
	DueDate        *string
	MetadataHash   string
	DirtyFields    []string
	SyncState      string
	SyncError      *string
	LastSyncedAt   *time.Time
}

func (s Subtask) Metadata() codec.SubtaskMetadata {
	return codec.SubtaskMetadata{
		Title:     s.Title,
		Completed: s.Completed,
		Position:  s.Position,
		DueDate:   s.DueDate,
	}
}

// TaskList is a local task list.
type TaskList struct {
	ID        string
	GoogleID  *string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MutationLogEntry is an append-only record of a user/system mutation.
type MutationLogEntry struct {
	ID           string
	TaskID       string
	Operation    string
	Payload      string
	PreviousHash *string
	NewHash      *string
	Actor        string
	CreatedAt    time.Time
}

// SubtaskQueuePayload is the payload shape enqueued for subtask_create/
// subtask_update/subtask_delete operations. The queue entry's task_id
// column holds the parent task's id (so the worker can find the
// parent without a join), so the payload carries the subtask's own id
// alongside its metadata (spec.md §4.2, supplemented feature C.2).
type SubtaskQueuePayload struct {
	SubtaskID string `json:"subtask_id"`
	codec.SubtaskMetadata
}

// QueueEntry is a pending or in-flight sync queue row.
type QueueEntry struct {
	ID          string
	TaskID      string
	Operation   string
	Payload     string
	Status      string
	Attempts    int
	ScheduledAt time.Time
	LastError   *string
	CreatedAt   time.Time
}

// SagaRecord is the persisted saga_log row.
type SagaRecord struct {
	ID          string
	SagaType    string
	State       string
	TaskID      string
	FromListID  string
	ToListID    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	Error       *string
}

// IdempotencyEntry is a row in the idempotency_ledger.
type IdempotencyEntry struct {
	Key           string
	OperationType string
	RequestParams string
	Status        string
	ResponseData  *string
	CreatedAt     time.Time
	CompletedAt   *time.Time
	ExpiresAt     time.Time
}

// Idempotency ledger statuses.
const (
	IdemPending   = "pending"
	IdemCompleted = "completed"
	IdemFailed    = "failed"
)

// IdempotencyTTL is the default lifetime of a ledger entry.
const IdempotencyTTL = 24 * time.Hour

// OperationLockTTL is how long an operation lock is honored before it
// is reclaimable (spec.md §5).
const OperationLockTTL = 300 * time.Second
