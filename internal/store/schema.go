package store

// SchemaVersion tracks the applied schema generation.
const SchemaVersion = 1

const tasksTableSQL = `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    google_id TEXT,
    list_id TEXT NOT NULL,
    title TEXT NOT NULL,
    notes TEXT,
    due_date TEXT,
    priority TEXT NOT NULL DEFAULT 'none',
    labels TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'needsAction',
    time_block TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    metadata_hash TEXT NOT NULL,
    dirty_fields TEXT NOT NULL DEFAULT '[]',
    sync_state TEXT NOT NULL DEFAULT 'pending',
    sync_attempts INTEGER NOT NULL DEFAULT 0,
    last_synced_at INTEGER,
    last_remote_hash TEXT,
    sync_error TEXT,
    has_conflict INTEGER NOT NULL DEFAULT 0,
    deleted_at INTEGER,
    pending_move_from TEXT,
    pending_delete_google_id TEXT
);
`

const subtasksTableSQL = `
CREATE TABLE IF NOT EXISTS subtasks (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    google_id TEXT,
    parent_google_id TEXT,
    title TEXT NOT NULL,
    completed INTEGER NOT NULL DEFAULT 0,
    position TEXT NOT NULL DEFAULT '00000000',
    due_date TEXT,
    metadata_hash TEXT NOT NULL,
    dirty_fields TEXT NOT NULL DEFAULT '[]',
    sync_state TEXT NOT NULL DEFAULT 'pending',
    sync_error TEXT,
    last_synced_at INTEGER,

    FOREIGN KEY(task_id) REFERENCES tasks(id) ON DELETE CASCADE
);
`

const taskListsTableSQL = `
CREATE TABLE IF NOT EXISTS task_lists (
    id TEXT PRIMARY KEY,
    google_id TEXT,
    title TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
`

const mutationLogTableSQL = `
CREATE TABLE IF NOT EXISTS task_mutation_log (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    operation TEXT NOT NULL CHECK(operation IN ('create','update','delete')),
    payload TEXT NOT NULL DEFAULT '',
    previous_hash TEXT,
    new_hash TEXT,
    actor TEXT NOT NULL DEFAULT 'user',
    created_at INTEGER NOT NULL
);
`

const syncQueueTableSQL = `
CREATE TABLE IF NOT EXISTS sync_queue (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    operation TEXT NOT NULL CHECK(operation IN
        ('create','update','delete','move','subtask_create','subtask_update','subtask_delete')),
    payload TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','processing')),
    attempts INTEGER NOT NULL DEFAULT 0,
    scheduled_at INTEGER NOT NULL,
    last_error TEXT,
    created_at INTEGER NOT NULL
);
`

// sync_queue_one_active_per_task resolves spec.md §9 Open Question (a):
// a DB-level partial unique index enforces at most one non-collapsed
// whole-task operation in flight, rather than relying solely on writer
// discipline.
const syncQueueUniqueActiveIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS sync_queue_one_active_per_task
    ON sync_queue(task_id)
    WHERE operation IN ('create','update','delete','move');
`

const sagaLogTableSQL = `
CREATE TABLE IF NOT EXISTS saga_log (
    id TEXT PRIMARY KEY,
    saga_type TEXT NOT NULL DEFAULT 'task_move',
    state TEXT NOT NULL,
    task_id TEXT NOT NULL,
    from_list_id TEXT NOT NULL,
    to_list_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    completed_at INTEGER,
    error TEXT
);
`

const sagaBackupsTableSQL = `
CREATE TABLE IF NOT EXISTS saga_backups (
    saga_id TEXT PRIMARY KEY,
    task_json TEXT NOT NULL,
    subtasks_json TEXT NOT NULL,
    created_at INTEGER NOT NULL,

    FOREIGN KEY(saga_id) REFERENCES saga_log(id) ON DELETE CASCADE
);
`

const sagaSubtaskProgressTableSQL = `
CREATE TABLE IF NOT EXISTS saga_subtask_progress (
    saga_id TEXT NOT NULL,
    old_subtask_id TEXT NOT NULL,
    new_google_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,

    PRIMARY KEY(saga_id, old_subtask_id),
    FOREIGN KEY(saga_id) REFERENCES saga_log(id) ON DELETE CASCADE
);
`

const idempotencyLedgerTableSQL = `
CREATE TABLE IF NOT EXISTS idempotency_ledger (
    idempotency_key TEXT PRIMARY KEY,
    operation_type TEXT NOT NULL,
    request_params TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','completed','failed')),
    response_data TEXT,
    created_at INTEGER NOT NULL,
    completed_at INTEGER,
    expires_at INTEGER NOT NULL
);
`

const operationLocksTableSQL = `
CREATE TABLE IF NOT EXISTS operation_locks (
    lock_key TEXT PRIMARY KEY,
    acquired_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);
`

const listSyncMetadataTableSQL = `
CREATE TABLE IF NOT EXISTS list_sync_metadata (
    list_id TEXT PRIMARY KEY,
    last_full_sync INTEGER
);
`

const schemaVersionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`

const tasksIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_tasks_list_id ON tasks(list_id);
CREATE INDEX IF NOT EXISTS idx_tasks_google_id ON tasks(google_id);
CREATE INDEX IF NOT EXISTS idx_tasks_sync_state ON tasks(sync_state);
CREATE INDEX IF NOT EXISTS idx_tasks_list_hash ON tasks(list_id, metadata_hash);
`

const subtasksIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_subtasks_task_id ON subtasks(task_id);
CREATE INDEX IF NOT EXISTS idx_subtasks_google_id ON subtasks(google_id);
CREATE INDEX IF NOT EXISTS idx_subtasks_parent_google_id ON subtasks(parent_google_id);
`

const syncQueueIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_sync_queue_task_id ON sync_queue(task_id);
CREATE INDEX IF NOT EXISTS idx_sync_queue_scheduled_at ON sync_queue(status, scheduled_at);
`

const mutationLogIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_mutation_log_task_id ON task_mutation_log(task_id);
`

// AllTableSchemas returns every CREATE TABLE statement in dependency
// order (referenced tables before referencing ones).
func AllTableSchemas() []string {
	return []string{
		schemaVersionTableSQL,
		taskListsTableSQL,
		tasksTableSQL,
		subtasksTableSQL,
		mutationLogTableSQL,
		syncQueueTableSQL,
		sagaLogTableSQL,
		sagaBackupsTableSQL,
		sagaSubtaskProgressTableSQL,
		idempotencyLedgerTableSQL,
		operationLocksTableSQL,
		listSyncMetadataTableSQL,
	}
}

// AllIndexes returns every CREATE INDEX statement, including the
// partial-unique index enforcing the single-in-flight-op invariant.
func AllIndexes() []string {
	return []string{
		tasksIndexesSQL,
		subtasksIndexesSQL,
		syncQueueIndexesSQL,
		syncQueueUniqueActiveIndexSQL,
		mutationLogIndexesSQL,
	}
}

// PragmaStatements returns the pragmas applied to every connection.
func PragmaStatements() []string {
	return []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
}
