package store

import "database/sql"

// appendMutationLogLocked appends an immutable mutation-log row within
// an open transaction (spec.md §3 Mutation log entry).
func (s *Store) appendMutationLogLocked(tx *sql.Tx, taskID, operation, payload string, previousHash, newHash *string, actor string) error {
	_, err := tx.Exec(`
		INSERT INTO task_mutation_log(id, task_id, operation, payload, previous_hash, new_hash, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.genID(), taskID, operation, payload, nullString(previousHash), nullString(newHash), actor, s.clock().Unix())
	return err
}

// AppendMutationLog is the exported form of appendMutationLogLocked for
// a caller already holding a write transaction from WithWriteTx.
func (s *Store) AppendMutationLog(tx *sql.Tx, taskID, operation, payload string, actor string) error {
	return s.appendMutationLogLocked(tx, taskID, operation, payload, nil, nil, actor)
}
