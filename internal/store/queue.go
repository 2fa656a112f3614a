package store

import (
	"database/sql"
	"time"
)

// enqueueLocked inserts a fresh sync_queue row. Callers already hold
// the write mutex via withWriteTx.
func (s *Store) enqueueLocked(tx *sql.Tx, taskID, operation, payload string, scheduledAt time.Time) error {
	_, err := tx.Exec(`
		INSERT INTO sync_queue(id, task_id, operation, payload, status, attempts, scheduled_at, created_at)
		VALUES (?, ?, ?, ?, 'pending', 0, ?, ?)`,
		s.genID(), taskID, operation, payload, scheduledAt.Unix(), s.clock().Unix())
	return err
}

// collapseAndEnqueueLocked deletes any existing non-collapsed
// whole-task operation for taskID (create/update/delete/move) and
// inserts a fresh one, implementing the "at most one pending
// whole-task op" writer discipline of spec.md §4.2/§5. Subtask ops are
// per-subtask and are never collapsed by this helper.
func (s *Store) collapseAndEnqueueLocked(tx *sql.Tx, taskID, operation, payload string) error {
	_, err := tx.Exec(`
		DELETE FROM sync_queue
		WHERE task_id = ? AND operation IN ('create','update','delete','move')`, taskID)
	if err != nil {
		return err
	}
	return s.enqueueLocked(tx, taskID, operation, payload, s.clock())
}

func (s *Store) purgeQueueForTaskLocked(tx *sql.Tx, taskID string) error {
	_, err := tx.Exec(`DELETE FROM sync_queue WHERE task_id = ?`, taskID)
	return err
}

// ClaimBatch atomically claims up to limit pending entries whose
// scheduled_at has elapsed, ordered by scheduled_at ascending, via a
// conditional status transition so concurrent drains never claim the
// same row twice (spec.md §4.5 step 1).
func (s *Store) ClaimBatch(limit int) ([]QueueEntry, error) {
	var claimed []QueueEntry
	err := s.withWriteTx(func(tx *sql.Tx) error {
		now := s.clock().Unix()
		rows, err := tx.Query(`
			SELECT id, task_id, operation, payload, attempts, scheduled_at, created_at
			FROM sync_queue
			WHERE status = 'pending' AND scheduled_at <= ?
			ORDER BY scheduled_at ASC, created_at ASC
			LIMIT ?`, now, limit)
		if err != nil {
			return err
		}
		type candidate struct {
			id          string
			taskID      string
			operation   string
			payload     string
			attempts    int
			scheduledAt int64
			createdAt   int64
		}
		var candidates []candidate
		for rows.Next() {
			var c candidate
			if err := rows.Scan(&c.id, &c.taskID, &c.operation, &c.payload, &c.attempts, &c.scheduledAt, &c.createdAt); err != nil {
				rows.Close()
				return err
			}
			candidates = append(candidates, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, c := range candidates {
			res, err := tx.Exec(`
				UPDATE sync_queue
				SET status = 'processing', attempts = attempts + 1, last_error = NULL
				WHERE id = ? AND status = 'pending'`, c.id)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				continue // another worker claimed it first
			}
			claimed = append(claimed, QueueEntry{
				ID:          c.id,
				TaskID:      c.taskID,
				Operation:   c.operation,
				Payload:     c.payload,
				Status:      QueueProcessing,
				Attempts:    c.attempts + 1,
				ScheduledAt: time.Unix(c.scheduledAt, 0).UTC(),
				CreatedAt:   time.Unix(c.createdAt, 0).UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, &Error{Op: "ClaimBatch", Err: err}
	}
	return claimed, nil
}

// RevertClaim restores a claimed entry to pending with its
// pre-claim attempt count, used on a 401 so the whole drain can retry
// after a token refresh (spec.md §4.5 step on-401).
func (s *Store) RevertClaim(entryID string, previousAttempts int, lastErr string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE sync_queue
			SET status = 'pending', attempts = ?, last_error = ?
			WHERE id = ?`, previousAttempts, lastErr, entryID)
		return err
	})
	if err != nil {
		return &Error{Op: "RevertClaim", Err: err}
	}
	return nil
}

// DeleteEntry removes a queue entry, used on successful finalize.
func (s *Store) DeleteEntry(tx *sql.Tx, entryID string) error {
	_, err := tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, entryID)
	return err
}

// RescheduleWithBackoff leaves an entry pending with a future
// scheduled_at and records the failure on both the queue entry and
// the task (spec.md §4.5 step on-other-failure).
func (s *Store) RescheduleWithBackoff(entryID, taskID string, attempts int, delay time.Duration, lastErr string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		next := s.clock().Add(delay).Unix()
		if _, err := tx.Exec(`
			UPDATE sync_queue
			SET status = 'pending', scheduled_at = ?, last_error = ?
			WHERE id = ?`, next, lastErr, entryID); err != nil {
			return err
		}
		_, err := tx.Exec(`
			UPDATE tasks
			SET sync_state = 'error', sync_error = ?, sync_attempts = ?, updated_at = ?
			WHERE id = ?`, lastErr, attempts, s.clock().Unix(), taskID)
		return err
	})
	if err != nil {
		return &Error{Op: "RescheduleWithBackoff", Err: err}
	}
	return nil
}

// WithWriteTx exposes the write-mutex transaction helper to other
// components (C5/C7) that must finalize a remote effect and a local
// row change atomically.
func (s *Store) WithWriteTx(fn func(*sql.Tx) error) error {
	if err := s.withWriteTx(fn); err != nil {
		return &Error{Op: "WithWriteTx", Err: err}
	}
	return nil
}

// Enqueue inserts a queue entry for a caller already holding a
// transaction from WithWriteTx.
func (s *Store) Enqueue(tx *sql.Tx, taskID, operation, payload string) error {
	return s.enqueueLocked(tx, taskID, operation, payload, s.clock())
}

// PurgeQueueForTask deletes all queue entries for a task within a
// caller-supplied transaction.
func (s *Store) PurgeQueueForTask(tx *sql.Tx, taskID string) error {
	return s.purgeQueueForTaskLocked(tx, taskID)
}

// DeleteQueueEntry removes a single queue entry with no other store
// change, used when the task or subtask a claimed entry refers to no
// longer exists (spec.md §4.5 "missing/tombstoned" branches).
func (s *Store) DeleteQueueEntry(entryID string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		return s.DeleteEntry(tx, entryID)
	})
	if err != nil {
		return &Error{Op: "DeleteQueueEntry", Err: err}
	}
	return nil
}
