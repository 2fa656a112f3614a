package store

import "database/sql"

// BeginIdempotent records a pending idempotency entry for key, or
// returns the existing entry if one is already pending/completed/
// failed within its TTL (spec.md §4.7 "Idempotency semantics").
// created is true only when this call created the pending row.
func (s *Store) BeginIdempotent(key, operationType, requestParams string) (entry *IdempotencyEntry, created bool, err error) {
	txErr := s.withWriteTx(func(tx *sql.Tx) error {
		now := s.clock()
		// Garbage-collect expired rows opportunistically, as every use
		// of the ledger does per spec.md §4.7.
		if _, err := tx.Exec(`DELETE FROM idempotency_ledger WHERE expires_at <= ?`, now.Unix()); err != nil {
			return err
		}

		existing, err := scanIdempotency(tx.QueryRow(idempotencySelectSQL+` WHERE idempotency_key = ?`, key))
		if err != nil {
			return err
		}
		if existing != nil {
			entry = existing
			return nil
		}

		expires := now.Add(IdempotencyTTL)
		if _, err := tx.Exec(`
			INSERT INTO idempotency_ledger(idempotency_key, operation_type, request_params, status, created_at, expires_at)
			VALUES (?, ?, ?, 'pending', ?, ?)`, key, operationType, requestParams, now.Unix(), expires.Unix()); err != nil {
			return err
		}
		entry = &IdempotencyEntry{Key: key, OperationType: operationType, RequestParams: requestParams,
			Status: IdemPending, CreatedAt: now, ExpiresAt: expires}
		created = true
		return nil
	})
	if txErr != nil {
		return nil, false, &Error{Op: "BeginIdempotent", Err: txErr}
	}
	return entry, created, nil
}

// CompleteIdempotent marks key completed and caches responseData (for
// example the new remote id from a create step) so a resumed saga
// short-circuits the step.
func (s *Store) CompleteIdempotent(key, responseData string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE idempotency_ledger SET status='completed', response_data=?, completed_at=?
			WHERE idempotency_key = ?`, responseData, s.clock().Unix(), key)
		return err
	})
	if err != nil {
		return &Error{Op: "CompleteIdempotent", Err: err}
	}
	return nil
}

// FailIdempotent marks key failed, allowing a retry to re-attempt it.
func (s *Store) FailIdempotent(key string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE idempotency_ledger SET status='failed' WHERE idempotency_key = ?`, key)
		return err
	})
	if err != nil {
		return &Error{Op: "FailIdempotent", Err: err}
	}
	return nil
}

const idempotencySelectSQL = `
SELECT idempotency_key, operation_type, request_params, status, response_data, created_at, completed_at, expires_at
FROM idempotency_ledger`

func scanIdempotency(row rowScanner) (*IdempotencyEntry, error) {
	var e IdempotencyEntry
	var responseData sql.NullString
	var createdAt, expiresAt int64
	var completedAt sql.NullInt64
	err := row.Scan(&e.Key, &e.OperationType, &e.RequestParams, &e.Status, &responseData, &createdAt, &completedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.ResponseData = fromNullString(responseData)
	e.CreatedAt = unixTime(createdAt)
	e.ExpiresAt = unixTime(expiresAt)
	e.CompletedAt = fromNullTime(completedAt)
	return &e, nil
}
