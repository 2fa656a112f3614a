package store

import "database/sql"

// AcquireLock attempts to take lockKey for OperationLockTTL, first
// reclaiming any expired row. Returns false if the lock is already
// held by someone else (spec.md §4.7 "Entry conditions").
func (s *Store) AcquireLock(lockKey string) (bool, error) {
	var acquired bool
	err := s.withWriteTx(func(tx *sql.Tx) error {
		now := s.clock()
		if _, err := tx.Exec(`DELETE FROM operation_locks WHERE expires_at <= ?`, now.Unix()); err != nil {
			return err
		}
		res, err := tx.Exec(`
			INSERT INTO operation_locks(lock_key, acquired_at, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(lock_key) DO NOTHING`,
			lockKey, now.Unix(), now.Add(OperationLockTTL).Unix())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		acquired = n > 0
		return nil
	})
	if err != nil {
		return false, &Error{Op: "AcquireLock", Err: err}
	}
	return acquired, nil
}

// ReleaseLock drops lockKey.
func (s *Store) ReleaseLock(lockKey string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM operation_locks WHERE lock_key = ?`, lockKey)
		return err
	})
	if err != nil {
		return &Error{Op: "ReleaseLock", Err: err}
	}
	return nil
}
