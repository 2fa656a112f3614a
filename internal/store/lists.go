package store

import "database/sql"

// UpsertTaskListByGoogleID inserts or updates a list keyed by remote
// id (reconciler list reconciliation, spec.md §4.6).
func (s *Store) UpsertTaskListByGoogleID(googleID, title string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		now := s.clock().Unix()
		res, err := tx.Exec(`UPDATE task_lists SET title = ?, updated_at = ? WHERE google_id = ?`, title, now, googleID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err = tx.Exec(`
			INSERT INTO task_lists(id, google_id, title, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`, "google-"+googleID, googleID, title, now, now)
		return err
	})
	if err != nil {
		return &Error{Op: "UpsertTaskListByGoogleID", Err: err}
	}
	return nil
}

// CreateTaskList inserts a local-only list row, used after an
// immediate remote list create (Command API create_task_list).
func (s *Store) CreateTaskList(id, googleID, title string) (*TaskList, error) {
	now := s.clock()
	list := TaskList{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}
	if googleID != "" {
		list.GoogleID = &googleID
	}
	err := s.withWriteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO task_lists(id, google_id, title, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`, list.ID, nullString(list.GoogleID), list.Title, now.Unix(), now.Unix())
		return err
	})
	if err != nil {
		return nil, &Error{Op: "CreateTaskList", ListID: id, Err: err}
	}
	return &list, nil
}

// DeleteTaskList removes a local list row. Callers are responsible for
// enforcing the "refuse to delete a non-empty list without
// reassignment" rule (spec.md §6) before calling this.
func (s *Store) DeleteTaskList(id string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM task_lists WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return &Error{Op: "DeleteTaskList", ListID: id, Err: err}
	}
	return nil
}

// CountTasksInList reports how many non-deleted tasks a list holds, for
// delete_task_list's empty-list check (spec.md §6).
func (s *Store) CountTasksInList(listID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM tasks WHERE list_id = ? AND deleted_at IS NULL`, listID).Scan(&n)
	if err != nil {
		return 0, &Error{Op: "CountTasksInList", ListID: listID, Err: err}
	}
	return n, nil
}

// ReassignListTasks moves every task in fromListID to toListID ahead of
// a list delete and sets each moved row's sync_state to pending; a row
// already pending delete keeps its state (spec.md §6 delete_task_list
// with reassign_to). It enqueues no queue entry and leaves dirty_fields
// unchanged, so the queue worker does not push the new list membership
// to the remote.
func (s *Store) ReassignListTasks(fromListID, toListID string) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		now := s.clock().Unix()
		_, err := tx.Exec(`
			UPDATE tasks SET list_id = ?, updated_at = ?,
				sync_state = CASE WHEN sync_state = 'pending_delete' THEN sync_state ELSE 'pending' END
			WHERE list_id = ?`, toListID, now, fromListID)
		return err
	})
	if err != nil {
		return &Error{Op: "ReassignListTasks", ListID: fromListID, Err: err}
	}
	return nil
}

// PruneListsNotIn deletes every local list that has a remote id but
// isn't present in the freshly fetched set (spec.md §4.6 list
// pruning); lists pending first creation (no google_id) are retained.
func (s *Store) PruneListsNotIn(googleIDs map[string]bool) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT id, google_id FROM task_lists WHERE google_id IS NOT NULL`)
		if err != nil {
			return err
		}
		var stale []string
		for rows.Next() {
			var id, gid string
			if err := rows.Scan(&id, &gid); err != nil {
				rows.Close()
				return err
			}
			if !googleIDs[gid] {
				stale = append(stale, id)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range stale {
			if _, err := tx.Exec(`DELETE FROM task_lists WHERE id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &Error{Op: "PruneListsNotIn", Err: err}
	}
	return nil
}

// ListTaskLists returns every local task list.
func (s *Store) ListTaskLists() ([]TaskList, error) {
	rows, err := s.db.Query(`SELECT id, google_id, title, created_at, updated_at FROM task_lists ORDER BY title ASC`)
	if err != nil {
		return nil, &Error{Op: "ListTaskLists", Err: err}
	}
	defer rows.Close()

	var out []TaskList
	for rows.Next() {
		var l TaskList
		var gid sql.NullString
		var createdAt, updatedAt int64
		if err := rows.Scan(&l.ID, &gid, &l.Title, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		l.GoogleID = fromNullString(gid)
		l.CreatedAt = unixTime(createdAt)
		l.UpdatedAt = unixTime(updatedAt)
		out = append(out, l)
	}
	return out, rows.Err()
}
