package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"codenerd/internal/logging"
)

// CreateAuthQueueItem inserts a new blocked-fetch record awaiting intervention.
func (s *Store) CreateAuthQueueItem(item AuthQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	searchIDsJSON, err := json.Marshal(item.SearchIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal search ids: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO intervention_queue (id, task_id, domain, url, auth_type, priority, status, queued_at, search_ids_json, session_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.TaskID, item.Domain, item.URL, string(item.AuthType), item.Priority,
		string(item.Status), item.QueuedAt, string(searchIDsJSON), nullableString(item.SessionJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to create auth queue item: %w", err)
	}
	logging.AuthQueueDebug("queued intervention %s for domain %s", item.ID, item.Domain)
	return nil
}

// GetAuthQueueItem loads an intervention item by id.
func (s *Store) GetAuthQueueItem(id string) (AuthQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanAuthQueueItem(s.db.QueryRow(authQueueSelect+` WHERE id = ?`, id))
}

// ListPendingAuthQueueByDomain returns every pending intervention item queued
// against a domain, so resolving one auth challenge can fan out to every
// blocked search on that host.
func (s *Store) ListPendingAuthQueueByDomain(domain string) ([]AuthQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		authQueueSelect+` WHERE domain = ? AND status = ? ORDER BY priority DESC, queued_at ASC`,
		domain, string(AuthItemPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending auth items: %w", err)
	}
	defer rows.Close()
	return scanAuthQueueRows(rows)
}

// ListAuthQueueByTask returns every intervention item queued for a task.
func (s *Store) ListAuthQueueByTask(taskID string) ([]AuthQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(authQueueSelect+` WHERE task_id = ? ORDER BY queued_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task auth items: %w", err)
	}
	defer rows.Close()
	return scanAuthQueueRows(rows)
}

// ListAllPendingAuthQueue returns every pending intervention item across all tasks.
func (s *Store) ListAllPendingAuthQueue() ([]AuthQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(authQueueSelect+` WHERE status = ? ORDER BY priority DESC, queued_at ASC`, string(AuthItemPending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending auth items: %w", err)
	}
	defer rows.Close()
	return scanAuthQueueRows(rows)
}

// UpdateAuthQueueStatus transitions an intervention item's status.
func (s *Store) UpdateAuthQueueStatus(id string, status AuthQueueItemStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE intervention_queue SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update auth queue status: %w", err)
	}
	return checkRowsAffected(res)
}

// SetAuthQueueSession persists the captured session artifact once a human
// resolves a challenge, so future fetches on the domain can reuse it.
func (s *Store) SetAuthQueueSession(id string, sessionJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE intervention_queue SET session_json = ? WHERE id = ?`, sessionJSON, id)
	if err != nil {
		return fmt.Errorf("failed to set auth queue session: %w", err)
	}
	return checkRowsAffected(res)
}

// AppendAuthQueueSearchID adds a search id to an item's fan-out list, used
// when a second search hits the same blocked domain while the first is
// still pending.
func (s *Store) AppendAuthQueueSearchID(id, searchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw string
	if err := s.db.QueryRow(`SELECT search_ids_json FROM intervention_queue WHERE id = ?`, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load search ids: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return fmt.Errorf("failed to parse search ids: %w", err)
	}
	ids = append(ids, searchID)
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal search ids: %w", err)
	}
	_, err = s.db.Exec(`UPDATE intervention_queue SET search_ids_json = ? WHERE id = ?`, string(data), id)
	if err != nil {
		return fmt.Errorf("failed to update search ids: %w", err)
	}
	return nil
}

const authQueueSelect = `SELECT id, task_id, domain, url, auth_type, priority, status, queued_at, search_ids_json, session_json FROM intervention_queue`

func scanAuthQueueItem(row *sql.Row) (AuthQueueItem, error) {
	var item AuthQueueItem
	var authType, status, searchIDsJSON string
	var session sql.NullString
	if err := row.Scan(&item.ID, &item.TaskID, &item.Domain, &item.URL, &authType, &item.Priority,
		&status, &item.QueuedAt, &searchIDsJSON, &session); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AuthQueueItem{}, ErrNotFound
		}
		return AuthQueueItem{}, fmt.Errorf("failed to load auth queue item: %w", err)
	}
	item.AuthType = AuthType(authType)
	item.Status = AuthQueueItemStatus(status)
	item.SessionJSON = session.String
	if err := json.Unmarshal([]byte(searchIDsJSON), &item.SearchIDs); err != nil {
		return AuthQueueItem{}, fmt.Errorf("failed to parse search ids: %w", err)
	}
	return item, nil
}

func scanAuthQueueRows(rows *sql.Rows) ([]AuthQueueItem, error) {
	var out []AuthQueueItem
	for rows.Next() {
		var item AuthQueueItem
		var authType, status, searchIDsJSON string
		var session sql.NullString
		if err := rows.Scan(&item.ID, &item.TaskID, &item.Domain, &item.URL, &authType, &item.Priority,
			&status, &item.QueuedAt, &searchIDsJSON, &session); err != nil {
			return nil, err
		}
		item.AuthType = AuthType(authType)
		item.Status = AuthQueueItemStatus(status)
		item.SessionJSON = session.String
		if err := json.Unmarshal([]byte(searchIDsJSON), &item.SearchIDs); err != nil {
			return nil, fmt.Errorf("failed to parse search ids: %w", err)
		}
		out = append(out, item)
	}
	return out, nil
}
