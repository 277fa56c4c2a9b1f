package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"codenerd/internal/logging"
)

// CreateSearch inserts a new search row under a task.
func (s *Store) CreateSearch(srch Search) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metricsJSON, err := json.Marshal(srch.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal search metrics: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO searches (id, task_id, query, status, metrics_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		srch.ID, srch.TaskID, srch.QueryText, string(srch.Status), string(metricsJSON), srch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create search: %w", err)
	}
	logging.StoreDebug("created search %s for task %s", srch.ID, srch.TaskID)
	return nil
}

// GetSearch loads a search by id.
func (s *Store) GetSearch(id string) (Search, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanSearch(s.db.QueryRow(
		`SELECT id, task_id, query, status, metrics_json, created_at FROM searches WHERE id = ?`, id,
	))
}

// ListSearches returns every search belonging to a task.
func (s *Store) ListSearches(taskID string) ([]Search, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, task_id, query, status, metrics_json, created_at FROM searches WHERE task_id = ? ORDER BY created_at ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list searches: %w", err)
	}
	defer rows.Close()

	var out []Search
	for rows.Next() {
		srch, err := s.scanSearchRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, srch)
	}
	return out, nil
}

func (s *Store) scanSearch(row *sql.Row) (Search, error) {
	var srch Search
	var status, metricsJSON string
	if err := row.Scan(&srch.ID, &srch.TaskID, &srch.QueryText, &status, &metricsJSON, &srch.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Search{}, ErrNotFound
		}
		return Search{}, fmt.Errorf("failed to load search: %w", err)
	}
	srch.Status = SearchStatus(status)
	if err := json.Unmarshal([]byte(metricsJSON), &srch.Metrics); err != nil {
		return Search{}, fmt.Errorf("failed to parse search metrics: %w", err)
	}
	return srch, nil
}

func (s *Store) scanSearchRows(rows *sql.Rows) (Search, error) {
	var srch Search
	var status, metricsJSON string
	if err := rows.Scan(&srch.ID, &srch.TaskID, &srch.QueryText, &status, &metricsJSON, &srch.CreatedAt); err != nil {
		return Search{}, err
	}
	srch.Status = SearchStatus(status)
	if err := json.Unmarshal([]byte(metricsJSON), &srch.Metrics); err != nil {
		return Search{}, fmt.Errorf("failed to parse search metrics: %w", err)
	}
	return srch, nil
}

// UpdateSearchStatus sets a search's status.
func (s *Store) UpdateSearchStatus(id string, status SearchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE searches SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update search status: %w", err)
	}
	return checkRowsAffected(res)
}

// UpdateSearchMetrics persists the latest per-search metrics snapshot.
func (s *Store) UpdateSearchMetrics(id string, metrics SearchMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal search metrics: %w", err)
	}
	res, err := s.db.Exec(`UPDATE searches SET metrics_json = ? WHERE id = ?`, string(data), id)
	if err != nil {
		return fmt.Errorf("failed to update search metrics: %w", err)
	}
	return checkRowsAffected(res)
}
