package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"codenerd/internal/logging"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("not found")

// CreateTask inserts a new task row.
func (s *Store) CreateTask(t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	budgetJSON, err := json.Marshal(t.Budget)
	if err != nil {
		return fmt.Errorf("failed to marshal budget: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO tasks (id, hypothesis, status, budget_json, created_at, pages_used, seconds_used, llm_seconds, total_claims)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Hypothesis, string(t.Status), string(budgetJSON), t.CreatedAt,
		t.PagesUsed, t.SecondsUsed, t.LLMSeconds, t.TotalClaims,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	logging.StoreDebug("created task %s", t.ID)
	return nil
}

// GetTask loads a task by id.
func (s *Store) GetTask(id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, hypothesis, status, budget_json, created_at, pages_used, seconds_used, llm_seconds, total_claims
		 FROM tasks WHERE id = ?`, id,
	)
	var t Task
	var status, budgetJSON string
	if err := row.Scan(&t.ID, &t.Hypothesis, &status, &budgetJSON, &t.CreatedAt,
		&t.PagesUsed, &t.SecondsUsed, &t.LLMSeconds, &t.TotalClaims); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("failed to load task: %w", err)
	}
	t.Status = TaskStatus(status)
	if err := json.Unmarshal([]byte(budgetJSON), &t.Budget); err != nil {
		return Task{}, fmt.Errorf("failed to parse task budget: %w", err)
	}
	return t, nil
}

// UpdateTaskStatus transitions a task's status.
func (s *Store) UpdateTaskStatus(id string, status TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE tasks SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return checkRowsAffected(res)
}

// IncrementTaskUsage atomically bumps pages/seconds/llm-seconds counters.
// Counters are monotonically non-decreasing, per the task invariant.
func (s *Store) IncrementTaskUsage(id string, pages int, seconds int, llmSeconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`UPDATE tasks SET pages_used = pages_used + ?, seconds_used = seconds_used + ?, llm_seconds = llm_seconds + ? WHERE id = ?`,
		pages, seconds, llmSeconds, id,
	)
	if err != nil {
		return fmt.Errorf("failed to increment task usage: %w", err)
	}
	return checkRowsAffected(res)
}

// SetTaskClaimCount sets metrics.total_claims for summary/full parity checks.
func (s *Store) SetTaskClaimCount(id string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE tasks SET total_claims = ? WHERE id = ?`, count, id)
	if err != nil {
		return fmt.Errorf("failed to set claim count: %w", err)
	}
	return checkRowsAffected(res)
}

// CountAdoptedClaims counts adopted claims for a task directly from storage,
// used to assert metrics.total_claims parity.
func (s *Store) CountAdoptedClaims(taskID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM claims WHERE task_id = ? AND claim_adoption_status = ?`,
		taskID, string(ClaimAdopted),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count adopted claims: %w", err)
	}
	return n, nil
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
