package store

import (
	"fmt"
	"time"
)

// RecordLLMExtractionError logs a passage the inference gateway's strict and
// permissive JSON parsers both failed to recover, for offline review of
// prompt/schema drift.
func (s *Store) RecordLLMExtractionError(taskID, passageExcerpt, detail string, createdAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO llm_extraction_errors (task_id, passage_excerpt, error_detail, created_at) VALUES (?, ?, ?, ?)`,
		nullableString(taskID), passageExcerpt, detail, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record llm extraction error: %w", err)
	}
	return nil
}

// CountLLMExtractionErrors reports how many extraction failures have been
// recorded for a task. The inference gateway records its failures with no
// task id, so those are not counted for any task.
func (s *Store) CountLLMExtractionErrors(taskID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM llm_extraction_errors WHERE task_id = ?`, taskID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count llm extraction errors: %w", err)
	}
	return n, nil
}
