package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateJob persists a job record. The scheduler keeps its queue in memory
// and does not write job records here.
func (s *Store) CreateJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO jobs (id, kind, slot, priority, state, cause_id, created_at, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL, NULL)`,
		j.ID, j.Kind, j.Slot, j.Priority, string(j.State), nullableString(j.CauseID), j.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// StartJob marks a job running and stamps its start time.
func (s *Store) StartJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE jobs SET state = ?, started_at = ? WHERE id = ?`, string(JobRunning), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	return checkRowsAffected(res)
}

// FinishJob marks a job completed or failed and stamps its finish time.
func (s *Store) FinishJob(id string, state JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE jobs SET state = ?, finished_at = ? WHERE id = ?`, string(state), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return checkRowsAffected(res)
}

// GetJob loads a job by id.
func (s *Store) GetJob(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanJob(s.db.QueryRow(jobSelect+` WHERE id = ?`, id))
}

// ListJobsByState returns every job currently in a given state, highest
// priority first. Nothing reads it on startup to resume work.
func (s *Store) ListJobsByState(state JobState) ([]Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(jobSelect+` WHERE state = ? ORDER BY priority DESC, created_at ASC`, string(state))
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

const jobSelect = `SELECT id, kind, slot, priority, state, cause_id, created_at, started_at, finished_at FROM jobs`

func scanJob(row *sql.Row) (Job, error) {
	var j Job
	var state string
	var causeID sql.NullString
	var started, finished sql.NullTime
	if err := row.Scan(&j.ID, &j.Kind, &j.Slot, &j.Priority, &state, &causeID, &j.CreatedAt, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("failed to load job: %w", err)
	}
	j.State = JobState(state)
	j.CauseID = causeID.String
	if started.Valid {
		j.StartedAt = started.Time
	}
	if finished.Valid {
		j.FinishedAt = finished.Time
	}
	return j, nil
}

func scanJobRow(rows *sql.Rows) (Job, error) {
	var j Job
	var state string
	var causeID sql.NullString
	var started, finished sql.NullTime
	if err := rows.Scan(&j.ID, &j.Kind, &j.Slot, &j.Priority, &state, &causeID, &j.CreatedAt, &started, &finished); err != nil {
		return Job{}, err
	}
	j.State = JobState(state)
	j.CauseID = causeID.String
	if started.Valid {
		j.StartedAt = started.Time
	}
	if finished.Valid {
		j.FinishedAt = finished.Time
	}
	return j, nil
}
