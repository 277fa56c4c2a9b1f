package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// AddCalibrationSample records one (predicted, observed) pair used to refit
// a source's Platt-scaling calibrator.
func (s *Store) AddCalibrationSample(sample CalibrationSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO calibration_samples (source, predicted, actual, context, created_at) VALUES (?, ?, ?, ?, ?)`,
		sample.Source, sample.Predicted, sample.Actual, nullableString(sample.Context), sample.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add calibration sample: %w", err)
	}
	return nil
}

// ListCalibrationSamples returns every retained sample for a source, ordered
// oldest first, used to refit the calibrator.
func (s *Store) ListCalibrationSamples(source string) ([]CalibrationSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, source, predicted, actual, context, created_at FROM calibration_samples WHERE source = ? ORDER BY created_at ASC`,
		source,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list calibration samples: %w", err)
	}
	defer rows.Close()

	var out []CalibrationSample
	for rows.Next() {
		var c CalibrationSample
		var ctx sql.NullString
		if err := rows.Scan(&c.ID, &c.Source, &c.Predicted, &c.Actual, &ctx, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Context = ctx.String
		out = append(out, c)
	}
	return out, nil
}

// CountCalibrationSamples reports how many samples a source has retained,
// for the control surface's calibration_metrics view.
func (s *Store) CountCalibrationSamples(source string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM calibration_samples WHERE source = ?`, source).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count calibration samples: %w", err)
	}
	return n, nil
}

// InsertCalibrationVersion writes a new calibrator version for a source in
// an inactive state; callers activate it with ActivateCalibrationVersion
// once the fit passes sanity checks.
func (s *Store) InsertCalibrationVersion(source string, version int, a, b float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON := fmt.Sprintf(`{"a":%g,"b":%g}`, a, b)
	_, err := s.db.Exec(
		`INSERT INTO calibration_params (source, version, params_json, active) VALUES (?, ?, ?, 0)`,
		source, version, paramsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert calibration version: %w", err)
	}
	return nil
}

// ActivateCalibrationVersion atomically makes one version active for a
// source and deactivates every other version, giving rollback a single
// write to undo.
func (s *Store) ActivateCalibrationVersion(source string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin activation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE calibration_params SET active = 0 WHERE source = ?`, source); err != nil {
		return fmt.Errorf("failed to deactivate calibration versions: %w", err)
	}
	res, err := tx.Exec(`UPDATE calibration_params SET active = 1 WHERE source = ? AND version = ?`, source, version)
	if err != nil {
		return fmt.Errorf("failed to activate calibration version: %w", err)
	}
	if err := checkRowsAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

// GetActiveCalibration returns a source's currently active calibrator, or
// ErrNotFound if none has ever been activated. The gateway then uses
// zero-valued params, which applyPlatt treats as no calibration (the raw
// confidence clamped to [0,1]).
func (s *Store) GetActiveCalibration(source string) (CalibrationParams, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var version int
	var paramsJSON string
	err := s.db.QueryRow(
		`SELECT version, params_json FROM calibration_params WHERE source = ? AND active = 1`, source,
	).Scan(&version, &paramsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CalibrationParams{}, ErrNotFound
		}
		return CalibrationParams{}, fmt.Errorf("failed to load active calibration: %w", err)
	}
	var parsed struct {
		A float64 `json:"a"`
		B float64 `json:"b"`
	}
	if err := json.Unmarshal([]byte(paramsJSON), &parsed); err != nil {
		return CalibrationParams{}, fmt.Errorf("failed to parse calibration params: %w", err)
	}
	return CalibrationParams{Source: source, Version: version, A: parsed.A, B: parsed.B, Active: true}, nil
}

// ListCalibrationVersions returns every calibrator version recorded for a
// source, newest first, for the control surface's rollback view.
func (s *Store) ListCalibrationVersions(source string) ([]CalibrationParams, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT version, params_json, active FROM calibration_params WHERE source = ? ORDER BY version DESC`, source,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list calibration versions: %w", err)
	}
	defer rows.Close()

	var out []CalibrationParams
	for rows.Next() {
		var version, active int
		var paramsJSON string
		if err := rows.Scan(&version, &paramsJSON, &active); err != nil {
			return nil, err
		}
		var parsed struct {
			A float64 `json:"a"`
			B float64 `json:"b"`
		}
		if err := json.Unmarshal([]byte(paramsJSON), &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse calibration params: %w", err)
		}
		out = append(out, CalibrationParams{Source: source, Version: version, A: parsed.A, B: parsed.B, Active: active == 1})
	}
	return out, nil
}
