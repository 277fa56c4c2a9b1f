package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetOrCreateEngineHealth loads an inference provider's health row, seeding
// an optimistic default on first use.
func (s *Store) GetOrCreateEngineHealth(provider string) (EngineHealth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := scanEngineHealth(s.db.QueryRow(engineHealthSelect+` WHERE provider = ?`, provider))
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return EngineHealth{}, err
	}

	_, err = s.db.Exec(
		`INSERT INTO engine_health (provider, state, last_ok_at, ema_success, ema_latency) VALUES (?, ?, NULL, 1.0, 0)`,
		provider, "healthy",
	)
	if err != nil {
		return EngineHealth{}, fmt.Errorf("failed to seed engine health: %w", err)
	}
	return EngineHealth{Provider: provider, State: "healthy", EMASuccess: 1.0}, nil
}

// UpdateEngineHealth persists the latest EMA-smoothed health snapshot for a provider.
func (s *Store) UpdateEngineHealth(h EngineHealth) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastOK interface{}
	if !h.LastOKAt.IsZero() {
		lastOK = h.LastOKAt
	}
	_, err := s.db.Exec(
		`UPDATE engine_health SET state = ?, last_ok_at = ?, ema_success = ?, ema_latency = ? WHERE provider = ?`,
		h.State, lastOK, h.EMASuccess, h.EMALatencyMS, h.Provider,
	)
	if err != nil {
		return fmt.Errorf("failed to update engine health: %w", err)
	}
	return nil
}

// ListEngineHealth returns health rows for every observed provider.
func (s *Store) ListEngineHealth() ([]EngineHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(engineHealthSelect)
	if err != nil {
		return nil, fmt.Errorf("failed to list engine health: %w", err)
	}
	defer rows.Close()

	var out []EngineHealth
	for rows.Next() {
		var h EngineHealth
		var lastOK sql.NullTime
		if err := rows.Scan(&h.Provider, &h.State, &lastOK, &h.EMASuccess, &h.EMALatencyMS); err != nil {
			return nil, err
		}
		if lastOK.Valid {
			h.LastOKAt = lastOK.Time
		}
		out = append(out, h)
	}
	return out, nil
}

const engineHealthSelect = `SELECT provider, state, last_ok_at, ema_success, ema_latency FROM engine_health`

func scanEngineHealth(row *sql.Row) (EngineHealth, error) {
	var h EngineHealth
	var lastOK sql.NullTime
	if err := row.Scan(&h.Provider, &h.State, &lastOK, &h.EMASuccess, &h.EMALatencyMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EngineHealth{}, ErrNotFound
		}
		return EngineHealth{}, fmt.Errorf("failed to load engine health: %w", err)
	}
	if lastOK.Valid {
		h.LastOKAt = lastOK.Time
	}
	return h, nil
}
