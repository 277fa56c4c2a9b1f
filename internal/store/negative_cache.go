package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PutNegativeFetchCache records that a URL is known to be unfetchable (e.g.
// permanently blocked or repeatedly 404ing) until expiresAt. Entries are
// keyed by URL, not by host. Neither the fetch path nor the scheduler writes
// or checks this cache: a NotFound outcome is dropped without an entry.
func (s *Store) PutNegativeFetchCache(url, reason string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO negative_fetch_cache (url, reason, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET reason = excluded.reason, expires_at = excluded.expires_at`,
		url, reason, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put negative fetch cache entry: %w", err)
	}
	return nil
}

// CheckNegativeFetchCache reports whether a URL has a live (unexpired)
// negative-cache entry and, if so, the recorded reason.
func (s *Store) CheckNegativeFetchCache(url string, now time.Time) (reason string, cached bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expiresAt time.Time
	row := s.db.QueryRow(`SELECT reason, expires_at FROM negative_fetch_cache WHERE url = ?`, url)
	if err := row.Scan(&reason, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to check negative fetch cache: %w", err)
	}
	if now.After(expiresAt) {
		return "", false, nil
	}
	return reason, true, nil
}

// SweepExpiredNegativeFetchCache deletes entries whose TTL has elapsed and
// returns how many rows were removed.
func (s *Store) SweepExpiredNegativeFetchCache(now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM negative_fetch_cache WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep negative fetch cache: %w", err)
	}
	return res.RowsAffected()
}
