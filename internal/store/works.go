package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// UpsertWork inserts or updates academic work metadata keyed by canonical_id.
// Canonical IDs are minted by the caller once a DOI (or equivalent) is known.
func (s *Store) UpsertWork(w Work) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO works (canonical_id, doi, year, venue) VALUES (?, ?, ?, ?)
		 ON CONFLICT(canonical_id) DO UPDATE SET doi = excluded.doi, year = excluded.year, venue = excluded.venue`,
		w.CanonicalID, nullableString(w.DOI), w.Year, w.Venue,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert work: %w", err)
	}
	return nil
}

// GetWorkByDOI finds a work by its DOI, the primary fast-path lookup key.
func (s *Store) GetWorkByDOI(doi string) (Work, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var w Work
	var doiVal sql.NullString
	err := s.db.QueryRow(`SELECT canonical_id, doi, year, venue FROM works WHERE doi = ?`, doi).
		Scan(&w.CanonicalID, &doiVal, &w.Year, &w.Venue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Work{}, ErrNotFound
		}
		return Work{}, fmt.Errorf("failed to load work: %w", err)
	}
	w.DOI = doiVal.String
	return w, nil
}

// GetWork loads a work by canonical id.
func (s *Store) GetWork(canonicalID string) (Work, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var w Work
	var doiVal sql.NullString
	err := s.db.QueryRow(`SELECT canonical_id, doi, year, venue FROM works WHERE canonical_id = ?`, canonicalID).
		Scan(&w.CanonicalID, &doiVal, &w.Year, &w.Venue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Work{}, ErrNotFound
		}
		return Work{}, fmt.Errorf("failed to load work: %w", err)
	}
	w.DOI = doiVal.String
	return w, nil
}

// ReplaceWorkAuthors overwrites the author list for a work, preserving position order.
func (s *Store) ReplaceWorkAuthors(canonicalID string, authors []WorkAuthor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin author replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM work_authors WHERE canonical_id = ?`, canonicalID); err != nil {
		return fmt.Errorf("failed to clear authors: %w", err)
	}
	for _, a := range authors {
		if _, err := tx.Exec(
			`INSERT INTO work_authors (canonical_id, position, name) VALUES (?, ?, ?)`,
			canonicalID, a.Position, a.Name,
		); err != nil {
			return fmt.Errorf("failed to insert author: %w", err)
		}
	}
	return tx.Commit()
}

// ListWorkAuthors returns a work's authors ordered by position.
func (s *Store) ListWorkAuthors(canonicalID string) ([]WorkAuthor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT canonical_id, position, name FROM work_authors WHERE canonical_id = ? ORDER BY position ASC`,
		canonicalID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list authors: %w", err)
	}
	defer rows.Close()

	var out []WorkAuthor
	for rows.Next() {
		var a WorkAuthor
		if err := rows.Scan(&a.CanonicalID, &a.Position, &a.Name); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
