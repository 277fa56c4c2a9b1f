package store

import (
	"database/sql"
	"errors"
	"fmt"

	"codenerd/internal/logging"
)

// UpsertPage inserts a page keyed by its canonical URL or, when that URL is
// already stored, updates the existing row in place (keeping its id). The
// UNIQUE constraint on url spans the whole table: pages carry no task id, so
// one URL maps to one page across all tasks.
func (s *Store) UpsertPage(p Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO pages (id, url, domain, canonical_id, source_trust_level, content_type, fetched_at, doi)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
		   source_trust_level = excluded.source_trust_level,
		   content_type = excluded.content_type,
		   fetched_at = excluded.fetched_at,
		   canonical_id = excluded.canonical_id,
		   doi = excluded.doi`,
		p.ID, p.URL, p.Domain, p.CanonicalID, string(p.Trust), p.ContentType, p.FetchedAt, p.DOI,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert page: %w", err)
	}
	logging.StoreDebug("upserted page %s (%s)", p.ID, p.URL)
	return nil
}

// GetPageByURL finds a page by its canonical URL, the deduplication key.
func (s *Store) GetPageByURL(url string) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanPage(s.db.QueryRow(
		`SELECT id, url, domain, canonical_id, source_trust_level, content_type, fetched_at, doi FROM pages WHERE url = ?`,
		url,
	))
}

// GetPageByDOI finds a page by DOI, the secondary deduplication key.
func (s *Store) GetPageByDOI(doi string) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanPage(s.db.QueryRow(
		`SELECT id, url, domain, canonical_id, source_trust_level, content_type, fetched_at, doi FROM pages WHERE doi = ? LIMIT 1`,
		doi,
	))
}

// GetPage loads a page by id.
func (s *Store) GetPage(id string) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanPage(s.db.QueryRow(
		`SELECT id, url, domain, canonical_id, source_trust_level, content_type, fetched_at, doi FROM pages WHERE id = ?`,
		id,
	))
}

func (s *Store) scanPage(row *sql.Row) (Page, error) {
	var p Page
	var trust string
	var canonicalID, doi sql.NullString
	if err := row.Scan(&p.ID, &p.URL, &p.Domain, &canonicalID, &trust, &p.ContentType, &p.FetchedAt, &doi); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Page{}, ErrNotFound
		}
		return Page{}, fmt.Errorf("failed to load page: %w", err)
	}
	p.Trust = TrustLevel(trust)
	p.CanonicalID = canonicalID.String
	p.DOI = doi.String
	return p, nil
}
