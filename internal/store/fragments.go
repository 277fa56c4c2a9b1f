package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"codenerd/internal/logging"
)

// CreateFragment persists a fragment. A fragment is exclusively owned by one
// page; page_id must reference an existing row (enforced by foreign key).
func (s *Store) CreateFragment(f Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hierarchyJSON, err := json.Marshal(f.HeadingHierarchy)
	if err != nil {
		return fmt.Errorf("failed to marshal heading hierarchy: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO fragments (id, page_id, text_content, heading_context, heading_hierarchy_json, element_index, fragment_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.PageID, f.TextContent, f.HeadingContext, string(hierarchyJSON), f.ElementIndex, string(f.FragmentType),
	)
	if err != nil {
		return fmt.Errorf("failed to create fragment: %w", err)
	}
	logging.StoreDebug("created fragment %s on page %s", f.ID, f.PageID)
	return nil
}

// GetFragment loads a fragment by id.
func (s *Store) GetFragment(id string) (Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, page_id, text_content, heading_context, heading_hierarchy_json, element_index, fragment_type
		 FROM fragments WHERE id = ?`, id,
	)
	return scanFragment(row)
}

// ListFragmentsByPage returns every fragment belonging to a page, ordered by
// element_index (document order).
func (s *Store) ListFragmentsByPage(pageID string) ([]Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, page_id, text_content, heading_context, heading_hierarchy_json, element_index, fragment_type
		 FROM fragments WHERE page_id = ? ORDER BY element_index ASC`, pageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list fragments: %w", err)
	}
	defer rows.Close()

	var out []Fragment
	for rows.Next() {
		var f Fragment
		var hierarchyJSON, fragType string
		if err := rows.Scan(&f.ID, &f.PageID, &f.TextContent, &f.HeadingContext, &hierarchyJSON, &f.ElementIndex, &fragType); err != nil {
			return nil, err
		}
		f.FragmentType = FragmentType(fragType)
		if err := json.Unmarshal([]byte(hierarchyJSON), &f.HeadingHierarchy); err != nil {
			return nil, fmt.Errorf("failed to parse heading hierarchy: %w", err)
		}
		out = append(out, f)
	}
	return out, nil
}

// DeleteFragmentsByPage removes every fragment owned by a page. The store
// has no page deletion, and nothing outside this package calls it.
func (s *Store) DeleteFragmentsByPage(pageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM fragments WHERE page_id = ?`, pageID)
	if err != nil {
		return fmt.Errorf("failed to delete fragments: %w", err)
	}
	return nil
}

func scanFragment(row *sql.Row) (Fragment, error) {
	var f Fragment
	var hierarchyJSON, fragType string
	if err := row.Scan(&f.ID, &f.PageID, &f.TextContent, &f.HeadingContext, &hierarchyJSON, &f.ElementIndex, &fragType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Fragment{}, ErrNotFound
		}
		return Fragment{}, fmt.Errorf("failed to load fragment: %w", err)
	}
	f.FragmentType = FragmentType(fragType)
	if err := json.Unmarshal([]byte(hierarchyJSON), &f.HeadingHierarchy); err != nil {
		return Fragment{}, fmt.Errorf("failed to parse heading hierarchy: %w", err)
	}
	return f, nil
}
