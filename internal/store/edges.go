package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// CreateEdge persists a typed edge. Callers are responsible for verifying
// referential integrity (both endpoints exist) before calling this.
func (s *Store) CreateEdge(e Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO edges (id, source_id, source_type, target_id, target_type, relation,
		  nli_edge_label, nli_edge_confidence_raw, citation_context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SourceID, string(e.SourceType), e.TargetID, string(e.TargetType), string(e.Relation),
		nullableString(string(e.NLILabel)), e.NLIConfidenceRaw, nullableString(e.CitationContext), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create edge: %w", err)
	}
	return nil
}

// ListEdgesToClaim returns every fragment->claim edge incoming to a claim.
func (s *Store) ListEdgesToClaim(claimID string) ([]Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, source_id, source_type, target_id, target_type, relation, nli_edge_label,
		  nli_edge_confidence_raw, citation_context, created_at
		 FROM edges WHERE target_id = ? AND target_type = ? AND relation = ?`,
		claimID, string(NodeClaim), string(RelationFragmentClaim),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges to claim: %w", err)
	}
	defer rows.Close()
	return scanEdgeRows(rows)
}

// PageExists reports whether a page id exists, used for citation referential checks.
func (s *Store) PageExists(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pages WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClaimExists reports whether a claim id exists.
func (s *Store) ClaimExists(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM claims WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// FragmentExists reports whether a fragment id exists.
func (s *Store) FragmentExists(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM fragments WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListClaimsWithContradictions returns claim ids that have at least one
// supports edge and at least one refutes edge.
func (s *Store) ListClaimsWithContradictions(taskID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT c.id FROM claims c
		WHERE c.task_id = ?
		AND EXISTS (SELECT 1 FROM edges e WHERE e.target_id = c.id AND e.target_type = ? AND e.nli_edge_label = ?)
		AND EXISTS (SELECT 1 FROM edges e WHERE e.target_id = c.id AND e.target_type = ? AND e.nli_edge_label = ?)
	`, taskID, string(NodeClaim), string(NLISupports), string(NodeClaim), string(NLIRefutes))
	if err != nil {
		return nil, fmt.Errorf("failed to list contradictions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func scanEdgeRows(rows *sql.Rows) ([]Edge, error) {
	var out []Edge
	for rows.Next() {
		var e Edge
		var sourceType, targetType, relation string
		var label, citation sql.NullString
		var conf sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.SourceID, &sourceType, &e.TargetID, &targetType, &relation,
			&label, &conf, &citation, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SourceType = NodeType(sourceType)
		e.TargetType = NodeType(targetType)
		e.Relation = EdgeRelation(relation)
		e.NLILabel = NLILabel(label.String)
		e.NLIConfidenceRaw = conf.Float64
		e.CitationContext = citation.String
		out = append(out, e)
	}
	return out, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

var _ = errors.Is
