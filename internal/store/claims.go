package store

import (
	"database/sql"
	"errors"
	"fmt"

	"codenerd/internal/logging"
)

// CreateClaim persists a new claim. Every adopted claim must have at least
// one incoming fragment->claim edge; callers create the edge in the same
// logical operation (see evidence.AddClaimEvidence).
func (s *Store) CreateClaim(c Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO claims (id, task_id, claim_text, llm_claim_confidence_raw, bayes_claim_confidence,
		  claim_adoption_status, claim_confidence_source, simhash_value, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TaskID, c.ClaimText, c.LLMConfidenceRaw, c.BayesConfidence,
		string(c.AdoptionStatus), string(c.ConfidenceSource), int64(c.SimhashValue), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create claim: %w", err)
	}
	logging.StoreDebug("created claim %s for task %s", c.ID, c.TaskID)
	return nil
}

// GetClaim loads a claim by id.
func (s *Store) GetClaim(id string) (Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanClaim(s.db.QueryRow(claimSelect+` WHERE id = ?`, id))
}

// ListClaimsByTask returns every claim belonging to a task.
func (s *Store) ListClaimsByTask(taskID string) ([]Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(claimSelect+` WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var out []Claim
	for rows.Next() {
		c, err := scanClaimRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// FindClaimsBySimhashRange returns candidate near-duplicate claims within a
// task whose simhash is within [lo, hi] (a cheap pre-filter; exact Hamming
// distance is computed by the caller).
func (s *Store) FindClaimsBySimhashRange(taskID string, lo, hi uint64) ([]Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		claimSelect+` WHERE task_id = ? AND simhash_value >= ? AND simhash_value <= ?`,
		taskID, int64(lo), int64(hi),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query claims by simhash: %w", err)
	}
	defer rows.Close()

	var out []Claim
	for rows.Next() {
		c, err := scanClaimRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// UpdateClaimConfidence writes back the recomputed Bayesian posterior.
func (s *Store) UpdateClaimConfidence(id string, bayes float64, source ClaimConfidenceSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`UPDATE claims SET bayes_claim_confidence = ?, claim_confidence_source = ? WHERE id = ?`,
		bayes, string(source), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update claim confidence: %w", err)
	}
	return checkRowsAffected(res)
}

// SetClaimAdoptionStatus transitions a claim's adoption status.
func (s *Store) SetClaimAdoptionStatus(id string, status ClaimAdoptionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE claims SET claim_adoption_status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update claim adoption status: %w", err)
	}
	return checkRowsAffected(res)
}

const claimSelect = `SELECT id, task_id, claim_text, llm_claim_confidence_raw, bayes_claim_confidence,
	claim_adoption_status, claim_confidence_source, simhash_value, created_at FROM claims`

func (s *Store) scanClaim(row *sql.Row) (Claim, error) {
	var c Claim
	var adoption, source string
	var simhash int64
	if err := row.Scan(&c.ID, &c.TaskID, &c.ClaimText, &c.LLMConfidenceRaw, &c.BayesConfidence,
		&adoption, &source, &simhash, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Claim{}, ErrNotFound
		}
		return Claim{}, fmt.Errorf("failed to load claim: %w", err)
	}
	c.AdoptionStatus = ClaimAdoptionStatus(adoption)
	c.ConfidenceSource = ClaimConfidenceSource(source)
	c.SimhashValue = uint64(simhash)
	return c, nil
}

func scanClaimRow(rows *sql.Rows) (Claim, error) {
	var c Claim
	var adoption, source string
	var simhash int64
	if err := rows.Scan(&c.ID, &c.TaskID, &c.ClaimText, &c.LLMConfidenceRaw, &c.BayesConfidence,
		&adoption, &source, &simhash, &c.CreatedAt); err != nil {
		return Claim{}, err
	}
	c.AdoptionStatus = ClaimAdoptionStatus(adoption)
	c.ConfidenceSource = ClaimConfidenceSource(source)
	c.SimhashValue = uint64(simhash)
	return c, nil
}
