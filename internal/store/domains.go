package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetOrCreateDomainPolicy loads a domain's policy state, seeding a default
// closed-breaker row on first observation of that host.
func (s *Store) GetOrCreateDomainPolicy(domain string, defaultQPS float64) (DomainPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := scanDomainPolicy(s.db.QueryRow(domainSelect+` WHERE domain = ?`, domain))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return DomainPolicy{}, err
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(
		`INSERT INTO domains (domain, qps_max, cooldown_until, headful_ratio, tor_success_rate, captcha_rate,
		  block_score, breaker_state, consecutive_failures, last_successes_ema, last_failures_ema, updated_at)
		 VALUES (?, ?, NULL, 0, 0, 0, 0, ?, 0, 0, 0, ?)`,
		domain, defaultQPS, string(BreakerClosed), now,
	)
	if err != nil {
		return DomainPolicy{}, fmt.Errorf("failed to seed domain policy: %w", err)
	}
	return DomainPolicy{
		Domain:       domain,
		QPSMax:       defaultQPS,
		BreakerState: BreakerClosed,
		UpdatedAt:    now,
	}, nil
}

// GetDomainPolicy loads a domain's policy state without seeding a default.
func (s *Store) GetDomainPolicy(domain string) (DomainPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanDomainPolicy(s.db.QueryRow(domainSelect+` WHERE domain = ?`, domain))
}

// UpdateDomainPolicy persists the full policy snapshot, used after every
// fetch outcome recalculates the EMA-smoothed fields.
func (s *Store) UpdateDomainPolicy(p DomainPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cooldown interface{}
	if !p.CooldownUntil.IsZero() {
		cooldown = p.CooldownUntil
	}
	_, err := s.db.Exec(
		`UPDATE domains SET qps_max = ?, cooldown_until = ?, headful_ratio = ?, tor_success_rate = ?,
		  captcha_rate = ?, block_score = ?, breaker_state = ?, consecutive_failures = ?,
		  last_successes_ema = ?, last_failures_ema = ?, updated_at = ? WHERE domain = ?`,
		p.QPSMax, cooldown, p.HeadfulRatio, p.TorSuccessRate, p.CaptchaRate, p.BlockScore,
		string(p.BreakerState), p.ConsecutiveFailures, p.LastSuccessesEMA, p.LastFailuresEMA,
		p.UpdatedAt, p.Domain,
	)
	if err != nil {
		return fmt.Errorf("failed to update domain policy: %w", err)
	}
	return nil
}

// ListOpenBreakerDomains returns every domain currently in the open or
// half-open breaker state, used by the control surface status view.
func (s *Store) ListOpenBreakerDomains() ([]DomainPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(domainSelect+` WHERE breaker_state != ?`, string(BreakerClosed))
	if err != nil {
		return nil, fmt.Errorf("failed to list open breaker domains: %w", err)
	}
	defer rows.Close()

	var out []DomainPolicy
	for rows.Next() {
		p, err := scanDomainPolicyRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

const domainSelect = `SELECT domain, qps_max, cooldown_until, headful_ratio, tor_success_rate, captcha_rate,
	block_score, breaker_state, consecutive_failures, last_successes_ema, last_failures_ema, updated_at FROM domains`

func scanDomainPolicy(row *sql.Row) (DomainPolicy, error) {
	var p DomainPolicy
	var breaker string
	var cooldown sql.NullTime
	if err := row.Scan(&p.Domain, &p.QPSMax, &cooldown, &p.HeadfulRatio, &p.TorSuccessRate, &p.CaptchaRate,
		&p.BlockScore, &breaker, &p.ConsecutiveFailures, &p.LastSuccessesEMA, &p.LastFailuresEMA, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DomainPolicy{}, ErrNotFound
		}
		return DomainPolicy{}, fmt.Errorf("failed to load domain policy: %w", err)
	}
	p.BreakerState = BreakerState(breaker)
	if cooldown.Valid {
		p.CooldownUntil = cooldown.Time
	}
	return p, nil
}

func scanDomainPolicyRow(rows *sql.Rows) (DomainPolicy, error) {
	var p DomainPolicy
	var breaker string
	var cooldown sql.NullTime
	if err := rows.Scan(&p.Domain, &p.QPSMax, &cooldown, &p.HeadfulRatio, &p.TorSuccessRate, &p.CaptchaRate,
		&p.BlockScore, &breaker, &p.ConsecutiveFailures, &p.LastSuccessesEMA, &p.LastFailuresEMA, &p.UpdatedAt); err != nil {
		return DomainPolicy{}, err
	}
	p.BreakerState = BreakerState(breaker)
	if cooldown.Valid {
		p.CooldownUntil = cooldown.Time
	}
	return p, nil
}
