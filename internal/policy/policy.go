package policy

import (
	"strings"
	"sync"
	"time"

	"codenerd/internal/config"
	"codenerd/internal/logging"
	"codenerd/internal/store"
)

// Store is the domain policy / breaker / rate-limiter façade the scheduler
// and pipeline consult before every fetch and on every fetch completion.
type Store struct {
	st  *store.Store
	cfg config.PolicyConfig

	mu      sync.Mutex
	limiter map[string]*rateLimiter
}

// New builds a policy Store over the durable domain table.
func New(st *store.Store, cfg config.PolicyConfig) *Store {
	return &Store{st: st, cfg: cfg, limiter: make(map[string]*rateLimiter)}
}

// CanAdmit reports whether a request to domain may proceed right now. A
// false result carries the time the caller should retry after
// (cooldown_until); callers defer the job rather than busy-poll.
func (p *Store) CanAdmit(domain string) (bool, time.Time, error) {
	dp, err := p.st.GetOrCreateDomainPolicy(domain, 1.0)
	if err != nil {
		return false, time.Time{}, err
	}

	admit, next := admissionState(dp, time.Now().UTC())
	if next.BreakerState != dp.BreakerState {
		if err := p.st.UpdateDomainPolicy(next); err != nil {
			return admit, next.CooldownUntil, err
		}
	}
	return admit, next.CooldownUntil, nil
}

// RecordSuccess advances domain's breaker/EMA state on a successful fetch.
func (p *Store) RecordSuccess(domain string) error {
	dp, err := p.st.GetOrCreateDomainPolicy(domain, 1.0)
	if err != nil {
		return err
	}
	next := applyOutcome(dp, true, "", p.cfg, time.Now().UTC())
	if err := p.st.UpdateDomainPolicy(next); err != nil {
		return err
	}
	logging.Policy("domain %s success, breaker=%s", domain, next.BreakerState)
	return nil
}

// RecordFailure advances domain's breaker/EMA state on a failed fetch of
// the given kind.
func (p *Store) RecordFailure(domain string, kind FailureKind) error {
	dp, err := p.st.GetOrCreateDomainPolicy(domain, 1.0)
	if err != nil {
		return err
	}
	next := applyOutcome(dp, false, kind, p.cfg, time.Now().UTC())
	if err := p.st.UpdateDomainPolicy(next); err != nil {
		return err
	}
	if next.BreakerState == store.BreakerOpen && dp.BreakerState != store.BreakerOpen {
		logging.Policy("domain %s breaker opened until %s (consecutive_failures=%d)",
			domain, next.CooldownUntil.Format(time.RFC3339), next.ConsecutiveFailures)
	}
	return nil
}

// TrustLevel classifies domain per the configured primary/government/
// academic domain lists; everything else defaults to UNVERIFIED.
func (p *Store) TrustLevel(domain string) store.TrustLevel {
	d := strings.ToLower(domain)
	for _, suffix := range p.cfg.PrimaryDomains {
		if matchesDomain(d, suffix) {
			return store.TrustPrimary
		}
	}
	for _, suffix := range p.cfg.GovernmentDomains {
		if matchesDomain(d, suffix) {
			return store.TrustGovernment
		}
	}
	for _, suffix := range p.cfg.AcademicDomains {
		if matchesDomain(d, suffix) {
			return store.TrustAcademic
		}
	}
	return store.TrustUnverified
}

// IsPrimarySource reports whether domain's trust level counts as a primary
// source per the glossary definition (PRIMARY, GOVERNMENT, or ACADEMIC).
func (p *Store) IsPrimarySource(domain string) bool {
	switch p.TrustLevel(domain) {
	case store.TrustPrimary, store.TrustGovernment, store.TrustAcademic:
		return true
	default:
		return false
	}
}

func matchesDomain(domain, suffix string) bool {
	suffix = strings.ToLower(suffix)
	return domain == suffix || strings.HasSuffix(domain, "."+strings.TrimPrefix(suffix, "."))
}

// ListOpenDomains returns every domain currently in open or half-open
// breaker state, used by the control surface's status and warnings views.
func (p *Store) ListOpenDomains() ([]store.DomainPolicy, error) {
	return p.st.ListOpenBreakerDomains()
}
