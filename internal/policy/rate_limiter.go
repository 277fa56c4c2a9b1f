package policy

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ProviderLimits configures one academic/SERP provider's rate limiter.
type ProviderLimits struct {
	MinInterval time.Duration // minimum spacing between successive issues
	MaxParallel int           // global concurrent in-flight cap
	AcquireWait time.Duration // bounded wait for a slot before giving up
}

// rateLimiter is a token-bucket-over-time limiter plus a parallelism
// semaphore for one provider, grounded on the teacher's exponential-backoff
// shape in internal/shards/researcher/retry.go generalized to steady-state
// spacing rather than failure backoff.
type rateLimiter struct {
	limits ProviderLimits

	mu       sync.Mutex
	lastIssue time.Time
	inFlight  int
	freed     chan struct{}
}

func newRateLimiter(limits ProviderLimits) *rateLimiter {
	return &rateLimiter{limits: limits, freed: make(chan struct{}, 1)}
}

// Acquire blocks until a slot is free and the minimum interval has
// elapsed, up to AcquireWait, returning a release function. A provider with
// no configured limits is effectively unlimited.
func (r *rateLimiter) Acquire(ctx context.Context) (func(), error) {
	deadline := time.Now().Add(r.limits.AcquireWait)
	if r.limits.AcquireWait <= 0 {
		deadline = time.Now().Add(30 * time.Second)
	}

	for {
		r.mu.Lock()
		if r.limits.MaxParallel <= 0 || r.inFlight < r.limits.MaxParallel {
			wait := r.limits.MinInterval - time.Since(r.lastIssue)
			if wait <= 0 {
				r.inFlight++
				r.lastIssue = time.Now()
				r.mu.Unlock()
				return func() { r.release() }, nil
			}
			r.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
				continue
			}
		}
		r.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("rate limiter slot acquire timed out after %s", r.limits.AcquireWait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.freed:
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (r *rateLimiter) release() {
	r.mu.Lock()
	if r.inFlight > 0 {
		r.inFlight--
	}
	r.mu.Unlock()
	select {
	case r.freed <- struct{}{}:
	default:
	}
}

// Limiter returns (creating if needed) the rate limiter for provider.
func (p *Store) Limiter(provider string, limits ProviderLimits) *rateLimiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rl, ok := p.limiter[provider]; ok {
		return rl
	}
	rl := newRateLimiter(limits)
	p.limiter[provider] = rl
	return rl
}
