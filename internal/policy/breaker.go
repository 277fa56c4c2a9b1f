// Package policy implements the per-domain breaker FSM, politeness/
// cooldown bookkeeping, and the per-provider rate limiter that together
// govern the fetch escalation ladder.
package policy

import (
	"math"
	"time"

	"codenerd/internal/config"
	"codenerd/internal/store"
)

// FailureKind classifies a fetch outcome for breaker-transition purposes;
// only these kinds count toward opening a domain's breaker.
type FailureKind string

const (
	Failure429               FailureKind = "429"
	Failure403               FailureKind = "403"
	FailureTLSHandshake      FailureKind = "tls_handshake"
	FailureCloudflareChallenge FailureKind = "cloudflare_challenge"
	FailureOther             FailureKind = "other"
)

const emaAlpha = 0.2

// cooldown implements cooldown(n) = min(30min * 2^(n/3), 120min).
func cooldown(consecutiveFailures int, base, max time.Duration) time.Duration {
	exp := consecutiveFailures / 3
	d := time.Duration(float64(base) * math.Pow(2, float64(exp)))
	if d > max {
		return max
	}
	return d
}

// countsTowardOpen reports whether a FailureKind is one of the kinds that
// can trip the breaker to open, per spec §4.2.
func countsTowardOpen(kind FailureKind) bool {
	switch kind {
	case Failure429, Failure403, FailureTLSHandshake, FailureCloudflareChallenge:
		return true
	default:
		return false
	}
}

// applyOutcome advances a DomainPolicy's breaker FSM and EMA fields given
// one fetch outcome. now is passed in rather than read from time.Now() so
// callers (and tests) can drive the clock deterministically.
func applyOutcome(p store.DomainPolicy, success bool, kind FailureKind, cfg config.PolicyConfig, now time.Time) store.DomainPolicy {
	p.UpdatedAt = now

	if success {
		p.LastSuccessesEMA = emaAlpha*1.0 + (1-emaAlpha)*p.LastSuccessesEMA
		p.LastFailuresEMA = emaAlpha*0.0 + (1-emaAlpha)*p.LastFailuresEMA
		p.ConsecutiveFailures = 0

		switch p.BreakerState {
		case store.BreakerHalfOpen:
			p.BreakerState = store.BreakerClosed
			p.CooldownUntil = time.Time{}
		case store.BreakerOpen:
			// A success while still "open" only happens via an explicit
			// half-open probe the caller already routed; treat it the same.
			p.BreakerState = store.BreakerClosed
			p.CooldownUntil = time.Time{}
		}
		return p
	}

	p.LastSuccessesEMA = emaAlpha*0.0 + (1-emaAlpha)*p.LastSuccessesEMA
	p.LastFailuresEMA = emaAlpha*1.0 + (1-emaAlpha)*p.LastFailuresEMA

	if kind == FailureCloudflareChallenge {
		p.CaptchaRate = emaAlpha*1.0 + (1-emaAlpha)*p.CaptchaRate
	} else {
		p.CaptchaRate = (1 - emaAlpha) * p.CaptchaRate
	}

	if !countsTowardOpen(kind) {
		return p
	}

	p.ConsecutiveFailures++
	p.BlockScore = emaAlpha*1.0 + (1-emaAlpha)*p.BlockScore

	switch p.BreakerState {
	case store.BreakerClosed:
		if p.ConsecutiveFailures >= cfg.ConsecutiveFailuresToOpen {
			p.BreakerState = store.BreakerOpen
			p.CooldownUntil = now.Add(cooldown(p.ConsecutiveFailures, cfg.CooldownBase, cfg.CooldownMax))
		}
	case store.BreakerHalfOpen:
		p.BreakerState = store.BreakerOpen
		p.CooldownUntil = now.Add(cooldown(p.ConsecutiveFailures, cfg.CooldownBase, cfg.CooldownMax))
	case store.BreakerOpen:
		p.CooldownUntil = now.Add(cooldown(p.ConsecutiveFailures, cfg.CooldownBase, cfg.CooldownMax))
	}
	return p
}

// admissionState reports whether a request to a domain may proceed right
// now, promoting an expired "open" breaker to "half_open" (a single probe)
// as a side effect the caller must persist.
func admissionState(p store.DomainPolicy, now time.Time) (admit bool, next store.DomainPolicy) {
	switch p.BreakerState {
	case store.BreakerClosed:
		return true, p
	case store.BreakerHalfOpen:
		return true, p
	case store.BreakerOpen:
		if !p.CooldownUntil.IsZero() && !now.Before(p.CooldownUntil) {
			p.BreakerState = store.BreakerHalfOpen
			return true, p
		}
		return false, p
	default:
		return true, p
	}
}
