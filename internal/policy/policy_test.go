package policy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"codenerd/internal/config"
	"codenerd/internal/store"

	"github.com/stretchr/testify/require"
)

func newTestPolicy(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "policy-test.db")
	st, err := store.Open(dbPath, 8)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig().Policy
	return New(st, cfg)
}

func TestCanAdmit_ClosedByDefault(t *testing.T) {
	p := newTestPolicy(t)
	admit, _, err := p.CanAdmit("example.com")
	require.NoError(t, err)
	require.True(t, admit)
}

func TestRecordFailure_OpensBreakerAfterThreshold(t *testing.T) {
	p := newTestPolicy(t)

	require.NoError(t, p.RecordFailure("blocked.test", Failure403))
	admit, _, err := p.CanAdmit("blocked.test")
	require.NoError(t, err)
	require.True(t, admit) // 1 failure, threshold is 2

	require.NoError(t, p.RecordFailure("blocked.test", Failure403))
	admit, cooldownUntil, err := p.CanAdmit("blocked.test")
	require.NoError(t, err)
	require.False(t, admit)
	require.True(t, cooldownUntil.After(time.Now()))
}

func TestRecordFailure_NonDiagnosableKindDoesNotOpenBreaker(t *testing.T) {
	p := newTestPolicy(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, p.RecordFailure("dns-broken.test", FailureOther))
	}
	admit, _, err := p.CanAdmit("dns-broken.test")
	require.NoError(t, err)
	require.True(t, admit)
}

func TestRecordSuccess_ClosesHalfOpenBreaker(t *testing.T) {
	p := newTestPolicy(t)
	require.NoError(t, p.RecordFailure("flaky.test", Failure429))
	require.NoError(t, p.RecordFailure("flaky.test", Failure429))

	dp, err := p.st.GetDomainPolicy("flaky.test")
	require.NoError(t, err)
	require.Equal(t, store.BreakerOpen, dp.BreakerState)

	dp.CooldownUntil = time.Now().Add(-time.Minute)
	require.NoError(t, p.st.UpdateDomainPolicy(dp))

	admit, _, err := p.CanAdmit("flaky.test")
	require.NoError(t, err)
	require.True(t, admit)

	dp, err = p.st.GetDomainPolicy("flaky.test")
	require.NoError(t, err)
	require.Equal(t, store.BreakerHalfOpen, dp.BreakerState)

	require.NoError(t, p.RecordSuccess("flaky.test"))
	dp, err = p.st.GetDomainPolicy("flaky.test")
	require.NoError(t, err)
	require.Equal(t, store.BreakerClosed, dp.BreakerState)
}

func TestTrustLevel_ClassifiesConfiguredDomains(t *testing.T) {
	p := newTestPolicy(t)
	require.Equal(t, store.TrustGovernment, p.TrustLevel("data.gov"))
	require.Equal(t, store.TrustAcademic, p.TrustLevel("arxiv.org"))
	require.Equal(t, store.TrustUnverified, p.TrustLevel("randomblog.example"))
	require.True(t, p.IsPrimarySource("data.gov"))
	require.False(t, p.IsPrimarySource("randomblog.example"))
}

func TestRateLimiter_EnforcesMinInterval(t *testing.T) {
	p := newTestPolicy(t)
	rl := p.Limiter("test-provider", ProviderLimits{MinInterval: 50 * time.Millisecond, MaxParallel: 1, AcquireWait: time.Second})

	ctx := context.Background()
	start := time.Now()
	release, err := rl.Acquire(ctx)
	require.NoError(t, err)
	release()

	release2, err := rl.Acquire(ctx)
	require.NoError(t, err)
	release2()
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
