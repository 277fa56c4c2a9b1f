package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "research.db")
	s, err := Open(dbPath, 8)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWorksAndAuthorsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	w := Work{CanonicalID: "work-1", DOI: "10.1000/xyz", Year: 2021, Venue: "Nature"}
	require.NoError(t, s.UpsertWork(w))

	got, err := s.GetWorkByDOI("10.1000/xyz")
	require.NoError(t, err)
	require.Equal(t, w, got)

	authors := []WorkAuthor{
		{CanonicalID: "work-1", Position: 0, Name: "Ada Lovelace"},
		{CanonicalID: "work-1", Position: 1, Name: "Alan Turing"},
	}
	require.NoError(t, s.ReplaceWorkAuthors("work-1", authors))

	list, err := s.ListWorkAuthors("work-1")
	require.NoError(t, err)
	require.Equal(t, authors, list)

	_, err = s.GetWork("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAuthQueueLifecycle(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateTask(Task{ID: "t1", Hypothesis: "h", Status: TaskExploring, CreatedAt: time.Now().UTC()}))

	item := AuthQueueItem{
		ID: "auth-1", TaskID: "t1", URL: "https://example.com/a", Domain: "example.com",
		AuthType: AuthCloudflare, Priority: 5, QueuedAt: time.Now().UTC(),
		SearchIDs: []string{"s1"}, Status: AuthItemPending,
	}
	require.NoError(t, s.CreateAuthQueueItem(item))

	require.NoError(t, s.AppendAuthQueueSearchID("auth-1", "s2"))
	got, err := s.GetAuthQueueItem("auth-1")
	require.NoError(t, err)
	require.Equal(t, []string{"s1", "s2"}, got.SearchIDs)

	pending, err := s.ListPendingAuthQueueByDomain("example.com")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.SetAuthQueueSession("auth-1", `{"cookies":[]}`))
	require.NoError(t, s.UpdateAuthQueueStatus("auth-1", AuthItemResolved))

	resolved, err := s.GetAuthQueueItem("auth-1")
	require.NoError(t, err)
	require.Equal(t, AuthItemResolved, resolved.Status)
	require.Equal(t, `{"cookies":[]}`, resolved.SessionJSON)

	pending, err = s.ListPendingAuthQueueByDomain("example.com")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestDomainPolicyGetOrCreateAndUpdate(t *testing.T) {
	s := newTestStore(t)

	p, err := s.GetOrCreateDomainPolicy("example.com", 2.0)
	require.NoError(t, err)
	require.Equal(t, BreakerClosed, p.BreakerState)
	require.Equal(t, 2.0, p.QPSMax)

	again, err := s.GetOrCreateDomainPolicy("example.com", 9.0)
	require.NoError(t, err)
	require.Equal(t, 2.0, again.QPSMax, "second call must not reseed an existing row")

	p.BreakerState = BreakerOpen
	p.ConsecutiveFailures = 3
	p.CooldownUntil = time.Now().UTC().Add(30 * time.Minute)
	p.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.UpdateDomainPolicy(p))

	reloaded, err := s.GetDomainPolicy("example.com")
	require.NoError(t, err)
	require.Equal(t, BreakerOpen, reloaded.BreakerState)
	require.Equal(t, 3, reloaded.ConsecutiveFailures)
	require.False(t, reloaded.CooldownUntil.IsZero())

	open, err := s.ListOpenBreakerDomains()
	require.NoError(t, err)
	require.Len(t, open, 1)
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)

	j := Job{ID: "job-1", Kind: "fetch", Slot: "network_client", Priority: 1, State: JobQueued, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateJob(j))

	require.NoError(t, s.StartJob("job-1"))
	running, err := s.GetJob("job-1")
	require.NoError(t, err)
	require.Equal(t, JobRunning, running.State)
	require.False(t, running.StartedAt.IsZero())

	require.NoError(t, s.FinishJob("job-1", JobCompleted))
	done, err := s.GetJob("job-1")
	require.NoError(t, err)
	require.Equal(t, JobCompleted, done.State)
	require.False(t, done.FinishedAt.IsZero())

	queued, err := s.ListJobsByState(JobQueued)
	require.NoError(t, err)
	require.Empty(t, queued)
}

func TestEngineHealthGetOrCreateAndUpdate(t *testing.T) {
	s := newTestStore(t)

	h, err := s.GetOrCreateEngineHealth("genai")
	require.NoError(t, err)
	require.Equal(t, 1.0, h.EMASuccess)

	h.EMASuccess = 0.42
	h.EMALatencyMS = 120
	h.State = "degraded"
	h.LastOKAt = time.Now().UTC()
	require.NoError(t, s.UpdateEngineHealth(h))

	reloaded, err := s.GetOrCreateEngineHealth("genai")
	require.NoError(t, err)
	require.Equal(t, 0.42, reloaded.EMASuccess)
	require.Equal(t, "degraded", reloaded.State)

	all, err := s.ListEngineHealth()
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestCalibrationSamplesAndVersioning(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AddCalibrationSample(CalibrationSample{
			Source: "nli", Predicted: 0.8, Actual: 1.0, CreatedAt: time.Now().UTC(),
		}))
	}
	n, err := s.CountCalibrationSamples("nli")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	samples, err := s.ListCalibrationSamples("nli")
	require.NoError(t, err)
	require.Len(t, samples, 3)

	_, err = s.GetActiveCalibration("nli")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.InsertCalibrationVersion("nli", 1, 1.1, -0.05))
	require.NoError(t, s.ActivateCalibrationVersion("nli", 1))

	active, err := s.GetActiveCalibration("nli")
	require.NoError(t, err)
	require.Equal(t, 1, active.Version)
	require.InDelta(t, 1.1, active.A, 1e-9)

	require.NoError(t, s.InsertCalibrationVersion("nli", 2, 1.3, -0.1))
	require.NoError(t, s.ActivateCalibrationVersion("nli", 2))

	versions, err := s.ListCalibrationVersions("nli")
	require.NoError(t, err)
	require.Len(t, versions, 2)

	require.NoError(t, s.ActivateCalibrationVersion("nli", 1))
	rolledBack, err := s.GetActiveCalibration("nli")
	require.NoError(t, err)
	require.Equal(t, 1, rolledBack.Version)
}

func TestNegativeFetchCacheTTL(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.PutNegativeFetchCache("https://example.com/dead", "404", now.Add(time.Hour)))

	reason, cached, err := s.CheckNegativeFetchCache("https://example.com/dead", now)
	require.NoError(t, err)
	require.True(t, cached)
	require.Equal(t, "404", reason)

	_, cached, err = s.CheckNegativeFetchCache("https://example.com/dead", now.Add(2*time.Hour))
	require.NoError(t, err)
	require.False(t, cached, "entry must be treated as expired past its TTL")

	n, err := s.SweepExpiredNegativeFetchCache(now.Add(2 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestLLMExtractionErrorRecording(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateTask(Task{ID: "t2", Hypothesis: "h", Status: TaskExploring, CreatedAt: time.Now().UTC()}))

	require.NoError(t, s.RecordLLMExtractionError("t2", "some passage", "invalid json", time.Now().UTC()))
	require.NoError(t, s.RecordLLMExtractionError("t2", "another passage", "schema mismatch", time.Now().UTC()))

	n, err := s.CountLLMExtractionErrors("t2")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
