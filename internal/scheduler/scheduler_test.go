package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"codenerd/internal/config"
	"codenerd/internal/policy"
	"codenerd/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		goleak.IgnoreTopFunction("github.com/mattn/go-sqlite3._Cfunc_sqlite3_close_v2"),
	)
}

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "scheduler-test.db")
	st, err := store.Open(dbPath, 8)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	pol := policy.New(st, cfg.Policy)
	sched := New(cfg.Scheduler, st, pol)
	t.Cleanup(sched.Close)
	return sched, st
}

func waitDone(t *testing.T, h *Handle) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := h.Wait(ctx)
	require.NoError(t, err)
	return r
}

func TestSubmit_RunsJobToCompletion(t *testing.T) {
	sched, _ := newTestScheduler(t)

	h, err := sched.Submit(Job{
		ID:   uuid.NewString(),
		Kind: KindExtract,
		Slot: SlotCPUNLP,
		Run: func(ctx context.Context) (interface{}, error) {
			return "ok", nil
		},
	})
	require.NoError(t, err)

	r := waitDone(t, h)
	require.NoError(t, r.Err)
	require.Equal(t, "ok", r.Value)
}

func TestGPUAndBrowserHeadful_AreMutuallyExclusive(t *testing.T) {
	sched, _ := newTestScheduler(t)

	var concurrent int32
	var maxConcurrent int32
	block := make(chan struct{})

	run := func(ctx context.Context) (interface{}, error) {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			cur := atomic.LoadInt32(&maxConcurrent)
			if n <= cur || atomic.CompareAndSwapInt32(&maxConcurrent, cur, n) {
				break
			}
		}
		<-block
		atomic.AddInt32(&concurrent, -1)
		return nil, nil
	}

	h1, err := sched.Submit(Job{ID: uuid.NewString(), Kind: KindEmbed, Slot: SlotGPU, Run: run})
	require.NoError(t, err)
	h2, err := sched.Submit(Job{ID: uuid.NewString(), Kind: KindLLMSlow, Slot: SlotBrowserHeadful, Run: run})
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)
	require.LessOrEqual(t, atomic.LoadInt32(&maxConcurrent), int32(1))

	close(block)
	waitDone(t, h1)
	waitDone(t, h2)
}

func TestNetworkClient_PerDomainConcurrencyIsOne(t *testing.T) {
	sched, _ := newTestScheduler(t)

	var concurrent int32
	var maxConcurrent int32
	release := make(chan struct{})

	run := func(ctx context.Context) (interface{}, error) {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			cur := atomic.LoadInt32(&maxConcurrent)
			if n <= cur || atomic.CompareAndSwapInt32(&maxConcurrent, cur, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&concurrent, -1)
		return nil, nil
	}

	var handles []*Handle
	for i := 0; i < 3; i++ {
		h, err := sched.Submit(Job{
			ID: uuid.NewString(), Kind: KindFetch, Slot: SlotNetworkClient,
			Domain: "same-domain.example", Run: run,
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	time.Sleep(300 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&maxConcurrent))

	close(release)
	for _, h := range handles {
		waitDone(t, h)
	}
}

func TestBudgetGuard_RejectsFetchOverPageBudget(t *testing.T) {
	sched, st := newTestScheduler(t)

	taskID := uuid.NewString()
	require.NoError(t, st.CreateTask(store.Task{
		ID: taskID, Hypothesis: "h", Status: store.TaskExploring,
		Budget: store.Budget{MaxPages: 1}, CreatedAt: time.Now().UTC(), PagesUsed: 1,
	}))

	h, err := sched.Submit(Job{
		ID: uuid.NewString(), TaskID: taskID, Kind: KindFetch, Slot: SlotNetworkClient,
		Domain: "example.com",
		Run:    func(ctx context.Context) (interface{}, error) { return "should not run", nil },
	})
	require.NoError(t, err)

	r := waitDone(t, h)
	require.Error(t, r.Err)
}

func TestExecuteWithRetry_RetriesTransientErrorThenSucceeds(t *testing.T) {
	sched, _ := newTestScheduler(t)

	var attempts int32
	h, err := sched.Submit(Job{
		ID: uuid.NewString(), Kind: KindEmbed, Slot: SlotCPUNLP,
		Run: func(ctx context.Context) (interface{}, error) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 2 {
				return nil, &TransientError{Err: errors.New("temporary network blip")}
			}
			return "recovered", nil
		},
	})
	require.NoError(t, err)

	r := waitDone(t, h)
	require.NoError(t, r.Err)
	require.Equal(t, "recovered", r.Value)
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
}

func TestExecuteWithRetry_RateLimitExceedsBoundReturnsAllEnginesBlocked(t *testing.T) {
	sched, _ := newTestScheduler(t)

	h, err := sched.Submit(Job{
		ID: uuid.NewString(), Kind: KindLLMFast, Slot: SlotGPU,
		Run: func(ctx context.Context) (interface{}, error) {
			return nil, &RateLimitError{Provider: "test-provider", Err: errors.New("429")}
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := h.Wait(ctx)
	require.NoError(t, err)
	require.Error(t, r.Err)
}

func TestDrain_WaitsForAllJobsToComplete(t *testing.T) {
	sched, _ := newTestScheduler(t)

	for i := 0; i < 5; i++ {
		_, err := sched.Submit(Job{
			ID: uuid.NewString(), Kind: KindExtract, Slot: SlotCPUNLP,
			Run: func(ctx context.Context) (interface{}, error) {
				time.Sleep(10 * time.Millisecond)
				return nil, nil
			},
		})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, sched.Drain(ctx, "", DrainAllJobs))
}

func TestDrain_SearchQueueOnlyDoesNotBlockOnOtherTasks(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "scheduler-test-drain.db")
	st, err := store.Open(dbPath, 8)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.Scheduler.CPUNLPSlots = 2
	pol := policy.New(st, cfg.Policy)
	sched := New(cfg.Scheduler, st, pol)
	t.Cleanup(sched.Close)

	blocked := make(chan struct{})
	_, err = sched.Submit(Job{
		ID: uuid.NewString(), TaskID: "other-task", Kind: KindExtract, Slot: SlotCPUNLP,
		Run: func(ctx context.Context) (interface{}, error) {
			<-blocked
			return nil, nil
		},
	})
	require.NoError(t, err)

	var finished atomic.Bool
	_, err = sched.Submit(Job{
		ID: uuid.NewString(), TaskID: "my-task", Kind: KindExtract, Slot: SlotCPUNLP,
		Run: func(ctx context.Context) (interface{}, error) {
			time.Sleep(10 * time.Millisecond)
			finished.Store(true)
			return nil, nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sched.Drain(ctx, "my-task", DrainSearchQueueOnly))
	require.True(t, finished.Load())

	close(blocked)
}
