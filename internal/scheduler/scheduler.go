package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"codenerd/internal/config"
	"codenerd/internal/errs"
	"codenerd/internal/logging"
	"codenerd/internal/policy"
	"codenerd/internal/store"

	"golang.org/x/sync/semaphore"
)

// DrainScope selects which queued/running work Drain waits for.
type DrainScope string

const (
	DrainSearchQueueOnly DrainScope = "search_queue_only"
	DrainAllJobs         DrainScope = "all_jobs"
)

// Scheduler admits typed jobs onto capped, prioritized, mutually-exclusive
// slots. One Scheduler exists per process, shared across all tasks.
type Scheduler struct {
	cfg config.SchedulerConfig
	st  *store.Store
	pol *policy.Store

	mu    sync.Mutex
	queue jobHeap
	seq   uint64

	subscribers []chan Event

	// gpu and browser_headful draw from the same weight-1 semaphore: spec
	// §4.1 requires both capped at 1 concurrency AND mutually exclusive
	// with each other, which a shared semaphore gives for free.
	gpuBrowserSem *semaphore.Weighted
	networkSem    *semaphore.Weighted
	cpuSem        *semaphore.Weighted

	domainMu   sync.Mutex
	domainBusy map[string]bool

	// phaseMu guards phaseCounts, a per-task count of not-yet-terminal
	// jobs by Phase, incremented on Submit and decremented whenever a
	// job's Handle reaches a terminal status. Read by get_status's
	// phase-based job counts (spec §4.9).
	phaseMu     sync.Mutex
	phaseCounts map[string]map[Phase]int

	wakeup chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
	stopCh    chan struct{}
}

// New builds a Scheduler and starts its dispatch loop.
func New(cfg config.SchedulerConfig, st *store.Store, pol *policy.Store) *Scheduler {
	cpuSlots := cfg.CPUNLPSlots
	if cpuSlots <= 0 {
		cpuSlots = runtime.NumCPU()
	}
	networkSlots := cfg.NetworkClientSlots
	if networkSlots <= 0 {
		networkSlots = 4
	}

	s := &Scheduler{
		cfg:           cfg,
		st:            st,
		pol:           pol,
		gpuBrowserSem: semaphore.NewWeighted(1),
		networkSem:    semaphore.NewWeighted(int64(networkSlots)),
		cpuSem:        semaphore.NewWeighted(int64(cpuSlots)),
		domainBusy:    make(map[string]bool),
		phaseCounts:   make(map[string]map[Phase]int),
		wakeup:        make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
	go s.dispatchLoop()
	return s
}

// Submit enqueues job and returns an observation handle. Budget and breaker
// checks happen at dequeue time, not submission time, since task state may
// change while a job waits in queue.
func (s *Scheduler) Submit(job Job) (*Handle, error) {
	if job.Slot == SlotNetworkClient && job.Domain == "" {
		return nil, errs.New(errs.KindInvalidParams, "network_client jobs require a domain", nil)
	}
	if job.Run == nil {
		return nil, errs.New(errs.KindInvalidParams, "job requires a Run function", nil)
	}

	s.mu.Lock()
	s.seq++
	job.seq = s.seq
	job.submittedAt = time.Now().UTC()
	h := newHandle(&job)
	heap.Push(&s.queue, &pendingJob{job: &job, handle: h})
	s.mu.Unlock()

	s.incPhase(job.TaskID, job.Kind)
	s.ping()
	return h, nil
}

// incPhase/decPhase track the in-flight job count for a task's phase,
// skipping jobs with no owning task (e.g. maintenance work).
func (s *Scheduler) incPhase(taskID string, kind Kind) {
	if taskID == "" {
		return
	}
	phase := phaseOf(kind)
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	counts, ok := s.phaseCounts[taskID]
	if !ok {
		counts = make(map[Phase]int)
		s.phaseCounts[taskID] = counts
	}
	counts[phase]++
}

func (s *Scheduler) decPhase(taskID string, kind Kind) {
	if taskID == "" {
		return
	}
	phase := phaseOf(kind)
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	counts, ok := s.phaseCounts[taskID]
	if !ok {
		return
	}
	if counts[phase] > 0 {
		counts[phase]--
	}
}

// PhaseCounts reports a task's current count of not-yet-terminal jobs by
// phase (exploration/verification/citation), per spec §4.9's get_status
// phase-based job counts.
func (s *Scheduler) PhaseCounts(taskID string) map[Phase]int {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	out := map[Phase]int{PhaseExploration: 0, PhaseVerification: 0, PhaseCitation: 0}
	for phase, n := range s.phaseCounts[taskID] {
		out[phase] = n
	}
	return out
}

// Cancel cooperatively cancels a running job, or removes it from the queue
// if it has not started yet.
func (s *Scheduler) Cancel(h *Handle) error {
	s.mu.Lock()
	for i, pj := range s.queue {
		if pj.handle == h {
			heap.Remove(&s.queue, i)
			s.mu.Unlock()
			h.finish(StatusCancelled, Result{Err: errors.New("cancelled before admission")})
			s.decPhase(pj.job.TaskID, pj.job.Kind)
			return nil
		}
	}
	s.mu.Unlock()

	if h.Status() == StatusRunning {
		h.requestCancel()
	}
	return nil
}

// Drain blocks until no job matching scope is queued or running.
// Drain waits for queued/running work to complete under scope. DrainAllJobs
// waits for every job across every task (a full scheduler quiesce); an
// empty taskID always takes this path regardless of scope, since there is
// nothing to scope to. DrainSearchQueueOnly waits only for the given
// task's own in-flight jobs (tracked per-task in phaseCounts), so draining
// one task never blocks on another task's unrelated work, per spec §5
// ("one task's progress does not block another").
func (s *Scheduler) Drain(ctx context.Context, taskID string, scope DrainScope) error {
	if scope == DrainAllJobs || taskID == "" {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			s.mu.Lock()
			queued := s.queue.Len()
			s.mu.Unlock()
			if queued == 0 {
				break
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.taskJobCount(taskID) == 0 {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// taskJobCount sums a task's in-flight job count across every phase.
func (s *Scheduler) taskJobCount(taskID string) int {
	total := 0
	for _, n := range s.PhaseCounts(taskID) {
		total += n
	}
	return total
}

// Close stops the dispatch loop. Already-running jobs are not interrupted.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) ping() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatchLoop() {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.wakeup:
			s.dispatchOnce()
		case <-ticker.C:
			// Periodic sweep catches jobs deferred on a domain breaker
			// cooldown that has since expired.
			s.dispatchOnce()
		}
	}
}

// dispatchOnce scans the queue once in priority order, admitting every job
// whose slot/domain/budget conditions currently allow it, per spec §4.1
// rules 1-4.
func (s *Scheduler) dispatchOnce() {
	s.mu.Lock()
	var deferred jobHeap
	for s.queue.Len() > 0 {
		pj := heap.Pop(&s.queue).(*pendingJob)
		admitted, reject, release := s.tryAdmit(pj)
		switch {
		case reject != nil:
			go func(pj *pendingJob, reject error) {
				pj.handle.finish(StatusFailed, Result{Err: reject})
				s.decPhase(pj.job.TaskID, pj.job.Kind)
				s.emit(Event{Kind: EventBudgetWarning, TaskID: pj.job.TaskID, JobID: pj.job.ID, Detail: reject.Error()})
			}(pj, reject)
		case admitted:
			s.wg.Add(1)
			go s.runJob(pj, release)
		default:
			deferred = append(deferred, pj)
		}
	}
	for _, pj := range deferred {
		heap.Push(&s.queue, pj)
	}
	s.mu.Unlock()
}

// tryAdmit attempts non-blocking admission of one job. It returns
// (admitted=true) with a release func when the job may run now,
// (reject!=nil) when the job is terminally refused (budget exhausted), or
// (admitted=false, reject=nil) when the job should stay queued.
func (s *Scheduler) tryAdmit(pj *pendingJob) (admitted bool, reject error, release func()) {
	job := pj.job

	if reject := s.checkBudget(job); reject != nil {
		return false, reject, nil
	}

	switch job.Slot {
	case SlotGPU, SlotBrowserHeadful:
		if !s.gpuBrowserSem.TryAcquire(1) {
			return false, nil, nil
		}
		return true, nil, func() { s.gpuBrowserSem.Release(1) }

	case SlotCPUNLP:
		if !s.cpuSem.TryAcquire(1) {
			return false, nil, nil
		}
		return true, nil, func() { s.cpuSem.Release(1) }

	case SlotNetworkClient:
		if s.pol != nil {
			admit, _, err := s.pol.CanAdmit(job.Domain)
			if err != nil {
				logging.SchedulerWarn("policy check failed for domain %s: %v", job.Domain, err)
				return false, nil, nil
			}
			if !admit {
				return false, nil, nil
			}
		}
		s.domainMu.Lock()
		if s.domainBusy[job.Domain] {
			s.domainMu.Unlock()
			return false, nil, nil
		}
		if !s.networkSem.TryAcquire(1) {
			s.domainMu.Unlock()
			return false, nil, nil
		}
		s.domainBusy[job.Domain] = true
		s.domainMu.Unlock()
		return true, nil, func() {
			s.networkSem.Release(1)
			s.domainMu.Lock()
			delete(s.domainBusy, job.Domain)
			s.domainMu.Unlock()
		}

	default:
		return true, nil, func() {}
	}
}

// checkBudget enforces the page/LLM-time budget guard, spec §4.1 rule 4.
func (s *Scheduler) checkBudget(job *Job) error {
	if s.st == nil || job.TaskID == "" {
		return nil
	}
	task, err := s.st.GetTask(job.TaskID)
	if err != nil {
		return nil // task lookup failures surface elsewhere; don't block on them here
	}

	switch job.Kind {
	case KindFetch, KindPrefetch, KindSERP:
		if task.Budget.MaxPages > 0 && task.PagesUsed >= task.Budget.MaxPages {
			return errs.New(errs.KindBudgetExhausted, "page budget exhausted", nil)
		}
	default:
		if isLLM(job.Kind) && task.Budget.MaxLLMFraction > 0 && task.SecondsUsed > 0 {
			fraction := task.LLMSeconds / float64(task.SecondsUsed)
			if fraction >= task.Budget.MaxLLMFraction {
				return errs.New(errs.KindBudgetExhausted, "llm time fraction budget exhausted", nil)
			}
		}
	}
	return nil
}

// runJob executes an admitted job, including bounded retry/backoff and
// provider-429 fallback handling, per spec §4.1's failure semantics.
func (s *Scheduler) runJob(pj *pendingJob, release func()) {
	defer s.wg.Done()

	job, h := pj.job, pj.handle
	ctx, cancel := context.WithCancel(context.Background())
	h.setCancel(cancel)
	h.setStatus(StatusRunning)
	s.emit(Event{Kind: EventSearchStarted, TaskID: job.TaskID, JobID: job.ID})

	start := time.Now()
	value, err := s.executeWithRetry(ctx, job, release)
	elapsed := time.Since(start)

	if isLLM(job.Kind) && s.st != nil && job.TaskID != "" {
		if uerr := s.st.IncrementTaskUsage(job.TaskID, 0, 0, elapsed.Seconds()); uerr != nil {
			logging.SchedulerWarn("failed to record llm usage for task %s: %v", job.TaskID, uerr)
		}
	}

	if err != nil {
		var fatal *FatalError
		if errors.As(err, &fatal) {
			logging.SchedulerError("job %s FATAL: %v", job.ID, err)
		}
		h.finish(StatusFailed, Result{Err: err})
		s.decPhase(job.TaskID, job.Kind)
		s.emit(Event{Kind: EventSearchCompleted, TaskID: job.TaskID, JobID: job.ID, Detail: "failed: " + err.Error()})
		return
	}

	h.finish(StatusCompleted, Result{Value: value})
	s.decPhase(job.TaskID, job.Kind)
	s.emit(Event{Kind: EventSearchCompleted, TaskID: job.TaskID, JobID: job.ID})

	s.enqueueChainJobs(job)
}

// executeWithRetry runs job.Run, retrying transient errors in place
// (bounded, exponential backoff 0.5s->4s, +/-10% jitter) and releasing the
// slot before backing off on a provider 429/5xx so other work is not
// starved, per spec §4.1.
func (s *Scheduler) executeWithRetry(ctx context.Context, job *Job, release func()) (interface{}, error) {
	const maxTransientRetries = 3
	const maxConsecutive429 = 3

	base := s.cfg.RetryBaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxDelay := s.cfg.RetryMaxDelay
	if maxDelay <= 0 {
		maxDelay = 4 * time.Second
	}
	jitterFrac := s.cfg.RetryJitterFraction
	if jitterFrac <= 0 {
		jitterFrac = 0.1
	}

	slotHeld := true
	releaseOnce := func() {
		if slotHeld {
			release()
			slotHeld = false
		}
	}
	defer releaseOnce()

	consecutive429 := 0
	for attempt := 0; ; attempt++ {
		value, err := job.Run(ctx)
		if err == nil {
			return value, nil
		}

		var transient *TransientError
		var rateLimited *RateLimitError
		var fatal *FatalError
		switch {
		case errors.As(err, &fatal):
			return nil, err

		case errors.As(err, &rateLimited):
			consecutive429++
			if consecutive429 >= maxConsecutive429 {
				return nil, errs.New(errs.KindAllEnginesBlocked,
					"provider "+rateLimited.Provider+" exceeded consecutive 429/5xx bound", err)
			}
			releaseOnce() // release before backing off so other work proceeds
			if !s.sleepBackoff(ctx, backoffDelay(attempt, base, maxDelay, jitterFrac)) {
				return nil, ctx.Err()
			}
			continue

		case errors.As(err, &transient):
			if attempt >= maxTransientRetries {
				return nil, err
			}
			if !s.sleepBackoff(ctx, backoffDelay(attempt, base, maxDelay, jitterFrac)) {
				return nil, ctx.Err()
			}
			continue

		default:
			return nil, err
		}
	}
}

func (s *Scheduler) sleepBackoff(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func backoffDelay(attempt int, base, max time.Duration, jitterFrac float64) time.Duration {
	d := base * time.Duration(1<<uint(attempt))
	if d > max {
		d = max
	}
	jitter := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(d) * jitter)
}

// enqueueChainJobs is called after every successful job and submits
// nothing: the scheduler has no evidence-graph access to build follow-up
// jobs. The pipeline executor submits its verify_nli and citation_graph
// jobs itself, right after the steps that produce their inputs.
func (s *Scheduler) enqueueChainJobs(job *Job) {
}
