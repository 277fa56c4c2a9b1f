// Package task owns task/search lifecycle and the per-process exploration-
// state registry, per spec §9's re-architecture note: "replace [global
// singleton state] with explicit context objects ... a per-process registry
// keyed by task_id for the exploration state; acquire under a small async
// lock at first use to prevent duplicate initialization (the source had a
// multi-worker race requiring the same fix)".
package task

import "sync"

// ExplorationState is the in-memory, per-task live view the pipeline
// executor and control surface consult: which searches are active, which
// auth-wait items are outstanding, and whether the task is currently
// accepting new work. It is intentionally thin — durable state lives in
// the store; this is only the hot, frequently-read working set.
type ExplorationState struct {
	TaskID string

	mu             sync.RWMutex
	activeSearches map[string]struct{}
	waitingForAuth map[string]struct{} // keys are "domain::url" (authqueue's waitKey)
	paused         bool
	warnings       []string
}

func newExplorationState(taskID string) *ExplorationState {
	return &ExplorationState{
		TaskID:         taskID,
		activeSearches: make(map[string]struct{}),
		waitingForAuth: make(map[string]struct{}),
	}
}

// MarkSearchActive/MarkSearchDone track which searches are currently
// in-flight for this task.
func (e *ExplorationState) MarkSearchActive(searchID string) {
	e.mu.Lock()
	e.activeSearches[searchID] = struct{}{}
	e.mu.Unlock()
}

func (e *ExplorationState) MarkSearchDone(searchID string) {
	e.mu.Lock()
	delete(e.activeSearches, searchID)
	e.mu.Unlock()
}

// ActiveSearchCount reports how many searches are currently running.
func (e *ExplorationState) ActiveSearchCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.activeSearches)
}

// SetWaitingForAuth/ClearWaitingForAuth track auth-blocked item keys,
// surfaced by the control surface's get_status.waiting_for.
func (e *ExplorationState) SetWaitingForAuth(key string) {
	e.mu.Lock()
	e.waitingForAuth[key] = struct{}{}
	e.mu.Unlock()
}

func (e *ExplorationState) ClearWaitingForAuth(key string) {
	e.mu.Lock()
	delete(e.waitingForAuth, key)
	e.mu.Unlock()
}

// WaitingForAuth returns a snapshot of outstanding auth-wait item keys.
func (e *ExplorationState) WaitingForAuth() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.waitingForAuth))
	for k := range e.waitingForAuth {
		out = append(out, k)
	}
	return out
}

// AddWarning records a non-fatal-to-the-task but notable event (a fatal
// fetch/extract error that halted one candidate, say) for later surfacing
// under get_status.warnings, per spec §7. The list is capped so a noisy
// task can't grow it without bound.
func (e *ExplorationState) AddWarning(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.warnings = append(e.warnings, msg)
	if len(e.warnings) > 50 {
		e.warnings = e.warnings[len(e.warnings)-50:]
	}
}

// Warnings returns a snapshot of this task's recorded warnings.
func (e *ExplorationState) Warnings() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.warnings))
	copy(out, e.warnings)
	return out
}

// SetPaused/IsPaused track whether new work should be admitted for this task.
func (e *ExplorationState) SetPaused(paused bool) {
	e.mu.Lock()
	e.paused = paused
	e.mu.Unlock()
}

func (e *ExplorationState) IsPaused() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.paused
}

// Registry is the process-wide exploration-state map. Exactly one
// ExplorationState exists per task_id for the process's lifetime.
type Registry struct {
	mu        sync.Mutex
	states    map[string]*ExplorationState
	initLocks map[string]*sync.Mutex
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		states:    make(map[string]*ExplorationState),
		initLocks: make(map[string]*sync.Mutex),
	}
}

// GetOrCreate returns the ExplorationState for taskID, creating it exactly
// once even under concurrent first access from multiple callers (the
// "multi-worker race" spec §9 calls out): each task_id gets its own
// initialization lock, acquired only on the cold path, so concurrent
// GetOrCreate calls for *different* tasks never wait on each other's
// initialization; they share only the registry-wide map mutex, held for map
// lookups and writes.
func (r *Registry) GetOrCreate(taskID string) *ExplorationState {
	r.mu.Lock()
	if st, ok := r.states[taskID]; ok {
		r.mu.Unlock()
		return st
	}
	lock, ok := r.initLocks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		r.initLocks[taskID] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	if st, ok := r.states[taskID]; ok {
		r.mu.Unlock()
		return st
	}
	r.mu.Unlock()

	st := newExplorationState(taskID)

	r.mu.Lock()
	r.states[taskID] = st
	delete(r.initLocks, taskID)
	r.mu.Unlock()

	return st
}

// Get returns the existing ExplorationState for taskID, or nil if the task
// has never been touched this process.
func (r *Registry) Get(taskID string) (*ExplorationState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[taskID]
	return st, ok
}

// Drop removes a task's in-memory state, e.g. once it reaches a terminal
// status and its control-surface session has ended.
func (r *Registry) Drop(taskID string) {
	r.mu.Lock()
	delete(r.states, taskID)
	r.mu.Unlock()
}
