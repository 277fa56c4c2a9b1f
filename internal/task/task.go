package task

import (
	"time"

	"codenerd/internal/errs"
	"codenerd/internal/logging"
	"codenerd/internal/store"

	"github.com/google/uuid"
)

// Manager owns task and search lifecycle transitions, backed by the
// durable store and the process-wide exploration-state registry.
type Manager struct {
	st       *store.Store
	registry *Registry
}

// NewManager builds a task Manager.
func NewManager(st *store.Store) *Manager {
	return &Manager{st: st, registry: NewRegistry()}
}

// Registry exposes the exploration-state registry for other components
// (pipeline, control surface) that need to read or update live task state.
func (m *Manager) Registry() *Registry { return m.registry }

// CreateTask starts a new research task with the given hypothesis and
// budget, per control-surface contract create_task(hypothesis, config?).
func (m *Manager) CreateTask(hypothesis string, budget store.Budget) (store.Task, error) {
	if hypothesis == "" {
		return store.Task{}, errs.New(errs.KindInvalidParams, "hypothesis is required", nil)
	}
	t := store.Task{
		ID:         uuid.NewString(),
		Hypothesis: hypothesis,
		Status:     store.TaskCreated,
		Budget:     budget,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.st.CreateTask(t); err != nil {
		return store.Task{}, errs.Wrap(errs.KindInternal, err)
	}
	m.registry.GetOrCreate(t.ID)
	logging.Task("created task %s: %q", t.ID, hypothesis)
	return t, nil
}

// GetTask loads a task, translating a not-found into the control surface's
// TASK_NOT_FOUND kind.
func (m *Manager) GetTask(taskID string) (store.Task, error) {
	t, err := m.st.GetTask(taskID)
	if err != nil {
		if err == store.ErrNotFound {
			return store.Task{}, errs.New(errs.KindTaskNotFound, "task "+taskID+" not found", err)
		}
		return store.Task{}, errs.Wrap(errs.KindInternal, err)
	}
	return t, nil
}

// StartExploring transitions a task from created/paused into exploring,
// e.g. when queue_targets enqueues the first (or another) batch of work.
func (m *Manager) StartExploring(taskID string) error {
	if err := m.st.UpdateTaskStatus(taskID, store.TaskExploring); err != nil {
		return errs.Wrap(errs.KindInternal, err)
	}
	m.registry.GetOrCreate(taskID).SetPaused(false)
	return nil
}

// StopScope selects what stop_task pauses or halts.
type StopScope string

const (
	StopScopeSearchQueueOnly StopScope = "search_queue_only"
	StopScopeAllJobs         StopScope = "all_jobs"
)

// StopTask pauses a task gracefully (graceful=true keeps partial results and
// allows a later queue_targets to resume) or marks it failed (graceful=
// false), per spec scenario 6. Scope selection is advisory to the caller's
// scheduler.Drain; the task package only records the resulting status.
func (m *Manager) StopTask(taskID string, graceful bool, scope StopScope) error {
	status := store.TaskPaused
	if !graceful {
		status = store.TaskFailed
	}
	if err := m.st.UpdateTaskStatus(taskID, status); err != nil {
		return errs.Wrap(errs.KindInternal, err)
	}
	if st, ok := m.registry.Get(taskID); ok {
		st.SetPaused(true)
	}
	logging.Task("task %s stopped (graceful=%v scope=%s) -> %s", taskID, graceful, scope, status)
	return nil
}

// CompleteTask marks a task as completed once the strategist ends exploration.
func (m *Manager) CompleteTask(taskID string) error {
	if err := m.st.UpdateTaskStatus(taskID, store.TaskCompleted); err != nil {
		return errs.Wrap(errs.KindInternal, err)
	}
	return nil
}

// CreateSearch starts a new Search under a task for one strategist-supplied
// target, per spec §4.7.
func (m *Manager) CreateSearch(taskID, queryText string) (store.Search, error) {
	s := store.Search{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		QueryText: queryText,
		Status:    store.SearchQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.st.CreateSearch(s); err != nil {
		return store.Search{}, errs.Wrap(errs.KindInternal, err)
	}
	m.registry.GetOrCreate(taskID).MarkSearchActive(s.ID)
	return s, nil
}

// FinishSearch records a search's terminal status and metrics, and retires
// it from the task's active-search set.
func (m *Manager) FinishSearch(taskID, searchID string, status store.SearchStatus, metrics store.SearchMetrics) error {
	if err := m.st.UpdateSearchMetrics(searchID, metrics); err != nil {
		return errs.Wrap(errs.KindInternal, err)
	}
	if err := m.st.UpdateSearchStatus(searchID, status); err != nil {
		return errs.Wrap(errs.KindInternal, err)
	}
	if st, ok := m.registry.Get(taskID); ok {
		st.MarkSearchDone(searchID)
	}
	return nil
}
