package task

import (
	"path/filepath"
	"strconv"
	"testing"

	"codenerd/internal/errs"
	"codenerd/internal/store"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "task-test.db")
	st, err := store.Open(dbPath, 8)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewManager(st)
}

func TestCreateTask_RejectsEmptyHypothesis(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateTask("", store.Budget{MaxPages: 10})
	require.Error(t, err)
}

func TestCreateTask_InitializesExplorationState(t *testing.T) {
	m := newTestManager(t)
	task, err := m.CreateTask("does X cause Y", store.Budget{MaxPages: 10})
	require.NoError(t, err)

	st, ok := m.Registry().Get(task.ID)
	require.True(t, ok)
	require.False(t, st.IsPaused())
}

func TestStopTask_GracefulPausesAndKeepsState(t *testing.T) {
	m := newTestManager(t)
	tk, err := m.CreateTask("h", store.Budget{MaxPages: 10})
	require.NoError(t, err)

	require.NoError(t, m.StopTask(tk.ID, true, StopScopeSearchQueueOnly))

	reloaded, err := m.GetTask(tk.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskPaused, reloaded.Status)

	st, ok := m.Registry().Get(tk.ID)
	require.True(t, ok)
	require.True(t, st.IsPaused())
}

func TestStopTask_NonGracefulMarksFailed(t *testing.T) {
	m := newTestManager(t)
	tk, err := m.CreateTask("h", store.Budget{MaxPages: 10})
	require.NoError(t, err)

	require.NoError(t, m.StopTask(tk.ID, false, StopScopeAllJobs))

	reloaded, err := m.GetTask(tk.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskFailed, reloaded.Status)
}

func TestGetTask_UnknownIDReturnsTaskNotFoundKind(t *testing.T) {
	m := newTestManager(t)
	_, err := m.GetTask("does-not-exist")
	require.Error(t, err)
	wrapped, ok := errs.As(err)
	require.True(t, ok)
	require.Equal(t, errs.KindTaskNotFound, wrapped.Kind)
}

func TestCreateSearch_TracksActiveSearchCount(t *testing.T) {
	m := newTestManager(t)
	tk, err := m.CreateTask("h", store.Budget{MaxPages: 10})
	require.NoError(t, err)

	s1, err := m.CreateSearch(tk.ID, "query one")
	require.NoError(t, err)
	_, err = m.CreateSearch(tk.ID, "query two")
	require.NoError(t, err)

	st, _ := m.Registry().Get(tk.ID)
	require.Equal(t, 2, st.ActiveSearchCount())

	require.NoError(t, m.FinishSearch(tk.ID, s1.ID, store.SearchSatisfied, store.SearchMetrics{PagesFetched: 3}))
	require.Equal(t, 1, st.ActiveSearchCount())
}

func TestExplorationState_WarningsAreCappedAndOrdered(t *testing.T) {
	m := newTestManager(t)
	tk, err := m.CreateTask("h", store.Budget{MaxPages: 10})
	require.NoError(t, err)

	st := m.Registry().GetOrCreate(tk.ID)
	for i := 0; i < 55; i++ {
		st.AddWarning("fetch: disk full " + strconv.Itoa(i))
	}
	warnings := st.Warnings()
	require.Len(t, warnings, 50)
	require.Equal(t, "fetch: disk full 5", warnings[0])
	require.Equal(t, "fetch: disk full 54", warnings[49])
}

func TestEvaluateStoppingCondition_SatisfiedAtThreeIndependentSources(t *testing.T) {
	status := EvaluateStoppingCondition(store.SearchMetrics{}, 3, 50)
	require.Equal(t, store.SearchSatisfied, status)
}

func TestEvaluateStoppingCondition_SatisfiedWithPrimaryPlusOneMore(t *testing.T) {
	status := EvaluateStoppingCondition(store.SearchMetrics{HasPrimarySource: true}, 2, 50)
	require.Equal(t, store.SearchSatisfied, status)
}

func TestEvaluateStoppingCondition_ExhaustedOnPageBudget(t *testing.T) {
	status := EvaluateStoppingCondition(store.SearchMetrics{PagesFetched: 50}, 0, 50)
	require.Equal(t, store.SearchExhausted, status)
}

func TestEvaluateStoppingCondition_ExhaustedOnStaleWindows(t *testing.T) {
	status := EvaluateStoppingCondition(store.SearchMetrics{StaleWindows: 2}, 1, 50)
	require.Equal(t, store.SearchExhausted, status)
}

func TestEvaluateStoppingCondition_RunningOtherwise(t *testing.T) {
	status := EvaluateStoppingCondition(store.SearchMetrics{PagesFetched: 1}, 1, 50)
	require.Equal(t, store.SearchRunning, status)
}

func TestAdvanceNoveltyWindow_ResetsOnRecovery(t *testing.T) {
	metrics := store.SearchMetrics{StaleWindows: 1}
	metrics = AdvanceNoveltyWindow(metrics, 0.9, 0.2)
	require.Equal(t, 0, metrics.StaleWindows)

	metrics = AdvanceNoveltyWindow(metrics, 0.05, 0.2)
	require.Equal(t, 1, metrics.StaleWindows)
}

func TestFinalizeAsPartial_LeavesTerminalStatusesAlone(t *testing.T) {
	require.Equal(t, store.SearchSatisfied, FinalizeAsPartial(store.SearchSatisfied))
	require.Equal(t, store.SearchExhausted, FinalizeAsPartial(store.SearchExhausted))
	require.Equal(t, store.SearchPartial, FinalizeAsPartial(store.SearchRunning))
}
