package authqueue

import (
	"path/filepath"
	"testing"
	"time"

	"codenerd/internal/store"
	"codenerd/internal/task"

	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, staleAfter time.Duration) (*Queue, *store.Store, *task.Registry) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "authqueue-test.db")
	st, err := store.Open(dbPath, 8)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	reg := task.NewRegistry()
	return New(st, reg, staleAfter), st, reg
}

func TestEnqueue_CreatesPendingItemAndMarksWaiting(t *testing.T) {
	q, _, reg := newTestQueue(t, time.Hour)
	reg.GetOrCreate("task-1")

	itemID, err := q.Enqueue("task-1", "search-1", "h.test", "https://h.test/a", store.AuthCloudflare)
	require.NoError(t, err)
	require.NotEmpty(t, itemID)

	st, _ := reg.Get("task-1")
	require.Contains(t, st.WaitingForAuth(), "h.test::https://h.test/a")
}

func TestEnqueue_SecondSearchSameKeyFansOutSearchIDInstead(t *testing.T) {
	q, st, _ := newTestQueue(t, time.Hour)

	id1, err := q.Enqueue("task-1", "search-1", "h.test", "https://h.test/a", store.AuthCloudflare)
	require.NoError(t, err)
	id2, err := q.Enqueue("task-1", "search-2", "h.test", "https://h.test/a", store.AuthCloudflare)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	item, err := st.GetAuthQueueItem(id1)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"search-1", "search-2"}, item.SearchIDs)
}

func TestResolveAuth_ItemScopeClearsWaitingState(t *testing.T) {
	q, _, reg := newTestQueue(t, time.Hour)
	reg.GetOrCreate("task-1")
	itemID, err := q.Enqueue("task-1", "search-1", "h.test", "https://h.test/a", store.AuthLogin)
	require.NoError(t, err)

	require.NoError(t, q.ResolveAuth(ScopeItem, itemID, ActionResolved, `{"cookie":"x"}`))

	st, _ := reg.Get("task-1")
	require.NotContains(t, st.WaitingForAuth(), "h.test::https://h.test/a")
}

func TestResolveAuth_DomainScopeFansOutAcrossItemsAndInstallsSession(t *testing.T) {
	q, st, reg := newTestQueue(t, time.Hour)
	reg.GetOrCreate("task-1")
	reg.GetOrCreate("task-2")

	id1, err := q.Enqueue("task-1", "search-1", "h.test", "https://h.test/a", store.AuthCaptcha)
	require.NoError(t, err)
	id2, err := q.Enqueue("task-2", "search-9", "h.test", "https://h.test/b", store.AuthCaptcha)
	require.NoError(t, err)

	require.NoError(t, q.ResolveAuth(ScopeDomain, "h.test", ActionResolved, `{"cookie":"y"}`))

	item1, err := st.GetAuthQueueItem(id1)
	require.NoError(t, err)
	require.Equal(t, store.AuthItemResolved, item1.Status)
	require.Equal(t, `{"cookie":"y"}`, item1.SessionJSON)

	item2, err := st.GetAuthQueueItem(id2)
	require.NoError(t, err)
	require.Equal(t, store.AuthItemResolved, item2.Status)

	rst1, _ := reg.Get("task-1")
	require.Empty(t, rst1.WaitingForAuth())
	rst2, _ := reg.Get("task-2")
	require.Empty(t, rst2.WaitingForAuth())

	session, ok := q.SessionFor("h.test")
	require.False(t, ok) // both items are now resolved, not pending; SessionFor only scans pending items
	require.Empty(t, session)
}

func TestResolveAuth_UnknownScopeRejected(t *testing.T) {
	q, _, _ := newTestQueue(t, time.Hour)
	err := q.ResolveAuth(Scope("bogus"), "x", ActionResolved, "")
	require.Error(t, err)
}

func TestWaitingFor_OnlySurfacesStalePendingItems(t *testing.T) {
	q, _, _ := newTestQueue(t, -1*time.Nanosecond) // anything queued is immediately "stale"

	_, err := q.Enqueue("task-1", "search-1", "h.test", "https://h.test/a", store.AuthTurnstile)
	require.NoError(t, err)

	stale, err := q.WaitingFor("task-1")
	require.NoError(t, err)
	require.Len(t, stale, 1)
}

func TestWaitingFor_FreshItemNotYetStale(t *testing.T) {
	q, _, _ := newTestQueue(t, time.Hour)

	_, err := q.Enqueue("task-1", "search-1", "h.test", "https://h.test/a", store.AuthTurnstile)
	require.NoError(t, err)

	stale, err := q.WaitingFor("task-1")
	require.NoError(t, err)
	require.Empty(t, stale)
}

func TestSummary_CountsPendingAcrossTasks(t *testing.T) {
	q, _, _ := newTestQueue(t, time.Hour)
	_, err := q.Enqueue("task-1", "search-1", "h.test", "https://h.test/a", store.AuthOther)
	require.NoError(t, err)
	_, err = q.Enqueue("task-2", "search-2", "g.test", "https://g.test/b", store.AuthOther)
	require.NoError(t, err)

	n, err := q.Summary()
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
