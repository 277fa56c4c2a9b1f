// Package authqueue implements the per-domain human-intervention queue
// described by spec §4.8: a blocked fetch is deferred, never failed, and a
// single domain-scoped resolution fans out to every pending item on that
// host while installing the captured session for reuse by later fetches.
// The mutex-protected per-key bookkeeping here is adapted from the teacher's
// browser session manager, generalized from live rod.Page sessions to
// durable queue rows.
package authqueue

import (
	"strings"
	"time"

	"codenerd/internal/errs"
	"codenerd/internal/logging"
	"codenerd/internal/store"
	"codenerd/internal/task"

	"github.com/google/uuid"
)

// Scope selects what resolve_auth unblocks.
type Scope string

const (
	ScopeItem   Scope = "item"
	ScopeDomain Scope = "domain"
)

// Action is the resolution outcome resolve_auth records.
type Action string

const (
	ActionResolved Action = "resolved"
	ActionSkipped  Action = "skipped"
	ActionFailed   Action = "failed"
)

func (a Action) status() store.AuthQueueItemStatus {
	switch a {
	case ActionResolved:
		return store.AuthItemResolved
	case ActionSkipped:
		return store.AuthItemSkipped
	case ActionFailed:
		return store.AuthItemFailed
	default:
		return store.AuthItemFailed
	}
}

// Queue is the auth-wait queue: a thin layer over the durable store that
// additionally mirrors "waiting" state into the task package's per-task
// ExplorationState so get_status.waiting_for can read it without a store
// round trip.
type Queue struct {
	st         *store.Store
	registry   *task.Registry
	staleAfter time.Duration
}

// New builds an auth-wait queue. staleAfter is the interval after which an
// untouched pending item is surfaced as stale by WaitingFor.
func New(st *store.Store, registry *task.Registry, staleAfter time.Duration) *Queue {
	return &Queue{st: st, registry: registry, staleAfter: staleAfter}
}

func waitKey(domain, url string) string { return domain + "::" + url }

// Enqueue records a blocked fetch, keyed by (task_id, domain, url) per spec
// §4.8. A second search hitting an already-pending (domain, url) pair fans
// its search id onto the existing item instead of creating a duplicate.
func (q *Queue) Enqueue(taskID, searchID, domain, url string, authType store.AuthType) (string, error) {
	if domain == "" || url == "" {
		return "", errs.New(errs.KindInvalidParams, "domain and url are required", nil)
	}

	pending, err := q.st.ListPendingAuthQueueByDomain(domain)
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, err)
	}
	for _, item := range pending {
		if item.TaskID == taskID && item.URL == url {
			if err := q.st.AppendAuthQueueSearchID(item.ID, searchID); err != nil {
				return "", errs.Wrap(errs.KindInternal, err)
			}
			return item.ID, nil
		}
	}

	item := store.AuthQueueItem{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		URL:       url,
		Domain:    domain,
		AuthType:  authType,
		Priority:  0,
		QueuedAt:  time.Now().UTC(),
		SearchIDs: []string{searchID},
		Status:    store.AuthItemPending,
	}
	if err := q.st.CreateAuthQueueItem(item); err != nil {
		return "", errs.Wrap(errs.KindInternal, err)
	}
	if st, ok := q.registry.Get(taskID); ok {
		st.SetWaitingForAuth(waitKey(domain, url))
	}
	logging.AuthQueue("task %s deferred fetch of %s (auth_type=%s)", taskID, url, authType)
	return item.ID, nil
}

// ResolveAuth fans a human decision out to the queue. scope=item resolves a
// single item by id; scope=domain resolves every pending item on that host
// and, when sessionJSON is non-empty, installs it on each so subsequent
// fetches on the domain can reuse the captured cookies.
func (q *Queue) ResolveAuth(scope Scope, key string, action Action, sessionJSON string) error {
	switch scope {
	case ScopeItem:
		return q.resolveItem(key, action, sessionJSON)
	case ScopeDomain:
		return q.resolveDomain(key, action, sessionJSON)
	default:
		return errs.New(errs.KindInvalidParams, "scope must be item or domain", nil)
	}
}

func (q *Queue) resolveItem(itemID string, action Action, sessionJSON string) error {
	item, err := q.st.GetAuthQueueItem(itemID)
	if err != nil {
		if err == store.ErrNotFound {
			return errs.New(errs.KindInvalidParams, "auth queue item "+itemID+" not found", err)
		}
		return errs.Wrap(errs.KindInternal, err)
	}
	if err := q.st.UpdateAuthQueueStatus(itemID, action.status()); err != nil {
		return errs.Wrap(errs.KindInternal, err)
	}
	if sessionJSON != "" {
		if err := q.st.SetAuthQueueSession(itemID, sessionJSON); err != nil {
			return errs.Wrap(errs.KindInternal, err)
		}
	}
	if st, ok := q.registry.Get(item.TaskID); ok {
		st.ClearWaitingForAuth(waitKey(item.Domain, item.URL))
	}
	logging.AuthQueue("resolved auth item %s (action=%s)", itemID, action)
	return nil
}

func (q *Queue) resolveDomain(domain string, action Action, sessionJSON string) error {
	pending, err := q.st.ListPendingAuthQueueByDomain(domain)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err)
	}
	for _, item := range pending {
		if err := q.st.UpdateAuthQueueStatus(item.ID, action.status()); err != nil {
			return errs.Wrap(errs.KindInternal, err)
		}
		if sessionJSON != "" {
			if err := q.st.SetAuthQueueSession(item.ID, sessionJSON); err != nil {
				return errs.Wrap(errs.KindInternal, err)
			}
		}
		if st, ok := q.registry.Get(item.TaskID); ok {
			st.ClearWaitingForAuth(waitKey(item.Domain, item.URL))
		}
	}
	logging.AuthQueue("resolved %d auth items for domain %s (action=%s)", len(pending), domain, action)
	return nil
}

// SessionFor returns the most recently captured session artifact for a
// domain, if any prior resolution installed one, so a fetcher can attach it
// to its next request instead of re-triggering the challenge.
func (q *Queue) SessionFor(domain string) (string, bool) {
	items, err := q.st.ListAllPendingAuthQueue()
	if err != nil {
		return "", false
	}
	for _, item := range items {
		if strings.EqualFold(item.Domain, domain) && item.SessionJSON != "" {
			return item.SessionJSON, true
		}
	}
	return "", false
}

// WaitingFor returns the items pending against a task for longer than the
// queue's stale interval, for get_status.waiting_for.
func (q *Queue) WaitingFor(taskID string) ([]store.AuthQueueItem, error) {
	all, err := q.st.ListAuthQueueByTask(taskID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err)
	}
	cutoff := time.Now().UTC().Add(-q.staleAfter)
	stale := make([]store.AuthQueueItem, 0, len(all))
	for _, item := range all {
		if item.Status == store.AuthItemPending && item.QueuedAt.Before(cutoff) {
			stale = append(stale, item)
		}
	}
	return stale, nil
}

// Summary returns a count of pending items across every task, for the
// control surface's aggregate auth-queue view.
func (q *Queue) Summary() (pending int, err error) {
	items, err := q.st.ListAllPendingAuthQueue()
	if err != nil {
		return 0, errs.Wrap(errs.KindInternal, err)
	}
	return len(items), nil
}
