// Package guard implements the queue guard: a per-(queue, backup) primitive
// that tags outbound messages with a monotonically increasing replication id
// while a backup is catching up, so the backup can later be told exactly
// which messages it missed.
package guard

import (
	"sync"

	"go.brokerha.dev/internal/ha/types"
)

// Guard is installed on a single queue for a single catching-up backup. It
// must be attached before any client can enqueue to the queue (ordering is
// load-bearing, see SPEC_FULL §4.4.1): once attached, every enqueue is
// tagged via Tag, and the tag is only released once Complete is called for
// it by the backup's replicating subscription.
//
// Guard acquires no additional mutex beyond its own; it never calls into a
// primary controller or queue registry, so it cannot participate in the
// controller's lock-ordering rules.
type Guard struct {
	mu        sync.Mutex
	queue     string
	nextID    int64
	pending   map[int64]struct{}
	attached  bool
	cancelled bool
}

// New creates a guard for the given queue name. The guard starts detached;
// call Attach before enqueues can be tagged.
func New(queueName string) *Guard {
	return &Guard{
		queue:   queueName,
		pending: make(map[int64]struct{}),
	}
}

// Attach marks the guard active. It is idempotent.
func (g *Guard) Attach() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attached = true
}

// Tag allocates the next replication id for an enqueued message and records
// it as pending completion. Returns types.ErrGuardCancelled if the guard has
// already been cancelled.
func (g *Guard) Tag() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelled {
		return 0, types.ErrGuardCancelled
	}
	g.nextID++
	id := g.nextID
	g.pending[id] = struct{}{}
	return id, nil
}

// Complete releases the per-message state for id once the backup has
// acknowledged replication of it. Completing an id that was never tagged or
// already completed is a no-op.
func (g *Guard) Complete(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, id)
}

// Pending reports whether id has been tagged but not yet completed. A
// message for which Pending is true must not be regarded as "completed to
// clients" by this guard.
func (g *Guard) Pending(id int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[id]
	return ok
}

// PendingCount returns the number of messages this guard has tagged but not
// yet completed; used for resource-policy metrics (guards hold state
// proportional to in-flight unacknowledged replications).
func (g *Guard) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Cancel detaches the guard; the queue reverts to unguarded operation and
// all outstanding pending ids are dropped.
func (g *Guard) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = true
	g.pending = make(map[int64]struct{})
}

// Cancelled reports whether Cancel has been called.
func (g *Guard) Cancelled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled
}

// DelayCompletion reports whether id is still awaited by at least one guard
// in guards, i.e. the message must not yet be regarded as completed to
// clients. A message is eligible for store-side completion exactly when
// DelayCompletion returns false for every guard set that ever observed it
// (testable property P6).
func DelayCompletion(id int64, guards []*Guard) bool {
	for _, g := range guards {
		if g.Pending(id) {
			return true
		}
	}
	return false
}
