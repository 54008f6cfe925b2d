// Package backup implements the remote-backup tracker: the per-backup
// record of identity, connection, and catch-up/ready queue bookkeeping. A
// RemoteBackup has no independent lock; per SPEC_FULL §5 it is always
// accessed under its owning primary controller's lock.
package backup

import (
	"go.brokerha.dev/internal/ha/guard"
	"go.brokerha.dev/internal/ha/types"
)

// ConnectionHandle identifies the inbound session a backup currently holds.
// It is an opaque comparable value (e.g. a pointer or connection id) so the
// controller can detect "same connection" vs. "a different connection for
// the same systemId" without depending on a concrete transport type.
type ConnectionHandle any

// RemoteBackup is the per-backup record described in SPEC_FULL §3.
type RemoteBackup struct {
	Info       types.BrokerInfo
	Connection ConnectionHandle // nil iff no live session
	Expected   bool

	catchupQueues map[string]*guard.Guard
	readyQueues   map[string]struct{}

	catchupStarted bool
	wasReady       bool
}

// New creates a RemoteBackup for info. It starts with no connection and no
// queues; callers populate catch-up state via QueueCreate/CatchupQueue.
func New(info types.BrokerInfo) *RemoteBackup {
	return &RemoteBackup{
		Info:          info,
		catchupQueues: make(map[string]*guard.Guard),
		readyQueues:   make(map[string]struct{}),
	}
}

// QueueCreate records that the primary just created queue q and installs a
// fresh, attached guard for it. Mirrors SPEC_FULL §4.3 queueCreate.
func (b *RemoteBackup) QueueCreate(q string) *guard.Guard {
	delete(b.readyQueues, q)
	g := guard.New(q)
	g.Attach()
	b.catchupQueues[q] = g
	return g
}

// QueueDestroy removes q from both catchupQueues and readyQueues,
// cancelling any guard still tracking it.
func (b *RemoteBackup) QueueDestroy(q string) {
	if g, ok := b.catchupQueues[q]; ok {
		g.Cancel()
		delete(b.catchupQueues, q)
	}
	delete(b.readyQueues, q)
}

// Ready moves q from catchupQueues to readyQueues once its replicating
// subscription reports it has caught up.
func (b *RemoteBackup) Ready(q string) {
	if g, ok := b.catchupQueues[q]; ok {
		g.Cancel()
		delete(b.catchupQueues, q)
	}
	b.readyQueues[q] = struct{}{}
}

// ReportReady returns true iff all known replicated queues have moved to
// readyQueues, and returns true at most once per transition from not-ready
// to ready (testable property P2). Because catchupQueues and readyQueues
// are kept disjoint, "all known queues ready" reduces to "no queue left
// catching up".
func (b *RemoteBackup) ReportReady() bool {
	ready := len(b.catchupQueues) == 0
	if ready {
		if !b.wasReady {
			b.wasReady = true
			return true
		}
		return false
	}
	b.wasReady = false
	return false
}

// IsReady is a non-edge-triggered query of the same condition ReportReady
// gates, used for diagnostics and membership-consistency checks (P7)
// without consuming the edge trigger.
func (b *RemoteBackup) IsReady() bool {
	return len(b.catchupQueues) == 0
}

// CatchupQueue enumerates a pre-existing queue onto this backup, used at
// promotion time (createGuard=true, guards must exist before any client can
// enqueue) and on reconnection of an already-known backup (createGuard=
// false: the backup is resuming, no fresh guard is installed).
func (b *RemoteBackup) CatchupQueue(q string, createGuard bool) *guard.Guard {
	if _, already := b.readyQueues[q]; already {
		return nil
	}
	if g, ok := b.catchupQueues[q]; ok {
		return g
	}
	if !createGuard {
		b.catchupQueues[q] = nil
		return nil
	}
	g := guard.New(q)
	g.Attach()
	b.catchupQueues[q] = g
	return g
}

// StartCatchup signals that promotion-time enumeration is complete; queues
// absent at this point will only appear later via QueueCreate.
func (b *RemoteBackup) StartCatchup() {
	b.catchupStarted = true
}

// CatchupStarted reports whether StartCatchup has been called.
func (b *RemoteBackup) CatchupStarted() bool {
	return b.catchupStarted
}

// Cancel tears down every guard still tracking a catch-up queue. Used when
// the backup disconnects or is replaced by a reconnection race.
func (b *RemoteBackup) Cancel() {
	for q, g := range b.catchupQueues {
		if g != nil {
			g.Cancel()
		}
		delete(b.catchupQueues, q)
	}
}

// Guards returns every non-nil guard currently installed for this backup,
// e.g. for computing a resource-policy metric or a DelayCompletion gate.
func (b *RemoteBackup) Guards() []*guard.Guard {
	out := make([]*guard.Guard, 0, len(b.catchupQueues))
	for _, g := range b.catchupQueues {
		if g != nil {
			out = append(out, g)
		}
	}
	return out
}

// CatchupQueueNames returns the queues still in catch-up, for diagnostics.
func (b *RemoteBackup) CatchupQueueNames() []string {
	out := make([]string, 0, len(b.catchupQueues))
	for q := range b.catchupQueues {
		out = append(out, q)
	}
	return out
}

// ReadyQueueNames returns the queues confirmed fully replicated.
func (b *RemoteBackup) ReadyQueueNames() []string {
	out := make([]string, 0, len(b.readyQueues))
	for q := range b.readyQueues {
		out = append(out, q)
	}
	return out
}

// CatchupQueueCount reports the number of queues currently catching up,
// consulted against the per-backup queue-limit budget.
func (b *RemoteBackup) CatchupQueueCount() int {
	return len(b.catchupQueues)
}
