// Package ports names the external collaborators the HA replication core
// depends on without owning: the queue/exchange registry, the connection
// layer, the membership publisher, the timer, and the per-backup resource
// budget. SPEC_FULL §6 calls these "external interfaces"; concrete adapters
// live under internal/ha/transport, internal/ha/membership and
// internal/ha/metrics.
package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"go.brokerha.dev/internal/ha/types"
)

// Queue is the minimal view of a queue the primary controller needs: enough
// to classify it and stamp replication arguments on it.
type Queue interface {
	Name() string
	Args() map[string]string
	SetArgument(key, value string)
}

// Exchange is the exchange analogue of Queue.
type Exchange interface {
	Name() string
	Args() map[string]string
	SetArgument(key, value string)
}

// PromotableExchange is a leftover replicator exchange from a previous
// backup role; Promoted clears its auto-delete flag so it survives the
// role transition (SPEC_FULL §4.4.1 step 2, §9 "duplicate replicator
// exchanges").
type PromotableExchange interface {
	Promoted()
}

// QueueRegistry enumerates the queues that exist on the broker at the
// moment it is consulted. The controller only ever calls EachQueue outside
// its own lock (SPEC_FULL §5 lock-ordering rules).
type QueueRegistry interface {
	EachQueue(fn func(Queue))
}

// Connection is the minimal view of an inbound broker connection the
// controller needs to decide whether it is a backup announcing itself.
type Connection interface {
	// Handle returns an opaque, comparable value identifying this
	// connection; used to detect reconnection races and late disconnects.
	Handle() any
	// BrokerInfo extracts the announced broker identity from the
	// connection's negotiated properties. ok is false for an ordinary
	// client connection (no HA properties announced).
	BrokerInfo() (types.BrokerInfo, bool)
}

// BrokerObserver is implemented by the primary controller and invoked by
// the (out-of-scope) queue/exchange registry while it holds its own lock.
type BrokerObserver interface {
	QueueCreate(q Queue) error
	QueueDestroy(q Queue)
	ExchangeCreate(e Exchange) error
	ExchangeDestroy(e Exchange)
	StartTx(txQueueName string) TxObserver
	StartDtx(txQueueName string)
}

// ConnectionObserver is implemented by the primary controller and invoked by
// the (out-of-scope) connection layer.
type ConnectionObserver interface {
	Opened(conn Connection)
	Closed(conn Connection)
}

// TxObserver is returned from StartTx; RemoveReplica (on the controller)
// notifies it via ReplicaRemoved when a replicating subscription cancels
// mid-transaction.
type TxObserver interface {
	ReplicaRemoved(queueName string)
}

// ObserverRegistrar installs and removes the controller's callbacks on the
// registries it joins at promotion and leaves at shutdown.
type ObserverRegistrar interface {
	AddBrokerObserver(BrokerObserver)
	RemoveBrokerObserver(BrokerObserver)
	AddConnectionObserver(ConnectionObserver)
	RemoveConnectionObserver(ConnectionObserver)
}

// MembershipPublisher is the produced port: setStatus/add/remove as named
// in SPEC_FULL §6. Calls are idempotent and ordering between them is not
// assumed by the controller.
type MembershipPublisher interface {
	SetStatus(status types.BrokerStatus)
	Add(info types.BrokerInfo)
	Remove(systemID uuid.UUID)
}

// AuditSink persists the role-transition and membership events worth a
// durable record, independently of the ephemeral membership view
// MembershipPublisher carries. Implemented by internal/ha/audit.Log.
type AuditSink interface {
	Promoted(ctx context.Context, expected int)
	BackupStatusChanged(ctx context.Context, info types.BrokerInfo)
	ClusterActivated(ctx context.Context)
	BackupTimedOut(ctx context.Context, id uuid.UUID)
}

// Task is a single-shot timer task, matching SPEC_FULL §6's
// add(task)/task.fire()/task.cancel() timer contract.
type Task interface {
	Cancel()
}

// Timer schedules a single Task to fire once after d elapses. The only
// timeout in the core is the expected-backup deadline (SPEC_FULL §5).
type Timer interface {
	Schedule(d time.Duration, fire func()) Task
}

// QueueLimits is the per-backup queue-count budget. AddBackup reserves
// budget for a newly connected backup; RemoveBackup releases it. AddQueue
// and RemoveQueue track individual catch-up queues against that budget and
// AddQueue fails with types.ErrLimitExceeded once exhausted.
type QueueLimits interface {
	AddBackup(systemID uuid.UUID)
	RemoveBackup(systemID uuid.UUID)
	AddQueue(systemID uuid.UUID) error
	RemoveQueue(systemID uuid.UUID)
}
