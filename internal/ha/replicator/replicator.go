// Package replicator implements the backup-side queue replicator described
// in SPEC_FULL §4.5: the bridge that pulls a replicated source queue's
// traffic across the control-stream link and applies it to the local
// mirror queue, keeping the mirror's position monotonic.
package replicator

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"go.brokerha.dev/internal/ha/metrics"
	"go.brokerha.dev/internal/ha/types"
)

// Mirror is the local queue a QueueReplicator applies replicated traffic
// to. Position is the backup's notion of how many messages from the source
// queue have been applied; Acquire/Dequeue mirror the acquire-then-dequeue
// two-step the primary's own queue uses for message removal.
type Mirror interface {
	Purge()
	Position() int64
	SetPosition(int64)
	Acquire(id int64) bool
	Dequeue(id int64)
	Enqueue(body []byte)
}

// Subscriber installs the replicating subscription on the source queue and
// issues the initial credit once the bridge's link handshake is up.
type Subscriber interface {
	Subscribe(sourceQueue string, args map[string]string) error
	IssueCredit() error
}

// Message is one inbound control-stream delivery, dispatched by RoutingKey
// per the routing table in SPEC_FULL §4.5.
type Message struct {
	RoutingKey string
	Body       []byte
}

// QueueReplicator is the per-source-queue replicator. A single mutex
// serialises every branch of the routing table; position monotonicity is
// enforced by that serialisation (SPEC_FULL §4.5, §5).
type QueueReplicator struct {
	mu          sync.Mutex
	sourceQueue string
	mirror      Mirror
	closed      bool
}

// New creates a replicator for sourceQueue, applying traffic to mirror.
func New(sourceQueue string, mirror Mirror) *QueueReplicator {
	return &QueueReplicator{sourceQueue: sourceQueue, mirror: mirror}
}

// InitializeBridge runs the bridge-initialization sequence once the link
// handshake to the primary is up: purge the mirror and reset its position,
// install the replicating subscription, then issue credit.
func (r *QueueReplicator) InitializeBridge(sub Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mirror.Purge()
	r.mirror.SetPosition(0)

	args := map[string]string{
		types.QPIDReplicatingSubscription: "1",
		types.QPIDSyncFrequency:           "1",
	}
	if err := sub.Subscribe(r.sourceQueue, args); err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.sourceQueue, err)
	}
	return sub.IssueCredit()
}

// Dispatch routes an inbound control-stream message per SPEC_FULL §4.5's
// routing table. Once Close has been called, Dispatch applies nothing to
// the mirror and returns nil, except that a malformed dequeue-event or
// position-event body still returns its parse error: the replicator stops
// routing new events but does not tear down its link (see Close).
func (r *QueueReplicator) Dispatch(msg Message) error {
	switch msg.RoutingKey {
	case types.DequeueEventKey:
		return r.handleDequeueEvent(msg)
	case types.PositionEventKey:
		return r.handlePositionEvent(msg)
	default:
		return r.handleMessage(msg)
	}
}

// handleDequeueEvent acquires and dequeues every id in the set that has
// already arrived at the mirror (q.position() >= id); ids beyond the
// current position are ignored, not an error, since they simply haven't
// arrived yet.
func (r *QueueReplicator) handleDequeueEvent(msg Message) error {
	ids, err := parseSequenceSet(msg.Body)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	pos := r.mirror.Position()
	for _, id := range ids {
		if pos < id {
			continue
		}
		if r.mirror.Acquire(id) {
			r.mirror.Dequeue(id)
		}
	}
	metrics.ReplicatorEventsProcessed.WithLabelValues(r.sourceQueue, "dequeue", "ok").Inc()
	return nil
}

// handlePositionEvent asserts q.position() <= p, best-effort-dequeues every
// gap position in [q.position(), p) — the primary has already discarded
// these — then advances the mirror's position to p.
func (r *QueueReplicator) handlePositionEvent(msg Message) error {
	p, err := strconv.ParseInt(strings.TrimSpace(string(msg.Body)), 10, 64)
	if err != nil {
		return fmt.Errorf("parse position event: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	pos := r.mirror.Position()
	if p < pos {
		log.Error().Str("queue", r.sourceQueue).Int64("position", pos).Int64("event", p).
			Msg("Position event moved backwards, ignoring to preserve monotonicity")
		metrics.ReplicatorOutOfOrderDropped.WithLabelValues(r.sourceQueue).Inc()
		return nil
	}
	for i := pos; i < p; i++ {
		if r.mirror.Acquire(i) {
			r.mirror.Dequeue(i)
		}
	}
	r.mirror.SetPosition(p)
	metrics.ReplicatorPosition.WithLabelValues(r.sourceQueue).Set(float64(p))
	metrics.ReplicatorEventsProcessed.WithLabelValues(r.sourceQueue, "position", "ok").Inc()
	return nil
}

// handleMessage delivers an ordinary replicated message to the mirror and
// advances its position by one.
func (r *QueueReplicator) handleMessage(msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	r.mirror.Enqueue(msg.Body)
	next := r.mirror.Position() + 1
	r.mirror.SetPosition(next)
	metrics.ReplicatorPosition.WithLabelValues(r.sourceQueue).Set(float64(next))
	metrics.ReplicatorEventsProcessed.WithLabelValues(r.sourceQueue, "message", "ok").Inc()
	return nil
}

// Close stops routing new events. It deliberately does not tear down the
// underlying link/bridge: the historical implementation comments out that
// teardown call in its destructor, citing a race with in-flight bridge
// callbacks, and leaks the link instead. This keeps the same behavior: the
// link is closed only by its owning transport (transport/amqp.Link.Close,
// transport/sqs.Client.Close), never here. Safe to call more than once.
func (r *QueueReplicator) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	log.Info().Str("queue", r.sourceQueue).Msg("Queue replicator closed, link left to its owning transport")
}

// Closed reports whether Close has been called.
func (r *QueueReplicator) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// parseSequenceSet decodes the wire encoding this implementation uses for
// a dequeue-event payload: a comma-separated list of decimal ids.
func parseSequenceSet(body []byte) ([]int64, error) {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse sequence set: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
