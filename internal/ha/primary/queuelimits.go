package primary

import (
	"sync"

	"github.com/google/uuid"

	"go.brokerha.dev/internal/ha/metrics"
	"go.brokerha.dev/internal/ha/ports"
	"go.brokerha.dev/internal/ha/types"
)

// memQueueLimits is the default ports.QueueLimits: a fixed per-backup
// catch-up queue budget enforced in memory. A backup that exceeds its
// budget blocks further queue declarations with types.ErrLimitExceeded
// until RemoveQueue (on queue destroy) or RemoveBackup (on disconnect)
// frees headroom; a queue catching up does not free any.
type memQueueLimits struct {
	mu      sync.Mutex
	perNode int
	counts  map[uuid.UUID]int
}

// NewMemQueueLimits builds a ports.QueueLimits allowing perNode catch-up
// queues per connected backup. perNode <= 0 disables the budget.
func NewMemQueueLimits(perNode int) ports.QueueLimits {
	return &memQueueLimits{perNode: perNode, counts: make(map[uuid.UUID]int)}
}

func (l *memQueueLimits) AddBackup(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[id] = 0
}

func (l *memQueueLimits) RemoveBackup(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, id)
}

func (l *memQueueLimits) AddQueue(id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.perNode > 0 && l.counts[id] >= l.perNode {
		metrics.QueueLimitRejections.WithLabelValues(id.String()).Inc()
		return types.ErrLimitExceeded
	}
	l.counts[id]++
	return nil
}

func (l *memQueueLimits) RemoveQueue(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[id] > 0 {
		l.counts[id]--
	}
}
