// Package health reports on the connectivity of the control-stream
// transport the replication core rides on (an AMQP broker or an SQS
// queue), in the same request/response shape the rest of this codebase
// uses for its HTTP health endpoints.
package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// TransportKind names the control-stream transport in use.
type TransportKind string

const (
	TransportAMQP TransportKind = "AMQP"
	TransportSQS  TransportKind = "SQS"
)

// ConnectivityChecker probes the underlying transport connection.
type ConnectivityChecker interface {
	CheckConnectivity(ctx context.Context) error
}

// TransportHealth tracks the connectivity of the active control-stream
// transport and exposes it to the HTTP health endpoints.
type TransportHealth struct {
	mu sync.RWMutex

	kind    TransportKind
	checker ConnectivityChecker

	lastCheck  time.Time
	lastResult bool
	lastIssues []string

	attempts  int64
	successes int64
	failures  int64
	available atomic.Int32
}

// New builds a TransportHealth for the given transport kind.
func New(kind TransportKind, checker ConnectivityChecker) *TransportHealth {
	return &TransportHealth{kind: kind, checker: checker}
}

// Check runs a connectivity probe and records the result. Returns a list of
// issue strings, empty when healthy.
func (h *TransportHealth) Check() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	atomic.AddInt64(&h.attempts, 1)
	h.lastCheck = time.Now()

	var issues []string
	connected := false

	if h.checker == nil {
		issues = append(issues, fmt.Sprintf("%s transport checker not configured", h.kind))
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.checker.CheckConnectivity(ctx); err != nil {
			log.Error().Err(err).Str("transport", string(h.kind)).Msg("control stream connectivity check failed")
			issues = append(issues, fmt.Sprintf("%s transport connectivity check failed: %v", h.kind, err))
		} else {
			connected = true
		}
	}

	if connected {
		atomic.AddInt64(&h.successes, 1)
		h.available.Store(1)
	} else {
		atomic.AddInt64(&h.failures, 1)
		h.available.Store(0)
	}

	h.lastResult = connected
	h.lastIssues = issues
	return issues
}

// IsAvailable reports the most recently observed connectivity state.
func (h *TransportHealth) IsAvailable() bool {
	return h.available.Load() == 1
}

// Metrics returns cumulative probe counts.
func (h *TransportHealth) Metrics() (attempts, successes, failures int64) {
	return atomic.LoadInt64(&h.attempts), atomic.LoadInt64(&h.successes), atomic.LoadInt64(&h.failures)
}

// LastCheck returns the time, result and issues of the most recent probe.
func (h *TransportHealth) LastCheck() (time.Time, bool, []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastCheck, h.lastResult, h.lastIssues
}
