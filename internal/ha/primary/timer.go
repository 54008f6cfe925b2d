package primary

import (
	"sync"
	"time"

	"go.brokerha.dev/internal/ha/ports"
)

// stdTimer implements ports.Timer on top of time.AfterFunc. The only timer
// the core needs is a single-shot expected-backup deadline; no ecosystem
// scheduler library in the retrieved pack models a one-shot cancellable
// timer any more directly than time.AfterFunc, so this stays stdlib (see
// DESIGN.md).
type stdTimer struct{}

// NewStdTimer returns the default ports.Timer implementation.
func NewStdTimer() ports.Timer {
	return stdTimer{}
}

func (stdTimer) Schedule(d time.Duration, fire func()) ports.Task {
	t := time.AfterFunc(d, fire)
	return &stdTask{t: t}
}

type stdTask struct {
	mu sync.Mutex
	t  *time.Timer
}

func (s *stdTask) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.t != nil {
		s.t.Stop()
	}
}
