package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeChecker struct {
	err error
}

func (c fakeChecker) CheckConnectivity(ctx context.Context) error {
	return c.err
}

func TestCheck_HealthyTransportReportsNoIssues(t *testing.T) {
	h := New(TransportAMQP, fakeChecker{})
	issues := h.Check()
	assert.Empty(t, issues)
	assert.True(t, h.IsAvailable())
}

func TestCheck_FailingTransportReportsIssueAndUnavailable(t *testing.T) {
	h := New(TransportSQS, fakeChecker{err: errors.New("connection refused")})
	issues := h.Check()
	assert.Len(t, issues, 1)
	assert.False(t, h.IsAvailable())
}

func TestCheck_NilCheckerReportsNotConfigured(t *testing.T) {
	h := New(TransportAMQP, nil)
	issues := h.Check()
	assert.Len(t, issues, 1)
	assert.False(t, h.IsAvailable())
}

func TestMetrics_CountAttemptsSuccessesFailures(t *testing.T) {
	h := New(TransportAMQP, fakeChecker{})
	h.Check()
	h.Check()
	attempts, successes, failures := h.Metrics()
	assert.Equal(t, int64(2), attempts)
	assert.Equal(t, int64(2), successes)
	assert.Equal(t, int64(0), failures)
}
