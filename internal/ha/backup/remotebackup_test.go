package backup

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"go.brokerha.dev/internal/ha/types"
)

func newTestBackup() *RemoteBackup {
	return New(types.BrokerInfo{SystemID: uuid.New(), Name: "b1"})
}

func TestRemoteBackup_ReportReadyIsEdgeTriggered(t *testing.T) {
	b := newTestBackup()
	b.QueueCreate("q1")

	assert.False(t, b.ReportReady(), "still catching up q1")

	b.Ready("q1")
	assert.True(t, b.ReportReady(), "first transition to ready fires once")
	assert.False(t, b.ReportReady(), "second call on same ready state does not re-fire")

	// a new queue arrives: backup drops back to not-ready, then ready again
	b.QueueCreate("q2")
	assert.False(t, b.ReportReady())
	b.Ready("q2")
	assert.True(t, b.ReportReady(), "new transition fires again")
}

func TestRemoteBackup_QueueDestroyRemovesFromBothSets(t *testing.T) {
	b := newTestBackup()
	b.QueueCreate("q1")
	b.Ready("q1")
	assert.Contains(t, b.ReadyQueueNames(), "q1")

	b.QueueDestroy("q1")
	assert.NotContains(t, b.ReadyQueueNames(), "q1")
	assert.NotContains(t, b.CatchupQueueNames(), "q1")
}

func TestRemoteBackup_CatchupQueueNoGuardOnReconnect(t *testing.T) {
	b := newTestBackup()
	g := b.CatchupQueue("q1", false)
	assert.Nil(t, g)
	assert.Contains(t, b.CatchupQueueNames(), "q1")
}

func TestRemoteBackup_CancelTearsDownGuards(t *testing.T) {
	b := newTestBackup()
	b.QueueCreate("q1")
	b.QueueCreate("q2")
	guards := b.Guards()
	assert.Len(t, guards, 2)

	b.Cancel()
	for _, g := range guards {
		assert.True(t, g.Cancelled())
	}
	assert.Empty(t, b.CatchupQueueNames())
}
