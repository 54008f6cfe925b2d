package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.brokerha.dev/internal/ha/types"
)

func TestGuard_TagMonotonicAndPending(t *testing.T) {
	g := New("orders")
	g.Attach()

	id1, err := g.Tag()
	require.NoError(t, err)
	id2, err := g.Tag()
	require.NoError(t, err)
	assert.Less(t, id1, id2)
	assert.True(t, g.Pending(id1))
	assert.True(t, g.Pending(id2))
}

func TestGuard_CompleteReleasesPending(t *testing.T) {
	g := New("orders")
	g.Attach()
	id, err := g.Tag()
	require.NoError(t, err)

	g.Complete(id)
	assert.False(t, g.Pending(id))

	// completing again is a no-op, not an error
	g.Complete(id)
	assert.False(t, g.Pending(id))
}

func TestGuard_CancelRejectsFurtherTags(t *testing.T) {
	g := New("orders")
	g.Attach()
	id, err := g.Tag()
	require.NoError(t, err)

	g.Cancel()
	assert.True(t, g.Cancelled())
	assert.False(t, g.Pending(id), "cancel drops outstanding pending ids")

	_, err = g.Tag()
	assert.ErrorIs(t, err, types.ErrGuardCancelled)
}

func TestDelayCompletion_GateAcrossMultipleGuards(t *testing.T) {
	g1 := New("orders")
	g2 := New("orders")
	g1.Attach()
	g2.Attach()

	id, err := g1.Tag()
	require.NoError(t, err)
	_, err = g2.Tag()
	require.NoError(t, err)

	guards := []*Guard{g1, g2}
	assert.True(t, DelayCompletion(id, guards), "neither guard has completed yet")

	g1.Complete(id)
	assert.True(t, DelayCompletion(id, guards), "g2 still pending")

	g2.Complete(id)
	assert.False(t, DelayCompletion(id, guards), "all guards completed")
}
