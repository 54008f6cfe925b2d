package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.brokerha.dev/internal/ha/types"
)

func TestClassify_InternalNamesNeverReplicate(t *testing.T) {
	names := []string{
		"qpid.replicator-orders",
		"qpid.management",
		"qmf.default.topic",
	}
	for _, name := range names {
		level, err := Classify(name, map[string]string{types.QPIDReplicate: "all"}, types.ReplicateAll)
		require.NoError(t, err)
		assert.Equal(t, types.ReplicateNone, level, "name %q", name)
	}
}

func TestClassify_ExplicitArgumentWins(t *testing.T) {
	tests := []struct {
		arg  string
		want types.ReplicationLevel
	}{
		{"none", types.ReplicateNone},
		{"configuration", types.ReplicateConfiguration},
		{"all", types.ReplicateAll},
	}
	for _, tt := range tests {
		level, err := Classify("orders", map[string]string{types.QPIDReplicate: tt.arg}, types.ReplicateNone)
		require.NoError(t, err)
		assert.Equal(t, tt.want, level)
	}
}

func TestClassify_UnknownSpellingIsConfigError(t *testing.T) {
	_, err := Classify("orders", map[string]string{types.QPIDReplicate: "everything"}, types.ReplicateNone)
	require.Error(t, err)
	var cfgErr *types.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, types.QPIDReplicate, cfgErr.Key)
	assert.ErrorIs(t, err, types.ErrUnknownReplicationLevel)
}

func TestClassify_DefaultsWhenArgumentAbsent(t *testing.T) {
	level, err := Classify("orders", nil, types.ReplicateConfiguration)
	require.NoError(t, err)
	assert.Equal(t, types.ReplicateConfiguration, level)
}

func TestReplicationLevelOrdering(t *testing.T) {
	assert.Less(t, int(types.ReplicateNone), int(types.ReplicateConfiguration))
	assert.Less(t, int(types.ReplicateConfiguration), int(types.ReplicateAll))
}
