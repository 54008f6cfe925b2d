// Package classify implements the replication classifier: a pure function
// mapping a queue/exchange descriptor to a types.ReplicationLevel.
package classify

import (
	"go.brokerha.dev/internal/ha/types"
)

// internalPrefixes names reserved queue/exchange name patterns that are
// never replicated regardless of argument bag or default level: replicator
// exchanges created on backups, and the management/QMF surface.
var internalPrefixes = []string{
	types.ReplicatorExchangePrefix,
	"qpid.management",
	"qmf.",
}

// IsInternalName reports whether name matches a reserved internal pattern.
func IsInternalName(name string) bool {
	for _, p := range internalPrefixes {
		if len(name) >= len(p) && name[:len(p)] == p {
			return true
		}
	}
	return false
}

// Classify maps a queue/exchange name and its argument bag to a
// ReplicationLevel, applying the rules in order:
//  1. internal names are never replicated.
//  2. an explicit qpid.replicate argument wins, or fails with a typed error
//     if its spelling is not recognised.
//  3. otherwise the configured default level applies.
//
// Classify is pure and safe for concurrent use.
func Classify(name string, args map[string]string, defaultLevel types.ReplicationLevel) (types.ReplicationLevel, error) {
	if IsInternalName(name) {
		return types.ReplicateNone, nil
	}
	if raw, ok := args[types.QPIDReplicate]; ok {
		level, err := types.ParseReplicationLevel(raw)
		if err != nil {
			return types.ReplicateNone, types.NewConfigError(types.QPIDReplicate, err)
		}
		return level, nil
	}
	return defaultLevel, nil
}
