package primary

import (
	"time"

	"golang.org/x/time/rate"

	"go.brokerha.dev/internal/ha/types"
)

// Config holds the promotion-time settings of the primary role controller.
type Config struct {
	// ReplicateDefault is the replication level applied to a queue or
	// exchange that names no qpid.replicate argument.
	ReplicateDefault types.ReplicationLevel
	// BackupTimeout bounds how long an expected backup may take to
	// connect after promotion before it is dropped from the expected set
	// (SPEC_FULL §4.4.4). An expected backup that has connected by then
	// stays expected until it catches up.
	BackupTimeout time.Duration
	// ReconnectRateLimit and ReconnectBurst bound how often a single
	// backup may churn through the disconnect/reconnect budget
	// reservation cycle (AddBackup/RemoveBackup) in a reconnection race.
	// A flapping backup that exceeds the limit keeps its existing
	// connection's budget reservation instead of releasing and
	// re-acquiring it.
	ReconnectRateLimit rate.Limit
	ReconnectBurst     int
}

// DefaultConfig matches the historical qpid HA plugin's defaults: replicate
// nothing by default, allow 5 minutes for an expected backup to catch up.
func DefaultConfig() Config {
	return Config{
		ReplicateDefault:   types.ReplicateNone,
		BackupTimeout:      5 * time.Minute,
		ReconnectRateLimit: rate.Every(time.Second),
		ReconnectBurst:     3,
	}
}
