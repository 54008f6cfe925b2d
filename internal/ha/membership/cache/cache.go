// Package cache maintains a read-through snapshot of cluster membership in
// Redis, the way internal/outbox uses go-redis/v9 for cross-instance
// coordination. The status HTTP endpoint (cmd/haagent) reads this snapshot
// instead of reaching into the primary controller directly, so it keeps
// working even when queried against a broker that isn't currently primary.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"go.brokerha.dev/internal/ha/types"
)

const keyPrefix = "broker-ha:membership:"

// Snapshot mirrors ports.MembershipPublisher but persists to Redis instead
// of broadcasting, with a TTL so a crashed broker's entry eventually
// expires rather than lingering forever.
type Snapshot struct {
	client *redis.Client
	ttl    time.Duration
}

// New wraps an existing go-redis client. ttl <= 0 disables expiry.
func New(client *redis.Client, ttl time.Duration) *Snapshot {
	return &Snapshot{client: client, ttl: ttl}
}

// Put records info's current state, refreshing its TTL.
func (s *Snapshot) Put(ctx context.Context, info types.BrokerInfo) error {
	body, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal broker info: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+info.SystemID.String(), body, s.ttl).Err(); err != nil {
		return fmt.Errorf("write membership snapshot: %w", err)
	}
	return nil
}

// Remove deletes id's entry, e.g. on a clean broker shutdown.
func (s *Snapshot) Remove(ctx context.Context, id uuid.UUID) {
	if err := s.client.Del(ctx, keyPrefix+id.String()).Err(); err != nil {
		log.Error().Err(err).Str("systemId", id.String()).Msg("Failed to remove membership snapshot entry")
	}
}

// All scans every known membership entry. Intended for the status endpoint,
// not the hot path: it issues an SCAN over the keyPrefix namespace.
func (s *Snapshot) All(ctx context.Context) ([]types.BrokerInfo, error) {
	var out []types.BrokerInfo
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		body, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue // entry expired between SCAN and GET
		}
		var info types.BrokerInfo
		if err := json.Unmarshal(body, &info); err != nil {
			log.Error().Err(err).Str("key", iter.Val()).Msg("Failed to decode membership snapshot entry")
			continue
		}
		out = append(out, info)
	}
	return out, iter.Err()
}
