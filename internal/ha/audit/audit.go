// Package audit persists HA role-transition and membership events to
// MongoDB, adapted from internal/stream's checkpoint-collection
// conventions (a typed record, UpdateOne-with-upsert writes, a
// context.Background default for fire-and-forget calls).
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.brokerha.dev/internal/ha/types"
	"go.brokerha.dev/internal/router/warning"
)

// Record is one audited event: a promotion, a backup joining/leaving, or a
// cluster activation.
type Record struct {
	ID        uuid.UUID `bson:"_id"`
	Kind      string    `bson:"kind"`
	SystemID  string    `bson:"systemId,omitempty"`
	Status    string    `bson:"status,omitempty"`
	Detail    string    `bson:"detail,omitempty"`
	Timestamp time.Time `bson:"timestamp"`
}

// Log writes Records to a MongoDB collection and, optionally, surfaces the
// same events as operator-visible warnings.
type Log struct {
	collection *mongo.Collection
	warnings   warning.Service
}

// New wraps db's "ha_audit_log" collection.
func New(db *mongo.Database) *Log {
	return &Log{collection: db.Collection("ha_audit_log")}
}

// WithWarnings attaches a warning.Service that mirrors audited events worth
// an operator's attention (cluster activation, backup timeouts) as warnings.
func (l *Log) WithWarnings(svc warning.Service) *Log {
	l.warnings = svc
	return l
}

func (l *Log) write(ctx context.Context, r Record) {
	r.ID = uuid.New()
	r.Timestamp = time.Now()
	filter := bson.M{"_id": r.ID}
	update := bson.M{"$set": r}
	if _, err := l.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		log.Error().Err(err).Str("kind", r.Kind).Msg("Failed to write HA audit record")
	}
}

// Promoted records that this broker was promoted to primary.
func (l *Log) Promoted(ctx context.Context, expected int) {
	l.write(ctx, Record{Kind: "promoted", Detail: "expected backups seeded from prior membership"})
}

// BackupStatusChanged records a membership status transition for a backup.
func (l *Log) BackupStatusChanged(ctx context.Context, info types.BrokerInfo) {
	l.write(ctx, Record{Kind: "backup_status", SystemID: info.SystemID.String(), Status: info.Status.String()})
}

// ClusterActivated records the moment every expected backup caught up and
// client traffic was admitted.
func (l *Log) ClusterActivated(ctx context.Context) {
	l.write(ctx, Record{Kind: "cluster_active"})
	if l.warnings != nil {
		l.warnings.AddWarning("replication", "info", "cluster activated: all expected backups caught up", "ha")
	}
}

// BackupTimedOut records an expected backup dropped for missing the
// catch-up deadline.
func (l *Log) BackupTimedOut(ctx context.Context, id uuid.UUID) {
	l.write(ctx, Record{Kind: "backup_timeout", SystemID: id.String()})
	if l.warnings != nil {
		l.warnings.AddWarning("replication", "warning", fmt.Sprintf("expected backup %s timed out before catch-up completed", id), "ha")
	}
}
