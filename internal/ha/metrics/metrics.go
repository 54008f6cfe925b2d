// Package metrics exposes the prometheus client_golang collectors the HA
// replication core updates: package-level promauto vars grouped by
// subsystem, registered against the default registry at import time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Primary-role metrics

	BackupsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "broker_ha",
			Subsystem: "primary",
			Name:      "backups_connected",
			Help:      "Number of backups currently tracked by the primary controller",
		},
	)

	BackupsExpected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "broker_ha",
			Subsystem: "primary",
			Name:      "backups_expected",
			Help:      "Number of backups still expected but not yet connected and ready",
		},
	)

	BackupTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "broker_ha",
			Subsystem: "primary",
			Name:      "backup_timeouts_total",
			Help:      "Total expected backups that never connected before the catch-up deadline",
		},
	)

	QueueLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker_ha",
			Subsystem: "primary",
			Name:      "queue_limit_rejections_total",
			Help:      "Total queue declarations rejected because a backup's catch-up budget was exhausted",
		},
		[]string{"system_id"},
	)

	ClusterActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "broker_ha",
			Subsystem: "primary",
			Name:      "cluster_active",
			Help:      "1 once every expected backup has caught up and client traffic is admitted, else 0",
		},
	)

	ReconnectionRaces = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker_ha",
			Subsystem: "primary",
			Name:      "reconnection_races_total",
			Help:      "Total times a backup opened a new connection while its previous one was still registered",
		},
		[]string{"system_id"},
	)

	ReconnectionsThrottled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker_ha",
			Subsystem: "primary",
			Name:      "reconnections_throttled_total",
			Help:      "Total reconnection races where the per-backup rate limiter withheld a fresh queue-limit budget reservation",
		},
		[]string{"system_id"},
	)

	// Queue-guard metrics

	GuardsInstalled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "broker_ha",
			Subsystem: "guard",
			Name:      "installed",
			Help:      "Number of queue guards currently installed across all catching-up backups",
		},
	)

	GuardPendingTags = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "broker_ha",
			Subsystem: "guard",
			Name:      "pending_tags",
			Help:      "Number of tagged messages a guard is still awaiting completion for",
		},
		[]string{"queue"},
	)

	// Replicator (backup-side) metrics

	ReplicatorEventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker_ha",
			Subsystem: "replicator",
			Name:      "events_processed_total",
			Help:      "Total control-stream events processed by the backup-side replicator",
		},
		[]string{"queue", "event_type", "result"},
	)

	ReplicatorPosition = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "broker_ha",
			Subsystem: "replicator",
			Name:      "position",
			Help:      "Last replication id applied to a replicated queue",
		},
		[]string{"queue"},
	)

	ReplicatorOutOfOrderDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker_ha",
			Subsystem: "replicator",
			Name:      "out_of_order_dropped_total",
			Help:      "Total position events dropped because their position was behind the current position",
		},
		[]string{"queue"},
	)
)
