// Package primary implements the primary-role controller: the promotion
// sequence, the broker-observer and connection-observer callbacks, and the
// expected-backup catch-up/timeout bookkeeping described in SPEC_FULL §4.4.
//
// Primary owns exactly one mutex. Every exported method that mutates
// controller state takes that lock, mutates, releases it, and only then
// calls out to a port (membership publisher, logger, metrics) — SPEC_FULL §5
// forbids holding the lock across a call into a collaborator that might
// call back in, and every method here follows that discipline.
package primary

import (
	"context"
	"sync"
	"weak"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"go.brokerha.dev/internal/ha/backup"
	"go.brokerha.dev/internal/ha/classify"
	"go.brokerha.dev/internal/ha/metrics"
	"go.brokerha.dev/internal/ha/ports"
	"go.brokerha.dev/internal/ha/settings"
	"go.brokerha.dev/internal/ha/types"
)

// Deps bundles the collaborators Primary calls out to. Registry and
// Registrar may be left nil (no queue enumeration at promotion, and the
// caller wires the observer interfaces itself); use NewDeps to fill Limits,
// Membership and Timer with their default in-memory/no-op/stdlib
// implementations when a real adapter isn't needed.
type Deps struct {
	Registry   ports.QueueRegistry
	Registrar  ports.ObserverRegistrar // may be nil: caller wires observers itself
	Limits     ports.QueueLimits
	Membership ports.MembershipPublisher
	Timer      ports.Timer
	// Audit is optional: when set, role transitions and membership
	// events are durably recorded through it in addition to being
	// published through Membership.
	Audit ports.AuditSink
}

// NewDeps fills any nil field of d with a default implementation: an
// unbounded in-memory QueueLimits, a no-op MembershipPublisher, a no-op
// AuditSink, and the stdlib-backed Timer. Registry and Registrar are left as
// given (nil means "no queue enumeration" / "caller wires observers itself").
func NewDeps(d Deps) Deps {
	if d.Limits == nil {
		d.Limits = NewMemQueueLimits(0)
	}
	if d.Membership == nil {
		d.Membership = noopMembership{}
	}
	if d.Timer == nil {
		d.Timer = NewStdTimer()
	}
	if d.Audit == nil {
		d.Audit = noopAudit{}
	}
	return d
}

type noopMembership struct{}

func (noopMembership) SetStatus(types.BrokerStatus) {}
func (noopMembership) Add(types.BrokerInfo)         {}
func (noopMembership) Remove(uuid.UUID)             {}

type noopAudit struct{}

func (noopAudit) Promoted(context.Context, int)                 {}
func (noopAudit) BackupStatusChanged(context.Context, types.BrokerInfo) {}
func (noopAudit) ClusterActivated(context.Context)               {}
func (noopAudit) BackupTimedOut(context.Context, uuid.UUID)      {}

// Primary is the primary-role controller for one broker.
type Primary struct {
	cfg  Config
	deps Deps

	mu               sync.Mutex
	backups          map[uuid.UUID]*backup.RemoteBackup
	expectedBackups  map[uuid.UUID]struct{}
	active           bool
	timerTask        ports.Task
	txObservers      map[string]weak.Pointer[txObserver]
	reconnectLimiter map[uuid.UUID]*rate.Limiter

	closeOnce sync.Once
}

// Promote runs the primary-role promotion sequence (SPEC_FULL §4.4.1):
// publish status recovering, clear the auto-delete flag on any leftover
// replicator exchange from a previous backup role, seed the expected-backup
// set from prior membership, arm the catch-up timeout, install the
// controller as broker observer, run an initial readiness check, then admit
// client connections.
func Promote(cfg Config, deps Deps, expected []types.BrokerInfo, leftover []ports.PromotableExchange) *Primary {
	p := &Primary{
		cfg:             cfg,
		deps:            deps,
		backups:          make(map[uuid.UUID]*backup.RemoteBackup),
		expectedBackups:  make(map[uuid.UUID]struct{}),
		txObservers:      make(map[string]weak.Pointer[txObserver]),
		reconnectLimiter: make(map[uuid.UUID]*rate.Limiter),
	}

	p.deps.Membership.SetStatus(types.StatusRecovering)

	for _, ex := range leftover {
		ex.Promoted()
	}

	for _, info := range expected {
		b := backup.New(info)
		b.Expected = true
		p.mu.Lock()
		p.backups[info.SystemID] = b
		p.expectedBackups[info.SystemID] = struct{}{}
		p.mu.Unlock()
		p.setCatchupQueues(b, true)
	}

	if len(expected) > 0 {
		p.armTimer()
	}

	metrics.BackupsExpected.Set(float64(len(expected)))

	if p.deps.Registrar != nil {
		p.deps.Registrar.AddBrokerObserver(p)
	}

	p.checkReady()

	if p.deps.Registrar != nil {
		p.deps.Registrar.AddConnectionObserver(p)
	}

	p.deps.Audit.Promoted(context.Background(), len(expected))

	log.Info().Int("expectedBackups", len(expected)).Msg("Promoted to primary")
	return p
}

// Close deregisters the controller and cancels its pending timer. Safe to
// call more than once; only the first call has effect.
func (p *Primary) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		task := p.timerTask
		p.timerTask = nil
		p.mu.Unlock()
		if task != nil {
			task.Cancel()
		}
		if p.deps.Registrar != nil {
			p.deps.Registrar.RemoveBrokerObserver(p)
			p.deps.Registrar.RemoveConnectionObserver(p)
		}
	})
}

func (p *Primary) armTimer() {
	task := p.deps.Timer.Schedule(p.cfg.BackupTimeout, p.onBackupTimeout)
	p.mu.Lock()
	p.timerTask = task
	p.mu.Unlock()
}

// onBackupTimeout fires once, cfg.BackupTimeout after promotion. A panic
// here must not take down the process that owns the timer goroutine
// (SPEC_FULL §7's timer-exception requirement), so it is recovered and
// logged.
func (p *Primary) onBackupTimeout() {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered panic in backup timeout callback")
		}
	}()
	p.timeoutExpectedBackups()
}

func (p *Primary) timeoutExpectedBackups() {
	var toPublish []types.BrokerInfo

	p.mu.Lock()
	var timedOut []uuid.UUID
	for id := range p.expectedBackups {
		b, ok := p.backups[id]
		if ok && b.Connection == nil {
			timedOut = append(timedOut, id)
		}
	}
	for _, id := range timedOut {
		delete(p.expectedBackups, id)
		if b, ok := p.backups[id]; ok {
			b.Info.Status = types.StatusCatchup
			toPublish = append(toPublish, b.Info)
		}
	}
	p.mu.Unlock()

	for _, id := range timedOut {
		metrics.BackupTimeouts.Inc()
		p.deps.Audit.BackupTimedOut(context.Background(), id)
	}
	for _, info := range toPublish {
		p.deps.Membership.Add(info)
		log.Error().Str("systemId", info.SystemID.String()).Msg("Expected backup timed out before connecting")
	}

	p.checkReady()
}

// checkReady activates the cluster (admits client traffic) the first time
// every expected backup has connected and caught up. Idempotent: once
// active, further calls are no-ops.
func (p *Primary) checkReady() {
	var justActivated bool
	p.mu.Lock()
	if !p.active && len(p.expectedBackups) == 0 {
		p.active = true
		justActivated = true
	}
	n := len(p.backups)
	expected := len(p.expectedBackups)
	guards := 0
	for _, b := range p.backups {
		guards += len(b.Guards())
	}
	p.mu.Unlock()

	metrics.BackupsConnected.Set(float64(n))
	metrics.BackupsExpected.Set(float64(expected))
	metrics.GuardsInstalled.Set(float64(guards))

	if justActivated {
		p.deps.Membership.SetStatus(types.StatusActive)
		metrics.ClusterActive.Set(1)
		p.deps.Audit.ClusterActivated(context.Background())
		log.Info().Msg("All expected backups caught up, cluster is active")
	}
}

// checkReadyBackup reports a single backup's ready edge to membership, then
// re-evaluates the cluster-wide readiness.
func (p *Primary) checkReadyBackup(id uuid.UUID) {
	var info types.BrokerInfo
	var edge bool
	var wasExpected bool

	p.mu.Lock()
	if b, ok := p.backups[id]; ok {
		if b.ReportReady() {
			edge = true
			b.Info.Status = types.StatusReady
			info = b.Info
			if _, wasExpected = p.expectedBackups[id]; wasExpected {
				delete(p.expectedBackups, id)
			}
		}
	}
	p.mu.Unlock()

	if edge {
		p.deps.Membership.Add(info)
		p.deps.Audit.BackupStatusChanged(context.Background(), info)
		if wasExpected {
			log.Info().Str("systemId", id.String()).Msg("Expected backup caught up and is ready")
		} else {
			log.Info().Str("systemId", id.String()).Msg("Backup caught up and is ready")
		}
	}

	p.checkReady()
}

// setCatchupQueues enumerates every existing queue onto b. It must run
// outside p.mu for the registry walk itself (the registry may hold its own
// lock across EachQueue) but still serializes each per-queue mutation of b
// through p.mu, since b has no lock of its own (SPEC_FULL §5).
func (p *Primary) setCatchupQueues(b *backup.RemoteBackup, createGuards bool) {
	if p.deps.Registry != nil {
		p.deps.Registry.EachQueue(func(q ports.Queue) {
			p.mu.Lock()
			b.CatchupQueue(q.Name(), createGuards)
			p.mu.Unlock()
		})
	}
	p.mu.Lock()
	b.StartCatchup()
	p.mu.Unlock()
}

// backupConnectLocked installs a newly connected backup. Caller must hold
// p.mu.
func (p *Primary) backupConnectLocked(info types.BrokerInfo, conn any) *backup.RemoteBackup {
	b := backup.New(info)
	b.Connection = conn
	p.deps.Limits.AddBackup(info.SystemID)
	p.backups[info.SystemID] = b
	return b
}

// backupDisconnectLocked tears down a backup's live connection state. This
// is the fix for the historical bug where disconnect called addBackup
// instead of removeBackup on the queue-limit budget, permanently leaking
// reserved capacity every time a backup reconnected (SPEC_FULL §4.4.5):
// disconnect must always release the budget the matching connect reserved.
// Caller must hold p.mu. Returns true if the backup record was actually
// deleted (not merely disconnected while still expected), so the caller can
// publish the membership removal outside the lock.
func (p *Primary) backupDisconnectLocked(id uuid.UUID) (removed bool) {
	b, ok := p.backups[id]
	if !ok {
		return false
	}
	b.Connection = nil
	b.Cancel()
	p.deps.Limits.RemoveBackup(id)
	if _, expected := p.expectedBackups[id]; !expected {
		delete(p.backups, id)
		delete(p.reconnectLimiter, id)
		return true
	}
	return false
}

// reconnectLimiterLocked returns the per-backup rate limiter gating how
// often a reconnection race may release and re-acquire this backup's
// queue-limit budget reservation (SPEC_FULL §11.7). Caller must hold p.mu.
func (p *Primary) reconnectLimiterLocked(id uuid.UUID) *rate.Limiter {
	l, ok := p.reconnectLimiter[id]
	if !ok {
		l = rate.NewLimiter(p.cfg.ReconnectRateLimit, p.cfg.ReconnectBurst)
		p.reconnectLimiter[id] = l
	}
	return l
}

// Opened implements ports.ConnectionObserver. A connection that announces
// no broker identity is an ordinary client connection and is ignored here.
func (p *Primary) Opened(conn ports.Connection) {
	info, ok := conn.BrokerInfo()
	if !ok {
		return
	}

	var b *backup.RemoteBackup
	var newlyCatchup, isRace, raceRemoved, throttled bool

	p.mu.Lock()
	existing, found := p.backups[info.SystemID]
	switch {
	case !found:
		b = p.backupConnectLocked(info, conn.Handle())
	case existing.Connection != nil:
		isRace = true
		if p.reconnectLimiterLocked(info.SystemID).Allow() {
			wasExpected := existing.Expected
			raceRemoved = p.backupDisconnectLocked(info.SystemID)
			b = p.backupConnectLocked(info, conn.Handle())
			b.Expected = wasExpected
			if wasExpected {
				p.expectedBackups[info.SystemID] = struct{}{}
			}
		} else {
			throttled = true
			existing.Connection = conn.Handle()
			b = existing
		}
	default:
		existing.Connection = conn.Handle()
		b = existing
	}
	if b.Info.Status == types.StatusJoining {
		b.Info.Status = types.StatusCatchup
		newlyCatchup = true
	}
	p.mu.Unlock()

	if isRace {
		metrics.ReconnectionRaces.WithLabelValues(info.SystemID.String()).Inc()
		log.Error().Str("systemId", info.SystemID.String()).
			Msg("Backup opened a new connection while its previous connection was still registered, replacing it")
		if raceRemoved {
			p.deps.Membership.Remove(info.SystemID)
		}
	}
	if throttled {
		metrics.ReconnectionsThrottled.WithLabelValues(info.SystemID.String()).Inc()
		log.Warn().Str("systemId", info.SystemID.String()).
			Msg("Reconnection rate limit reached, keeping existing queue-limit budget reservation")
	}
	if newlyCatchup {
		p.deps.Membership.Add(b.Info)
		p.deps.Audit.BackupStatusChanged(context.Background(), b.Info)
	}

	p.setCatchupQueues(b, false)
	p.checkReadyBackup(info.SystemID)
	p.checkReady()
}

// Closed implements ports.ConnectionObserver.
func (p *Primary) Closed(conn ports.Connection) {
	info, ok := conn.BrokerInfo()
	if !ok {
		return
	}

	p.mu.Lock()
	b, found := p.backups[info.SystemID]
	if !found {
		p.mu.Unlock()
		log.Info().Str("systemId", info.SystemID.String()).Msg("Disconnect for unknown backup, ignored")
		return
	}
	if b.Connection != conn.Handle() {
		p.mu.Unlock()
		log.Info().Str("systemId", info.SystemID.String()).Msg("Disconnect for superseded connection, ignored")
		return
	}
	removed := p.backupDisconnectLocked(info.SystemID)
	p.mu.Unlock()

	if removed {
		p.deps.Membership.Remove(info.SystemID)
	}
	p.checkReady()
}

// QueueCreate implements ports.BrokerObserver. Returns a non-nil error
// (types.ErrUnknownReplicationLevel, *types.ConfigError or
// types.ErrLimitExceeded) to reject the declaration synchronously.
func (p *Primary) QueueCreate(q ports.Queue) error {
	if err := settings.Validate(settings.Populate(q.Args())); err != nil {
		return err
	}
	level, err := classify.Classify(q.Name(), q.Args(), p.cfg.ReplicateDefault)
	if err != nil {
		return err
	}
	if level == types.ReplicateNone {
		return nil
	}
	q.SetArgument(types.QPIDReplicate, level.String())
	q.SetArgument(types.QPIDHAUUID, uuid.New().String())

	p.mu.Lock()
	ids := make([]*backup.RemoteBackup, 0, len(p.backups))
	for _, b := range p.backups {
		ids = append(ids, b)
	}
	reserved := make([]*backup.RemoteBackup, 0, len(ids))
	var limitErr error
	for _, b := range ids {
		if err := p.deps.Limits.AddQueue(b.Info.SystemID); err != nil {
			limitErr = err
			break
		}
		reserved = append(reserved, b)
	}
	if limitErr != nil {
		for _, b := range reserved {
			p.deps.Limits.RemoveQueue(b.Info.SystemID)
		}
		p.mu.Unlock()
		return limitErr
	}
	for _, b := range ids {
		b.QueueCreate(q.Name())
	}
	p.mu.Unlock()

	p.checkReady()
	return nil
}

// QueueDestroy implements ports.BrokerObserver. Symmetric to QueueCreate: a
// queue that was never replicated never reserved any queue-limit budget or
// entered any backup's catch-up set, so it must not touch either on
// destroy either.
func (p *Primary) QueueDestroy(q ports.Queue) {
	level, err := classify.Classify(q.Name(), q.Args(), p.cfg.ReplicateDefault)
	if err != nil || level == types.ReplicateNone {
		return
	}

	p.mu.Lock()
	for _, b := range p.backups {
		b.QueueDestroy(q.Name())
		p.deps.Limits.RemoveQueue(b.Info.SystemID)
	}
	p.mu.Unlock()

	p.checkReady()
}

// ExchangeCreate implements ports.BrokerObserver.
func (p *Primary) ExchangeCreate(e ports.Exchange) error {
	if err := settings.Validate(settings.Populate(e.Args())); err != nil {
		return err
	}
	level, err := classify.Classify(e.Name(), e.Args(), p.cfg.ReplicateDefault)
	if err != nil {
		return err
	}
	if level == types.ReplicateNone {
		return nil
	}
	e.SetArgument(types.QPIDReplicate, level.String())
	e.SetArgument(types.QPIDHAUUID, uuid.New().String())
	return nil
}

// ExchangeDestroy implements ports.BrokerObserver. The historical broker
// never notified backups of exchange deletion (SPEC_FULL's recorded
// decision for the open question on this point): a replicated exchange is
// only ever actually removed by the backup's own queue replicator noticing
// its source queue is gone, so this is deliberately a no-op beyond logging.
func (p *Primary) ExchangeDestroy(e ports.Exchange) {
	log.Debug().Str("exchange", e.Name()).Msg("Exchange destroyed, no backup notification sent")
}

// StartTx implements ports.BrokerObserver.
func (p *Primary) StartTx(txQueueName string) ports.TxObserver {
	obs := &txObserver{txQueueName: txQueueName, primary: p}
	p.mu.Lock()
	p.txObservers[txQueueName] = weak.Make(obs)
	p.mu.Unlock()
	return obs
}

// StartDtx implements ports.BrokerObserver. Distributed transactions are
// not made atomic across the replication boundary; logged so an operator
// using DTX against a replicated queue notices.
func (p *Primary) StartDtx(txQueueName string) {
	log.Warn().Str("txQueue", txQueueName).Msg("Distributed transactions are not atomic across HA replication")
}

// RemoveReplica notifies the transaction observer registered for txQueue,
// if it is still reachable, that queueName's replicating subscription
// cancelled mid-transaction. The registration is held as a weak pointer
// (SPEC_FULL §4.4.6): if every strong reference to the observer has already
// gone away the transaction itself has necessarily ended, so a vanished
// observer is treated as nothing to notify rather than an error.
func (p *Primary) RemoveReplica(txQueueName, queueName string) {
	p.mu.Lock()
	wp, ok := p.txObservers[txQueueName]
	p.mu.Unlock()
	if !ok {
		return
	}
	if obs := wp.Value(); obs != nil {
		obs.ReplicaRemoved(queueName)
	}
}

// BackupCount reports the number of backups currently tracked, for
// diagnostics and the status HTTP endpoint.
func (p *Primary) BackupCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backups)
}

// ExpectedCount reports the number of backups still expected.
func (p *Primary) ExpectedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.expectedBackups)
}

// Active reports whether client traffic has been admitted.
func (p *Primary) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// BackupView is the diagnostic summary of one tracked backup, exposed to
// the status HTTP endpoint.
type BackupView struct {
	SystemID string
	Name     string
	Status   string
	Expected bool
}

// BackupViews snapshots every tracked backup for diagnostics.
func (p *Primary) BackupViews() []BackupView {
	p.mu.Lock()
	defer p.mu.Unlock()
	views := make([]BackupView, 0, len(p.backups))
	for id, b := range p.backups {
		views = append(views, BackupView{
			SystemID: id.String(),
			Name:     b.Info.Name,
			Status:   b.Info.Status.String(),
			Expected: b.Expected,
		})
	}
	return views
}
