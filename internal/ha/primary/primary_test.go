package primary

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.brokerha.dev/internal/ha/ports"
	"go.brokerha.dev/internal/ha/types"
)

// fakeTimer captures the last scheduled callback so tests can fire it
// deterministically instead of sleeping.
type fakeTimer struct {
	lastFire func()
	cancelled bool
}

func (t *fakeTimer) Schedule(d time.Duration, fire func()) ports.Task {
	t.lastFire = fire
	return fakeTask{t}
}

func (t *fakeTimer) fire() {
	if t.lastFire != nil {
		t.lastFire()
	}
}

type fakeTask struct{ t *fakeTimer }

func (f fakeTask) Cancel() { f.t.cancelled = true }

type fakeMembership struct {
	statuses []types.BrokerStatus
	added    []types.BrokerInfo
	removed  []uuid.UUID
}

func (m *fakeMembership) SetStatus(s types.BrokerStatus) { m.statuses = append(m.statuses, s) }
func (m *fakeMembership) Add(info types.BrokerInfo)      { m.added = append(m.added, info) }
func (m *fakeMembership) Remove(id uuid.UUID)            { m.removed = append(m.removed, id) }

func (m *fakeMembership) lastStatus() types.BrokerStatus {
	if len(m.statuses) == 0 {
		return types.StatusJoining
	}
	return m.statuses[len(m.statuses)-1]
}

type fakeAudit struct {
	promotions       int
	statusChanges    []types.BrokerInfo
	activations      int
	timeouts         []uuid.UUID
}

func (a *fakeAudit) Promoted(ctx context.Context, expected int)              { a.promotions++ }
func (a *fakeAudit) BackupStatusChanged(ctx context.Context, info types.BrokerInfo) {
	a.statusChanges = append(a.statusChanges, info)
}
func (a *fakeAudit) ClusterActivated(ctx context.Context)          { a.activations++ }
func (a *fakeAudit) BackupTimedOut(ctx context.Context, id uuid.UUID) { a.timeouts = append(a.timeouts, id) }

type fakeQueue struct {
	name string
	args map[string]string
}

func (q *fakeQueue) Name() string               { return q.name }
func (q *fakeQueue) Args() map[string]string    { return q.args }
func (q *fakeQueue) SetArgument(k, v string)     { q.args[k] = v }

func newFakeQueue(name string) *fakeQueue {
	return &fakeQueue{name: name, args: make(map[string]string)}
}

type fakeRegistry struct {
	queues []string
}

func (r *fakeRegistry) EachQueue(fn func(ports.Queue)) {
	for _, q := range r.queues {
		fn(newFakeQueue(q))
	}
}

type fakeConn struct {
	handle int
	info   types.BrokerInfo
	isHA   bool
}

func (c fakeConn) Handle() any { return c.handle }
func (c fakeConn) BrokerInfo() (types.BrokerInfo, bool) { return c.info, c.isHA }

func newDeps() (Deps, *fakeMembership, *fakeTimer) {
	mem := &fakeMembership{}
	timer := &fakeTimer{}
	return NewDeps(Deps{
		Registry:   &fakeRegistry{},
		Membership: mem,
		Timer:      timer,
	}), mem, timer
}

func TestPromote_NoExpectedBackupsActivatesImmediately(t *testing.T) {
	deps, mem, _ := newDeps()
	p := Promote(DefaultConfig(), deps, nil, nil)

	assert.True(t, p.Active())
	assert.Equal(t, types.StatusActive, mem.lastStatus())
}

func TestPromote_ExpectedBackupsBlockActivation(t *testing.T) {
	deps, mem, _ := newDeps()
	expected := []types.BrokerInfo{{SystemID: uuid.New(), Name: "b1"}}
	p := Promote(DefaultConfig(), deps, expected, nil)

	assert.False(t, p.Active())
	assert.Equal(t, types.StatusRecovering, mem.lastStatus())
	assert.Equal(t, 1, p.ExpectedCount())
}

func TestOpened_UnknownConnectionIsIgnored(t *testing.T) {
	deps, _, _ := newDeps()
	p := Promote(DefaultConfig(), deps, nil, nil)

	p.Opened(fakeConn{handle: 1, isHA: false})
	assert.Equal(t, 0, p.BackupCount())
}

func TestOpened_NewBackupTracked(t *testing.T) {
	deps, mem, _ := newDeps()
	p := Promote(DefaultConfig(), deps, nil, nil)

	id := uuid.New()
	p.Opened(fakeConn{handle: 1, isHA: true, info: types.BrokerInfo{SystemID: id, Name: "b1"}})

	assert.Equal(t, 1, p.BackupCount())
	require.NotEmpty(t, mem.added)
	assert.Equal(t, types.StatusCatchup, mem.added[0].Status)
}

func TestExpectedBackupReachesReadyAndActivatesCluster(t *testing.T) {
	deps, mem, _ := newDeps()
	id := uuid.New()
	expected := []types.BrokerInfo{{SystemID: id, Name: "b1"}}
	p := Promote(DefaultConfig(), deps, expected, nil)
	require.False(t, p.Active())

	p.Opened(fakeConn{handle: 1, isHA: true, info: types.BrokerInfo{SystemID: id, Name: "b1"}})
	// no queues existed at promotion, so the backup has nothing to catch up on
	// and is immediately ready.
	assert.True(t, p.Active())
	assert.Equal(t, types.StatusActive, mem.lastStatus())
}

func TestQueueCreateRejectsUnknownReplicationLevel(t *testing.T) {
	deps, _, _ := newDeps()
	p := Promote(DefaultConfig(), deps, nil, nil)

	q := newFakeQueue("orders")
	q.args[types.QPIDReplicate] = "sideways"
	err := p.QueueCreate(q)
	require.ErrorIs(t, err, types.ErrUnknownReplicationLevel)
}

func TestQueueCreateStampsReplicationArguments(t *testing.T) {
	deps, _, _ := newDeps()
	p := Promote(DefaultConfig(), deps, nil, nil)

	q := newFakeQueue("orders")
	q.args[types.QPIDReplicate] = "all"
	require.NoError(t, p.QueueCreate(q))
	assert.Equal(t, "all", q.args[types.QPIDReplicate])
	assert.NotEmpty(t, q.args[types.QPIDHAUUID])
}

func TestQueueCreateNotReplicatedLeavesArgumentsUntouched(t *testing.T) {
	deps, _, _ := newDeps()
	p := Promote(DefaultConfig(), deps, nil, nil)

	q := newFakeQueue("orders")
	require.NoError(t, p.QueueCreate(q))
	assert.Empty(t, q.args[types.QPIDHAUUID])
}

func TestTimeoutExpectedBackups_DropsUnconnectedBackup(t *testing.T) {
	deps, mem, timer := newDeps()
	id := uuid.New()
	expected := []types.BrokerInfo{{SystemID: id, Name: "b1"}}
	p := Promote(DefaultConfig(), deps, expected, nil)
	require.Equal(t, 1, p.ExpectedCount())

	timer.fire()

	assert.Equal(t, 0, p.ExpectedCount())
	assert.True(t, p.Active(), "dropping the only expected backup activates the cluster")
	found := false
	for _, info := range mem.added {
		if info.SystemID == id && info.Status == types.StatusCatchup {
			found = true
		}
	}
	assert.True(t, found, "timed-out backup is republished with catchup status")
}

func TestClose_CancelsTimerAndIsIdempotent(t *testing.T) {
	deps, _, timer := newDeps()
	expected := []types.BrokerInfo{{SystemID: uuid.New(), Name: "b1"}}
	p := Promote(DefaultConfig(), deps, expected, nil)

	p.Close()
	p.Close()
	assert.True(t, timer.cancelled)
}

func TestOpenedReconnectionRace_ReplacesPreviousConnection(t *testing.T) {
	deps, _, _ := newDeps()
	p := Promote(DefaultConfig(), deps, nil, nil)
	id := uuid.New()

	p.Opened(fakeConn{handle: 1, isHA: true, info: types.BrokerInfo{SystemID: id, Name: "b1"}})
	p.Opened(fakeConn{handle: 2, isHA: true, info: types.BrokerInfo{SystemID: id, Name: "b1"}})

	assert.Equal(t, 1, p.BackupCount())
}

func TestClosedUnknownConnection_IsIgnored(t *testing.T) {
	deps, _, _ := newDeps()
	p := Promote(DefaultConfig(), deps, nil, nil)

	p.Closed(fakeConn{handle: 1, isHA: true, info: types.BrokerInfo{SystemID: uuid.New()}})
	assert.Equal(t, 0, p.BackupCount())
}

func TestBackupDisconnectReleasesQueueLimitBudget(t *testing.T) {
	// Regression test for the historical bug where disconnect reserved
	// budget instead of releasing it: after connect and disconnect the
	// backup's queue-limit entry must be gone, and a reconnect must track
	// the backup again.
	mem := &fakeMembership{}
	timer := &fakeTimer{}
	deps := NewDeps(Deps{
		Registry:   &fakeRegistry{},
		Membership: mem,
		Timer:      timer,
		Limits:     NewMemQueueLimits(1),
	})
	p := Promote(DefaultConfig(), deps, nil, nil)
	id := uuid.New()

	conn := fakeConn{handle: 1, isHA: true, info: types.BrokerInfo{SystemID: id, Name: "b1"}}
	p.Opened(conn)
	p.Closed(conn)
	_, reserved := deps.Limits.(*memQueueLimits).counts[id]
	assert.False(t, reserved, "disconnect must release the backup's queue-limit reservation")
	// reconnect: the same systemId is tracked again under a fresh reservation.
	p.Opened(fakeConn{handle: 2, isHA: true, info: types.BrokerInfo{SystemID: id, Name: "b1"}})

	assert.Equal(t, 1, p.BackupCount())
	require.Len(t, mem.removed, 1)
	assert.Equal(t, id, mem.removed[0])
}

func TestPromote_RecordsAuditEvent(t *testing.T) {
	audit := &fakeAudit{}
	deps := NewDeps(Deps{Registry: &fakeRegistry{}, Membership: &fakeMembership{}, Timer: &fakeTimer{}, Audit: audit})
	Promote(DefaultConfig(), deps, nil, nil)

	assert.Equal(t, 1, audit.promotions)
}

func TestCheckReady_ActivationRecordsAuditEvent(t *testing.T) {
	audit := &fakeAudit{}
	expected := []types.BrokerInfo{{SystemID: uuid.New(), Name: "b1"}}
	deps := NewDeps(Deps{Registry: &fakeRegistry{}, Membership: &fakeMembership{}, Timer: &fakeTimer{}, Audit: audit})
	p := Promote(DefaultConfig(), deps, expected, nil)

	p.Opened(fakeConn{handle: 1, isHA: true, info: expected[0]})

	assert.Equal(t, 1, audit.activations)
}

func TestTimeoutExpectedBackups_RecordsAuditEvent(t *testing.T) {
	audit := &fakeAudit{}
	timer := &fakeTimer{}
	id := uuid.New()
	expected := []types.BrokerInfo{{SystemID: id, Name: "b1"}}
	deps := NewDeps(Deps{Registry: &fakeRegistry{}, Membership: &fakeMembership{}, Timer: timer, Audit: audit})
	Promote(DefaultConfig(), deps, expected, nil)

	timer.fire()

	require.Len(t, audit.timeouts, 1)
	assert.Equal(t, id, audit.timeouts[0])
}

func TestOpenedReconnectionRace_ThrottledByRateLimitKeepsExistingReservation(t *testing.T) {
	mem := &fakeMembership{}
	cfg := DefaultConfig()
	cfg.ReconnectBurst = 1
	deps := NewDeps(Deps{Registry: &fakeRegistry{}, Membership: mem, Timer: &fakeTimer{}, Limits: NewMemQueueLimits(1)})
	p := Promote(cfg, deps, nil, nil)
	id := uuid.New()

	p.Opened(fakeConn{handle: 1, isHA: true, info: types.BrokerInfo{SystemID: id, Name: "b1"}})
	// The first reconnection race (handle 2) spends the burst-of-1 token;
	// the second race within the same instant (handle 3) must be
	// throttled rather than release and re-acquire the budget.
	p.Opened(fakeConn{handle: 2, isHA: true, info: types.BrokerInfo{SystemID: id, Name: "b1"}})
	p.Opened(fakeConn{handle: 3, isHA: true, info: types.BrokerInfo{SystemID: id, Name: "b1"}})

	assert.Equal(t, 1, p.BackupCount())
}
