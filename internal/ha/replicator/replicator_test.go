package replicator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.brokerha.dev/internal/ha/types"
)

type fakeMirror struct {
	purged    bool
	position  int64
	acquired  map[int64]bool
	dequeued  []int64
	enqueued  [][]byte
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{acquired: make(map[int64]bool)}
}

func (m *fakeMirror) Purge()                { m.purged = true }
func (m *fakeMirror) Position() int64       { return m.position }
func (m *fakeMirror) SetPosition(p int64)   { m.position = p }
func (m *fakeMirror) Acquire(id int64) bool {
	if id >= m.position {
		return false
	}
	m.acquired[id] = true
	return true
}
func (m *fakeMirror) Dequeue(id int64) { m.dequeued = append(m.dequeued, id) }
func (m *fakeMirror) Enqueue(body []byte) { m.enqueued = append(m.enqueued, body) }

type fakeSubscriber struct {
	subscribedQueue string
	subscribedArgs  map[string]string
	creditIssued    bool
	subscribeErr    error
}

func (s *fakeSubscriber) Subscribe(q string, args map[string]string) error {
	s.subscribedQueue = q
	s.subscribedArgs = args
	return s.subscribeErr
}

func (s *fakeSubscriber) IssueCredit() error {
	s.creditIssued = true
	return nil
}

func TestInitializeBridge_PurgesAndSubscribes(t *testing.T) {
	mirror := newFakeMirror()
	mirror.position = 7 // residual state from a previous life
	r := New("orders", mirror)
	sub := &fakeSubscriber{}

	require.NoError(t, r.InitializeBridge(sub))

	assert.True(t, mirror.purged)
	assert.Equal(t, int64(0), mirror.Position())
	assert.Equal(t, "orders", sub.subscribedQueue)
	assert.Equal(t, "1", sub.subscribedArgs[types.QPIDReplicatingSubscription])
	assert.Equal(t, "1", sub.subscribedArgs[types.QPIDSyncFrequency])
	assert.True(t, sub.creditIssued)
}

func TestDispatch_PlainMessageAdvancesPosition(t *testing.T) {
	mirror := newFakeMirror()
	r := New("orders", mirror)

	require.NoError(t, r.Dispatch(Message{RoutingKey: "", Body: []byte("payload-1")}))
	assert.Equal(t, int64(1), mirror.Position())
	require.Len(t, mirror.enqueued, 1)
	assert.Equal(t, "payload-1", string(mirror.enqueued[0]))

	require.NoError(t, r.Dispatch(Message{RoutingKey: "anything.else", Body: []byte("payload-2")}))
	assert.Equal(t, int64(2), mirror.Position())
}

func TestDispatch_DequeueEventIgnoresIdsNotYetArrived(t *testing.T) {
	mirror := newFakeMirror()
	mirror.position = 3
	r := New("orders", mirror)

	body := []byte(fmt.Sprintf("%d,%d,%d", 1, 2, 5))
	require.NoError(t, r.Dispatch(Message{RoutingKey: types.DequeueEventKey, Body: body}))

	assert.ElementsMatch(t, []int64{1, 2}, mirror.dequeued, "id 5 has not arrived yet and must be ignored")
}

func TestDispatch_PositionEventAssertsMonotonicity(t *testing.T) {
	mirror := newFakeMirror()
	mirror.position = 5
	r := New("orders", mirror)

	require.NoError(t, r.Dispatch(Message{RoutingKey: types.PositionEventKey, Body: []byte("3")}))
	assert.Equal(t, int64(5), mirror.Position(), "a position event moving backwards must be dropped")

	require.NoError(t, r.Dispatch(Message{RoutingKey: types.PositionEventKey, Body: []byte("9")}))
	assert.Equal(t, int64(9), mirror.Position())
}

func TestClose_StopsRoutingWithoutError(t *testing.T) {
	mirror := newFakeMirror()
	r := New("orders", mirror)
	r.Close()
	r.Close() // idempotent

	require.NoError(t, r.Dispatch(Message{RoutingKey: "", Body: []byte("ignored")}))
	assert.Equal(t, int64(0), mirror.Position(), "closed replicator must not apply further events")
	assert.True(t, r.Closed())
}

func TestParseSequenceSet(t *testing.T) {
	ids, err := parseSequenceSet([]byte(" 1, 2 ,3"))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	ids, err = parseSequenceSet([]byte(""))
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = parseSequenceSet([]byte("not-a-number"))
	require.Error(t, err)
}

func TestExchange_NotForGeneralRouting(t *testing.T) {
	e := NewExchange("orders")
	assert.Equal(t, "qpid.replicator-orders", e.Name())
	assert.True(t, e.AutoDelete())
	assert.False(t, e.Bind("rk", "q", nil))
	assert.False(t, e.Unbind("rk", "q"))
	assert.False(t, e.IsBound("rk", "q"))

	e.Promoted()
	assert.False(t, e.AutoDelete())
}
