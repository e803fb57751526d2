package manager

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dgnsrekt/rtr-relay/internal/config"
	"github.com/dgnsrekt/rtr-relay/internal/metrics"
	"github.com/dgnsrekt/rtr-relay/internal/notify"
	"github.com/dgnsrekt/rtr-relay/internal/payload"
	"github.com/dgnsrekt/rtr-relay/internal/rtr"
	"github.com/dgnsrekt/rtr-relay/internal/rtr/rtrtest"
	"github.com/dgnsrekt/rtr-relay/internal/unit"
)

const wait = 2 * time.Second

var vrpA = payload.Payload{Prefix: netip.MustParsePrefix("192.0.2.0/24"), MaxLength: 24, ASN: 64496}

// pipeDialer connects every dial to a new scripted server.
type pipeDialer struct {
	servers chan *rtrtest.Server
}

func (d *pipeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	client, server := net.Pipe()
	d.servers <- rtrtest.NewServer(server)
	return client, nil
}

type recorder struct {
	mu      sync.Mutex
	updates map[string][]payload.Update
}

func (r *recorder) Consume(unit string, update payload.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updates == nil {
		r.updates = make(map[string][]payload.Update)
	}
	r.updates[unit] = append(r.updates[unit], update)
}

func (r *recorder) count(unit string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates[unit])
}

type notifications struct {
	mu      sync.Mutex
	stopped []notify.Event
	failed  []notify.Event
}

func (n *notifications) SendStopped(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = append(n.stopped, ev)
	return nil
}

func (n *notifications) SendFailure(_ context.Context, ev notify.Event, _ error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, ev)
	return nil
}

func TestNew_DuplicateUnit(t *testing.T) {
	units := []config.UnitConfig{
		{Name: "a", Remote: "127.0.0.1:323", Retry: 1},
		{Name: "a", Remote: "127.0.0.1:324", Retry: 1},
	}
	_, err := New(units, 1, metrics.NewCollection(), zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestManager_Run(t *testing.T) {
	d := &pipeDialer{servers: make(chan *rtrtest.Server, 4)}
	collection := metrics.NewCollection()
	units := []config.UnitConfig{{Name: "local", Remote: "127.0.0.1:3323", Retry: 60}}
	m, err := New(units, 4, collection, zaptest.NewLogger(t), unit.WithDialer(d))
	require.NoError(t, err)

	rec := &recorder{}
	m.AddConsumer(rec)
	notes := &notifications{}
	m.SetNotifier(notes)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	var s *rtrtest.Server
	select {
	case s = <-d.servers:
	case <-time.After(wait):
		t.Fatal("no connection")
	}
	defer s.Close()

	_, err = s.Expect(rtr.TypeResetQuery, wait)
	require.NoError(t, err)
	require.NoError(t, s.Respond(1, 1, rtrtest.Announce(vrpA)))

	require.Eventually(t, func() bool { return rec.count("local") == 1 }, wait, 10*time.Millisecond)
	require.Eventually(t, func() bool { return m.Status()[0].Updates == 1 }, wait, 10*time.Millisecond)

	status := m.Status()
	require.Len(t, status, 1)
	assert.Equal(t, UnitInfo{
		Name:    "local",
		Remote:  "127.0.0.1:3323",
		State:   "streaming",
		Status:  "healthy",
		Serial:  1,
		Updates: 1,
	}, status[0])

	assert.True(t, m.Has("local"))
	assert.False(t, m.Has("remote"))
	assert.Positive(t, testutil.CollectAndCount(collection))

	opCtx, opCancel := context.WithTimeout(context.Background(), wait)
	defer opCancel()
	require.NoError(t, m.SetInterest(opCtx, "local", false))
	require.NoError(t, m.SetInterest(opCtx, "local", true))
	require.ErrorIs(t, m.SetInterest(opCtx, "remote", true), ErrUnknownUnit)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(wait):
		t.Fatal("manager did not stop")
	}
	assert.Equal(t, "terminated", m.Status()[0].State)
	assert.Equal(t, "gone", m.Status()[0].Status)
	// Shutting down the relay is not worth a notification.
	assert.Empty(t, notes.stopped)
	assert.Empty(t, notes.failed)
}

func TestManager_Terminate(t *testing.T) {
	d := &pipeDialer{servers: make(chan *rtrtest.Server, 4)}
	units := []config.UnitConfig{{Name: "local", Remote: "127.0.0.1:3323", Retry: 60}}
	m, err := New(units, 1, metrics.NewCollection(), zaptest.NewLogger(t), unit.WithDialer(d))
	require.NoError(t, err)
	notes := &notifications{}
	m.SetNotifier(notes)

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	var s *rtrtest.Server
	select {
	case s = <-d.servers:
	case <-time.After(wait):
		t.Fatal("no connection")
	}
	defer s.Close()

	require.ErrorIs(t, m.Terminate("remote"), ErrUnknownUnit)
	require.NoError(t, m.Terminate("local"))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(wait):
		t.Fatal("manager did not stop")
	}

	require.Len(t, notes.stopped, 1)
	assert.Equal(t, "local", notes.stopped[0].Unit)
	assert.Equal(t, "127.0.0.1:3323", notes.stopped[0].Remote)
	assert.Empty(t, notes.failed)
}
