package gate

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/rtr-relay/internal/payload"
)

func TestProcess_StatusCommands(t *testing.T) {
	g, a := New(1)
	ctx := context.Background()

	go func() {
		_ = a.Suspend(ctx)
		_ = a.Resume(ctx)
	}()

	status, err := g.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, Dormant, status)

	status, err = g.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, Active, status)
}

func TestProcess_AbandonedPollKeepsCommand(t *testing.T) {
	g, a := New(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Process(ctx)
	require.ErrorIs(t, err, context.Canceled)

	done := make(chan error, 1)
	go func() { done <- a.Suspend(context.Background()) }()

	status, err := g.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Dormant, status)
	require.NoError(t, <-done)
}

func TestProcess_Terminate(t *testing.T) {
	g, a := New(1)
	a.Terminate()
	a.Terminate()

	_, err := g.Process(context.Background())
	require.ErrorIs(t, err, ErrTerminated)

	// Sticky once seen.
	_, err = g.Process(context.Background())
	require.ErrorIs(t, err, ErrTerminated)

	require.ErrorIs(t, a.Resume(context.Background()), ErrTerminated)
}

func TestUpdateStatus_KeepsLatest(t *testing.T) {
	g, a := New(1)
	g.UpdateStatus(Stalled)
	g.UpdateStatus(Healthy)

	select {
	case s := <-a.UnitStatus():
		assert.Equal(t, Healthy, s)
	case <-time.After(time.Second):
		t.Fatal("no status delivered")
	}
	assert.Equal(t, Healthy, a.Metrics().UnitStatus())
}

func TestUpdateData_Ordered(t *testing.T) {
	g, a := New(4)
	ctx := context.Background()

	b := payload.NewSetBuilder()
	require.NoError(t, b.Insert(payload.Payload{
		Prefix:    netip.MustParsePrefix("192.0.2.0/24"),
		MaxLength: 24,
		ASN:       64496,
	}))
	set := b.Finalize()

	for serial := payload.Serial(1); serial <= 3; serial++ {
		require.NoError(t, g.UpdateData(ctx, payload.NewUpdate(serial, set, nil)))
	}
	g.Close()

	var got []payload.Serial
	for u := range a.Updates() {
		got = append(got, u.Serial)
	}
	assert.Equal(t, []payload.Serial{1, 2, 3}, got)
	assert.Equal(t, uint64(3), a.Metrics().Updates())
	assert.Equal(t, payload.Serial(3), a.Metrics().Serial())
	assert.Equal(t, Gone, a.Metrics().UnitStatus())
}
