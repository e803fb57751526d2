package unit

import (
	"fmt"
	"math/rand/v2"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/rtr-relay/internal/payload"
	"github.com/dgnsrekt/rtr-relay/internal/rtr"
)

var (
	vrpA = payload.Payload{Prefix: netip.MustParsePrefix("192.0.2.0/24"), MaxLength: 24, ASN: 64496}
	vrpB = payload.Payload{Prefix: netip.MustParsePrefix("198.51.100.0/24"), MaxLength: 24, ASN: 64497}
)

func TestResetCycle(t *testing.T) {
	tgt := newTarget("test")
	c := tgt.Start(true)
	require.IsType(t, &resetCycle{}, c)

	require.NoError(t, c.PushVRP(payload.Announce, vrpA))
	require.ErrorIs(t, c.PushVRP(payload.Announce, vrpA), payload.ErrDuplicate)

	err := c.PushVRP(payload.Withdraw, vrpA)
	require.ErrorIs(t, err, rtr.ErrCorrupt)
	assert.True(t, c.(*resetCycle).set.Contains(vrpA))

	assert.False(t, c.definitelyEmpty())
	upd := c.finish(4)
	assert.Equal(t, payload.Serial(4), upd.Serial)
	assert.True(t, upd.IsReset())
	assert.Equal(t, []payload.Payload{vrpA}, upd.Set.Payloads())
}

func TestResetCycle_EmptyIsPublished(t *testing.T) {
	c := newTarget("test").Start(true)
	assert.False(t, c.definitelyEmpty())
	assert.Equal(t, 0, c.finish(1).Set.Len())
}

func TestIncrementalCycle(t *testing.T) {
	tgt := newTarget("test")
	b := payload.NewSetBuilder()
	require.NoError(t, b.Insert(vrpA))
	tgt.current = b.Finalize()

	c := tgt.Start(false)
	require.IsType(t, &incrementalCycle{}, c)
	assert.True(t, c.definitelyEmpty())

	require.ErrorIs(t, c.PushVRP(payload.Announce, vrpA), payload.ErrDuplicate)
	require.ErrorIs(t, c.PushVRP(payload.Withdraw, vrpB), payload.ErrAbsent)
	assert.True(t, c.definitelyEmpty())

	require.NoError(t, c.PushVRP(payload.Withdraw, vrpA))
	require.NoError(t, c.PushVRP(payload.Announce, vrpB))
	assert.False(t, c.definitelyEmpty())

	upd := c.finish(2)
	assert.False(t, upd.IsReset())
	assert.Equal(t, []payload.Payload{vrpB}, upd.Set.Payloads())
	assert.Equal(t, 2, upd.Diff.Len())

	// The current set is untouched until the update is published.
	assert.Equal(t, []payload.Payload{vrpA}, tgt.current.Payloads())
}

func TestIncrementalCycle_WithdrawAndReannounce(t *testing.T) {
	tgt := newTarget("test")
	b := payload.NewSetBuilder()
	require.NoError(t, b.Insert(vrpA))
	tgt.current = b.Finalize()

	c := tgt.Start(false)
	require.NoError(t, c.PushVRP(payload.Withdraw, vrpA))
	require.NoError(t, c.PushVRP(payload.Announce, vrpA))

	// The diff is not empty even though the set ends up the same.
	assert.False(t, c.definitelyEmpty())
	upd := c.finish(2)
	assert.True(t, upd.Set.Equal(tgt.current))
}

func TestIncrementalCycle_RandomSequences(t *testing.T) {
	pool := make([]payload.Payload, 32)
	for i := range pool {
		pool[i] = payload.Payload{
			Prefix:    netip.MustParsePrefix(fmt.Sprintf("10.0.%d.0/24", i)),
			MaxLength: 24,
			ASN:       64500 + uint32(i%3),
		}
	}

	for seed := uint64(1); seed <= 50; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(seed, seed))

			held := make(map[payload.Payload]bool)
			b := payload.NewSetBuilder()
			for _, p := range pool {
				if rng.IntN(2) == 0 {
					require.NoError(t, b.Insert(p))
					held[p] = true
				}
			}
			prev := b.Finalize()
			tgt := newTarget("test")
			tgt.current = prev

			c := tgt.Start(false)
			var pushed []payload.DiffEntry
			for range rng.IntN(64) {
				p := pool[rng.IntN(len(pool))]
				action := payload.Announce
				if held[p] {
					action = payload.Withdraw
				}
				held[p] = !held[p]
				require.NoError(t, c.PushVRP(action, p))
				pushed = append(pushed, payload.DiffEntry{Action: action, Payload: p})
			}
			require.Equal(t, len(pushed) == 0, c.definitelyEmpty())
			if len(pushed) == 0 {
				return
			}

			upd := c.finish(2)
			assert.Equal(t, pushed, upd.Diff.Entries())

			applied, err := upd.Diff.Apply(prev)
			require.NoError(t, err)
			assert.True(t, applied.Equal(upd.Set))

			want := payload.NewSetBuilder()
			for p, ok := range held {
				if ok {
					require.NoError(t, want.Insert(p))
				}
			}
			assert.True(t, want.Finalize().Equal(upd.Set))
			assert.True(t, tgt.current.Equal(prev))
		})
	}
}
