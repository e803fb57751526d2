package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fixedSource struct {
	updates float64
	size    float64
}

var (
	testUpdates = Metric{Name: "test_updates_total", Help: "Updates seen.", Kind: Counter}
	testSize    = Metric{Name: "test_set_size", Help: "Current set size.", Kind: Gauge}
)

func (s fixedSource) Append(unitName string, target *Target) {
	target.Append(testUpdates, unitName, s.updates)
	target.Append(testSize, unitName, s.size)
}

func TestCollection_Collect(t *testing.T) {
	c := NewCollection()
	c.Register("rtr-a", fixedSource{updates: 3, size: 10})
	c.Register("rtr-b", fixedSource{updates: 1, size: 2})

	want := `
# HELP rtr_relay_test_set_size Current set size.
# TYPE rtr_relay_test_set_size gauge
rtr_relay_test_set_size{component="rtr-a"} 10
rtr_relay_test_set_size{component="rtr-b"} 2
# HELP rtr_relay_test_updates_total Updates seen.
# TYPE rtr_relay_test_updates_total counter
rtr_relay_test_updates_total{component="rtr-a"} 3
rtr_relay_test_updates_total{component="rtr-b"} 1
`
	err := testutil.CollectAndCompare(c, strings.NewReader(want))
	require.NoError(t, err)
}

func TestCollection_Registry(t *testing.T) {
	c := NewCollection()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	c.Register("rtr-a", fixedSource{updates: 1})
	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 2)
}
