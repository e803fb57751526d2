package unit

import (
	"github.com/dgnsrekt/rtr-relay/internal/gate"
	"github.com/dgnsrekt/rtr-relay/internal/metrics"
)

// Metrics exports what the gate of an RTR unit tracks.
type Metrics struct {
	gate *gate.Metrics
}

func newMetrics(g *gate.Gate) *Metrics {
	return &Metrics{gate: g.Metrics()}
}

// Append implements metrics.Source.
func (m *Metrics) Append(unitName string, target *metrics.Target) {
	m.gate.Append(unitName, target)
}

var _ metrics.Source = (*Metrics)(nil)
