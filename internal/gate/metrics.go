package gate

import (
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/rtr-relay/internal/metrics"
	"github.com/dgnsrekt/rtr-relay/internal/payload"
)

var (
	unitStatusMetric = metrics.Metric{
		Name: "unit_status",
		Help: "Status of the unit: 0 stalled, 1 healthy, 2 gone.",
		Kind: metrics.Gauge,
	}
	updatesMetric = metrics.Metric{
		Name: "gate_updates_total",
		Help: "Number of updates published by the unit.",
		Kind: metrics.Counter,
	}
	serialMetric = metrics.Metric{
		Name: "gate_serial",
		Help: "Serial of the last published update.",
		Kind: metrics.Gauge,
	}
	setSizeMetric = metrics.Metric{
		Name: "gate_payload_set_size",
		Help: "Number of payloads in the last published set.",
		Kind: metrics.Gauge,
	}
	diffSizeMetric = metrics.Metric{
		Name: "gate_payload_diff_size",
		Help: "Number of changes in the last published diff.",
		Kind: metrics.Gauge,
	}
	updateTimeMetric = metrics.Metric{
		Name: "gate_update_timestamp_seconds",
		Help: "Unix time of the last published update.",
		Kind: metrics.Gauge,
	}
	connectsMetric = metrics.Metric{
		Name: "gate_connect_attempts_total",
		Help: "Number of connection attempts made by the unit.",
		Kind: metrics.Counter,
	}
	connectFailuresMetric = metrics.Metric{
		Name: "gate_connect_failures_total",
		Help: "Number of connection attempts that failed.",
		Kind: metrics.Counter,
	}
)

// Metrics is tracked by the gate and readable from both sides.
type Metrics struct {
	unitStatus      atomic.Int32
	updates         atomic.Uint64
	serial          atomic.Uint32
	setSize         atomic.Int64
	diffSize        atomic.Int64
	updateTime      atomic.Int64
	connects        atomic.Uint64
	connectFailures atomic.Uint64
}

func (m *Metrics) setUnitStatus(s UnitStatus) {
	m.unitStatus.Store(int32(s))
}

func (m *Metrics) recordUpdate(update payload.Update) {
	m.updates.Add(1)
	m.serial.Store(uint32(update.Serial))
	m.setSize.Store(int64(update.Set.Len()))
	m.diffSize.Store(int64(update.Diff.Len()))
	m.updateTime.Store(time.Now().Unix())
}

// RecordConnect counts a connection attempt and whether it failed.
func (m *Metrics) RecordConnect(failed bool) {
	m.connects.Add(1)
	if failed {
		m.connectFailures.Add(1)
	}
}

func (m *Metrics) UnitStatus() UnitStatus {
	return UnitStatus(m.unitStatus.Load())
}

func (m *Metrics) Updates() uint64 {
	return m.updates.Load()
}

func (m *Metrics) Serial() payload.Serial {
	return payload.Serial(m.serial.Load())
}

func (m *Metrics) Connects() uint64 {
	return m.connects.Load()
}

// Append implements metrics.Source.
func (m *Metrics) Append(unitName string, target *metrics.Target) {
	target.Append(unitStatusMetric, unitName, float64(m.unitStatus.Load()))
	target.Append(updatesMetric, unitName, float64(m.updates.Load()))
	target.Append(serialMetric, unitName, float64(m.serial.Load()))
	target.Append(setSizeMetric, unitName, float64(m.setSize.Load()))
	target.Append(diffSizeMetric, unitName, float64(m.diffSize.Load()))
	target.Append(updateTimeMetric, unitName, float64(m.updateTime.Load()))
	target.Append(connectsMetric, unitName, float64(m.connects.Load()))
	target.Append(connectFailuresMetric, unitName, float64(m.connectFailures.Load()))
}
