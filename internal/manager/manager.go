// Package manager starts the configured units and connects them to the
// rest of the relay.
package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/rtr-relay/internal/config"
	"github.com/dgnsrekt/rtr-relay/internal/gate"
	"github.com/dgnsrekt/rtr-relay/internal/metrics"
	"github.com/dgnsrekt/rtr-relay/internal/notify"
	"github.com/dgnsrekt/rtr-relay/internal/payload"
	"github.com/dgnsrekt/rtr-relay/internal/unit"
)

var ErrUnknownUnit = errors.New("unknown unit")

const notifyTimeout = 10 * time.Second

// Consumer receives every update published by any unit.
type Consumer interface {
	Consume(unit string, update payload.Update)
}

// Component is the handle a unit gets from the manager.
type Component struct {
	name    string
	metrics *metrics.Collection
}

func (c *Component) Name() string {
	return c.name
}

// RegisterMetrics adds the unit's metrics to the shared collection.
func (c *Component) RegisterMetrics(source metrics.Source) {
	c.metrics.Register(c.name, source)
}

// UnitInfo describes a unit for status reports.
type UnitInfo struct {
	Name    string `json:"name"`
	Remote  string `json:"remote"`
	State   string `json:"state"`
	Status  string `json:"status"`
	Serial  uint32 `json:"serial"`
	Updates uint64 `json:"updates"`
}

type managed struct {
	name   string
	remote string
	rtr    *unit.RTR
	gate   *gate.Gate
	agent  *gate.Agent
}

// Manager owns all units.
type Manager struct {
	units     []*managed
	byName    map[string]*managed
	metrics   *metrics.Collection
	consumers []Consumer
	notifier  notify.Notifier
	logger    *zap.Logger
}

// New creates a unit with its gate for every entry of units. Nothing runs
// before Run is called.
func New(
	units []config.UnitConfig, queue int, collection *metrics.Collection, logger *zap.Logger, opts ...unit.Option,
) (*Manager, error) {
	m := &Manager{
		byName:   make(map[string]*managed, len(units)),
		metrics:  collection,
		notifier: &notify.NoopNotifier{},
		logger:   logger,
	}
	for _, u := range units {
		if _, ok := m.byName[u.Name]; ok {
			return nil, fmt.Errorf("duplicate unit %q", u.Name)
		}
		g, agent := gate.New(queue)
		entry := &managed{
			name:   u.Name,
			remote: u.Remote,
			rtr:    unit.New(unit.Config{Remote: u.Remote, Retry: u.RetryInterval()}, logger, opts...),
			gate:   g,
			agent:  agent,
		}
		m.units = append(m.units, entry)
		m.byName[u.Name] = entry
	}
	return m, nil
}

// AddConsumer registers c for all updates. It must be called before Run.
func (m *Manager) AddConsumer(c Consumer) {
	m.consumers = append(m.consumers, c)
}

// SetNotifier sets who is told about units that stop while the relay keeps
// running. It must be called before Run.
func (m *Manager) SetNotifier(n notify.Notifier) {
	m.notifier = n
}

// Run runs all units until ctx ends. Units that stop early do not stop the
// others; their errors are returned once everything has stopped.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("starting units", zap.Int("count", len(m.units)))

	var eg errgroup.Group
	for _, u := range m.units {
		eg.Go(func() error {
			return m.run(ctx, u)
		})
		eg.Go(func() error {
			m.feed(u)
			return nil
		})
	}
	return eg.Wait()
}

func (m *Manager) run(ctx context.Context, u *managed) error {
	comp := &Component{name: u.name, metrics: m.metrics}
	start := time.Now()
	err := u.rtr.Run(ctx, comp, u.gate)
	switch {
	case errors.Is(err, context.Canceled):
		m.logger.Info("unit stopped", zap.String("unit", u.name))
		return nil
	case errors.Is(err, gate.ErrTerminated):
		m.logger.Info("unit terminated", zap.String("unit", u.name))
		m.notify(u, start, nil)
		return nil
	default:
		m.logger.Error("unit failed", zap.String("unit", u.name), zap.Error(err))
		m.notify(u, start, err)
		return fmt.Errorf("unit %s: %w", u.name, err)
	}
}

func (m *Manager) notify(u *managed, start time.Time, err error) {
	stats := u.agent.Metrics()
	ev := notify.Event{
		Unit:    u.name,
		Remote:  u.remote,
		Serial:  uint32(stats.Serial()),
		Updates: stats.Updates(),
		Uptime:  time.Since(start),
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err != nil {
		err = m.notifier.SendFailure(ctx, ev, err)
	} else {
		err = m.notifier.SendStopped(ctx, ev)
	}
	if err != nil {
		m.logger.Warn("failed to notify", zap.String("unit", u.name), zap.Error(err))
	}
}

// feed hands the updates of u to all consumers until the unit closes its
// gate.
func (m *Manager) feed(u *managed) {
	for update := range u.agent.Updates() {
		for _, c := range m.consumers {
			c.Consume(u.name, update)
		}
	}
}

// Terminate stops the named unit.
func (m *Manager) Terminate(name string) error {
	u, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUnit, name)
	}
	u.agent.Terminate()
	return nil
}

// SetInterest tells the named unit whether anybody downstream currently
// wants its updates.
func (m *Manager) SetInterest(ctx context.Context, name string, active bool) error {
	u, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUnit, name)
	}
	if active {
		return u.agent.Resume(ctx)
	}
	return u.agent.Suspend(ctx)
}

// Has reports whether a unit of that name exists.
func (m *Manager) Has(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// Status reports all units in configuration order.
func (m *Manager) Status() []UnitInfo {
	infos := make([]UnitInfo, 0, len(m.units))
	for _, u := range m.units {
		stats := u.agent.Metrics()
		infos = append(infos, UnitInfo{
			Name:    u.name,
			Remote:  u.remote,
			State:   u.rtr.State().String(),
			Status:  stats.UnitStatus().String(),
			Serial:  uint32(stats.Serial()),
			Updates: stats.Updates(),
		})
	}
	return infos
}
