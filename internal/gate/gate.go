// Package gate connects a unit to the rest of the pipeline.
//
// A Gate is held by the unit and an Agent by whoever owns the unit. The two
// only talk through channels: commands flow from the agent to the gate,
// published updates and unit status flow back.
package gate

import (
	"context"
	"errors"
	"sync"

	"github.com/dgnsrekt/rtr-relay/internal/payload"
)

// ErrTerminated is returned once the unit has been asked to stop.
var ErrTerminated = errors.New("gate terminated")

// Status is the state the pipeline wants the unit to be in.
type Status int

const (
	// Active means updates are consumed downstream.
	Active Status = iota
	// Dormant means nobody is currently interested in updates.
	Dormant
)

func (s Status) String() string {
	if s == Dormant {
		return "dormant"
	}
	return "active"
}

// UnitStatus is what the unit reports about itself.
type UnitStatus int32

const (
	Stalled UnitStatus = iota
	Healthy
	Gone
)

func (s UnitStatus) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Gone:
		return "gone"
	default:
		return "stalled"
	}
}

type commandKind int

const (
	cmdSuspend commandKind = iota
	cmdResume
)

// Gate is the unit side of the channel pair.
type Gate struct {
	commands  <-chan commandKind
	terminate <-chan struct{}
	updates   chan<- payload.Update
	status    chan UnitStatus
	metrics   *Metrics

	terminated bool
}

// Agent is the pipeline side of the channel pair.
type Agent struct {
	commands  chan<- commandKind
	terminate chan struct{}
	updates   <-chan payload.Update
	status    <-chan UnitStatus
	metrics   *Metrics

	closeOnce sync.Once
}

// New creates a connected gate and agent. queue is the number of updates
// that may be buffered before publishing blocks.
func New(queue int) (*Gate, *Agent) {
	if queue < 0 {
		queue = 0
	}
	commands := make(chan commandKind)
	terminate := make(chan struct{})
	updates := make(chan payload.Update, queue)
	status := make(chan UnitStatus, 1)
	metrics := &Metrics{}

	g := &Gate{
		commands:  commands,
		terminate: terminate,
		updates:   updates,
		status:    status,
		metrics:   metrics,
	}
	a := &Agent{
		commands:  commands,
		terminate: terminate,
		updates:   updates,
		status:    status,
		metrics:   metrics,
	}
	return g, a
}

// Process waits for the next command from the agent.
//
// It returns the new gate status, ErrTerminated if the unit must stop, or
// the context error if ctx ends first. Abandoning a call through ctx never
// loses a command.
func (g *Gate) Process(ctx context.Context) (Status, error) {
	if g.terminated {
		return Dormant, ErrTerminated
	}
	select {
	case <-ctx.Done():
		return Active, ctx.Err()
	case <-g.terminate:
		g.terminated = true
		return Dormant, ErrTerminated
	case cmd := <-g.commands:
		if cmd == cmdSuspend {
			return Dormant, nil
		}
		return Active, nil
	}
}

// UpdateStatus reports the unit status. It never blocks; a status that has
// not been read yet is replaced.
func (g *Gate) UpdateStatus(status UnitStatus) {
	g.metrics.setUnitStatus(status)
	for {
		select {
		case g.status <- status:
			return
		default:
		}
		select {
		case <-g.status:
		default:
		}
	}
}

// UpdateData publishes an update. Updates are delivered in the order they
// are published.
func (g *Gate) UpdateData(ctx context.Context, update payload.Update) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-g.terminate:
		g.terminated = true
		return ErrTerminated
	case g.updates <- update:
	}
	g.metrics.recordUpdate(update)
	return nil
}

// Close tells the agent that no more updates will arrive.
func (g *Gate) Close() {
	g.UpdateStatus(Gone)
	close(g.updates)
}

// Metrics returns the metrics shared by the gate and its agent.
func (g *Gate) Metrics() *Metrics {
	return g.metrics
}

// Suspend marks the unit dormant. It blocks until the unit polls its gate.
func (a *Agent) Suspend(ctx context.Context) error {
	return a.send(ctx, cmdSuspend)
}

// Resume marks the unit active. It blocks until the unit polls its gate.
func (a *Agent) Resume(ctx context.Context) error {
	return a.send(ctx, cmdResume)
}

// Terminate asks the unit to stop. The unit notices the next time it polls.
func (a *Agent) Terminate() {
	a.closeOnce.Do(func() { close(a.terminate) })
}

// Updates returns the channel published updates arrive on. It is closed
// when the unit closes its gate.
func (a *Agent) Updates() <-chan payload.Update {
	return a.updates
}

// UnitStatus returns the channel carrying the latest unit status.
func (a *Agent) UnitStatus() <-chan UnitStatus {
	return a.status
}

func (a *Agent) Metrics() *Metrics {
	return a.metrics
}

func (a *Agent) send(ctx context.Context, cmd commandKind) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.terminate:
		return ErrTerminated
	case a.commands <- cmd:
		return nil
	}
}
