// Package unit contains the units that pull payload data into the relay.
//
// An RTR unit keeps a connection to one RTR server, turns the exchanges on
// it into updates and publishes them through its gate. Lost connections are
// re-established after the retry interval. The gate can stop the unit at
// any time, including while it is blocked on the network.
package unit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dgnsrekt/rtr-relay/internal/gate"
	"github.com/dgnsrekt/rtr-relay/internal/metrics"
	"github.com/dgnsrekt/rtr-relay/internal/payload"
	"github.com/dgnsrekt/rtr-relay/internal/rtr"
)

// DefaultRetry is the time between connection attempts if none is
// configured.
const DefaultRetry = 60 * time.Second

// Config configures an RTR unit.
type Config struct {
	// Remote is the host:port of the RTR server.
	Remote string
	// Retry is the time to wait after a failed or lost connection.
	Retry time.Duration
}

// Dialer opens connections to the RTR server.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Component is the manager's handle for a running unit.
type Component interface {
	Name() string
	RegisterMetrics(source metrics.Source)
}

// ConnState is the connection state of an RTR unit.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Streaming
	RetryWait
	Terminated
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case RetryWait:
		return "retry-wait"
	case Terminated:
		return "terminated"
	default:
		return "disconnected"
	}
}

// Option customizes an RTR unit.
type Option func(*RTR)

// WithDialer replaces the TCP dialer.
func WithDialer(d Dialer) Option {
	return func(u *RTR) {
		u.dialer = d
	}
}

// WithClock replaces the clock used for the retry wait.
func WithClock(c clockwork.Clock) Option {
	return func(u *RTR) {
		u.clock = c
	}
}

// RTR is a unit fed by an RTR server.
type RTR struct {
	remote string
	retry  time.Duration
	dialer Dialer
	clock  clockwork.Clock
	logger *zap.Logger

	// Only touched by Run. The gate status is advisory: it is recorded for
	// logging and never interrupts I/O.
	status gate.Status
	serial payload.Serial

	state atomic.Int32
}

// New creates an RTR unit.
func New(cfg Config, logger *zap.Logger, opts ...Option) *RTR {
	retry := cfg.Retry
	if retry <= 0 {
		retry = DefaultRetry
	}
	u := &RTR{
		remote: cfg.Remote,
		retry:  retry,
		dialer: &net.Dialer{},
		clock:  clockwork.NewRealClock(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// State returns the current connection state.
func (u *RTR) State() ConnState {
	return ConnState(u.state.Load())
}

func (u *RTR) setState(s ConnState) {
	u.state.Store(int32(s))
}

// Run runs the unit until the gate terminates it, ctx ends or the server
// reports an error that reconnecting cannot fix.
//
// It returns gate.ErrTerminated after termination, the context error if ctx
// ended and an *rtr.Error otherwise. The gate is closed when Run returns.
func (u *RTR) Run(ctx context.Context, component Component, g *gate.Gate) error {
	defer g.Close()
	defer u.setState(Terminated)

	logger := u.logger.With(
		zap.String("unit", component.Name()),
		zap.String("remote", u.remote),
	)
	component.RegisterMetrics(newMetrics(g))
	target := newTarget(component.Name())
	g.UpdateStatus(gate.Stalled)

	for {
		u.setState(Connecting)
		logger.Debug("connecting")
		conn, err := u.connect(ctx, g)
		if u.terminal(ctx, err) {
			return u.stopped(ctx, err, logger)
		}
		if err != nil {
			g.Metrics().RecordConnect(true)
			logger.Warn("failed to connect to RTR server", zap.Error(err))
			g.UpdateStatus(gate.Stalled)
			if err := u.retryWait(ctx, g); err != nil {
				return u.stopped(ctx, err, logger)
			}
			continue
		}

		g.Metrics().RecordConnect(false)
		logger.Info("connected to RTR server", zap.Stringer("local", conn.LocalAddr()))
		u.setState(Streaming)
		g.UpdateStatus(gate.Healthy)
		err = u.stream(ctx, g, target, conn, logger)
		u.setState(Disconnected)
		g.UpdateStatus(gate.Stalled)
		switch {
		case u.terminal(ctx, err):
			return u.stopped(ctx, err, logger)
		case rtr.IsFatal(err):
			logger.Error("RTR server rejected the connection", zap.Error(err))
			return err
		case errors.Is(err, io.EOF):
			logger.Info("RTR server closed the connection")
		default:
			logger.Warn("RTR connection lost", zap.Error(err))
		}
		if err := u.retryWait(ctx, g); err != nil {
			return u.stopped(ctx, err, logger)
		}
	}
}

// stream runs update cycles on conn until it fails. It never returns nil.
func (u *RTR) stream(
	ctx context.Context, g *gate.Gate, target *target, conn net.Conn, logger *zap.Logger,
) error {
	client := rtr.NewClient[cycle](conn, target, target.state)
	defer func() {
		_ = client.Close()
	}()

	for {
		c, err := u.update(ctx, g, client)
		if err != nil {
			if errors.Is(err, rtr.ErrCorrupt) {
				// Whatever we hold may not match the server anymore.
				target.state = nil
			} else {
				target.state = client.State()
			}
			return err
		}
		target.state = client.State()

		if c.definitelyEmpty() {
			logger.Debug("skipping empty update")
			continue
		}
		u.serial = u.serial.Add(1)
		update := c.finish(u.serial)
		target.current = update.Set
		logger.Debug("publishing update",
			zap.Uint32("serial", uint32(update.Serial)),
			zap.Int("payloads", update.Set.Len()),
			zap.Bool("reset", update.IsReset()),
		)
		if err := g.UpdateData(ctx, update); err != nil {
			return err
		}
	}
}

func (u *RTR) connect(ctx context.Context, g *gate.Gate) (net.Conn, error) {
	type dialed struct {
		conn net.Conn
		err  error
	}
	res, err := await(ctx, g, u.setStatus, func(ctx context.Context) dialed {
		conn, err := u.dialer.DialContext(ctx, "tcp", u.remote)
		return dialed{conn: conn, err: err}
	})
	if err != nil {
		if res.conn != nil {
			_ = res.conn.Close()
		}
		return nil, err
	}
	if res.err != nil {
		return nil, fmt.Errorf("dialing %s: %w", u.remote, res.err)
	}
	return res.conn, nil
}

func (u *RTR) update(ctx context.Context, g *gate.Gate, client *rtr.Client[cycle]) (cycle, error) {
	type updated struct {
		cycle cycle
		err   error
	}
	res, err := await(ctx, g, u.setStatus, func(ctx context.Context) updated {
		c, err := client.Update(ctx)
		return updated{cycle: c, err: err}
	})
	if err != nil {
		return nil, err
	}
	return res.cycle, res.err
}

// retryWait waits for the retry interval while serving the gate. Status
// commands do not shorten the wait.
func (u *RTR) retryWait(ctx context.Context, g *gate.Gate) error {
	u.setState(RetryWait)
	timer := u.clock.NewTimer(u.retry)
	defer timer.Stop()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-timer.Chan():
			cancel()
		case <-waitCtx.Done():
		}
	}()

	for {
		status, err := g.Process(waitCtx)
		switch {
		case err == nil:
			u.setStatus(status)
		case errors.Is(err, gate.ErrTerminated):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return nil
		}
	}
}

func (u *RTR) setStatus(status gate.Status) {
	if status != u.status {
		u.logger.Debug("gate status changed", zap.Stringer("status", status))
	}
	u.status = status
}

func (u *RTR) terminal(ctx context.Context, err error) bool {
	return errors.Is(err, gate.ErrTerminated) || (err != nil && ctx.Err() != nil)
}

func (u *RTR) stopped(ctx context.Context, err error, logger *zap.Logger) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, gate.ErrTerminated) {
		err = ctxErr
	}
	logger.Debug("unit stopped", zap.Error(err))
	return err
}

// await runs op while serving the gate.
//
// Status commands are recorded and the gate polled again; op keeps running
// meanwhile. If the gate terminates or ctx ends, op is cancelled and the
// error returned together with whatever op produced after cancellation.
func await[T any](
	ctx context.Context, g *gate.Gate, onStatus func(gate.Status), op func(context.Context) T,
) (T, error) {
	opCtx, cancelOp := context.WithCancel(ctx)
	defer cancelOp()
	pollCtx, stopPoll := context.WithCancel(ctx)
	defer stopPoll()

	done := make(chan T, 1)
	go func() {
		done <- op(opCtx)
		stopPoll()
	}()

	for {
		status, err := g.Process(pollCtx)
		switch {
		case err == nil:
			onStatus(status)
		case errors.Is(err, gate.ErrTerminated):
			cancelOp()
			return <-done, err
		case ctx.Err() != nil:
			cancelOp()
			return <-done, ctx.Err()
		default:
			return <-done, nil
		}
	}
}
