// Package rtr implements the client side of the RPKI to Router protocol
// (RFC 8210).
//
// The client does not keep the data itself. It drives a Target that
// creates one Update per exchange with the server and feeds it the
// announced and withdrawn records.
package rtr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dgnsrekt/rtr-relay/internal/payload"
)

const errorReportTimeout = time.Second

var aLongTimeAgo = time.Unix(1, 0)

// State identifies the data a client holds. Handing it to a new client
// lets that client ask for changes only instead of the complete data set.
type State struct {
	SessionID uint16
	Serial    uint32
}

// Update receives the records of one exchange.
type Update interface {
	PushVRP(action payload.Action, p payload.Payload) error
}

// Target creates an update at the start of every exchange. reset is true
// if the update will contain the complete data set.
type Target[U Update] interface {
	Start(reset bool) U
}

// Client talks to one RTR server over an established connection.
type Client[U Update] struct {
	conn    net.Conn
	target  Target[U]
	state   *State
	timing  Timing
	version uint8
	synced  bool
	wbuf    []byte
}

// NewClient creates a client. If state is not nil, the first exchange
// asks for changes since that state.
func NewClient[U Update](conn net.Conn, target Target[U], state *State) *Client[U] {
	var s *State
	if state != nil {
		cp := *state
		s = &cp
	}
	return &Client[U]{
		conn:    conn,
		target:  target,
		state:   s,
		timing:  DefaultTiming,
		version: Version,
	}
}

// State returns the state after the last completed exchange, or nil.
func (c *Client[U]) State() *State {
	if c.state == nil {
		return nil
	}
	cp := *c.state
	return &cp
}

// Timing returns the timing announced by the server.
func (c *Client[U]) Timing() Timing {
	return c.timing
}

// Close closes the underlying connection.
func (c *Client[U]) Close() error {
	return c.conn.Close()
}

// Update performs the next exchange with the server.
//
// The first call queries the server right away. Later calls wait for a
// Serial Notify or for the refresh interval to expire first. If ctx ends,
// the pending read is aborted and the context error returned. The client
// must not be used after an error.
func (c *Client[U]) Update(ctx context.Context) (U, error) {
	var zero U
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(aLongTimeAgo)
	})
	defer stop()

	upd, err := c.update(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		return zero, err
	}
	return upd, nil
}

func (c *Client[U]) update(ctx context.Context) (U, error) {
	var zero U
	if c.synced {
		if err := c.wait(ctx); err != nil {
			return zero, err
		}
	}
	if err := c.query(); err != nil {
		return zero, err
	}
	return c.receive()
}

// wait blocks until the server notifies us or the refresh interval is up.
func (c *Client[U]) wait(ctx context.Context) error {
	if err := c.setReadDeadline(ctx, time.Now().Add(c.timing.Refresh)); err != nil {
		return err
	}
	p, err := c.read()
	switch {
	case err != nil:
		var nerr net.Error
		if !errors.As(err, &nerr) || !nerr.Timeout() || ctx.Err() != nil {
			return err
		}
	case p.Type == TypeSerialNotify:
	case p.Type == TypeCacheReset:
		c.state = nil
	default:
		return c.fail(p, CodeInvalidRequest, corruptf("unexpected PDU type %d while idle", p.Type))
	}
	return c.setReadDeadline(ctx, time.Time{})
}

func (c *Client[U]) setReadDeadline(ctx context.Context, t time.Time) error {
	if err := c.conn.SetReadDeadline(t); err != nil {
		return err
	}
	// The deadline may have replaced the one set on cancellation.
	return ctx.Err()
}

func (c *Client[U]) query() error {
	c.wbuf = c.wbuf[:0]
	if c.state != nil {
		c.wbuf = AppendSerialQuery(c.wbuf, c.version, c.state.SessionID, c.state.Serial)
	} else {
		c.wbuf = AppendResetQuery(c.wbuf, c.version)
	}
	_, err := c.conn.Write(c.wbuf)
	return err
}

func (c *Client[U]) receive() (U, error) {
	var zero U
	p, err := c.read()
	if err != nil {
		return zero, err
	}
	if p.Type == TypeCacheReset {
		if c.state == nil {
			return zero, c.fail(p, CodeCorruptData, corruptf("cache reset in response to reset query"))
		}
		c.state = nil
		if err := c.query(); err != nil {
			return zero, err
		}
		if p, err = c.read(); err != nil {
			return zero, err
		}
	}
	if p.Type != TypeCacheResponse {
		return zero, c.fail(p, CodeCorruptData, corruptf("expected cache response, got PDU type %d", p.Type))
	}
	reset := c.state == nil
	if !reset && p.Session != c.state.SessionID {
		old := c.state.SessionID
		c.state = nil
		return zero, c.fail(p, CodeCorruptData, corruptf("session changed from %d to %d", old, p.Session))
	}
	session := p.Session

	upd := c.target.Start(reset)
	for {
		p, err := c.read()
		if err != nil {
			return zero, err
		}
		switch p.Type {
		case TypeIPv4Prefix, TypeIPv6Prefix:
			action, vrp, err := p.Prefix()
			if err != nil {
				return zero, c.fail(p, CodeCorruptData, err)
			}
			if err := upd.PushVRP(action, vrp); err != nil {
				if !errors.Is(err, ErrCorrupt) {
					err = fmt.Errorf("%w: %w", ErrCorrupt, err)
				}
				return zero, c.fail(p, codeFor(err), &Error{Kind: Recoverable, Err: err})
			}
		case TypeRouterKey:
			// Router keys are not relayed.
		case TypeEndOfData:
			if p.Session != session {
				return zero, c.fail(p, CodeCorruptData, corruptf("session changed from %d to %d", session, p.Session))
			}
			serial, timing, err := p.EndOfData()
			if err != nil {
				return zero, c.fail(p, CodeCorruptData, err)
			}
			c.state = &State{SessionID: session, Serial: serial}
			if timing.Refresh > 0 {
				c.timing = timing
			}
			c.synced = true
			return upd, nil
		default:
			return zero, c.fail(p, CodeUnsupportedPDUType, corruptf("unexpected PDU type %d", p.Type))
		}
	}
}

// read reads the next PDU and turns error reports into errors.
func (c *Client[U]) read() (PDU, error) {
	p, err := ReadPDU(c.conn)
	if err != nil {
		return p, err
	}
	if p.Type == TypeErrorReport {
		report, err := p.ErrorReport()
		if err != nil {
			return p, err
		}
		return p, classifyReport(report)
	}
	if p.Version != c.version {
		return p, c.fail(p, CodeUnexpectedVersion, corruptf("unexpected protocol version %d", p.Version))
	}
	return p, nil
}

// fail tells the server about the problem and returns err. Sending the
// report is best effort.
func (c *Client[U]) fail(p PDU, code ErrorCode, err error) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(errorReportTimeout))
	_, _ = c.conn.Write(AppendErrorReport(nil, c.version, code, p.Bytes(), err.Error()))
	return err
}
