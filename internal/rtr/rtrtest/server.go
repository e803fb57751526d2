// Package rtrtest provides a scripted RTR cache for tests.
package rtrtest

import (
	"fmt"
	"net"
	"time"

	"github.com/dgnsrekt/rtr-relay/internal/payload"
	"github.com/dgnsrekt/rtr-relay/internal/rtr"
)

// Change is a single record sent in a cache response.
type Change struct {
	Action  payload.Action
	Payload payload.Payload
}

// Announce is a shorthand for an announcing change.
func Announce(p payload.Payload) Change {
	return Change{Action: payload.Announce, Payload: p}
}

// Withdraw is a shorthand for a withdrawing change.
func Withdraw(p payload.Payload) Change {
	return Change{Action: payload.Withdraw, Payload: p}
}

// Server is the cache side of a connection. Everything the client sends
// is collected in the background and can be retrieved with Expect.
type Server struct {
	conn    net.Conn
	queries chan rtr.PDU
	Version uint8
	Timing  rtr.Timing
}

// NewServer starts reading client PDUs from conn.
func NewServer(conn net.Conn) *Server {
	s := &Server{
		conn:    conn,
		queries: make(chan rtr.PDU, 64),
		Version: rtr.Version,
		Timing:  rtr.DefaultTiming,
	}
	go s.readLoop()
	return s
}

func (s *Server) readLoop() {
	defer close(s.queries)
	for {
		p, err := rtr.ReadPDU(s.conn)
		if err != nil {
			return
		}
		s.queries <- p
	}
}

// Expect waits for the next PDU from the client and checks its type.
func (s *Server) Expect(typ uint8, timeout time.Duration) (rtr.PDU, error) {
	select {
	case p, ok := <-s.queries:
		if !ok {
			return rtr.PDU{}, fmt.Errorf("connection closed while waiting for PDU type %d", typ)
		}
		if p.Type != typ {
			return p, fmt.Errorf("expected PDU type %d, got %s", typ, p.Header)
		}
		return p, nil
	case <-time.After(timeout):
		return rtr.PDU{}, fmt.Errorf("timeout waiting for PDU type %d", typ)
	}
}

// Respond sends a complete cache response.
func (s *Server) Respond(session uint16, serial uint32, changes ...Change) error {
	b := rtr.AppendCacheResponse(nil, s.Version, session)
	for _, c := range changes {
		b = rtr.AppendPrefix(b, s.Version, c.Action, c.Payload)
	}
	b = rtr.AppendEndOfData(b, s.Version, session, serial, s.Timing)
	return s.Write(b)
}

// Notify sends a Serial Notify.
func (s *Server) Notify(session uint16, serial uint32) error {
	return s.Write(rtr.AppendSerialNotify(nil, s.Version, session, serial))
}

// Reset sends a Cache Reset.
func (s *Server) Reset() error {
	return s.Write(rtr.AppendCacheReset(nil, s.Version))
}

// Fail sends an Error Report.
func (s *Server) Fail(code rtr.ErrorCode, text string) error {
	return s.Write(rtr.AppendErrorReport(nil, s.Version, code, nil, text))
}

// Write sends raw bytes to the client.
func (s *Server) Write(b []byte) error {
	_, err := s.conn.Write(b)
	return err
}

// Close closes the server side of the connection.
func (s *Server) Close() error {
	return s.conn.Close()
}
