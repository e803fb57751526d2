package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Send buffer size per client.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
	Subprotocols:    []string{ProtocolProtobuf, ProtocolJSON},
}

// Client represents a WebSocket client connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	connID   string
	groups   map[string]bool
	logger   *zap.Logger
	protocol string

	mu     sync.Mutex
	closed bool
}

// HandleWS handles the WebSocket upgrade for update subscribers.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	connID := uuid.New().String()

	// Upgrade picks the first server protocol the client asked for.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	protocol := conn.Subprotocol()
	if protocol == "" {
		protocol = ProtocolJSON
	}
	h.logger.Debug("websocket subprotocol negotiated",
		zap.String("protocol", protocol),
		zap.Strings("requested", websocket.Subprotocols(r)),
	)

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		connID:   connID,
		groups:   make(map[string]bool),
		logger:   h.logger,
		protocol: protocol,
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	client.trySend(client.buildConnected())

	// Start read/write pumps
	go client.writePump()
	go client.readPump()
}

// trySend queues a message without blocking. A client whose buffer is
// full gets disconnected.
func (c *Client) trySend(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.hub.drop(c)
	}
}

// closeSend must be called with the hub lock held, exactly once.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	close(c.send)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	msgType := websocket.BinaryMessage
	if c.protocol == ProtocolJSON {
		msgType = websocket.TextMessage
	}

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed, send close message
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(msgType, message); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming upstream message.
func (c *Client) handleMessage(data []byte) {
	var msg any
	var err error
	if c.protocol == ProtocolJSON {
		msg, err = parseUpstreamMessageJSON(data)
	} else {
		msg, err = parseUpstreamMessage(data)
	}

	if err != nil {
		c.logger.Debug("failed to parse upstream message",
			zap.String("connID", c.connID),
			zap.String("protocol", c.protocol),
			zap.Error(err),
		)
		return
	}

	switch m := msg.(type) {
	case *joinGroupRequest:
		ok := c.hub.JoinGroup(c, m.group)
		if !ok {
			c.logger.Debug("invalid group name",
				zap.String("connID", c.connID),
				zap.String("group", m.group),
			)
		}
		if m.ackID != nil {
			c.trySend(c.buildAck(*m.ackID, ok))
		}
		if ok {
			if snap, found := c.hub.snapshot(m.group); found {
				c.trySend(c.buildDataMsg(m.group, snap))
			}
		}

	case *leaveGroupRequest:
		c.hub.LeaveGroup(c, m.group)
		if m.ackID != nil {
			c.trySend(c.buildAck(*m.ackID, true))
		}

	case *pingRequest:
		c.trySend(c.buildPong())
	}
}

func (c *Client) buildConnected() []byte {
	if c.protocol == ProtocolJSON {
		return buildConnectedMessageJSON(c.connID)
	}
	return buildConnectedMessage(c.connID)
}

// buildAck creates an ack message in the correct format for this client's protocol.
func (c *Client) buildAck(ackID uint64, success bool) []byte {
	if c.protocol == ProtocolJSON {
		return buildAckMessageJSON(ackID, success)
	}
	return buildAckMessage(ackID, success)
}

// buildPong creates a pong message in the correct format for this client's protocol.
func (c *Client) buildPong() []byte {
	if c.protocol == ProtocolJSON {
		return buildPongMessageJSON()
	}
	return buildPongMessage()
}

// buildDataMsg creates a data message in the correct format for this client's protocol.
func (c *Client) buildDataMsg(group string, data *Encoded) []byte {
	if c.protocol == ProtocolJSON {
		return buildDataMessageJSON(group, data.JSON)
	}
	return buildDataMessage(data.Compressed)
}
