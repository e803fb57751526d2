package ws

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/rtr-relay/internal/store"
)

const interestTimeout = 5 * time.Second

// Snapshots provides the current state of a unit for new subscribers.
type Snapshots interface {
	Snapshot(unit string) (store.Snapshot, bool)
}

// InterestFunc is told when a group gets its first subscriber (active) or
// loses its last one.
type InterestFunc func(ctx context.Context, group string, active bool) error

// Hub manages WebSocket connections and group subscriptions. Every unit is
// a group.
type Hub struct {
	clients    map[*Client]bool
	groups     map[string]map[*Client]bool // group -> clients
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	done       chan struct{}

	encoder    *Encoder
	snapshots  Snapshots
	validGroup func(string) bool
	interest   InterestFunc
	logger     *zap.Logger
}

// HubOption customizes a hub.
type HubOption func(*Hub)

// WithSnapshots sends every new subscriber the current state of the group.
func WithSnapshots(s Snapshots) HubOption {
	return func(h *Hub) {
		h.snapshots = s
	}
}

// WithGroupFilter restricts the groups clients can join.
func WithGroupFilter(valid func(string) bool) HubOption {
	return func(h *Hub) {
		h.validGroup = valid
	}
}

// WithInterest reports subscriber interest per group.
func WithInterest(f InterestFunc) HubOption {
	return func(h *Hub) {
		h.interest = f
	}
}

// NewHub creates a new Hub.
func NewHub(encoder *Encoder, logger *zap.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		groups:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		encoder:    encoder,
		validGroup: func(string) bool { return true },
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run processes hub events. Call this in a goroutine.
// Returns when context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down")
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("connID", client.connID))

		case client := <-h.unregister:
			var idle []string
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				// Remove from all groups
				for group := range client.groups {
					if h.removeFromGroup(client, group) {
						idle = append(idle, group)
					}
				}
				client.closeSend()
			}
			h.mu.Unlock()
			for _, group := range idle {
				h.notifyInterest(group, false)
			}
			h.logger.Debug("client unregistered", zap.String("connID", client.connID))
		}
	}
}

// shutdown gracefully closes all client connections.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.closeSend()
		delete(h.clients, client)
	}
	h.groups = make(map[string]map[*Client]bool)
}

// removeFromGroup must be called with mu held. It reports whether the
// group is now empty.
func (h *Hub) removeFromGroup(client *Client, group string) bool {
	clients, ok := h.groups[group]
	if !ok || !clients[client] {
		return false
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.groups, group)
		return true
	}
	return false
}

// JoinGroup adds a client to a group. It returns false for unknown groups.
func (h *Hub) JoinGroup(client *Client, group string) bool {
	if !h.validGroup(group) {
		return false
	}

	h.mu.Lock()
	if client.isClosed() {
		h.mu.Unlock()
		return false
	}
	first := len(h.groups[group]) == 0
	if h.groups[group] == nil {
		h.groups[group] = make(map[*Client]bool)
	}
	h.groups[group][client] = true
	client.groups[group] = true
	h.mu.Unlock()

	h.logger.Debug("client joined group",
		zap.String("connID", client.connID),
		zap.String("group", group),
	)
	if first {
		h.notifyInterest(group, true)
	}
	return true
}

// LeaveGroup removes a client from a group.
func (h *Hub) LeaveGroup(client *Client, group string) {
	h.mu.Lock()
	last := h.removeFromGroup(client, group)
	delete(client.groups, group)
	h.mu.Unlock()

	h.logger.Debug("client left group",
		zap.String("connID", client.connID),
		zap.String("group", group),
	)
	if last {
		h.notifyInterest(group, false)
	}
}

func (h *Hub) notifyInterest(group string, active bool) {
	if h.interest == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), interestTimeout)
		defer cancel()
		if err := h.interest(ctx, group, active); err != nil {
			h.logger.Debug("failed to report interest",
				zap.String("group", group),
				zap.Bool("active", active),
				zap.Error(err),
			)
		}
	}()
}

// GetActiveGroups returns all groups with at least one subscriber, sorted.
func (h *Hub) GetActiveGroups() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	groups := make([]string, 0, len(h.groups))
	for group, clients := range h.groups {
		if len(clients) > 0 {
			groups = append(groups, group)
		}
	}
	slices.Sort(groups)
	return groups
}

// snapshot encodes the current state of group, if there is one.
func (h *Hub) snapshot(group string) (*Encoded, bool) {
	if h.snapshots == nil {
		return nil, false
	}
	snap, ok := h.snapshots.Snapshot(group)
	if !ok {
		return nil, false
	}
	enc, err := h.encoder.Encode(NewSnapshotMessage(snap))
	if err != nil {
		h.logger.Error("failed to encode snapshot", zap.String("group", group), zap.Error(err))
		return nil, false
	}
	return enc, true
}

// BroadcastData sends encoded data to all clients in a group.
// Each client formats the data message according to its negotiated protocol.
func (h *Hub) BroadcastData(group string, data *Encoded) {
	h.mu.RLock()
	clients, ok := h.groups[group]
	if !ok {
		h.mu.RUnlock()
		return
	}
	// Copy clients to avoid holding lock during send
	clientList := make([]*Client, 0, len(clients))
	for client := range clients {
		clientList = append(clientList, client)
	}
	h.mu.RUnlock()

	for _, client := range clientList {
		client.trySend(client.buildDataMsg(group, data))
	}
}

// drop schedules a disconnect of a client that cannot keep up.
func (h *Hub) drop(c *Client) {
	go func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
}
