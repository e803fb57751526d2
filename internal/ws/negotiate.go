package ws

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// NegotiateResponse tells a client where to connect and what it can join.
type NegotiateResponse struct {
	WebsocketURL string   `json:"websocket_url"`
	Groups       []string `json:"groups"`
	Active       []string `json:"active"`
	Protocols    []string `json:"protocols"`
}

// NegotiateHandler handles the /negotiate endpoint.
type NegotiateHandler struct {
	groups func() []string
	hub    *Hub
	logger *zap.Logger
}

// NewNegotiateHandler creates a new NegotiateHandler. groups lists the
// units that can be subscribed to.
func NewNegotiateHandler(hub *Hub, groups func() []string, logger *zap.Logger) *NegotiateHandler {
	return &NegotiateHandler{groups: groups, hub: hub, logger: logger}
}

// HandleNegotiate handles GET /negotiate
func (h *NegotiateHandler) HandleNegotiate(w http.ResponseWriter, r *http.Request) {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}

	response := NegotiateResponse{
		WebsocketURL: fmt.Sprintf("%s://%s/ws", scheme, r.Host),
		Groups:       h.groups(),
		Active:       h.hub.GetActiveGroups(),
		Protocols:    []string{ProtocolJSON, ProtocolProtobuf},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode negotiate response", zap.Error(err))
	}
}
