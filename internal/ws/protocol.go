package ws

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Supported subprotocols. Clients that ask for none get JSON.
const (
	ProtocolJSON     = "json.rtr.v1"
	ProtocolProtobuf = "protobuf.rtr.v1"
)

// Type URLs of the google.protobuf.Any messages sent on the protobuf
// subprotocol.
const (
	typeURLSystem = "rtr-relay/system"
	typeURLAck    = "rtr-relay/ack"
	typeURLPong   = "rtr-relay/pong"
	typeURLUpdate = "rtr-relay/update"
)

// Upstream message types for internal routing
type (
	joinGroupRequest struct {
		group string
		ackID *uint64
	}
	leaveGroupRequest struct {
		group string
		ackID *uint64
	}
	pingRequest struct{}
)

// parseUpstreamMessage parses a protobuf-encoded upstream message, a
// google.protobuf.Struct with the same fields as the JSON form.
func parseUpstreamMessage(data []byte) (any, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal upstream message: %w", err)
	}
	return parseUpstreamFields(msg.AsMap())
}

// parseUpstreamMessageJSON parses a JSON-encoded upstream message.
func parseUpstreamMessageJSON(data []byte) (any, error) {
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal JSON upstream message: %w", err)
	}
	return parseUpstreamFields(msg)
}

func parseUpstreamFields(msg map[string]interface{}) (any, error) {
	msgType, _ := msg["type"].(string)

	switch msgType {
	case "joinGroup":
		group, _ := msg["group"].(string)
		return &joinGroupRequest{group: group, ackID: ackID(msg)}, nil

	case "leaveGroup":
		group, _ := msg["group"].(string)
		return &leaveGroupRequest{group: group, ackID: ackID(msg)}, nil

	case "ping":
		return &pingRequest{}, nil

	default:
		return nil, fmt.Errorf("unknown message type: %q", msgType)
	}
}

func ackID(msg map[string]interface{}) *uint64 {
	v, ok := msg["ackId"].(float64)
	if !ok {
		return nil
	}
	id := uint64(v)
	return &id
}

// ============================================================================
// JSON Protocol Message Builders
// ============================================================================

// buildConnectedMessageJSON creates a JSON connected message.
func buildConnectedMessageJSON(connectionID string) []byte {
	data, _ := json.Marshal(connectedFields(connectionID))
	return data
}

// buildAckMessageJSON creates a JSON acknowledgment message.
func buildAckMessageJSON(ackID uint64, success bool) []byte {
	data, _ := json.Marshal(ackFields(ackID, success))
	return data
}

// buildDataMessageJSON embeds an encoded update as a JSON object.
func buildDataMessageJSON(group string, rawJSON json.RawMessage) []byte {
	msg := map[string]interface{}{
		"type":     "message",
		"from":     "group",
		"group":    group,
		"dataType": "json",
		"data":     rawJSON,
	}
	data, _ := json.Marshal(msg)
	return data
}

// buildPongMessageJSON creates a JSON PongMessage.
func buildPongMessageJSON() []byte {
	data, _ := json.Marshal(map[string]interface{}{"type": "pong"})
	return data
}

// ============================================================================
// Protobuf Protocol Message Builders
// ============================================================================

// buildConnectedMessage creates a connected message for the protobuf
// subprotocol.
func buildConnectedMessage(connectionID string) []byte {
	return marshalAny(typeURLSystem, mustStruct(connectedFields(connectionID)))
}

// buildAckMessage creates an acknowledgment message.
func buildAckMessage(ackID uint64, success bool) []byte {
	return marshalAny(typeURLAck, mustStruct(ackFields(ackID, success)))
}

// buildDataMessage wraps a compressed update. The value is the
// Zstd-compressed protobuf Struct of the update.
func buildDataMessage(compressed []byte) []byte {
	data, _ := proto.Marshal(&anypb.Any{TypeUrl: typeURLUpdate, Value: compressed})
	return data
}

// buildPongMessage creates a PongMessage response to client ping.
func buildPongMessage() []byte {
	return marshalAny(typeURLPong, &structpb.Struct{})
}

func connectedFields(connectionID string) map[string]interface{} {
	return map[string]interface{}{
		"type":         "system",
		"event":        "connected",
		"connectionId": connectionID,
	}
}

func ackFields(ackID uint64, success bool) map[string]interface{} {
	return map[string]interface{}{
		"type":    "ack",
		"ackId":   float64(ackID),
		"success": success,
	}
}

func mustStruct(fields map[string]interface{}) *structpb.Struct {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		// Only called with literal maps of JSON values.
		panic(err)
	}
	return s
}

func marshalAny(typeURL string, msg proto.Message) []byte {
	value, _ := proto.Marshal(msg)
	data, _ := proto.Marshal(&anypb.Any{TypeUrl: typeURL, Value: value})
	return data
}
