package ws

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dgnsrekt/rtr-relay/internal/payload"
	"github.com/dgnsrekt/rtr-relay/internal/store"
)

// Message kinds.
const (
	KindSnapshot = "snapshot"
	KindReset    = "reset"
	KindDiff     = "diff"
)

// UpdateMessage is the wire form of an update or a snapshot.
type UpdateMessage struct {
	Unit     string            `json:"unit"`
	Serial   uint32            `json:"serial"`
	Kind     string            `json:"kind"`
	Payloads []payload.Payload `json:"payloads,omitempty"`
	Changes  []Change          `json:"changes,omitempty"`
}

// Change is one diff entry.
type Change struct {
	Action string `json:"action"`
	payload.Payload
}

// NewUpdateMessage converts an update. Resets carry the full set, other
// updates only their changes.
func NewUpdateMessage(unit string, update payload.Update) *UpdateMessage {
	msg := &UpdateMessage{Unit: unit, Serial: uint32(update.Serial)}
	if update.IsReset() {
		msg.Kind = KindReset
		msg.Payloads = update.Set.Payloads()
		return msg
	}
	msg.Kind = KindDiff
	for _, e := range update.Diff.Entries() {
		msg.Changes = append(msg.Changes, Change{Action: e.Action.String(), Payload: e.Payload})
	}
	return msg
}

// NewSnapshotMessage converts the current state of a unit.
func NewSnapshotMessage(snap store.Snapshot) *UpdateMessage {
	return &UpdateMessage{
		Unit:     snap.Unit,
		Serial:   uint32(snap.Serial),
		Kind:     KindSnapshot,
		Payloads: snap.Set.Payloads(),
	}
}

// Encoded holds a message in both wire formats.
type Encoded struct {
	JSON       json.RawMessage
	Compressed []byte
}

// Encoder converts update messages to wire format (JSON, and protobuf +
// Zstd).
type Encoder struct {
	zstdEncoder *zstd.Encoder
}

// NewEncoder creates a new Encoder with Zstd compression.
func NewEncoder() (*Encoder, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &Encoder{zstdEncoder: enc}, nil
}

// Encode produces both wire formats of msg.
func (e *Encoder) Encode(msg *UpdateMessage) (*Encoded, error) {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal update json: %w", err)
	}

	// The protobuf form is the same document as a google.protobuf.Struct.
	var fields map[string]interface{}
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal update json: %w", err)
	}
	pbMsg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("convert update to struct: %w", err)
	}
	pbData, err := proto.Marshal(pbMsg)
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf: %w", err)
	}

	return &Encoded{
		JSON:       jsonData,
		Compressed: e.zstdEncoder.EncodeAll(pbData, nil),
	}, nil
}

// Close releases encoder resources.
func (e *Encoder) Close() {
	if e.zstdEncoder != nil {
		e.zstdEncoder.Close()
	}
}
