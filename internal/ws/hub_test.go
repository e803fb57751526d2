package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dgnsrekt/rtr-relay/internal/payload"
	"github.com/dgnsrekt/rtr-relay/internal/store"
)

const wait = 2 * time.Second

var (
	vrpA = payload.Payload{Prefix: netip.MustParsePrefix("192.0.2.0/24"), MaxLength: 24, ASN: 64496}
	vrpB = payload.Payload{Prefix: netip.MustParsePrefix("2001:db8::/32"), MaxLength: 48, ASN: 64497}
)

type interest struct {
	group  string
	active bool
}

type fixture struct {
	url       string
	base      string
	hub       *Hub
	store     *store.Store
	streamer  *Streamer
	interests chan interest
}

func setup(t *testing.T) *fixture {
	t.Helper()
	// Connection pumps may log after the test returns.
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	enc, err := NewEncoder()
	require.NoError(t, err)
	t.Cleanup(enc.Close)

	st := store.New(logger)
	b := payload.NewSetBuilder()
	require.NoError(t, b.Insert(vrpA))
	require.NoError(t, st.Apply("local", payload.NewUpdate(1, b.Finalize(), nil)))

	f := &fixture{store: st, interests: make(chan interest, 8)}
	f.hub = NewHub(enc, logger,
		WithSnapshots(st),
		WithGroupFilter(func(g string) bool { return g == "local" }),
		WithInterest(func(_ context.Context, group string, active bool) error {
			f.interests <- interest{group: group, active: active}
			return nil
		}),
	)
	f.streamer = NewStreamer(f.hub, enc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go f.hub.Run(ctx)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", f.hub.HandleWS)
	mux.HandleFunc("/negotiate", NewNegotiateHandler(f.hub, func() []string { return []string{"local"} }, logger).HandleNegotiate)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-f.hub.done
	})
	f.base = srv.URL
	f.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return f
}

func (f *fixture) dial(t *testing.T, protocol string) *websocket.Conn {
	t.Helper()
	d := websocket.Dialer{Subprotocols: []string{protocol}, HandshakeTimeout: wait}
	conn, _, err := d.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	assert.Equal(t, protocol, conn.Subprotocol())
	return conn
}

func (f *fixture) nextInterest(t *testing.T) interest {
	t.Helper()
	select {
	case i := <-f.interests:
		return i
	case <-time.After(wait):
		t.Fatal("no interest change")
		return interest{}
	}
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func readAny(t *testing.T, conn *websocket.Conn) *anypb.Any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, typ)
	var msg anypb.Any
	require.NoError(t, proto.Unmarshal(data, &msg))
	return &msg
}

func TestHub_JSONProtocol(t *testing.T) {
	f := setup(t)
	conn := f.dial(t, ProtocolJSON)

	msg := readJSON(t, conn)
	assert.Equal(t, "system", msg["type"])
	assert.Equal(t, "connected", msg["event"])
	assert.NotEmpty(t, msg["connectionId"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"joinGroup","group":"local","ackId":1}`)))
	msg = readJSON(t, conn)
	assert.Equal(t, "ack", msg["type"])
	assert.Equal(t, true, msg["success"])

	msg = readJSON(t, conn)
	assert.Equal(t, "message", msg["type"])
	assert.Equal(t, "local", msg["group"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, KindSnapshot, data["kind"])
	assert.Equal(t, float64(1), data["serial"])
	require.Len(t, data["payloads"], 1)

	assert.Equal(t, interest{group: "local", active: true}, f.nextInterest(t))

	b := payload.NewSetBuilder()
	require.NoError(t, b.Insert(vrpA))
	require.NoError(t, b.Insert(vrpB))
	d := payload.NewDiffBuilder()
	d.Push(payload.Announce, vrpB)
	f.streamer.Consume("local", payload.NewUpdate(2, b.Finalize(), d.Finalize()))

	msg = readJSON(t, conn)
	data = msg["data"].(map[string]any)
	assert.Equal(t, KindDiff, data["kind"])
	assert.Equal(t, []any{map[string]any{
		"action":     "announce",
		"prefix":     "2001:db8::/32",
		"max_length": float64(48),
		"asn":        float64(64497),
	}}, data["changes"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, "pong", readJSON(t, conn)["type"])

	require.NoError(t, conn.Close())
	assert.Equal(t, interest{group: "local", active: false}, f.nextInterest(t))
}

func TestHub_UnknownGroup(t *testing.T) {
	f := setup(t)
	conn := f.dial(t, ProtocolJSON)
	readJSON(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"joinGroup","group":"other","ackId":7}`)))
	msg := readJSON(t, conn)
	assert.Equal(t, "ack", msg["type"])
	assert.Equal(t, float64(7), msg["ackId"])
	assert.Equal(t, false, msg["success"])
}

func TestHub_LeaveGroup(t *testing.T) {
	f := setup(t)
	conn := f.dial(t, ProtocolJSON)
	readJSON(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"joinGroup","group":"local"}`)))
	readJSON(t, conn) // snapshot
	assert.Equal(t, interest{group: "local", active: true}, f.nextInterest(t))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"leaveGroup","group":"local","ackId":2}`)))
	assert.Equal(t, "ack", readJSON(t, conn)["type"])
	assert.Equal(t, interest{group: "local", active: false}, f.nextInterest(t))
}

func TestHub_ProtobufProtocol(t *testing.T) {
	f := setup(t)
	conn := f.dial(t, ProtocolProtobuf)

	msg := readAny(t, conn)
	assert.Equal(t, typeURLSystem, msg.TypeUrl)
	var system structpb.Struct
	require.NoError(t, proto.Unmarshal(msg.Value, &system))
	assert.Equal(t, "connected", system.AsMap()["event"])

	join, err := structpb.NewStruct(map[string]any{"type": "joinGroup", "group": "local", "ackId": 3})
	require.NoError(t, err)
	data, err := proto.Marshal(join)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))

	msg = readAny(t, conn)
	assert.Equal(t, typeURLAck, msg.TypeUrl)
	var ack structpb.Struct
	require.NoError(t, proto.Unmarshal(msg.Value, &ack))
	assert.Equal(t, true, ack.AsMap()["success"])

	msg = readAny(t, conn)
	assert.Equal(t, typeURLUpdate, msg.TypeUrl)
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	raw, err := dec.DecodeAll(msg.Value, nil)
	require.NoError(t, err)
	var update structpb.Struct
	require.NoError(t, proto.Unmarshal(raw, &update))
	fields := update.AsMap()
	assert.Equal(t, KindSnapshot, fields["kind"])
	assert.Equal(t, "local", fields["unit"])
	assert.Equal(t, []any{map[string]any{
		"prefix":     "192.0.2.0/24",
		"max_length": float64(24),
		"asn":        float64(64496),
	}}, fields["payloads"])
}

func TestNegotiate(t *testing.T) {
	f := setup(t)

	negotiate := func() NegotiateResponse {
		resp, err := http.Get(f.base + "/negotiate")
		require.NoError(t, err)
		defer resp.Body.Close()
		var out NegotiateResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	out := negotiate()
	assert.Equal(t, f.url, out.WebsocketURL)
	assert.Equal(t, []string{"local"}, out.Groups)
	assert.Empty(t, out.Active)
	assert.Equal(t, []string{ProtocolJSON, ProtocolProtobuf}, out.Protocols)

	conn := f.dial(t, ProtocolJSON)
	readJSON(t, conn)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"joinGroup","group":"local","ackId":1}`)))
	readJSON(t, conn) // ack
	assert.Equal(t, []string{"local"}, negotiate().Active)
}

func TestNewUpdateMessage(t *testing.T) {
	b := payload.NewSetBuilder()
	require.NoError(t, b.Insert(vrpB))
	reset := NewUpdateMessage("local", payload.NewUpdate(9, b.Finalize(), nil))
	assert.Equal(t, KindReset, reset.Kind)
	assert.Equal(t, []payload.Payload{vrpB}, reset.Payloads)
	assert.Empty(t, reset.Changes)

	d := payload.NewDiffBuilder()
	d.Push(payload.Withdraw, vrpA)
	diff := NewUpdateMessage("local", payload.NewUpdate(10, payload.EmptySet(), d.Finalize()))
	assert.Equal(t, KindDiff, diff.Kind)
	assert.Equal(t, []Change{{Action: "withdraw", Payload: vrpA}}, diff.Changes)
	assert.Empty(t, diff.Payloads)
}
