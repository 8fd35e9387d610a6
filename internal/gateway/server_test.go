package gateway_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentbus/internal/bus"
	"github.com/nextlevelbuilder/agentbus/internal/config"
	"github.com/nextlevelbuilder/agentbus/internal/gateway"
	"github.com/nextlevelbuilder/agentbus/internal/gateway/methods"
	"github.com/nextlevelbuilder/agentbus/internal/metrics"
	"github.com/nextlevelbuilder/agentbus/internal/room"
	"github.com/nextlevelbuilder/agentbus/internal/store/sqlite"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// startBroker assembles a full broker on a loopback port and returns its
// address plus the bus for state assertions.
func startBroker(t *testing.T) (string, *bus.Bus) {
	t.Helper()

	stores, db, err := sqlite.NewStores(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		SendBufferSize:           64,
		HeartbeatIntervalSeconds: 30,
		RateLimitPerMinute:       1000,
	}
	m := metrics.New()
	registry := gateway.NewRegistry(16, 4)
	b := bus.New(bus.DefaultConfig(), stores.Messages, registry, m)
	engine := room.New(room.Config{}, stores, registry, m)
	srv := gateway.NewServer(cfg, b, engine, stores.Messages, stores.Tokens, m, registry)
	methods.NewRoomMethods(engine).Register(srv.Router())

	ctx, cancel := context.WithCancel(context.Background())
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := engine.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cancel()
		engine.Stop()
		b.Stop()
	})

	addr, start := gateway.StartTestServer(srv, ctx)
	go start()
	return addr, b
}

// wsConn is a test-side WebSocket session.
type wsConn struct {
	t    *testing.T
	conn *websocket.Conn
}

// dialBroker connects and completes the connect handshake for clientID.
func dialBroker(t *testing.T, addr, clientID string) *wsConn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	c := &wsConn{t: t, conn: conn}

	c.write(&protocol.ConnectFrame{Kind: protocol.KindConnect, ClientID: clientID})
	var connected protocol.ConnectedFrame
	c.readKind(protocol.KindConnected, &connected)
	if connected.ClientID != clientID {
		t.Fatalf("connected client_id = %q, want %q", connected.ClientID, clientID)
	}
	if connected.ConnectionID == "" {
		t.Fatal("connected frame without connection_id")
	}
	return c
}

func (c *wsConn) write(frame any) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(frame); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// readKind skims frames until one of the wanted kind arrives, decoding it
// into into. An error frame while waiting fails the test.
func (c *wsConn) readKind(kind string, into any) {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.conn.SetReadDeadline(deadline)
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("read while waiting for %s: %v", kind, err)
		}
		env, err := protocol.PeekKind(raw)
		if err != nil {
			c.t.Fatalf("peek: %v", err)
		}
		if env.Kind == protocol.KindError && kind != protocol.KindError {
			c.t.Fatalf("error frame while waiting for %s: %s", kind, raw)
		}
		if env.Kind != kind {
			continue
		}
		if err := json.Unmarshal(raw, into); err != nil {
			c.t.Fatalf("decode %s: %v", kind, err)
		}
		return
	}
	c.t.Fatalf("no %s frame before timeout", kind)
}

// readEvent skims room_event frames until the named event arrives.
func (c *wsConn) readEvent(event string) *protocol.RoomEventFrame {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var ev protocol.RoomEventFrame
		c.readKind(protocol.KindRoomEvent, &ev)
		if ev.Event == event {
			return &ev
		}
	}
	c.t.Fatalf("no %s event before timeout", event)
	return nil
}

func (c *wsConn) roomOp(requestID, action string, params any) {
	c.t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		c.t.Fatal(err)
	}
	c.write(&protocol.RoomOpFrame{
		Kind:      protocol.KindRoomOp,
		RequestID: requestID,
		Action:    action,
		Params:    raw,
	})
}

func TestServerEndToEndMessageFlow(t *testing.T) {
	addr, b := startBroker(t)

	alice := dialBroker(t, addr, "alice")
	bob := dialBroker(t, addr, "bob")

	// Direct fire-and-forget message.
	alice.write(&protocol.SendFrame{
		Kind: protocol.KindSend, RequestID: "s1",
		To: "bob", Type: "status", Payload: json.RawMessage(`{"state":"idle"}`),
	})
	var result protocol.SendResultFrame
	alice.readKind(protocol.KindSendResult, &result)
	if result.MessageID == "" || result.Seq == 0 {
		t.Fatalf("send_result = %+v", result)
	}

	var deliver protocol.DeliverFrame
	bob.readKind(protocol.KindDeliver, &deliver)
	if deliver.From != "alice" || deliver.Type != "status" {
		t.Fatalf("delivered from=%s type=%s", deliver.From, deliver.Type)
	}

	// Command messages track a pending delivery until the recipient acks.
	alice.write(&protocol.SendFrame{
		Kind: protocol.KindSend, RequestID: "s2",
		To: "bob", Type: protocol.TypeCommand,
	})
	alice.readKind(protocol.KindSendResult, &result)
	bob.readKind(protocol.KindDeliver, &deliver)
	if deliver.ID != result.MessageID {
		t.Fatalf("delivered id %s, sent %s", deliver.ID, result.MessageID)
	}
	waitForCond(t, func() bool { return b.PendingCount() == 1 })

	bob.write(&protocol.AckFrame{Kind: protocol.KindAck, MessageID: deliver.ID})
	waitForCond(t, func() bool { return b.PendingCount() == 0 })
}

func TestServerRoomOpsOverWebSocket(t *testing.T) {
	addr, _ := startBroker(t)

	alice := dialBroker(t, addr, "alice")
	bob := dialBroker(t, addr, "bob")

	alice.roomOp("r1", protocol.ActionCreateRoom, map[string]string{
		"room_id": "tank", "topic": "launch review",
	})
	var created protocol.RoomResultFrame
	alice.readKind(protocol.KindRoomResult, &created)
	if created.Action != protocol.ActionCreateRoom {
		t.Fatalf("result action = %s", created.Action)
	}

	alice.roomOp("r2", protocol.ActionJoin, map[string]string{"room_id": "tank", "role": "coordinator"})
	var joined protocol.RoomResultFrame
	alice.readKind(protocol.KindRoomResult, &joined)

	bob.roomOp("r3", protocol.ActionJoin, map[string]string{"room_id": "tank"})
	bob.readKind(protocol.KindRoomResult, &joined)

	alice.roomOp("r4", protocol.ActionPostMessage, map[string]string{
		"room_id": "tank", "channel_id": "main", "text": "ready to review?",
	})
	var posted protocol.RoomResultFrame
	alice.readKind(protocol.KindRoomResult, &posted)

	ev := bob.readEvent(protocol.EventRoomMessage)
	if ev.RoomID != "tank" {
		t.Fatalf("room_message event room = %s", ev.RoomID)
	}
}

func waitForCond(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
