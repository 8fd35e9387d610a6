package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// Client is one live WebSocket session. It implements bus.Session; delivery
// never blocks and sheds low-priority traffic when the send buffer fills.
type Client struct {
	server   *Server
	conn     *websocket.Conn
	connID   string
	clientID string

	out  *outQueue
	done chan struct{}
	once sync.Once
}

// NewClient wraps an upgraded connection. The session is anonymous until the
// connect handshake binds it to a client identity.
func NewClient(conn *websocket.Conn, s *Server) *Client {
	return &Client{
		server: s,
		conn:   conn,
		connID: store.NewID(),
		out:    newOutQueue(s.cfg.SendBufferSize),
		done:   make(chan struct{}),
	}
}

// ConnectionID implements bus.Session.
func (c *Client) ConnectionID() string { return c.connID }

// ClientID implements bus.Session.
func (c *Client) ClientID() string { return c.clientID }

// Deliver implements bus.Session: enqueue an egress message, shedding the
// oldest LOW/BULK delivery when the buffer is full.
func (c *Client) Deliver(m protocol.Message) bool {
	return c.out.push(protocol.NewDeliver(m))
}

// Send enqueues a control frame. Control frames are never shed in favor of
// deliveries, but a saturated buffer still drops them rather than block.
func (c *Client) Send(frame any) bool {
	ok := c.out.push(frame)
	if !ok {
		slog.Warn("send buffer full, dropping frame",
			"client_id", c.clientID, "connection_id", c.connID)
	}
	return ok
}

// SendError enqueues an error frame.
func (c *Client) SendError(requestID, code, message string) {
	c.server.metrics.ErrorsTotal.WithLabelValues(code).Inc()
	c.Send(protocol.NewError(requestID, code, message))
}

// Close tears the connection down once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Run performs the connect handshake and drives the read and write pumps.
// It returns when the connection dies.
func (c *Client) Run(ctx context.Context) {
	if err := c.handshake(ctx); err != nil {
		slog.Info("handshake rejected", "connection_id", c.connID, "error", err)
		c.conn.Close()
		return
	}
	defer func() {
		c.server.registry.Deregister(c.clientID, c.connID)
		c.server.metrics.ConnectionsActive.Dec()
		c.Close()
		slog.Info("client disconnected", "client_id", c.clientID, "connection_id", c.connID)
	}()

	go c.writePump()
	c.readPump(ctx)
}

// handshake reads the mandatory connect frame, authenticates, registers the
// session, and replies with connected.
func (c *Client) handshake(ctx context.Context) error {
	c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}
	if env, err := protocol.PeekKind(raw); err != nil || env.Kind != protocol.KindConnect {
		c.writeDirect(protocol.NewError("", protocol.ErrValidationFailed, "first frame must be connect"))
		return errFirstFrame
	}
	var connect protocol.ConnectFrame
	if err := json.Unmarshal(raw, &connect); err != nil {
		c.writeDirect(protocol.NewError("", protocol.ErrValidationFailed, "malformed connect frame"))
		return err
	}
	if err := protocol.ValidateIdent("client_id", connect.ClientID); err != nil {
		c.writeDirect(protocol.NewError(connect.RequestID, protocol.ErrValidationFailed, err.Error()))
		return err
	}

	clientID, err := c.server.auth.Authenticate(ctx, connect.ClientID, connect.Token)
	if err != nil {
		code := protocol.ErrAuthInvalid
		var authErr *AuthError
		if errors.As(err, &authErr) {
			code = authErr.Code
		}
		c.writeDirect(protocol.NewError(connect.RequestID, code, "authentication failed"))
		return err
	}
	c.clientID = clientID

	if err := c.server.registry.Register(c); err != nil {
		c.writeDirect(protocol.NewError(connect.RequestID, protocol.ErrOverloaded, err.Error()))
		return err
	}
	c.server.metrics.ConnectionsTotal.Inc()
	c.server.metrics.ConnectionsActive.Inc()

	c.writeDirect(&protocol.ConnectedFrame{
		Kind:             protocol.KindConnected,
		RequestID:        connect.RequestID,
		ConnectionID:     c.connID,
		ClientID:         c.clientID,
		Seq:              c.server.bus.CurrentSeq(),
		HeartbeatSeconds: c.server.cfg.HeartbeatIntervalSeconds,
		Protocol:         protocol.ProtocolVersion,
	})
	c.Send(protocol.NewRoomEvent(protocol.EventConnectionOpened, "", 0, map[string]string{
		"connection_id": c.connID,
		"client_id":     c.clientID,
	}))
	slog.Info("client connected", "client_id", c.clientID, "connection_id", c.connID)

	if connect.SinceSeq > 0 {
		c.replay(ctx, connect.SinceSeq)
	}
	return nil
}

// replay pushes persisted messages newer than the client's cursor.
func (c *Client) replay(ctx context.Context, sinceSeq int64) {
	msgs, err := c.server.messages.FetchSince(ctx, c.clientID, sinceSeq, replayBatch)
	if err != nil {
		slog.Warn("replay fetch failed", "client_id", c.clientID, "error", err)
		return
	}
	for _, m := range msgs {
		if !c.Deliver(m.Message) {
			return
		}
	}
	slog.Debug("replayed messages", "client_id", c.clientID, "since_seq", sinceSeq, "count", len(msgs))
}

const replayBatch = 500

// readPump reads frames until the connection dies. A connection that stays
// silent for two heartbeat intervals is closed.
func (c *Client) readPump(ctx context.Context) {
	idle := 2 * c.server.cfg.HeartbeatInterval()
	for {
		c.conn.SetReadDeadline(time.Now().Add(idle))
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.server.dispatch(ctx, c, raw)
	}
}

// writePump drains the outbound queue and emits the server heartbeat.
func (c *Client) writePump() {
	heartbeat := time.NewTicker(c.server.cfg.HeartbeatInterval())
	defer heartbeat.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-heartbeat.C:
			c.writeDirect(&protocol.PingFrame{Kind: protocol.KindPing, Timestamp: time.Now().UTC()})
		case <-c.out.notify:
			for {
				frame, ok := c.out.pop()
				if !ok {
					break
				}
				if !c.writeDirect(frame) {
					c.Close()
					return
				}
			}
		}
	}
}

func (c *Client) writeDirect(frame any) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(frame); err != nil {
		return false
	}
	return true
}

// outQueue is the bounded per-session send buffer. When full, the oldest
// LOW/BULK delivery is shed first; if nothing is sheddable the push fails.
type outQueue struct {
	mu     sync.Mutex
	items  []any
	max    int
	notify chan struct{}
}

func newOutQueue(max int) *outQueue {
	if max <= 0 {
		max = 256
	}
	return &outQueue{max: max, notify: make(chan struct{}, 1)}
}

func (q *outQueue) push(frame any) bool {
	q.mu.Lock()
	if len(q.items) >= q.max && !q.shedLocked() {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, frame)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// shedLocked drops the oldest LOW or BULK delivery to make room.
func (q *outQueue) shedLocked() bool {
	for i, item := range q.items {
		d, ok := item.(*protocol.DeliverFrame)
		if ok && d.Priority >= protocol.PriorityLow {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *outQueue) pop() (any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	frame := q.items[0]
	q.items = q.items[1:]
	return frame, true
}

var errFirstFrame = errors.New("gateway: first frame must be connect")
