package protocol

import (
	"encoding/json"
	"time"
)

// ConnectFrame is the first frame a WebSocket client sends. It binds the
// connection to a client identity (and, when auth is enabled, a token).
type ConnectFrame struct {
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
	ClientID  string `json:"client_id"`
	Token     string `json:"token,omitempty"`
	SinceSeq  int64  `json:"since_seq,omitempty"` // resume cursor for replay
}

// ConnectedFrame acknowledges a successful handshake.
type ConnectedFrame struct {
	Kind             string `json:"kind"`
	RequestID        string `json:"request_id,omitempty"`
	ConnectionID     string `json:"connection_id"`
	ClientID         string `json:"client_id"`
	Seq              int64  `json:"seq"` // current broker sequence horizon
	HeartbeatSeconds int    `json:"heartbeat_seconds"`
	Protocol         int    `json:"protocol"`
}

// SendFrame carries an ingress message from a client.
type SendFrame struct {
	Kind       string            `json:"kind"`
	RequestID  string            `json:"request_id,omitempty"`
	To         string            `json:"to"`
	Type       string            `json:"type"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	Priority   string            `json:"priority,omitempty"`
	ReplyTo    string            `json:"reply_to,omitempty"`
	TTLSeconds int               `json:"ttl_seconds,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SendResultFrame echoes the broker-assigned identity of an accepted message.
type SendResultFrame struct {
	Kind      string `json:"kind"` // "send_result"
	RequestID string `json:"request_id,omitempty"`
	MessageID string `json:"message_id"`
	Seq       int64  `json:"seq"`
}

// KindSendResult acknowledges an accepted send.
const KindSendResult = "send_result"

// DeliverFrame carries an egress message to a recipient session. The stored
// message fields are inlined.
type DeliverFrame struct {
	Kind string `json:"kind"`
	Message
}

// AckFrame acknowledges delivery of a message that requires ack.
type AckFrame struct {
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
	MessageID string `json:"message_id"`
}

// PingFrame is the server-initiated heartbeat.
type PingFrame struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// PongFrame is the optional client echo of a heartbeat.
type PongFrame struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ErrorFrame reports a failed request, tagged with the machine-readable code
// and the request id for correlation.
type ErrorFrame struct {
	Kind         string `json:"kind"`
	RequestID    string `json:"request_id,omitempty"`
	Code         string `json:"code"`
	Message      string `json:"message"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
}

// RoomOpFrame wraps a room action. Action names the operation; Params carries
// its arguments and is decoded per action.
type RoomOpFrame struct {
	Kind      string          `json:"kind"`
	RequestID string          `json:"request_id,omitempty"`
	Action    string          `json:"action"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// RoomResultFrame carries the successful result of a room operation.
type RoomResultFrame struct {
	Kind      string      `json:"kind"`
	RequestID string      `json:"request_id,omitempty"`
	Action    string      `json:"action"`
	Result    interface{} `json:"result,omitempty"`
}

// RoomEventFrame is an egress room state change fanned out to members.
type RoomEventFrame struct {
	Kind    string      `json:"kind"`
	Event   string      `json:"event"`
	RoomID  string      `json:"room_id,omitempty"`
	Seq     int64       `json:"seq,omitempty"` // per-room event sequence
	Payload interface{} `json:"payload,omitempty"`
}

// NewError builds an error frame for the given code.
func NewError(requestID, code, message string) *ErrorFrame {
	return &ErrorFrame{Kind: KindError, RequestID: requestID, Code: code, Message: message}
}

// NewRoomResult builds a room_result frame.
func NewRoomResult(requestID, action string, result interface{}) *RoomResultFrame {
	return &RoomResultFrame{Kind: KindRoomResult, RequestID: requestID, Action: action, Result: result}
}

// NewRoomEvent builds a room_event frame.
func NewRoomEvent(event, roomID string, seq int64, payload interface{}) *RoomEventFrame {
	return &RoomEventFrame{Kind: KindRoomEvent, Event: event, RoomID: roomID, Seq: seq, Payload: payload}
}

// NewDeliver wraps a stored message for egress.
func NewDeliver(m Message) *DeliverFrame {
	return &DeliverFrame{Kind: KindDeliver, Message: m}
}
