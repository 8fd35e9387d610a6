// Package protocol defines the broker wire contract: frame kinds, room
// operation names, room event names, the canonical message record, and the
// error taxonomy. Clients in any language speak this schema over WebSocket
// or the HTTP polling surface.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is bumped on breaking wire changes.
const ProtocolVersion = 1

// Frame kind discriminators. Every frame is a JSON object with a "kind" field.
const (
	KindConnect    = "connect"     // client → broker: session handshake
	KindConnected  = "connected"   // broker → client: handshake accepted
	KindSend       = "send"        // client → broker: ingress message
	KindDeliver    = "deliver"     // broker → client: egress message
	KindAck        = "ack"         // client → broker: delivery acknowledgement
	KindPing       = "ping"        // broker → client: heartbeat
	KindPong       = "pong"        // client → broker: heartbeat echo
	KindError      = "error"       // broker → client: request failed
	KindRoomOp     = "room_op"     // client → broker: room action (nested "action")
	KindRoomResult = "room_result" // broker → client: room action result
	KindRoomEvent  = "room_event"  // broker → client: room state change
)

// Envelope is the minimal decode of any inbound frame: enough to route it.
// The full frame is re-decoded into its typed struct by the dispatcher.
type Envelope struct {
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
}

// PeekKind decodes just the discriminator fields of a raw frame.
func PeekKind(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("decode frame: %w", err)
	}
	if env.Kind == "" {
		return env, fmt.Errorf("decode frame: missing kind")
	}
	return env, nil
}
