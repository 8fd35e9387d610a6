package gateway

import (
	"context"

	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// RoomHandler processes one room_op action. Handlers reply on the client
// with a room_result or error frame.
type RoomHandler func(ctx context.Context, client *Client, req *protocol.RoomOpFrame)

// ActionRouter maps room_op action names to handlers. Unknown actions are a
// validation failure; the wire discriminator is a closed set.
type ActionRouter struct {
	handlers map[string]RoomHandler
}

// NewActionRouter creates an empty router.
func NewActionRouter() *ActionRouter {
	return &ActionRouter{handlers: make(map[string]RoomHandler)}
}

// Register binds an action name to its handler.
func (r *ActionRouter) Register(action string, h RoomHandler) {
	r.handlers[action] = h
}

// Dispatch routes one room_op frame.
func (r *ActionRouter) Dispatch(ctx context.Context, client *Client, req *protocol.RoomOpFrame) {
	h, ok := r.handlers[req.Action]
	if !ok {
		client.SendError(req.RequestID, protocol.ErrValidationFailed, "unknown action "+req.Action)
		return
	}
	h(ctx, client, req)
}
