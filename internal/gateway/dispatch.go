package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/agentbus/internal/bus"
	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// dispatch routes one inbound frame from a connected session. Every frame
// gets a request id; rate limiting applies to everything except heartbeats.
func (s *Server) dispatch(ctx context.Context, c *Client, raw []byte) {
	env, err := protocol.PeekKind(raw)
	if err != nil {
		c.SendError("", protocol.ErrValidationFailed, "malformed frame")
		return
	}
	kind := env.Kind
	s.metrics.FramesTotal.WithLabelValues(kind).Inc()

	requestID := env.RequestID
	if requestID == "" {
		requestID = store.NewID()
	}

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "gateway.dispatch", trace.WithAttributes(
			attribute.String("frame.kind", kind),
			attribute.String("client_id", c.clientID),
			attribute.String("request_id", requestID),
		))
		defer span.End()
	}

	switch kind {
	case protocol.KindPing:
		c.Send(&protocol.PongFrame{Kind: protocol.KindPong, Timestamp: time.Now().UTC()})
		return
	case protocol.KindPong:
		// Liveness is tracked by the read deadline; nothing else to do.
		return
	}

	if ok, retryAfter := s.limiter.Allow(c.clientID); !ok {
		s.metrics.ErrorsTotal.WithLabelValues(protocol.ErrRateLimited).Inc()
		frame := protocol.NewError(requestID, protocol.ErrRateLimited, "rate limit exceeded")
		frame.RetryAfterMS = retryAfter.Milliseconds()
		c.Send(frame)
		return
	}

	switch kind {
	case protocol.KindSend:
		s.handleSend(ctx, c, raw, requestID)
	case protocol.KindAck:
		var ack protocol.AckFrame
		if err := json.Unmarshal(raw, &ack); err != nil || ack.MessageID == "" {
			c.SendError(requestID, protocol.ErrValidationFailed, "ack requires message_id")
			return
		}
		s.bus.Ack(ctx, c.clientID, ack.MessageID)
	case protocol.KindRoomOp:
		var op protocol.RoomOpFrame
		if err := json.Unmarshal(raw, &op); err != nil {
			c.SendError(requestID, protocol.ErrValidationFailed, "malformed room_op frame")
			return
		}
		op.RequestID = requestID
		start := time.Now()
		s.router.Dispatch(ctx, c, &op)
		s.metrics.OpDuration.WithLabelValues(op.Action).Observe(time.Since(start).Seconds())
	default:
		c.SendError(requestID, protocol.ErrValidationFailed, "unknown frame kind "+kind)
	}
}

// handleSend fingerprints and publishes an ingress message.
func (s *Server) handleSend(ctx context.Context, c *Client, raw []byte, requestID string) {
	var frame protocol.SendFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.SendError(requestID, protocol.ErrValidationFailed, "malformed send frame")
		return
	}

	m, err := BuildMessage(c.clientID, requestID, &frame)
	if err != nil {
		c.SendError(requestID, protocol.ErrValidationFailed, err.Error())
		return
	}

	published, err := s.bus.Publish(ctx, m)
	if err != nil {
		c.SendError(requestID, PublishErrorCode(err), err.Error())
		return
	}
	c.Send(&protocol.SendResultFrame{
		Kind:      protocol.KindSendResult,
		RequestID: requestID,
		MessageID: published.ID,
		Seq:       published.Seq,
	})
}

// BuildMessage validates a send frame and stamps the authenticated origin.
// Client-supplied ids are never trusted; the bus assigns id and seq.
func BuildMessage(from, requestID string, frame *protocol.SendFrame) (protocol.Message, error) {
	var m protocol.Message
	if frame.To != protocol.Broadcast {
		if err := protocol.ValidateIdent("to", frame.To); err != nil {
			return m, err
		}
	}
	if frame.Type == "" {
		return m, fmt.Errorf("type must not be empty")
	}
	priority := protocol.PriorityNormal
	if frame.Priority != "" {
		p, err := protocol.ParsePriority(frame.Priority)
		if err != nil {
			return m, err
		}
		priority = p
	}

	metadata := frame.Metadata
	if metadata == nil {
		metadata = make(map[string]string, 1)
	}
	if metadata["request_id"] == "" {
		metadata["request_id"] = requestID
	}

	return protocol.Message{
		From:       from,
		To:         frame.To,
		Type:       frame.Type,
		Priority:   priority,
		Payload:    frame.Payload,
		TTLSeconds: frame.TTLSeconds,
		ReplyTo:    frame.ReplyTo,
		Metadata:   metadata,
	}, nil
}

// PublishErrorCode maps a bus.Publish failure to its wire error code.
func PublishErrorCode(err error) string {
	switch {
	case errors.Is(err, bus.ErrTooLarge):
		return protocol.ErrTooLarge
	case errors.Is(err, bus.ErrOverloaded):
		return protocol.ErrOverloaded
	default:
		return protocol.ErrInternal
	}
}
