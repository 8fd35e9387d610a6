package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// retryTick is how often due pending deliveries are checked. The base retry
// delay is seconds-scale, so one-second resolution is enough.
const retryTick = time.Second

func (b *Bus) retryLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(retryTick)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.runRetries(time.Now().UTC())
		}
	}
}

func (b *Bus) runRetries(now time.Time) {
	b.mu.Lock()
	var due []*pendingState
	for _, p := range b.pending {
		if p.Status == store.PendingActive && !now.Before(p.NextAttemptAt) {
			due = append(due, p)
		}
	}
	b.mu.Unlock()

	ctx := context.Background()
	for _, p := range due {
		switch {
		case expired(p.rec, now):
			b.failDelivery(ctx, p, "ttl elapsed")
		case p.Attempts >= b.cfg.MaxAttempts:
			b.failDelivery(ctx, p, "retry budget exhausted")
		default:
			b.redeliver(ctx, p, now)
		}
	}
}

// redeliver re-emits the message to every current session of the recipient;
// the recipient may have reconnected since the original attempt.
func (b *Bus) redeliver(ctx context.Context, p *pendingState, now time.Time) {
	emitted := 0
	for _, s := range b.registry.SessionsFor(p.Recipient) {
		if s.Deliver(p.rec.Message) {
			emitted++
		}
	}
	if emitted > 0 {
		b.metrics.MessagesDelivered.Add(float64(emitted))
	}

	// Delay doubles per attempt starting from the base: 5s, 10s, 20s, ...
	delay := b.cfg.BaseDelay << uint(p.Attempts)
	if delay > b.cfg.MaxDelay {
		delay = b.cfg.MaxDelay
	}
	p.Attempts++
	p.NextAttemptAt = now.Add(delay)
	if err := b.store.UpdatePending(ctx, p.MessageID, p.Recipient, p.Attempts, p.NextAttemptAt, p.Status); err != nil {
		slog.Warn("persist retry state", "message_id", p.MessageID, "error", err)
	}
	slog.Debug("redelivered message",
		"message_id", p.MessageID, "recipient", p.Recipient,
		"attempt", p.Attempts, "sessions", emitted)
}

// failDelivery marks the delivery terminal and notifies the sender.
func (b *Bus) failDelivery(ctx context.Context, p *pendingState, reason string) {
	b.mu.Lock()
	delete(b.pending, pendingKey{p.MessageID, p.Recipient})
	b.mu.Unlock()

	p.Status = store.PendingFailed
	if err := b.store.UpdatePending(ctx, p.MessageID, p.Recipient, p.Attempts, p.NextAttemptAt, store.PendingFailed); err != nil {
		slog.Warn("persist failed delivery", "message_id", p.MessageID, "error", err)
	}
	if err := b.store.UpdateMessageStatus(ctx, p.MessageID, store.MessageFailed); err != nil {
		slog.Warn("mark message failed", "message_id", p.MessageID, "error", err)
	}

	b.metrics.DeliveriesFailed.Inc()
	slog.Warn("delivery failed",
		"message_id", p.MessageID, "recipient", p.Recipient,
		"attempts", p.Attempts, "reason", reason,
		"request_id", p.rec.RequestID())

	b.notifySender(ctx, p.rec)
}

// notifySender tells the original sender that its message was never acked.
// The notification goes to the sender, not the recipient.
func (b *Bus) notifySender(ctx context.Context, rec *store.MessageRecord) {
	if rec.From == "" || rec.From == SystemClient {
		return
	}
	payload, _ := json.Marshal(map[string]string{"message_id": rec.ID})
	notice := protocol.Message{
		From:     SystemClient,
		To:       rec.From,
		Type:     protocol.TypeDeliveryFailed,
		Priority: protocol.PriorityHigh,
		Payload:  payload,
		Metadata: map[string]string{"request_id": rec.RequestID()},
	}
	if _, err := b.Publish(ctx, notice); err != nil {
		slog.Warn("publish delivery_failed notice", "message_id", rec.ID, "error", err)
	}
}
