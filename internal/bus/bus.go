// Package bus is the message core: it fingerprints ingress messages, queues
// them by priority, routes them to recipient sessions, and drives the
// at-least-once ack/retry protocol for message types that require it.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/agentbus/internal/metrics"
	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// SystemClient is the origin identity for broker-generated notifications.
const SystemClient = "_broker"

// Errors surfaced to the transport layer.
var (
	ErrTooLarge   = errors.New("bus: message exceeds size limit")
	ErrOverloaded = errors.New("bus: queue full")
)

// Session is one live recipient connection. Deliver must not block; it
// reports false when the session's send buffer rejected the frame.
type Session interface {
	ConnectionID() string
	ClientID() string
	Deliver(m protocol.Message) bool
}

// Registry enumerates live sessions for routing.
type Registry interface {
	SessionsFor(clientID string) []Session
	AllSessionsExcept(clientID string) []Session
}

// Config tunes the message core.
type Config struct {
	SoftCap      int           // queue soft cap; LOW/BULK shed beyond this
	BaseDelay    time.Duration // first retry delay
	MaxDelay     time.Duration // backoff ceiling
	MaxAttempts  int           // retry budget per pending delivery
	AgeThreshold time.Duration // starvation-avoidance promotion age
	DefaultTTL   time.Duration // TTL for types without a policy entry

	// TTLByType maps message type to its TTL; a zero duration means the
	// type never expires.
	TTLByType map[string]time.Duration

	// RequiresAck lists message types that get at-least-once delivery.
	RequiresAck map[string]bool

	// Archive, when set, receives every message removed by TTL expiry
	// before it is deleted from persistence.
	Archive func(store.MessageRecord)
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SoftCap:      10_000,
		BaseDelay:    5 * time.Second,
		MaxDelay:     5 * time.Minute,
		MaxAttempts:  5,
		AgeThreshold: 30 * time.Second,
		DefaultTTL:   24 * time.Hour,
		TTLByType: map[string]time.Duration{
			"error":   time.Hour,
			"log":     24 * time.Hour,
			"command": 7 * 24 * time.Hour,
			"audit":   0, // never expires
		},
		RequiresAck: map[string]bool{
			protocol.TypeCommand: true,
			protocol.TypeRequest: true,
		},
	}
}

type pendingKey struct {
	messageID string
	recipient string
}

type pendingState struct {
	store.PendingDelivery
	rec *store.MessageRecord
}

// Bus owns the queue, the pending-delivery table, and the TTL heap. All
// collections live on the instance; lifecycle is Start → Stop.
type Bus struct {
	cfg      Config
	store    store.MessageStore
	registry Registry
	metrics  *metrics.Metrics

	seq atomic.Int64

	mu      sync.Mutex
	queue   *priorityQueue
	pending map[pendingKey]*pendingState
	ttl     *expiryHeap

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a message core. Call Start before publishing.
func New(cfg Config, st store.MessageStore, reg Registry, m *metrics.Metrics) *Bus {
	if cfg.SoftCap <= 0 {
		cfg.SoftCap = DefaultConfig().SoftCap
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Minute
	}
	return &Bus{
		cfg:      cfg,
		store:    st,
		registry: reg,
		metrics:  m,
		queue:    newPriorityQueue(cfg.AgeThreshold),
		pending:  make(map[pendingKey]*pendingState),
		ttl:      newExpiryHeap(),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start recovers pending deliveries from persistence and launches the
// dispatch, retry, and cleanup workers.
func (b *Bus) Start(ctx context.Context) error {
	// Resume the seq counter so client since_seq cursors survive restarts.
	maxSeq, err := b.store.MaxSeq(ctx)
	if err != nil {
		return fmt.Errorf("load max seq: %w", err)
	}
	b.seq.Store(maxSeq)

	pendings, err := b.store.LoadPending(ctx)
	if err != nil {
		return fmt.Errorf("load pending deliveries: %w", err)
	}
	now := time.Now().UTC()
	for _, p := range pendings {
		rec, err := b.store.GetMessage(ctx, p.MessageID)
		if err != nil {
			// Message gone (expired before shutdown); drop the orphan.
			_ = b.store.DeletePending(ctx, p.MessageID, p.Recipient)
			continue
		}
		if expired(rec, now) {
			_ = b.store.DeletePending(ctx, p.MessageID, p.Recipient)
			continue
		}
		b.pending[pendingKey{p.MessageID, p.Recipient}] = &pendingState{PendingDelivery: p, rec: rec}
		b.trackTTL(rec)
	}
	if len(b.pending) > 0 {
		slog.Info("recovered pending deliveries", "count", len(b.pending))
	}

	b.wg.Add(3)
	go b.dispatchLoop()
	go b.retryLoop()
	go b.cleanupLoop()
	return nil
}

// Stop halts the workers. Persisted state is already durable.
func (b *Bus) Stop() {
	close(b.done)
	b.wg.Wait()
}

// CurrentSeq returns the last assigned sequence number.
func (b *Bus) CurrentSeq() int64 { return b.seq.Load() }

// QueueDepth returns the number of messages waiting for dispatch.
func (b *Bus) QueueDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.len()
}

// PendingCount returns the number of unacked tracked deliveries.
func (b *Bus) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Publish fingerprints and enqueues an ingress message. The returned copy
// carries the broker-assigned id, seq, timestamp, and resolved TTL.
func (b *Bus) Publish(ctx context.Context, m protocol.Message) (protocol.Message, error) {
	m.ID = store.NewID()
	m.Seq = b.seq.Add(1)
	m.CreatedAt = time.Now().UTC()
	if m.TTLSeconds <= 0 {
		m.TTLSeconds = int(b.resolveTTL(m.Type) / time.Second)
	}

	raw, err := json.Marshal(&m)
	if err != nil {
		return m, fmt.Errorf("marshal message: %w", err)
	}
	if len(raw) > protocol.MaxMessageBytes {
		return m, ErrTooLarge
	}

	// Queue caps: LOW/BULK shed at the soft cap; CRITICAL/HIGH are accepted
	// up to twice that.
	b.mu.Lock()
	depth := b.queue.len()
	switch {
	case depth >= 2*b.cfg.SoftCap:
		b.mu.Unlock()
		return m, ErrOverloaded
	case depth >= b.cfg.SoftCap && m.Priority >= protocol.PriorityLow:
		b.mu.Unlock()
		return m, ErrOverloaded
	}
	b.mu.Unlock()

	rec := &store.MessageRecord{Message: m, Status: store.MessageQueued}
	if err := b.store.SaveMessage(ctx, rec); err != nil {
		return m, fmt.Errorf("persist message: %w", err)
	}

	b.mu.Lock()
	b.queue.push(rec, time.Now())
	b.trackTTL(rec)
	depth = b.queue.len()
	b.mu.Unlock()

	b.metrics.MessagesIngress.Inc()
	b.metrics.QueueDepth.Set(float64(depth))
	b.signal()
	return m, nil
}

// Ack clears the pending delivery for (messageID, clientID).
func (b *Bus) Ack(ctx context.Context, clientID, messageID string) {
	key := pendingKey{messageID, clientID}
	b.mu.Lock()
	_, ok := b.pending[key]
	delete(b.pending, key)
	remaining := 0
	for k := range b.pending {
		if k.messageID == messageID {
			remaining++
		}
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	if err := b.store.DeletePending(ctx, messageID, clientID); err != nil {
		slog.Warn("clear pending delivery", "message_id", messageID, "error", err)
	}
	// A broadcast is delivered only once every tracked recipient has acked.
	if remaining > 0 {
		return
	}
	if err := b.store.UpdateMessageStatus(ctx, messageID, store.MessageDelivered); err != nil {
		slog.Warn("mark message delivered", "message_id", messageID, "error", err)
	}
}

// resolveTTL picks the policy TTL for a message type. Zero means never.
func (b *Bus) resolveTTL(msgType string) time.Duration {
	if ttl, ok := b.cfg.TTLByType[msgType]; ok {
		return ttl
	}
	return b.cfg.DefaultTTL
}

func (b *Bus) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}
		for {
			b.mu.Lock()
			rec := b.queue.pop(time.Now())
			depth := b.queue.len()
			b.mu.Unlock()
			b.metrics.QueueDepth.Set(float64(depth))
			if rec == nil {
				break
			}
			b.route(rec)
		}
	}
}

// route emits one dequeued message to every matching live session and, for
// ack-requiring types, records pending deliveries per recipient client.
func (b *Bus) route(rec *store.MessageRecord) {
	ctx := context.Background()
	now := time.Now().UTC()
	if expired(rec, now) {
		b.expire(ctx, rec)
		return
	}

	var targets []Session
	if rec.To == protocol.Broadcast {
		targets = b.registry.AllSessionsExcept(rec.From)
	} else {
		targets = b.registry.SessionsFor(rec.To)
	}

	emitted := 0
	for _, s := range targets {
		if s.Deliver(rec.Message) {
			emitted++
		}
	}
	if emitted > 0 {
		b.metrics.MessagesDelivered.Add(float64(emitted))
		b.metrics.DeliveryLatency.Observe(now.Sub(rec.CreatedAt).Seconds())
	}

	if b.cfg.RequiresAck[rec.Type] {
		for _, recipient := range ackRecipients(rec, targets) {
			b.addPending(ctx, rec, recipient, now)
		}
		return
	}
	if emitted > 0 {
		if err := b.store.UpdateMessageStatus(ctx, rec.ID, store.MessageDelivered); err != nil {
			slog.Warn("mark message delivered", "message_id", rec.ID, "error", err)
		}
	}
}

// ackRecipients resolves which client ids need a pending delivery. Direct
// sends track the addressee even when it has no session yet; broadcasts
// track the clients that were connected at dispatch time.
func ackRecipients(rec *store.MessageRecord, targets []Session) []string {
	if rec.To != protocol.Broadcast {
		return []string{rec.To}
	}
	seen := make(map[string]bool, len(targets))
	var out []string
	for _, s := range targets {
		if !seen[s.ClientID()] {
			seen[s.ClientID()] = true
			out = append(out, s.ClientID())
		}
	}
	return out
}

func (b *Bus) addPending(ctx context.Context, rec *store.MessageRecord, recipient string, now time.Time) {
	p := &pendingState{
		PendingDelivery: store.PendingDelivery{
			MessageID:     rec.ID,
			Recipient:     recipient,
			Attempts:      0,
			NextAttemptAt: now.Add(b.cfg.BaseDelay),
			CreatedAt:     now,
			Status:        store.PendingActive,
		},
		rec: rec,
	}
	if err := b.store.SavePending(ctx, &p.PendingDelivery); err != nil {
		slog.Warn("persist pending delivery", "message_id", rec.ID, "error", err)
	}
	b.mu.Lock()
	b.pending[pendingKey{rec.ID, recipient}] = p
	b.mu.Unlock()
}

func expired(rec *store.MessageRecord, now time.Time) bool {
	exp := rec.ExpiresAt()
	return !exp.IsZero() && now.After(exp)
}
