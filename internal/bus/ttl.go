package bus

import (
	"container/heap"
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/agentbus/internal/store"
)

// expiryItem is one TTL deadline awaiting the cleanup tick.
type expiryItem struct {
	at  time.Time
	rec *store.MessageRecord
}

// expiryHeap is a min-heap ordered by expiry time. Not safe for concurrent
// use; the Bus serializes access under its mutex.
type expiryHeap struct {
	items []expiryItem
}

func newExpiryHeap() *expiryHeap {
	h := &expiryHeap{}
	heap.Init(h)
	return h
}

func (h *expiryHeap) Len() int           { return len(h.items) }
func (h *expiryHeap) Less(i, j int) bool { return h.items[i].at.Before(h.items[j].at) }
func (h *expiryHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *expiryHeap) Push(x any) {
	h.items = append(h.items, x.(expiryItem))
}

func (h *expiryHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// popDue removes and returns every item whose deadline has passed.
func (h *expiryHeap) popDue(now time.Time) []expiryItem {
	var due []expiryItem
	for h.Len() > 0 && !h.items[0].at.After(now) {
		due = append(due, heap.Pop(h).(expiryItem))
	}
	return due
}

// trackTTL registers the message's expiry deadline. Messages with no TTL
// never enter the heap. Caller holds b.mu.
func (b *Bus) trackTTL(rec *store.MessageRecord) {
	exp := rec.ExpiresAt()
	if exp.IsZero() {
		return
	}
	heap.Push(b.ttl, expiryItem{at: exp, rec: rec})
}

const (
	ttlTick      = time.Second
	pendingSweep = 2 * time.Minute
	// pendingRetention keeps terminal pending rows around briefly so a
	// late ack still matches a row instead of logging a miss.
	pendingRetention = 10 * time.Minute
)

func (b *Bus) cleanupLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(ttlTick)
	defer ticker.Stop()
	sweep := time.NewTicker(pendingSweep)
	defer sweep.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.expireDue(time.Now().UTC())
		case <-sweep.C:
			b.sweepPending(time.Now().UTC())
		}
	}
}

// expireDue removes every message whose TTL deadline has passed from the
// queue, the pending table, and persistence.
func (b *Bus) expireDue(now time.Time) {
	b.mu.Lock()
	due := b.ttl.popDue(now)
	b.mu.Unlock()
	if len(due) == 0 {
		return
	}
	ctx := context.Background()
	for _, item := range due {
		b.expire(ctx, item.rec)
	}
}

// expire archives and removes one expired message. Pending deliveries for it
// become failed; their senders are notified like any other delivery failure.
func (b *Bus) expire(ctx context.Context, rec *store.MessageRecord) {
	if b.cfg.Archive != nil {
		b.cfg.Archive(*rec)
	}

	b.mu.Lock()
	b.queue.removeExpired(map[string]bool{rec.ID: true})
	depth := b.queue.len()
	var stale []*pendingState
	for key, p := range b.pending {
		if key.messageID == rec.ID {
			stale = append(stale, p)
			delete(b.pending, key)
		}
	}
	b.mu.Unlock()
	b.metrics.QueueDepth.Set(float64(depth))

	for _, p := range stale {
		p.Status = store.PendingFailed
		if err := b.store.UpdatePending(ctx, p.MessageID, p.Recipient, p.Attempts, p.NextAttemptAt, store.PendingFailed); err != nil {
			slog.Warn("fail expired pending", "message_id", p.MessageID, "error", err)
		}
		b.metrics.DeliveriesFailed.Inc()
		b.notifySender(ctx, p.rec)
	}

	if err := b.store.DeleteMessage(ctx, rec.ID); err != nil {
		slog.Warn("delete expired message", "message_id", rec.ID, "error", err)
	}
	b.metrics.MessagesExpired.Inc()
	slog.Debug("message expired", "message_id", rec.ID, "type", rec.Type)
}

// sweepPending purges terminal pending rows past the retention window.
func (b *Bus) sweepPending(now time.Time) {
	n, err := b.store.PurgePendingBefore(context.Background(), now.Add(-pendingRetention))
	if err != nil {
		slog.Warn("purge pending deliveries", "error", err)
		return
	}
	if n > 0 {
		slog.Debug("purged terminal pending deliveries", "count", n)
	}
}
