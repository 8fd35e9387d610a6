package bus

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentbus/internal/metrics"
	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// memStore is an in-memory MessageStore for bus tests.
type memStore struct {
	mu       sync.Mutex
	messages map[string]*store.MessageRecord
	pending  map[string]*store.PendingDelivery
}

func newMemStore() *memStore {
	return &memStore{
		messages: make(map[string]*store.MessageRecord),
		pending:  make(map[string]*store.PendingDelivery),
	}
}

func pkey(messageID, recipient string) string { return messageID + "/" + recipient }

func (s *memStore) SaveMessage(ctx context.Context, m *store.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *memStore) GetMessage(ctx context.Context, id string) (*store.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) UpdateMessageStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		m.Status = status
	}
	return nil
}

func (s *memStore) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	return nil
}

func (s *memStore) FetchSince(ctx context.Context, clientID string, sinceSeq int64, limit int) ([]store.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.MessageRecord
	for _, m := range s.messages {
		if m.Seq > sinceSeq && (m.To == clientID || m.To == protocol.Broadcast) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStore) MaxSeq(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for _, m := range s.messages {
		if m.Seq > max {
			max = m.Seq
		}
	}
	return max, nil
}

func (s *memStore) SavePending(ctx context.Context, p *store.PendingDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.pending[pkey(p.MessageID, p.Recipient)] = &cp
	return nil
}

func (s *memStore) UpdatePending(ctx context.Context, messageID, recipient string, attempts int, nextAttempt time.Time, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[pkey(messageID, recipient)]; ok {
		p.Attempts = attempts
		p.NextAttemptAt = nextAttempt
		p.Status = status
	}
	return nil
}

func (s *memStore) DeletePending(ctx context.Context, messageID, recipient string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, pkey(messageID, recipient))
	return nil
}

func (s *memStore) LoadPending(ctx context.Context) ([]store.PendingDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.PendingDelivery
	for _, p := range s.pending {
		if p.Status == store.PendingActive {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) PurgePendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, p := range s.pending {
		if p.Status != store.PendingActive && p.CreatedAt.Before(cutoff) {
			delete(s.pending, k)
			n++
		}
	}
	return n, nil
}

func (s *memStore) messageStatus(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		return m.Status
	}
	return ""
}

// fakeSession records deliveries for one client id.
type fakeSession struct {
	connID   string
	clientID string
	mu       sync.Mutex
	got      []protocol.Message
	reject   bool
}

func (f *fakeSession) ConnectionID() string { return f.connID }
func (f *fakeSession) ClientID() string     { return f.clientID }

func (f *fakeSession) Deliver(m protocol.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false
	}
	f.got = append(f.got, m)
	return true
}

func (f *fakeSession) delivered() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.got...)
}

// fakeRegistry is a static session table.
type fakeRegistry struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (r *fakeRegistry) add(s *fakeSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
}

func (r *fakeRegistry) SessionsFor(clientID string) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Session
	for _, s := range r.sessions {
		if s.clientID == clientID {
			out = append(out, s)
		}
	}
	return out
}

func (r *fakeRegistry) AllSessionsExcept(clientID string) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Session
	for _, s := range r.sessions {
		if s.clientID != clientID {
			out = append(out, s)
		}
	}
	return out
}

func newTestBus(t *testing.T, cfg Config) (*Bus, *memStore, *fakeRegistry) {
	t.Helper()
	st := newMemStore()
	reg := &fakeRegistry{}
	b := New(cfg, st, reg, metrics.New())
	return b, st, reg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPublishAssignsMonotonicSeq(t *testing.T) {
	b, _, _ := newTestBus(t, DefaultConfig())

	var last int64
	for i := 0; i < 10; i++ {
		m, err := b.Publish(context.Background(), protocol.Message{
			From: "a", To: "b", Type: "status", Priority: protocol.PriorityNormal,
		})
		if err != nil {
			t.Fatal(err)
		}
		if m.ID == "" {
			t.Fatal("no id assigned")
		}
		if m.Seq <= last {
			t.Fatalf("seq %d not greater than previous %d", m.Seq, last)
		}
		last = m.Seq
	}
}

func TestStartResumesSeqFromStore(t *testing.T) {
	b, st, _ := newTestBus(t, DefaultConfig())
	st.SaveMessage(context.Background(), &store.MessageRecord{
		Message: protocol.Message{ID: "old", Seq: 41, From: "a", To: "b", Type: "status"},
		Status:  store.MessageDelivered,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	m, err := b.Publish(ctx, protocol.Message{From: "a", To: "b", Type: "status"})
	if err != nil {
		t.Fatal(err)
	}
	if m.Seq != 42 {
		t.Errorf("seq after restart = %d, want 42", m.Seq)
	}
}

func TestPublishRejectsOversizedMessage(t *testing.T) {
	b, _, _ := newTestBus(t, DefaultConfig())

	big, _ := json.Marshal(strings.Repeat("x", protocol.MaxMessageBytes))
	_, err := b.Publish(context.Background(), protocol.Message{
		From: "a", To: "b", Type: "status", Payload: big,
	})
	if err != ErrTooLarge {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

func TestPublishQueueCaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SoftCap = 2
	b, _, _ := newTestBus(t, cfg)
	ctx := context.Background()

	// Dispatcher not started: everything published stays queued.
	for i := 0; i < 2; i++ {
		if _, err := b.Publish(ctx, protocol.Message{From: "a", To: "b", Type: "s", Priority: protocol.PriorityNormal}); err != nil {
			t.Fatal(err)
		}
	}

	// At the soft cap LOW and BULK shed, NORMAL and above still pass.
	if _, err := b.Publish(ctx, protocol.Message{From: "a", To: "b", Type: "s", Priority: protocol.PriorityLow}); err != ErrOverloaded {
		t.Fatalf("low at soft cap: err = %v, want ErrOverloaded", err)
	}
	if _, err := b.Publish(ctx, protocol.Message{From: "a", To: "b", Type: "s", Priority: protocol.PriorityNormal}); err != nil {
		t.Fatalf("normal at soft cap rejected: %v", err)
	}
	if _, err := b.Publish(ctx, protocol.Message{From: "a", To: "b", Type: "s", Priority: protocol.PriorityCritical}); err != nil {
		t.Fatalf("critical at soft cap rejected: %v", err)
	}

	// At twice the soft cap everything is rejected.
	if _, err := b.Publish(ctx, protocol.Message{From: "a", To: "b", Type: "s", Priority: protocol.PriorityCritical}); err != ErrOverloaded {
		t.Fatalf("critical at hard cap: err = %v, want ErrOverloaded", err)
	}
}

func TestRouteDirectAndBroadcast(t *testing.T) {
	b, _, reg := newTestBus(t, DefaultConfig())
	sender := &fakeSession{connID: "c0", clientID: "sender"}
	alice := &fakeSession{connID: "c1", clientID: "alice"}
	bob := &fakeSession{connID: "c2", clientID: "bob"}
	reg.add(sender)
	reg.add(alice)
	reg.add(bob)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	if _, err := b.Publish(ctx, protocol.Message{From: "sender", To: "alice", Type: "status"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return len(alice.delivered()) == 1 })
	if len(bob.delivered()) != 0 {
		t.Error("direct message reached a non-addressee")
	}

	if _, err := b.Publish(ctx, protocol.Message{From: "sender", To: protocol.Broadcast, Type: "status"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool {
		return len(alice.delivered()) == 2 && len(bob.delivered()) == 1
	})
	if len(sender.delivered()) != 0 {
		t.Error("broadcast echoed to its sender")
	}
}

func TestAckClearsPendingDelivery(t *testing.T) {
	b, st, reg := newTestBus(t, DefaultConfig())
	alice := &fakeSession{connID: "c1", clientID: "alice"}
	reg.add(alice)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	// Command messages require ack, so routing records a pending delivery.
	m, err := b.Publish(ctx, protocol.Message{From: "sender", To: "alice", Type: protocol.TypeCommand})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return b.PendingCount() == 1 })

	b.Ack(ctx, "alice", m.ID)
	if b.PendingCount() != 0 {
		t.Fatal("pending delivery survived ack")
	}
	if got := st.messageStatus(m.ID); got != store.MessageDelivered {
		t.Errorf("message status = %q, want delivered", got)
	}
}

func TestRetryScheduleDoublesFromBaseDelay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDelay = 5 * time.Second
	b, st, reg := newTestBus(t, cfg)

	alice := &fakeSession{connID: "c1", clientID: "alice"}
	reg.add(alice)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	_, err := b.Publish(ctx, protocol.Message{
		From: "sender", To: "alice", Type: protocol.TypeCommand, TTLSeconds: 15,
	})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool {
		return b.PendingCount() == 1 && len(alice.delivered()) == 1
	})

	// Anchor the synthetic clock on the first scheduled attempt.
	st.mu.Lock()
	var first time.Time
	for _, p := range st.pending {
		first = p.NextAttemptAt
	}
	st.mu.Unlock()

	steps := []struct {
		at   time.Duration
		want int
	}{
		{0, 2},                // first redelivery, exactly one base delay out
		{4 * time.Second, 2},  // second attempt not due until first+5s
		{5 * time.Second, 3},  // second redelivery; delay doubles after it
		{14 * time.Second, 3}, // third attempt not due until first+15s
	}
	for _, s := range steps {
		b.runRetries(first.Add(s.at))
		if got := len(alice.delivered()); got != s.want {
			t.Fatalf("deliveries at first+%v = %d, want %d", s.at, got, s.want)
		}
	}

	// The 15s TTL kills the delivery before the third redelivery comes due.
	b.runRetries(first.Add(20 * time.Second))
	if b.PendingCount() != 0 {
		t.Fatal("pending delivery survived its TTL")
	}
	if got := len(alice.delivered()); got != 3 {
		t.Errorf("deliveries after expiry = %d, want 3", got)
	}
}

func TestBroadcastAckWaitsForAllRecipients(t *testing.T) {
	b, st, reg := newTestBus(t, DefaultConfig())
	alice := &fakeSession{connID: "c1", clientID: "alice"}
	bob := &fakeSession{connID: "c2", clientID: "bob"}
	reg.add(alice)
	reg.add(bob)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	m, err := b.Publish(ctx, protocol.Message{
		From: "sender", To: protocol.Broadcast, Type: protocol.TypeCommand,
	})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return b.PendingCount() == 2 })

	b.Ack(ctx, "alice", m.ID)
	if b.PendingCount() != 1 {
		t.Fatalf("pending after first ack = %d, want 1", b.PendingCount())
	}
	if got := st.messageStatus(m.ID); got == store.MessageDelivered {
		t.Error("message marked delivered with an ack still outstanding")
	}

	b.Ack(ctx, "bob", m.ID)
	if b.PendingCount() != 0 {
		t.Fatal("pending delivery survived the final ack")
	}
	if got := st.messageStatus(m.ID); got != store.MessageDelivered {
		t.Errorf("message status = %q, want delivered", got)
	}
}

func TestRetryExhaustionNotifiesSender(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxAttempts = 2
	b, st, reg := newTestBus(t, cfg)

	sender := &fakeSession{connID: "c0", clientID: "sender"}
	reg.add(sender)
	// The addressee has no session, so every attempt fails to emit.

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	m, err := b.Publish(ctx, protocol.Message{From: "sender", To: "ghost", Type: protocol.TypeCommand})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return b.PendingCount() == 1 })

	// Drive the retry clock directly instead of waiting for the ticker.
	for i := 0; i < cfg.MaxAttempts+1; i++ {
		b.runRetries(time.Now().UTC().Add(time.Duration(i+1) * time.Hour))
	}

	if b.PendingCount() != 0 {
		t.Fatal("pending delivery not failed after exhausting attempts")
	}
	if got := st.messageStatus(m.ID); got != store.MessageFailed {
		t.Errorf("message status = %q, want failed", got)
	}

	waitFor(t, time.Second, func() bool {
		for _, d := range sender.delivered() {
			if d.Type == protocol.TypeDeliveryFailed && d.From == SystemClient {
				return true
			}
		}
		return false
	})
}

func TestExpireRemovesMessage(t *testing.T) {
	cfg := DefaultConfig()
	var archived []store.MessageRecord
	var archiveMu sync.Mutex
	cfg.Archive = func(rec store.MessageRecord) {
		archiveMu.Lock()
		archived = append(archived, rec)
		archiveMu.Unlock()
	}
	b, st, _ := newTestBus(t, cfg)
	ctx := context.Background()

	m, err := b.Publish(ctx, protocol.Message{From: "a", To: "b", Type: "status", TTLSeconds: 1})
	if err != nil {
		t.Fatal(err)
	}

	rec, err := st.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	b.expire(ctx, rec)

	if _, err := st.GetMessage(ctx, m.ID); err != store.ErrNotFound {
		t.Error("expired message still persisted")
	}
	archiveMu.Lock()
	defer archiveMu.Unlock()
	if len(archived) != 1 || archived[0].ID != m.ID {
		t.Errorf("archive callback got %v", archived)
	}
}
