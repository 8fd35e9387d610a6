package sqlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func record(id string, seq int64, from, to string) *store.MessageRecord {
	return &store.MessageRecord{
		Message: protocol.Message{
			ID:        id,
			Seq:       seq,
			From:      from,
			To:        to,
			Type:      "status",
			Priority:  protocol.PriorityNormal,
			CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		},
		Status: store.MessageQueued,
	}
}

func TestMessageRoundtrip(t *testing.T) {
	s := NewMessageStore(openTestDB(t))
	ctx := context.Background()

	m := record("m1", 1, "alice", "bob")
	m.Payload = json.RawMessage(`{"task":"review"}`)
	m.TTLSeconds = 60
	m.ReplyTo = "m0"
	m.Metadata = map[string]string{"request_id": "r1"}

	if err := s.SaveMessage(ctx, m); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.From != "alice" || got.To != "bob" || got.TTLSeconds != 60 || got.ReplyTo != "m0" {
		t.Errorf("record = %+v", got)
	}
	if string(got.Payload) != `{"task":"review"}` {
		t.Errorf("payload = %s", got.Payload)
	}
	if got.Metadata["request_id"] != "r1" {
		t.Errorf("metadata = %v", got.Metadata)
	}
	if !got.CreatedAt.Equal(m.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, m.CreatedAt)
	}

	if err := s.UpdateMessageStatus(ctx, "m1", store.MessageDelivered); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.MessageDelivered {
		t.Errorf("status = %s", got.Status)
	}

	if err := s.DeleteMessage(ctx, "m1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetMessage(ctx, "m1"); err != store.ErrNotFound {
		t.Errorf("after delete: %v", err)
	}
}

func TestFetchSince(t *testing.T) {
	s := NewMessageStore(openTestDB(t))
	ctx := context.Background()

	seed := []*store.MessageRecord{
		record("m1", 1, "alice", "bob"),
		record("m2", 2, "carol", "bob"),
		record("m3", 3, "alice", "carol"),            // different recipient
		record("m4", 4, "alice", protocol.Broadcast), // reaches bob
		record("m5", 5, "bob", protocol.Broadcast),   // bob's own broadcast
		record("m6", 6, "alice", "bob"),
	}
	for _, m := range seed {
		if err := s.SaveMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	// Expired messages never replay.
	if err := s.UpdateMessageStatus(ctx, "m6", store.MessageExpired); err != nil {
		t.Fatal(err)
	}

	got, err := s.FetchSince(ctx, "bob", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	want := []string{"m1", "m2", "m4"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}

	// The cursor excludes already-seen sequence numbers.
	got, err = s.FetchSince(ctx, "bob", 2, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "m4" {
		t.Errorf("after cursor 2: %+v", got)
	}

	// Limit truncates from the oldest end.
	got, err = s.FetchSince(ctx, "bob", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m2" {
		t.Errorf("limited fetch = %+v", got)
	}
}

func TestPendingLifecycle(t *testing.T) {
	db := openTestDB(t)
	s := NewMessageStore(db)
	ctx := context.Background()

	if err := s.SaveMessage(ctx, record("m1", 1, "alice", "bob")); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	p := &store.PendingDelivery{
		MessageID:     "m1",
		Recipient:     "bob",
		Attempts:      0,
		NextAttemptAt: now.Add(time.Second),
		CreatedAt:     now,
		Status:        store.PendingActive,
	}
	if err := s.SavePending(ctx, p); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0].MessageID != "m1" || loaded[0].Recipient != "bob" {
		t.Fatalf("loaded = %+v", loaded)
	}
	if !loaded[0].NextAttemptAt.Equal(p.NextAttemptAt) {
		t.Errorf("next_attempt_at = %v, want %v", loaded[0].NextAttemptAt, p.NextAttemptAt)
	}

	if err := s.UpdatePending(ctx, "m1", "bob", 3, now.Add(time.Minute), store.PendingActive); err != nil {
		t.Fatal(err)
	}
	loaded, err = s.LoadPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if loaded[0].Attempts != 3 {
		t.Errorf("attempts = %d", loaded[0].Attempts)
	}

	// Terminal pendings drop out of recovery but stay purgeable.
	if err := s.UpdatePending(ctx, "m1", "bob", 3, now, store.PendingFailed); err != nil {
		t.Fatal(err)
	}
	loaded, err = s.LoadPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Fatalf("terminal pending still recovered: %+v", loaded)
	}

	n, err := s.PurgePendingBefore(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
}

func TestDeletePending(t *testing.T) {
	s := NewMessageStore(openTestDB(t))
	ctx := context.Background()

	if err := s.SaveMessage(ctx, record("m1", 1, "alice", "bob")); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	if err := s.SavePending(ctx, &store.PendingDelivery{
		MessageID: "m1", Recipient: "bob", NextAttemptAt: now, CreatedAt: now,
		Status: store.PendingActive,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeletePending(ctx, "m1", "bob"); err != nil {
		t.Fatal(err)
	}
	loaded, err := s.LoadPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Errorf("pending survived delete: %+v", loaded)
	}
}

func TestTokenStore(t *testing.T) {
	s := NewTokenStore(openTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	tok := &store.TokenData{
		Token:     "deadbeef",
		ClientID:  "agent-1",
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
	if err := s.SaveToken(ctx, tok); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetToken(ctx, "deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if got.ClientID != "agent-1" || !got.Valid(now) {
		t.Errorf("token = %+v", got)
	}

	if err := s.RevokeToken(ctx, "deadbeef"); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetToken(ctx, "deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Revoked || got.Valid(now) {
		t.Errorf("revoked token = %+v", got)
	}

	if _, err := s.GetToken(ctx, "missing"); err != store.ErrNotFound {
		t.Errorf("unknown token: %v", err)
	}

	list, err := s.ListTokens(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("tokens = %d", len(list))
	}
}
