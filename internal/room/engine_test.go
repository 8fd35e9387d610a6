package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentbus/internal/metrics"
	"github.com/nextlevelbuilder/agentbus/internal/store/sqlite"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// fakeNotifier records fanned-out event frames.
type fakeNotifier struct {
	mu     sync.Mutex
	frames map[string][]*protocol.RoomEventFrame // clientID → frames
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{frames: make(map[string][]*protocol.RoomEventFrame)}
}

func (n *fakeNotifier) NotifyRoomEvent(clientID string, f *protocol.RoomEventFrame) {
	n.mu.Lock()
	n.frames[clientID] = append(n.frames[clientID], f)
	n.mu.Unlock()
}

func (n *fakeNotifier) eventsFor(clientID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, f := range n.frames[clientID] {
		out = append(out, f.Event)
	}
	return out
}

// newTestEngine builds an engine on a throwaway SQLite store.
func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeNotifier) {
	t.Helper()
	stores, db, err := sqlite.NewStores(t.TempDir())
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	n := newFakeNotifier()
	e := New(cfg, stores, n, metrics.New())
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(e.Stop)
	return e, n
}

// setupRoom creates an open room and joins the listed members with roles.
func setupRoom(t *testing.T, e *Engine, roomID string, roles map[string]string) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.CreateRoom(ctx, "founder", CreateRoomParams{RoomID: roomID, Topic: "testing"}); err != nil {
		t.Fatalf("create room: %v", err)
	}
	for id, role := range roles {
		if _, err := e.Join(ctx, id, JoinParams{RoomID: roomID, Role: role}); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("want error code %s, got nil", code)
	}
	e := AsError(err)
	if e.Code != code {
		t.Fatalf("error code = %s (%s), want %s", e.Code, e.Message, code)
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCreateRoomIdempotent(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	ctx := context.Background()

	v, err := e.CreateRoom(ctx, "alice", CreateRoomParams{RoomID: "design", Password: "s3cret"})
	if err != nil {
		t.Fatal(err)
	}
	if !v.Protected {
		t.Error("room with a password reported unprotected")
	}

	again, err := e.CreateRoom(ctx, "bob", CreateRoomParams{RoomID: "design", Password: "s3cret"})
	if err != nil {
		t.Fatalf("idempotent create failed: %v", err)
	}
	if again.RoomID != "design" {
		t.Errorf("room_id = %s", again.RoomID)
	}

	_, err = e.CreateRoom(ctx, "mallory", CreateRoomParams{RoomID: "design", Password: "wrong"})
	wantCode(t, err, protocol.ErrConflict)

	_, err = e.CreateRoom(ctx, "alice", CreateRoomParams{RoomID: "bad id"})
	wantCode(t, err, protocol.ErrValidationFailed)
}

func TestJoinRolesAndWeights(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	ctx := context.Background()
	setupRoom(t, e, "weights", nil)

	tests := []struct {
		client string
		role   string
		want   float64
	}{
		{"lead", protocol.RoleCoordinator, 2.0},
		{"digger", protocol.RoleResearcher, 1.5},
		{"dev", protocol.RoleCoder, 1.0},
		{"anon", "", 1.0},
	}
	for _, tt := range tests {
		m, err := e.Join(ctx, tt.client, JoinParams{RoomID: "weights", Role: tt.role})
		if err != nil {
			t.Fatalf("join %s: %v", tt.client, err)
		}
		if m.VoteWeight != tt.want {
			t.Errorf("%s weight = %v, want %v", tt.client, m.VoteWeight, tt.want)
		}
	}

	// Explicit weight overrides the role default.
	w := 3.5
	m, err := e.Join(ctx, "heavy", JoinParams{RoomID: "weights", VoteWeight: &w})
	if err != nil {
		t.Fatal(err)
	}
	if m.VoteWeight != 3.5 {
		t.Errorf("explicit weight = %v", m.VoteWeight)
	}

	bad := -1.0
	_, err = e.Join(ctx, "neg", JoinParams{RoomID: "weights", VoteWeight: &bad})
	wantCode(t, err, protocol.ErrValidationFailed)

	_, err = e.Join(ctx, "x", JoinParams{RoomID: "weights", Role: "overlord"})
	wantCode(t, err, protocol.ErrValidationFailed)

	_, err = e.Join(ctx, "x", JoinParams{RoomID: "nowhere"})
	wantCode(t, err, protocol.ErrNotFound)
}

func TestJoinProtectedRoom(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	ctx := context.Background()
	if _, err := e.CreateRoom(ctx, "alice", CreateRoomParams{RoomID: "vault", Password: "hunter2"}); err != nil {
		t.Fatal(err)
	}

	_, err := e.Join(ctx, "bob", JoinParams{RoomID: "vault", Password: "wrong"})
	wantCode(t, err, protocol.ErrForbidden)

	if _, err := e.Join(ctx, "bob", JoinParams{RoomID: "vault", Password: "hunter2"}); err != nil {
		t.Fatalf("join with correct password: %v", err)
	}
}

func TestCloseRoomRejectsWrites(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	ctx := context.Background()
	setupRoom(t, e, "done", map[string]string{"alice": ""})

	// Only an active member may close.
	_, err := e.CloseRoom(ctx, "stranger", "done")
	wantCode(t, err, protocol.ErrForbidden)

	v, err := e.CloseRoom(ctx, "alice", "done")
	if err != nil {
		t.Fatal(err)
	}
	if v.State != "closed" {
		t.Errorf("state = %s", v.State)
	}

	// Closing again is idempotent, even for a non-member.
	if _, err := e.CloseRoom(ctx, "stranger", "done"); err != nil {
		t.Errorf("second close: %v", err)
	}

	_, err = e.PostMessage(ctx, "alice", PostMessageParams{RoomID: "done", ChannelID: "main", Text: "hi"})
	wantCode(t, err, protocol.ErrConflict)
	_, err = e.Join(ctx, "bob", JoinParams{RoomID: "done"})
	wantCode(t, err, protocol.ErrConflict)

	// Reads stay valid.
	if _, err := e.Summary(ctx, "done"); err != nil {
		t.Errorf("summary of closed room: %v", err)
	}
}

func TestLeavePreservesHistory(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	ctx := context.Background()
	setupRoom(t, e, "hall", map[string]string{"alice": "", "bob": ""})

	if _, err := e.PostMessage(ctx, "alice", PostMessageParams{RoomID: "hall", ChannelID: "main", Text: "before"}); err != nil {
		t.Fatal(err)
	}
	if err := e.Leave(ctx, "alice", "hall"); err != nil {
		t.Fatal(err)
	}

	_, err := e.PostMessage(ctx, "alice", PostMessageParams{RoomID: "hall", ChannelID: "main", Text: "after"})
	wantCode(t, err, protocol.ErrForbidden)

	err = e.Leave(ctx, "alice", "hall")
	wantCode(t, err, protocol.ErrNotFound)

	s, err := e.Summary(ctx, "hall")
	if err != nil {
		t.Fatal(err)
	}
	if s.MessageCount != 1 {
		t.Errorf("message count = %d, want 1", s.MessageCount)
	}
	var found bool
	for _, m := range s.Members {
		if m.ClientID == "alice" {
			found = true
			if m.Active {
				t.Error("alice still active after leave")
			}
		}
	}
	if !found {
		t.Error("alice dropped from membership after leave")
	}

	// Rejoining reactivates.
	m, err := e.Join(ctx, "alice", JoinParams{RoomID: "hall"})
	if err != nil {
		t.Fatal(err)
	}
	if !m.Active {
		t.Error("rejoin did not reactivate")
	}
}

func TestCreateChannel(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	ctx := context.Background()
	setupRoom(t, e, "org", map[string]string{"alice": ""})

	c, err := e.CreateChannel(ctx, "alice", CreateChannelParams{RoomID: "org", Name: "backend", Topic: "api work"})
	if err != nil {
		t.Fatal(err)
	}
	if c.ChannelID != "backend" {
		t.Errorf("channel_id = %s", c.ChannelID)
	}

	_, err = e.CreateChannel(ctx, "alice", CreateChannelParams{RoomID: "org", Name: "backend"})
	wantCode(t, err, protocol.ErrConflict)

	// The implicit main channel counts as taken.
	_, err = e.CreateChannel(ctx, "alice", CreateChannelParams{RoomID: "org", Name: "main"})
	wantCode(t, err, protocol.ErrConflict)

	_, err = e.CreateChannel(ctx, "stranger", CreateChannelParams{RoomID: "org", Name: "ops"})
	wantCode(t, err, protocol.ErrForbidden)

	_, err = e.CreateChannel(ctx, "alice", CreateChannelParams{RoomID: "org", Name: "no spaces"})
	wantCode(t, err, protocol.ErrValidationFailed)
}

func TestPostMessageAndReply(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	ctx := context.Background()
	setupRoom(t, e, "chat", map[string]string{"alice": "", "bob": ""})

	m, err := e.PostMessage(ctx, "alice", PostMessageParams{RoomID: "chat", ChannelID: "main", Text: "proposal draft"})
	if err != nil {
		t.Fatal(err)
	}
	if m.Kind != protocol.RoomMsgMessage || m.From != "alice" {
		t.Errorf("message = %+v", m)
	}

	reply, err := e.PostMessage(ctx, "bob", PostMessageParams{RoomID: "chat", ChannelID: "main", Text: "looks good", ReplyTo: m.ID})
	if err != nil {
		t.Fatal(err)
	}
	if reply.ReplyTo != m.ID {
		t.Errorf("reply_to = %s", reply.ReplyTo)
	}

	_, err = e.PostMessage(ctx, "bob", PostMessageParams{RoomID: "chat", ChannelID: "main", Text: "x", ReplyTo: "ghost"})
	wantCode(t, err, protocol.ErrNotFound)

	_, err = e.PostMessage(ctx, "bob", PostMessageParams{RoomID: "chat", ChannelID: "void", Text: "x"})
	wantCode(t, err, protocol.ErrNotFound)

	_, err = e.PostMessage(ctx, "bob", PostMessageParams{RoomID: "chat", ChannelID: "main", Text: ""})
	wantCode(t, err, protocol.ErrValidationFailed)
}

func TestCritique(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	ctx := context.Background()
	setupRoom(t, e, "review", map[string]string{"alice": "", "rex": protocol.RoleReviewer})

	m, err := e.PostMessage(ctx, "alice", PostMessageParams{RoomID: "review", ChannelID: "main", Text: "use plain polling"})
	if err != nil {
		t.Fatal(err)
	}

	c, err := e.Critique(ctx, "rex", CritiqueParams{
		RoomID:          "review",
		TargetMessageID: m.ID,
		Text:            "misses the latency requirement",
		Severity:        protocol.SeverityBlocking,
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.TargetMessageID != m.ID || c.Severity != protocol.SeverityBlocking {
		t.Errorf("critique = %+v", c)
	}

	_, err = e.Critique(ctx, "rex", CritiqueParams{RoomID: "review", TargetMessageID: m.ID, Text: "x", Severity: "fatal"})
	wantCode(t, err, protocol.ErrValidationFailed)

	_, err = e.Critique(ctx, "rex", CritiqueParams{RoomID: "review", TargetMessageID: "ghost", Text: "x", Severity: protocol.SeverityMinor})
	wantCode(t, err, protocol.ErrNotFound)

	// The critique also lands in channel history.
	s, err := e.Summary(ctx, "review")
	if err != nil {
		t.Fatal(err)
	}
	if s.MessageCount != 2 {
		t.Errorf("message count = %d, want 2", s.MessageCount)
	}
}

func TestFanoutReachesActiveMembers(t *testing.T) {
	e, n := newTestEngine(t, Config{})
	ctx := context.Background()
	setupRoom(t, e, "fan", map[string]string{"alice": "", "bob": ""})

	if _, err := e.PostMessage(ctx, "alice", PostMessageParams{RoomID: "fan", ChannelID: "main", Text: "hello"}); err != nil {
		t.Fatal(err)
	}

	for _, client := range []string{"alice", "bob"} {
		waitFor(t, func() bool {
			for _, ev := range n.eventsFor(client) {
				if ev == protocol.EventRoomMessage {
					return true
				}
			}
			return false
		}, "room_message event for "+client)
	}
}

func TestEngineRecoversPersistedRooms(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	stores, db, err := sqlite.NewStores(dir)
	if err != nil {
		t.Fatal(err)
	}
	e := New(Config{}, stores, newFakeNotifier(), metrics.New())
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	setupRoom(t, e, "durable", map[string]string{"alice": protocol.RoleCoordinator})
	if _, err := e.PostMessage(ctx, "alice", PostMessageParams{RoomID: "durable", ChannelID: "main", Text: "survives restart"}); err != nil {
		t.Fatal(err)
	}
	e.Stop()
	db.Close()

	stores2, db2, err := sqlite.NewStores(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	e2 := New(Config{}, stores2, newFakeNotifier(), metrics.New())
	if err := e2.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer e2.Stop()

	s, err := e2.Summary(ctx, "durable")
	if err != nil {
		t.Fatal(err)
	}
	if s.MessageCount != 1 {
		t.Errorf("recovered message count = %d, want 1", s.MessageCount)
	}
	if len(s.Members) != 1 || s.Members[0].Role != protocol.RoleCoordinator {
		t.Errorf("recovered members = %+v", s.Members)
	}

	if _, err := e2.Join(ctx, "bob", JoinParams{RoomID: "durable"}); err != nil {
		t.Fatal(err)
	}
}
