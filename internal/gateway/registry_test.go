package gateway

import (
	"fmt"
	"testing"

	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

func testClient(clientID, connID string) *Client {
	return &Client{
		clientID: clientID,
		connID:   connID,
		out:      newOutQueue(8),
		done:     make(chan struct{}),
	}
}

func TestRegistryGlobalCap(t *testing.T) {
	r := NewRegistry(2, 10)

	if err := r.Register(testClient("a", "c1")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(testClient("b", "c2")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(testClient("c", "c3")); err != ErrTooManyConnections {
		t.Fatalf("err = %v, want ErrTooManyConnections", err)
	}
	if r.Count() != 2 {
		t.Errorf("count = %d after rejected register", r.Count())
	}

	// Deregistering frees the slot.
	r.Deregister("a", "c1")
	if err := r.Register(testClient("c", "c3")); err != nil {
		t.Errorf("register after deregister: %v", err)
	}
}

func TestRegistryPerClientCap(t *testing.T) {
	r := NewRegistry(100, 2)

	if err := r.Register(testClient("agent", "c1")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(testClient("agent", "c2")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(testClient("agent", "c3")); err != ErrTooManyClientConnections {
		t.Fatalf("err = %v, want ErrTooManyClientConnections", err)
	}
	// Other clients are unaffected.
	if err := r.Register(testClient("other", "c4")); err != nil {
		t.Errorf("other client rejected: %v", err)
	}
}

func TestRegistryDeregisterMatchesConnection(t *testing.T) {
	r := NewRegistry(10, 10)
	old := testClient("agent", "old")
	if err := r.Register(old); err != nil {
		t.Fatal(err)
	}
	fresh := testClient("agent", "fresh")
	if err := r.Register(fresh); err != nil {
		t.Fatal(err)
	}

	// A stale cleanup for a connection already replaced must not touch the
	// new session.
	r.Deregister("agent", "old")
	r.Deregister("agent", "old")
	if got := len(r.SessionsFor("agent")); got != 1 {
		t.Fatalf("sessions = %d, want 1", got)
	}
	if r.SessionsFor("agent")[0].ConnectionID() != "fresh" {
		t.Error("stale deregister removed the fresh connection")
	}
	if r.Count() != 1 {
		t.Errorf("count = %d, want 1", r.Count())
	}
}

func TestRegistryEnumeration(t *testing.T) {
	r := NewRegistry(100, 10)
	for i := range 3 {
		id := fmt.Sprintf("agent-%d", i)
		if err := r.Register(testClient(id, "conn-"+id)); err != nil {
			t.Fatal(err)
		}
	}

	if got := len(r.SessionsFor("agent-1")); got != 1 {
		t.Errorf("SessionsFor = %d sessions", got)
	}
	if got := len(r.SessionsFor("nobody")); got != 0 {
		t.Errorf("SessionsFor unknown client = %d sessions", got)
	}

	others := r.AllSessionsExcept("agent-1")
	if len(others) != 2 {
		t.Fatalf("AllSessionsExcept = %d sessions, want 2", len(others))
	}
	for _, s := range others {
		if s.ClientID() == "agent-1" {
			t.Error("excluded client enumerated")
		}
	}
}

func TestRegistryNotifyRoomEvent(t *testing.T) {
	r := NewRegistry(100, 10)
	c1 := testClient("agent", "c1")
	c2 := testClient("agent", "c2")
	other := testClient("other", "c3")
	for _, c := range []*Client{c1, c2, other} {
		if err := r.Register(c); err != nil {
			t.Fatal(err)
		}
	}

	r.NotifyRoomEvent("agent", protocol.NewRoomEvent(protocol.EventRoomMessage, "war-room", 1, nil))

	for _, c := range []*Client{c1, c2} {
		if _, ok := c.out.pop(); !ok {
			t.Errorf("session %s got no event", c.connID)
		}
	}
	if _, ok := other.out.pop(); ok {
		t.Error("event leaked to another client")
	}
}
