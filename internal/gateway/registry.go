package gateway

import (
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/nextlevelbuilder/agentbus/internal/bus"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// Registration failures surfaced to the transport.
var (
	ErrTooManyConnections       = errors.New("gateway: connection cap reached")
	ErrTooManyClientConnections = errors.New("gateway: per-client connection cap reached")
)

const registryShards = 16

// Registry maps client_id → live connections, sharded by client_id. It
// enforces the global and per-client caps and serves session enumeration for
// the message core and the room fan-out.
type Registry struct {
	maxTotal     int
	maxPerClient int

	total  atomic.Int64
	shards [registryShards]registryShard
}

type registryShard struct {
	mu      sync.RWMutex
	clients map[string]map[string]*Client // client_id → connection_id → client
}

// NewRegistry creates a registry with the given caps.
func NewRegistry(maxTotal, maxPerClient int) *Registry {
	r := &Registry{maxTotal: maxTotal, maxPerClient: maxPerClient}
	for i := range r.shards {
		r.shards[i].clients = make(map[string]map[string]*Client)
	}
	return r
}

func (r *Registry) shard(clientID string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(clientID))
	return &r.shards[h.Sum32()%registryShards]
}

// Register adds a connection, enforcing both caps.
func (r *Registry) Register(c *Client) error {
	if r.total.Add(1) > int64(r.maxTotal) {
		r.total.Add(-1)
		return ErrTooManyConnections
	}
	s := r.shard(c.clientID)
	s.mu.Lock()
	conns := s.clients[c.clientID]
	if len(conns) >= r.maxPerClient {
		s.mu.Unlock()
		r.total.Add(-1)
		return ErrTooManyClientConnections
	}
	if conns == nil {
		conns = make(map[string]*Client)
		s.clients[c.clientID] = conns
	}
	conns[c.connID] = c
	s.mu.Unlock()
	return nil
}

// Deregister removes a connection, matched by connection_id so a reconnect
// racing an old connection's cleanup never discards the new session.
func (r *Registry) Deregister(clientID, connID string) {
	s := r.shard(clientID)
	s.mu.Lock()
	conns := s.clients[clientID]
	if _, ok := conns[connID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(s.clients, clientID)
	}
	s.mu.Unlock()
	r.total.Add(-1)
}

// Count returns the number of live connections.
func (r *Registry) Count() int { return int(r.total.Load()) }

// SessionsFor enumerates the live sessions of one client.
func (r *Registry) SessionsFor(clientID string) []bus.Session {
	s := r.shard(clientID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := s.clients[clientID]
	out := make([]bus.Session, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// AllSessionsExcept enumerates every live session not belonging to clientID.
func (r *Registry) AllSessionsExcept(clientID string) []bus.Session {
	var out []bus.Session
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for id, conns := range s.clients {
			if id == clientID {
				continue
			}
			for _, c := range conns {
				out = append(out, c)
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// NotifyRoomEvent pushes a room event frame to every session of a client.
// Implements the room engine's Notifier.
func (r *Registry) NotifyRoomEvent(clientID string, f *protocol.RoomEventFrame) {
	s := r.shard(clientID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients[clientID] {
		c.Send(f)
	}
}

// Broadcast pushes a frame to every live session.
func (r *Registry) Broadcast(frame any) {
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, conns := range s.clients {
			for _, c := range conns {
				c.Send(frame)
			}
		}
		s.mu.RUnlock()
	}
}
