package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/agentbus/internal/bus"
	"github.com/nextlevelbuilder/agentbus/internal/config"
	"github.com/nextlevelbuilder/agentbus/internal/metrics"
	"github.com/nextlevelbuilder/agentbus/internal/room"
	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// Server is the broker's connection front door: it upgrades WebSocket
// sessions, dispatches frames into the message core and the room engine, and
// hosts the HTTP surface (polling, health, admin, metrics).
type Server struct {
	cfg      *config.Config
	bus      *bus.Bus
	engine   *room.Engine
	messages store.MessageStore
	metrics  *metrics.Metrics

	auth     *Authenticator
	limiter  *RateLimiter
	registry *Registry
	router   *ActionRouter
	tracer   trace.Tracer

	upgrader   websocket.Upgrader
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer wires the gateway. The registry is built by the caller because
// the message core needs it for routing before the gateway exists.
func NewServer(cfg *config.Config, b *bus.Bus, engine *room.Engine, messages store.MessageStore, tokens store.TokenStore, m *metrics.Metrics, registry *Registry) *Server {
	s := &Server{
		cfg:      cfg,
		bus:      b,
		engine:   engine,
		messages: messages,
		metrics:  m,
		auth:     NewAuthenticator(cfg.AuthEnabled, tokens),
		limiter:  NewRateLimiter(cfg.RateLimitPerMinute),
		registry: registry,
		router:   NewActionRouter(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Registry exposes the session registry for bus routing and room fan-out.
func (s *Server) Registry() *Registry { return s.registry }

// Router returns the action router for registering room method handlers.
func (s *Server) Router() *ActionRouter { return s.router }

// RateLimiter exposes the limiter so the HTTP polling surface shares it.
func (s *Server) RateLimiter() *RateLimiter { return s.limiter }

// Auth exposes the authenticator for the HTTP polling surface.
func (s *Server) Auth() *Authenticator { return s.auth }

// SetTracer enables per-frame dispatch spans.
func (s *Server) SetTracer(t trace.Tracer) { s.tracer = t }

// checkOrigin validates the WebSocket Origin header against the allow list.
// Empty Origin (non-browser clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range s.cfg.CORSAllowedOrigins {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux. Callers may mount additional
// handlers (the polling API) before Start.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", s.metrics.Handler())
	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then shuts the listener down.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddr, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway starting", "addr", addr, "auth", s.cfg.AuthEnabled)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout())
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleWebSocket upgrades the connection and runs the session until it dies.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	client := NewClient(conn, s)
	client.Run(r.Context())
}

// BroadcastShutdown notifies every live session that the broker is going
// down, then gives the write pumps a moment to flush.
func (s *Server) BroadcastShutdown() {
	s.registry.Broadcast(protocol.NewRoomEvent(protocol.EventServerShutdown, "", 0, map[string]string{
		"reason": "shutting down",
	}))
	time.Sleep(100 * time.Millisecond)
}

// StartTestServer listens on a random loopback port and returns the address
// plus a start function. Integration tests use it.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	mux := s.BuildMux()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}
	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}
	return addr, start
}
