// Package httpapi is the broker's HTTP surface: the polling transport
// (send/fetch/ack for clients that cannot hold a WebSocket), the read-only
// admin endpoints, and the sandbox completion callback. It shares the
// authenticator and rate limiter with the WebSocket gateway so both
// transports enforce identical policy.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/agentbus/internal/bus"
	"github.com/nextlevelbuilder/agentbus/internal/config"
	"github.com/nextlevelbuilder/agentbus/internal/gateway"
	"github.com/nextlevelbuilder/agentbus/internal/room"
	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// API serves the versioned HTTP endpoints.
type API struct {
	cfg      *config.Config
	bus      *bus.Bus
	engine   *room.Engine
	messages store.MessageStore

	auth     *gateway.Authenticator
	limiter  *gateway.RateLimiter
	registry *gateway.Registry

	started time.Time
	ready   atomic.Bool
}

// New wires the HTTP API against the running broker components.
func New(cfg *config.Config, b *bus.Bus, engine *room.Engine, messages store.MessageStore, gw *gateway.Server) *API {
	return &API{
		cfg:      cfg,
		bus:      b,
		engine:   engine,
		messages: messages,
		auth:     gw.Auth(),
		limiter:  gw.RateLimiter(),
		registry: gw.Registry(),
		started:  time.Now().UTC(),
	}
}

// SetReady flips the readiness probe. Call after migrations and recovery.
func (a *API) SetReady(ready bool) { a.ready.Store(ready) }

// RegisterRoutes mounts every endpoint on the gateway mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", a.handleLiveness)
	mux.HandleFunc("GET /readyz", a.handleReadiness)
	mux.HandleFunc("GET /startupz", a.handleReadiness)

	mux.HandleFunc("POST /api/v1/send", a.wrap(a.requireClient(a.handleSend)))
	mux.HandleFunc("GET /api/v1/fetch", a.wrap(a.requireClient(a.handleFetch)))
	mux.HandleFunc("POST /api/v1/ack", a.wrap(a.requireClient(a.handleAck)))

	mux.HandleFunc("GET /api/v1/status", a.wrap(a.handleStatus))
	mux.HandleFunc("GET /api/v1/rooms", a.wrap(a.handleRooms))
	mux.HandleFunc("GET /api/v1/rooms/{id}/summary", a.wrap(a.handleRoomSummary))

	mux.HandleFunc("POST /api/v1/sandbox/completions", a.wrap(a.handleSandboxCompletion))
}

// wrap applies the request-id and CORS middleware shared by every endpoint.
func (a *API) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = store.NewID()
		}
		w.Header().Set("X-Request-Id", requestID)
		a.setCORS(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r.WithContext(withRequestID(r.Context(), requestID)))
	}
}

func (a *API) setCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	for _, allowed := range a.cfg.CORSAllowedOrigins {
		if origin == allowed || allowed == "*" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")
			return
		}
	}
}

// requireClient authenticates the caller and enforces the shared rate limit.
// With auth disabled the client identity comes from the client_id parameter.
func (a *API) requireClient(next func(w http.ResponseWriter, r *http.Request, clientID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claimed := r.URL.Query().Get("client_id")
		clientID, err := a.auth.Authenticate(r.Context(), claimed, bearerToken(r))
		if err != nil {
			code, msg := protocol.ErrAuthInvalid, "authentication failed"
			if authErr, ok := err.(*gateway.AuthError); ok {
				code, msg = authErr.Code, authErr.Message
			}
			writeError(w, r, code, msg, 0)
			return
		}
		if err := protocol.ValidateIdent("client_id", clientID); err != nil {
			writeError(w, r, protocol.ErrValidationFailed, err.Error(), 0)
			return
		}
		if ok, retryAfter := a.limiter.Allow(clientID); !ok {
			writeError(w, r, protocol.ErrRateLimited, "rate limit exceeded", retryAfter.Milliseconds())
			return
		}
		next(w, r, clientID)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return ""
}

// errorBody is the HTTP rendering of the wire error envelope.
type errorBody struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RequestID    string `json:"request_id,omitempty"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, code, message string, retryAfterMS int64) {
	writeJSON(w, protocol.HTTPStatus(code), errorBody{
		Code:         code,
		Message:      message,
		RequestID:    requestIDFrom(r.Context()),
		RetryAfterMS: retryAfterMS,
	})
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}
