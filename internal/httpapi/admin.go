package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/agentbus/internal/room"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// handleLiveness answers as long as the process serves requests.
func (a *API) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness answers 200 only after migrations and recovery finished.
func (a *API) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !a.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleStatus reports aggregate broker state. Detailed counters live on
// /metrics; this is the at-a-glance view.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"protocol":           protocol.ProtocolVersion,
		"uptime_seconds":     int64(time.Since(a.started) / time.Second),
		"connections_active": a.registry.Count(),
		"queue_depth":        a.bus.QueueDepth(),
		"pending_deliveries": a.bus.PendingCount(),
		"current_seq":        a.bus.CurrentSeq(),
		"rooms":              len(a.engine.Rooms()),
		"auth_enabled":       a.cfg.AuthEnabled,
		"code_exec_enabled":  a.cfg.CodeExecEnabled,
	})
}

// handleRooms lists every room the engine knows about.
func (a *API) handleRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rooms": a.engine.Rooms()})
}

// handleRoomSummary returns the per-room inspection view.
func (a *API) handleRoomSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.engine.Summary(r.Context(), r.PathValue("id"))
	if err != nil {
		e := room.AsError(err)
		writeError(w, r, e.Code, e.Message, 0)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleSandboxCompletion receives the sandbox's terminal report for a code
// execution. The endpoint is unauthenticated; deployments are expected to
// keep the sandbox on a trusted network segment.
func (a *API) handleSandboxCompletion(w http.ResponseWriter, r *http.Request) {
	var c room.SandboxCompletion
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil || c.ExecID == "" {
		writeError(w, r, protocol.ErrValidationFailed, "completion requires exec_id", 0)
		return
	}
	if err := a.engine.CompleteExec(r.Context(), c); err != nil {
		e := room.AsError(err)
		writeError(w, r, e.Code, e.Message, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
