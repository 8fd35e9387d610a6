package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/agentbus/internal/gateway"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

const (
	defaultFetchLimit = 100
	maxFetchLimit     = 500
)

// handleSend is the polling equivalent of the send frame. Same validation,
// same error taxonomy; the message enters the same queue.
func (a *API) handleSend(w http.ResponseWriter, r *http.Request, clientID string) {
	var frame protocol.SendFrame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		writeError(w, r, protocol.ErrValidationFailed, "malformed send body", 0)
		return
	}

	m, err := gateway.BuildMessage(clientID, requestIDFrom(r.Context()), &frame)
	if err != nil {
		writeError(w, r, protocol.ErrValidationFailed, err.Error(), 0)
		return
	}

	published, err := a.bus.Publish(r.Context(), m)
	if err != nil {
		writeError(w, r, gateway.PublishErrorCode(err), err.Error(), 0)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message_id": published.ID,
		"seq":        published.Seq,
		"request_id": requestIDFrom(r.Context()),
	})
}

// handleFetch returns persisted messages addressed to the caller with
// seq > since_seq, oldest first. next_seq is the cursor for the next poll.
func (a *API) handleFetch(w http.ResponseWriter, r *http.Request, clientID string) {
	sinceSeq := int64(0)
	if raw := r.URL.Query().Get("since_seq"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, r, protocol.ErrValidationFailed, "since_seq must be a non-negative integer", 0)
			return
		}
		sinceSeq = n
	}
	limit := defaultFetchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, protocol.ErrValidationFailed, "limit must be a positive integer", 0)
			return
		}
		limit = min(n, maxFetchLimit)
	}

	records, err := a.messages.FetchSince(r.Context(), clientID, sinceSeq, limit)
	if err != nil {
		writeError(w, r, protocol.ErrInternal, "fetch failed", 0)
		return
	}

	msgs := make([]protocol.Message, 0, len(records))
	nextSeq := sinceSeq
	for _, rec := range records {
		msgs = append(msgs, rec.Message)
		if rec.Seq > nextSeq {
			nextSeq = rec.Seq
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
		"next_seq": nextSeq,
	})
}

// handleAck acknowledges a delivered message over the polling transport.
func (a *API) handleAck(w http.ResponseWriter, r *http.Request, clientID string) {
	var body struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.MessageID == "" {
		writeError(w, r, protocol.ErrValidationFailed, "ack requires message_id", 0)
		return
	}
	a.bus.Ack(r.Context(), clientID, body.MessageID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "acked"})
}
