package room

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// ExecuteCodeParams are the arguments of the execute_code action.
type ExecuteCodeParams struct {
	RoomID    string `json:"room_id"`
	ChannelID string `json:"channel_id"`
	Language  string `json:"language"`
	Code      string `json:"code"`
}

// ExecView is the wire shape of a code execution.
type ExecView struct {
	ID          string     `json:"id"`
	RoomID      string     `json:"room_id"`
	ChannelID   string     `json:"channel_id"`
	RequestedBy string     `json:"requested_by"`
	Language    string     `json:"language"`
	Status      string     `json:"status"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Stdout      string     `json:"stdout,omitempty"`
	Stderr      string     `json:"stderr,omitempty"`
	ElapsedMS   int64      `json:"elapsed_ms,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func execView(x *store.CodeExecData) ExecView {
	return ExecView{
		ID:          x.ID,
		RoomID:      x.RoomID,
		ChannelID:   x.ChannelID,
		RequestedBy: x.RequestedBy,
		Language:    x.Language,
		Status:      x.Status,
		ExitCode:    x.ExitCode,
		Stdout:      x.Stdout,
		Stderr:      x.Stderr,
		ElapsedMS:   x.ElapsedMS,
		CreatedAt:   x.CreatedAt,
		StartedAt:   x.StartedAt,
		FinishedAt:  x.FinishedAt,
	}
}

// ExecuteCode hands a code snippet to the external sandbox. The broker never
// runs code itself: when execution is disabled the record terminates in
// refused, otherwise it is queued and the sandbox drives it to a terminal
// status via the completion callback.
func (e *Engine) ExecuteCode(ctx context.Context, from string, p ExecuteCodeParams) (*ExecView, error) {
	if !protocol.ValidLanguage(p.Language) {
		return nil, invalid("unknown language %q", p.Language)
	}
	if p.Code == "" {
		return nil, invalid("code must not be empty")
	}
	r, rerr := e.room(p.RoomID)
	if rerr != nil {
		return nil, rerr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data.State == store.RoomClosed {
		return nil, conflict("room %q is closed", p.RoomID)
	}
	if m, ok := r.members[from]; !ok || !m.Active {
		return nil, forbidden("client %q is not an active member of room %q", from, p.RoomID)
	}
	if _, ok := r.channels[p.ChannelID]; !ok {
		return nil, notFound("channel %q does not exist in room %q", p.ChannelID, p.RoomID)
	}

	now := time.Now().UTC()
	x := &store.CodeExecData{
		ID:          store.NewID(),
		RoomID:      p.RoomID,
		ChannelID:   p.ChannelID,
		RequestedBy: from,
		Language:    p.Language,
		Code:        p.Code,
		CreatedAt:   now,
	}

	enabled := e.cfg.CodeExecEnabled && r.data.Config.CodeExecEnabled && e.sandbox != nil
	if !enabled {
		x.Status = protocol.ExecRefused
		finished := now
		x.FinishedAt = &finished
		if err := e.stores.Rooms.SaveCodeExec(ctx, x); err != nil {
			return nil, internal(err)
		}
		v := execView(x)
		return &v, nil
	}

	x.Status = protocol.ExecQueued
	if err := e.stores.Rooms.SaveCodeExec(ctx, x); err != nil {
		return nil, internal(err)
	}

	timeout := time.Duration(r.data.Config.CodeExecTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r.emit(protocol.EventCodeExecRequested, map[string]any{
		"exec_id":         x.ID,
		"language":        x.Language,
		"timeout_seconds": int(timeout / time.Second),
	})

	go e.runSandbox(x.ID, x.Language, x.Code, timeout)

	v := execView(x)
	return &v, nil
}

// runSandbox marks the execution running, hands it to the sandbox, and arms
// the timeout timer. Runs outside the room lock.
func (e *Engine) runSandbox(execID, language, code string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	now := time.Now().UTC()
	if err := e.markRunning(ctx, execID, now); err != nil {
		slog.Warn("mark exec running", "exec_id", execID, "error", err)
	}

	e.timersMu.Lock()
	e.timers[execID] = time.AfterFunc(timeout, func() {
		e.finishExec(context.Background(), SandboxCompletion{
			ExecID: execID,
			Status: protocol.ExecTimedOut,
			Stderr: fmt.Sprintf("sandbox did not report within %s", timeout),
		})
	})
	e.timersMu.Unlock()

	err := e.sandbox.submit(ctx, sandboxRequest{
		ExecID:         execID,
		Language:       language,
		Code:           code,
		TimeoutSeconds: int(timeout / time.Second),
	})
	if err != nil {
		slog.Warn("sandbox unreachable", "exec_id", execID, "error", err)
		e.finishExec(context.Background(), SandboxCompletion{
			ExecID: execID,
			Status: protocol.ExecFailed,
			Stderr: fmt.Sprintf("sandbox unreachable: %v", err),
		})
	}
}

func (e *Engine) markRunning(ctx context.Context, execID string, at time.Time) error {
	x, err := e.stores.Rooms.GetCodeExec(ctx, execID)
	if err != nil {
		return err
	}
	if x.Status != protocol.ExecQueued {
		return nil
	}
	x.Status = protocol.ExecRunning
	x.StartedAt = &at
	return e.stores.Rooms.UpdateCodeExec(ctx, x)
}

// SandboxCompletion is the sandbox's terminal report for one execution.
type SandboxCompletion struct {
	ExecID    string `json:"exec_id"`
	Status    string `json:"status"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Stdout    string `json:"stdout,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms,omitempty"`
}

// CompleteExec applies a sandbox completion report. The first terminal
// transition wins; late reports (after a timeout fired) are dropped.
func (e *Engine) CompleteExec(ctx context.Context, c SandboxCompletion) error {
	if !protocol.ExecTerminal(c.Status) {
		return invalid("status %q is not terminal", c.Status)
	}
	return e.finishExec(ctx, c)
}

func (e *Engine) finishExec(ctx context.Context, c SandboxCompletion) error {
	x, err := e.stores.Rooms.GetCodeExec(ctx, c.ExecID)
	if err == store.ErrNotFound {
		return notFound("execution %q does not exist", c.ExecID)
	}
	if err != nil {
		return internal(err)
	}

	r, rerr := e.room(x.RoomID)
	if rerr != nil {
		return rerr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if protocol.ExecTerminal(x.Status) {
		return nil
	}

	e.timersMu.Lock()
	if t, ok := e.timers[c.ExecID]; ok {
		t.Stop()
		delete(e.timers, c.ExecID)
	}
	e.timersMu.Unlock()

	now := time.Now().UTC()
	x.Status = c.Status
	x.ExitCode = c.ExitCode
	x.Stdout = c.Stdout
	x.Stderr = c.Stderr
	x.ElapsedMS = c.ElapsedMS
	x.FinishedAt = &now
	if err := e.stores.Rooms.UpdateCodeExec(ctx, x); err != nil {
		return internal(err)
	}

	text := fmt.Sprintf("execution %s: %s", x.ID, x.Status)
	if x.Stdout != "" {
		text += "\n" + x.Stdout
	}
	if x.Stderr != "" {
		text += "\n" + x.Stderr
	}
	if err := protocol.ValidateText(text); err != nil {
		// Sandbox output can exceed the message cap; truncate rather than
		// lose the terminal record.
		runes := []rune(text)
		text = string(runes[:protocol.MaxTextChars])
	}
	meta := metaJSON(map[string]string{"exec_id": x.ID, "status": x.Status})
	if _, perr := r.post(ctx, e, x.RequestedBy, x.ChannelID, protocol.RoomMsgCodeResult, text, "", meta, ""); perr != nil {
		slog.Warn("post code result", "exec_id", x.ID, "error", perr)
	}
	r.emit(protocol.EventCodeExecCompleted, execView(x))
	slog.Info("code execution finished", "exec_id", x.ID, "status", x.Status, "elapsed_ms", x.ElapsedMS)
	return nil
}
