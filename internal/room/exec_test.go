package room

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentbus/internal/metrics"
	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/internal/store/sqlite"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

func TestExecuteCodeRefusedWhenDisabled(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	ctx := context.Background()
	setupRoom(t, e, "lab", map[string]string{"alice": ""})

	v, err := e.ExecuteCode(ctx, "alice", ExecuteCodeParams{
		RoomID: "lab", ChannelID: "main", Language: "python", Code: "print(1)",
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != protocol.ExecRefused {
		t.Errorf("status = %s, want refused", v.Status)
	}
	if v.FinishedAt == nil {
		t.Error("refused execution has no finished_at")
	}

	// The refusal is a durable terminal record.
	x, err := e.stores.Rooms.GetCodeExec(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !protocol.ExecTerminal(x.Status) {
		t.Errorf("stored status = %s", x.Status)
	}
}

func TestExecuteCodeValidation(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	ctx := context.Background()
	setupRoom(t, e, "lab", map[string]string{"alice": ""})

	_, err := e.ExecuteCode(ctx, "alice", ExecuteCodeParams{RoomID: "lab", ChannelID: "main", Language: "cobol", Code: "x"})
	wantCode(t, err, protocol.ErrValidationFailed)

	_, err = e.ExecuteCode(ctx, "alice", ExecuteCodeParams{RoomID: "lab", ChannelID: "main", Language: "python", Code: ""})
	wantCode(t, err, protocol.ErrValidationFailed)

	_, err = e.ExecuteCode(ctx, "stranger", ExecuteCodeParams{RoomID: "lab", ChannelID: "main", Language: "python", Code: "x"})
	wantCode(t, err, protocol.ErrForbidden)

	_, err = e.ExecuteCode(ctx, "alice", ExecuteCodeParams{RoomID: "lab", ChannelID: "void", Language: "bash", Code: "true"})
	wantCode(t, err, protocol.ErrNotFound)
}

// seedQueuedExec persists a queued execution the way ExecuteCode would, so the
// completion path can be driven without a live sandbox.
func seedQueuedExec(t *testing.T, e *Engine, roomID string) *store.CodeExecData {
	t.Helper()
	x := &store.CodeExecData{
		ID:          store.NewID(),
		RoomID:      roomID,
		ChannelID:   "main",
		RequestedBy: "alice",
		Language:    "python",
		Code:        "print(1)",
		Status:      protocol.ExecQueued,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.stores.Rooms.SaveCodeExec(context.Background(), x); err != nil {
		t.Fatal(err)
	}
	return x
}

func TestCompleteExecFirstTerminalWins(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	ctx := context.Background()
	setupRoom(t, e, "lab", map[string]string{"alice": ""})
	x := seedQueuedExec(t, e, "lab")

	exit := 0
	if err := e.CompleteExec(ctx, SandboxCompletion{
		ExecID: x.ID, Status: protocol.ExecSucceeded, ExitCode: &exit,
		Stdout: "1\n", ElapsedMS: 42,
	}); err != nil {
		t.Fatal(err)
	}

	got, err := e.stores.Rooms.GetCodeExec(ctx, x.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != protocol.ExecSucceeded || got.Stdout != "1\n" || got.FinishedAt == nil {
		t.Errorf("record = %+v", got)
	}

	// A late report after the first terminal transition is dropped.
	if err := e.CompleteExec(ctx, SandboxCompletion{ExecID: x.ID, Status: protocol.ExecFailed, Stderr: "late"}); err != nil {
		t.Fatal(err)
	}
	got, err = e.stores.Rooms.GetCodeExec(ctx, x.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != protocol.ExecSucceeded || got.Stderr != "" {
		t.Errorf("late report overwrote terminal record: %+v", got)
	}

	// The result is announced in the channel.
	s, err := e.Summary(ctx, "lab")
	if err != nil {
		t.Fatal(err)
	}
	if s.MessageCount != 1 {
		t.Errorf("message count = %d, want 1 code_result", s.MessageCount)
	}
}

func TestCompleteExecValidation(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	ctx := context.Background()
	setupRoom(t, e, "lab", map[string]string{"alice": ""})
	x := seedQueuedExec(t, e, "lab")

	err := e.CompleteExec(ctx, SandboxCompletion{ExecID: x.ID, Status: protocol.ExecRunning})
	wantCode(t, err, protocol.ErrValidationFailed)

	err = e.CompleteExec(ctx, SandboxCompletion{ExecID: "ghost", Status: protocol.ExecFailed})
	wantCode(t, err, protocol.ErrNotFound)
}

func TestStartFailsInFlightExecutions(t *testing.T) {
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
	setupRoom(t, e, "lab", map[string]string{"alice": ""})
	x := seedQueuedExec(t, e, "lab")
	started := time.Now().UTC()
	x.Status = protocol.ExecRunning
	x.StartedAt = &started
	if err := e.stores.Rooms.UpdateCodeExec(ctx, x); err != nil {
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

	got, err := e2.stores.Rooms.GetCodeExec(ctx, x.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != protocol.ExecFailed {
		t.Errorf("status after restart = %s, want failed", got.Status)
	}
	if got.FinishedAt == nil {
		t.Error("failed execution has no finished_at")
	}
}
