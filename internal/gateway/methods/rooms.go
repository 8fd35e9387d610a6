// Package methods binds room_op action names to room engine operations.
package methods

import (
	"context"
	"encoding/json"

	"github.com/nextlevelbuilder/agentbus/internal/gateway"
	"github.com/nextlevelbuilder/agentbus/internal/room"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// RoomMethods handles every room_op action.
type RoomMethods struct {
	engine *room.Engine
}

// NewRoomMethods creates the handler set.
func NewRoomMethods(e *room.Engine) *RoomMethods {
	return &RoomMethods{engine: e}
}

// Register binds all room actions.
func (m *RoomMethods) Register(router *gateway.ActionRouter) {
	router.Register(protocol.ActionCreateRoom, m.handleCreateRoom)
	router.Register(protocol.ActionJoin, m.handleJoin)
	router.Register(protocol.ActionLeave, m.handleLeave)
	router.Register(protocol.ActionCreateChannel, m.handleCreateChannel)
	router.Register(protocol.ActionPostMessage, m.handlePostMessage)
	router.Register(protocol.ActionCritique, m.handleCritique)
	router.Register(protocol.ActionProposeDecision, m.handleProposeDecision)
	router.Register(protocol.ActionProposeAlternative, m.handleProposeAlternative)
	router.Register(protocol.ActionProposeAmendment, m.handleProposeAmendment)
	router.Register(protocol.ActionAcceptAmendment, m.handleAcceptAmendment)
	router.Register(protocol.ActionAddArgument, m.handleAddArgument)
	router.Register(protocol.ActionVote, m.handleVote)
	router.Register(protocol.ActionUploadFile, m.handleUploadFile)
	router.Register(protocol.ActionDownloadFile, m.handleDownloadFile)
	router.Register(protocol.ActionExecuteCode, m.handleExecuteCode)
	router.Register(protocol.ActionWithdrawDecision, m.handleWithdrawDecision)
	router.Register(protocol.ActionCloseRoom, m.handleCloseRoom)
	router.Register(protocol.ActionGetRoomSummary, m.handleGetRoomSummary)
	router.Register(protocol.ActionGetDecision, m.handleGetDecision)
	router.Register(protocol.ActionGetDebateSummary, m.handleGetDebateSummary)
}

// decode unmarshals action params; a nil Params decodes into zero values.
func decode(req *protocol.RoomOpFrame, into any) error {
	if len(req.Params) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params, into)
}

// respond sends either the room_result or the mapped error frame.
func respond(client *gateway.Client, req *protocol.RoomOpFrame, result any, err error) {
	if err != nil {
		e := room.AsError(err)
		client.SendError(req.RequestID, e.Code, e.Message)
		return
	}
	client.Send(protocol.NewRoomResult(req.RequestID, req.Action, result))
}

func badParams(client *gateway.Client, req *protocol.RoomOpFrame) {
	client.SendError(req.RequestID, protocol.ErrValidationFailed, "malformed params for "+req.Action)
}

func (m *RoomMethods) handleCreateRoom(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p room.CreateRoomParams
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.CreateRoom(ctx, client.ClientID(), p)
	respond(client, req, result, err)
}

func (m *RoomMethods) handleJoin(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p room.JoinParams
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.Join(ctx, client.ClientID(), p)
	respond(client, req, result, err)
}

func (m *RoomMethods) handleLeave(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p struct {
		RoomID string `json:"room_id"`
	}
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	err := m.engine.Leave(ctx, client.ClientID(), p.RoomID)
	respond(client, req, map[string]string{"room_id": p.RoomID, "status": "left"}, err)
}

func (m *RoomMethods) handleCreateChannel(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p room.CreateChannelParams
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.CreateChannel(ctx, client.ClientID(), p)
	respond(client, req, result, err)
}

func (m *RoomMethods) handlePostMessage(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p room.PostMessageParams
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.PostMessage(ctx, client.ClientID(), p)
	respond(client, req, result, err)
}

func (m *RoomMethods) handleCritique(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p room.CritiqueParams
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.Critique(ctx, client.ClientID(), p)
	respond(client, req, result, err)
}

func (m *RoomMethods) handleProposeDecision(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p room.ProposeDecisionParams
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.ProposeDecision(ctx, client.ClientID(), p)
	respond(client, req, result, err)
}

func (m *RoomMethods) handleProposeAlternative(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p room.ProposeAlternativeParams
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.ProposeAlternative(ctx, client.ClientID(), p)
	respond(client, req, result, err)
}

func (m *RoomMethods) handleProposeAmendment(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p room.ProposeAmendmentParams
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.ProposeAmendment(ctx, client.ClientID(), p)
	respond(client, req, result, err)
}

func (m *RoomMethods) handleAcceptAmendment(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p room.AcceptAmendmentParams
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.AcceptAmendment(ctx, client.ClientID(), p)
	respond(client, req, result, err)
}

func (m *RoomMethods) handleAddArgument(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p room.AddArgumentParams
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.AddArgument(ctx, client.ClientID(), p)
	respond(client, req, result, err)
}

func (m *RoomMethods) handleVote(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p room.VoteParams
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.Vote(ctx, client.ClientID(), p)
	respond(client, req, result, err)
}

func (m *RoomMethods) handleUploadFile(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p room.UploadFileParams
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.UploadFile(ctx, client.ClientID(), p)
	respond(client, req, result, err)
}

func (m *RoomMethods) handleDownloadFile(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p room.DownloadFileParams
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.DownloadFile(ctx, p)
	respond(client, req, result, err)
}

func (m *RoomMethods) handleExecuteCode(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p room.ExecuteCodeParams
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.ExecuteCode(ctx, client.ClientID(), p)
	respond(client, req, result, err)
}

func (m *RoomMethods) handleWithdrawDecision(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p struct {
		DecisionID string `json:"decision_id"`
	}
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.WithdrawDecision(ctx, client.ClientID(), p.DecisionID)
	respond(client, req, result, err)
}

func (m *RoomMethods) handleCloseRoom(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p struct {
		RoomID string `json:"room_id"`
	}
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.CloseRoom(ctx, client.ClientID(), p.RoomID)
	respond(client, req, result, err)
}

func (m *RoomMethods) handleGetRoomSummary(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p struct {
		RoomID string `json:"room_id"`
	}
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.Summary(ctx, p.RoomID)
	respond(client, req, result, err)
}

func (m *RoomMethods) handleGetDecision(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p struct {
		DecisionID string `json:"decision_id"`
	}
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.GetDecision(ctx, p.DecisionID)
	respond(client, req, result, err)
}

func (m *RoomMethods) handleGetDebateSummary(ctx context.Context, client *gateway.Client, req *protocol.RoomOpFrame) {
	var p struct {
		DecisionID string `json:"decision_id"`
	}
	if err := decode(req, &p); err != nil {
		badParams(client, req)
		return
	}
	result, err := m.engine.GetDebateSummary(ctx, p.DecisionID)
	respond(client, req, result, err)
}
