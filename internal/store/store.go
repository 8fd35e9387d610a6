// Package store defines the persistence contracts of the broker and the data
// records they exchange. Implementations live in subpackages (sqlite, blob).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors surfaced by store implementations.
var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
)

// NewID returns a fresh random identifier for broker-owned entities.
func NewID() string {
	return uuid.NewString()
}

// Stores aggregates every persistence surface the broker uses.
type Stores struct {
	Messages MessageStore
	Rooms    RoomStore
	Tokens   TokenStore
	Blobs    BlobStore
}

// MessageStore persists routed messages and their delivery state.
type MessageStore interface {
	SaveMessage(ctx context.Context, m *MessageRecord) error
	GetMessage(ctx context.Context, id string) (*MessageRecord, error)
	UpdateMessageStatus(ctx context.Context, id, status string) error
	DeleteMessage(ctx context.Context, id string) error
	// FetchSince returns persisted messages addressed to clientID (directly
	// or via broadcast) with seq > sinceSeq, oldest first.
	FetchSince(ctx context.Context, clientID string, sinceSeq int64, limit int) ([]MessageRecord, error)
	// MaxSeq returns the highest assigned sequence number, 0 when empty.
	MaxSeq(ctx context.Context) (int64, error)

	SavePending(ctx context.Context, p *PendingDelivery) error
	UpdatePending(ctx context.Context, messageID, recipient string, attempts int, nextAttempt time.Time, status string) error
	DeletePending(ctx context.Context, messageID, recipient string) error
	LoadPending(ctx context.Context) ([]PendingDelivery, error)
	// PurgePendingBefore removes terminal pending deliveries created before
	// the cutoff, returning the number removed.
	PurgePendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RoomStore persists the think-tank domain.
type RoomStore interface {
	// CreateRoom inserts the room and its implicit main channel atomically.
	CreateRoom(ctx context.Context, room *RoomData, main *ChannelData) error
	GetRoom(ctx context.Context, roomID string) (*RoomData, error)
	ListRooms(ctx context.Context) ([]RoomData, error)
	UpdateRoomState(ctx context.Context, roomID, state string) error
	UpdateRoomFileBytes(ctx context.Context, roomID string, total int64) error

	UpsertMember(ctx context.Context, m *MemberData) error
	SetMemberActive(ctx context.Context, roomID, clientID string, active bool) error
	ListMembers(ctx context.Context, roomID string) ([]MemberData, error)

	SaveChannel(ctx context.Context, c *ChannelData) error
	ListChannels(ctx context.Context, roomID string) ([]ChannelData, error)

	SaveRoomMessage(ctx context.Context, m *RoomMessageData) error
	GetRoomMessage(ctx context.Context, id string) (*RoomMessageData, error)
	RecentRoomMessages(ctx context.Context, roomID string, limit int) ([]RoomMessageData, error)

	SaveCritique(ctx context.Context, c *CritiqueData) error
	ListRoomCritiques(ctx context.Context, roomID string) ([]CritiqueData, error)

	SaveDecision(ctx context.Context, d *DecisionData) error
	GetDecision(ctx context.Context, decisionID string) (*DecisionData, error)
	UpdateDecisionText(ctx context.Context, decisionID, text string) error
	CloseDecision(ctx context.Context, decisionID, status string, closedAt time.Time) error
	ListDecisions(ctx context.Context, roomID string) ([]DecisionData, error)
	LinkAlternative(ctx context.Context, parentID, altID string, ordinal int) error
	ListAlternatives(ctx context.Context, parentID string) ([]string, error)
	ListRoomAlternativeLinks(ctx context.Context, roomID string) ([]AlternativeLink, error)

	SaveAmendment(ctx context.Context, a *AmendmentData) error
	AcceptAmendment(ctx context.Context, amendmentID string, at time.Time) error
	ListAmendments(ctx context.Context, decisionID string) ([]AmendmentData, error)
	ListRoomAmendments(ctx context.Context, roomID string) ([]AmendmentData, error)

	SaveDebateArgument(ctx context.Context, a *DebateArgumentData) error
	ListDebateArguments(ctx context.Context, decisionID string) ([]DebateArgumentData, error)
	ListRoomDebateArguments(ctx context.Context, roomID string) ([]DebateArgumentData, error)

	UpsertVote(ctx context.Context, v *VoteData) error
	ListVotes(ctx context.Context, decisionID string) ([]VoteData, error)
	ListRoomVotes(ctx context.Context, roomID string) ([]VoteData, error)

	SaveFile(ctx context.Context, f *FileData) error
	DeleteFile(ctx context.Context, fileID string) error
	GetFile(ctx context.Context, fileID string) (*FileData, error)
	ListFiles(ctx context.Context, roomID string) ([]FileData, error)

	SaveCodeExec(ctx context.Context, e *CodeExecData) error
	UpdateCodeExec(ctx context.Context, e *CodeExecData) error
	GetCodeExec(ctx context.Context, execID string) (*CodeExecData, error)
	// FailRunningExecs marks every non-terminal execution failed; called on
	// startup so no in-flight execution survives a restart.
	FailRunningExecs(ctx context.Context, stderr string) (int64, error)
}

// TokenStore persists bearer tokens.
type TokenStore interface {
	SaveToken(ctx context.Context, t *TokenData) error
	GetToken(ctx context.Context, token string) (*TokenData, error)
	RevokeToken(ctx context.Context, token string) error
	ListTokens(ctx context.Context) ([]TokenData, error)
}

// BlobStore persists shared-file content outside the database.
type BlobStore interface {
	Write(id string, data []byte) error
	Read(id string) ([]byte, error)
	Delete(id string) error
}
