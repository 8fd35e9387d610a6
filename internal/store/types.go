package store

import (
	"encoding/json"
	"time"

	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// Message lifecycle statuses in persistence.
const (
	MessageQueued    = "queued"
	MessageDelivered = "delivered"
	MessageExpired   = "expired"
	MessageFailed    = "failed"
)

// Pending delivery statuses.
const (
	PendingActive = "active"
	PendingAcked  = "acked"
	PendingFailed = "failed"
)

// MessageRecord is a routed message plus its persistence status.
type MessageRecord struct {
	protocol.Message
	Status string
}

// PendingDelivery tracks an unacked delivery for one recipient.
type PendingDelivery struct {
	MessageID     string
	Recipient     string
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	Status        string
}

// Room states.
const (
	RoomActive = "active"
	RoomClosed = "closed"
)

// RoomConfig bounds per-room resources and toggles code execution.
type RoomConfig struct {
	MaxTotalFileBytes      int64 `json:"max_total_file_bytes"`
	MaxFileBytes           int64 `json:"max_file_bytes"`
	CodeExecEnabled        bool  `json:"code_exec_enabled"`
	CodeExecTimeoutSeconds int   `json:"code_exec_timeout"`
	SummarizeAfterMessages int   `json:"summarize_after_messages"`
}

// DefaultRoomConfig returns the documented per-room defaults.
func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		MaxTotalFileBytes:      100 << 20,
		MaxFileBytes:           10 << 20,
		CodeExecEnabled:        false,
		CodeExecTimeoutSeconds: 30,
		SummarizeAfterMessages: 0,
	}
}

// RoomData is the persistent think-tank container.
type RoomData struct {
	RoomID         string
	Topic          string
	State          string
	PasswordHash   string // bcrypt; empty means open room
	Config         RoomConfig
	TotalFileBytes int64
	CreatedAt      time.Time
}

// MemberData is a room membership row. Leave flips Active; history stays.
type MemberData struct {
	RoomID     string
	ClientID   string
	Role       string
	VoteWeight float64
	JoinedAt   time.Time
	Active     bool
}

// ChannelData is a named sub-scope of a room.
type ChannelData struct {
	RoomID    string
	ChannelID string
	Name      string
	Topic     string
	CreatedBy string
	CreatedAt time.Time
}

// RoomMessageData is a message posted into a channel.
type RoomMessageData struct {
	ID        string
	RoomID    string
	ChannelID string
	From      string
	Kind      string
	Text      string
	ReplyTo   string
	CreatedAt time.Time
	Meta      json.RawMessage
}

// CritiqueData is a severity-tagged comment on a room message.
type CritiqueData struct {
	ID              string
	TargetMessageID string
	From            string
	Text            string
	Severity        string
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

// DecisionData is a proposal subject to a voting rule.
type DecisionData struct {
	ID            string
	RoomID        string
	ChannelID     string
	ProposedBy    string
	Text          string
	VoteType      string
	RequiredVotes int
	Status        string
	CreatedAt     time.Time
	ClosedAt      *time.Time
}

// AlternativeLink ties a child decision to its parent with ordering.
type AlternativeLink struct {
	DecisionID    string
	AlternativeID string
	Ordinal       int
}

// AmendmentData is a proposed text replacement for a decision.
type AmendmentData struct {
	ID         string
	DecisionID string
	ProposedBy string
	Text       string
	Accepted   bool
	CreatedAt  time.Time
	AcceptedAt *time.Time
}

// DebateArgumentData is a pro or con argument on a decision.
type DebateArgumentData struct {
	ID         string
	DecisionID string
	From       string
	Position   string
	Text       string
	Evidence   []string
	CreatedAt  time.Time
}

// VoteData is one voter's ballot on a decision. Weight is a snapshot of the
// member's vote weight at the time of the vote.
type VoteData struct {
	DecisionID string
	Voter      string
	Approve    bool
	Veto       bool
	Weight     float64
	CreatedAt  time.Time
}

// FileData is shared-file metadata; content lives in the blob store.
type FileData struct {
	ID          string
	RoomID      string
	ChannelID   string
	Filename    string
	ContentType string
	SizeBytes   int64
	UploadedBy  string
	UploadedAt  time.Time
}

// CodeExecData is a sandboxed code execution record.
type CodeExecData struct {
	ID          string
	RoomID      string
	ChannelID   string
	RequestedBy string
	Language    string
	Code        string
	Status      string
	ExitCode    *int
	Stdout      string
	Stderr      string
	ElapsedMS   int64
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// TokenData is a persisted bearer token.
type TokenData struct {
	Token     string
	ClientID  string
	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// Valid reports whether the token can authenticate at instant now.
func (t *TokenData) Valid(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
