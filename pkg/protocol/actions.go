package protocol

// Room operation action names carried in room_op frames.
const (
	ActionCreateRoom         = "create_room"
	ActionJoin               = "join"
	ActionLeave              = "leave"
	ActionCreateChannel      = "create_channel"
	ActionPostMessage        = "post_message"
	ActionCritique           = "critique"
	ActionProposeDecision    = "propose_decision"
	ActionProposeAlternative = "propose_alternative"
	ActionProposeAmendment   = "propose_amendment"
	ActionAcceptAmendment    = "accept_amendment"
	ActionAddArgument        = "add_argument"
	ActionVote               = "vote"
	ActionUploadFile         = "upload_file"
	ActionDownloadFile       = "download_file"
	ActionExecuteCode        = "execute_code"
	ActionWithdrawDecision   = "withdraw_decision"
	ActionCloseRoom          = "close_room"
	ActionGetRoomSummary     = "get_room_summary"
	ActionGetDecision        = "get_decision"
	ActionGetDebateSummary   = "get_debate_summary"
)

// Member roles. Only reviewer has intrinsic broker semantics (veto on
// consensus decisions); the rest are tags that pick default vote weights.
const (
	RoleCoordinator = "coordinator"
	RoleResearcher  = "researcher"
	RoleCoder       = "coder"
	RoleReviewer    = "reviewer"
	RoleTester      = "tester"
	RoleMember      = "member"
)

// DefaultVoteWeight returns the default weight for a role.
func DefaultVoteWeight(role string) float64 {
	switch role {
	case RoleCoordinator:
		return 2.0
	case RoleResearcher:
		return 1.5
	default:
		return 1.0
	}
}

// ValidRole reports whether role is a known member role.
func ValidRole(role string) bool {
	switch role {
	case RoleCoordinator, RoleResearcher, RoleCoder, RoleReviewer, RoleTester, RoleMember:
		return true
	}
	return false
}

// Vote types for decisions.
const (
	VoteSimpleMajority = "simple_majority"
	VoteConsensus      = "consensus"
	VoteQuorum         = "quorum"
	VoteWeighted       = "weighted"
)

// ValidVoteType reports whether vt is a known tallying rule.
func ValidVoteType(vt string) bool {
	switch vt {
	case VoteSimpleMajority, VoteConsensus, VoteQuorum, VoteWeighted:
		return true
	}
	return false
}

// Decision statuses.
const (
	DecisionOpen       = "open"
	DecisionApproved   = "approved"
	DecisionRejected   = "rejected"
	DecisionVetoed     = "vetoed"
	DecisionWithdrawn  = "withdrawn"
	DecisionSuperseded = "superseded"
)

// DecisionClosed reports whether status is terminal.
func DecisionClosed(status string) bool {
	return status != DecisionOpen
}

// Critique severities.
const (
	SeverityBlocking   = "blocking"
	SeverityMajor      = "major"
	SeverityMinor      = "minor"
	SeveritySuggestion = "suggestion"
)

// ValidSeverity reports whether s is a known critique severity.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityBlocking, SeverityMajor, SeverityMinor, SeveritySuggestion:
		return true
	}
	return false
}

// Room message kinds.
const (
	RoomMsgMessage    = "message"
	RoomMsgSystem     = "system"
	RoomMsgCritique   = "critique"
	RoomMsgArgument   = "argument"
	RoomMsgAmendment  = "amendment"
	RoomMsgCodeResult = "code_result"
)

// Debate positions.
const (
	PositionPro = "pro"
	PositionCon = "con"
)

// Code execution languages and statuses.
const (
	LangPython     = "python"
	LangJavaScript = "javascript"
	LangBash       = "bash"
)

// ValidLanguage reports whether lang is an executable language.
func ValidLanguage(lang string) bool {
	switch lang {
	case LangPython, LangJavaScript, LangBash:
		return true
	}
	return false
}

const (
	ExecQueued    = "queued"
	ExecRunning   = "running"
	ExecSucceeded = "succeeded"
	ExecFailed    = "failed"
	ExecTimedOut  = "timed_out"
	ExecRefused   = "refused"
)

// ExecTerminal reports whether a code execution status is terminal.
func ExecTerminal(status string) bool {
	switch status {
	case ExecSucceeded, ExecFailed, ExecTimedOut, ExecRefused:
		return true
	}
	return false
}
