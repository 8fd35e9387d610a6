package protocol

// Room event names pushed to member sessions via room_event frames.
const (
	EventRoomCreated         = "room_created"
	EventMemberJoined        = "member_joined"
	EventMemberLeft          = "member_left"
	EventChannelCreated      = "channel_created"
	EventRoomMessage         = "room_message"
	EventCritiquePosted      = "critique_posted"
	EventDecisionProposed    = "decision_proposed"
	EventAlternativeProposed = "alternative_proposed"
	EventAmendmentProposed   = "amendment_proposed"
	EventAmendmentAccepted   = "amendment_accepted"
	EventArgumentAdded       = "argument_added"
	EventVoteCast            = "vote_cast"
	EventDecisionClosed      = "decision_closed"
	EventFileUploaded        = "file_uploaded"
	EventFileEvicted         = "file_evicted"
	EventCodeExecRequested   = "code_execution_requested"
	EventCodeExecCompleted   = "code_execution_completed"
	EventRoomClosed          = "room_closed"
)

// Session-level system events (not room-scoped).
const (
	EventConnectionOpened = "connection_opened"
	EventServerShutdown   = "server_shutdown"
)

// Message types with intrinsic broker behavior.
const (
	// Types in the requires-ack set get at-least-once delivery.
	TypeCommand = "command"
	TypeRequest = "request"

	// TypeDeliveryFailed is sent to the original sender when a delivery
	// exhausts its retry budget or expires unacked.
	TypeDeliveryFailed = "delivery_failed"
)
