package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Broadcast is the sentinel recipient meaning "every other client".
const Broadcast = "all"

// Size limits enforced at ingress.
const (
	MaxMessageBytes = 10 << 10 // serialized message cap for normal routing
	MaxTextChars    = 10_000   // room message / decision / critique text cap
	MaxFileBytes    = 10 << 20 // per-file cap; files bypass the message path
)

// Priority orders messages in the broker queue. Dequeue is strictly by
// priority, FIFO within a level.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBulk

	numPriorities = int(PriorityBulk) + 1
)

// NumPriorities is the number of queue levels.
const NumPriorities = numPriorities

var priorityNames = [numPriorities]string{"critical", "high", "normal", "low", "bulk"}

func (p Priority) String() string {
	if p < 0 || int(p) >= numPriorities {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority maps a wire name to a Priority. Empty string means normal.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	for i, name := range priorityNames {
		if s == name {
			return Priority(i), nil
		}
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Message is the canonical routing unit. The broker assigns ID and Seq on
// ingress; client-supplied IDs are never trusted.
type Message struct {
	ID         string            `json:"id"`
	Seq        int64             `json:"seq,omitempty"`
	From       string            `json:"from_client"`
	To         string            `json:"to"`
	Type       string            `json:"type"`
	Priority   Priority          `json:"priority"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	TTLSeconds int               `json:"ttl_seconds,omitempty"`
	ReplyTo    string            `json:"reply_to,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ExpiresAt returns the absolute expiry instant, or zero when the message
// never expires (TTLSeconds <= 0 means "policy default", resolved upstream).
func (m *Message) ExpiresAt() time.Time {
	if m.TTLSeconds <= 0 {
		return time.Time{}
	}
	return m.CreatedAt.Add(time.Duration(m.TTLSeconds) * time.Second)
}

// RequestID returns the tracing id carried in message metadata, if any.
func (m *Message) RequestID() string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata["request_id"]
}
