package bus

import (
	"fmt"
	"strings"
	"time"
)

// Broadcast is the recipient sentinel meaning every subscriber except the sender.
const Broadcast = "*"

// MessageType tags a message. The set is open-ended: plugins may introduce
// new types, so this is a validated string rather than a closed enum.
type MessageType string

const (
	TypeData         MessageType = "data"
	TypeRequest      MessageType = "request"
	TypeResponse     MessageType = "response"
	TypeError        MessageType = "error"
	TypeAnnouncement MessageType = "announcement"
)

// Validate rejects empty tags and tags containing whitespace.
func (t MessageType) Validate() error {
	if t == "" {
		return fmt.Errorf("message type is required")
	}
	if strings.ContainsAny(string(t), " \t\r\n") {
		return fmt.Errorf("message type %q contains whitespace", string(t))
	}
	return nil
}

// Metadata is a free-form key/value bag attached to a message.
type Metadata map[string]any

// Message is an immutable record of one send.
type Message struct {
	ID          string      `json:"id"`
	ExecutionID string      `json:"executionId"`
	FromAgentID string      `json:"fromAgentId"`
	ToAgentID   string      `json:"toAgentId"`
	Type        MessageType `json:"messageType"`
	Content     any         `json:"content"`
	Metadata    Metadata    `json:"metadata,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// IsBroadcast reports whether the message targets every subscriber.
func (m *Message) IsBroadcast() bool { return m.ToAgentID == Broadcast }

// Filter narrows a message sequence. Zero fields do not filter.
type Filter struct {
	Type        MessageType
	FromAgentID string
	ToAgentID   string
	Since       time.Time
	Limit       int
}

// Apply filters msgs (oldest first) in a fixed order: type, sender,
// recipient, timestamp >= Since, then truncation to Limit.
func (f Filter) Apply(msgs []*Message) []*Message {
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		if f.Type != "" && m.Type != f.Type {
			continue
		}
		if f.FromAgentID != "" && m.FromAgentID != f.FromAgentID {
			continue
		}
		if f.ToAgentID != "" && m.ToAgentID != f.ToAgentID {
			continue
		}
		if !f.Since.IsZero() && m.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, m)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}
