package chat

import "time"

// Role tags the speaker of a transcript entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message is a single turn in the conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// SystemDirective and Greeting seed every new transcript.
const (
	SystemDirective = "You are an ai assistant"
	Greeting        = "How can I help you? Leave feedback to help me improve!"
)

// Transcript is the ordered, append-only list of messages exchanged in one session.
type Transcript []Message

// SeedTranscript returns the two-message transcript every session starts with.
func SeedTranscript(now time.Time) Transcript {
	return Transcript{
		{Role: RoleSystem, Content: SystemDirective, CreatedAt: now},
		{Role: RoleAssistant, Content: Greeting, CreatedAt: now},
	}
}

// Clone returns a copy that shares no backing array with t.
func (t Transcript) Clone() Transcript {
	if t == nil {
		return nil
	}
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}

// Last returns the final message, or false for an empty transcript.
func (t Transcript) Last() (Message, bool) {
	if len(t) == 0 {
		return Message{}, false
	}
	return t[len(t)-1], true
}

// Visible drops system messages, which are never shown to the reader.
func (t Transcript) Visible() []Message {
	out := make([]Message, 0, len(t))
	for _, msg := range t {
		if msg.Role == RoleSystem {
			continue
		}
		out = append(out, msg)
	}
	return out
}
