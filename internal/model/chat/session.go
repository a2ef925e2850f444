package chat

import (
	"fmt"
	"time"
)

// Session captures one visitor's conversation state.
type Session struct {
	ID           string     `json:"id"`
	Transcript   Transcript `json:"transcript"`
	LastResponse string     `json:"lastResponse,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// NewSession builds a session holding the seeded transcript.
func NewSession(id string, now time.Time) Session {
	return Session{
		ID:         id,
		Transcript: SeedTranscript(now),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// FeedbackEnabled reports whether the feedback control should be offered.
func (s Session) FeedbackEnabled() bool {
	return s.LastResponse != ""
}

// FeedbackKey labels a feedback submission by the current transcript length.
func (s Session) FeedbackKey() string {
	return fmt.Sprintf("feedback_%d", len(s.Transcript))
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	s.Transcript = s.Transcript.Clone()
	return s
}
