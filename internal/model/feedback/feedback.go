package feedback

import (
	"errors"
	"strings"

	"github.com/finetuning-llms/companion/internal/model/chat"
)

// ErrInvalidSentiment is returned for a score that is neither thumbs up nor down.
var ErrInvalidSentiment = errors.New("feedback score must be thumbs up or thumbs down")

// Sentiment is the binary thumbs rating.
type Sentiment string

const (
	ThumbsUp   Sentiment = "👍"
	ThumbsDown Sentiment = "👎"
)

// ParseSentiment accepts the emoji itself or the words "up"/"down".
func ParseSentiment(raw string) (Sentiment, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ThumbsUp), "up", "thumbs_up", "+1":
		return ThumbsUp, nil
	case string(ThumbsDown), "down", "thumbs_down", "-1":
		return ThumbsDown, nil
	default:
		return "", ErrInvalidSentiment
	}
}

// Feedback is what the reader submits through the thumbs control.
type Feedback struct {
	Type  string    `json:"type"`
	Score Sentiment `json:"score"`
	Text  string    `json:"text,omitempty"`
}

// NewThumbs builds a thumbs feedback with an optional explanation.
func NewThumbs(score Sentiment, text string) Feedback {
	return Feedback{Type: "thumbs", Score: score, Text: strings.TrimSpace(text)}
}

// Record is the payload forwarded to the feedback collector.
type Record struct {
	Key       string         `json:"key"`
	Component string         `json:"component_name"`
	Model     string         `json:"model"`
	Response  Feedback       `json:"response"`
	Metadata  map[string]any `json:"metadata"`
}

// NewRecord snapshots the transcript alongside the feedback.
func NewRecord(component, model string, session chat.Session, fb Feedback) Record {
	return Record{
		Key:       session.FeedbackKey(),
		Component: component,
		Model:     model,
		Response:  fb,
		Metadata:  map[string]any{"chat": session.Transcript.Clone()},
	}
}
