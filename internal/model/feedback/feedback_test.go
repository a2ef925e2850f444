package feedback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finetuning-llms/companion/internal/model/chat"
)

func TestParseSentiment(t *testing.T) {
	cases := []struct {
		raw  string
		want Sentiment
	}{
		{raw: "👍", want: ThumbsUp},
		{raw: " up ", want: ThumbsUp},
		{raw: "THUMBS_UP", want: ThumbsUp},
		{raw: "+1", want: ThumbsUp},
		{raw: "👎", want: ThumbsDown},
		{raw: "down", want: ThumbsDown},
		{raw: "-1", want: ThumbsDown},
	}
	for _, tc := range cases {
		got, err := ParseSentiment(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}

	_, err := ParseSentiment("meh")
	assert.ErrorIs(t, err, ErrInvalidSentiment)
	_, err = ParseSentiment("")
	assert.ErrorIs(t, err, ErrInvalidSentiment)
}

func TestNewRecordSnapshotsTranscript(t *testing.T) {
	session := chat.NewSession("s1", time.Now())
	session.Transcript = append(session.Transcript,
		chat.Message{Role: chat.RoleUser, Content: "q"},
		chat.Message{Role: chat.RoleAssistant, Content: "a"},
	)
	session.LastResponse = "a"

	record := NewRecord("default", "gpt", session, NewThumbs(ThumbsDown, "  too short  "))

	assert.Equal(t, "feedback_4", record.Key)
	assert.Equal(t, "default", record.Component)
	assert.Equal(t, "gpt", record.Model)
	assert.Equal(t, Feedback{Type: "thumbs", Score: ThumbsDown, Text: "too short"}, record.Response)

	snapshot, ok := record.Metadata["chat"].(chat.Transcript)
	require.True(t, ok)
	require.Len(t, snapshot, 4)

	session.Transcript[2].Content = "edited"
	assert.Equal(t, "q", snapshot[2].Content)
}
