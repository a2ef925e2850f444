package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/finetuning-llms/companion/internal/model/chat"
)

var (
	ErrMissingCredential = errors.New("llm credential is required")
	ErrEmptyReply        = errors.New("llm returned an empty reply")
)

// ModelFactory builds a chat model bound to one credential.
type ModelFactory func(ctx context.Context, credential string) (model.BaseChatModel, error)

// Client sends transcripts to the configured chat-completion provider.
// A fresh model is built for every call because the credential belongs to the caller.
type Client struct {
	factory ModelFactory
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient creates a completion client. A zero timeout leaves the caller's deadline untouched.
func NewClient(factory ModelFactory, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		factory: factory,
		timeout: timeout,
		logger:  logger.Named("ai"),
	}
}

// Complete returns the provider's reply to the full transcript.
func (c *Client) Complete(ctx context.Context, credential string, transcript chat.Transcript) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", ErrMissingCredential
	}

	chatModel, err := c.factory(ctx, credential)
	if err != nil {
		return "", fmt.Errorf("failed to create chat model: %w", err)
	}

	chain := compose.NewChain[[]*schema.Message, *schema.Message]()
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to compile chat chain: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	response, err := runnable.Invoke(ctx, BuildMessages(transcript))
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return "", ErrEmptyReply
	}

	c.logger.Debug("completion finished",
		zap.Int("messages", len(transcript)),
		zap.Int("reply_length", len(response.Content)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return response.Content, nil
}

// BuildMessages converts the transcript into provider messages, preserving order.
func BuildMessages(transcript chat.Transcript) []*schema.Message {
	messages := make([]*schema.Message, 0, len(transcript))
	for _, msg := range transcript {
		switch msg.Role {
		case chat.RoleSystem:
			messages = append(messages, schema.SystemMessage(msg.Content))
		case chat.RoleUser:
			messages = append(messages, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return messages
}
