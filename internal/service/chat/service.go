package chat

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finetuning-llms/companion/internal/model/chat"
	"github.com/finetuning-llms/companion/internal/model/feedback"
)

var (
	ErrEmptyMessage = errors.New("message must not be empty")
	ErrNoReply      = errors.New("no assistant reply to rate yet")
)

// User-facing notices.
const (
	NoticeMissingCredential = "Please add your OpenAI API key to continue."
	NoticeProviderFault     = "The assistant could not reply right now. Please check your API key and try again."
	NoticeFeedbackRecorded  = "Feedback recorded!"
)

// Completer produces the assistant reply for a transcript.
type Completer interface {
	Complete(ctx context.Context, credential string, transcript chat.Transcript) (string, error)
}

// FeedbackSink forwards feedback records to an external collector.
type FeedbackSink interface {
	Enabled() bool
	Collect(ctx context.Context, record feedback.Record) error
}

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeReplied         Outcome = "replied"
	OutcomeNeedsCredential Outcome = "needs_credential"
	OutcomeFailed          Outcome = "failed"
)

// TurnResult reports the state after one submitted turn.
type TurnResult struct {
	Outcome Outcome      `json:"outcome"`
	Session chat.Session `json:"session"`
	Reply   string       `json:"reply,omitempty"`
	Notice  string       `json:"notice,omitempty"`
	// Err holds the provider fault for OutcomeFailed.
	Err error `json:"-"`
}

// FeedbackResult reports whether feedback reached the collector.
type FeedbackResult struct {
	Key       string `json:"key"`
	Delivered bool   `json:"delivered"`
	Notice    string `json:"notice,omitempty"`
}

// Options tune a Service.
type Options struct {
	// Component and Model label forwarded feedback records.
	Component string
	Model     string
	Logger    *zap.Logger
	Now       func() time.Time
}

const lockStripes = 64

// Service runs the chat turn exchange on top of a session repository.
type Service struct {
	repo      Repository
	completer Completer
	sink      FeedbackSink
	component string
	model     string
	logger    *zap.Logger
	now       func() time.Time
	locks     [lockStripes]sync.Mutex
}

// NewService wires the turn controller. sink may be nil when feedback collection is off.
func NewService(repo Repository, completer Completer, sink FeedbackSink, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Component == "" {
		opts.Component = "default"
	}
	if opts.Model == "" {
		opts.Model = "gpt"
	}
	return &Service{
		repo:      repo,
		completer: completer,
		sink:      sink,
		component: opts.Component,
		model:     opts.Model,
		logger:    opts.Logger.Named("chat"),
		now:       opts.Now,
	}
}

// CreateSession provisions a session holding the seeded transcript.
func (s *Service) CreateSession(ctx context.Context) (chat.Session, error) {
	session := chat.NewSession(uuid.NewString(), s.now())
	if err := s.repo.Save(ctx, session); err != nil {
		return chat.Session{}, fmt.Errorf("create session: %w", err)
	}
	s.logger.Debug("session created", zap.String("session", session.ID))
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(ctx context.Context, id string) (chat.Session, error) {
	if id == "" {
		return chat.Session{}, ErrSessionNotFound
	}
	return s.repo.Get(ctx, id)
}

// EnsureSession returns the session for id, creating a fresh one when it is unknown.
func (s *Service) EnsureSession(ctx context.Context, id string) (chat.Session, error) {
	session, err := s.GetSession(ctx, id)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return chat.Session{}, err
	}
	return s.CreateSession(ctx)
}

// SubmitTurn records the user's message and, when a credential is present, asks the
// provider for a reply. The user message is stored before the credential is checked,
// and a turn left unanswered is never re-sent automatically.
func (s *Service) SubmitTurn(ctx context.Context, id, userText, credential string) (TurnResult, error) {
	if strings.TrimSpace(userText) == "" {
		return TurnResult{}, ErrEmptyMessage
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return TurnResult{}, err
	}
	defer unlock()

	session, err := s.GetSession(ctx, id)
	if err != nil {
		return TurnResult{}, err
	}

	session.Transcript = append(session.Transcript, chat.Message{
		Role:      chat.RoleUser,
		Content:   userText,
		CreatedAt: s.now(),
	})
	session.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, session); err != nil {
		return TurnResult{}, fmt.Errorf("save user turn: %w", err)
	}

	if strings.TrimSpace(credential) == "" {
		s.logger.Info("turn halted without credential", zap.String("session", id))
		return TurnResult{
			Outcome: OutcomeNeedsCredential,
			Session: session,
			Notice:  NoticeMissingCredential,
		}, nil
	}

	reply, err := s.completer.Complete(ctx, credential, session.Transcript.Clone())
	if err != nil {
		s.logger.Warn("completion failed", zap.String("session", id), zap.Error(err))
		return TurnResult{
			Outcome: OutcomeFailed,
			Session: session,
			Notice:  NoticeProviderFault,
			Err:     err,
		}, nil
	}

	session.LastResponse = reply
	session.Transcript = append(session.Transcript, chat.Message{
		Role:      chat.RoleAssistant,
		Content:   reply,
		CreatedAt: s.now(),
	})
	session.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, session); err != nil {
		return TurnResult{}, fmt.Errorf("save assistant turn: %w", err)
	}

	s.logger.Info("turn completed",
		zap.String("session", id),
		zap.Int("transcript_length", len(session.Transcript)),
	)
	return TurnResult{Outcome: OutcomeReplied, Session: session, Reply: reply}, nil
}

// SubmitFeedback forwards a rating of the latest reply. Delivery problems are logged
// and never touch the transcript.
func (s *Service) SubmitFeedback(ctx context.Context, id string, fb feedback.Feedback) (FeedbackResult, error) {
	score, err := feedback.ParseSentiment(string(fb.Score))
	if err != nil {
		return FeedbackResult{}, err
	}
	fb = feedback.NewThumbs(score, fb.Text)

	session, err := s.GetSession(ctx, id)
	if err != nil {
		return FeedbackResult{}, err
	}
	if !session.FeedbackEnabled() {
		return FeedbackResult{}, ErrNoReply
	}

	result := FeedbackResult{Key: session.FeedbackKey()}
	if s.sink == nil || !s.sink.Enabled() {
		return result, nil
	}

	record := feedback.NewRecord(s.component, s.model, session, fb)
	if err := s.sink.Collect(ctx, record); err != nil {
		s.logger.Warn("feedback delivery failed", zap.String("session", id), zap.String("key", record.Key), zap.Error(err))
		return result, nil
	}

	result.Delivered = true
	result.Notice = NoticeFeedbackRecorded
	return result, nil
}

// lock takes the in-process stripe for id and, when the repository is shared, the
// repository-wide session lock as well.
func (s *Service) lock(ctx context.Context, id string) (func(), error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()

	locker, ok := s.repo.(Locker)
	if !ok {
		return mu.Unlock, nil
	}
	release, err := locker.Lock(ctx, id)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("lock session: %w", err)
	}
	return func() {
		release()
		mu.Unlock()
	}, nil
}
