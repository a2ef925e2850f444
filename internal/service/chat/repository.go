package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/finetuning-llms/companion/internal/model/chat"
)

var ErrSessionNotFound = errors.New("session not found")

// Repository stores sessions by identifier.
type Repository interface {
	Get(ctx context.Context, id string) (chat.Session, error)
	Save(ctx context.Context, session chat.Session) error
}

// Locker is implemented by repositories shared between processes. Lock serializes turns
// on one session across every process using the repository.
type Locker interface {
	Lock(ctx context.Context, id string) (unlock func(), err error)
}

// MemoryRepository keeps sessions in process memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
}

// NewMemoryRepository bootstraps an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]chat.Session)}
}

// Get returns a copy of the stored session.
func (r *MemoryRepository) Get(_ context.Context, id string) (chat.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// Save stores a copy of session, replacing any previous version.
func (r *MemoryRepository) Save(_ context.Context, session chat.Session) error {
	if session.ID == "" {
		return ErrSessionNotFound
	}

	r.mu.Lock()
	r.sessions[session.ID] = session.Clone()
	r.mu.Unlock()
	return nil
}
