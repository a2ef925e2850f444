package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/finetuning-llms/companion/internal/model/chat"
)

const (
	sessionKeyPrefix = "companion:session:"
	lockKeyPrefix    = "companion:lock:"

	defaultLockTTL   = 2 * time.Minute
	lockRetryBackoff = 50 * time.Millisecond
)

// ErrCorruptSession is returned when a stored session fails validation.
var ErrCorruptSession = errors.New("stored session is corrupt")

// releaseLock deletes the lock only while it still holds the caller's token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRepository shares sessions between replicas. Entries expire after ttl of inactivity.
// Turns are serialized across replicas through Lock; lockTTL must outlast the slowest
// provider call, otherwise a second replica may take over a session mid-turn.
type RedisRepository struct {
	client  *redis.Client
	ttl     time.Duration
	lockTTL time.Duration
}

// NewRedisRepository wraps an existing client. A non-positive lockTTL falls back to two minutes.
func NewRedisRepository(client *redis.Client, ttl, lockTTL time.Duration) *RedisRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &RedisRepository{client: client, ttl: ttl, lockTTL: lockTTL}
}

// DialRedis connects and pings the server before returning the client.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Get loads and decodes a session.
func (r *RedisRepository) Get(ctx context.Context, id string) (chat.Session, error) {
	data, err := r.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("load session %s: %w", id, err)
	}

	var session chat.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return chat.Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	for i, msg := range session.Transcript {
		if !msg.Role.Valid() {
			return chat.Session{}, fmt.Errorf("%w: session %s message %d has role %q", ErrCorruptSession, id, i, msg.Role)
		}
	}
	return session, nil
}

// Save encodes the session and refreshes its expiry.
func (r *RedisRepository) Save(ctx context.Context, session chat.Session) error {
	if session.ID == "" {
		return ErrSessionNotFound
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}
	if err := r.client.Set(ctx, sessionKeyPrefix+session.ID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("store session %s: %w", session.ID, err)
	}
	return nil
}

// Lock acquires the session lock with SET NX, polling until it is free or ctx ends.
func (r *RedisRepository) Lock(ctx context.Context, id string) (func(), error) {
	key := lockKeyPrefix + id
	token := uuid.NewString()

	ticker := time.NewTicker(lockRetryBackoff)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock for session %s: %w", id, err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = releaseLock.Run(releaseCtx, r.client, []string{key}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock for session %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}
