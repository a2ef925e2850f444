package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finetuning-llms/companion/internal/model/chat"
)

func newRedisRepository(t *testing.T, ttl time.Duration) (*RedisRepository, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	return connectRepository(t, server, ttl), server
}

// connectRepository opens a separate client, the way another replica would.
func connectRepository(t *testing.T, server *miniredis.Miniredis, ttl time.Duration) *RedisRepository {
	t.Helper()
	client, err := DialRedis(context.Background(), server.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisRepository(client, ttl, time.Minute)
}

type sleepyCompleter struct {
	delay time.Duration
}

func (s sleepyCompleter) Complete(_ context.Context, _ string, transcript chat.Transcript) (string, error) {
	time.Sleep(s.delay)
	last, _ := transcript.Last()
	return "re: " + last.Content, nil
}

func TestRedisRepositoryRoundTrip(t *testing.T) {
	repo, _ := newRedisRepository(t, time.Hour)
	ctx := context.Background()

	session := chat.NewSession("abc", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	session.Transcript = append(session.Transcript, chat.Message{Role: chat.RoleUser, Content: "hello"})
	require.NoError(t, repo.Save(ctx, session))

	got, err := repo.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	require.Len(t, got.Transcript, 3)
	assert.Equal(t, chat.RoleSystem, got.Transcript[0].Role)
	assert.Equal(t, "hello", got.Transcript[2].Content)
}

func TestRedisRepositoryMissing(t *testing.T) {
	repo, _ := newRedisRepository(t, time.Hour)

	_, err := repo.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestRedisRepositoryExpires(t *testing.T) {
	repo, server := newRedisRepository(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, chat.NewSession("short", time.Now())))
	server.FastForward(2 * time.Minute)

	_, err := repo.Get(ctx, "short")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestServiceOverRedis(t *testing.T) {
	repo, _ := newRedisRepository(t, time.Hour)
	svc := NewService(repo, &fakeCompleter{reply: "pong"}, nil, Options{})
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	result, err := svc.SubmitTurn(ctx, session.ID, "ping", "sk-test")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, result.Outcome)

	stored, err := repo.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "pong", stored.LastResponse)
	assert.Len(t, stored.Transcript, 4)
}

func TestRedisRepositoryRejectsCorruptRole(t *testing.T) {
	repo, server := newRedisRepository(t, time.Hour)
	require.NoError(t, server.Set(sessionKeyPrefix+"bad",
		`{"id":"bad","transcript":[{"role":"system","content":"x"},{"role":"tool","content":"y"}]}`))

	_, err := repo.Get(context.Background(), "bad")
	assert.True(t, errors.Is(err, ErrCorruptSession))
}

func TestRedisLockIsExclusive(t *testing.T) {
	server := miniredis.RunT(t)
	first := connectRepository(t, server, time.Hour)
	second := connectRepository(t, server, time.Hour)

	unlock, err := first.Lock(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = second.Lock(ctx, "s1")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	other, err := second.Lock(context.Background(), "s2")
	require.NoError(t, err)
	other()

	unlock()
	again, err := second.Lock(context.Background(), "s1")
	require.NoError(t, err)
	again()
	assert.False(t, server.Exists(lockKeyPrefix+"s1"))
}

func TestRedisLockReleaseKeepsForeignLock(t *testing.T) {
	repo, server := newRedisRepository(t, time.Hour)

	unlock, err := repo.Lock(context.Background(), "s1")
	require.NoError(t, err)
	// another replica took over after expiry
	require.NoError(t, server.Set(lockKeyPrefix+"s1", "someone-else"))

	unlock()
	got, err := server.Get(lockKeyPrefix + "s1")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestReplicasSerializeTurnsOnSharedSession(t *testing.T) {
	server := miniredis.RunT(t)
	completer := sleepyCompleter{delay: 100 * time.Millisecond}
	replicaA := NewService(connectRepository(t, server, time.Hour), completer, nil, Options{})
	replicaB := NewService(connectRepository(t, server, time.Hour), completer, nil, Options{})
	ctx := context.Background()

	session, err := replicaA.CreateSession(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, submit := range []struct {
		svc  *Service
		text string
	}{{replicaA, "from a"}, {replicaB, "from b"}} {
		wg.Add(1)
		go func(svc *Service, text string) {
			defer wg.Done()
			result, err := svc.SubmitTurn(ctx, session.ID, text, "sk-test")
			assert.NoError(t, err)
			assert.Equal(t, OutcomeReplied, result.Outcome)
		}(submit.svc, submit.text)
	}
	wg.Wait()

	stored, err := replicaB.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, stored.Transcript, 6)

	var users []string
	for i, msg := range stored.Transcript[2:] {
		if i%2 == 0 {
			require.Equal(t, chat.RoleUser, msg.Role)
			users = append(users, msg.Content)
			continue
		}
		require.Equal(t, chat.RoleAssistant, msg.Role)
		assert.Equal(t, "re: "+users[len(users)-1], msg.Content)
	}
	assert.ElementsMatch(t, []string{"from a", "from b"}, users)
}
