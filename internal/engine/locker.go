package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes work on one session. The returned func releases the
// lock and must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, sessionID string) (unlock func(), err error)
}

// LocalLocker is an in-process Locker. Each session gets its own slot,
// dropped again once nobody holds or waits for it.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

var _ Locker = (*LocalLocker)(nil)

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[sessionID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[sessionID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(sessionID, s)
		return nil, fmt.Errorf("waiting for session lock: %w", ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(sessionID, s)
		})
	}, nil
}

func (l *LocalLocker) release(sessionID string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, sessionID)
	}
}

// held reports how many sessions currently have a slot.
func (l *LocalLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker is a Locker shared by every process talking to one Redis.
// The TTL caps how long a crashed holder can block a session.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
	logger *slog.Logger
}

var _ Locker = (*RedisLocker)(nil)

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, poll: 20 * time.Millisecond, logger: logger}
}

func lockKey(sessionID string) string {
	return "session-lock:" + sessionID
}

func (l *RedisLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	key := lockKey(sessionID)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire session lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for session lock: %w", ctx.Err())
		case <-time.After(l.poll):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be done; release regardless.
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Error("Failed to release session lock", "error", err, "session_id", sessionID)
			}
		})
	}, nil
}
