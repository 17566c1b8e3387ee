package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/combat-tracker/pkg/combat"
	"github.com/jwebster45206/combat-tracker/pkg/event"
	"github.com/redis/go-redis/v9"
)

// OutboxKey is the list the mirror relay drains.
const OutboxKey = "combat-outbox"

func stateKey(sessionID string) string  { return "session:" + sessionID }
func logKey(sessionID string) string    { return "session-log:" + sessionID }
func rosterKey(sessionID string) string { return "session-roster:" + sessionID }

// RedisStore implements Store on Redis. The projection is a JSON string, the
// log and outbox are lists and the seed roster is a hash keyed by character.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to redisURL. A positive ttl expires idle sessions.
func NewRedisStore(redisURL string, ttl time.Duration, logger *slog.Logger) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return NewRedisStoreFromClient(redis.NewClient(opt), ttl, logger), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger, ttl: ttl}
}

// Client returns the underlying Redis client for components sharing it.
func (r *RedisStore) Client() *redis.Client {
	return r.client
}

// Health and lifecycle methods

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return persistErr("ping", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available (used during startup)
func (r *RedisStore) WaitForConnection(ctx context.Context) error {
	maxRetries := 30
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
			case <-time.After(retryDelay):
				continue
			}
		}

		r.logger.Info("Redis connection established")
		return nil
	}

	return fmt.Errorf("redis did not become available after %d attempts", maxRetries)
}

// Session lifecycle

func (r *RedisStore) CreateSession(ctx context.Context, p *combat.Projection) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal projection: %w", err)
	}
	ok, err := r.client.SetNX(ctx, stateKey(p.SessionID), data, r.ttl).Result()
	if err != nil {
		r.logger.Error("Failed to create session", "session_id", p.SessionID, "error", err)
		return persistErr("create session", err)
	}
	if !ok {
		return ErrSessionExists
	}

	if len(p.Characters) == 0 {
		return nil
	}
	fields := make(map[string]any, len(p.Characters))
	for key, c := range p.Characters {
		raw, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal character: %w", err)
		}
		fields[key] = raw
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, rosterKey(p.SessionID), fields)
		r.expire(ctx, pipe, rosterKey(p.SessionID))
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to save roster", "session_id", p.SessionID, "error", err)
		r.client.Del(ctx, stateKey(p.SessionID))
		return persistErr("create session", err)
	}
	return nil
}

func (r *RedisStore) LoadProjection(ctx context.Context, sessionID string) (*combat.Projection, error) {
	data, err := r.client.Get(ctx, stateKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		r.logger.Error("Failed to load projection", "session_id", sessionID, "error", err)
		return nil, persistErr("load projection", err)
	}
	var p combat.Projection
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal projection: %w", err)
	}
	return p.Clone(), nil
}

func (r *RedisStore) SaveCharacter(ctx context.Context, p *combat.Projection, c combat.Character) error {
	state, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal projection: %w", err)
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal character: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, stateKey(p.SessionID), state, r.ttl)
		pipe.HSet(ctx, rosterKey(p.SessionID), c.ID.String(), raw)
		r.expire(ctx, pipe, rosterKey(p.SessionID))
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to save character", "session_id", p.SessionID, "character_id", c.ID.String(), "error", err)
		return persistErr("save character", err)
	}
	return nil
}

func (r *RedisStore) Roster(ctx context.Context, sessionID string) ([]combat.Character, error) {
	raw, err := r.client.HGetAll(ctx, rosterKey(sessionID)).Result()
	if err != nil {
		return nil, persistErr("load roster", err)
	}
	out := make([]combat.Character, 0, len(raw))
	for _, v := range raw {
		var c combat.Character
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal character: %w", err)
		}
		out = append(out, c)
	}
	return sortRoster(out), nil
}

func (r *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	n, err := r.client.Del(ctx, stateKey(sessionID), logKey(sessionID), rosterKey(sessionID)).Result()
	if err != nil {
		r.logger.Error("Failed to delete session", "session_id", sessionID, "error", err)
		return persistErr("delete session", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Commit runs SET, RPUSH and RPUSH inside one MULTI/EXEC.
func (r *RedisStore) Commit(ctx context.Context, p *combat.Projection, e event.Event) error {
	state, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal projection: %w", err)
	}
	entry, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, stateKey(p.SessionID), state, r.ttl)
		pipe.RPush(ctx, logKey(p.SessionID), entry)
		pipe.RPush(ctx, OutboxKey, entry)
		r.expire(ctx, pipe, logKey(p.SessionID))
		r.expire(ctx, pipe, rosterKey(p.SessionID))
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to commit event",
			"session_id", p.SessionID,
			"event_type", e.Type,
			"event_id", e.ID,
			"error", err)
		return persistErr("commit", err)
	}
	return nil
}

// Event log

func (r *RedisStore) RecentEvents(ctx context.Context, sessionID string, n int) ([]event.Event, error) {
	if n <= 0 {
		return []event.Event{}, nil
	}
	return r.lrange(ctx, sessionID, int64(-n), -1)
}

func (r *RedisStore) Events(ctx context.Context, sessionID string) ([]event.Event, error) {
	return r.lrange(ctx, sessionID, 0, -1)
}

func (r *RedisStore) lrange(ctx context.Context, sessionID string, start, stop int64) ([]event.Event, error) {
	raw, err := r.client.LRange(ctx, logKey(sessionID), start, stop).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Error("Failed to read event log", "session_id", sessionID, "error", err)
		return nil, persistErr("read log", err)
	}
	out := make([]event.Event, 0, len(raw))
	for _, s := range raw {
		var e event.Event
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Outbox

// NextOutbox pops the oldest outbox entry, waiting up to wait. It returns
// nil when nothing arrived in time.
func (r *RedisStore) NextOutbox(ctx context.Context, wait time.Duration) (*event.Event, error) {
	var (
		raw string
		err error
	)
	if wait <= 0 {
		raw, err = r.client.LPop(ctx, OutboxKey).Result()
	} else {
		var res []string
		res, err = r.client.BLPop(ctx, wait, OutboxKey).Result()
		if err == nil {
			// BLPop returns [key, value]
			if len(res) != 2 {
				return nil, fmt.Errorf("unexpected BLPop result: %v", res)
			}
			raw = res[1]
		}
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, persistErr("pop outbox", err)
	}

	var e event.Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		r.logger.Error("Dropping unreadable outbox entry", "error", err)
		return nil, fmt.Errorf("failed to unmarshal outbox entry: %w", err)
	}
	return &e, nil
}

// RequeueOutbox puts e back at the head of the outbox.
func (r *RedisStore) RequeueOutbox(ctx context.Context, e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.client.LPush(ctx, OutboxKey, data).Err(); err != nil {
		return persistErr("requeue outbox", err)
	}
	return nil
}

func (r *RedisStore) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
}
