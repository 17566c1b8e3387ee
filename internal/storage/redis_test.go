package storage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jwebster45206/combat-tracker/pkg/combat"
	"github.com/jwebster45206/combat-tracker/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := NewRedisStore("redis://"+mr.Addr(), ttl, logger)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func testRoster() []combat.Character {
	return []combat.Character{
		{ID: event.IntCharacterID(2), Name: "Brann", MaxHP: 24, CurrentHP: 24},
		{ID: event.StringCharacterID("ilsa"), Name: "Ilsa", MaxHP: 30, CurrentHP: 30, AC: 15},
	}
}

func damageEvent(sessionID string, id int, amount int, at time.Time) event.Event {
	cid := event.IntCharacterID(id)
	return event.New(sessionID, event.Payload{
		Type:        event.TypeDamage,
		CharacterID: &cid,
		Fields:      event.Fields{"amount": amount},
	}, at)
}

// storeContract runs the behaviour every Store must share.
func storeContract(t *testing.T, store Store) {
	ctx := context.Background()
	p := combat.NewProjection("101", testRoster())

	require.NoError(t, store.CreateSession(ctx, p))
	assert.ErrorIs(t, store.CreateSession(ctx, p), ErrSessionExists)

	loaded, err := store.LoadProjection(ctx, "101")
	require.NoError(t, err)
	assert.Len(t, loaded.Characters, 2)
	assert.Equal(t, 1, loaded.Combat.CurrentRound)

	_, err = store.LoadProjection(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Commit three events and read the tail back oldest first.
	base := time.Date(2025, 3, 14, 19, 0, 0, 0, time.UTC)
	var committed []event.Event
	for i := 1; i <= 3; i++ {
		next := loaded.Clone()
		c := next.Characters["2"]
		c.CurrentHP -= i
		next.Characters["2"] = c
		e := damageEvent("101", 2, i, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.Commit(ctx, next, e))
		committed = append(committed, e)
		loaded = next
	}

	recent, err := store.RecentEvents(ctx, "101", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, committed[1].ID, recent[0].ID)
	assert.Equal(t, committed[2].ID, recent[1].ID)
	assert.True(t, recent[1].CharacterID.IsNumeric())
	amount, _ := recent[1].Fields.Int("amount")
	assert.Equal(t, 3, amount)

	all, err := store.Events(ctx, "101")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	state, err := store.LoadProjection(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, 18, state.Characters["2"].CurrentHP)

	// Outbox drains in commit order and accepts requeues at the head.
	first, err := store.NextOutbox(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, committed[0].ID, first.ID)
	require.NoError(t, store.RequeueOutbox(ctx, *first))
	again, err := store.NextOutbox(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, committed[0].ID, again.ID)

	// Roster upserts land in the seed roster.
	added := combat.Character{ID: event.IntCharacterID(9), Name: "Goblin", MaxHP: 7, CurrentHP: 7}
	state.UpsertCharacter(added)
	require.NoError(t, store.SaveCharacter(ctx, state, added))
	roster, err := store.Roster(ctx, "101")
	require.NoError(t, err)
	require.Len(t, roster, 3)
	assert.Equal(t, "2", roster[0].ID.String())
	assert.Equal(t, "9", roster[1].ID.String())

	require.NoError(t, store.DeleteSession(ctx, "101"))
	_, err = store.LoadProjection(ctx, "101")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, store.DeleteSession(ctx, "101"), ErrSessionNotFound)
	events, err := store.Events(ctx, "101")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRedisStore_Contract(t *testing.T) {
	store, _ := setupTestRedis(t, 0)
	storeContract(t, store)
}

func TestMockStore_Contract(t *testing.T) {
	storeContract(t, NewMockStore())
}

func TestRedisStore_CommitIsTransactional(t *testing.T) {
	store, mr := setupTestRedis(t, 0)
	ctx := context.Background()
	p := combat.NewProjection("7", testRoster())
	require.NoError(t, store.CreateSession(ctx, p))

	e := damageEvent("7", 2, 4, time.Now())
	require.NoError(t, store.Commit(ctx, p, e))

	log, err := mr.List(logKey("7"))
	require.NoError(t, err)
	assert.Len(t, log, 1)
	outbox, err := mr.List(OutboxKey)
	require.NoError(t, err)
	assert.Len(t, outbox, 1)
}

func TestRedisStore_SessionTTL(t *testing.T) {
	store, mr := setupTestRedis(t, time.Hour)
	ctx := context.Background()
	p := combat.NewProjection("s", testRoster())
	require.NoError(t, store.CreateSession(ctx, p))
	require.NoError(t, store.Commit(ctx, p, damageEvent("s", 2, 1, time.Now())))

	assert.Equal(t, time.Hour, mr.TTL(stateKey("s")))
	assert.Equal(t, time.Hour, mr.TTL(logKey("s")))

	mr.FastForward(2 * time.Hour)
	_, err := store.LoadProjection(ctx, "s")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStore_OutboxWaitTimesOut(t *testing.T) {
	store, _ := setupTestRedis(t, 0)
	e, err := store.NextOutbox(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestRedisStore_PersistenceErrors(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := NewRedisStore("redis://"+mr.Addr(), 0, logger)
	require.NoError(t, err)
	defer store.Close()
	mr.Close()

	ctx := context.Background()
	err = store.Ping(ctx)
	assert.True(t, errors.Is(err, ErrPersistence))

	p := combat.NewProjection("x", nil)
	err = store.Commit(ctx, p, damageEvent("x", 1, 1, time.Now()))
	assert.True(t, errors.Is(err, ErrPersistence))

	_, err = store.LoadProjection(ctx, "x")
	assert.True(t, errors.Is(err, ErrPersistence))
}

func TestMockStore_CommitError(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	p := combat.NewProjection("x", nil)
	require.NoError(t, store.CreateSession(ctx, p))

	store.SetCommitError(errors.New("disk full"))
	err := store.Commit(ctx, p, damageEvent("x", 1, 1, time.Now()))
	assert.True(t, errors.Is(err, ErrPersistence))
	events, _ := store.Events(ctx, "x")
	assert.Empty(t, events)
	assert.Equal(t, 0, store.Commits())
}
