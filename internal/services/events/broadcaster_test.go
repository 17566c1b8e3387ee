package events

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jwebster45206/combat-tracker/pkg/event"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBroadcaster(t *testing.T) *Broadcaster {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewBroadcaster(client, logger)
}

func receive(t *testing.T, ps *redis.PubSub) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := ps.ReceiveMessage(ctx)
	require.NoError(t, err)
	m, err := Decode(msg.Payload)
	require.NoError(t, err)
	return m
}

func TestBroadcaster_PublishApplied(t *testing.T) {
	b := setupBroadcaster(t)
	ctx := context.Background()

	ps := b.Subscribe(ctx, "12")
	defer ps.Close()
	_, err := ps.Receive(ctx)
	require.NoError(t, err)

	cid := event.IntCharacterID(3)
	e := event.New("12", event.Payload{
		Type:        event.TypeDamage,
		CharacterID: &cid,
		Fields:      event.Fields{"amount": 4},
	}, time.Date(2025, 3, 14, 19, 30, 0, 0, time.UTC))
	require.NoError(t, b.PublishApplied(ctx, e))

	m := receive(t, ps)
	assert.Equal(t, EventTypeApplied, m.Type)
	assert.Equal(t, "12", m.SessionID)
	assert.Equal(t, "damage", m.Data["type"])
	assert.Equal(t, e.ID.String(), m.Data["id"])
	assert.EqualValues(t, 3, m.Data["characterId"])
	assert.EqualValues(t, 4, m.Data["amount"])
}

func TestBroadcaster_PublishRejected(t *testing.T) {
	b := setupBroadcaster(t)
	ctx := context.Background()

	ps := b.Subscribe(ctx, "12")
	defer ps.Close()
	_, err := ps.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, b.PublishRejected(ctx, "12", "turn_advance", errors.New("combat is not active")))

	m := receive(t, ps)
	assert.Equal(t, EventTypeRejected, m.Type)
	assert.Equal(t, "turn_advance", m.Data["type"])
	assert.Equal(t, "combat is not active", m.Data["error"])
}

func TestBroadcaster_ChannelsAreScopedBySession(t *testing.T) {
	b := setupBroadcaster(t)
	ctx := context.Background()

	ps := b.Subscribe(ctx, "a")
	defer ps.Close()
	_, err := ps.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, b.PublishRejected(ctx, "b", "damage", nil))
	require.NoError(t, b.PublishRejected(ctx, "a", "healing", nil))

	m := receive(t, ps)
	assert.Equal(t, "a", m.SessionID)
	assert.Equal(t, "healing", m.Data["type"])
	assert.Equal(t, "session-events:a", Channel("a"))
}
