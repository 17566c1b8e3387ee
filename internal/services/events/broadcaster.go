package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/combat-tracker/pkg/event"
	"github.com/redis/go-redis/v9"
)

// EventType represents the type of message being broadcast
type EventType string

const (
	EventTypeApplied  EventType = "event.applied"
	EventTypeRejected EventType = "event.rejected"
)

// Message is what subscribers of a session channel receive
type Message struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// Channel returns the pub/sub channel for a session.
func Channel(sessionID string) string {
	return fmt.Sprintf("session-events:%s", sessionID)
}

// Broadcaster publishes session messages to Redis Pub/Sub for SSE distribution
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// PublishApplied publishes an event.applied message carrying the logged event
func (b *Broadcaster) PublishApplied(ctx context.Context, e event.Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal applied event: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to flatten applied event: %w", err)
	}
	return b.publish(ctx, Message{
		Type:      EventTypeApplied,
		SessionID: e.SessionID,
		Data:      data,
	})
}

// PublishRejected publishes an event.rejected message with the reason
func (b *Broadcaster) PublishRejected(ctx context.Context, sessionID, eventType string, reason error) error {
	data := map[string]any{"type": eventType}
	if reason != nil {
		data["error"] = reason.Error()
	}
	return b.publish(ctx, Message{
		Type:      EventTypeRejected,
		SessionID: sessionID,
		Data:      data,
	})
}

// Subscribe opens a subscription to a session channel. The caller closes it.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string) *redis.PubSub {
	return b.redisClient.Subscribe(ctx, Channel(sessionID))
}

// Decode parses a pub/sub payload back into a Message.
func Decode(payload string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return m, nil
}

func (b *Broadcaster) publish(ctx context.Context, m Message) error {
	channel := Channel(m.SessionID)

	data, err := json.Marshal(m)
	if err != nil {
		b.logger.Error("Failed to marshal message", "error", err, "message_type", m.Type)
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish message", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	b.logger.Debug("Message published",
		"channel", channel,
		"message_type", m.Type,
	)
	return nil
}
