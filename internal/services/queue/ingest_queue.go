package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/combat-tracker/pkg/event"
	"github.com/jwebster45206/combat-tracker/pkg/queue"
	"github.com/redis/go-redis/v9"
)

// IngestKey is the list producers push raw events onto.
const IngestKey = "combat-ingest"

// IngestQueue carries raw events from producers to workers
type IngestQueue struct {
	client *Client
}

func NewIngestQueue(client *Client) *IngestQueue {
	return &IngestQueue{client: client}
}

// Enqueue wraps a raw payload in a request and pushes it onto the queue.
// The request id is returned so the caller can match stream messages.
func (q *IngestQueue) Enqueue(ctx context.Context, sessionID string, payload map[string]any, origin event.Origin) (string, error) {
	req := &queue.Request{
		RequestID:  uuid.NewString(),
		SessionID:  sessionID,
		Origin:     origin,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := q.EnqueueRequest(ctx, req); err != nil {
		return "", err
	}
	return req.RequestID, nil
}

// EnqueueRequest adds a request to the end of the ingest queue
func (q *IngestQueue) EnqueueRequest(ctx context.Context, req *queue.Request) error {
	data, err := req.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize request: %w", err)
	}
	if err := q.client.rdb.RPush(ctx, IngestKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue request: %w", err)
	}
	q.client.logger.Debug("Enqueued ingest request",
		"request_id", req.RequestID,
		"session_id", req.SessionID)
	return nil
}

// RequeueRequest puts a request back at the head of the ingest queue so it
// is retried before anything that arrived after it.
func (q *IngestQueue) RequeueRequest(ctx context.Context, req *queue.Request) error {
	data, err := req.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize request: %w", err)
	}
	if err := q.client.rdb.LPush(ctx, IngestKey, data).Err(); err != nil {
		return fmt.Errorf("failed to requeue request: %w", err)
	}
	q.client.logger.Debug("Requeued ingest request",
		"request_id", req.RequestID,
		"session_id", req.SessionID,
		"attempts", req.Attempts)
	return nil
}

// DequeueRequest removes and returns the next request.
// Returns nil if queue is empty
func (q *IngestQueue) DequeueRequest(ctx context.Context) (*queue.Request, error) {
	result, err := q.client.rdb.LPop(ctx, IngestKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue request: %w", err)
	}
	return parse(result)
}

// BlockingDequeueRequest waits up to timeout for a request. It returns nil
// when the wait ends empty or ctx is done.
func (q *IngestQueue) BlockingDequeueRequest(ctx context.Context, timeout time.Duration) (*queue.Request, error) {
	result, err := q.client.rdb.BLPop(ctx, timeout, IngestKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue request: %w", err)
	}

	// BLPop returns [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BLPop result: %v", result)
	}
	return parse(result[1])
}

// Depth returns the number of requests waiting
func (q *IngestQueue) Depth(ctx context.Context) (int, error) {
	count, err := q.client.rdb.LLen(ctx, IngestKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return int(count), nil
}

func parse(raw string) (*queue.Request, error) {
	req, err := queue.FromJSON([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return req, nil
}
