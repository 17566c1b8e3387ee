package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jwebster45206/combat-tracker/pkg/event"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	// Start miniredis
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	// Create queue client
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	redisURL := "redis://" + mr.Addr()

	client, err := NewClient(redisURL, logger)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create queue client: %v", err)
	}

	return client, mr
}

func TestIngestQueue_EnqueueAndDequeue(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewIngestQueue(client)
	ctx := context.Background()

	payloads := []map[string]any{
		{"type": "initiative_roll", "characterId": 1, "initiativeValue": 18},
		{"type": "damage", "characterId": "pc-2", "amount": 7},
		{"type": "turn_advance"},
	}
	var ids []string
	for _, p := range payloads {
		id, err := q.Enqueue(ctx, "42", p, event.OriginExtractor)
		if err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}
		ids = append(ids, id)
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Failed to get depth: %v", err)
	}
	if depth != len(payloads) {
		t.Errorf("Expected depth %d, got %d", len(payloads), depth)
	}

	for i := range payloads {
		req, err := q.DequeueRequest(ctx)
		if err != nil {
			t.Fatalf("Failed to dequeue: %v", err)
		}
		if req == nil {
			t.Fatalf("Expected request %d, got nil", i)
		}
		if req.RequestID != ids[i] {
			t.Errorf("Request %d: expected id %s, got %s", i, ids[i], req.RequestID)
		}
		if req.SessionID != "42" {
			t.Errorf("Request %d: expected session 42, got %s", i, req.SessionID)
		}
		if req.Origin != event.OriginExtractor {
			t.Errorf("Request %d: expected extractor origin, got %s", i, req.Origin)
		}
		if req.Payload["type"] != payloads[i]["type"] {
			t.Errorf("Request %d: expected type %v, got %v", i, payloads[i]["type"], req.Payload["type"])
		}
	}

	// Queue should be empty now
	req, err := q.DequeueRequest(ctx)
	if err != nil {
		t.Fatalf("Failed to dequeue from empty queue: %v", err)
	}
	if req != nil {
		t.Errorf("Expected nil from empty queue, got %+v", req)
	}
}

func TestIngestQueue_PayloadNumbersSurvive(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewIngestQueue(client)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "1", map[string]any{"type": "damage", "characterId": 7, "amount": 12}, event.OriginAPI); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	req, err := q.DequeueRequest(ctx)
	if err != nil {
		t.Fatalf("Failed to dequeue: %v", err)
	}
	if n, ok := req.Payload["amount"].(json.Number); !ok || n.String() != "12" {
		t.Errorf("Expected json.Number 12 for amount, got %#v", req.Payload["amount"])
	}

	id, err := event.ParseCharacterID(req.Payload["characterId"])
	if err != nil {
		t.Fatalf("Failed to parse character id: %v", err)
	}
	if !id.IsNumeric() || id.String() != "7" {
		t.Errorf("Expected numeric character id 7, got %v", id)
	}
}

func TestIngestQueue_RequeueGoesToHead(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewIngestQueue(client)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "42", map[string]any{"type": "damage", "characterId": 1, "amount": 3}, event.OriginAPI); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	failed, err := q.DequeueRequest(ctx)
	if err != nil || failed == nil {
		t.Fatalf("Failed to dequeue: %v", err)
	}
	later, err := q.Enqueue(ctx, "42", map[string]any{"type": "turn_advance"}, event.OriginAPI)
	if err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	failed.Attempts++
	if err := q.RequeueRequest(ctx, failed); err != nil {
		t.Fatalf("Failed to requeue: %v", err)
	}

	first, err := q.DequeueRequest(ctx)
	if err != nil {
		t.Fatalf("Failed to dequeue: %v", err)
	}
	if first.RequestID != failed.RequestID {
		t.Errorf("Expected requeued request %s first, got %s", failed.RequestID, first.RequestID)
	}
	if first.Attempts != 1 {
		t.Errorf("Expected attempts 1, got %d", first.Attempts)
	}
	second, err := q.DequeueRequest(ctx)
	if err != nil {
		t.Fatalf("Failed to dequeue: %v", err)
	}
	if second.RequestID != later {
		t.Errorf("Expected request %s second, got %s", later, second.RequestID)
	}
}

func TestIngestQueue_BlockingDequeue(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewIngestQueue(client)
	ctx := context.Background()

	// Empty queue times out with nil
	req, err := q.BlockingDequeueRequest(ctx, time.Second)
	if err != nil {
		t.Fatalf("Unexpected error on timeout: %v", err)
	}
	if req != nil {
		t.Errorf("Expected nil after timeout, got %+v", req)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = q.Enqueue(context.Background(), "9", map[string]any{"type": "combat_end"}, event.OriginAPI)
	}()

	req, err = q.BlockingDequeueRequest(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to dequeue: %v", err)
	}
	if req == nil {
		t.Fatal("Expected a request, got nil")
	}
	if req.SessionID != "9" {
		t.Errorf("Expected session 9, got %s", req.SessionID)
	}
}
