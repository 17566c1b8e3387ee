package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/combat-tracker/internal/storage"
	"github.com/jwebster45206/combat-tracker/pkg/combat"
	"github.com/jwebster45206/combat-tracker/pkg/event"
	queuePkg "github.com/jwebster45206/combat-tracker/pkg/queue"
)

const (
	workerTimeout = 5 * time.Second
	maxAttempts   = 3
)

// Submitter applies one raw event to a session.
type Submitter interface {
	Submit(ctx context.Context, sessionID string, raw map[string]any, origin event.Origin) (event.Event, error)
}

// Queue is the ingest queue a worker drains.
type Queue interface {
	BlockingDequeueRequest(ctx context.Context, timeout time.Duration) (*queuePkg.Request, error)
	RequeueRequest(ctx context.Context, req *queuePkg.Request) error
}

// Worker processes raw events from the ingest queue
type Worker struct {
	id     string
	queue  Queue
	engine Submitter
	wait   time.Duration
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new worker instance
func New(q Queue, engine Submitter, log *slog.Logger, workerID string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	return &Worker{
		id:     workerID,
		queue:  q,
		engine: engine,
		wait:   workerTimeout,
		log:    log.With("worker_id", workerID),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the worker's identifier.
func (w *Worker) ID() string {
	return w.id
}

// Start begins processing requests from the queue
func (w *Worker) Start() error {
	w.log.Info("Worker starting")

	for {
		select {
		case <-w.ctx.Done():
			w.log.Info("Worker shutting down")
			return nil
		default:
			if _, err := w.processNextRequest(); err != nil {
				w.log.Error("Error processing request", "error", err)
				// Continue processing even on error
				select {
				case <-w.ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.log.Info("Worker stop requested")
	w.cancel()
}

// processNextRequest pulls the next request from the queue and submits it.
// It reports whether a request was handled.
func (w *Worker) processNextRequest() (bool, error) {
	req, err := w.queue.BlockingDequeueRequest(w.ctx, w.wait)
	if err != nil {
		return false, fmt.Errorf("failed to dequeue request: %w", err)
	}
	if req == nil {
		// Timeout or shutdown - this is normal
		return false, nil
	}
	return true, w.processRequest(req)
}

// processRequest submits a single request. Validation and state failures
// are final; the engine already broadcast the rejection. Persistence
// failures are requeued at the head a bounded number of times.
func (w *Worker) processRequest(req *queuePkg.Request) error {
	log := w.log.With(
		"request_id", req.RequestID,
		"session_id", req.SessionID,
	)
	start := time.Now()

	e, err := w.engine.Submit(w.ctx, req.SessionID, req.Payload, req.Origin)
	switch {
	case err == nil:
		log.Info("Request processed",
			"event_id", e.ID,
			"event_type", e.Type,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	case errors.Is(err, event.ErrValidation), errors.Is(err, combat.ErrState):
		log.Info("Request rejected", "error", err)
		return nil
	case errors.Is(err, storage.ErrSessionNotFound):
		log.Warn("Dropping request for unknown session")
		return nil
	}

	if req.Attempts+1 >= maxAttempts {
		log.Error("Giving up on request", "error", err, "attempts", req.Attempts+1)
		return fmt.Errorf("request %s failed: %w", req.RequestID, err)
	}
	req.Attempts++
	log.Warn("Re-queueing request after failure", "error", err, "attempts", req.Attempts)
	// Back at the head so later events for the session cannot overtake it.
	if qerr := w.queue.RequeueRequest(w.ctx, req); qerr != nil {
		return fmt.Errorf("failed to re-queue request: %w", qerr)
	}
	return nil
}
