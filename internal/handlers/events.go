package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jwebster45206/combat-tracker/internal/services/events"
	"github.com/redis/go-redis/v9"
)

// Subscriber opens a pub/sub subscription for one session.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) *redis.PubSub
}

// EventsHandler handles Server-Sent Events (SSE) for live session updates
type EventsHandler struct {
	subscriber Subscriber
	keepalive  time.Duration
	logger     *slog.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(subscriber Subscriber, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		subscriber: subscriber,
		keepalive:  30 * time.Second,
		logger:     logger,
	}
}

// ServeHTTP handles SSE requests for session events
// GET /v1/sessions/{id}/stream
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.logger.Warn("Method not allowed for events endpoint",
			"method", r.Method,
			"path", r.URL.Path)
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
		return
	}

	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) != 4 || pathParts[0] != "v1" || pathParts[1] != "sessions" || pathParts[3] != "stream" {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid path. Expected /v1/sessions/{id}/stream")
		return
	}
	sessionID := pathParts[2]

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, h.logger, http.StatusInternalServerError, "Streaming is not supported")
		return
	}

	pubsub := h.subscriber.Subscribe(r.Context(), sessionID)
	defer func() {
		if err := pubsub.Close(); err != nil {
			h.logger.Error("Failed to close pubsub", "error", err)
		}
	}()
	// Wait for the subscription to be confirmed so nothing published after
	// "connected" is missed.
	if _, err := pubsub.Receive(r.Context()); err != nil {
		h.logger.Error("Failed to subscribe", "error", err, "session_id", sessionID)
		writeError(w, h.logger, http.StatusServiceUnavailable, "Event stream unavailable")
		return
	}

	h.logger.Info("SSE connection established",
		"session_id", sessionID,
		"remote_addr", r.RemoteAddr)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	msgChan := pubsub.Channel()

	keepaliveTicker := time.NewTicker(h.keepalive)
	defer keepaliveTicker.Stop()

	h.sendSSE(w, flusher, "connected", map[string]any{
		"session_id": sessionID,
		"message":    "Connected to event stream",
	})

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE client disconnected", "session_id", sessionID)
			return

		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			m, err := events.Decode(msg.Payload)
			if err != nil {
				h.logger.Error("Failed to unmarshal message", "error", err, "payload", msg.Payload)
				continue
			}
			h.sendSSE(w, flusher, string(m.Type), m.Data)

		case <-keepaliveTicker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				h.logger.Error("Failed to write keepalive", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// sendSSE sends a Server-Sent Event to the client
func (h *EventsHandler) sendSSE(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("Failed to marshal SSE data", "error", err)
		return
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, dataJSON); err != nil {
		h.logger.Error("Failed to write event", "error", err)
		return
	}
	flusher.Flush()
}
