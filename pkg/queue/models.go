package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jwebster45206/combat-tracker/pkg/event"
)

// Request is one raw event waiting on the ingest queue
type Request struct {
	RequestID string         `json:"request_id"`
	SessionID string         `json:"session_id"`
	Origin    event.Origin   `json:"origin"`
	Payload   map[string]any `json:"payload"`

	// Attempts counts how often a worker has requeued this request
	Attempts int `json:"attempts,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ToJSON converts the request to JSON bytes for Redis
func (r *Request) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON parses a request from JSON bytes. Numbers in the payload are
// kept as json.Number so integer fields survive untouched.
func FromJSON(data []byte) (*Request, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var req Request
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if req.Origin == "" {
		req.Origin = event.OriginAPI
	}
	return &req, nil
}
