package apiclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jwebster45206/combat-tracker/internal/handlers"
	"github.com/jwebster45206/combat-tracker/pkg/combat"
	"github.com/jwebster45206/combat-tracker/pkg/event"
	"github.com/jwebster45206/combat-tracker/pkg/roster"
)

// APIError is a non-2xx response from the combat API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.Status, e.Message)
}

// Client talks to the combat tracker HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Healthy reports whether /health answers 200.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) CreateSession(ctx context.Context, req handlers.CreateSessionRequest) (*combat.Projection, error) {
	var p combat.Projection
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) CombatContext(ctx context.Context, sessionID string) (*combat.Context, error) {
	var cc combat.Context
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "combat"), nil, &cc); err != nil {
		return nil, err
	}
	return &cc, nil
}

// Submit sends one raw event payload.
func (c *Client) Submit(ctx context.Context, sessionID string, raw map[string]any) (*handlers.SubmitResponse, error) {
	var out handlers.SubmitResponse
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "events"), raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitBatch sends an array of payloads and returns the per-item results.
func (c *Client) SubmitBatch(ctx context.Context, sessionID string, raws []map[string]any) (*handlers.BatchResponse, error) {
	var out handlers.BatchResponse
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "events"), raws, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Events(ctx context.Context, sessionID string, limit int) ([]event.Event, error) {
	path := sessionPath(sessionID, "events")
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var out handlers.EventsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *Client) Replay(ctx context.Context, sessionID string) (*handlers.ReplayResponse, error) {
	var out handlers.ReplayResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "replay"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errorResp handlers.ErrorResponse
		if err := json.Unmarshal(data, &errorResp); err != nil || errorResp.Error == "" {
			return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		}
		return &APIError{Status: resp.StatusCode, Message: errorResp.Error}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func sessionPath(sessionID, resource string) string {
	return "/v1/sessions/" + url.PathEscape(sessionID) + "/" + resource
}

// StreamEvent is one frame from the session event stream.
type StreamEvent struct {
	Type string
	Data map[string]any
}

// Stream follows the session's server-sent events until ctx is done or the
// server closes the connection. It uses its own client with no timeout.
func (c *Client) Stream(ctx context.Context, sessionID string, eventChan chan<- StreamEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+sessionPath(sessionID, "stream"), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := (&http.Client{Transport: c.http.Transport}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	scanner := bufio.NewScanner(resp.Body)
	var current StreamEvent
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			// Empty line ends a frame
			if current.Type != "" {
				select {
				case eventChan <- current:
				case <-ctx.Done():
					return ctx.Err()
				}
				current = StreamEvent{}
			}
			continue
		}

		if strings.HasPrefix(line, "event: ") {
			current.Type = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") {
			var data map[string]any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &data); err == nil {
				current.Data = data
			}
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error reading event stream: %w", err)
	}
	return ctx.Err()
}

// SessionRequest builds a create-session body from a roster file. An empty
// sessionID falls back to the file's session.
func SessionRequest(f *roster.File, sessionID string) handlers.CreateSessionRequest {
	if sessionID == "" {
		sessionID = f.Session
	}
	req := handlers.CreateSessionRequest{SessionID: sessionID}
	for _, s := range f.Characters {
		req.Characters = append(req.Characters, handlers.CharacterRequest{
			ID:        s.ID,
			Name:      s.Name,
			MaxHP:     s.MaxHP,
			CurrentHP: s.CurrentHP,
			AC:        s.AC,
		})
	}
	return req
}
