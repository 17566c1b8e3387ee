package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/jwebster45206/combat-tracker/internal/engine"
	"github.com/jwebster45206/combat-tracker/pkg/combat"
	"github.com/jwebster45206/combat-tracker/pkg/event"
	"github.com/jwebster45206/combat-tracker/pkg/roster"
)

const maxBodyBytes = 1 << 20

// CharacterRequest is a roster member as sent over HTTP.
type CharacterRequest struct {
	ID        any    `json:"id"`
	Name      string `json:"name,omitempty"`
	MaxHP     int    `json:"maxHp"`
	CurrentHP *int   `json:"currentHp,omitempty"`
	AC        int    `json:"ac,omitempty"`
}

func (c CharacterRequest) character() (combat.Character, error) {
	m, err := roster.Spec{
		ID:        c.ID,
		Name:      c.Name,
		MaxHP:     c.MaxHP,
		CurrentHP: c.CurrentHP,
		AC:        c.AC,
	}.Build()
	if err != nil {
		return combat.Character{}, err
	}
	return m.Character, nil
}

type CreateSessionRequest struct {
	SessionID  string             `json:"sessionId"`
	Characters []CharacterRequest `json:"characters"`
}

// SubmitResponse is returned for a single submitted event.
type SubmitResponse struct {
	Event     event.Event `json:"event"`
	Duplicate bool        `json:"duplicate,omitempty"`
}

// BatchItem reports one entry of a batch submission.
type BatchItem struct {
	Event     *event.Event `json:"event,omitempty"`
	Duplicate bool         `json:"duplicate,omitempty"`
	Skipped   bool         `json:"skipped,omitempty"`
	Error     string       `json:"error,omitempty"`
}

type BatchResponse struct {
	Results []BatchItem `json:"results"`
}

type EventsResponse struct {
	Events []event.Event `json:"events"`
}

type ReplayResponse struct {
	Consistent bool               `json:"consistent"`
	Replayed   *combat.Projection `json:"replayed"`
	Stored     *combat.Projection `json:"stored"`
}

type SessionHandler struct {
	engine *engine.Engine
	stream http.Handler
	logger *slog.Logger
}

// NewSessionHandler serves the session API. stream may be nil when no
// pub/sub backend is configured.
func NewSessionHandler(eng *engine.Engine, stream http.Handler, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		engine: eng,
		stream: stream,
		logger: logger,
	}
}

// ServeHTTP handles HTTP requests for combat sessions
// Routes:
// POST   /v1/sessions                  - Create a session with a roster
// GET    /v1/sessions/{id}             - Full projection
// DELETE /v1/sessions/{id}             - Delete session state and log
// POST   /v1/sessions/{id}/characters  - Add or replace a roster member
// POST   /v1/sessions/{id}/events      - Submit one event or an array
// GET    /v1/sessions/{id}/events      - Recent events (?limit=N)
// GET    /v1/sessions/{id}/combat      - Combat context
// GET    /v1/sessions/{id}/replay      - Rebuild from the log and compare
// GET    /v1/sessions/{id}/stream      - Server-sent events
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sessions"), "/")
	var parts []string
	if rest != "" {
		parts = strings.Split(rest, "/")
	}

	switch {
	case len(parts) == 0:
		if r.Method != http.MethodPost {
			h.methodNotAllowed(w, r, "POST")
			return
		}
		h.handleCreate(w, r)

	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.handleGet(w, r, parts[0])
		case http.MethodDelete:
			h.handleDelete(w, r, parts[0])
		default:
			h.methodNotAllowed(w, r, "GET, DELETE")
		}

	case len(parts) == 2:
		id := parts[0]
		switch parts[1] {
		case "characters":
			if r.Method != http.MethodPost {
				h.methodNotAllowed(w, r, "POST")
				return
			}
			h.handleAddCharacter(w, r, id)
		case "events":
			switch r.Method {
			case http.MethodPost:
				h.handleSubmit(w, r, id)
			case http.MethodGet:
				h.handleListEvents(w, r, id)
			default:
				h.methodNotAllowed(w, r, "GET, POST")
			}
		case "combat":
			if r.Method != http.MethodGet {
				h.methodNotAllowed(w, r, "GET")
				return
			}
			h.handleCombat(w, r, id)
		case "replay":
			if r.Method != http.MethodGet {
				h.methodNotAllowed(w, r, "GET")
				return
			}
			h.handleReplay(w, r, id)
		case "stream":
			if h.stream == nil {
				writeError(w, h.logger, http.StatusNotFound, "Event stream is not enabled")
				return
			}
			h.stream.ServeHTTP(w, r)
		default:
			writeError(w, h.logger, http.StatusNotFound, "Not found")
		}

	default:
		writeError(w, h.logger, http.StatusNotFound, "Not found")
	}
}

func (h *SessionHandler) methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	h.logger.Warn("Method not allowed for session endpoint", "method", r.Method, "path", r.URL.Path)
	w.Header().Set("Allow", allowed)
	writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Supported methods: "+allowed)
}

func (h *SessionHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}

	chars := make([]combat.Character, 0, len(req.Characters))
	seen := make(map[string]bool, len(req.Characters))
	for i, cr := range req.Characters {
		c, err := cr.character()
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, fmt.Sprintf("character %d: %v", i+1, err))
			return
		}
		if seen[c.ID.String()] {
			writeError(w, h.logger, http.StatusBadRequest, fmt.Sprintf("character %d: duplicate id %q", i+1, c.ID))
			return
		}
		seen[c.ID.String()] = true
		chars = append(chars, c)
	}

	p, err := h.engine.CreateSession(r.Context(), strings.TrimSpace(req.SessionID), chars)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, p)
}

func (h *SessionHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	p, err := h.engine.Projection(r.Context(), id)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, p)
}

func (h *SessionHandler) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.engine.DeleteSession(r.Context(), id); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) handleAddCharacter(w http.ResponseWriter, r *http.Request, id string) {
	var req CharacterRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	c, err := req.character()
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	p, err := h.engine.AddCharacter(r.Context(), id, c)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, p)
}

func (h *SessionHandler) handleSubmit(w http.ResponseWriter, r *http.Request, id string) {
	origin, err := parseOrigin(r.URL.Query().Get("origin"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Failed to read request body")
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		writeError(w, h.logger, http.StatusBadRequest, "Request body is empty")
		return
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	if body[0] == '[' {
		var raws []map[string]any
		if err := dec.Decode(&raws); err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON array in request body")
			return
		}
		results, err := h.engine.SubmitBatch(r.Context(), id, raws, origin)
		if err != nil {
			writeErr(w, h.logger, err)
			return
		}
		resp := BatchResponse{Results: make([]BatchItem, len(results))}
		for i, res := range results {
			item := BatchItem{Event: res.Event, Duplicate: res.Duplicate, Skipped: res.Skipped}
			if res.Err != nil {
				item.Error = res.Err.Error()
			}
			resp.Results[i] = item
		}
		writeJSON(w, h.logger, http.StatusOK, resp)
		return
	}

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	results, err := h.engine.SubmitBatch(r.Context(), id, []map[string]any{raw}, origin)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	res := results[0]
	if res.Err != nil {
		writeErr(w, h.logger, res.Err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, h.logger, status, SubmitResponse{Event: *res.Event, Duplicate: res.Duplicate})
}

func (h *SessionHandler) handleListEvents(w http.ResponseWriter, r *http.Request, id string) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, h.logger, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	events, err := h.engine.Events(r.Context(), id, limit)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, h.logger, http.StatusOK, EventsResponse{Events: events})
}

func (h *SessionHandler) handleCombat(w http.ResponseWriter, r *http.Request, id string) {
	c, err := h.engine.CombatContext(r.Context(), id)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, c)
}

func (h *SessionHandler) handleReplay(w http.ResponseWriter, r *http.Request, id string) {
	replayed, stored, err := h.engine.Replay(r.Context(), id)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, ReplayResponse{
		Consistent: combat.Equivalent(replayed, stored),
		Replayed:   replayed,
		Stored:     stored,
	})
}

var errBadOrigin = errors.New("origin must be \"api\" or \"extractor\"")

func parseOrigin(s string) (event.Origin, error) {
	switch event.Origin(strings.ToLower(strings.TrimSpace(s))) {
	case "", event.OriginAPI:
		return event.OriginAPI, nil
	case event.OriginExtractor:
		return event.OriginExtractor, nil
	default:
		return "", errBadOrigin
	}
}
