package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/combat-tracker/internal/engine"
	"github.com/jwebster45206/combat-tracker/internal/storage"
	"github.com/jwebster45206/combat-tracker/pkg/combat"
	"github.com/jwebster45206/combat-tracker/pkg/event"
	"github.com/jwebster45206/combat-tracker/pkg/roster"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps an error class to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, event.ErrValidation),
		errors.Is(err, roster.ErrInvalidRoster),
		errors.Is(err, engine.ErrSessionIDRequired):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrSessionExists),
		errors.Is(err, combat.ErrState):
		return http.StatusConflict
	case errors.Is(err, storage.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, msg string) {
	writeJSON(w, logger, status, ErrorResponse{Error: msg})
}

// writeErr reports err with the status its class maps to. Unclassified
// errors are logged and hidden from the caller.
func writeErr(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Unhandled error", "error", err)
		msg = "Internal server error"
	}
	writeError(w, logger, status, msg)
}
