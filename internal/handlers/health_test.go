package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jwebster45206/combat-tracker/internal/storage"
)

func TestHealthHandler_ServeHTTP(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // Reduce noise in tests
	}))

	tests := []struct {
		name           string
		setupStore     func() *storage.MockStore
		expectedStatus int
		expectedHealth string
		expectedStore  string
	}{
		{
			name:           "all healthy",
			setupStore:     storage.NewMockStore,
			expectedStatus: http.StatusOK,
			expectedHealth: "healthy",
			expectedStore:  "healthy",
		},
		{
			name: "unhealthy store",
			setupStore: func() *storage.MockStore {
				store := storage.NewMockStore()
				store.SetPingError(errors.New("connection failed"))
				return store
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedHealth: "degraded",
			expectedStore:  "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(tt.setupStore(), logger)

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if rr.Header().Get("Content-Type") != "application/json" {
				t.Errorf("Expected Content-Type application/json, got %s", rr.Header().Get("Content-Type"))
			}

			var response HealthResponse
			if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}

			if response.Status != tt.expectedHealth {
				t.Errorf("Expected status '%s', got '%s'", tt.expectedHealth, response.Status)
			}
			if response.Service != "combat-tracker" {
				t.Errorf("Expected service 'combat-tracker', got '%s'", response.Service)
			}

			storeComponent, exists := response.Components["store"]
			if !exists {
				t.Error("Expected store component in response")
			} else if storeComponent != tt.expectedStore {
				t.Errorf("Expected store status '%s', got '%v'", tt.expectedStore, storeComponent)
			}

			// Check timestamp is recent
			if diff := time.Since(response.Timestamp); diff > time.Second {
				t.Errorf("Health check timestamp seems old: %v", diff)
			}
		})
	}
}
