package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jwebster45206/combat-tracker/internal/apiclient"
	"github.com/jwebster45206/combat-tracker/pkg/roster"
)

type ConsoleConfig struct {
	APIBaseURL string
	SessionID  string
	Timeout    time.Duration
}

// Usage: console [roster.yaml]
// With a roster file the session is created (or joined if it exists);
// otherwise SESSION_ID names the session to follow.
func main() {
	cfg := &ConsoleConfig{
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8080"),
		SessionID:  os.Getenv("SESSION_ID"),
		Timeout:    30 * time.Second,
	}

	client := apiclient.New(cfg.APIBaseURL, cfg.Timeout)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if !client.Healthy(ctx) {
		fmt.Fprintf(os.Stderr, "Could not connect to API. Please ensure the API is running.\nTry: docker-compose up -d\n")
		os.Exit(1)
	}

	if len(os.Args) > 1 {
		sessionID, err := createFromRoster(ctx, client, os.Args[1], cfg.SessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start session: %v\n", err)
			os.Exit(1)
		}
		cfg.SessionID = sessionID
	}
	if cfg.SessionID == "" {
		fmt.Fprintf(os.Stderr, "Set SESSION_ID or pass a roster file\n")
		os.Exit(1)
	}

	p := tea.NewProgram(NewConsoleUI(cfg, client),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}

func createFromRoster(ctx context.Context, client *apiclient.Client, path, sessionID string) (string, error) {
	f, err := roster.Load(path)
	if err != nil {
		return "", err
	}
	req := apiclient.SessionRequest(f, sessionID)

	_, err = client.CreateSession(ctx, req)
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		// Already running; join it.
		return req.SessionID, nil
	}
	return req.SessionID, err
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
