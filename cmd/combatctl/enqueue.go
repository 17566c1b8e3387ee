package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jwebster45206/combat-tracker/internal/services/queue"
	"github.com/jwebster45206/combat-tracker/pkg/event"
)

func enqueueCmd() *cobra.Command {
	var (
		redisURL string
		origin   string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <session> <payload|->",
		Short: "Push an event payload onto the ingest queue for the worker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o := event.Origin(origin)
			if o != event.OriginAPI && o != event.OriginExtractor {
				return fmt.Errorf("--origin must be %q or %q", event.OriginAPI, event.OriginExtractor)
			}

			data, err := readPayload(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}
			dec := json.NewDecoder(bytes.NewReader(data))
			dec.UseNumber()

			var payloads []map[string]any
			if data[0] == '[' {
				err = dec.Decode(&payloads)
			} else {
				var raw map[string]any
				err = dec.Decode(&raw)
				payloads = append(payloads, raw)
			}
			if err != nil {
				return fmt.Errorf("invalid payload: %w", err)
			}

			client, err := queue.NewClient(redisURL, slog.New(slog.DiscardHandler))
			if err != nil {
				return err
			}
			defer client.Close()
			q := queue.NewIngestQueue(client)

			for _, raw := range payloads {
				id, err := q.Enqueue(cmd.Context(), args[0], raw, o)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s\n", id)
			}

			depth, err := q.Depth(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queue depth: %d\n", depth)
			return nil
		},
	}
	cmd.Flags().StringVar(&redisURL, "redis", envOr("REDIS_URL", "redis://localhost:6379"), "Redis URL")
	cmd.Flags().StringVar(&origin, "origin", string(event.OriginAPI), "payload origin: api or extractor")
	return cmd
}
