package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func submitCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <session> <payload|->",
		Short: "Submit an event payload or an array of payloads",
		Long:  "Submit a JSON event payload. Pass - to read it from stdin. An array is submitted as a batch.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPayload(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}

			dec := json.NewDecoder(bytes.NewReader(data))
			dec.UseNumber()
			client := flags.client()

			if data[0] == '[' {
				var raws []map[string]any
				if err := dec.Decode(&raws); err != nil {
					return fmt.Errorf("invalid payload array: %w", err)
				}
				res, err := client.SubmitBatch(cmd.Context(), args[0], raws)
				if err != nil {
					return err
				}
				failed := 0
				for i, item := range res.Results {
					switch {
					case item.Error != "":
						failed++
						fmt.Fprintf(cmd.OutOrStdout(), "%3d  rejected   %s\n", i+1, item.Error)
					case item.Duplicate:
						fmt.Fprintf(cmd.OutOrStdout(), "%3d  duplicate  %s\n", i+1, item.Event.ID)
					default:
						fmt.Fprintf(cmd.OutOrStdout(), "%3d  applied    %s %s\n", i+1, item.Event.ID, item.Event.Type)
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d events rejected", failed, len(res.Results))
				}
				return nil
			}

			var raw map[string]any
			if err := dec.Decode(&raw); err != nil {
				return fmt.Errorf("invalid payload: %w", err)
			}
			res, err := client.Submit(cmd.Context(), args[0], raw)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func contextCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "context <session>",
		Short: "Print the combat context of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := flags.client().CombatContext(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cc)
		},
	}
}

func eventsCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events <session>",
		Short: "Print the session event log, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := flags.client().Events(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "only the most recent N events")
	return cmd
}

func replayCmd(flags *globalFlags) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "replay <session>",
		Short: "Rebuild a session from its log and compare with the stored state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := flags.client().Replay(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if verbose || !res.Consistent {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			}
			if !res.Consistent {
				return fmt.Errorf("session %s: replayed state differs from stored state", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Replay matches stored state.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print both projections")
	return cmd
}

func readPayload(stdin io.Reader, arg string) ([]byte, error) {
	var data []byte
	if arg == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		data = b
	} else {
		data = []byte(arg)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}
	if !strings.ContainsAny(string(data[:1]), "{[") {
		return nil, fmt.Errorf("payload must be a JSON object or array")
	}
	return data, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
