package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jwebster45206/combat-tracker/internal/apiclient"
)

var version = "dev"

type globalFlags struct {
	apiURL  string
	timeout time.Duration
}

func main() {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:          "combatctl",
		Short:        "Operate combat tracker sessions",
		SilenceUsage: true,
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&flags.apiURL, "api", envOr("API_BASE_URL", "http://localhost:8080"), "combat tracker API base URL")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 30*time.Second, "HTTP request timeout")

	root.AddCommand(submitCmd(flags))
	root.AddCommand(contextCmd(flags))
	root.AddCommand(eventsCmd(flags))
	root.AddCommand(replayCmd(flags))
	root.AddCommand(enqueueCmd())
	root.AddCommand(mcpCmd())
	root.AddCommand(rosterCmd(flags))
	root.AddCommand(versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func (f *globalFlags) client() *apiclient.Client {
	return apiclient.New(f.apiURL, f.timeout)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print combatctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}
