package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jwebster45206/combat-tracker/internal/apiclient"
	"github.com/jwebster45206/combat-tracker/pkg/roster"
)

func rosterCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Work with roster files",
	}
	cmd.AddCommand(rosterValidateCmd())
	cmd.AddCommand(rosterCreateCmd(flags))
	return cmd
}

func rosterValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a roster file and print its characters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := roster.Load(args[0])
			if err != nil {
				return err
			}
			members, err := f.Build()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tHP\tAC")
			for _, m := range members {
				fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\n", m.Character.ID, m.Character.Name, m.Actor.HP(), m.Actor.MaxHP(), m.Actor.AC())
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d characters OK\n", len(members))
			return nil
		},
	}
}

func rosterCreateCmd(flags *globalFlags) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "create <file>",
		Short: "Create a session from a roster file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := roster.Load(args[0])
			if err != nil {
				return err
			}
			if _, err := f.Build(); err != nil {
				return err
			}
			req := apiclient.SessionRequest(f, sessionID)

			p, err := flags.client().CreateSession(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created session %s with %d characters\n", p.SessionID, len(p.Characters))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (defaults to the file's session)")
	return cmd
}
