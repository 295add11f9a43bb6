package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/sitewise/internal/store"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect recorded sessions",
	Long:  `List, show and reset the transcripts recorded in the store.`,
}

var sessionsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		return executeWithStore(cmd, func(ctx context.Context, worker *store.Worker) error {
			sessions, err := worker.ListSessions(ctx)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				fmt.Fprintln(out, "\nRun 'sitewise chat' to create your first session.")
				return nil
			}

			fmt.Fprintln(out, "Sessions:")
			for _, s := range sessions {
				fmt.Fprintf(out, "- %s  %s  runs=%d steps=%d  %q\n",
					s.ID, s.UpdatedAt.Local().Format(time.DateTime), s.Runs, s.Steps, s.Title)
			}
			fmt.Fprintf(out, "\nTotal: %d session(s)\n", len(sessions))
			return nil
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		out := cmd.OutOrStdout()

		return executeWithStore(cmd, func(ctx context.Context, worker *store.Worker) error {
			entries, err := worker.ReadTranscript(ctx, args[0], limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(out, "[%s] run=%s step=%d %s", e.Timestamp.Local().Format(time.TimeOnly), e.RunID, e.Step, e.Role)
				if e.Name != "" {
					fmt.Fprintf(out, " (%s)", e.Name)
				}
				fmt.Fprintln(out)
				if content := strings.TrimSpace(e.Content); content != "" {
					fmt.Fprintln(out, "  "+strings.ReplaceAll(content, "\n", "\n  "))
				}
				for _, call := range e.ToolCalls {
					fmt.Fprintf(out, "  → %s %s\n", call.Name, call.Input)
				}
			}
			return nil
		})
	},
}

var sessionsResetCmd = &cobra.Command{
	Use:   "reset [id]",
	Short: "Reset a session (delete its transcript)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeWithStore(cmd, func(ctx context.Context, worker *store.Worker) error {
			if err := worker.ResetSession(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Session '%s' reset successfully.\n", args[0])
			return nil
		})
	},
}

func init() {
	sessionsShowCmd.Flags().Int("limit", 0, "show only the last N entries")
	sessionsCmd.AddCommand(sessionsLsCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsResetCmd)
	rootCmd.AddCommand(sessionsCmd)
}
