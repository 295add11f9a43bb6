package main

import (
	"context"
	"strings"

	"github.com/harunnryd/sitewise/internal/daemon/components"
	"github.com/harunnryd/sitewise/internal/logger"
	"github.com/harunnryd/sitewise/internal/model/contract"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Ask a single question and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modelName, _ := cmd.Flags().GetString("model")
		noStream, _ := cmd.Flags().GetBool("no-stream")
		sessionID, _ := cmd.Flags().GetString("session")

		return executeWithEngine(cmd, func(ctx context.Context, set *components.Set) error {
			ctrl, err := set.Engine.Controller(modelName)
			if err != nil {
				return err
			}
			if sessionID != "" {
				ctx = logger.WithSessionID(ctx, sessionID)
			}

			runner := &turnRunner{ctrl: ctrl, out: cmd.OutOrStdout(), stream: !noStream}
			_, err = runner.run(ctx, []contract.Message{{Role: contract.RoleUser, Content: strings.Join(args, " ")}})
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().String("model", "", "model name from the registry (default models.default)")
	askCmd.Flags().Bool("no-stream", false, "print the answer once the run finished")
	askCmd.Flags().String("session", "", "record the transcript under this session id")
}
