package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/harunnryd/sitewise/internal/config"
	"github.com/harunnryd/sitewise/internal/daemon"
	"github.com/harunnryd/sitewise/internal/daemon/components"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API over HTTP",
	Long:  `Starts the HTTP API (POST /v1/chat, GET /healthz, GET /status) and runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		forceClean, _ := cmd.Flags().GetBool("force-clean-locks")

		loadedCfg, err := loadConfigForCommand(cmd)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		d, err := daemon.New(loadedCfg)
		if err != nil {
			return fmt.Errorf("failed to create daemon manager: %w", err)
		}
		d.SetForceCleanup(forceClean)
		components.Register(d, loadedCfg, true)

		slog.Info("Sitewise server starting up...", "port", loadedCfg.Server.Port)
		if err := d.Run(commandContext(cmd)); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("Sitewise server stopped gracefully")
				return nil
			}
			return fmt.Errorf("server failed: %w", err)
		}

		slog.Info("Sitewise server stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("server.port", config.DefaultServerPort, "server port")
	serveCmd.Flags().Bool("force-clean-locks", false, "Force cleanup of stale lock files (default: warn-only)")
}
