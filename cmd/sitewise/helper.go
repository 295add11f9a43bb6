package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/sitewise/internal/config"
	"github.com/harunnryd/sitewise/internal/daemon"
	"github.com/harunnryd/sitewise/internal/daemon/components"
	"github.com/harunnryd/sitewise/internal/store"

	"github.com/spf13/cobra"
)

func loadConfigForCommand(cmd *cobra.Command) (*config.Config, error) {
	if cfg != nil {
		return cfg, nil
	}
	return config.Load(cmd)
}

// executeWithEngine boots store, telemetry and engine for the duration of fn.
func executeWithEngine(cmd *cobra.Command, fn func(ctx context.Context, set *components.Set) error) error {
	loadedCfg, err := loadConfigForCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	d, err := daemon.New(loadedCfg)
	if err != nil {
		return err
	}
	set := components.Register(d, loadedCfg, false)
	if err := d.Boot(ctx); err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer func() {
		shutdownTimeout, _ := config.DurationOrDefault(loadedCfg.Server.ShutdownTimeout, config.DefaultServerShutdownTimeout)
		_ = d.Shutdown(context.Background(), shutdownTimeout)
	}()

	return fn(ctx, set)
}

// executeWithStore opens the store without any model backend.
func executeWithStore(cmd *cobra.Command, fn func(ctx context.Context, worker *store.Worker) error) error {
	loadedCfg, err := loadConfigForCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	runtimeCfg, err := store.RuntimeConfigFrom(loadedCfg.Store)
	if err != nil {
		return err
	}
	worker, err := store.NewWorker(loadedCfg.Store.Path, runtimeCfg)
	if err != nil {
		return err
	}
	worker.Start()
	defer worker.Stop()

	return fn(commandContext(cmd), worker)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
