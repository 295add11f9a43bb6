package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/sitewise/internal/config"
	"github.com/harunnryd/sitewise/internal/daemon"
	"github.com/harunnryd/sitewise/internal/store"
)

const StoreComponentName = "Store"

type StoreComponent struct {
	cfg         config.StoreConfig
	worker      *store.Worker
	initialized bool
	started     bool
	mu          sync.RWMutex
}

func NewStoreComponent(cfg config.StoreConfig) *StoreComponent {
	return &StoreComponent{cfg: cfg}
}

func (s *StoreComponent) Name() string {
	return StoreComponentName
}

func (s *StoreComponent) Dependencies() []string {
	return []string{}
}

func (s *StoreComponent) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-ctx.Done():
		return fmt.Errorf("store init cancelled: %w", ctx.Err())
	default:
	}

	runtimeCfg, err := store.RuntimeConfigFrom(s.cfg)
	if err != nil {
		return err
	}

	worker, err := store.NewWorker(s.cfg.Path, runtimeCfg)
	if err != nil {
		return fmt.Errorf("failed to init store worker: %w", err)
	}

	s.worker = worker
	s.initialized = true
	slog.Info("Store initialized", "component", s.Name(), "path", worker.Root())
	return nil
}

func (s *StoreComponent) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return fmt.Errorf("store not initialized")
	}

	s.worker.Start()
	s.started = true
	return nil
}

// Stop stops the worker loop and releases the store lock. An initialized but never started
// worker still holds the lock, so it is stopped as well.
func (s *StoreComponent) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil
	}

	s.worker.Stop()
	s.started = false
	s.initialized = false
	slog.Info("Store stopped", "component", s.Name())
	return nil
}

func (s *StoreComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case !s.initialized:
		return daemon.Unhealthy(s.Name(), fmt.Errorf("not initialized")), nil
	case !s.started:
		return daemon.Unhealthy(s.Name(), fmt.Errorf("not started")), nil
	case !s.worker.IsLockHeld():
		return daemon.Unhealthy(s.Name(), fmt.Errorf("lock not held")), nil
	case !s.worker.IsRunning():
		return daemon.Unhealthy(s.Name(), fmt.Errorf("loop not running")), nil
	}
	return daemon.Healthy(s.Name()), nil
}

func (s *StoreComponent) GetWorker() *store.Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worker
}
