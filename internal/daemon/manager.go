package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harunnryd/sitewise/internal/config"
	"github.com/harunnryd/sitewise/internal/store"
)

const (
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultStaleLockTTL        = 24 * time.Hour
)

// Daemon initializes components in dependency order, starts them, and stops them in reverse.
type Daemon struct {
	cfg                 *config.Config
	components          []Component
	initOrder           []string
	started             []string
	health              HealthStatus
	uptimeStart         time.Time
	mu                  sync.RWMutex
	healthCheckInterval time.Duration
	forceCleanup        bool
}

func New(cfg *config.Config) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	return &Daemon{
		cfg:                 cfg,
		health:              StatusStopped,
		healthCheckInterval: DefaultHealthCheckInterval,
	}, nil
}

func (d *Daemon) AddComponent(comp Component) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.components = append(d.components, comp)
	slog.Debug("Component registered", "component", comp.Name(), "total_components", len(d.components))
}

func (d *Daemon) SetForceCleanup(force bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forceCleanup = force
}

// Boot initializes and starts every component. On failure the components that were brought
// up are stopped again.
func (d *Daemon) Boot(ctx context.Context) error {
	d.setHealth(StatusStarting)
	d.uptimeStart = time.Now()

	d.preInitChecks()

	if err := d.initializeComponents(ctx); err != nil {
		d.shutdownComponents(context.Background())
		return fmt.Errorf("component initialization failed: %w", err)
	}
	if err := d.startComponents(ctx); err != nil {
		d.shutdownComponents(context.Background())
		return fmt.Errorf("component startup failed: %w", err)
	}

	d.setHealth(StatusRunning)
	slog.Info("Sitewise is running", "components", len(d.components))
	return nil
}

// Run boots the daemon, blocks until ctx is done or a termination signal arrives, then shuts down.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Boot(ctx); err != nil {
		return err
	}

	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	go d.startHealthMonitor(monitorCtx)

	<-ctx.Done()
	cancelMonitor()
	slog.Info("Shutting down", "reason", ctx.Err())

	shutdownTimeout, err := config.DurationOrDefault(d.cfg.Server.ShutdownTimeout, config.DefaultServerShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse server shutdown timeout: %w", err)
	}
	if err := d.Shutdown(context.Background(), shutdownTimeout); err != nil {
		return err
	}

	if errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
		return ctx.Err()
	}
	return nil
}

// Shutdown stops started components in reverse start order within timeout.
func (d *Daemon) Shutdown(ctx context.Context, timeout time.Duration) error {
	d.setHealth(StatusStopping)

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.shutdownComponents(shutdownCtx)
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("shutdown cancelled: %w", ctx.Err())
		}
		slog.Error("Shutdown timeout exceeded", "timeout", timeout)
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.health
}

func (d *Daemon) Uptime() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.health != StatusRunning {
		return 0
	}
	return time.Since(d.uptimeStart)
}

func (d *Daemon) ComponentHealth(ctx context.Context) map[string]*ComponentHealth {
	d.mu.RLock()
	components := make([]Component, len(d.components))
	copy(components, d.components)
	d.mu.RUnlock()

	result := make(map[string]*ComponentHealth, len(components))
	for _, comp := range components {
		health, err := comp.Health(ctx)
		if health == nil {
			health = Unhealthy(comp.Name(), err)
		} else if err != nil {
			health.Error = err
		}
		result[comp.Name()] = health
	}
	return result
}

func (d *Daemon) Component(name string) Component {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.getComponentByName(name)
}

func (d *Daemon) setHealth(status HealthStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.health = status
}

func (d *Daemon) preInitChecks() {
	root, err := store.ResolveRoot(d.cfg.Store.Path)
	if err != nil {
		slog.Warn("Failed to resolve store path", "error", err)
		return
	}
	if err := store.CleanupStaleLocks(root, DefaultStaleLockTTL, d.forceCleanup); err != nil {
		slog.Warn("Failed to cleanup stale locks", "path", root, "error", err)
	}
}

func (d *Daemon) initializeComponents(ctx context.Context) error {
	if err := d.validateDependencies(); err != nil {
		return fmt.Errorf("dependency validation failed: %w", err)
	}

	initOrder, err := d.resolveInitOrder()
	if err != nil {
		return fmt.Errorf("failed to resolve init order: %w", err)
	}
	d.initOrder = initOrder

	for _, name := range initOrder {
		comp := d.getComponentByName(name)
		if err := comp.Init(ctx); err != nil {
			slog.Error("Component initialization failed", "component", name, "error", err)
			return fmt.Errorf("component %s init failed: %w", name, err)
		}
		slog.Debug("Component initialized", "component", name)
	}
	return nil
}

func (d *Daemon) startComponents(ctx context.Context) error {
	for _, name := range d.initOrder {
		comp := d.getComponentByName(name)
		if err := comp.Start(ctx); err != nil {
			slog.Error("Component startup failed", "component", name, "error", err)
			return fmt.Errorf("component %s startup failed: %w", name, err)
		}
		d.mu.Lock()
		d.started = append(d.started, name)
		d.mu.Unlock()
		slog.Debug("Component started", "component", name)
	}
	return nil
}

// shutdownComponents stops every initialized component, last initialized first.
func (d *Daemon) shutdownComponents(ctx context.Context) {
	for i := len(d.initOrder) - 1; i >= 0; i-- {
		name := d.initOrder[i]
		comp := d.getComponentByName(name)
		if comp == nil {
			continue
		}
		if err := comp.Stop(ctx); err != nil {
			slog.Error("Component stop failed", "component", name, "error", err)
		} else {
			slog.Debug("Component stopped", "component", name)
		}
	}

	d.mu.Lock()
	d.started = nil
	d.mu.Unlock()
	d.setHealth(StatusStopped)
}

func (d *Daemon) getComponentByName(name string) Component {
	for _, comp := range d.components {
		if comp.Name() == name {
			return comp
		}
	}
	return nil
}

func (d *Daemon) startHealthMonitor(ctx context.Context) {
	ticker := time.NewTicker(d.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkComponentHealth(ctx)
		}
	}
}

func (d *Daemon) checkComponentHealth(ctx context.Context) int {
	unhealthy := 0
	for name, health := range d.ComponentHealth(ctx) {
		if !health.Healthy {
			unhealthy++
			slog.Warn("Component unhealthy", "component", name, "error", health.Error)
		}
	}
	return unhealthy
}

func (d *Daemon) validateDependencies() error {
	registered := make(map[string]struct{}, len(d.components))
	for _, comp := range d.components {
		if _, dup := registered[comp.Name()]; dup {
			return fmt.Errorf("component %s registered twice", comp.Name())
		}
		registered[comp.Name()] = struct{}{}
	}

	for _, comp := range d.components {
		for _, dep := range comp.Dependencies() {
			if _, ok := registered[dep]; !ok {
				return fmt.Errorf("component %s depends on %s which is not registered", comp.Name(), dep)
			}
		}
	}
	return nil
}

func (d *Daemon) resolveInitOrder() ([]string, error) {
	visited := make(map[string]bool)
	tempVisited := make(map[string]bool)
	order := []string{}

	var visit func(name string) error
	visit = func(name string) error {
		if tempVisited[name] {
			return fmt.Errorf("circular dependency detected involving %s", name)
		}
		if visited[name] {
			return nil
		}

		comp := d.getComponentByName(name)
		if comp == nil {
			return fmt.Errorf("component %s not found", name)
		}

		tempVisited[name] = true
		for _, dep := range comp.Dependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		tempVisited[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, comp := range d.components {
		if err := visit(comp.Name()); err != nil {
			return nil, err
		}
	}
	return order, nil
}
