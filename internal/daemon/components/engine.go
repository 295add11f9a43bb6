package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/sitewise/internal/config"
	"github.com/harunnryd/sitewise/internal/daemon"
	"github.com/harunnryd/sitewise/internal/model"
	"github.com/harunnryd/sitewise/internal/model/providers/transport"
	"github.com/harunnryd/sitewise/internal/orchestrator"
	"github.com/harunnryd/sitewise/internal/store"
	"github.com/harunnryd/sitewise/internal/telemetry"
	"github.com/harunnryd/sitewise/internal/tool"
	"github.com/harunnryd/sitewise/internal/tool/builtin"
)

const EngineComponentName = "Engine"

// EngineComponent owns the model router, the tool registry and one fallback controller per model.
type EngineComponent struct {
	cfg           *config.Config
	storeComp     *StoreComponent
	telemetryComp *TelemetryComponent

	router      model.ModelRouter
	executor    *tool.Executor
	orchCfg     orchestrator.Config
	observers   []orchestrator.StepObserver
	controllers map[string]*orchestrator.FallbackController
	initialized bool
	mu          sync.RWMutex
}

type EngineOption func(*EngineComponent)

// WithRouter replaces the router built from models config.
func WithRouter(router model.ModelRouter) EngineOption {
	return func(e *EngineComponent) {
		e.router = router
	}
}

// NewEngineComponent builds the engine over the store worker of storeComp. telemetryComp may be nil.
func NewEngineComponent(cfg *config.Config, storeComp *StoreComponent, telemetryComp *TelemetryComponent, opts ...EngineOption) *EngineComponent {
	e := &EngineComponent{
		cfg:           cfg,
		storeComp:     storeComp,
		telemetryComp: telemetryComp,
		controllers:   make(map[string]*orchestrator.FallbackController),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *EngineComponent) Name() string {
	return EngineComponentName
}

func (e *EngineComponent) Dependencies() []string {
	deps := []string{StoreComponentName}
	if e.telemetryComp != nil {
		deps = append(deps, TelemetryComponentName)
	}
	return deps
}

func (e *EngineComponent) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.storeComp == nil {
		return fmt.Errorf("required component dependencies not provided")
	}
	worker := e.storeComp.GetWorker()
	if worker == nil {
		return fmt.Errorf("store worker not initialized")
	}

	if e.router == nil {
		router, err := model.NewModelRouter(e.cfg.Models, e.cfg.Orchestrator.StreamBuffer)
		if err != nil {
			return fmt.Errorf("failed to initialize model router: %w", err)
		}
		e.router = router
	}

	connectTimeout, err := config.DurationOrDefault(e.cfg.Models.ConnectTimeout, config.DefaultModelConnectTimeout)
	if err != nil {
		return fmt.Errorf("parse models connect timeout: %w", err)
	}

	deps := builtin.Deps{
		Config:     e.cfg.Tools,
		HTTPClient: transport.NewClient(connectTimeout),
		Embedder:   e.router,
		Vectors:    worker,
	}
	if provider, err := e.router.Default(); err == nil {
		deps.Generator = provider
	} else {
		slog.Warn("Default model unavailable, blog tool disabled", "error", err)
	}

	registry := tool.NewRegistry()
	if err := builtin.Register(registry, deps); err != nil {
		return fmt.Errorf("failed to register builtin tools: %w", err)
	}
	registry.Freeze()

	toolTimeout, err := config.DurationOrDefault(e.cfg.Tools.Timeout, config.DefaultToolTimeout)
	if err != nil {
		return fmt.Errorf("parse tool timeout: %w", err)
	}
	e.executor = tool.NewExecutor(registry,
		tool.WithTimeout(toolTimeout),
		tool.WithMaxParallel(e.cfg.Orchestrator.MaxParallelTools),
	)

	stepTimeout, err := config.DurationOrDefault(e.cfg.Orchestrator.StepTimeout, config.DefaultOrchestratorStepTimeout)
	if err != nil {
		return fmt.Errorf("parse orchestrator step timeout: %w", err)
	}
	e.orchCfg = orchestrator.Config{
		MaxSteps:     e.cfg.Orchestrator.MaxSteps,
		StepTimeout:  stepTimeout,
		SystemPrompt: e.cfg.Orchestrator.SystemPrompt,
	}

	e.observers = []orchestrator.StepObserver{store.NewRecorder(worker)}
	if e.telemetryComp != nil && e.telemetryComp.Enabled() {
		e.observers = append(e.observers, telemetry.NewStepTracer(nil))
	}

	e.initialized = true
	slog.Info("Engine initialized", "component", e.Name(), "models", e.router.ListModels(), "tools", registry.Names())
	return nil
}

func (e *EngineComponent) Start(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.initialized {
		return fmt.Errorf("engine not initialized")
	}
	return nil
}

func (e *EngineComponent) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.controllers = make(map[string]*orchestrator.FallbackController)
	return nil
}

// Controller returns the run controller for the named model, or the default model when name is empty.
func (e *EngineComponent) Controller(name string) (*orchestrator.FallbackController, error) {
	e.mu.RLock()
	if !e.initialized {
		e.mu.RUnlock()
		return nil, fmt.Errorf("engine not initialized")
	}
	ctrl, ok := e.controllers[name]
	e.mu.RUnlock()
	if ok {
		return ctrl, nil
	}

	var (
		provider model.Provider
		err      error
	)
	if name == "" {
		provider, err = e.router.Default()
	} else {
		provider, err = e.router.Resolve(name)
	}
	if err != nil {
		return nil, err
	}

	fallback, err := e.router.Fallback()
	if err != nil {
		slog.Warn("Fallback model unavailable, using primary", "model", provider.Name(), "error", err)
		fallback = nil
	}

	opts := make([]orchestrator.Option, 0, len(e.observers))
	for _, obs := range e.observers {
		opts = append(opts, orchestrator.WithObserver(obs))
	}
	orch := orchestrator.New(provider, e.executor, e.orchCfg, opts...)
	ctrl = orchestrator.NewFallbackController(orch, fallback).WithBuffer(e.cfg.Orchestrator.StreamBuffer)

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.controllers[name]; ok {
		return existing, nil
	}
	e.controllers[name] = ctrl
	return ctrl, nil
}

// Ping checks the default and fallback model backends.
func (e *EngineComponent) Ping(ctx context.Context) error {
	e.mu.RLock()
	router := e.router
	e.mu.RUnlock()

	if router == nil {
		return fmt.Errorf("engine not initialized")
	}
	return router.Health(ctx)
}

func (e *EngineComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if err := e.Ping(ctx); err != nil {
		return daemon.Unhealthy(e.Name(), err), nil
	}
	return daemon.Healthy(e.Name()), nil
}

// Tools lists the registered tool descriptors.
func (e *EngineComponent) Tools() []tool.ToolDescriptor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.executor == nil {
		return nil
	}
	return e.executor.Registry().GetDescriptors()
}

func (e *EngineComponent) Router() model.ModelRouter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.router
}
