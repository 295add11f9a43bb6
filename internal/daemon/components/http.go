package components

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/harunnryd/sitewise/internal/config"
	"github.com/harunnryd/sitewise/internal/daemon"
	"github.com/harunnryd/sitewise/internal/idempotency"
	"github.com/harunnryd/sitewise/internal/server"
	"github.com/harunnryd/sitewise/internal/store"
)

const HTTPServerComponentName = "HTTPServer"

// HealthReporter reports per-component health. *daemon.Daemon satisfies it.
type HealthReporter interface {
	ComponentHealth(ctx context.Context) map[string]*daemon.ComponentHealth
}

type HTTPServerComponent struct {
	reporter    HealthReporter
	cfg         config.ServerConfig
	tracing     bool
	engine      server.Engine
	storeComp   *StoreComponent
	keys        *idempotency.Store
	server      *http.Server
	listener    net.Listener
	initialized bool
	started     bool
	mu          sync.RWMutex
}

// NewHTTPServerComponent serves engine. When storeComp is set, Idempotency-Key replay is kept in
// the store directory.
func NewHTTPServerComponent(reporter HealthReporter, cfg config.ServerConfig, engine server.Engine, storeComp *StoreComponent, tracing bool) *HTTPServerComponent {
	return &HTTPServerComponent{
		reporter:  reporter,
		cfg:       cfg,
		engine:    engine,
		storeComp: storeComp,
		tracing:   tracing,
	}
}

func (h *HTTPServerComponent) Name() string {
	return HTTPServerComponentName
}

func (h *HTTPServerComponent) Dependencies() []string {
	return []string{EngineComponentName}
}

func (h *HTTPServerComponent) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.engine == nil {
		return fmt.Errorf("engine not provided")
	}

	readTimeout, err := config.DurationOrDefault(h.cfg.ReadTimeout, config.DefaultServerReadTimeout)
	if err != nil {
		return fmt.Errorf("parse server read timeout: %w", err)
	}
	writeTimeout, err := config.DurationOrDefault(h.cfg.WriteTimeout, config.DefaultServerWriteTimeout)
	if err != nil {
		return fmt.Errorf("parse server write timeout: %w", err)
	}

	var opts []server.Option
	if h.tracing {
		opts = append(opts, server.WithTracing("sitewise.http"))
	}
	if h.storeComp != nil && h.storeComp.GetWorker() != nil {
		keys, err := idempotency.NewStore(store.IdempotencyPath(h.storeComp.GetWorker().Root()))
		if err != nil {
			return fmt.Errorf("open idempotency store: %w", err)
		}
		if pruned := keys.Prune(); pruned > 0 {
			slog.Debug("Pruned expired idempotency keys", "count", pruned)
		}
		h.keys = keys
		opts = append(opts, server.WithIdempotency(keys, server.DefaultIdempotencyTTL))
	}
	srv := server.New(h.engine, slog.Default(), opts...)
	srv.Router.Get("/status", h.handleStatus)

	h.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", h.cfg.Port),
		Handler:      srv,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	h.initialized = true
	slog.Info("HTTPServer initialized", "component", h.Name(), "port", h.cfg.Port)
	return nil
}

// Start binds the listen address synchronously so that a busy port fails startup.
func (h *HTTPServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return fmt.Errorf("HTTPServer not initialized")
	}

	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.server.Addr, err)
	}
	h.listener = ln

	go func() {
		slog.Info("HTTP server listening", "component", h.Name(), "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "component", h.Name(), "error", err)
		}
	}()

	h.started = true
	return nil
}

func (h *HTTPServerComponent) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return nil
	}

	if err := h.server.Shutdown(ctx); err != nil {
		slog.Error("HTTPServer shutdown error", "component", h.Name(), "error", err)
		return err
	}

	h.started = false
	if h.keys != nil {
		if err := h.keys.Save(); err != nil {
			slog.Warn("Failed to save idempotency keys", "component", h.Name(), "error", err)
		}
	}
	slog.Info("HTTPServer stopped", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.initialized {
		return daemon.Unhealthy(h.Name(), fmt.Errorf("not initialized")), nil
	}
	if !h.started {
		return daemon.Unhealthy(h.Name(), fmt.Errorf("not started")), nil
	}
	return daemon.Healthy(h.Name()), nil
}

// Addr returns the bound address once started.
func (h *HTTPServerComponent) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

func (h *HTTPServerComponent) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := "ok"
	components := make(map[string]any)
	if h.reporter != nil {
		for name, ch := range h.reporter.ComponentHealth(r.Context()) {
			entry := map[string]any{"healthy": ch.Healthy}
			if ch.Error != nil {
				entry["error"] = ch.Error.Error()
			}
			if !ch.Healthy {
				status = "degraded"
			}
			components[name] = entry
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     status,
		"components": components,
	})
}
