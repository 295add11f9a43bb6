package components

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/harunnryd/sitewise/internal/config"
	"github.com/harunnryd/sitewise/internal/daemon"
	"github.com/harunnryd/sitewise/internal/telemetry"
)

const TelemetryComponentName = "Telemetry"

// TelemetryComponent installs the span exporter when tracing is enabled and flushes it on stop.
type TelemetryComponent struct {
	cfg      config.TelemetryConfig
	out      io.Writer
	shutdown func(context.Context) error
	mu       sync.Mutex
}

// NewTelemetryComponent exports spans to out, or stderr when out is nil.
func NewTelemetryComponent(cfg config.TelemetryConfig, out io.Writer) *TelemetryComponent {
	if out == nil {
		out = os.Stderr
	}
	return &TelemetryComponent{cfg: cfg, out: out}
}

func (t *TelemetryComponent) Name() string {
	return TelemetryComponentName
}

func (t *TelemetryComponent) Dependencies() []string {
	return []string{}
}

func (t *TelemetryComponent) Enabled() bool {
	return t.cfg.Enabled
}

func (t *TelemetryComponent) Init(ctx context.Context) error {
	if !t.cfg.Enabled {
		return nil
	}

	serviceName := t.cfg.ServiceName
	if serviceName == "" {
		serviceName = config.DefaultTelemetryServiceName
	}
	shutdown, err := telemetry.InitTracer(serviceName, t.out)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.shutdown = shutdown
	t.mu.Unlock()
	return nil
}

func (t *TelemetryComponent) Start(ctx context.Context) error {
	return nil
}

func (t *TelemetryComponent) Stop(ctx context.Context) error {
	t.mu.Lock()
	shutdown := t.shutdown
	t.shutdown = nil
	t.mu.Unlock()

	if shutdown == nil {
		return nil
	}
	return shutdown(ctx)
}

func (t *TelemetryComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	return daemon.Healthy(t.Name()), nil
}
