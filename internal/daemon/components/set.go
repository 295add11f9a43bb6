package components

import (
	"github.com/harunnryd/sitewise/internal/config"
	"github.com/harunnryd/sitewise/internal/daemon"
)

// Set is the wired component graph of one process.
type Set struct {
	Store     *StoreComponent
	Telemetry *TelemetryComponent
	Engine    *EngineComponent
	HTTP      *HTTPServerComponent
}

// Register builds the store, telemetry and engine components on d, plus the HTTP server when
// withHTTP is set.
func Register(d *daemon.Daemon, cfg *config.Config, withHTTP bool, opts ...EngineOption) *Set {
	set := &Set{
		Store:     NewStoreComponent(cfg.Store),
		Telemetry: NewTelemetryComponent(cfg.Telemetry, nil),
	}
	set.Engine = NewEngineComponent(cfg, set.Store, set.Telemetry, opts...)

	d.AddComponent(set.Store)
	d.AddComponent(set.Telemetry)
	d.AddComponent(set.Engine)

	if withHTTP {
		set.HTTP = NewHTTPServerComponent(d, cfg.Server, set.Engine, set.Store, cfg.Telemetry.Enabled)
		d.AddComponent(set.HTTP)
	}
	return set
}
