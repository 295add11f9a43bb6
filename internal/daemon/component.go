package daemon

import (
	"context"
)

type HealthStatus string

const (
	StatusStarting HealthStatus = "starting"
	StatusRunning  HealthStatus = "running"
	StatusStopping HealthStatus = "stopping"
	StatusStopped  HealthStatus = "stopped"
)

type ComponentHealth struct {
	Name    string
	Healthy bool
	Error   error
}

// Component is one lifecycle-managed part of the process. Init builds it once its
// dependencies are initialized; Stop runs in reverse order and must tolerate a component that
// never started.
type Component interface {
	Name() string
	Dependencies() []string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (*ComponentHealth, error)
}

// Unhealthy is a helper for components reporting a failed check.
func Unhealthy(name string, err error) *ComponentHealth {
	return &ComponentHealth{Name: name, Healthy: false, Error: err}
}

func Healthy(name string) *ComponentHealth {
	return &ComponentHealth{Name: name, Healthy: true}
}
