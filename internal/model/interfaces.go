package model

import (
	"context"

	"github.com/harunnryd/sitewise/internal/model/contract"
)

// Backend is a client for one model API.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
	Stream(ctx context.Context, req contract.CompletionRequest) (contract.EventStream, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Health(ctx context.Context) error
}

// Provider is a configured registry entry: a backend plus its model id and tool mode.
type Provider interface {
	Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
	Stream(ctx context.Context, req contract.CompletionRequest) (contract.EventStream, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
	Type() string
	ToolMode() string
	Health(ctx context.Context) error
}

type ModelRouter interface {
	Resolve(name string) (Provider, error)
	Default() (Provider, error)
	Fallback() (Provider, error)
	RouteEmbedding(ctx context.Context, text string) ([]float32, error)
	ListModels() []string
	Health(ctx context.Context) error
}
