package model

import (
	"context"
	"testing"
	"time"

	"github.com/harunnryd/sitewise/internal/config"
	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noEmbedBackend struct{ mockBackend }

func (b *noEmbedBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, sitewiseErrors.Unsupported("embedding not supported")
}

func TestRouterResolvesDefaultAndFallback(t *testing.T) {
	primary := NewProviderAdapter(&mockBackend{}, "primary", "", "")
	backup := NewProviderAdapter(&mockBackend{}, "backup", "", "")

	r := NewRouterWith(config.ModelsConfig{Default: "primary"}, primary, backup)

	p, err := r.Default()
	require.NoError(t, err)
	assert.Equal(t, "primary", p.Name())

	p, err = r.Fallback()
	require.NoError(t, err)
	assert.Equal(t, "primary", p.Name(), "fallback defaults to the primary model")

	r = NewRouterWith(config.ModelsConfig{Default: "primary", Fallback: "backup"}, primary, backup)
	p, err = r.Fallback()
	require.NoError(t, err)
	assert.Equal(t, "backup", p.Name())

	_, err = r.Resolve("missing")
	assert.True(t, sitewiseErrors.IsCategory(err, sitewiseErrors.ErrNotFound))

	assert.Equal(t, []string{"backup", "primary"}, r.ListModels())
	assert.NoError(t, r.Health(context.Background()))
}

func TestRouteEmbeddingSkipsUnsupportedProviders(t *testing.T) {
	chat := NewProviderAdapter(&noEmbedBackend{}, "a-chat", "", "")
	embed := NewProviderAdapter(&mockBackend{}, "z-embed", "", config.ToolModeNone)

	r := NewRouterWith(config.ModelsConfig{Default: "a-chat"}, chat, embed)
	vec, err := r.RouteEmbedding(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)

	r = NewRouterWith(config.ModelsConfig{Default: "a-chat"}, chat)
	_, err = r.RouteEmbedding(context.Background(), "hello")
	assert.True(t, sitewiseErrors.IsCategory(err, sitewiseErrors.ErrNotFound))
}

func TestNewProviderFromRegistryEntry(t *testing.T) {
	p, err := NewProvider(config.ModelRegistry{
		Name:     "local",
		Provider: "ollama",
		Model:    "qwen2.5",
		ToolMode: config.ToolModeEmulated,
	}, time.Second, 0)
	require.NoError(t, err)
	assert.Equal(t, "local", p.Name())
	assert.Equal(t, "ollama", p.Type())
	assert.Equal(t, config.ToolModeEmulated, p.ToolMode())

	_, err = NewProvider(config.ModelRegistry{Name: "hosted", Provider: "openai"}, time.Second, 0)
	assert.True(t, sitewiseErrors.IsCategory(err, sitewiseErrors.ErrInvalidInput))

	_, err = NewProvider(config.ModelRegistry{Name: "x", Provider: "carrier-pigeon"}, time.Second, 0)
	assert.True(t, sitewiseErrors.IsCategory(err, sitewiseErrors.ErrInvalidInput))
}

func TestNewModelRouterSkipsBrokenEntries(t *testing.T) {
	r, err := NewModelRouter(config.ModelsConfig{
		Default: "local",
		Registry: []config.ModelRegistry{
			{Name: "local", Provider: "ollama"},
			{Name: "hosted", Provider: "openai"},
		},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"local"}, r.ListModels())

	_, err = NewModelRouter(config.ModelsConfig{
		Registry: []config.ModelRegistry{{Name: "hosted", Provider: "openai"}},
	}, 0)
	assert.Error(t, err)
}

var _ Provider = (*ProviderAdapter)(nil)
var _ contract.EventStream = (*mappedStream)(nil)
