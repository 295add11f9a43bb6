package model

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/harunnryd/sitewise/internal/config"
	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/logger"
	anthropicProvider "github.com/harunnryd/sitewise/internal/model/providers/anthropic"
	geminiProvider "github.com/harunnryd/sitewise/internal/model/providers/gemini"
	ollamaProvider "github.com/harunnryd/sitewise/internal/model/providers/ollama"
	openaiProvider "github.com/harunnryd/sitewise/internal/model/providers/openai"
	"github.com/harunnryd/sitewise/internal/model/providers/transport"
)

// DefaultModelRouter implements ModelRouter interface
type DefaultModelRouter struct {
	cfg       config.ModelsConfig
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewModelRouter creates providers for every registry entry. Entries that fail to initialize are
// skipped with a warning; it is an error only when none succeed.
func NewModelRouter(cfg config.ModelsConfig, buffer int) (*DefaultModelRouter, error) {
	connectTimeout, err := config.DurationOrDefault(cfg.ConnectTimeout, config.DefaultModelConnectTimeout)
	if err != nil {
		return nil, sitewiseErrors.InvalidInput(fmt.Sprintf("invalid models.connect_timeout: %v", err))
	}

	router := &DefaultModelRouter{
		cfg:       cfg,
		providers: make(map[string]Provider),
	}

	for _, entry := range cfg.Registry {
		provider, err := NewProvider(entry, connectTimeout, buffer)
		if err != nil {
			slog.Warn("Failed to create provider", "provider", entry.Provider, "model", entry.Name, "error", err)
			continue
		}

		router.providers[entry.Name] = provider
		slog.Debug("Provider initialized", "name", entry.Name, "type", entry.Provider, "tool_mode", provider.ToolMode())
	}

	if len(router.providers) == 0 && len(cfg.Registry) > 0 {
		return nil, sitewiseErrors.Internal("no providers initialized")
	}

	return router, nil
}

// NewRouterWith builds a router over already constructed providers.
func NewRouterWith(cfg config.ModelsConfig, providers ...Provider) *DefaultModelRouter {
	router := &DefaultModelRouter{cfg: cfg, providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		router.providers[p.Name()] = p
	}
	return router
}

// Resolve returns the provider registered under name.
func (r *DefaultModelRouter) Resolve(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[name]
	if !ok {
		return nil, sitewiseErrors.NotFound(fmt.Sprintf("model %s not found", name))
	}
	return provider, nil
}

// Default returns the provider for models.default.
func (r *DefaultModelRouter) Default() (Provider, error) {
	return r.Resolve(r.cfg.Default)
}

// Fallback returns the provider for models.fallback, or the default provider when unset.
func (r *DefaultModelRouter) Fallback() (Provider, error) {
	if r.cfg.Fallback == "" {
		return r.Default()
	}
	return r.Resolve(r.cfg.Fallback)
}

// RouteEmbedding embeds text with models.embedding, then any other provider that supports embeddings.
func (r *DefaultModelRouter) RouteEmbedding(ctx context.Context, text string) ([]float32, error) {
	log := logger.From(ctx)

	var lastErr error
	for _, name := range r.embeddingTryOrder() {
		if err := ctx.Err(); err != nil {
			return nil, sitewiseErrors.Wrap(err, "embedding request cancelled")
		}

		provider, err := r.Resolve(name)
		if err != nil {
			continue
		}

		vec, err := provider.Embed(ctx, text)
		if err == nil {
			log.Debug("Embedding completed", "model", name, "dims", len(vec))
			return vec, nil
		}

		if sitewiseErrors.IsCategory(err, sitewiseErrors.ErrProviderUnsupportedFeature) {
			log.Debug("Embedding unsupported by provider, trying next model", "model", name)
			continue
		}

		lastErr = err
		log.Warn("Embedding failed for model, trying next model", "model", name, "error", err)
	}

	if lastErr != nil {
		return nil, sitewiseErrors.Wrap(lastErr, "embedding failed")
	}

	return nil, sitewiseErrors.NotFound("no embedding-capable model configured")
}

func (r *DefaultModelRouter) embeddingTryOrder() []string {
	seen := make(map[string]struct{})
	var order []string

	appendUnique := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}

	appendUnique(r.cfg.Embedding)
	for _, name := range r.ListModels() {
		appendUnique(name)
	}

	return order
}

// ListModels returns all registered model names, sorted.
func (r *DefaultModelRouter) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.providers))
	for name := range r.providers {
		models = append(models, name)
	}
	sort.Strings(models)

	return models
}

// Health checks the default and fallback providers.
func (r *DefaultModelRouter) Health(ctx context.Context) error {
	for _, resolve := range []func() (Provider, error){r.Default, r.Fallback} {
		provider, err := resolve()
		if err != nil {
			return err
		}
		if err := provider.Health(ctx); err != nil {
			slog.Warn("Provider unhealthy", "provider", provider.Name(), "error", err)
			return sitewiseErrors.Wrap(err, fmt.Sprintf("provider %s unhealthy", provider.Name()))
		}
	}
	return nil
}

// NewProvider creates the provider for a registry entry. Every backend shares the same transport
// settings so that the connect timeout applies uniformly.
func NewProvider(entry config.ModelRegistry, connectTimeout time.Duration, buffer int) (Provider, error) {
	backend, err := newBackend(entry, transport.NewClient(connectTimeout), buffer)
	if err != nil {
		return nil, err
	}

	model := entry.Model
	if model == "" {
		model = entry.Name
	}

	timeout, err := config.DurationOrDefault(entry.RequestTimeout, config.DefaultModelRequestTimeout)
	if err != nil {
		return nil, sitewiseErrors.InvalidInput(fmt.Sprintf("invalid request_timeout for model %s: %v", entry.Name, err))
	}
	return NewProviderAdapter(backend, entry.Name, model, entry.ToolMode).WithRequestTimeout(timeout), nil
}

func newBackend(entry config.ModelRegistry, client *http.Client, buffer int) (Backend, error) {
	model := entry.Model
	if model == "" {
		model = entry.Name
	}

	switch entry.Provider {
	case "ollama":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOllamaBaseURL
		}
		return ollamaProvider.New(baseURL, model, client, buffer), nil

	case "openai":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOpenAIBaseURL
		}
		if entry.APIKey == "" {
			return nil, sitewiseErrors.InvalidInput("API key required for OpenAI provider")
		}
		return openaiProvider.New(entry.APIKey, baseURL, model, client, buffer), nil

	case "anthropic":
		if entry.APIKey == "" {
			return nil, sitewiseErrors.InvalidInput("API key required for Anthropic provider")
		}
		return anthropicProvider.New(entry.APIKey, entry.BaseURL, model, client), nil

	case "gemini":
		if entry.APIKey == "" {
			return nil, sitewiseErrors.InvalidInput("API key required for Gemini provider")
		}
		provider, err := geminiProvider.New(entry.APIKey, model, client)
		if err != nil {
			return nil, sitewiseErrors.WrapWithCategory(err, "failed to create Gemini provider", sitewiseErrors.ErrInternal)
		}
		return provider, nil

	default:
		return nil, sitewiseErrors.InvalidInput(fmt.Sprintf("unknown provider type: %s", entry.Provider))
	}
}
