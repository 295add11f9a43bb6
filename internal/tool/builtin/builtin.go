package builtin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/harunnryd/sitewise/internal/config"
	"github.com/harunnryd/sitewise/internal/model/contract"
	"github.com/harunnryd/sitewise/internal/store"
	toolcore "github.com/harunnryd/sitewise/internal/tool"
)

// ContentCollection is the vector collection shared by index_content and search_content.
const ContentCollection = "site_content"

// Generator drafts text. model.Provider satisfies it.
type Generator interface {
	Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
}

// Embedder turns text into a vector. model.ModelRouter satisfies it.
type Embedder interface {
	RouteEmbedding(ctx context.Context, text string) ([]float32, error)
}

// VectorStore persists and queries embedded documents. store.Worker satisfies it.
type VectorStore interface {
	UpsertVector(ctx context.Context, collection string, doc store.Document) error
	SearchVectors(ctx context.Context, collection string, vector []float32, limit int) ([]store.VectorResult, error)
}

// Deps carries what the builtin tools need. Tools whose dependencies are missing are skipped.
type Deps struct {
	Config     config.ToolsConfig
	HTTPClient *http.Client
	Generator  Generator
	Embedder   Embedder
	Vectors    VectorStore
}

// Register adds every builtin tool whose dependencies are available.
func Register(registry *toolcore.Registry, deps Deps) error {
	webTimeout, err := config.DurationOrDefault(deps.Config.Web.Timeout, config.DefaultWebToolTimeout)
	if err != nil {
		return fmt.Errorf("parse web tool timeout: %w", err)
	}

	tools := []toolcore.Tool{
		NewAnalyzeWebsiteTool(deps.HTTPClient, WebOptions{
			Timeout:          webTimeout,
			MaxContentLength: deps.Config.Web.MaxContentLength,
			UserAgent:        deps.Config.Web.UserAgent,
		}),
	}
	if deps.Generator != nil {
		tools = append(tools, NewBlogPostTool(deps.Generator, deps.Config.Blog.MaxWords))
	}
	if deps.Embedder != nil && deps.Vectors != nil {
		tools = append(tools,
			NewIndexContentTool(deps.Embedder, deps.Vectors),
			NewSearchContentTool(deps.Embedder, deps.Vectors, deps.Config.Search.Limit),
		)
	}

	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func durationOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
