package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/sitewise/internal/config"
	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/store"
	toolcore "github.com/harunnryd/sitewise/internal/tool"

	"github.com/oklog/ulid/v2"
)

const maxSearchLimit = 20

// IndexContentTool embeds text and stores it for later retrieval.
type IndexContentTool struct {
	embedder Embedder
	vectors  VectorStore
	now      func() time.Time
}

type indexContentInput struct {
	Content string `json:"content" jsonschema:"description=Text to store,minLength=1"`
	Source  string `json:"source,omitempty" jsonschema:"description=Where the text came from such as a URL"`
}

func NewIndexContentTool(embedder Embedder, vectors VectorStore) *IndexContentTool {
	return &IndexContentTool{embedder: embedder, vectors: vectors, now: time.Now}
}

func (t *IndexContentTool) Name() string {
	return "index_content"
}

func (t *IndexContentTool) Description() string {
	return "Store a piece of website content so it can be found later with search_content."
}

func (t *IndexContentTool) ToolMetadata() toolcore.ToolMetadata {
	return toolcore.ToolMetadata{
		Source:       "builtin",
		Capabilities: []string{"content.index", "vector.write"},
		Risk:         toolcore.RiskMedium,
	}
}

func (t *IndexContentTool) Parameters() map[string]interface{} {
	return toolcore.ReflectSchema(&indexContentInput{})
}

func (t *IndexContentTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args indexContentInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, sitewiseErrors.InvalidInput(fmt.Sprintf("invalid input: %v", err))
	}
	content := strings.TrimSpace(args.Content)
	if content == "" {
		return nil, sitewiseErrors.InvalidInput("content is required")
	}

	vector, err := t.embedder.RouteEmbedding(ctx, content)
	if err != nil {
		return nil, err
	}

	doc := store.Document{
		ID:      ulid.Make().String(),
		Content: content,
		Vector:  vector,
		Metadata: map[string]string{
			"indexed_at": t.now().UTC().Format(time.RFC3339),
		},
	}
	if source := strings.TrimSpace(args.Source); source != "" {
		doc.Metadata["source"] = source
	}

	if err := t.vectors.UpsertVector(ctx, ContentCollection, doc); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]interface{}{
		"id":         doc.ID,
		"dimensions": len(vector),
		"source":     doc.Metadata["source"],
	})
}

// SearchContentTool returns the stored documents nearest to a query.
type SearchContentTool struct {
	embedder     Embedder
	vectors      VectorStore
	defaultLimit int
}

type searchContentInput struct {
	Query string `json:"query" jsonschema:"description=What to look for,minLength=1"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of results,minimum=1,maximum=20"`
}

type searchHit struct {
	ID      string  `json:"id"`
	Score   float32 `json:"score"`
	Source  string  `json:"source,omitempty"`
	Content string  `json:"content"`
}

func NewSearchContentTool(embedder Embedder, vectors VectorStore, defaultLimit int) *SearchContentTool {
	return &SearchContentTool{
		embedder:     embedder,
		vectors:      vectors,
		defaultLimit: orDefault(defaultLimit, config.DefaultSearchToolLimit),
	}
}

func (t *SearchContentTool) Name() string {
	return "search_content"
}

func (t *SearchContentTool) Description() string {
	return "Search previously indexed website content by meaning."
}

func (t *SearchContentTool) ToolMetadata() toolcore.ToolMetadata {
	return toolcore.ToolMetadata{
		Source:       "builtin",
		Capabilities: []string{"content.search", "vector.read"},
		Risk:         toolcore.RiskLow,
	}
}

func (t *SearchContentTool) Parameters() map[string]interface{} {
	return toolcore.ReflectSchema(&searchContentInput{})
}

func (t *SearchContentTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args searchContentInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, sitewiseErrors.InvalidInput(fmt.Sprintf("invalid input: %v", err))
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return nil, sitewiseErrors.InvalidInput("query is required")
	}

	limit := orDefault(args.Limit, t.defaultLimit)
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	vector, err := t.embedder.RouteEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := t.vectors.SearchVectors(ctx, ContentCollection, vector, limit)
	if err != nil {
		return nil, err
	}

	hits := make([]searchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, searchHit{
			ID:      r.ID,
			Score:   r.Score,
			Source:  r.Metadata["source"],
			Content: r.Content,
		})
	}
	return json.Marshal(map[string]interface{}{
		"query":   query,
		"results": hits,
	})
}
