package builtin

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/harunnryd/sitewise/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordEmbedder maps text onto fixed topic axes.
type keywordEmbedder struct {
	calls int
}

func (e *keywordEmbedder) RouteEmbedding(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	text = strings.ToLower(text)
	vec := []float32{0.01, 0.01, 0.01}
	for i, kw := range []string{"pricing", "shipping", "team"} {
		vec[i] += float32(strings.Count(text, kw))
	}
	return vec, nil
}

func newContentStore(t *testing.T) *store.Worker {
	t.Helper()
	w, err := store.NewWorker(t.TempDir(), store.RuntimeConfig{})
	require.NoError(t, err)
	w.Start()
	t.Cleanup(w.Stop)
	return w
}

func TestIndexThenSearchContent(t *testing.T) {
	embedder := &keywordEmbedder{}
	vectors := newContentStore(t)
	index := NewIndexContentTool(embedder, vectors)
	search := NewSearchContentTool(embedder, vectors, 2)
	ctx := context.Background()

	docs := []string{
		`{"content":"Our pricing starts at $9. Pricing is monthly.","source":"https://acme.test/pricing"}`,
		`{"content":"Free shipping on all orders. Shipping takes 2 days.","source":"https://acme.test/shipping"}`,
		`{"content":"Meet the team behind Acme."}`,
	}
	for _, d := range docs {
		raw, err := index.Execute(ctx, json.RawMessage(d))
		require.NoError(t, err)

		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &out))
		assert.NotEmpty(t, out["id"])
		assert.EqualValues(t, 3, out["dimensions"])
	}

	raw, err := search.Execute(ctx, json.RawMessage(`{"query":"what does shipping cost"}`))
	require.NoError(t, err)

	var out struct {
		Query   string      `json:"query"`
		Results []searchHit `json:"results"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Results, 2)
	assert.Equal(t, "https://acme.test/shipping", out.Results[0].Source)
	assert.Contains(t, out.Results[0].Content, "Free shipping")
	assert.Greater(t, out.Results[0].Score, out.Results[1].Score)
	assert.Equal(t, 4, embedder.calls)
}

func TestSearchContentEmptyStore(t *testing.T) {
	search := NewSearchContentTool(&keywordEmbedder{}, newContentStore(t), 0)

	raw, err := search.Execute(context.Background(), json.RawMessage(`{"query":"anything","limit":50}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"anything","results":[]}`, string(raw))
}

func TestContentToolsRejectBlankInput(t *testing.T) {
	embedder := &keywordEmbedder{}
	vectors := newContentStore(t)

	_, err := NewIndexContentTool(embedder, vectors).Execute(context.Background(), json.RawMessage(`{"content":"   "}`))
	assert.Error(t, err)
	_, err = NewSearchContentTool(embedder, vectors, 0).Execute(context.Background(), json.RawMessage(`{"query":""}`))
	assert.Error(t, err)
	assert.Zero(t, embedder.calls)
}
