package tool

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/sitewise/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var urlSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"url": map[string]interface{}{"type": "string", "minLength": 1},
	},
	"required":             []string{"url"},
	"additionalProperties": false,
}

func newTestExecutor(t *testing.T, opts ...ExecutorOption) *Executor {
	t.Helper()
	registry := NewRegistry()

	require.NoError(t, registry.RegisterFunc("echo", "Echo input", urlSchema, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return input, nil
	}))
	require.NoError(t, registry.RegisterFunc("fail", "Always fails", nil, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("upstream returned 503")
	}))
	require.NoError(t, registry.RegisterFunc("explode", "Panics", nil, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		panic("nil map write")
	}))
	require.NoError(t, registry.RegisterFunc("slow", "Waits for cancellation", nil, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	require.NoError(t, registry.RegisterFunc("text", "Returns plain text", nil, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage("not json"), nil
	}))
	registry.Freeze()

	return NewExecutor(registry, opts...)
}

func call(id, name, input string) *contract.ToolCall {
	return &contract.ToolCall{ID: id, Name: name, Input: input}
}

func TestExecutorExecute(t *testing.T) {
	exec := newTestExecutor(t, WithTimeout(20*time.Millisecond))
	ctx := context.Background()

	tests := []struct {
		name     string
		call     *contract.ToolCall
		wantKind string
		wantOut  string
	}{
		{name: "success", call: call("1", "echo", `{"url":"https://example.com"}`), wantOut: `{"url":"https://example.com"}`},
		{name: "unknown tool", call: call("2", "nope", `{}`), wantKind: "ToolNotFoundError"},
		{name: "invalid json", call: call("3", "echo", `{"url":`), wantKind: "ToolValidationError"},
		{name: "schema mismatch", call: call("4", "echo", `{"url":42}`), wantKind: "ToolValidationError"},
		{name: "extra field", call: call("5", "echo", `{"url":"x","depth":2}`), wantKind: "ToolValidationError"},
		{name: "non-object arguments", call: call("6", "fail", `[1]`), wantKind: "ToolValidationError"},
		{name: "handler error", call: call("7", "fail", `{}`), wantKind: "ToolExecutionError"},
		{name: "handler panic", call: call("8", "explode", `{}`), wantKind: "ToolExecutionError"},
		{name: "timeout", call: call("9", "slow", ``), wantKind: "ToolExecutionError"},
		{name: "plain text output", call: call("10", "text", `{}`), wantOut: `"not json"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := exec.Execute(ctx, tt.call)
			assert.Equal(t, tt.call.ID, result.CallID)
			assert.Equal(t, tt.call.Name, result.Name)

			if tt.wantKind != "" {
				require.NotNil(t, result.Error)
				assert.Equal(t, tt.wantKind, result.Error.Kind)
				assert.Nil(t, result.Output)
				return
			}
			require.Nil(t, result.Error)
			assert.JSONEq(t, tt.wantOut, string(result.Output))
		})
	}
}

func TestExecutorValidationSkipsHandler(t *testing.T) {
	var invoked int32
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("guarded", "", urlSchema, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		atomic.AddInt32(&invoked, 1)
		return nil, nil
	}))

	result := NewExecutor(registry).Execute(context.Background(), call("1", "guarded", `{}`))
	require.NotNil(t, result.Error)
	assert.Equal(t, int32(0), atomic.LoadInt32(&invoked))
}

func TestExecuteBatchIsolatesFailuresAndKeepsOrder(t *testing.T) {
	exec := newTestExecutor(t)
	calls := []*contract.ToolCall{
		call("a", "echo", `{"url":"one"}`),
		call("b", "explode", `{}`),
		call("c", "fail", `{}`),
		call("d", "echo", `{"url":"two"}`),
	}

	results := exec.ExecuteBatch(context.Background(), calls)
	require.Len(t, results, 4)

	for i, result := range results {
		assert.Equal(t, calls[i].ID, result.CallID)
	}
	assert.Nil(t, results[0].Error)
	assert.JSONEq(t, `{"url":"one"}`, string(results[0].Output))
	assert.Equal(t, "ToolExecutionError", results[1].Error.Kind)
	assert.Equal(t, "ToolExecutionError", results[2].Error.Kind)
	assert.Nil(t, results[3].Error)
	assert.JSONEq(t, `{"url":"two"}`, string(results[3].Output))
}

func TestExecuteBatchBoundsParallelism(t *testing.T) {
	var active, peak int32
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("work", "", nil, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return json.RawMessage(`true`), nil
	}))

	calls := make([]*contract.ToolCall, 8)
	for i := range calls {
		calls[i] = call(string(rune('a'+i)), "work", `{}`)
	}

	results := NewExecutor(registry, WithMaxParallel(2)).ExecuteBatch(context.Background(), calls)
	require.Len(t, results, 8)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(0))
}

func TestToolResultContent(t *testing.T) {
	ok := contract.ToolResult{CallID: "1", Output: json.RawMessage(`{"score":80}`)}
	assert.Equal(t, `{"score":80}`, ok.Content())

	failed := contract.ToolResult{CallID: "2", Error: &contract.ToolError{Kind: "ToolExecutionError", Message: "boom"}}
	assert.JSONEq(t, `{"error":{"kind":"ToolExecutionError","message":"boom"}}`, failed.Content())
}
