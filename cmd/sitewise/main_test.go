package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/sitewise/internal/config"
	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/model/contract"
	"github.com/harunnryd/sitewise/internal/orchestrator"
	"github.com/harunnryd/sitewise/internal/store"
	"github.com/harunnryd/sitewise/internal/stream"
	"github.com/harunnryd/sitewise/internal/tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider answers the first stream with a tool call when callTool is set, then with text.
type scriptedProvider struct {
	text     string
	callTool string
	calls    int32
}

func (p *scriptedProvider) Name() string                     { return "scripted" }
func (p *scriptedProvider) Type() string                     { return "stub" }
func (p *scriptedProvider) ToolMode() string                 { return config.ToolModeNative }
func (p *scriptedProvider) Health(ctx context.Context) error { return nil }

func (p *scriptedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, sitewiseErrors.Unsupported("no embeddings")
}

func (p *scriptedProvider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	return &contract.CompletionResponse{Content: p.text}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req contract.CompletionRequest) (contract.EventStream, error) {
	if atomic.AddInt32(&p.calls, 1) == 1 && p.callTool != "" {
		return stream.FromEvents([]contract.Event{
			contract.ToolCallDelta("call_1", p.callTool, `{"url":"https://example.com"}`, false),
			contract.ToolCallComplete("call_1", false),
			contract.Finish(contract.FinishToolCalls, nil),
		}), nil
	}
	return stream.FromEvents([]contract.Event{
		contract.TextDelta(p.text),
		contract.Finish(contract.FinishStop, nil),
	}), nil
}

func newTestController(t *testing.T, provider *scriptedProvider) *orchestrator.FallbackController {
	t.Helper()
	registry := tool.NewRegistry()
	require.NoError(t, registry.RegisterFunc("analyze_website", "Audit a page", nil, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"score":72}`), nil
	}))
	registry.Freeze()

	orch := orchestrator.New(provider, tool.NewExecutor(registry), orchestrator.Config{MaxSteps: 3, StepTimeout: time.Second})
	return orchestrator.NewFallbackController(orch, nil)
}

func TestTurnRunnerStreamRendersToolCalls(t *testing.T) {
	var out bytes.Buffer
	provider := &scriptedProvider{text: "Score is 72.", callTool: "analyze_website"}
	runner := &turnRunner{ctrl: newTestController(t, provider), out: &out, stream: true}

	result, err := runner.run(context.Background(), []contract.Message{{Role: contract.RoleUser, Content: "audit example.com"}})
	require.NoError(t, err)
	assert.Equal(t, "Score is 72.", result.FinalText)
	assert.Len(t, result.Steps, 2)

	rendered := out.String()
	assert.Contains(t, rendered, "analyze_website")
	assert.Contains(t, rendered, "Score is 72.")
	assert.Less(t, strings.Index(rendered, "analyze_website"), strings.Index(rendered, "Score is 72."))
}

func TestTurnRunnerNoStream(t *testing.T) {
	var out bytes.Buffer
	runner := &turnRunner{ctrl: newTestController(t, &scriptedProvider{text: "Hello."}), out: &out}

	_, err := runner.run(context.Background(), []contract.Message{{Role: contract.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "Hello.\n", out.String())
}

func TestREPLKeepsHistoryAndResets(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("first question\nsecond question\n/reset\n/exit\n")
	r := newREPL(in, &out, "repl-test", nil)
	r.runner = &turnRunner{ctrl: newTestController(t, &scriptedProvider{text: "ok"}), out: &out}

	done := make(chan error, 1)
	go func() { done <- r.start(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("repl did not exit")
	}

	assert.Equal(t, 2, strings.Count(out.String(), "ok\n"))
	assert.Contains(t, out.String(), "Sitewise session: repl-test")
	assert.Contains(t, out.String(), "conversation cleared")
	assert.Empty(t, r.history)
}

func TestREPLRejectsUnsafeSessionID(t *testing.T) {
	r := newREPL(strings.NewReader(""), &bytes.Buffer{}, "../escape", nil)
	err := r.start(context.Background())
	require.Error(t, err)
	assert.True(t, sitewiseErrors.IsCategory(err, sitewiseErrors.ErrInvalidInput))
}

func TestFormatTools(t *testing.T) {
	assert.Equal(t, "No tools registered", formatTools(nil))

	table := formatTools([]tool.ToolDescriptor{{
		Definition: contract.ToolDef{Name: "analyze_website", Description: "Fetch a page and score its on-page SEO"},
		Metadata:   tool.ToolMetadata{Risk: tool.RiskLow, Network: true, Capabilities: []string{"web.fetch"}},
	}})
	assert.Contains(t, table, "analyze_website")
	assert.Contains(t, table, "yes")
	assert.Contains(t, table, "Name")
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "abcdefg...", truncateString("abcdefghijklmnop", 10))
}

func withTestConfig(t *testing.T) *config.Config {
	t.Helper()
	prev := cfg
	cfg = &config.Config{
		Store: config.StoreConfig{Path: t.TempDir(), LockTimeout: "1s", LockRetry: "10ms", LockMaxRetry: 5},
		Models: config.ModelsConfig{Registry: []config.ModelRegistry{
			{Name: "gpt-4o-mini", Provider: "openai", APIKey: "sk-secret-value"},
		}},
	}
	t.Cleanup(func() { cfg = prev })
	return cfg
}

func TestSessionsCommands(t *testing.T) {
	testCfg := withTestConfig(t)

	runtimeCfg, err := store.RuntimeConfigFrom(testCfg.Store)
	require.NoError(t, err)
	worker, err := store.NewWorker(testCfg.Store.Path, runtimeCfg)
	require.NoError(t, err)
	worker.Start()
	require.NoError(t, worker.AppendTranscript(context.Background(), "site-audit", []store.TranscriptEntry{
		{ID: "1", RunID: "run-1", Step: 1, Role: contract.RoleUser, Content: "audit example.com"},
		{ID: "2", RunID: "run-1", Step: 1, Role: contract.RoleAssistant, Content: "Score 72"},
	}, store.SessionTouch{Title: "audit example.com", RunID: "run-1", NewRun: true, Steps: 1}))
	worker.Stop()

	var out bytes.Buffer
	sessionsLsCmd.SetOut(&out)
	t.Cleanup(func() { sessionsLsCmd.SetOut(nil) })
	require.NoError(t, sessionsLsCmd.RunE(sessionsLsCmd, nil))
	assert.Contains(t, out.String(), "site-audit")
	assert.Contains(t, out.String(), "Total: 1 session(s)")

	out.Reset()
	sessionsShowCmd.SetOut(&out)
	t.Cleanup(func() { sessionsShowCmd.SetOut(nil) })
	require.NoError(t, sessionsShowCmd.RunE(sessionsShowCmd, []string{"site-audit"}))
	assert.Contains(t, out.String(), "audit example.com")
	assert.Contains(t, out.String(), "Score 72")

	out.Reset()
	sessionsResetCmd.SetOut(&out)
	t.Cleanup(func() { sessionsResetCmd.SetOut(nil) })
	require.NoError(t, sessionsResetCmd.RunE(sessionsResetCmd, []string{"site-audit"}))

	out.Reset()
	require.NoError(t, sessionsLsCmd.RunE(sessionsLsCmd, nil))
	assert.Contains(t, out.String(), "No sessions found.")
}

func TestConfigViewMasksKeys(t *testing.T) {
	withTestConfig(t)

	var out bytes.Buffer
	configViewCmd.SetOut(&out)
	t.Cleanup(func() { configViewCmd.SetOut(nil) })

	require.NoError(t, configViewCmd.RunE(configViewCmd, nil))
	assert.Contains(t, out.String(), "gpt-4o-mini")
	assert.NotContains(t, out.String(), "sk-secret-value")
}

func TestConfigInitCmd(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	var out bytes.Buffer
	configInitCmd.SetOut(&out)
	t.Cleanup(func() { configInitCmd.SetOut(nil) })

	require.NoError(t, configInitCmd.RunE(configInitCmd, nil))
	configPath := filepath.Join(home, ".sitewise", "config.yaml")
	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "default: llama3.1")

	out.Reset()
	require.NoError(t, configInitCmd.RunE(configInitCmd, nil))
	assert.Contains(t, out.String(), "Config already exists")
}
