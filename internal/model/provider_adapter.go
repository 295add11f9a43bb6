package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/harunnryd/sitewise/internal/config"
	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/model/contract"
	"github.com/harunnryd/sitewise/internal/stream"
)

// ProviderAdapter wraps a Backend to satisfy Provider. It fills in the model id, applies the
// entry's tool mode and maps backend failures into the sitewise error taxonomy.
type ProviderAdapter struct {
	backend  Backend
	name     string
	model    string
	toolMode string
	timeout  time.Duration
	mapper   sitewiseErrors.ErrorMapper
}

// WithRequestTimeout bounds Generate calls. Zero leaves them bounded only by the caller.
func (a *ProviderAdapter) WithRequestTimeout(d time.Duration) *ProviderAdapter {
	a.timeout = d
	return a
}

func NewProviderAdapter(backend Backend, name, model, toolMode string) *ProviderAdapter {
	if toolMode == "" {
		toolMode = config.ToolModeNative
	}
	if model == "" {
		model = name
	}
	return &ProviderAdapter{
		backend:  backend,
		name:     name,
		model:    model,
		toolMode: toolMode,
		mapper:   sitewiseErrors.NewDefaultErrorMapper(),
	}
}

func (a *ProviderAdapter) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	req, toolNames, err := a.prepare(req)
	if err != nil {
		return nil, err
	}

	gctx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	resp, err := a.backend.Generate(gctx, req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(gctx.Err(), context.DeadlineExceeded) {
			return nil, sitewiseErrors.Timeout(fmt.Sprintf("model %s did not answer within %s", a.name, a.timeout))
		}
		return nil, a.mapError(ctx, err)
	}

	if len(toolNames) > 0 && resp != nil {
		if calls := stream.ExtractToolCalls(resp.Content, toolNames); len(calls) > 0 {
			resp.ToolCalls = calls
			resp.FinishReason = contract.FinishToolCalls
		}
	}
	return resp, nil
}

func (a *ProviderAdapter) Stream(ctx context.Context, req contract.CompletionRequest) (contract.EventStream, error) {
	req, toolNames, err := a.prepare(req)
	if err != nil {
		return nil, err
	}

	s, err := a.backend.Stream(ctx, req)
	if err != nil {
		return nil, a.mapError(ctx, err)
	}

	var out contract.EventStream = &mappedStream{inner: s, adapter: a}
	if len(toolNames) > 0 {
		out = stream.Emulate(out, toolNames)
	}
	return out, nil
}

func (a *ProviderAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := a.backend.Embed(ctx, text)
	if err != nil {
		return nil, a.mapError(ctx, err)
	}
	return vec, nil
}

func (a *ProviderAdapter) Name() string {
	return a.name
}

func (a *ProviderAdapter) Type() string {
	return a.backend.Name()
}

func (a *ProviderAdapter) ToolMode() string {
	return a.toolMode
}

func (a *ProviderAdapter) Health(ctx context.Context) error {
	if err := a.backend.Health(ctx); err != nil {
		return a.mapError(ctx, err)
	}
	return nil
}

// mapError classifies err. When ctx is done its own error is returned so that callers can tell
// their cancellation and deadline apart from backend failures.
func (a *ProviderAdapter) mapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return a.mapper.MapError(err)
}

// prepare returns the request to send and, for emulated tool mode, the tool names to scan for.
func (a *ProviderAdapter) prepare(req contract.CompletionRequest) (contract.CompletionRequest, []string, error) {
	if req.Model == "" {
		req.Model = a.model
	}
	if len(req.Tools) == 0 {
		return req, nil, nil
	}

	switch a.toolMode {
	case config.ToolModeNone:
		return req, nil, sitewiseErrors.Unsupported(fmt.Sprintf("model %s does not support tool calling", a.name))
	case config.ToolModeEmulated:
		names := make([]string, 0, len(req.Tools))
		for _, t := range req.Tools {
			names = append(names, t.Name)
		}
		req.Messages = emulatedHistory(req.Messages, stream.ToolInstructions(req.Tools))
		req.Tools = nil
		return req, names, nil
	default:
		return req, nil, nil
	}
}

// emulatedHistory rewrites a native tool-calling history into plain text turns. Native assistant
// tool calls become fenced blocks and tool results become user messages. Emulated calls were
// recognized in the assistant text, so their blocks are already in Content.
func emulatedHistory(messages []contract.Message, instructions string) []contract.Message {
	out := make([]contract.Message, 0, len(messages)+1)
	if len(messages) == 0 || messages[0].Role != contract.RoleSystem {
		out = append(out, contract.Message{Role: contract.RoleSystem, Content: instructions})
	}

	for i, m := range messages {
		switch {
		case i == 0 && m.Role == contract.RoleSystem:
			m.Content = strings.TrimSpace(m.Content + "\n\n" + instructions)
		case m.Role == contract.RoleAssistant && len(m.ToolCalls) > 0:
			var b strings.Builder
			b.WriteString(m.Content)
			for _, tc := range m.ToolCalls {
				if tc.Emulated {
					continue
				}
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				fmt.Fprintf(&b, "```tool_call\n{\"tool\": %q, \"arguments\": %s}\n```", tc.Name, argumentsOrEmpty(tc.Input))
			}
			m = contract.Message{Role: contract.RoleAssistant, Content: b.String()}
		case m.Role == contract.RoleTool:
			m = contract.Message{
				Role:    contract.RoleUser,
				Content: fmt.Sprintf("Result of tool %s (call %s):\n%s", m.Name, m.ToolCallID, m.Content),
			}
		}
		out = append(out, m)
	}
	return out
}

func argumentsOrEmpty(input string) string {
	if strings.TrimSpace(input) == "" {
		return "{}"
	}
	return input
}

// mappedStream classifies errors surfaced mid-stream the same way as request errors.
type mappedStream struct {
	inner   contract.EventStream
	adapter *ProviderAdapter
}

func (s *mappedStream) Recv(ctx context.Context) (contract.Event, error) {
	ev, err := s.inner.Recv(ctx)
	if err != nil && !errors.Is(err, io.EOF) {
		return ev, s.adapter.mapError(ctx, err)
	}
	return ev, err
}

func (s *mappedStream) Close() error {
	return s.inner.Close()
}
