package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/model/contract"
	"github.com/harunnryd/sitewise/internal/stream"
)

const DefaultBaseURL = "http://localhost:11434"

// Provider talks to an Ollama daemon over its NDJSON chat API.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client
	buffer  int
}

func New(baseURL, model string, client *http.Client, buffer int) *Provider {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	// Entries copied from OpenAI-compatible setups often carry the /v1 suffix.
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	if client == nil {
		client = http.DefaultClient
	}
	return &Provider{baseURL: baseURL, model: model, client: client, buffer: buffer}
}

func (p *Provider) Name() string {
	return "ollama"
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type chatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
}

type chatToolCall struct {
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type chatTool struct {
	Type     string           `json:"type"`
	Function contract.ToolDef `json:"function"`
}

func (p *Provider) buildRequest(req contract.CompletionRequest, streaming bool) chatRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}

	out := chatRequest{Model: model, Stream: streaming}
	if req.MaxTokens > 0 {
		out.Options = &chatOptions{NumPredict: req.MaxTokens}
	}

	for _, m := range req.Messages {
		msg := chatMessage{Role: m.Role, Content: m.Content}
		if m.Role == contract.RoleTool {
			msg.ToolName = m.Name
		}
		for _, tc := range m.ToolCalls {
			args := json.RawMessage(tc.Input)
			if !json.Valid(args) {
				args = json.RawMessage("{}")
			}
			msg.ToolCalls = append(msg.ToolCalls, chatToolCall{Function: chatFunction{Name: tc.Name, Arguments: args}})
		}
		out.Messages = append(out.Messages, msg)
	}

	for _, t := range req.Tools {
		def := t
		if def.Parameters == nil {
			def.Parameters = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		out.Tools = append(out.Tools, chatTool{Type: "function", Function: def})
	}
	return out
}

// open posts to path and returns the response once headers arrived with a 200 status.
func (p *Provider) open(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, sitewiseErrors.WrapWithCategory(err, "encode ollama request", sitewiseErrors.ErrInvalidInput)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, sitewiseErrors.WrapWithCategory(err, "build ollama request", sitewiseErrors.ErrInvalidInput)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, sitewiseErrors.WrapWithCategory(err, "ollama request failed", sitewiseErrors.ErrNetwork)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return sitewiseErrors.Provider(fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, msg))
}

// Stream sends the chat request and assembles the NDJSON response into events.
func (p *Provider) Stream(ctx context.Context, req contract.CompletionRequest) (contract.EventStream, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	resp, err := p.open(reqCtx, "/api/chat", p.buildRequest(req, true))
	if err != nil {
		cancel()
		return nil, err
	}

	return stream.Go(reqCtx, p.buffer, func(ctx context.Context, emit func(contract.Event) error) error {
		return stream.NewAssembler().Run(ctx, resp.Body, emit)
	}, func() error {
		cancel()
		return resp.Body.Close()
	}), nil
}

// Generate requests a single non-streamed response. The body is one record, read by the same assembler.
func (p *Provider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	resp, err := p.open(ctx, "/api/chat", p.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var events []contract.Event
	err = stream.NewAssembler().Run(ctx, resp.Body, func(ev contract.Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return stream.Collect(ctx, stream.FromEvents(events))
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.open(ctx, "/api/embed", map[string]interface{}{
		"model": p.model,
		"input": text,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, sitewiseErrors.WrapWithCategory(err, "decode ollama embedding", sitewiseErrors.ErrProtocol)
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, sitewiseErrors.Provider("ollama embedding returned empty result")
	}
	return out.Embeddings[0], nil
}

// Health checks that the daemon answers.
func (p *Provider) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return sitewiseErrors.WrapWithCategory(err, "ollama unreachable", sitewiseErrors.ErrNetwork)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return sitewiseErrors.Provider(fmt.Sprintf("ollama health returned status %d", resp.StatusCode))
	}
	return nil
}
