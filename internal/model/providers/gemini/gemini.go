package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/model/contract"
	"github.com/harunnryd/sitewise/internal/stream"

	"google.golang.org/genai"
)

type Provider struct {
	client *genai.Client
	model  string
}

const defaultEmbeddingModel = "text-embedding-004"

func New(apiKey, model string, httpClient *http.Client) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, sitewiseErrors.WrapWithCategory(err, "create gemini client", sitewiseErrors.ErrInvalidInput)
	}
	return &Provider{client: client, model: model}, nil
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	var contents []*genai.Content
	var system *genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case contract.RoleSystem:
			system = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
		case contract.RoleTool:
			var obj map[string]any
			if err := json.Unmarshal([]byte(m.Content), &obj); err != nil || obj == nil {
				obj = map[string]any{"output": m.Content}
			}
			contents = append(contents, &genai.Content{Role: "function", Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{ID: m.ToolCallID, Name: m.Name, Response: obj}}}})
		case contract.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal([]byte(tc.Input), &args)
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}

	var tools []*genai.Tool
	if len(req.Tools) > 0 {
		var decls []*genai.FunctionDeclaration
		for _, t := range req.Tools {
			b, _ := json.Marshal(t.Parameters)
			var schema genai.Schema
			_ = json.Unmarshal(b, &schema)
			decls = append(decls, &genai.FunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: &schema})
		}
		tools = append(tools, &genai.Tool{FunctionDeclarations: decls})
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	cfg := &genai.GenerateContentConfig{Tools: tools, SystemInstruction: system}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	out := &contract.CompletionResponse{FinishReason: contract.FinishStop}
	if resp == nil {
		return out, nil
	}

	for i, fc := range resp.FunctionCalls() {
		argsJSON, _ := json.Marshal(fc.Args)
		id := fc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i+1)
		}
		out.ToolCalls = append(out.ToolCalls, &contract.ToolCall{ID: id, Name: fc.Name, Input: string(argsJSON)})
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = contract.FinishToolCalls
	}

	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" && !part.Thought {
				out.Content += part.Text
			}
		}
		if resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens && len(out.ToolCalls) == 0 {
			out.FinishReason = contract.FinishLength
		}
	}

	if u := resp.UsageMetadata; u != nil {
		out.Usage = &contract.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}

	return out, nil
}

// Stream replays the complete response as events.
func (p *Provider) Stream(ctx context.Context, req contract.CompletionRequest) (contract.EventStream, error) {
	resp, err := p.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream.FromResponse(resp), nil
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Models.EmbedContent(ctx, defaultEmbeddingModel, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, sitewiseErrors.Provider("gemini embedding returned empty result")
	}

	return resp.Embeddings[0].Values, nil
}

// Health is a no-op; the Gemini API has no cheap unauthenticated check.
func (p *Provider) Health(ctx context.Context) error {
	return nil
}
