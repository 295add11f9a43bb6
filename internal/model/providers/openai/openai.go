package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/model/contract"
	"github.com/harunnryd/sitewise/internal/stream"
	"github.com/harunnryd/sitewise/internal/tokens"

	"github.com/sashabaranov/go-openai"
)

type Provider struct {
	client  *openai.Client
	model   string
	buffer  int
	counter *tokens.Counter
}

func New(apiKey, baseURL, model string, httpClient *http.Client, buffer int) *Provider {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}

	return &Provider{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		buffer:  buffer,
		counter: tokens.NewCounter(),
	}
}

func (p *Provider) Name() string {
	return "openai"
}

func (p *Provider) buildRequest(req contract.CompletionRequest) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if m.Role == contract.RoleTool {
			msg.Name = m.Name
		}

		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Input,
				},
			})
		}

		messages = append(messages, msg)
	}

	var tools []openai.Tool
	for _, t := range req.Tools {
		params := t.Parameters
		if params == nil {
			params = map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	return openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		Tools:     tools,
		MaxTokens: req.MaxTokens,
	}
}

func (p *Provider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	chatReq := p.buildRequest(req)
	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, sitewiseErrors.Protocol("openai returned no choices")
	}

	choice := resp.Choices[0]
	result := &contract.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: finishReason(choice.FinishReason),
	}

	for i, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i+1)
		}
		result.ToolCalls = append(result.ToolCalls, &contract.ToolCall{
			ID:    id,
			Name:  tc.Function.Name,
			Input: tc.Function.Arguments,
		})
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = contract.FinishToolCalls
	}

	if resp.Usage.TotalTokens > 0 {
		result.Usage = &contract.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	} else {
		result.Usage = p.counter.Estimate(chatReq.Model, req.Messages, result.Content)
	}

	return result, nil
}

// Stream opens a server-sent chat completion stream. Tool call deltas are keyed by their index;
// only the first delta of a call carries its id and name.
func (p *Provider) Stream(ctx context.Context, req contract.CompletionRequest) (contract.EventStream, error) {
	chatReq := p.buildRequest(req)
	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	reqCtx, cancel := context.WithCancel(ctx)
	s, err := p.client.CreateChatCompletionStream(reqCtx, chatReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("openai stream failed: %w", err)
	}

	return stream.Go(reqCtx, p.buffer, func(ctx context.Context, emit func(contract.Event) error) error {
		return p.pump(ctx, chatReq.Model, req.Messages, s, emit)
	}, func() error {
		cancel()
		return s.Close()
	}), nil
}

func (p *Provider) pump(ctx context.Context, model string, history []contract.Message, s *openai.ChatCompletionStream, emit func(contract.Event) error) error {
	calls := stream.NewCalls()
	ids := make(map[int]string)
	var text strings.Builder
	var usage *contract.Usage
	reason := ""

	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("openai stream read failed: %w", err)
		}

		if chunk.Usage != nil {
			usage = &contract.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			if err := emit(contract.TextDelta(choice.Delta.Content)); err != nil {
				return err
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := len(ids)
			if tc.Index != nil {
				index = *tc.Index
			}
			id, ok := ids[index]
			if !ok {
				id = tc.ID
				if id == "" {
					id = fmt.Sprintf("call_%d", index+1)
				}
				ids[index] = id
			}
			calls.Append(id, tc.Function.Name, tc.Function.Arguments, false)
			call, _ := calls.Get(id)
			if err := emit(contract.ToolCallDelta(id, call.Name, tc.Function.Arguments, false)); err != nil {
				return err
			}
		}

		if choice.FinishReason != "" {
			reason = finishReason(choice.FinishReason)
		}
	}

	for _, id := range calls.Pending() {
		calls.Complete(id)
		if err := emit(contract.ToolCallComplete(id, false)); err != nil {
			return err
		}
	}

	if len(calls.Completed()) > 0 {
		reason = contract.FinishToolCalls
	} else if reason == "" {
		reason = contract.FinishStop
	}
	if usage == nil {
		usage = p.counter.Estimate(model, history, text.String())
	}
	return emit(contract.Finish(reason, usage))
}

func finishReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return contract.FinishToolCalls
	case openai.FinishReasonLength:
		return contract.FinishLength
	case "":
		return contract.FinishStop
	default:
		return string(reason)
	}
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	model := p.model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embedding failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, sitewiseErrors.Provider("openai returned no embedding data")
	}

	return resp.Data[0].Embedding, nil
}

func (p *Provider) Health(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai health check failed: %w", err)
	}
	return nil
}
