package contract

import (
	"context"
	"encoding/json"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one history entry. IsError marks a tool message whose content is a ToolError.
type Message struct {
	Role       string      `json:"role"`
	Content    string      `json:"content"`
	Name       string      `json:"name,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	ToolCalls  []*ToolCall `json:"tool_calls,omitempty"`
	IsError    bool        `json:"is_error,omitempty"`
}

type CompletionRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Tools     []ToolDef `json:"tools,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type CompletionResponse struct {
	Content      string      `json:"content"`
	ToolCalls    []*ToolCall `json:"tool_calls,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *Usage      `json:"usage,omitempty"`
}

// ToolCall is a model-requested invocation. Input holds the complete arguments JSON and stays empty
// until the call is completed; Fragments holds the pieces as they arrived.
type ToolCall struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name"`
	Input     string   `json:"input"`
	Fragments []string `json:"-"`
	Emulated  bool     `json:"emulated,omitempty"`
}

type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	Estimated        bool `json:"estimated,omitempty"`
}

// ToolError is the absorbed failure of a single tool call.
type ToolError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ToolResult carries either Output or Error, never both.
type ToolResult struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  *ToolError      `json:"error,omitempty"`
}

// Content renders the result as the body of a tool-role message.
func (r ToolResult) Content() string {
	if r.Error != nil {
		data, _ := json.Marshal(map[string]interface{}{"error": r.Error})
		return string(data)
	}
	if len(r.Output) == 0 {
		return "null"
	}
	return string(r.Output)
}

// EventStream is a pull iterator over generation events. Recv returns io.EOF once the stream
// finished cleanly. Close releases the underlying connection and is safe to call more than once.
type EventStream interface {
	Recv(ctx context.Context) (Event, error)
	Close() error
}
