package orchestrator

import (
	"github.com/harunnryd/sitewise/internal/model/contract"
)

// conversation is the live history of one run. It is owned by a single Run call and discarded
// when the run ends.
type conversation struct {
	messages  []contract.Message
	reported  int
	stepCount int
}

// newConversation copies input and prepends systemPrompt unless the caller supplied a system message.
func newConversation(systemPrompt string, input []contract.Message) *conversation {
	messages := make([]contract.Message, 0, len(input)+1)
	if systemPrompt != "" && (len(input) == 0 || input[0].Role != contract.RoleSystem) {
		messages = append(messages, contract.Message{Role: contract.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, input...)
	return &conversation{messages: messages}
}

func (c *conversation) history() []contract.Message {
	return c.messages
}

func (c *conversation) appendAssistant(text string, calls []*contract.ToolCall) {
	c.messages = append(c.messages, contract.Message{
		Role:      contract.RoleAssistant,
		Content:   text,
		ToolCalls: calls,
	})
}

func (c *conversation) appendResults(results []contract.ToolResult) {
	for _, r := range results {
		c.messages = append(c.messages, contract.Message{
			Role:       contract.RoleTool,
			Name:       r.Name,
			ToolCallID: r.CallID,
			Content:    r.Content(),
			IsError:    r.Error != nil,
		})
	}
}

// unreported returns the messages appended since the previous call.
func (c *conversation) unreported() []contract.Message {
	out := make([]contract.Message, len(c.messages)-c.reported)
	copy(out, c.messages[c.reported:])
	c.reported = len(c.messages)
	return out
}
