package tokens

import (
	"testing"

	"github.com/harunnryd/sitewise/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/tiktoken-go/tokenizer"
)

func TestCount(t *testing.T) {
	c := NewCounter()

	assert.Equal(t, 0, c.Count("gpt-4o-mini", ""))
	n := c.Count("gpt-4o-mini", "Hello, world!")
	assert.Greater(t, n, 0)
	assert.Less(t, n, 10)

	// cached codec returns the same count
	assert.Equal(t, n, c.Count("gpt-4o", "Hello, world!"))
}

func TestEncodingFor(t *testing.T) {
	assert.Equal(t, tokenizer.O200kBase, encodingFor("GPT-4o-mini"))
	assert.Equal(t, tokenizer.Cl100kBase, encodingFor("gpt-3.5-turbo"))
	assert.Equal(t, tokenizer.Cl100kBase, encodingFor("llama3.1"))
}

func TestEstimate(t *testing.T) {
	c := NewCounter()
	usage := c.Estimate("llama3.1", []contract.Message{
		{Role: contract.RoleSystem, Content: "You are helpful."},
		{Role: contract.RoleUser, Content: "Analyze example.com"},
	}, "Sure, analyzing now.")

	assert.True(t, usage.Estimated)
	assert.GreaterOrEqual(t, usage.PromptTokens, 2*perMessageOverhead)
	assert.Greater(t, usage.CompletionTokens, 0)
	assert.Equal(t, usage.PromptTokens+usage.CompletionTokens, usage.TotalTokens)
}
