package tokens

import (
	"strings"
	"sync"

	"github.com/harunnryd/sitewise/internal/model/contract"

	"github.com/tiktoken-go/tokenizer"
)

// perMessageOverhead approximates the role and framing tokens chat formats add per message.
const perMessageOverhead = 4

// Counter estimates token counts with tiktoken encodings. Counts are estimates for
// non-OpenAI models.
type Counter struct {
	mu     sync.RWMutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

func NewCounter() *Counter {
	return &Counter{codecs: make(map[tokenizer.Encoding]tokenizer.Codec)}
}

// Count returns the number of tokens text encodes to for model. Unknown models fall back to a
// four-characters-per-token estimate when no codec is available.
func (c *Counter) Count(model, text string) int {
	if text == "" {
		return 0
	}

	codec, err := c.codec(encodingFor(model))
	if err != nil {
		return (len(text) + 3) / 4
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(ids)
}

// CountMessages estimates the prompt size of a conversation.
func (c *Counter) CountMessages(model string, messages []contract.Message) int {
	total := 0
	for _, m := range messages {
		total += perMessageOverhead + c.Count(model, m.Content)
		for _, call := range m.ToolCalls {
			total += c.Count(model, call.Name) + c.Count(model, call.Input)
		}
	}
	return total
}

// Estimate builds a usage record for a completion whose backend reported none.
func (c *Counter) Estimate(model string, messages []contract.Message, completion string) *contract.Usage {
	prompt := c.CountMessages(model, messages)
	out := c.Count(model, completion)
	return &contract.Usage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
		Estimated:        true,
	}
}

func (c *Counter) codec(encoding tokenizer.Encoding) (tokenizer.Codec, error) {
	c.mu.RLock()
	if cached, ok := c.codecs[encoding]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.codecs[encoding] = codec
	c.mu.Unlock()
	return codec, nil
}

func encodingFor(model string) tokenizer.Encoding {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "gpt-4.1"), strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	default:
		return tokenizer.Cl100kBase
	}
}
