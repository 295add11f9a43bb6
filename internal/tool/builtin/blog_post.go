package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harunnryd/sitewise/internal/config"
	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/model/contract"
	toolcore "github.com/harunnryd/sitewise/internal/tool"
)

const (
	defaultBlogWords = 800
	defaultBlogTone  = "informative"
	blogSystemPrompt = "You are a professional content writer. Write well-structured blog posts in Markdown with a single H1 title, short sections with H2 headings and a closing call to action. Output only the post."
)

// BlogPostTool drafts a post with a tool-less generation.
type BlogPostTool struct {
	generator Generator
	maxWords  int
}

type blogPostInput struct {
	Topic    string   `json:"topic" jsonschema:"description=Subject of the post,minLength=1"`
	Keywords []string `json:"keywords" jsonschema:"description=SEO keywords to work into the text"`
	Tone     string   `json:"tone,omitempty" jsonschema:"description=Writing tone such as informative or casual"`
	Words    int      `json:"words,omitempty" jsonschema:"description=Approximate length in words,minimum=50"`
}

type blogPostOutput struct {
	Title     string          `json:"title"`
	Content   string          `json:"content"`
	WordCount int             `json:"word_count"`
	Keywords  []string        `json:"keywords"`
	Usage     *contract.Usage `json:"usage,omitempty"`
}

func NewBlogPostTool(generator Generator, maxWords int) *BlogPostTool {
	return &BlogPostTool{
		generator: generator,
		maxWords:  orDefault(maxWords, config.DefaultBlogToolMaxWords),
	}
}

func (t *BlogPostTool) Name() string {
	return "generate_blog_post"
}

func (t *BlogPostTool) Description() string {
	return "Draft a Markdown blog post on a topic, working in the given SEO keywords."
}

func (t *BlogPostTool) ToolMetadata() toolcore.ToolMetadata {
	return toolcore.ToolMetadata{
		Source:       "builtin",
		Capabilities: []string{"content.generate"},
		Risk:         toolcore.RiskLow,
		Network:      true,
	}
}

func (t *BlogPostTool) Parameters() map[string]interface{} {
	return toolcore.ReflectSchema(&blogPostInput{})
}

func (t *BlogPostTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args blogPostInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, sitewiseErrors.InvalidInput(fmt.Sprintf("invalid input: %v", err))
	}
	args.Topic = strings.TrimSpace(args.Topic)
	if args.Topic == "" {
		return nil, sitewiseErrors.InvalidInput("topic is required")
	}

	words := args.Words
	if words <= 0 {
		words = defaultBlogWords
	}
	if words > t.maxWords {
		words = t.maxWords
	}
	tone := strings.TrimSpace(args.Tone)
	if tone == "" {
		tone = defaultBlogTone
	}

	resp, err := t.generator.Generate(ctx, contract.CompletionRequest{
		Messages: []contract.Message{
			{Role: contract.RoleSystem, Content: blogSystemPrompt},
			{Role: contract.RoleUser, Content: blogPrompt(args.Topic, args.Keywords, tone, words)},
		},
		MaxTokens: words * 2,
	})
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return nil, sitewiseErrors.Provider("model returned an empty post")
	}

	return json.Marshal(blogPostOutput{
		Title:     postTitle(content, args.Topic),
		Content:   content,
		WordCount: len(strings.Fields(content)),
		Keywords:  args.Keywords,
		Usage:     resp.Usage,
	})
}

func blogPrompt(topic string, keywords []string, tone string, words int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a blog post of about %d words on: %s\n", words, topic)
	fmt.Fprintf(&b, "Tone: %s\n", tone)
	if len(keywords) > 0 {
		fmt.Fprintf(&b, "Use these keywords naturally: %s\n", strings.Join(keywords, ", "))
	}
	return b.String()
}

// postTitle returns the first Markdown H1, or topic when there is none.
func postTitle(content, topic string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return topic
}
