package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harunnryd/sitewise/internal/config"
	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	toolcore "github.com/harunnryd/sitewise/internal/tool"
)

const (
	minWordCount      = 300
	titleMinLength    = 10
	titleMaxLength    = 60
	descMinLength     = 50
	descMaxLength     = 160
	maxAltPenalty     = 10
	altPenaltyPerItem = 2
)

type WebOptions struct {
	Timeout          time.Duration
	MaxContentLength int
	UserAgent        string
}

// AnalyzeWebsiteTool fetches a page and scores its on-page SEO.
type AnalyzeWebsiteTool struct {
	Client           *http.Client
	timeout          time.Duration
	maxContentLength int
	userAgent        string
}

type analyzeInput struct {
	URL string `json:"url" jsonschema:"description=Absolute http(s) URL of the page to analyze,minLength=1"`
}

// PageAnalysis is the tool output.
type PageAnalysis struct {
	URL       string   `json:"url"`
	Status    int      `json:"status"`
	HTTPS     bool     `json:"https"`
	Truncated bool     `json:"truncated,omitempty"`
	Page      *Page    `json:"page"`
	Score     int      `json:"score"`
	Issues    []string `json:"issues"`
}

func NewAnalyzeWebsiteTool(client *http.Client, opts WebOptions) *AnalyzeWebsiteTool {
	if client == nil {
		client = http.DefaultClient
	}
	timeout, _ := config.DurationOrDefault("", config.DefaultWebToolTimeout)
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = config.DefaultWebToolUserAgent
	}
	return &AnalyzeWebsiteTool{
		Client:           client,
		timeout:          durationOr(opts.Timeout, timeout),
		maxContentLength: orDefault(opts.MaxContentLength, config.DefaultWebToolMaxContentLength),
		userAgent:        userAgent,
	}
}

func (t *AnalyzeWebsiteTool) Name() string {
	return "analyze_website"
}

func (t *AnalyzeWebsiteTool) Description() string {
	return "Fetch a web page and report its title, meta description, headings, links, images and word count with an SEO score from 0 to 100 and a list of issues."
}

func (t *AnalyzeWebsiteTool) ToolMetadata() toolcore.ToolMetadata {
	return toolcore.ToolMetadata{
		Source:       "builtin",
		Capabilities: []string{"web.fetch", "seo.audit"},
		Risk:         toolcore.RiskLow,
		Network:      true,
	}
}

func (t *AnalyzeWebsiteTool) Parameters() map[string]interface{} {
	return toolcore.ReflectSchema(&analyzeInput{})
}

func (t *AnalyzeWebsiteTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args analyzeInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, sitewiseErrors.InvalidInput(fmt.Sprintf("invalid input: %v", err))
	}

	target, err := url.Parse(strings.TrimSpace(args.URL))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, sitewiseErrors.InvalidInput(fmt.Sprintf("invalid url %q", args.URL))
	}

	analysis, err := t.analyze(ctx, target)
	if err != nil {
		return nil, err
	}
	return json.Marshal(analysis)
}

func (t *AnalyzeWebsiteTool) analyze(ctx context.Context, target *url.URL) (*PageAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, sitewiseErrors.NewDefaultErrorMapper().MapError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, sitewiseErrors.Provider(fmt.Sprintf("fetch %s: status %d", target, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxContentLength)+1))
	if err != nil {
		return nil, sitewiseErrors.Wrap(err, "read page body")
	}
	truncated := len(body) > t.maxContentLength
	if truncated {
		body = body[:t.maxContentLength]
	}

	final := resp.Request.URL
	page, err := parsePage(bytes.NewReader(body), final)
	if err != nil {
		return nil, sitewiseErrors.Wrap(err, "parse page")
	}

	analysis := &PageAnalysis{
		URL:       final.String(),
		Status:    resp.StatusCode,
		HTTPS:     final.Scheme == "https",
		Truncated: truncated,
		Page:      page,
	}
	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType != "" && !strings.Contains(mediaType, "html") {
		analysis.Issues = append(analysis.Issues, fmt.Sprintf("content type is %s, not HTML", mediaType))
	}
	analysis.Score, analysis.Issues = score(analysis, analysis.Issues)
	return analysis, nil
}

// score starts at 100 and deducts per issue found.
func score(a *PageAnalysis, issues []string) (int, []string) {
	p := a.Page
	total := 100
	deduct := func(points int, issue string) {
		total -= points
		issues = append(issues, issue)
	}

	switch n := len([]rune(p.Title)); {
	case n == 0:
		deduct(15, "missing <title>")
	case n < titleMinLength || n > titleMaxLength:
		deduct(5, fmt.Sprintf("title is %d characters, aim for %d-%d", n, titleMinLength, titleMaxLength))
	}

	switch n := len([]rune(p.MetaDescription)); {
	case n == 0:
		deduct(10, "missing meta description")
	case n < descMinLength || n > descMaxLength:
		deduct(5, fmt.Sprintf("meta description is %d characters, aim for %d-%d", n, descMinLength, descMaxLength))
	}

	switch len(p.H1) {
	case 0:
		deduct(10, "no <h1> heading")
	case 1:
	default:
		deduct(5, fmt.Sprintf("%d <h1> headings, use one", len(p.H1)))
	}

	if p.ImagesNoAlt > 0 {
		penalty := p.ImagesNoAlt * altPenaltyPerItem
		if penalty > maxAltPenalty {
			penalty = maxAltPenalty
		}
		deduct(penalty, fmt.Sprintf("%d of %d images missing alt text", p.ImagesNoAlt, p.Images))
	}
	if p.WordCount < minWordCount {
		deduct(10, fmt.Sprintf("thin content: %d words", p.WordCount))
	}
	if !p.Viewport {
		deduct(10, "no viewport meta tag")
	}
	if !a.HTTPS {
		deduct(10, "page is not served over HTTPS")
	}
	if p.Canonical == "" {
		deduct(5, "no canonical link")
	}
	if p.Lang == "" {
		deduct(5, "no lang attribute on <html>")
	}

	if total < 0 {
		total = 0
	}
	if issues == nil {
		issues = []string{}
	}
	return total, issues
}
