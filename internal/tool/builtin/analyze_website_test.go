package builtin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goodPage() string {
	body := strings.Repeat("Our widgets ship fast and last for years. ", 50)
	return `<!doctype html>
<html lang="en">
<head>
  <title>Acme Widgets - Fast Reliable Widgets</title>
  <meta name="description" content="Acme builds fast, reliable widgets for small businesses. Order online and get free shipping on every order.">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <link rel="canonical" href="/">
  <script>var ignored = "these words are not counted";</script>
</head>
<body>
  <h1>Acme Widgets</h1>
  <h2>Why us</h2>
  <h2>Pricing</h2>
  <p>` + body + `</p>
  <img src="hero.png" alt="A widget">
  <a href="/pricing">Pricing</a>
  <a href="#top">Top</a>
  <a href="mailto:sales@acme.test">Mail</a>
  <a href="https://partner.example.org/">Partner</a>
</body>
</html>`
}

func analyze(t *testing.T, tool *AnalyzeWebsiteTool, url string) PageAnalysis {
	t.Helper()
	raw, err := tool.Execute(context.Background(), json.RawMessage(`{"url":"`+url+`"}`))
	require.NoError(t, err)

	var out PageAnalysis
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestAnalyzeWebsiteGoodPage(t *testing.T) {
	var userAgent string
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, goodPage())
	}))
	defer server.Close()

	tool := NewAnalyzeWebsiteTool(server.Client(), WebOptions{UserAgent: "sitewise-test"})
	out := analyze(t, tool, server.URL)

	assert.Equal(t, "sitewise-test", userAgent)
	assert.Equal(t, http.StatusOK, out.Status)
	assert.True(t, out.HTTPS)
	assert.Equal(t, 100, out.Score, out.Issues)
	assert.Empty(t, out.Issues)

	page := out.Page
	require.NotNil(t, page)
	assert.Equal(t, "Acme Widgets - Fast Reliable Widgets", page.Title)
	assert.Equal(t, "en", page.Lang)
	assert.Equal(t, []string{"Acme Widgets"}, page.H1)
	assert.Equal(t, 2, page.Headings["h2"])
	assert.Equal(t, 1, page.InternalLinks)
	assert.Equal(t, 1, page.ExternalLinks)
	assert.Equal(t, 1, page.Images)
	assert.Zero(t, page.ImagesNoAlt)
	assert.GreaterOrEqual(t, page.WordCount, minWordCount)
}

func TestAnalyzeWebsitePoorPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<html><head></head><body>
<img src="a.png"><img src="b.png" alt="">
<a href="/x">x</a><a href="https://other.example.com">o</a>
<p>few words here</p></body></html>`)
	}))
	defer server.Close()

	out := analyze(t, NewAnalyzeWebsiteTool(server.Client(), WebOptions{}), server.URL)

	assert.Equal(t, 21, out.Score)
	assert.False(t, out.HTTPS)
	assert.Len(t, out.Issues, 9)
	assert.Contains(t, out.Issues, "missing <title>")
	assert.Contains(t, out.Issues, "2 of 2 images missing alt text")
	assert.Equal(t, 5, out.Page.WordCount)
	assert.Equal(t, 1, out.Page.InternalLinks)
	assert.Equal(t, 1, out.Page.ExternalLinks)
}

func TestAnalyzeWebsiteFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html><head><title>Moved here for good</title></head></html>")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	out := analyze(t, NewAnalyzeWebsiteTool(server.Client(), WebOptions{}), server.URL+"/old")
	assert.Equal(t, server.URL+"/new", out.URL)
	assert.Equal(t, "Moved here for good", out.Page.Title)
}

func TestAnalyzeWebsiteTruncatesLargePages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html><body><p>"+strings.Repeat("word ", 1000)+"</p></body></html>")
	}))
	defer server.Close()

	out := analyze(t, NewAnalyzeWebsiteTool(server.Client(), WebOptions{MaxContentLength: 100}), server.URL)
	assert.True(t, out.Truncated)
	assert.Less(t, out.Page.WordCount, 30)
}

func TestAnalyzeWebsiteErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	tool := NewAnalyzeWebsiteTool(server.Client(), WebOptions{Timeout: 30 * time.Millisecond})

	tests := []struct {
		name     string
		input    string
		category error
	}{
		{name: "not found", input: `{"url":"` + server.URL + `/missing"}`, category: sitewiseErrors.ErrProvider},
		{name: "relative url", input: `{"url":"/about"}`, category: sitewiseErrors.ErrInvalidInput},
		{name: "unsupported scheme", input: `{"url":"ftp://example.com"}`, category: sitewiseErrors.ErrInvalidInput},
		{name: "bad json", input: `{"url":`, category: sitewiseErrors.ErrInvalidInput},
		{name: "timeout", input: `{"url":"` + server.URL + `/slow"}`, category: sitewiseErrors.ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Execute(context.Background(), json.RawMessage(tt.input))
			require.Error(t, err)
			assert.True(t, sitewiseErrors.IsCategory(err, tt.category), err.Error())
		})
	}
}
