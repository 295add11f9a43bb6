package builtin

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Page is what the analyzer extracts from an HTML document.
type Page struct {
	Title           string         `json:"title"`
	MetaDescription string         `json:"meta_description"`
	Lang            string         `json:"lang,omitempty"`
	Canonical       string         `json:"canonical,omitempty"`
	Viewport        bool           `json:"viewport"`
	Headings        map[string]int `json:"headings"`
	H1              []string       `json:"h1,omitempty"`
	InternalLinks   int            `json:"internal_links"`
	ExternalLinks   int            `json:"external_links"`
	Images          int            `json:"images"`
	ImagesNoAlt     int            `json:"images_missing_alt"`
	WordCount       int            `json:"word_count"`
}

func parsePage(r io.Reader, base *url.URL) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	p := &Page{Headings: make(map[string]int)}
	var words int

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			words += len(strings.Fields(n.Data))
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			case atom.Html:
				p.Lang = strings.TrimSpace(attr(n, "lang"))
			case atom.Title:
				if p.Title == "" {
					p.Title = collapse(textOf(n))
				}
				return
			case atom.Meta:
				switch strings.ToLower(attr(n, "name")) {
				case "description":
					p.MetaDescription = collapse(attr(n, "content"))
				case "viewport":
					p.Viewport = true
				}
			case atom.Link:
				if hasToken(attr(n, "rel"), "canonical") {
					p.Canonical = strings.TrimSpace(attr(n, "href"))
				}
			case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				p.Headings[n.Data]++
				if n.DataAtom == atom.H1 {
					p.H1 = append(p.H1, collapse(textOf(n)))
				}
			case atom.A:
				countLink(p, base, attr(n, "href"))
			case atom.Img:
				p.Images++
				if strings.TrimSpace(attr(n, "alt")) == "" {
					p.ImagesNoAlt++
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	p.WordCount = words
	return p, nil
}

func countLink(p *Page, base *url.URL, href string) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return
	}
	u, err := url.Parse(href)
	if err != nil {
		return
	}
	if u.Scheme == "mailto" || u.Scheme == "tel" || u.Scheme == "javascript" {
		return
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if base != nil && strings.EqualFold(u.Hostname(), base.Hostname()) {
		p.InternalLinks++
		return
	}
	p.ExternalLinks++
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if strings.EqualFold(f, token) {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
