package reader

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// WebsiteConfig configures the generic page reader.
type WebsiteConfig struct {
	// ChunkChars is the maximum number of characters per chunk (default 2000).
	ChunkChars int

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// Website extracts readable paragraphs from HTML pages.
type Website struct {
	cfg    WebsiteConfig
	client *http.Client
}

// NewWebsite creates the reader.
func NewWebsite(cfg WebsiteConfig) *Website {
	if cfg.ChunkChars <= 0 {
		cfg.ChunkChars = 2000
	}
	return &Website{cfg: cfg, client: newHTTPClient(cfg.Timeout)}
}

// URLFromText returns the first http(s) URL found in text.
func (w *Website) URLFromText(text string) (string, bool) {
	u := urlPattern.FindString(text)
	if u == "" {
		return "", false
	}
	return strings.TrimRight(u, ".,;:!?)]}》」）"), true
}

// ContentChunks fetches url and returns its text split into chunks. A page
// without readable text yields zero chunks and no error.
func (w *Website) ContentChunks(ctx context.Context, url string) ([]string, error) {
	if abs, ok := ArxivAbstractLink(url); ok {
		url = abs
	}

	body, header, err := get(ctx, w.client, url, http.Header{
		"Accept": {"text/html,application/xhtml+xml,text/plain;q=0.9"},
	})
	if err != nil {
		return nil, fmt.Errorf("website: %w", err)
	}

	contentType := strings.ToLower(header.Get("Content-Type"))
	switch {
	case strings.HasPrefix(contentType, "text/plain"):
		return chunkParagraphs(strings.Split(string(body), "\n"), w.cfg.ChunkChars), nil
	case contentType != "" && !strings.Contains(contentType, "html"):
		return nil, nil
	}

	paragraphs, err := extractParagraphs(body)
	if err != nil {
		return nil, fmt.Errorf("website: parsing html: %w", err)
	}
	return chunkParagraphs(paragraphs, w.cfg.ChunkChars), nil
}

// ArxivAbstractLink maps arxiv /abs/ and /pdf/ links to the abstract page.
func ArxivAbstractLink(url string) (string, bool) {
	switch {
	case strings.HasPrefix(url, "https://arxiv.org/abs/"):
		return url, true
	case strings.HasPrefix(url, "https://arxiv.org/pdf/"):
		abs := strings.Replace(url, "/pdf/", "/abs/", 1)
		return strings.TrimSuffix(abs, ".pdf"), true
	default:
		return "", false
	}
}

// skipped elements never contribute text.
var skipped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Nav: true,
	atom.Footer: true, atom.Header: true, atom.Form: true, atom.Iframe: true,
	atom.Svg: true, atom.Template: true,
}

// blocks are the elements whose text forms one paragraph.
var blocks = map[atom.Atom]bool{
	atom.P: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.Li: true, atom.Pre: true, atom.Blockquote: true, atom.Td: true,
}

// extractParagraphs walks the document and collects the text of block
// elements, falling back to every visible text node when none are found.
func extractParagraphs(page []byte) ([]string, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}

	var paragraphs []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipped[n.DataAtom] {
				return
			}
			if blocks[n.DataAtom] {
				if text := collapseSpace(nodeText(n)); text != "" {
					paragraphs = append(paragraphs, text)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(paragraphs) > 0 {
		return paragraphs, nil
	}

	// No block structure: take loose text nodes.
	var loose func(n *html.Node)
	loose = func(n *html.Node) {
		if n.Type == html.ElementNode && (skipped[n.DataAtom] || n.DataAtom == atom.Title) {
			return
		}
		if n.Type == html.TextNode {
			if text := collapseSpace(n.Data); text != "" {
				paragraphs = append(paragraphs, text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			loose(c)
		}
	}
	loose(doc)
	return paragraphs, nil
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// chunkParagraphs packs paragraphs into chunks of at most limit characters.
// A single paragraph longer than limit is split on rune boundaries.
func chunkParagraphs(paragraphs []string, limit int) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n := utf8.RuneCountInString(p)

		if n > limit {
			flush()
			runes := []rune(p)
			for start := 0; start < len(runes); start += limit {
				end := start + limit
				if end > len(runes) {
					end = len(runes)
				}
				chunks = append(chunks, string(runes[start:end]))
			}
			continue
		}

		if curLen > 0 && curLen+1+n > limit {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte('\n')
			curLen++
		}
		cur.WriteString(p)
		curLen += n
	}
	flush()
	return chunks
}
