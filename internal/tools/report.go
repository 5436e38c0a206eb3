package tools

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"

	"github.com/example/insight-orchestrator/internal/models"
)

// ReportTool renders markdown to HTML and a plain-text preview.
type ReportTool struct {
	md goldmark.Markdown
}

func NewReportTool() *ReportTool {
	return &ReportTool{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

func (t *ReportTool) Name() string { return string(models.ActionReport) }

func (t *ReportTool) Description() string {
	return "Format findings as a markdown report rendered to HTML with a plain-text preview"
}

func (t *ReportTool) Execute(ctx context.Context, input string) (*models.ToolResult, error) {
	src := strings.TrimSpace(input)
	if src == "" {
		return nil, errors.New("missing report content")
	}
	md := t.md
	if md == nil {
		md = goldmark.New(goldmark.WithExtensions(extension.GFM))
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return nil, err
	}
	rendered := buf.String()
	text, err := HTMLToText(rendered)
	if err != nil {
		return nil, err
	}
	return &models.ToolResult{
		Output: text,
		Data:   []map[string]any{{"html": rendered, "text": text}},
	}, nil
}

// HTMLToText extracts visible text, one block element per line.
func HTMLToText(doc string) (string, error) {
	if doc == "" {
		return "", nil
	}
	node, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	extractText(node, &b, false)
	return strings.TrimSpace(compactWhitespace(b.String())), nil
}

func extractText(n *html.Node, b *strings.Builder, hidden bool) {
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript":
			hidden = true
		case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "pre":
			b.WriteString("\n")
		case "td", "th":
			b.WriteString(" ")
		}
	}
	if !hidden && n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, b, hidden)
	}
}

func compactWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		if ln = strings.Join(strings.Fields(ln), " "); ln != "" {
			out = append(out, ln)
		}
	}
	return strings.Join(out, "\n")
}
