package document

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser splits Markdown at top-level headings (levels 1 and 2).
type MarkdownParser struct{}

func (MarkdownParser) Pages(path string) ([]string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markdown: %w", err)
	}
	return markdownSections(src), nil
}

func markdownSections(src []byte) []string {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var out sections
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			title := nodeText(h, src)
			if h.Level <= 2 {
				out.heading(title)
			} else {
				out.text(title)
			}
			continue
		}
		out.text(nodeText(n, src))
	}
	return out.result()
}

func nodeText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	// Code and raw HTML blocks carry their content as lines, not children.
	if n.Type() == ast.TypeBlock && !n.HasChildren() {
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(src))
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte('\n')
			}
			continue
		}
		if buf.Len() > 0 && c.Type() == ast.TypeBlock {
			buf.WriteByte('\n')
		}
		buf.WriteString(nodeText(c, src))
	}
	return strings.TrimSpace(buf.String())
}
