// Package document turns uploaded study material into page-sized text blocks
// and groups them into overlapping prompt windows.
package document

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned for file types no parser handles.
var ErrUnsupported = errors.New("unsupported document type")

// Parser extracts ordered page texts from a file on disk. Formats without
// physical pages return one entry per heading section.
type Parser interface {
	Pages(path string) ([]string, error)
}

var supported = map[string]bool{
	".pdf":      true,
	".docx":     true,
	".md":       true,
	".markdown": true,
	".html":     true,
	".htm":      true,
	".txt":      true,
}

// IsSupported reports whether a parser exists for the file name.
func IsSupported(name string) bool {
	return supported[strings.ToLower(filepath.Ext(name))]
}

// ForFile returns the parser matching the file extension.
func ForFile(name string) (Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".pdf":
		return PDFParser{}, nil
	case ".docx":
		return DOCXParser{}, nil
	case ".md", ".markdown":
		return MarkdownParser{}, nil
	case ".html", ".htm":
		return HTMLParser{}, nil
	case ".txt":
		return TextParser{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
}

// Pages extracts pages from path, choosing the parser by the extension of
// name (uploads are stored under generated names).
func Pages(path, name string) ([]string, error) {
	if name == "" {
		name = path
	}
	p, err := ForFile(name)
	if err != nil {
		return nil, err
	}
	pages, err := p.Pages(path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", filepath.Base(name), err)
	}
	return pages, nil
}

// FullText joins all pages into one document body.
func FullText(pages []string) string {
	return strings.TrimSpace(strings.Join(pages, "\n\n"))
}

// TextParser splits plain text on form feeds, falling back to fixed-size
// paragraph groups.
type TextParser struct{}

const textPageChars = 3000

func (TextParser) Pages(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	body := string(raw)
	if strings.Contains(body, "\f") {
		return trimAll(strings.Split(body, "\f")), nil
	}
	return groupParagraphs(body, textPageChars), nil
}

func groupParagraphs(body string, limit int) []string {
	var (
		pages   []string
		current strings.Builder
	)
	for _, para := range strings.Split(body, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para) > limit {
			pages = append(pages, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		pages = append(pages, current.String())
	}
	return pages
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

// sections accumulates heading-delimited text blocks.
type sections struct {
	pages   []string
	current strings.Builder
}

func (s *sections) heading(title string) {
	s.flush()
	s.current.WriteString(strings.TrimSpace(title))
}

func (s *sections) text(t string) {
	t = strings.TrimSpace(t)
	if t == "" {
		return
	}
	if s.current.Len() > 0 {
		s.current.WriteString("\n\n")
	}
	s.current.WriteString(t)
}

func (s *sections) flush() {
	if t := strings.TrimSpace(s.current.String()); t != "" {
		s.pages = append(s.pages, t)
	}
	s.current.Reset()
}

func (s *sections) result() []string {
	s.flush()
	return s.pages
}
