package document

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser reads the text layer of each page. Pages without extractable
// text are kept as empty strings so page numbers stay aligned.
type PDFParser struct{}

func (PDFParser) Pages(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	numPages := r.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, strings.TrimSpace(text))
	}
	return pages, nil
}

// PDFPages is PDFParser.Pages.
func PDFPages(path string) ([]string, error) {
	return PDFParser{}.Pages(path)
}

// PageCount returns the number of pages without extracting text.
func PageCount(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	return r.NumPage(), nil
}
