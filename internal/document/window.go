package document

import "strings"

const (
	// DefaultWindowPages is the number of pages per prompt window.
	DefaultWindowPages = 5
	// MinWindowChars drops windows too short to prompt on.
	MinWindowChars = 100
)

// Windows groups pages into overlapping windows of size pages. Consecutive
// windows share one page so content straddling a boundary appears whole in
// at least one window. Stepping continues past a window that reaches the last
// page, so a long final page also gets a window of its own. Windows whose joined text is MinWindowChars or shorter
// are skipped. A size below 2 falls back to DefaultWindowPages.
func Windows(pages []string, size int) []string {
	if size < 2 {
		size = DefaultWindowPages
	}
	step := size - 1

	var windows []string
	for start := 0; start < len(pages); start += step {
		end := start + size
		if end > len(pages) {
			end = len(pages)
		}
		text := strings.TrimSpace(strings.Join(pages[start:end], "\n\n"))
		if len(text) > MinWindowChars {
			windows = append(windows, text)
		}
	}
	return windows
}
