package document

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestForFile(t *testing.T) {
	cases := map[string]Parser{
		"notes.pdf":      PDFParser{},
		"Lecture.DOCX":   DOCXParser{},
		"readme.md":      MarkdownParser{},
		"guide.markdown": MarkdownParser{},
		"syllabus.html":  HTMLParser{},
		"syllabus.htm":   HTMLParser{},
		"transcript.txt": TextParser{},
	}
	for name, want := range cases {
		p, err := ForFile(name)
		require.NoError(t, err, name)
		assert.IsType(t, want, p, name)
		assert.True(t, IsSupported(name), name)
	}

	_, err := ForFile("slides.pptx")
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.False(t, IsSupported("slides.pptx"))
}

func TestWindows_OverlapByOnePage(t *testing.T) {
	pages := make([]string, 9)
	for i := range pages {
		pages[i] = strings.Repeat(string(rune('a'+i)), 30)
	}

	windows := Windows(pages, 5)
	require.Len(t, windows, 2)
	assert.True(t, strings.HasPrefix(windows[0], pages[0]))
	assert.True(t, strings.HasSuffix(windows[0], pages[4]))
	assert.True(t, strings.HasPrefix(windows[1], pages[4]))
	assert.True(t, strings.HasSuffix(windows[1], pages[8]))
	assert.Contains(t, windows[0], pages[0]+"\n\n"+pages[1])
}

func TestWindows_KeepsTrailingPageWindow(t *testing.T) {
	pages := make([]string, 5)
	for i := range pages {
		pages[i] = strings.Repeat(string(rune('a'+i)), MinWindowChars+1)
	}

	windows := Windows(pages, 5)
	require.Len(t, windows, 2)
	assert.True(t, strings.HasPrefix(windows[0], pages[0]))
	assert.True(t, strings.HasSuffix(windows[0], pages[4]))
	assert.Equal(t, pages[4], windows[1])
}

func TestWindows_SkipsShortWindows(t *testing.T) {
	assert.Empty(t, Windows([]string{"tiny", "", "page"}, 5))
	assert.Empty(t, Windows(nil, 5))

	long := strings.Repeat("x", MinWindowChars+1)
	assert.Equal(t, []string{long}, Windows([]string{long}, 5))

	exact := strings.Repeat("x", MinWindowChars)
	assert.Empty(t, Windows([]string{exact}, 5))
}

func TestWindows_SmallSizeFallsBack(t *testing.T) {
	pages := make([]string, 6)
	for i := range pages {
		pages[i] = strings.Repeat("p", 60)
	}
	assert.Equal(t, Windows(pages, DefaultWindowPages), Windows(pages, 1))
	assert.Equal(t, Windows(pages, DefaultWindowPages), Windows(pages, 0))
	assert.Len(t, Windows(pages, 2), 5)
}

func TestMarkdownParser_SplitsAtHeadings(t *testing.T) {
	path := writeFile(t, "bio.md", `# Cells

Cells are the *basic* unit of life.

## Mitosis

Division happens in phases:

- prophase
- metaphase

### Checkpoints

Errors are caught here.
`)
	pages, err := MarkdownParser{}.Pages(path)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "Cells\n\nCells are the basic unit of life.", pages[0])
	assert.True(t, strings.HasPrefix(pages[1], "Mitosis"))
	assert.Contains(t, pages[1], "prophase")
	assert.Contains(t, pages[1], "Checkpoints")
	assert.Contains(t, pages[1], "Errors are caught here.")
}

func TestHTMLParser_DropsChrome(t *testing.T) {
	path := writeFile(t, "syllabus.html", `<html>
<head><title>BIO 101</title><script>var tracking = 1;</script></head>
<body>
<nav>Home | Courses</nav>
<h1>Week 1</h1><p>Cell structure</p>
<h2>Week 2</h2><p>Genetics basics</p>
<footer>Copyright</footer>
</body></html>`)

	pages, err := HTMLParser{}.Pages(path)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Contains(t, pages[0], "Week 1")
	assert.Contains(t, pages[0], "Cell structure")
	assert.Contains(t, pages[1], "Genetics basics")

	joined := strings.Join(pages, "\n")
	assert.NotContains(t, joined, "tracking")
	assert.NotContains(t, joined, "Courses")
	assert.NotContains(t, joined, "Copyright")
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "BIO 101", Title([]byte("<html><head><title> BIO 101 </title></head></html>")))
	assert.Equal(t, "", Title([]byte("<p>none</p>")))
}

func TestTextParser(t *testing.T) {
	path := writeFile(t, "a.txt", "page one\fpage two\f page three ")
	pages, err := TextParser{}.Pages(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"page one", "page two", "page three"}, pages)

	grouped := groupParagraphs("alpha\n\nbeta\n\ngamma", 11)
	assert.Equal(t, []string{"alpha\n\nbeta", "gamma"}, grouped)
}

func TestPages_WrapsParserErrors(t *testing.T) {
	_, err := Pages(filepath.Join(t.TempDir(), "missing.pdf"), "lecture.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lecture.pdf")

	_, err = DOCXParser{}.Pages(filepath.Join(t.TempDir(), "missing.docx"))
	assert.Error(t, err)
}

func TestFullText(t *testing.T) {
	assert.Equal(t, "a\n\nb", FullText([]string{"a", "b"}))
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.com/notes.pdf"))
	assert.True(t, IsRemote("http://example.com/x"))
	assert.False(t, IsRemote("uploads/abc.pdf"))
	assert.False(t, IsRemote("/tmp/abc.pdf"))
	assert.False(t, IsRemote("ftp://example.com/x.pdf"))
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.pdf" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = w.Write([]byte("# Notes\n\nbody"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	client := NewRetryClient(0)

	path, err := Download(context.Background(), client, srv.URL+"/lecture.md", dir)
	require.NoError(t, err)
	assert.Equal(t, ".md", filepath.Ext(path))
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Notes\n\nbody", string(body))

	path, err = Download(context.Background(), client, srv.URL+"/export", dir)
	require.NoError(t, err)
	assert.Equal(t, ".md", filepath.Ext(path))

	_, err = Download(context.Background(), client, srv.URL+"/missing.pdf", dir)
	assert.Error(t, err)
}

func TestResolveLocal(t *testing.T) {
	dir := t.TempDir()
	inside := filepath.Join(dir, "abc.pdf")
	require.NoError(t, os.WriteFile(inside, []byte("%PDF"), 0o644))

	got, err := ResolveLocal(inside, dir)
	require.NoError(t, err)
	assert.Equal(t, inside, got)

	got, err = ResolveLocal("uploads/abc.pdf", dir)
	require.NoError(t, err)
	assert.Equal(t, inside, got)

	_, err = ResolveLocal("/etc/passwd", dir)
	assert.ErrorIs(t, err, ErrOutsideUploadDir)

	_, err = ResolveLocal(filepath.Join(dir, "nope.pdf"), dir)
	assert.Error(t, err)
}
