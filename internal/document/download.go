package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
)

// ErrOutsideUploadDir is returned for local paths that escape the upload
// directory.
var ErrOutsideUploadDir = errors.New("path outside upload directory")

// MaxDownloadBytes caps remote documents.
const MaxDownloadBytes = 50 << 20

// NewRetryClient returns an HTTP client that retries transient failures and
// logs attempts at trace level.
func NewRetryClient(retryMax int) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.Logger = stdlog.New(io.Discard, "", stdlog.LstdFlags)
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		log.Trace().
			Str(req.Method, req.URL.String()).
			Int("attempt", attempt).
			Msg("document fetch")
	}
	return client
}

// IsRemote reports whether ref is an http(s) URL.
func IsRemote(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Download fetches a remote document into dir and returns the local path.
// The caller removes the file when done.
func Download(ctx context.Context, client *retryablehttp.Client, ref, dir string) (string, error) {
	if client == nil {
		client = NewRetryClient(3)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", ref, resp.StatusCode)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	dest := filepath.Join(dir, uuid.NewString()+remoteExt(ref, resp.Header.Get("Content-Type")))
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}

	n, err := io.Copy(out, io.LimitReader(resp.Body, MaxDownloadBytes+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > MaxDownloadBytes {
		err = fmt.Errorf("document exceeds %d bytes", MaxDownloadBytes)
	}
	if err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("save download: %w", err)
	}
	return dest, nil
}

func remoteExt(ref, contentType string) string {
	if u, err := url.Parse(ref); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); supported[ext] {
			return ext
		}
	}
	switch {
	case strings.Contains(contentType, "html"):
		return ".html"
	case strings.Contains(contentType, "markdown"):
		return ".md"
	case strings.Contains(contentType, "text/plain"):
		return ".txt"
	case strings.Contains(contentType, "wordprocessingml"):
		return ".docx"
	default:
		return ".pdf"
	}
}

// ResolveLocal checks that a stored upload path lives inside uploadDir and
// returns its cleaned absolute form.
func ResolveLocal(ref, uploadDir string) (string, error) {
	root, err := filepath.Abs(uploadDir)
	if err != nil {
		return "", fmt.Errorf("resolve upload dir: %w", err)
	}
	candidate := ref
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, filepath.Base(candidate))
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideUploadDir, ref)
	}
	if _, err := os.Stat(candidate); err != nil {
		return "", fmt.Errorf("stat upload: %w", err)
	}
	return candidate, nil
}
