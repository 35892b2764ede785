package services

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"echo-study/internal/db"
	"echo-study/internal/llm"
)

// fixedNow is the pinned service clock used by every test in the package.
var fixedNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func pinClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = prev })
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "echostudy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeTemp(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// fakeChat answers chat requests through reply and records them.
type fakeChat struct {
	mu       sync.Mutex
	reply    func(call int, req llm.ChatRequest) (string, error)
	requests []llm.ChatRequest
}

func replying(replies ...string) *fakeChat {
	return &fakeChat{reply: func(call int, _ llm.ChatRequest) (string, error) {
		if call >= len(replies) {
			return "", errors.New("no scripted reply")
		}
		return replies[call], nil
	}}
}

func (f *fakeChat) Chat(_ context.Context, req llm.ChatRequest) (string, error) {
	f.mu.Lock()
	call := len(f.requests)
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.reply(call, req)
}

func (f *fakeChat) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeChat) prompt(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.requests[i].Messages
	return msgs[len(msgs)-1].Content
}
