package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"echo-study/internal/llm"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAIUnavailable is returned when no chat provider is configured.
	ErrAIUnavailable = llm.ErrAIUnavailable
)

// now is the service clock; tests pin it.
var now = func() time.Time { return time.Now().UTC() }

// today returns the current UTC date as YYYY-MM-DD.
func today() string {
	return now().Format(time.DateOnly)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ask sends one user prompt and returns the trimmed reply.
func ask(ctx context.Context, chat llm.Chatter, prompt string, temperature float32) (string, error) {
	return askRequest(ctx, chat, llm.UserPrompt(prompt, temperature))
}

func askRequest(ctx context.Context, chat llm.Chatter, req llm.ChatRequest) (string, error) {
	if chat == nil {
		return "", ErrAIUnavailable
	}
	out, err := chat.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func encodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	raw, _ := json.Marshal(values)
	return string(raw)
}

func decodeStrings(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []string{}
	}
	return out
}

func encodeMeta(meta map[string]any) string {
	if len(meta) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func decodeMeta(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nullTimePtr(t sql.NullTime) any {
	if t.Valid {
		return t.Time
	}
	return nil
}

func nullInt64Ptr(v sql.NullInt64) any {
	if v.Valid {
		return v.Int64
	}
	return nil
}

// notFound maps sql.ErrNoRows onto ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
