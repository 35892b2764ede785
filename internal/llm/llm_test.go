package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripFence(t *testing.T) {
	cases := map[string]string{
		"```json\n[1, 2]\n```": "[1, 2]",
		"```\n{\"a\": 1}\n```": `{"a": 1}`,
		"  [1]  ":              "[1]",
		"```json\n[1, 2]":      "[1, 2]",
		"```json [\"x\"] ```":  `["x"]`,
		"no fence at all":      "no fence at all",
	}
	for in, want := range cases {
		assert.Equal(t, want, StripFence(in), "input %q", in)
	}
}

func TestExtractObject(t *testing.T) {
	raw := "Here you go:\n```json\n{\"title\": \"Bio\"}\n```"
	assert.Equal(t, `{"title": "Bio"}`, ExtractObject(raw))
	assert.Equal(t, `{"a": {"b": 1}}`, ExtractObject(`noise {"a": {"b": 1}} trailing`))
}

func TestExtractArray(t *testing.T) {
	assert.Equal(t, `["a","b"]`, ExtractArray(`Tags: ["a","b"] done`))
	assert.Equal(t, "plain", ExtractArray("plain"))
}

func TestSanitizeForPrompt(t *testing.T) {
	assert.Equal(t, "a b c", SanitizeForPrompt("  a \n b\t c ", 0))
	assert.Equal(t, "abcd...", SanitizeForPrompt("abcdefghij", 7))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", &openai.APIError{HTTPStatusCode: http.StatusBadGateway})))
	assert.True(t, IsRetryable(&openai.RequestError{HTTPStatusCode: http.StatusServiceUnavailable}))
	assert.False(t, IsRetryable(&openai.APIError{HTTPStatusCode: http.StatusBadRequest}))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.False(t, IsRetryable(nil))
}

func TestWithRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := withRetry(context.Background(), 3, "test", func() (string, error) {
		calls++
		return "", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RetriesRateLimits(t *testing.T) {
	calls := 0
	out, err := withRetry(context.Background(), 3, "test", func() (string, error) {
		calls++
		if calls < 2 {
			return "", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, calls)
}

type recordingChatter struct {
	last ChatRequest
	out  string
}

func (r *recordingChatter) Chat(_ context.Context, req ChatRequest) (string, error) {
	r.last = req
	return r.out, nil
}

func TestGenerator_SendsSingleUserPrompt(t *testing.T) {
	chat := &recordingChatter{out: "[]"}
	gen := NewGenerator(chat, 0.4).WithModel("gpt-4o")

	out, err := gen.Generate(context.Background(), "make questions")
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
	require.Len(t, chat.last.Messages, 1)
	assert.Equal(t, RoleUser, chat.last.Messages[0].Role)
	assert.Equal(t, "make questions", chat.last.Messages[0].Content)
	assert.InDelta(t, 0.4, chat.last.Temperature, 0.0001)
	assert.Equal(t, "gpt-4o", chat.last.Model)
}

func TestUnconfiguredClientsReportUnavailable(t *testing.T) {
	_, err := NewOpenAI("", "", "", 1).Chat(context.Background(), UserPrompt("hi", 0))
	assert.ErrorIs(t, err, ErrAIUnavailable)

	_, err = NewOpenAI("", "", "", 1).Transcribe(context.Background(), "/tmp/none.mp3")
	assert.ErrorIs(t, err, ErrAIUnavailable)

	_, err = NewAnthropic("", "", 1).Chat(context.Background(), UserPrompt("hi", 0))
	assert.ErrorIs(t, err, ErrAIUnavailable)
}

func TestNew_SelectsProvider(t *testing.T) {
	chat, oa, err := New(Options{Provider: "anthropic", AnthropicKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &Anthropic{}, chat)
	assert.NotNil(t, oa)

	chat, _, err = New(Options{})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, chat)

	_, _, err = New(Options{Provider: "mystery"})
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	text := strings.Repeat("photosynthesis converts light ", 200)
	short := Truncate(text, 20)
	assert.Less(t, len(short), len(text))
	assert.LessOrEqual(t, CountTokens(short), 21)
	assert.Equal(t, "tiny", Truncate("tiny", 20))
}
