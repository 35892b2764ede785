// Package llm wraps the chat and speech providers behind small interfaces so
// services and tests can swap them freely.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrAIUnavailable is returned when no provider key is configured.
	ErrAIUnavailable = errors.New("llm integration is not configured")
	// ErrNoChoices is returned when a provider answers without content.
	ErrNoChoices = errors.New("llm returned no choices")
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TemperatureZero asks for deterministic output. The OpenAI client omits a
// literal zero temperature from requests.
const TemperatureZero float32 = math.SmallestNonzeroFloat32

// ChatRequest is a provider-neutral chat completion request. A zero
// Temperature leaves the provider default in place.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Chatter produces a single assistant reply.
type Chatter interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// UserPrompt builds a request with a single user message.
func UserPrompt(prompt string, temperature float32) ChatRequest {
	return ChatRequest{
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		Temperature: temperature,
	}
}

// Generator adapts a Chatter to the single-prompt generation used by the
// quiz accumulator.
type Generator struct {
	chat        Chatter
	temperature float32
	model       string
}

func NewGenerator(chat Chatter, temperature float32) *Generator {
	return &Generator{chat: chat, temperature: temperature}
}

// WithModel returns a copy of the generator bound to a specific model.
func (g *Generator) WithModel(model string) *Generator {
	cp := *g
	cp.model = model
	return &cp
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	req := UserPrompt(prompt, g.temperature)
	req.Model = g.model
	return g.chat.Chat(ctx, req)
}

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Options configures the provider clients.
type Options struct {
	Provider       string
	OpenAIKey      string
	OpenAIEndpoint string
	OpenAIModel    string
	AnthropicKey   string
	AnthropicModel string
	MaxRetries     int
}

// New returns the chat client for the configured provider and the OpenAI
// client, which also serves transcription.
func New(opts Options) (Chatter, *OpenAI, error) {
	oa := NewOpenAI(opts.OpenAIKey, opts.OpenAIEndpoint, opts.OpenAIModel, opts.MaxRetries)
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", ProviderOpenAI:
		return oa, oa, nil
	case ProviderAnthropic:
		return NewAnthropic(opts.AnthropicKey, opts.AnthropicModel, opts.MaxRetries), oa, nil
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
}
