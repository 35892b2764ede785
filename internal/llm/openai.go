package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	chatTimeout        = 2 * time.Minute
	transcribeTimeout  = 3 * time.Minute
)

// OpenAI talks to the OpenAI (or a compatible) API.
type OpenAI struct {
	client  *openai.Client
	model   string
	retries int
}

func NewOpenAI(apiKey, endpoint, model string, retries int) *OpenAI {
	if apiKey == "" {
		return &OpenAI{}
	}
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		retries: retries,
	}
}

func (c *OpenAI) disabled() bool {
	return c == nil || c.client == nil || c.model == ""
}

func (c *OpenAI) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if c.disabled() {
		return "", ErrAIUnavailable
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openAIRole(m.Role),
			Content: m.Content,
		})
	}

	ccr := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	return withRetry(ctx, c.retries, "openai chat", func() (string, error) {
		resp, err := c.client.CreateChatCompletion(ctx, ccr)
		if err != nil {
			return "", fmt.Errorf("request openai chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", ErrNoChoices
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	})
}

// Transcribe sends an audio file to Whisper and returns the recognised text.
func (c *OpenAI) Transcribe(ctx context.Context, path string) (string, error) {
	if c.disabled() {
		return "", ErrAIUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()

	return withRetry(ctx, c.retries, "openai transcription", func() (string, error) {
		resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    openai.Whisper1,
			FilePath: path,
			Format:   openai.AudioResponseFormatVerboseJSON,
		})
		if err != nil {
			return "", fmt.Errorf("request openai transcription: %w", err)
		}
		return strings.TrimSpace(resp.Text), nil
	})
}

func openAIRole(role string) string {
	switch role {
	case RoleSystem:
		return openai.ChatMessageRoleSystem
	case RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
