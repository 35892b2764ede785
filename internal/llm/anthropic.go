package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel = "claude-3-5-haiku-latest"
	defaultMaxTokens      = 4096
)

// Anthropic talks to the Anthropic Messages API. The SDK retries rate
// limits and server errors itself.
type Anthropic struct {
	client  anthropic.Client
	model   string
	enabled bool
}

func NewAnthropic(apiKey, model string, retries int) *Anthropic {
	if apiKey == "" {
		return &Anthropic{}
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	if retries < 0 {
		retries = 0
	}
	return &Anthropic{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(retries)),
		model:   model,
		enabled: true,
	}
}

func (c *Anthropic) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if c == nil || !c.enabled {
		return "", ErrAIUnavailable
	}

	model := req.Model
	if model == "" || strings.HasPrefix(model, "gpt") {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	system := req.System
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}

	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("request anthropic message: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", ErrNoChoices
	}
	return strings.TrimSpace(out.String()), nil
}
