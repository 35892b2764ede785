package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"echo-study/internal/config"
)

func TestProviderModels(t *testing.T) {
	cfg := config.Config{
		LLMProvider:          "openai",
		OpenAIModel:          "gpt-4o-mini",
		OpenAIReasoningModel: "gpt-4o",
	}
	chat, reasoning := providerModels(cfg)
	assert.Equal(t, "gpt-4o-mini", chat)
	assert.Equal(t, "gpt-4o", reasoning)

	cfg.LLMProvider = " Anthropic "
	chat, reasoning = providerModels(cfg)
	assert.Empty(t, chat)
	assert.Empty(t, reasoning)
}
