package llm

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func loadCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		enc, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warn().Err(err).Msg("token codec unavailable, falling back to character budgets")
			return
		}
		codec = enc
	})
	return codec
}

// CountTokens estimates the prompt size of text. Without a codec it assumes
// four characters per token.
func CountTokens(text string) int {
	enc := loadCodec()
	if enc == nil {
		return (len(text) + 3) / 4
	}
	ids, _, err := enc.Encode(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(ids)
}

// Truncate cuts text to at most maxTokens tokens.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return text
	}
	enc := loadCodec()
	if enc == nil {
		return truncateRunes(text, maxTokens*4)
	}
	ids, _, err := enc.Encode(text)
	if err != nil {
		return truncateRunes(text, maxTokens*4)
	}
	if len(ids) <= maxTokens {
		return text
	}
	out, err := enc.Decode(ids[:maxTokens])
	if err != nil {
		return truncateRunes(text, maxTokens*4)
	}
	return out
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
