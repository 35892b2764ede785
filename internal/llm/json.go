package llm

import (
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)^```[A-Za-z]*\\s*(.*?)\\s*```$")

// StripFence removes a Markdown code fence wrapped around a model response,
// including an unterminated opening fence.
func StripFence(content string) string {
	content = strings.TrimSpace(content)
	if m := fenceRe.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(content, "```") {
		content = content[3:]
		if idx := strings.Index(content, "\n"); idx != -1 {
			content = content[idx+1:]
		}
	}
	return strings.TrimSpace(content)
}

// ExtractObject strips a fence and narrows the response to the outermost JSON object.
func ExtractObject(content string) string {
	content = StripFence(content)
	if start := strings.Index(content, "{"); start != -1 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}
	return strings.TrimSpace(content)
}

// ExtractArray strips a fence and narrows the response to the outermost JSON array.
func ExtractArray(content string) string {
	content = StripFence(content)
	if start := strings.Index(content, "["); start != -1 {
		if end := strings.LastIndex(content, "]"); end > start {
			content = content[start : end+1]
		}
	}
	return strings.TrimSpace(content)
}

// SanitizeForPrompt collapses whitespace and caps the text at limit runes.
func SanitizeForPrompt(input string, limit int) string {
	collapsed := strings.Join(strings.Fields(strings.TrimSpace(input)), " ")
	if limit <= 0 {
		return collapsed
	}
	runes := []rune(collapsed)
	if len(runes) <= limit {
		return collapsed
	}
	if limit > 3 {
		return string(runes[:limit-3]) + "..."
	}
	return string(runes[:limit])
}
