package quiz

import (
	"fmt"
	"strings"
)

// PromptFunc renders the prompt for one accumulator attempt.
type PromptFunc func(window, difficulty string, allowed TypeSet) string

const questionFormat = `[
  {
    "type": "mcq" | "short" | "fillblank" | "truefalse",
    "question": "string",
    "options": ["..."],        // only if type === "mcq"
    "answer": "string or boolean",
    "explanation": "string",
    "difficulty": "%s"
  }
]`

// LecturePrompt asks for three questions grounded in a window of lecture text.
func LecturePrompt(window, difficulty string, allowed TypeSet) string {
	var b strings.Builder
	b.WriteString("You are an expert AI test writer.\n\n")
	b.WriteString("Generate exactly 3 quiz questions that:\n")
	b.WriteString("- Are based primarily on the lecture content provided below\n")
	b.WriteString("- Can also incorporate relevant external knowledge from your training to simulate real test environments\n")
	b.WriteString("- Reflect the style of challenging academic or standardized exams\n")
	fmt.Fprintf(&b, "- Match the specified difficulty: %q\n", difficulty)
	fmt.Fprintf(&b, "- Use only these types: %s\n\n", allowed)
	b.WriteString("Instructions:\n")
	b.WriteString("- Mix factual recall with reasoning or application\n")
	b.WriteString("- Ensure all questions are answerable using the lecture text and logical inference\n")
	b.WriteString("- Avoid repetitive phrasing or trivial questions\n\n")
	b.WriteString("Return ONLY valid JSON in the following format:\n")
	fmt.Fprintf(&b, questionFormat, difficulty)
	b.WriteString("\n\nNo markdown, no commentary, no explanations outside JSON.\n\n")
	b.WriteString("LECTURE TEXT:\n\"\"\"\n")
	b.WriteString(window)
	b.WriteString("\n\"\"\"\n")
	return b.String()
}

// TopicPrompt asks for three questions about a free-form topic.
func TopicPrompt(topic, difficulty string, allowed TypeSet) string {
	var b strings.Builder
	b.WriteString("You are an expert AI test writer.\n\n")
	b.WriteString("Generate exactly 3 quiz questions about the topic below that:\n")
	b.WriteString("- Reflect the style of challenging academic or standardized exams\n")
	fmt.Fprintf(&b, "- Match the specified difficulty: %q\n", difficulty)
	fmt.Fprintf(&b, "- Use only these types: %s\n\n", allowed)
	b.WriteString("Return ONLY valid JSON in the following format:\n")
	fmt.Fprintf(&b, questionFormat, difficulty)
	b.WriteString("\n\nNo markdown, no commentary, no explanations outside JSON.\n\n")
	b.WriteString("TOPIC: ")
	b.WriteString(topic)
	b.WriteString("\n")
	return b.String()
}

// DeckPrompt asks for count questions built from a deck's flashcards, given as JSON.
func DeckPrompt(cardsJSON string, count int, difficulty string, allowed TypeSet) string {
	if difficulty == "" {
		difficulty = "medium"
	}
	var b strings.Builder
	b.WriteString("You are an AI quiz generator.\n\n")
	fmt.Fprintf(&b, "Using the following flashcards, generate %d quiz questions.\n\n", count)
	fmt.Fprintf(&b, "Required difficulty: %s\n", difficulty)
	fmt.Fprintf(&b, "Allowed types: %s\n\n", allowed)
	b.WriteString("Format:\n")
	fmt.Fprintf(&b, questionFormat, "easy\" | \"medium\" | \"hard")
	b.WriteString("\n\nRules:\n")
	fmt.Fprintf(&b, "- All questions must match the %q level.\n", difficulty)
	b.WriteString("- Only include \"options\" if type is \"mcq\".\n")
	b.WriteString("- Only use allowed types.\n")
	b.WriteString("- Respond ONLY with valid JSON. No extra text.\n\n")
	b.WriteString("FLASHCARDS:\n")
	b.WriteString(cardsJSON)
	b.WriteString("\n")
	return b.String()
}
