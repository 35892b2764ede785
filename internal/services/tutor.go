package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/rs/zerolog/log"

	"echo-study/internal/llm"
)

const (
	defaultInterest  = "general"
	defaultTone      = "friendly"
	defaultChatTone  = "neutral"
	explainSystem    = "You generate smart, memorable background explanations."
	evaluationSystem = "You evaluate flashcard responses with SM-2 logic."
)

// Evaluation is the tutor's verdict on a spoken or typed answer.
type Evaluation struct {
	Correctness string `json:"correctness"`
	Quality     int    `json:"quality"`
	Explanation string `json:"explanation"`
}

// fallbackEvaluation is returned when the reply cannot be decoded.
var fallbackEvaluation = Evaluation{
	Correctness: "unknown",
	Quality:     2,
	Explanation: "Could not evaluate response due to formatting error.",
}

// TutorService produces explanations, answer evaluations and chat replies.
type TutorService struct {
	chat           llm.Chatter
	cards          *FlashcardService
	profiles       *ProfileService
	reasoningModel string
	pick           func(n int) int
}

func NewTutorService(chat llm.Chatter, cards *FlashcardService, profiles *ProfileService, reasoningModel string) *TutorService {
	return &TutorService{
		chat:           chat,
		cards:          cards,
		profiles:       profiles,
		reasoningModel: reasoningModel,
		pick:           rand.IntN,
	}
}

// Explain ties a flashcard to one of the user's interests in their preferred
// tone. A missing card or profile yields ErrNotFound.
func (s *TutorService) Explain(ctx context.Context, cardID int64, userID string) (string, error) {
	card, err := s.cards.GetCard(ctx, cardID)
	if err != nil {
		return "", err
	}
	profile, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return "", err
	}

	interest := defaultInterest
	if n := len(profile.Interests); n > 0 {
		interest = profile.Interests[s.pick(n)]
	}
	tone := profile.TonePreference
	if strings.TrimSpace(tone) == "" {
		tone = defaultTone
	}

	prompt := fmt.Sprintf(`You are a study tutor who adapts to the user's interest in %q and preferred tone (%s).

Explain the following flashcard content in a way that creatively connects to this interest to make it more memorable.

Term: %s
Definition: %s

Return a concise, helpful explanation. **no more than 5 sentences**. Use a fresh analogy or connection each time.`,
		interest, tone, card.Term, card.Definition)

	return askRequest(ctx, s.chat, llm.ChatRequest{
		Model:       s.reasoningModel,
		System:      explainSystem,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: 0.8,
	})
}

const evaluationPrompt = `You are a friendly and intelligent flashcard tutor. Evaluate the user's spoken answer in a supportive, conversational tone.

Flashcard Term: %s
Correct Answer: %s
User's Answer: %s

Respond ONLY in strict JSON format like this:
{
  "correctness": "correct" | "partial" | "incorrect",
  "quality": 5 | 3 | 2,
  "explanation": "Brief, kind explanation. Be encouraging and helpful. Use phrases like 'almost', 'good try', 'not quite', 'you're close', or 'here's how to think about it' when needed."
}

Scoring Rules:
- If fully correct, use "correct" and quality 5.
- If partially correct or missing a key detail, use "partial" and quality 3.
- If mostly wrong or unrelated, use "incorrect" and quality 2.

Additional Style Tips:
- Never shame the user.
- Sound like a helpful human tutor, not a judge.
- For wrong or partial answers, offer a tip or helpful way to remember it.`

// EvaluateAnswer grades a response against the card's definition. Only a
// failed call is an error; an unreadable reply yields the fallback verdict.
func (s *TutorService) EvaluateAnswer(ctx context.Context, term, definition, response string) (Evaluation, error) {
	raw, err := askRequest(ctx, s.chat, llm.ChatRequest{
		System:      evaluationSystem,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(evaluationPrompt, term, definition, response)}},
		Temperature: 0.3,
	})
	if err != nil {
		return Evaluation{}, err
	}

	var eval Evaluation
	if err := json.Unmarshal([]byte(llm.ExtractObject(raw)), &eval); err != nil || eval.Correctness == "" {
		log.Warn().Err(err).Str("raw", llm.SanitizeForPrompt(raw, 200)).Msg("could not parse answer evaluation")
		return fallbackEvaluation, nil
	}
	return eval, nil
}

// EchoChat continues a tutoring conversation.
func (s *TutorService) EchoChat(ctx context.Context, messages []llm.Message, background, tone string) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: messages", ErrMissingField)
	}
	if strings.TrimSpace(tone) == "" {
		tone = defaultChatTone
	}
	system := fmt.Sprintf("You are Echo, a smart AI tutor. Respond in a %s tone.", tone)
	if c := strings.TrimSpace(background); c != "" {
		system += " Keep in mind: " + c
	}
	return askRequest(ctx, s.chat, llm.ChatRequest{System: system, Messages: messages})
}
