package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"echo-study/internal/document"
	"echo-study/internal/llm"
	"echo-study/internal/models"
)

// ProgressCallback is called during document processing to report progress
type ProgressCallback func(step, message string, current, total int)

const (
	minPageChars = 20
	tagTextLimit = 12000
)

// IngestionService turns lecture documents into flashcard decks.
type IngestionService struct {
	decks     *DeckService
	cards     *FlashcardService
	chat      llm.Chatter
	model     string
	outputDir string
}

func NewIngestionService(decks *DeckService, cards *FlashcardService, chat llm.Chatter, model, outputDir string) *IngestionService {
	return &IngestionService{
		decks:     decks,
		cards:     cards,
		chat:      chat,
		model:     model,
		outputDir: outputDir,
	}
}

// DeckGenerationResult is returned once a deck has been filled.
type DeckGenerationResult struct {
	Filename   string   `json:"filename"`
	TotalCards int      `json:"totalCards"`
	Tags       []string `json:"tags"`
}

type generatedCard struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Tags     []string `json:"tags"`
}

const cardSystemPrompt = `You're an expert flashcard assistant helping students learn using active recall and spaced repetition.

Return only a clean JSON array of flashcards like:
[
  {
    "question": "What enzyme catalyzes the first step of glycolysis?",
    "answer": "Hexokinase",
    "tags": ["Glycolysis", "Enzymes"]
  }
]

Rules:
- Each flashcard should test ONE specific concept.
- Use natural, specific questions (not vague or cloze deletions).
- Avoid compound or multi-part questions.
- Do not include trivial or redundant cards.
- Assign 1-2 relevant tags from a provided list.
- If helpful, ask the reverse direction as a second card.
- Do NOT include explanations or markdown formatting.`

const tagPrompt = `You are an AI assistant helping extract consistent, high-quality topic tags from a full lecture.

From the following lecture text, identify key concepts, subtopics, and themes. Return a JSON array of 8-20 short, unique tags (1-3 words max each). These tags will be reused across flashcards to group related concepts.

Avoid duplicates, general terms like "Lecture", and overly long phrases.

Return ONLY the JSON array.

LECTURE TEXT:
%s`

// GlobalTags asks for the tag vocabulary of a whole lecture. Any failure
// yields no tags.
func (s *IngestionService) GlobalTags(ctx context.Context, fullText string) []string {
	raw, err := askRequest(ctx, s.chat, llm.ChatRequest{
		Model:       s.model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(tagPrompt, llm.Truncate(fullText, tagTextLimit))}},
		Temperature: 0.2,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to extract global tags")
		return []string{}
	}

	var tags []string
	if err := json.Unmarshal([]byte(llm.ExtractArray(raw)), &tags); err != nil {
		log.Warn().Err(err).Str("raw", llm.SanitizeForPrompt(raw, 200)).Msg("unexpected tag structure")
		return []string{}
	}

	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		out = append(out, t)
	}
	return out
}

// GenerateDeck extracts the document page by page, asks for cards per page,
// exports them as CSV, stores them in the deck and marks it ready.
func (s *IngestionService) GenerateDeck(ctx context.Context, deckID int64, userID, path, originalName string, progress ProgressCallback) (*DeckGenerationResult, error) {
	if s.chat == nil {
		return nil, ErrAIUnavailable
	}
	if progress == nil {
		progress = func(string, string, int, int) {}
	}

	progress("extract", "Extracting document text", 0, 0)
	pages, err := document.Pages(path, originalName)
	if err != nil {
		return nil, err
	}
	total := len(pages)

	progress("tags", "Extracting global tags", 0, total)
	tags := s.GlobalTags(ctx, document.FullText(pages))
	log.Info().Int64("deck_id", deckID).Strs("tags", tags).Msg("global tags extracted")

	var drafts []models.CardDraft
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := strings.TrimSpace(page)
		if len(text) < minPageChars {
			continue
		}

		pageCards, err := s.pageCards(ctx, text, tags)
		if err != nil {
			log.Warn().Err(err).Int64("deck_id", deckID).Int("page", i+1).Msg("skipping page")
			continue
		}
		drafts = append(drafts, pageCards...)

		if err := s.decks.UpdateProgress(ctx, deckID, i+1, total); err != nil {
			return nil, err
		}
		progress("cards", fmt.Sprintf("Page %d complete with %d cards", i+1, len(pageCards)), i+1, total)
	}

	filename, err := s.exportCSV(originalName, drafts)
	if err != nil {
		return nil, err
	}

	progress("save", "Saving flashcards", total, total)
	inserted, err := s.cards.BulkInsert(ctx, deckID, userID, drafts)
	if err != nil {
		return nil, err
	}
	if err := s.decks.MarkReady(ctx, deckID, tags); err != nil {
		return nil, err
	}

	progress("complete", "Processing complete", total, total)
	return &DeckGenerationResult{Filename: filename, TotalCards: inserted, Tags: tags}, nil
}

func (s *IngestionService) pageCards(ctx context.Context, text string, tags []string) ([]models.CardDraft, error) {
	allowed, _ := json.Marshal(tags)
	raw, err := askRequest(ctx, s.chat, llm.ChatRequest{
		Model:  s.model,
		System: cardSystemPrompt,
		Messages: []llm.Message{{
			Role: llm.RoleUser,
			Content: fmt.Sprintf("Create flashcards from this slide:\n\n%s\n\nUse only these tags: %s\n\nReturn a clean JSON array as described above.",
				text, allowed),
		}},
		Temperature: 0.4,
	})
	if err != nil {
		return nil, err
	}

	var parsed []generatedCard
	if err := json.Unmarshal([]byte(llm.ExtractArray(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("parse cards: %w", err)
	}

	vocab := map[string]string{}
	for _, t := range tags {
		vocab[strings.ToLower(t)] = t
	}

	drafts := make([]models.CardDraft, 0, len(parsed))
	for _, c := range parsed {
		if strings.TrimSpace(c.Question) == "" || strings.TrimSpace(c.Answer) == "" {
			continue
		}
		drafts = append(drafts, models.CardDraft{
			Term:       strings.TrimSpace(c.Question),
			Definition: strings.TrimSpace(c.Answer),
			Tags:       restrictTags(c.Tags, vocab),
		})
	}
	return drafts, nil
}

// restrictTags keeps only tags from the lecture vocabulary, using the
// vocabulary's spelling. An empty vocabulary keeps everything.
func restrictTags(tags []string, vocab map[string]string) []string {
	out := []string{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if len(vocab) == 0 {
			out = append(out, t)
			continue
		}
		if canonical, ok := vocab[strings.ToLower(t)]; ok {
			out = append(out, canonical)
		}
	}
	return out
}

func (s *IngestionService) exportCSV(originalName string, drafts []models.CardDraft) (string, error) {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure output dir: %w", err)
	}
	base := filepath.Base(originalName)
	filename := strings.TrimSuffix(base, filepath.Ext(base)) + ".csv"

	f, err := os.Create(filepath.Join(s.outputDir, filename))
	if err != nil {
		return "", fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Term", "Definition"}); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, d := range drafts {
		if err := w.Write([]string{d.Term, d.Definition}); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return filename, nil
}
