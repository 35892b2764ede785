package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"echo-study/internal/document"
	"echo-study/internal/models"
	"echo-study/internal/services"
)

const timeLayout = time.RFC3339

func (s *Server) handleGenerateDeck(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	userID := strings.TrimSpace(r.FormValue("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	deckID, err := formInt64(r, "deckId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	classID, err := formInt64(r, "classId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if files := r.MultipartForm.File["file"]; len(files) > 0 && !document.IsSupported(files[0].Filename) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type: %s", filepath.Ext(files[0].Filename)))
		return
	}
	path, header, ok := s.saveUpload(w, r, "file")
	if !ok {
		return
	}

	if deckID == 0 {
		base := filepath.Base(header.Filename)
		deck, err := s.svc.Decks.CreateDeck(r.Context(), models.Deck{
			UserID:     userID,
			ClassID:    models.NullID(classID),
			Title:      strings.TrimSuffix(base, filepath.Ext(base)),
			SourceFile: base,
		})
		if err != nil {
			_ = os.Remove(path)
			writeServiceError(w, r, err)
			return
		}
		deckID = deck.ID
	} else if _, err := s.svc.Decks.GetDeck(r.Context(), deckID); err != nil {
		_ = os.Remove(path)
		writeServiceError(w, r, err)
		return
	}

	job := s.jobs.Create(deckID, header.Filename)
	go s.runDeckJob(context.Background(), job.ID, deckID, userID, path, header.Filename)

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) runDeckJob(ctx context.Context, jobID string, deckID int64, userID, path, name string) {
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to remove deck upload")
		}
	}()

	s.jobs.MarkProcessing(jobID)
	res, err := s.svc.Ingestion.GenerateDeck(ctx, deckID, userID, path, name, s.jobs.Progress(jobID))
	if err != nil {
		log.Error().Err(err).Int64("deck_id", deckID).Str("job_id", jobID).Msg("deck generation failed")
		if markErr := s.svc.Decks.MarkFailed(ctx, deckID); markErr != nil {
			log.Warn().Err(markErr).Int64("deck_id", deckID).Msg("failed to mark deck failed")
		}
		s.jobs.MarkFailed(jobID, err.Error())
		return
	}
	s.jobs.MarkComplete(jobID, res)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type explainRequest struct {
	FlashcardID int64  `json:"flashcardId"`
	UserID      string `json:"userId"`
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req explainRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FlashcardID <= 0 || strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "Missing flashcardId or userId")
		return
	}

	explanation, err := s.svc.Tutor.Explain(r.Context(), req.FlashcardID, req.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"explanation": explanation})
}

type createDeckRequest struct {
	UserID      string `json:"userId"`
	ClassID     int64  `json:"classId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Server) handleCreateDeck(w http.ResponseWriter, r *http.Request) {
	var req createDeckRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "userId and title are required")
		return
	}
	deck, err := s.svc.Decks.CreateDeck(r.Context(), models.Deck{
		UserID:      req.UserID,
		ClassID:     models.NullID(req.ClassID),
		Title:       req.Title,
		Description: req.Description,
		Status:      models.DeckReady,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, deck)
}

func (s *Server) handleListDecks(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	decks, err := s.svc.Decks.ListDecks(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decks": decks})
}

func (s *Server) handleNextCard(w http.ResponseWriter, r *http.Request) {
	deckID, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	card, err := s.svc.Cards.NextCard(r.Context(), deckID)
	if err != nil {
		if errors.Is(err, services.ErrNoDueCards) {
			writeJSON(w, http.StatusOK, map[string]any{
				"card":    nil,
				"message": "No cards due. Come back later!",
			})
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card": cardJSON(card)})
}

type reviewRequest struct {
	Rating string `json:"rating"`
}

func (s *Server) handleReviewCard(w http.ResponseWriter, r *http.Request) {
	cardID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req reviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rating, err := services.ParseRating(req.Rating)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	card, entry, err := s.svc.Cards.ReviewCard(r.Context(), cardID, rating)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"card": cardJSON(card),
		"log": map[string]any{
			"rating":  entry.Rating,
			"due_in":  entry.ScheduledDays,
			"updated": entry.ReviewedAt.Format(timeLayout),
		},
	})
}

func (s *Server) handleDeckStats(w http.ResponseWriter, r *http.Request) {
	deckID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	stats, err := s.svc.Cards.Stats(r.Context(), deckID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func cardJSON(card *models.Card) map[string]any {
	out := map[string]any{
		"id":         card.ID,
		"deckId":     card.DeckID,
		"term":       card.Term,
		"definition": card.Definition,
		"tags":       card.Tags,
		"state":      card.State,
		"stability":  card.Stability,
		"reps":       card.Reps,
		"due":        nil,
	}
	if card.Due.Valid {
		out["due"] = card.Due.Time.Format(timeLayout)
	}
	return out
}
