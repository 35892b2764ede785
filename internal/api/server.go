package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"echo-study/internal/document"
	"echo-study/internal/quiz"
	"echo-study/internal/services"
	"echo-study/internal/youtube"
)

const (
	maxMultipartMemory = 8 << 20 // 8 MB
	formOverhead       = 1 << 20
)

// Services bundles everything the handlers call.
type Services struct {
	Documents     *services.DocumentService
	Quizzes       *services.QuizService
	Decks         *services.DeckService
	Cards         *services.FlashcardService
	Ingestion     *services.IngestionService
	Notes         *services.NoteService
	Classes       *services.ClassService
	Tutor         *services.TutorService
	Voice         *services.VoiceService
	Suggestions   *services.SuggestionService
	Notifications *services.NotificationService
	Profiles      *services.ProfileService
	Videos        youtube.Searcher
}

type Server struct {
	router         chi.Router
	svc            Services
	jobs           *JobManager
	maxUploadBytes int64
}

func NewServer(svc Services, maxUploadBytes int64) *Server {
	s := &Server{
		svc:            svc,
		jobs:           NewJobManager(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors)
	r.Use(middleware.RequestSize(s.maxUploadBytes + formOverhead))

	r.Get("/api/health", s.handleHealth)
	r.Post("/upload-pdf", s.handleUploadPDF)

	r.Route("/api/quizzes", func(r chi.Router) {
		r.Post("/generate-quiz", s.handleGenerateQuiz)
		r.Get("/", s.handleListQuizzes)
		r.Get("/{id}", s.handleGetQuiz)
		r.Post("/{id}/attempts", s.handleRecordAttempt)
	})

	r.Route("/api/flashcards", func(r chi.Router) {
		r.Post("/generate", s.handleGenerateDeck)
		r.Get("/jobs/{id}", s.handleJobStatus)
		r.Post("/explain", s.handleExplain)
		r.Get("/decks", s.handleListDecks)
		r.Post("/decks", s.handleCreateDeck)
		r.Get("/decks/{id}/next", s.handleNextCard)
		r.Get("/decks/{id}/stats", s.handleDeckStats)
		r.Post("/cards/{id}/review", s.handleReviewCard)
	})

	r.Post("/api/notes/upload", s.handleUploadNotes)
	r.Get("/api/notes", s.handleListNotes)
	r.Get("/api/notes/{id}", s.handleGetNote)

	r.Post("/api/class-builder", s.handleClassBuilder)
	r.Get("/api/classes", s.handleListClasses)
	r.Get("/api/classes/{id}", s.handleGetClass)

	r.Post("/api/voice-check", s.handleVoiceCheck)
	r.Post("/api/echochat", s.handleEchoChat)

	r.Post("/api/smart/generate-suggestions", s.handleGenerateSuggestions)
	r.Get("/api/smart/suggestions", s.handleListSuggestions)
	r.Get("/api/videos", s.handleVideos)

	r.Get("/api/profiles/{id}", s.handleGetProfile)
	r.Put("/api/profiles/{id}", s.handleUpsertProfile)

	r.Get("/api/notifications", s.handleListNotifications)
	r.Post("/api/notifications/{id}/read", s.handleMarkNotificationRead)

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrMissingField),
		errors.Is(err, services.ErrUnsupportedSource),
		errors.Is(err, services.ErrInvalidRating),
		errors.Is(err, services.ErrInvalidScore),
		errors.Is(err, quiz.ErrInvalidTarget),
		errors.Is(err, quiz.ErrNoAllowedTypes),
		errors.Is(err, document.ErrUnsupported),
		errors.Is(err, document.ErrOutsideUploadDir):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrFileTooLarge), errors.Is(err, services.ErrAudioTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, services.ErrAIUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

// formInt64 parses an optional numeric form value; empty means 0.
func formInt64(r *http.Request, key string) (int64, error) {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	return v, nil
}

func parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return false
	}
	return true
}

// saveUpload stores the multipart file under field in the upload dir and
// returns the stored path with the client's file name.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request, field string) (string, *multipart.FileHeader, bool) {
	file, header, err := r.FormFile(field)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s is required", field))
		return "", nil, false
	}
	defer file.Close()

	path, _, err := s.svc.Documents.Save(header.Filename, file)
	if err != nil {
		writeServiceError(w, r, err)
		return "", nil, false
	}
	return path, header, true
}
