package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"echo-study/internal/llm"
	"echo-study/internal/models"
	"echo-study/internal/youtube"
)

func (s *Server) handleUploadNotes(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	userID := strings.TrimSpace(r.FormValue("userId"))
	notebookID := strings.TrimSpace(r.FormValue("notebookId"))
	if userID == "" || notebookID == "" {
		writeError(w, http.StatusBadRequest, "userId and notebookId are required")
		return
	}
	path, header, ok := s.saveUpload(w, r, "file")
	if !ok {
		return
	}

	noteID, err := s.svc.Notes.FromPDF(r.Context(), userID, notebookID, path, header.Filename)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "noteId": noteID})
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	notes, err := s.svc.Notes.ListByNotebook(r.Context(), userID, q.Get("notebookId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	note, err := s.svc.Notes.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleClassBuilder(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	userID := strings.TrimSpace(r.FormValue("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	path, header, ok := s.saveUpload(w, r, "file")
	if !ok {
		return
	}

	syllabus, err := s.svc.Classes.FromSyllabus(r.Context(), userID, path, header.Filename)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, syllabus)
}

func (s *Server) handleListClasses(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	classes, err := s.svc.Classes.ListClasses(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"classes": classes})
}

func (s *Server) handleGetClass(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	class, err := s.svc.Classes.GetClass(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, class)
}

func (s *Server) handleVoiceCheck(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	term := strings.TrimSpace(r.FormValue("term"))
	definition := strings.TrimSpace(r.FormValue("definition"))
	if term == "" || definition == "" {
		writeError(w, http.StatusBadRequest, "term and definition are required")
		return
	}
	cardID, err := formInt64(r, "cardId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, _, ok := s.saveUpload(w, r, "audio")
	if !ok {
		return
	}

	res, err := s.svc.Voice.Check(r.Context(), term, definition, path, cardID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := map[string]any{
		"transcript": res.Transcript,
		"evaluation": res.Evaluation,
	}
	if res.Card != nil {
		out["card"] = cardJSON(res.Card)
	}
	writeJSON(w, http.StatusOK, out)
}

type echoChatRequest struct {
	Messages []llm.Message `json:"messages"`
	Context  string        `json:"context"`
	Tone     string        `json:"tone"`
}

func (s *Server) handleEchoChat(w http.ResponseWriter, r *http.Request) {
	var req echoChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	reply, err := s.svc.Tutor.EchoChat(r.Context(), req.Messages, req.Context, req.Tone)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

type suggestionRequest struct {
	UserID  string `json:"userId"`
	Context string `json:"context"`
	ClassID int64  `json:"classId"`
}

func (s *Server) handleGenerateSuggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	suggestions, err := s.svc.Suggestions.Generate(r.Context(), req.UserID, req.Context, req.ClassID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "suggestions": suggestions})
}

func (s *Server) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	suggestions, err := s.svc.Suggestions.List(r.Context(), userID, q.Get("context"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (s *Server) handleVideos(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	if topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	videos := []youtube.Video{}
	if s.svc.Videos != nil {
		videos = s.svc.Videos.Search(r.Context(), topic)
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": videos})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.svc.Profiles.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	var p models.Profile
	if !decodeJSON(w, r, &p) {
		return
	}
	p.ID = chi.URLParam(r, "id")
	profile, err := s.svc.Profiles.Upsert(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	items, err := s.svc.Notifications.List(r.Context(), userID, q.Get("unread") == "true")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := s.svc.Notifications.MarkRead(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
