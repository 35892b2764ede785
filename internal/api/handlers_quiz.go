package api

import (
	"net/http"
	"path/filepath"
	"strings"

	"echo-study/internal/services"
)

func (s *Server) handleUploadPDF(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	doc, err := s.svc.Documents.Create(r.Context(), r.FormValue("userId"), header.Filename, file)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documentId": doc.ID,
		"filePath":   filepath.Base(doc.StoredPath),
	})
}

func (s *Server) handleGenerateQuiz(w http.ResponseWriter, r *http.Request) {
	var req services.QuizRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.svc.Quizzes.Generate(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	quizzes, err := s.svc.Quizzes.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quizzes": quizzes})
}

func (s *Server) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	q, err := s.svc.Quizzes.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type attemptRequest struct {
	UserID string  `json:"userId"`
	Score  float64 `json:"score"`
}

func (s *Server) handleRecordAttempt(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req attemptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.svc.Quizzes.RecordAttempt(r.Context(), id, req.UserID, req.Score); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true})
}
