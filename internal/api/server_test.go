package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echo-study/internal/db"
	"echo-study/internal/document"
	"echo-study/internal/llm"
	"echo-study/internal/models"
	"echo-study/internal/quiz"
	"echo-study/internal/services"
)

type chatFunc func(req llm.ChatRequest) (string, error)

// scriptedChat routes every request through fn.
type scriptedChat struct {
	mu    sync.Mutex
	fn    chatFunc
	calls int
}

func (c *scriptedChat) Chat(_ context.Context, req llm.ChatRequest) (string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.fn(req)
}

type testServer struct {
	srv *httptest.Server
	svc Services
}

func newTestServer(t *testing.T, fn chatFunc) *testServer {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var chat llm.Chatter
	if fn != nil {
		chat = &scriptedChat{fn: fn}
	}

	uploadDir := t.TempDir()
	tags := services.NewTagService(conn)
	cards := services.NewFlashcardService(conn, tags)
	decks := services.NewDeckService(conn)
	profiles := services.NewProfileService(conn)
	classes := services.NewClassService(conn, chat, "")
	quizzes := services.NewQuizService(conn, cards, chat, services.QuizOptions{
		UploadDir: uploadDir,
		TempDir:   t.TempDir(),
	})
	tutor := services.NewTutorService(chat, cards, profiles, "")

	svc := Services{
		Documents:     services.NewDocumentService(conn, uploadDir, 1<<20),
		Quizzes:       quizzes,
		Decks:         decks,
		Cards:         cards,
		Ingestion:     services.NewIngestionService(decks, cards, chat, "", t.TempDir()),
		Notes:         services.NewNoteService(conn, chat, 0),
		Classes:       classes,
		Tutor:         tutor,
		Voice:         services.NewVoiceService(services.FFmpeg{}, nil, tutor, cards, t.TempDir()),
		Suggestions:   services.NewSuggestionService(conn, chat, classes, decks, tags, quizzes, nil),
		Notifications: services.NewNotificationService(conn),
		Profiles:      profiles,
	}
	srv := httptest.NewServer(NewServer(svc, 1<<20).Handler())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, svc: svc}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return ts.send(t, req)
}

func (ts *testServer) upload(t *testing.T, path, field, name, content string, fields map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return ts.send(t, req)
}

func (ts *testServer) send(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

// quizReply answers with three distinct questions.
func quizReply(llm.ChatRequest) (string, error) {
	return "```json\n" + `[
		{"type": "mcq", "question": "Which organelle makes ATP?", "options": ["Mitochondria", "Ribosome"], "answer": "Mitochondria"},
		{"type": "truefalse", "question": "Plants photosynthesize.", "answer": true},
		{"type": "short", "question": "Name the cell's control center.", "answer": "Nucleus"}
	]` + "\n```", nil
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, body := ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, _ := ts.do(t, http.MethodOptions, "/api/quizzes/generate-quiz", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestGenerateQuiz(t *testing.T) {
	ts := newTestServer(t, quizReply)

	resp, body := ts.do(t, http.MethodPost, "/api/quizzes/generate-quiz", map[string]any{
		"title":  "Cells",
		"source": "manual",
		"topic":  "cell biology",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "missing required field")

	resp, body = ts.do(t, http.MethodPost, "/api/quizzes/generate-quiz", map[string]any{
		"userId":            "u1",
		"title":             "Cells",
		"source":            "manual",
		"topic":             "cell biology",
		"numberOfQuestions": 3,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	questions, ok := body["questions"].([]any)
	require.True(t, ok)
	assert.Len(t, questions, 3)

	quizID := int64(body["quizId"].(float64))
	resp, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/quizzes/%d", quizID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Cells", body["title"])

	resp, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/quizzes/%d/attempts", quizID), map[string]any{"userId": "u1", "score": 120})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, fmt.Sprintf("/api/quizzes/%d/attempts", quizID), map[string]any{"userId": "u1", "score": 85})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, body = ts.do(t, http.MethodGet, "/api/quizzes/?userId=u1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["quizzes"], 1)
}

func TestGenerateQuizWithoutProvider(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, _ := ts.do(t, http.MethodPost, "/api/quizzes/generate-quiz", map[string]any{
		"userId": "u1",
		"title":  "Cells",
		"source": "manual",
		"topic":  "cell biology",
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestUploadPDF(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := ts.upload(t, "/upload-pdf", "file", "Lecture.PDF", "%PDF-1.4 fake", map[string]string{"userId": "u1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.NotZero(t, body["documentId"])
	assert.True(t, strings.HasSuffix(body["filePath"].(string), ".pdf"))

	resp, _ = ts.upload(t, "/upload-pdf", "file", "slides.pptx", "zip", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExplain(t *testing.T) {
	ts := newTestServer(t, func(llm.ChatRequest) (string, error) {
		return "Think of mitochondria as the stadium floodlights.", nil
	})

	resp, body := ts.do(t, http.MethodPost, "/api/flashcards/explain", map[string]any{"userId": "u1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing flashcardId or userId", body["error"])

	resp, _ = ts.do(t, http.MethodPost, "/api/flashcards/explain", map[string]any{"flashcardId": 99, "userId": "u1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	ctx := context.Background()
	deck, err := ts.svc.Decks.CreateDeck(ctx, models.Deck{UserID: "u1", Title: "Bio", Status: models.DeckReady})
	require.NoError(t, err)
	_, err = ts.svc.Cards.BulkInsert(ctx, deck.ID, "u1", []models.CardDraft{{Term: "Mitochondria", Definition: "Powerhouse"}})
	require.NoError(t, err)
	_, err = ts.svc.Profiles.Upsert(ctx, models.Profile{ID: "u1", Interests: []string{"football"}})
	require.NoError(t, err)

	resp, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/flashcards/decks/%d/next", deck.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	card := body["card"].(map[string]any)

	resp, body = ts.do(t, http.MethodPost, "/api/flashcards/explain", map[string]any{"flashcardId": card["id"], "userId": "u1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["explanation"], "floodlights")
}

func TestReviewFlow(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := ts.do(t, http.MethodPost, "/api/flashcards/decks", map[string]any{"userId": "u1", "title": "Chem"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
	deckID := int64(body["id"].(float64))

	resp, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/flashcards/decks/%d/next", deckID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["card"])
	assert.Equal(t, "No cards due. Come back later!", body["message"])

	_, err := ts.svc.Cards.BulkInsert(context.Background(), deckID, "u1", []models.CardDraft{{Term: "pH", Definition: "Acidity scale"}})
	require.NoError(t, err)

	_, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/flashcards/decks/%d/next", deckID), nil)
	card := body["card"].(map[string]any)
	cardID := int64(card["id"].(float64))

	resp, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/flashcards/cards/%d/review", cardID), map[string]any{"rating": "perfect"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, fmt.Sprintf("/api/flashcards/cards/%d/review", cardID), map[string]any{"rating": "good"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reviewed := body["card"].(map[string]any)
	assert.EqualValues(t, 1, reviewed["reps"])
	assert.NotNil(t, reviewed["due"])

	resp, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/flashcards/decks/%d/stats", deckID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, body["stats"])
}

func TestGenerateDeckJob(t *testing.T) {
	ts := newTestServer(t, func(req llm.ChatRequest) (string, error) {
		if req.System == "" {
			return `["Cells", "Membranes"]`, nil
		}
		return `[{"question": "What surrounds a cell?", "answer": "The plasma membrane", "tags": ["Membranes"]}]`, nil
	})

	resp, body := ts.upload(t, "/api/flashcards/generate", "file", "notes.exe", "binary", map[string]string{"userId": "u1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)

	lecture := "The plasma membrane is a phospholipid bilayer that controls what enters and leaves the cell."
	resp, body = ts.upload(t, "/api/flashcards/generate", "file", "Membranes.txt", lecture, map[string]string{"userId": "u1"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)
	jobID := body["jobId"].(string)
	deckID := int64(body["deckId"].(float64))

	var job map[string]any
	require.Eventually(t, func() bool {
		_, job = ts.do(t, http.MethodGet, "/api/flashcards/jobs/"+jobID, nil)
		return job["status"] == JobStatusComplete || job["status"] == JobStatusFailed
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, JobStatusComplete, job["status"], job)
	assert.EqualValues(t, 100, job["percent"])
	result := job["result"].(map[string]any)
	assert.EqualValues(t, 1, result["totalCards"])

	deck, err := ts.svc.Decks.GetDeck(context.Background(), deckID)
	require.NoError(t, err)
	assert.Equal(t, "Membranes", deck.Title)
	assert.Equal(t, models.DeckReady, deck.Status)

	resp, _ = ts.do(t, http.MethodGet, "/api/flashcards/jobs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProfilesAndNotifications(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, _ := ts.do(t, http.MethodGet, "/api/profiles/u1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPut, "/api/profiles/u1", map[string]any{
		"displayName":    "Ada",
		"interests":      []string{"chess"},
		"tonePreference": "calm",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "u1", body["id"])
	assert.Equal(t, "calm", body["tonePreference"])

	n, err := ts.svc.Notifications.Create(context.Background(), models.Notification{UserID: "u1", Title: "Hi", Body: "Review today"})
	require.NoError(t, err)

	resp, body = ts.do(t, http.MethodGet, "/api/notifications?userId=u1&unread=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["notifications"], 1)

	resp, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/notifications/%d/read", n.ID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = ts.do(t, http.MethodGet, "/api/notifications?userId=u1&unread=true", nil)
	assert.Len(t, body["notifications"], 0)
}

func TestVideosAndEchoChat(t *testing.T) {
	ts := newTestServer(t, func(req llm.ChatRequest) (string, error) {
		return "Let's break it down.", nil
	})

	resp, _ := ts.do(t, http.MethodGet, "/api/videos", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := ts.do(t, http.MethodGet, "/api/videos?topic=osmosis", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["videos"], 0)

	resp, body = ts.do(t, http.MethodPost, "/api/echochat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "What is osmosis?"}},
		"tone":     "casual",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Let's break it down.", body["reply"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: userId", services.ErrMissingField), http.StatusBadRequest},
		{services.ErrUnsupportedSource, http.StatusBadRequest},
		{services.ErrInvalidScore, http.StatusBadRequest},
		{quiz.ErrInvalidTarget, http.StatusBadRequest},
		{fmt.Errorf("parse: %w", document.ErrUnsupported), http.StatusBadRequest},
		{fmt.Errorf("card 4: %w", services.ErrNotFound), http.StatusNotFound},
		{services.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{services.ErrAudioTooLarge, http.StatusRequestEntityTooLarge},
		{services.ErrAIUnavailable, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
