package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"

	"echo-study/internal/document"
	"echo-study/internal/llm"
	"echo-study/internal/models"
	"echo-study/internal/quiz"
)

var (
	// ErrUnsupportedSource is returned for quiz sources other than deck, pdf,
	// class_resource and manual.
	ErrUnsupportedSource = errors.New("unsupported quiz source")
	// ErrNoQuestions is returned when generation produced nothing usable.
	ErrNoQuestions = errors.New("no quiz questions generated")
	// ErrMissingField marks a request that lacks a required field.
	ErrMissingField = errors.New("missing required field")
	ErrInvalidScore = errors.New("score must be between 0 and 100")
)

// Quiz sources accepted by QuizService.Generate.
const (
	SourceDeck          = "deck"
	SourcePDF           = "pdf"
	SourceClassResource = "class_resource"
	SourceManual        = "manual"
)

const (
	defaultQuestionCount = 5
	defaultDifficulty    = "medium"
	windowTemperature    = 0.4
	deckTemperature      = 0.7
)

// QuizRequest describes one quiz generation.
type QuizRequest struct {
	UserID     string   `json:"userId"`
	Title      string   `json:"title"`
	Source     string   `json:"source"`
	ClassID    int64    `json:"classId"`
	DeckID     int64    `json:"deckId"`
	PDFPath    string   `json:"pdfPath"`
	Topic      string   `json:"topic"`
	Types      []string `json:"types"`
	Count      int      `json:"numberOfQuestions"`
	Difficulty string   `json:"difficulty"`
}

// QuizResult is the stored quiz with the questions that were generated.
type QuizResult struct {
	QuizID    int64           `json:"quizId"`
	Questions []quiz.Question `json:"questions"`
	Requested int             `json:"requested"`
}

// QuizOptions tunes document-based generation.
type QuizOptions struct {
	UploadDir       string
	TempDir         string
	WindowPages     int
	RetryMultiplier int
	Model           string
	HTTPClient      *retryablehttp.Client
}

// QuizService generates quizzes from decks, documents or topics and keeps
// their attempts.
type QuizService struct {
	db    *sql.DB
	cards *FlashcardService
	chat  llm.Chatter
	opts  QuizOptions
}

func NewQuizService(db *sql.DB, cards *FlashcardService, chat llm.Chatter, opts QuizOptions) *QuizService {
	if opts.WindowPages < 2 {
		opts.WindowPages = document.DefaultWindowPages
	}
	if opts.RetryMultiplier < 1 {
		opts.RetryMultiplier = quiz.DefaultRetryMultiplier
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = document.NewRetryClient(3)
	}
	return &QuizService{db: db, cards: cards, chat: chat, opts: opts}
}

// Generate builds and stores a quiz. A shortfall against the requested count
// is not an error as long as at least one question was produced.
func (s *QuizService) Generate(ctx context.Context, req QuizRequest) (*QuizResult, error) {
	req.Source = strings.ToLower(strings.TrimSpace(req.Source))
	req.Title = strings.TrimSpace(req.Title)
	if strings.TrimSpace(req.UserID) == "" || req.Title == "" || req.Source == "" {
		return nil, fmt.Errorf("%w: userId, title and source", ErrMissingField)
	}
	if s.chat == nil {
		return nil, ErrAIUnavailable
	}

	types := quiz.ParseTypes(req.Types)
	if len(types) == 0 {
		types = quiz.DefaultTypes
	}
	if req.Count <= 0 {
		req.Count = defaultQuestionCount
	}

	var (
		questions []quiz.Question
		err       error
	)
	switch req.Source {
	case SourceDeck:
		if req.DeckID <= 0 {
			return nil, fmt.Errorf("%w: deckId", ErrMissingField)
		}
		questions, err = s.fromDeck(ctx, req, types)
	case SourcePDF, SourceClassResource:
		if strings.TrimSpace(req.PDFPath) == "" {
			return nil, fmt.Errorf("%w: pdfPath", ErrMissingField)
		}
		questions, err = s.fromDocument(ctx, req, types)
	case SourceManual:
		if strings.TrimSpace(req.Topic) == "" {
			return nil, fmt.Errorf("%w: topic", ErrMissingField)
		}
		questions, err = s.accumulate(ctx, []string{strings.TrimSpace(req.Topic)}, req, types, quiz.TopicPrompt)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, req.Source)
	}
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	id, err := s.save(ctx, req, questions)
	if err != nil {
		return nil, err
	}
	log.Info().
		Int64("quiz_id", id).
		Str("source", req.Source).
		Int("generated", len(questions)).
		Int("requested", req.Count).
		Msg("quiz generated")
	return &QuizResult{QuizID: id, Questions: questions, Requested: req.Count}, nil
}

type deckCard struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

func (s *QuizService) fromDeck(ctx context.Context, req QuizRequest, types []quiz.Type) ([]quiz.Question, error) {
	cards, err := s.cards.ListByDeck(ctx, req.DeckID)
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, fmt.Errorf("deck %d has no flashcards: %w", req.DeckID, ErrNotFound)
	}

	payload := make([]deckCard, len(cards))
	for i, c := range cards {
		payload[i] = deckCard{Term: c.Term, Definition: c.Definition}
	}
	cardsJSON, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode flashcards: %w", err)
	}

	prompt := quiz.DeckPrompt(string(cardsJSON), req.Count, req.Difficulty, quiz.NewTypeSet(types...))
	raw, err := ask(ctx, s.chat, prompt, deckTemperature)
	if err != nil {
		return nil, fmt.Errorf("generate deck quiz: %w", err)
	}
	candidates, _, err := quiz.ParseCandidates(raw)
	if err != nil {
		log.Error().Err(err).Str("raw", llm.SanitizeForPrompt(raw, 200)).Msg("could not parse deck quiz")
		return nil, fmt.Errorf("parse deck quiz: %w", err)
	}
	return quiz.Select(candidates, types, req.Count, req.Difficulty)
}

func (s *QuizService) fromDocument(ctx context.Context, req QuizRequest, types []quiz.Type) ([]quiz.Question, error) {
	path, cleanup, err := s.resolve(ctx, req.PDFPath)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	pages, err := document.Pages(path, path)
	if err != nil {
		return nil, err
	}
	windows := document.Windows(pages, s.opts.WindowPages)
	log.Debug().Int("pages", len(pages)).Int("windows", len(windows)).Msg("document windowed for quiz")
	return s.accumulate(ctx, windows, req, types, quiz.LecturePrompt)
}

// resolve returns a local path for ref. Remote documents are downloaded to
// the temp dir and removed by cleanup.
func (s *QuizService) resolve(ctx context.Context, ref string) (string, func(), error) {
	if document.IsRemote(ref) {
		path, err := document.Download(ctx, s.opts.HTTPClient, ref, s.opts.TempDir)
		if err != nil {
			return "", nil, err
		}
		return path, func() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Str("path", path).Msg("failed to remove downloaded document")
			}
		}, nil
	}
	path, err := document.ResolveLocal(ref, s.opts.UploadDir)
	if err != nil {
		return "", nil, err
	}
	return path, func() {}, nil
}

func (s *QuizService) accumulate(ctx context.Context, windows []string, req QuizRequest, types []quiz.Type, prompt quiz.PromptFunc) ([]quiz.Question, error) {
	acc := quiz.NewAccumulator(
		llm.NewGenerator(s.chat, windowTemperature).WithModel(s.opts.Model),
		quiz.WithRetryMultiplier(s.opts.RetryMultiplier),
		quiz.WithPrompt(prompt),
	)
	res, err := acc.Accumulate(ctx, quiz.Request{
		Windows:    windows,
		Types:      types,
		Target:     req.Count,
		Difficulty: req.Difficulty,
	})
	if err != nil {
		return nil, err
	}
	log.Debug().
		Interface("types", res.Allowed).
		Int("attempts", res.Attempts).
		Int("budget", res.Budget).
		Int("questions", len(res.Questions)).
		Msg("quiz questions accumulated")
	return res.Questions, nil
}

func (s *QuizService) save(ctx context.Context, req QuizRequest, questions []quiz.Question) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	difficulty := req.Difficulty
	if difficulty == "" {
		difficulty = defaultDifficulty
	}

	var res sql.Result
	res, err = tx.ExecContext(ctx, `
		INSERT INTO quizzes (user_id, class_id, title, source, difficulty, created_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, req.UserID, nullInt64Ptr(models.NullID(req.ClassID)), req.Title, req.Source, difficulty, now())
	if err != nil {
		return 0, fmt.Errorf("insert quiz: %w", err)
	}
	var quizID int64
	if quizID, err = res.LastInsertId(); err != nil {
		return 0, fmt.Errorf("quiz id: %w", err)
	}

	for i, q := range questions {
		var options any
		if len(q.Options) > 0 {
			options = encodeStrings(q.Options)
		}
		qd := q.Difficulty
		if qd == "" {
			qd = difficulty
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO quiz_questions (quiz_id, user_id, position, type, prompt, options, answer, explanation, difficulty)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, quizID, req.UserID, i, string(q.Type), q.Question, options, q.Answer.String(), q.Explanation, qd); err != nil {
			return 0, fmt.Errorf("insert question %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit quiz: %w", err)
	}
	return quizID, nil
}

// Get returns a stored quiz with its questions in order.
func (s *QuizService) Get(ctx context.Context, id int64) (*models.Quiz, error) {
	var q models.Quiz
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, class_id, title, source, difficulty, created_at
		FROM quizzes WHERE id = ?;
	`, id).Scan(&q.ID, &q.UserID, &q.ClassID, &q.Title, &q.Source, &q.Difficulty, &q.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("load quiz %d: %w", id, notFound(err))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, quiz_id, position, type, prompt, options, answer, explanation, difficulty
		FROM quiz_questions WHERE quiz_id = ?
		ORDER BY position ASC;
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list quiz questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			qq      models.QuizQuestion
			options sql.NullString
		)
		if err := rows.Scan(&qq.ID, &qq.QuizID, &qq.Position, &qq.Type, &qq.Prompt, &options, &qq.Answer, &qq.Explanation, &qq.Difficulty); err != nil {
			return nil, fmt.Errorf("scan quiz question: %w", err)
		}
		if options.Valid {
			qq.Options = decodeStrings(options.String)
		}
		q.Questions = append(q.Questions, qq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quiz questions: %w", err)
	}
	return &q, nil
}

// List returns a user's quizzes, newest first, without questions.
func (s *QuizService) List(ctx context.Context, userID string) ([]models.Quiz, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, class_id, title, source, difficulty, created_at
		FROM quizzes WHERE user_id = ?
		ORDER BY created_at DESC, id DESC;
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	out := []models.Quiz{}
	for rows.Next() {
		var q models.Quiz
		if err := rows.Scan(&q.ID, &q.UserID, &q.ClassID, &q.Title, &q.Source, &q.Difficulty, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quizzes: %w", err)
	}
	return out, nil
}

// RecordAttempt stores a score between 0 and 100.
func (s *QuizService) RecordAttempt(ctx context.Context, quizID int64, userID string, score float64) error {
	if score < 0 || score > 100 {
		return fmt.Errorf("%w: got %.1f", ErrInvalidScore, score)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO quiz_attempts (quiz_id, user_id, score, taken_at)
		VALUES (?, ?, ?, ?);
	`, quizID, userID, score, now()); err != nil {
		var exists int
		if s.db.QueryRowContext(ctx, `SELECT 1 FROM quizzes WHERE id = ?;`, quizID).Scan(&exists) != nil {
			return fmt.Errorf("quiz %d: %w", quizID, ErrNotFound)
		}
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// LowScoreQuizzes returns the user's quizzes whose best attempt is under
// threshold, lowest first.
func (s *QuizService) LowScoreQuizzes(ctx context.Context, userID string, threshold float64, limit int) ([]models.LowScoreQuiz, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.title, MAX(a.score) AS best
		FROM quizzes q
		JOIN quiz_attempts a ON a.quiz_id = q.id
		WHERE q.user_id = ?
		GROUP BY q.id
		HAVING best < ?
		ORDER BY best ASC, q.id ASC
		LIMIT ?;
	`, userID, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("query low score quizzes: %w", err)
	}
	defer rows.Close()

	var out []models.LowScoreQuiz
	for rows.Next() {
		var l models.LowScoreQuiz
		if err := rows.Scan(&l.QuizID, &l.QuizTitle, &l.Score); err != nil {
			return nil, fmt.Errorf("scan low score quiz: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate low score quizzes: %w", err)
	}
	return out, nil
}
