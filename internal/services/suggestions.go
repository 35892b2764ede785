package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"echo-study/internal/llm"
	"echo-study/internal/models"
	"echo-study/internal/youtube"
)

// Suggestion contexts, one per app screen.
const (
	ContextDashboard = "dashboard"
	ContextClass     = "class"
	ContextQuiz      = "quiz"
	ContextFlashcard = "flashcard"
	ContextSemester  = "semester"
)

// Contexts lists every suggestion context in the order the nightly job runs
// them.
var Contexts = []string{ContextDashboard, ContextClass, ContextQuiz, ContextFlashcard, ContextSemester}

// RetakeThreshold is the best quiz score below which a retake is suggested.
const RetakeThreshold = 70

// SuggestionService builds per-screen study suggestions from the user's
// schedule, review backlog, weak tags and quiz scores.
type SuggestionService struct {
	db      *sql.DB
	chat    llm.Chatter
	classes *ClassService
	decks   *DeckService
	tags    *TagService
	quizzes *QuizService
	videos  youtube.Searcher
}

func NewSuggestionService(db *sql.DB, chat llm.Chatter, classes *ClassService, decks *DeckService, tags *TagService, quizzes *QuizService, videos youtube.Searcher) *SuggestionService {
	return &SuggestionService{
		db:      db,
		chat:    chat,
		classes: classes,
		decks:   decks,
		tags:    tags,
		quizzes: quizzes,
		videos:  videos,
	}
}

// aiSuggestion phrases a suggestion of the given kind. Unknown kinds yield "".
func (s *SuggestionService) aiSuggestion(ctx context.Context, kind string, meta map[string]string) (string, error) {
	var prompt string
	switch kind {
	case "assignment":
		prompt = fmt.Sprintf("A student has an assignment titled %q due on %s. Suggest a study reminder.", meta["title"], meta["due_date"])
	case "quiz_tag":
		prompt = fmt.Sprintf("The student is weak on %q. Suggest a quiz practice tip.", meta["tag"])
	case "video":
		prompt = fmt.Sprintf("Encourage watching %q to understand %q better.", meta["videoTitle"], meta["topic"])
	case "motivation":
		prompt = "Give a short, motivational message to help a student start their study session. Make it encouraging and not generic."
	default:
		return "", nil
	}
	return ask(ctx, s.chat, prompt, 0.8)
}

// Generate builds the suggestions for one context and stores them. A
// classID of 0 covers every class of the user. Unknown contexts yield none.
func (s *SuggestionService) Generate(ctx context.Context, userID, screen string, classID int64) ([]models.Suggestion, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: userId", ErrMissingField)
	}
	if screen == "" {
		screen = ContextDashboard
	}

	var (
		out []models.Suggestion
		err error
	)
	switch screen {
	case ContextDashboard:
		out, err = s.dashboard(ctx, userID)
	case ContextClass:
		out, err = s.forClasses(ctx, userID, classID, s.class)
	case ContextQuiz:
		out, err = s.quiz(ctx, userID, classID)
	case ContextFlashcard:
		out, err = s.flashcard(ctx, userID)
	case ContextSemester:
		out, err = s.semester(ctx, userID)
	default:
		return []models.Suggestion{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s suggestions: %w", screen, err)
	}

	for i := range out {
		out[i].UserID = userID
		out[i].Context = screen
		if err := s.store(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func classRef(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

func (s *SuggestionService) forClasses(ctx context.Context, userID string, classID int64, fn func(context.Context, string, int64) ([]models.Suggestion, error)) ([]models.Suggestion, error) {
	if classID > 0 {
		return fn(ctx, userID, classID)
	}
	classes, err := s.classes.ListClasses(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := []models.Suggestion{}
	for _, c := range classes {
		items, err := fn(ctx, userID, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

func (s *SuggestionService) dashboard(ctx context.Context, userID string) ([]models.Suggestion, error) {
	classes, err := s.classes.ListClasses(ctx, userID)
	if err != nil {
		return nil, err
	}
	overdue, err := s.decks.OverdueDecks(ctx, userID, 50)
	if err != nil {
		return nil, err
	}

	out := []models.Suggestion{}
	for _, c := range classes {
		next, err := s.classes.NextAssignment(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if next != nil {
			text, err := s.aiSuggestion(ctx, "assignment", map[string]string{"title": next.Title, "due_date": next.DueDate})
			if err != nil {
				return nil, err
			}
			out = append(out, models.Suggestion{
				ClassID:  classRef(c.ID),
				Type:     "daily_plan",
				Text:     text,
				Metadata: map[string]any{"assignment_id": next.ID},
			})
		}

		for _, d := range overdue {
			if d.ClassID.Int64 != c.ID {
				continue
			}
			out = append(out, models.Suggestion{
				ClassID:  classRef(c.ID),
				Type:     "flashcard",
				Text:     fmt.Sprintf("Review flashcards in %q, it's due today.", d.Title),
				Metadata: map[string]any{"deck_id": d.DeckID},
			})
			break
		}

		lecture, err := s.classes.TodayLecture(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if lecture != nil {
			out = append(out, models.Suggestion{
				ClassID:  classRef(c.ID),
				Type:     "study",
				Text:     fmt.Sprintf("Study today's topic: %q", lecture.Topic),
				Metadata: map[string]any{"topic": lecture.Topic},
			})
		}
	}

	text, err := s.aiSuggestion(ctx, "motivation", nil)
	if err != nil {
		return nil, err
	}
	out = append(out, models.Suggestion{Type: "motivation", Text: text, Metadata: map[string]any{}})
	return out, nil
}

func (s *SuggestionService) class(ctx context.Context, userID string, classID int64) ([]models.Suggestion, error) {
	out := []models.Suggestion{}

	next, err := s.classes.NextAssignment(ctx, classID)
	if err != nil {
		return nil, err
	}
	if next != nil {
		text, err := s.aiSuggestion(ctx, "assignment", map[string]string{"title": next.Title, "due_date": next.DueDate})
		if err != nil {
			return nil, err
		}
		out = append(out, models.Suggestion{
			ClassID:  classRef(classID),
			Type:     "review",
			Text:     text,
			Metadata: map[string]any{"assignment_id": next.ID},
		})
	}

	lecture, err := s.classes.TodayLecture(ctx, classID)
	if err != nil {
		return nil, err
	}
	if lecture != nil {
		out = append(out, models.Suggestion{
			ClassID:  classRef(classID),
			Type:     "study",
			Text:     fmt.Sprintf("Study today's topic: %q", lecture.Topic),
			Metadata: map[string]any{"topic": lecture.Topic},
		})

		var videos []youtube.Video
		if s.videos != nil {
			videos = s.videos.Search(ctx, lecture.Topic)
		}
		if len(videos) > 0 {
			text, err := s.aiSuggestion(ctx, "video", map[string]string{"videoTitle": videos[0].Title, "topic": lecture.Topic})
			if err != nil {
				return nil, err
			}
			out = append(out, models.Suggestion{
				ClassID:  classRef(classID),
				Type:     "video",
				Text:     text,
				Metadata: map[string]any{"video_url": youtube.WatchURL(videos[0].VideoID)},
			})
		}
	}

	weak, err := s.tags.WeakTags(ctx, userID, classID, 1)
	if err != nil {
		return nil, err
	}
	if len(weak) > 0 {
		text, err := s.aiSuggestion(ctx, "quiz_tag", map[string]string{"tag": weak[0].Name})
		if err != nil {
			return nil, err
		}
		out = append(out, models.Suggestion{
			ClassID:  classRef(classID),
			Type:     "quiz",
			Text:     text,
			Metadata: map[string]any{"tag": weak[0].Name},
		})
	}
	return out, nil
}

func (s *SuggestionService) quiz(ctx context.Context, userID string, classID int64) ([]models.Suggestion, error) {
	out := []models.Suggestion{}

	weak, err := s.tags.WeakTags(ctx, userID, classID, 1)
	if err != nil {
		return nil, err
	}
	if len(weak) > 0 {
		out = append(out, models.Suggestion{
			ClassID:  classRef(classID),
			Type:     "tag_focus",
			Text:     fmt.Sprintf("Weak tag: %q, practice this today", weak[0].Name),
			Metadata: map[string]any{"tag": weak[0].Name},
		})
	}

	low, err := s.quizzes.LowScoreQuizzes(ctx, userID, RetakeThreshold, 1)
	if err != nil {
		return nil, err
	}
	if len(low) > 0 {
		out = append(out, models.Suggestion{
			ClassID:  classRef(classID),
			Type:     "retake",
			Text:     fmt.Sprintf("Retake %q, your score was %.0f%%", low[0].QuizTitle, low[0].Score),
			Metadata: map[string]any{"quiz_id": low[0].QuizID},
		})
	}

	lecture, err := s.classes.NextLecture(ctx, userID)
	if err != nil {
		return nil, err
	}
	if lecture != nil && strings.TrimSpace(lecture.Topic) != "" {
		out = append(out, models.Suggestion{
			ClassID:  classRef(lecture.ClassID),
			Type:     "recommendation",
			Text:     fmt.Sprintf("Practice upcoming quiz topic: %q", lecture.Topic),
			Metadata: map[string]any{"topic": lecture.Topic},
		})
	}
	return out, nil
}

func (s *SuggestionService) flashcard(ctx context.Context, userID string) ([]models.Suggestion, error) {
	overdue, err := s.decks.OverdueDecks(ctx, userID, 2)
	if err != nil {
		return nil, err
	}
	out := make([]models.Suggestion, 0, len(overdue))
	for _, d := range overdue {
		last := d.LastReviewed
		if len(last) >= len("2006-01-02") {
			last = last[:len("2006-01-02")]
		}
		out = append(out, models.Suggestion{
			ClassID:  classRef(d.ClassID.Int64),
			Type:     "deck_due",
			Text:     fmt.Sprintf("Review %q, last reviewed on %s", d.Title, last),
			Metadata: map[string]any{"deck_id": d.DeckID},
		})
	}
	return out, nil
}

func (s *SuggestionService) semester(ctx context.Context, userID string) ([]models.Suggestion, error) {
	out := []models.Suggestion{}

	overdue, err := s.decks.OverdueByClass(ctx, userID, 2)
	if err != nil {
		return nil, err
	}
	for _, o := range overdue {
		out = append(out, models.Suggestion{
			ClassID:  classRef(o.ClassID),
			Type:     "review",
			Text:     fmt.Sprintf("Review flashcards in %s, %d decks overdue", o.ClassTitle, o.DeckCount),
			Metadata: map[string]any{"class_id": o.ClassID},
		})
	}

	weak, err := s.tags.WeakestAcrossClasses(ctx, userID, 1)
	if err != nil {
		return nil, err
	}
	for _, w := range weak {
		out = append(out, models.Suggestion{
			ClassID:  classRef(w.ClassID),
			Type:     "quiz",
			Text:     fmt.Sprintf("Weak tag: %q, practice this across classes", w.Name),
			Metadata: map[string]any{"tag": w.Name},
		})
	}
	return out, nil
}

func (s *SuggestionService) store(ctx context.Context, sg *models.Suggestion) error {
	sg.CreatedAt = now()
	var classID any
	if sg.ClassID != nil {
		classID = *sg.ClassID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO smart_suggestions (user_id, class_id, type, context, text, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?);
	`, sg.UserID, classID, sg.Type, sg.Context, sg.Text, encodeMeta(sg.Metadata), sg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert suggestion: %w", err)
	}
	sg.ID, _ = res.LastInsertId()
	return nil
}

// List returns the stored suggestions of a user for one context, newest first.
func (s *SuggestionService) List(ctx context.Context, userID, screen string) ([]models.Suggestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, class_id, type, context, text, metadata, created_at
		FROM smart_suggestions
		WHERE user_id = ? AND context = ?
		ORDER BY created_at DESC, id DESC;
	`, userID, screen)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	out := []models.Suggestion{}
	for rows.Next() {
		var (
			sg      models.Suggestion
			classID sql.NullInt64
			meta    string
		)
		if err := rows.Scan(&sg.ID, &sg.UserID, &classID, &sg.Type, &sg.Context, &sg.Text, &meta, &sg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		if classID.Valid {
			sg.ClassID = &classID.Int64
		}
		sg.Metadata = decodeMeta(meta)
		out = append(out, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suggestions: %w", err)
	}
	return out, nil
}

// ClearToday deletes the user's suggestions created since midnight UTC.
func (s *SuggestionService) ClearToday(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM smart_suggestions WHERE user_id = ? AND created_at >= ?;
	`, userID, startOfDay(now()))
	if err != nil {
		return 0, fmt.Errorf("clear suggestions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Debug().Str("user_id", userID).Int64("deleted", n).Msg("cleared today's suggestions")
	}
	return n, nil
}
