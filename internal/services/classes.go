package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"echo-study/internal/document"
	"echo-study/internal/llm"
	"echo-study/internal/models"
)

// ErrInvalidSyllabus is returned when the syllabus reply is not valid JSON.
var ErrInvalidSyllabus = errors.New("invalid syllabus JSON")

// KnownSubjects are the subjects DetectSubject may return besides "General".
var KnownSubjects = []string{
	"Biology",
	"General Chemistry",
	"Organic Chemistry",
	"Physics",
	"Math",
	"Biochemistry",
	"Psychology",
	"Sociology",
	"Anatomy",
	"Physiology",
	"Statistics",
	"Computer Science",
	"Economics",
}

const (
	subjectSamplePages = 3
	subjectSampleChars = 4000
	generalSubject     = "General"
	classStatus        = "UP TO DATE"
)

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

const syllabusPrompt = `You are an academic assistant. Analyze the following course syllabus and output ONLY valid JSON. Do not include any explanation or formatting.

Extract:
- title
- instructor
- credits (if mentioned)
- schedule (array of { date, topic, chapter })
- assignments (array of { title, dueDate, type })
- learning_goals (array)
- textbook (if mentioned)

Return a valid, parseable JSON object that conforms to JavaScript standards.

Format your response exactly like this:
{
  "title": "Intro to Biology",
  "instructor": "Dr. Smith",
  "credits": 3,
  "schedule": [
    { "date": "2025-07-14", "topic": "Intro", "chapter": "1" }
  ],
  "assignments": [
    { "title": "Exam 1", "dueDate": "2025-07-21", "type": "Exam" }
  ],
  "learning_goals": ["Understand cell structure"],
  "textbook": "Campbell Biology"
}

Syllabus:
"""
%s
"""`

// Credits accepts a JSON number or a numeric string.
type Credits int

func (c *Credits) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || string(data) == "null" {
		*c = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		*c = 0
		return nil
	}
	*c = Credits(f)
	return nil
}

type SyllabusLecture struct {
	Date    string `json:"date"`
	Topic   string `json:"topic"`
	Chapter string `json:"chapter"`
}

type SyllabusAssignment struct {
	Title   string `json:"title"`
	DueDate string `json:"dueDate"`
	Type    string `json:"type"`
}

// Syllabus is the structure extracted from a course syllabus.
type Syllabus struct {
	ClassID       int64                `json:"classId"`
	Title         string               `json:"title"`
	Instructor    string               `json:"instructor"`
	Credits       Credits              `json:"credits"`
	Schedule      []SyllabusLecture    `json:"schedule"`
	Assignments   []SyllabusAssignment `json:"assignments"`
	LearningGoals []string             `json:"learning_goals"`
	Textbook      string               `json:"textbook"`
}

// ClassService builds classes from syllabi and answers schedule queries.
type ClassService struct {
	db    *sql.DB
	chat  llm.Chatter
	model string
}

func NewClassService(db *sql.DB, chat llm.Chatter, model string) *ClassService {
	return &ClassService{db: db, chat: chat, model: model}
}

// FromSyllabus extracts a class from a syllabus and stores the class, its
// lecture schedule, its assignments and one empty deck per exam. The upload
// is removed afterwards.
func (s *ClassService) FromSyllabus(ctx context.Context, userID, path, originalName string) (*Syllabus, error) {
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to remove syllabus upload")
		}
	}()

	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: userId", ErrMissingField)
	}
	pages, err := document.Pages(path, originalName)
	if err != nil {
		return nil, err
	}

	raw, err := askRequest(ctx, s.chat, llm.ChatRequest{
		Model:       s.model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(syllabusPrompt, document.FullText(pages))}},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("extract syllabus: %w", err)
	}

	var syl Syllabus
	if err := json.Unmarshal([]byte(llm.ExtractObject(raw)), &syl); err != nil {
		log.Error().Err(err).Str("raw", llm.SanitizeForPrompt(raw, 200)).Msg("syllabus JSON parse failed")
		return nil, fmt.Errorf("%w: %v\nraw output:\n%s", ErrInvalidSyllabus, err, raw)
	}
	if strings.TrimSpace(syl.Title) == "" {
		return nil, fmt.Errorf("%w: missing title", ErrInvalidSyllabus)
	}

	id, err := s.store(ctx, userID, &syl)
	if err != nil {
		return nil, err
	}
	syl.ClassID = id
	log.Info().
		Int64("class_id", id).
		Int("lectures", len(syl.Schedule)).
		Int("assignments", len(syl.Assignments)).
		Msg("class built from syllabus")
	return &syl, nil
}

// lecture is a schedule entry with its syllabus order and parsed date.
type lecture struct {
	SyllabusLecture
	number int
	date   time.Time
	dated  bool
}

// examCoverage describes which lectures an exam covers.
type examCoverage struct {
	lectureRange string
	topics       []string
}

func parseDate(raw string) (time.Time, bool) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(raw))
	return t, err == nil
}

// orderLectures numbers lectures in syllabus order, then sorts them by date.
// Undated lectures keep their relative order after the dated ones.
func orderLectures(schedule []SyllabusLecture) []lecture {
	out := make([]lecture, len(schedule))
	for i, l := range schedule {
		d, ok := parseDate(l.Date)
		out[i] = lecture{SyllabusLecture: l, number: i + 1, date: d, dated: ok}
	}
	slices.SortStableFunc(out, func(a, b lecture) int {
		switch {
		case a.dated && b.dated:
			return a.date.Compare(b.date)
		case a.dated:
			return -1
		case b.dated:
			return 1
		default:
			return 0
		}
	})
	return out
}

// coverExams assigns each exam the lectures dated after the previous exam and
// on or before its own date. Exams without a date cover nothing.
func coverExams(assignments []SyllabusAssignment, lectures []lecture) map[string]examCoverage {
	type exam struct {
		title string
		due   time.Time
	}
	var exams []exam
	for _, a := range assignments {
		if !strings.EqualFold(strings.TrimSpace(a.Type), "exam") {
			continue
		}
		if due, ok := parseDate(a.DueDate); ok {
			exams = append(exams, exam{title: a.Title, due: due})
		}
	}
	slices.SortStableFunc(exams, func(a, b exam) int { return a.due.Compare(b.due) })

	out := make(map[string]examCoverage, len(exams))
	for i, e := range exams {
		var covered []lecture
		for _, l := range lectures {
			if !l.dated || l.date.After(e.due) {
				continue
			}
			if i > 0 && !l.date.After(exams[i-1].due) {
				continue
			}
			covered = append(covered, l)
		}
		cov := examCoverage{topics: []string{}}
		if len(covered) > 0 {
			cov.lectureRange = fmt.Sprintf("Lectures %d–%d", covered[0].number, covered[len(covered)-1].number)
		}
		for _, l := range covered {
			if t := strings.TrimSpace(l.Topic); t != "" {
				cov.topics = append(cov.topics, t)
			}
		}
		out[e.title] = cov
	}
	return out
}

func assignmentPriority(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "exam", "quiz":
		return "High"
	default:
		return "Normal"
	}
}

func (s *ClassService) store(ctx context.Context, userID string, syl *Syllabus) (classID int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	focus := ""
	if len(syl.LearningGoals) > 0 {
		focus = syl.LearningGoals[0]
	}
	ts := now()
	var res sql.Result
	res, err = tx.ExecContext(ctx, `
		INSERT INTO classes (user_id, title, instructor, credits, textbook, focus, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`, userID, syl.Title, syl.Instructor, int(syl.Credits), syl.Textbook, focus, classStatus, ts)
	if err != nil {
		return 0, fmt.Errorf("insert class: %w", err)
	}
	if classID, err = res.LastInsertId(); err != nil {
		return 0, fmt.Errorf("class id: %w", err)
	}

	lectures := orderLectures(syl.Schedule)
	for _, l := range lectures {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO class_schedule (class_id, user_id, lecture_number, date, topic, chapter)
			VALUES (?, ?, ?, ?, ?, ?);
		`, classID, userID, l.number, l.Date, l.Topic, l.Chapter); err != nil {
			return 0, fmt.Errorf("insert lecture %d: %w", l.number, err)
		}
	}

	coverage := coverExams(syl.Assignments, lectures)
	for _, a := range syl.Assignments {
		var due any
		if isoDate.MatchString(a.DueDate) {
			due = a.DueDate
		}
		cov := coverage[a.Title]
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO assignments (class_id, user_id, title, due_date, type, priority, lecture_range, covered_topics)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?);
		`, classID, userID, a.Title, due, a.Type, assignmentPriority(a.Type), cov.lectureRange, encodeStrings(cov.topics)); err != nil {
			return 0, fmt.Errorf("insert assignment %q: %w", a.Title, err)
		}

		if !strings.EqualFold(strings.TrimSpace(a.Type), "exam") {
			continue
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO decks (user_id, class_id, title, status, lecture_range, covered_topics, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?);
		`, userID, classID, fmt.Sprintf("%s - %s Deck", syl.Title, a.Title), models.DeckReady,
			cov.lectureRange, encodeStrings(cov.topics), ts, ts); err != nil {
			return 0, fmt.Errorf("insert exam deck %q: %w", a.Title, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit class: %w", err)
	}
	return classID, nil
}

const subjectPrompt = `You're an expert academic classifier. Based on the lecture content below, identify the subject from the following list only:

%s

If uncertain, choose the most appropriate category. Respond ONLY with the subject name, no explanation.

LECTURE EXCERPT:
%s`

// DetectSubject classifies a lecture from its first pages. Any failure or an
// answer outside KnownSubjects yields "General".
func (s *ClassService) DetectSubject(ctx context.Context, path string) string {
	pages, err := document.Pages(path, path)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read lecture for subject detection")
		return generalSubject
	}
	if len(pages) > subjectSamplePages {
		pages = pages[:subjectSamplePages]
	}
	sample := strings.Join(trimPages(pages), "\n\n")
	if r := []rune(sample); len(r) > subjectSampleChars {
		sample = string(r[:subjectSampleChars])
	}

	list := make([]string, len(KnownSubjects))
	for i, subj := range KnownSubjects {
		list[i] = "- " + subj
	}
	subject, err := askRequest(ctx, s.chat, llm.ChatRequest{
		Model:       s.model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(subjectPrompt, strings.Join(list, "\n"), sample)}},
		Temperature: llm.TemperatureZero,
	})
	if err != nil {
		log.Warn().Err(err).Msg("subject detection failed")
		return generalSubject
	}
	if slices.Contains(KnownSubjects, subject) {
		return subject
	}
	log.Warn().Str("subject", subject).Msg("subject not confidently matched")
	return generalSubject
}

func trimPages(pages []string) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// ListClasses returns a user's classes in creation order.
func (s *ClassService) ListClasses(ctx context.Context, userID string) ([]models.Class, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, instructor, credits, textbook, focus, status, created_at
		FROM classes WHERE user_id = ?
		ORDER BY id ASC;
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	defer rows.Close()

	out := []models.Class{}
	for rows.Next() {
		var c models.Class
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Instructor, &c.Credits, &c.Textbook, &c.Focus, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan class: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classes: %w", err)
	}
	return out, nil
}

func (s *ClassService) GetClass(ctx context.Context, id int64) (*models.Class, error) {
	var c models.Class
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, instructor, credits, textbook, focus, status, created_at
		FROM classes WHERE id = ?;
	`, id).Scan(&c.ID, &c.UserID, &c.Title, &c.Instructor, &c.Credits, &c.Textbook, &c.Focus, &c.Status, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("load class %d: %w", id, notFound(err))
	}
	return &c, nil
}

// NextAssignment returns the class's earliest assignment due today or later.
// A nil result with no error means none is upcoming.
func (s *ClassService) NextAssignment(ctx context.Context, classID int64) (*models.Assignment, error) {
	var (
		a       models.Assignment
		covered string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, class_id, title, due_date, type, priority, lecture_range, covered_topics
		FROM assignments
		WHERE class_id = ? AND due_date IS NOT NULL AND due_date >= ?
		ORDER BY due_date ASC, id ASC
		LIMIT 1;
	`, classID, today()).Scan(&a.ID, &a.ClassID, &a.Title, &a.DueDate, &a.Type, &a.Priority, &a.LectureRange, &covered)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next assignment: %w", err)
	}
	a.CoveredTopics = decodeStrings(covered)
	return &a, nil
}

// TodayLecture returns the class's lecture scheduled for today, if any.
func (s *ClassService) TodayLecture(ctx context.Context, classID int64) (*models.ScheduleEntry, error) {
	return s.lecture(ctx, `
		SELECT id, class_id, lecture_number, date, topic, chapter
		FROM class_schedule
		WHERE class_id = ? AND date = ?
		ORDER BY lecture_number ASC
		LIMIT 1;
	`, classID, today())
}

// NextLecture returns the user's earliest lecture dated today or later across
// all classes.
func (s *ClassService) NextLecture(ctx context.Context, userID string) (*models.ScheduleEntry, error) {
	return s.lecture(ctx, `
		SELECT id, class_id, lecture_number, date, topic, chapter
		FROM class_schedule
		WHERE user_id = ? AND date >= ?
		ORDER BY date ASC, lecture_number ASC
		LIMIT 1;
	`, userID, today())
}

func (s *ClassService) lecture(ctx context.Context, query string, args ...any) (*models.ScheduleEntry, error) {
	var e models.ScheduleEntry
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&e.ID, &e.ClassID, &e.LectureNumber, &e.Date, &e.Topic, &e.Chapter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query lecture: %w", err)
	}
	return &e, nil
}
