package models

import (
	"database/sql"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"
)

type Profile struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"displayName"`
	Interests      []string  `json:"interests"`
	TonePreference string    `json:"tonePreference"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Document struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"userId,omitempty"`
	OriginalName string    `json:"originalName"`
	StoredPath   string    `json:"filePath"`
	SizeBytes    int64     `json:"sizeBytes"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

type Class struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"userId"`
	Title      string    `json:"title"`
	Instructor string    `json:"instructor"`
	Credits    int       `json:"credits"`
	Textbook   string    `json:"textbook"`
	Focus      string    `json:"focus"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ScheduleEntry struct {
	ID            int64  `json:"id"`
	ClassID       int64  `json:"classId"`
	LectureNumber int    `json:"lectureNumber"`
	Date          string `json:"date"`
	Topic         string `json:"topic"`
	Chapter       string `json:"chapter"`
}

type Assignment struct {
	ID            int64    `json:"id"`
	ClassID       int64    `json:"classId"`
	Title         string   `json:"title"`
	DueDate       string   `json:"dueDate,omitempty"`
	Type          string   `json:"type"`
	Priority      string   `json:"priority"`
	LectureRange  string   `json:"lectureRange,omitempty"`
	CoveredTopics []string `json:"coveredTopics,omitempty"`
}

type DeckStatus string

const (
	DeckProcessing DeckStatus = "processing"
	DeckReady      DeckStatus = "ready"
	DeckFailed     DeckStatus = "failed"
)

type Deck struct {
	ID            int64         `json:"id"`
	UserID        string        `json:"userId"`
	ClassID       sql.NullInt64 `json:"-"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Status        DeckStatus    `json:"status"`
	Progress      int           `json:"progress"`
	TotalPages    int           `json:"totalPages"`
	Tags          []string      `json:"tags"`
	LectureRange  string        `json:"lectureRange,omitempty"`
	CoveredTopics []string      `json:"coveredTopics,omitempty"`
	SourceFile    string        `json:"sourceFile,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

type Card struct {
	ID                   int64         `json:"id"`
	DeckID               int64         `json:"deckId"`
	UserID               string        `json:"userId"`
	Term                 string        `json:"term"`
	Definition           string        `json:"definition"`
	Tags                 []string      `json:"tags"`
	Due                  sql.NullTime  `json:"-"`
	Stability            float64       `json:"stability"`
	Difficulty           float64       `json:"difficulty"`
	ElapsedDays          int           `json:"elapsedDays"`
	ScheduledDays        int           `json:"scheduledDays"`
	Reps                 int           `json:"reps"`
	Lapses               int           `json:"lapses"`
	State                int           `json:"state"`
	LastReview           sql.NullTime  `json:"-"`
	WorkingQueuePosition sql.NullInt64 `json:"-"` // position in working queue for "Again" cards
	CreatedAt            time.Time     `json:"createdAt"`
	UpdatedAt            time.Time     `json:"updatedAt"`
}

// CardDraft is a generated card before it is stored.
type CardDraft struct {
	Term       string
	Definition string
	Tags       []string
}

type ReviewLog struct {
	ID            int64
	CardID        int64
	Rating        int
	ScheduledDays int
	ElapsedDays   int
	State         int
	ReviewedAt    time.Time
}

// DeckStats summarises the scheduling state of a deck.
type DeckStats struct {
	Total    int `json:"total"`
	Due      int `json:"due"`
	New      int `json:"new"`
	Learning int `json:"learning"`
	Review   int `json:"review"`
}

// OverdueDeck is a deck with reviewed cards past their due date.
type OverdueDeck struct {
	DeckID       int64         `json:"deckId"`
	ClassID      sql.NullInt64 `json:"-"`
	Title        string        `json:"title"`
	LastReviewed string        `json:"lastReviewed"`
}

type Tag struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	ClassID   int64     `json:"classId"`
	Name      string    `json:"tag"`
	Weight    float64   `json:"weight"`
	Reviews   int       `json:"reviews"`
	Lapses    int       `json:"lapses"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Quiz struct {
	ID         int64          `json:"id"`
	UserID     string         `json:"userId"`
	ClassID    sql.NullInt64  `json:"-"`
	Title      string         `json:"title"`
	Source     string         `json:"source"`
	Difficulty string         `json:"difficulty"`
	CreatedAt  time.Time      `json:"createdAt"`
	Questions  []QuizQuestion `json:"questions,omitempty"`
}

type QuizQuestion struct {
	ID          int64    `json:"id"`
	QuizID      int64    `json:"quizId"`
	Position    int      `json:"position"`
	Type        string   `json:"type"`
	Prompt      string   `json:"question"`
	Options     []string `json:"options,omitempty"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation"`
	Difficulty  string   `json:"difficulty"`
}

// LowScoreQuiz is a quiz whose best attempt is below the retake threshold.
type LowScoreQuiz struct {
	QuizID    int64   `json:"quizId"`
	QuizTitle string  `json:"quizTitle"`
	Score     float64 `json:"score"`
}

type Note struct {
	ID         int64      `json:"id"`
	UserID     string     `json:"userId"`
	NotebookID string     `json:"notebookId"`
	Title      string     `json:"title"`
	Type       string     `json:"type"`
	CreatedAt  time.Time  `json:"createdAt"`
	Pages      []NotePage `json:"pages,omitempty"`
}

type NotePage struct {
	PageNumber int    `json:"pageNumber"`
	Content    string `json:"content"`
}

type Suggestion struct {
	ID        int64          `json:"id,omitempty"`
	UserID    string         `json:"userId"`
	ClassID   *int64         `json:"classId"`
	Type      string         `json:"type"`
	Context   string         `json:"context"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
}

type Notification struct {
	ID        int64          `json:"id"`
	UserID    string         `json:"userId"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Context   string         `json:"context"`
	Metadata  map[string]any `json:"metadata"`
	Link      string         `json:"link"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"createdAt"`
}

// NullID maps a non-positive ID onto SQL NULL.
func NullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id > 0}
}

func (c *Card) ToFSRSCard() fsrs.Card {
	card := fsrs.Card{
		Stability:     c.Stability,
		Difficulty:    c.Difficulty,
		ElapsedDays:   uint64(max(c.ElapsedDays, 0)),
		ScheduledDays: uint64(max(c.ScheduledDays, 0)),
		Reps:          uint64(max(c.Reps, 0)),
		Lapses:        uint64(max(c.Lapses, 0)),
		State:         fsrs.State(max(c.State, 0)),
	}
	if c.Due.Valid {
		card.Due = c.Due.Time
	}
	if c.LastReview.Valid {
		card.LastReview = c.LastReview.Time
	}
	return card
}

func (c *Card) ApplyFSRSCard(f fsrs.Card) {
	c.Due = sql.NullTime{Time: f.Due, Valid: !f.Due.IsZero()}
	c.Stability = f.Stability
	c.Difficulty = f.Difficulty
	c.ElapsedDays = int(f.ElapsedDays)
	c.ScheduledDays = int(f.ScheduledDays)
	c.Reps = int(f.Reps)
	c.Lapses = int(f.Lapses)
	c.State = int(f.State)
	c.LastReview = sql.NullTime{Time: f.LastReview, Valid: !f.LastReview.IsZero()}
}
