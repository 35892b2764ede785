package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"echo-study/internal/models"
)

// DeckService manages flashcard decks and their generation status.
type DeckService struct {
	db *sql.DB
}

func NewDeckService(db *sql.DB) *DeckService {
	return &DeckService{db: db}
}

const deckColumns = `id, user_id, class_id, title, description, status, progress, total_pages,
	tags, lecture_range, covered_topics, source_file, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeck(row rowScanner) (*models.Deck, error) {
	var (
		d             models.Deck
		tags, covered string
	)
	if err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.ClassID,
		&d.Title,
		&d.Description,
		&d.Status,
		&d.Progress,
		&d.TotalPages,
		&tags,
		&d.LectureRange,
		&covered,
		&d.SourceFile,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Tags = decodeStrings(tags)
	d.CoveredTopics = decodeStrings(covered)
	return &d, nil
}

// CreateDeck inserts a deck. A missing status defaults to processing.
func (s *DeckService) CreateDeck(ctx context.Context, d models.Deck) (*models.Deck, error) {
	if strings.TrimSpace(d.UserID) == "" || strings.TrimSpace(d.Title) == "" {
		return nil, fmt.Errorf("%w: deck user and title", ErrMissingField)
	}
	if d.Status == "" {
		d.Status = models.DeckProcessing
	}
	ts := now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO decks (user_id, class_id, title, description, status, progress, total_pages,
		                   tags, lecture_range, covered_topics, source_file, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, d.UserID, nullInt64Ptr(d.ClassID), d.Title, d.Description, d.Status, d.Progress, d.TotalPages,
		encodeStrings(d.Tags), d.LectureRange, encodeStrings(d.CoveredTopics), d.SourceFile, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("insert deck: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.GetDeck(ctx, id)
}

func (s *DeckService) GetDeck(ctx context.Context, id int64) (*models.Deck, error) {
	d, err := scanDeck(s.db.QueryRowContext(ctx, `SELECT `+deckColumns+` FROM decks WHERE id = ?;`, id))
	if err != nil {
		return nil, fmt.Errorf("load deck %d: %w", id, notFound(err))
	}
	return d, nil
}

// ListDecks returns a user's decks, newest first.
func (s *DeckService) ListDecks(ctx context.Context, userID string) ([]models.Deck, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deckColumns+`
		FROM decks WHERE user_id = ?
		ORDER BY created_at DESC, id DESC;
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list decks: %w", err)
	}
	defer rows.Close()

	out := []models.Deck{}
	for rows.Next() {
		d, err := scanDeck(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deck: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decks: %w", err)
	}
	return out, nil
}

// UpdateProgress records how many pages of the source have been processed.
func (s *DeckService) UpdateProgress(ctx context.Context, id int64, progress, total int) error {
	return s.exec(ctx, "update deck progress", `
		UPDATE decks SET progress = ?, total_pages = ?, updated_at = ? WHERE id = ?;
	`, progress, total, now(), id)
}

// MarkReady flips the deck to ready and stores its tag vocabulary.
func (s *DeckService) MarkReady(ctx context.Context, id int64, tags []string) error {
	return s.exec(ctx, "mark deck ready", `
		UPDATE decks SET status = ?, tags = ?, updated_at = ? WHERE id = ?;
	`, models.DeckReady, encodeStrings(tags), now(), id)
}

func (s *DeckService) MarkFailed(ctx context.Context, id int64) error {
	return s.exec(ctx, "mark deck failed", `
		UPDATE decks SET status = ?, updated_at = ? WHERE id = ?;
	`, models.DeckFailed, now(), id)
}

func (s *DeckService) SetTags(ctx context.Context, id int64, tags []string) error {
	return s.exec(ctx, "set deck tags", `
		UPDATE decks SET tags = ?, updated_at = ? WHERE id = ?;
	`, encodeStrings(tags), now(), id)
}

func (s *DeckService) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// OverdueDecks returns decks holding reviewed cards whose due date has
// passed, most overdue first.
func (s *DeckService) OverdueDecks(ctx context.Context, userID string, limit int) ([]models.OverdueDeck, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.class_id, d.title, COALESCE(MAX(f.last_review), '')
		FROM decks d
		JOIN flashcards f ON f.deck_id = d.id
		WHERE d.user_id = ? AND f.reps > 0 AND f.due IS NOT NULL AND f.due < ?
		GROUP BY d.id
		ORDER BY MIN(f.due) ASC
		LIMIT ?;
	`, userID, now(), limit)
	if err != nil {
		return nil, fmt.Errorf("query overdue decks: %w", err)
	}
	defer rows.Close()

	var out []models.OverdueDeck
	for rows.Next() {
		var d models.OverdueDeck
		if err := rows.Scan(&d.DeckID, &d.ClassID, &d.Title, &d.LastReviewed); err != nil {
			return nil, fmt.Errorf("scan overdue deck: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overdue decks: %w", err)
	}
	return out, nil
}

// ClassOverdue counts overdue decks per class.
type ClassOverdue struct {
	ClassID    int64
	ClassTitle string
	DeckCount  int
}

// OverdueByClass groups overdue decks by class, classes with the most
// overdue decks first.
func (s *DeckService) OverdueByClass(ctx context.Context, userID string, limit int) ([]ClassOverdue, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, COUNT(DISTINCT d.id)
		FROM decks d
		JOIN classes c ON c.id = d.class_id
		JOIN flashcards f ON f.deck_id = d.id
		WHERE d.user_id = ? AND f.reps > 0 AND f.due IS NOT NULL AND f.due < ?
		GROUP BY c.id
		ORDER BY COUNT(DISTINCT d.id) DESC, c.id ASC
		LIMIT ?;
	`, userID, now(), limit)
	if err != nil {
		return nil, fmt.Errorf("query overdue classes: %w", err)
	}
	defer rows.Close()

	var out []ClassOverdue
	for rows.Next() {
		var o ClassOverdue
		if err := rows.Scan(&o.ClassID, &o.ClassTitle, &o.DeckCount); err != nil {
			return nil, fmt.Errorf("scan overdue class: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overdue classes: %w", err)
	}
	return out, nil
}
