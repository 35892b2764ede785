package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	fsrs "github.com/open-spaced-repetition/go-fsrs"
	"github.com/rs/zerolog/log"

	"echo-study/internal/models"
)

var (
	// ErrNoDueCards indicates that there are no cards ready to review.
	ErrNoDueCards = errors.New("no due cards")
	// ErrInvalidRating is returned for ratings outside again..easy.
	ErrInvalidRating = errors.New("invalid rating")
)

const workingQueueSize = 20

// FlashcardService orchestrates card scheduling and persistence with FSRS.
type FlashcardService struct {
	db     *sql.DB
	params fsrs.Parameters
	tags   *TagService
}

func NewFlashcardService(db *sql.DB, tags *TagService) *FlashcardService {
	params := fsrs.DefaultParam()
	return &FlashcardService{db: db, params: params, tags: tags}
}

// ParseRating accepts again/hard/good/easy or 1-4.
func ParseRating(raw string) (fsrs.Rating, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "again", "1":
		return fsrs.Again, nil
	case "hard", "2":
		return fsrs.Hard, nil
	case "good", "3":
		return fsrs.Good, nil
	case "easy", "4":
		return fsrs.Easy, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRating, raw)
	}
}

const cardColumns = `c.id, c.deck_id, c.user_id, c.term, c.definition, c.tags,
	c.due, c.stability, c.difficulty, c.elapsed_days, c.scheduled_days,
	c.reps, c.lapses, c.state, c.last_review, c.working_queue_position,
	c.created_at, c.updated_at`

func scanCard(row rowScanner) (*models.Card, error) {
	var (
		card models.Card
		tags string
	)
	if err := row.Scan(
		&card.ID,
		&card.DeckID,
		&card.UserID,
		&card.Term,
		&card.Definition,
		&tags,
		&card.Due,
		&card.Stability,
		&card.Difficulty,
		&card.ElapsedDays,
		&card.ScheduledDays,
		&card.Reps,
		&card.Lapses,
		&card.State,
		&card.LastReview,
		&card.WorkingQueuePosition,
		&card.CreatedAt,
		&card.UpdatedAt,
	); err != nil {
		return nil, err
	}
	card.Tags = decodeStrings(tags)
	return &card, nil
}

// NextCard returns the next card of a deck with working queue support.
// Priority order: 1) Cards in working queue, 2) Due cards, 3) Oldest unseen card
func (s *FlashcardService) NextCard(ctx context.Context, deckID int64) (*models.Card, error) {
	// First, check for cards in the working queue (cards marked "Again")
	card, err := s.fetchCard(ctx, `
		SELECT `+cardColumns+`
		FROM flashcards c
		WHERE c.deck_id = ? AND c.working_queue_position IS NOT NULL
		ORDER BY c.working_queue_position ASC
		LIMIT 1;
	`, deckID)
	if err == nil {
		return card, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Second, check for reviewed cards that are due
	card, err = s.fetchCard(ctx, `
		SELECT `+cardColumns+`
		FROM flashcards c
		WHERE c.deck_id = ? AND c.reps > 0 AND c.due IS NOT NULL AND c.due <= ?
		  AND c.working_queue_position IS NULL
		ORDER BY c.due ASC
		LIMIT 1;
	`, deckID, now())
	if err == nil {
		return card, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Finally, return the oldest unseen card
	card, err = s.fetchCard(ctx, `
		SELECT `+cardColumns+`
		FROM flashcards c
		WHERE c.deck_id = ? AND c.reps = 0 AND c.working_queue_position IS NULL
		ORDER BY c.created_at ASC, c.id ASC
		LIMIT 1;
	`, deckID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoDueCards
		}
		return nil, err
	}
	return card, nil
}

func (s *FlashcardService) fetchCard(ctx context.Context, query string, args ...any) (*models.Card, error) {
	return scanCard(s.db.QueryRowContext(ctx, query, args...))
}

func (s *FlashcardService) GetCard(ctx context.Context, id int64) (*models.Card, error) {
	card, err := s.fetchCard(ctx, `SELECT `+cardColumns+` FROM flashcards c WHERE c.id = ?;`, id)
	if err != nil {
		return nil, fmt.Errorf("load card %d: %w", id, notFound(err))
	}
	return card, nil
}

// ListByDeck returns every card of a deck in insertion order.
func (s *FlashcardService) ListByDeck(ctx context.Context, deckID int64) ([]models.Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cardColumns+`
		FROM flashcards c
		WHERE c.deck_id = ?
		ORDER BY c.id ASC;
	`, deckID)
	if err != nil {
		return nil, fmt.Errorf("list flashcards: %w", err)
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flashcard: %w", err)
		}
		cards = append(cards, *card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flashcards: %w", err)
	}
	return cards, nil
}

// ReviewCard updates the scheduling information based on the user's rating
// and feeds the outcome into the card's tag weights.
func (s *FlashcardService) ReviewCard(ctx context.Context, cardID int64, rating fsrs.Rating) (*models.Card, *models.ReviewLog, error) {
	if rating < fsrs.Again || rating > fsrs.Easy {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidRating, rating)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		card    *models.Card
		classID sql.NullInt64
	)
	card, err = scanCard(tx.QueryRowContext(ctx, `
		SELECT `+cardColumns+`
		FROM flashcards c
		WHERE c.id = ?;
	`, cardID))
	if err != nil {
		err = notFound(err)
		return nil, nil, fmt.Errorf("load card %d: %w", cardID, err)
	}
	if err = tx.QueryRowContext(ctx, `SELECT class_id FROM decks WHERE id = ?;`, card.DeckID).Scan(&classID); err != nil {
		return nil, nil, fmt.Errorf("load deck %d: %w", card.DeckID, err)
	}

	ts := now()
	scheduling := s.params.Repeat(card.ToFSRSCard(), ts)
	info, ok := scheduling[rating]
	if !ok {
		err = fmt.Errorf("%w: %d", ErrInvalidRating, rating)
		return nil, nil, err
	}
	card.ApplyFSRSCard(info.Card)
	card.UpdatedAt = ts

	// Handle working queue logic
	if rating == fsrs.Again {
		if err = addToWorkingQueue(ctx, tx, card.DeckID, cardID); err != nil {
			return nil, nil, fmt.Errorf("add to working queue: %w", err)
		}
	} else {
		if err = removeFromWorkingQueue(ctx, tx, card.DeckID, cardID); err != nil {
			return nil, nil, fmt.Errorf("remove from working queue: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE flashcards
		SET due = ?, stability = ?, difficulty = ?, elapsed_days = ?, scheduled_days = ?,
		    reps = ?, lapses = ?, state = ?, last_review = ?, updated_at = ?
		WHERE id = ?;
	`,
		nullTimePtr(card.Due),
		card.Stability,
		card.Difficulty,
		card.ElapsedDays,
		card.ScheduledDays,
		card.Reps,
		card.Lapses,
		card.State,
		nullTimePtr(card.LastReview),
		card.UpdatedAt,
		card.ID,
	); err != nil {
		return nil, nil, fmt.Errorf("update card %d: %w", card.ID, err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO review_logs (card_id, rating, scheduled_days, elapsed_days, state, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, card.ID, info.ReviewLog.Rating, info.ReviewLog.ScheduledDays, info.ReviewLog.ElapsedDays, info.ReviewLog.State, ts); err != nil {
		return nil, nil, fmt.Errorf("insert review log: %w", err)
	}

	if err = tx.QueryRowContext(ctx, `SELECT working_queue_position FROM flashcards WHERE id = ?;`, card.ID).
		Scan(&card.WorkingQueuePosition); err != nil {
		return nil, nil, fmt.Errorf("reload queue position: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit review: %w", err)
	}

	if s.tags != nil && len(card.Tags) > 0 {
		if tagErr := s.tags.RecordReview(ctx, card.UserID, classID.Int64, card.Tags, rating); tagErr != nil {
			log.Warn().Err(tagErr).Int64("card_id", card.ID).Msg("failed to update tag weights")
		}
	}

	review := &models.ReviewLog{
		CardID:        card.ID,
		Rating:        int(info.ReviewLog.Rating),
		ScheduledDays: int(info.ReviewLog.ScheduledDays),
		ElapsedDays:   int(info.ReviewLog.ElapsedDays),
		State:         int(info.ReviewLog.State),
		ReviewedAt:    ts,
	}
	return card, review, nil
}

// addToWorkingQueue appends a card to its deck's working queue, evicting the
// oldest entry once the queue is full.
func addToWorkingQueue(ctx context.Context, tx *sql.Tx, deckID, cardID int64) error {
	var existingPosition sql.NullInt64
	err := tx.QueryRowContext(ctx, "SELECT working_queue_position FROM flashcards WHERE id = ?", cardID).Scan(&existingPosition)
	if err != nil {
		return fmt.Errorf("check existing position: %w", err)
	}
	if existingPosition.Valid {
		return nil
	}

	var maxPosition sql.NullInt64
	err = tx.QueryRowContext(ctx, "SELECT MAX(working_queue_position) FROM flashcards WHERE deck_id = ?", deckID).Scan(&maxPosition)
	if err != nil {
		return fmt.Errorf("get max position: %w", err)
	}

	newPosition := int64(1)
	if maxPosition.Valid {
		newPosition = maxPosition.Int64 + 1
	}

	if newPosition > workingQueueSize {
		var oldestCardID int64
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM flashcards
			WHERE deck_id = ? AND working_queue_position IS NOT NULL
			ORDER BY working_queue_position ASC LIMIT 1`, deckID).Scan(&oldestCardID)
		if err != nil {
			return fmt.Errorf("find oldest card: %w", err)
		}
		if _, err = tx.ExecContext(ctx, "UPDATE flashcards SET working_queue_position = NULL WHERE id = ?", oldestCardID); err != nil {
			return fmt.Errorf("remove oldest card: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `
			UPDATE flashcards SET working_queue_position = working_queue_position - 1
			WHERE deck_id = ? AND working_queue_position IS NOT NULL`, deckID); err != nil {
			return fmt.Errorf("shift positions: %w", err)
		}
		newPosition = workingQueueSize
	}

	if _, err = tx.ExecContext(ctx, "UPDATE flashcards SET working_queue_position = ? WHERE id = ?", newPosition, cardID); err != nil {
		return fmt.Errorf("add card to queue: %w", err)
	}
	return nil
}

// removeFromWorkingQueue removes a card from the working queue and closes
// the gap it leaves.
func removeFromWorkingQueue(ctx context.Context, tx *sql.Tx, deckID, cardID int64) error {
	var position sql.NullInt64
	err := tx.QueryRowContext(ctx, "SELECT working_queue_position FROM flashcards WHERE id = ?", cardID).Scan(&position)
	if err != nil {
		return fmt.Errorf("get card position: %w", err)
	}
	if !position.Valid {
		return nil
	}

	if _, err = tx.ExecContext(ctx, "UPDATE flashcards SET working_queue_position = NULL WHERE id = ?", cardID); err != nil {
		return fmt.Errorf("remove card from queue: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE flashcards SET working_queue_position = working_queue_position - 1
		WHERE deck_id = ? AND working_queue_position > ?`, deckID, position.Int64); err != nil {
		return fmt.Errorf("shift positions down: %w", err)
	}
	return nil
}

// BulkInsert stores generated cards in a deck with a fresh FSRS state.
func (s *FlashcardService) BulkInsert(ctx context.Context, deckID int64, userID string, drafts []models.CardDraft) (int, error) {
	if len(drafts) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ts := now()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO flashcards (deck_id, user_id, term, definition, tags, due, stability, difficulty,
		                        elapsed_days, scheduled_days, reps, lapses, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0, 0, 0, 0, ?, ?, ?);
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare card insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, draft := range drafts {
		term := strings.TrimSpace(draft.Term)
		definition := strings.TrimSpace(draft.Definition)
		if term == "" || definition == "" {
			continue
		}
		if _, err = stmt.ExecContext(ctx, deckID, userID, term, definition, encodeStrings(draft.Tags), ts, int(fsrs.New), ts, ts); err != nil {
			return 0, fmt.Errorf("insert card %q: %w", term, err)
		}
		inserted++
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk insert: %w", err)
	}
	return inserted, nil
}

// Stats returns scheduling counts for a deck.
func (s *FlashcardService) Stats(ctx context.Context, deckID int64) (*models.DeckStats, error) {
	var stats models.DeckStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN due IS NOT NULL AND due <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state IN (?, ?) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0)
		FROM flashcards WHERE deck_id = ?;
	`, now(), int(fsrs.New), int(fsrs.Learning), int(fsrs.Relearning), int(fsrs.Review), deckID).
		Scan(&stats.Total, &stats.Due, &stats.New, &stats.Learning, &stats.Review)
	if err != nil {
		return nil, fmt.Errorf("deck stats: %w", err)
	}
	return &stats, nil
}
