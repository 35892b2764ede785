package services

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"echo-study/internal/models"
)

// TagService tracks how weak a user is on each flashcard tag. Weights rise
// with failed reviews and decay with successful ones.
type TagService struct {
	db *sql.DB
}

func NewTagService(db *sql.DB) *TagService {
	return &TagService{db: db}
}

const tagDecay = 0.9

// ratingPenalty is the weight added to a tag for one review outcome.
func ratingPenalty(rating fsrs.Rating) float64 {
	switch rating {
	case fsrs.Again:
		return 1
	case fsrs.Hard:
		return 0.5
	case fsrs.Easy:
		return -0.25
	default:
		return 0
	}
}

// RecordReview folds one review outcome into each of the card's tags.
func (s *TagService) RecordReview(ctx context.Context, userID string, classID int64, tags []string, rating fsrs.Rating) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ts := now()
	lapse := 0
	if rating == fsrs.Again {
		lapse = 1
	}
	seen := map[string]bool{}
	for _, raw := range tags {
		name := strings.TrimSpace(raw)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true

		var weight float64
		err = tx.QueryRowContext(ctx, `
			SELECT weight FROM tags WHERE user_id = ? AND class_id = ? AND name = ?;
		`, userID, classID, name).Scan(&weight)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("select tag %s: %w", name, err)
		}
		weight = math.Max(0, weight*tagDecay+ratingPenalty(rating))

		if _, err = tx.ExecContext(ctx, `
			INSERT INTO tags (user_id, class_id, name, weight, reviews, lapses, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT(user_id, class_id, name) DO UPDATE SET
				weight = excluded.weight,
				reviews = tags.reviews + 1,
				lapses = tags.lapses + excluded.lapses,
				updated_at = excluded.updated_at;
		`, userID, classID, name, weight, lapse, ts); err != nil {
			return fmt.Errorf("upsert tag %s: %w", name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tag review: %w", err)
	}
	return nil
}

// WeakTags returns the user's weakest tags. A classID of 0 covers every
// class.
func (s *TagService) WeakTags(ctx context.Context, userID string, classID int64, limit int) ([]models.Tag, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.query(ctx, `
		SELECT id, user_id, class_id, name, weight, reviews, lapses, updated_at
		FROM tags
		WHERE user_id = ? AND weight > 0 AND (? = 0 OR class_id = ?)
		ORDER BY weight DESC, lapses DESC, name ASC
		LIMIT ?;
	`, userID, classID, classID, limit)
}

// WeakestAcrossClasses ranks tags by their combined weight over all classes
// and reports the class where each is weakest.
func (s *TagService) WeakestAcrossClasses(ctx context.Context, userID string, limit int) ([]models.Tag, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.query(ctx, `
		SELECT t.id, t.user_id, t.class_id, t.name, totals.weight, totals.reviews, totals.lapses, t.updated_at
		FROM tags t
		JOIN (
			SELECT name, SUM(weight) AS weight, SUM(reviews) AS reviews, SUM(lapses) AS lapses, MAX(weight) AS top
			FROM tags WHERE user_id = ? AND weight > 0
			GROUP BY name
		) totals ON totals.name = t.name AND totals.top = t.weight
		WHERE t.user_id = ?
		GROUP BY t.name
		ORDER BY totals.weight DESC, t.name ASC
		LIMIT ?;
	`, userID, userID, limit)
}

func (s *TagService) query(ctx context.Context, query string, args ...any) ([]models.Tag, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var out []models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.UserID, &t.ClassID, &t.Name, &t.Weight, &t.Reviews, &t.Lapses, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return out, nil
}
