package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"echo-study/internal/models"
)

// ProfileService stores the per-user preferences used to personalise
// explanations.
type ProfileService struct {
	db *sql.DB
}

func NewProfileService(db *sql.DB) *ProfileService {
	return &ProfileService{db: db}
}

// Upsert creates or replaces a profile.
func (s *ProfileService) Upsert(ctx context.Context, p models.Profile) (*models.Profile, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return nil, fmt.Errorf("%w: profile id", ErrMissingField)
	}
	ts := now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, display_name, interests, tone_preference, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			interests = excluded.interests,
			tone_preference = excluded.tone_preference,
			updated_at = excluded.updated_at;
	`, p.ID, p.DisplayName, encodeStrings(p.Interests), p.TonePreference, ts, ts); err != nil {
		return nil, fmt.Errorf("upsert profile %s: %w", p.ID, err)
	}
	return s.Get(ctx, p.ID)
}

func (s *ProfileService) Get(ctx context.Context, id string) (*models.Profile, error) {
	var (
		p         models.Profile
		interests string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, interests, tone_preference, created_at, updated_at
		FROM profiles WHERE id = ?;
	`, id).Scan(&p.ID, &p.DisplayName, &interests, &p.TonePreference, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", id, notFound(err))
	}
	p.Interests = decodeStrings(interests)
	return &p, nil
}

// ListIDs returns every profile ID, oldest first.
func (s *ProfileService) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM profiles ORDER BY created_at ASC, id ASC;`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan profile id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return ids, nil
}
