package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"echo-study/internal/models"
)

type NotificationService struct {
	db *sql.DB
}

func NewNotificationService(db *sql.DB) *NotificationService {
	return &NotificationService{db: db}
}

func (s *NotificationService) Create(ctx context.Context, n models.Notification) (*models.Notification, error) {
	if strings.TrimSpace(n.UserID) == "" || strings.TrimSpace(n.Title) == "" {
		return nil, fmt.Errorf("%w: userId and title", ErrMissingField)
	}
	n.CreatedAt = now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, title, body, context, metadata, link, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`, n.UserID, n.Title, n.Body, n.Context, encodeMeta(n.Metadata), n.Link, n.Read, n.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	if n.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("notification id: %w", err)
	}
	return &n, nil
}

// List returns a user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, body, context, metadata, link, is_read, created_at
		FROM notifications
		WHERE user_id = ? AND (? = 0 OR is_read = 0)
		ORDER BY created_at DESC, id DESC;
	`, userID, unreadOnly)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		var (
			n    models.Notification
			meta string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.Context, &meta, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Metadata = decodeMeta(meta)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("mark notification %d read: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	return nil
}
