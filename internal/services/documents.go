package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"echo-study/internal/document"
	"echo-study/internal/models"
)

// ErrFileTooLarge is returned when an upload exceeds the configured limit.
var ErrFileTooLarge = errors.New("file too large")

// DocumentService stores uploaded lecture files under random names and keeps
// a row per upload.
type DocumentService struct {
	db        *sql.DB
	uploadDir string
	maxBytes  int64
}

func NewDocumentService(db *sql.DB, uploadDir string, maxBytes int64) *DocumentService {
	return &DocumentService{db: db, uploadDir: uploadDir, maxBytes: maxBytes}
}

// Create saves a supported document and records it.
func (s *DocumentService) Create(ctx context.Context, userID, original string, src io.Reader) (*models.Document, error) {
	if !document.IsSupported(original) {
		return nil, fmt.Errorf("%w: %s", document.ErrUnsupported, filepath.Ext(original))
	}
	storedPath, size, err := s.Save(original, src)
	if err != nil {
		return nil, err
	}

	ts := now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (user_id, original_name, stored_path, size_bytes, uploaded_at)
		VALUES (?, ?, ?, ?, ?);
	`, userID, original, storedPath, size, ts)
	if err != nil {
		_ = os.Remove(storedPath)
		return nil, fmt.Errorf("insert document: %w", err)
	}
	id, _ := res.LastInsertId()

	return &models.Document{
		ID:           id,
		UserID:       userID,
		OriginalName: original,
		StoredPath:   storedPath,
		SizeBytes:    size,
		UploadedAt:   ts,
	}, nil
}

// Save writes src to the upload dir under a random name that keeps the
// original extension. The file is removed again when it exceeds the limit.
func (s *DocumentService) Save(original string, src io.Reader) (string, int64, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("ensure upload dir: %w", err)
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(original))
	storedPath := filepath.Join(s.uploadDir, name)
	out, err := os.Create(storedPath)
	if err != nil {
		return "", 0, fmt.Errorf("create file: %w", err)
	}

	reader := src
	if s.maxBytes > 0 {
		reader = io.LimitReader(src, s.maxBytes+1)
	}
	n, err := io.Copy(out, reader)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err == nil && s.maxBytes > 0 && n > s.maxBytes {
		err = fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, s.maxBytes)
	}
	if err != nil {
		_ = os.Remove(storedPath)
		if errors.Is(err, ErrFileTooLarge) {
			return "", 0, err
		}
		return "", 0, fmt.Errorf("write file: %w", err)
	}
	return storedPath, n, nil
}

func (s *DocumentService) GetByID(ctx context.Context, id int64) (*models.Document, error) {
	var doc models.Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, original_name, stored_path, size_bytes, uploaded_at
		FROM documents WHERE id = ?;
	`, id).Scan(
		&doc.ID,
		&doc.UserID,
		&doc.OriginalName,
		&doc.StoredPath,
		&doc.SizeBytes,
		&doc.UploadedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("load document %d: %w", id, notFound(err))
	}
	return &doc, nil
}
