package services

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"echo-study/internal/document"
	"echo-study/internal/llm"
	"echo-study/internal/models"
)

const (
	noteType        = "Summary"
	emptyPageNote   = "No readable content on this page."
	notePagePrompt  = "Create clear, organized notes from this lecture page:\n\n"
	takeawaysPrompt = "Summarize the following lecture slides into concise bullet point takeaways:\n\n"
)

// NoteService turns uploaded lectures into page-by-page study notes.
type NoteService struct {
	db          *sql.DB
	chat        llm.Chatter
	windowPages int
}

func NewNoteService(db *sql.DB, chat llm.Chatter, windowPages int) *NoteService {
	return &NoteService{db: db, chat: chat, windowPages: windowPages}
}

// FromPDF summarises every page of the upload into one note and removes the
// upload afterwards, whether or not the note was stored.
func (s *NoteService) FromPDF(ctx context.Context, userID, notebookID, path, originalName string) (int64, error) {
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to remove note upload")
		}
	}()

	if strings.TrimSpace(userID) == "" || strings.TrimSpace(notebookID) == "" {
		return 0, fmt.Errorf("%w: userId and notebookId", ErrMissingField)
	}
	if s.chat == nil {
		return 0, ErrAIUnavailable
	}

	pages, err := document.Pages(path, originalName)
	if err != nil {
		return 0, err
	}

	notes := make([]models.NotePage, 0, len(pages))
	for i, page := range pages {
		content := emptyPageNote
		if text := strings.TrimSpace(page); text != "" {
			reply, err := ask(ctx, s.chat, notePagePrompt+text, 0.4)
			if err != nil {
				return 0, fmt.Errorf("summarise page %d: %w", i+1, err)
			}
			if reply != "" {
				content = reply
			}
		}
		notes = append(notes, models.NotePage{PageNumber: i + 1, Content: content})
	}

	base := filepath.Base(originalName)
	title := strings.TrimSuffix(base, filepath.Ext(base))
	id, err := s.save(ctx, userID, notebookID, title, notes)
	if err != nil {
		return 0, err
	}
	log.Info().Int64("note_id", id).Int("pages", len(notes)).Msg("note generated")
	return id, nil
}

func (s *NoteService) save(ctx context.Context, userID, notebookID, title string, pages []models.NotePage) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var res sql.Result
	res, err = tx.ExecContext(ctx, `
		INSERT INTO notes (user_id, notebook_id, title, type, created_at)
		VALUES (?, ?, ?, ?, ?);
	`, userID, notebookID, title, noteType, now())
	if err != nil {
		return 0, fmt.Errorf("insert note: %w", err)
	}
	var id int64
	if id, err = res.LastInsertId(); err != nil {
		return 0, fmt.Errorf("note id: %w", err)
	}

	for _, p := range pages {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO note_pages (note_id, page_number, content) VALUES (?, ?, ?);
		`, id, p.PageNumber, p.Content); err != nil {
			return 0, fmt.Errorf("insert note page %d: %w", p.PageNumber, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit note: %w", err)
	}
	return id, nil
}

// Get returns a note with its pages.
func (s *NoteService) Get(ctx context.Context, id int64) (*models.Note, error) {
	var n models.Note
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, notebook_id, title, type, created_at FROM notes WHERE id = ?;
	`, id).Scan(&n.ID, &n.UserID, &n.NotebookID, &n.Title, &n.Type, &n.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("load note %d: %w", id, notFound(err))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT page_number, content FROM note_pages WHERE note_id = ? ORDER BY page_number ASC;
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list note pages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p models.NotePage
		if err := rows.Scan(&p.PageNumber, &p.Content); err != nil {
			return nil, fmt.Errorf("scan note page: %w", err)
		}
		n.Pages = append(n.Pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate note pages: %w", err)
	}
	return &n, nil
}

// ListByNotebook returns the notes of a notebook, newest first, without pages.
func (s *NoteService) ListByNotebook(ctx context.Context, userID, notebookID string) ([]models.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, notebook_id, title, type, created_at
		FROM notes WHERE user_id = ? AND notebook_id = ?
		ORDER BY created_at DESC, id DESC;
	`, userID, notebookID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	out := []models.Note{}
	for rows.Next() {
		var n models.Note
		if err := rows.Scan(&n.ID, &n.UserID, &n.NotebookID, &n.Title, &n.Type, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return out, nil
}

// SummarizeWindows returns bullet point takeaways for each window of the
// document.
func (s *NoteService) SummarizeWindows(ctx context.Context, path string) ([]string, error) {
	if s.chat == nil {
		return nil, ErrAIUnavailable
	}
	pages, err := document.Pages(path, path)
	if err != nil {
		return nil, err
	}

	windows := document.Windows(pages, s.windowPages)
	summaries := make([]string, 0, len(windows))
	for i, w := range windows {
		reply, err := ask(ctx, s.chat, takeawaysPrompt+w, 0.3)
		if err != nil {
			return nil, fmt.Errorf("summarise window %d: %w", i+1, err)
		}
		summaries = append(summaries, reply)
	}
	return summaries, nil
}
