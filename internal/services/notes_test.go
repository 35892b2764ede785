package services

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echo-study/internal/llm"
)

func TestNoteFromPDF_SummarisesPagesAndRemovesUpload(t *testing.T) {
	pinClock(t, fixedNow)
	conn := newTestDB(t)
	chat := &fakeChat{reply: func(call int, req llm.ChatRequest) (string, error) {
		return "- note " + string(rune('A'+call)), nil
	}}
	svc := NewNoteService(conn, chat, 5)
	ctx := context.Background()
	path := writeTemp(t, t.TempDir(), "9b1c", "Cell membranes\f   \fMitochondria")

	id, err := svc.FromPDF(ctx, "u1", "nb1", path, "Week 3 - Cells.txt")
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	assert.Equal(t, 2, chat.calls())
	assert.True(t, strings.HasPrefix(chat.prompt(0), "Create clear, organized notes from this lecture page:\n\nCell membranes"))
	assert.Equal(t, float32(0.4), chat.requests[0].Temperature)

	note, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Week 3 - Cells", note.Title)
	assert.Equal(t, "Summary", note.Type)
	require.Len(t, note.Pages, 3)
	assert.Equal(t, "- note A", note.Pages[0].Content)
	assert.Equal(t, "No readable content on this page.", note.Pages[1].Content)
	assert.Equal(t, "- note B", note.Pages[2].Content)
	assert.Equal(t, 3, note.Pages[2].PageNumber)

	list, err := svc.ListByNotebook(ctx, "u1", "nb1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
}

func TestNoteFromPDF_FailureStillRemovesUpload(t *testing.T) {
	conn := newTestDB(t)
	chat := &fakeChat{reply: func(int, llm.ChatRequest) (string, error) {
		return "", errors.New("provider down")
	}}
	svc := NewNoteService(conn, chat, 5)
	path := writeTemp(t, t.TempDir(), "upload.txt", "Some text")

	_, err := svc.FromPDF(context.Background(), "u1", "nb1", path, "upload.txt")
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	list, err := svc.ListByNotebook(context.Background(), "u1", "nb1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNoteFromPDF_RequiresNotebook(t *testing.T) {
	svc := NewNoteService(newTestDB(t), replying(), 5)
	path := writeTemp(t, t.TempDir(), "upload.txt", "Some text")

	_, err := svc.FromPDF(context.Background(), "u1", "", path, "upload.txt")
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestSummarizeWindows(t *testing.T) {
	chat := &fakeChat{reply: func(call int, _ llm.ChatRequest) (string, error) {
		return "- takeaway", nil
	}}
	svc := NewNoteService(newTestDB(t), chat, 2)
	path := writeTemp(t, t.TempDir(), "lecture.txt", strings.Join([]string{
		strings.Repeat("a", 80), strings.Repeat("b", 80), strings.Repeat("c", 80),
	}, "\f"))

	got, err := svc.SummarizeWindows(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"- takeaway", "- takeaway"}, got)
	assert.True(t, strings.HasPrefix(chat.prompt(0), "Summarize the following lecture slides"))
	assert.Equal(t, float32(0.3), chat.requests[1].Temperature)
}
