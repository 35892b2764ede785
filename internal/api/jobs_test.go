package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echo-study/internal/services"
)

func TestJobManagerLifecycle(t *testing.T) {
	m := NewJobManager()
	job := m.Create(7, "lecture.pdf")
	require.NotEmpty(t, job.ID)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, int64(7), job.DeckID)

	m.MarkProcessing(job.ID)
	progress := m.Progress(job.ID)
	progress("cards", "Page 1 complete with 3 cards", 1, 4)

	got, ok := m.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobStatusProcessing, got.Status)
	assert.Equal(t, "cards", got.Step)
	assert.Equal(t, 25, got.Percent)

	result := &services.DeckGenerationResult{Filename: "lecture.csv", TotalCards: 9, Tags: []string{"Cells"}}
	m.MarkComplete(job.ID, result)
	result.Tags[0] = "mutated"

	got, ok = m.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobStatusComplete, got.Status)
	assert.Equal(t, 100, got.Percent)
	require.NotNil(t, got.Result)
	assert.Equal(t, 9, got.Result.TotalCards)

	got.Result.Tags[0] = "changed by caller"
	again, _ := m.Get(job.ID)
	assert.NotEqual(t, "changed by caller", again.Result.Tags[0])
}

func TestJobManagerMarkFailed(t *testing.T) {
	m := NewJobManager()
	job := m.Create(1, "a.pdf")

	m.MarkFailed(job.ID, "  ")
	got, ok := m.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, "processing error", got.Error)

	_, ok = m.Get("missing")
	assert.False(t, ok)
	m.MarkFailed("missing", "ignored")
}

func TestPercent(t *testing.T) {
	tests := []struct {
		current, total, want int
	}{
		{0, 0, 0},
		{40, 0, 40},
		{150, 0, 100},
		{0, 10, 0},
		{3, 10, 30},
		{10, 10, 100},
		{12, 10, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, percent(tt.current, tt.total), "percent(%d, %d)", tt.current, tt.total)
	}
}
