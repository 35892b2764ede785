package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echo-study/internal/models"
	"echo-study/internal/services"
)

type fakeProfiles struct {
	ids []string
	err error
}

func (f fakeProfiles) ListIDs(context.Context) ([]string, error) { return f.ids, f.err }

type fakeSuggester struct {
	mu      sync.Mutex
	cleared []string
	calls   map[string][]string
	items   func(userID, screen string) ([]models.Suggestion, error)
}

func (f *fakeSuggester) ClearToday(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, userID)
	if userID == "broken" {
		return 0, errors.New("database is locked")
	}
	return 2, nil
}

func (f *fakeSuggester) Generate(_ context.Context, userID, screen string, classID int64) ([]models.Suggestion, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string][]string{}
	}
	f.calls[userID] = append(f.calls[userID], screen)
	f.mu.Unlock()
	return f.items(userID, screen)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (f *fakeNotifier) Create(_ context.Context, n models.Notification) (*models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return &n, nil
}

func TestNightlyRun(t *testing.T) {
	suggester := &fakeSuggester{items: func(userID, screen string) ([]models.Suggestion, error) {
		switch {
		case screen == services.ContextQuiz && userID == "u2":
			return nil, errors.New("provider down")
		case screen == services.ContextDashboard:
			return []models.Suggestion{
				{Type: "daily_plan", Text: "Start Lab 2", Metadata: map[string]any{"assignment_id": 7}},
				{Type: "motivation", Text: "You've got this."},
			}, nil
		case screen == services.ContextFlashcard:
			return []models.Suggestion{{Type: "deck_due", Text: "Review Bio"}}, nil
		default:
			return []models.Suggestion{}, nil
		}
	}}
	notifier := &fakeNotifier{}
	job := NewNightly(fakeProfiles{ids: []string{"u1", "u2", "broken"}}, suggester, notifier, 2)

	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Users: 3, Suggestions: 6, Notifications: 4, Failures: 2}, report)

	assert.ElementsMatch(t, []string{"u1", "u2", "broken"}, suggester.cleared)
	assert.Equal(t, services.Contexts, suggester.calls["u1"])
	assert.NotContains(t, suggester.calls, "broken")

	sort.Slice(notifier.sent, func(i, j int) bool {
		a, b := notifier.sent[i], notifier.sent[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return a.Context < b.Context
	})
	require.Len(t, notifier.sent, 4)
	first := notifier.sent[0]
	assert.Equal(t, "u1", first.UserID)
	assert.Equal(t, "New AI Study Suggestions Ready", first.Title)
	assert.Equal(t, "Start Lab 2", first.Body)
	assert.Equal(t, services.ContextDashboard, first.Context)
	assert.Equal(t, "/screen/dashboard", first.Link)
	assert.Equal(t, 7, first.Metadata["assignment_id"])
	assert.Equal(t, "/screen/flashcard", notifier.sent[1].Link)
}

func TestNightlyRun_ProfileListFailure(t *testing.T) {
	job := NewNightly(fakeProfiles{err: errors.New("no such table")}, &fakeSuggester{}, &fakeNotifier{}, 0)
	_, err := job.Run(context.Background())
	assert.Error(t, err)
}

func TestNightlyStart_RejectsBadSchedule(t *testing.T) {
	job := NewNightly(fakeProfiles{}, &fakeSuggester{}, &fakeNotifier{}, 1)
	err := job.Start(context.Background(), "every night")
	assert.Error(t, err)
}

func TestNightlyStart_StopsWithContext(t *testing.T) {
	job := NewNightly(fakeProfiles{}, &fakeSuggester{}, &fakeNotifier{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, job.Start(ctx, "0 0 * * *"))
}
