package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"echo-study/internal/models"
	"echo-study/internal/services"
)

const (
	jobName           = "nightly-suggestions"
	notificationTitle = "New AI Study Suggestions Ready"
)

type ProfileLister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

type Suggester interface {
	ClearToday(ctx context.Context, userID string) (int64, error)
	Generate(ctx context.Context, userID, screen string, classID int64) ([]models.Suggestion, error)
}

type Notifier interface {
	Create(ctx context.Context, n models.Notification) (*models.Notification, error)
}

// Nightly regenerates every user's suggestions and announces each context
// that produced one.
type Nightly struct {
	profiles      ProfileLister
	suggestions   Suggester
	notifications Notifier
	concurrency   int
}

func NewNightly(profiles ProfileLister, suggestions Suggester, notifications Notifier, concurrency int) *Nightly {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Nightly{
		profiles:      profiles,
		suggestions:   suggestions,
		notifications: notifications,
		concurrency:   concurrency,
	}
}

// Report summarises one nightly run.
type Report struct {
	Users         int   `json:"users"`
	Suggestions   int64 `json:"suggestions"`
	Notifications int64 `json:"notifications"`
	Failures      int64 `json:"failures"`
}

// Run processes every profile. Failures for a single user or context are
// logged and counted; only failing to list the profiles is an error.
func (n *Nightly) Run(ctx context.Context) (Report, error) {
	ids, err := n.profiles.ListIDs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list profiles: %w", err)
	}

	var suggestions, notifications, failures atomic.Int64
	p := pool.New().WithMaxGoroutines(n.concurrency)
	for _, userID := range ids {
		p.Go(func() {
			s, sent, failed := n.runUser(ctx, userID)
			suggestions.Add(s)
			notifications.Add(sent)
			failures.Add(failed)
		})
	}
	p.Wait()

	report := Report{
		Users:         len(ids),
		Suggestions:   suggestions.Load(),
		Notifications: notifications.Load(),
		Failures:      failures.Load(),
	}
	log.Info().
		Int("users", report.Users).
		Int64("suggestions", report.Suggestions).
		Int64("notifications", report.Notifications).
		Int64("failures", report.Failures).
		Msg("nightly suggestions finished")
	return report, nil
}

func (n *Nightly) runUser(ctx context.Context, userID string) (suggestions, sent, failures int64) {
	if _, err := n.suggestions.ClearToday(ctx, userID); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to clear suggestions")
		return 0, 0, 1
	}

	for _, screen := range services.Contexts {
		if ctx.Err() != nil {
			return suggestions, sent, failures
		}
		items, err := n.suggestions.Generate(ctx, userID, screen, 0)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Str("context", screen).Msg("failed to generate suggestions")
			failures++
			continue
		}
		suggestions += int64(len(items))
		if len(items) == 0 {
			continue
		}

		top := items[0]
		if _, err := n.notifications.Create(ctx, models.Notification{
			UserID:   userID,
			Title:    notificationTitle,
			Body:     top.Text,
			Context:  screen,
			Metadata: top.Metadata,
			Link:     "/screen/" + screen,
		}); err != nil {
			log.Error().Err(err).Str("user_id", userID).Str("context", screen).Msg("failed to create notification")
			failures++
			continue
		}
		sent++
	}
	return suggestions, sent, failures
}

// Start schedules Run on the cron spec and blocks until ctx is done.
func (n *Nightly) Start(ctx context.Context, spec string) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.CronJob(spec, false),
		gocron.NewTask(func() {
			if _, err := n.Run(ctx); err != nil {
				log.Error().Err(err).Msg("nightly suggestions failed")
			}
		}),
		gocron.WithName(jobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to create job: %w", err)
	}

	log.Info().Str("schedule", spec).Msg("nightly scheduler started")
	s.Start()

	<-ctx.Done()

	if err := s.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}
	return nil
}
