package main

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"echo-study/internal/api"
	"echo-study/internal/config"
	"echo-study/internal/db"
	"echo-study/internal/llm"
	"echo-study/internal/scheduler"
	"echo-study/internal/services"
	"echo-study/internal/youtube"
)

// app holds the wired services shared by every command.
type app struct {
	cfg     config.Config
	conn    *sql.DB
	videos  *youtube.Client
	svc     api.Services
	nightly *scheduler.Nightly
}

func newApp(cfg config.Config) (*app, error) {
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	chat, openai, err := llm.New(llm.Options{
		Provider:       cfg.LLMProvider,
		OpenAIKey:      cfg.OpenAIKey,
		OpenAIEndpoint: cfg.OpenAIEndpoint,
		OpenAIModel:    cfg.OpenAIModel,
		AnthropicKey:   cfg.AnthropicKey,
		AnthropicModel: cfg.AnthropicModel,
		MaxRetries:     cfg.LLMMaxRetries,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if cfg.OpenAIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY is not set, transcription is disabled")
	}

	videos, err := youtube.New(cfg.YouTubeKey)
	if err != nil {
		conn.Close()
		return nil, err
	}

	chatModel, reasoningModel := providerModels(cfg)

	tags := services.NewTagService(conn)
	cards := services.NewFlashcardService(conn, tags)
	decks := services.NewDeckService(conn)
	profiles := services.NewProfileService(conn)
	classes := services.NewClassService(conn, chat, reasoningModel)
	quizzes := services.NewQuizService(conn, cards, chat, services.QuizOptions{
		UploadDir:       cfg.UploadDir,
		TempDir:         cfg.TempDir,
		WindowPages:     cfg.QuizWindowPages,
		RetryMultiplier: cfg.QuizRetryMultiplier,
		Model:           chatModel,
	})
	tutor := services.NewTutorService(chat, cards, profiles, reasoningModel)
	suggestions := services.NewSuggestionService(conn, chat, classes, decks, tags, quizzes, videos)
	notifications := services.NewNotificationService(conn)

	a := &app{
		cfg:    cfg,
		conn:   conn,
		videos: videos,
		svc: api.Services{
			Documents:     services.NewDocumentService(conn, cfg.UploadDir, cfg.MaxUploadBytes()),
			Quizzes:       quizzes,
			Decks:         decks,
			Cards:         cards,
			Ingestion:     services.NewIngestionService(decks, cards, chat, chatModel, cfg.OutputDir),
			Notes:         services.NewNoteService(conn, chat, cfg.QuizWindowPages),
			Classes:       classes,
			Tutor:         tutor,
			Voice:         services.NewVoiceService(services.FFmpeg{Path: cfg.FFmpegPath}, openai, tutor, cards, cfg.TempDir),
			Suggestions:   suggestions,
			Notifications: notifications,
			Profiles:      profiles,
			Videos:        videos,
		},
		nightly: scheduler.NewNightly(profiles, suggestions, notifications, cfg.NightlyConcurrency),
	}
	return a, nil
}

// providerModels returns the per-request model overrides. The Anthropic client
// always uses its configured model.
func providerModels(cfg config.Config) (chat, reasoning string) {
	if strings.EqualFold(strings.TrimSpace(cfg.LLMProvider), llm.ProviderAnthropic) {
		return "", ""
	}
	return cfg.OpenAIModel, cfg.OpenAIReasoningModel
}

func (a *app) Close() {
	a.videos.Close()
	if err := a.conn.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close database")
	}
}
