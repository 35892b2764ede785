package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	Port      string `envconfig:"PORT" default:"5000"`
	Database  string `envconfig:"DATABASE_PATH" default:"./data/echostudy.db"`
	UploadDir string `envconfig:"UPLOAD_DIR" default:"./uploads"`
	OutputDir string `envconfig:"OUTPUT_DIR" default:"./output"`
	TempDir   string `envconfig:"TEMP_DIR" default:"./temp"`

	OpenAIKey            string `envconfig:"OPENAI_API_KEY"`
	OpenAIEndpoint       string `envconfig:"OPENAI_API_ENDPOINT" default:"https://api.openai.com/v1"`
	OpenAIModel          string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIReasoningModel string `envconfig:"OPENAI_REASONING_MODEL" default:"gpt-4o"`
	AnthropicKey         string `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicModel       string `envconfig:"ANTHROPIC_MODEL" default:"claude-3-5-haiku-latest"`
	LLMProvider          string `envconfig:"LLM_PROVIDER" default:"openai"`
	LLMMaxRetries        int    `envconfig:"LLM_MAX_RETRIES" default:"3"`

	QuizRetryMultiplier int `envconfig:"QUIZ_RETRY_MULTIPLIER" default:"2"`
	QuizWindowPages     int `envconfig:"QUIZ_WINDOW_PAGES" default:"5"`

	YouTubeKey string `envconfig:"YOUTUBE_API_KEY"`
	FFmpegPath string `envconfig:"FFMPEG_PATH" default:"ffmpeg"`

	NightlySchedule    string `envconfig:"NIGHTLY_SCHEDULE" default:"0 0 * * *"`
	NightlyConcurrency int    `envconfig:"NIGHTLY_CONCURRENCY" default:"4"`

	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"console"`
	MaxUploadMB int64  `envconfig:"MAX_UPLOAD_MB" default:"25"`
}

// Load reads configuration from the environment (and a .env file when
// present), validates it and makes sure the working directories exist.
func Load() (Config, error) {
	// Load .env file if it exists (useful for development)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if err := cfg.ensureDirs(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and the nightly cron expression.
func (c Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.LLMProvider) {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER must be openai or anthropic, got %q", c.LLMProvider))
	}
	if strings.EqualFold(c.LLMProvider, "anthropic") && c.AnthropicKey == "" {
		errs = append(errs, errors.New("ANTHROPIC_API_KEY is required when LLM_PROVIDER=anthropic"))
	}
	if c.LLMMaxRetries < 1 {
		errs = append(errs, errors.New("LLM_MAX_RETRIES must be at least 1"))
	}
	if c.QuizRetryMultiplier < 1 {
		errs = append(errs, errors.New("QUIZ_RETRY_MULTIPLIER must be at least 1"))
	}
	if c.QuizWindowPages < 2 {
		errs = append(errs, errors.New("QUIZ_WINDOW_PAGES must be at least 2"))
	}
	if c.NightlyConcurrency < 1 {
		errs = append(errs, errors.New("NIGHTLY_CONCURRENCY must be at least 1"))
	}
	if c.MaxUploadMB < 1 {
		errs = append(errs, errors.New("MAX_UPLOAD_MB must be at least 1"))
	}
	if _, err := cron.ParseStandard(c.NightlySchedule); err != nil {
		errs = append(errs, fmt.Errorf("NIGHTLY_SCHEDULE: %w", err))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// MaxUploadBytes is MaxUploadMB in bytes.
func (c Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

func (c Config) ensureDirs() error {
	for _, dir := range []string{c.UploadDir, c.OutputDir, c.TempDir, filepath.Dir(c.Database)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to ensure dir %s: %w", dir, err)
		}
	}
	return nil
}
