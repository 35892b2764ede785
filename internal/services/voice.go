package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	fsrs "github.com/open-spaced-repetition/go-fsrs"
	"github.com/rs/zerolog/log"

	"echo-study/internal/llm"
	"echo-study/internal/models"
)

const (
	NoSpeechDetected    = "[No speech detected]"
	TranscriptionFailed = "[Transcription failed]"

	minAudioBytes = 1000
	maxAudioBytes = 25 << 20
)

// ErrAudioTooLarge is returned for converted audio above the Whisper limit.
var ErrAudioTooLarge = errors.New("audio file is too large")

// AudioConverter re-encodes a recording into a Whisper friendly file.
type AudioConverter interface {
	Convert(ctx context.Context, in, out string) error
}

// FFmpeg converts audio to 16 kHz mp3 with the ffmpeg binary.
type FFmpeg struct {
	Path string
}

func (f FFmpeg) Convert(ctx context.Context, in, out string) error {
	bin := f.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, "-y", "-loglevel", "error", "-i", in, "-ar", "16000", "-f", "mp3", out)
	log.Debug().Str("cmd", cmd.String()).Msg("ffmpeg started")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// VoiceResult is the outcome of a spoken answer check.
type VoiceResult struct {
	Transcript string       `json:"transcript"`
	Evaluation Evaluation   `json:"evaluation"`
	Card       *models.Card `json:"card,omitempty"`
}

// VoiceService checks spoken flashcard answers.
type VoiceService struct {
	converter   AudioConverter
	transcriber llm.Transcriber
	tutor       *TutorService
	cards       *FlashcardService
	tempDir     string
}

func NewVoiceService(converter AudioConverter, transcriber llm.Transcriber, tutor *TutorService, cards *FlashcardService, tempDir string) *VoiceService {
	return &VoiceService{
		converter:   converter,
		transcriber: transcriber,
		tutor:       tutor,
		cards:       cards,
		tempDir:     tempDir,
	}
}

// Transcribe converts and transcribes a recording. It never fails: silence
// and errors are reported through the placeholder transcripts.
func (s *VoiceService) Transcribe(ctx context.Context, path string) string {
	text, err := s.transcribe(ctx, path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("transcription failed")
		return TranscriptionFailed
	}
	return text
}

func (s *VoiceService) transcribe(ctx context.Context, path string) (string, error) {
	if s.transcriber == nil {
		return "", ErrAIUnavailable
	}
	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure temp dir: %w", err)
	}
	base := filepath.Base(path)
	out := filepath.Join(s.tempDir, strings.TrimSuffix(base, filepath.Ext(base))+"_converted.mp3")
	defer func() {
		if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", out).Msg("failed to remove converted audio")
		}
	}()

	if err := s.converter.Convert(ctx, path, out); err != nil {
		return "", err
	}
	info, err := os.Stat(out)
	if err != nil {
		return "", fmt.Errorf("stat converted audio: %w", err)
	}
	log.Debug().Int64("bytes", info.Size()).Msg("audio converted")

	if info.Size() < minAudioBytes {
		return NoSpeechDetected, nil
	}
	if info.Size() > maxAudioBytes {
		return "", fmt.Errorf("%w (%.2f MB)", ErrAudioTooLarge, float64(info.Size())/(1<<20))
	}

	text, err := s.transcriber.Transcribe(ctx, out)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return NoSpeechDetected, nil
	}
	return strings.TrimSpace(text), nil
}

// QualityRating maps an evaluation quality onto an FSRS rating.
func QualityRating(quality int) fsrs.Rating {
	switch quality {
	case 5:
		return fsrs.Good
	case 3:
		return fsrs.Hard
	default:
		return fsrs.Again
	}
}

// Check transcribes and grades a spoken answer, then removes the upload.
// With a card ID the verdict is also recorded as a review of that card.
func (s *VoiceService) Check(ctx context.Context, term, definition, audioPath string, cardID int64) (*VoiceResult, error) {
	defer func() {
		if err := os.Remove(audioPath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", audioPath).Msg("failed to remove audio upload")
		}
	}()

	if strings.TrimSpace(term) == "" || strings.TrimSpace(definition) == "" {
		return nil, fmt.Errorf("%w: term and definition", ErrMissingField)
	}

	transcript := s.Transcribe(ctx, audioPath)
	eval, err := s.tutor.EvaluateAnswer(ctx, term, definition, transcript)
	if err != nil {
		return nil, fmt.Errorf("evaluate answer: %w", err)
	}
	if eval.Explanation == "" {
		eval.Explanation = "Response evaluated."
	}

	res := &VoiceResult{Transcript: transcript, Evaluation: eval}
	if cardID > 0 {
		card, _, err := s.cards.ReviewCard(ctx, cardID, QualityRating(eval.Quality))
		if err != nil {
			return nil, fmt.Errorf("record voice review: %w", err)
		}
		res.Card = card
	}
	return res, nil
}
