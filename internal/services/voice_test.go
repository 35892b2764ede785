package services

import (
	"context"
	"errors"
	"os"
	"testing"

	fsrs "github.com/open-spaced-repetition/go-fsrs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echo-study/internal/models"
)

// fakeConverter writes size bytes to the output path.
type fakeConverter struct {
	size int
	err  error
}

func (f fakeConverter) Convert(_ context.Context, _, out string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(out, make([]byte, f.size), 0o644)
}

type fakeTranscriber struct {
	text  string
	err   error
	paths []string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	f.paths = append(f.paths, path)
	return f.text, f.err
}

func TestTranscribe(t *testing.T) {
	tests := []struct {
		name      string
		converter fakeConverter
		text      string
		err       error
		want      string
		calls     int
	}{
		{name: "speech", converter: fakeConverter{size: 4096}, text: "  mitochondria  ", want: "mitochondria", calls: 1},
		{name: "tiny file is silence", converter: fakeConverter{size: 200}, want: NoSpeechDetected},
		{name: "empty transcript", converter: fakeConverter{size: 4096}, text: " ", want: NoSpeechDetected, calls: 1},
		{name: "converter failure", converter: fakeConverter{err: errors.New("bad codec")}, want: TranscriptionFailed},
		{name: "provider failure", converter: fakeConverter{size: 4096}, err: errors.New("503"), want: TranscriptionFailed, calls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmp := t.TempDir()
			tr := &fakeTranscriber{text: tt.text, err: tt.err}
			svc := NewVoiceService(tt.converter, tr, nil, nil, tmp)
			in := writeTemp(t, t.TempDir(), "answer.webm", "raw")

			assert.Equal(t, tt.want, svc.Transcribe(context.Background(), in))
			assert.Len(t, tr.paths, tt.calls)

			leftovers, err := os.ReadDir(tmp)
			require.NoError(t, err)
			assert.Empty(t, leftovers, "converted audio should be removed")
		})
	}
}

func TestTranscribe_WithoutProvider(t *testing.T) {
	svc := NewVoiceService(fakeConverter{size: 4096}, nil, nil, nil, t.TempDir())
	assert.Equal(t, TranscriptionFailed, svc.Transcribe(context.Background(), "answer.webm"))
}

func TestQualityRating(t *testing.T) {
	assert.Equal(t, fsrs.Good, QualityRating(5))
	assert.Equal(t, fsrs.Hard, QualityRating(3))
	assert.Equal(t, fsrs.Again, QualityRating(2))
	assert.Equal(t, fsrs.Again, QualityRating(0))
}

func TestVoiceCheck_RecordsReview(t *testing.T) {
	pinClock(t, fixedNow)
	chat := replying(`{"correctness": "correct", "quality": 5, "explanation": ""}`)
	tutor, cards, _, decks := newTutorFixture(t, chat)
	card := seedCard(t, decks, cards, "u1", 0, models.CardDraft{Term: "Hexokinase", Definition: "First enzyme of glycolysis"})

	svc := NewVoiceService(fakeConverter{size: 2048}, &fakeTranscriber{text: "the first enzyme of glycolysis"}, tutor, cards, t.TempDir())
	audio := writeTemp(t, t.TempDir(), "answer.webm", "raw")

	res, err := svc.Check(context.Background(), card.Term, card.Definition, audio, card.ID)
	require.NoError(t, err)
	assert.Equal(t, "the first enzyme of glycolysis", res.Transcript)
	assert.Equal(t, "correct", res.Evaluation.Correctness)
	assert.Equal(t, "Response evaluated.", res.Evaluation.Explanation)
	require.NotNil(t, res.Card)
	assert.Equal(t, 1, res.Card.Reps)
	assert.Contains(t, chat.prompt(0), "User's Answer: the first enzyme of glycolysis")

	_, statErr := os.Stat(audio)
	assert.True(t, os.IsNotExist(statErr))
}

func TestVoiceCheck_WithoutCardOnlyEvaluates(t *testing.T) {
	chat := replying("not json at all")
	tutor := NewTutorService(chat, nil, nil, "")
	svc := NewVoiceService(fakeConverter{size: 10}, &fakeTranscriber{}, tutor, nil, t.TempDir())
	audio := writeTemp(t, t.TempDir(), "answer.webm", "raw")

	res, err := svc.Check(context.Background(), "Term", "Definition", audio, 0)
	require.NoError(t, err)
	assert.Equal(t, NoSpeechDetected, res.Transcript)
	assert.Equal(t, fallbackEvaluation, res.Evaluation)
	assert.Nil(t, res.Card)
}

func TestVoiceCheck_RequiresTermAndDefinition(t *testing.T) {
	svc := NewVoiceService(fakeConverter{}, nil, nil, nil, t.TempDir())
	audio := writeTemp(t, t.TempDir(), "answer.webm", "raw")

	_, err := svc.Check(context.Background(), "", "Definition", audio, 0)
	assert.ErrorIs(t, err, ErrMissingField)

	_, statErr := os.Stat(audio)
	assert.True(t, os.IsNotExist(statErr))
}
