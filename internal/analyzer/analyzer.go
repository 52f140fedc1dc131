package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bdougie/medai/internal/extractor"
	"github.com/bdougie/medai/internal/gateway"
)

// ProgressFunc receives the completed fraction of a multi-step analysis. It
// is called synchronously between steps.
type ProgressFunc func(fraction float64)

// Analyzer runs the modality-specific tasks against one gateway client
type Analyzer struct {
	client  gateway.Client
	sampler *extractor.Sampler
	frames  int
	logger  *slog.Logger
}

// Option customises an Analyzer
type Option func(*Analyzer)

// WithFrameCount sets how many frames posture analysis samples
func WithFrameCount(n int) Option {
	return func(a *Analyzer) { a.frames = n }
}

// New builds an Analyzer. The sampler is only used for posture analysis.
func New(client gateway.Client, sampler *extractor.Sampler, logger *slog.Logger, opts ...Option) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Analyzer{
		client:  client,
		sampler: sampler,
		frames:  extractor.DefaultFrameCount,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ReadPrescription extracts the readable text of a prescription image
func (a *Analyzer) ReadPrescription(ctx context.Context, imagePath string) (string, error) {
	p, err := gateway.PayloadFromFile(imagePath, gateway.DefaultImageMIME)
	if err != nil {
		return "", a.failed(TaskPrescription, err)
	}
	result, err := a.client.AnalyzeImage(ctx, p, prescriptionPrompt)
	if err != nil {
		return "", a.failed(TaskPrescription, err)
	}
	return result, nil
}

// TranscribeAudio returns a verbatim transcript of an audio file
func (a *Analyzer) TranscribeAudio(ctx context.Context, audioPath string) (string, error) {
	p, err := gateway.PayloadFromFile(audioPath, gateway.DefaultAudioMIME)
	if err != nil {
		return "", a.failed(TaskTranscription, err)
	}
	result, err := a.client.AnalyzeAudio(ctx, p, transcriptionPrompt)
	if err != nil {
		return "", a.failed(TaskTranscription, err)
	}
	return result, nil
}

// GenerateNotes turns a transcript into structured, non-diagnostic visit notes
func (a *Analyzer) GenerateNotes(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", a.failed(TaskNotes, ErrEmptyInput)
	}
	result, err := a.client.AskText(ctx, fmt.Sprintf(notesPrompt, transcript))
	if err != nil {
		return "", a.failed(TaskNotes, err)
	}
	return result, nil
}

// AudioNotes transcribes audioPath and then summarises the transcript. The
// transcript is returned even when note generation fails.
func (a *Analyzer) AudioNotes(ctx context.Context, audioPath string) (transcript, notes string, err error) {
	a.logger.Info("transcribing", "audio", audioPath)
	transcript, err = a.TranscribeAudio(ctx, audioPath)
	if err != nil {
		return "", "", err
	}
	a.logger.Info("summarizing notes", "audio", audioPath)
	notes, err = a.GenerateNotes(ctx, transcript)
	if err != nil {
		return transcript, "", err
	}
	return transcript, notes, nil
}

// Chat answers a general health question without diagnosing
func (a *Analyzer) Chat(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", a.failed(TaskChat, ErrEmptyInput)
	}
	result, err := a.client.AskText(ctx, fmt.Sprintf(chatPrompt, question))
	if err != nil {
		return "", a.failed(TaskChat, err)
	}
	return result, nil
}

func (a *Analyzer) failed(task Task, err error) error {
	te := fail(task, err)
	a.logger.Error("analysis failed", "task", task, "kind", te.Kind, "error", err)
	return te
}
