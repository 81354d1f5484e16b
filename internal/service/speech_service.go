package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/digkill/TGSpeechBot/internal/metrics"
	"github.com/digkill/TGSpeechBot/internal/models"
)

const transcribePrompt = "Transcribe this audio accurately and produce readable, well-punctuated text without adding extra explanations or summaries"

// ModelClient performs the actual upstream generation calls.
type ModelClient interface {
	TranscribeFile(ctx context.Context, apiKey, model, path, mimeType, prompt string) (string, error)
	GenerateText(ctx context.Context, apiKey, model, prompt string) (string, error)
}

// SpeechService turns media into text and text into summaries. Every call
// takes exactly one step of the user's model rotation.
type SpeechService struct {
	client  ModelClient
	tracker *RotationTracker
	timeout time.Duration
	log     *slog.Logger
}

func NewSpeechService(client ModelClient, tracker *RotationTracker, timeout time.Duration, log *slog.Logger) *SpeechService {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &SpeechService{
		client:  client,
		tracker: tracker,
		timeout: timeout,
		log:     log,
	}
}

func (s *SpeechService) Transcribe(ctx context.Context, userID int64, apiKey, path, mimeType string) (string, error) {
	if apiKey == "" {
		return "", ErrNoAPIKey
	}
	tier, model := s.tracker.NextModel(userID)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	text, err := s.client.TranscribeFile(ctx, apiKey, model, path, mimeType, transcribePrompt)
	metrics.ModelLatency.WithLabelValues("transcribe", string(tier)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ModelCalls.WithLabelValues("transcribe", string(tier), metrics.OutcomeError).Inc()
		s.log.Error("transcribe", "user_id", userID, "model", model, "err", err)
		return "", &UpstreamError{Label: "Transcript", Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.ModelCalls.WithLabelValues("transcribe", string(tier), metrics.OutcomeEmpty).Inc()
		return "", ErrEmptyTranscript
	}
	metrics.ModelCalls.WithLabelValues("transcribe", string(tier), metrics.OutcomeOK).Inc()
	s.log.Info("transcribed", "user_id", userID, "model", model, "chars", len([]rune(text)))
	return text, nil
}

func (s *SpeechService) Summarize(ctx context.Context, userID int64, apiKey, text string, style models.SummaryStyle) (string, error) {
	if apiKey == "" {
		return "", ErrNoAPIKey
	}
	tier, model := s.tracker.NextModel(userID)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	label := SummaryLabel(style)
	prompt := style.Instruction() + "\n\n" + text
	start := time.Now()
	out, err := s.client.GenerateText(ctx, apiKey, model, prompt)
	metrics.ModelLatency.WithLabelValues("summarize", string(tier)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ModelCalls.WithLabelValues("summarize", string(tier), metrics.OutcomeError).Inc()
		s.log.Error("summarize", "user_id", userID, "model", model, "style", style, "err", err)
		return "", &UpstreamError{Label: label, Err: err}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		metrics.ModelCalls.WithLabelValues("summarize", string(tier), metrics.OutcomeEmpty).Inc()
		return "", &UpstreamError{Label: label, Err: errors.New("empty response")}
	}
	metrics.ModelCalls.WithLabelValues("summarize", string(tier), metrics.OutcomeOK).Inc()
	return out, nil
}

// SummaryLabel is the delivery label for a summary of the given style.
func SummaryLabel(style models.SummaryStyle) string {
	return "Summarize (" + string(style) + ")"
}
