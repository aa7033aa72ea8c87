package session

import (
	"context"

	"go.uber.org/zap"

	"tapcanvas/internal/config"
	"tapcanvas/internal/prompt"
	"tapcanvas/internal/types"
)

// Summarizer compresses old conversation turns into a rolling summary so
// prompts stay bounded on long threads.
type Summarizer struct {
	client types.LLMClient
	cfg    config.Summarizer
	logger *zap.Logger
}

// NewSummarizer builds a summarizer. client may be nil, in which case
// Maybe always keeps the previous summary.
func NewSummarizer(client types.LLMClient, cfg config.Summarizer, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{client: client, cfg: cfg, logger: logger}
}

// ShouldCompress decides whether this turn needs a summary refresh: the
// rendered history crossed the size trigger, or the thread got long without
// any summary yet.
func (s *Summarizer) ShouldCompress(messages []types.Message, previousSummary string) bool {
	if len(messages) <= s.cfg.TailKeep {
		return false
	}
	rendered := FormatMessages(messages)
	if len(rendered) >= s.cfg.TriggerChars {
		return true
	}
	return previousSummary == "" && len(messages) >= s.cfg.FirstSummaryMinMessages
}

// Maybe refreshes the summary when needed. It never fails: any model error
// keeps the previous summary so the turn proceeds.
func (s *Summarizer) Maybe(ctx context.Context, messages []types.Message, previousSummary, canvasContext string) string {
	if !s.ShouldCompress(messages, previousSummary) {
		return previousSummary
	}
	if s.client == nil {
		return previousSummary
	}

	older := messages[:len(messages)-s.cfg.TailKeep]
	recent := messages[len(messages)-s.cfg.TailKeep:]

	p := prompt.Summarizer(prompt.SummarizerParams{
		CanvasContext:   canvasContext,
		PreviousSummary: previousSummary,
		OlderMessages:   FormatMessages(older),
		RecentTurns:     FormatMessages(recent),
	})

	out, err := s.client.Complete(ctx, p)
	if err != nil {
		s.logger.Warn("summary refresh failed, keeping previous", zap.Error(err))
		return previousSummary
	}
	if out == "" {
		return previousSummary
	}
	if r := []rune(out); len(r) > s.cfg.MaxChars {
		out = string(r[:s.cfg.MaxChars])
	}
	return out
}
