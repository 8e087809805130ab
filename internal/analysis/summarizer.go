package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hearsay-labs/hearsay/internal/session"
)

// Summarizer produces the running Summary artifact. Each pass takes the
// delta of transcript entries since the previous summary plus that summary,
// and returns a full replacement.
type Summarizer struct {
	llm    LLM
	logger *slog.Logger
	now    func() time.Time
}

func NewSummarizer(llm LLM, logger *slog.Logger) *Summarizer {
	return &Summarizer{llm: llm, logger: logger, now: time.Now}
}

type summaryResponse struct {
	Summary         string   `json:"summary"`
	KeyInsights     []string `json:"key_insights"`
	KeyThemes       []string `json:"key_themes"`
	PainPoints      []string `json:"pain_points"`
	FeatureRequests []string `json:"feature_requests"`
}

// Summarize runs one summarization pass. An empty delta is a no-op that
// returns the previous summary unchanged, which makes re-triggering safe.
// total is the transcript length the new summary will have covered.
func (s *Summarizer) Summarize(ctx context.Context, goal string, delta []session.TranscriptEntry, prev *session.Summary, total int) (*session.Summary, error) {
	if len(delta) == 0 {
		return prev, nil
	}

	prevText := "(none)"
	if prev != nil && prev.Text != "" {
		prevText = prev.Text
	}
	prompt := fmt.Sprintf(summaryUserPrompt, goal, prevText, FormatTranscript(delta))

	s.logger.Info("summarizing transcript delta", "delta_entries", len(delta), "total_entries", total)

	raw, err := s.llm.Complete(ctx, summarySystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("llm summarize: %w", err)
	}

	var resp summaryResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		s.logger.Error("failed to parse summary response", "error", err, "raw", raw)
		return nil, fmt.Errorf("parse summary: %w", err)
	}
	if resp.Summary == "" {
		return nil, fmt.Errorf("summary response had no content")
	}

	return &session.Summary{
		Text:            resp.Summary,
		KeyInsights:     resp.KeyInsights,
		KeyThemes:       resp.KeyThemes,
		PainPoints:      resp.PainPoints,
		FeatureRequests: resp.FeatureRequests,
		EntriesSeen:     total,
		GeneratedAt:     s.now().UTC(),
	}, nil
}

// FormatTranscript renders entries as "[ts] speaker: text" lines for prompts.
func FormatTranscript(entries []session.TranscriptEntry) string {
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "[%s] %s: %s\n", e.Timestamp.UTC().Format(time.RFC3339), e.Speaker, e.Text)
	}
	return sb.String()
}
