package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hearsay-labs/hearsay/internal/session"
)

// Profiler computes the psychometric profile once a transcript is judged
// substantively complete. Re-running it is allowed and last-write-wins.
type Profiler struct {
	llm    LLM
	logger *slog.Logger
	now    func() time.Time
}

func NewProfiler(llm LLM, logger *slog.Logger) *Profiler {
	return &Profiler{llm: llm, logger: logger, now: time.Now}
}

type profileResponse struct {
	Traits map[string]session.TraitScore `json:"traits"`
}

// Profile scores the respondent's traits from the full transcript, the
// accumulated summary and the research goal.
func (p *Profiler) Profile(ctx context.Context, goal string, entries []session.TranscriptEntry, summary *session.Summary) (*session.PsychometricProfile, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("cannot profile an empty transcript")
	}

	summaryText := "(none)"
	if summary != nil && summary.Text != "" {
		summaryText = summary.Text
	}
	prompt := fmt.Sprintf(profileUserPrompt, goal, summaryText, FormatTranscript(entries))

	p.logger.Info("profiling respondent", "entries", len(entries))

	raw, err := p.llm.Complete(ctx, profileSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("llm profile: %w", err)
	}

	var resp profileResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		p.logger.Error("failed to parse profile response", "error", err, "raw", raw)
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if len(resp.Traits) == 0 {
		return nil, fmt.Errorf("profile response had no traits")
	}

	return &session.PsychometricProfile{
		Traits:      resp.Traits,
		GeneratedAt: p.now().UTC(),
	}, nil
}
