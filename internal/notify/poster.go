package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hearsay-labs/hearsay/internal/session"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// Poster posts a completion digest to Slack when an interview finishes with
// derived artifacts. Optional; the pipeline runs without it.
type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostCompletionDigest posts a summary of the completed session.
func (p *Poster) PostCompletionDigest(ctx context.Context, s *session.InterviewSession) error {
	text := formatDigest(s)

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return fmt.Errorf("slack error: %s", slackResp.Error)
	}

	p.logger.Info("posted completion digest to slack", "session_id", s.ID)
	return nil
}

func formatDigest(s *session.InterviewSession) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*Interview completed:* %s\n", s.ID)
	fmt.Fprintf(&sb, "*Goal:* %s\n", s.Goal)
	fmt.Fprintf(&sb, "*Transcript:* %d turns\n\n", len(s.Transcript))

	if s.HasSummary() {
		fmt.Fprintf(&sb, "*Summary:* %s\n", s.Summary.Text)
		if len(s.Summary.KeyInsights) > 0 {
			fmt.Fprintf(&sb, "*Insights:*\n")
			for i, ins := range s.Summary.KeyInsights {
				fmt.Fprintf(&sb, "%d. %s\n", i+1, ins)
			}
		}
		if len(s.Summary.KeyThemes) > 0 {
			fmt.Fprintf(&sb, "*Themes:* %s\n", strings.Join(s.Summary.KeyThemes, ", "))
		}
		sb.WriteString("\n")
	}

	if s.HasProfile() {
		fmt.Fprintf(&sb, "*Profile:* %d traits scored\n", len(s.Profile.Traits))
	} else {
		sb.WriteString("_No psychometric profile yet._\n")
	}

	return sb.String()
}
