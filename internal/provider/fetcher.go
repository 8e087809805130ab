package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/hearsay-labs/hearsay/internal/normalize"
	"github.com/hearsay-labs/hearsay/internal/session"
	"github.com/hearsay-labs/hearsay/internal/transcript"
)

const (
	defaultFetchAttempts = 4
	defaultFetchDelay    = 2 * time.Second
)

// Fetcher retrieves and normalizes all messages for a resolved call id. The
// provider may not have flushed messages yet, so it retries a fixed number
// of times with a fixed delay, stopping early once anything is collected.
type Fetcher struct {
	client   *Client
	attempts int
	delay    time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewFetcher(client *Client, logger *slog.Logger) *Fetcher {
	return NewFetcherWithPolicy(client, defaultFetchAttempts, defaultFetchDelay, logger)
}

// NewFetcherWithPolicy constructs a Fetcher with an explicit retry policy.
func NewFetcherWithPolicy(client *Client, attempts int, delay time.Duration, logger *slog.Logger) *Fetcher {
	if attempts < 1 {
		attempts = 1
	}
	return &Fetcher{
		client:   client,
		attempts: attempts,
		delay:    delay,
		logger:   logger,
		now:      time.Now,
	}
}

// FetchMessages collects normalized entries for callID, deduplicating across
// attempts by the transcript signature. An empty result is not an error: the
// caller decides whether to try another candidate or fall back to the
// locally buffered transcript.
func (f *Fetcher) FetchMessages(ctx context.Context, callID string) []session.TranscriptEntry {
	seen := transcript.NewSignatureSet()
	var entries []session.TranscriptEntry
	dropped := 0

	for attempt := 1; attempt <= f.attempts; attempt++ {
		body, err := f.client.ListMessages(ctx, callID)
		if err != nil {
			f.logger.Warn("message fetch attempt failed", "call_id", callID, "attempt", attempt, "error", err)
		} else {
			raws := messageList(body)
			batch, d := normalize.Batch(raws, f.now())
			dropped += d
			entries = append(entries, seen.Filter(batch)...)
		}

		if len(entries) > 0 {
			break
		}
		if attempt == f.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return entries
		case <-time.After(f.delay):
		}
	}

	if dropped > 0 {
		f.logger.Info("dropped unusable provider messages", "call_id", callID, "dropped", dropped)
	}
	f.logger.Info("fetched call messages", "call_id", callID, "entries", len(entries))
	return entries
}

// messageList unwraps the known message-container shapes into a raw slice.
var messageContainerKeys = []string{"messages", "transcript", "items", "data", "history", "events"}

func messageList(body any) []any {
	switch t := body.(type) {
	case []any:
		return t
	case map[string]any:
		for _, key := range messageContainerKeys {
			if sub, ok := t[key].([]any); ok {
				return sub
			}
		}
	}
	return nil
}
