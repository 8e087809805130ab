package pipeline

import (
	"context"
	"time"

	"github.com/hearsay-labs/hearsay/internal/events"
	"github.com/hearsay-labs/hearsay/internal/metrics"
	"github.com/hearsay-labs/hearsay/internal/provider"
	"github.com/hearsay-labs/hearsay/internal/session"
	"github.com/hearsay-labs/hearsay/internal/transcript"
)

// DefaultPollInterval is the live-poll cadence.
const DefaultPollInterval = 2 * time.Second

// StreamTranscript is the client-driven polling loop. It resolves the call
// once, then polls the provider on a fixed interval, feeding genuinely new
// messages through the merger and onDelta until ctx is cancelled. The
// signature set suppressing repeats lives for the lifetime of this loop.
func (p *Pipeline) StreamTranscript(ctx context.Context, sessionID string, interval time.Duration, onDelta func([]session.TranscriptEntry)) error {
	if sessionID == "" {
		return ErrMissingSessionID
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	s, err := p.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	res := p.provider.ResolveCall(ctx, provider.Hints{
		SessionID:    sessionID,
		StoredCallID: s.CallID,
		AgentID:      s.AgentID,
	})
	if res.ResolvedID == "" {
		p.logger.Warn("poll loop could not resolve a call, idling", "session_id", sessionID)
	}

	seen := transcript.NewSignatureSet()
	for _, e := range s.Transcript {
		seen.Add(e)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if res.ResolvedID == "" {
			continue
		}

		batch := p.fetcher.FetchMessages(ctx, res.ResolvedID)
		fresh := seen.Filter(batch)
		if len(fresh) == 0 {
			continue
		}

		p.appendFromPoll(ctx, sessionID, res.ResolvedID, fresh)
		if onDelta != nil {
			onDelta(fresh)
		}
	}
}

// appendFromPoll merges poll deltas into the session under its lock. Writes
// are submitted without awaiting: the poll loop must not stall on a slow
// store.
func (p *Pipeline) appendFromPoll(ctx context.Context, sessionID, callID string, fresh []session.TranscriptEntry) {
	lock := p.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s, err := p.store.Get(ctx, sessionID)
	if err != nil {
		p.logger.Error("poll append: session reload failed", "session_id", sessionID, "error", err)
		return
	}

	merged := transcript.Merge(s.Transcript, fresh, p.now())
	if len(merged.Delta) == 0 {
		return
	}
	metrics.MergeDeltaEntries.Add(float64(len(merged.Delta)))

	s.Transcript = merged.Canonical
	if s.CallID == "" {
		s.CallID = callID
	}
	if s.StartedAt == nil {
		t := p.now().UTC()
		s.StartedAt = &t
	}
	s.Status = session.Advance(s.Status, session.DeriveStatus(s))

	p.store.SaveAsync(s)
	p.publish(events.SubjectTranscriptUpdated, s, len(merged.Delta))

	go p.summarizeLocked(context.WithoutCancel(ctx), sessionID)
}
