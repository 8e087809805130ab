package pipeline

import (
	"context"

	"github.com/hearsay-labs/hearsay/internal/events"
	"github.com/hearsay-labs/hearsay/internal/metrics"
	"github.com/hearsay-labs/hearsay/internal/provider"
	"github.com/hearsay-labs/hearsay/internal/session"
	"github.com/hearsay-labs/hearsay/internal/transcript"
)

// CompleteSession is the explicit completion entry point: resolve the
// provider call, export its transcript, then run summarization and profiling
// synchronously, since the caller wants a definite result. Expected degraded
// conditions (provider not flushed, nothing resolvable) produce outcomes,
// not errors; the session is never harmed by a failed export.
func (p *Pipeline) CompleteSession(ctx context.Context, sessionID string) (*Result, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}
	lock := p.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s, err := p.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	res := p.provider.ResolveCall(ctx, provider.Hints{
		SessionID:    sessionID,
		StoredCallID: s.CallID,
		AgentID:      s.AgentID,
	})

	outcome := OutcomeOK
	fetched := p.fetchWithFallbacks(ctx, &res)

	newEntries := 0
	switch {
	case len(fetched) > 0:
		merged := transcript.Merge(s.Transcript, fetched, p.now())
		metrics.MergeDeltaEntries.Add(float64(len(merged.Delta)))
		s.Transcript = merged.Canonical
		newEntries = len(merged.Delta)
	case len(s.Transcript) > 0:
		// Degraded fallback: the locally buffered client transcript is
		// lower confidence but better than nothing.
		p.logger.Warn("provider export empty, using locally buffered transcript",
			"session_id", sessionID, "buffered_entries", len(s.Transcript))
		metrics.DegradedFallbacks.Inc()
		outcome = OutcomeLocalBuffer
	default:
		if res.ResolvedID == "" {
			outcome = OutcomeCannotResolve
		} else {
			outcome = OutcomeNoTranscript
		}
	}

	if res.ResolvedID != "" {
		s.CallID = res.ResolvedID
	}

	if len(s.Transcript) > 0 {
		now := p.now().UTC()
		if s.StartedAt == nil {
			s.StartedAt = &now
		}
		if s.EndedAt == nil {
			s.EndedAt = &now
		}
		s.Status = session.Advance(s.Status, session.DeriveStatus(s))

		// Blocking analysis: summary over everything past the previous
		// watermark, then the profile over the full transcript.
		p.summarize(ctx, s)
		p.profile(ctx, s)
	}

	if err := p.store.Save(ctx, s); err != nil {
		return nil, err
	}
	p.publish(events.SubjectCompleted, s, newEntries)

	if p.notifier != nil && s.Status == session.StatusCompleted {
		if err := p.notifier.PostCompletionDigest(ctx, s); err != nil {
			p.logger.Warn("completion digest failed", "session_id", sessionID, "error", err)
		}
	}

	return &Result{Session: s, NewEntries: newEntries, Outcome: outcome, Resolution: &res}, nil
}

// fetchWithFallbacks fetches messages for the resolved id, then walks the
// remaining ranked candidates before giving up.
func (p *Pipeline) fetchWithFallbacks(ctx context.Context, res *provider.Resolution) []session.TranscriptEntry {
	if res.ResolvedID == "" {
		return nil
	}
	fetched := p.fetcher.FetchMessages(ctx, res.ResolvedID)
	if len(fetched) > 0 {
		return fetched
	}
	for _, cand := range res.Candidates {
		if cand.ID == res.ResolvedID {
			continue
		}
		p.logger.Info("primary candidate empty, trying next", "call_id", cand.ID)
		if fetched = p.fetcher.FetchMessages(ctx, cand.ID); len(fetched) > 0 {
			res.ResolvedID = cand.ID
			return fetched
		}
	}
	return nil
}
