package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hearsay-labs/hearsay/internal/analysis"
	"github.com/hearsay-labs/hearsay/internal/events"
	"github.com/hearsay-labs/hearsay/internal/metrics"
	"github.com/hearsay-labs/hearsay/internal/normalize"
	"github.com/hearsay-labs/hearsay/internal/provider"
	"github.com/hearsay-labs/hearsay/internal/session"
	"github.com/hearsay-labs/hearsay/internal/store"
	"github.com/hearsay-labs/hearsay/internal/transcript"
)

// ErrMissingSessionID is the only bad-request condition the pipeline raises.
var ErrMissingSessionID = errors.New("session id is required")

// Outcome describes how an operation concluded. Degraded conditions are
// outcomes, not errors.
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeNoTranscript  Outcome = "no_transcript"
	OutcomeLocalBuffer   Outcome = "degraded_local_buffer"
	OutcomeCannotResolve Outcome = "cannot_resolve"
)

// Store is the session persistence surface the pipeline needs.
type Store interface {
	Get(ctx context.Context, id string) (*session.InterviewSession, error)
	Save(ctx context.Context, s *session.InterviewSession) error
	SaveAsync(s *session.InterviewSession)
}

// Publisher pushes lifecycle events; nil-safe at the call sites.
type Publisher interface {
	Publish(subject string, data any) error
}

// Notifier posts completion digests; nil-safe at the call sites.
type Notifier interface {
	PostCompletionDigest(ctx context.Context, s *session.InterviewSession) error
}

// Pipeline drives transcript resolution, merging and incremental analysis.
// Concurrent writers (poll loop, transcript updates, completion) are
// serialized per session by an advisory lock; the merger's monotonic
// contract keeps the transcript safe even across processes.
type Pipeline struct {
	store      Store
	provider   *provider.Client
	fetcher    *provider.Fetcher
	summarizer *analysis.Summarizer
	profiler   *analysis.Profiler
	bus        Publisher
	notifier   Notifier
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store Store, prov *provider.Client, fetcher *provider.Fetcher,
	summarizer *analysis.Summarizer, profiler *analysis.Profiler, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:      store,
		provider:   prov,
		fetcher:    fetcher,
		summarizer: summarizer,
		profiler:   profiler,
		logger:     logger,
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
}

// SetPublisher wires the optional event bus.
func (p *Pipeline) SetPublisher(pub Publisher) { p.bus = pub }

// SetNotifier wires the optional completion notifier.
func (p *Pipeline) SetNotifier(n Notifier) { p.notifier = n }

// sessionLock returns the advisory lock for one session id.
func (p *Pipeline) sessionLock(id string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[id]
	if !ok {
		l = &sync.Mutex{}
		p.locks[id] = l
	}
	return l
}

// Result is what both entry points return to the caller.
type Result struct {
	Session    *session.InterviewSession
	NewEntries int
	Outcome    Outcome
	Resolution *provider.Resolution
}

// Hints carried by an update request alongside the fragment.
type Hints struct {
	AgentID string `json:"agent_id,omitempty"`
	CallID  string `json:"call_id,omitempty"`
}

// UpdateTranscript is the live-update entry point: normalize the fragment,
// merge it into the session, persist, and trigger summarization on the delta
// without blocking the request.
func (p *Pipeline) UpdateTranscript(ctx context.Context, sessionID string, fragment []any, hints Hints) (*Result, error) {
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

	batch, dropped := normalize.Batch(fragment, p.now())
	if dropped > 0 {
		p.logger.Info("dropped malformed fragment entries", "session_id", sessionID, "dropped", dropped)
		metrics.MessagesDropped.Add(float64(dropped))
	}
	metrics.MessagesNormalized.Add(float64(len(batch)))

	res := transcript.Merge(s.Transcript, batch, p.now())
	metrics.MergeDeltaEntries.Add(float64(len(res.Delta)))

	s.Transcript = res.Canonical
	p.applyHints(s, hints)
	if s.StartedAt == nil && len(s.Transcript) > 0 {
		t := p.now().UTC()
		s.StartedAt = &t
	}
	s.Status = session.Advance(s.Status, session.DeriveStatus(s))

	if err := p.store.Save(ctx, s); err != nil {
		return nil, err
	}
	p.publish(events.SubjectTranscriptUpdated, s, len(res.Delta))

	if len(res.Delta) > 0 {
		// Fire and forget: the live path does not wait on analysis.
		go p.summarizeLocked(context.WithoutCancel(ctx), sessionID)
	}

	outcome := OutcomeOK
	if len(s.Transcript) == 0 {
		outcome = OutcomeNoTranscript
	}
	return &Result{Session: s, NewEntries: len(res.Delta), Outcome: outcome}, nil
}

// GetSession reads the current session state.
func (p *Pipeline) GetSession(ctx context.Context, sessionID string) (*session.InterviewSession, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}
	return p.store.Get(ctx, sessionID)
}

// CreateParams is the minimal session-creation surface the pipeline exposes
// so the service is operable standalone.
type CreateParams struct {
	ID             string `json:"id"`
	Goal           string `json:"goal"`
	Audience       string `json:"audience"`
	PlannedMinutes int    `json:"planned_minutes"`
	AgentID        string `json:"agent_id,omitempty"`
}

// CreateSession registers a new session with status created. Creating an
// existing id is an upsert of the descriptive fields; pipeline-owned data is
// untouched.
func (p *Pipeline) CreateSession(ctx context.Context, params CreateParams) (*session.InterviewSession, error) {
	if params.ID == "" {
		return nil, ErrMissingSessionID
	}
	lock := p.sessionLock(params.ID)
	lock.Lock()
	defer lock.Unlock()

	s, err := p.store.Get(ctx, params.ID)
	if errors.Is(err, store.ErrNotFound) {
		s = &session.InterviewSession{
			ID:        params.ID,
			Status:    session.StatusCreated,
			CreatedAt: p.now().UTC(),
		}
	} else if err != nil {
		return nil, err
	}
	s.Goal = params.Goal
	s.Audience = params.Audience
	s.PlannedMinutes = params.PlannedMinutes
	if params.AgentID != "" {
		s.AgentID = params.AgentID
	}

	if err := p.store.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Pipeline) applyHints(s *session.InterviewSession, hints Hints) {
	if hints.AgentID != "" && s.AgentID == "" {
		s.AgentID = hints.AgentID
	}
	if hints.CallID != "" && s.CallID == "" {
		s.CallID = hints.CallID
	}
}

// summarizeLocked re-reads the session under its lock and runs one
// summarization pass over the entries past the previous summary's watermark.
func (p *Pipeline) summarizeLocked(ctx context.Context, sessionID string) {
	lock := p.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s, err := p.store.Get(ctx, sessionID)
	if err != nil {
		p.logger.Error("summarize: session reload failed", "session_id", sessionID, "error", err)
		return
	}
	p.summarize(ctx, s)
}

// summarize runs summarization in place; the session keeps its previous
// summary on failure and the step stays re-triggerable.
func (p *Pipeline) summarize(ctx context.Context, s *session.InterviewSession) {
	seen := 0
	if s.Summary != nil {
		seen = s.Summary.EntriesSeen
	}
	if seen > len(s.Transcript) {
		seen = len(s.Transcript)
	}
	delta := s.Transcript[seen:]
	if len(delta) == 0 {
		return
	}

	sum, err := p.summarizer.Summarize(ctx, s.Goal, delta, s.Summary, len(s.Transcript))
	if err != nil {
		p.logger.Warn("summarization failed, keeping previous summary", "session_id", s.ID, "error", err)
		metrics.AnalysisFailures.WithLabelValues("summary").Inc()
		return
	}
	s.Summary = sum

	if err := p.store.Save(ctx, s); err != nil {
		p.logger.Error("save after summarize failed", "session_id", s.ID, "error", err)
		return
	}
	p.publish(events.SubjectSummaryReady, s, len(delta))
}

// profile runs the profiling step in place. On failure the session still
// completes; the profile stays absent and re-triggerable.
func (p *Pipeline) profile(ctx context.Context, s *session.InterviewSession) {
	prof, err := p.profiler.Profile(ctx, s.Goal, s.Transcript, s.Summary)
	if err != nil {
		p.logger.Warn("profiling failed, completing without profile", "session_id", s.ID, "error", err)
		metrics.AnalysisFailures.WithLabelValues("profile").Inc()
		return
	}
	s.Profile = prof
	p.publish(events.SubjectProfileReady, s, 0)
}

func (p *Pipeline) publish(subject string, s *session.InterviewSession, newEntries int) {
	if p.bus == nil {
		return
	}
	err := p.bus.Publish(subject, map[string]any{
		"session_id":        s.ID,
		"status":            string(s.Status),
		"transcript_length": len(s.Transcript),
		"new_entries":       newEntries,
		"has_summary":       s.HasSummary(),
		"has_profile":       s.HasProfile(),
		"timestamp":         p.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		p.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}
