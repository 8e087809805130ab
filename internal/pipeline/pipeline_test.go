package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hearsay-labs/hearsay/internal/analysis"
	"github.com/hearsay-labs/hearsay/internal/provider"
	"github.com/hearsay-labs/hearsay/internal/session"
	"github.com/hearsay-labs/hearsay/internal/store"
)

// fakeStore is an in-memory Store for pipeline tests. Like the real store it
// hands out copies, never its internal pointers.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*session.InterviewSession
	saveErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*session.InterviewSession)}
}

func (f *fakeStore) Get(_ context.Context, id string) (*session.InterviewSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.Clone(), nil
}

func (f *fakeStore) Save(_ context.Context, s *session.InterviewSession) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s.Clone()
	return nil
}

func (f *fakeStore) SaveAsync(s *session.InterviewSession) {
	_ = f.Save(context.Background(), s)
}

func (f *fakeStore) get(id string) *session.InterviewSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		return s.Clone()
	}
	return nil
}

// fakeLLM routes by system prompt so one fake backs both analysis steps.
type fakeLLM struct {
	summaryJSON string
	profileJSON string
	err         error
}

func (f *fakeLLM) Complete(_ context.Context, system, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if strings.Contains(strings.ToLower(system), "psychometric") {
		return f.profileJSON, nil
	}
	return f.summaryJSON, nil
}

func workingLLM() *fakeLLM {
	return &fakeLLM{
		summaryJSON: `{"summary":"running summary","key_insights":["a"]}`,
		profileJSON: `{"traits":{"openness":{"score":0.6,"explanation":"x"}}}`,
	}
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingPublisher) Publish(subject string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}

func (r *recordingPublisher) has(subject string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subjects {
		if s == subject {
			return true
		}
	}
	return false
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingNotifier) PostCompletionDigest(_ context.Context, _ *session.InterviewSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

func testPipeline(t *testing.T, st Store, llm analysis.LLM, providerHandler http.HandlerFunc) (*Pipeline, *httptest.Server) {
	t.Helper()
	if providerHandler == nil {
		providerHandler = func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[]`))
		}
	}
	srv := httptest.NewServer(providerHandler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := provider.NewClient(srv.URL, "", logger)
	fetcher := provider.NewFetcherWithPolicy(client, 2, 5*time.Millisecond, logger)
	p := New(st, client, fetcher, analysis.NewSummarizer(llm, logger), analysis.NewProfiler(llm, logger), logger)
	return p, srv
}

func seedSession(st *fakeStore, id string) {
	st.sessions[id] = &session.InterviewSession{
		ID:        id,
		Goal:      "why users churn",
		Status:    session.StatusCreated,
		CreatedAt: time.Now().UTC(),
	}
}

func fragment(texts ...string) []any {
	var out []any
	for i, txt := range texts {
		out = append(out, map[string]any{
			"text":      txt,
			"sender":    "user",
			"timestamp": time.Date(2025, 3, 1, 10, i, 0, 0, time.UTC).Format(time.RFC3339),
		})
	}
	return out
}

func TestUpdateTranscript(t *testing.T) {
	st := newFakeStore()
	seedSession(st, "s1")
	p, _ := testPipeline(t, st, workingLLM(), nil)

	res, err := p.UpdateTranscript(context.Background(), "s1", fragment("hello", "hi"), Hints{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("UpdateTranscript() error: %v", err)
	}
	if res.NewEntries != 2 {
		t.Errorf("new entries = %d, expected 2", res.NewEntries)
	}
	if res.Outcome != OutcomeOK {
		t.Errorf("outcome = %q", res.Outcome)
	}

	saved := st.get("s1")
	if saved == nil {
		t.Fatal("session not persisted")
	}
	if len(saved.Transcript) != 2 {
		t.Errorf("persisted transcript has %d entries", len(saved.Transcript))
	}
	if saved.Status != session.StatusInProgress {
		t.Errorf("status = %q, expected in_progress", saved.Status)
	}
	if saved.StartedAt == nil {
		t.Error("started-at not set on first transcript activity")
	}
	if saved.AgentID != "agent-1" {
		t.Errorf("agent hint not applied: %q", saved.AgentID)
	}
}

func TestUpdateTranscript_RepeatedFragmentIsIdempotent(t *testing.T) {
	st := newFakeStore()
	seedSession(st, "s1")
	p, _ := testPipeline(t, st, workingLLM(), nil)

	frag := fragment("hello", "hi")
	if _, err := p.UpdateTranscript(context.Background(), "s1", frag, Hints{}); err != nil {
		t.Fatal(err)
	}
	res, err := p.UpdateTranscript(context.Background(), "s1", frag, Hints{})
	if err != nil {
		t.Fatal(err)
	}
	if res.NewEntries != 0 {
		t.Errorf("replayed fragment produced %d new entries, expected 0", res.NewEntries)
	}
	if got := len(st.get("s1").Transcript); got != 2 {
		t.Errorf("transcript grew to %d entries on replay", got)
	}
}

func TestUpdateTranscript_TriggersSummarization(t *testing.T) {
	st := newFakeStore()
	seedSession(st, "s1")
	p, _ := testPipeline(t, st, workingLLM(), nil)

	if _, err := p.UpdateTranscript(context.Background(), "s1", fragment("hello"), Hints{}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s := st.get("s1"); s != nil && s.HasSummary() {
			if s.Summary.Text != "running summary" {
				t.Errorf("summary text = %q", s.Summary.Text)
			}
			if s.Summary.EntriesSeen != 1 {
				t.Errorf("watermark = %d, expected 1", s.Summary.EntriesSeen)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("summary never appeared after a transcript delta")
}

func TestUpdateTranscript_Errors(t *testing.T) {
	st := newFakeStore()
	p, _ := testPipeline(t, st, workingLLM(), nil)

	t.Run("missing session id", func(t *testing.T) {
		if _, err := p.UpdateTranscript(context.Background(), "", fragment("x"), Hints{}); !errors.Is(err, ErrMissingSessionID) {
			t.Errorf("error = %v, expected ErrMissingSessionID", err)
		}
	})

	t.Run("unknown session id", func(t *testing.T) {
		if _, err := p.UpdateTranscript(context.Background(), "nope", fragment("x"), Hints{}); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("error = %v, expected ErrNotFound", err)
		}
	})
}

func TestUpdateTranscript_AllEntriesDroppedIsNotAnError(t *testing.T) {
	st := newFakeStore()
	seedSession(st, "s1")
	p, _ := testPipeline(t, st, workingLLM(), nil)

	res, err := p.UpdateTranscript(context.Background(), "s1", []any{map[string]any{"junk": true}}, Hints{})
	if err != nil {
		t.Fatalf("UpdateTranscript() error: %v", err)
	}
	if res.NewEntries != 0 {
		t.Errorf("new entries = %d", res.NewEntries)
	}
	if res.Outcome != OutcomeNoTranscript {
		t.Errorf("outcome = %q, expected no_transcript", res.Outcome)
	}
}

func TestCreateSession(t *testing.T) {
	st := newFakeStore()
	p, _ := testPipeline(t, st, workingLLM(), nil)

	s, err := p.CreateSession(context.Background(), CreateParams{ID: "s1", Goal: "pricing research", Audience: "smb owners"})
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if s.Status != session.StatusCreated {
		t.Errorf("status = %q", s.Status)
	}

	t.Run("re-create updates descriptive fields only", func(t *testing.T) {
		st.sessions["s1"].Transcript = []session.TranscriptEntry{{Speaker: session.SpeakerAgent, Text: "kept", Timestamp: time.Now()}}
		s2, err := p.CreateSession(context.Background(), CreateParams{ID: "s1", Goal: "new goal"})
		if err != nil {
			t.Fatal(err)
		}
		if s2.Goal != "new goal" {
			t.Errorf("goal = %q", s2.Goal)
		}
		if len(s2.Transcript) != 1 {
			t.Error("re-create dropped pipeline-owned data")
		}
	})
}

func TestCompleteSession_ProviderExport(t *testing.T) {
	st := newFakeStore()
	seedSession(st, "s1")

	handler := func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/messages"):
			w.Write([]byte(`{"messages":[
				{"text":"welcome","sender":"agent","timestamp":"2025-03-01T10:00:00Z"},
				{"text":"thanks","sender":"user","timestamp":"2025-03-01T10:01:00Z"}
			]}`))
		case r.URL.Query().Get("session_id") == "s1":
			w.Write([]byte(`{"calls":[{"id":"call-7","session_id":"s1","status":"completed"}]}`))
		default:
			w.Write([]byte(`[]`))
		}
	}

	p, _ := testPipeline(t, st, workingLLM(), handler)
	bus := &recordingPublisher{}
	notifier := &recordingNotifier{}
	p.SetPublisher(bus)
	p.SetNotifier(notifier)

	res, err := p.CompleteSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("CompleteSession() error: %v", err)
	}
	if res.Outcome != OutcomeOK {
		t.Errorf("outcome = %q", res.Outcome)
	}
	if res.NewEntries != 2 {
		t.Errorf("new entries = %d, expected 2", res.NewEntries)
	}

	s := res.Session
	if s.Status != session.StatusCompleted {
		t.Errorf("status = %q", s.Status)
	}
	if s.CallID != "call-7" {
		t.Errorf("call id = %q", s.CallID)
	}
	if s.EndedAt == nil {
		t.Error("ended-at not set")
	}
	if !s.HasSummary() || !s.HasProfile() {
		t.Errorf("analysis missing: summary=%v profile=%v", s.HasSummary(), s.HasProfile())
	}
	if !bus.has("research.session.completed") {
		t.Errorf("completed event not published, got %v", bus.subjects)
	}
	if notifier.calls != 1 {
		t.Errorf("digest posted %d times, expected 1", notifier.calls)
	}
}

func TestCompleteSession_DegradedLocalBuffer(t *testing.T) {
	st := newFakeStore()
	seedSession(st, "s1")
	st.sessions["s1"].Transcript = []session.TranscriptEntry{
		{Speaker: session.SpeakerParticipant, Text: "buffered answer", Timestamp: time.Now().UTC()},
	}

	// Provider is down across the board.
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}

	p, _ := testPipeline(t, st, workingLLM(), handler)
	res, err := p.CompleteSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("CompleteSession() error: %v", err)
	}
	if res.Outcome != OutcomeLocalBuffer {
		t.Errorf("outcome = %q, expected degraded local buffer", res.Outcome)
	}
	if res.Session.Status != session.StatusCompleted {
		t.Errorf("status = %q, buffered transcript should still complete", res.Session.Status)
	}
	if len(res.Session.Transcript) != 1 {
		t.Errorf("transcript = %d entries, expected the buffer kept", len(res.Session.Transcript))
	}
}

func TestCompleteSession_NothingAnywhere(t *testing.T) {
	st := newFakeStore()
	seedSession(st, "s1")

	p, _ := testPipeline(t, st, workingLLM(), nil)
	res, err := p.CompleteSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("CompleteSession() error: %v", err)
	}
	if res.Outcome != OutcomeNoTranscript {
		t.Errorf("outcome = %q, expected no_transcript", res.Outcome)
	}
	if res.Session.Status != session.StatusCreated {
		t.Errorf("status = %q, an empty session must not complete", res.Session.Status)
	}
}

func TestCompleteSession_AnalysisFailureStillCompletes(t *testing.T) {
	st := newFakeStore()
	seedSession(st, "s1")
	st.sessions["s1"].Transcript = []session.TranscriptEntry{
		{Speaker: session.SpeakerParticipant, Text: "buffered", Timestamp: time.Now().UTC()},
	}
	st.sessions["s1"].Summary = &session.Summary{Text: "previous summary", EntriesSeen: 0}

	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}

	p, _ := testPipeline(t, st, &fakeLLM{err: errors.New("model down")}, handler)
	res, err := p.CompleteSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("CompleteSession() error: %v", err)
	}
	if res.Session.Status != session.StatusCompleted {
		t.Errorf("status = %q, analysis failure must not block completion", res.Session.Status)
	}
	if res.Session.Summary == nil || res.Session.Summary.Text != "previous summary" {
		t.Errorf("previous summary not kept: %+v", res.Session.Summary)
	}
	if res.Session.HasProfile() {
		t.Error("profile appeared despite a failing model")
	}
}

func TestStreamTranscript_DeliversDeltas(t *testing.T) {
	st := newFakeStore()
	seedSession(st, "s1")

	handler := func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/messages"):
			w.Write([]byte(`{"messages":[{"text":"streamed","sender":"agent","timestamp":"2025-03-01T10:00:00Z"}]}`))
		case r.URL.Query().Get("session_id") == "s1":
			w.Write([]byte(`{"calls":[{"id":"call-7","session_id":"s1","status":"active"}]}`))
		default:
			w.Write([]byte(`[]`))
		}
	}

	p, _ := testPipeline(t, st, workingLLM(), handler)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deltas := make(chan []session.TranscriptEntry, 4)
	go func() {
		_ = p.StreamTranscript(ctx, "s1", 10*time.Millisecond, func(d []session.TranscriptEntry) {
			deltas <- d
		})
	}()

	select {
	case d := <-deltas:
		if len(d) != 1 || d[0].Text != "streamed" {
			t.Errorf("delta = %+v", d)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no delta delivered by the poll loop")
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := st.get("s1"); s != nil && len(s.Transcript) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("polled delta never persisted")
}
