package provider

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExtractCandidates(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		expected []string
	}{
		{
			name: "bare array",
			body: []any{
				map[string]any{"id": "c1"},
				map[string]any{"call_id": "c2"},
			},
			expected: []string{"c1", "c2"},
		},
		{
			name:     "calls container",
			body:     map[string]any{"calls": []any{map[string]any{"id": "c1"}}},
			expected: []string{"c1"},
		},
		{
			name:     "singular call object",
			body:     map[string]any{"call": map[string]any{"conversation_id": "c1"}},
			expected: []string{"c1"},
		},
		{
			name: "agent-wrapped container",
			body: map[string]any{"agent": map[string]any{"sessions": []any{
				map[string]any{"id": "c1"},
			}}},
			expected: []string{"c1"},
		},
		{
			name:     "top-level object is itself a call",
			body:     map[string]any{"id": "c1", "status": "completed"},
			expected: []string{"c1"},
		},
		{
			name:     "id-less objects are skipped",
			body:     []any{map[string]any{"status": "active"}},
			expected: nil,
		},
		{
			name:     "scalar body yields nothing",
			body:     "oops",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractCandidates(tt.body, "test")
			if len(got) != len(tt.expected) {
				t.Fatalf("got %d candidates, expected %d", len(got), len(tt.expected))
			}
			for i, id := range tt.expected {
				if got[i].ID != id {
					t.Errorf("candidate %d id = %q, expected %q", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestCandidateFromRaw_Fields(t *testing.T) {
	cand, ok := candidateFromRaw(map[string]any{
		"call_id":    "c1",
		"session_id": "s1",
		"agent_id":   "a1",
		"state":      "ended",
		"started_at": "2025-03-01T10:00:00Z",
		"ended_at":   "2025-03-01T10:30:00Z",
		"updated_at": "2025-03-01T10:31:00Z",
	}, "by_agent")
	if !ok {
		t.Fatal("candidateFromRaw rejected a valid object")
	}
	if cand.ID != "c1" || cand.SessionID != "s1" || cand.AgentID != "a1" || cand.Status != "ended" {
		t.Errorf("unexpected candidate: %+v", cand)
	}
	if cand.StartedAt.IsZero() || cand.EndedAt.IsZero() || cand.LastActivityAt.IsZero() {
		t.Errorf("timestamps not extracted: %+v", cand)
	}
}

func TestMergeCandidate(t *testing.T) {
	byID := make(map[string]*Candidate)
	mergeCandidate(byID, Candidate{ID: "c1", Status: "active", Sources: []string{"by_agent"}})
	mergeCandidate(byID, Candidate{ID: "c1", SessionID: "s1", Status: "completed", Sources: []string{"as_session_id"}})

	got := byID["c1"]
	if got.Status != "completed" {
		t.Errorf("status = %q, later non-empty value should win", got.Status)
	}
	if got.SessionID != "s1" {
		t.Errorf("session id = %q, expected merged value", got.SessionID)
	}
	if len(got.Sources) != 2 {
		t.Errorf("sources = %v, expected both query paths", got.Sources)
	}
}

func TestRankCandidates(t *testing.T) {
	older := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		cands    []Candidate
		hints    Hints
		expected string
	}{
		{
			name: "completed beats active despite recency",
			cands: []Candidate{
				{ID: "a", Status: "active", LastActivityAt: newer},
				{ID: "b", Status: "completed", EndedAt: older},
			},
			expected: "b",
		},
		{
			name: "hint match beats completed status",
			cands: []Candidate{
				{ID: "other", Status: "completed", EndedAt: newer},
				{ID: "c1", Status: "active"},
			},
			hints:    Hints{SessionID: "c1"},
			expected: "c1",
		},
		{
			name: "session id hint outranks stored call id hint",
			cands: []Candidate{
				{ID: "stored"},
				{ID: "fromsession"},
			},
			hints:    Hints{SessionID: "fromsession", StoredCallID: "stored"},
			expected: "fromsession",
		},
		{
			name: "echoed session id counts as a hint match",
			cands: []Candidate{
				{ID: "x", Status: "completed", EndedAt: newer},
				{ID: "y", SessionID: "s1"},
			},
			hints:    Hints{SessionID: "s1"},
			expected: "y",
		},
		{
			name: "recency breaks ties",
			cands: []Candidate{
				{ID: "old", Status: "ended", EndedAt: older},
				{ID: "new", Status: "ended", EndedAt: newer},
			},
			expected: "new",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rankCandidates(tt.cands, tt.hints)
			if tt.cands[0].ID != tt.expected {
				t.Errorf("top candidate = %q, expected %q", tt.cands[0].ID, tt.expected)
			}
		})
	}
}

func TestResolveCall(t *testing.T) {
	t.Run("session hint resolves through list endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/v1/calls/sess-1":
				w.WriteHeader(http.StatusNotFound)
			case r.URL.Path == "/v1/calls" && r.URL.Query().Get("session_id") == "sess-1":
				w.Write([]byte(`{"calls":[{"id":"call-9","session_id":"sess-1","status":"completed"}]}`))
			default:
				w.Write([]byte(`[]`))
			}
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "", testLogger())
		res := c.ResolveCall(context.Background(), Hints{SessionID: "sess-1"})
		if res.ResolvedID != "call-9" {
			t.Errorf("resolved id = %q, expected call-9", res.ResolvedID)
		}
		var failed int
		for _, att := range res.Attempts {
			if att.Error != "" {
				failed++
			}
		}
		if failed == 0 {
			t.Error("the 404 attempt should be recorded as failed, not fatal")
		}
	})

	t.Run("all attempts fail fabricates fallback candidate", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "", testLogger())
		res := c.ResolveCall(context.Background(), Hints{SessionID: "sess-1"})
		if res.ResolvedID != "sess-1" {
			t.Errorf("resolved id = %q, expected the raw hint id", res.ResolvedID)
		}
		if len(res.Candidates) != 1 || res.Candidates[0].Sources[0] != "fallback" {
			t.Errorf("candidates = %+v, expected one fabricated fallback", res.Candidates)
		}
	})

	t.Run("no hints and empty provider resolves nothing", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[]`))
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "", testLogger())
		res := c.ResolveCall(context.Background(), Hints{})
		if res.ResolvedID != "" {
			t.Errorf("resolved id = %q, expected empty", res.ResolvedID)
		}
		if len(res.Attempts) != 1 || res.Attempts[0].Kind != "unfiltered" {
			t.Errorf("attempts = %+v, expected one unfiltered attempt", res.Attempts)
		}
	})

	t.Run("duplicate records merge across attempts", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/v1/calls/call-1":
				w.Write([]byte(`{"id":"call-1","status":"completed"}`))
			case r.URL.Query().Get("session_id") != "":
				w.Write([]byte(`[{"id":"call-1","session_id":"sess-1"}]`))
			default:
				w.Write([]byte(`[]`))
			}
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "", testLogger())
		res := c.ResolveCall(context.Background(), Hints{SessionID: "call-1"})
		if len(res.Candidates) != 1 {
			t.Fatalf("got %d candidates, expected the duplicates merged into 1", len(res.Candidates))
		}
		got := res.Candidates[0]
		if got.Status != "completed" || got.SessionID != "sess-1" {
			t.Errorf("merged candidate = %+v", got)
		}
	})
}
