package provider

import (
	"context"
	"strings"
	"time"

	"github.com/hearsay-labs/hearsay/internal/metrics"
	"github.com/hearsay-labs/hearsay/internal/normalize"
)

// Candidate is a short-lived resolution artifact: one possibly-duplicate
// record of a provider call surfaced by a query attempt. Sources lists which
// query paths surfaced it and is used for diagnostics only.
type Candidate struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id,omitempty"`
	AgentID        string    `json:"agent_id,omitempty"`
	Status         string    `json:"status,omitempty"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	EndedAt        time.Time `json:"ended_at,omitzero"`
	LastActivityAt time.Time `json:"last_activity_at,omitzero"`
	Sources        []string  `json:"sources,omitempty"`
}

// Attempt records one query attempt against the provider. Failures are
// recorded here, never fatal to resolution.
type Attempt struct {
	Kind       string `json:"kind"`
	Hint       string `json:"hint,omitempty"`
	Error      string `json:"error,omitempty"`
	Candidates int    `json:"candidates"`
}

// Hints are the loose identifiers resolution starts from.
type Hints struct {
	SessionID    string // caller-provided session id
	StoredCallID string // previously resolved provider call id
	AgentID      string // provider-side agent id
}

func (h Hints) empty() bool {
	return h.SessionID == "" && h.StoredCallID == "" && h.AgentID == ""
}

// candidateIDs are the hint ids in priority order for ranking and fallback.
func (h Hints) candidateIDs() []string {
	var ids []string
	if h.SessionID != "" {
		ids = append(ids, h.SessionID)
	}
	if h.StoredCallID != "" && h.StoredCallID != h.SessionID {
		ids = append(ids, h.StoredCallID)
	}
	return ids
}

// Resolution is the resolver output: the picked call id (empty when nothing
// could be determined), the full ranked candidate list and the attempt log.
type Resolution struct {
	ResolvedID string      `json:"resolved_id,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
	Attempts   []Attempt   `json:"attempts,omitempty"`
}

// completedStatuses is the vocabulary of provider statuses treated as "this
// call has finished".
var completedStatuses = map[string]bool{
	"completed": true, "ended": true, "finished": true,
	"done": true, "stopped": true, "closed": true,
}

// ResolveCall translates loose hints into one provider call id. Every query
// attempt is independent; a failed attempt is logged in the attempt log and
// resolution continues. With zero hints and zero candidates the resolved id
// is empty and the caller must abort with a cannot-resolve outcome.
func (c *Client) ResolveCall(ctx context.Context, hints Hints) Resolution {
	var res Resolution
	byID := make(map[string]*Candidate)

	run := func(kind, hint string, q func() (any, error)) {
		att := Attempt{Kind: kind, Hint: hint}
		body, err := q()
		if err != nil {
			att.Error = err.Error()
			res.Attempts = append(res.Attempts, att)
			metrics.ResolverAttempts.WithLabelValues("error").Inc()
			c.logger.Debug("resolver attempt failed", "kind", kind, "hint", hint, "error", err)
			return
		}
		metrics.ResolverAttempts.WithLabelValues("ok").Inc()
		found := extractCandidates(body, kind)
		att.Candidates = len(found)
		res.Attempts = append(res.Attempts, att)
		for _, cand := range found {
			mergeCandidate(byID, cand)
		}
	}

	if hints.AgentID != "" {
		run("by_agent", hints.AgentID, func() (any, error) { return c.ListCallsByAgent(ctx, hints.AgentID) })
	}
	for _, id := range hints.candidateIDs() {
		id := id
		run("as_call_id", id, func() (any, error) { return c.GetCall(ctx, id) })
		run("as_session_id", id, func() (any, error) { return c.ListCallsBySession(ctx, id) })
	}
	if len(byID) == 0 {
		run("unfiltered", "", func() (any, error) { return c.ListCalls(ctx) })
	}

	for _, cand := range byID {
		res.Candidates = append(res.Candidates, *cand)
	}
	rankCandidates(res.Candidates, hints)

	if len(res.Candidates) == 0 {
		// Nothing surfaced: fabricate a trivial candidate from the raw
		// provided id so the downstream fetch can still be attempted.
		if ids := hints.candidateIDs(); len(ids) > 0 {
			res.Candidates = append(res.Candidates, Candidate{ID: ids[0], Sources: []string{"fallback"}})
		}
	}

	if len(res.Candidates) > 0 {
		res.ResolvedID = res.Candidates[0].ID
	}

	if res.ResolvedID == "" && hints.empty() {
		c.logger.Warn("call resolution found nothing", "attempts", len(res.Attempts))
	}
	return res
}

// mergeCandidate folds a raw candidate into the by-id set field by field:
// the most recently learned non-empty value wins.
func mergeCandidate(byID map[string]*Candidate, cand Candidate) {
	existing, ok := byID[cand.ID]
	if !ok {
		copied := cand
		byID[cand.ID] = &copied
		return
	}
	if cand.SessionID != "" {
		existing.SessionID = cand.SessionID
	}
	if cand.AgentID != "" {
		existing.AgentID = cand.AgentID
	}
	if cand.Status != "" {
		existing.Status = cand.Status
	}
	if !cand.StartedAt.IsZero() {
		existing.StartedAt = cand.StartedAt
	}
	if !cand.EndedAt.IsZero() {
		existing.EndedAt = cand.EndedAt
	}
	if !cand.LastActivityAt.IsZero() {
		existing.LastActivityAt = cand.LastActivityAt
	}
	existing.Sources = append(existing.Sources, cand.Sources...)
}

// rankCandidates sorts best-first: exact hint match in hint-priority order,
// then completed status, then recency.
func rankCandidates(cands []Candidate, hints Hints) {
	hintIDs := hints.candidateIDs()
	better := func(a, b Candidate) bool {
		am, bm := hintMatchRank(a, hintIDs), hintMatchRank(b, hintIDs)
		if am != bm {
			return am < bm
		}
		ac, bc := completedStatuses[strings.ToLower(a.Status)], completedStatuses[strings.ToLower(b.Status)]
		if ac != bc {
			return ac
		}
		return lastSeen(a).After(lastSeen(b))
	}
	// Insertion sort keeps this dependency-free and stable; candidate sets
	// are tiny.
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && better(cands[j], cands[j-1]); j-- {
			cands[j], cands[j-1] = cands[j-1], cands[j]
		}
	}
}

// hintMatchRank returns the index of the first hint the candidate matches
// (by call id or by the session id the provider echoed), or a sentinel when
// none match.
func hintMatchRank(c Candidate, hintIDs []string) int {
	for i, id := range hintIDs {
		if c.ID == id || (c.SessionID != "" && c.SessionID == id) {
			return i
		}
	}
	return len(hintIDs) + 1
}

// lastSeen is the most recent of ended-at, last-activity-at and started-at.
func lastSeen(c Candidate) time.Time {
	t := c.StartedAt
	if c.LastActivityAt.After(t) {
		t = c.LastActivityAt
	}
	if c.EndedAt.After(t) {
		t = c.EndedAt
	}
	return t
}

// containerKeys are the plural container shapes candidate calls hide under.
var containerKeys = []string{
	"sessions", "calls", "conversations", "data", "results", "items", "history", "records",
}

// singularKeys hold one call object directly.
var singularKeys = []string{"call", "session", "conversation", "latest_call", "last_call"}

// agentKeys are agent-scoped containers recursed into one level.
var agentKeys = []string{"agent", "agents"}

// idKeys are the field names a candidate's call id may appear under.
var idKeys = []string{
	"call_id", "callId", "conversation_id", "conversationId",
	"id", "uuid", "call_uuid",
}

var sessionIDKeys = []string{"session_id", "sessionId", "external_session_id", "client_session_id"}
var agentIDKeys = []string{"agent_id", "agentId"}
var statusKeys = []string{"status", "state", "call_status"}
var startedKeys = []string{"started_at", "start_time", "created_at", "createdAt", "start_timestamp"}
var endedKeys = []string{"ended_at", "end_time", "end_timestamp", "completed_at"}
var activityKeys = []string{"last_activity_at", "updated_at", "last_updated", "last_event_at"}

// extractCandidates walks the known response container shapes and converts
// every id-bearing object into a Candidate. New provider shapes are handled
// by extending the key lists, not by changing callers.
func extractCandidates(body any, source string) []Candidate {
	return extract(body, source, 0)
}

func extract(body any, source string, depth int) []Candidate {
	switch t := body.(type) {
	case []any:
		var out []Candidate
		for _, elem := range t {
			if cand, ok := candidateFromRaw(elem, source); ok {
				out = append(out, cand)
			}
		}
		return out
	case map[string]any:
		var out []Candidate
		for _, key := range containerKeys {
			if sub, ok := t[key].([]any); ok {
				out = append(out, extract(sub, source, depth)...)
			}
		}
		for _, key := range singularKeys {
			if sub, ok := t[key].(map[string]any); ok {
				if cand, ok := candidateFromRaw(sub, source); ok {
					out = append(out, cand)
				}
			}
		}
		if depth == 0 {
			for _, key := range agentKeys {
				if sub, ok := t[key]; ok {
					out = append(out, extract(sub, source, depth+1)...)
				}
			}
		}
		// The top-level object itself may be a single call.
		if len(out) == 0 {
			if cand, ok := candidateFromRaw(t, source); ok {
				out = append(out, cand)
			}
		}
		return out
	default:
		return nil
	}
}

// candidateFromRaw builds a Candidate if the object yields an id.
func candidateFromRaw(v any, source string) (Candidate, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Candidate{}, false
	}
	id := firstString(m, idKeys)
	if id == "" {
		return Candidate{}, false
	}
	cand := Candidate{
		ID:        id,
		SessionID: firstString(m, sessionIDKeys),
		AgentID:   firstString(m, agentIDKeys),
		Status:    firstString(m, statusKeys),
		Sources:   []string{source},
	}
	cand.StartedAt = firstTime(m, startedKeys)
	cand.EndedAt = firstTime(m, endedKeys)
	cand.LastActivityAt = firstTime(m, activityKeys)
	return cand, true
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstTime(m map[string]any, keys []string) time.Time {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		if ts, ok := normalize.ParseTimestamp(v); ok {
			return ts
		}
	}
	return time.Time{}
}
