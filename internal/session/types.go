package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Speaker identifies who produced a transcript turn.
type Speaker string

const (
	SpeakerAgent       Speaker = "agent"
	SpeakerParticipant Speaker = "participant"
	SpeakerUnknown     Speaker = "unknown"
)

// Status is the session lifecycle state. It is derived from what data the
// session holds, never set directly by callers; see DeriveStatus.
type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// TranscriptEntry is one conversation turn. Identity for deduplication is the
// (speaker, text, timestamp) tuple; Raw is kept for audit only.
type TranscriptEntry struct {
	Speaker   Speaker         `json:"speaker"`
	Text      string          `json:"text"`
	Timestamp time.Time       `json:"timestamp"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// Signature returns the dedup identity of an entry.
func (e TranscriptEntry) Signature() string {
	return fmt.Sprintf("%s|%s|%s", e.Timestamp.UTC().Format(time.RFC3339Nano), e.Speaker, e.Text)
}

// Summary is the derived narrative artifact. It is replaced on each analysis
// pass; EntriesSeen records the transcript length at generation time so the
// next pass can compute its delta.
type Summary struct {
	Text            string    `json:"text"`
	KeyInsights     []string  `json:"key_insights"`
	KeyThemes       []string  `json:"key_themes"`
	PainPoints      []string  `json:"pain_points"`
	FeatureRequests []string  `json:"feature_requests"`
	EntriesSeen     int       `json:"entries_seen"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// TraitScore is one named psychometric trait.
type TraitScore struct {
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

// PsychometricProfile is computed once the transcript is judged complete.
type PsychometricProfile struct {
	Traits      map[string]TraitScore `json:"traits"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// InterviewSession is the aggregate root. The transcript is append-mostly:
// merges never drop existing entries, and Status only moves forward.
type InterviewSession struct {
	ID              string               `json:"id"`
	Goal            string               `json:"goal"`
	Audience        string               `json:"audience"`
	PlannedMinutes  int                  `json:"planned_minutes"`
	Status          Status               `json:"status"`
	Transcript      []TranscriptEntry    `json:"transcript"`
	Summary         *Summary             `json:"summary,omitempty"`
	Profile         *PsychometricProfile `json:"profile,omitempty"`
	AgentID         string               `json:"agent_id,omitempty"`
	CallID          string               `json:"call_id,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	EndedAt         *time.Time           `json:"ended_at,omitempty"`
}

// HasSummary reports whether the session carries a non-placeholder summary.
func (s *InterviewSession) HasSummary() bool {
	return s.Summary != nil && s.Summary.Text != ""
}

// HasProfile reports whether the session carries a profile with at least one trait.
func (s *InterviewSession) HasProfile() bool {
	return s.Profile != nil && len(s.Profile.Traits) > 0
}

// Clone returns a deep copy safe to hand across goroutines.
func (s *InterviewSession) Clone() *InterviewSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Transcript = make([]TranscriptEntry, len(s.Transcript))
	copy(out.Transcript, s.Transcript)
	if s.Summary != nil {
		sum := *s.Summary
		sum.KeyInsights = append([]string(nil), s.Summary.KeyInsights...)
		sum.KeyThemes = append([]string(nil), s.Summary.KeyThemes...)
		sum.PainPoints = append([]string(nil), s.Summary.PainPoints...)
		sum.FeatureRequests = append([]string(nil), s.Summary.FeatureRequests...)
		out.Summary = &sum
	}
	if s.Profile != nil {
		prof := PsychometricProfile{
			Traits:      make(map[string]TraitScore, len(s.Profile.Traits)),
			GeneratedAt: s.Profile.GeneratedAt,
		}
		for k, v := range s.Profile.Traits {
			prof.Traits[k] = v
		}
		out.Profile = &prof
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return &out
}
