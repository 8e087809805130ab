package normalize

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hearsay-labs/hearsay/internal/session"
)

// maxDepth bounds the recursive text search over unknown payload shapes.
const maxDepth = 4

// textKeys are tried in priority order at every level of the payload.
var textKeys = []string{
	"message", "text", "content", "value", "body", "data",
	"payload", "transcript", "response", "parts", "delta",
}

// speakerKeys are near-synonym fields scanned for a speaker discriminator.
var speakerKeys = []string{"speaker", "role", "author", "sender_type", "sender", "source", "participant_role"}

// timestampKeys are tried in order for a timestamp-like field.
var timestampKeys = []string{
	"timestamp", "time", "created_at", "createdAt", "event_timestamp",
	"start_time", "sent_at", "ts", "date",
}

// Entry converts one raw provider message (or client-supplied fragment) into
// a TranscriptEntry. Returns false when no usable text can be found; the
// caller counts and logs drops. Pure given the clock used for fallback
// timestamps.
func Entry(raw any, now time.Time) (session.TranscriptEntry, bool) {
	text := ExtractText(raw)
	if text == "" {
		return session.TranscriptEntry{}, false
	}

	e := session.TranscriptEntry{
		Speaker: inferSpeaker(raw),
		Text:    text,
	}

	if ts, ok := extractTimestamp(raw); ok {
		e.Timestamp = ts
	} else {
		// Never fail a batch over a missing timestamp.
		e.Timestamp = now
	}

	if b, err := json.Marshal(raw); err == nil {
		e.Raw = b
	}
	return e, true
}

// ExtractText runs a depth-bounded recursive search for the first non-empty
// string under the known text-bearing keys. Arrays are joined with a space
// after recursing into each element. Visited containers are tracked so a
// self-referential payload cannot loop.
func ExtractText(v any) string {
	return extractText(v, 0, map[uintptr]bool{})
}

func extractText(v any, depth int, visited map[uintptr]bool) string {
	if depth > maxDepth {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		if p := containerPtr(t); p != 0 {
			if visited[p] {
				return ""
			}
			visited[p] = true
		}
		var parts []string
		for _, elem := range t {
			if s := extractText(elem, depth+1, visited); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case map[string]any:
		if p := containerPtr(t); p != 0 {
			if visited[p] {
				return ""
			}
			visited[p] = true
		}
		for _, key := range textKeys {
			sub, ok := t[key]
			if !ok {
				continue
			}
			if s := extractText(sub, depth+1, visited); s != "" {
				return s
			}
		}
		return ""
	default:
		return ""
	}
}

func containerPtr(v any) uintptr {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return 0
		}
		return rv.Pointer()
	}
	return 0
}

// inferSpeaker classifies the message author. The provider's explicit sender
// discriminator wins; otherwise near-synonym fields are scanned and matched
// against a keyword heuristic; otherwise the message "type" is consulted.
func inferSpeaker(raw any) session.Speaker {
	m, ok := raw.(map[string]any)
	if !ok {
		return session.SpeakerUnknown
	}

	// Explicit discriminator used by the realtime provider.
	if sender, ok := m["sender"].(string); ok {
		switch strings.ToLower(sender) {
		case "agent":
			return session.SpeakerAgent
		case "user":
			return session.SpeakerParticipant
		}
	}

	for _, key := range speakerKeys {
		if v, ok := m[key].(string); ok {
			if sp := classifySpeaker(v); sp != session.SpeakerUnknown {
				return sp
			}
		}
		// One level of nesting covers shapes like {"message": {"role": ...}}.
		if nested, ok := m["message"].(map[string]any); ok {
			if v, ok := nested[key].(string); ok {
				if sp := classifySpeaker(v); sp != session.SpeakerUnknown {
					return sp
				}
			}
		}
	}

	if typ, ok := m["type"].(string); ok {
		if sp := classifySpeaker(typ); sp != session.SpeakerUnknown {
			return sp
		}
	}

	return session.SpeakerUnknown
}

func classifySpeaker(v string) session.Speaker {
	v = strings.ToLower(v)
	for _, kw := range []string{"agent", "assistant", "ai", "bot", "interviewer"} {
		if strings.Contains(v, kw) {
			return session.SpeakerAgent
		}
	}
	for _, kw := range []string{"user", "participant", "human", "respondent", "customer"} {
		if strings.Contains(v, kw) {
			return session.SpeakerParticipant
		}
	}
	return session.SpeakerUnknown
}

func extractTimestamp(raw any) (time.Time, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return time.Time{}, false
	}
	for _, key := range timestampKeys {
		v, ok := m[key]
		if !ok {
			continue
		}
		if ts, ok := ParseTimestamp(v); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

// ParseTimestamp parses a timestamp-like value: RFC3339 variants, a couple of
// plain layouts, or a unix epoch in seconds or milliseconds (numeric or
// numeric string).
func ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(n), true
		}
		return time.Time{}, false
	case float64:
		if t <= 0 {
			return time.Time{}, false
		}
		return fromEpoch(t), true
	case int64:
		if t <= 0 {
			return time.Time{}, false
		}
		return fromEpoch(float64(t)), true
	case json.Number:
		if n, err := t.Float64(); err == nil && n > 0 {
			return fromEpoch(n), true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// fromEpoch treats values above 1e12 as milliseconds, otherwise seconds.
func fromEpoch(n float64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	return time.Unix(int64(n), 0).UTC()
}

// Batch normalizes a slice of raw messages and returns the usable entries
// plus the count of dropped ones.
func Batch(raws []any, now time.Time) ([]session.TranscriptEntry, int) {
	var entries []session.TranscriptEntry
	dropped := 0
	for _, raw := range raws {
		e, ok := Entry(raw, now)
		if !ok {
			dropped++
			continue
		}
		entries = append(entries, e)
	}
	return entries, dropped
}
