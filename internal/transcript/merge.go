package transcript

import (
	"sort"
	"time"

	"github.com/hearsay-labs/hearsay/internal/session"
)

// MergeResult is the output of one merge pass.
type MergeResult struct {
	// Canonical is the new source-of-truth transcript: deduplicated and
	// chronologically sorted. Never shorter than the prior transcript.
	Canonical []session.TranscriptEntry
	// Delta holds only the entries that were not present before the merge.
	Delta []session.TranscriptEntry
}

// Merge combines a prior canonical transcript with a normalized batch.
// Callers disagree on whether they send just the new part or the whole
// transcript so far, so the batch shape picks the policy:
//
//   - len(batch) >= len(prior): full-transcript replacement. The canonical
//     result is the batch (plus any prior entry the batch dropped, so prior
//     entries are never lost).
//   - otherwise: pure increment, canonical = prior + new entries.
//
// In both policies the delta is computed by signature against the prior
// transcript, which makes re-merging the same batch a no-op. Entries without
// a timestamp get the current time plus a per-index offset to preserve
// within-batch order; the result is then sorted by timestamp.
func Merge(prior, batch []session.TranscriptEntry, now time.Time) MergeResult {
	priorSigs := make(map[string]bool, len(prior))
	for _, e := range prior {
		priorSigs[e.Signature()] = true
	}

	batch = backfillTimestamps(batch, now)

	var delta []session.TranscriptEntry
	for _, e := range batch {
		if !priorSigs[e.Signature()] {
			delta = append(delta, e)
		}
	}

	var canonical []session.TranscriptEntry
	if len(batch) >= len(prior) {
		canonical = append(canonical, batch...)
		// Re-add prior entries the replacement batch does not carry:
		// the canonical transcript never shrinks and never loses entries.
		inBatch := make(map[string]bool, len(batch))
		for _, e := range batch {
			inBatch[e.Signature()] = true
		}
		for _, e := range prior {
			if !inBatch[e.Signature()] {
				canonical = append(canonical, e)
			}
		}
	} else {
		canonical = append(canonical, prior...)
		canonical = append(canonical, delta...)
	}

	sort.SliceStable(canonical, func(i, j int) bool {
		return canonical[i].Timestamp.Before(canonical[j].Timestamp)
	})

	return MergeResult{Canonical: canonical, Delta: delta}
}

// backfillTimestamps clones the batch and assigns synthesized timestamps to
// entries that lack one. The millisecond-per-index offset keeps within-batch
// order stable through the final sort.
func backfillTimestamps(batch []session.TranscriptEntry, now time.Time) []session.TranscriptEntry {
	out := make([]session.TranscriptEntry, len(batch))
	copy(out, batch)
	for i := range out {
		if out[i].Timestamp.IsZero() {
			out[i].Timestamp = now.Add(time.Duration(i) * time.Millisecond)
		}
	}
	return out
}

// SignatureSet suppresses repeats across polling ticks. It lives for the
// duration of one poll loop, not inside Merge.
type SignatureSet map[string]struct{}

func NewSignatureSet() SignatureSet {
	return make(SignatureSet)
}

// Add records an entry's signature and reports whether it was new.
func (s SignatureSet) Add(e session.TranscriptEntry) bool {
	sig := e.Signature()
	if _, ok := s[sig]; ok {
		return false
	}
	s[sig] = struct{}{}
	return true
}

// Filter returns only the entries not seen before, recording them as seen.
func (s SignatureSet) Filter(entries []session.TranscriptEntry) []session.TranscriptEntry {
	var out []session.TranscriptEntry
	for _, e := range entries {
		if s.Add(e) {
			out = append(out, e)
		}
	}
	return out
}
