package session

// statusRank orders lifecycle states so transitions only move forward.
func statusRank(s Status) int {
	switch s {
	case StatusCompleted:
		return 3
	case StatusInProgress:
		return 2
	case StatusCreated:
		return 1
	default:
		return 0
	}
}

// DeriveStatus infers the lifecycle state from what data the session holds:
// a non-empty transcript means in_progress, a non-empty transcript plus a
// recorded end means completed. No caller flag is trusted on its own.
func DeriveStatus(s *InterviewSession) Status {
	if len(s.Transcript) > 0 && s.EndedAt != nil {
		return StatusCompleted
	}
	if len(s.Transcript) > 0 {
		return StatusInProgress
	}
	return StatusCreated
}

// Advance returns the later of the current and derived status. Status never
// moves backward even if a merge briefly makes the derived state look earlier.
func Advance(current, derived Status) Status {
	if statusRank(derived) > statusRank(current) {
		return derived
	}
	if current == "" {
		return derived
	}
	return current
}
