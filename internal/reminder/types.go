package reminder

import (
	"time"

	"duebell/internal/feed"
)

// Severity classifies how close to the deadline a notice fires. It is
// derived from the offset and only affects message styling, never dedup.
type Severity int

const (
	SeverityLow    Severity = iota // >= 60 minutes out
	SeverityMedium                 // 30-45 minutes out
	SeverityHigh                   // <= 15 minutes out
)

func (s Severity) String() string {
	switch s {
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

func severityFor(offset time.Duration) Severity {
	switch {
	case offset <= 15*time.Minute:
		return SeverityHigh
	case offset < 60*time.Minute:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Record is the delivery history for one assignment. The dedup key is
// (assignment id, target instant): targets are stored as absolute
// instants, not offsets, so a moved due time produces fresh targets
// instead of colliding with already-sent ones.
type Record struct {
	DueAt       time.Time   `json:"due_at"`
	SentTargets []time.Time `json:"sent_targets"`
	LastUpdated time.Time   `json:"last_updated"`
}

func (r Record) hasTarget(t time.Time) bool {
	for _, s := range r.SentTargets {
		if s.Equal(t) {
			return true
		}
	}
	return false
}

// State maps assignment identity to its delivery history. An absent key
// simply means zero prior sends.
type State map[string]Record

// Clone performs a deep copy; Decide uses it so callers never see their
// input state mutated.
func (s State) Clone() State {
	out := make(State, len(s))
	for id, rec := range s {
		cp := rec
		cp.SentTargets = append([]time.Time(nil), rec.SentTargets...)
		out[id] = cp
	}
	return out
}

// Notice is one lead-time reminder the engine decided is due right now.
type Notice struct {
	Assignment feed.Assignment
	Offset     time.Duration
	Target     time.Time
	Severity   Severity
}
