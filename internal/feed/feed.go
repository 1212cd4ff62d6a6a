// Package feed reads upcoming assignments from a Canvas LMS instance.
//
// The feed is treated as an opaque read-only source: assignments are
// re-fetched every check cycle and never written back.
package feed

import "time"

// Assignment is one upcoming item from the feed. DueAt is normalized
// to UTC; a zero DueAt never reaches callers (such entries are skipped
// at decode time).
type Assignment struct {
	ID          string
	Name        string
	Course      string
	DueAt       time.Time
	Description string
	URL         string
}
