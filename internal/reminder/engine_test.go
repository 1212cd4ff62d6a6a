package reminder

import (
	"fmt"
	"testing"
	"time"

	"duebell/internal/feed"
	"duebell/pkg/logx"
)

func testEngine(cfg Config) *Engine {
	return New(cfg, logx.Nop())
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func TestDecideSingleOffsetDue(t *testing.T) {
	t.Parallel()
	e := testEngine(Config{})
	due := mustParse(t, "2025-01-15T14:00:00Z")
	now := mustParse(t, "2025-01-15T13:00:30Z")
	a := feed.Assignment{ID: "a1", Name: "Essay", DueAt: due}

	notices, proposed := e.Decide(now, []feed.Assignment{a}, State{})
	if len(notices) != 1 {
		t.Fatalf("expected 1 notice, got %d", len(notices))
	}
	n := notices[0]
	if n.Offset != 60*time.Minute {
		t.Fatalf("Offset = %v, want 60m", n.Offset)
	}
	wantTarget := mustParse(t, "2025-01-15T13:00:00Z")
	if !n.Target.Equal(wantTarget) {
		t.Fatalf("Target = %v, want %v", n.Target, wantTarget)
	}
	rec, ok := proposed["a1"]
	if !ok {
		t.Fatal("proposed state missing record for a1")
	}
	if len(rec.SentTargets) != 1 || !rec.SentTargets[0].Equal(wantTarget) {
		t.Fatalf("proposed SentTargets = %v, want [%v]", rec.SentTargets, wantTarget)
	}

	// A later tick inside the same window, with the target recorded,
	// produces nothing new.
	later := mustParse(t, "2025-01-15T13:01:30Z")
	notices, _ = e.Decide(later, []feed.Assignment{a}, proposed)
	if len(notices) != 0 {
		t.Fatalf("expected 0 notices after commit, got %d", len(notices))
	}
}

func TestDecideWindowBounds(t *testing.T) {
	t.Parallel()
	e := testEngine(Config{Offsets: []time.Duration{15 * time.Minute}, MatchWindow: 2 * time.Minute})
	due := mustParse(t, "2025-03-01T10:00:00Z")
	a := feed.Assignment{ID: "a1", Name: "Quiz", DueAt: due}
	target := due.Add(-15 * time.Minute)

	tests := []struct {
		name string
		now  time.Time
		due  bool
	}{
		{name: "just before target", now: target.Add(-time.Second), due: false},
		{name: "exactly at target", now: target, due: true},
		{name: "inside window", now: target.Add(time.Minute), due: true},
		{name: "last instant of window", now: target.Add(2*time.Minute - time.Second), due: true},
		{name: "window closed", now: target.Add(2 * time.Minute), due: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notices, _ := e.Decide(tt.now, []feed.Assignment{a}, State{})
			if got := len(notices) == 1; got != tt.due {
				t.Fatalf("due = %v, want %v (now=%v)", got, tt.due, tt.now)
			}
		})
	}
}

func TestDecideOrdering(t *testing.T) {
	t.Parallel()
	// A wide window makes several offsets due at once.
	e := testEngine(Config{MatchWindow: time.Hour})
	now := mustParse(t, "2025-05-01T12:00:00Z")
	early := feed.Assignment{ID: "early", DueAt: now.Add(40 * time.Minute)}
	late := feed.Assignment{ID: "late", DueAt: now.Add(50 * time.Minute)}

	notices, _ := e.Decide(now, []feed.Assignment{late, early}, State{})
	if len(notices) != 3 {
		t.Fatalf("expected 3 notices, got %d", len(notices))
	}
	type key struct {
		id     string
		offset time.Duration
	}
	want := []key{
		// Earliest-due assignment first, least-urgent offset first.
		{"early", 60 * time.Minute},
		{"early", 45 * time.Minute},
		{"late", 60 * time.Minute},
	}
	for i, w := range want {
		if notices[i].Assignment.ID != w.id || notices[i].Offset != w.offset {
			t.Fatalf("notices[%d] = (%s, %v), want (%s, %v)",
				i, notices[i].Assignment.ID, notices[i].Offset, w.id, w.offset)
		}
	}
}

func TestDecideSkips(t *testing.T) {
	t.Parallel()
	e := testEngine(Config{})
	now := mustParse(t, "2025-06-01T00:00:00Z")

	tests := []struct {
		name string
		a    feed.Assignment
	}{
		{name: "already past due", a: feed.Assignment{ID: "p", DueAt: now.Add(-time.Minute)}},
		{name: "beyond horizon", a: feed.Assignment{ID: "h", DueAt: now.Add(8 * 24 * time.Hour)}},
		{name: "zero due time", a: feed.Assignment{ID: "z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notices, _ := e.Decide(now, []feed.Assignment{tt.a}, State{})
			if len(notices) != 0 {
				t.Fatalf("expected 0 notices, got %d", len(notices))
			}
		})
	}
}

func TestDecideDoesNotMutateInput(t *testing.T) {
	t.Parallel()
	e := testEngine(Config{})
	due := mustParse(t, "2025-01-15T14:00:00Z")
	now := due.Add(-60 * time.Minute)
	a := feed.Assignment{ID: "a1", DueAt: due}

	st := State{}
	notices, proposed := e.Decide(now, []feed.Assignment{a}, st)
	if len(notices) != 1 {
		t.Fatalf("expected 1 notice, got %d", len(notices))
	}
	if len(st) != 0 {
		t.Fatalf("input state mutated: %v", st)
	}
	if len(proposed) != 1 {
		t.Fatalf("proposed state missing commit: %v", proposed)
	}
}

func TestDueTimeChangePreservesHistory(t *testing.T) {
	t.Parallel()
	e := testEngine(Config{})
	oldDue := mustParse(t, "2025-01-15T14:00:00Z")
	newDue := mustParse(t, "2025-01-15T15:00:00Z")
	oldTarget := oldDue.Add(-60 * time.Minute)

	st := CommitOne(State{}, "a1", oldDue, oldTarget, oldTarget)

	// Upstream corrected the due time; the new 60-minute target must
	// still fire, and the old one stays recorded.
	now := mustParse(t, "2025-01-15T14:00:30Z")
	a := feed.Assignment{ID: "a1", DueAt: newDue}
	notices, proposed := e.Decide(now, []feed.Assignment{a}, st)
	if len(notices) != 1 {
		t.Fatalf("expected 1 notice for moved schedule, got %d", len(notices))
	}
	if want := newDue.Add(-60 * time.Minute); !notices[0].Target.Equal(want) {
		t.Fatalf("Target = %v, want %v", notices[0].Target, want)
	}
	rec := proposed["a1"]
	if len(rec.SentTargets) != 2 {
		t.Fatalf("expected old target preserved alongside new, got %v", rec.SentTargets)
	}
	if !rec.DueAt.Equal(newDue) {
		t.Fatalf("stored DueAt = %v, want refreshed %v", rec.DueAt, newDue)
	}
}

func TestCommitOne(t *testing.T) {
	t.Parallel()
	due := mustParse(t, "2025-02-01T10:00:00Z")
	target := due.Add(-30 * time.Minute)
	sentAt := target.Add(10 * time.Second)

	st := CommitOne(nil, "a1", due, target, sentAt)
	rec := st["a1"]
	if len(rec.SentTargets) != 1 {
		t.Fatalf("SentTargets = %v, want one entry", rec.SentTargets)
	}
	if !rec.LastUpdated.Equal(sentAt) {
		t.Fatalf("LastUpdated = %v, want %v", rec.LastUpdated, sentAt)
	}

	// Committing the same target again must not duplicate it.
	st = CommitOne(st, "a1", due, target, sentAt.Add(time.Minute))
	if got := len(st["a1"].SentTargets); got != 1 {
		t.Fatalf("duplicate commit grew SentTargets to %d", got)
	}
}

func TestPrune(t *testing.T) {
	t.Parallel()
	now := mustParse(t, "2025-04-10T12:00:00Z")
	retention := 24 * time.Hour

	st := State{
		"stale": {DueAt: now.Add(-48 * time.Hour), LastUpdated: now.Add(-30 * time.Hour)},
		"fresh": {DueAt: now.Add(-2 * time.Hour), LastUpdated: now.Add(-time.Hour)},
		// Still due in the future: kept even though its last write is old.
		"upcoming": {DueAt: now.Add(3 * 24 * time.Hour), LastUpdated: now.Add(-10 * 24 * time.Hour)},
	}
	st, removed := Prune(st, now, retention)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := st["stale"]; ok {
		t.Fatal("stale record survived prune")
	}
	if _, ok := st["fresh"]; !ok {
		t.Fatal("fresh record was pruned")
	}
	if _, ok := st["upcoming"]; !ok {
		t.Fatal("future-due record was pruned")
	}
}

func TestSeverity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		offset time.Duration
		want   Severity
	}{
		{15 * time.Minute, SeverityHigh},
		{30 * time.Minute, SeverityMedium},
		{45 * time.Minute, SeverityMedium},
		{60 * time.Minute, SeverityLow},
		{2 * time.Hour, SeverityLow},
	}
	for _, tt := range tests {
		if got := severityFor(tt.offset); got != tt.want {
			t.Fatalf("severityFor(%v) = %v, want %v", tt.offset, got, tt.want)
		}
	}
}

// TestTickSimulation replays a full schedule with a 60s tick and a 120s
// window: every offset must be delivered exactly once, no matter how the
// targets land relative to the tick grid.
func TestTickSimulation(t *testing.T) {
	t.Parallel()
	e := testEngine(Config{}) // defaults: 60/45/30/15m offsets, 2m window
	start := mustParse(t, "2025-01-15T13:00:17Z")
	due := start.Add(61*time.Minute + 23*time.Second)
	a := feed.Assignment{ID: "a1", Name: "Final project", DueAt: due}

	st := State{}
	delivered := map[string]int{}
	for now := start; now.Before(due); now = now.Add(60 * time.Second) {
		notices, _ := e.Decide(now, []feed.Assignment{a}, st)
		for _, n := range notices {
			delivered[fmt.Sprint(n.Offset)]++
			st = CommitOne(st, n.Assignment.ID, n.Assignment.DueAt, n.Target, now)
		}
	}

	for _, offset := range DefaultOffsets {
		if got := delivered[fmt.Sprint(offset)]; got != 1 {
			t.Fatalf("offset %v delivered %d times, want exactly 1", offset, got)
		}
	}
}

func TestApplySwapsOffsets(t *testing.T) {
	t.Parallel()
	e := testEngine(Config{})
	e.Apply(Config{Offsets: []time.Duration{10 * time.Minute}})

	due := mustParse(t, "2025-01-15T14:00:00Z")
	now := due.Add(-10 * time.Minute)
	notices, _ := e.Decide(now, []feed.Assignment{{ID: "a1", DueAt: due}}, State{})
	if len(notices) != 1 || notices[0].Offset != 10*time.Minute {
		t.Fatalf("expected single 10m notice after Apply, got %v", notices)
	}
}
