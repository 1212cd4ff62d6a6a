package reminder

import (
	"sort"
	"sync"
	"time"

	"duebell/internal/feed"
	"duebell/pkg/logx"
)

// DefaultOffsets is the standard lead-time ladder, most distant first.
var DefaultOffsets = []time.Duration{
	60 * time.Minute,
	45 * time.Minute,
	30 * time.Minute,
	15 * time.Minute,
}

const (
	DefaultMatchWindow = 2 * time.Minute
	DefaultHorizon     = 7 * 24 * time.Hour
)

// Config tunes the decision algorithm. Zero fields fall back to the
// defaults above.
type Config struct {
	Offsets     []time.Duration
	MatchWindow time.Duration
	Horizon     time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.Offsets) == 0 {
		c.Offsets = DefaultOffsets
	}
	if c.MatchWindow <= 0 {
		c.MatchWindow = DefaultMatchWindow
	}
	if c.Horizon <= 0 {
		c.Horizon = DefaultHorizon
	}
	return c
}

// Engine decides which lead-time notices are due at a given instant.
// It performs no I/O; persistence is the caller's concern.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Engine {
	return &Engine{cfg: cfg.withDefaults(), log: log}
}

// Apply swaps the tuning at runtime (config reload). Safe to call
// concurrently with Decide.
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	cur := e.cfg
	e.mu.Unlock()
	e.log.Info("reminder tuning applied",
		logx.Any("offsets", cur.Offsets),
		logx.Duration("match_window", cur.MatchWindow),
		logx.Duration("horizon", cur.Horizon))
}

func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Decide returns the notices due at now plus the state as it would look
// if every one of them were delivered. The input state is not mutated;
// callers are expected to commit incrementally with CommitOne after each
// successful delivery rather than trusting the proposed state wholesale,
// so a crash between decision and delivery never fabricates a send.
//
// A notice for (assignment, target) is due iff
//
//	target <= now < target+window
//
// and the target is not already recorded. The half-open window must stay
// wider than the driving tick interval: that way every target lands in
// at least one tick even if a tick is delayed or skipped once, while a
// recorded target can never match twice.
func (e *Engine) Decide(now time.Time, assignments []feed.Assignment, st State) ([]Notice, State) {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	now = now.UTC()
	cutoff := now.Add(cfg.Horizon)

	var due []Notice
	for _, a := range assignments {
		if a.DueAt.IsZero() {
			e.log.Warn("skipping assignment without due time", logx.String("assignment_id", a.ID))
			continue
		}
		if !a.DueAt.After(now) || a.DueAt.After(cutoff) {
			continue
		}
		rec := st[a.ID]
		for _, offset := range cfg.Offsets {
			target := a.DueAt.Add(-offset).UTC()
			if now.Before(target) || !now.Before(target.Add(cfg.MatchWindow)) {
				continue
			}
			if rec.hasTarget(target) {
				continue
			}
			due = append(due, Notice{
				Assignment: a,
				Offset:     offset,
				Target:     target,
				Severity:   severityFor(offset),
			})
		}
	}

	// Least-urgent notice for the earliest-due assignment first. Ordering
	// only affects presentation; dedup does not depend on it.
	sort.Slice(due, func(i, j int) bool {
		di, dj := due[i].Assignment.DueAt, due[j].Assignment.DueAt
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		if due[i].Offset != due[j].Offset {
			return due[i].Offset > due[j].Offset
		}
		return due[i].Assignment.ID < due[j].Assignment.ID
	})

	proposed := st.Clone()
	for _, n := range due {
		proposed = CommitOne(proposed, n.Assignment.ID, n.Assignment.DueAt, n.Target, now)
	}
	return due, proposed
}

// CommitOne records a single delivered target. The stored due time is
// refreshed to the one observed at send time; previously sent targets
// are preserved, so a corrected due time leaves old targets recorded and
// lets the new schedule's targets fire independently.
func CommitOne(st State, id string, dueAt, target, sentAt time.Time) State {
	if st == nil {
		st = State{}
	}
	rec := st[id]
	rec.DueAt = dueAt.UTC()
	if !rec.hasTarget(target.UTC()) {
		rec.SentTargets = append(rec.SentTargets, target.UTC())
	}
	rec.LastUpdated = sentAt.UTC()
	st[id] = rec
	return st
}

// Prune drops records whose last write is older than retention. Records
// for assignments still due in the future are always kept, so a
// retention shorter than the lookahead horizon cannot erase history that
// could still fire. Pruning is storage hygiene, not correctness: a
// fetched assignment with no record just counts as zero prior sends.
func Prune(st State, now time.Time, retention time.Duration) (State, int) {
	cutoff := now.UTC().Add(-retention)
	removed := 0
	for id, rec := range st {
		if rec.DueAt.After(now) {
			continue
		}
		if rec.LastUpdated.Before(cutoff) {
			delete(st, id)
			removed++
		}
	}
	return st, removed
}
