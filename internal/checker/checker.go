// Package checker runs the polling pass: fetch assignments, decide
// which notices are due, deliver them, and record each delivery.
//
// Exactly one cycle executes at a time per service; scheduled ticks and
// manual triggers share the same entry point and the same state store.
// Running multiple daemons against one state file is not supported.
package checker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"duebell/internal/feed"
	"duebell/internal/notify"
	"duebell/internal/reminder"
	"duebell/internal/store"
	"duebell/pkg/logx"
)

const (
	DefaultTick          = time.Minute
	DefaultRetention     = 24 * time.Hour
	DefaultPruneSchedule = "0 4 * * *"
	DefaultCycleTimeout  = 45 * time.Second
	defaultSaveRetries   = 3
)

type Config struct {
	Tick          time.Duration
	PruneSchedule string
	Retention     time.Duration
	CycleTimeout  time.Duration
	SaveRetries   int
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.PruneSchedule == "" {
		c.PruneSchedule = DefaultPruneSchedule
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = DefaultCycleTimeout
	}
	if c.SaveRetries <= 0 {
		c.SaveRetries = defaultSaveRetries
	}
	return c
}

// Feed is the upstream assignment source.
type Feed interface {
	ListUpcoming(ctx context.Context, now time.Time, horizon time.Duration) ([]feed.Assignment, error)
}

// Summary describes one completed (or aborted) cycle.
type Summary struct {
	StartedAt   time.Time     `json:"started_at"`
	Took        time.Duration `json:"took"`
	Assignments int           `json:"assignments"`
	Due         int           `json:"due"`
	Sent        int           `json:"sent"`
	Failed      int           `json:"failed"`
	Error       string        `json:"error,omitempty"`
}

type Service struct {
	engine  *reminder.Engine
	feed    Feed
	store   store.Store
	channel notify.Channel
	log     logx.Logger

	// now is swapped in tests for deterministic cycles.
	now func() time.Time

	// runMu serializes cycles: a scheduled tick overlapping a manual
	// trigger queues behind it instead of racing on shared state.
	runMu sync.Mutex

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	baseCtx context.Context
	stopped bool
	last    *Summary
}

func New(cfg Config, engine *reminder.Engine, fd Feed, st store.Store, ch notify.Channel, log logx.Logger) *Service {
	return &Service{
		engine:  engine,
		feed:    fd,
		store:   st,
		channel: ch,
		log:     log,
		now:     time.Now,
		cfg:     cfg.withDefaults(),
	}
}

// Start registers the periodic tick and the pruning sweep. The ticks
// stop when Stop is called; ctx bounds the cycles they spawn.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.baseCtx = ctx
	s.stopped = false
	return s.startCronLocked()
}

func (s *Service) startCronLocked() error {
	c := cron.New()
	tickSpec := fmt.Sprintf("@every %s", s.cfg.Tick)
	if _, err := c.AddFunc(tickSpec, func() {
		if _, err := s.RunOnce(s.baseCtx); err != nil {
			s.log.Warn("scheduled check cycle failed", logx.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("register tick %q: %w", tickSpec, err)
	}
	if _, err := c.AddFunc(s.cfg.PruneSchedule, func() {
		if _, err := s.RunPrune(s.baseCtx); err != nil {
			s.log.Warn("prune sweep failed", logx.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("register prune schedule %q: %w", s.cfg.PruneSchedule, err)
	}
	c.Start()
	s.c = c
	s.log.Info("check cycle scheduled",
		logx.Duration("tick", s.cfg.Tick),
		logx.String("prune_schedule", s.cfg.PruneSchedule))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.stopped = true
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply updates tuning from a config reload. A changed tick or prune
// schedule restarts the cron; in-flight cycles are unaffected.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	restart := s.c != nil && (cfg.Tick != s.cfg.Tick || cfg.PruneSchedule != s.cfg.PruneSchedule)
	s.cfg = cfg
	if !restart {
		s.mu.Unlock()
		return nil
	}
	c := s.c
	s.c = nil
	s.mu.Unlock()

	// Drain without holding the mutex: an in-flight cron cycle takes it
	// to persist and to record its summary, so waiting while locked
	// would deadlock against our own tick.
	<-c.Stop().Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.c != nil {
		// Shut down (or restarted by a racing reload) while draining.
		return nil
	}
	return s.startCronLocked()
}

// RunOnce executes one check cycle. Manual triggers call this directly;
// it is the same path the scheduled tick takes.
func (s *Service) RunOnce(ctx context.Context) (Summary, error) {
	return s.runCycle(ctx, nil)
}

// RunTest injects a synthetic assignment due in 14 minutes through the
// normal cycle, so the 15-minute notice fires immediately and exercises
// feed-independent parts of the pipeline end to end.
func (s *Service) RunTest(ctx context.Context) (Summary, error) {
	due := s.now().UTC().Add(14 * time.Minute)
	return s.runCycle(ctx, []feed.Assignment{{
		ID:          "test-assignment-001",
		Name:        "🧪 Test assignment (safe to ignore)",
		Course:      "Test Course",
		DueAt:       due,
		Description: "Synthetic assignment created to verify the reminder pipeline.",
	}})
}

func (s *Service) runCycle(ctx context.Context, extra []feed.Assignment) (Summary, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, cfg.CycleTimeout)
	defer cancel()

	now := s.now().UTC()
	sum := Summary{StartedAt: now}
	defer func() {
		sum.Took = s.now().UTC().Sub(now)
		s.setLast(sum)
	}()

	engCfg := s.engine.Config()
	assignments, err := s.feed.ListUpcoming(ctx, now, engCfg.Horizon)
	if err != nil {
		// Abort without touching state; the next tick retries.
		sum.Error = err.Error()
		s.log.Error("assignment feed fetch failed; cycle aborted", logx.Err(err))
		return sum, err
	}
	assignments = append(assignments, extra...)
	sum.Assignments = len(assignments)

	st, err := s.store.Load(ctx)
	if err != nil {
		// Includes ErrCorruptState: fail the cycle loudly rather than
		// silently resetting and masking data loss.
		sum.Error = err.Error()
		s.log.Error("reminder state unreadable; cycle aborted", logx.Err(err))
		return sum, err
	}

	notices, _ := s.engine.Decide(now, assignments, st)
	sum.Due = len(notices)
	for _, n := range notices {
		s.log.Debug("notice due", logx.String("notice", n.String()), logx.String("key", n.DedupKey()))
	}

	// Sequential dispatch in decision order: two notices for the same
	// assignment in one tick must not race on its record.
	for _, n := range notices {
		if err := ctx.Err(); err != nil {
			// Cancelled between dispatches. Everything committed so far
			// stays valid; the rest is simply not attempted.
			sum.Error = err.Error()
			s.log.Warn("cycle cancelled mid-dispatch",
				logx.Int("sent", sum.Sent), logx.Int("pending", sum.Due-sum.Sent-sum.Failed))
			return sum, err
		}

		sentAt := s.now().UTC()
		if err := s.channel.Send(ctx, notify.Render(n, sentAt)); err != nil {
			// Not recorded: eligible for retry next cycle while its match
			// window lasts, or missed once the window elapses.
			sum.Failed++
			s.log.Error("notice delivery failed",
				logx.String("assignment_id", n.Assignment.ID),
				logx.Duration("offset", n.Offset),
				logx.Err(err))
			continue
		}

		// Commit immediately after each successful delivery so a crash
		// mid-cycle can only lose "not yet attempted" notices, never
		// produce a delivered-but-unrecorded one.
		st = reminder.CommitOne(st, n.Assignment.ID, n.Assignment.DueAt, n.Target, sentAt)
		if err := s.persist(ctx, st); err != nil {
			// The one unavoidable duplicate-risk window: delivered but not
			// recorded. Retries above keep it as small as possible.
			s.log.Error("state write failed after delivery; duplicate possible next tick",
				logx.String("assignment_id", n.Assignment.ID),
				logx.Duration("offset", n.Offset),
				logx.Err(err))
		}
		sum.Sent++
		s.log.Info("reminder sent",
			logx.String("assignment_id", n.Assignment.ID),
			logx.String("assignment", n.Assignment.Name),
			logx.Duration("offset", n.Offset),
			logx.Time("target", n.Target),
			logx.String("severity", n.Severity.String()),
			logx.String("channel", s.channel.Name()))
	}
	return sum, nil
}

func (s *Service) persist(ctx context.Context, st reminder.State) error {
	s.mu.Lock()
	retries := s.cfg.SaveRetries
	s.mu.Unlock()

	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		if err = s.store.Save(ctx, st); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return err
}

// RunPrune sweeps stale delivery records. It shares the cycle mutex so
// prune and save never interleave on the store.
func (s *Service) RunPrune(ctx context.Context) (int, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	retention := s.cfg.Retention
	s.mu.Unlock()

	removed, err := s.store.Prune(ctx, s.now().UTC(), retention)
	if err != nil {
		s.log.Error("prune failed", logx.Err(err))
		return 0, err
	}
	if removed > 0 {
		s.log.Info("stale reminder records pruned", logx.Int("removed", removed))
	}
	return removed, nil
}

// ListAssignments exposes the current feed view (bounded by the engine
// horizon) for the admin API.
func (s *Service) ListAssignments(ctx context.Context) ([]feed.Assignment, error) {
	return s.feed.ListUpcoming(ctx, s.now().UTC(), s.engine.Config().Horizon)
}

func (s *Service) setLast(sum Summary) {
	s.mu.Lock()
	s.last = &sum
	s.mu.Unlock()
}

// LastSummary returns the most recent cycle result, if any.
func (s *Service) LastSummary() (Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Summary{}, false
	}
	return *s.last, true
}

// Running reports whether the periodic tick is registered.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}
