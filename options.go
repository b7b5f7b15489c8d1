package kqloop

import "github.com/joeycumines/logiface"

// Option configures a Loop at construction time, following the
// functional-options style the teacher's own New(opts ...Option)
// constructors use throughout the corpus.
type Option func(*config)

type config struct {
	clock            ClockFunc
	logger           *logiface.Logger[*Event]
	scheduler        Scheduler
	maxEventsPerWait int
	defaultTimeoutMs int64
}

func defaultConfig() *config {
	return &config{
		clock:            defaultClock,
		logger:           newDefaultLogger(),
		scheduler:        newDefaultScheduler(),
		maxEventsPerWait: 128,
		defaultTimeoutMs: kqueueTimeoutCapMs,
	}
}

// WithClock overrides the Clock Source (spec.md §6); mainly useful in
// tests that need deterministic timer-ordering scenarios.
func WithClock(c ClockFunc) Option {
	return func(cfg *config) { cfg.clock = c }
}

// WithLogger overrides the structured logger the loop emits
// system-call-failure, registration-rollback, and lifecycle events to.
func WithLogger(l *logiface.Logger[*Event]) Option {
	return func(cfg *config) { cfg.logger = l }
}

// WithScheduler overrides the Task Scheduler (spec.md §2); a caller
// supplying their own must implement both immediate and timed task
// semantics per the Scheduler contract in scheduler.go.
func WithScheduler(s Scheduler) Option {
	return func(cfg *config) { cfg.scheduler = s }
}

// WithMaxEventsPerWait bounds the per-iteration kevent() buffer size,
// i.e. how many readiness events the RMH can report in one wait call
// before the main loop must fold and call back before polling again.
func WithMaxEventsPerWait(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.maxEventsPerWait = n
		}
	}
}

// WithDefaultTimeout overrides DEFAULT_TIMEOUT (spec.md §4.5), the cap
// an adaptive poll timeout is never allowed to exceed, in milliseconds.
// Values above kqueueTimeoutCapMs (100 s) are clamped to it by
// clampTimeoutMs, so this option can only lower the cap.
func WithDefaultTimeout(ms int64) Option {
	return func(cfg *config) {
		if ms > 0 {
			cfg.defaultTimeoutMs = ms
		}
	}
}
