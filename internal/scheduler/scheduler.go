// Package scheduler runs the pipeline on a fixed timer with an optional
// time-of-day execution window.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Runner executes one pipeline pass.
type Runner interface {
	Run(ctx context.Context) error
}

// Scheduler fires pipeline passes on a fixed interval. When a window is
// configured, ticks outside it are skipped silently.
type Scheduler struct {
	runner    Runner
	log       *slog.Logger
	interval  time.Duration
	start     time.Time
	end       time.Time
	hasWindow bool
	now       func() time.Time
}

// New creates a Scheduler firing every interval.
func New(runner Runner, interval time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		log:      log,
		interval: interval,
		now:      time.Now,
	}
}

// SetWindow restricts execution to the [start, end] time-of-day window.
// Only the clock components of start and end are used.
func (s *Scheduler) SetWindow(start, end time.Time) {
	s.start = start
	s.end = end
	s.hasWindow = true
}

// SetNow overrides the clock (for tests).
func (s *Scheduler) SetNow(now func() time.Time) { s.now = now }

// Run fires a pass immediately, then on every tick, blocking until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.InWindow(s.now()) {
		s.log.Debug("outside execution window, skipping pass")
		return
	}
	if err := s.runner.Run(ctx); err != nil {
		s.log.Error("pipeline pass", "error", err)
	}
}

// InWindow reports whether t's time of day falls inside the configured
// window. Always true when no window is set.
func (s *Scheduler) InWindow(t time.Time) bool {
	if !s.hasWindow {
		return true
	}
	minutes := t.Hour()*60 + t.Minute()
	start := s.start.Hour()*60 + s.start.Minute()
	end := s.end.Hour()*60 + s.end.Minute()
	if start <= end {
		return minutes >= start && minutes <= end
	}
	// Window crosses midnight.
	return minutes >= start || minutes <= end
}
