// Package scheduler runs recurring background jobs, such as playlist
// refreshes, on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// ErrStarted is returned when jobs are added to a running scheduler.
var ErrStarted = errors.New("scheduler already started")

// Job is a recurring unit of work. A returned error is logged; the job
// keeps its schedule.
type Job func(ctx context.Context) error

// parser accepts 5-field expressions and descriptors such as "@hourly" or
// "@every 30m".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", expr, err)
	}
	return schedule, nil
}

type entry struct {
	name     string
	expr     string
	schedule cron.Schedule
	job      Job
}

// Scheduler runs each registered job in its own loop until stopped. Runs of
// one job never overlap.
type Scheduler struct {
	mu sync.Mutex

	clock   clockwork.Clock
	logger  *slog.Logger
	entries []entry

	// Running state
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. A nil clock uses the real clock.
func New(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		clock:  clock,
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Add registers job under name.
func (s *Scheduler) Add(name, expr string, job Job) error {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrStarted
	}
	s.entries = append(s.entries, entry{name: name, expr: expr, schedule: schedule, job: job})
	return nil
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start launches the job loops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrStarted
	}

	ctx, s.cancel = context.WithCancel(ctx)
	for _, e := range s.entries {
		s.wg.Add(1)
		go s.loop(ctx, e)
	}

	s.logger.Info("scheduler started", slog.Int("jobs", len(s.entries)))
	return nil
}

// Stop cancels the loops and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	defer s.wg.Done()

	for {
		now := s.clock.Now()
		next := e.schedule.Next(now)
		if next.IsZero() {
			s.logger.Warn("schedule has no next run", slog.String("job", e.name), slog.String("schedule", e.expr))
			return
		}

		timer := s.clock.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		s.run(ctx, e)
	}
}

func (s *Scheduler) run(ctx context.Context, e entry) {
	start := s.clock.Now()
	err := e.job(ctx)
	duration := s.clock.Since(start)

	if err != nil {
		s.logger.Error("scheduled job failed",
			slog.String("job", e.name),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("scheduled job completed",
		slog.String("job", e.name),
		slog.Duration("duration", duration.Round(time.Millisecond)))
}
