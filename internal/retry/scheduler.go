// Package retry provides a single-flight, cancellable delayed-action timer
// with capped exponential backoff.
package retry

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Default backoff values.
const (
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 30 * time.Second
)

// Config holds backoff configuration for a Scheduler.
type Config struct {
	// InitialDelay is the delay used for attempt 0.
	InitialDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
}

// DefaultConfig returns the default backoff configuration.
func DefaultConfig() Config {
	return Config{
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
	}
}

// Task describes the pending delayed action of a Scheduler.
type Task struct {
	// Attempt is the 0-based attempt the delay was computed for.
	// It is -1 for fixed one-shot tasks armed with Schedule.
	Attempt int
	// Delay is how long after arming the action fires.
	Delay time.Duration
	// DueAt is the clock time at which the action fires.
	DueAt time.Time
}

// pending is the armed timer and the identity the fire callback checks.
type pending struct {
	task  Task
	timer clockwork.Timer
}

// Scheduler arms at most one delayed action at a time. Arming a new action
// always cancels the previous one; nothing is ever queued.
type Scheduler struct {
	clock  clockwork.Clock
	config Config

	mu      sync.Mutex
	current *pending
}

// New creates a Scheduler. A nil clock uses the real clock.
func New(clock clockwork.Clock, config Config) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = DefaultInitialDelay
	}
	if config.MaxDelay < config.InitialDelay {
		config.MaxDelay = config.InitialDelay
	}
	return &Scheduler{
		clock:  clock,
		config: config,
	}
}

// Delay returns min(InitialDelay * 2^attempt, MaxDelay). Negative attempts
// are treated as 0.
func (s *Scheduler) Delay(attempt int) time.Duration {
	return Backoff(attempt, s.config.InitialDelay, s.config.MaxDelay)
}

// Backoff computes min(initial * 2^attempt, maxDelay) without overflowing.
func Backoff(attempt int, initial, maxDelay time.Duration) time.Duration {
	d := initial
	if d >= maxDelay {
		return maxDelay
	}
	for i := 0; i < attempt; i++ {
		// Doubling past half of maxDelay reaches the cap.
		if d > maxDelay/2 {
			return maxDelay
		}
		d *= 2
	}
	return d
}

// ScheduleRetry cancels any pending action and arms action to run once after
// Delay(attempt). The scheduler places no ceiling on attempt; callers enforce
// their own maximum.
func (s *Scheduler) ScheduleRetry(attempt int, action func()) Task {
	if attempt < 0 {
		attempt = 0
	}
	return s.arm(attempt, s.Delay(attempt), action)
}

// Schedule cancels any pending action and arms action to run once after a
// fixed delay.
func (s *Scheduler) Schedule(delay time.Duration, action func()) Task {
	if delay < 0 {
		delay = 0
	}
	return s.arm(-1, delay, action)
}

func (s *Scheduler) arm(attempt int, delay time.Duration, action func()) Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()

	p := &pending{
		task: Task{
			Attempt: attempt,
			Delay:   delay,
			DueAt:   s.clock.Now().Add(delay),
		},
	}
	// The callback blocks on s.mu until arm returns, so current is set first.
	p.timer = s.clock.AfterFunc(delay, func() { s.fire(p, action) })
	s.current = p

	return p.task
}

// fire runs action only if p is still the pending task.
func (s *Scheduler) fire(p *pending, action func()) {
	s.mu.Lock()
	if s.current != p {
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.mu.Unlock()

	if action != nil {
		action()
	}
}

// Cancel disarms the pending action, if any. When Cancel returns before the
// action's fire time the action never runs. It reports whether an action was
// pending.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked()
}

// Reset is Cancel under a name for call sites that start fresh.
func (s *Scheduler) Reset() {
	s.Cancel()
}

func (s *Scheduler) cancelLocked() bool {
	if s.current == nil {
		return false
	}
	s.current.timer.Stop()
	s.current = nil
	return true
}

// Pending returns the pending task, if any.
func (s *Scheduler) Pending() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return Task{}, false
	}
	return s.current.task, true
}

// Clock returns the clock the scheduler arms timers on.
func (s *Scheduler) Clock() clockwork.Clock {
	return s.clock
}
