// Package session implements the playback session state machine: it owns the
// lifecycle state, the current target, the retry attempt counter and the
// pending retry, and reacts to media-engine events.
package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/tvplay/internal/classify"
	"github.com/jmylchreest/tvplay/internal/models"
	"github.com/jmylchreest/tvplay/internal/retry"
	"github.com/jmylchreest/tvplay/internal/urlutil"
)

// DefaultMaxRetries is the default ceiling on consecutive retries.
const DefaultMaxRetries = 5

// DefaultStablePlayback is how long a load must play after becoming ready
// before an end counts as a clean finish rather than another attempt.
const DefaultStablePlayback = 10 * time.Second

// Session errors.
var (
	// ErrReleased is returned by operations on a released session.
	ErrReleased = errors.New("session released")
	// ErrInvalidTransition is returned when an intent is not valid in the current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrTargetRejected is returned when a target fails validation.
	ErrTargetRejected = errors.New("target rejected")
	// ErrNoTarget is returned by Restart before any target was started.
	ErrNoTarget = errors.New("no target")
)

// Engine is the command side of the media engine. Implementations must not
// deliver events synchronously from inside these calls.
type Engine interface {
	LoadAndPlay(uri string)
	SetAutoplayIntent(autoplay bool)
	ReleaseResources()
}

// Validator checks a target URI before every load attempt.
type Validator interface {
	Validate(uri string) error
}

// Options configures a Session.
type Options struct {
	// MaxRetries bounds consecutive retries on one target.
	MaxRetries int
	// Autoplay is the initial playback intent.
	Autoplay bool
	// Scheduler arms retries. Nil creates one with the default backoff.
	Scheduler *retry.Scheduler
	// Validator is consulted on every attempt. Nil allows http and https.
	Validator Validator
	// RestartOnEnd schedules a restart of the same target, with backoff,
	// when the stream ends. Restarts share the retry ceiling.
	RestartOnEnd bool
	// StablePlayback defaults to DefaultStablePlayback.
	StablePlayback time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the default session options.
func DefaultOptions() Options {
	return Options{
		MaxRetries:     DefaultMaxRetries,
		Autoplay:       true,
		StablePlayback: DefaultStablePlayback,
	}
}

type observerEntry struct {
	id  uint64
	obs Observer
}

// Session is the single authority over {target, attempt counter, pending
// retry}. All mutations run under one mutex, so engine callbacks, retry
// fires and user intents are serialized.
type Session struct {
	id             string
	engine         Engine
	scheduler      *retry.Scheduler
	validator      Validator
	logger         *slog.Logger
	maxRetries     int
	restartOnEnd   bool
	stablePlayback time.Duration

	mu         sync.Mutex
	state      State
	target     models.Target
	hasTarget  bool
	attempt    int
	autoplay   bool
	willRetry  bool
	retryTask  retry.Task
	lastErr    *classify.ClassifiedError
	generation uint64
	released   bool
	snapshot   Snapshot

	// loadSeq counts loads; readySeq is the load that last became ready,
	// with the attempt count and time at which it did.
	loadSeq      uint64
	readySeq     uint64
	readyAttempt int
	readyAt      time.Time

	observers      []observerEntry
	nextObserverID uint64
}

// New creates a Session commanding engine.
func New(engine Engine, opts Options) *Session {
	if opts.Scheduler == nil {
		opts.Scheduler = retry.New(nil, retry.DefaultConfig())
	}
	if opts.Validator == nil {
		opts.Validator = &urlutil.Policy{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.StablePlayback <= 0 {
		opts.StablePlayback = DefaultStablePlayback
	}

	clock := opts.Scheduler.Clock()
	id := ulid.MustNew(ulid.Timestamp(clock.Now()), rand.Reader).String()

	s := &Session{
		id:             id,
		engine:         engine,
		scheduler:      opts.Scheduler,
		validator:      opts.Validator,
		logger:         opts.Logger.With(slog.String("component", "session"), slog.String("session_id", id)),
		maxRetries:     opts.MaxRetries,
		restartOnEnd:   opts.RestartOnEnd,
		stablePlayback: opts.StablePlayback,
		state:          StateIdle,
		autoplay:       opts.Autoplay,
	}
	s.snapshot = s.buildSnapshotLocked()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Subscribe registers an observer and returns its unsubscribe function.
func (s *Session) Subscribe(obs Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextObserverID++
	id := s.nextObserverID
	s.observers = append(s.observers, observerEntry{id: id, obs: obs})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, e := range s.observers {
				if e.id == id {
					s.observers = append(s.observers[:i], s.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Start begins loading target. It resets the attempt counter and cancels any
// retry pending for a previous target, then validates and loads target.
func (s *Session) Start(target models.Target) error {
	if err := target.Validate(); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.startLocked(target)
}

// Restart starts the current target again as an explicit start.
func (s *Session) Restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrReleased
	}
	if !s.hasTarget {
		return ErrNoTarget
	}
	return s.startLocked(s.target)
}

func (s *Session) startLocked(target models.Target) error {
	if s.released {
		return ErrReleased
	}

	if s.hasTarget && s.target.ID != target.ID {
		s.logger.Info("switching target",
			slog.String("from", s.target.ID),
			slog.String("to", target.ID),
			slog.Int("abandoned_attempts", s.attempt),
		)
	}

	s.attempt = 0
	s.scheduler.Reset()

	return s.loadLocked(target, EventStart)
}

// retryStart re-enters the session for a retry armed at generation. A retry
// whose generation has been superseded is discarded.
func (s *Session) retryStart(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released || generation != s.generation {
		s.logger.Debug("discarding stale retry",
			slog.Uint64("armed_generation", generation),
			slog.Uint64("current_generation", s.generation),
		)
		return
	}

	if err := s.loadLocked(s.target, EventRetry); err != nil {
		s.logger.Warn("retry rejected", slog.String("error", err.Error()))
	}
}

// loadLocked validates target and commands the engine to load it. Every
// attempt, including retries, is validated afresh.
func (s *Session) loadLocked(target models.Target, cause Event) error {
	s.generation++
	s.loadSeq++
	s.target = target
	s.hasTarget = true
	s.willRetry = false
	s.retryTask = retry.Task{}
	s.lastErr = nil

	if err := s.validator.Validate(target.URI); err != nil {
		s.scheduler.Cancel()
		s.lastErr = classify.Classify(classify.CodeRejectedByPolicy, err.Error())
		s.logger.Warn("target rejected",
			slog.String("target_id", target.ID),
			slog.String("uri", urlutil.Redact(target.URI)),
			slog.String("error", err.Error()),
		)
		s.transitionLocked(StateFailed, EventRejected)
		return fmt.Errorf("%w: %w", ErrTargetRejected, err)
	}

	s.logger.Info("loading target",
		slog.String("target_id", target.ID),
		slog.String("uri", urlutil.Redact(target.URI)),
		slog.String("cause", cause.String()),
		slog.Int("attempt", s.attempt),
	)

	s.transitionLocked(StateBuffering, cause)
	s.engine.SetAutoplayIntent(s.autoplay)
	s.engine.LoadAndPlay(target.URI)
	return nil
}

// acceptsEngineEvents reports whether engine events apply in the current state.
func (s *Session) acceptsEngineEvents() bool {
	return !s.released && s.hasTarget
}

// NotifyBuffering moves the session to Buffering.
func (s *Session) NotifyBuffering() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acceptsEngineEvents() || s.state == StateFailed || s.state == StateBuffering {
		return
	}
	s.transitionLocked(StateBuffering, EventBuffering)
}

// NotifyReady moves the session to Playing, or Paused when autoplay is off.
// It resets the attempt counter and cancels any pending retry.
func (s *Session) NotifyReady(autoplay bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acceptsEngineEvents() || (s.state == StateFailed && !s.willRetry) {
		return
	}

	if s.scheduler.Cancel() {
		s.logger.Info("ready, cancelled pending retry", slog.Int("attempt", s.attempt))
	}
	// Supersede any retry callback already past the scheduler.
	s.generation++
	if s.readySeq != s.loadSeq {
		s.readySeq = s.loadSeq
		s.readyAttempt = s.attempt
		s.readyAt = s.scheduler.Clock().Now()
	}
	s.attempt = 0
	s.willRetry = false
	s.retryTask = retry.Task{}
	s.lastErr = nil
	s.autoplay = autoplay

	to := StatePaused
	if autoplay {
		to = StatePlaying
	}
	if s.state == to {
		s.snapshot = s.buildSnapshotLocked()
		return
	}
	s.transitionLocked(to, EventReady)
}

// NotifyEnded moves the session to Ended. For live streams this is abnormal:
// with RestartOnEnd a restart of the same target is armed in the same
// critical section, using the retry backoff and ceiling. An end that follows
// ready by less than StablePlayback gives back the attempts spent reaching
// ready, so a stream that keeps ending at once runs out of retries.
func (s *Session) NotifyEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acceptsEngineEvents() || s.state == StateFailed || s.state == StateEnded {
		return
	}
	s.scheduler.Cancel()
	s.generation++
	s.willRetry = false
	s.retryTask = retry.Task{}

	if s.readySeq == s.loadSeq && s.scheduler.Clock().Since(s.readyAt) < s.stablePlayback {
		s.attempt = s.readyAttempt
	}

	if !s.restartOnEnd {
		s.transitionLocked(StateEnded, EventEnded)
		return
	}

	if s.attempt >= s.maxRetries {
		s.transitionLocked(StateEnded, EventEnded)

		s.lastErr = classify.Classify(classify.CodeBehindLiveWindow, "stream ended")
		s.logger.Error("stream keeps ending, giving up",
			slog.String("target_id", s.target.ID),
			slog.Int("attempt", s.attempt),
			slog.Int("max_retries", s.maxRetries),
		)
		s.transitionLocked(StateFailed, EventFailure)
		return
	}

	generation := s.generation
	s.retryTask = s.scheduler.ScheduleRetry(s.attempt, func() { s.retryStart(generation) })
	s.attempt++
	s.willRetry = true

	s.logger.Info("stream ended, restart scheduled",
		slog.String("target_id", s.target.ID),
		slog.Int("attempt", s.attempt),
		slog.Int("max_retries", s.maxRetries),
		slog.Duration("delay", s.retryTask.Delay),
	)
	s.transitionLocked(StateEnded, EventEnded)
}

// NotifyFailure classifies a raw engine failure. Retryable failures under
// the ceiling arm a retry of the same target using the attempt value before
// it is incremented; anything else leaves the session terminally Failed.
func (s *Session) NotifyFailure(rawCode int, rawMessage string) {
	ce := classify.Classify(rawCode, rawMessage)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acceptsEngineEvents() {
		return
	}
	if s.state == StateFailed {
		s.logger.Debug("ignoring failure, session already failed",
			slog.Int("code", rawCode),
			slog.Bool("will_retry", s.willRetry),
		)
		return
	}

	s.lastErr = ce

	if ce.Retryable && s.attempt < s.maxRetries {
		generation := s.generation
		s.retryTask = s.scheduler.ScheduleRetry(s.attempt, func() { s.retryStart(generation) })
		s.attempt++
		s.willRetry = true

		s.logger.Warn("playback failed, retry scheduled",
			slog.String("target_id", s.target.ID),
			slog.String("kind", ce.Kind.String()),
			slog.Int("code", rawCode),
			slog.String("message", ce.RawMessage),
			slog.Int("attempt", s.attempt),
			slog.Int("max_retries", s.maxRetries),
			slog.Duration("delay", s.retryTask.Delay),
		)
	} else {
		s.scheduler.Cancel()
		s.willRetry = false
		s.retryTask = retry.Task{}

		s.logger.Error("playback failed",
			slog.String("target_id", s.target.ID),
			slog.String("kind", ce.Kind.String()),
			slog.Int("code", rawCode),
			slog.String("message", ce.RawMessage),
			slog.Bool("retryable", ce.Retryable),
			slog.Int("attempt", s.attempt),
			slog.Int("max_retries", s.maxRetries),
		)
	}

	s.transitionLocked(StateFailed, EventFailure)
}

// Pause turns playback intent off. Valid only while Playing or Paused.
func (s *Session) Pause() error {
	return s.setIntent(false)
}

// Resume turns playback intent on. Valid only while Playing or Paused.
func (s *Session) Resume() error {
	return s.setIntent(true)
}

func (s *Session) setIntent(play bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrReleased
	}

	from, to, cause := StatePlaying, StatePaused, EventPause
	if play {
		from, to, cause = StatePaused, StatePlaying, EventResume
	}

	switch s.state {
	case to:
		return nil
	case from:
		s.autoplay = play
		s.engine.SetAutoplayIntent(play)
		s.transitionLocked(to, cause)
		return nil
	default:
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, cause, s.state)
	}
}

// Release tears the session down: the pending retry is cancelled before the
// engine's resources are released. Later operations return ErrReleased.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return
	}

	s.scheduler.Cancel()
	s.generation++
	s.released = true
	s.willRetry = false
	s.retryTask = retry.Task{}

	s.engine.ReleaseResources()
	s.transitionLocked(StateIdle, EventRelease)
	s.observers = nil

	s.logger.Info("session released")
}

func (s *Session) buildSnapshotLocked() Snapshot {
	return Snapshot{
		SessionID:  s.id,
		State:      s.state,
		Target:     s.target,
		Attempt:    s.attempt,
		MaxRetries: s.maxRetries,
		WillRetry:  s.willRetry,
		RetryDelay: s.retryTask.Delay,
		Autoplay:   s.autoplay,
		Err:        s.lastErr,
		UpdatedAt:  s.scheduler.Clock().Now(),
	}
}

// transitionLocked changes state and notifies observers (must be called with lock held).
func (s *Session) transitionLocked(to State, cause Event) {
	from := s.state
	s.state = to
	s.snapshot = s.buildSnapshotLocked()

	s.logger.Debug("session transition",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("cause", cause.String()),
	)

	t := Transition{From: from, Cause: cause, Snapshot: s.snapshot}
	for _, e := range s.observers {
		e.obs.OnTransition(t)
	}
}
