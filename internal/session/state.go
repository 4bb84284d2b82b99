package session

import (
	"time"

	"github.com/jmylchreest/tvplay/internal/classify"
	"github.com/jmylchreest/tvplay/internal/models"
)

// State is the playback lifecycle state of a Session.
type State int

const (
	// StateIdle means no target has been loaded, or the session was released.
	StateIdle State = iota
	// StateBuffering means a target is loading or rebuffering.
	StateBuffering
	// StatePlaying means the engine is rendering the target.
	StatePlaying
	// StatePaused means the target is ready but playback intent is off.
	StatePaused
	// StateEnded means the engine reported the end of the stream.
	StateEnded
	// StateFailed means the last load failed. See Snapshot.WillRetry.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is what caused a transition.
type Event int

const (
	EventStart Event = iota
	EventRetry
	EventBuffering
	EventReady
	EventPause
	EventResume
	EventEnded
	EventFailure
	EventRejected
	EventRelease
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventRetry:
		return "retry"
	case EventBuffering:
		return "buffering"
	case EventReady:
		return "ready"
	case EventPause:
		return "pause"
	case EventResume:
		return "resume"
	case EventEnded:
		return "ended"
	case EventFailure:
		return "failure"
	case EventRejected:
		return "rejected"
	case EventRelease:
		return "release"
	default:
		return "unknown"
	}
}

// MarshalText renders the event by name.
func (e Event) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// Snapshot is a consistent copy of the session's observable state.
type Snapshot struct {
	SessionID  string                    `json:"session_id"`
	State      State                     `json:"state"`
	Target     models.Target             `json:"target"`
	Attempt    int                       `json:"attempt"`
	MaxRetries int                       `json:"max_retries"`
	WillRetry  bool                      `json:"will_retry"`
	RetryDelay time.Duration             `json:"retry_delay"`
	Autoplay   bool                      `json:"autoplay"`
	Err        *classify.ClassifiedError `json:"error,omitempty"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// Terminal reports whether the session failed without a pending retry.
func (s Snapshot) Terminal() bool {
	return s.State == StateFailed && !s.WillRetry
}

// Transition is published to observers after every state change.
type Transition struct {
	From  State
	Cause Event
	Snapshot
}

// Observer receives transitions. It is called inside the session's critical
// section, in transition order, and must not call back into the Session.
type Observer interface {
	OnTransition(Transition)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Transition)

// OnTransition calls f(t).
func (f ObserverFunc) OnTransition(t Transition) {
	f(t)
}
