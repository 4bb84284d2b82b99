// Package metrics exposes Prometheus instruments for playback sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jmylchreest/tvplay/internal/session"
)

const namespace = "tvplay"

var sessionStates = []session.State{
	session.StateIdle,
	session.StateBuffering,
	session.StatePlaying,
	session.StatePaused,
	session.StateEnded,
	session.StateFailed,
}

// Recorder turns session transitions into metrics. It implements
// session.Observer.
type Recorder struct {
	// Transitions counts transitions by target state and cause.
	Transitions *prometheus.CounterVec

	// Starts counts loads issued by explicit starts, excluding retries.
	Starts prometheus.Counter

	// Failures counts classified failures by kind.
	Failures *prometheus.CounterVec

	// RetriesScheduled counts armed retries.
	RetriesScheduled prometheus.Counter

	// RetryDelay observes the delay of every armed retry.
	RetryDelay prometheus.Histogram

	// TerminalFailures counts failures with no retry pending, by kind.
	TerminalFailures *prometheus.CounterVec

	// State is 1 for the current session state and 0 otherwise.
	State *prometheus.GaugeVec

	// Attempt is the current consecutive retry attempt.
	Attempt prometheus.Gauge
}

var _ session.Observer = (*Recorder)(nil)

// NewRecorder registers the instruments with reg. A nil reg uses the default
// registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	r := &Recorder{
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_transitions_total",
				Help:      "Total number of session state transitions",
			},
			[]string{"state", "cause"},
		),
		Starts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "playback_starts_total",
				Help:      "Total number of explicitly started loads",
			},
		),
		Failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "playback_failures_total",
				Help:      "Total number of playback failures by kind",
			},
			[]string{"kind"},
		),
		RetriesScheduled: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_scheduled_total",
				Help:      "Total number of retries scheduled",
			},
		),
		RetryDelay: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retry_delay_seconds",
				Help:      "Backoff delay of scheduled retries in seconds",
				Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 30, 60},
			},
		),
		TerminalFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminal_failures_total",
				Help:      "Total number of failures that left the session terminal",
			},
			[]string{"kind"},
		),
		State: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_state",
				Help:      "Current session state (1 for the active state)",
			},
			[]string{"state"},
		),
		Attempt: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "retry_attempt",
				Help:      "Current consecutive retry attempt",
			},
		),
	}

	r.setState(session.StateIdle)
	return r
}

// OnTransition records t.
func (r *Recorder) OnTransition(t session.Transition) {
	r.Transitions.WithLabelValues(t.State.String(), t.Cause.String()).Inc()
	r.setState(t.State)
	r.Attempt.Set(float64(t.Attempt))

	switch t.Cause {
	case session.EventStart:
		r.Starts.Inc()
	case session.EventFailure, session.EventRejected:
		kind := "unknown"
		if t.Err != nil {
			kind = t.Err.Kind.String()
		}
		r.Failures.WithLabelValues(kind).Inc()
		if t.WillRetry {
			r.RetriesScheduled.Inc()
			r.RetryDelay.Observe(t.RetryDelay.Seconds())
		} else {
			r.TerminalFailures.WithLabelValues(kind).Inc()
		}
	case session.EventEnded:
		if t.WillRetry {
			r.RetriesScheduled.Inc()
			r.RetryDelay.Observe(t.RetryDelay.Seconds())
		}
	}
}

func (r *Recorder) setState(current session.State) {
	for _, s := range sessionStates {
		v := 0.0
		if s == current {
			v = 1
		}
		r.State.WithLabelValues(s.String()).Set(v)
	}
}
