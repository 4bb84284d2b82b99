// Package overlay derives what the UI should show over the video from session
// transitions: a base state (hidden, loading, paused or error) plus an
// independent, self-dismissing channel banner.
package overlay

import (
	"time"

	"github.com/jmylchreest/tvplay/internal/classify"
)

// Kind is the base overlay state.
type Kind int

const (
	KindHidden Kind = iota
	KindLoading
	KindPaused
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindHidden:
		return "hidden"
	case KindLoading:
		return "loading"
	case KindPaused:
		return "paused"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ErrorInfo is the payload of the error overlay.
type ErrorInfo struct {
	Err        *classify.ClassifiedError `json:"-"`
	Kind       classify.Kind             `json:"kind"`
	Attempt    int                       `json:"attempt"`
	MaxRetries int                       `json:"max_retries"`
	Retrying   bool                      `json:"retrying"`
	Message    string                    `json:"message"`
}

// NewErrorInfo builds the error payload and its user-facing message.
func NewErrorInfo(err *classify.ClassifiedError, attempt, maxRetries int, retrying bool) *ErrorInfo {
	kind := classify.KindUnknown
	if err != nil {
		kind = err.Kind
	}
	return &ErrorInfo{
		Err:        err,
		Kind:       kind,
		Attempt:    attempt,
		MaxRetries: maxRetries,
		Retrying:   retrying,
		Message:    classify.BuildMessage(kind, attempt, maxRetries, retrying),
	}
}

// Banner is the transient channel information strip.
type Banner struct {
	Title     string    `json:"title"`
	Info      string    `json:"info,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// State is one published overlay state. Seq increases with every publish.
type State struct {
	Seq    uint64     `json:"seq"`
	Kind   Kind       `json:"kind"`
	Error  *ErrorInfo `json:"error,omitempty"`
	Banner *Banner    `json:"banner,omitempty"`
}
