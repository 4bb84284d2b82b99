// Package classify maps raw media-engine failures into a typed,
// retry-policy-annotated error taxonomy and builds the user-facing text
// shown for them.
package classify

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind is the category of a classified playback failure.
type Kind int

const (
	// KindUnknown is any failure the classifier does not recognize.
	KindUnknown Kind = iota
	// KindNetwork is a connectivity failure.
	KindNetwork
	// KindTimeout is a network failure caused by a timeout.
	KindTimeout
	// KindStreamUnavailable means the source did not deliver a playable stream.
	KindStreamUnavailable
	// KindCodecUnsupported means the device cannot decode the stream.
	KindCodecUnsupported
	// KindAuthRequired means access to the stream was refused.
	KindAuthRequired
)

// Kinds lists every Kind in declaration order.
var Kinds = []Kind{
	KindUnknown,
	KindNetwork,
	KindTimeout,
	KindStreamUnavailable,
	KindCodecUnsupported,
	KindAuthRequired,
}

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindStreamUnavailable:
		return "stream_unavailable"
	case KindCodecUnsupported:
		return "codec_unsupported"
	case KindAuthRequired:
		return "auth_required"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Retryable reports whether failures of this kind may be retried.
func (k Kind) Retryable() bool {
	switch k {
	case KindCodecUnsupported, KindAuthRequired:
		return false
	default:
		return true
	}
}

// Description is the base user-facing description of the kind.
func (k Kind) Description() string {
	switch k {
	case KindNetwork:
		return "Network connection lost"
	case KindTimeout:
		return "The stream took too long to respond"
	case KindStreamUnavailable:
		return "This channel is currently unavailable"
	case KindCodecUnsupported:
		return "This stream format is not supported on this device"
	case KindAuthRequired:
		return "Access to this channel is not permitted"
	default:
		return "Playback error"
	}
}

// Hint is the optional action hint for the kind. Empty means none.
func (k Kind) Hint() string {
	switch k {
	case KindNetwork, KindTimeout:
		return "Check your internet connection"
	case KindStreamUnavailable, KindCodecUnsupported:
		return "Try another channel"
	case KindAuthRequired:
		return "Check your subscription"
	default:
		return ""
	}
}

// Taxonomy sentinels. A ClassifiedError unwraps to exactly one of these.
var (
	ErrNetwork = errors.New("network error")
	ErrStream  = errors.New("stream error")
	ErrCodec   = errors.New("codec error")
	ErrAuth    = errors.New("auth error")
	ErrUnknown = errors.New("unknown error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNetwork, KindTimeout:
		return ErrNetwork
	case KindStreamUnavailable:
		return ErrStream
	case KindCodecUnsupported:
		return ErrCodec
	case KindAuthRequired:
		return ErrAuth
	default:
		return ErrUnknown
	}
}

// maxRawMessageLen bounds how much of an engine message is retained.
const maxRawMessageLen = 512

// ClassifiedError is the immutable, classified form of one raw failure.
type ClassifiedError struct {
	Kind        Kind
	Retryable   bool
	UserMessage string
	// ActionHint is empty when the kind has no hint.
	ActionHint string
	RawCode    int
	RawMessage string
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.RawMessage == "" {
		return fmt.Sprintf("%s (code %d)", e.Kind, e.RawCode)
	}
	return fmt.Sprintf("%s (code %d): %s", e.Kind, e.RawCode, e.RawMessage)
}

// Unwrap returns the taxonomy sentinel for the error's kind.
func (e *ClassifiedError) Unwrap() error {
	return e.Kind.sentinel()
}

// IsTimeout reports whether the failure is a network timeout.
func (e *ClassifiedError) IsTimeout() bool {
	return e.Kind == KindTimeout
}

// Classify maps a raw engine code and message to a ClassifiedError. It is
// total and deterministic: the kind depends on the code alone and unknown
// codes classify as KindUnknown.
func Classify(rawCode int, rawMessage string) *ClassifiedError {
	kind := KindForCode(rawCode)
	return &ClassifiedError{
		Kind:        kind,
		Retryable:   kind.Retryable(),
		UserMessage: kind.Description(),
		ActionHint:  kind.Hint(),
		RawCode:     rawCode,
		RawMessage:  sanitize(rawMessage),
	}
}

// sanitize trims and bounds an engine message, dropping invalid UTF-8.
func sanitize(msg string) string {
	msg = strings.TrimSpace(strings.ToValidUTF8(msg, ""))
	if len(msg) <= maxRawMessageLen {
		return msg
	}
	cut := maxRawMessageLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

// BuildMessage produces the user-facing text for a failure of kind k.
//
// While retrying with attempt in 1..max it appends an "attempt/max" counter.
// Once attempt reaches max without a retry pending it returns the terminal
// message. Otherwise it returns the description with the hint appended.
func BuildMessage(k Kind, attempt, maxRetries int, retrying bool) string {
	base := k.Description()
	switch {
	case retrying && attempt > 0 && attempt <= maxRetries:
		return fmt.Sprintf("%s. Retrying (%d/%d)", base, attempt, maxRetries)
	case !retrying && maxRetries > 0 && attempt >= maxRetries:
		return fmt.Sprintf("%s. Unable to reconnect after %d attempts", base, maxRetries)
	}
	if hint := k.Hint(); hint != "" {
		return base + ". " + hint
	}
	return base
}
