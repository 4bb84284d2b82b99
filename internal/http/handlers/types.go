// Package handlers provides the control API handlers for tvplay.
package handlers

import (
	"time"

	"github.com/jmylchreest/tvplay/internal/models"
	"github.com/jmylchreest/tvplay/internal/overlay"
	"github.com/jmylchreest/tvplay/internal/player"
	"github.com/jmylchreest/tvplay/internal/urlutil"
)

// ChannelResponse represents a channel in API responses. Stream URIs are
// returned with credentials masked.
type ChannelResponse struct {
	ID     string `json:"id" doc:"Channel ID"`
	Name   string `json:"name" doc:"Display name"`
	URI    string `json:"uri" doc:"Stream URI with credentials masked"`
	Number int    `json:"number,omitempty" doc:"Channel number"`
	Group  string `json:"group,omitempty" doc:"Channel group"`
	Logo   string `json:"logo,omitempty" doc:"Logo URL"`
}

// ChannelFromTarget converts a target to a ChannelResponse.
func ChannelFromTarget(t models.Target) ChannelResponse {
	return ChannelResponse{
		ID:     t.ID,
		Name:   t.DisplayName(),
		URI:    urlutil.Redact(t.URI),
		Number: t.Number,
		Group:  t.Group,
		Logo:   t.Logo,
	}
}

// ErrorDetail describes the classified failure of the last attempt.
type ErrorDetail struct {
	Kind       string `json:"kind"`
	Retryable  bool   `json:"retryable"`
	Message    string `json:"message"`
	ActionHint string `json:"action_hint,omitempty"`
	RawCode    int    `json:"raw_code"`
}

// SessionResponse is the playback session part of a status response.
type SessionResponse struct {
	SessionID    string           `json:"session_id"`
	State        string           `json:"state" enum:"idle,buffering,playing,paused,ended,failed"`
	Channel      *ChannelResponse `json:"channel,omitempty"`
	Attempt      int              `json:"attempt"`
	MaxRetries   int              `json:"max_retries"`
	WillRetry    bool             `json:"will_retry"`
	RetryDelayMS int64            `json:"retry_delay_ms,omitempty"`
	Autoplay     bool             `json:"autoplay"`
	Terminal     bool             `json:"terminal"`
	Error        *ErrorDetail     `json:"error,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// OverlayError is the payload of the error overlay.
type OverlayError struct {
	Kind       string `json:"kind"`
	Attempt    int    `json:"attempt"`
	MaxRetries int    `json:"max_retries"`
	Retrying   bool   `json:"retrying"`
	Message    string `json:"message"`
}

// BannerResponse is the channel banner.
type BannerResponse struct {
	Title     string    `json:"title"`
	Info      string    `json:"info,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OverlayResponse is what the UI should show over the video.
type OverlayResponse struct {
	Seq    uint64          `json:"seq"`
	Kind   string          `json:"kind" enum:"hidden,loading,paused,error"`
	Error  *OverlayError   `json:"error,omitempty"`
	Banner *BannerResponse `json:"banner,omitempty"`
}

// StatusResponse combines session and overlay state.
type StatusResponse struct {
	Session SessionResponse `json:"session"`
	Overlay OverlayResponse `json:"overlay"`
}

// StatusFromPlayer converts a player status to its API form.
func StatusFromPlayer(st player.Status) StatusResponse {
	return StatusResponse{
		Session: sessionResponse(st),
		Overlay: OverlayFromState(st.Overlay),
	}
}

func sessionResponse(st player.Status) SessionResponse {
	snap := st.Session
	resp := SessionResponse{
		SessionID:  snap.SessionID,
		State:      snap.State.String(),
		Attempt:    snap.Attempt,
		MaxRetries: snap.MaxRetries,
		WillRetry:  snap.WillRetry,
		Autoplay:   snap.Autoplay,
		Terminal:   snap.Terminal(),
		UpdatedAt:  snap.UpdatedAt,
	}
	if snap.WillRetry {
		resp.RetryDelayMS = snap.RetryDelay.Milliseconds()
	}
	if !snap.Target.IsZero() {
		ch := ChannelFromTarget(snap.Target)
		resp.Channel = &ch
	}
	if e := snap.Err; e != nil {
		resp.Error = &ErrorDetail{
			Kind:       e.Kind.String(),
			Retryable:  e.Retryable,
			Message:    e.UserMessage,
			ActionHint: e.ActionHint,
			RawCode:    e.RawCode,
		}
	}
	return resp
}

// OverlayFromState converts an overlay state to its API form. The overlay
// websocket sends the same shape.
func OverlayFromState(st overlay.State) OverlayResponse {
	resp := OverlayResponse{
		Seq:  st.Seq,
		Kind: st.Kind.String(),
	}
	if e := st.Error; e != nil {
		resp.Error = &OverlayError{
			Kind:       e.Kind.String(),
			Attempt:    e.Attempt,
			MaxRetries: e.MaxRetries,
			Retrying:   e.Retrying,
			Message:    e.Message,
		}
	}
	if b := st.Banner; b != nil {
		resp.Banner = &BannerResponse{
			Title:     b.Title,
			Info:      b.Info,
			ExpiresAt: b.ExpiresAt,
		}
	}
	return resp
}
