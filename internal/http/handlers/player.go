package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tvplay/internal/channel"
	"github.com/jmylchreest/tvplay/internal/observability"
	"github.com/jmylchreest/tvplay/internal/player"
	"github.com/jmylchreest/tvplay/internal/session"
)

// Controller is the playback surface exposed over HTTP. *player.Player
// implements it.
type Controller interface {
	Status() player.Status
	Directory() *channel.Directory
	Play(id string) error
	Next() error
	Previous() error
	Pause() error
	Resume() error
	TogglePause() error
	Retry() error
}

var _ Controller = (*player.Player)(nil)

// PlayerHandler handles status, channel and intent endpoints.
type PlayerHandler struct {
	ctrl Controller
}

// NewPlayerHandler creates a new player handler.
func NewPlayerHandler(ctrl Controller) *PlayerHandler {
	return &PlayerHandler{ctrl: ctrl}
}

// Register registers the player routes with the API.
func (h *PlayerHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getStatus",
		Method:      "GET",
		Path:        "/api/v1/status",
		Summary:     "Get playback status",
		Description: "Returns the session state and what the overlay currently shows",
		Tags:        []string{"Playback"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "listChannels",
		Method:      "GET",
		Path:        "/api/v1/channels",
		Summary:     "List channels",
		Description: "Returns the channel directory in navigation order",
		Tags:        []string{"Channels"},
	}, h.ListChannels)

	huma.Register(api, huma.Operation{
		OperationID: "playChannel",
		Method:      "POST",
		Path:        "/api/v1/channels/{id}/play",
		Summary:     "Play channel",
		Description: "Switches to the channel, resetting the retry counter",
		Tags:        []string{"Playback"},
	}, h.PlayChannel)

	intents := []struct {
		id, path, summary string
		fn                func() error
	}{
		{"nextChannel", "/api/v1/next", "Switch to the next channel", h.ctrl.Next},
		{"previousChannel", "/api/v1/previous", "Switch to the previous channel", h.ctrl.Previous},
		{"pausePlayback", "/api/v1/pause", "Pause playback", h.ctrl.Pause},
		{"resumePlayback", "/api/v1/resume", "Resume playback", h.ctrl.Resume},
		{"togglePause", "/api/v1/toggle", "Toggle pause", h.ctrl.TogglePause},
		{"retryPlayback", "/api/v1/retry", "Retry the current channel", h.ctrl.Retry},
	}
	for _, in := range intents {
		huma.Register(api, huma.Operation{
			OperationID: in.id,
			Method:      "POST",
			Path:        in.path,
			Summary:     in.summary,
			Tags:        []string{"Playback"},
		}, h.intent(in.id, in.fn))
	}
}

// GetStatusInput is the input for the status endpoint.
type GetStatusInput struct{}

// GetStatusOutput is the output for the status endpoint.
type GetStatusOutput struct {
	Body StatusResponse
}

// GetStatus returns the current playback status.
func (h *PlayerHandler) GetStatus(ctx context.Context, input *GetStatusInput) (*GetStatusOutput, error) {
	return &GetStatusOutput{Body: StatusFromPlayer(h.ctrl.Status())}, nil
}

// ListChannelsInput is the input for listing channels.
type ListChannelsInput struct {
	Group string `query:"group" doc:"Only return channels in this group"`
}

// ListChannelsOutput is the output for listing channels.
type ListChannelsOutput struct {
	Body struct {
		Channels  []ChannelResponse `json:"channels"`
		DefaultID string            `json:"default_id"`
		Count     int               `json:"count"`
	}
}

// ListChannels returns the channel directory.
func (h *PlayerHandler) ListChannels(ctx context.Context, input *ListChannelsInput) (*ListChannelsOutput, error) {
	dir := h.ctrl.Directory()
	if dir == nil {
		return nil, huma.Error404NotFound("no channels configured")
	}

	resp := &ListChannelsOutput{}
	resp.Body.Channels = make([]ChannelResponse, 0, dir.Len())
	for _, t := range dir.All() {
		if input.Group != "" && t.Group != input.Group {
			continue
		}
		resp.Body.Channels = append(resp.Body.Channels, ChannelFromTarget(t))
	}
	resp.Body.DefaultID = dir.Default().ID
	resp.Body.Count = len(resp.Body.Channels)
	return resp, nil
}

// PlayChannelInput is the input for switching channels.
type PlayChannelInput struct {
	ID string `path:"id" doc:"Channel ID"`
}

// PlayChannel switches to the requested channel.
func (h *PlayerHandler) PlayChannel(ctx context.Context, input *PlayChannelInput) (*GetStatusOutput, error) {
	if err := h.ctrl.Play(input.ID); err != nil {
		logIntentError(ctx, "play", err)
		return nil, mapError(err)
	}
	return &GetStatusOutput{Body: StatusFromPlayer(h.ctrl.Status())}, nil
}

// IntentInput is the input for parameterless intents.
type IntentInput struct{}

func (h *PlayerHandler) intent(name string, fn func() error) func(context.Context, *IntentInput) (*GetStatusOutput, error) {
	return func(ctx context.Context, _ *IntentInput) (*GetStatusOutput, error) {
		if err := fn(); err != nil {
			logIntentError(ctx, name, err)
			return nil, mapError(err)
		}
		return &GetStatusOutput{Body: StatusFromPlayer(h.ctrl.Status())}, nil
	}
}

func logIntentError(ctx context.Context, intent string, err error) {
	observability.LoggerFromContext(ctx).DebugContext(ctx, "intent rejected",
		slog.String("intent", intent),
		slog.String("error", err.Error()))
}

// mapError turns player and session errors into API errors.
func mapError(err error) error {
	switch {
	case errors.Is(err, channel.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, player.ErrNoDirectory):
		return huma.Error404NotFound("no channels configured")
	case errors.Is(err, session.ErrNoTarget):
		return huma.Error409Conflict("nothing is playing")
	case errors.Is(err, session.ErrInvalidTransition):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, session.ErrTargetRejected):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, session.ErrReleased):
		return huma.Error503ServiceUnavailable("player released")
	default:
		return huma.Error500InternalServerError("intent failed", err)
	}
}
