package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvplay/internal/channel"
	"github.com/jmylchreest/tvplay/internal/classify"
	"github.com/jmylchreest/tvplay/internal/models"
	"github.com/jmylchreest/tvplay/internal/overlay"
	"github.com/jmylchreest/tvplay/internal/player"
	"github.com/jmylchreest/tvplay/internal/session"
)

type fakeController struct {
	status player.Status
	dir    *channel.Directory
	err    error
	calls  []string
}

func (c *fakeController) Status() player.Status         { return c.status }
func (c *fakeController) Directory() *channel.Directory { return c.dir }

func (c *fakeController) record(call string) error {
	c.calls = append(c.calls, call)
	return c.err
}

func (c *fakeController) Play(id string) error { return c.record("play " + id) }
func (c *fakeController) Next() error          { return c.record("next") }
func (c *fakeController) Previous() error      { return c.record("previous") }
func (c *fakeController) Pause() error         { return c.record("pause") }
func (c *fakeController) Resume() error        { return c.record("resume") }
func (c *fakeController) TogglePause() error   { return c.record("toggle") }
func (c *fakeController) Retry() error         { return c.record("retry") }

func testDirectory(t *testing.T) *channel.Directory {
	t.Helper()
	dir, err := channel.NewDirectory([]models.Target{
		{ID: "news", Name: "News 24", URI: "http://user:pw@example.com/news.ts", Group: "News"},
		{ID: "sport", Name: "Sport", URI: "http://example.com/sport.ts?token=abc", Group: "Sport"},
		{ID: "weather", Name: "Weather", URI: "http://example.com/weather.ts", Group: "News"},
	}, "sport")
	require.NoError(t, err)
	return dir
}

func statusCode(t *testing.T, err error) int {
	t.Helper()
	var se huma.StatusError
	require.True(t, errors.As(err, &se), "expected huma status error, got %v", err)
	return se.GetStatus()
}

func TestPlayerHandler_GetStatus(t *testing.T) {
	ctrl := &fakeController{status: player.Status{
		Session: session.Snapshot{
			SessionID:  "01J0000000000000000000000",
			State:      session.StateFailed,
			Target:     models.Target{ID: "news", Name: "News 24", URI: "http://user:pw@example.com/news.ts"},
			Attempt:    2,
			MaxRetries: 5,
			WillRetry:  true,
			RetryDelay: 4 * time.Second,
			Err:        classify.Classify(classify.CodeIONetworkFailed, "connection refused"),
		},
		Overlay: overlay.State{
			Seq:   7,
			Kind:  overlay.KindError,
			Error: overlay.NewErrorInfo(classify.Classify(classify.CodeIONetworkFailed, ""), 2, 5, true),
		},
	}}
	h := NewPlayerHandler(ctrl)

	out, err := h.GetStatus(context.Background(), &GetStatusInput{})
	require.NoError(t, err)

	s := out.Body.Session
	assert.Equal(t, "failed", s.State)
	assert.Equal(t, 2, s.Attempt)
	assert.True(t, s.WillRetry)
	assert.False(t, s.Terminal)
	assert.Equal(t, int64(4000), s.RetryDelayMS)
	require.NotNil(t, s.Channel)
	assert.Equal(t, "news", s.Channel.ID)
	assert.NotContains(t, s.Channel.URI, "pw")
	require.NotNil(t, s.Error)
	assert.Equal(t, "network", s.Error.Kind)
	assert.True(t, s.Error.Retryable)

	o := out.Body.Overlay
	assert.Equal(t, uint64(7), o.Seq)
	assert.Equal(t, "error", o.Kind)
	require.NotNil(t, o.Error)
	assert.True(t, o.Error.Retrying)
	assert.Equal(t, classify.BuildMessage(classify.KindNetwork, 2, 5, true), o.Error.Message)
}

func TestPlayerHandler_GetStatusIdle(t *testing.T) {
	h := NewPlayerHandler(&fakeController{})

	out, err := h.GetStatus(context.Background(), &GetStatusInput{})
	require.NoError(t, err)
	assert.Equal(t, "idle", out.Body.Session.State)
	assert.Nil(t, out.Body.Session.Channel)
	assert.Nil(t, out.Body.Session.Error)
	assert.Equal(t, "hidden", out.Body.Overlay.Kind)
}

func TestPlayerHandler_ListChannels(t *testing.T) {
	h := NewPlayerHandler(&fakeController{dir: testDirectory(t)})

	out, err := h.ListChannels(context.Background(), &ListChannelsInput{})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Body.Count)
	assert.Equal(t, "sport", out.Body.DefaultID)
	assert.Equal(t, "news", out.Body.Channels[0].ID)
	assert.NotContains(t, out.Body.Channels[0].URI, "pw@")
	assert.NotContains(t, out.Body.Channels[1].URI, "abc")

	out, err = h.ListChannels(context.Background(), &ListChannelsInput{Group: "News"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Body.Count)
	for _, ch := range out.Body.Channels {
		assert.Equal(t, "News", ch.Group)
	}
}

func TestPlayerHandler_ListChannelsWithoutDirectory(t *testing.T) {
	h := NewPlayerHandler(&fakeController{})

	_, err := h.ListChannels(context.Background(), &ListChannelsInput{})
	assert.Equal(t, http.StatusNotFound, statusCode(t, err))
}

func TestPlayerHandler_PlayChannel(t *testing.T) {
	ctrl := &fakeController{}
	h := NewPlayerHandler(ctrl)

	_, err := h.PlayChannel(context.Background(), &PlayChannelInput{ID: "news"})
	require.NoError(t, err)
	assert.Equal(t, []string{"play news"}, ctrl.calls)
}

func TestPlayerHandler_Intents(t *testing.T) {
	ctrl := &fakeController{}
	h := NewPlayerHandler(ctrl)

	for _, fn := range []func() error{ctrl.Next, ctrl.Previous, ctrl.Pause, ctrl.Resume, ctrl.TogglePause, ctrl.Retry} {
		_, err := h.intent("test", fn)(context.Background(), &IntentInput{})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"next", "previous", "pause", "resume", "toggle", "retry"}, ctrl.calls)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"unknown channel", fmt.Errorf("lookup: %w", channel.ErrNotFound), http.StatusNotFound},
		{"no directory", player.ErrNoDirectory, http.StatusNotFound},
		{"nothing playing", session.ErrNoTarget, http.StatusConflict},
		{"invalid transition", fmt.Errorf("pause: %w", session.ErrInvalidTransition), http.StatusConflict},
		{"rejected", fmt.Errorf("playing x: %w", session.ErrTargetRejected), http.StatusUnprocessableEntity},
		{"released", session.ErrReleased, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{err: tt.err}
			h := NewPlayerHandler(ctrl)

			_, err := h.intent("test", ctrl.Pause)(context.Background(), &IntentInput{})
			assert.Equal(t, tt.code, statusCode(t, err))
		})
	}
}
