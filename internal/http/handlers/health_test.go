package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvplay/internal/player"
	"github.com/jmylchreest/tvplay/internal/session"
)

type staticStatus player.Status

func (s staticStatus) Status() player.Status { return player.Status(s) }

func TestHealthHandler_GetLivez(t *testing.T) {
	handler := NewHealthHandler("1.0.0")

	output, err := handler.GetLivez(context.Background(), &LivezInput{})
	require.NoError(t, err)
	assert.Equal(t, "ok", output.Body.Status)
}

func TestHealthHandler_GetHealth(t *testing.T) {
	handler := NewHealthHandler("1.0.0")

	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)

	assert.Equal(t, "healthy", output.Body.Status)
	assert.Equal(t, "1.0.0", output.Body.Version)
	assert.NotEmpty(t, output.Body.Uptime)
	assert.NotZero(t, output.Body.CPUInfo.Cores)
	assert.Positive(t, output.Body.Memory.Goroutines)
	assert.Nil(t, output.Body.Playback)
}

func TestHealthHandler_PlaybackState(t *testing.T) {
	tests := []struct {
		name     string
		snapshot session.Snapshot
		status   string
		terminal bool
	}{
		{"playing", session.Snapshot{State: session.StatePlaying}, "healthy", false},
		{"retrying", session.Snapshot{State: session.StateFailed, WillRetry: true, Attempt: 2}, "healthy", false},
		{"gave up", session.Snapshot{State: session.StateFailed, Attempt: 5}, "degraded", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler("1.0.0").WithStatusSource(staticStatus{Session: tt.snapshot})

			output, err := handler.GetHealth(context.Background(), &HealthInput{})
			require.NoError(t, err)

			assert.Equal(t, tt.status, output.Body.Status)
			require.NotNil(t, output.Body.Playback)
			assert.Equal(t, tt.snapshot.State.String(), output.Body.Playback.State)
			assert.Equal(t, tt.terminal, output.Body.Playback.Terminal)
			assert.Equal(t, tt.snapshot.Attempt, output.Body.Playback.Attempt)
		})
	}
}
