package overlay

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvplay/internal/classify"
	"github.com/jmylchreest/tvplay/internal/retry"
	"github.com/jmylchreest/tvplay/internal/session"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
	quiet   = 50 * time.Millisecond
)

func newTestCoordinator(t *testing.T) (*Coordinator, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	c := New(retry.New(clock, retry.DefaultConfig()), nil)
	t.Cleanup(c.Close)
	return c, clock
}

func transition(state session.State, cause session.Event) session.Transition {
	return session.Transition{
		Cause:    cause,
		Snapshot: session.Snapshot{State: state, MaxRetries: 5},
	}
}

func failed(code, attempt int, willRetry bool) session.Transition {
	return session.Transition{
		Cause: session.EventFailure,
		Snapshot: session.Snapshot{
			State:      session.StateFailed,
			Attempt:    attempt,
			MaxRetries: 5,
			WillRetry:  willRetry,
			Err:        classify.Classify(code, "boom"),
		},
	}
}

func TestCoordinator_StartsHidden(t *testing.T) {
	c, _ := newTestCoordinator(t)

	st := c.Current()
	assert.Equal(t, KindHidden, st.Kind)
	assert.Nil(t, st.Error)
	assert.Nil(t, st.Banner)
}

func TestCoordinator_Guards(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(c *Coordinator)
		request func(c *Coordinator)
		want    Kind
	}{
		{"paused from hidden", func(c *Coordinator) {}, func(c *Coordinator) { c.ShowPaused() }, KindPaused},
		{"paused dropped while loading", func(c *Coordinator) { c.ShowLoading() }, func(c *Coordinator) { c.ShowPaused() }, KindLoading},
		{"paused dropped while error", func(c *Coordinator) { c.ShowError(NewErrorInfo(nil, 0, 5, false)) }, func(c *Coordinator) { c.ShowPaused() }, KindError},
		{"error overrides loading", func(c *Coordinator) { c.ShowLoading() }, func(c *Coordinator) { c.ShowError(NewErrorInfo(nil, 1, 5, true)) }, KindError},
		{"error overrides paused", func(c *Coordinator) { c.ShowPaused() }, func(c *Coordinator) { c.ShowError(NewErrorInfo(nil, 1, 5, true)) }, KindError},
		{"loading from error", func(c *Coordinator) { c.ShowError(NewErrorInfo(nil, 1, 5, true)) }, func(c *Coordinator) { c.ShowLoading() }, KindLoading},
		{"hidden from error", func(c *Coordinator) { c.ShowError(NewErrorInfo(nil, 1, 5, true)) }, func(c *Coordinator) { c.ShowHidden() }, KindHidden},
		{"loading from paused", func(c *Coordinator) { c.ShowPaused() }, func(c *Coordinator) { c.ShowLoading() }, KindLoading},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCoordinator(t)
			tt.setup(c)
			tt.request(c)
			assert.Equal(t, tt.want, c.Current().Kind)
		})
	}
}

func TestCoordinator_PausedDroppedNotQueued(t *testing.T) {
	c, _ := newTestCoordinator(t)

	c.ShowLoading()
	assert.False(t, c.ShowPaused())

	c.ShowHidden()
	assert.Equal(t, KindHidden, c.Current().Kind, "dropped pause is not replayed")
}

func TestCoordinator_LoadingIsIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(t)

	c.ShowLoading()
	seq := c.Current().Seq
	c.ShowLoading()
	assert.Equal(t, seq, c.Current().Seq)
}

func TestCoordinator_OnTransitionMapping(t *testing.T) {
	c, _ := newTestCoordinator(t)

	c.OnTransition(transition(session.StateBuffering, session.EventStart))
	assert.Equal(t, KindLoading, c.Current().Kind)

	c.OnTransition(transition(session.StatePlaying, session.EventReady))
	assert.Equal(t, KindHidden, c.Current().Kind)

	c.OnTransition(transition(session.StatePaused, session.EventPause))
	assert.Equal(t, KindPaused, c.Current().Kind)

	c.OnTransition(transition(session.StateEnded, session.EventEnded))
	assert.Equal(t, KindLoading, c.Current().Kind)

	c.OnTransition(failed(classify.CodeIONetworkFailed, 1, true))
	st := c.Current()
	require.Equal(t, KindError, st.Kind)
	require.NotNil(t, st.Error)
	assert.Equal(t, classify.KindNetwork, st.Error.Kind)
	assert.True(t, st.Error.Retrying)

	c.OnTransition(transition(session.StateIdle, session.EventRelease))
	assert.Equal(t, KindHidden, c.Current().Kind)
	assert.Nil(t, c.Current().Error)
}

func TestCoordinator_ReadyButPausedShowsPaused(t *testing.T) {
	c, _ := newTestCoordinator(t)

	c.OnTransition(transition(session.StateBuffering, session.EventStart))
	c.OnTransition(transition(session.StatePaused, session.EventReady))
	assert.Equal(t, KindPaused, c.Current().Kind)

	c.OnTransition(failed(classify.CodeIONetworkTimeout, 1, true))
	c.OnTransition(transition(session.StatePaused, session.EventReady))
	assert.Equal(t, KindPaused, c.Current().Kind, "ready clears the retrying error")
}

func TestCoordinator_ErrorMessages(t *testing.T) {
	c, _ := newTestCoordinator(t)

	c.OnTransition(failed(classify.CodeIONetworkFailed, 1, true))
	assert.Contains(t, c.Current().Error.Message, "Retrying (1/5)")

	c.OnTransition(failed(classify.CodeIONetworkFailed, 5, false))
	assert.Contains(t, c.Current().Error.Message, "Unable to reconnect after 5 attempts")

	c.OnTransition(failed(classify.CodeDecodingFormatUnsupp, 0, false))
	st := c.Current()
	assert.Equal(t, classify.KindCodecUnsupported, st.Error.Kind)
	assert.NotContains(t, st.Error.Message, "Retrying")
}

func TestCoordinator_BannerExpiresExactly(t *testing.T) {
	c, clock := newTestCoordinator(t)

	c.ShowBanner("Channel A", "CH 1 · News", 4*time.Second)
	st := c.Current()
	require.NotNil(t, st.Banner)
	assert.Equal(t, "Channel A", st.Banner.Title)
	assert.Equal(t, clock.Now().Add(4*time.Second), st.Banner.ExpiresAt)

	clock.Advance(4*time.Second - time.Millisecond)
	time.Sleep(quiet)
	assert.NotNil(t, c.Current().Banner, "banner still showing before expiry")

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return c.Current().Banner == nil }, waitFor, tick)
}

func TestCoordinator_BannerReplacementRestartsTimer(t *testing.T) {
	c, clock := newTestCoordinator(t)

	c.ShowBanner("Channel A", "", 4*time.Second)
	clock.Advance(3 * time.Second)
	c.ShowBanner("Channel B", "", 4*time.Second)

	clock.Advance(2 * time.Second)
	time.Sleep(quiet)
	st := c.Current()
	require.NotNil(t, st.Banner, "first dismiss timer was cancelled")
	assert.Equal(t, "Channel B", st.Banner.Title)

	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return c.Current().Banner == nil }, waitFor, tick)
}

func TestCoordinator_BannerDismissKeepsCurrentBaseState(t *testing.T) {
	c, clock := newTestCoordinator(t)

	c.ShowLoading()
	c.ShowBanner("Channel A", "", time.Second)

	// The base state changes while the banner is up.
	c.ShowError(NewErrorInfo(classify.Classify(classify.CodeIONetworkFailed, ""), 1, 5, true))

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return c.Current().Banner == nil }, waitFor, tick)
	assert.Equal(t, KindError, c.Current().Kind)
}

func TestCoordinator_HideBanner(t *testing.T) {
	c, clock := newTestCoordinator(t)

	c.ShowBanner("Channel A", "", time.Second)
	c.HideBanner()
	assert.Nil(t, c.Current().Banner)

	c.ShowPaused()
	seq := c.Current().Seq
	clock.Advance(time.Minute)
	time.Sleep(quiet)
	assert.Equal(t, seq, c.Current().Seq, "cancelled dismiss never publishes")

	c.HideBanner()
	assert.Equal(t, seq, c.Current().Seq, "hiding without a banner is a no-op")
}

func TestCoordinator_SubscribeDeliversLatest(t *testing.T) {
	c, _ := newTestCoordinator(t)

	ch, unsubscribe := c.Subscribe(1)
	first := <-ch
	assert.Equal(t, KindHidden, first.Kind)

	c.ShowLoading()
	c.ShowError(NewErrorInfo(nil, 1, 5, true))
	c.ShowHidden()

	latest := <-ch
	assert.Equal(t, KindHidden, latest.Kind)
	assert.Equal(t, c.Current().Seq, latest.Seq, "slow reader gets the newest state")

	unsubscribe()
	unsubscribe()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestCoordinator_SubscribeOrdered(t *testing.T) {
	c, _ := newTestCoordinator(t)

	ch, unsubscribe := c.Subscribe(8)
	defer unsubscribe()

	c.ShowLoading()
	c.ShowHidden()

	var kinds []Kind
	for i := 0; i < 3; i++ {
		kinds = append(kinds, (<-ch).Kind)
	}
	assert.Equal(t, []Kind{KindHidden, KindLoading, KindHidden}, kinds)
}

func TestCoordinator_CloseStopsEverything(t *testing.T) {
	clock := clockwork.NewFakeClock()
	banners := retry.New(clock, retry.DefaultConfig())
	c := New(banners, nil)

	ch, _ := c.Subscribe(1)
	<-ch

	c.ShowBanner("Channel A", "", time.Second)
	<-ch

	c.Close()
	c.Close()

	_, pending := banners.Pending()
	assert.False(t, pending)

	_, ok := <-ch
	assert.False(t, ok)

	c.ShowLoading()
	assert.Equal(t, KindHidden, c.Current().Kind)

	late, _ := c.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "loading", KindLoading.String())
	assert.Equal(t, "unknown", Kind(9).String())

	text, err := KindError.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "error", string(text))
}
