package overlay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/tvplay/internal/retry"
	"github.com/jmylchreest/tvplay/internal/session"
)

// DefaultSubscriberBuffer is the channel capacity used when Subscribe is
// given a non-positive buffer.
const DefaultSubscriberBuffer = 1

type subscriber struct {
	ch chan State
}

// deliver performs a latest-value send: when the buffer is full the oldest
// queued state is dropped to make room. Only the coordinator sends, under
// its lock, so the loop terminates.
func (s *subscriber) deliver(st State) {
	for {
		select {
		case s.ch <- st:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// Coordinator derives overlay states from session transitions and owns the
// banner dismiss timer. It implements session.Observer.
type Coordinator struct {
	banners *retry.Scheduler
	logger  *slog.Logger

	mu        sync.Mutex
	kind      Kind
	errInfo   *ErrorInfo
	banner    *Banner
	bannerSeq uint64
	seq       uint64
	closed    bool

	subs    map[uint64]*subscriber
	nextSub uint64
}

var _ session.Observer = (*Coordinator)(nil)

// New creates a Coordinator. banners must be a scheduler dedicated to the
// banner track; a nil scheduler uses the real clock.
func New(banners *retry.Scheduler, logger *slog.Logger) *Coordinator {
	if banners == nil {
		banners = retry.New(nil, retry.DefaultConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		banners: banners,
		logger:  logger.With(slog.String("component", "overlay")),
		kind:    KindHidden,
		subs:    make(map[uint64]*subscriber),
	}
}

// OnTransition maps a session transition onto the base overlay state.
func (c *Coordinator) OnTransition(t session.Transition) {
	switch t.State {
	case session.StateBuffering, session.StateEnded:
		c.ShowLoading()
	case session.StatePlaying, session.StateIdle:
		c.ShowHidden()
	case session.StatePaused:
		c.mu.Lock()
		defer c.mu.Unlock()
		// A ready transition supersedes the loading or error state it ends.
		if t.Cause == session.EventReady && c.kind != KindPaused {
			c.kind = KindHidden
			c.errInfo = nil
		}
		c.requestPausedLocked()
	case session.StateFailed:
		c.ShowError(NewErrorInfo(t.Err, t.Attempt, t.MaxRetries, t.WillRetry))
	}
}

// ShowLoading moves to Loading. It is a no-op when already loading.
func (c *Coordinator) ShowLoading() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.kind == KindLoading {
		return
	}
	c.setLocked(KindLoading, nil)
}

// ShowHidden clears the base overlay.
func (c *Coordinator) ShowHidden() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.kind == KindHidden {
		return
	}
	c.setLocked(KindHidden, nil)
}

// ShowPaused moves to Paused unless Loading or Error is showing, in which
// case the request is dropped. It reports whether the state applied.
func (c *Coordinator) ShowPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestPausedLocked()
}

func (c *Coordinator) requestPausedLocked() bool {
	switch c.kind {
	case KindPaused:
		return true
	case KindLoading, KindError:
		c.logger.Debug("pause overlay dropped", slog.String("current", c.kind.String()))
		return false
	}
	c.setLocked(KindPaused, nil)
	return true
}

// ShowError moves to Error, overriding any other base state.
func (c *Coordinator) ShowError(info *ErrorInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(KindError, info)
}

// ShowBanner shows a banner for d, replacing any banner already showing and
// its dismiss timer.
func (c *Coordinator) ShowBanner(title, info string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.bannerSeq++
	seq := c.bannerSeq
	task := c.banners.Schedule(d, func() { c.dismissBanner(seq) })
	c.banner = &Banner{Title: title, Info: info, ExpiresAt: task.DueAt}
	c.publishLocked()
}

// HideBanner cancels the dismiss timer and clears the banner immediately.
func (c *Coordinator) HideBanner() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.banners.Cancel()
	if c.banner == nil {
		return
	}
	c.bannerSeq++
	c.banner = nil
	c.publishLocked()
}

// dismissBanner clears the banner armed as seq. Whatever base state is
// current at that moment stays visible.
func (c *Coordinator) dismissBanner(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || seq != c.bannerSeq || c.banner == nil {
		return
	}
	c.banner = nil
	c.publishLocked()
}

// Current returns the latest overlay state.
func (c *Coordinator) Current() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Subscribe returns a channel receiving every published state, starting with
// the current one. A slow reader loses intermediate states but always gets
// the newest. The channel is closed on unsubscribe or Close.
func (c *Coordinator) Subscribe(buffer int) (<-chan State, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	sub := &subscriber{ch: make(chan State, buffer)}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	c.nextSub++
	id := c.nextSub
	c.subs[id] = sub
	sub.deliver(c.stateLocked())

	return sub.ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if s, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(s.ch)
		}
	}
}

// Close cancels the banner timer and closes all subscriber channels.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.banners.Cancel()
	for id, s := range c.subs {
		delete(c.subs, id)
		close(s.ch)
	}
}

func (c *Coordinator) setLocked(kind Kind, info *ErrorInfo) {
	if c.closed {
		return
	}
	c.kind = kind
	c.errInfo = info
	c.publishLocked()
}

func (c *Coordinator) stateLocked() State {
	st := State{Seq: c.seq, Kind: c.kind}
	if c.errInfo != nil {
		info := *c.errInfo
		st.Error = &info
	}
	if c.banner != nil {
		b := *c.banner
		st.Banner = &b
	}
	return st
}

func (c *Coordinator) publishLocked() {
	c.seq++
	st := c.stateLocked()

	c.logger.Debug("overlay state",
		slog.String("kind", st.Kind.String()),
		slog.Bool("banner", st.Banner != nil),
		slog.Uint64("seq", st.Seq),
	)

	for _, s := range c.subs {
		s.deliver(st)
	}
}
