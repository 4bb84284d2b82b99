// Package player wires the playback session, the overlay coordinator, the
// channel directory and a media engine together, and turns user intents into
// session operations.
package player

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/tvplay/internal/channel"
	"github.com/jmylchreest/tvplay/internal/engine"
	"github.com/jmylchreest/tvplay/internal/metrics"
	"github.com/jmylchreest/tvplay/internal/models"
	"github.com/jmylchreest/tvplay/internal/observability"
	"github.com/jmylchreest/tvplay/internal/overlay"
	"github.com/jmylchreest/tvplay/internal/retry"
	"github.com/jmylchreest/tvplay/internal/session"
)

// DefaultBannerDuration is how long the channel banner stays up.
const DefaultBannerDuration = 4 * time.Second

// ErrNoDirectory is returned when navigation is requested without channels.
var ErrNoDirectory = errors.New("no channel directory")

// Options configures a Player.
type Options struct {
	// Engine is the media engine. Required.
	Engine engine.Engine
	// Directory provides navigation. Required for Play, Next and Previous.
	Directory *channel.Directory
	// Session configures the playback session.
	Session session.Options
	// Banners schedules banner dismissal. Nil uses the session scheduler's clock.
	Banners *retry.Scheduler
	// BannerDuration defaults to DefaultBannerDuration.
	BannerDuration time.Duration
	// RestartOnEnd starts the same target again, with retry backoff, when a
	// stream ends. It overrides Session.RestartOnEnd.
	RestartOnEnd bool
	// Metrics is optional.
	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

// DefaultOptions returns Options with the default session settings.
func DefaultOptions() Options {
	return Options{
		Session:        session.DefaultOptions(),
		BannerDuration: DefaultBannerDuration,
		RestartOnEnd:   true,
	}
}

// Status is a combined view of the session and the overlay.
type Status struct {
	Session session.Snapshot `json:"session"`
	Overlay overlay.State    `json:"overlay"`
}

// Player is the headless playback controller. It implements engine.Listener.
type Player struct {
	engine         engine.Engine
	session        *session.Session
	overlay        *overlay.Coordinator
	bannerDuration time.Duration
	logger         *slog.Logger

	dirMu sync.RWMutex
	dir   *channel.Directory

	unsubscribe []func()
}

var _ engine.Listener = (*Player)(nil)

// New creates a Player and subscribes it to the engine.
func New(opts Options) (*Player, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("player: engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BannerDuration <= 0 {
		opts.BannerDuration = DefaultBannerDuration
	}
	if opts.Session.Scheduler == nil {
		opts.Session.Scheduler = retry.New(nil, retry.DefaultConfig())
	}
	if opts.Session.Logger == nil {
		opts.Session.Logger = opts.Logger
	}
	opts.Session.RestartOnEnd = opts.RestartOnEnd
	if opts.Banners == nil {
		opts.Banners = retry.New(opts.Session.Scheduler.Clock(), retry.DefaultConfig())
	}

	sess := session.New(opts.Engine, opts.Session)
	coord := overlay.New(opts.Banners, opts.Logger)

	p := &Player{
		engine:         opts.Engine,
		dir:            opts.Directory,
		session:        sess,
		overlay:        coord,
		bannerDuration: opts.BannerDuration,
		logger:         observability.WithSession(observability.WithComponent(opts.Logger, "player"), sess.ID()),
	}

	p.unsubscribe = append(p.unsubscribe, sess.Subscribe(coord))
	if opts.Metrics != nil {
		p.unsubscribe = append(p.unsubscribe, sess.Subscribe(opts.Metrics))
	}
	p.unsubscribe = append(p.unsubscribe, opts.Engine.Subscribe(p))

	return p, nil
}

// Session returns the underlying session.
func (p *Player) Session() *session.Session {
	return p.session
}

// Overlay returns the overlay coordinator.
func (p *Player) Overlay() *overlay.Coordinator {
	return p.overlay
}

// Directory returns the channel directory, which may be nil.
func (p *Player) Directory() *channel.Directory {
	p.dirMu.RLock()
	defer p.dirMu.RUnlock()
	return p.dir
}

// SetDirectory replaces the channel directory, e.g. after a playlist
// refresh. The current session keeps playing its target.
func (p *Player) SetDirectory(dir *channel.Directory) {
	p.dirMu.Lock()
	p.dir = dir
	p.dirMu.Unlock()
	if dir != nil {
		p.logger.Info("channel directory updated", slog.Int("channels", dir.Len()))
	}
}

// Status returns the current session and overlay state.
func (p *Player) Status() Status {
	return Status{
		Session: p.session.Snapshot(),
		Overlay: p.overlay.Current(),
	}
}

// Play switches to the channel with the given ID.
func (p *Player) Play(id string) error {
	dir := p.Directory()
	if dir == nil {
		return ErrNoDirectory
	}
	target, err := dir.ByID(id)
	if err != nil {
		return err
	}
	return p.PlayTarget(target)
}

// PlayDefault switches to the directory's default channel.
func (p *Player) PlayDefault() error {
	dir := p.Directory()
	if dir == nil {
		return ErrNoDirectory
	}
	return p.PlayTarget(dir.Default())
}

// PlayTarget switches to target. Every switch is an explicit start and shows
// the channel banner.
func (p *Player) PlayTarget(target models.Target) error {
	observability.WithTarget(p.logger, target).Info("switching channel")
	p.overlay.ShowBanner(target.DisplayName(), bannerInfo(target), p.bannerDuration)
	if err := p.session.Start(target); err != nil {
		return fmt.Errorf("playing %s: %w", target.ID, err)
	}
	return nil
}

// Next switches to the channel after the current one.
func (p *Player) Next() error {
	return p.step((*channel.Directory).Next)
}

// Previous switches to the channel before the current one.
func (p *Player) Previous() error {
	return p.step((*channel.Directory).Previous)
}

func (p *Player) step(move func(*channel.Directory, string) (models.Target, error)) error {
	dir := p.Directory()
	if dir == nil {
		return ErrNoDirectory
	}

	current := p.session.Snapshot().Target
	if current.IsZero() {
		return p.PlayTarget(dir.Default())
	}

	target, err := move(dir, current.ID)
	if errors.Is(err, channel.ErrNotFound) {
		// The current target did not come from the directory.
		target, err = dir.Default(), nil
	}
	if err != nil {
		return err
	}
	return p.PlayTarget(target)
}

// Retry starts the current target again with a fresh attempt counter, for
// example after retries were exhausted.
func (p *Player) Retry() error {
	target := p.session.Snapshot().Target
	if target.IsZero() {
		return session.ErrNoTarget
	}
	return p.PlayTarget(target)
}

// Pause turns playback intent off.
func (p *Player) Pause() error {
	return p.session.Pause()
}

// Resume turns playback intent on.
func (p *Player) Resume() error {
	return p.session.Resume()
}

// TogglePause pauses a playing session and resumes a paused one.
func (p *Player) TogglePause() error {
	if p.session.Snapshot().State == session.StatePaused {
		return p.Resume()
	}
	return p.Pause()
}

// Release tears the player down. Banner and retry timers are cancelled
// before the engine releases its resources.
func (p *Player) Release() {
	for i := len(p.unsubscribe) - 1; i >= 0; i-- {
		p.unsubscribe[i]()
	}
	p.unsubscribe = nil

	p.overlay.Close()
	p.session.Release()
	p.logger.Info("player released")
}

// BufferingStarted implements engine.Listener.
func (p *Player) BufferingStarted() {
	p.session.NotifyBuffering()
}

// ReadyToPlay implements engine.Listener.
func (p *Player) ReadyToPlay(autoplay bool) {
	p.session.NotifyReady(autoplay)
}

// PlaybackEnded implements engine.Listener. The session arms the restart
// when RestartOnEnd is set.
func (p *Player) PlaybackEnded() {
	p.session.NotifyEnded()
}

// PlaybackFailed implements engine.Listener.
func (p *Player) PlaybackFailed(code int, message string) {
	p.session.NotifyFailure(code, message)
}

// bannerInfo renders the secondary banner line, for example "CH 7 · News".
func bannerInfo(t models.Target) string {
	var parts []string
	if t.Number > 0 {
		parts = append(parts, fmt.Sprintf("CH %d", t.Number))
	}
	if g := strings.TrimSpace(t.Group); g != "" {
		parts = append(parts, g)
	}
	return strings.Join(parts, " · ")
}
