package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jmylchreest/tvplay/internal/channel"
	"github.com/jmylchreest/tvplay/internal/config"
	"github.com/jmylchreest/tvplay/internal/engine"
	"github.com/jmylchreest/tvplay/internal/metrics"
	"github.com/jmylchreest/tvplay/internal/observability"
	"github.com/jmylchreest/tvplay/internal/player"
	"github.com/jmylchreest/tvplay/internal/retry"
	"github.com/jmylchreest/tvplay/internal/scheduler"
	"github.com/jmylchreest/tvplay/internal/urlutil"
	"github.com/jmylchreest/tvplay/internal/version"
)

// app is the assembled playback stack shared by play and serve.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	engine   *engine.ProbeEngine
	loader   *channel.Loader
	player   *player.Player
	registry *prometheus.Registry
	jobs     *scheduler.Scheduler
}

// newApp builds the engine, channel directory and player from cfg. A
// directory that fails to load is logged, not fatal: targets can still be
// played once a refresh succeeds.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	clock := clockwork.NewRealClock()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	userAgent := cfg.Engine.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}

	eng := engine.NewProbeEngine(engine.ProbeOptions{
		ConnectTimeout: cfg.Engine.ConnectTimeout,
		StallTimeout:   cfg.Engine.StallTimeout,
		UserAgent:      userAgent,
		Clock:          clock,
		Logger:         logger,
	})

	loader := channel.NewLoader(channel.LoaderOptions{
		Timeout:   cfg.Channels.PlaylistTimeout,
		UserAgent: userAgent,
		MaxSize:   cfg.Channels.MaxPlaylistSize,
		Logger:    logger,
	})

	a := &app{
		cfg:      cfg,
		logger:   logger,
		engine:   eng,
		loader:   loader,
		registry: registry,
		jobs:     scheduler.New(clock).WithLogger(observability.WithComponent(logger, "scheduler")),
	}

	dir, err := a.buildDirectory(ctx)
	if err != nil {
		logger.Warn("channel directory unavailable", slog.String("error", err.Error()))
	}

	opts := player.DefaultOptions()
	opts.Engine = eng
	opts.Directory = dir
	opts.Session.MaxRetries = cfg.Playback.MaxRetries
	opts.Session.Autoplay = cfg.Playback.Autoplay
	opts.Session.StablePlayback = cfg.Playback.StablePlayback
	opts.Session.Validator = urlutil.NewPolicy(cfg.Validation.AllowedSchemes, cfg.Validation.AllowedHosts)
	opts.Session.Scheduler = retry.New(clock, retry.Config{
		InitialDelay: cfg.Playback.InitialRetryDelay,
		MaxDelay:     cfg.Playback.MaxRetryDelay,
	})
	opts.Banners = retry.New(clock, retry.DefaultConfig())
	opts.BannerDuration = cfg.Playback.BannerDuration
	opts.RestartOnEnd = cfg.Playback.RestartOnEnd
	opts.Metrics = metrics.NewRecorder(registry)
	opts.Logger = logger

	p, err := player.New(opts)
	if err != nil {
		return nil, fmt.Errorf("creating player: %w", err)
	}
	a.player = p

	if expr := cfg.Channels.RefreshSchedule; expr != "" {
		if err := a.jobs.Add("playlist_refresh", expr, a.refreshDirectory); err != nil {
			p.Release()
			return nil, fmt.Errorf("scheduling playlist refresh: %w", err)
		}
	}

	return a, nil
}

func (a *app) buildDirectory(ctx context.Context) (dir *channel.Directory, err error) {
	done := observability.TimedOperationWithError(ctx, a.logger, "load_channels", &err)
	defer done()

	return channel.Build(ctx, a.loader, a.cfg.Channels.Playlist, a.cfg.Channels.Targets(), a.cfg.Channels.Default)
}

// refreshDirectory reloads the playlist. The previous directory stays in
// place when the reload fails.
func (a *app) refreshDirectory(ctx context.Context) error {
	dir, err := a.buildDirectory(ctx)
	if err != nil {
		return err
	}
	a.player.SetDirectory(dir)
	return nil
}

// start runs background jobs and begins playback of channelID, or of the
// default channel when channelID is empty.
func (a *app) start(ctx context.Context, channelID string) error {
	if err := a.jobs.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	if a.player.Directory() == nil {
		a.logger.Warn("no channels available, waiting for intents")
		return nil
	}
	if channelID != "" {
		return a.player.Play(channelID)
	}
	return a.player.PlayDefault()
}

// close stops background work and releases the engine.
func (a *app) close() {
	a.jobs.Stop()
	a.player.Release()
	a.engine.Wait()
}
