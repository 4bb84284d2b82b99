// Package config provides configuration management for tvplay using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/jmylchreest/tvplay/internal/models"
)

// EnvPrefix prefixes every environment override, e.g. TVPLAY_SERVER_PORT.
const EnvPrefix = "TVPLAY"

// Default configuration values.
const (
	defaultServerPort        = 8080
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultInitialRetryDelay = 1 * time.Second
	defaultMaxRetryDelay     = 30 * time.Second
	defaultMaxRetries        = 5
	defaultBannerDuration    = 4 * time.Second
	defaultStablePlayback    = 10 * time.Second
	defaultConnectTimeout    = 10 * time.Second
	defaultStallTimeout      = 15 * time.Second
	defaultPlaylistTimeout   = 30 * time.Second
	defaultMaxPlaylistBytes  = 64 * 1024 * 1024 // 64MB
	defaultLogMaxSizeMB      = 50
	defaultLogMaxBackups     = 3
	defaultLogMaxAgeDays     = 28
	maxRetriesCeiling        = 100
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Playback   PlaybackConfig   `mapstructure:"playback"`
	Channels   ChannelsConfig   `mapstructure:"channels"`
	Validation ValidationConfig `mapstructure:"validation"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ServerConfig holds control API server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// CORSOrigins lists origins allowed to call the API from a browser.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`

	// File enables rotated file output in addition to the console writer.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// PlaybackConfig holds retry and presentation settings.
type PlaybackConfig struct {
	InitialRetryDelay time.Duration `mapstructure:"initial_retry_delay"`
	MaxRetryDelay     time.Duration `mapstructure:"max_retry_delay"`
	MaxRetries        int           `mapstructure:"max_retries"`
	Autoplay          bool          `mapstructure:"autoplay"`
	BannerDuration    time.Duration `mapstructure:"banner_duration"`
	RestartOnEnd      bool          `mapstructure:"restart_on_end"`
	StablePlayback    time.Duration `mapstructure:"stable_playback"`
}

// ChannelsConfig describes where channels come from. Entries in List are
// appended after the playlist's channels.
type ChannelsConfig struct {
	Playlist        string         `mapstructure:"playlist"`
	Default         string         `mapstructure:"default"`
	List            []ChannelEntry `mapstructure:"list"`
	PlaylistTimeout time.Duration  `mapstructure:"playlist_timeout"`
	MaxPlaylistSize int64          `mapstructure:"max_playlist_size"`
	// RefreshSchedule reloads the playlist on a cron schedule, e.g.
	// "@every 6h" or "0 4 * * *". Empty disables refreshes.
	RefreshSchedule string `mapstructure:"refresh_schedule"`
}

// ChannelEntry is a channel declared directly in configuration.
type ChannelEntry struct {
	ID     string `mapstructure:"id" yaml:"id"`
	Name   string `mapstructure:"name" yaml:"name"`
	URI    string `mapstructure:"uri" yaml:"uri"`
	Number int    `mapstructure:"number" yaml:"number,omitempty"`
	Group  string `mapstructure:"group" yaml:"group,omitempty"`
	Logo   string `mapstructure:"logo" yaml:"logo,omitempty"`
}

// ValidationConfig restricts which targets may be played.
type ValidationConfig struct {
	AllowedSchemes []string `mapstructure:"allowed_schemes"`
	// AllowedHosts is empty to allow any host.
	AllowedHosts []string `mapstructure:"allowed_hosts"`
}

// EngineConfig holds probe engine settings.
type EngineConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	StallTimeout   time.Duration `mapstructure:"stall_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Example: TVPLAY_PLAYBACK_MAX_RETRIES=3.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/tvplay")
		v.AddConfigPath("$HOME/.tvplay")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return Unmarshal(v)
}

// Unmarshal decodes and validates the configuration held by v.
func Unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// Call it before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", defaultLogMaxSizeMB)
	v.SetDefault("logging.max_backups", defaultLogMaxBackups)
	v.SetDefault("logging.max_age_days", defaultLogMaxAgeDays)
	v.SetDefault("logging.compress", true)

	// Playback defaults
	v.SetDefault("playback.initial_retry_delay", defaultInitialRetryDelay)
	v.SetDefault("playback.max_retry_delay", defaultMaxRetryDelay)
	v.SetDefault("playback.max_retries", defaultMaxRetries)
	v.SetDefault("playback.autoplay", true)
	v.SetDefault("playback.banner_duration", defaultBannerDuration)
	v.SetDefault("playback.restart_on_end", true)
	v.SetDefault("playback.stable_playback", defaultStablePlayback)

	// Channel defaults
	v.SetDefault("channels.playlist", "")
	v.SetDefault("channels.default", "")
	v.SetDefault("channels.list", []ChannelEntry{})
	v.SetDefault("channels.playlist_timeout", defaultPlaylistTimeout)
	v.SetDefault("channels.max_playlist_size", defaultMaxPlaylistBytes)
	v.SetDefault("channels.refresh_schedule", "")

	// Validation defaults
	v.SetDefault("validation.allowed_schemes", []string{"http", "https"})
	v.SetDefault("validation.allowed_hosts", []string{})

	// Engine defaults
	v.SetDefault("engine.connect_timeout", defaultConnectTimeout)
	v.SetDefault("engine.stall_timeout", defaultStallTimeout)
	v.SetDefault("engine.user_agent", "")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	if c.Logging.File != "" && c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("logging.max_size_mb must be at least 1")
	}

	if err := c.Playback.validate(); err != nil {
		return err
	}

	validSchemes := map[string]bool{"http": true, "https": true, "file": true}
	if len(c.Validation.AllowedSchemes) == 0 {
		return fmt.Errorf("validation.allowed_schemes must not be empty")
	}
	for _, s := range c.Validation.AllowedSchemes {
		if !validSchemes[strings.ToLower(s)] {
			return fmt.Errorf("validation.allowed_schemes: unsupported scheme %q", s)
		}
	}

	if c.Engine.ConnectTimeout <= 0 {
		return fmt.Errorf("engine.connect_timeout must be positive")
	}
	if c.Engine.StallTimeout <= 0 {
		return fmt.Errorf("engine.stall_timeout must be positive")
	}

	if c.Channels.MaxPlaylistSize < 0 {
		return fmt.Errorf("channels.max_playlist_size must not be negative")
	}
	if c.Channels.RefreshSchedule != "" {
		if c.Channels.Playlist == "" {
			return fmt.Errorf("channels.refresh_schedule requires channels.playlist")
		}
		if _, err := cron.ParseStandard(c.Channels.RefreshSchedule); err != nil {
			return fmt.Errorf("channels.refresh_schedule: %w", err)
		}
	}
	seen := make(map[string]bool, len(c.Channels.List))
	for i, ch := range c.Channels.List {
		if ch.ID == "" {
			return fmt.Errorf("channels.list[%d].id is required", i)
		}
		if ch.URI == "" {
			return fmt.Errorf("channels.list[%d].uri is required", i)
		}
		if seen[ch.ID] {
			return fmt.Errorf("channels.list[%d]: duplicate id %q", i, ch.ID)
		}
		seen[ch.ID] = true
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

func (c *PlaybackConfig) validate() error {
	if c.InitialRetryDelay <= 0 {
		return fmt.Errorf("playback.initial_retry_delay must be positive")
	}
	if c.MaxRetryDelay < c.InitialRetryDelay {
		return fmt.Errorf("playback.max_retry_delay must not be less than playback.initial_retry_delay")
	}
	if c.MaxRetries < 0 || c.MaxRetries > maxRetriesCeiling {
		return fmt.Errorf("playback.max_retries must be between 0 and %d", maxRetriesCeiling)
	}
	if c.BannerDuration <= 0 {
		return fmt.Errorf("playback.banner_duration must be positive")
	}
	if c.StablePlayback <= 0 {
		return fmt.Errorf("playback.stable_playback must be positive")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Targets converts the configured channel list into targets.
func (c *ChannelsConfig) Targets() []models.Target {
	targets := make([]models.Target, 0, len(c.List))
	for _, ch := range c.List {
		targets = append(targets, models.Target{
			ID:     ch.ID,
			Name:   ch.Name,
			URI:    ch.URI,
			Number: ch.Number,
			Group:  ch.Group,
			Logo:   ch.Logo,
		})
	}
	return targets
}
