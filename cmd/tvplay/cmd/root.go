// Package cmd implements the CLI commands for tvplay.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/tvplay/internal/config"
	"github.com/jmylchreest/tvplay/internal/observability"
	"github.com/jmylchreest/tvplay/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// logCloser releases the rotated log file, if any.
var logCloser io.Closer

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "tvplay",
	Short:   "Resilient headless live stream player",
	Version: version.Short(),
	Long: `tvplay plays live IPTV streams from an M3U playlist or a configured
channel list, recovers from network failures with bounded exponential
backoff, and reports what a UI should show over the video.

Run "tvplay play" for an interactive session on stdin, or "tvplay serve" to
control playback over HTTP.`,
	SilenceUsage: true,
	// PersistentPreRunE is set in init() to avoid initialization cycle
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	defer closeLog()
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Global flags are not bound to viper; they override config and env only
	// when explicitly set, so the precedence stays flag > env > file > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tvplay.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/tvplay")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tvplay")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig decodes and validates the merged configuration, applying the
// global logging flags.
func loadConfig() (*config.Config, error) {
	applyLogFlags(viper.GetViper())
	return config.Unmarshal(viper.GetViper())
}

func applyLogFlags(v *viper.Viper) {
	flags := rootCmd.PersistentFlags()
	if flags.Changed("log-level") {
		level, _ := flags.GetString("log-level")
		v.Set("logging.level", strings.ToLower(level))
	}
	if flags.Changed("log-format") {
		format, _ := flags.GetString("log-format")
		v.Set("logging.format", strings.ToLower(format))
	}
}

// initLogging configures the default slog logger from the logging section.
// Only that section is decoded so commands like "version" still run when
// the rest of the configuration is invalid.
func initLogging() error {
	applyLogFlags(viper.GetViper())

	var logCfg config.LoggingConfig
	if err := viper.UnmarshalKey("logging", &logCfg); err != nil {
		return fmt.Errorf("decoding logging config: %w", err)
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger, closer, err := observability.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	logCloser = closer

	logger = observability.WithApp(logger, version.ApplicationName)
	observability.SetDefault(logger)
	return nil
}

func closeLog() {
	if logCloser == nil {
		return
	}
	if err := logCloser.Close(); err != nil {
		slog.Warn("closing log file", slog.String("error", err.Error()))
	}
	logCloser = nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
