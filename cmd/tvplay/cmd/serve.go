package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	internalhttp "github.com/jmylchreest/tvplay/internal/http"
	"github.com/jmylchreest/tvplay/internal/http/handlers"
	"github.com/jmylchreest/tvplay/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve [channel-id]",
	Short: "Start the player with the control API",
	Long: `Start a playback session and serve the control API.

The server provides:
- Playback status, channel list and intents under /api/v1
- The overlay state feed as a websocket at /api/v1/overlay/ws
- Health checks at /health and /livez
- Prometheus metrics (default /metrics)
- OpenAPI documentation at /docs`,
	Args:   cobra.MaximumNArgs(1),
	PreRun: bindPlaylistFlag,
	RunE:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	addPlaylistFlag(serveCmd)

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	server := internalhttp.NewServer(internalhttp.ServerConfigFrom(cfg.Server), logger, version.Version)

	handlers.NewHealthHandler(version.Version).WithStatusSource(a.player).Register(server.API())
	handlers.NewPlayerHandler(a.player).Register(server.API())
	server.MountOverlay(a.player.Overlay())
	if cfg.Metrics.Enabled {
		server.MountMetrics(cfg.Metrics.Path, a.registry)
	}

	channelID := ""
	if len(args) == 1 {
		channelID = args[0]
	}
	if err := a.start(ctx, channelID); err != nil {
		return err
	}

	logger.Info("starting tvplay server",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}
