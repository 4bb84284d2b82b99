package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tvplay/internal/channel"
	"github.com/jmylchreest/tvplay/internal/overlay"
	"github.com/jmylchreest/tvplay/internal/player"
)

var playCmd = &cobra.Command{
	Use:   "play [channel-id]",
	Short: "Play a channel and read intents from stdin",
	Long: `Start a headless playback session and control it from stdin.

Commands:
  next, n          switch to the next channel
  prev, p          switch to the previous channel
  pause            pause playback
  resume           resume playback
  toggle, space    toggle pause
  retry            start the current channel again
  play <id>        switch to a channel
  list             list channels
  status           print the session state
  quit, q          stop and exit

Overlay changes are printed as they happen.`,
	Args:   cobra.MaximumNArgs(1),
	PreRun: bindPlaylistFlag,
	RunE:   runPlay,
}

func init() {
	addPlaylistFlag(playCmd)
	rootCmd.AddCommand(playCmd)
}

// addPlaylistFlag adds --playlist. Several commands share the viper key, so
// the flag is bound when its command runs rather than at init.
func addPlaylistFlag(cmd *cobra.Command) {
	cmd.Flags().String("playlist", "", "M3U playlist path or URL (overrides channels.playlist)")
}

func bindPlaylistFlag(cmd *cobra.Command, _ []string) {
	mustBindPFlag("channels.playlist", cmd.Flags().Lookup("playlist"))
}

func runPlay(cmd *cobra.Command, args []string) error {
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

	out := cmd.OutOrStdout()
	states, unsubscribe := a.player.Overlay().Subscribe(overlay.DefaultSubscriberBuffer)
	defer unsubscribe()
	go renderOverlay(out, states)

	channelID := ""
	if len(args) == 1 {
		channelID = args[0]
	}
	if err := a.start(ctx, channelID); err != nil {
		return err
	}

	return runConsole(ctx, cmd.InOrStdin(), out, a.player)
}

// Console is the subset of the player driven from stdin.
type Console interface {
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

var errQuit = errors.New("quit")

// runConsole reads one intent per line until EOF, "quit" or ctx is done.
func runConsole(ctx context.Context, in io.Reader, out io.Writer, c Console) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := dispatch(out, c, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

// dispatch executes a single console line.
func dispatch(out io.Writer, c Console, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		if line != "" {
			return c.TogglePause()
		}
		return nil
	}

	switch strings.ToLower(fields[0]) {
	case "next", "n":
		return c.Next()
	case "prev", "previous", "p":
		return c.Previous()
	case "pause":
		return c.Pause()
	case "resume":
		return c.Resume()
	case "toggle", "space":
		return c.TogglePause()
	case "retry":
		return c.Retry()
	case "play":
		if len(fields) != 2 {
			return fmt.Errorf("usage: play <channel-id>")
		}
		return c.Play(fields[1])
	case "list", "ls":
		return printChannels(out, c.Directory(), c.Status().Session.Target.ID)
	case "status":
		printStatus(out, c.Status())
		return nil
	case "quit", "q", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func printChannels(out io.Writer, dir *channel.Directory, currentID string) error {
	if dir == nil {
		return player.ErrNoDirectory
	}
	for _, t := range dir.All() {
		marker := " "
		if t.ID == currentID {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %4d  %-20s %s\n", marker, t.Number, t.ID, t.DisplayName())
	}
	return nil
}

func printStatus(out io.Writer, st player.Status) {
	snap := st.Session
	target := "-"
	if !snap.Target.IsZero() {
		target = snap.Target.DisplayName()
	}
	fmt.Fprintf(out, "state=%s channel=%q attempt=%d/%d autoplay=%t", snap.State, target, snap.Attempt, snap.MaxRetries, snap.Autoplay)
	if snap.WillRetry {
		fmt.Fprintf(out, " retry_in=%s", snap.RetryDelay)
	}
	if snap.Err != nil {
		fmt.Fprintf(out, " error=%s", snap.Err.Kind)
	}
	fmt.Fprintln(out)
}

// renderOverlay prints each overlay state until the channel closes.
func renderOverlay(out io.Writer, states <-chan overlay.State) {
	for st := range states {
		fmt.Fprintln(out, formatOverlay(st))
	}
}

func formatOverlay(st overlay.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", st.Kind)
	if st.Error != nil {
		fmt.Fprintf(&b, " %s", st.Error.Message)
	}
	if st.Banner != nil {
		fmt.Fprintf(&b, " | %s", st.Banner.Title)
		if st.Banner.Info != "" {
			fmt.Fprintf(&b, " (%s)", st.Banner.Info)
		}
	}
	return b.String()
}
