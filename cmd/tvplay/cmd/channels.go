package cmd

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/tvplay/internal/channel"
	"github.com/jmylchreest/tvplay/internal/urlutil"
	"github.com/jmylchreest/tvplay/internal/version"
)

var channelsFormat string

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List the channel directory",
	Long: `Load the configured playlist and channel list and print the resulting
directory in navigation order. Useful for checking a playlist before playing.`,
	PreRun: bindPlaylistFlag,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		userAgent := cfg.Engine.UserAgent
		if userAgent == "" {
			userAgent = version.UserAgent()
		}
		loader := channel.NewLoader(channel.LoaderOptions{
			Timeout:   cfg.Channels.PlaylistTimeout,
			UserAgent: userAgent,
			MaxSize:   cfg.Channels.MaxPlaylistSize,
			Logger:    slog.Default(),
		})
		dir, err := channel.Build(cmd.Context(), loader, cfg.Channels.Playlist, cfg.Channels.Targets(), cfg.Channels.Default)
		if err != nil {
			return fmt.Errorf("loading channels: %w", err)
		}

		out := cmd.OutOrStdout()
		switch channelsFormat {
		case "yaml":
			targets := dir.All()
			for i := range targets {
				targets[i].URI = urlutil.Redact(targets[i].URI)
			}
			data, err := yaml.Marshal(targets)
			if err != nil {
				return fmt.Errorf("marshaling channels: %w", err)
			}
			_, err = out.Write(data)
			return err
		case "table":
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DEFAULT\tNUMBER\tID\tNAME\tGROUP")
			def := dir.Default().ID
			for _, t := range dir.All() {
				marker := ""
				if t.ID == def {
					marker = "*"
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", marker, t.Number, t.ID, t.DisplayName(), t.Group)
			}
			return tw.Flush()
		default:
			return fmt.Errorf("unknown format %q (table, yaml)", channelsFormat)
		}
	},
}

func init() {
	channelsCmd.Flags().StringVarP(&channelsFormat, "output", "o", "table", "output format (table, yaml)")
	addPlaylistFlag(channelsCmd)
	rootCmd.AddCommand(channelsCmd)
}
