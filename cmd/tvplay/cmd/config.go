package cmd

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/tvplay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing tvplay configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

Redirect the output to a file to create a configuration template:

  tvplay config dump > ~/.tvplay.yaml

Environment variables use the TVPLAY_ prefix and underscores for nesting.
Example: playback.max_retries -> TVPLAY_PLAYBACK_MAX_RETRIES`,
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.New()
		config.SetDefaults(v)
		cfg, err := config.Unmarshal(v)
		if err != nil {
			return fmt.Errorf("loading defaults: %w", err)
		}
		return writeConfig(cmd.OutOrStdout(), cfg, "All values shown below are defaults.")
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Validate and print the configuration after merging the file, environment and flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		source := "Effective configuration (defaults, file and environment)."
		if used := viper.ConfigFileUsed(); used != "" {
			source = "Effective configuration, file: " + used
		}
		return writeConfig(cmd.OutOrStdout(), cfg, source)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
	configCmd.AddCommand(configShowCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations rendered as strings such as "30s".
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(fv)
			} else {
				result[key] = fv
			}
		}
	}
	return result
}

func writeConfig(w io.Writer, cfg *config.Config, note string) error {
	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprintln(w, "# tvplay configuration")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# "+note)
	fmt.Fprintln(w, "# Duration format: 500ms, 30s, 5m, 1h")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w)
	_, err = w.Write(yamlData)
	return err
}
