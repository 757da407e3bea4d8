package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/glimte/mmate-outbound/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	outputJSON bool

	cfg    config.Config
	logger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mmate-send",
	Short: "Send envelopes through the mmate outbound pipeline",
	Long: `mmate-send builds envelopes from the command line and pushes them through the
inline sending agent: every send is retried with the configured pause table before
it is discarded.

Destinations are URIs whose scheme picks the transport:
  rabbitmq://exchange/<exchange>/<routing key>
  rabbitmq://queue/<queue>
  nsq://<topic>
  kafka://topic/<topic>
  nats://subject/<subject>
  memory://<anything>

Settings come from an optional YAML file and MMATE_ environment variables,
e.g. MMATE_RETRY_PAUSES=50ms,100ms,250ms.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd.ErrOrStderr())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
}

// initConfig loads the config file and environment and builds the logger
func initConfig(logOutput io.Writer) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded
	logger = cfg.Log.NewLogger(logOutput)
	slog.SetDefault(logger)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
