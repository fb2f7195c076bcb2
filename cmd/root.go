package cmd

import (
	"fmt"

	"github.com/avereha/podcomm/pkg/config"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgPath  string
	logLevel string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "podctl",
	Short: "Pod command/response toolkit",
	Long: `podctl drives an insulin pod over a websocket link, decodes pod messages and
glucose backfill buffers, and runs a simulated pod to talk to.

The pod state is kept in a TOML file (state_file in the configuration) between
invocations. Without --config the built-in defaults are used.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "Override log_level (trace, debug, info, warn, error)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	if cfgPath == "" {
		cfg = config.Default()
	} else if cfg, err = config.Load(cfgPath); err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	lvl, _ := cfg.Level()
	log.SetLevel(lvl)
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
