package main

import (
	"fmt"
	"os"

	"github.com/cbodonnell/apsync/pkg/config"
	"github.com/cbodonnell/apsync/pkg/log"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "apsync",
	Short: "Multiworld sync client",
	Long: `apsync keeps a game's checked locations and received items in sync with
a multiworld server, surviving disconnects and restarts without losing or
duplicating items.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "apconfig.json", "Path to the config file")
	rootCmd.AddCommand(runCmd, stateCmd, catalogCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error("%v", err)
		log.Sync()
		os.Exit(1)
	}
}

// loadConfig reads the config and sets up the default logger from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level, err := log.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}
	log.SetDefaultLogger(log.New(os.Stderr, cfg.Log.Format, level))
	return cfg, nil
}
