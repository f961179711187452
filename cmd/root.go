package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/weiihann/energy-stats-indexer/internal"
	"github.com/weiihann/energy-stats-indexer/internal/logger"
)

var (
	logLevel  string
	logFormat string
	logFile   string
	noColor   bool
	configDir string
)

var rootCmd = &cobra.Command{
	Use:   "energy-stats-indexer",
	Short: "A CLI for the hold-to-earn energy statistics service",
	Long:  `energy-stats-indexer aggregates harvest logs of a hold-to-earn contract into per-user and system-wide energy statistics and serves them over HTTP.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Initialize logger with CLI flags
		initLogger(logFile)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Set the logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Set the logging format (text, json)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file (overrides LOG_FILE)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "./configs", "Directory holding config.env")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initLogger(file string) {
	logger.Initialize(logger.Config{
		Level:        logger.LogLevel(strings.ToLower(logLevel)),
		Format:       logFormat,
		EnableColors: !noColor,
		File:         file,
	})
}

// loadConfig reads the configuration and exits on validation errors. When
// no --log-file was given, LOG_FILE from the config takes effect.
func loadConfig() internal.Config {
	log := logger.GetLogger("config")

	config, err := internal.LoadConfig(configDir)
	if err != nil {
		log.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	if logFile == "" && config.LogFile != "" {
		initLogger(config.LogFile)
	}
	return config
}
