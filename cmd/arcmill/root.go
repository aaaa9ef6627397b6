// Command arcmill inspects, extracts, repairs, and compares archives
// from the terminal. Every command runs through the same client wiring
// the library exposes; the monitor command additionally serves the
// resilience feed over HTTP.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arcmill/arcmill/internal/client"
	"github.com/arcmill/arcmill/internal/config"
	"github.com/arcmill/arcmill/internal/events"
)

var (
	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client

	configPath string
	logLevel   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "arcmill",
	Short: "Archive ingestion and recovery toolkit",
	Long: `Arcmill loads archives through a resilience-managed pipeline,
salvages readable entries from damaged ones, repairs truncated text
content, and writes parsed trees back to disk.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initApp()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default searches . and ~/.config/arcmill)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
}

// initApp loads configuration and wires the client. Every command runs
// through here via PersistentPreRunE.
func initApp() error {
	loaded, err := config.NewLoader(configPath).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = loaded

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if jsonOutput && logLevel == "" {
		// Keep stdout parseable when the caller asked for JSON.
		cfg.Log.Level = "error"
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)

	apiClient, err = client.New(cfg, logger)
	if err != nil {
		return err
	}

	return nil
}
