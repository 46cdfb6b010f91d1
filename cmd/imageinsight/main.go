package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"imageinsight/internal/config"
	"imageinsight/internal/logging"
)

var (
	version    = "0.1.0"
	logger     = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	configPath string // overridable via --config flag
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "imageinsight",
		Short:         "ImageInsight: a Telegram bot that answers questions about images",
		Long:          "ImageInsight relays text to a chat model and photos to a vision model, then answers follow-up questions about the last image.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ./imageinsight.yaml, then ~/.imageinsight/config.yaml)")

	root.AddCommand(runCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(journalCmd())
	return root
}

// loadConfig loads the configuration and replaces the bootstrap logger with
// the configured one. The returned function closes the log file.
func loadConfig(skip ...string) (*config.Config, func(), error) {
	cfg, err := config.Load(configPath, skip...)
	if err != nil {
		return nil, nil, err
	}
	l, closeLog, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logging: %w", err)
	}
	logger = l
	slog.SetDefault(l)
	return cfg, func() {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
		}
	}, nil
}
