// Command streamloop runs one conversational turn against an LLM provider and
// prints the assistant's message as it streams.
//
//	streamloop run "summarise this" --resource file=/tmp/notes.md
//	streamloop history --thread default
//
// Settings come from --config (YAML), a .env file and STREAMLOOP_* variables.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"streamloop/pkg/config"
)

var version = "dev"

type rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:          "streamloop",
		Short:        "Stream LLM turns as clean message decisions",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", os.Getenv("STREAMLOOP_CONFIG"), "Path to YAML configuration")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(
		buildRunCmd(flags),
		buildHistoryCmd(flags),
	)
	return rootCmd
}

// load reads the configuration and installs the JSON logger on stderr.
func (f *rootFlags) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
