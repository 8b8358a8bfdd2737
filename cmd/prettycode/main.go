// Command prettycode is a terminal chat client for an AI coding agent and
// the websocket bridge that serves it.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bazelment/prettycode/config"
	"github.com/bazelment/prettycode/logging"
)

var (
	configPath string
	logFile    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "prettycode",
	Short: "Chat with an AI coding agent from the terminal",
	Long: `prettycode streams a conversation with an AI coding agent over a
websocket, keeps the transcript on disk, and can serve the websocket
itself by driving the agent CLI.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.prettycode/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies global flag overrides.
// Callers apply their own flags and then validate.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	return cfg, nil
}

// newLogger creates a structured logger with the configured verbosity.
func newLogger(cfg *config.Config, stderr io.Writer) (*slog.Logger, func(), error) {
	return logging.New(logging.Options{
		Stderr:  stderr,
		File:    cfg.LogFile,
		Verbose: verbose,
	})
}
