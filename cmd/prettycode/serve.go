package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/bazelment/prettycode/bridge"
)

var (
	serveAddr           string
	serveCLI            string
	servePermissionMode string
	serveWorkDir        string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat websocket by driving the agent CLI",
	Long: `Serve listens for chat clients on /ws. Each message starts the agent
CLI in stream-json mode and relays its output frames to the client.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Bridge.ListenAddr = serveAddr
		}
		if serveCLI != "" {
			cfg.Bridge.CLIPath = serveCLI
		}
		if servePermissionMode != "" {
			cfg.Bridge.PermissionMode = servePermissionMode
		}
		if serveWorkDir != "" {
			cfg.Bridge.WorkDir = serveWorkDir
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, closeLog, err := newLogger(cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer closeLog()

		srv := bridge.NewServer(bridge.ServerConfig{
			AllowedOrigins: cfg.Bridge.AllowedOrigins,
			Runner: bridge.RunnerConfig{
				CLIPath:        cfg.Bridge.CLIPath,
				PermissionMode: cfg.Bridge.PermissionMode,
				WorkDir:        cfg.Bridge.WorkDir,
			},
		}, logger)
		return srv.ListenAndServe(cmd.Context(), cfg.Bridge.ListenAddr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, :8000)")
	serveCmd.Flags().StringVar(&serveCLI, "cli", "", "Agent CLI binary (default from config, claude)")
	serveCmd.Flags().StringVar(&servePermissionMode, "permission-mode", "", "Agent CLI permission mode")
	serveCmd.Flags().StringVar(&serveWorkDir, "work-dir", "", "Default working directory for the agent CLI")
}
