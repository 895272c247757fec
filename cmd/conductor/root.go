package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/internal/logging"
)

var (
	configPath  string
	workspaceID string
	dbPath      string
	logLevel    string
	jsonOutput  bool

	cfg         *config.Config
	logger      *slog.Logger
	closeLogger = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Multi-agent orchestration over a shared task graph",
	Long: `conductor coordinates AI coding agents working on a dependency-ordered
task graph inside a workspace.

Core capabilities:
- Tracks tasks and reports which ones are ready to start
- Runs YAML workflows that send each step to a specialist agent
- Drives ACP agent processes and normalizes their event streams
- Records every step and session update to a trace sink`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLogger()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default: XDG config plus .conductor.yaml)")
	flags.StringVarP(&workspaceID, "workspace", "w", "", "workspace id (default: from config or the cwd name)")
	flags.StringVar(&dbPath, "db", "", "state database path")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")

	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(specialistsCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if workspaceID != "" {
		cfg.Workspace.ID = workspaceID
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	l, closeFn, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File, os.Stderr)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	logger = l
	closeLogger = closeFn
	slog.SetDefault(logger)
	return nil
}
