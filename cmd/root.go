// Package cmd wires the CLI: chat drives one-off or interactive turns, gc
// maintains the artifact store, worker runs the task-queue mode.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/soloqueue/soloqueue/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/soloqueue/soloqueue/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "soloqueue",
	Short: "Multi-agent orchestrator with stack-based delegation",
	Long: "soloqueue drives collaborative runs of language-model agents: " +
		"stack-based delegation, group permissions, tiered memory, and " +
		"human-approved write actions.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: soloqueue.json5 or $SOLOQUEUE_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(gcCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(enqueueCmd())
	rootCmd.AddCommand(agentsCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("soloqueue %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("SOLOQUEUE_CONFIG"); v != "" {
		return v
	}
	return "soloqueue.json5"
}

// loadConfig reads the config and installs the default slog handler.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
	return cfg, nil
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
