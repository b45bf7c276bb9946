package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/valksor/go-taskrunner/internal/config"
	"github.com/valksor/go-taskrunner/internal/log"
)

var (
	cfg *config.Config

	// Global flags.
	cfgFile  string
	verbose  bool
	logJSON  bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "taskrunner",
	Short: "Client-side worker for AI development tasks",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Long: `taskrunner polls a task service for development tasks bound to this
client, keeps local mirrors of the task repositories, runs a coding agent on
each task and pushes the results back to a development branch.

Only one instance may act for a client at a time; the task service enforces
this through heartbeats.

Quick Start:
  taskrunner check       Verify the task service, repositories and agent
  taskrunner run         Start the worker
  taskrunner arbiter     Serve the heartbeat arbitration endpoint`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env first so that TASKRUNNER_* values from it reach the config
		if err := config.LoadDotEnvFromCwd(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cmd.Flags().Changed("log-json") {
			cfg.Log.JSON = logJSON
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}

		level, err := log.ParseLevel(cfg.Log.Level)
		if err != nil {
			return err
		}
		log.Configure(log.Options{
			Level:   level,
			JSON:    cfg.Log.JSON,
			Verbose: verbose,
		})

		log.Debug("initialized", "config", cfgFile, "client_id", cfg.ClientID)
		return nil
	},
}

// Execute runs the root command with signal handling.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default ./"+config.DefaultConfigFile+" when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log as JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddGroup(&cobra.Group{
		ID:    "worker",
		Title: "Worker Commands:",
	}, &cobra.Group{
		ID:    "server",
		Title: "Server Commands:",
	}, &cobra.Group{
		ID:    "info",
		Title: "Information Commands:",
	})
}
