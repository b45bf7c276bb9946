package commands

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/valksor/go-taskrunner/internal/apiserver"
	"github.com/valksor/go-taskrunner/internal/checks"
	"github.com/valksor/go-taskrunner/internal/profile"
)

var (
	checkAgent  bool
	checkFormat string
)

var checkCmd = &cobra.Command{
	Use:     "check",
	Short:   "Verify the task service, repositories and agent",
	GroupID: "worker",
	Long: `Run the startup checks without starting the worker:

  1. the task service answers /api/health
  2. every repository bound to this client accepts git ls-remote
  3. the configured agent starts (only with --check-agent)

Checks stop at the first failure.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkAgent, "check-agent", false, "Also verify that the agent CLI is available")
	checkCmd.Flags().StringVar(&checkFormat, "format", "text", "Output format: text or json")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if checkFormat != "text" && checkFormat != "json" {
		return fmt.Errorf("invalid format %q (must be text or json)", checkFormat)
	}

	// A throwaway token: checks never heartbeat.
	client := apiserver.New(cfg.APIOptions(uuid.NewString()))
	agents, err := newAgentRegistry(cfg)
	if err != nil {
		return err
	}
	syncer := profile.NewSyncer(client, cfg.ClientID, agents)

	checkers := []checks.Checker{
		checks.APIServer{Client: client, BaseURL: cfg.APIServer},
		checks.Repositories{Profiles: syncer},
	}
	if checkAgent {
		checkers = append(checkers, checks.Agent{Profiles: syncer})
	}

	result := checks.NewRunner(checkers...).Run(cmd.Context())
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), result.Format(checkFormat))
	if !result.Valid {
		return errors.New("checks failed")
	}
	return nil
}
