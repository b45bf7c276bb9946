package commands

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/valksor/go-taskrunner/internal/apiserver"
	"github.com/valksor/go-taskrunner/internal/checks"
	"github.com/valksor/go-taskrunner/internal/develop"
	"github.com/valksor/go-taskrunner/internal/log"
	"github.com/valksor/go-taskrunner/internal/metrics"
	"github.com/valksor/go-taskrunner/internal/profile"
	"github.com/valksor/go-taskrunner/internal/repohost"
	"github.com/valksor/go-taskrunner/internal/supervisor"
	"github.com/valksor/go-taskrunner/internal/workflow"
)

var (
	runMetricsAddr string
	runSkipChecks  bool
)

var runCmd = &cobra.Command{
	Use:     "run",
	Short:   "Start the worker",
	GroupID: "worker",
	Long: `Start the worker loop. Every second it sends a heartbeat to the task
service and starts a unit for each running task bound to this client. Each
unit syncs the task repositories, runs the agent and pushes the results.

The worker exits when another instance takes over the client.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	runCmd.Flags().BoolVar(&runSkipChecks, "skip-checks", false, "Start without the startup checks")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = runMetricsAddr
	}

	instance := uuid.NewString()
	client := apiserver.New(cfg.APIOptions(instance))
	agents, err := newAgentRegistry(cfg)
	if err != nil {
		return err
	}
	syncer := profile.NewSyncer(client, cfg.ClientID, agents)

	if !runSkipChecks {
		result := checks.NewRunner(
			checks.APIServer{Client: client, BaseURL: cfg.APIServer},
			checks.Repositories{Profiles: syncer},
		).Run(ctx)
		if !result.Valid {
			_, _ = fmt.Fprint(cmd.ErrOrStderr(), result.Format("text"))
			return errors.New("startup checks failed")
		}
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", m.Handler())
		go func() {
			if err := serveHTTP(ctx, "metrics", &http.Server{Addr: cfg.MetricsAddr, Handler: mux}); err != nil {
				log.Error("metrics server stopped", log.Err(err))
			}
		}()
	}

	links := newResolver(cfg)
	go links.Prune(ctx, repohost.DefaultTTL)
	newNode := func(p *profile.Profile) workflow.Node {
		return develop.New(p, develop.Options{
			CacheRoot:    cfg.CacheRoot,
			Links:        links,
			Branches:     client,
			AgentTimeout: cfg.Supervisor.AgentTimeout,
		})
	}

	log.Info("worker starting", "client_id", cfg.ClientID, "instance", instance, "api_server", cfg.APIServer)
	sup := supervisor.New(client, syncer, newNode, supervisor.Options{
		PollInterval: cfg.Supervisor.PollInterval,
		UnitInterval: cfg.Supervisor.UnitInterval,
		Metrics:      m,
	})
	return sup.Run(ctx)
}
