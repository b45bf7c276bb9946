package commands

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/valksor/go-taskrunner/internal/arbiter"
	"github.com/valksor/go-taskrunner/internal/config"
	"github.com/valksor/go-taskrunner/internal/log"
	"github.com/valksor/go-taskrunner/internal/metrics"
)

var arbiterCmd = &cobra.Command{
	Use:     "arbiter",
	Short:   "Serve the heartbeat arbitration endpoint",
	GroupID: "server",
	Long: `Serve POST /api/client/{id}/heartbeat and GET /api/health.

Leases are kept in memory, in SQLite (arbiter.store: sqlite, arbiter.dsn:
<path>) or in Redis (arbiter.store: redis, arbiter.dsn: <host:port>).
Prometheus metrics are served on /metrics.`,
	RunE: runArbiter,
}

func init() {
	rootCmd.AddCommand(arbiterCmd)
}

func openStore(ctx context.Context, c config.ArbiterConfig) (arbiter.Store, error) {
	switch c.Store {
	case "sqlite":
		return arbiter.OpenSQLite(c.DSN)
	case "redis":
		return arbiter.OpenRedis(ctx, c.DSN)
	case "memory":
		return arbiter.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown lease store %q", c.Store)
}

// newArbiterHandler builds the arbitration HTTP surface over store. Every
// route passes the instance gate.
func newArbiterHandler(c config.ArbiterConfig, store arbiter.Store, m *metrics.Metrics) (http.Handler, error) {
	policy, err := arbiter.ParsePolicy(c.Policy)
	if err != nil {
		return nil, err
	}
	arb := arbiter.New(store,
		arbiter.WithPolicy(policy),
		arbiter.WithCooldown(c.Cooldown),
		arbiter.WithMetrics(m),
	)

	h := arbiter.NewHandler(arb, arbiter.StaticOwners(c.Owners))
	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", m.Handler())
	return h.RequireCurrentInstance(mux), nil
}

func runArbiter(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if err := cfg.ValidateArbiter(); err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.Arbiter)
	if err != nil {
		return fmt.Errorf("open lease store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("close lease store", log.Err(err))
		}
	}()

	handler, err := newArbiterHandler(cfg.Arbiter, store, metrics.New())
	if err != nil {
		return err
	}
	log.Info("arbiter starting", "store", cfg.Arbiter.Store, "policy", cfg.Arbiter.Policy, "cooldown", cfg.Arbiter.Cooldown)
	return serveHTTP(ctx, "arbiter", &http.Server{Addr: cfg.Arbiter.Listen, Handler: handler})
}
