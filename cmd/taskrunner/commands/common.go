package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/valksor/go-taskrunner/internal/agent"
	"github.com/valksor/go-taskrunner/internal/agent/claude"
	"github.com/valksor/go-taskrunner/internal/agent/opencode"
	"github.com/valksor/go-taskrunner/internal/config"
	"github.com/valksor/go-taskrunner/internal/log"
	"github.com/valksor/go-taskrunner/internal/repohost"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// newAgentRegistry registers the built-in agents and applies the local
// overrides from the agents section.
func newAgentRegistry(c *config.Config) (*agent.Registry, error) {
	r := agent.NewRegistry()
	for _, register := range []func(*agent.Registry) error{claude.Register, opencode.Register} {
		if err := register(r); err != nil {
			return nil, err
		}
	}
	for name, override := range c.AgentOverrides() {
		r.Configure(name, override)
	}
	return r, nil
}

func newResolver(c *config.Config) *repohost.Resolver {
	var opts []repohost.Option
	for _, h := range c.Hosts {
		if h.Token != "" {
			opts = append(opts, repohost.WithToken(h.Host, h.Token))
		}
		if h.APIURL == "" {
			continue
		}
		switch h.Kind {
		case "github":
			opts = append(opts, repohost.WithGitHubAPI(h.Host, h.APIURL))
		case "gitlab":
			opts = append(opts, repohost.WithGitLabAPI(h.Host, h.APIURL))
		}
	}
	return repohost.New(opts...)
}

// serveHTTP runs srv until ctx is cancelled, then shuts it down.
func serveHTTP(ctx context.Context, name string, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info(name+" listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s: %w", name, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown: %w", name, err)
	}
	return <-errCh
}
