// Package checks verifies that the runner can reach everything it needs
// before the supervisor starts.
package checks

import (
	"context"
	"errors"
	"fmt"

	"github.com/valksor/go-taskrunner/internal/agent"
	"github.com/valksor/go-taskrunner/internal/binding"
	"github.com/valksor/go-taskrunner/internal/log"
	"github.com/valksor/go-taskrunner/internal/profile"
	"github.com/valksor/go-taskrunner/internal/vcs"
)

// Checker verifies one dependency and records its findings in r.
type Checker interface {
	Name() string
	Check(ctx context.Context, r *Result)
}

// Runner runs checkers in order.
type Runner struct {
	checkers []Checker
}

// NewRunner creates a Runner.
func NewRunner(checkers ...Checker) *Runner {
	return &Runner{checkers: checkers}
}

// Run executes the checkers and stops at the first one that reports an
// error. Later checkers usually depend on the earlier ones passing.
func (r *Runner) Run(ctx context.Context) *Result {
	result := NewResult()
	for i, c := range r.checkers {
		sub := NewResult()
		c.Check(ctx, sub)
		result.Merge(sub)
		if !sub.Valid {
			log.Warn("startup check failed", "check", c.Name(), "errors", sub.Errors)
			for _, skipped := range r.checkers[i+1:] {
				result.AddInfo(skipped.Name(), "SKIPPED", "skipped after an earlier failure", "")
			}
			break
		}
		log.Debug("startup check passed", "check", c.Name())
	}
	return result
}

// Pinger is implemented by the task service client.
type Pinger interface {
	Health(ctx context.Context) error
}

// APIServer checks that the task service answers its health endpoint.
type APIServer struct {
	Client  Pinger
	BaseURL string
}

func (c APIServer) Name() string { return "api_server" }

func (c APIServer) Check(ctx context.Context, r *Result) {
	if err := c.Client.Health(ctx); err != nil {
		r.AddErrorWithSuggestion(c.Name(), CodeAPIUnreachable, err.Error(), c.BaseURL,
			"check api_server in the config file and that the server is running")
		return
	}
	r.AddInfo(c.Name(), CodeAPIReachable, "api server is reachable", c.BaseURL)
}

// ProfileSyncer loads the client profile.
type ProfileSyncer interface {
	Sync(ctx context.Context) (*profile.Profile, error)
}

// Repositories checks that every bound repository accepts ls-remote with
// its credentials. It stops at the first repository that fails.
type Repositories struct {
	Profiles ProfileSyncer
	// Access defaults to vcs.CheckAccess.
	Access func(ctx context.Context, url string) error
}

func (c Repositories) Name() string { return "repositories" }

func (c Repositories) Check(ctx context.Context, r *Result) {
	p, err := c.Profiles.Sync(ctx)
	if err != nil {
		r.AddError(c.Name(), CodeRepoUnreachable, fmt.Sprintf("load client profile: %v", err), "")
		return
	}
	if len(p.Repos) == 0 {
		r.AddWarning(c.Name(), CodeNoRepos, "no repositories are bound to this client", "")
		return
	}

	access := c.Access
	if access == nil {
		access = vcs.CheckAccess
	}
	for _, repo := range p.Repos {
		if err := access(ctx, repo.AuthURL()); err != nil {
			r.AddErrorWithSuggestion(c.Name(), CodeRepoUnreachable, vcs.Redact(err.Error()), repo.URL,
				suggestionFor(repo))
			return
		}
		r.AddInfo(c.Name(), CodeRepoReachable, "repository is reachable", repo.URL)
	}
}

func suggestionFor(repo binding.Repository) string {
	if repo.Token == "" {
		return "the repository has no token; make sure the local git credentials can read it"
	}
	return "check that the repository token is valid and has read access"
}

// Agent checks that the configured agent can be started.
type Agent struct {
	Profiles ProfileSyncer
}

func (c Agent) Name() string { return "agent" }

func (c Agent) Check(ctx context.Context, r *Result) {
	p, err := c.Profiles.Sync(ctx)
	if err != nil {
		code := CodeAgentUnavailable
		if errors.Is(err, agent.ErrUnknownAgent) {
			code = CodeAgentMissing
		}
		r.AddError(c.Name(), code, err.Error(), "")
		return
	}
	if p.Agent == nil {
		r.AddError(c.Name(), CodeAgentMissing, "no agent is configured for this client", "")
		return
	}
	if err := p.Agent.Available(ctx); err != nil {
		r.AddErrorWithSuggestion(c.Name(), CodeAgentUnavailable, err.Error(), p.Agent.Name(),
			"install the agent CLI or set its binary in the agents section of the config")
		return
	}
	r.AddInfo(c.Name(), CodeAgentAvailable, "agent is available", p.Agent.Name())
}
