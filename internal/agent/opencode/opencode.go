// Package opencode runs the OpenCode CLI.
package opencode

import (
	"context"

	"github.com/valksor/go-taskrunner/internal/agent"
)

// AgentName is the name client profiles use for this agent.
const AgentName = "Open Code"

// Agent wraps `opencode run`.
type Agent struct {
	config agent.Config
}

// New creates an OpenCode agent with default config.
func New() *Agent {
	return NewWithConfig(agent.Config{})
}

// NewWithConfig creates an OpenCode agent, filling unset fields with defaults.
func NewWithConfig(cfg agent.Config) *Agent {
	return &Agent{config: agent.NewConfig("opencode").Merge(cfg)}
}

func (a *Agent) Name() string {
	return AgentName
}

func (a *Agent) Available(ctx context.Context) error {
	return agent.Probe(ctx, a.config, "--version")
}

func (a *Agent) Run(ctx context.Context, dir, prompt string) (string, error) {
	args := append([]string{"run"}, a.config.Args...)
	return agent.Exec(ctx, a.config, dir, append(args, prompt)...)
}

// Register adds the OpenCode agent to a registry.
func Register(r *agent.Registry) error {
	return r.Register(AgentName, func(cfg agent.Config) agent.Agent {
		return NewWithConfig(cfg)
	})
}

var _ agent.Agent = (*Agent)(nil)
