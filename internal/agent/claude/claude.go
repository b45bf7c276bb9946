// Package claude runs the Claude Code CLI in print mode.
package claude

import (
	"context"

	"github.com/valksor/go-taskrunner/internal/agent"
)

// AgentName is the name client profiles use for this agent.
const AgentName = "Claude Code"

// Agent wraps the Claude CLI
type Agent struct {
	config agent.Config
}

// New creates a Claude agent with default config
func New() *Agent {
	return NewWithConfig(agent.Config{})
}

// NewWithConfig creates a Claude agent, filling unset fields with defaults.
func NewWithConfig(cfg agent.Config) *Agent {
	return &Agent{config: agent.NewConfig("claude").Merge(cfg)}
}

// Name returns the agent identifier
func (a *Agent) Name() string {
	return AgentName
}

// Available checks if the Claude CLI is installed and starts
func (a *Agent) Available(ctx context.Context) error {
	return agent.Probe(ctx, a.config, "--version")
}

// Run executes prompt non-interactively in dir and returns the printed reply.
func (a *Agent) Run(ctx context.Context, dir, prompt string) (string, error) {
	return agent.Exec(ctx, a.config, dir, a.buildArgs(prompt)...)
}

func (a *Agent) buildArgs(prompt string) []string {
	args := append([]string(nil), a.config.Args...)
	return append(args, "-p", prompt)
}

// Register adds the Claude agent to a registry
func Register(r *agent.Registry) error {
	return r.Register(AgentName, func(cfg agent.Config) agent.Agent {
		return NewWithConfig(cfg)
	})
}

// Ensure Agent implements agent.Agent
var _ agent.Agent = (*Agent)(nil)
