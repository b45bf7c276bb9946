package agent

import (
	"time"
)

// DefaultTimeout bounds a single agent run.
const DefaultTimeout = 30 * time.Minute

// Config holds agent configuration
type Config struct {
	Command     []string
	Environment map[string]string
	Args        []string // Additional CLI arguments, placed before the prompt
	Timeout     time.Duration
}

// NewConfig creates a default config for the given command.
func NewConfig(command ...string) Config {
	return Config{
		Command:     command,
		Environment: make(map[string]string),
		Timeout:     DefaultTimeout,
	}
}

// Merge returns c overlaid with the non-empty parts of o.
func (c Config) Merge(o Config) Config {
	out := c
	if len(o.Command) > 0 {
		out.Command = o.Command
	}
	if len(o.Args) > 0 {
		out.Args = append(append([]string(nil), c.Args...), o.Args...)
	}
	if len(o.Environment) > 0 {
		out.Environment = make(map[string]string, len(c.Environment)+len(o.Environment))
		for k, v := range c.Environment {
			out.Environment[k] = v
		}
		for k, v := range expandEnv(o.Environment) {
			out.Environment[k] = v
		}
	}
	if o.Timeout > 0 {
		out.Timeout = o.Timeout
	}
	return out
}

// Request is one prompt execution.
type Request struct {
	TraceID string
	Dir     string
	Prompt  string
	// Timeout, when positive, replaces the agent's configured timeout.
	Timeout time.Duration
	// InputPath, when set, receives the prompt before the run.
	InputPath string
	// OutputPath, when set, receives the reply or the failure text.
	OutputPath string
	// JSON asks for the reply to be decoded into Reply.Data.
	JSON bool
}

// Reply is the result of a successful execution.
type Reply struct {
	Text     string
	Data     map[string]any
	Duration time.Duration
}
