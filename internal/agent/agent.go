// Package agent runs coding agents, command-line programs that take a prompt,
// work inside a directory and print a reply.
package agent

import (
	"context"
	"errors"
	"fmt"
)

// Agent is the interface for coding agents.
type Agent interface {
	// Name returns the agent's registry name
	Name() string

	// Available checks if the agent is usable (binary exists and starts)
	Available(ctx context.Context) error

	// Run executes prompt with dir as working directory and returns the
	// reply text.
	Run(ctx context.Context, dir, prompt string) (string, error)
}

// Failure kinds of an agent run.
var (
	ErrTimeout        = errors.New("agent timed out")
	ErrNotFound       = errors.New("agent binary not found")
	ErrExit           = errors.New("agent exited with an error")
	ErrMalformedReply = errors.New("agent reply is not valid JSON")
)

// ExitError is a non-zero exit of the agent process.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("exited with code %d: %s", e.Code, e.Stderr)
	}
	return fmt.Sprintf("exited with code %d", e.Code)
}

// Is makes errors.Is(err, ErrExit) true.
func (e *ExitError) Is(target error) bool {
	return target == ErrExit
}
