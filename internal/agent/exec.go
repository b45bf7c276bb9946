package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	// versionTimeout bounds the availability probe.
	versionTimeout = 5 * time.Second
	// waitDelay bounds how long output pipes held open by orphaned
	// children may delay return after the agent was killed.
	waitDelay = 10 * time.Second
)

type timeoutKey struct{}

// WithTimeout returns a context that makes Exec bound the run by d instead
// of the configured timeout.
func WithTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, timeoutKey{}, d)
}

func runTimeout(ctx context.Context, cfg Config) time.Duration {
	if d, ok := ctx.Value(timeoutKey{}).(time.Duration); ok && d > 0 {
		return d
	}
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return DefaultTimeout
}

// Exec runs cfg.Command with args in dir and returns its trimmed stdout. The
// run is bounded by the timeout set with WithTimeout, else by cfg.Timeout;
// failures map onto ErrNotFound, ErrTimeout and *ExitError.
func Exec(ctx context.Context, cfg Config, dir string, args ...string) (string, error) {
	if len(cfg.Command) == 0 {
		return "", fmt.Errorf("no command configured: %w", ErrNotFound)
	}
	timeout := runTimeout(ctx, cfg)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fullArgs := append(append([]string(nil), cfg.Command[1:]...), args...)
	cmd := exec.CommandContext(runCtx, cfg.Command[0], fullArgs...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	cmd.Env = cfg.environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return strings.TrimSpace(stdout.String()), nil
	}

	if errors.Is(err, exec.ErrNotFound) {
		return "", fmt.Errorf("%s: %w", cfg.Command[0], ErrNotFound)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%s after %s: %w", cfg.Command[0], timeout, ErrTimeout)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", &ExitError{Code: exitErr.ExitCode(), Stderr: msg}
	}
	return "", fmt.Errorf("run %s: %w", cfg.Command[0], err)
}

// Probe checks that cfg.Command resolves on PATH and answers versionArgs.
func Probe(ctx context.Context, cfg Config, versionArgs ...string) error {
	if len(cfg.Command) == 0 {
		return ErrNotFound
	}
	path, err := exec.LookPath(cfg.Command[0])
	if err != nil {
		return fmt.Errorf("%s: %w", cfg.Command[0], ErrNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, versionArgs...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s not working: %w", cfg.Command[0], err)
	}
	return nil
}
