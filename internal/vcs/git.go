// Package vcs drives the git command line for the task runner.
//
// The Git type wraps the primitives a working copy needs:
//   - fetching, checking out and hard-resetting branches
//   - staging, committing and pushing changes
//   - rebasing a development branch onto its default branch
//
// The package-level functions in sync.go compose those primitives into the
// three repository protocols (force sync, sync-and-rebase, commit-and-push),
// and remote.go talks to remotes without a local checkout.
//
// Every command runs under a timeout: CloneTimeout for clones,
// RemoteTimeout for ls-remote, CommandTimeout for everything else.
//
// Thread safety:
//   - Git methods are safe for concurrent use as they don't maintain mutable state.
//   - Two Git values must not operate on the same working copy at once.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/valksor/go-taskrunner/internal/log"
)

// Command timeouts.
const (
	CloneTimeout   = 300 * time.Second
	CommandTimeout = 60 * time.Second
	RemoteTimeout  = 30 * time.Second
)

// Git porcelain v1 format constants
// Format: XY PATH where X=index status, Y=worktree status
// See: https://git-scm.com/docs/git-status#_short_format
const (
	gitStatusIndexPos   = 0 // Position of index (staged) status character
	gitStatusWorkDirPos = 1 // Position of working directory status character
	gitStatusPathStart  = 3 // Position where file path begins (after "XY ")
	gitStatusMinLength  = 4 // Minimum valid entry length (XY + space + at least 1 char)
)

// ErrNotRepository is returned when a directory exists but holds no git repository.
var ErrNotRepository = errors.New("not a git repository")

// Git provides git operations for a working copy
type Git struct {
	repoRoot string
}

// Open returns a Git for dir, which must contain a .git entry.
func Open(dir string) (*Git, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("open repository %s: %w", abs, err)
	}
	if !IsRepo(abs) {
		return nil, fmt.Errorf("%s: %w", abs, ErrNotRepository)
	}
	return &Git{repoRoot: abs}, nil
}

// Root returns the repository root path
func (g *Git) Root() string {
	return g.repoRoot
}

// IsRepo reports whether dir is the top of a working copy.
func IsRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// CurrentBranch returns the current branch name
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("get current branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Status returns uncommitted changes, untracked files included.
func (g *Git) Status(ctx context.Context) ([]FileStatus, error) {
	out, err := g.run(ctx, "status", "--porcelain", "-z")
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}

	if out == "" {
		return nil, nil
	}

	var files []FileStatus
	entries := strings.Split(strings.TrimSuffix(out, "\x00"), "\x00")
	for _, entry := range entries {
		if len(entry) < gitStatusMinLength {
			continue
		}
		files = append(files, FileStatus{
			Index:   entry[gitStatusIndexPos],
			WorkDir: entry[gitStatusWorkDirPos],
			Path:    strings.TrimSpace(entry[gitStatusPathStart:]),
		})
	}

	return files, nil
}

// FileStatus represents a file's git status
type FileStatus struct {
	Index   byte   // Status in index
	WorkDir byte   // Status in working directory
	Path    string // File path
}

// HasChanges returns true if there are uncommitted changes
func (g *Git) HasChanges(ctx context.Context) (bool, error) {
	files, err := g.Status(ctx)
	if err != nil {
		return false, err
	}
	return len(files) > 0, nil
}

// AddAll stages all changes
func (g *Git) AddAll(ctx context.Context) error {
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("git add: %w", err)
	}
	return nil
}

// Commit creates a commit with the given message and returns its hash.
func (g *Git) Commit(ctx context.Context, message string) (string, error) {
	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("git commit: %w", err)
	}
	return g.RevParse(ctx, "HEAD")
}

// Checkout switches to a branch
func (g *Git) Checkout(ctx context.Context, ref string) error {
	if _, err := g.run(ctx, "checkout", ref); err != nil {
		return fmt.Errorf("git checkout %s: %w", ref, err)
	}
	return nil
}

// RevParse resolves a git reference
func (g *Git) RevParse(ctx context.Context, ref string) (string, error) {
	out, err := g.run(ctx, "rev-parse", ref)
	if err != nil {
		return "", fmt.Errorf("rev-parse %s: %w", ref, err)
	}
	return strings.TrimSpace(out), nil
}

// ResetHard resets to a ref, discarding all changes
func (g *Git) ResetHard(ctx context.Context, ref string) error {
	if _, err := g.run(ctx, "reset", "--hard", ref); err != nil {
		return fmt.Errorf("reset hard to %s: %w", ref, err)
	}
	return nil
}

// Restore discards unstaged modifications to tracked files. A working tree
// without modifications may make git complain, so the outcome is a Result.
func (g *Git) Restore(ctx context.Context) Result {
	_, err := g.run(ctx, "restore", ".")
	return Result{Step: "restore", Err: err}
}

// Clean removes untracked files and directories.
func (g *Git) Clean(ctx context.Context) Result {
	_, err := g.run(ctx, "clean", "-fd")
	return Result{Step: "clean", Err: err}
}

// Fetch updates every remote and prunes deleted branches.
func (g *Git) Fetch(ctx context.Context) error {
	if _, err := g.run(ctx, "fetch", "--all", "--prune"); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	return nil
}

// RemoteURL returns the URL for a remote
func (g *Git) RemoteURL(ctx context.Context, name string) (string, error) {
	out, err := g.run(ctx, "remote", "get-url", name)
	if err != nil {
		return "", fmt.Errorf("get remote URL %s: %w", name, err)
	}
	return strings.TrimSpace(out), nil
}

// SetRemoteURL points an existing remote at url.
func (g *Git) SetRemoteURL(ctx context.Context, name, url string) error {
	if _, err := g.run(ctx, "remote", "set-url", name, url); err != nil {
		return fmt.Errorf("set remote URL %s: %w", name, err)
	}
	return nil
}

// Result records the outcome of a best-effort step. A failed Result is
// reported, never returned as an error.
type Result struct {
	Step string
	Err  error
}

// OK reports whether the step succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

func (r Result) String() string {
	if r.Err == nil {
		return r.Step + ": ok"
	}
	return r.Step + ": " + r.Err.Error()
}

// run executes a git command in the repo root under CommandTimeout.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	return runGitCommandContext(ctx, CommandTimeout, g.repoRoot, args...)
}

// RunContext executes an arbitrary git command in the repo root.
func (g *Git) RunContext(ctx context.Context, args ...string) (string, error) {
	return g.run(ctx, args...)
}

// runGitCommandContext executes a git command bounded by timeout. Credentials
// embedded in URLs are masked in the returned error.
func runGitCommandContext(ctx context.Context, timeout time.Duration, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("git %s timed out after %s", args[0], timeout)
		}
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = strings.TrimSpace(stdout.String())
		}
		if errMsg == "" {
			errMsg = err.Error()
		}
		return "", fmt.Errorf("%s", Redact(errMsg))
	}

	return stdout.String(), nil
}

// Redact masks user info in every http(s) URL of s.
func Redact(s string) string { return log.Redact(s) }
