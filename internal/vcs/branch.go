package vcs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// CheckoutReset creates or resets the local branch name to start and checks
// it out.
func (g *Git) CheckoutReset(ctx context.Context, name, start string) error {
	if _, err := g.run(ctx, "checkout", "-B", name, start); err != nil {
		return fmt.Errorf("checkout %s at %s: %w", name, start, err)
	}
	return nil
}

// DeleteBranch deletes a branch.
func (g *Git) DeleteBranch(ctx context.Context, name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	if _, err := g.run(ctx, "branch", flag, name); err != nil {
		return fmt.Errorf("delete branch %s: %w", name, err)
	}
	return nil
}

// BranchExists checks if a local branch exists.
func (g *Git) BranchExists(ctx context.Context, name string) bool {
	_, err := g.run(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}

// RemoteBranchExists asks the remote itself, not the local tracking refs,
// whether it has branch name.
func (g *Git) RemoteBranchExists(ctx context.Context, remote, name string) (bool, error) {
	out, err := runGitCommandContext(ctx, RemoteTimeout, g.repoRoot, "ls-remote", "--heads", remote, name)
	if err != nil {
		return false, fmt.Errorf("ls-remote %s %s: %w", remote, name, err)
	}
	want := "refs/heads/" + name
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == want {
			return true, nil
		}
	}
	return false, nil
}

// RemoteDefaultBranch finds the branch origin/HEAD points at: first from the
// local symbolic ref, then after asking the remote to set it, and finally by
// looking for origin/main or origin/master.
func (g *Git) RemoteDefaultBranch(ctx context.Context) (string, error) {
	if b, ok := g.originHead(ctx); ok {
		return b, nil
	}
	if _, err := g.run(ctx, "remote", "set-head", "origin", "--auto"); err == nil {
		if b, ok := g.originHead(ctx); ok {
			return b, nil
		}
	}

	out, err := g.run(ctx, "branch", "-r")
	if err == nil {
		remotes := make(map[string]bool)
		for _, line := range strings.Split(out, "\n") {
			remotes[strings.TrimSpace(line)] = true
		}
		for _, candidate := range []string{"main", "master"} {
			if remotes["origin/"+candidate] {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("cannot determine the default branch of origin")
}

func (g *Git) originHead(ctx context.Context) (string, bool) {
	out, err := g.run(ctx, "symbolic-ref", "--short", "refs/remotes/origin/HEAD")
	if err != nil {
		return "", false
	}
	b := strings.TrimPrefix(strings.TrimSpace(out), "origin/")
	return b, b != ""
}

// Rebase rebases the current branch onto upstream.
func (g *Git) Rebase(ctx context.Context, upstream string) error {
	if _, err := g.run(ctx, "rebase", upstream); err != nil {
		return fmt.Errorf("rebase onto %s: %w", upstream, err)
	}
	return nil
}

// AbortRebase aborts an in-progress rebase.
func (g *Git) AbortRebase(ctx context.Context) Result {
	_, err := g.run(ctx, "rebase", "--abort")
	return Result{Step: "rebase --abort", Err: err}
}

// Push pushes branch to remote, with --force when force is set.
func (g *Git) Push(ctx context.Context, remote, branch string, force bool) error {
	args := []string{"push", remote, branch}
	if force {
		args = []string{"push", "-f", remote, branch}
	}
	if _, err := g.run(ctx, args...); err != nil {
		return fmt.Errorf("push %s to %s: %w", branch, remote, err)
	}
	return nil
}

// CommitsAhead returns the number of commits in branch that are not in base.
func (g *Git) CommitsAhead(ctx context.Context, base, branch string) (int, error) {
	out, err := g.run(ctx, "rev-list", "--count", fmt.Sprintf("%s..%s", base, branch))
	if err != nil {
		return 0, fmt.Errorf("count commits %s..%s: %w", base, branch, err)
	}
	return strconv.Atoi(strings.TrimSpace(out))
}
