package vcs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/valksor/go-taskrunner/internal/log"
)

// ErrRebaseConflict is returned by SyncAndRebase when the development branch
// could not be rebased cleanly. The rebase has been aborted by then.
var ErrRebaseConflict = errors.New("rebase conflict")

// MessageNothingToCommit is the PushResult message for a clean working tree.
const MessageNothingToCommit = "nothing to commit"

// SyncResult describes a completed ForceSync.
type SyncResult struct {
	Dir           string
	DefaultBranch string
	Cloned        bool
	// Warnings holds the failed best-effort steps.
	Warnings []Result
}

// PushResult describes a completed CommitAndPush.
type PushResult struct {
	Branch    string
	Committed bool
	Commit    string
	Message   string
	// Ahead is the number of commits on Branch not yet on the default
	// branch. Zero when on the default branch itself.
	Ahead int
}

// Clone clones url into dir under CloneTimeout.
func Clone(ctx context.Context, url, dir string, args ...string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", dir, err)
	}
	cmdArgs := append([]string{"clone"}, args...)
	cmdArgs = append(cmdArgs, url, dir)
	if _, err := runGitCommandContext(ctx, CloneTimeout, filepath.Dir(dir), cmdArgs...); err != nil {
		return fmt.Errorf("clone into %s: %w", dir, err)
	}
	return nil
}

// ForceSync makes dir an exact copy of the remote default branch: it clones
// when dir is absent, discovers the default branch when defaultBranch is
// empty, then fetches, checks out, discards local changes and hard-resets to
// origin/<default>.
func ForceSync(ctx context.Context, dir, remoteURL, defaultBranch string) (*SyncResult, error) {
	res := &SyncResult{Dir: dir}

	if _, err := os.Stat(dir); err == nil {
		if !IsRepo(dir) {
			return nil, fmt.Errorf("%s exists: %w", dir, ErrNotRepository)
		}
	} else if os.IsNotExist(err) {
		if err := Clone(ctx, remoteURL, dir); err != nil {
			return nil, err
		}
		res.Cloned = true
		log.Info("cloned repository", "dir", dir)
	} else {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}

	g, err := Open(dir)
	if err != nil {
		return nil, err
	}

	if defaultBranch == "" {
		defaultBranch, err = g.RemoteDefaultBranch(ctx)
		if err != nil {
			return nil, err
		}
		log.Info("discovered default branch", "dir", dir, "branch", defaultBranch)
	}
	res.DefaultBranch = defaultBranch

	if err := g.Fetch(ctx); err != nil {
		return nil, err
	}
	if err := g.Checkout(ctx, defaultBranch); err != nil {
		return nil, err
	}

	for _, r := range []Result{g.Restore(ctx), g.Clean(ctx)} {
		if !r.OK() {
			log.Warn("best-effort cleanup step failed", "dir", dir, "step", r.Step, log.Err(r.Err))
			res.Warnings = append(res.Warnings, r)
		}
	}

	if err := g.ResetHard(ctx, "origin/"+defaultBranch); err != nil {
		return nil, err
	}
	return res, nil
}

// SeedFromMirror creates the working copy dir from a local mirror with
// `git clone --local` and points origin back at remoteURL.
func SeedFromMirror(ctx context.Context, mirrorDir, dir, remoteURL string) error {
	if err := Clone(ctx, mirrorDir, dir, "--local"); err != nil {
		return err
	}
	g, err := Open(dir)
	if err != nil {
		return err
	}
	return g.SetRemoteURL(ctx, "origin", remoteURL)
}

// SyncAndRebase brings devBranch up to date in dir and rebases it onto
// origin/<defaultBranch>. A branch that exists on the remote is reset to its
// remote state first; otherwise it is (re)created from the default branch.
// After a clean rebase the branch is force-pushed. On conflict the rebase is
// aborted and an error matching ErrRebaseConflict is returned.
func SyncAndRebase(ctx context.Context, dir, devBranch, defaultBranch string) error {
	g, err := Open(dir)
	if err != nil {
		return err
	}
	if err := g.Fetch(ctx); err != nil {
		return err
	}

	start := "origin/" + defaultBranch
	if onRemote(ctx, g, devBranch) {
		start = "origin/" + devBranch
	}
	if err := g.CheckoutReset(ctx, devBranch, start); err != nil {
		return err
	}
	log.Debug("checked out development branch", "dir", dir, "branch", devBranch, "start", start)

	if err := g.Rebase(ctx, "origin/"+defaultBranch); err != nil {
		if r := g.AbortRebase(ctx); !r.OK() {
			log.Warn("abort rebase failed", "dir", dir, log.Err(r.Err))
		}
		return fmt.Errorf("%s onto %s: %w", devBranch, defaultBranch, ErrRebaseConflict)
	}

	return g.Push(ctx, "origin", devBranch, true)
}

// remoteBranchExists is replaced in tests.
var remoteBranchExists = (*Git).RemoteBranchExists

// onRemote reports whether origin has branch. When the remote cannot be
// asked, the tracking ref written by the preceding fetch decides, so that a
// lookup failure never resets remote work onto the default branch.
func onRemote(ctx context.Context, g *Git, branch string) bool {
	ok, err := remoteBranchExists(g, ctx, "origin", branch)
	if err == nil {
		return ok
	}
	_, rerr := g.RevParse(ctx, "refs/remotes/origin/"+branch)
	log.Warn("remote branch lookup failed, using tracking ref", "branch", branch, "tracked", rerr == nil, log.Err(err))
	return rerr == nil
}

// CommitAndPush stages and commits every change in dir with message and
// pushes the current branch. A clean working tree commits and pushes
// nothing, so calling it twice is harmless.
func CommitAndPush(ctx context.Context, dir, message, defaultBranch string) (*PushResult, error) {
	g, err := Open(dir)
	if err != nil {
		return nil, err
	}

	branch, err := g.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	res := &PushResult{Branch: branch}

	dirty, err := g.HasChanges(ctx)
	if err != nil {
		return nil, err
	}
	if !dirty {
		res.Message = MessageNothingToCommit
		res.Ahead = aheadOfDefault(ctx, g, branch, defaultBranch)
		return res, nil
	}

	if err := g.AddAll(ctx); err != nil {
		return nil, err
	}
	if res.Commit, err = g.Commit(ctx, message); err != nil {
		return nil, err
	}
	res.Committed = true
	if err := g.Push(ctx, "origin", branch, false); err != nil {
		return nil, err
	}

	res.Message = "committed and pushed " + branch
	res.Ahead = aheadOfDefault(ctx, g, branch, defaultBranch)
	return res, nil
}

func aheadOfDefault(ctx context.Context, g *Git, branch, defaultBranch string) int {
	if defaultBranch == "" || branch == defaultBranch {
		return 0
	}
	n, err := g.CommitsAhead(ctx, "origin/"+defaultBranch, branch)
	if err != nil {
		log.Debug("ahead count unavailable", "branch", branch, log.Err(err))
		return 0
	}
	return n
}
