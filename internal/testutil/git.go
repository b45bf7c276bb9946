package testutil

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// RequireGit skips the test when git is not installed. It pins the commit
// identity and disables credential prompts for every git process the test
// starts, including the ones started by the code under test.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skipf("git not available: %v", err)
	}
	for k, v := range map[string]string{
		"GIT_AUTHOR_NAME":     "Test User",
		"GIT_AUTHOR_EMAIL":    "test@example.com",
		"GIT_COMMITTER_NAME":  "Test User",
		"GIT_COMMITTER_EMAIL": "test@example.com",
		"GIT_TERMINAL_PROMPT": "0",
	} {
		t.Setenv(k, v)
	}
}

func git(dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(context.Background(), "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// RunGit runs git in dir and returns its trimmed output. Failures are fatal.
func RunGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := git(dir, args...)
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

// CreateTempGitRepo returns a fresh repository on main with one commit
// holding README.md.
func CreateTempGitRepo(t *testing.T) string {
	t.Helper()
	RequireGit(t)
	dir := t.TempDir()
	RunGit(t, dir, "init", "--initial-branch=main")
	WriteFileAndCommit(t, dir, "README.md", "# Test\n", "initial commit")
	return dir
}

// WriteFileAndCommit writes relativePath in the work tree of dir and
// commits it.
func WriteFileAndCommit(t *testing.T, dir, relativePath, content, message string) {
	t.Helper()
	WriteFile(t, filepath.Join(dir, relativePath), content)
	RunGit(t, dir, "add", relativePath)
	RunGit(t, dir, "commit", "-m", message)
}

// Remote is a bare repository standing in for a hosted remote, plus a
// scratch clone used to push commits to it the way another developer would.
type Remote struct {
	// URL is the bare repository path, usable as a clone URL.
	URL     string
	scratch string
}

// CreateBareRemote creates a bare repository whose HEAD points at branch and
// which holds one initial commit with README.md.
func CreateBareRemote(t *testing.T, branch string) *Remote {
	t.Helper()
	return CreateNamedBareRemote(t, "remote", branch)
}

// CreateNamedBareRemote is CreateBareRemote with the repository stored as
// <name>.git, so that several remotes get distinct repository names.
func CreateNamedBareRemote(t *testing.T, name, branch string) *Remote {
	t.Helper()
	RequireGit(t)

	root := t.TempDir()
	bare := filepath.Join(root, name+".git")
	if err := os.MkdirAll(bare, 0o755); err != nil {
		t.Fatal(err)
	}
	RunGit(t, bare, "init", "--bare", "--initial-branch="+branch)

	scratch := filepath.Join(root, "scratch")
	RunGit(t, root, "clone", bare, scratch)
	RunGit(t, scratch, "symbolic-ref", "HEAD", "refs/heads/"+branch)
	WriteFileAndCommit(t, scratch, "README.md", "# Test\n", "initial commit")
	RunGit(t, scratch, "push", "origin", branch)

	return &Remote{URL: bare, scratch: scratch}
}

// Commit writes path on branch of the remote and pushes it, creating the
// branch from the current remote HEAD when it does not exist yet.
func (r *Remote) Commit(t *testing.T, branch, path, content, message string) string {
	t.Helper()
	RunGit(t, r.scratch, "fetch", "origin")
	if _, err := git(r.scratch, "rev-parse", "--verify", "refs/remotes/origin/"+branch); err == nil {
		RunGit(t, r.scratch, "checkout", "-B", branch, "origin/"+branch)
	} else {
		RunGit(t, r.scratch, "checkout", "-B", branch)
	}
	WriteFileAndCommit(t, r.scratch, path, content, message)
	RunGit(t, r.scratch, "push", "origin", branch)
	return RunGit(t, r.scratch, "rev-parse", "HEAD")
}

// Head returns the commit branch points at on the remote, or "" when the
// branch does not exist.
func (r *Remote) Head(t *testing.T, branch string) string {
	t.Helper()
	out, err := git(r.URL, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	if err != nil {
		return ""
	}
	return out
}

// Show returns the content of path at branch on the remote.
func (r *Remote) Show(t *testing.T, branch, path string) string {
	t.Helper()
	return RunGit(t, r.URL, "show", branch+":"+path)
}

// AssertCurrentBranch fails the test unless repoDir has branch checked out.
func AssertCurrentBranch(t *testing.T, repoDir, branch string) {
	t.Helper()
	if got := RunGit(t, repoDir, "branch", "--show-current"); got != branch {
		t.Errorf("current branch = %q, want %q", got, branch)
	}
}
