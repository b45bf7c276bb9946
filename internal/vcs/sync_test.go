package vcs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/valksor/go-taskrunner/internal/testutil"
)

// workingCopy mirrors remote into a cache directory and seeds a working copy
// from it, the way the develop node lays repositories out.
func workingCopy(t *testing.T, remote *testutil.Remote) string {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()

	mirror := filepath.Join(root, "cache", "repo")
	if _, err := ForceSync(ctx, mirror, remote.URL, ""); err != nil {
		t.Fatalf("ForceSync: %v", err)
	}
	dir := filepath.Join(root, "work", "repo")
	if err := SeedFromMirror(ctx, mirror, dir, remote.URL); err != nil {
		t.Fatalf("SeedFromMirror: %v", err)
	}
	return dir
}

func TestForceSyncClonesAndDiscoversDefaultBranch(t *testing.T) {
	remote := testutil.CreateBareRemote(t, "trunk")
	dir := filepath.Join(t.TempDir(), "mirror")

	res, err := ForceSync(context.Background(), dir, remote.URL, "")
	if err != nil {
		t.Fatalf("ForceSync: %v", err)
	}
	if !res.Cloned {
		t.Error("expected a fresh clone")
	}
	if res.DefaultBranch != "trunk" {
		t.Errorf("DefaultBranch = %q, want trunk", res.DefaultBranch)
	}
	testutil.AssertCurrentBranch(t, dir, "trunk")
}

func TestForceSyncDiscardsLocalState(t *testing.T) {
	ctx := context.Background()
	remote := testutil.CreateBareRemote(t, "main")
	dir := filepath.Join(t.TempDir(), "mirror")

	if _, err := ForceSync(ctx, dir, remote.URL, "main"); err != nil {
		t.Fatal(err)
	}

	testutil.WriteFileAndCommit(t, dir, "local.txt", "local\n", "local commit")
	testutil.WriteFile(t, filepath.Join(dir, "README.md"), "changed\n")
	testutil.WriteFile(t, filepath.Join(dir, "junk", "untracked.txt"), "junk\n")
	head := remote.Commit(t, "main", "upstream.txt", "upstream\n", "upstream change")

	res, err := ForceSync(ctx, dir, remote.URL, "main")
	if err != nil {
		t.Fatalf("ForceSync: %v", err)
	}
	if res.Cloned {
		t.Error("existing mirror was cloned again")
	}

	if got := testutil.RunGit(t, dir, "rev-parse", "HEAD"); got != head {
		t.Errorf("HEAD = %s, want %s", got, head)
	}
	testutil.AssertFileNotExists(t, filepath.Join(dir, "local.txt"))
	testutil.AssertFileNotExists(t, filepath.Join(dir, "junk"))
	testutil.AssertFileExists(t, filepath.Join(dir, "upstream.txt"))
	testutil.AssertFileContains(t, filepath.Join(dir, "README.md"), "# Test")
}

func TestForceSyncRejectsPlainDirectory(t *testing.T) {
	testutil.RequireGit(t)
	dir := t.TempDir()

	_, err := ForceSync(context.Background(), dir, "unused", "main")
	if !errors.Is(err, ErrNotRepository) {
		t.Fatalf("error = %v, want ErrNotRepository", err)
	}
}

func TestSeedFromMirrorPointsOriginAtRemote(t *testing.T) {
	remote := testutil.CreateBareRemote(t, "main")
	dir := workingCopy(t, remote)

	if got := testutil.RunGit(t, dir, "remote", "get-url", "origin"); got != remote.URL {
		t.Errorf("origin = %q, want %q", got, remote.URL)
	}
}

func TestSyncAndRebaseCreatesDevelopmentBranch(t *testing.T) {
	remote := testutil.CreateBareRemote(t, "main")
	dir := workingCopy(t, remote)

	if err := SyncAndRebase(context.Background(), dir, "ai_7", "main"); err != nil {
		t.Fatalf("SyncAndRebase: %v", err)
	}

	testutil.AssertCurrentBranch(t, dir, "ai_7")
	if got, want := remote.Head(t, "ai_7"), remote.Head(t, "main"); got != want {
		t.Errorf("remote ai_7 = %q, want main head %q", got, want)
	}
}

func TestSyncAndRebaseReplaysRemoteWork(t *testing.T) {
	ctx := context.Background()
	remote := testutil.CreateBareRemote(t, "main")
	remote.Commit(t, "ai_7", "feature.txt", "feature\n", "feature work")
	remote.Commit(t, "main", "upstream.txt", "upstream\n", "upstream work")

	dir := workingCopy(t, remote)
	if err := SyncAndRebase(ctx, dir, "ai_7", "main"); err != nil {
		t.Fatalf("SyncAndRebase: %v", err)
	}

	testutil.AssertFileExists(t, filepath.Join(dir, "feature.txt"))
	testutil.AssertFileExists(t, filepath.Join(dir, "upstream.txt"))
	if got := remote.Show(t, "ai_7", "upstream.txt"); got != "upstream" {
		t.Errorf("rebased branch was not pushed, upstream.txt = %q", got)
	}

	g, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	ahead, err := g.CommitsAhead(ctx, "origin/main", "ai_7")
	if err != nil || ahead != 1 {
		t.Errorf("CommitsAhead = %d, %v; want 1", ahead, err)
	}
}

func TestSyncAndRebaseKeepsRemoteWorkWhenLookupFails(t *testing.T) {
	remote := testutil.CreateBareRemote(t, "main")
	remote.Commit(t, "ai_7", "feature.txt", "feature\n", "feature work")
	dir := workingCopy(t, remote)

	orig := remoteBranchExists
	remoteBranchExists = func(*Git, context.Context, string, string) (bool, error) {
		return false, errors.New("ls-remote: connection reset")
	}
	t.Cleanup(func() { remoteBranchExists = orig })

	if err := SyncAndRebase(context.Background(), dir, "ai_7", "main"); err != nil {
		t.Fatalf("SyncAndRebase: %v", err)
	}
	testutil.AssertFileExists(t, filepath.Join(dir, "feature.txt"))
	if got := remote.Show(t, "ai_7", "feature.txt"); got != "feature" {
		t.Errorf("remote ai_7 feature.txt = %q", got)
	}
}

func TestSyncAndRebaseConflict(t *testing.T) {
	remote := testutil.CreateBareRemote(t, "main")
	devHead := remote.Commit(t, "ai_7", "README.md", "development\n", "dev edit")
	remote.Commit(t, "main", "README.md", "mainline\n", "main edit")

	dir := workingCopy(t, remote)
	err := SyncAndRebase(context.Background(), dir, "ai_7", "main")
	if !errors.Is(err, ErrRebaseConflict) {
		t.Fatalf("error = %v, want ErrRebaseConflict", err)
	}

	for _, state := range []string{"rebase-merge", "rebase-apply"} {
		if _, err := os.Stat(filepath.Join(dir, ".git", state)); err == nil {
			t.Errorf("rebase still in progress (%s present)", state)
		}
	}
	if got := testutil.RunGit(t, dir, "rev-parse", "HEAD"); got != devHead {
		t.Errorf("HEAD = %s, want pre-rebase %s", got, devHead)
	}
	if got := remote.Head(t, "ai_7"); got != devHead {
		t.Errorf("remote branch moved to %s", got)
	}
}

func TestCommitAndPushIsIdempotent(t *testing.T) {
	ctx := context.Background()
	remote := testutil.CreateBareRemote(t, "main")
	dir := workingCopy(t, remote)
	if err := SyncAndRebase(ctx, dir, "ai_9", "main"); err != nil {
		t.Fatal(err)
	}

	testutil.WriteFile(t, filepath.Join(dir, "src", "new.go"), "package src\n")

	first, err := CommitAndPush(ctx, dir, "feat: add src", "main")
	if err != nil {
		t.Fatalf("CommitAndPush: %v", err)
	}
	if !first.Committed || first.Branch != "ai_9" || first.Ahead != 1 {
		t.Errorf("first = %+v", first)
	}
	if got := remote.Head(t, "ai_9"); got != first.Commit {
		t.Errorf("remote head = %s, want %s", got, first.Commit)
	}
	if got := testutil.RunGit(t, dir, "log", "-1", "--format=%s"); got != "feat: add src" {
		t.Errorf("commit message = %q", got)
	}

	second, err := CommitAndPush(ctx, dir, "feat: add src", "main")
	if err != nil {
		t.Fatalf("second CommitAndPush: %v", err)
	}
	if second.Committed || second.Message != MessageNothingToCommit {
		t.Errorf("second = %+v, want nothing to commit", second)
	}
	if second.Ahead != 1 {
		t.Errorf("second.Ahead = %d, want 1", second.Ahead)
	}
	if got := remote.Head(t, "ai_9"); got != first.Commit {
		t.Errorf("second call moved remote to %s", got)
	}
}

func TestCommitAndPushOnDefaultBranchReportsNoAhead(t *testing.T) {
	remote := testutil.CreateBareRemote(t, "main")
	dir := workingCopy(t, remote)
	testutil.WriteFile(t, filepath.Join(dir, "notes.md"), "notes\n")

	res, err := CommitAndPush(context.Background(), dir, "docs: notes", "main")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Committed || res.Ahead != 0 {
		t.Errorf("res = %+v", res)
	}
}
