package vcs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/valksor/go-taskrunner/internal/testutil"
)

func TestParseSymref(t *testing.T) {
	tests := []struct {
		name   string
		out    string
		want   string
		wantOK bool
	}{
		{"main", "ref: refs/heads/main\tHEAD\n4b825dc\tHEAD\n", "main", true},
		{"nested", "ref: refs/heads/release/2.x\tHEAD\n", "release/2.x", true},
		{"no symref", "4b825dc\tHEAD\n", "", false},
		{"empty", "", "", false},
		{"not a branch", "ref: refs/tags/v1\tHEAD\n", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseSymref(tt.out)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("parseSymref = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"fatal: https://tok123@github.com/a/b.git not found", "fatal: https://***@github.com/a/b.git not found"},
		{"http://user:pw@host/x", "http://***@host/x"},
		{"git@github.com:a/b.git", "git@github.com:a/b.git"},
		{"nothing here", "nothing here"},
	}
	for _, tt := range tests {
		if got := Redact(tt.in); got != tt.want {
			t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetectDefaultBranch(t *testing.T) {
	for _, branch := range []string{"main", "develop"} {
		t.Run(branch, func(t *testing.T) {
			remote := testutil.CreateBareRemote(t, branch)
			got, err := DetectDefaultBranch(context.Background(), remote.URL)
			if err != nil {
				t.Fatalf("DetectDefaultBranch: %v", err)
			}
			if got != branch {
				t.Errorf("got %q, want %q", got, branch)
			}
		})
	}
}

func TestCheckAccess(t *testing.T) {
	remote := testutil.CreateBareRemote(t, "main")
	ctx := context.Background()

	if err := CheckAccess(ctx, remote.URL); err != nil {
		t.Errorf("CheckAccess(existing) = %v", err)
	}
	if err := CheckAccess(ctx, filepath.Join(t.TempDir(), "missing.git")); err == nil {
		t.Error("CheckAccess(missing) succeeded")
	}
}

func TestOpen(t *testing.T) {
	repo := testutil.CreateTempGitRepo(t)
	g, err := Open(repo)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	branch, err := g.CurrentBranch(context.Background())
	if err != nil || branch != "main" {
		t.Errorf("CurrentBranch = %q, %v", branch, err)
	}

	if _, err := Open(t.TempDir()); !errors.Is(err, ErrNotRepository) {
		t.Errorf("Open(plain dir) error = %v, want ErrNotRepository", err)
	}
}

func TestBestEffortResults(t *testing.T) {
	repo := testutil.CreateTempGitRepo(t)
	g, err := Open(repo)
	if err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, filepath.Join(repo, "scratch.txt"), "x")

	if r := g.Clean(context.Background()); !r.OK() {
		t.Errorf("Clean = %s", r)
	}
	testutil.AssertFileNotExists(t, filepath.Join(repo, "scratch.txt"))

	r := g.AbortRebase(context.Background())
	if r.OK() {
		t.Error("aborting a rebase that is not in progress should report failure")
	}
	if r.String() == "" {
		t.Error("empty result description")
	}
}
