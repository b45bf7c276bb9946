package vcs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoDefaultBranch is returned when a remote does not advertise its HEAD.
var ErrNoDefaultBranch = errors.New("remote does not advertise a default branch")

// DetectDefaultBranch asks the remote at url which branch its HEAD points to,
// without a local checkout.
func DetectDefaultBranch(ctx context.Context, url string) (string, error) {
	out, err := runGitCommandContext(ctx, RemoteTimeout, os.TempDir(), "ls-remote", "--symref", url, "HEAD")
	if err != nil {
		return "", fmt.Errorf("detect default branch: %w", err)
	}
	branch, ok := parseSymref(out)
	if !ok {
		return "", ErrNoDefaultBranch
	}
	return branch, nil
}

// parseSymref extracts the branch from `ls-remote --symref` output such as
//
//	ref: refs/heads/main	HEAD
//	4b825dc642cb6eb9a060e54bf8d69288fbee4904	HEAD
func parseSymref(out string) (string, bool) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "ref:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if b, ok := strings.CutPrefix(fields[1], "refs/heads/"); ok && b != "" {
			return b, true
		}
	}
	return "", false
}

// CheckAccess verifies that the remote at url can be listed with the
// configured credentials.
func CheckAccess(ctx context.Context, url string) error {
	if _, err := runGitCommandContext(ctx, RemoteTimeout, os.TempDir(), "ls-remote", "--exit-code", url); err != nil {
		return fmt.Errorf("repository %s is not accessible: %w", Redact(url), err)
	}
	return nil
}
