// Package binding describes the repositories a logical client works on and
// derives the names and URLs the rest of the runner needs from them.
package binding

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/valksor/go-taskrunner/internal/apiserver"
)

// Errors returned when selecting the docs repository.
var (
	ErrNoDocsRepo        = errors.New("no repository is marked as the docs repository")
	ErrMultipleDocsRepos = errors.New("more than one repository is marked as the docs repository")
)

// ErrUnsupportedURL is returned for URLs that are neither https:// nor git@.
var ErrUnsupportedURL = errors.New("unsupported repository url")

var namePattern = regexp.MustCompile(`[:/]([^/:]+)$`)

// Repository is one repository binding of a client.
type Repository struct {
	ID            int64
	URL           string
	Description   string
	Token         string
	DefaultBranch string
	BranchPrefix  string
	Docs          bool

	name string
}

// New builds a Repository from its remote configuration. The URL must
// yield a directory name.
func New(rc apiserver.RepoConfig) (Repository, error) {
	r := Repository{
		ID:            rc.ID,
		URL:           strings.TrimSpace(rc.URL),
		Description:   rc.Desc,
		Token:         rc.Token,
		DefaultBranch: rc.DefaultBranch,
		BranchPrefix:  rc.BranchPrefix,
		Docs:          rc.DocsRepo,
	}
	if r.BranchPrefix == "" {
		r.BranchPrefix = apiserver.DefaultBranchPrefix
	}
	name, err := NameFromURL(r.URL)
	if err != nil {
		return Repository{}, err
	}
	r.name = name
	return r, nil
}

// NameFromURL returns the last path segment of url without ".git", for
// both git@host:group/name.git and https://host/group/name forms.
func NameFromURL(u string) (string, error) {
	m := namePattern.FindStringSubmatch(strings.TrimSuffix(u, ".git"))
	if m == nil {
		return "", fmt.Errorf("cannot derive a repository name from %q", u)
	}
	return m[1], nil
}

// Name is the directory name of the repository.
func (r Repository) Name() string {
	return r.name
}

// AuthURL is the clone URL with the token embedded for https remotes.
func (r Repository) AuthURL() string {
	if r.Token != "" && strings.HasPrefix(r.URL, "https://") {
		return "https://" + r.Token + "@" + strings.TrimPrefix(r.URL, "https://")
	}
	return r.URL
}

// WebURL is the browser URL of the repository.
func (r Repository) WebURL() (string, error) {
	switch {
	case strings.HasPrefix(r.URL, "git@"):
		web := strings.Replace(r.URL, ":", "/", 1)
		return strings.TrimSuffix("https://"+strings.TrimPrefix(web, "git@"), ".git"), nil
	case strings.HasPrefix(r.URL, "https://"):
		return strings.TrimSuffix(r.URL, ".git"), nil
	}
	return "", fmt.Errorf("%s: %w: %s", r.name, ErrUnsupportedURL, r.URL)
}

// Host returns the host name and the owner/project path of the web URL.
func (r Repository) Host() (host, path string, err error) {
	web, err := r.WebURL()
	if err != nil {
		return "", "", err
	}
	u, err := url.Parse(web)
	if err != nil {
		return "", "", fmt.Errorf("parse %s: %w", web, err)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// IsGitLab reports whether the repository is hosted on a GitLab instance.
func (r Repository) IsGitLab() bool {
	web, err := r.WebURL()
	return err == nil && strings.Contains(web, "gitlab")
}

// BlobPrefix is the URL prefix for browsing files on branch.
func (r Repository) BlobPrefix(branch string) (string, error) {
	web, err := r.WebURL()
	if err != nil {
		return "", err
	}
	if r.IsGitLab() {
		return web + "/-/blob/" + branch, nil
	}
	return web + "/blob/" + branch, nil
}

// MergeRequestSearchURL lists the open merge/pull requests from branch.
func (r Repository) MergeRequestSearchURL(branch string) (string, error) {
	web, err := r.WebURL()
	if err != nil {
		return "", err
	}
	if r.IsGitLab() {
		return web + "/-/merge_requests?scope=all&state=opened&source_branch=" + branch, nil
	}
	return web + "/pulls?q=is%3Apr+is%3Aopen+head%3A" + branch, nil
}

// DevBranch is the development branch used for task taskID.
func (r Repository) DevBranch(taskID int64) string {
	return fmt.Sprintf("%s%d", r.BranchPrefix, taskID)
}

// Set is the ordered list of a client's repositories.
type Set []Repository

// FromConfig builds a Set from remote repository configurations.
func FromConfig(repos []apiserver.RepoConfig) (Set, error) {
	set := make(Set, 0, len(repos))
	for _, rc := range repos {
		r, err := New(rc)
		if err != nil {
			return nil, err
		}
		set = append(set, r)
	}
	return set, nil
}

// Docs returns the single repository marked as the docs repository.
func (s Set) Docs() (Repository, error) {
	var found []Repository
	for _, r := range s {
		if r.Docs {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 0:
		return Repository{}, ErrNoDocsRepo
	case 1:
		return found[0], nil
	}
	names := make([]string, len(found))
	for i, r := range found {
		names[i] = r.Name()
	}
	return Repository{}, fmt.Errorf("%w: %s", ErrMultipleDocsRepos, strings.Join(names, ", "))
}

// Lookup finds a repository by directory name.
func (s Set) Lookup(name string) (Repository, bool) {
	for _, r := range s {
		if r.Name() == name {
			return r, true
		}
	}
	return Repository{}, false
}
