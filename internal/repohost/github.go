package repohost

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v67/github"
	"golang.org/x/oauth2"
)

func (r *Resolver) githubClient(ctx context.Context, host, token string) (*github.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.http)
	gh := github.NewClient(oauth2.NewClient(ctx, ts))

	if base, ok := r.githubAPI[host]; ok {
		u, err := url.Parse(strings.TrimSuffix(base, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github api url %q: %w", base, err)
		}
		gh.BaseURL = u
		return gh, nil
	}
	if host == "github.com" {
		return gh, nil
	}
	return gh.WithEnterpriseURLs("https://"+host+"/", "https://"+host+"/")
}

// githubLink returns the first open pull request whose head is
// owner:branch, or "" when there is none.
func (r *Resolver) githubLink(ctx context.Context, host, path, token, branch string) (string, error) {
	owner, name, ok := strings.Cut(path, "/")
	if !ok || owner == "" || name == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidProject, path)
	}
	gh, err := r.githubClient(ctx, host, token)
	if err != nil {
		return "", err
	}

	prs, _, err := gh.PullRequests.List(ctx, owner, name, &github.PullRequestListOptions{
		State:       "open",
		Head:        owner + ":" + branch,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return "", wrapAPIError(err)
	}
	if len(prs) == 0 {
		return "", nil
	}
	return prs[0].GetHTMLURL(), nil
}
