package repohost

import (
	"context"
	"fmt"

	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// ptr is a helper to create a pointer to a value.
func ptr[T any](v T) *T {
	return &v
}

func (r *Resolver) gitlabClient(host, token string) (*gitlab.Client, error) {
	base, ok := r.gitlabAPI[host]
	if !ok {
		base = "https://" + host + "/api/v4"
	}
	gl, err := gitlab.NewClient(token, gitlab.WithBaseURL(base), gitlab.WithHTTPClient(r.http))
	if err != nil {
		return nil, fmt.Errorf("create gitlab client: %w", err)
	}
	return gl, nil
}

// gitlabLink returns the first open merge request from branch, or "" when
// there is none.
func (r *Resolver) gitlabLink(ctx context.Context, host, path, token, branch string) (string, error) {
	gl, err := r.gitlabClient(host, token)
	if err != nil {
		return "", err
	}

	mrs, _, err := gl.MergeRequests.ListProjectMergeRequests(path, &gitlab.ListProjectMergeRequestsOptions{
		State:        ptr("opened"),
		SourceBranch: ptr(branch),
		ListOptions:  gitlab.ListOptions{PerPage: 1},
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", wrapAPIError(err)
	}
	if len(mrs) == 0 {
		return "", nil
	}
	return mrs[0].WebURL, nil
}
