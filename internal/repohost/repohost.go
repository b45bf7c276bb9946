// Package repohost looks up the merge request opened for a development
// branch on GitHub or GitLab.
package repohost

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/valksor/go-taskrunner/internal/binding"
	"github.com/valksor/go-taskrunner/internal/cache"
	"github.com/valksor/go-taskrunner/internal/log"
)

const (
	// DefaultTTL is how long a resolved link is reused.
	DefaultTTL = 5 * time.Minute
	// DefaultTimeout bounds one host API call.
	DefaultTimeout = 30 * time.Second
)

// Resolver finds merge request links. It is safe for concurrent use.
type Resolver struct {
	cache *cache.Cache[string]
	ttl   time.Duration
	http  *http.Client

	// Per-host overrides, keyed by repository host.
	githubAPI map[string]string
	gitlabAPI map[string]string
	tokens    map[string]string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache replaces the link cache.
func WithCache(c *cache.Cache[string], ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = c
		r.ttl = ttl
	}
}

// WithGitHubAPI sets the REST endpoint used for repositories on host.
// Without it, github.com uses the public API and other hosts use the
// enterprise layout https://<host>/api/v3/.
func WithGitHubAPI(host, baseURL string) Option {
	return func(r *Resolver) { r.githubAPI[host] = baseURL }
}

// WithGitLabAPI sets the REST endpoint used for repositories on host.
// Without it, https://<host>/api/v4 is used.
func WithGitLabAPI(host, baseURL string) Option {
	return func(r *Resolver) { r.gitlabAPI[host] = baseURL }
}

// WithToken sets the API token used for repositories on host that carry no
// token of their own.
func WithToken(host, token string) Option {
	return func(r *Resolver) { r.tokens[host] = token }
}

// WithHTTPClient replaces the client used for host API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.http = c }
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		cache:     cache.New[string](),
		ttl:       DefaultTTL,
		http:      &http.Client{Timeout: DefaultTimeout},
		githubAPI: make(map[string]string),
		gitlabAPI: make(map[string]string),
		tokens:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MergeRequestLink returns the URL of the open merge request from branch,
// or the host's search page for it when none is found or the lookup fails.
// It returns "" only when the repository has no browsable URL.
func (r *Resolver) MergeRequestLink(ctx context.Context, repo binding.Repository, branch string) string {
	fallback, err := repo.MergeRequestSearchURL(branch)
	if err != nil {
		return ""
	}
	host, path, err := repo.Host()
	if err != nil {
		return fallback
	}
	src := githubTokens
	if repo.IsGitLab() {
		src = gitlabTokens
	}
	token := resolveToken(src, repo.Token, r.tokens[host])
	if token == "" {
		return fallback
	}

	key := fmt.Sprintf("mr:%s:%s", repo.URL, branch)
	if link, ok := r.cache.Get(key); ok {
		return link
	}

	var link string
	if repo.IsGitLab() {
		link, err = r.gitlabLink(ctx, host, path, token, branch)
	} else {
		link, err = r.githubLink(ctx, host, path, token, branch)
	}
	if err != nil {
		log.Warn("merge request lookup failed", log.Repo(repo.Name()), "branch", branch, log.Err(err))
		return fallback
	}
	if link == "" {
		link = fallback
	}
	r.cache.Set(key, link, r.ttl)
	return link
}

// Prune drops expired links every interval until ctx is done.
func (r *Resolver) Prune(ctx context.Context, interval time.Duration) {
	r.cache.RunCleanup(ctx, interval)
}
