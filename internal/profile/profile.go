// Package profile turns the remote client configuration into the immutable
// Profile a task unit works with.
package profile

import (
	"context"
	"fmt"

	"github.com/valksor/go-taskrunner/internal/agent"
	"github.com/valksor/go-taskrunner/internal/apiserver"
	"github.com/valksor/go-taskrunner/internal/binding"
	"github.com/valksor/go-taskrunner/internal/log"
	"github.com/valksor/go-taskrunner/internal/vcs"
)

// Profile is a snapshot of a client's configuration. It is never modified
// after Sync returns it.
type Profile struct {
	ClientID   int64
	ClientName string
	Repos      binding.Set
	Docs       binding.Repository
	AgentName  string
	Agent      agent.Agent
}

// Source is the part of the task service client the syncer needs.
type Source interface {
	ClientConfig(ctx context.Context, clientID int64) (*apiserver.ClientConfig, error)
	UpdateRepoDefaultBranch(ctx context.Context, repoID int64, branch string) error
}

// BranchDetector discovers the default branch of a remote.
type BranchDetector func(ctx context.Context, url string) (string, error)

// Syncer fetches and resolves client profiles.
type Syncer struct {
	source   Source
	clientID int64
	agents   *agent.Registry
	detect   BranchDetector
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithBranchDetector replaces vcs.DetectDefaultBranch.
func WithBranchDetector(d BranchDetector) Option {
	return func(s *Syncer) { s.detect = d }
}

// NewSyncer creates a Syncer for clientID.
func NewSyncer(source Source, clientID int64, agents *agent.Registry, opts ...Option) *Syncer {
	s := &Syncer{
		source:   source,
		clientID: clientID,
		agents:   agents,
		detect:   vcs.DetectDefaultBranch,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync fetches the client configuration, fills in unknown default branches
// (reporting them back to the task service), selects the docs repository
// and builds the configured agent.
func (s *Syncer) Sync(ctx context.Context) (*Profile, error) {
	cc, err := s.source.ClientConfig(ctx, s.clientID)
	if err != nil {
		return nil, fmt.Errorf("fetch client config: %w", err)
	}

	repos, err := binding.FromConfig(cc.Repos)
	if err != nil {
		return nil, fmt.Errorf("client %d: %w", s.clientID, err)
	}
	for i := range repos {
		if repos[i].DefaultBranch == "" {
			repos[i].DefaultBranch = s.discover(ctx, repos[i])
		}
	}

	docs, err := repos.Docs()
	if err != nil {
		return nil, fmt.Errorf("client %d: %w", s.clientID, err)
	}

	a, err := s.agents.Get(cc.Agent)
	if err != nil {
		return nil, fmt.Errorf("client %d: %w", s.clientID, err)
	}

	log.Debug("profile synced", "client_id", s.clientID, "repos", len(repos), "agent", cc.Agent)
	return &Profile{
		ClientID:   s.clientID,
		ClientName: cc.Name,
		Repos:      repos,
		Docs:       docs,
		AgentName:  cc.Agent,
		Agent:      a,
	}, nil
}

// discover is best-effort: on failure the branch stays unknown and the
// sync engine falls back to the mirror's origin/HEAD.
func (s *Syncer) discover(ctx context.Context, r binding.Repository) string {
	branch, err := s.detect(ctx, r.AuthURL())
	if err != nil {
		log.Warn("default branch detection failed", log.Repo(r.Name()), log.Err(err))
		return ""
	}
	log.Info("detected default branch", log.Repo(r.Name()), "branch", branch)

	if r.ID == 0 {
		return branch
	}
	if err := s.source.UpdateRepoDefaultBranch(ctx, r.ID, branch); err != nil {
		log.Warn("cannot report default branch", log.Repo(r.Name()), log.Err(err))
	}
	return branch
}
