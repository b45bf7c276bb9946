// Package develop implements the code development pipeline node: it prepares
// the task's repositories, drives the coding agent through the development,
// revision and merge preparation stages and collects the results into a
// flow node.
package develop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/valksor/go-taskrunner/internal/agent"
	"github.com/valksor/go-taskrunner/internal/binding"
	"github.com/valksor/go-taskrunner/internal/log"
	"github.com/valksor/go-taskrunner/internal/profile"
	"github.com/valksor/go-taskrunner/internal/vcs"
	"github.com/valksor/go-taskrunner/internal/workflow"
)

// NodeKey is the id and type of the flow node this package produces.
const NodeKey = "code_develop"

// NodeLabel is the display label of the node.
const NodeLabel = "Code development"

// LinkResolver finds the merge request link shown for a pushed branch.
type LinkResolver interface {
	MergeRequestLink(ctx context.Context, repo binding.Repository, branch string) string
}

// BranchReporter records a discovered default branch on the task service.
type BranchReporter interface {
	UpdateRepoDefaultBranch(ctx context.Context, repoID int64, branch string) error
}

// Options configures a Node.
type Options struct {
	// CacheRoot holds mirrors and work dirs, one subdirectory per client.
	CacheRoot string
	// Links resolves merge request links. Nil uses the search URLs.
	Links LinkResolver
	// Branches, when set, receives default branches found while syncing.
	Branches BranchReporter
	// AgentTimeout, when positive, replaces the agent's configured timeout.
	AgentTimeout time.Duration
	// Now replaces time.Now.
	Now func() time.Time
}

// Node is the code development node for one profile. A Node is used by a
// single task unit; it keeps per-execution state between Prepare and Finish.
type Node struct {
	profile *profile.Profile
	opts    Options

	layout Layout
	stamp  string
	repos  []binding.Repository
}

var _ workflow.Node = (*Node)(nil)

// New creates a node for p.
func New(p *profile.Profile, opts Options) *Node {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Node{profile: p, opts: opts}
}

// Prepare refreshes every mirror, brings each working copy onto its
// development branch rebased on the default branch and seeds the
// instructional documents.
func (n *Node) Prepare(ctx context.Context, run *workflow.Run) error {
	n.stamp = Stamp(n.opts.Now())
	n.layout = NewLayout(n.opts.CacheRoot, n.profile.ClientID, run.Task.Key, n.profile.Docs.Name())
	n.repos = append([]binding.Repository(nil), n.profile.Repos...)
	logger := log.With(log.TraceID(run.TraceID), log.TaskKey(run.Task.Key))

	for i := range n.repos {
		r := &n.repos[i]
		res, err := vcs.ForceSync(ctx, n.layout.MirrorDir(r.Name()), r.AuthURL(), r.DefaultBranch)
		if err != nil {
			return fmt.Errorf("sync mirror of %s: %w", r.Name(), err)
		}
		if r.DefaultBranch == "" {
			n.reportDefaultBranch(ctx, logger, *r, res.DefaultBranch)
		}
		r.DefaultBranch = res.DefaultBranch
		logger.Debug("mirror ready", log.Repo(r.Name()), "cloned", res.Cloned, "warnings", len(res.Warnings))
	}

	for _, r := range n.repos {
		if err := n.syncWorkingCopy(ctx, run, r); err != nil {
			return err
		}
	}

	if err := seedDocs(n.layout.WorkDir(), n.layout.InitDocsDir()); err != nil {
		return fmt.Errorf("seed docs: %w", err)
	}
	return nil
}

// reportDefaultBranch is best-effort; a failure only costs a rediscovery
// on the next sync.
func (n *Node) reportDefaultBranch(ctx context.Context, logger *slog.Logger, r binding.Repository, branch string) {
	if n.opts.Branches == nil || r.ID == 0 {
		return
	}
	if err := n.opts.Branches.UpdateRepoDefaultBranch(ctx, r.ID, branch); err != nil {
		logger.Warn("cannot record default branch", log.Repo(r.Name()), "branch", branch, log.Err(err))
	}
}

func (n *Node) syncWorkingCopy(ctx context.Context, run *workflow.Run, r binding.Repository) error {
	dir := n.layout.RepoDir(r.Name())
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := vcs.SeedFromMirror(ctx, n.layout.MirrorDir(r.Name()), dir, r.AuthURL()); err != nil {
			return fmt.Errorf("seed %s: %w", r.Name(), err)
		}
	}

	devBranch := r.DevBranch(run.Task.ID)
	err := vcs.SyncAndRebase(ctx, dir, devBranch, r.DefaultBranch)
	if err == nil {
		return nil
	}
	if !errors.Is(err, vcs.ErrRebaseConflict) {
		return fmt.Errorf("sync %s: %w", r.Name(), err)
	}

	log.Warn("handing rebase conflict to agent", log.TraceID(run.TraceID), log.Repo(r.Name()), "branch", devBranch)
	reply, err := agent.RunPrompt(ctx, n.profile.Agent, agent.Request{
		TraceID: run.TraceID,
		Dir:     dir,
		Prompt:  buildRebaseConflictPrompt(devBranch, r.DefaultBranch),
		Timeout: n.opts.AgentTimeout,
		JSON:    true,
	})
	if err != nil {
		return fmt.Errorf("resolve rebase conflict in %s: %w", r.Name(), err)
	}
	if ok, _ := reply.Data["success"].(bool); !ok {
		msg, _ := reply.Data["msg"].(string)
		if msg == "" {
			msg = "unknown error"
		}
		return fmt.Errorf("resolve rebase conflict in %s: %s", r.Name(), msg)
	}
	return nil
}

// Develop runs the development prompt.
func (n *Node) Develop(ctx context.Context, run *workflow.Run) error {
	docsDir, err := n.layout.DocsDir()
	if err != nil {
		return err
	}
	in := developInput{
		Title:         run.Task.Title,
		Desc:          run.Task.Desc,
		Feedback:      run.Feedback,
		Repos:         n.repos,
		DocsDir:       docsDir,
		DevelopPath:   filepath.Join(docsDir, DevelopFile),
		KnowledgePath: filepath.Join(n.layout.WorkDir(), KnowledgeFile),
		GitPushPath:   filepath.Join(docsDir, GitPushFile),
	}
	in.DevelopExists = fileExists(in.DevelopPath)
	in.KnowledgeExists = fileExists(in.KnowledgePath)

	return n.runAgent(ctx, run, docsDir, buildDevelopmentPrompt(in))
}

// Revise is Develop with the reviewer's feedback in the prompt.
func (n *Node) Revise(ctx context.Context, run *workflow.Run) error {
	return n.Develop(ctx, run)
}

// PrepareMerge asks the agent to squash, rebase and force-push every
// changed repository.
func (n *Node) PrepareMerge(ctx context.Context, run *workflow.Run) error {
	docsDir, err := n.layout.DocsDir()
	if err != nil {
		return err
	}
	return n.runAgent(ctx, run, docsDir, buildMergePrompt(n.repos))
}

func (n *Node) runAgent(ctx context.Context, run *workflow.Run, docsDir, prompt string) error {
	record := filepath.Join(docsDir, n.stamp)
	_, err := agent.RunPrompt(ctx, n.profile.Agent, agent.Request{
		TraceID:    run.TraceID,
		Dir:        n.layout.WorkDir(),
		Prompt:     prompt,
		Timeout:    n.opts.AgentTimeout,
		InputPath:  filepath.Join(record, PromptFile),
		OutputPath: filepath.Join(record, ReplyFile),
	})
	return err
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
