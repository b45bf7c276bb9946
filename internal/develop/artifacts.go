package develop

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/valksor/go-taskrunner/internal/binding"
	"github.com/valksor/go-taskrunner/internal/flow"
	"github.com/valksor/go-taskrunner/internal/log"
	"github.com/valksor/go-taskrunner/internal/vcs"
	"github.com/valksor/go-taskrunner/internal/workflow"
)

// DefaultCommitMessage is used for repositories missing from git_push.json.
const DefaultCommitMessage = "feat: [AI Task] modify"

// Push table cells.
const (
	PushSuccess = "success"
	PushFailed  = "failed"

	noMergeRequest = "open a merge request manually"
	noRepoLink     = "see the repository"
)

// PushTableHeaders are the columns of the git_push_info_table field.
var PushTableHeaders = []string{"Project", "Branch", "Merge Request", "Status", "Details"}

// Finish commits and pushes every working copy and describes the outcome
// as a flow node: links to the generated documents and one table row per
// pushed or failed repository.
func (n *Node) Finish(ctx context.Context, run *workflow.Run) (flow.Node, error) {
	links := n.docsLinks(run)

	messages, err := n.commitMessages()
	if err != nil {
		log.Warn("ignoring unreadable commit messages", log.TraceID(run.TraceID), log.Err(err))
	}

	table := flow.Table{Headers: PushTableHeaders}
	for _, r := range n.repos {
		dir := n.layout.RepoDir(r.Name())
		if !fileExists(dir) {
			continue
		}

		branch := r.DevBranch(run.Task.ID)
		msg := messages[r.Name()]
		if msg == "" {
			msg = DefaultCommitMessage
		}

		res, err := vcs.CommitAndPush(ctx, dir, msg, r.DefaultBranch)
		switch {
		case err != nil:
			log.Error("push failed", log.TraceID(run.TraceID), log.Repo(r.Name()), log.Err(err))
			table.AddRow(n.repoCell(r), branch, n.mergeRequestCell(ctx, r, branch), PushFailed, vcs.Redact(err.Error()))
		case res.Ahead > 0:
			table.AddRow(n.repoCell(r), branch, n.mergeRequestCell(ctx, r, branch), PushSuccess, "")
		}
	}

	return flow.Node{
		ID:     NodeKey,
		Label:  NodeLabel,
		Type:   NodeKey,
		Status: "done",
		Fields: []flow.Field{
			flow.LinkListField("docs_link", "Generated documents", links),
			flow.TableField("git_push_info_table", "Git push results", table),
		},
	}, nil
}

func (n *Node) docsLinks(run *workflow.Run) []flow.Link {
	docs := n.profile.Docs
	prefix, err := docs.BlobPrefix(docs.DevBranch(run.Task.ID))
	if err != nil {
		log.Warn("no browsable docs url", log.Repo(docs.Name()), log.Err(err))
		return nil
	}
	prefix += "/" + run.Task.Key
	return []flow.Link{
		{Label: "Development document", URL: prefix + "/" + DevelopFile},
		{Label: "Agent reply", URL: prefix + "/" + n.stamp + "/" + ReplyFile},
	}
}

// commitMessages reads git_push.json. A missing file yields no messages.
func (n *Node) commitMessages() (map[string]string, error) {
	docsDir, err := n.layout.DocsDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(docsDir, GitPushFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var messages map[string]string
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("parse %s: %w", GitPushFile, err)
	}
	return messages, nil
}

func (n *Node) repoCell(r binding.Repository) string {
	web, err := r.WebURL()
	if err != nil {
		return noRepoLink
	}
	return fmt.Sprintf("[%s](%s)", r.Name(), web)
}

func (n *Node) mergeRequestCell(ctx context.Context, r binding.Repository, branch string) string {
	var link string
	if n.opts.Links != nil {
		link = n.opts.Links.MergeRequestLink(ctx, r, branch)
	} else {
		link, _ = r.MergeRequestSearchURL(branch)
	}
	if link == "" {
		return noMergeRequest
	}
	return fmt.Sprintf("[View MR](%s)", link)
}
