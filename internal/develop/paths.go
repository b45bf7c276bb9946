package develop

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Directory and file names of the on-disk layout.
const (
	mirrorDirName   = "git_repo_cache"
	initDocsDirName = "init_docs"

	DevelopFile     = "develop.md"
	GitPushFile     = "git_push.json"
	KnowledgeFile   = "knowledge.md"
	AgentsFile      = "AGENTS.md"
	PlanExampleFile = "develop_plan_example.md"
	PromptFile      = "agent_prompt.md"
	ReplyFile       = "agent_reply.md"

	stampLayout = "20060102_150405"
)

// Layout resolves the paths used for one task.
//
//	<root>/<client>/git_repo_cache/<repo>               mirror
//	<root>/<client>/code_develop/<task>                 work dir
//	<root>/<client>/code_develop/<task>/<repo>          working copy
//	<root>/<client>/code_develop/<task>/<docs>/<task>   docs dir
type Layout struct {
	root     string
	taskKey  string
	docsRepo string
}

// NewLayout creates the layout for clientID under cacheRoot.
func NewLayout(cacheRoot string, clientID int64, taskKey, docsRepo string) Layout {
	return Layout{
		root:     filepath.Join(cacheRoot, strconv.FormatInt(clientID, 10)),
		taskKey:  taskKey,
		docsRepo: docsRepo,
	}
}

// MirrorDir is the shared mirror of repo.
func (l Layout) MirrorDir(repo string) string {
	return filepath.Join(l.root, mirrorDirName, repo)
}

// WorkDir is the task's working directory.
func (l Layout) WorkDir() string {
	return filepath.Join(l.root, NodeKey, l.taskKey)
}

// RepoDir is the task's working copy of repo.
func (l Layout) RepoDir(repo string) string {
	return filepath.Join(l.WorkDir(), repo)
}

// DocsDir is the task's directory inside the docs repository checkout. The
// checkout has to exist; the task directory is created on demand.
func (l Layout) DocsDir() (string, error) {
	checkout := l.RepoDir(l.docsRepo)
	if _, err := os.Stat(checkout); err != nil {
		return "", fmt.Errorf("docs repository checkout %s: %w", checkout, err)
	}
	dir := filepath.Join(checkout, l.taskKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create docs dir: %w", err)
	}
	return dir, nil
}

// InitDocsDir is the docs repository's overlay of the default documents.
func (l Layout) InitDocsDir() string {
	return filepath.Join(l.RepoDir(l.docsRepo), initDocsDirName)
}

// Stamp formats t as an execution key.
func Stamp(t time.Time) string {
	return t.Format(stampLayout)
}
