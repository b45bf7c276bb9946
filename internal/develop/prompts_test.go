package develop

import (
	"strings"
	"testing"

	"github.com/valksor/go-taskrunner/internal/apiserver"
	"github.com/valksor/go-taskrunner/internal/binding"
)

func testRepos(t *testing.T) []binding.Repository {
	t.Helper()
	set, err := binding.FromConfig([]apiserver.RepoConfig{
		{URL: "git@github.com:acme/api.git", Desc: "HTTP API", DefaultBranch: "main"},
		{URL: "git@github.com:acme/docs.git", DocsRepo: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	return set
}

func TestTaskInput(t *testing.T) {
	tests := []struct {
		name string
		desc string
		want string
	}{
		{"json desc", `{"desc":"Add a health endpoint"}`, "- Title: T\n- Description:\nAdd a health endpoint"},
		{"json without desc", `{"other":"x"}`, "- Title: T"},
		{"plain text", "just words", "- Title: T"},
		{"empty", "", "- Title: T"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := taskInput("T", tt.desc); got != tt.want {
				t.Errorf("taskInput = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRepoList(t *testing.T) {
	got := repoList(testRepos(t))
	want := "**api** (default branch: main)\nPurpose: HTTP API\n\n**docs** (default branch: -)\nPurpose: -"
	if got != want {
		t.Errorf("repoList =\n%s\nwant\n%s", got, want)
	}
}

func TestBuildDevelopmentPrompt(t *testing.T) {
	base := developInput{
		Title:         "Add health endpoint",
		Desc:          `{"desc":"GET /health returns 200"}`,
		Repos:         testRepos(t),
		DocsDir:       "/w/docs/K",
		DevelopPath:   "/w/docs/K/develop.md",
		KnowledgePath: "/w/knowledge.md",
		GitPushPath:   "/w/docs/K/git_push.json",
	}

	tests := []struct {
		name    string
		mutate  func(*developInput)
		want    []string
		notWant []string
	}{
		{
			name:    "first run plans",
			mutate:  func(*developInput) {},
			want:    []string{"Step 1: Knowledge base (skipped)", "Step 3: Plan", "GET /health returns 200", "/w/docs/K/git_push.json", "**api**"},
			notWant: []string{"Step 3: Develop", "Step 4"},
		},
		{
			name: "existing plan develops",
			mutate: func(in *developInput) {
				in.DevelopExists = true
				in.KnowledgeExists = true
			},
			want:    []string{"Step 1: Read the knowledge base", "/w/knowledge.md", "Step 3: Develop"},
			notWant: []string{"Step 3: Plan", "GET /health returns 200"},
		},
		{
			name: "feedback",
			mutate: func(in *developInput) {
				in.DevelopExists = true
				in.Feedback = "use 204 instead"
			},
			want: []string{"Step 4: Review feedback", "use 204 instead"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			prompt := buildDevelopmentPrompt(in)
			for _, s := range tt.want {
				if !strings.Contains(prompt, s) {
					t.Errorf("prompt lacks %q", s)
				}
			}
			for _, s := range tt.notWant {
				if strings.Contains(prompt, s) {
					t.Errorf("prompt contains %q", s)
				}
			}
		})
	}
}

func TestBuildMergePrompt(t *testing.T) {
	prompt := buildMergePrompt(testRepos(t))
	for _, s := range []string{"**api** (default branch: main)", "git reset --soft origin/<default>", "git push -f origin"} {
		if !strings.Contains(prompt, s) {
			t.Errorf("merge prompt lacks %q", s)
		}
	}
}

func TestBuildRebaseConflictPrompt(t *testing.T) {
	prompt := buildRebaseConflictPrompt("ai_7", "main")
	for _, s := range []string{"`ai_7`", "git rebase origin/main", "git push -f origin ai_7", `"success"`} {
		if !strings.Contains(prompt, s) {
			t.Errorf("conflict prompt lacks %q", s)
		}
	}
}
