package develop

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/valksor/go-taskrunner/internal/binding"
)

// developInput is everything the development prompt depends on.
type developInput struct {
	Title         string
	Desc          string
	Feedback      string
	Repos         []binding.Repository
	DocsDir       string
	DevelopPath   string
	KnowledgePath string
	GitPushPath   string

	DevelopExists   bool
	KnowledgeExists bool
}

// buildDevelopmentPrompt creates the prompt for the develop and revise
// stages.
func buildDevelopmentPrompt(in developInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, `# Development task

## Core rules

Before doing anything else, bring the "Requirements" section at the top of
the development document %s up to date.

| Rule | Details |
|------|---------|
| Branches | Never develop on the default branch (main/master). Work on the branch each repository is checked out on; do not switch or create branches. |
| Iteration | The original task is only a starting point. Refine the requirements on every run from the current documents, code and feedback. |
| Document first | The requirements section accumulates every round of feedback and must stay complete. |

---

## Steps

`, in.DevelopPath)

	if in.KnowledgeExists {
		fmt.Fprintf(&b, "### Step 1: Read the knowledge base\n\n```\n%s\n```\n\nLearn the project background, architecture and conventions.\n\n", in.KnowledgePath)
	} else {
		b.WriteString("### Step 1: Knowledge base (skipped)\n\nThere is no knowledge base document.\n\n")
	}

	fmt.Fprintf(&b, "### Step 2: Repositories\n\n%s\n\n---\n\n", repoList(in.Repos))

	if in.DevelopExists {
		fmt.Fprintf(&b, `### Step 3: Develop (development document exists)

`+"```"+`
%s
`+"```"+`

1. Read the development document to understand the current goal.
2. Implement the changes following its technical approach and steps.
3. Update the document whenever the approach changes.

`, in.DevelopPath)
	} else {
		fmt.Fprintf(&b, `### Step 3: Plan (no development document yet)

Task:
`+"```"+`
%s
`+"```"+`

| Item | Value |
|------|-------|
| Output directory | `+"`%s`"+` |
| Output file | `+"`%s`"+` |
| Template | `+"`%s`"+` |

`, taskInput(in.Title, in.Desc), in.DocsDir, in.DevelopPath, PlanExampleFile)
	}

	if in.Feedback != "" {
		fmt.Fprintf(&b, `### Step 4: Review feedback (highest priority)

`+"```"+`
%s
`+"```"+`

1. Merge the feedback into the "Requirements" section of %s.
2. Decide whether the technical approach needs to change.
3. Change the code according to the updated document.

---

`, in.Feedback, in.DevelopPath)
	}

	fmt.Fprintf(&b, `## Conventions

| Convention | Details |
|------------|---------|
| Document directory | `+"`%s`"+` |
| Working agreement | read `+"`%s`"+` |
| Plan template | `+"`%s`"+` |

---

## When you are done

1. Commit and push every repository you changed.
2. Write the commit messages to `+"`%s`"+`.

The file must contain plain JSON that parses as is, without a markdown
code fence:
{
    "repo_name_1": "commit message 1",
    "repo_name_2": "commit message 2"
}
`, in.DocsDir, AgentsFile, PlanExampleFile, in.GitPushPath)

	return b.String()
}

// buildMergePrompt creates the prompt for the merge preparation stage.
func buildMergePrompt(repos []binding.Repository) string {
	return fmt.Sprintf(`# Prepare for merge

## Repositories

%s

## Goal

For every repository in the working directory that has changes: squash all
commits into one, rebase onto the default branch, resolve conflicts and
push.

## Steps

For each repository (skip it when it has no changes):

`+"```"+`
1. Commit pending changes
   git add -A && git commit -m "[AI Task] WIP" (if any)

2. Check for differences
   git log origin/<default>..HEAD --oneline
   nothing listed -> skip this repository

3. Write the commit message
   git diff origin/<default>..HEAD --stat
   format: "[AI Task] <summary of the change>"

4. Squash into a single commit
   git reset --soft origin/<default>
   git commit -m "<commit message>"

5. Rebase onto the default branch
   git fetch origin <default>
   git rebase origin/<default>
   conflicts -> resolve, then git rebase --continue
   unresolvable -> git rebase --abort

6. Push
   git push -f origin $(git branch --show-current)
`+"```"+`
`, repoList(repos))
}

// buildRebaseConflictPrompt asks the agent to redo a rebase that failed on
// conflicts and to answer with {"success": bool, "msg": string}.
func buildRebaseConflictPrompt(devBranch, defaultBranch string) string {
	return fmt.Sprintf(`Branch `+"`%[1]s`"+` does not rebase cleanly onto `+"`origin/%[2]s`"+`. Rebase it and resolve the conflicts.

## Steps
1. Start the rebase: `+"`git rebase origin/%[2]s`"+`
2. List the conflicted files: `+"`git status`"+`
3. Resolve every conflicted file
4. Stage the resolved files: `+"`git add <file>`"+`
5. Continue: `+"`git rebase --continue`"+`
6. Repeat steps 2-5 until the rebase finishes
7. Push: `+"`git push -f origin %[1]s`"+`

## Reply format
Reply with this JSON object only:
{
    "success": true/false,
    "msg": "what was done" or "why it failed"
}

Reply with plain JSON that parses as is. Do not wrap it in a markdown code
fence.`, devBranch, defaultBranch)
}

// repoList renders one block per repository.
func repoList(repos []binding.Repository) string {
	blocks := make([]string, 0, len(repos))
	for _, r := range repos {
		branch := r.DefaultBranch
		if branch == "" {
			branch = "-"
		}
		desc := r.Description
		if desc == "" {
			desc = "-"
		}
		blocks = append(blocks, fmt.Sprintf("**%s** (default branch: %s)\nPurpose: %s", r.Name(), branch, desc))
	}
	return strings.Join(blocks, "\n\n")
}

// taskInput renders the task title plus the "desc" member of a JSON
// description. Plain-text descriptions are not included.
func taskInput(title, desc string) string {
	var structured struct {
		Desc string `json:"desc"`
	}
	if desc != "" && json.Unmarshal([]byte(desc), &structured) == nil && structured.Desc != "" {
		return fmt.Sprintf("- Title: %s\n- Description:\n%s", title, structured.Desc)
	}
	return "- Title: " + title
}
