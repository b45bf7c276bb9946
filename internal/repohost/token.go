package repohost

import (
	"os"
	"strings"
)

// tokenSource is the environment fallback for one host kind.
type tokenSource struct {
	// Kind is used to build the TASKRUNNER_<KIND>_TOKEN variable name.
	Kind string
	// EnvVars are checked after the prefixed variable.
	EnvVars []string
}

var (
	githubTokens = tokenSource{Kind: "GITHUB", EnvVars: []string{"GITHUB_TOKEN", "GH_TOKEN"}}
	gitlabTokens = tokenSource{Kind: "GITLAB", EnvVars: []string{"GITLAB_TOKEN"}}
)

// resolveToken picks the API token for a repository.
// Priority order:
//  1. the token bound to the repository
//  2. a token configured for the host
//  3. TASKRUNNER_<KIND>_TOKEN
//  4. the kind's usual variables (GITHUB_TOKEN, GITLAB_TOKEN, ...)
//
// It returns "" when none is set.
func resolveToken(src tokenSource, repoToken, hostToken string) string {
	for _, v := range []string{repoToken, hostToken} {
		if v != "" {
			return v
		}
	}
	for _, name := range append([]string{"TASKRUNNER_" + strings.ToUpper(src.Kind) + "_TOKEN"}, src.EnvVars...) {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
