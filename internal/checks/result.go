package checks

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Severity indicates the importance of a finding
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Finding codes.
const (
	CodeAPIUnreachable   = "API_UNREACHABLE"
	CodeAPIReachable     = "API_REACHABLE"
	CodeRepoUnreachable  = "REPO_UNREACHABLE"
	CodeRepoReachable    = "REPO_REACHABLE"
	CodeNoRepos          = "NO_REPOS"
	CodeAgentMissing     = "AGENT_NOT_CONFIGURED"
	CodeAgentUnavailable = "AGENT_UNAVAILABLE"
	CodeAgentAvailable   = "AGENT_AVAILABLE"
)

// Finding represents a single check outcome
type Finding struct {
	Severity   Severity `json:"severity"`
	Check      string   `json:"check"`
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Target     string   `json:"target,omitempty"`     // URL, repository or agent name
	Suggestion string   `json:"suggestion,omitempty"` // How to fix
}

// Result holds all findings of a run
type Result struct {
	Valid    bool      `json:"valid"`
	Errors   int       `json:"errors"`
	Warnings int       `json:"warnings"`
	Findings []Finding `json:"findings"`
}

// NewResult creates an empty result
func NewResult() *Result {
	return &Result{
		Valid:    true,
		Findings: make([]Finding, 0),
	}
}

// AddError adds an error finding
func (r *Result) AddError(check, code, message, target string) {
	r.addFinding(SeverityError, check, code, message, target, "")
}

// AddErrorWithSuggestion adds an error finding with a fix suggestion
func (r *Result) AddErrorWithSuggestion(check, code, message, target, suggestion string) {
	r.addFinding(SeverityError, check, code, message, target, suggestion)
}

// AddWarning adds a warning finding
func (r *Result) AddWarning(check, code, message, target string) {
	r.addFinding(SeverityWarning, check, code, message, target, "")
}

// AddInfo adds an informational finding
func (r *Result) AddInfo(check, code, message, target string) {
	r.addFinding(SeverityInfo, check, code, message, target, "")
}

func (r *Result) addFinding(severity Severity, check, code, message, target, suggestion string) {
	r.Findings = append(r.Findings, Finding{
		Severity:   severity,
		Check:      check,
		Code:       code,
		Message:    message,
		Target:     target,
		Suggestion: suggestion,
	})

	switch severity {
	case SeverityError:
		r.Errors++
		r.Valid = false
	case SeverityWarning:
		r.Warnings++
	}
}

// Merge combines another result into this one
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Findings = append(r.Findings, other.Findings...)
	r.Errors += other.Errors
	r.Warnings += other.Warnings
	if other.Errors > 0 {
		r.Valid = false
	}
}

// Format returns the result as "json" or, for any other format, text
func (r *Result) Format(format string) string {
	if format == "json" {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Sprintf(`{"error": "failed to marshal result: %s"}`, err)
		}
		return string(data)
	}

	var sb strings.Builder
	for _, f := range r.Findings {
		fmt.Fprintf(&sb, "%-7s [%s] %s", strings.ToUpper(string(f.Severity)), f.Check, f.Message)
		if f.Target != "" {
			fmt.Fprintf(&sb, " (%s)", f.Target)
		}
		sb.WriteString("\n")
		if f.Suggestion != "" {
			fmt.Fprintf(&sb, "        Suggestion: %s\n", f.Suggestion)
		}
	}

	switch {
	case r.Errors == 0 && r.Warnings == 0:
		sb.WriteString("All checks passed\n")
	case r.Valid:
		fmt.Fprintf(&sb, "All checks passed with %d warning(s)\n", r.Warnings)
	default:
		fmt.Fprintf(&sb, "Checks FAILED: %d error(s), %d warning(s)\n", r.Errors, r.Warnings)
	}
	return sb.String()
}
