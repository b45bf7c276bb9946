package workflow

import "strings"

// Status is a task's flow_status.
type Status string

const (
	StatusPending     Status = "pending"      // Created, never executed
	StatusRunning     Status = "running"      // Development stage in progress
	StatusReviewing   Status = "reviewing"    // Waiting for human review
	StatusReviewed    Status = "reviewed"     // Approved, ready to merge
	StatusRevising    Status = "revising"     // Reviewer asked for changes
	StatusDone        Status = "done"         // Merge prepared
	StatusError       Status = "error"        // Failed on the service side
	StatusClientError Status = "client_error" // Failed inside this runner
)

// StatusInfo holds metadata about a status
type StatusInfo struct {
	Name        Status
	Description string
	Waiting     bool // No action; the runner waits for an external change
}

// StatusRegistry maps statuses to their metadata
var StatusRegistry = map[Status]StatusInfo{
	StatusPending: {
		Name:        StatusPending,
		Description: "Task created, development not started",
	},
	StatusRunning: {
		Name:        StatusRunning,
		Description: "Development stage in progress",
	},
	StatusRevising: {
		Name:        StatusRevising,
		Description: "Revising after review feedback",
	},
	StatusReviewed: {
		Name:        StatusReviewed,
		Description: "Review approved, merge preparation pending",
	},
	StatusReviewing: {
		Name:        StatusReviewing,
		Description: "Waiting for review",
		Waiting:     true,
	},
	StatusDone: {
		Name:        StatusDone,
		Description: "Task completed",
		Waiting:     true,
	},
	StatusError: {
		Name:        StatusError,
		Description: "Task failed",
		Waiting:     true,
	},
	StatusClientError: {
		Name:        StatusClientError,
		Description: "Task failed inside the runner",
		Waiting:     true,
	},
}

// IsKnown returns true if s is a flow status the runner understands
func IsKnown(s Status) bool {
	_, ok := StatusRegistry[s]
	return ok
}

// IsWaiting returns true if nothing is executed in status s
func IsWaiting(s Status) bool {
	info, ok := StatusRegistry[s]
	return ok && info.Waiting
}

// IsFailed reports whether a raw flow_status marks a failed task. Any
// status containing "error" counts, so service-defined variants are
// treated the same way.
func IsFailed(status string) bool {
	return strings.Contains(status, "error")
}
