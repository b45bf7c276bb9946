package apiserver

import "github.com/valksor/go-taskrunner/internal/flow"

// Task business statuses used when listing.
const (
	TaskStatusRunning = "running"
)

// Task is a task snapshot as returned by the task service.
type Task struct {
	ID         int64     `json:"id"`
	Key        string    `json:"key"`
	Title      string    `json:"title"`
	Desc       string    `json:"desc"`
	Status     string    `json:"status"`
	StatusText string    `json:"status_text"`
	ClientID   *int64    `json:"client_id"`
	ClientName string    `json:"client_name"`
	Type       string    `json:"type"`
	Flow       flow.Flow `json:"flow"`
	FlowStatus string    `json:"flow_status"`
	CreatedAt  string    `json:"created_at"`
	UpdatedAt  string    `json:"updated_at"`
}

// FlowUpdate is the body of the partial flow update. Nil fields are left
// out of the request and stay unchanged on the server.
type FlowUpdate struct {
	FlowStatus *string    `json:"flow_status,omitempty"`
	Flow       *flow.Flow `json:"flow,omitempty"`
}

// StatusUpdate changes only flow_status.
func StatusUpdate(status string) FlowUpdate {
	return FlowUpdate{FlowStatus: &status}
}

// FlowAndStatus changes the flow document and flow_status together.
func FlowAndStatus(f flow.Flow, status string) FlowUpdate {
	return FlowUpdate{FlowStatus: &status, Flow: &f}
}

// User is the identity behind the client secret.
type User struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	CreatedAt    string `json:"created_at"`
	LastAccessAt string `json:"last_access_at"`
}

// HeartbeatAck is the data of an accepted heartbeat.
type HeartbeatAck struct {
	InstanceUUID string `json:"instance_uuid"`
	LastSeen     string `json:"last_seen,omitempty"`
}

// Defaults applied to the client configuration.
const (
	DefaultAgent        = "Claude Code"
	DefaultBranchPrefix = "ai_"
)

// ClientConfig is the remote configuration of a logical client.
type ClientConfig struct {
	ID    int64        `json:"id"`
	Name  string       `json:"name"`
	Agent string       `json:"agent"`
	Repos []RepoConfig `json:"repos"`
}

// RepoConfig is one repository binding as stored by the task service.
type RepoConfig struct {
	ID            int64  `json:"id"`
	URL           string `json:"url"`
	Desc          string `json:"desc"`
	Token         string `json:"token"`
	DefaultBranch string `json:"default_branch"`
	BranchPrefix  string `json:"branch_prefix"`
	DocsRepo      bool   `json:"docs_repo"`
}

func (cc *ClientConfig) applyDefaults() {
	if cc.Agent == "" {
		cc.Agent = DefaultAgent
	}
	for i := range cc.Repos {
		if cc.Repos[i].BranchPrefix == "" {
			cc.Repos[i].BranchPrefix = DefaultBranchPrefix
		}
	}
}
