package apiserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// CurrentUser returns the user that owns the client secret.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if _, err := c.do(ctx, http.MethodGet, "/api/user/me", nil, nil, &u); err != nil {
		return nil, fmt.Errorf("get current user: %w", err)
	}
	return &u, nil
}

// GetTask fetches one task. An empty response is reported as ErrNotFound.
func (c *Client) GetTask(ctx context.Context, id int64) (*Task, error) {
	var t Task
	found, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/task/%d", id), nil, nil, &t)
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	if !found {
		return nil, fmt.Errorf("get task %d: %w", id, &APIError{Status: http.StatusNotFound, Message: "task not found"})
	}
	return &t, nil
}

// ListTasks lists tasks with the given business status bound to clientID.
func (c *Client) ListTasks(ctx context.Context, status string, clientID int64) ([]Task, error) {
	q := url.Values{}
	q.Set("status", status)
	q.Set("clientId", strconv.FormatInt(clientID, 10))

	var tasks []Task
	if _, err := c.do(ctx, http.MethodGet, "/api/task", q, nil, &tasks); err != nil {
		return nil, fmt.Errorf("list %s tasks: %w", status, err)
	}
	return tasks, nil
}

// RunningTasks lists the running tasks bound to this client.
func (c *Client) RunningTasks(ctx context.Context) ([]Task, error) {
	return c.ListTasks(ctx, TaskStatusRunning, c.clientID)
}

// UpdateTaskFlow applies a partial flow update.
func (c *Client) UpdateTaskFlow(ctx context.Context, taskID int64, update FlowUpdate) error {
	if _, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/task/%d/flow", taskID), nil, update, nil); err != nil {
		return fmt.Errorf("update task %d flow: %w", taskID, err)
	}
	return nil
}

// Heartbeat renews this instance's lease. A competing live instance makes
// it fail with ErrConflict.
func (c *Client) Heartbeat(ctx context.Context) (*HeartbeatAck, error) {
	body := map[string]string{"instance_uuid": c.instance}
	var ack HeartbeatAck
	if _, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/client/%d/heartbeat", c.clientID), nil, body, &ack); err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	return &ack, nil
}

// ClientConfig fetches the repository bindings and agent kind of clientID.
func (c *Client) ClientConfig(ctx context.Context, clientID int64) (*ClientConfig, error) {
	var cc ClientConfig
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/client/%d/config", clientID), nil, nil, &cc); err != nil {
		return nil, fmt.Errorf("get client %d config: %w", clientID, err)
	}
	cc.applyDefaults()
	return &cc, nil
}

// UpdateRepoDefaultBranch records a discovered default branch on the server.
func (c *Client) UpdateRepoDefaultBranch(ctx context.Context, repoID int64, branch string) error {
	path := fmt.Sprintf("/api/client/%d/repos/%d/default-branch", c.clientID, repoID)
	body := map[string]string{"default_branch": branch}
	if _, err := c.do(ctx, http.MethodPatch, path, nil, body, nil); err != nil {
		return fmt.Errorf("update repo %d default branch: %w", repoID, err)
	}
	return nil
}

// Health probes /api/health once. Any status below 500 means the server
// is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	c.setHeaders(req)

	hc := &http.Client{Transport: c.http.Transport}
	res, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("api server %s unreachable: %w", c.baseURL, err)
	}
	defer func() { _ = res.Body.Close() }()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("api server %s unhealthy: %w", c.baseURL, &APIError{Status: res.StatusCode, Message: http.StatusText(res.StatusCode)})
	}
	return nil
}
