package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/valksor/go-taskrunner/internal/flow"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Options{
		BaseURL:       srv.URL + "/",
		Secret:        "s3cret",
		ClientID:      42,
		InstanceToken: "inst-1",
		Retry:         &RetryConfig{MaxRetries: 2, Delay: time.Millisecond},
	})
}

func writeEnvelope(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": status, "message": message, "data": data})
}

func TestHeadersOnEveryCall(t *testing.T) {
	var got http.Header
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		writeEnvelope(w, http.StatusOK, "ok", map[string]any{"id": 7, "name": "alice"})
	}))

	u, err := c.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if u.ID != 7 || u.Name != "alice" {
		t.Errorf("user = %+v", u)
	}

	if got.Get(HeaderClientSecret) != "s3cret" {
		t.Errorf("%s = %q", HeaderClientSecret, got.Get(HeaderClientSecret))
	}
	if got.Get(HeaderClientID) != "42" {
		t.Errorf("%s = %q", HeaderClientID, got.Get(HeaderClientID))
	}
	if got.Get(HeaderInstanceUUID) != "inst-1" {
		t.Errorf("%s = %q", HeaderInstanceUUID, got.Get(HeaderInstanceUUID))
	}
	if _, err := uuid.Parse(got.Get(HeaderTraceID)); err != nil {
		t.Errorf("trace id %q is not a uuid: %v", got.Get(HeaderTraceID), err)
	}
	if got.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", got.Get("Content-Type"))
	}
}

func TestGetTask(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/task/1":
			writeEnvelope(w, http.StatusOK, "ok", map[string]any{
				"id": 1, "key": "AbCdEfGh", "title": "Add login", "flow_status": "pending",
				"client_id": nil, "flow": map[string]any{"nodes": []any{}},
			})
		default:
			writeEnvelope(w, http.StatusOK, "ok", map[string]any{})
		}
	}))

	task, err := c.GetTask(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Key != "AbCdEfGh" || task.FlowStatus != "pending" || task.ClientID != nil {
		t.Errorf("task = %+v", task)
	}

	_, err = c.GetTask(context.Background(), 2)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTask(empty) error = %v, want ErrNotFound", err)
	}
}

func TestRunningTasksQuery(t *testing.T) {
	var query string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		writeEnvelope(w, http.StatusOK, "ok", []map[string]any{{"id": 1, "key": "a"}, {"id": 2, "key": "b"}})
	}))

	tasks, err := c.RunningTasks(context.Background())
	if err != nil {
		t.Fatalf("RunningTasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("len(tasks) = %d, want 2", len(tasks))
	}
	if query != "clientId=42&status=running" {
		t.Errorf("query = %q", query)
	}
}

func TestHTTPErrorsAreTypedAndNotRetried(t *testing.T) {
	tests := []struct {
		status  int
		message string
		want    error
		wantMsg string
	}{
		{http.StatusConflict, "wait 30 seconds", ErrConflict, "wait 30 seconds"},
		{http.StatusNotFound, "", ErrNotFound, "request failed"},
		{http.StatusBadRequest, "bad body", ErrValidation, "bad body"},
		{http.StatusUnauthorized, "bad secret", ErrUnauthorized, "bad secret"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls int32
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				writeEnvelope(w, tt.status, tt.message, nil)
			}))

			_, err := c.Heartbeat(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error %T is not *APIError", err)
			}
			if apiErr.Status != tt.status || apiErr.Message != tt.wantMsg {
				t.Errorf("APIError = %+v", apiErr)
			}
			if n := atomic.LoadInt32(&calls); n != 1 {
				t.Errorf("server called %d times, want 1", n)
			}
		})
	}
}

func TestNonJSONBodyIsProtocolError(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html>bad gateway</html>")
	}))

	_, err := c.GetTask(context.Background(), 1)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("error = %v, want ErrProtocol", err)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", apiErr.Status)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("server called %d times, want 1", n)
	}
}

type flakyTransport struct {
	failures int32
	calls    int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return nil, errors.New("connection refused")
	}
	return f.next.RoundTrip(r)
}

func TestNetworkFailuresAreRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, "ok", map[string]any{"instance_uuid": "inst-1"})
	}))
	defer srv.Close()

	tr := &flakyTransport{failures: 2, next: http.DefaultTransport}
	c := New(Options{
		BaseURL:       srv.URL,
		ClientID:      42,
		InstanceToken: "inst-1",
		HTTPClient:    &http.Client{Transport: tr},
		Retry:         &RetryConfig{MaxRetries: 3, Delay: time.Millisecond},
	})

	ack, err := c.Heartbeat(context.Background())
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if ack.InstanceUUID != "inst-1" {
		t.Errorf("ack = %+v", ack)
	}
	if n := atomic.LoadInt32(&tr.calls); n != 3 {
		t.Errorf("transport called %d times, want 3", n)
	}
}

func TestNetworkRetriesExhausted(t *testing.T) {
	tr := &flakyTransport{failures: 100}
	c := New(Options{
		BaseURL:    "http://127.0.0.1:1",
		HTTPClient: &http.Client{Transport: tr},
		Retry:      &RetryConfig{MaxRetries: 3, Delay: time.Millisecond},
	})

	_, err := c.RunningTasks(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("error = %v, want ErrNetwork", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 0 {
		t.Errorf("want APIError with status 0, got %v", err)
	}
	if n := atomic.LoadInt32(&tr.calls); n != 4 {
		t.Errorf("transport called %d times, want 4", n)
	}
}

func TestRetryDelayHonoursContext(t *testing.T) {
	tr := &flakyTransport{failures: 100}
	c := New(Options{
		BaseURL:    "http://127.0.0.1:1",
		HTTPClient: &http.Client{Transport: tr},
		Retry:      &RetryConfig{MaxRetries: 10, Delay: time.Hour},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.RunningTasks(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("retry sleep was not interrupted")
	}
}

// flowStore mimics the task service's partial update semantics.
type flowStore struct {
	mu         sync.Mutex
	flow       json.RawMessage
	flowStatus string
	bodies     []map[string]json.RawMessage
}

func (s *flowStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeEnvelope(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	s.bodies = append(s.bodies, body)
	if raw, ok := body["flow"]; ok && string(raw) != "null" {
		s.flow = raw
	}
	if raw, ok := body["flow_status"]; ok && string(raw) != "null" {
		_ = json.Unmarshal(raw, &s.flowStatus)
	}
	writeEnvelope(w, http.StatusOK, "ok", nil)
}

func TestUpdateTaskFlowIsPartial(t *testing.T) {
	store := &flowStore{flow: json.RawMessage(`{"nodes":[{"id":"x"}],"layout":"LR"}`), flowStatus: "pending"}
	c := newTestClient(t, store)
	ctx := context.Background()

	before := string(store.flow)
	if err := c.UpdateTaskFlow(ctx, 1, StatusUpdate("running")); err != nil {
		t.Fatalf("UpdateTaskFlow(status): %v", err)
	}
	if _, ok := store.bodies[0]["flow"]; ok {
		t.Errorf("status-only update sent a flow key: %v", store.bodies[0])
	}
	if string(store.flow) != before {
		t.Errorf("flow changed by status-only update: %s", store.flow)
	}
	if store.flowStatus != "running" {
		t.Errorf("flowStatus = %q, want running", store.flowStatus)
	}

	f := flow.Flow{}
	f.Append(flow.Node{ID: "code_develop", Type: "code_develop", Status: "done"})
	if err := c.UpdateTaskFlow(ctx, 1, FlowUpdate{Flow: &f}); err != nil {
		t.Fatalf("UpdateTaskFlow(flow): %v", err)
	}
	if _, ok := store.bodies[1]["flow_status"]; ok {
		t.Errorf("flow-only update sent flow_status: %v", store.bodies[1])
	}
	if store.flowStatus != "running" {
		t.Errorf("flowStatus changed by flow-only update: %q", store.flowStatus)
	}
	if !strings.Contains(string(store.flow), "code_develop") {
		t.Errorf("flow not stored: %s", store.flow)
	}
}

func TestClientConfigDefaults(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/client/42/config" {
			t.Errorf("path = %s", r.URL.Path)
		}
		writeEnvelope(w, http.StatusOK, "ok", map[string]any{
			"id":   42,
			"name": "builder",
			"repos": []map[string]any{
				{"id": 3, "url": "https://github.com/acme/api.git", "token": "t"},
				{"id": 4, "url": "git@github.com:acme/docs.git", "branch_prefix": "bot_", "docs_repo": true},
			},
		})
	}))

	cc, err := c.ClientConfig(context.Background(), 42)
	if err != nil {
		t.Fatalf("ClientConfig: %v", err)
	}
	if cc.Agent != DefaultAgent {
		t.Errorf("Agent = %q, want %q", cc.Agent, DefaultAgent)
	}
	if cc.Repos[0].BranchPrefix != "ai_" || cc.Repos[1].BranchPrefix != "bot_" {
		t.Errorf("prefixes = %q, %q", cc.Repos[0].BranchPrefix, cc.Repos[1].BranchPrefix)
	}
	if !cc.Repos[1].DocsRepo || cc.Repos[0].DocsRepo {
		t.Errorf("docs flags = %v, %v", cc.Repos[0].DocsRepo, cc.Repos[1].DocsRepo)
	}
}

func TestUpdateRepoDefaultBranch(t *testing.T) {
	var method, path, branch string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		branch = body["default_branch"]
		writeEnvelope(w, http.StatusOK, "ok", nil)
	}))

	if err := c.UpdateRepoDefaultBranch(context.Background(), 3, "main"); err != nil {
		t.Fatalf("UpdateRepoDefaultBranch: %v", err)
	}
	if method != http.MethodPatch || path != "/api/client/42/repos/3/default-branch" || branch != "main" {
		t.Errorf("got %s %s branch=%q", method, path, branch)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		status  int
		wantErr bool
	}{
		{http.StatusOK, false},
		{http.StatusNotFound, false},
		{http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			err := c.Health(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Health() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
