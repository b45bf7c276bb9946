package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/valksor/go-taskrunner/internal/apiserver"
	"github.com/valksor/go-taskrunner/internal/flow"
)

// recordingUpdater keeps every update in order.
type recordingUpdater struct {
	updates []apiserver.FlowUpdate
	failAt  int // 1-based call number that fails, 0 never
}

func (r *recordingUpdater) UpdateTaskFlow(_ context.Context, _ int64, u apiserver.FlowUpdate) error {
	r.updates = append(r.updates, u)
	if r.failAt == len(r.updates) {
		return apiserver.ErrNetwork
	}
	return nil
}

func (r *recordingUpdater) statuses() []Status {
	var out []Status
	for _, u := range r.updates {
		if u.FlowStatus != nil {
			out = append(out, Status(*u.FlowStatus))
		}
	}
	return out
}

type fakeNode struct {
	calls      []string
	feedback   string
	prepareErr error
	stageErr   error
}

func (n *fakeNode) Prepare(context.Context, *Run) error {
	n.calls = append(n.calls, "prepare")
	return n.prepareErr
}

func (n *fakeNode) Develop(_ context.Context, run *Run) error {
	n.calls = append(n.calls, "develop")
	return n.stageErr
}

func (n *fakeNode) Revise(_ context.Context, run *Run) error {
	n.calls = append(n.calls, "revise")
	n.feedback = run.Feedback
	return n.stageErr
}

func (n *fakeNode) PrepareMerge(context.Context, *Run) error {
	n.calls = append(n.calls, "prepare_merge")
	return n.stageErr
}

func (n *fakeNode) Finish(_ context.Context, run *Run) (flow.Node, error) {
	n.calls = append(n.calls, "finish")
	return flow.Node{ID: "code_develop", Type: "code_develop", Status: "done"}, nil
}

func TestExecuteFlowMonotonicity(t *testing.T) {
	up := &recordingUpdater{}
	e := NewEngine(up)
	task := &apiserver.Task{ID: 1, Key: "AbCdEfGh", FlowStatus: string(StatusPending)}

	if _, err := e.Execute(context.Background(), "t1", task, &fakeNode{}); err != nil {
		t.Fatalf("develop: %v", err)
	}
	// Waiting for review: nothing happens.
	if out, err := e.Execute(context.Background(), "t2", task, &fakeNode{}); err != nil || out.Ran {
		t.Fatalf("reviewing: ran=%v err=%v", out.Ran, err)
	}

	task.FlowStatus = string(StatusReviewed) // reviewer approves
	prev := len(up.updates)
	if _, err := e.Execute(context.Background(), "t3", task, &fakeNode{}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(up.updates) != prev+1 {
		t.Errorf("merge persisted %d updates, want 1", len(up.updates)-prev)
	}

	want := []Status{StatusRunning, StatusReviewing, StatusDone}
	got := up.statuses()
	if len(got) != len(want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("statuses[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	for _, h := range e.History() {
		if !CanReach(h.From, h.To) {
			t.Errorf("%s -> %s is not a documented transition", h.From, h.To)
		}
		if h.From == StatusPending && h.To == StatusDone {
			t.Error("observed pending -> done")
		}
	}
	if len(task.Flow.Nodes) != 2 || task.FlowStatus != string(StatusDone) {
		t.Errorf("task = %s with %d nodes", task.FlowStatus, len(task.Flow.Nodes))
	}
}

func TestExecuteTransitions(t *testing.T) {
	tests := []struct {
		from      Status
		wantCalls []string
		wantFirst bool // executing marker persisted separately
		wantNext  Status
	}{
		{StatusPending, []string{"prepare", "develop", "finish"}, true, StatusReviewing},
		{StatusRunning, []string{"prepare", "develop", "finish"}, false, StatusReviewing},
		{StatusRevising, []string{"prepare", "revise", "finish"}, false, StatusReviewing},
		{StatusReviewed, []string{"prepare", "prepare_merge", "finish"}, false, StatusDone},
	}
	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			up := &recordingUpdater{}
			node := &fakeNode{}
			task := &apiserver.Task{ID: 7, Key: "k", FlowStatus: string(tt.from)}

			out, err := NewEngine(up).Execute(context.Background(), "trace", task, node)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if !out.Ran || out.To != tt.wantNext {
				t.Errorf("outcome = %+v", out)
			}
			if len(node.calls) != len(tt.wantCalls) {
				t.Fatalf("calls = %v, want %v", node.calls, tt.wantCalls)
			}
			for i := range tt.wantCalls {
				if node.calls[i] != tt.wantCalls[i] {
					t.Errorf("calls = %v, want %v", node.calls, tt.wantCalls)
				}
			}

			wantUpdates := 1
			if tt.wantFirst {
				wantUpdates = 2
				if up.updates[0].Flow != nil {
					t.Error("executing marker update carries a flow")
				}
			}
			if len(up.updates) != wantUpdates {
				t.Fatalf("updates = %d, want %d", len(up.updates), wantUpdates)
			}
			last := up.updates[len(up.updates)-1]
			if last.Flow == nil || last.FlowStatus == nil || *last.FlowStatus != string(tt.wantNext) {
				t.Errorf("final update = %+v", last)
			}
			if n := len(last.Flow.Nodes); n != 1 || last.Flow.Nodes[0].Type != "code_develop" {
				t.Errorf("final flow nodes = %+v", last.Flow.Nodes)
			}
		})
	}
}

func TestExecuteWaitingStatuses(t *testing.T) {
	for _, s := range []Status{StatusReviewing, StatusDone, StatusError, StatusClientError} {
		t.Run(string(s), func(t *testing.T) {
			up := &recordingUpdater{}
			node := &fakeNode{}
			out, err := NewEngine(up).Execute(context.Background(), "", &apiserver.Task{FlowStatus: string(s)}, node)
			if err != nil || out.Ran {
				t.Errorf("out = %+v, err = %v", out, err)
			}
			if len(up.updates) != 0 || len(node.calls) != 0 {
				t.Errorf("updates = %d, calls = %v", len(up.updates), node.calls)
			}
		})
	}
}

func TestExecuteUnknownStatus(t *testing.T) {
	_, err := NewEngine(&recordingUpdater{}).Execute(context.Background(), "", &apiserver.Task{FlowStatus: "archived"}, &fakeNode{})
	if !errors.Is(err, ErrUnknownStatus) {
		t.Errorf("err = %v, want ErrUnknownStatus", err)
	}
}

func TestExecuteMarkerPersistFailureStopsBeforeNode(t *testing.T) {
	up := &recordingUpdater{failAt: 1}
	node := &fakeNode{}
	task := &apiserver.Task{ID: 1, FlowStatus: string(StatusPending)}

	_, err := NewEngine(up).Execute(context.Background(), "", task, node)
	if !errors.Is(err, apiserver.ErrNetwork) {
		t.Fatalf("err = %v", err)
	}
	if len(node.calls) != 0 {
		t.Errorf("node ran after failed persist: %v", node.calls)
	}
	if task.FlowStatus != string(StatusPending) {
		t.Errorf("task status = %s", task.FlowStatus)
	}
}

func TestExecuteNodeFailureLeavesFlowUntouched(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		node *fakeNode
	}{
		{"prepare", &fakeNode{prepareErr: boom}},
		{"stage", &fakeNode{stageErr: boom}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &recordingUpdater{}
			task := &apiserver.Task{ID: 1, FlowStatus: string(StatusRunning)}

			_, err := NewEngine(up).Execute(context.Background(), "", task, tt.node)
			if !errors.Is(err, boom) {
				t.Fatalf("err = %v", err)
			}
			if len(up.updates) != 0 {
				t.Errorf("persisted %d updates after failure", len(up.updates))
			}
			if len(task.Flow.Nodes) != 0 {
				t.Error("flow changed after failure")
			}
		})
	}
}

func TestExecuteFinalPersistFailureKeepsSnapshot(t *testing.T) {
	up := &recordingUpdater{failAt: 1}
	task := &apiserver.Task{ID: 1, FlowStatus: string(StatusRunning)}

	if _, err := NewEngine(up).Execute(context.Background(), "", task, &fakeNode{}); !errors.Is(err, apiserver.ErrNetwork) {
		t.Fatalf("err = %v", err)
	}
	if task.FlowStatus != string(StatusRunning) || len(task.Flow.Nodes) != 0 {
		t.Errorf("task advanced locally: %s, %d nodes", task.FlowStatus, len(task.Flow.Nodes))
	}
}

func TestExecutePassesFeedbackAndChainsNodes(t *testing.T) {
	up := &recordingUpdater{}
	node := &fakeNode{}
	task := &apiserver.Task{ID: 1, FlowStatus: string(StatusRevising)}
	task.Flow.Append(flow.Node{ID: "code_develop", Type: "code_develop"})
	task.Flow.Append(flow.Node{ID: "fb1", Type: flow.TypeUserFeedback, Content: "rename the handler"})

	if _, err := NewEngine(up).Execute(context.Background(), "", task, node); err != nil {
		t.Fatal(err)
	}
	if node.feedback != "rename the handler" {
		t.Errorf("feedback = %q", node.feedback)
	}
	last := task.Flow.Nodes[len(task.Flow.Nodes)-1]
	if last.PreNode == nil || *last.PreNode != "fb1" {
		t.Errorf("pre_node = %v, want fb1", last.PreNode)
	}
}

func TestListenersSeeEveryPersistedChange(t *testing.T) {
	e := NewEngine(&recordingUpdater{})
	var seen []Status
	e.AddListener(func(_, to Status, _ Stage, _ *apiserver.Task) {
		seen = append(seen, to)
	})

	if _, err := e.Execute(context.Background(), "", &apiserver.Task{FlowStatus: string(StatusPending)}, &fakeNode{}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 || seen[0] != StatusRunning || seen[1] != StatusReviewing {
		t.Errorf("seen = %v", seen)
	}
}

func TestIsFailed(t *testing.T) {
	tests := map[string]bool{
		"error":        true,
		"client_error": true,
		"merge_error":  true,
		"reviewing":    false,
		"":             false,
	}
	for status, want := range tests {
		if got := IsFailed(status); got != want {
			t.Errorf("IsFailed(%q) = %v, want %v", status, got, want)
		}
	}
}
