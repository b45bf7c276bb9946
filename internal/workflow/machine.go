package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/valksor/go-taskrunner/internal/apiserver"
	"github.com/valksor/go-taskrunner/internal/flow"
	"github.com/valksor/go-taskrunner/internal/log"
)

// Run is the context of one execution handed to a Node.
type Run struct {
	TraceID string
	Task    *apiserver.Task
	Stage   Stage

	// Feedback is the reviewer comment of the latest user_feedback node,
	// empty when there is none.
	Feedback string
}

// Node is one pipeline node. Prepare runs before every stage and Finish
// after it; Finish returns the node appended to the task's flow.
type Node interface {
	Prepare(ctx context.Context, run *Run) error
	Develop(ctx context.Context, run *Run) error
	Revise(ctx context.Context, run *Run) error
	PrepareMerge(ctx context.Context, run *Run) error
	Finish(ctx context.Context, run *Run) (flow.Node, error)
}

// FlowUpdater persists flow updates.
type FlowUpdater interface {
	UpdateTaskFlow(ctx context.Context, taskID int64, update apiserver.FlowUpdate) error
}

// StateListener is called after a status has been persisted
type StateListener func(from, to Status, stage Stage, task *apiserver.Task)

// HistoryEntry records a persisted status change
type HistoryEntry struct {
	TaskKey string
	From    Status
	To      Status
	Stage   Stage
}

// Outcome describes what one Execute call did.
type Outcome struct {
	From  Status
	To    Status
	Stage Stage
	Ran   bool // false when the task was in a waiting status
}

// Engine drives tasks through the transition table
type Engine struct {
	updater FlowUpdater

	mu        sync.RWMutex
	listeners []StateListener
	history   []HistoryEntry
}

// NewEngine creates an engine persisting through updater
func NewEngine(updater FlowUpdater) *Engine {
	return &Engine{updater: updater}
}

// AddListener registers a status change listener. Listeners run
// synchronously on the executing goroutine.
func (e *Engine) AddListener(listener StateListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, listener)
}

// Execute runs at most one transition for task.
//
// When the task is not yet in the transition's executing status, that
// status is persisted first. The node's Prepare, stage action and Finish
// then run in order, the finished node is appended to a copy of the flow,
// and flow and next status are persisted in a single update. task is
// updated in place after each successful persist.
//
// Errors from the node or from persisting are returned unchanged in kind;
// converting them into client_error is the caller's job.
func (e *Engine) Execute(ctx context.Context, traceID string, task *apiserver.Task, node Node) (Outcome, error) {
	from := Status(task.FlowStatus)
	t, ok, err := Lookup(from)
	if err != nil {
		return Outcome{From: from, To: from}, err
	}
	if !ok {
		return Outcome{From: from, To: from}, nil
	}

	out := Outcome{From: from, To: from, Stage: t.Stage}
	logger := log.With(log.TraceID(traceID), log.TaskKey(task.Key), "stage", string(t.Stage))

	if from != t.Executing {
		if err := e.persist(ctx, task, apiserver.StatusUpdate(string(t.Executing))); err != nil {
			return out, fmt.Errorf("mark %s: %w", t.Executing, err)
		}
		task.FlowStatus = string(t.Executing)
		out.To = t.Executing
		e.record(task, from, t.Executing, t.Stage)
		logger.Info("task status changed", log.State(string(from), string(t.Executing))...)
	}

	run := &Run{
		TraceID:  traceID,
		Task:     task,
		Stage:    t.Stage,
		Feedback: task.Flow.LastFeedback(),
	}

	if err := node.Prepare(ctx, run); err != nil {
		return out, fmt.Errorf("prepare: %w", err)
	}
	if err := runStage(ctx, node, run); err != nil {
		return out, fmt.Errorf("%s: %w", t.Stage, err)
	}
	finished, err := node.Finish(ctx, run)
	if err != nil {
		return out, fmt.Errorf("finish: %w", err)
	}

	next := task.Flow
	next.Nodes = append([]flow.Node(nil), task.Flow.Nodes...)
	next.Append(finished)

	if err := e.persist(ctx, task, apiserver.FlowAndStatus(next, string(t.Next))); err != nil {
		return out, fmt.Errorf("save %s: %w", t.Next, err)
	}
	prev := Status(task.FlowStatus)
	task.Flow = next
	task.FlowStatus = string(t.Next)
	out.To = t.Next
	out.Ran = true
	e.record(task, prev, t.Next, t.Stage)
	logger.Info("task status changed", log.State(string(prev), string(t.Next))...)

	return out, nil
}

func runStage(ctx context.Context, node Node, run *Run) error {
	switch run.Stage {
	case StageDevelop:
		return node.Develop(ctx, run)
	case StageRevise:
		return node.Revise(ctx, run)
	case StagePrepareMerge:
		return node.PrepareMerge(ctx, run)
	}
	return fmt.Errorf("unknown stage %q", run.Stage)
}

func (e *Engine) persist(ctx context.Context, task *apiserver.Task, update apiserver.FlowUpdate) error {
	return e.updater.UpdateTaskFlow(ctx, task.ID, update)
}

// record appends history and notifies listeners
func (e *Engine) record(task *apiserver.Task, from, to Status, stage Stage) {
	e.mu.Lock()
	e.history = append(e.history, HistoryEntry{TaskKey: task.Key, From: from, To: to, Stage: stage})
	listeners := make([]StateListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, listener := range listeners {
		listener(from, to, stage, task)
	}
}

// History returns the transition history
func (e *Engine) History() []HistoryEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	history := make([]HistoryEntry, len(e.history))
	copy(history, e.history)
	return history
}
