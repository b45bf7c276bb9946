package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/valksor/go-taskrunner/internal/apiserver"
	"github.com/valksor/go-taskrunner/internal/log"
	"github.com/valksor/go-taskrunner/internal/metrics"
	"github.com/valksor/go-taskrunner/internal/profile"
	"github.com/valksor/go-taskrunner/internal/workflow"
)

// unit is the execution loop of one task.
type unit struct {
	taskID int64
	key    string
	cancel context.CancelFunc
	done   chan struct{}
}

func (u *unit) stop() {
	u.cancel()
}

func (u *unit) exited() bool {
	select {
	case <-u.done:
		return true
	default:
		return false
	}
}

func (s *Supervisor) startUnit(parent context.Context, t apiserver.Task) *unit {
	ctx, cancel := context.WithCancel(parent)
	u := &unit{taskID: t.ID, key: t.Key, cancel: cancel, done: make(chan struct{})}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(u.done)
		defer func() {
			if r := recover(); r != nil {
				log.Error("task unit panicked", log.TaskKey(u.key), "panic", fmt.Sprint(r))
			}
		}()
		s.loop(ctx, u)
	}()
	return u
}

// loop runs cycles until ctx is cancelled. Cancellation is checked between
// cycles and during the sleep, never inside a cycle.
func (s *Supervisor) loop(ctx context.Context, u *unit) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.cycle(ctx, u)
		timer.Reset(s.opts.UnitInterval)
	}
}

// cycle re-fetches the task and runs one workflow step. Work runs under a
// context detached from the stop signal so that git and agent processes
// finish their current step; each of them is bounded by its own timeout.
func (s *Supervisor) cycle(stop context.Context, u *unit) {
	ctx := context.WithoutCancel(stop)
	traceID := uuid.NewString()
	logger := log.With(log.TraceID(traceID), log.TaskKey(u.key))

	task, err := s.service.GetTask(ctx, u.taskID)
	if err != nil {
		logger.Warn("fetch task failed", log.Err(err))
		return
	}
	if workflow.IsFailed(task.FlowStatus) {
		logger.Debug("task is failed, waiting for a reset", "flow_status", task.FlowStatus)
		return
	}

	p, err := s.profiles.Sync(ctx)
	if err != nil {
		s.fail(ctx, logger, task, fmt.Errorf("sync profile: %w", err))
		return
	}

	out, err := s.execute(ctx, traceID, task, p)
	if out.Stage != "" {
		result := metrics.ResultOK
		if err != nil {
			result = metrics.ResultError
		}
		s.opts.Metrics.StageRun(string(out.Stage), result)
	}
	if err != nil {
		s.fail(ctx, logger, task, err)
	}
}

// execute runs one workflow step. A panic in the node is returned as an
// error so that the task fails instead of being retried.
func (s *Supervisor) execute(ctx context.Context, traceID string, task *apiserver.Task, p *profile.Profile) (out workflow.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return workflow.NewEngine(s.service).Execute(ctx, traceID, task, s.newNode(p))
}

// fail records err on the task and marks it client_error. The task is left
// alone until someone resets it.
func (s *Supervisor) fail(ctx context.Context, logger *slog.Logger, task *apiserver.Task, err error) {
	logger.Error("task execution failed", log.Err(err))

	f := task.Flow
	f.Error = err.Error()
	update := apiserver.FlowAndStatus(f, string(workflow.StatusClientError))
	if perr := s.service.UpdateTaskFlow(ctx, task.ID, update); perr != nil {
		logger.Error("cannot record task failure", log.Err(perr))
	}
}
