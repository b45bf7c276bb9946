// Package supervisor runs the worker loop: it heartbeats the task service,
// starts one unit per running task bound to this client and stops units
// whose task is no longer running.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/valksor/go-taskrunner/internal/apiserver"
	"github.com/valksor/go-taskrunner/internal/log"
	"github.com/valksor/go-taskrunner/internal/metrics"
	"github.com/valksor/go-taskrunner/internal/profile"
	"github.com/valksor/go-taskrunner/internal/workflow"
)

// Default intervals.
const (
	DefaultPollInterval = time.Second
	DefaultUnitInterval = 5 * time.Second
)

// TaskService is the part of the task service client the supervisor uses.
type TaskService interface {
	workflow.FlowUpdater
	Heartbeat(ctx context.Context) (*apiserver.HeartbeatAck, error)
	RunningTasks(ctx context.Context) ([]apiserver.Task, error)
	GetTask(ctx context.Context, id int64) (*apiserver.Task, error)
}

// ProfileSyncer returns the current client profile.
type ProfileSyncer interface {
	Sync(ctx context.Context) (*profile.Profile, error)
}

// NodeFactory builds the pipeline node for one execution.
type NodeFactory func(p *profile.Profile) workflow.Node

// Options configures a Supervisor.
type Options struct {
	PollInterval time.Duration
	UnitInterval time.Duration
	Metrics      *metrics.Metrics
}

// Supervisor owns the task units. Only the goroutine running Run touches
// the unit map.
type Supervisor struct {
	service  TaskService
	profiles ProfileSyncer
	newNode  NodeFactory
	opts     Options

	units map[string]*unit
	wg    sync.WaitGroup
}

// New creates a Supervisor.
func New(service TaskService, profiles ProfileSyncer, newNode NodeFactory, opts Options) *Supervisor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.UnitInterval <= 0 {
		opts.UnitInterval = DefaultUnitInterval
	}
	return &Supervisor{
		service:  service,
		profiles: profiles,
		newNode:  newNode,
		opts:     opts,
		units:    make(map[string]*unit),
	}
}

// Run polls until ctx is cancelled or the heartbeat is rejected because
// another instance owns this client. In both cases every unit is stopped
// and Run waits for them to exit; units finish their in-flight step first.
// A rejected heartbeat is returned as an error matching
// apiserver.ErrConflict.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	log.Info("supervisor started", "poll_interval", s.opts.PollInterval)
	for {
		if err := s.tick(ctx); err != nil {
			s.stopAll()
			return err
		}
		select {
		case <-ctx.Done():
			s.stopAll()
			log.Info("supervisor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// tick runs one heartbeat and reconciles units with the running tasks.
func (s *Supervisor) tick(ctx context.Context) error {
	if _, err := s.service.Heartbeat(ctx); err != nil {
		if errors.Is(err, apiserver.ErrConflict) {
			s.opts.Metrics.Heartbeat(metrics.ResultConflict)
			log.Error("another instance owns this client, stopping", log.Err(err))
			return fmt.Errorf("heartbeat: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		s.opts.Metrics.Heartbeat(metrics.ResultError)
		log.Warn("heartbeat failed", log.Err(err))
	} else {
		s.opts.Metrics.Heartbeat(metrics.ResultOK)
	}

	tasks, err := s.service.RunningTasks(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("list running tasks failed", log.Err(err))
		}
		return nil
	}
	s.reconcile(ctx, tasks)
	return nil
}

func (s *Supervisor) reconcile(ctx context.Context, tasks []apiserver.Task) {
	running := make(map[string]apiserver.Task, len(tasks))
	for _, t := range tasks {
		running[t.Key] = t
	}

	for key, u := range s.units {
		if _, ok := running[key]; ok && !u.exited() {
			continue
		}
		u.stop()
		delete(s.units, key)
		log.Info("task unit removed", log.TaskKey(key))
	}

	for key, t := range running {
		if _, ok := s.units[key]; ok {
			continue
		}
		s.units[key] = s.startUnit(ctx, t)
		log.Info("task unit started", log.TaskKey(key), "task_id", t.ID)
	}

	s.opts.Metrics.SetUnits(len(s.units))
}

// Units returns the keys of the tracked units. It must be called from the
// goroutine running Run, or after Run returned.
func (s *Supervisor) Units() []string {
	keys := make([]string, 0, len(s.units))
	for key := range s.units {
		keys = append(keys, key)
	}
	return keys
}

func (s *Supervisor) stopAll() {
	for key, u := range s.units {
		u.stop()
		delete(s.units, key)
	}
	s.opts.Metrics.SetUnits(0)
	s.wg.Wait()
}
