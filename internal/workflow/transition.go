package workflow

import (
	"errors"
	"fmt"
)

// ErrUnknownStatus is returned for a flow_status with no transition.
var ErrUnknownStatus = errors.New("unknown flow status")

// Stage names the action run by a transition.
type Stage string

const (
	StageDevelop      Stage = "develop"
	StageRevise       Stage = "revise"
	StagePrepareMerge Stage = "prepare_merge"
)

// Transition defines what one execution does from a status
type Transition struct {
	From      Status
	Stage     Stage
	Executing Status // persisted before the stage runs unless already current
	Next      Status // persisted together with the flow on success
}

// TransitionTable maps active statuses to their transition:
//
//	pending, running -> running  -> reviewing
//	revising         -> revising -> reviewing
//	reviewed         -> reviewed -> done
//
// Waiting statuses have no entry.
var TransitionTable = map[Status]Transition{
	StatusPending: {
		From: StatusPending, Stage: StageDevelop, Executing: StatusRunning, Next: StatusReviewing,
	},
	StatusRunning: {
		From: StatusRunning, Stage: StageDevelop, Executing: StatusRunning, Next: StatusReviewing,
	},
	StatusRevising: {
		From: StatusRevising, Stage: StageRevise, Executing: StatusRevising, Next: StatusReviewing,
	},
	StatusReviewed: {
		From: StatusReviewed, Stage: StagePrepareMerge, Executing: StatusReviewed, Next: StatusDone,
	},
}

// Lookup returns the transition for from. ok is false for waiting statuses;
// statuses outside the registry are an error.
func Lookup(from Status) (t Transition, ok bool, err error) {
	if t, ok := TransitionTable[from]; ok {
		return t, true, nil
	}
	if IsWaiting(from) {
		return Transition{}, false, nil
	}
	return Transition{}, false, fmt.Errorf("%w: %q", ErrUnknownStatus, from)
}

// CanReach reports whether one execution can persist to starting from
// from, either as the executing marker or as the next status.
func CanReach(from, to Status) bool {
	t, ok := TransitionTable[from]
	if !ok {
		return false
	}
	return to == t.Executing || to == t.Next
}
