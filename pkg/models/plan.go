package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a plan is moved to a status its
// current status cannot reach.
var ErrInvalidTransition = errors.New("invalid plan status transition")

// PlanStatus represents the lifecycle state of an execution plan.
type PlanStatus string

const (
	// PlanStatusCreated indicates the plan has not been executed yet.
	PlanStatusCreated PlanStatus = "created"
	// PlanStatusInProgress indicates at least one execution pass has started.
	PlanStatusInProgress PlanStatus = "in_progress"
	// PlanStatusPartiallyCompleted indicates some but not all subtasks completed.
	PlanStatusPartiallyCompleted PlanStatus = "partially_completed"
	// PlanStatusCompleted indicates every subtask completed.
	PlanStatusCompleted PlanStatus = "completed"
	// PlanStatusFailed indicates no subtask completed.
	PlanStatusFailed PlanStatus = "failed"
	// PlanStatusCancelled indicates the plan was cancelled before finishing.
	PlanStatusCancelled PlanStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanStatusCreated, PlanStatusInProgress, PlanStatusPartiallyCompleted,
		PlanStatusCompleted, PlanStatusFailed, PlanStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true for statuses a plan never leaves.
func (s PlanStatus) Terminal() bool {
	switch s {
	case PlanStatusPartiallyCompleted, PlanStatusCompleted, PlanStatusFailed, PlanStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a plan in status s may move to next.
func (s PlanStatus) CanTransition(next PlanStatus) bool {
	switch s {
	case PlanStatusCreated:
		return next == PlanStatusInProgress || next == PlanStatusCancelled ||
			next == PlanStatusCompleted
	case PlanStatusInProgress:
		return next == PlanStatusCompleted || next == PlanStatusPartiallyCompleted ||
			next == PlanStatusFailed || next == PlanStatusCancelled
	default:
		return false
	}
}

// ResultStatus represents the execution state of a single subtask.
type ResultStatus string

const (
	// ResultPending indicates the subtask has not run yet.
	ResultPending ResultStatus = "pending"
	// ResultCompleted indicates the subtask finished successfully.
	ResultCompleted ResultStatus = "completed"
	// ResultFailed indicates the subtask could not be completed.
	ResultFailed ResultStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s ResultStatus) Valid() bool {
	switch s {
	case ResultPending, ResultCompleted, ResultFailed:
		return true
	default:
		return false
	}
}

// ErrNoSuitableAgent is the failure reason recorded when selection finds no agent.
const ErrNoSuitableAgent = "no suitable agent found"

// SubtaskResult holds the mutable execution state of one subtask.
type SubtaskResult struct {
	// SubtaskID is the subtask this result belongs to.
	SubtaskID string `json:"subtask_id"`
	// AgentID is the agent that ran the subtask; empty when none was eligible.
	AgentID string `json:"agent_id,omitempty"`
	// Status is the execution state.
	Status ResultStatus `json:"status"`
	// Output is the opaque payload produced by the agent.
	Output string `json:"output,omitempty"`
	// Error is the failure reason, if any.
	Error string `json:"error,omitempty"`
	// Attempts counts how many passes tried to run the subtask.
	Attempts int `json:"attempts,omitempty"`
	// CompletedAt is when the subtask reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Unassigned reports whether the result failed because no agent was eligible.
func (r SubtaskResult) Unassigned() bool {
	return r.Status == ResultFailed && r.AgentID == "" && r.Error == ErrNoSuitableAgent
}

// ExecutionPlan aggregates a query's decomposition and execution progress.
type ExecutionPlan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`
	// Query is the request the plan was decomposed from.
	Query string `json:"query"`
	// Strategy names the decomposition strategy that produced the subtasks.
	Strategy string `json:"strategy,omitempty"`
	// Subtasks is the ordered decomposition.
	Subtasks []Subtask `json:"subtasks"`
	// Dependencies is the dependency graph between subtasks.
	Dependencies DependencyGraph `json:"dependencies"`
	// Status is the plan lifecycle state.
	Status PlanStatus `json:"status"`
	// Results maps subtask ID to its execution state.
	Results map[string]*SubtaskResult `json:"results"`
	// Passes is the number of scheduling passes executed so far.
	Passes int `json:"passes"`
	// Metadata carries caller-supplied annotations.
	Metadata map[string]string `json:"metadata,omitempty"`
	// CreatedAt is when the plan was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the plan last changed.
	UpdatedAt time.Time `json:"updated_at"`
	// CompletedAt is when the plan reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Transition moves the plan to next, stamping the update times.
func (p *ExecutionPlan) Transition(next PlanStatus, now time.Time) error {
	if !p.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, next)
	}
	p.Status = next
	p.UpdatedAt = now
	if next.Terminal() {
		t := now
		p.CompletedAt = &t
	}
	return nil
}

// Subtask returns the subtask with the given ID.
func (p *ExecutionPlan) Subtask(id string) (Subtask, bool) {
	for _, s := range p.Subtasks {
		if s.ID == id {
			return s, true
		}
	}
	return Subtask{}, false
}

// Counts tallies results by status.
func (p *ExecutionPlan) Counts() (completed, failed, pending int) {
	for _, s := range p.Subtasks {
		r := p.Results[s.ID]
		switch {
		case r == nil:
			pending++
		case r.Status == ResultCompleted:
			completed++
		case r.Status == ResultFailed:
			failed++
		default:
			pending++
		}
	}
	return completed, failed, pending
}

// Outcome classifies a plan whose ready work is exhausted:
// completed iff every subtask completed, failed iff none did,
// partially completed otherwise.
func (p *ExecutionPlan) Outcome() PlanStatus {
	completed, _, _ := p.Counts()
	switch {
	case completed == len(p.Subtasks):
		return PlanStatusCompleted
	case completed == 0:
		return PlanStatusFailed
	default:
		return PlanStatusPartiallyCompleted
	}
}

// Clone returns a deep copy of the plan.
func (p *ExecutionPlan) Clone() *ExecutionPlan {
	if p == nil {
		return nil
	}
	out := *p
	out.Subtasks = make([]Subtask, len(p.Subtasks))
	for i, s := range p.Subtasks {
		out.Subtasks[i] = s.Clone()
	}
	out.Dependencies = p.Dependencies.Clone()
	if p.Results != nil {
		out.Results = make(map[string]*SubtaskResult, len(p.Results))
		for id, r := range p.Results {
			rc := *r
			if r.CompletedAt != nil {
				t := *r.CompletedAt
				rc.CompletedAt = &t
			}
			out.Results[id] = &rc
		}
	}
	if p.Metadata != nil {
		out.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
