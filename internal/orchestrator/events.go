package orchestrator

import (
	"time"
)

// EventType represents the type of engine event.
type EventType string

const (
	// EventPlanCreated indicates a plan was decomposed and stored.
	EventPlanCreated EventType = "plan_created"
	// EventPlanStarted indicates the first execution pass of a plan began.
	EventPlanStarted EventType = "plan_started"
	// EventPassStarted indicates a scheduling pass began.
	EventPassStarted EventType = "pass_started"
	// EventSubtaskStarted indicates a subtask was handed to an agent.
	EventSubtaskStarted EventType = "subtask_started"
	// EventSubtaskCompleted indicates a subtask completed successfully.
	EventSubtaskCompleted EventType = "subtask_completed"
	// EventSubtaskFailed indicates a subtask failed.
	EventSubtaskFailed EventType = "subtask_failed"
	// EventSubtaskBlocked indicates a subtask can no longer run because a dependency failed.
	EventSubtaskBlocked EventType = "subtask_blocked"
	// EventPlanFinished indicates a plan reached a terminal status.
	EventPlanFinished EventType = "plan_finished"
	// EventAgentAdded indicates an agent joined or was updated in the pool.
	EventAgentAdded EventType = "agent_added"
	// EventAgentRemoved indicates an agent left the pool.
	EventAgentRemoved EventType = "agent_removed"
)

// Event is emitted by the engine as plans progress.
// Events feed the websocket stream, the redis publisher and the TUI.
type Event struct {
	// Type is the kind of event.
	Type EventType `json:"type"`
	// PlanID is the related plan, if applicable.
	PlanID string `json:"plan_id,omitempty"`
	// SubtaskID is the related subtask, if applicable.
	SubtaskID string `json:"subtask_id,omitempty"`
	// SubtaskName is the name of the related subtask.
	SubtaskName string `json:"subtask_name,omitempty"`
	// AgentID is the related agent, if applicable.
	AgentID string `json:"agent_id,omitempty"`
	// Status is the plan or result status after the event.
	Status string `json:"status,omitempty"`
	// Pass is the pass number for pass and subtask events.
	Pass int `json:"pass,omitempty"`
	// Message provides additional context.
	Message string `json:"message,omitempty"`
	// Error contains the failure reason for failure events.
	Error string `json:"error,omitempty"`
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}
