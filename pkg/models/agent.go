package models

import (
	"fmt"
	"strings"
)

// AgentStatus represents the externally reported state of an agent.
type AgentStatus string

const (
	// AgentStatusOffline indicates the agent is not accepting work.
	AgentStatusOffline AgentStatus = "offline"
	// AgentStatusAvailable indicates the agent can be assigned a subtask.
	AgentStatusAvailable AgentStatus = "available"
	// AgentStatusBusy indicates the agent is assigned elsewhere.
	AgentStatusBusy AgentStatus = "busy"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusOffline, AgentStatusAvailable, AgentStatusBusy:
		return true
	default:
		return false
	}
}

// ParseAgentStatus converts a user-supplied status into an AgentStatus.
// The legacy spellings "active" and "assigned" map to available and busy.
// Empty input yields AgentStatusOffline.
func ParseAgentStatus(s string) (AgentStatus, error) {
	switch normalize(s) {
	case "":
		return AgentStatusOffline, nil
	case "active", "idle":
		return AgentStatusAvailable, nil
	case "assigned":
		return AgentStatusBusy, nil
	}
	status := AgentStatus(normalize(s))
	if !status.Valid() {
		return "", fmt.Errorf("unknown agent status %q", s)
	}
	return status, nil
}

// Agent is an externally owned worker that subtasks are assigned to.
// The engine only reads these fields.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id" yaml:"id"`
	// Name is the human-readable agent name.
	Name string `json:"name" yaml:"name"`
	// Status is the externally reported availability.
	Status AgentStatus `json:"status" yaml:"status"`
	// Skills lists the capability identifiers this agent offers.
	Skills []string `json:"skills,omitempty" yaml:"skills,omitempty"`
}

// Available reports whether the agent currently accepts work.
func (a Agent) Available() bool {
	return a.Status == AgentStatusAvailable
}

// HasSkills reports whether the agent offers every required skill.
// Skill comparison is case-insensitive.
func (a Agent) HasSkills(required []string) bool {
	if len(required) == 0 {
		return true
	}
	offered := make(map[string]bool, len(a.Skills))
	for _, s := range a.Skills {
		offered[normalize(s)] = true
	}
	for _, r := range required {
		if !offered[normalize(r)] {
			return false
		}
	}
	return true
}

// Validate checks the fields the engine relies on.
func (a Agent) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("agent id is required")
	}
	if !a.Status.Valid() {
		return fmt.Errorf("agent %s: unknown status %q", a.ID, a.Status)
	}
	return nil
}

// Clone returns a copy that shares no slices with a.
func (a Agent) Clone() Agent {
	a.Skills = append([]string(nil), a.Skills...)
	return a
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
