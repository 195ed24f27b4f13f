package models

import "fmt"

// Priority is the advisory urgency of a subtask.
// It only orders the ready set; it never changes which subtasks may run.
type Priority string

const (
	// PriorityLow is for work that can wait behind everything else.
	PriorityLow Priority = "low"
	// PriorityMedium is the default priority.
	PriorityMedium Priority = "medium"
	// PriorityHigh is for work other subtasks are likely to wait on.
	PriorityHigh Priority = "high"
	// PriorityCritical is scheduled ahead of all other ready work.
	PriorityCritical Priority = "critical"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// Rank returns an ordinal for sorting; higher runs first.
// Unknown priorities rank with medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	default:
		return 1
	}
}

// ParsePriority converts a user-supplied string into a Priority.
// Empty input yields PriorityMedium.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityMedium, nil
	}
	p := Priority(normalize(s))
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}
