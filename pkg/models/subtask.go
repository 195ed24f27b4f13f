package models

// StructureKind identifies which structural position a subtask carries.
type StructureKind string

const (
	// StructureNone is used when the subtask has no structural position.
	StructureNone StructureKind = "none"
	// StructureSequence marks a step in a linear chain.
	StructureSequence StructureKind = "sequence"
	// StructureParallel marks a member of an independent group.
	StructureParallel StructureKind = "parallel"
	// StructureHierarchy marks a node in a parent/child tree.
	StructureHierarchy StructureKind = "hierarchy"
)

// Structure is the placement of a subtask within its decomposition.
// Only the fields relevant to Kind are set.
type Structure struct {
	Kind StructureKind `json:"kind" yaml:"kind"`
	// Order is the 1-based position in a sequential chain.
	Order int `json:"order,omitempty" yaml:"order,omitempty"`
	// Group names the parallel group.
	Group string `json:"group,omitempty" yaml:"group,omitempty"`
	// Level is the 1-based depth in a hierarchy.
	Level int `json:"level,omitempty" yaml:"level,omitempty"`
	// ParentID is the parent subtask in a hierarchy; empty for roots.
	ParentID string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
}

// Subtask is an atomic unit of work produced by decomposition.
// Subtasks are immutable once created; execution state lives in SubtaskResult.
type Subtask struct {
	// ID is the unique identifier for this subtask.
	ID string `json:"id" yaml:"id"`
	// Name is the short title of the subtask.
	Name string `json:"name" yaml:"name"`
	// Description is the human-readable statement of the work.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Priority orders ready subtasks; it is advisory only.
	Priority Priority `json:"priority" yaml:"priority"`
	// Skills lists capabilities an agent must offer to take this subtask.
	Skills []string `json:"skills,omitempty" yaml:"skills,omitempty"`
	// Structure is the position of the subtask within its decomposition.
	Structure Structure `json:"structure" yaml:"structure"`
}

// Clone returns a copy that shares no slices with s.
func (s Subtask) Clone() Subtask {
	s.Skills = append([]string(nil), s.Skills...)
	return s
}

// DependencyGraph maps a subtask ID to the IDs that must complete before it starts.
type DependencyGraph map[string][]string

// Clone returns a deep copy of the graph.
func (g DependencyGraph) Clone() DependencyGraph {
	if g == nil {
		return nil
	}
	out := make(DependencyGraph, len(g))
	for id, deps := range g {
		out[id] = append([]string(nil), deps...)
	}
	return out
}

// DependsOn returns the dependencies of id.
func (g DependencyGraph) DependsOn(id string) []string {
	return g[id]
}
