// Package graph provides a dependency graph for subtask scheduling.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ShayCichocki/orchestra/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the subtask graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrUnknownDependency indicates a dependency references a subtask that does not exist.
var ErrUnknownDependency = errors.New("unknown dependency")

// CycleError lists the subtasks that could not be ordered because they sit on,
// or behind, a cycle.
type CycleError struct {
	IDs []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s among %s", ErrCycleDetected, strings.Join(e.IDs, ", "))
}

func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// DependencyGraph represents a directed acyclic graph of subtask dependencies.
// Subtasks are nodes, and edges represent "blocked by" relationships.
type DependencyGraph struct {
	mu sync.RWMutex
	// order holds subtask IDs in decomposition order.
	order []string
	// position maps subtask ID to its index in order.
	position map[string]int
	// nodes maps subtask ID to the subtask itself.
	nodes map[string]models.Subtask
	// edges maps subtask ID to IDs of subtasks it depends on.
	edges map[string][]string
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		position: make(map[string]int),
		nodes:    make(map[string]models.Subtask),
		edges:    make(map[string][]string),
		debugLog: func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Validate builds a throwaway graph to check that deps is well formed over subtasks.
func Validate(subtasks []models.Subtask, deps models.DependencyGraph) error {
	return New().Build(subtasks, deps)
}

// Build constructs the dependency graph from subtasks and their dependencies.
// Returns an error if a cycle is detected or dependencies reference unknown subtasks.
func (g *DependencyGraph) Build(subtasks []models.Subtask, deps models.DependencyGraph) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d subtasks", len(subtasks))

	// First pass: register all subtasks as nodes.
	for i, st := range subtasks {
		if _, dup := g.nodes[st.ID]; dup {
			return fmt.Errorf("duplicate subtask id %s", st.ID)
		}
		g.nodes[st.ID] = st
		g.position[st.ID] = i
		g.order = append(g.order, st.ID)
		g.edges[st.ID] = nil
	}

	// Second pass: build edges, dropping duplicates.
	for id, depIDs := range deps {
		if _, exists := g.nodes[id]; !exists {
			return fmt.Errorf("%w: dependencies declared for unknown subtask %s", ErrUnknownDependency, id)
		}
		seen := make(map[string]bool, len(depIDs))
		for _, depID := range depIDs {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("%w: subtask %s depends on unknown subtask %s", ErrUnknownDependency, id, depID)
			}
			if seen[depID] {
				continue
			}
			seen[depID] = true
			g.edges[id] = append(g.edges[id], depID)
		}
	}

	if _, stuck := g.kahnLocked(); len(stuck) > 0 {
		g.debugLog("[graph.Build] cycle detected among %v", stuck)
		return &CycleError{IDs: stuck}
	}

	g.debugLog("[graph.Build] graph built successfully with %d nodes", len(g.nodes))
	return nil
}

// kahnLocked runs Kahn's algorithm and returns the topological order plus any
// nodes that could not be ordered. Ties are broken by decomposition order.
// Caller must hold g.mu.
func (g *DependencyGraph) kahnLocked() (sorted, stuck []string) {
	indegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for _, id := range g.order {
		indegree[id] = len(g.edges[id])
		for _, depID := range g.edges[id] {
			dependents[depID] = append(dependents[depID], id)
		}
	}

	var queue []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)

		var released []string
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		sort.Slice(released, func(i, j int) bool {
			return g.position[released[i]] < g.position[released[j]]
		})
		queue = append(queue, released...)
	}

	if len(sorted) == len(g.order) {
		return sorted, nil
	}
	for _, id := range g.order {
		if indegree[id] > 0 {
			stuck = append(stuck, id)
		}
	}
	return sorted, stuck
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, stuck := g.kahnLocked()
	return len(stuck) > 0
}

// TopologicalSort returns subtask IDs in an order where all dependencies
// come before the subtasks that depend on them.
// Returns an error if the graph contains a cycle.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	sorted, stuck := g.kahnLocked()
	if len(stuck) > 0 {
		return nil, &CycleError{IDs: stuck}
	}
	return sorted, nil
}

// Ready returns subtask IDs whose dependencies have all completed and which
// have not completed or failed themselves. Higher priorities come first;
// equal priorities keep decomposition order.
func (g *DependencyGraph) Ready(results map[string]*models.SubtaskResult) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for _, id := range g.order {
		if r := results[id]; r != nil && r.Status != models.ResultPending {
			continue
		}

		allDepsComplete := true
		for _, depID := range g.edges[id] {
			if r := results[depID]; r == nil || r.Status != models.ResultCompleted {
				allDepsComplete = false
				break
			}
		}
		if allDepsComplete {
			ready = append(ready, id)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		return g.nodes[ready[i]].Priority.Rank() > g.nodes[ready[j]].Priority.Rank()
	})

	g.debugLog("[graph.Ready] %d of %d subtasks ready: %v", len(ready), len(g.order), ready)
	return ready
}

// Blocked returns pending subtask IDs that can never become ready because a
// direct or transitive dependency has failed.
func (g *DependencyGraph) Blocked(results map[string]*models.SubtaskResult) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	dependents := make(map[string][]string, len(g.nodes))
	for id, deps := range g.edges {
		for _, depID := range deps {
			dependents[depID] = append(dependents[depID], id)
		}
	}

	blocked := make(map[string]bool)
	var queue []string
	for _, id := range g.order {
		if r := results[id]; r != nil && r.Status == models.ResultFailed {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dependent := range dependents[id] {
			if blocked[dependent] {
				continue
			}
			if r := results[dependent]; r != nil && r.Status != models.ResultPending {
				continue
			}
			blocked[dependent] = true
			queue = append(queue, dependent)
		}
	}

	var out []string
	for _, id := range g.order {
		if blocked[id] {
			out = append(out, id)
		}
	}
	return out
}

// GetSubtask returns the subtask for a given ID.
func (g *DependencyGraph) GetSubtask(id string) (models.Subtask, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st, ok := g.nodes[id]
	return st, ok
}

// Size returns the number of subtasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GetDependencies returns the IDs of subtasks that the given subtask depends on.
func (g *DependencyGraph) GetDependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[id]...)
}

// GetDependents returns the IDs of subtasks that depend on the given subtask,
// in decomposition order.
func (g *DependencyGraph) GetDependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for _, candidate := range g.order {
		for _, depID := range g.edges[candidate] {
			if depID == id {
				dependents = append(dependents, candidate)
				break
			}
		}
	}
	return dependents
}
