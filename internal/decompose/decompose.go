// Package decompose splits queries into subtasks with dependencies.
package decompose

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ShayCichocki/orchestra/pkg/models"
)

// Decomposition is the output of splitting a query: ordered subtasks and the
// dependencies between them.
type Decomposition struct {
	Subtasks []models.Subtask      `json:"subtasks" yaml:"subtasks"`
	Graph    models.DependencyGraph `json:"dependencies" yaml:"dependencies"`
}

// Step is a subtask draft produced by a strategy, before IDs are assigned.
// Parent and DependsOn refer to other steps by 1-based position.
type Step struct {
	Name        string
	Description string
	Priority    models.Priority
	Skills      []string
	Kind        models.StructureKind
	Order       int
	Group       string
	Level       int
	// Parent is the position of the parent step; zero for none.
	Parent int
	// DependsOn lists positions of steps that must complete first.
	DependsOn []int
}

// StrategyFunc turns a query and its segments into steps.
// Segments is never empty.
type StrategyFunc func(query string, segments []string) ([]Step, error)

type customStrategy struct {
	name string
	fn   StrategyFunc
}

// Decomposer splits queries into subtasks using built-in or registered strategies.
type Decomposer struct {
	mu                sync.RWMutex
	custom            map[Strategy]customStrategy
	next              Strategy
	hierarchyOrdering bool
	newID             func() string
}

// Option configures a Decomposer.
type Option func(*Decomposer)

// WithHierarchyOrdering makes every hierarchical child depend on its parent.
// By default hierarchy is recorded as structure only.
func WithHierarchyOrdering(enabled bool) Option {
	return func(d *Decomposer) {
		d.hierarchyOrdering = enabled
	}
}

// WithIDFunc overrides subtask ID generation.
func WithIDFunc(fn func() string) Option {
	return func(d *Decomposer) {
		if fn != nil {
			d.newID = fn
		}
	}
}

// New creates a Decomposer.
func New(opts ...Option) *Decomposer {
	d := &Decomposer{
		custom: make(map[Strategy]customStrategy),
		next:   FirstCustomStrategy,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a custom strategy under name and returns its value.
func (d *Decomposer) Register(name string, fn StrategyFunc) (Strategy, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || fn == nil {
		return 0, fmt.Errorf("register strategy: name and function are required")
	}
	if _, err := ParseStrategy(name); err == nil {
		return 0, fmt.Errorf("register strategy: %q is built in", name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.custom {
		if c.name == name {
			return 0, fmt.Errorf("register strategy: %q already registered", name)
		}
	}
	s := d.next
	d.next++
	d.custom[s] = customStrategy{name: name, fn: fn}
	return s, nil
}

// Parse resolves a strategy name, including registered custom strategies.
func (d *Decomposer) Parse(name string) (Strategy, error) {
	if s, err := ParseStrategy(name); err == nil {
		return s, nil
	}
	want := strings.ToLower(strings.TrimSpace(name))

	d.mu.RLock()
	defer d.mu.RUnlock()
	for s, c := range d.custom {
		if c.name == want {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// Name returns the name of s, including registered custom strategies.
func (d *Decomposer) Name(s Strategy) string {
	if s.Builtin() {
		return s.String()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if c, ok := d.custom[s]; ok {
		return c.name
	}
	return s.String()
}

// Decompose splits query into subtasks according to strategy.
// A blank query yields an empty decomposition.
func (d *Decomposer) Decompose(query string, strategy Strategy) (Decomposition, error) {
	segments := Segments(query)
	if len(segments) == 0 {
		return Decomposition{Subtasks: []models.Subtask{}, Graph: models.DependencyGraph{}}, nil
	}
	query = strings.Join(strings.Fields(query), " ")

	var steps []Step
	switch strategy {
	case Sequential:
		steps = sequentialSteps(query, segments)
	case Parallel:
		steps = parallelSteps(query, segments)
	case Hierarchical:
		steps = hierarchicalSteps(query, segments)
	default:
		d.mu.RLock()
		c, ok := d.custom[strategy]
		d.mu.RUnlock()
		if !ok {
			return Decomposition{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategy)
		}
		var err error
		if steps, err = c.fn(query, segments); err != nil {
			return Decomposition{}, fmt.Errorf("strategy %s: %w", c.name, err)
		}
	}

	return assemble(steps, d.newID, d.hierarchyOrdering)
}

var segmentSplit = regexp.MustCompile(`[.!?;\n]+`)

// Segments splits a query at sentence terminators, collapsing whitespace
// and dropping blank segments.
func Segments(query string) []string {
	var out []string
	for _, raw := range segmentSplit.Split(query, -1) {
		if seg := strings.Join(strings.Fields(raw), " "); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

var clauseSplit = regexp.MustCompile(`(?i),|\band\b`)

// clauses splits a segment on commas and the word "and".
func clauses(segment string) []string {
	var out []string
	for _, raw := range clauseSplit.Split(segment, -1) {
		if c := strings.Join(strings.Fields(raw), " "); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func sequentialSteps(query string, segments []string) []Step {
	if len(segments) == 1 {
		phases := []struct {
			name, verb string
			priority   models.Priority
		}{
			{"Research", "Gather information for", models.PriorityHigh},
			{"Analysis", "Analyze information for", models.PriorityMedium},
			{"Implementation", "Implement solution for", models.PriorityMedium},
			{"Verification", "Verify solution for", models.PriorityLow},
		}
		steps := make([]Step, len(phases))
		for i, p := range phases {
			steps[i] = Step{
				Name:        fmt.Sprintf("%s for %s", p.name, query),
				Description: fmt.Sprintf("%s %s", p.verb, query),
				Priority:    p.priority,
				Kind:        models.StructureSequence,
				Order:       i + 1,
			}
			if i > 0 {
				steps[i].DependsOn = []int{i}
			}
		}
		return steps
	}

	steps := make([]Step, len(segments))
	for i, seg := range segments {
		steps[i] = Step{
			Name:        seg,
			Description: fmt.Sprintf("Step %d of %d: %s", i+1, len(segments), seg),
			Priority:    models.PriorityMedium,
			Kind:        models.StructureSequence,
			Order:       i + 1,
		}
		if i > 0 {
			steps[i].DependsOn = []int{i}
		}
	}
	return steps
}

func parallelSteps(query string, segments []string) []Step {
	if len(segments) == 1 {
		return []Step{
			{
				Name:        "Data collection for " + query,
				Description: "Collect data for " + query,
				Priority:    models.PriorityMedium,
				Kind:        models.StructureParallel,
				Group:       "data",
			},
			{
				Name:        "Infrastructure setup for " + query,
				Description: "Set up infrastructure for " + query,
				Priority:    models.PriorityMedium,
				Kind:        models.StructureParallel,
				Group:       "infrastructure",
			},
			{
				Name:        "Resource allocation for " + query,
				Description: "Allocate resources for " + query,
				Priority:    models.PriorityMedium,
				Kind:        models.StructureParallel,
				Group:       "resources",
			},
		}
	}

	steps := make([]Step, len(segments))
	for i, seg := range segments {
		steps[i] = Step{
			Name:        seg,
			Description: seg,
			Priority:    models.PriorityMedium,
			Kind:        models.StructureParallel,
			Group:       fmt.Sprintf("group-%d", i+1),
		}
	}
	return steps
}

func hierarchicalSteps(query string, segments []string) []Step {
	if len(segments) == 1 && len(clauses(segments[0])) <= 1 {
		return []Step{
			{Name: "Main component for " + query, Description: "Develop main component for " + query,
				Priority: models.PriorityHigh, Kind: models.StructureHierarchy, Level: 1},
			{Name: "Secondary component for " + query, Description: "Develop secondary component for " + query,
				Priority: models.PriorityMedium, Kind: models.StructureHierarchy, Level: 1},
			{Name: "Subcomponent 1 for main component", Description: "Develop subcomponent 1 for main component",
				Priority: models.PriorityMedium, Kind: models.StructureHierarchy, Level: 2, Parent: 1},
			{Name: "Subcomponent 2 for main component", Description: "Develop subcomponent 2 for main component",
				Priority: models.PriorityLow, Kind: models.StructureHierarchy, Level: 2, Parent: 1},
			{Name: "Subcomponent 1 for secondary component", Description: "Develop subcomponent 1 for secondary component",
				Priority: models.PriorityLow, Kind: models.StructureHierarchy, Level: 2, Parent: 2},
		}
	}

	var steps []Step
	for _, seg := range segments {
		steps = append(steps, Step{
			Name:        seg,
			Description: seg,
			Priority:    models.PriorityHigh,
			Kind:        models.StructureHierarchy,
			Level:       1,
		})
		root := len(steps)

		parts := clauses(seg)
		if len(parts) < 2 {
			continue
		}
		for _, part := range parts {
			steps = append(steps, Step{
				Name:        part,
				Description: fmt.Sprintf("%s (part of %s)", part, seg),
				Priority:    models.PriorityMedium,
				Kind:        models.StructureHierarchy,
				Level:       2,
				Parent:      root,
			})
		}
	}
	return steps
}

// assemble assigns IDs to steps and resolves positional references.
func assemble(steps []Step, newID func() string, hierarchyOrdering bool) (Decomposition, error) {
	ids := make([]string, len(steps))
	for i := range steps {
		ids[i] = newID()
	}

	inRange := func(pos int) bool { return pos >= 1 && pos <= len(steps) }

	out := Decomposition{
		Subtasks: make([]models.Subtask, 0, len(steps)),
		Graph:    models.DependencyGraph{},
	}
	for i, st := range steps {
		if strings.TrimSpace(st.Name) == "" {
			return Decomposition{}, fmt.Errorf("step %d: name is required", i+1)
		}
		priority := st.Priority
		if priority == "" {
			priority = models.PriorityMedium
		}
		kind := st.Kind
		if kind == "" {
			kind = models.StructureNone
		}

		subtask := models.Subtask{
			ID:          ids[i],
			Name:        st.Name,
			Description: st.Description,
			Priority:    priority,
			Skills:      append([]string(nil), st.Skills...),
			Structure: models.Structure{
				Kind:  kind,
				Order: st.Order,
				Group: st.Group,
				Level: st.Level,
			},
		}

		var deps []string
		seen := make(map[string]bool)
		addDep := func(pos int) {
			if id := ids[pos-1]; !seen[id] {
				seen[id] = true
				deps = append(deps, id)
			}
		}

		if st.Parent != 0 {
			if !inRange(st.Parent) {
				return Decomposition{}, fmt.Errorf("step %d: parent %d out of range", i+1, st.Parent)
			}
			subtask.Structure.ParentID = ids[st.Parent-1]
			if hierarchyOrdering {
				addDep(st.Parent)
			}
		}
		for _, pos := range st.DependsOn {
			if !inRange(pos) {
				return Decomposition{}, fmt.Errorf("step %d: dependency %d out of range", i+1, pos)
			}
			addDep(pos)
		}

		out.Subtasks = append(out.Subtasks, subtask)
		if len(deps) > 0 {
			out.Graph[subtask.ID] = deps
		}
	}
	return out, nil
}
