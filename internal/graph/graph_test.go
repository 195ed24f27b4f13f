package graph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ShayCichocki/orchestra/pkg/models"
)

func subtasks(ids ...string) []models.Subtask {
	out := make([]models.Subtask, len(ids))
	for i, id := range ids {
		out[i] = models.Subtask{ID: id, Name: "Subtask " + id, Priority: models.PriorityMedium}
	}
	return out
}

func completed(ids ...string) map[string]*models.SubtaskResult {
	results := make(map[string]*models.SubtaskResult)
	for _, id := range ids {
		results[id] = &models.SubtaskResult{SubtaskID: id, Status: models.ResultCompleted}
	}
	return results
}

func TestNew(t *testing.T) {
	g := New()
	if g == nil {
		t.Fatal("expected non-nil graph")
	}
	if g.Size() != 0 {
		t.Errorf("expected empty graph, got size %d", g.Size())
	}
}

func TestBuildWithDependencies(t *testing.T) {
	g := New()
	err := g.Build(subtasks("A", "B", "C"), models.DependencyGraph{
		"B": {"A"},
		"C": {"A", "B"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Size() != 3 {
		t.Errorf("expected size 3, got %d", g.Size())
	}
	if deps := g.GetDependencies("C"); len(deps) != 2 {
		t.Errorf("expected 2 dependencies for C, got %d", len(deps))
	}
	if got := g.GetDependents("A"); !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Errorf("GetDependents(A) = %v, want [B C]", got)
	}
	if st, ok := g.GetSubtask("B"); !ok || st.Name != "Subtask B" {
		t.Errorf("GetSubtask(B) = %+v, %v", st, ok)
	}
}

func TestBuildDropsDuplicateEdges(t *testing.T) {
	g := New()
	if err := g.Build(subtasks("A", "B"), models.DependencyGraph{"B": {"A", "A"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deps := g.GetDependencies("B"); len(deps) != 1 {
		t.Errorf("expected duplicate edge to be dropped, got %v", deps)
	}
}

func TestBuildUnknownDependency(t *testing.T) {
	tests := []struct {
		name string
		deps models.DependencyGraph
	}{
		{"unknown dependency target", models.DependencyGraph{"A": {"missing"}}},
		{"unknown dependent", models.DependencyGraph{"missing": {"A"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().Build(subtasks("A"), tt.deps)
			if !errors.Is(err, ErrUnknownDependency) {
				t.Errorf("expected ErrUnknownDependency, got %v", err)
			}
		})
	}
}

func TestBuildDuplicateSubtask(t *testing.T) {
	if err := New().Build(subtasks("A", "A"), nil); err == nil {
		t.Fatal("expected error for duplicate subtask id")
	}
}

func TestCycleDetection(t *testing.T) {
	tests := []struct {
		name      string
		ids       []string
		deps      models.DependencyGraph
		wantStuck []string
	}{
		{
			name:      "two node cycle",
			ids:       []string{"A", "B"},
			deps:      models.DependencyGraph{"A": {"B"}, "B": {"A"}},
			wantStuck: []string{"A", "B"},
		},
		{
			name:      "three node cycle",
			ids:       []string{"A", "B", "C"},
			deps:      models.DependencyGraph{"A": {"B"}, "B": {"C"}, "C": {"A"}},
			wantStuck: []string{"A", "B", "C"},
		},
		{
			name:      "self loop",
			ids:       []string{"A"},
			deps:      models.DependencyGraph{"A": {"A"}},
			wantStuck: []string{"A"},
		},
		{
			name:      "cycle behind a valid root",
			ids:       []string{"root", "X", "Y", "Z"},
			deps:      models.DependencyGraph{"X": {"root", "Y"}, "Y": {"X"}, "Z": {"Y"}},
			wantStuck: []string{"X", "Y", "Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(subtasks(tt.ids...), tt.deps)
			if !errors.Is(err, ErrCycleDetected) {
				t.Fatalf("expected ErrCycleDetected, got %v", err)
			}
			var cycleErr *CycleError
			if !errors.As(err, &cycleErr) {
				t.Fatalf("expected *CycleError, got %T", err)
			}
			if !reflect.DeepEqual(cycleErr.IDs, tt.wantStuck) {
				t.Errorf("stuck ids = %v, want %v", cycleErr.IDs, tt.wantStuck)
			}
		})
	}
}

func TestNoCycle(t *testing.T) {
	g := New()
	if err := g.Build(subtasks("A", "B", "C"), models.DependencyGraph{"B": {"A"}, "C": {"B"}}); err != nil {
		t.Fatalf("unexpected error for acyclic graph: %v", err)
	}
	if g.HasCycle() {
		t.Error("expected no cycle in linear graph")
	}
}

func TestTopologicalSortDiamond(t *testing.T) {
	// Diamond shape: A -> B, A -> C, B -> D, C -> D
	g := New()
	err := g.Build(subtasks("A", "B", "C", "D"), models.DependencyGraph{
		"B": {"A"},
		"C": {"A"},
		"D": {"B", "C"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sorted, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error in TopologicalSort: %v", err)
	}
	if want := []string{"A", "B", "C", "D"}; !reflect.DeepEqual(sorted, want) {
		t.Errorf("TopologicalSort() = %v, want %v", sorted, want)
	}
}

func TestTopologicalSortKeepsDecompositionOrder(t *testing.T) {
	g := New()
	if err := g.Build(subtasks("C", "A", "B"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sorted, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"C", "A", "B"}; !reflect.DeepEqual(sorted, want) {
		t.Errorf("TopologicalSort() = %v, want %v", sorted, want)
	}
}

func TestReady(t *testing.T) {
	g := New()
	err := g.Build(subtasks("A", "B", "C", "D"), models.DependencyGraph{
		"B": {"A"},
		"C": {"A"},
		"D": {"B", "C"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		results map[string]*models.SubtaskResult
		want    []string
	}{
		{"nothing run", nil, []string{"A"}},
		{"root completed", completed("A"), []string{"B", "C"}},
		{"one branch completed", completed("A", "B"), []string{"C"}},
		{"both branches completed", completed("A", "B", "C"), []string{"D"}},
		{"everything completed", completed("A", "B", "C", "D"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.Ready(tt.results); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Ready() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadySkipsFailedAndTheirDependents(t *testing.T) {
	g := New()
	if err := g.Build(subtasks("A", "B", "C"), models.DependencyGraph{"B": {"A"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results := map[string]*models.SubtaskResult{
		"A": {SubtaskID: "A", Status: models.ResultFailed, Error: models.ErrNoSuitableAgent},
	}

	if got := g.Ready(results); !reflect.DeepEqual(got, []string{"C"}) {
		t.Errorf("Ready() = %v, want [C]", got)
	}
}

func TestReadyOrdersByPriority(t *testing.T) {
	sts := []models.Subtask{
		{ID: "low", Priority: models.PriorityLow},
		{ID: "med-1", Priority: models.PriorityMedium},
		{ID: "crit", Priority: models.PriorityCritical},
		{ID: "med-2", Priority: models.PriorityMedium},
	}
	g := New()
	if err := g.Build(sts, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"crit", "med-1", "med-2", "low"}
	if got := g.Ready(nil); !reflect.DeepEqual(got, want) {
		t.Errorf("Ready() = %v, want %v", got, want)
	}
}

func TestBlocked(t *testing.T) {
	// A -> B -> C, plus independent D
	g := New()
	err := g.Build(subtasks("A", "B", "C", "D"), models.DependencyGraph{
		"B": {"A"},
		"C": {"B"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results := map[string]*models.SubtaskResult{
		"A": {SubtaskID: "A", Status: models.ResultFailed},
	}
	if got := g.Blocked(results); !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Errorf("Blocked() = %v, want [B C]", got)
	}

	if got := g.Blocked(completed("A")); len(got) != 0 {
		t.Errorf("Blocked() with no failures = %v, want empty", got)
	}
}
