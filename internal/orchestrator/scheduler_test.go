package orchestrator

import (
	"context"
	"reflect"
	"testing"

	"github.com/ShayCichocki/orchestra/pkg/models"
)

func TestFirstAvailableSelect(t *testing.T) {
	busy := models.Agent{ID: "busy", Status: models.AgentStatusBusy}
	offline := models.Agent{ID: "offline", Status: models.AgentStatusOffline}
	general := worker("general")
	gopher := worker("gopher", "go", "sql")

	tests := []struct {
		name    string
		subtask models.Subtask
		agents  []models.Agent
		claimed map[string]bool
		want    string
	}{
		{"empty pool", models.Subtask{ID: "s"}, nil, nil, ""},
		{"skips unavailable", models.Subtask{ID: "s"}, []models.Agent{busy, offline, general}, nil, "general"},
		{"first in pool order", models.Subtask{ID: "s"}, []models.Agent{gopher, general}, nil, "gopher"},
		{"skips claimed", models.Subtask{ID: "s"}, []models.Agent{gopher, general}, map[string]bool{"gopher": true}, "general"},
		{"requires skills", models.Subtask{ID: "s", Skills: []string{"SQL"}}, []models.Agent{general, gopher}, nil, "gopher"},
		{"no skill match", models.Subtask{ID: "s", Skills: []string{"rust"}}, []models.Agent{general, gopher}, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FirstAvailable{}.Select(tt.subtask, tt.agents, tt.claimed)
			if ok != (tt.want != "") {
				t.Fatalf("Select ok = %v, want %v", ok, tt.want != "")
			}
			if got.ID != tt.want {
				t.Errorf("Select = %q, want %q", got.ID, tt.want)
			}
		})
	}
}

func TestAssignClaimsAgentsPerPass(t *testing.T) {
	subtasks := []models.Subtask{{ID: "s1"}, {ID: "s2"}, {ID: "s3"}}
	agents := []models.Agent{worker("a1"), worker("a2")}

	got := Assign(FirstAvailable{}, subtasks, agents)
	want := []Assignment{
		{SubtaskID: "s1", AgentID: "a1"},
		{SubtaskID: "s2", AgentID: "a2"},
		{SubtaskID: "s3"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Assign = %+v, want %+v", got, want)
	}
}

func TestAssignCustomSelector(t *testing.T) {
	last := SelectorFunc(func(_ models.Subtask, agents []models.Agent, claimed map[string]bool) (models.Agent, bool) {
		for i := len(agents) - 1; i >= 0; i-- {
			if !claimed[agents[i].ID] {
				return agents[i], true
			}
		}
		return models.Agent{}, false
	})

	got := Assign(last, []models.Subtask{{ID: "s1"}, {ID: "s2"}}, []models.Agent{worker("a1"), worker("a2")})
	if got[0].AgentID != "a2" || got[1].AgentID != "a1" {
		t.Errorf("Assign with custom selector = %+v", got)
	}
}

func TestMockRunner(t *testing.T) {
	out, err := MockRunner{}.Run(context.Background(), models.Subtask{Name: "Research"}, models.Agent{ID: "a1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Result for Research by a1" {
		t.Errorf("output = %q", out)
	}
}
