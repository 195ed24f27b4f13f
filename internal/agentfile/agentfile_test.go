package agentfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/orchestra/pkg/models"
)

const sample = `
agents:
  - id: w1
    name: Writer
    status: available
    skills: [writing]
  - id: w2
    name: Reviewer
    status: assigned
  - id: w3
`

func TestParse(t *testing.T) {
	agents, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := []models.Agent{
		{ID: "w1", Name: "Writer", Status: models.AgentStatusAvailable, Skills: []string{"writing"}},
		{ID: "w2", Name: "Reviewer", Status: models.AgentStatusBusy},
		{ID: "w3", Status: models.AgentStatusOffline},
	}
	if len(agents) != len(want) {
		t.Fatalf("got %d agents, want %d", len(agents), len(want))
	}
	for i := range want {
		got := agents[i]
		if got.ID != want[i].ID || got.Name != want[i].Name || got.Status != want[i].Status {
			t.Errorf("agent[%d] = %+v, want %+v", i, got, want[i])
		}
		if len(got.Skills) != len(want[i].Skills) {
			t.Errorf("agent[%d] skills = %v, want %v", i, got.Skills, want[i].Skills)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"bad yaml", "agents: [", "parse agents file"},
		{"missing id", "agents:\n  - name: x\n", "id is required"},
		{"duplicate id", "agents:\n  - id: a\n  - id: a\n", "duplicate id"},
		{"bad status", "agents:\n  - id: a\n    status: sleeping\n", "unknown agent status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestParse_Empty(t *testing.T) {
	agents, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) failed: %v", err)
	}
	if len(agents) != 0 {
		t.Errorf("got %d agents, want 0", len(agents))
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agents.yaml")
	in := []models.Agent{
		{ID: "a", Name: "Alpha", Status: models.AgentStatusAvailable, Skills: []string{"go", "sql"}},
		{ID: "b", Status: models.AgentStatusBusy},
	}
	if err := Save(path, in); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(out) != 2 || out[0].Skills[1] != "sql" || out[1].Status != models.AgentStatusBusy {
		t.Errorf("Load = %+v", out)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}
	src := File{Path: path}
	ctx := context.Background()

	agents, err := src.List(ctx)
	if err != nil || len(agents) != 3 {
		t.Fatalf("List = %d agents, %v", len(agents), err)
	}
	a, err := src.Get(ctx, "w2")
	if err != nil || a.Name != "Reviewer" {
		t.Errorf("Get(w2) = %+v, %v", a, err)
	}
	if _, err := src.Get(ctx, "zz"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("Get(zz) err = %v, want ErrAgentNotFound", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := src.List(cancelled); !errors.Is(err, context.Canceled) {
		t.Errorf("List on cancelled ctx err = %v", err)
	}
}
