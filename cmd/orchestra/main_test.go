package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/orchestra/internal/agentfile"
	"github.com/ShayCichocki/orchestra/internal/config"
	"github.com/ShayCichocki/orchestra/internal/decompose"
	"github.com/ShayCichocki/orchestra/internal/orchestrator"
	"github.com/ShayCichocki/orchestra/internal/state"
	"github.com/ShayCichocki/orchestra/pkg/models"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plan not found", &orchestrator.PlanNotFoundError{ID: "x"}, exitNotFound},
		{"agent not found", fmt.Errorf("remove: %w", state.ErrAgentNotFound), exitNotFound},
		{"invalid plan", &orchestrator.InvalidPlanError{Reason: "cycle"}, exitUsage},
		{"unknown strategy", fmt.Errorf("create plan: %w", decompose.ErrUnknownStrategy), exitUsage},
		{"invalid config", fmt.Errorf("%w: bad", config.ErrInvalidConfig), exitUsage},
		{"storage disabled", errStorageDisabled, exitUsage},
		{"events disabled", errEventsDisabled, exitUsage},
		{"other", errors.New("disk full"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

type staticSource []models.Agent

func (s staticSource) List(context.Context) ([]models.Agent, error) { return s, nil }

func (s staticSource) Get(_ context.Context, id string) (models.Agent, error) {
	for _, a := range s {
		if a.ID == id {
			return a, nil
		}
	}
	return models.Agent{}, agentfile.ErrAgentNotFound
}

func TestMultiSource(t *testing.T) {
	stored := staticSource{
		{ID: "a", Name: "stored-a", Status: models.AgentStatusAvailable},
		{ID: "b", Name: "stored-b", Status: models.AgentStatusOffline},
	}
	file := staticSource{
		{ID: "b", Name: "file-b", Status: models.AgentStatusAvailable},
		{ID: "c", Name: "file-c", Status: models.AgentStatusAvailable},
	}
	src := multiSource{stored, file}

	agents, err := src.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, a := range agents {
		got = append(got, a.ID+"="+a.Name)
	}
	want := "a=stored-a b=file-b c=file-c"
	if strings.Join(got, " ") != want {
		t.Errorf("List = %v, want %s", got, want)
	}

	if a, err := src.Get(context.Background(), "b"); err != nil || a.Name != "file-b" {
		t.Errorf("Get(b) = %+v, %v", a, err)
	}
	if _, err := src.Get(context.Background(), "zz"); !errors.Is(err, state.ErrAgentNotFound) {
		t.Errorf("Get(zz) err = %v", err)
	}
}

// setupCLI writes a config that stores everything under a temp dir.
func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("storage:\n  enabled: true\n  path: %s\nlog:\n  level: error\n",
		filepath.Join(dir, "orchestra.db"))
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestCLI_PlanLifecycle(t *testing.T) {
	cfgPath := setupCLI(t)

	out, err := runCLI(t, "--config", cfgPath, "agent", "add", "w1", "--name", "Worker")
	if err != nil {
		t.Fatalf("agent add: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Added agent w1") {
		t.Errorf("agent add output = %q", out)
	}

	out, err = runCLI(t, "--config", cfgPath, "plan", "run", "Fetch the data. Write the report")
	if err != nil {
		t.Fatalf("plan run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "completed") || !strings.Contains(out, "[w1]") {
		t.Errorf("plan run output = %q", out)
	}

	out, err = runCLI(t, "--config", cfgPath, "plan", "create", "Draft the memo")
	if err != nil {
		t.Fatalf("plan create: %v\n%s", err, out)
	}

	db, err := state.Open(filepath.Join(filepath.Dir(cfgPath), "orchestra.db"))
	if err != nil {
		t.Fatal(err)
	}
	plans, err := db.ListPlans(context.Background(), orchestrator.PlanFilter{
		Statuses: []models.PlanStatus{models.PlanStatusCreated},
	})
	db.Close()
	if err != nil || len(plans) != 1 {
		t.Fatalf("created plans = %d, %v", len(plans), err)
	}
	created := plans[0].ID

	out, err = runCLI(t, "--config", cfgPath, "plan", "cancel", created[:8])
	if err != nil || !strings.Contains(out, "Cancelled plan "+created) {
		t.Fatalf("plan cancel: %v\n%s", err, out)
	}

	out, err = runCLI(t, "--config", cfgPath, "plan", "status", created)
	if err != nil || !strings.Contains(out, string(models.PlanStatusCancelled)) {
		t.Errorf("plan status: %v\n%s", err, out)
	}

	out, err = runCLI(t, "--config", cfgPath, "plan", "list")
	if err != nil {
		t.Fatalf("plan list: %v", err)
	}
	if lines := strings.Count(strings.TrimSpace(out), "\n") + 1; lines != 2 {
		t.Errorf("plan list shows %d lines, want 2:\n%s", lines, out)
	}

	_, err = runCLI(t, "--config", cfgPath, "plan", "execute", created)
	if exitCode(err) != exitNotFound {
		t.Errorf("execute cancelled plan err = %v, want not found", err)
	}
}

func TestCLI_AgentRemoveUnknown(t *testing.T) {
	cfgPath := setupCLI(t)
	_, err := runCLI(t, "--config", cfgPath, "agent", "remove", "ghost")
	if !errors.Is(err, state.ErrAgentNotFound) {
		t.Errorf("err = %v, want ErrAgentNotFound", err)
	}
}

func TestCLI_PlanFromDefinition(t *testing.T) {
	cfgPath := setupCLI(t)
	def := filepath.Join(t.TempDir(), "release.yaml")
	body := `query: Release the service
subtasks:
  - name: Build
  - name: Test
    depends_on: [Build]
`
	if err := os.WriteFile(def, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "--config", cfgPath, "plan", "create", "--file", def)
	if err != nil {
		t.Fatalf("plan create --file: %v\n%s", err, out)
	}
	if !strings.Contains(out, "(2 subtasks)") || !strings.Contains(out, "Test <- Build") {
		t.Errorf("output = %q", out)
	}
	planFile = ""
}

func TestCLI_EventsWithoutRedis(t *testing.T) {
	cfgPath := setupCLI(t)
	_, err := runCLI(t, "--config", cfgPath, "events")
	if !errors.Is(err, errEventsDisabled) {
		t.Fatalf("err = %v, want errEventsDisabled", err)
	}
	if exitCode(err) != exitUsage {
		t.Errorf("exitCode = %d, want %d", exitCode(err), exitUsage)
	}
}

func TestFormatEvent(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	ts := time.Date(2026, 3, 1, 9, 30, 5, 0, time.Local)
	tests := []struct {
		name string
		ev   orchestrator.Event
		want []string
	}{
		{
			name: "subtask completed",
			ev: orchestrator.Event{
				Type: orchestrator.EventSubtaskCompleted, PlanID: "0123456789abcdef",
				SubtaskName: "Write report", AgentID: "w1", Status: "completed", Pass: 2, Timestamp: ts,
			},
			want: []string{"09:30:05", "subtask_completed", "01234567", "pass 2", "Write report", "@w1", "completed"},
		},
		{
			name: "subtask failed",
			ev: orchestrator.Event{
				Type: orchestrator.EventSubtaskFailed, PlanID: "p1", SubtaskName: "Build",
				Error: "exit status 1", Message: "ignored", Timestamp: ts,
			},
			want: []string{"subtask_failed", "p1", "Build: exit status 1"},
		},
		{
			name: "agent added",
			ev:   orchestrator.Event{Type: orchestrator.EventAgentAdded, AgentID: "w2", Message: "Worker", Timestamp: ts},
			want: []string{"agent_added", "@w2: Worker"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatEvent(tt.ev)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("formatEvent() = %q, missing %q", got, w)
				}
			}
			if strings.Contains(got, "ignored") {
				t.Errorf("formatEvent() = %q, message shown alongside error", got)
			}
		})
	}
}
