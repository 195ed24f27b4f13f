package orchestrator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/orchestra/pkg/models"
)

func TestDebugLogger_Writer(t *testing.T) {
	var buf bytes.Buffer
	l := NewTraceWriter(&buf)
	l.now = func() time.Time { return time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC) }

	l.Log("pass %d", 1)
	l.Log("done")

	want := "09:30:00.000 #0001 pass 1\n09:30:00.000 #0002 done\n"
	if buf.String() != want {
		t.Errorf("trace = %q, want %q", buf.String(), want)
	}
	if l.Lines() != 2 {
		t.Errorf("Lines() = %d, want 2", l.Lines())
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestDebugLogger_NilAndNop(t *testing.T) {
	var nilLogger *DebugLogger
	nilLogger.Log("ignored")
	if nilLogger.Lines() != 0 || nilLogger.Close() != nil {
		t.Error("nil logger should be inert")
	}

	nop, err := NewDebugLogger("")
	if err != nil {
		t.Fatal(err)
	}
	nop.Log("ignored")
	if nop.Lines() != 0 {
		t.Errorf("nop logger wrote %d lines", nop.Lines())
	}
}

func TestDebugLogger_EngineTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "trace.log")
	l, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger() error = %v", err)
	}
	t.Cleanup(func() { setPackageLogger(nil) })

	e := New(WithDebugLogger(l))
	defer e.Close()
	ctx := context.Background()
	plan, err := e.CreatePlan(ctx, PlanRequest{
		Query:  "Write it",
		Agents: []models.Agent{{ID: "w1", Status: models.AgentStatusAvailable}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ExecutePlan(ctx, plan.ID); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"trace opened", "[graph.Build]", "[scheduler] subtask"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("trace missing %q:\n%s", want, data)
		}
	}
}
