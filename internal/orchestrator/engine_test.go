package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ShayCichocki/orchestra/internal/decompose"
	"github.com/ShayCichocki/orchestra/internal/graph"
	"github.com/ShayCichocki/orchestra/pkg/logging"
	"github.com/ShayCichocki/orchestra/pkg/models"
)

func worker(id string, skills ...string) models.Agent {
	return models.Agent{ID: id, Name: "Worker " + id, Status: models.AgentStatusAvailable, Skills: skills}
}

// chain builds a decomposition of named subtasks where each depends on the previous one.
func chain(names ...string) decompose.Decomposition {
	d := decompose.Decomposition{Graph: models.DependencyGraph{}}
	for i, n := range names {
		d.Subtasks = append(d.Subtasks, models.Subtask{ID: n, Name: n, Priority: models.PriorityMedium})
		if i > 0 {
			d.Graph[n] = []string{names[i-1]}
		}
	}
	return d
}

type memStore struct {
	mu    sync.Mutex
	plans map[string]*models.ExecutionPlan
	saves int
}

func newMemStore() *memStore {
	return &memStore{plans: make(map[string]*models.ExecutionPlan)}
}

func (s *memStore) SavePlan(_ context.Context, p *models.ExecutionPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = p.Clone()
	s.saves++
	return nil
}

func (s *memStore) GetPlan(_ context.Context, id string) (*models.ExecutionPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, &PlanNotFoundError{ID: id}
	}
	return p.Clone(), nil
}

func (s *memStore) ListPlans(_ context.Context, _ PlanFilter) ([]*models.ExecutionPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ExecutionPlan
	for _, p := range s.plans {
		out = append(out, p.Clone())
	}
	return out, nil
}

type staticSource []models.Agent

func (s staticSource) List(context.Context) ([]models.Agent, error) { return s, nil }

func (s staticSource) Get(_ context.Context, id string) (models.Agent, error) {
	for _, a := range s {
		if a.ID == id {
			return a, nil
		}
	}
	return models.Agent{}, errors.New("not found")
}

func TestEngine_EmptyQueryCompletesImmediately(t *testing.T) {
	e := New()
	ctx := context.Background()

	plan, err := e.CreatePlan(ctx, PlanRequest{Query: "   "})
	if err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	if plan.Status != models.PlanStatusCompleted {
		t.Errorf("status = %s, want completed", plan.Status)
	}
	if len(plan.Subtasks) != 0 {
		t.Errorf("expected no subtasks, got %d", len(plan.Subtasks))
	}
	if len(e.ActivePlans()) != 0 {
		t.Error("empty plan should not be active")
	}
	if h := e.History(0); len(h) != 1 || h[0].ID != plan.ID {
		t.Errorf("history = %v", h)
	}
	if _, err := e.ExecutePlan(ctx, plan.ID); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("ExecutePlan on terminal plan: expected ErrPlanNotFound, got %v", err)
	}
}

func TestEngine_SequentialSingleAgent(t *testing.T) {
	e := New()
	ctx := context.Background()

	plan, err := e.CreatePlan(ctx, PlanRequest{
		Query:  "Fetch data. Clean it. Publish report.",
		Agents: []models.Agent{worker("a1")},
	})
	if err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	if plan.Status != models.PlanStatusCreated || plan.Strategy != "sequential" {
		t.Fatalf("new plan = %s/%s", plan.Status, plan.Strategy)
	}

	done, err := e.ExecutePlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}
	if done.Status != models.PlanStatusCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}
	if done.Passes != 3 {
		t.Errorf("passes = %d, want 3", done.Passes)
	}
	if done.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	first := done.Results[done.Subtasks[0].ID]
	if first.Output != "Result for Fetch data by Worker a1" {
		t.Errorf("output = %q", first.Output)
	}
	if first.AgentID != "a1" || first.Attempts != 1 {
		t.Errorf("first result = %+v", first)
	}
}

func TestEngine_AgentRemovedMidway(t *testing.T) {
	var e *Engine
	e = New(WithRunner(RunnerFunc(func(_ context.Context, st models.Subtask, a models.Agent) (string, error) {
		e.RemoveAgent(a.ID)
		return "done " + st.Name, nil
	})))
	ctx := context.Background()

	if err := e.AddAgent(worker("a1")); err != nil {
		t.Fatalf("AddAgent failed: %v", err)
	}
	plan, err := e.CreatePlanFromDecomposition(ctx, "three steps", chain("s1", "s2", "s3"))
	if err != nil {
		t.Fatalf("CreatePlanFromDecomposition failed: %v", err)
	}

	done, err := e.ExecutePlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}
	if done.Status != models.PlanStatusPartiallyCompleted {
		t.Errorf("status = %s, want partially_completed", done.Status)
	}

	want := map[string]models.ResultStatus{
		"s1": models.ResultCompleted,
		"s2": models.ResultFailed,
		"s3": models.ResultPending,
	}
	for id, status := range want {
		if got := done.Results[id].Status; got != status {
			t.Errorf("%s status = %s, want %s", id, got, status)
		}
	}
	if !done.Results["s2"].Unassigned() {
		t.Errorf("s2 should have failed for lack of an agent: %+v", done.Results["s2"])
	}
}

func TestEngine_NoAgentsFails(t *testing.T) {
	e := New()
	ctx := context.Background()

	plan, err := e.CreatePlan(ctx, PlanRequest{Query: "a. b", Strategy: "parallel"})
	if err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	done, err := e.ExecutePlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}
	if done.Status != models.PlanStatusFailed {
		t.Errorf("status = %s, want failed", done.Status)
	}
	for _, r := range done.Results {
		if r.Error != models.ErrNoSuitableAgent {
			t.Errorf("result error = %q", r.Error)
		}
	}
}

func TestEngine_InvalidPlans(t *testing.T) {
	tests := []struct {
		name  string
		d     decompose.Decomposition
		cause error
	}{
		{
			name: "cycle",
			d: decompose.Decomposition{
				Subtasks: []models.Subtask{{ID: "a", Name: "a"}, {ID: "b", Name: "b"}},
				Graph:    models.DependencyGraph{"a": {"b"}, "b": {"a"}},
			},
			cause: graph.ErrCycleDetected,
		},
		{
			name: "dangling dependency",
			d: decompose.Decomposition{
				Subtasks: []models.Subtask{{ID: "a", Name: "a"}},
				Graph:    models.DependencyGraph{"a": {"ghost"}},
			},
			cause: graph.ErrUnknownDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			e := New(WithStore(store))

			_, err := e.CreatePlanFromDecomposition(context.Background(), "q", tt.d)
			if !errors.Is(err, ErrInvalidPlan) {
				t.Fatalf("expected ErrInvalidPlan, got %v", err)
			}
			if !errors.Is(err, tt.cause) {
				t.Errorf("expected cause %v, got %v", tt.cause, err)
			}
			var invalid *InvalidPlanError
			if !errors.As(err, &invalid) || invalid.Reason == "" {
				t.Errorf("expected *InvalidPlanError with reason, got %#v", err)
			}
			if len(e.ActivePlans()) != 0 || len(e.History(0)) != 0 || store.saves != 0 {
				t.Error("invalid plan must not be stored")
			}
		})
	}
}

func TestEngine_CancelThenExecute(t *testing.T) {
	e := New()
	ctx := context.Background()

	plan, err := e.CreatePlan(ctx, PlanRequest{Query: "do something"})
	if err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	if !e.Cancel(ctx, plan.ID) {
		t.Fatal("Cancel returned false for active plan")
	}
	if e.Cancel(ctx, plan.ID) {
		t.Error("second Cancel should return false")
	}

	if _, err := e.ExecutePlan(ctx, plan.ID); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("expected ErrPlanNotFound, got %v", err)
	}
	var notFound *PlanNotFoundError
	_, err = e.ExecutePlan(ctx, plan.ID)
	if !errors.As(err, &notFound) || notFound.ID != plan.ID {
		t.Errorf("expected *PlanNotFoundError for %s, got %v", plan.ID, err)
	}

	status, err := e.GetStatus(ctx, plan.ID)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.Status != models.PlanStatusCancelled {
		t.Errorf("status = %s, want cancelled", status.Status)
	}
}

func TestEngine_CancelDuringExecution(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	e := New(WithRunner(RunnerFunc(func(_ context.Context, st models.Subtask, _ models.Agent) (string, error) {
		once.Do(func() {
			close(started)
			<-release
		})
		return "ok", nil
	})))
	ctx := context.Background()
	_ = e.AddAgent(worker("a1"))

	plan, err := e.CreatePlanFromDecomposition(ctx, "q", chain("s1", "s2"))
	if err != nil {
		t.Fatalf("CreatePlanFromDecomposition failed: %v", err)
	}

	type outcome struct {
		plan *models.ExecutionPlan
		err  error
	}
	result := make(chan outcome, 1)
	go func() {
		p, err := e.ExecutePlan(ctx, plan.ID)
		result <- outcome{p, err}
	}()

	<-started
	if !e.Cancel(ctx, plan.ID) {
		t.Fatal("Cancel returned false for running plan")
	}
	close(release)

	select {
	case out := <-result:
		if out.err != nil {
			t.Fatalf("ExecutePlan failed: %v", out.err)
		}
		if out.plan.Status != models.PlanStatusCancelled {
			t.Errorf("status = %s, want cancelled", out.plan.Status)
		}
		if out.plan.Results["s1"].Status != models.ResultCompleted || out.plan.Results["s2"].Status != models.ResultPending {
			t.Errorf("cancellation should take effect at the pass boundary: %+v", out.plan.Results)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ExecutePlan did not return")
	}
}

func TestEngine_ContextCancelledLeavesPlanActive(t *testing.T) {
	e := New()
	_ = e.AddAgent(worker("a1"))

	plan, err := e.CreatePlan(context.Background(), PlanRequest{Query: "one. two"})
	if err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := e.ExecutePlan(ctx, plan.ID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got.Status != models.PlanStatusInProgress {
		t.Errorf("status = %s, want in_progress", got.Status)
	}
	if len(e.ActivePlans()) != 1 {
		t.Fatal("plan should remain active")
	}

	done, err := e.ExecutePlan(context.Background(), plan.ID)
	if err != nil {
		t.Fatalf("resumed ExecutePlan failed: %v", err)
	}
	if done.Status != models.PlanStatusCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestEngine_CancelAfterLastBoundaryWins(t *testing.T) {
	var (
		e        *Engine
		planID   string
		accepted atomic.Bool
	)
	// The blocked-subtask trace line is written after the final boundary
	// check and before the plan is classified.
	hook := writerFunc(func(p []byte) (int, error) {
		if strings.Contains(string(p), "blocked by failed dependencies") {
			accepted.Store(e.Cancel(context.Background(), planID))
		}
		return len(p), nil
	})
	t.Cleanup(func() { setPackageLogger(nil) })

	e = New(WithDebugLogger(NewTraceWriter(hook)), WithRunner(RunnerFunc(
		func(context.Context, models.Subtask, models.Agent) (string, error) {
			return "", errors.New("broken")
		})))
	defer e.Close()
	ctx := context.Background()
	_ = e.AddAgent(worker("a1"))

	plan, err := e.CreatePlanFromDecomposition(ctx, "q", chain("s1", "s2"))
	if err != nil {
		t.Fatal(err)
	}
	planID = plan.ID

	got, err := e.ExecutePlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}
	if !accepted.Load() {
		t.Fatal("Cancel should report true while the pass loop holds the plan")
	}
	if got.Status != models.PlanStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestEngine_GetStatusIdempotent(t *testing.T) {
	e := New()
	ctx := context.Background()
	_ = e.AddAgent(worker("a1"))

	plan, _ := e.CreatePlan(ctx, PlanRequest{Query: "x"})
	if _, err := e.ExecutePlan(ctx, plan.ID); err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}

	first, err := e.GetStatus(ctx, plan.ID)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	first.Results[first.Subtasks[0].ID].Output = "tampered"

	second, err := e.GetStatus(ctx, plan.ID)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	third, _ := e.GetStatus(ctx, plan.ID)
	if !reflect.DeepEqual(second, third) {
		t.Error("GetStatus on a terminal plan is not idempotent")
	}
	if second.Results[second.Subtasks[0].ID].Output == "tampered" {
		t.Error("GetStatus returned shared state")
	}

	if _, err := e.GetStatus(ctx, "missing"); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestEngine_ClaimsAndRetry(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		wantStatus models.PlanStatus
		wantPasses int
	}{
		{"terminal by default", nil, models.PlanStatusPartiallyCompleted, 1},
		{"retry after progress", []Option{WithRetryUnassigned(true, 3)}, models.PlanStatusCompleted, 2},
		{"retry bounded by attempts", []Option{WithRetryUnassigned(true, 1)}, models.PlanStatusPartiallyCompleted, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(tt.opts...)
			ctx := context.Background()

			plan, err := e.CreatePlan(ctx, PlanRequest{
				Query:    "one. two. three",
				Strategy: "parallel",
				Agents:   []models.Agent{worker("a1"), worker("a2")},
			})
			if err != nil {
				t.Fatalf("CreatePlan failed: %v", err)
			}
			done, err := e.ExecutePlan(ctx, plan.ID)
			if err != nil {
				t.Fatalf("ExecutePlan failed: %v", err)
			}
			if done.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", done.Status, tt.wantStatus)
			}
			if done.Passes != tt.wantPasses {
				t.Errorf("passes = %d, want %d", done.Passes, tt.wantPasses)
			}

			// Two agents cannot take three subtasks in one pass.
			first := done.Results[done.Subtasks[0].ID]
			second := done.Results[done.Subtasks[1].ID]
			if first.AgentID != "a1" || second.AgentID != "a2" {
				t.Errorf("agents = %s, %s; want a1, a2", first.AgentID, second.AgentID)
			}
		})
	}
}

func TestEngine_SkillsAndPriority(t *testing.T) {
	e := New()
	ctx := context.Background()
	_ = e.AddAgent(worker("general"))
	_ = e.AddAgent(worker("dba", "sql"))

	d := decompose.Decomposition{
		Subtasks: []models.Subtask{
			{ID: "low", Name: "low", Priority: models.PriorityLow},
			{ID: "crit", Name: "crit", Priority: models.PriorityCritical},
			{ID: "migrate", Name: "migrate", Priority: models.PriorityMedium, Skills: []string{"SQL"}},
			{ID: "rust", Name: "rust", Priority: models.PriorityHigh, Skills: []string{"rust"}},
		},
	}
	plan, err := e.CreatePlanFromDecomposition(ctx, "mixed", d)
	if err != nil {
		t.Fatalf("CreatePlanFromDecomposition failed: %v", err)
	}
	done, err := e.ExecutePlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}

	// Ready order is crit, rust, migrate, low: crit takes "general",
	// rust matches nobody, migrate takes "dba", low finds both claimed.
	want := map[string]string{"crit": "general", "rust": "", "migrate": "dba", "low": ""}
	for id, agentID := range want {
		if got := done.Results[id].AgentID; got != agentID {
			t.Errorf("%s agent = %q, want %q", id, got, agentID)
		}
	}
	if done.Status != models.PlanStatusPartiallyCompleted {
		t.Errorf("status = %s", done.Status)
	}
}

func TestEngine_RunnerErrorsAndPropagation(t *testing.T) {
	failing := RunnerFunc(func(_ context.Context, st models.Subtask, _ models.Agent) (string, error) {
		if st.ID == "s1" {
			return "", errors.New("tool crashed")
		}
		return "ok", nil
	})

	tests := []struct {
		name      string
		propagate bool
		wantS2    models.ResultStatus
		wantErrS3 string
	}{
		{"pending by default", false, models.ResultPending, ""},
		{"propagated", true, models.ResultFailed, "dependency s2 failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(WithRunner(failing), WithPropagateFailures(tt.propagate))
			ctx := context.Background()
			_ = e.AddAgent(worker("a1"))

			plan, err := e.CreatePlanFromDecomposition(ctx, "q", chain("s1", "s2", "s3"))
			if err != nil {
				t.Fatalf("CreatePlanFromDecomposition failed: %v", err)
			}
			done, err := e.ExecutePlan(ctx, plan.ID)
			if err != nil {
				t.Fatalf("ExecutePlan failed: %v", err)
			}

			if done.Status != models.PlanStatusFailed {
				t.Errorf("status = %s, want failed", done.Status)
			}
			if r := done.Results["s1"]; r.Error != "tool crashed" || r.AgentID != "a1" {
				t.Errorf("s1 = %+v", r)
			}
			if got := done.Results["s2"].Status; got != tt.wantS2 {
				t.Errorf("s2 status = %s, want %s", got, tt.wantS2)
			}
			if got := done.Results["s3"].Error; got != tt.wantErrS3 {
				t.Errorf("s3 error = %q, want %q", got, tt.wantErrS3)
			}
		})
	}
}

func TestEngine_CreatePlanErrors(t *testing.T) {
	e := New()
	ctx := context.Background()

	if _, err := e.CreatePlan(ctx, PlanRequest{Query: "q", Strategy: "zigzag"}); !errors.Is(err, decompose.ErrUnknownStrategy) {
		t.Errorf("expected ErrUnknownStrategy, got %v", err)
	}
	_, err := e.CreatePlan(ctx, PlanRequest{Query: "q", Agents: []models.Agent{{ID: ""}}})
	if !errors.Is(err, ErrInvalidAgent) {
		t.Errorf("expected ErrInvalidAgent, got %v", err)
	}
}

func TestEngine_CreatePlanUpsertsAgents(t *testing.T) {
	e := New()
	ctx := context.Background()
	_ = e.AddAgent(worker("a1"))

	updated := worker("a1", "go")
	updated.Status = models.AgentStatusBusy
	if _, err := e.CreatePlan(ctx, PlanRequest{Query: "q", Agents: []models.Agent{updated, worker("a2")}}); err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}

	agents := e.Agents()
	if len(agents) != 2 || agents[0].ID != "a1" || agents[1].ID != "a2" {
		t.Fatalf("agents = %+v", agents)
	}
	if agents[0].Status != models.AgentStatusBusy {
		t.Errorf("a1 was not updated: %+v", agents[0])
	}
	if !e.RemoveAgent("a2") || e.RemoveAgent("a2") {
		t.Error("RemoveAgent should report whether the agent existed")
	}
}

func TestEngine_FailedCreateLeavesPoolUnchanged(t *testing.T) {
	e := New()
	ctx := context.Background()
	_ = e.AddAgent(worker("a1"))

	tests := []struct {
		name string
		req  PlanRequest
		want error
	}{
		{"unknown strategy", PlanRequest{Query: "q", Strategy: "bogus", Agents: []models.Agent{worker("ghost")}}, decompose.ErrUnknownStrategy},
		{"invalid agent after valid one", PlanRequest{Query: "q", Agents: []models.Agent{worker("a2"), {ID: "bad", Status: "sleepy"}}}, ErrInvalidAgent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.CreatePlan(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("CreatePlan error = %v, want %v", err, tt.want)
			}
			if agents := e.Agents(); len(agents) != 1 || agents[0].ID != "a1" {
				t.Errorf("agents after failed create = %+v", agents)
			}
			if len(e.ActivePlans()) != 0 {
				t.Error("no plan should be stored")
			}
		})
	}
}

func TestEngine_HistoryAndActive(t *testing.T) {
	e := New()
	ctx := context.Background()
	_ = e.AddAgent(worker("a1"))

	var ids []string
	for _, q := range []string{"first", "second", "third"} {
		p, err := e.CreatePlan(ctx, PlanRequest{Query: q})
		if err != nil {
			t.Fatalf("CreatePlan failed: %v", err)
		}
		ids = append(ids, p.ID)
	}
	if len(e.ActivePlans()) != 3 {
		t.Fatalf("expected 3 active plans")
	}

	for _, id := range ids {
		if _, err := e.ExecutePlan(ctx, id); err != nil {
			t.Fatalf("ExecutePlan failed: %v", err)
		}
	}

	h := e.History(2)
	if len(h) != 2 || h[0].ID != ids[2] || h[1].ID != ids[1] {
		t.Errorf("History(2) returned wrong plans")
	}
	if len(e.History(0)) != 3 || len(e.ActivePlans()) != 0 {
		t.Error("all plans should be in history")
	}
}

func TestEngine_StoreAndRestore(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	first := New(WithStore(store))
	_ = first.AddAgent(worker("a1"))
	pending, err := first.CreatePlan(ctx, PlanRequest{Query: "later"})
	if err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	finished, _ := first.CreatePlan(ctx, PlanRequest{Query: "now"})
	if _, err := first.ExecutePlan(ctx, finished.ID); err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}

	second := New(WithStore(store))
	n, err := second.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if n != 2 {
		t.Errorf("restored %d plans, want 2", n)
	}
	if active := second.ActivePlans(); len(active) != 1 || active[0].ID != pending.ID {
		t.Fatalf("active = %v", active)
	}
	if h := second.History(0); len(h) != 1 || h[0].ID != finished.ID {
		t.Fatalf("history = %v", h)
	}

	if _, err := second.SyncAgents(ctx, staticSource{worker("a1")}); err != nil {
		t.Fatalf("SyncAgents failed: %v", err)
	}
	done, err := second.ExecutePlan(ctx, pending.ID)
	if err != nil {
		t.Fatalf("ExecutePlan after restore failed: %v", err)
	}
	if done.Status != models.PlanStatusCompleted {
		t.Errorf("status = %s", done.Status)
	}

	stored, _ := store.GetPlan(ctx, pending.ID)
	if stored.Status != models.PlanStatusCompleted {
		t.Errorf("stored status = %s, want completed", stored.Status)
	}

	if n, _ := second.Restore(ctx); n != 0 {
		t.Errorf("second Restore should skip known plans, restored %d", n)
	}
}

func TestEngine_SyncAgents(t *testing.T) {
	e := New()
	_ = e.AddAgent(worker("old"))
	_ = e.AddAgent(worker("keep"))

	n, err := e.SyncAgents(context.Background(), staticSource{worker("new"), {ID: ""}, worker("keep")})
	if err != nil {
		t.Fatalf("SyncAgents failed: %v", err)
	}
	if n != 2 {
		t.Errorf("synced %d agents, want 2", n)
	}

	var ids []string
	for _, a := range e.Agents() {
		ids = append(ids, a.ID)
	}
	if !reflect.DeepEqual(ids, []string{"keep", "new"}) {
		t.Errorf("agents = %v, want [keep new]", ids)
	}
}

func TestEngine_Metadata(t *testing.T) {
	e := New()
	e.AddMetadata("owner", "ops")
	md := e.Metadata()
	md["owner"] = "changed"
	if e.Metadata()["owner"] != "ops" {
		t.Error("Metadata returned shared map")
	}

	plan, err := e.CreatePlan(context.Background(), PlanRequest{Query: "q", Metadata: map[string]string{"ticket": "42"}})
	if err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	if plan.Metadata["ticket"] != "42" {
		t.Errorf("plan metadata = %v", plan.Metadata)
	}
}

func TestEngine_HierarchyOrdering(t *testing.T) {
	e := New(WithHierarchyOrdering(true))
	plan, err := e.CreatePlan(context.Background(), PlanRequest{Query: "Build a website", Strategy: "hierarchical"})
	if err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	for _, st := range plan.Subtasks {
		if st.Structure.ParentID == "" {
			continue
		}
		if deps := plan.Dependencies[st.ID]; len(deps) != 1 || deps[0] != st.Structure.ParentID {
			t.Errorf("child %q deps = %v, want its parent", st.Name, deps)
		}
	}
}

func TestEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("orchestra", reg)
	e := New(WithMetrics(m))
	ctx := context.Background()
	_ = e.AddAgent(worker("a1"))

	plan, _ := e.CreatePlan(ctx, PlanRequest{Query: "a. b"})
	if got := testutil.ToFloat64(m.ActivePlans); got != 1 {
		t.Errorf("active_plans = %v, want 1", got)
	}
	if _, err := e.ExecutePlan(ctx, plan.ID); err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}

	if got := testutil.ToFloat64(m.PlansCreated); got != 1 {
		t.Errorf("plans_created_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PlansFinished.WithLabelValues("completed")); got != 1 {
		t.Errorf("plans_finished_total{completed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Passes); got != 2 {
		t.Errorf("passes_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SubtaskResults.WithLabelValues("completed")); got != 2 {
		t.Errorf("subtask_results_total{completed} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ActivePlans); got != 0 {
		t.Errorf("active_plans = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.Agents); got != 1 {
		t.Errorf("agents = %v, want 1", got)
	}
}

func TestEngine_Events(t *testing.T) {
	e := New(WithEventBuffer(64))
	events, unsubscribe := e.Events().Subscribe()
	defer unsubscribe()
	ctx := context.Background()

	_ = e.AddAgent(worker("a1"))
	plan, _ := e.CreatePlan(ctx, PlanRequest{Query: "only step"})
	if _, err := e.ExecutePlan(ctx, plan.ID); err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}

	var types []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			types = append(types, string(ev.Type))
			if ev.Type == EventPlanFinished {
				joined := strings.Join(types, ",")
				for _, want := range []EventType{EventAgentAdded, EventPlanCreated, EventPlanStarted,
					EventPassStarted, EventSubtaskStarted, EventSubtaskCompleted} {
					if !strings.Contains(joined, string(want)) {
						t.Errorf("missing %s in %s", want, joined)
					}
				}
				if ev.Status != string(models.PlanStatusCompleted) {
					t.Errorf("finished status = %s", ev.Status)
				}
				return
			}
		case <-timeout:
			t.Fatalf("no plan_finished event; got %v", types)
		}
	}
}

func TestEngine_ConcurrentPlans(t *testing.T) {
	e := New()
	ctx := context.Background()
	_ = e.AddAgent(worker("a1"))

	var ids []string
	for i := 0; i < 8; i++ {
		p, err := e.CreatePlan(ctx, PlanRequest{Query: "x. y", Strategy: "parallel"})
		if err != nil {
			t.Fatalf("CreatePlan failed: %v", err)
		}
		ids = append(ids, p.ID)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := e.ExecutePlan(ctx, id); err != nil {
				errs <- err
			}
			_, _ = e.GetStatus(ctx, id)
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("ExecutePlan failed: %v", err)
	}

	got := make([]string, 0, len(ids))
	for _, p := range e.History(0) {
		got = append(got, p.ID)
	}
	sort.Strings(got)
	sort.Strings(ids)
	if !reflect.DeepEqual(got, ids) {
		t.Error("every plan should reach history exactly once")
	}
}

func TestEngine_EventDropsUseEngineLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithWriter(logging.Config{Level: "warn"}, &buf)
	e := New(WithLogger(log), WithEventBuffer(1))
	defer e.Close()

	_, stop := e.Events().Subscribe()
	defer stop()
	e.Events().Emit(Event{Type: EventPassStarted})
	e.Events().Emit(Event{Type: EventPassStarted})

	if !strings.Contains(buf.String(), "dropped event") || !strings.Contains(buf.String(), "component=events") {
		t.Errorf("engine logger output = %q, want drop warning", buf.String())
	}
}
