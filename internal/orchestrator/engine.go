package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ShayCichocki/orchestra/internal/decompose"
	"github.com/ShayCichocki/orchestra/internal/graph"
	"github.com/ShayCichocki/orchestra/pkg/logging"
	"github.com/ShayCichocki/orchestra/pkg/models"
)

// PlanRequest describes a plan to create from a query.
type PlanRequest struct {
	Query string `json:"query"`
	// Strategy names the decomposition strategy; empty uses the engine default.
	Strategy string `json:"strategy,omitempty"`
	// Agents are upserted into the engine's pool before decomposition.
	Agents []models.Agent `json:"agents,omitempty"`
	// Metadata is copied onto the plan.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// activePlan is a plan that has not reached a terminal status.
type activePlan struct {
	// mu serializes execution and finalization of the plan.
	mu sync.Mutex
	// plan is the working copy, mutated only while mu is held.
	plan  *models.ExecutionPlan
	graph *graph.DependencyGraph
	// snapshot is the latest published copy, readable without mu.
	snapshot  atomic.Pointer[models.ExecutionPlan]
	cancelled atomic.Bool
	// finished is set under mu once the plan has moved to history.
	finished bool
}

func (ap *activePlan) publish() {
	ap.snapshot.Store(ap.plan.Clone())
}

// Engine owns the agent pool, the active plans and the execution history.
type Engine struct {
	opts       engineOptions
	decomposer *decompose.Decomposer
	agents     *AgentRegistry
	events     *EventEmitter
	log        *logging.Logger

	mu      sync.RWMutex
	active  map[string]*activePlan
	history []*models.ExecutionPlan

	metaMu   sync.RWMutex
	metadata map[string]string
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.selector == nil {
		o.selector = FirstAvailable{}
	}
	if o.runner == nil {
		o.runner = MockRunner{}
	}
	if o.logger == nil {
		o.logger = logging.Nop()
	}
	if o.metrics == nil {
		o.metrics = NewMetrics("orchestra", nil)
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	if o.debugLogger != nil {
		setPackageLogger(o.debugLogger)
	}

	d := o.decomposer
	if d == nil {
		d = decompose.New(decompose.WithHierarchyOrdering(o.hierarchyOrdering))
	}

	return &Engine{
		opts:       o,
		decomposer: d,
		agents:     NewAgentRegistry(),
		events:     NewEventEmitter(o.eventBuffer, o.logger.WithComponent("events")),
		log:        o.logger.WithComponent("engine"),
		active:     make(map[string]*activePlan),
		metadata:   make(map[string]string),
	}
}

// Events returns the engine's event emitter.
func (e *Engine) Events() *EventEmitter {
	return e.events
}

// Decomposer returns the decomposer used for new plans.
func (e *Engine) Decomposer() *decompose.Decomposer {
	return e.decomposer
}

// Close ends all event subscriptions.
func (e *Engine) Close() {
	e.events.Close()
}

// CreatePlan decomposes the query, stores the resulting plan as created and
// upserts the request's agents. Nothing changes if any step fails.
func (e *Engine) CreatePlan(ctx context.Context, req PlanRequest) (*models.ExecutionPlan, error) {
	for _, a := range req.Agents {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAgent, err)
		}
	}

	strategy := e.opts.defaultStrategy
	if strings.TrimSpace(req.Strategy) != "" {
		s, err := e.decomposer.Parse(req.Strategy)
		if err != nil {
			return nil, fmt.Errorf("create plan: %w", err)
		}
		strategy = s
	}

	d, err := e.decomposer.Decompose(req.Query, strategy)
	if err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}
	return e.createPlan(ctx, req.Query, e.decomposer.Name(strategy), d, req.Metadata, req.Agents)
}

// CreatePlanFromDecomposition stores a plan built from a pre-computed decomposition.
func (e *Engine) CreatePlanFromDecomposition(ctx context.Context, query string, d decompose.Decomposition) (*models.ExecutionPlan, error) {
	return e.createPlan(ctx, query, "", d, nil, nil)
}

func (e *Engine) createPlan(ctx context.Context, query, strategy string, d decompose.Decomposition, metadata map[string]string, agents []models.Agent) (*models.ExecutionPlan, error) {
	g := graph.New()
	g.SetDebugLog(debugLog)
	if err := g.Build(d.Subtasks, d.Graph); err != nil {
		return nil, &InvalidPlanError{Reason: err.Error(), Err: err}
	}

	now := e.opts.now()
	plan := &models.ExecutionPlan{
		ID:           e.opts.newID(),
		Query:        query,
		Strategy:     strategy,
		Subtasks:     make([]models.Subtask, len(d.Subtasks)),
		Dependencies: d.Graph.Clone(),
		Status:       models.PlanStatusCreated,
		Results:      make(map[string]*models.SubtaskResult, len(d.Subtasks)),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if plan.Dependencies == nil {
		plan.Dependencies = models.DependencyGraph{}
	}
	for i, st := range d.Subtasks {
		plan.Subtasks[i] = st.Clone()
		plan.Results[st.ID] = &models.SubtaskResult{SubtaskID: st.ID, Status: models.ResultPending}
	}
	if len(metadata) > 0 {
		plan.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			plan.Metadata[k] = v
		}
	}

	if len(plan.Subtasks) == 0 {
		if err := plan.Transition(models.PlanStatusCompleted, now); err != nil {
			return nil, err
		}
	}

	if e.opts.store != nil {
		if err := e.opts.store.SavePlan(ctx, plan.Clone()); err != nil {
			e.opts.metrics.StoreErrors.Inc()
			return nil, fmt.Errorf("save plan: %w", err)
		}
	}
	for _, a := range agents {
		if err := e.AddAgent(a); err != nil {
			return nil, err
		}
	}

	e.opts.metrics.PlansCreated.Inc()
	e.log.WithPlanID(plan.ID).Info("plan created",
		"strategy", strategy, "subtasks", len(plan.Subtasks))
	e.events.Emit(Event{Type: EventPlanCreated, PlanID: plan.ID, Status: string(plan.Status), Timestamp: now})

	if plan.Status.Terminal() {
		e.appendHistory(plan.Clone())
		e.opts.metrics.PlansFinished.WithLabelValues(string(plan.Status)).Inc()
		e.events.Emit(Event{Type: EventPlanFinished, PlanID: plan.ID, Status: string(plan.Status), Timestamp: now})
		return plan.Clone(), nil
	}

	ap := &activePlan{plan: plan, graph: g}
	ap.publish()

	e.mu.Lock()
	e.active[plan.ID] = ap
	e.opts.metrics.ActivePlans.Set(float64(len(e.active)))
	e.mu.Unlock()

	return plan.Clone(), nil
}

func (e *Engine) lookup(id string) (*activePlan, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ap, ok := e.active[id]
	return ap, ok
}

func (e *Engine) appendHistory(plan *models.ExecutionPlan) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, plan)
}

// ExecutePlan runs passes over an active plan until no subtask is ready,
// then classifies the plan and moves it to history.
// If ctx is cancelled the plan stays active and ctx.Err() is returned; subtasks
// whose run was interrupted stay pending.
func (e *Engine) ExecutePlan(ctx context.Context, id string) (*models.ExecutionPlan, error) {
	ap, ok := e.lookup(id)
	if !ok {
		return nil, &PlanNotFoundError{ID: id}
	}

	ap.mu.Lock()
	defer ap.mu.Unlock()
	if ap.finished {
		return nil, &PlanNotFoundError{ID: id}
	}

	plan := ap.plan
	log := e.log.WithPlanID(plan.ID)

	if plan.Status == models.PlanStatusCreated {
		if err := plan.Transition(models.PlanStatusInProgress, e.opts.now()); err != nil {
			return nil, err
		}
		ap.publish()
		e.persist(ctx, plan)
		log.Info("plan started")
		e.events.Emit(Event{Type: EventPlanStarted, PlanID: plan.ID, Status: string(plan.Status)})
	}

	progressed := false
	for {
		if ap.cancelled.Load() {
			return e.finalize(ctx, ap, models.PlanStatusCancelled)
		}
		if err := ctx.Err(); err != nil {
			e.persist(ctx, plan)
			log.Warn("execution interrupted", "passes", plan.Passes, "error", err)
			return plan.Clone(), err
		}

		if e.opts.retryUnassigned && progressed {
			e.requeueUnassigned(plan)
		}

		ready := ap.graph.Ready(plan.Results)
		if len(ready) == 0 {
			break
		}

		completed := e.runPass(ctx, ap, ready)
		progressed = completed > 0

		if e.opts.propagateFailures {
			e.propagateFailures(ap)
		}
		plan.UpdatedAt = e.opts.now()
		ap.publish()
		e.persist(ctx, plan)
	}

	if blocked := ap.graph.Blocked(plan.Results); len(blocked) > 0 {
		debugLog("[engine] plan %s: %d subtasks blocked by failed dependencies: %v", plan.ID, len(blocked), blocked)
		for _, sid := range blocked {
			st, _ := ap.graph.GetSubtask(sid)
			e.events.Emit(Event{Type: EventSubtaskBlocked, PlanID: plan.ID, SubtaskID: sid,
				SubtaskName: st.Name, Status: string(models.ResultPending)})
		}
	}

	// Cancel may have raced the last boundary check and already reported success.
	if ap.cancelled.Load() {
		return e.finalize(ctx, ap, models.PlanStatusCancelled)
	}
	return e.finalize(ctx, ap, plan.Outcome())
}

// requeueUnassigned resets subtasks that found no agent back to pending.
func (e *Engine) requeueUnassigned(plan *models.ExecutionPlan) {
	for _, st := range plan.Subtasks {
		r := plan.Results[st.ID]
		if r == nil || !r.Unassigned() || r.Attempts >= e.opts.maxAttempts {
			continue
		}
		r.Status = models.ResultPending
		r.Error = ""
		r.CompletedAt = nil
		debugLog("[engine] plan %s: re-queued unassigned subtask %s (attempt %d)", plan.ID, st.ID, r.Attempts)
	}
}

// propagateFailures marks pending subtasks behind a failed dependency as failed.
func (e *Engine) propagateFailures(ap *activePlan) {
	order, err := ap.graph.TopologicalSort()
	if err != nil {
		return
	}
	plan := ap.plan
	now := e.opts.now()
	for _, id := range order {
		r := plan.Results[id]
		if r == nil || r.Status != models.ResultPending {
			continue
		}
		for _, dep := range ap.graph.GetDependencies(id) {
			if d := plan.Results[dep]; d != nil && d.Status == models.ResultFailed {
				r.Status = models.ResultFailed
				r.Error = fmt.Sprintf("dependency %s failed", dep)
				t := now
				r.CompletedAt = &t
				st, _ := ap.graph.GetSubtask(id)
				e.opts.metrics.SubtaskResults.WithLabelValues(string(models.ResultFailed)).Inc()
				e.events.Emit(Event{Type: EventSubtaskFailed, PlanID: plan.ID, SubtaskID: id,
					SubtaskName: st.Name, Status: string(r.Status), Error: r.Error})
				break
			}
		}
	}
}

// finalize moves the plan to a terminal status and into history.
// Caller must hold ap.mu.
func (e *Engine) finalize(ctx context.Context, ap *activePlan, status models.PlanStatus) (*models.ExecutionPlan, error) {
	plan := ap.plan
	if err := plan.Transition(status, e.opts.now()); err != nil {
		return nil, err
	}
	ap.finished = true
	ap.publish()
	e.persist(ctx, plan)

	final := plan.Clone()
	e.mu.Lock()
	delete(e.active, plan.ID)
	e.history = append(e.history, final)
	e.opts.metrics.ActivePlans.Set(float64(len(e.active)))
	e.mu.Unlock()

	completed, failed, pending := plan.Counts()
	e.opts.metrics.PlansFinished.WithLabelValues(string(status)).Inc()
	e.log.WithPlanID(plan.ID).Info("plan finished",
		"status", status, "passes", plan.Passes,
		"completed", completed, "failed", failed, "pending", pending)
	e.events.Emit(Event{Type: EventPlanFinished, PlanID: plan.ID, Status: string(status),
		Message: fmt.Sprintf("%d completed, %d failed, %d pending", completed, failed, pending)})

	return final.Clone(), nil
}

func (e *Engine) persist(ctx context.Context, plan *models.ExecutionPlan) {
	if e.opts.store == nil {
		return
	}
	if err := e.opts.store.SavePlan(context.WithoutCancel(ctx), plan.Clone()); err != nil {
		e.opts.metrics.StoreErrors.Inc()
		e.log.WithPlanID(plan.ID).WithError(err).Error("persist plan")
	}
}

// GetStatus returns a copy of the plan, looking in active plans then history.
func (e *Engine) GetStatus(_ context.Context, id string) (*models.ExecutionPlan, error) {
	if ap, ok := e.lookup(id); ok {
		return ap.snapshot.Load().Clone(), nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].ID == id {
			return e.history[i].Clone(), nil
		}
	}
	return nil, &PlanNotFoundError{ID: id}
}

// Cancel flags an active plan for cancellation. If no pass is running the
// plan moves to history immediately; otherwise the running ExecutePlan stops
// at the next pass boundary. Returns false if the plan is not active.
func (e *Engine) Cancel(ctx context.Context, id string) bool {
	ap, ok := e.lookup(id)
	if !ok {
		return false
	}
	ap.cancelled.Store(true)

	if !ap.mu.TryLock() {
		e.log.WithPlanID(id).Info("cancellation requested for running plan")
		return true
	}
	defer ap.mu.Unlock()
	if ap.finished {
		return false
	}
	if _, err := e.finalize(ctx, ap, models.PlanStatusCancelled); err != nil {
		e.log.WithPlanID(id).WithError(err).Error("cancel plan")
		return false
	}
	return true
}

// History returns up to limit terminal plans, most recent first.
// A limit of zero or less returns all of them.
func (e *Engine) History(limit int) []*models.ExecutionPlan {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := len(e.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*models.ExecutionPlan, 0, n)
	for i := len(e.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, e.history[i].Clone())
	}
	return out
}

// ActivePlans returns copies of all non-terminal plans ordered by creation time.
func (e *Engine) ActivePlans() []*models.ExecutionPlan {
	e.mu.RLock()
	out := make([]*models.ExecutionPlan, 0, len(e.active))
	for _, ap := range e.active {
		out = append(out, ap.snapshot.Load().Clone())
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Restore reloads plans from the store: non-terminal plans become active
// again and terminal plans populate history. Plans already known are skipped.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.opts.store == nil {
		return 0, nil
	}
	plans, err := e.opts.store.ListPlans(ctx, PlanFilter{})
	if err != nil {
		return 0, fmt.Errorf("restore plans: %w", err)
	}

	sort.SliceStable(plans, func(i, j int) bool {
		return plans[i].CreatedAt.Before(plans[j].CreatedAt)
	})

	e.mu.Lock()
	defer e.mu.Unlock()

	known := make(map[string]bool, len(e.active)+len(e.history))
	for id := range e.active {
		known[id] = true
	}
	for _, p := range e.history {
		known[p.ID] = true
	}

	restored := 0
	for _, p := range plans {
		if known[p.ID] {
			continue
		}
		if p.Status.Terminal() {
			e.history = append(e.history, p.Clone())
			restored++
			continue
		}

		g := graph.New()
		g.SetDebugLog(debugLog)
		if err := g.Build(p.Subtasks, p.Dependencies); err != nil {
			e.log.WithPlanID(p.ID).WithError(err).Warn("skipping stored plan with invalid graph")
			continue
		}
		if p.Results == nil {
			p.Results = make(map[string]*models.SubtaskResult)
		}
		for _, st := range p.Subtasks {
			if p.Results[st.ID] == nil {
				p.Results[st.ID] = &models.SubtaskResult{SubtaskID: st.ID, Status: models.ResultPending}
			}
		}
		ap := &activePlan{plan: p.Clone(), graph: g}
		ap.publish()
		e.active[p.ID] = ap
		restored++
	}
	e.opts.metrics.ActivePlans.Set(float64(len(e.active)))
	return restored, nil
}

// AddAgent upserts an agent into the pool.
func (e *Engine) AddAgent(a models.Agent) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAgent, err)
	}
	added := e.agents.Upsert(a)
	e.opts.metrics.Agents.Set(float64(e.agents.Count()))
	e.log.WithAgentID(a.ID).Debug("agent upserted", "new", added, "status", a.Status)
	e.events.Emit(Event{Type: EventAgentAdded, AgentID: a.ID, Status: string(a.Status)})
	return nil
}

// RemoveAgent deletes an agent from the pool. Returns whether it existed.
func (e *Engine) RemoveAgent(id string) bool {
	if !e.agents.Remove(id) {
		return false
	}
	e.opts.metrics.Agents.Set(float64(e.agents.Count()))
	e.events.Emit(Event{Type: EventAgentRemoved, AgentID: id})
	return true
}

// Agents returns the pool in insertion order.
func (e *Engine) Agents() []models.Agent {
	return e.agents.Snapshot()
}

// SyncAgents replaces the pool with the agents listed by src.
// Invalid records are skipped and logged.
func (e *Engine) SyncAgents(ctx context.Context, src AgentSource) (int, error) {
	listed, err := src.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list agents: %w", err)
	}

	valid := make([]models.Agent, 0, len(listed))
	for _, a := range listed {
		if err := a.Validate(); err != nil {
			e.log.WithError(err).Warn("skipping invalid agent")
			continue
		}
		valid = append(valid, a)
	}
	e.agents.Replace(valid)
	e.opts.metrics.Agents.Set(float64(e.agents.Count()))
	e.log.Info("agent pool synced", "agents", len(valid))
	return len(valid), nil
}

// AddMetadata records an engine-level annotation.
func (e *Engine) AddMetadata(key, value string) {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	e.metadata[key] = value
}

// Metadata returns a copy of the engine-level annotations.
func (e *Engine) Metadata() map[string]string {
	e.metaMu.RLock()
	defer e.metaMu.RUnlock()
	out := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		out[k] = v
	}
	return out
}
