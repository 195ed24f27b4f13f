package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ShayCichocki/orchestra/internal/agentfile"
	"github.com/ShayCichocki/orchestra/internal/config"
	"github.com/ShayCichocki/orchestra/internal/decompose"
	"github.com/ShayCichocki/orchestra/internal/orchestrator"
	"github.com/ShayCichocki/orchestra/internal/state"
	"github.com/ShayCichocki/orchestra/pkg/logging"
	"github.com/ShayCichocki/orchestra/pkg/models"
)

// errStorageDisabled is returned by commands that need the sqlite store.
var errStorageDisabled = errors.New("storage is disabled (set storage.enabled: true)")

// runtime bundles everything a command needs to drive the engine.
type runtime struct {
	cfg    *config.Config
	log    *logging.Logger
	store  *state.DB
	engine *orchestrator.Engine
	debug  *orchestrator.DebugLogger
}

type runtimeOptions struct {
	// quiet discards log output, for full-screen views.
	quiet bool
	// registry, when set, receives the engine's metrics.
	registry prometheus.Registerer
}

// newRuntime opens the store, builds the engine from cfg and loads the
// agent pool and stored plans.
func newRuntime(ctx context.Context, cfg *config.Config, ro runtimeOptions) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	if ro.quiet && (cfg.Log.Output == "" || cfg.Log.Output == "stderr" || cfg.Log.Output == "stdout") {
		rt.log = logging.Nop()
	} else {
		rt.log = logging.New(logging.Config{
			Level:     cfg.Log.Level,
			Format:    cfg.Log.Format,
			Output:    cfg.Log.Output,
			Component: "orchestra",
		})
	}

	if cfg.Storage.Enabled {
		db, err := state.OpenAndMigrate(cfg.Storage.Path)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
		rt.store = db
	}

	if cfg.Log.DebugFile != "" {
		debug, err := orchestrator.NewDebugLogger(cfg.Log.DebugFile)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open debug log: %w", err)
		}
		rt.debug = debug
	}

	opts, err := engineOptions(cfg, rt.log, rt.store, rt.debug, ro.registry)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.engine = orchestrator.New(opts...)

	if _, err := rt.engine.SyncAgents(ctx, rt.agentSource(nil)); err != nil {
		rt.Close()
		return nil, fmt.Errorf("load agents: %w", err)
	}
	if n, err := rt.engine.Restore(ctx); err != nil {
		rt.Close()
		return nil, err
	} else if n > 0 {
		rt.log.Debug("restored plans", "plans", n)
	}
	return rt, nil
}

// engineOptions translates configuration into engine options.
func engineOptions(cfg *config.Config, log *logging.Logger, store *state.DB, debug *orchestrator.DebugLogger, reg prometheus.Registerer) ([]orchestrator.Option, error) {
	strategy, err := decompose.ParseStrategy(cfg.Engine.DefaultStrategy)
	if err != nil {
		return nil, fmt.Errorf("engine.default_strategy: %w", err)
	}
	opts := []orchestrator.Option{
		orchestrator.WithDefaultStrategy(strategy),
		orchestrator.WithHierarchyOrdering(cfg.Engine.HierarchyOrdering),
		orchestrator.WithRetryUnassigned(cfg.Engine.RetryUnassigned, cfg.Engine.MaxAttempts),
		orchestrator.WithPropagateFailures(cfg.Engine.PropagateFailures),
		orchestrator.WithEventBuffer(cfg.Engine.EventBuffer),
		orchestrator.WithLogger(log),
	}
	if cfg.Engine.RunnerCommand != "" {
		opts = append(opts, orchestrator.WithRunner(orchestrator.NewCommandRunner(cfg.Engine.RunnerCommand)))
	}
	if store != nil {
		opts = append(opts, orchestrator.WithStore(store))
	}
	if debug != nil {
		opts = append(opts, orchestrator.WithDebugLogger(debug))
	}
	if reg != nil {
		opts = append(opts, orchestrator.WithMetrics(orchestrator.NewMetrics("orchestra", reg)))
	}
	return opts, nil
}

// agentSource returns the pool sources in precedence order: the store, then
// the agent file. file overrides the configured agent file when non-nil.
func (rt *runtime) agentSource(file orchestrator.AgentSource) orchestrator.AgentSource {
	var sources multiSource
	if rt.store != nil {
		sources = append(sources, rt.store)
	}
	if file != nil {
		sources = append(sources, file)
	} else if rt.cfg.Agents.File != "" {
		sources = append(sources, agentfile.File{Path: rt.cfg.Agents.File})
	}
	return sources
}

// requireStore fails commands that only make sense with persistence.
func (rt *runtime) requireStore() (*state.DB, error) {
	if rt.store == nil {
		return nil, errStorageDisabled
	}
	return rt.store, nil
}

// Close releases the engine, store and log files.
func (rt *runtime) Close() error {
	if rt.engine != nil {
		rt.engine.Close()
	}
	var errs []error
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if rt.debug != nil {
		errs = append(errs, rt.debug.Close())
	}
	if rt.log != nil {
		errs = append(errs, rt.log.Close())
	}
	return errors.Join(errs...)
}

// multiSource merges agent sources. Later sources override earlier ones by
// ID while the first-seen order is kept.
type multiSource []orchestrator.AgentSource

// List implements orchestrator.AgentSource.
func (m multiSource) List(ctx context.Context) ([]models.Agent, error) {
	var order []string
	byID := make(map[string]models.Agent)
	for _, src := range m {
		agents, err := src.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, a := range agents {
			if _, seen := byID[a.ID]; !seen {
				order = append(order, a.ID)
			}
			byID[a.ID] = a
		}
	}
	out := make([]models.Agent, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

// Get implements orchestrator.AgentSource.
func (m multiSource) Get(ctx context.Context, id string) (models.Agent, error) {
	for i := len(m) - 1; i >= 0; i-- {
		a, err := m[i].Get(ctx, id)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, state.ErrAgentNotFound) && !errors.Is(err, agentfile.ErrAgentNotFound) {
			return models.Agent{}, err
		}
	}
	return models.Agent{}, fmt.Errorf("%w: %s", state.ErrAgentNotFound, id)
}

// poolSyncer reloads the engine pool from the store plus a changed agent file.
type poolSyncer struct {
	rt *runtime
}

// SyncAgents implements agentfile.Syncer.
func (p poolSyncer) SyncAgents(ctx context.Context, file orchestrator.AgentSource) (int, error) {
	return p.rt.engine.SyncAgents(ctx, p.rt.agentSource(file))
}
