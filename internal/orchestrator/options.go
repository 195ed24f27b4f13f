package orchestrator

import (
	"time"

	"github.com/ShayCichocki/orchestra/internal/decompose"
	"github.com/ShayCichocki/orchestra/pkg/logging"
)

// Option configures an Engine. Use With* functions to create Options.
type Option func(*engineOptions)

// engineOptions holds all optional configuration.
type engineOptions struct {
	selector          Selector
	runner            SubtaskRunner
	store             PlanStore
	decomposer        *decompose.Decomposer
	hierarchyOrdering bool
	defaultStrategy   decompose.Strategy
	retryUnassigned   bool
	maxAttempts       int
	propagateFailures bool
	eventBuffer       int
	logger            *logging.Logger
	debugLogger       *DebugLogger
	metrics           *Metrics
	now               func() time.Time
	newID             func() string
}

func defaultOptions() engineOptions {
	return engineOptions{
		selector:        FirstAvailable{},
		runner:          MockRunner{},
		defaultStrategy: decompose.Sequential,
		maxAttempts:     3,
		eventBuffer:     256,
		now:             time.Now,
	}
}

// WithSelector sets the agent selection policy.
func WithSelector(s Selector) Option {
	return func(o *engineOptions) { o.selector = s }
}

// WithRunner sets the subtask runner.
func WithRunner(r SubtaskRunner) Option {
	return func(o *engineOptions) { o.runner = r }
}

// WithStore persists plans to s.
func WithStore(s PlanStore) Option {
	return func(o *engineOptions) { o.store = s }
}

// WithDecomposer sets a custom decomposer, for example one with registered strategies.
func WithDecomposer(d *decompose.Decomposer) Option {
	return func(o *engineOptions) { o.decomposer = d }
}

// WithHierarchyOrdering makes hierarchical children depend on their parents.
// Ignored when WithDecomposer is also given.
func WithHierarchyOrdering(enabled bool) Option {
	return func(o *engineOptions) { o.hierarchyOrdering = enabled }
}

// WithDefaultStrategy sets the strategy used when a request names none.
func WithDefaultStrategy(s decompose.Strategy) Option {
	return func(o *engineOptions) { o.defaultStrategy = s }
}

// WithRetryUnassigned re-queues subtasks that found no agent, but only after
// a pass that completed at least one subtask, and at most maxAttempts times.
func WithRetryUnassigned(enabled bool, maxAttempts int) Option {
	return func(o *engineOptions) {
		o.retryUnassigned = enabled
		if maxAttempts > 0 {
			o.maxAttempts = maxAttempts
		}
	}
}

// WithPropagateFailures marks subtasks behind a failed dependency as failed.
func WithPropagateFailures(enabled bool) Option {
	return func(o *engineOptions) { o.propagateFailures = enabled }
}

// WithEventBuffer sets the per-subscriber event buffer size.
func WithEventBuffer(n int) Option {
	return func(o *engineOptions) { o.eventBuffer = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithDebugLogger sets the file trace logger.
func WithDebugLogger(l *DebugLogger) Option {
	return func(o *engineOptions) { o.debugLogger = l }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *engineOptions) { o.metrics = m }
}

// WithClock overrides the time source (mainly for testing).
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// WithIDFunc overrides plan ID generation (mainly for testing).
func WithIDFunc(fn func() string) Option {
	return func(o *engineOptions) { o.newID = fn }
}
