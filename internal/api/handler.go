// Package api exposes the orchestration engine over HTTP.
//
// Routes:
//
//	GET    /healthz                 - liveness check
//	GET    /metrics                 - Prometheus metrics
//	POST   /plans                   - decompose a query into a new plan
//	GET    /plans                   - active plans and recent history
//	GET    /plans/{id}              - plan status
//	POST   /plans/{id}/execute      - run a plan (?async=true returns immediately)
//	DELETE /plans/{id}              - cancel a plan
//	GET    /agents                  - agent pool
//	POST   /agents                  - add or update an agent
//	DELETE /agents/{id}             - remove an agent
//	GET    /events                  - websocket stream of engine events
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/orchestra/internal/decompose"
	"github.com/ShayCichocki/orchestra/internal/orchestrator"
	"github.com/ShayCichocki/orchestra/pkg/logging"
	"github.com/ShayCichocki/orchestra/pkg/models"
)

// AgentWriter persists agent pool changes made through the API.
type AgentWriter interface {
	SaveAgent(ctx context.Context, a models.Agent) error
	DeleteAgent(ctx context.Context, id string) (bool, error)
}

// Handler serves the HTTP API for one engine.
type Handler struct {
	engine   *orchestrator.Engine
	agents   AgentWriter
	log      *logging.Logger
	metrics  *Metrics
	gatherer prometheus.Gatherer
	gateway  *EventGateway

	// bg tracks asynchronous executions.
	bg sync.WaitGroup
}

// Option configures a Handler.
type Option func(*Handler)

// WithAgentWriter writes agent changes through to a store.
func WithAgentWriter(w AgentWriter) Option {
	return func(h *Handler) { h.agents = w }
}

// WithLogger sets the request logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithRegistry registers HTTP metrics on reg and serves reg's metrics at /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(h *Handler) {
		h.metrics = NewMetrics("orchestra", reg)
		h.gatherer = reg
	}
}

// NewHandler creates a Handler for engine.
func NewHandler(engine *orchestrator.Engine, opts ...Option) *Handler {
	h := &Handler{
		engine: engine,
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics("orchestra", nil)
		h.gatherer = prometheus.DefaultGatherer
	}
	h.log = h.log.WithComponent("api")
	h.gateway = NewEventGateway(engine.Events(), h.log, h.metrics)
	return h
}

// Router returns the configured HTTP routes.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("POST /plans", h.CreatePlan)
	mux.HandleFunc("GET /plans", h.ListPlans)
	mux.HandleFunc("GET /plans/{id}", h.GetPlan)
	mux.HandleFunc("POST /plans/{id}/execute", h.ExecutePlan)
	mux.HandleFunc("DELETE /plans/{id}", h.CancelPlan)

	mux.HandleFunc("GET /agents", h.ListAgents)
	mux.HandleFunc("POST /agents", h.AddAgent)
	mux.HandleFunc("DELETE /agents/{id}", h.RemoveAgent)

	api := h.logMiddleware(h.metrics.Middleware(mux))

	// The websocket route skips the middleware, whose ResponseWriter wrapper
	// does not implement http.Hijacker.
	top := http.NewServeMux()
	top.HandleFunc("GET /events", h.gateway.HandleWebSocket)
	top.Handle("/", api)
	return top
}

// Wait blocks until asynchronous executions started by the API finish.
func (h *Handler) Wait() {
	h.bg.Wait()
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_plans": len(h.engine.ActivePlans()),
		"agents":       len(h.engine.Agents()),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps engine errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrPlanNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrInvalidPlan):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orchestrator.ErrInvalidAgent), errors.Is(err, decompose.ErrUnknownStrategy):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).Error("request failed", "method", r.Method, "path", r.URL.Path)
	}
	writeError(w, status, err.Error())
}
