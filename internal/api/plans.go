package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ShayCichocki/orchestra/internal/orchestrator"
	"github.com/ShayCichocki/orchestra/pkg/models"
)

// createPlanRequest is the body of POST /plans.
type createPlanRequest struct {
	Query    string            `json:"query"`
	Strategy string            `json:"strategy,omitempty"`
	Agents   []agentRequest    `json:"agents,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// planList is the body of GET /plans.
type planList struct {
	Active  []*models.ExecutionPlan `json:"active"`
	History []*models.ExecutionPlan `json:"history"`
}

// CreatePlan decomposes a query into a new plan.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	agents := make([]models.Agent, 0, len(req.Agents))
	for _, a := range req.Agents {
		agent, err := a.toAgent()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		agents = append(agents, agent)
	}

	plan, err := h.engine.CreatePlan(r.Context(), orchestrator.PlanRequest{
		Query:    req.Query,
		Strategy: req.Strategy,
		Agents:   agents,
		Metadata: req.Metadata,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	for _, a := range agents {
		h.persistAgent(r.Context(), a)
	}

	writeJSON(w, http.StatusCreated, plan)
}

// ListPlans returns active plans and up to ?limit= history entries.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, planList{
		Active:  h.engine.ActivePlans(),
		History: h.engine.History(limit),
	})
}

// GetPlan returns the current state of a plan.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.engine.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// ExecutePlan runs a plan to completion. With ?async=true it starts the run
// in the background and responds 202 with the plan as it stands.
func (h *Handler) ExecutePlan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		snapshot, err := h.engine.GetStatus(r.Context(), id)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		ctx := context.WithoutCancel(r.Context())
		h.bg.Add(1)
		go func() {
			defer h.bg.Done()
			if _, err := h.engine.ExecutePlan(ctx, id); err != nil {
				h.log.WithPlanID(id).WithError(err).Warn("async execution failed")
			}
		}()
		writeJSON(w, http.StatusAccepted, snapshot)
		return
	}

	plan, err := h.engine.ExecutePlan(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// CancelPlan cancels an active plan.
func (h *Handler) CancelPlan(w http.ResponseWriter, r *http.Request) {
	cancelled := h.engine.Cancel(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}
