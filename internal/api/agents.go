package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ShayCichocki/orchestra/pkg/models"
)

// agentRequest accepts the status aliases models.ParseAgentStatus understands.
type agentRequest struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Status string   `json:"status"`
	Skills []string `json:"skills,omitempty"`
}

func (a agentRequest) toAgent() (models.Agent, error) {
	status, err := models.ParseAgentStatus(a.Status)
	if err != nil {
		return models.Agent{}, fmt.Errorf("agent %s: %w", a.ID, err)
	}
	agent := models.Agent{ID: a.ID, Name: a.Name, Status: status, Skills: a.Skills}
	if err := agent.Validate(); err != nil {
		return models.Agent{}, err
	}
	return agent, nil
}

// ListAgents returns the agent pool in insertion order.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Agents())
}

// AddAgent upserts an agent into the pool.
func (h *Handler) AddAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	agent, err := req.toAgent()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.AddAgent(agent); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.persistAgent(r.Context(), agent)
	writeJSON(w, http.StatusCreated, agent)
}

// RemoveAgent deletes an agent from the pool.
func (h *Handler) RemoveAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	removed := h.engine.RemoveAgent(id)
	if h.agents != nil {
		deleted, err := h.agents.DeleteAgent(r.Context(), id)
		if err != nil {
			h.log.WithAgentID(id).WithError(err).Warn("delete stored agent")
		}
		removed = removed || deleted
	}
	if !removed {
		writeError(w, http.StatusNotFound, "agent not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

func (h *Handler) persistAgent(ctx context.Context, a models.Agent) {
	if h.agents == nil {
		return
	}
	if err := h.agents.SaveAgent(ctx, a); err != nil {
		h.log.WithAgentID(a.ID).WithError(err).Warn("save agent")
	}
}
