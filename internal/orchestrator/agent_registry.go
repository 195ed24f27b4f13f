package orchestrator

import (
	"sync"

	"github.com/ShayCichocki/orchestra/pkg/models"
)

// AgentRegistry is the engine's agent pool.
// It preserves insertion order, which is the order selection considers agents in.
type AgentRegistry struct {
	// order holds agent IDs in insertion order.
	order []string
	// agents maps agent IDs to agent records.
	agents map[string]models.Agent
	// mu protects all fields.
	mu sync.RWMutex
}

// NewAgentRegistry creates a new AgentRegistry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{
		agents: make(map[string]models.Agent),
	}
}

// Upsert adds an agent or replaces an existing one in place.
// Returns true if the agent was new.
func (r *AgentRegistry) Upsert(a models.Agent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.agents[a.ID]
	r.agents[a.ID] = a.Clone()
	if !exists {
		r.order = append(r.order, a.ID)
	}
	return !exists
}

// Remove deletes an agent. Returns false if it was not registered.
func (r *AgentRegistry) Remove(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[agentID]; !ok {
		return false
	}
	delete(r.agents, agentID)
	for i, id := range r.order {
		if id == agentID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get retrieves an agent by ID.
func (r *AgentRegistry) Get(agentID string) (models.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	if !ok {
		return models.Agent{}, false
	}
	return a.Clone(), true
}

// Replace swaps the pool for agents, keeping the position of agents that
// were already registered and appending new ones.
func (r *AgentRegistry) Replace(agents []models.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	incoming := make(map[string]models.Agent, len(agents))
	for _, a := range agents {
		incoming[a.ID] = a.Clone()
	}

	var order []string
	for _, id := range r.order {
		if _, ok := incoming[id]; ok {
			order = append(order, id)
		}
	}
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		seen[id] = true
	}
	for _, a := range agents {
		if !seen[a.ID] {
			seen[a.ID] = true
			order = append(order, a.ID)
		}
	}

	r.order = order
	r.agents = incoming
}

// Snapshot returns copies of all agents in insertion order.
func (r *AgentRegistry) Snapshot() []models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id].Clone())
	}
	return out
}

// Count returns the number of registered agents.
func (r *AgentRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
