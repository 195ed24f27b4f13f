package orchestrator

import "github.com/ShayCichocki/orchestra/pkg/models"

// Selector chooses at most one agent for a subtask.
// claimed holds the IDs of agents already chosen during the current pass.
type Selector interface {
	Select(subtask models.Subtask, agents []models.Agent, claimed map[string]bool) (models.Agent, bool)
}

// SelectorFunc adapts a function to the Selector interface.
type SelectorFunc func(subtask models.Subtask, agents []models.Agent, claimed map[string]bool) (models.Agent, bool)

// Select calls f.
func (f SelectorFunc) Select(subtask models.Subtask, agents []models.Agent, claimed map[string]bool) (models.Agent, bool) {
	return f(subtask, agents, claimed)
}

// FirstAvailable picks the first agent in pool order that is available,
// offers every required skill and has not been claimed this pass.
type FirstAvailable struct{}

// Select implements Selector.
func (FirstAvailable) Select(subtask models.Subtask, agents []models.Agent, claimed map[string]bool) (models.Agent, bool) {
	for _, a := range agents {
		if !a.Available() || claimed[a.ID] {
			continue
		}
		if !a.HasSkills(subtask.Skills) {
			continue
		}
		return a, true
	}
	return models.Agent{}, false
}
