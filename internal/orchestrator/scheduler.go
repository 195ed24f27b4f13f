package orchestrator

import (
	"context"
	"strconv"
	"time"

	"github.com/ShayCichocki/orchestra/pkg/models"
)

// Assignment pairs a ready subtask with the agent chosen for it.
// An empty AgentID means no agent was eligible.
type Assignment struct {
	SubtaskID string
	AgentID   string
}

// Assign selects an agent for each ready subtask in order, claiming agents
// so that no agent is chosen twice in the same pass.
func Assign(selector Selector, subtasks []models.Subtask, agents []models.Agent) []Assignment {
	claimed := make(map[string]bool)
	out := make([]Assignment, 0, len(subtasks))
	for _, st := range subtasks {
		a, ok := selector.Select(st, agents, claimed)
		if !ok {
			debugLog("[scheduler] no suitable agent for subtask %s (skills=%v)", st.ID, st.Skills)
			out = append(out, Assignment{SubtaskID: st.ID})
			continue
		}
		claimed[a.ID] = true
		debugLog("[scheduler] subtask %s -> agent %s", st.ID, a.ID)
		out = append(out, Assignment{SubtaskID: st.ID, AgentID: a.ID})
	}
	return out
}

// runPass executes one scheduling pass over the ready subtasks and returns
// how many completed. Caller must hold ap.mu.
func (e *Engine) runPass(ctx context.Context, ap *activePlan, ready []string) int {
	plan := ap.plan
	plan.Passes++
	start := time.Now()

	agents := e.agents.Snapshot()
	byID := make(map[string]models.Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}

	subtasks := make([]models.Subtask, 0, len(ready))
	for _, id := range ready {
		if st, ok := ap.graph.GetSubtask(id); ok {
			subtasks = append(subtasks, st)
		}
	}

	debugLog("[scheduler] plan %s pass %d: %d ready, %d agents", plan.ID, plan.Passes, len(ready), len(agents))
	e.events.Emit(Event{Type: EventPassStarted, PlanID: plan.ID, Pass: plan.Passes,
		Message: formatCount(len(ready), "ready subtask")})

	completed := 0
	for i, as := range Assign(e.opts.selector, subtasks, agents) {
		st := subtasks[i]
		log := e.log.WithPlanID(plan.ID).WithSubtaskID(st.ID)
		if ctx.Err() != nil {
			debugLog("[scheduler] plan %s pass %d: interrupted before subtask %s", plan.ID, plan.Passes, st.ID)
			continue
		}

		r := plan.Results[st.ID]
		if r == nil {
			r = &models.SubtaskResult{SubtaskID: st.ID, Status: models.ResultPending}
			plan.Results[st.ID] = r
		}

		if as.AgentID == "" {
			r.Attempts++
			e.recordResult(r, "", models.ResultFailed, "", models.ErrNoSuitableAgent)
			e.opts.metrics.SubtaskUnassigned.Inc()
			log.Warn("no suitable agent", "skills", st.Skills)
			e.events.Emit(Event{Type: EventSubtaskFailed, PlanID: plan.ID, SubtaskID: st.ID,
				SubtaskName: st.Name, Status: string(r.Status), Pass: plan.Passes, Error: r.Error})
			continue
		}

		agent := byID[as.AgentID]
		e.events.Emit(Event{Type: EventSubtaskStarted, PlanID: plan.ID, SubtaskID: st.ID,
			SubtaskName: st.Name, AgentID: agent.ID, Pass: plan.Passes})

		output, err := e.opts.runner.Run(ctx, st, agent)
		if err != nil && ctx.Err() != nil {
			// An interrupted run stays pending so a later execution retries it.
			log.WithAgentID(agent.ID).Info("subtask interrupted", "error", ctx.Err())
			continue
		}
		r.Attempts++
		if err != nil {
			e.recordResult(r, agent.ID, models.ResultFailed, "", err.Error())
			log.WithAgentID(agent.ID).WithError(err).Warn("subtask failed")
			e.events.Emit(Event{Type: EventSubtaskFailed, PlanID: plan.ID, SubtaskID: st.ID,
				SubtaskName: st.Name, AgentID: agent.ID, Status: string(r.Status), Pass: plan.Passes, Error: r.Error})
			continue
		}

		e.recordResult(r, agent.ID, models.ResultCompleted, output, "")
		completed++
		log.WithAgentID(agent.ID).Debug("subtask completed")
		e.events.Emit(Event{Type: EventSubtaskCompleted, PlanID: plan.ID, SubtaskID: st.ID,
			SubtaskName: st.Name, AgentID: agent.ID, Status: string(r.Status), Pass: plan.Passes})
	}

	e.opts.metrics.Passes.Inc()
	e.opts.metrics.PassDuration.Observe(time.Since(start).Seconds())
	return completed
}

func (e *Engine) recordResult(r *models.SubtaskResult, agentID string, status models.ResultStatus, output, errText string) {
	now := e.opts.now()
	r.AgentID = agentID
	r.Status = status
	r.Output = output
	r.Error = errText
	r.CompletedAt = &now
	e.opts.metrics.SubtaskResults.WithLabelValues(string(status)).Inc()
}

func formatCount(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
