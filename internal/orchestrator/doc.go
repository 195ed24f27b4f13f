// Package orchestrator coordinates the execution of decomposed plans across a pool of agents.
//
// The Engine owns the agent pool, the active plans and the execution history.
// A plan is created from a query (or a pre-built decomposition), validated as
// a DAG, and then executed in passes:
//   - compute the ready set from the dependency graph
//   - select one agent per ready subtask, claiming it for the pass
//   - run the subtask and record its result
//
// Execution stops when a pass finds nothing ready; the plan is then classified
// as completed, partially completed or failed and moved to history.
//
// Subtasks are run by a SubtaskRunner. MockRunner is the default; a
// CommandRunner hands each subtask to a shell script instead.
//
// Example usage:
//
//	engine := orchestrator.New(orchestrator.WithStore(store))
//	plan, err := engine.CreatePlan(ctx, orchestrator.PlanRequest{Query: "Build a report"})
//	plan, err = engine.ExecutePlan(ctx, plan.ID)
package orchestrator
