// Package tui provides the terminal view for `orchestra plan execute --tui`.
//
// The TUI is read-only: it renders the plan's subtask tree with live status
// and an activity log fed by engine events. Users can navigate the tree and
// quit with 'q' or Ctrl+C.
//
// Usage:
//
//	program, app := tui.NewExecuteProgram(plan)
//	go tui.Forward(ctx, program, events)
//
//	// Signal completion
//	program.Send(tui.PlanDoneMsg{Plan: final, Err: err})
package tui
