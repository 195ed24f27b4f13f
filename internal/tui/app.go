package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/orchestra/internal/orchestrator"
	"github.com/ShayCichocki/orchestra/pkg/models"
)

// maxLogEntries bounds the activity log kept in memory.
const maxLogEntries = 200

// EventMsg carries an engine event into the program.
type EventMsg struct {
	Event orchestrator.Event
}

// PlanUpdateMsg replaces the displayed plan with a fresh snapshot.
type PlanUpdateMsg struct {
	Plan *models.ExecutionPlan
}

// PlanDoneMsg signals that execution returned.
type PlanDoneMsg struct {
	Plan *models.ExecutionPlan
	Err  error
}

// LogEntry is a line in the activity log.
type LogEntry struct {
	Timestamp time.Time
	Kind      string
	Message   string
}

// ExecuteApp is the bubbletea model for a single plan execution.
type ExecuteApp struct {
	plan     *models.ExecutionPlan
	view     *PlanView
	spinner  spinner.Model
	progress progress.Model
	logs     []LogEntry
	started  time.Time
	now      func() time.Time

	width    int
	height   int
	quitting bool
	done     bool
	err      error

	titleStyle   lipgloss.Style
	labelStyle   lipgloss.Style
	logTimeStyle lipgloss.Style
	logStyle     lipgloss.Style
	doneStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	hintStyle    lipgloss.Style
}

// NewExecuteApp creates an app showing plan.
func NewExecuteApp(plan *models.ExecutionPlan) *ExecuteApp {
	a := &ExecuteApp{
		view:     NewPlanView(),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		now:      time.Now,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),
		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(10),
		logTimeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
		logStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")).
			Bold(true),
		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),
		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
	}
	a.started = a.now()
	a.setPlan(plan)
	return a
}

// Init implements tea.Model.
func (a *ExecuteApp) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update implements tea.Model.
func (a *ExecuteApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		}
		a.view.Update(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.view.SetSize(msg.Width, msg.Height)

	case spinner.TickMsg:
		if a.done {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.applyEvent(msg.Event)

	case PlanUpdateMsg:
		a.setPlan(msg.Plan)

	case PlanDoneMsg:
		a.done = true
		a.err = msg.Err
		if msg.Plan != nil {
			a.setPlan(msg.Plan)
		}
		if msg.Err != nil {
			a.addLog("error", msg.Err.Error())
		}
	}

	return a, nil
}

func (a *ExecuteApp) setPlan(plan *models.ExecutionPlan) {
	if plan == nil {
		return
	}
	a.plan = plan.Clone()
	a.view.SetPlan(a.plan)
}

// applyEvent folds an event into the local plan copy so the tree stays
// current between snapshots.
func (a *ExecuteApp) applyEvent(ev orchestrator.Event) {
	if a.plan != nil && ev.PlanID != "" && ev.PlanID != a.plan.ID {
		return
	}

	switch ev.Type {
	case orchestrator.EventPlanStarted, orchestrator.EventPlanFinished:
		if a.plan != nil && ev.Status != "" {
			a.plan.Status = models.PlanStatus(ev.Status)
		}
		a.addLog(string(ev.Type), "plan "+ev.Status)
	case orchestrator.EventPassStarted:
		if a.plan != nil {
			a.plan.Passes = ev.Pass
		}
		a.addLog("pass", fmt.Sprintf("pass %d: %s", ev.Pass, ev.Message))
	case orchestrator.EventSubtaskStarted:
		a.view.SetRunning(ev.SubtaskID, true)
		a.addLog("start", fmt.Sprintf("%s -> %s", label(ev), ev.AgentID))
	case orchestrator.EventSubtaskCompleted, orchestrator.EventSubtaskFailed:
		if a.plan != nil {
			r := a.plan.Results[ev.SubtaskID]
			if r == nil {
				r = &models.SubtaskResult{SubtaskID: ev.SubtaskID}
				a.plan.Results[ev.SubtaskID] = r
			}
			r.Status = models.ResultStatus(ev.Status)
			r.AgentID = ev.AgentID
			r.Error = ev.Error
		}
		a.view.SetRunning(ev.SubtaskID, false)
		if ev.Type == orchestrator.EventSubtaskFailed {
			a.addLog("failed", fmt.Sprintf("%s: %s", label(ev), ev.Error))
		} else {
			a.addLog("done", label(ev))
		}
		a.view.SetPlan(a.plan)
	case orchestrator.EventSubtaskBlocked:
		a.addLog("blocked", label(ev))
	default:
		return
	}
}

func label(ev orchestrator.Event) string {
	if ev.SubtaskName != "" {
		return ev.SubtaskName
	}
	return ev.SubtaskID
}

func (a *ExecuteApp) addLog(kind, message string) {
	a.logs = append(a.logs, LogEntry{Timestamp: a.now(), Kind: kind, Message: message})
	if len(a.logs) > maxLogEntries {
		a.logs = a.logs[len(a.logs)-maxLogEntries:]
	}
}

// Done reports whether execution has returned.
func (a *ExecuteApp) Done() bool {
	return a.done
}

// Err returns the execution error, if any.
func (a *ExecuteApp) Err() error {
	return a.err
}

// View implements tea.Model.
func (a *ExecuteApp) View() string {
	if a.quitting {
		return "Detached from plan.\n"
	}

	var b strings.Builder
	b.WriteString(a.titleStyle.Render("=== Orchestra ==="))
	b.WriteString("\n\n")
	b.WriteString(a.renderSummary())
	b.WriteString("\n\n")
	b.WriteString(a.view.View())
	b.WriteString("\n\n")
	b.WriteString(a.renderLogs())

	b.WriteString("\n")
	switch {
	case a.done && a.err != nil:
		b.WriteString(a.errorStyle.Render(fmt.Sprintf("Error: %v", a.err)))
	case a.done:
		b.WriteString(a.doneStyle.Render("Plan finished. Press q to exit."))
	default:
		b.WriteString(a.hintStyle.Render("[j/k] navigate  [space] collapse/expand  [c/e] collapse/expand all  [q] quit"))
	}
	b.WriteString("\n")
	return b.String()
}

func (a *ExecuteApp) renderSummary() string {
	if a.plan == nil {
		return ""
	}
	completed, failed, pending := a.plan.Counts()
	total := len(a.plan.Subtasks)

	var b strings.Builder
	b.WriteString(a.labelStyle.Render("Query:"))
	b.WriteString(truncate(a.plan.Query, 70))
	b.WriteString("\n")

	b.WriteString(a.labelStyle.Render("Status:"))
	if !a.done && !a.plan.Status.Terminal() {
		b.WriteString(a.spinner.View() + " ")
	}
	b.WriteString(fmt.Sprintf("%s  pass %d  %s", a.plan.Status, a.plan.Passes, formatDuration(a.now().Sub(a.started))))
	b.WriteString("\n")

	pct := 0.0
	if total > 0 {
		pct = float64(completed+failed) / float64(total)
	}
	b.WriteString(a.labelStyle.Render("Progress:"))
	b.WriteString(a.progress.ViewAs(pct))
	b.WriteString(fmt.Sprintf("  %d done  %d failed  %d pending", completed, failed, pending))
	return b.String()
}

func (a *ExecuteApp) renderLogs() string {
	if len(a.logs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("252")).
		Render("Activity Log"))
	b.WriteString("\n")

	start := 0
	if len(a.logs) > 8 {
		start = len(a.logs) - 8
	}
	for _, entry := range a.logs[start:] {
		ts := a.logTimeStyle.Render(entry.Timestamp.Format("15:04:05"))
		kind := lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Width(14).
			Render(entry.Kind)
		b.WriteString(fmt.Sprintf("  %s %s %s\n", ts, kind, a.logStyle.Render(entry.Message)))
	}
	return b.String()
}

// NewExecuteProgram creates a bubbletea program for plan.
func NewExecuteProgram(plan *models.ExecutionPlan) (*tea.Program, *ExecuteApp) {
	app := NewExecuteApp(plan)
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}

// Sender is the part of *tea.Program Forward needs.
type Sender interface {
	Send(msg tea.Msg)
}

// Forward relays events to p until ctx is done or events is closed.
func Forward(ctx context.Context, p Sender, events <-chan orchestrator.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.Send(EventMsg{Event: ev})
		}
	}
}
