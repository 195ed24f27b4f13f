package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/orchestra/pkg/models"
)

// SubtaskState is the display state of a subtask.
type SubtaskState int

const (
	StatePending SubtaskState = iota
	StateRunning
	StateCompleted
	StateFailed
	// StateBlocked is a pending subtask with a failed dependency.
	StateBlocked
)

// PlanView displays a plan's subtasks as a tree with dependency hints.
// Hierarchical subtasks nest under their parent; everything else is a root.
type PlanView struct {
	plan     *models.ExecutionPlan
	running  map[string]bool
	selected string
	width    int
	height   int

	scrollOffset int
	visibleRows  int

	// collapsed maps parent subtask ID to collapsed state.
	collapsed map[string]bool

	renderedLines []renderedLine

	headerStyle   lipgloss.Style
	nodeStyle     lipgloss.Style
	selectedStyle lipgloss.Style
	arrowStyle    lipgloss.Style
	statusDone    lipgloss.Style
	statusRunning lipgloss.Style
	statusBlocked lipgloss.Style
	statusFailed  lipgloss.Style
	statusPending lipgloss.Style
	collapseStyle lipgloss.Style
}

// renderedLine is a single line in the tree with its subtask.
type renderedLine struct {
	subtaskID string
	text      string
	depth     int
	isParent  bool
}

// NewPlanView creates a new PlanView instance.
func NewPlanView() *PlanView {
	return &PlanView{
		running:     make(map[string]bool),
		collapsed:   make(map[string]bool),
		visibleRows: 20,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("7")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240")),

		nodeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),

		selectedStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("15")).
			Bold(true),

		arrowStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		statusDone: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")), // Dark green

		statusRunning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		statusBlocked: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),

		statusFailed: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		statusPending: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),

		collapseStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),
	}
}

// Update handles input messages.
func (v *PlanView) Update(msg tea.Msg) (*PlanView, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			v.selectPrevious()
			v.ensureSelectedVisible()
		case "down", "j":
			v.selectNext()
			v.ensureSelectedVisible()
		case " ", "space":
			v.toggleCollapse()
		case "c":
			v.collapseAll()
		case "e":
			v.expandAll()
		case "pgup", "ctrl+u":
			v.scrollUp(v.visibleRows / 2)
		case "pgdown", "ctrl+d":
			v.scrollDown(v.visibleRows / 2)
		case "home", "g":
			v.scrollToTop()
		case "end", "G":
			v.scrollToBottom()
		}

	case tea.WindowSizeMsg:
		v.SetSize(msg.Width, msg.Height)
	}

	return v, nil
}

// SetSize sets the view dimensions. Rows are reserved for the app chrome.
func (v *PlanView) SetSize(width, height int) {
	v.width = width
	v.height = height
	v.visibleRows = height - 16
	if v.visibleRows < 5 {
		v.visibleRows = 5
	}
}

// SetPlan replaces the displayed plan snapshot.
func (v *PlanView) SetPlan(plan *models.ExecutionPlan) {
	v.plan = plan
	if plan == nil {
		v.renderedLines = nil
		return
	}
	found := false
	for _, st := range plan.Subtasks {
		if st.ID == v.selected {
			found = true
		}
		if r := plan.Results[st.ID]; r != nil && r.Status != models.ResultPending {
			delete(v.running, st.ID)
		}
	}
	if !found && len(plan.Subtasks) > 0 {
		v.selected = plan.Subtasks[0].ID
	}
	v.buildRenderedLines()
	v.ensureSelectedVisible()
}

// SetRunning marks a subtask as handed to an agent.
func (v *PlanView) SetRunning(subtaskID string, running bool) {
	if running {
		v.running[subtaskID] = true
	} else {
		delete(v.running, subtaskID)
	}
	v.buildRenderedLines()
}

// Selected returns the currently selected subtask.
func (v *PlanView) Selected() (models.Subtask, bool) {
	if v.plan == nil {
		return models.Subtask{}, false
	}
	return v.plan.Subtask(v.selected)
}

// State returns the display state of a subtask.
func (v *PlanView) State(id string) SubtaskState {
	if v.plan == nil {
		return StatePending
	}
	if r := v.plan.Results[id]; r != nil {
		switch r.Status {
		case models.ResultCompleted:
			return StateCompleted
		case models.ResultFailed:
			return StateFailed
		}
	}
	if v.running[id] {
		return StateRunning
	}
	for _, dep := range v.plan.Dependencies.DependsOn(id) {
		if r := v.plan.Results[dep]; r != nil && r.Status == models.ResultFailed {
			return StateBlocked
		}
	}
	return StatePending
}

// View renders the subtask tree.
func (v *PlanView) View() string {
	if v.plan == nil || len(v.plan.Subtasks) == 0 {
		return v.nodeStyle.Render("No subtasks to display")
	}

	var b strings.Builder
	header := fmt.Sprintf("Subtasks (%d)", len(v.plan.Subtasks))
	b.WriteString(v.headerStyle.Render(header))
	b.WriteString("\n\n")

	v.buildRenderedLines()
	totalLines := len(v.renderedLines)
	if totalLines == 0 {
		b.WriteString(v.nodeStyle.Render("No visible subtasks"))
		return b.String()
	}

	if v.scrollOffset < 0 {
		v.scrollOffset = 0
	}
	maxOffset := totalLines - v.visibleRows
	if maxOffset < 0 {
		maxOffset = 0
	}
	if v.scrollOffset > maxOffset {
		v.scrollOffset = maxOffset
	}

	endIdx := v.scrollOffset + v.visibleRows
	if endIdx > totalLines {
		endIdx = totalLines
	}
	for i := v.scrollOffset; i < endIdx; i++ {
		line := v.renderedLines[i]
		if line.subtaskID == v.selected {
			b.WriteString(v.selectedStyle.Render(line.text))
		} else {
			b.WriteString(v.nodeStyle.Render(line.text))
		}
		b.WriteString("\n")
	}

	if totalLines > v.visibleRows {
		b.WriteString("\n")
		b.WriteString(v.renderScrollInfo(totalLines))
	}

	if st, ok := v.Selected(); ok {
		b.WriteString("\n")
		b.WriteString(v.renderDetails(st))
	}
	return b.String()
}

// buildRenderedLines caches the tree lines for scrolling.
func (v *PlanView) buildRenderedLines() {
	if v.plan == nil {
		v.renderedLines = nil
		return
	}
	v.renderedLines = make([]renderedLine, 0, len(v.plan.Subtasks))

	index := make(map[string]bool, len(v.plan.Subtasks))
	for _, st := range v.plan.Subtasks {
		index[st.ID] = true
	}

	children := make(map[string][]models.Subtask)
	var roots []models.Subtask
	for _, st := range v.plan.Subtasks {
		parent := st.Structure.ParentID
		if parent == "" || !index[parent] {
			roots = append(roots, st)
		} else {
			children[parent] = append(children[parent], st)
		}
	}

	for _, st := range roots {
		v.buildSubtaskLines(st, children, 0)
	}
}

func (v *PlanView) buildSubtaskLines(st models.Subtask, children map[string][]models.Subtask, depth int) {
	kids, hasChildren := children[st.ID]

	indent := strings.Repeat("  ", depth)
	prefix := ""
	if depth > 0 {
		prefix = v.arrowStyle.Render("|-- ")
	}

	collapseIndicator := "    "
	if hasChildren {
		if v.collapsed[st.ID] {
			collapseIndicator = v.collapseStyle.Render("[+] ")
		} else {
			collapseIndicator = v.collapseStyle.Render("[-] ")
		}
	}

	line := fmt.Sprintf("%s%s%s%s %s", indent, prefix, collapseIndicator, v.statusIcon(st.ID), truncate(st.Name, 35))
	if deps := v.plan.Dependencies.DependsOn(st.ID); len(deps) > 0 {
		line += " " + v.arrowStyle.Render(v.renderDependencies(deps))
	}
	if hasChildren && v.collapsed[st.ID] {
		line += v.collapseStyle.Render(fmt.Sprintf(" (%d hidden)", countDescendants(st.ID, children)))
	}

	v.renderedLines = append(v.renderedLines, renderedLine{
		subtaskID: st.ID,
		text:      line,
		depth:     depth,
		isParent:  hasChildren,
	})

	if hasChildren && !v.collapsed[st.ID] {
		for _, kid := range kids {
			v.buildSubtaskLines(kid, children, depth+1)
		}
	}
}

func countDescendants(id string, children map[string][]models.Subtask) int {
	count := 0
	for _, kid := range children[id] {
		count += 1 + countDescendants(kid.ID, children)
	}
	return count
}

// renderDependencies shows each dependency with its raw status icon.
func (v *PlanView) renderDependencies(deps []string) string {
	icons := make([]string, 0, len(deps))
	for _, dep := range deps {
		name := dep
		if st, ok := v.plan.Subtask(dep); ok && st.Name != "" {
			name = st.Name
		}
		icons = append(icons, rawIcon(v.State(dep))+truncate(name, 12))
	}
	return "<-- " + strings.Join(icons, ", ")
}

func (v *PlanView) renderDetails(st models.Subtask) string {
	var b strings.Builder
	b.WriteString(v.arrowStyle.Render(fmt.Sprintf("%s  priority=%s", st.ID, st.Priority)))
	if len(st.Skills) > 0 {
		b.WriteString(v.arrowStyle.Render("  skills=" + strings.Join(st.Skills, ",")))
	}
	if r := v.plan.Results[st.ID]; r != nil {
		if r.AgentID != "" {
			b.WriteString(v.arrowStyle.Render("  agent=" + r.AgentID))
		}
		if r.Error != "" {
			b.WriteString("\n")
			b.WriteString(v.statusFailed.Render("error: " + truncate(r.Error, 80)))
		} else if r.Output != "" {
			b.WriteString("\n")
			b.WriteString(v.nodeStyle.Render("output: " + truncate(r.Output, 80)))
		}
	}
	return b.String()
}

func (v *PlanView) renderScrollInfo(totalLines int) string {
	startLine := v.scrollOffset + 1
	endLine := v.scrollOffset + v.visibleRows
	if endLine > totalLines {
		endLine = totalLines
	}

	percent := 0
	if totalLines > v.visibleRows {
		percent = (v.scrollOffset * 100) / (totalLines - v.visibleRows)
	}

	indicators := ""
	if v.scrollOffset > 0 {
		indicators += "[up]"
	}
	if v.scrollOffset+v.visibleRows < totalLines {
		if indicators != "" {
			indicators += " "
		}
		indicators += "[down]"
	}

	return v.arrowStyle.Render(fmt.Sprintf("Lines %d-%d of %d (%d%%) %s", startLine, endLine, totalLines, percent, indicators))
}

func (v *PlanView) statusIcon(id string) string {
	state := v.State(id)
	icon := rawIcon(state)
	switch state {
	case StateCompleted:
		return v.statusDone.Render(icon)
	case StateRunning:
		return v.statusRunning.Render(icon)
	case StateBlocked:
		return v.statusBlocked.Render(icon)
	case StateFailed:
		return v.statusFailed.Render(icon)
	default:
		return v.statusPending.Render(icon)
	}
}

func rawIcon(state SubtaskState) string {
	switch state {
	case StateCompleted:
		return iconDone
	case StateRunning:
		return iconRunning
	case StateBlocked:
		return iconBlocked
	case StateFailed:
		return iconFailed
	default:
		return iconPending
	}
}
