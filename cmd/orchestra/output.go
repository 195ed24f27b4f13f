package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/orchestra/pkg/models"
)

// printStatus prints a status line with color
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

func planStatusColor(s models.PlanStatus) color.Attribute {
	switch s {
	case models.PlanStatusCompleted:
		return color.FgGreen
	case models.PlanStatusPartiallyCompleted:
		return color.FgYellow
	case models.PlanStatusFailed, models.PlanStatusCancelled:
		return color.FgRed
	case models.PlanStatusInProgress:
		return color.FgCyan
	default:
		return color.FgWhite
	}
}

func resultSymbol(r *models.SubtaskResult) (string, color.Attribute) {
	if r == nil {
		return "○", color.FgHiBlack
	}
	switch r.Status {
	case models.ResultCompleted:
		return "✓", color.FgGreen
	case models.ResultFailed:
		return "✗", color.FgRed
	default:
		return "○", color.FgHiBlack
	}
}

// printPlanSummary prints the one-line form used by plan list.
func printPlanSummary(w io.Writer, p *models.ExecutionPlan) {
	completed, failed, _ := p.Counts()
	status := color.New(planStatusColor(p.Status)).Sprintf("%-19s", p.Status)
	progress := fmt.Sprintf("%d/%d", completed, len(p.Subtasks))
	if failed > 0 {
		progress += fmt.Sprintf(" (%d failed)", failed)
	}
	fmt.Fprintf(w, "%s  %s  %-14s  %s  %s\n",
		shortID(p.ID), status, progress,
		p.CreatedAt.Local().Format("2006-01-02 15:04"), truncate(p.Query, 48))
}

// printPlan prints a plan with its subtasks and results.
func printPlan(w io.Writer, p *models.ExecutionPlan, withOutput bool) {
	bold := color.New(color.Bold)
	fmt.Fprintf(w, "%s %s\n", bold.Sprint("Plan"), p.ID)
	fmt.Fprintf(w, "  Query:    %s\n", p.Query)
	if p.Strategy != "" {
		fmt.Fprintf(w, "  Strategy: %s\n", p.Strategy)
	}
	fmt.Fprintf(w, "  Status:   %s\n", color.New(planStatusColor(p.Status)).Sprint(p.Status))
	completed, failed, pending := p.Counts()
	fmt.Fprintf(w, "  Progress: %d completed, %d failed, %d pending (%d passes)\n",
		completed, failed, pending, p.Passes)
	if p.CompletedAt != nil {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(p.CompletedAt.Sub(p.CreatedAt)))
	}
	for k, v := range p.Metadata {
		fmt.Fprintf(w, "  %s: %s\n", k, v)
	}

	if len(p.Subtasks) == 0 {
		return
	}
	fmt.Fprintln(w)
	for i, st := range p.Subtasks {
		r := p.Results[st.ID]
		symbol, attr := resultSymbol(r)

		line := fmt.Sprintf("%2d. %s", i+1, st.Name)
		if deps := p.Dependencies.DependsOn(st.ID); len(deps) > 0 {
			names := make([]string, 0, len(deps))
			for _, dep := range deps {
				if d, ok := p.Subtask(dep); ok {
					names = append(names, d.Name)
				} else {
					names = append(names, shortID(dep))
				}
			}
			line += color.HiBlackString(" <- " + strings.Join(names, ", "))
		}
		if r != nil && r.AgentID != "" {
			line += color.HiBlackString(" [" + r.AgentID + "]")
		}
		printStatus(w, symbol, line, attr)

		if r == nil {
			continue
		}
		if r.Error != "" {
			fmt.Fprintf(w, "      %s\n", color.RedString(r.Error))
		} else if withOutput && r.Output != "" {
			fmt.Fprintf(w, "      %s\n", r.Output)
		}
	}
}

func printAgent(w io.Writer, a models.Agent, source string) {
	attr := color.FgHiBlack
	switch a.Status {
	case models.AgentStatusAvailable:
		attr = color.FgGreen
	case models.AgentStatusBusy:
		attr = color.FgYellow
	}
	name := a.Name
	if name == "" {
		name = "-"
	}
	skills := "-"
	if len(a.Skills) > 0 {
		skills = strings.Join(a.Skills, ",")
	}
	line := fmt.Sprintf("%-20s %-20s %-10s %s", a.ID, truncate(name, 20), a.Status, skills)
	if source != "" {
		line += color.HiBlackString("  (" + source + ")")
	}
	printStatus(w, "●", line, attr)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncate shortens a string to fit in a column.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
