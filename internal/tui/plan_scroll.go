package tui

// Scrolling and navigation methods for PlanView.

func (v *PlanView) selectedIndex() int {
	for i, line := range v.renderedLines {
		if line.subtaskID == v.selected {
			return i
		}
	}
	return -1
}

// selectPrevious moves selection to the previous visible subtask.
func (v *PlanView) selectPrevious() {
	for i := v.selectedIndex() - 1; i >= 0; i-- {
		if v.renderedLines[i].subtaskID != "" {
			v.selected = v.renderedLines[i].subtaskID
			return
		}
	}
}

// selectNext moves selection to the next visible subtask.
func (v *PlanView) selectNext() {
	for i := v.selectedIndex() + 1; i < len(v.renderedLines); i++ {
		if v.renderedLines[i].subtaskID != "" {
			v.selected = v.renderedLines[i].subtaskID
			return
		}
	}
}

// ensureSelectedVisible scrolls to make the selected subtask visible.
func (v *PlanView) ensureSelectedVisible() {
	idx := v.selectedIndex()
	if idx < 0 {
		return
	}
	if idx < v.scrollOffset {
		v.scrollOffset = idx
	} else if idx >= v.scrollOffset+v.visibleRows {
		v.scrollOffset = idx - v.visibleRows + 1
	}
}

// toggleCollapse toggles the collapse state of the selected subtask.
func (v *PlanView) toggleCollapse() {
	idx := v.selectedIndex()
	if idx < 0 || !v.renderedLines[idx].isParent {
		return
	}
	v.collapsed[v.selected] = !v.collapsed[v.selected]
	v.buildRenderedLines()
}

// collapseAll collapses every parent subtask.
func (v *PlanView) collapseAll() {
	if v.plan == nil {
		return
	}
	for _, st := range v.plan.Subtasks {
		if st.Structure.ParentID != "" {
			v.collapsed[st.Structure.ParentID] = true
		}
	}
	v.buildRenderedLines()
	if v.selectedIndex() < 0 {
		v.scrollToTop()
	}
	v.ensureSelectedVisible()
}

// expandAll expands all collapsed subtasks.
func (v *PlanView) expandAll() {
	v.collapsed = make(map[string]bool)
	v.buildRenderedLines()
	v.ensureSelectedVisible()
}

func (v *PlanView) scrollUp(n int) {
	v.scrollOffset -= n
	if v.scrollOffset < 0 {
		v.scrollOffset = 0
	}
}

func (v *PlanView) scrollDown(n int) {
	maxOffset := len(v.renderedLines) - v.visibleRows
	if maxOffset < 0 {
		maxOffset = 0
	}
	v.scrollOffset += n
	if v.scrollOffset > maxOffset {
		v.scrollOffset = maxOffset
	}
}

func (v *PlanView) scrollToTop() {
	v.scrollOffset = 0
	for _, line := range v.renderedLines {
		if line.subtaskID != "" {
			v.selected = line.subtaskID
			break
		}
	}
}

func (v *PlanView) scrollToBottom() {
	v.scrollOffset = len(v.renderedLines) - v.visibleRows
	if v.scrollOffset < 0 {
		v.scrollOffset = 0
	}
	for i := len(v.renderedLines) - 1; i >= 0; i-- {
		if v.renderedLines[i].subtaskID != "" {
			v.selected = v.renderedLines[i].subtaskID
			break
		}
	}
}
