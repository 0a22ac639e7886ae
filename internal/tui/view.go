package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/flowline-dev/flowline/pkg/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true).
			PaddingBottom(1)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFC857"))

	headerRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Bold(true)

	runningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	completeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("28"))
	erroredStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	logStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			PaddingTop(1)

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Italic(true)
)

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Flowline — pipeline dashboard"))
	b.WriteString("\n")

	if !a.loaded {
		b.WriteString(fmt.Sprintf("%s loading pipelines...\n", a.spinner.View()))
		return b.String()
	}

	if a.fetchErr != nil {
		b.WriteString(errStyle.Render(fmt.Sprintf("refresh failed: %v (showing last snapshot)", a.fetchErr)))
		b.WriteString("\n\n")
	}

	if len(a.pipelines) == 0 {
		b.WriteString("no pipelines\n")
	} else {
		b.WriteString(a.renderTable())
	}

	if len(a.logs) > 0 {
		b.WriteString("\n")
		b.WriteString(headerRowStyle.Render("Events"))
		b.WriteString("\n")
		b.WriteString(a.renderLogs())
	}

	b.WriteString(hintStyle.Render("r: refresh • q: quit"))
	return b.String()
}

func (a *App) renderTable() string {
	var b strings.Builder
	b.WriteString(headerRowStyle.Render(fmt.Sprintf("%-24s %-12s %-16s %-10s %s",
		"PIPELINE", "STATUS", "AGENT", "PROGRESS", "DETAIL")))
	b.WriteString("\n")

	for _, p := range a.pipelines {
		key := fmt.Sprintf("%s#%d", p.ProjectID, p.IssueNumber)
		progress := fmt.Sprintf("%d/%d", len(p.CompletedAgents), len(p.Agents))

		var status, agent, detail string
		style := runningStyle
		switch {
		case p.Error != "":
			style = erroredStyle
			status = "errored"
			detail = p.Error
		case p.IsComplete:
			style = completeStyle
			status = "complete"
			detail = "awaiting review"
		default:
			status = statusLabel(p.Status)
			agent = p.CurrentAgent
			detail = fmt.Sprintf("%s working", a.spinner.View())
		}

		b.WriteString(style.Render(fmt.Sprintf("%-24s %-12s %-16s %-10s %s",
			truncate(key, 24), status, truncate(agent, 16), progress, truncate(detail, 40))))
		b.WriteString("\n")
	}
	return b.String()
}

func (a *App) renderLogs() string {
	// Show the most recent lines that fit a small fixed window.
	const window = 8
	start := 0
	if len(a.logs) > window {
		start = len(a.logs) - window
	}
	var b strings.Builder
	for _, entry := range a.logs[start:] {
		b.WriteString(logStyle.Render(fmt.Sprintf("%s  %s",
			entry.Timestamp.Format("15:04:05"), entry.Message)))
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// statusLabel maps a phase to its display name. Kept separate so the
// table never shows raw board column names.
func statusLabel(p models.Phase) string {
	switch p {
	case models.PhaseBacklog:
		return "backlog"
	case models.PhaseReady:
		return "ready"
	case models.PhaseInProgress:
		return "in progress"
	case models.PhaseInReview:
		return "in review"
	default:
		return string(p)
	}
}
