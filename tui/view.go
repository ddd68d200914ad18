package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hochfrequenz/claude-verify-orchestrator/internal/auditlog"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))

	passStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	verdictStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))
)

// View renders the dashboard
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(headerStyle.Width(m.width).Render(m.renderHeader()))
	b.WriteString("\n")

	runSection := m.renderRun()
	b.WriteString(sectionStyle.Width(m.width - 2).Render(runSection))
	b.WriteString("\n")

	logSection := m.renderLog()
	b.WriteString(sectionStyle.Width(m.width - 2).Render(logSection))
	b.WriteString("\n")

	bar := " q: quit │ r: refresh │ j/k: scroll │ G: follow "
	if !m.lastRefresh.IsZero() {
		bar += fmt.Sprintf("│ refreshed %s ", m.lastRefresh.Format("15:04:05"))
	}
	b.WriteString(statusBarStyle.Width(m.width).Render(bar))

	return b.String()
}

func (m Model) renderHeader() string {
	if m.run == nil {
		return " verify-orch │ no runs yet "
	}
	return fmt.Sprintf(" verify-orch │ run %s │ iteration %d/%d │ %s ",
		shortID(m.run.ID), m.run.Iteration, m.run.MaxIterations, m.run.Phase)
}

func (m Model) renderRun() string {
	if m.loadErr != nil {
		return failStyle.Render("Error: " + m.loadErr.Error())
	}
	if m.run == nil {
		return dimmedStyle.Render("Waiting for a run to start...")
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Phase:     %s\n", phaseStyle(m.run.Phase).Render(string(m.run.Phase))))
	if m.run.LastVerdict != nil {
		b.WriteString(fmt.Sprintf("Verdict:   %s\n", verdictStyle.Render(string(*m.run.LastVerdict))))
	}
	if m.run.MutationScore != nil {
		b.WriteString(fmt.Sprintf("Mutation:  %.0f%% (threshold %.0f%%)\n",
			*m.run.MutationScore*100, m.run.MutationThreshold*100))
	}
	b.WriteString(fmt.Sprintf("Language:  %s │ scope: %s\n", m.run.Language, m.run.TestScope))
	b.WriteString(fmt.Sprintf("Started:   %s", m.run.StartedAt.Local().Format("2006-01-02 15:04:05")))
	if m.run.StoppedReason != nil {
		b.WriteString(fmt.Sprintf("\nStopped:   %s", string(*m.run.StoppedReason)))
	}
	return b.String()
}

func (m Model) renderLog() string {
	if len(m.events) == 0 {
		return dimmedStyle.Render("Audit log is empty")
	}

	// Window the entries around the scroll position
	visible := m.height - 14
	if visible < 3 {
		visible = 3
	}
	end := m.scroll + 1
	if end > len(m.events) {
		end = len(m.events)
	}
	start := end - visible
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	for i, e := range m.events[start:end] {
		if i > 0 {
			b.WriteString("\n")
		}
		line := fmt.Sprintf("%s  iter %-2d  %-18s %s",
			e.Timestamp.Local().Format("15:04:05"), e.Iteration, e.Event, e.Message)
		b.WriteString(eventStyle(e.Event).Render(truncate(line, m.width-6)))
	}
	return b.String()
}

func phaseStyle(p domain.Phase) lipgloss.Style {
	switch p {
	case domain.PhaseComplete:
		return passStyle
	case domain.PhaseError, domain.PhaseMaxIter:
		return failStyle
	case domain.PhaseCancelled:
		return dimmedStyle
	default:
		return warnStyle
	}
}

func eventStyle(e auditlog.Event) lipgloss.Style {
	switch e {
	case auditlog.EventComplete:
		return passStyle
	case auditlog.EventError, auditlog.EventCheatingDetected:
		return failStyle
	case auditlog.EventFlakyDetected, auditlog.EventCancelled:
		return warnStyle
	case auditlog.EventVerdictIssued, auditlog.EventMutationScore:
		return verdictStyle
	default:
		return lipgloss.NewStyle()
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, width int) string {
	if width <= 3 || len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}
