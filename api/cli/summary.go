package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"release-orchestrator/core/models"
	"release-orchestrator/core/orchestrator"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Underline(true)
	succeededStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	skippedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	detailStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	platformColumn = lipgloss.NewStyle().Width(10)
)

func statusStyle(status models.JobStatus) lipgloss.Style {
	switch status {
	case models.JobStatusSucceeded:
		return succeededStyle
	case models.JobStatusFailed:
		return failedStyle
	case models.JobStatusNotImplemented:
		return pendingStyle
	default:
		return skippedStyle
	}
}

// renderSummary prints the outcome of a finished run
func renderSummary(w io.Writer, run *models.Run) {
	var b strings.Builder

	verdict := succeededStyle.Render(strings.ToUpper(string(run.Status)))
	if run.Status != models.RunStatusReleased {
		verdict = failedStyle.Render(strings.ToUpper(string(run.Status)))
	}
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("Release run "+run.ID), verdict)

	if m := run.Manifest; m != nil {
		fmt.Fprintf(&b, "%s\n", detailStyle.Render(fmt.Sprintf("version %s (code %d) tag %s at %s", m.Version, m.VersionCode, m.Tag, shortRef(m.CommitRef))))
	}
	b.WriteString("\n")

	for _, r := range run.Results {
		line := platformColumn.Render(string(r.PlatformID)) + statusStyle(r.Status).Render(string(r.Status))
		if r.Error != nil {
			line += " " + detailStyle.Render(fmt.Sprintf("[%s] %s: %s", r.Error.Code, r.Error.Stage, firstLine(r.Error.Message)))
		}
		b.WriteString(line + "\n")
	}

	if m := run.Manifest; m != nil && len(m.Artifacts) > 0 {
		b.WriteString("\n" + titleStyle.Render("Artifacts") + "\n")
		for _, a := range m.Artifacts {
			where := a.URI
			if where == "" {
				where = a.Path
			}
			fmt.Fprintf(&b, "  %s %s\n", platformColumn.Render(string(a.PlatformID)), where)
		}
	}

	s := orchestrator.Summarize(run.Results)
	fmt.Fprintf(&b, "\n%d succeeded, %d failed, %d skipped, %d not implemented\n",
		len(s.Succeeded), len(s.Failed), len(s.Skipped), len(s.NotImplemented))
	if run.Error != "" {
		b.WriteString(failedStyle.Render("error: ") + run.Error + "\n")
	}

	fmt.Fprint(w, b.String())
}

func shortRef(ref string) string {
	if len(ref) > 7 {
		return ref[:7]
	}
	return ref
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
