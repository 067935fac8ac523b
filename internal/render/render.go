// Package render draws progress views, artifacts and run lists for the
// terminal. It only consumes derived values and never inspects raw state.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/JakeFAU/runwatch/internal/artifact"
	"github.com/JakeFAU/runwatch/internal/progress"
	"github.com/JakeFAU/runwatch/internal/runs"
)

var (
	blue   = lipgloss.Color("33")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(dim)
	labelStyle   = lipgloss.NewStyle().Foreground(dim)
	headingStyle = lipgloss.NewStyle().Foreground(blue).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
)

const barWidth = 30

var stepStyles = map[progress.StepState]lipgloss.Style{
	progress.StepCompleted: lipgloss.NewStyle().Foreground(green),
	progress.StepRunning:   lipgloss.NewStyle().Foreground(blue).Bold(true),
	progress.StepPending:   lipgloss.NewStyle().Foreground(dim),
	progress.StepFailed:    lipgloss.NewStyle().Foreground(red),
}

var stepIcons = map[progress.StepState]string{
	progress.StepCompleted: "✓",
	progress.StepRunning:   "●",
	progress.StepPending:   "○",
	progress.StepFailed:    "✗",
}

var connectorStyles = map[progress.ConnectorState]lipgloss.Style{
	progress.ConnectorDone:   lipgloss.NewStyle().Foreground(green),
	progress.ConnectorActive: lipgloss.NewStyle().Foreground(blue).Blink(true),
	progress.ConnectorIdle:   lipgloss.NewStyle().Foreground(faint),
	progress.ConnectorFailed: lipgloss.NewStyle().Foreground(red),
}

// StatusBadge renders a run status with its colour.
func StatusBadge(status runs.Status) string {
	style := lipgloss.NewStyle().Foreground(yellow)
	switch status {
	case runs.StatusCompleted:
		style = style.Foreground(green)
	case runs.StatusRunning:
		style = style.Foreground(blue)
	case runs.StatusFailed:
		style = style.Foreground(red)
	case runs.StatusCreated:
		style = style.Foreground(dim)
	}
	label := string(status)
	if label == "" {
		label = "loading"
	}
	return style.Render(label)
}

// Progress renders the step pipeline for a view. topic may be empty.
func Progress(v progress.View, topic string) string {
	var sb strings.Builder
	header := fmt.Sprintf("Run #%d", v.RunID)
	if topic != "" {
		header += "  " + topic
	}
	sb.WriteString(titleStyle.Render(header) + "  " + StatusBadge(v.Status) + "\n")

	for _, step := range v.Steps {
		head := stepStyles[step.Status].Render(fmt.Sprintf("%s %-13s", stepIcons[step.Status], step.Label))
		sb.WriteString("  " + head + " " + mutedStyle.Render(step.Description) + "\n")
		if step.Connector != "" {
			sb.WriteString("  " + connectorStyles[step.Connector].Render("│") + "\n")
		}
	}

	sb.WriteString("\n" + Bar(v.Percent) + "\n")
	if !v.Terminal && v.CurrentLabel != "" {
		line := "Current step: " + v.CurrentLabel
		if v.ElapsedSeconds > 0 {
			line += fmt.Sprintf("  (%s elapsed)", (time.Duration(v.ElapsedSeconds) * time.Second).String())
		}
		sb.WriteString(labelStyle.Render(line) + "\n")
	}
	return sb.String()
}

// Bar renders a fixed-width percentage bar.
func Bar(percent float64) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * barWidth)
	bar := lipgloss.NewStyle().Foreground(blue).Render(strings.Repeat("█", filled)) +
		lipgloss.NewStyle().Foreground(faint).Render(strings.Repeat("░", barWidth-filled))
	return fmt.Sprintf("%s %3.0f%%", bar, percent)
}

// Artifacts renders every artifact of one category using its structured form.
func Artifacts(category string, artifacts []runs.Artifact) string {
	filtered := artifact.FilterByCategory(artifacts, category)
	var sb strings.Builder
	sb.WriteString(headingStyle.Render(title(category)) + "\n")
	if len(filtered) == 0 {
		sb.WriteString(mutedStyle.Render("  no "+category+" artifacts yet") + "\n")
		return sb.String()
	}
	for _, a := range filtered {
		sb.WriteString(Content(artifact.Parse(a)))
	}
	return sb.String()
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Content renders one parsed artifact.
func Content(c artifact.Content) string {
	var sb strings.Builder
	switch {
	case c.Paragraphs != nil:
		for _, p := range c.Paragraphs {
			sb.WriteString(p + "\n")
		}
	case c.Gaps != nil:
		for _, g := range c.Gaps {
			sb.WriteString(lipgloss.NewStyle().Foreground(blue).Render("  •") + " " + g + "\n")
		}
	case c.Hypotheses != nil:
		for _, h := range c.Hypotheses {
			sb.WriteString(titleStyle.Render(h.Title) + "\n")
			if h.Rationale != "" {
				sb.WriteString(labelStyle.Render("  Rationale: ") + h.Rationale + "\n")
			}
			if h.Validation != "" {
				sb.WriteString(labelStyle.Render("  Validation: ") + h.Validation + "\n")
			}
		}
	default:
		sb.WriteString(c.Text + "\n")
	}
	return sb.String()
}

// RunsTable renders runs as a bordered table.
func RunsTable(list []runs.Run) string {
	rows := make([][]string, 0, len(list))
	for _, r := range list {
		created := ""
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{fmt.Sprint(r.ID), r.Topic, string(r.Status), created})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Foreground(blue).Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers("ID", "TOPIC", "STATUS", "CREATED").
		Rows(rows...)
	return t.String()
}

// Error renders a one-line failure message.
func Error(err error) string {
	return errorStyle.Render("✗") + " " + err.Error()
}
