package boardui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/boardsync/internal/models"
)

var (
	primaryColor   = lipgloss.Color("212")
	secondaryColor = lipgloss.Color("141")
	mutedColor     = lipgloss.Color("241")
	successColor   = lipgloss.Color("42")
	warningColor   = lipgloss.Color("214")
	errorColor     = lipgloss.Color("196")
	cyanColor      = lipgloss.Color("45")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("237")).
			Padding(0, 1)
	hintStyle     = lipgloss.NewStyle().Foreground(mutedColor)
	sepStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	keyStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	inflightStyle = lipgloss.NewStyle().Foreground(warningColor)
	ghostStyle    = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	grabbedStyle  = lipgloss.NewStyle().Foreground(mutedColor).Strikethrough(true)
	infoStyle     = lipgloss.NewStyle().Foreground(successColor)
	errorStyle    = lipgloss.NewStyle().Foreground(errorColor).Bold(true)

	selectedRowStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("237")).
				Foreground(lipgloss.Color("255"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)
)

var priorityStyles = map[models.Priority]lipgloss.Style{
	models.PriorityCritical: lipgloss.NewStyle().Foreground(errorColor).Bold(true),
	models.PriorityHigh:     lipgloss.NewStyle().Foreground(warningColor),
	models.PriorityMedium:   lipgloss.NewStyle().Foreground(cyanColor),
	models.PriorityLow:      lipgloss.NewStyle().Foreground(mutedColor),
}

var typeIcons = map[models.Type]string{
	models.TypeBug:   "●",
	models.TypeStory: "◆",
	models.TypeTask:  "■",
}

// statusColor is the column header color of a board bucket.
func statusColor(s models.Status) lipgloss.Color {
	switch s {
	case models.StatusUnstarted:
		return cyanColor
	case models.StatusInProgress:
		return warningColor
	case models.StatusInReview:
		return secondaryColor
	case models.StatusComplete:
		return successColor
	default:
		return lipgloss.Color("255")
	}
}

// sprintColor is the column header color of a planner bucket.
func sprintColor(s models.SprintStatus) lipgloss.Color {
	switch s {
	case models.SprintActive:
		return warningColor
	case models.SprintPlanned:
		return cyanColor
	case models.SprintCompleted:
		return mutedColor
	default:
		return lipgloss.Color("255")
	}
}

func formatPriority(p models.Priority) string {
	if p == "" {
		p = models.PriorityMedium
	}
	style, ok := priorityStyles[p]
	if !ok {
		return string(p[:1])
	}
	return style.Render(string(p[:1]))
}

func formatTypeIcon(t models.Type) string {
	if icon, ok := typeIcons[t]; ok {
		return icon
	}
	return "■"
}

// highlightRow pads content to width and applies the selection background.
func highlightRow(content string, width int) string {
	return selectedRowStyle.Width(width).Render(content)
}
