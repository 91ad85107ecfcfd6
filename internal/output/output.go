// Package output provides styled terminal output helpers (success, error,
// warning, ticket and sprint formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/boardsync/internal/models"
)

var (
	// Styles
	titleStyle    = lipgloss.NewStyle().Bold(true)
	subtleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	priorityStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	statusStyles  = map[models.Status]lipgloss.Style{
		models.StatusUnstarted:  lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.StatusInReview:   lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
		models.StatusComplete:   lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
	}
	sprintStyles = map[models.SprintStatus]lipgloss.Style{
		models.SprintPlanned:   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.SprintActive:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.SprintCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
	}
)

// Stdout is where the print helpers write. Tests replace it.
var Stdout io.Writer = os.Stdout

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Fprintln(Stdout, successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Fprintln(Stdout, errorStyle.Render("ERROR: "+fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Fprintln(Stdout, warningStyle.Render("Warning: "+fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Fprintln(Stdout, fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(Stdout, string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeConflict     = "conflict"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeServerError  = "server_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
	fmt.Fprintln(Stdout, string(data))
}

// FormatStatus formats a status with color
func FormatStatus(s models.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatSprintStatus formats a sprint status with color
func FormatSprintStatus(s models.SprintStatus) string {
	style, ok := sprintStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatPriority formats a priority
func FormatPriority(p models.Priority) string {
	if p == "" {
		p = models.PriorityMedium
	}
	return priorityStyle.Render(fmt.Sprintf("[%s]", p))
}

// FormatTicketShort formats a ticket on one line:
// key, priority, title, assignee, type, status.
func FormatTicketShort(t *models.Ticket) string {
	var parts []string
	parts = append(parts, titleStyle.Render(t.ShortID()))
	parts = append(parts, FormatPriority(t.Priority))
	parts = append(parts, t.Title)

	if name := t.AssigneeName(); name != "" {
		parts = append(parts, subtleStyle.Render("@"+name))
	}
	if t.Type != "" {
		parts = append(parts, subtleStyle.Render(string(t.Type)))
	}
	parts = append(parts, FormatStatus(t.Status))

	return strings.Join(parts, "  ")
}

// FormatTicketLong formats the ticket header block used by `show`.
// The description is rendered separately as markdown.
func FormatTicketLong(t *models.Ticket, sprint *models.Sprint) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s: %s", t.ShortID(), t.Title)))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Status: %s\n", FormatStatus(t.Status)))

	typ := t.Type
	if typ == "" {
		typ = models.TypeTask
	}
	sb.WriteString(fmt.Sprintf("Type: %s | Priority: %s\n", typ, FormatPriority(t.Priority)))

	if name := t.AssigneeName(); name != "" {
		sb.WriteString(fmt.Sprintf("Assignee: %s\n", name))
	}
	switch {
	case sprint != nil:
		sb.WriteString(fmt.Sprintf("Sprint: %s %s\n", sprint.Name, FormatSprintStatus(sprint.Status)))
	case t.SprintID != nil:
		sb.WriteString(fmt.Sprintf("Sprint: %s\n", *t.SprintID))
	default:
		sb.WriteString("Sprint: " + subtleStyle.Render("backlog") + "\n")
	}
	if !t.UpdatedAt.IsZero() {
		sb.WriteString(subtleStyle.Render(fmt.Sprintf("Updated %s", FormatTimeAgo(t.UpdatedAt))))
		sb.WriteString("\n")
	}
	sb.WriteString(subtleStyle.Render("ID: " + t.ID))
	sb.WriteString("\n")

	return sb.String()
}

// FormatSprintLine formats a sprint on one line with its ticket count.
func FormatSprintLine(s *models.Sprint, tickets int) string {
	parts := []string{
		titleStyle.Render(s.Name),
		FormatSprintStatus(s.Status),
	}
	if dates := FormatDateRange(s.StartDate, s.EndDate); dates != "" {
		parts = append(parts, subtleStyle.Render(dates))
	}
	parts = append(parts, fmt.Sprintf("%d tickets", tickets))
	parts = append(parts, subtleStyle.Render(s.ID))
	return strings.Join(parts, "  ")
}

// FormatDateRange returns "Jan 2 - Jan 16", or "" when both are unset.
func FormatDateRange(start, end time.Time) string {
	const layout = "Jan 2"
	switch {
	case start.IsZero() && end.IsZero():
		return ""
	case end.IsZero():
		return start.Format(layout) + " -"
	case start.IsZero():
		return "- " + end.Format(layout)
	}
	return start.Format(layout) + " - " + end.Format(layout)
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// TicketOneLiner returns a concise single-line ticket representation
// Format: `KEY "Title" [status]`
func TicketOneLiner(t *models.Ticket) string {
	return fmt.Sprintf("%s \"%s\" %s", t.ShortID(), t.Title, FormatStatus(t.Status))
}

// TicketOneLinerPlain returns the one-liner without status styling (for logs)
func TicketOneLinerPlain(t *models.Ticket) string {
	return fmt.Sprintf("%s \"%s\" [%s]", t.ShortID(), t.Title, t.Status)
}

// StatusBadge returns a status indicator with symbol
// e.g., "○ To Do", "▶ In Progress", "◎ In Review", "✓ Done"
func StatusBadge(status models.Status) string {
	symbols := map[models.Status]string{
		models.StatusUnstarted:  "○",
		models.StatusInProgress: "▶",
		models.StatusInReview:   "◎",
		models.StatusComplete:   "✓",
	}
	symbol, ok := symbols[status]
	if !ok {
		symbol = "?"
	}
	style, hasStyle := statusStyles[status]
	if hasStyle {
		return style.Render(fmt.Sprintf("%s %s", symbol, status))
	}
	return fmt.Sprintf("%s %s", symbol, status)
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nIN PROGRESS (3):\n"
func SectionHeader(title string, count int) string {
	return fmt.Sprintf("\n%s (%d):\n", strings.ToUpper(title), count)
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
