package boardui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/marcus/boardsync/internal/engine"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/partition"
)

// cardHeight is the number of lines per card.
const cardHeight = 3

// minColWidth is the minimum column width to render.
const minColWidth = 16

// cell is one card slot in a column: a ticket, or the drop position of the
// grabbed card.
type cell struct {
	ticket *models.Ticket
	ghost  bool
}

// columnCells lays out column col, inserting the drop slot when the grabbed
// card targets it and marking the grabbed card's original place.
func (m Model) columnCells(col int) []cell {
	b := m.Board.Buckets[col]
	cells := make([]cell, 0, len(b.Tickets)+1)
	for i := range b.Tickets {
		t := &b.Tickets[i]
		if m.Grab != nil && t.ID == m.Grab.TicketID && b.Key == m.Grab.Source.Key && m.Grab.Col == col {
			// Moving within the column: the card is shown only at its target.
			continue
		}
		cells = append(cells, cell{ticket: t})
	}
	if m.Grab != nil && m.Grab.Col == col {
		at := clamp(m.Grab.Row, 0, len(cells))
		cells = append(cells[:at], append([]cell{{ghost: true}}, cells[at:]...)...)
	}
	return cells
}

// cursorCell returns the cell index highlighted in column col, or -1.
func (m Model) cursorCell(col int) int {
	if m.Grab != nil {
		if col == m.Grab.Col {
			return clamp(m.Grab.Row, 0, len(m.columnCells(col))-1)
		}
		return -1
	}
	if col == m.Col {
		return m.Row
	}
	return -1
}

func (m Model) columnLabel(k partition.Key) string {
	label := strings.ToUpper(m.Board.Title(k))
	if m.Board.ReadOnly(k) {
		label += " ✓"
	} else if m.Board.Mode == engine.ModePlanner && k != partition.Backlog {
		if s, ok := m.Board.Sprint(string(k)); ok && s.Status == models.SprintActive {
			label += " ▶"
		}
	}
	return label
}

func (m Model) columnColor(k partition.Key) lipgloss.Color {
	if m.Board.Mode == engine.ModeBoard {
		return statusColor(models.Status(k))
	}
	if k == partition.Backlog {
		return lipgloss.Color("255")
	}
	s, _ := m.Board.Sprint(string(k))
	return sprintColor(s.Status)
}

// View renders the board.
func (m Model) View() string {
	width := m.Width
	if width <= 0 {
		width = 120
	}
	height := m.Height
	if height <= 0 {
		height = 30
	}

	// Inner content width (minus border + padding)
	contentWidth := width - 4
	numCols := len(m.Board.Buckets)
	if numCols == 0 {
		return boxStyle.Width(width - 2).Render(m.renderHeader(contentWidth) + "\n\n" + m.renderEmpty() + "\n\n" + m.renderFooter(contentWidth))
	}
	separatorWidth := numCols - 1
	colWidth := (contentWidth - separatorWidth) / numCols
	if colWidth < minColWidth {
		colWidth = minColWidth
	}
	actualContentWidth := colWidth*numCols + separatorWidth

	sep := sepStyle.Render("│")
	divider := sepStyle.Render(strings.Repeat("─", actualContentWidth))

	var colHeaders []string
	columns := make([][]cell, numCols)
	for i, b := range m.Board.Buckets {
		columns[i] = m.columnCells(i)
		style := lipgloss.NewStyle().Bold(true).Foreground(m.columnColor(b.Key))
		if (m.Grab == nil && i == m.Col) || (m.Grab != nil && i == m.Grab.Col) {
			style = style.Underline(true)
		}
		text := style.Render(fmt.Sprintf("%s (%d)", m.columnLabel(b.Key), len(b.Tickets)))
		colHeaders = append(colHeaders, fit(text, colWidth))
	}

	// Available height for cards (subtract border, header, dividers, column headers, footer)
	availableCardHeight := height - 8
	maxVisibleCards := availableCardHeight / cardHeight
	if maxVisibleCards < 1 {
		maxVisibleCards = 1
	}

	var cardLines []string
	for visRow := 0; visRow < maxVisibleCards; visRow++ {
		for line := 0; line < cardHeight; line++ {
			var cells []string
			for col := range columns {
				cursor := m.cursorCell(col)
				dataRow := visRow + scrollOffset(cursor, len(columns[col]), maxVisibleCards)
				content := strings.Repeat(" ", colWidth)
				if dataRow < len(columns[col]) {
					content = m.renderCardLine(columns[col][dataRow], line, colWidth, dataRow == cursor)
				}
				cells = append(cells, content)
			}
			cardLines = append(cardLines, strings.Join(cells, sep))
		}
	}

	var content strings.Builder
	content.WriteString(m.renderHeader(actualContentWidth))
	content.WriteString("\n")
	content.WriteString(divider)
	content.WriteString("\n")
	content.WriteString(strings.Join(colHeaders, sep))
	content.WriteString("\n")
	content.WriteString(divider)
	content.WriteString("\n")
	content.WriteString(strings.Join(cardLines, "\n"))
	content.WriteString("\n")
	content.WriteString(divider)
	content.WriteString("\n")
	content.WriteString(m.renderFooter(actualContentWidth))

	return boxStyle.Width(width - 2).MaxHeight(height).Render(content.String())
}

// scrollOffset keeps the cursor row visible. Columns without the cursor
// start at row 0.
func scrollOffset(cursor, n, visible int) int {
	if cursor < visible {
		return 0
	}
	off := cursor - visible + 1
	if off > n-visible {
		off = n - visible
	}
	return max(off, 0)
}

func (m Model) renderHeader(width int) string {
	title := m.Title
	if title == "" {
		title = "Board"
		if m.Board.Mode == engine.ModePlanner {
			title = "Planner"
		}
	}
	header := titleStyle.Render(title)
	if m.Board.Loading || !m.Board.Loaded {
		header += " " + m.Spinner.View()
	}
	if n := len(m.Board.InFlight); n > 0 {
		header += inflightStyle.Render(fmt.Sprintf(" ⇡%d", n))
	}
	if m.Stopped {
		header += errorStyle.Render(" disconnected")
	}
	header += "  " + hintStyle.Render(m.hint())
	if lipgloss.Width(header) > width {
		header = ansi.Truncate(header, width, "...")
	}
	return header
}

func (m Model) hint() string {
	k := m.Keys
	switch {
	case m.Searching:
		return "enter:keep  esc:clear"
	case m.Grab != nil:
		return hint(k.Left, k.Up, k.Drop, k.Cancel)
	case m.Board.Mode == engine.ModePlanner:
		return hint(k.Left, k.Down, k.Grab, k.Search, k.Refresh, k.StartSprint, k.CompleteSprint, k.Quit)
	default:
		return hint(k.Left, k.Down, k.Grab, k.Search, k.Refresh, k.Quit)
	}
}

func (m Model) renderEmpty() string {
	if !m.Board.Loaded {
		return hintStyle.Render("Loading…")
	}
	return hintStyle.Render("No columns")
}

// renderFooter shows the search input, the active query or the latest notice.
func (m Model) renderFooter(width int) string {
	var s string
	switch {
	case m.Searching:
		s = m.Search.View()
	case m.Notice != nil && m.Notice.Level == engine.LevelError:
		s = errorStyle.Render(m.Notice.Message)
	case m.Notice != nil:
		s = infoStyle.Render(m.Notice.Message)
	case m.Board.Query != "":
		s = hintStyle.Render(fmt.Sprintf("filter %q  (drag disabled, esc to clear)", m.Board.Query))
	case m.Grab != nil:
		s = ghostStyle.Render("moving " + m.grabbedLabel())
	}
	if lipgloss.Width(s) > width {
		s = ansi.Truncate(s, width, "…")
	}
	return s
}

func (m Model) grabbedLabel() string {
	for _, b := range m.Board.Buckets {
		for i := range b.Tickets {
			if b.Tickets[i].ID == m.Grab.TicketID {
				return b.Tickets[i].ShortID()
			}
		}
	}
	return m.Grab.TicketID
}

// renderCardLine renders a single line of a card.
// Line 0: type icon + priority + truncated title
// Line 1: key + assignee
// Line 2: separator/empty
func (m Model) renderCardLine(c cell, line, width int, selected bool) string {
	var content string
	switch {
	case c.ghost && line == 0:
		content = ghostStyle.Render("▸ drop here")
	case c.ghost && line == 1:
		content = ghostStyle.Render("  " + m.grabbedLabel())
	case c.ghost:
		content = ""
	case line == 0:
		t := c.ticket
		prefix := formatTypeIcon(t.Type) + " " + formatPriority(t.Priority) + " "
		titleWidth := width - lipgloss.Width(prefix)
		if titleWidth < 4 {
			titleWidth = 4
		}
		title := t.Title
		if lipgloss.Width(title) > titleWidth {
			title = ansi.Truncate(title, titleWidth-1, "…")
		}
		if m.Grab != nil && t.ID == m.Grab.TicketID {
			title = grabbedStyle.Render(title)
		}
		content = prefix + title
	case line == 1:
		t := c.ticket
		content = keyStyle.Render(t.ShortID())
		if name := t.AssigneeName(); name != "" {
			content += " " + hintStyle.Render("@"+name)
		}
		if m.Board.IsInFlight(t.ID) {
			content += " " + inflightStyle.Render("⇡")
		}
	}

	content = fit(content, width)
	if selected {
		content = highlightRow(content, width)
	}
	return content
}

// fit pads or truncates s to exactly width cells.
func fit(s string, width int) string {
	w := lipgloss.Width(s)
	if w > width {
		s = ansi.Truncate(s, width, "…")
		w = lipgloss.Width(s)
	}
	if w < width {
		s += strings.Repeat(" ", width-w)
	}
	return s
}
