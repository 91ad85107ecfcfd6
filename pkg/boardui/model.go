// Package boardui is the interactive terminal board and planner. It renders
// engine views as Kanban columns and turns key presses into drops and sprint
// changes.
package boardui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/boardsync/internal/engine"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/partition"
)

const (
	opTimeout   = 15 * time.Second
	noticeTTL   = 4 * time.Second
	snapTimeout = 2 * time.Second
)

// Engine is the part of the reconciliation engine the board drives.
type Engine interface {
	Snapshot(ctx context.Context) (engine.View, error)
	Drop(ctx context.Context, d engine.Drop) error
	SetQuery(ctx context.Context, q string) error
	Refresh(ctx context.Context) error
	StartSprint(ctx context.Context, id string) error
	CompleteSprint(ctx context.Context, id string) error
	Changes() <-chan struct{}
	Notices() <-chan engine.Notice
	Done() <-chan struct{}
}

// grab is a card picked up with the grab key. Col and Row are the slot the
// card would be dropped into.
type grab struct {
	TicketID string
	Source   engine.Location
	Col      int
	Row      int
}

// Model is the bubbletea model of the board.
type Model struct {
	Engine Engine
	Keys   KeyMap
	Title  string

	Board   engine.View
	Width   int
	Height  int
	Col     int
	Row     int
	Grab    *grab
	Notice  *engine.Notice
	Stopped bool

	Searching bool
	Search    textinput.Model
	Spinner   spinner.Model
}

// Messages.
type (
	viewMsg struct {
		view engine.View
		err  error
	}
	changedMsg     struct{}
	stoppedMsg     struct{}
	noticeMsg      engine.Notice
	clearNoticeMsg struct{ at time.Time }
	opDoneMsg      struct {
		op  string
		err error
	}
)

// New returns a board model driving eng.
func New(eng Engine, title string) Model {
	ti := textinput.New()
	ti.Prompt = "/"
	ti.Placeholder = "search title, id or assignee"
	ti.CharLimit = 120

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = hintStyle

	return Model{
		Engine:  eng,
		Keys:    DefaultKeyMap,
		Title:   title,
		Search:  ti,
		Spinner: sp,
	}
}

// Init starts watching the engine.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.snapshot(),
		m.waitChange(),
		m.waitNotice(),
		m.Spinner.Tick,
	)
}

func (m Model) snapshot() tea.Cmd {
	eng := m.Engine
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), snapTimeout)
		defer cancel()
		v, err := eng.Snapshot(ctx)
		return viewMsg{view: v, err: err}
	}
}

func (m Model) waitChange() tea.Cmd {
	eng := m.Engine
	return func() tea.Msg {
		select {
		case <-eng.Changes():
			return changedMsg{}
		case <-eng.Done():
			return stoppedMsg{}
		}
	}
}

func (m Model) waitNotice() tea.Cmd {
	eng := m.Engine
	return func() tea.Msg {
		select {
		case n := <-eng.Notices():
			return noticeMsg(n)
		case <-eng.Done():
			return nil
		}
	}
}

// run performs a blocking engine call off the UI goroutine.
func (m Model) run(op string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return opDoneMsg{op: op, err: fn(ctx)}
	}
}

// Update handles a message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// Forward non-key messages to the search input (cursor blink).
	if m.Searching {
		if _, isKey := msg.(tea.KeyMsg); !isKey {
			var cmd tea.Cmd
			m.Search, cmd = m.Search.Update(msg)
			if cmd != nil {
				return m, cmd
			}
		}
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case changedMsg:
		return m, tea.Batch(m.snapshot(), m.waitChange())

	case viewMsg:
		if msg.err != nil {
			if errors.Is(msg.err, engine.ErrStopped) {
				m.Stopped = true
			}
			return m, nil
		}
		m.setView(msg.view)
		return m, nil

	case stoppedMsg:
		m.Stopped = true
		return m, nil

	case noticeMsg:
		n := engine.Notice(msg)
		if n.At.IsZero() {
			n.At = time.Now()
		}
		cmd := m.showNotice(n)
		return m, tea.Batch(cmd, m.waitNotice())

	case clearNoticeMsg:
		if m.Notice != nil && m.Notice.At.Equal(msg.at) {
			m.Notice = nil
		}
		return m, nil

	case opDoneMsg:
		// Server failures arrive as engine notices; only local refusals are
		// reported here.
		if msg.err != nil && (engine.IsRejection(msg.err) || errors.Is(msg.err, engine.ErrInvalidChange)) {
			cmd := m.showError(msg.err)
			return m, cmd
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) showNotice(n engine.Notice) tea.Cmd {
	m.Notice = &n
	at := n.At
	return tea.Tick(noticeTTL, func(time.Time) tea.Msg { return clearNoticeMsg{at: at} })
}

func (m *Model) showError(err error) tea.Cmd {
	return m.showNotice(engine.Notice{Level: engine.LevelError, Message: rejectionMessage(err), Err: err, At: time.Now()})
}

func rejectionMessage(err error) string {
	switch {
	case errors.Is(err, engine.ErrDragDisabled):
		return "Drag is disabled while searching"
	case errors.Is(err, engine.ErrReadOnly):
		return "Completed sprints are read-only"
	case errors.Is(err, engine.ErrNotLoaded):
		return "Board is still loading"
	case errors.Is(err, engine.ErrInvalidChange):
		return "Sprint cannot change to that status"
	}
	return err.Error()
}

// setView installs v and keeps the cursor and any grab on valid slots.
func (m *Model) setView(v engine.View) {
	m.Board = v
	if m.Grab != nil {
		// A grabbed card that moved remotely is picked up from where it is now.
		if k, i, ok := locate(v, m.Grab.TicketID); ok && v.DragEnabled {
			m.Grab.Source = engine.Location{Key: k, Index: i}
		} else {
			m.Grab = nil
		}
	}
	m.clampCursor()
}

func (m *Model) clampCursor() {
	n := len(m.Board.Buckets)
	if n == 0 {
		m.Col, m.Row = 0, 0
		return
	}
	m.Col = clamp(m.Col, 0, n-1)
	m.Row = clamp(m.Row, 0, max(len(m.Board.Buckets[m.Col].Tickets)-1, 0))
	if m.Grab != nil {
		m.Grab.Col = clamp(m.Grab.Col, 0, n-1)
		m.Grab.Row = clamp(m.Grab.Row, 0, m.slotCount(m.Grab.Col)-1)
	}
}

// slotCount is the number of drop positions in column col for the grabbed
// card.
func (m Model) slotCount(col int) int {
	b := m.Board.Buckets[col]
	if m.Grab != nil && b.Key == m.Grab.Source.Key {
		return len(b.Tickets)
	}
	return len(b.Tickets) + 1
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.Keys.Quit) && (msg.String() == "ctrl+c" || !m.Searching) {
		return m, tea.Quit
	}
	if m.Searching {
		return m.handleSearchKey(msg)
	}
	if m.Grab != nil {
		return m.handleGrabKey(msg)
	}

	switch {
	case key.Matches(msg, m.Keys.Left):
		if m.Col > 0 {
			m.Col--
			m.clampCursor()
		}
	case key.Matches(msg, m.Keys.Right):
		if m.Col < len(m.Board.Buckets)-1 {
			m.Col++
			m.clampCursor()
		}
	case key.Matches(msg, m.Keys.Up):
		if m.Row > 0 {
			m.Row--
		}
	case key.Matches(msg, m.Keys.Down):
		if m.selected() != nil && m.Row < len(m.Board.Buckets[m.Col].Tickets)-1 {
			m.Row++
		}
	case key.Matches(msg, m.Keys.Grab):
		return m.startGrab()
	case key.Matches(msg, m.Keys.Search):
		m.Searching = true
		m.Search.SetValue(m.Board.Query)
		m.Search.CursorEnd()
		cmd := m.Search.Focus()
		return m, cmd
	case key.Matches(msg, m.Keys.Cancel):
		if m.Board.Query != "" {
			return m.setQuery("")
		}
	case key.Matches(msg, m.Keys.Refresh):
		eng := m.Engine
		return m, m.run("refresh", eng.Refresh)
	case key.Matches(msg, m.Keys.StartSprint):
		return m.changeSprint(models.SprintActive)
	case key.Matches(msg, m.Keys.CompleteSprint):
		return m.changeSprint(models.SprintCompleted)
	}
	return m, nil
}

func (m Model) startGrab() (tea.Model, tea.Cmd) {
	t := m.selected()
	if t == nil {
		return m, nil
	}
	if !m.Board.DragEnabled {
		err := engine.ErrNotLoaded
		if m.Board.Query != "" {
			err = engine.ErrDragDisabled
		}
		cmd := m.showError(err)
		return m, cmd
	}
	b := m.Board.Buckets[m.Col]
	m.Grab = &grab{
		TicketID: t.ID,
		Source:   engine.Location{Key: b.Key, Index: m.Row},
		Col:      m.Col,
		Row:      m.Row,
	}
	return m, nil
}

func (m Model) handleGrabKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	g := m.Grab
	switch {
	case key.Matches(msg, m.Keys.Left):
		if g.Col > 0 {
			g.Col--
			g.Row = min(g.Row, m.slotCount(g.Col)-1)
		}
	case key.Matches(msg, m.Keys.Right):
		if g.Col < len(m.Board.Buckets)-1 {
			g.Col++
			g.Row = min(g.Row, m.slotCount(g.Col)-1)
		}
	case key.Matches(msg, m.Keys.Up):
		if g.Row > 0 {
			g.Row--
		}
	case key.Matches(msg, m.Keys.Down):
		if g.Row < m.slotCount(g.Col)-1 {
			g.Row++
		}
	case key.Matches(msg, m.Keys.Drop):
		d := engine.Drop{
			TicketID: g.TicketID,
			Source:   g.Source,
			Dest:     &engine.Location{Key: m.Board.Buckets[g.Col].Key, Index: g.Row},
		}
		m.Grab = nil
		m.Col, m.Row = g.Col, g.Row
		return m, m.drop(d)
	case key.Matches(msg, m.Keys.Cancel):
		d := engine.Drop{TicketID: g.TicketID, Source: g.Source}
		m.Grab = nil
		return m, m.drop(d)
	}
	return m, nil
}

func (m Model) drop(d engine.Drop) tea.Cmd {
	eng := m.Engine
	return m.run("drop", func(ctx context.Context) error { return eng.Drop(ctx, d) })
}

func (m Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.Searching = false
		m.Search.Blur()
		m.Search.SetValue("")
		return m.setQuery("")
	case tea.KeyEnter:
		m.Searching = false
		m.Search.Blur()
		return m, nil
	}
	before := m.Search.Value()
	var cmd tea.Cmd
	m.Search, cmd = m.Search.Update(msg)
	if v := m.Search.Value(); v != before {
		next, qcmd := m.setQuery(v)
		return next, tea.Batch(cmd, qcmd)
	}
	return m, cmd
}

func (m Model) setQuery(q string) (Model, tea.Cmd) {
	eng := m.Engine
	m.Row = 0
	return m, m.run("search", func(ctx context.Context) error { return eng.SetQuery(ctx, q) })
}

// changeSprint starts or completes the sprint under the cursor. Only planner
// sprint columns respond.
func (m Model) changeSprint(to models.SprintStatus) (tea.Model, tea.Cmd) {
	if m.Board.Mode != engine.ModePlanner || len(m.Board.Buckets) == 0 {
		return m, nil
	}
	k := m.Board.Buckets[m.Col].Key
	if k == partition.Backlog {
		return m, nil
	}
	id := string(k)
	eng := m.Engine
	if to == models.SprintCompleted {
		return m, m.run("complete", func(ctx context.Context) error { return eng.CompleteSprint(ctx, id) })
	}
	return m, m.run("start", func(ctx context.Context) error { return eng.StartSprint(ctx, id) })
}

// selected returns the ticket under the cursor.
func (m Model) selected() *models.Ticket {
	if m.Col < 0 || m.Col >= len(m.Board.Buckets) {
		return nil
	}
	ts := m.Board.Buckets[m.Col].Tickets
	if m.Row < 0 || m.Row >= len(ts) {
		return nil
	}
	return &ts[m.Row]
}

// Selected returns the ticket under the cursor, if any.
func (m Model) Selected() (models.Ticket, bool) {
	if t := m.selected(); t != nil {
		return *t, true
	}
	return models.Ticket{}, false
}

func locate(v engine.View, id string) (partition.Key, int, bool) {
	for _, b := range v.Buckets {
		for i, t := range b.Tickets {
			if t.ID == id {
				return b.Key, i, true
			}
		}
	}
	return "", 0, false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
