package boardui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/bubbles/cursor"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/boardsync/internal/engine"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/partition"
)

type fakeEngine struct {
	mu        sync.Mutex
	drops     []engine.Drop
	queries   []string
	started   []string
	completed []string
	refreshes int
	changes   chan struct{}
	notices   chan engine.Notice
	done      chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		changes: make(chan struct{}, 1),
		notices: make(chan engine.Notice, 1),
		done:    make(chan struct{}),
	}
}

func (f *fakeEngine) Snapshot(context.Context) (engine.View, error) { return engine.View{}, nil }

func (f *fakeEngine) Drop(_ context.Context, d engine.Drop) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drops = append(f.drops, d)
	return nil
}

func (f *fakeEngine) SetQuery(_ context.Context, q string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return nil
}

func (f *fakeEngine) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

func (f *fakeEngine) StartSprint(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	return nil
}

func (f *fakeEngine) CompleteSprint(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeEngine) Changes() <-chan struct{}      { return f.changes }
func (f *fakeEngine) Notices() <-chan engine.Notice { return f.notices }
func (f *fakeEngine) Done() <-chan struct{}         { return f.done }

func ticket(id, key, title string) models.Ticket {
	return models.Ticket{ID: id, Key: key, Title: title, Priority: models.PriorityMedium, Type: models.TypeTask}
}

func boardView() engine.View {
	return engine.View{
		Mode: engine.ModeBoard,
		Buckets: []partition.Bucket{
			{Key: partition.Key(models.StatusUnstarted), Tickets: []models.Ticket{ticket("a", "WP-1", "Fix login"), ticket("b", "WP-2", "Write docs")}},
			{Key: partition.Key(models.StatusInProgress), Tickets: []models.Ticket{ticket("c", "WP-3", "Ship search")}},
			{Key: partition.Key(models.StatusInReview)},
			{Key: partition.Key(models.StatusComplete)},
		},
		DragEnabled: true,
		Loaded:      true,
	}
}

func plannerView() engine.View {
	return engine.View{
		Mode: engine.ModePlanner,
		Buckets: []partition.Bucket{
			{Key: partition.Backlog, Tickets: []models.Ticket{ticket("a", "WP-1", "Fix login")}},
			{Key: "s1"},
			{Key: "s2"},
			{Key: "s0"},
		},
		Sprints: []models.Sprint{
			{ID: "s1", Name: "Sprint 1", Status: models.SprintActive},
			{ID: "s2", Name: "Sprint 2", Status: models.SprintPlanned},
			{ID: "s0", Name: "Sprint 0", Status: models.SprintCompleted},
		},
		DragEnabled: true,
		Loaded:      true,
	}
}

func newTestModel(t *testing.T, v engine.View) (Model, *fakeEngine) {
	t.Helper()
	f := newFakeEngine()
	m := New(f, "")
	m.Search.Cursor.SetMode(cursor.CursorStatic)
	m.Width, m.Height = 120, 30
	m.setView(v)
	return m, f
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

// press sends keys in order and returns the model and the last command.
func press(t *testing.T, m Model, keys ...string) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(keyMsg(k))
		m = next.(Model)
	}
	return m, cmd
}

// exec runs cmd and any batched commands, returning their messages.
func exec(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, exec(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func TestNavigationClamps(t *testing.T) {
	m, _ := newTestModel(t, boardView())

	tests := []struct {
		keys    []string
		col     int
		row     int
		comment string
	}{
		{[]string{"j"}, 0, 1, "down"},
		{[]string{"j", "j", "j"}, 0, 1, "down stops at last card"},
		{[]string{"k"}, 0, 0, "up stops at top"},
		{[]string{"j", "l"}, 1, 0, "row clamps to shorter column"},
		{[]string{"l", "l", "l", "l", "l"}, 3, 0, "right stops at last column"},
		{[]string{"h"}, 0, 0, "left stops at first column"},
	}
	for _, tc := range tests {
		got, _ := press(t, m, tc.keys...)
		if got.Col != tc.col || got.Row != tc.row {
			t.Errorf("%s: cursor = (%d,%d), want (%d,%d)", tc.comment, got.Col, got.Row, tc.col, tc.row)
		}
	}
}

func TestGrabAndDrop(t *testing.T) {
	tests := []struct {
		name string
		keys []string
		want engine.Drop
	}{
		{
			name: "into next column below its card",
			keys: []string{" ", "l", "j", "enter"},
			want: engine.Drop{
				TicketID: "a",
				Source:   engine.Location{Key: partition.Key(models.StatusUnstarted)},
				Dest:     &engine.Location{Key: partition.Key(models.StatusInProgress), Index: 1},
			},
		},
		{
			name: "reorder within column",
			keys: []string{" ", "j", "j", "enter"},
			want: engine.Drop{
				TicketID: "a",
				Source:   engine.Location{Key: partition.Key(models.StatusUnstarted)},
				Dest:     &engine.Location{Key: partition.Key(models.StatusUnstarted), Index: 1},
			},
		},
		{
			name: "into empty column",
			keys: []string{"j", " ", "l", "l", "j", "enter"},
			want: engine.Drop{
				TicketID: "b",
				Source:   engine.Location{Key: partition.Key(models.StatusUnstarted), Index: 1},
				Dest:     &engine.Location{Key: partition.Key(models.StatusInReview), Index: 0},
			},
		},
		{
			name: "escape drops nowhere",
			keys: []string{" ", "l", "esc"},
			want: engine.Drop{
				TicketID: "a",
				Source:   engine.Location{Key: partition.Key(models.StatusUnstarted)},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, f := newTestModel(t, boardView())
			m, cmd := press(t, m, tc.keys...)
			if m.Grab != nil {
				t.Fatal("grab still active after drop")
			}
			exec(cmd)
			if len(f.drops) != 1 {
				t.Fatalf("drops = %+v, want one", f.drops)
			}
			got := f.drops[0]
			if got.TicketID != tc.want.TicketID || got.Source != tc.want.Source {
				t.Errorf("drop = %+v, want %+v", got, tc.want)
			}
			switch {
			case tc.want.Dest == nil && got.Dest != nil:
				t.Errorf("dest = %+v, want nil", *got.Dest)
			case tc.want.Dest != nil && (got.Dest == nil || *got.Dest != *tc.want.Dest):
				t.Errorf("dest = %v, want %+v", got.Dest, *tc.want.Dest)
			}
		})
	}
}

func TestGrabRefusedWhileFiltering(t *testing.T) {
	v := boardView()
	v.Query = "login"
	v.DragEnabled = false
	m, _ := newTestModel(t, v)

	m, _ = press(t, m, " ")
	if m.Grab != nil {
		t.Fatal("grab allowed while filtering")
	}
	if m.Notice == nil || m.Notice.Message != "Drag is disabled while searching" {
		t.Errorf("notice = %+v", m.Notice)
	}
}

func TestGrabCancelledWhenCardDisappears(t *testing.T) {
	m, _ := newTestModel(t, boardView())
	m, _ = press(t, m, " ")
	if m.Grab == nil {
		t.Fatal("expected grab")
	}

	v := boardView()
	v.Buckets[0].Tickets = v.Buckets[0].Tickets[1:]
	next, _ := m.Update(viewMsg{view: v})
	m = next.(Model)
	if m.Grab != nil {
		t.Error("grab should end when its card is removed")
	}
}

func TestGrabFollowsRemoteMove(t *testing.T) {
	m, _ := newTestModel(t, boardView())
	m, _ = press(t, m, "j", " ")

	v := boardView()
	// b moved to Done by someone else.
	b := v.Buckets[0].Tickets[1]
	v.Buckets[0].Tickets = v.Buckets[0].Tickets[:1]
	v.Buckets[3].Tickets = []models.Ticket{b}
	next, _ := m.Update(viewMsg{view: v})
	m = next.(Model)

	want := engine.Location{Key: partition.Key(models.StatusComplete), Index: 0}
	if m.Grab == nil || m.Grab.Source != want {
		t.Errorf("grab = %+v, want source %+v", m.Grab, want)
	}
}

func TestSearchInput(t *testing.T) {
	m, f := newTestModel(t, boardView())

	m, _ = press(t, m, "/")
	if !m.Searching {
		t.Fatal("expected search mode")
	}
	for _, k := range []string{"f", "q"} {
		var cmd tea.Cmd
		m, cmd = press(t, m, k)
		for _, msg := range exec(cmd) {
			if _, quit := msg.(tea.QuitMsg); quit {
				t.Fatalf("%q quit while searching", k)
			}
		}
	}
	m, cmd := press(t, m, "esc")
	exec(cmd)
	if m.Searching {
		t.Error("esc should leave search mode")
	}

	want := []string{"f", "fq", ""}
	if strings.Join(f.queries, ",") != strings.Join(want, ",") {
		t.Errorf("queries = %q, want %q", f.queries, want)
	}
}

func TestSprintKeys(t *testing.T) {
	m, f := newTestModel(t, plannerView())

	// Backlog column ignores sprint keys.
	_, cmd := press(t, m, "s")
	if cmd != nil {
		t.Error("start on backlog should do nothing")
	}

	_, cmd = press(t, m, "l", "l", "s")
	exec(cmd)
	_, cmd = press(t, m, "l", "c")
	exec(cmd)

	if len(f.started) != 1 || f.started[0] != "s2" {
		t.Errorf("started = %v", f.started)
	}
	if len(f.completed) != 1 || f.completed[0] != "s1" {
		t.Errorf("completed = %v", f.completed)
	}

	// Board mode has no sprint columns.
	b, bf := newTestModel(t, boardView())
	_, cmd = press(t, b, "s")
	exec(cmd)
	if len(bf.started) != 0 {
		t.Errorf("board started = %v", bf.started)
	}
}

func TestRefreshKey(t *testing.T) {
	m, f := newTestModel(t, boardView())
	_, cmd := press(t, m, "r")
	exec(cmd)
	if f.refreshes != 1 {
		t.Errorf("refreshes = %d", f.refreshes)
	}
}

func TestRejectionNotice(t *testing.T) {
	m, _ := newTestModel(t, plannerView())

	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: Sprint 0", engine.ErrReadOnly), "Completed sprints are read-only"},
		{engine.ErrDragDisabled, "Drag is disabled while searching"},
		{fmt.Errorf("%w: ACTIVE -> ACTIVE", engine.ErrInvalidChange), "Sprint cannot change to that status"},
	}
	for _, tc := range tests {
		next, _ := m.Update(opDoneMsg{op: "drop", err: tc.err})
		got := next.(Model)
		if got.Notice == nil || got.Notice.Message != tc.want {
			t.Errorf("notice for %v = %+v, want %q", tc.err, got.Notice, tc.want)
		}
	}

	// Server failures are reported by the engine itself.
	next, _ := m.Update(opDoneMsg{op: "drop", err: fmt.Errorf("server said no")})
	if next.(Model).Notice != nil {
		t.Error("server errors should not add a second notice")
	}
}

func TestNoticeExpires(t *testing.T) {
	m, _ := newTestModel(t, boardView())
	next, _ := m.Update(noticeMsg(engine.Notice{Level: engine.LevelError, Message: "Failed to move ticket"}))
	m = next.(Model)
	if m.Notice == nil {
		t.Fatal("expected notice")
	}
	if !strings.Contains(m.View(), "Failed to move ticket") {
		t.Error("notice not rendered in footer")
	}

	// A stale clear does not remove a newer notice.
	next, _ = m.Update(clearNoticeMsg{})
	m = next.(Model)
	if m.Notice == nil {
		t.Fatal("stale clear removed notice")
	}
	next, _ = m.Update(clearNoticeMsg{at: m.Notice.At})
	if next.(Model).Notice != nil {
		t.Error("notice not cleared")
	}
}

func TestColumnCellsWhileGrabbing(t *testing.T) {
	m, _ := newTestModel(t, boardView())
	m, _ = press(t, m, " ", "j")

	cells := m.columnCells(0)
	if len(cells) != 2 || cells[0].ticket == nil || cells[0].ticket.ID != "b" || !cells[1].ghost {
		t.Errorf("same column cells = %+v", cells)
	}

	m, _ = press(t, m, "l")
	cells = m.columnCells(1)
	if len(cells) != 2 || cells[0].ticket.ID != "c" || !cells[1].ghost {
		t.Errorf("target column cells = %+v", cells)
	}
	if src := m.columnCells(0); len(src) != 2 {
		t.Errorf("source column should still show the card, got %d cells", len(src))
	}
}

func TestViewRendersColumns(t *testing.T) {
	m, _ := newTestModel(t, plannerView())
	out := m.View()
	for _, want := range []string{"Planner", "BACKLOG (1)", "SPRINT 1", "SPRINT 0", "Fix login", "WP-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q:\n%s", want, out)
		}
	}

	m, _ = press(t, m, " ", "l")
	if out := m.View(); !strings.Contains(out, "drop here") {
		t.Errorf("grab view missing drop slot:\n%s", out)
	}
}

func TestViewBeforeLoad(t *testing.T) {
	m := New(newFakeEngine(), "Web Platform")
	out := m.View()
	if !strings.Contains(out, "Web Platform") || !strings.Contains(out, "Loading") {
		t.Errorf("view = %q", out)
	}
}

func TestScrollOffset(t *testing.T) {
	tests := []struct {
		cursor, n, visible, want int
	}{
		{0, 10, 3, 0},
		{2, 10, 3, 0},
		{3, 10, 3, 1},
		{9, 10, 3, 7},
		{-1, 10, 3, 0},
		{4, 5, 8, 0},
	}
	for _, tc := range tests {
		if got := scrollOffset(tc.cursor, tc.n, tc.visible); got != tc.want {
			t.Errorf("scrollOffset(%d,%d,%d) = %d, want %d", tc.cursor, tc.n, tc.visible, got, tc.want)
		}
	}
}
