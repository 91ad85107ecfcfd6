package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/marcus/boardsync/internal/channel"
	"github.com/marcus/boardsync/internal/dateparse"
	"github.com/marcus/boardsync/internal/events"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/partition"
)

func TestSprintDates(t *testing.T) {
	now := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)
	tests := []struct {
		name      string
		start     string
		end       string
		weeks     int
		wantStart string
		wantEnd   string
		wantErr   bool
	}{
		{"defaults to today", "", "", 2, "2026-03-04", "2026-03-17", false},
		{"start plus weeks", "2026-03-02", "", 1, "2026-03-02", "2026-03-08", false},
		{"explicit end", "2026-03-02", "2026-03-20", 2, "2026-03-02", "2026-03-20", false},
		{"end before start", "2026-03-10", "2026-03-02", 2, "", "", true},
		{"bad start", "03/02/2026", "", 2, "", "", true},
		{"bad end", "", "soonish", 2, "", "", true},
		{"day name and offset", "monday", "+11d", 2, "2026-03-09", "2026-03-20", false},
		{"end relative to start", "2026-04-01", "+2w", 2, "2026-04-01", "2026-04-15", false},
		{"zero weeks", "", "", 0, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := sprintDates(tt.start, tt.end, tt.weeks, now)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v - %v", start, end)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := start.Format(dateparse.Layout); got != tt.wantStart {
				t.Errorf("start = %s, want %s", got, tt.wantStart)
			}
			if got := end.Format(dateparse.Layout); got != tt.wantEnd {
				t.Errorf("end = %s, want %s", got, tt.wantEnd)
			}
		})
	}
}

func TestUnfinishedSummary(t *testing.T) {
	done := models.Ticket{Status: models.StatusComplete}
	open := models.Ticket{Status: models.StatusInProgress}
	tests := []struct {
		tickets []models.Ticket
		want    string
	}{
		{nil, "All tickets are done."},
		{[]models.Ticket{done, done}, "All tickets are done."},
		{[]models.Ticket{done, open}, "1 unfinished ticket will move to the backlog."},
		{[]models.Ticket{open, open, done}, "2 unfinished tickets will move to the backlog."},
	}
	for _, tt := range tests {
		if got := unfinishedSummary(tt.tickets); got != tt.want {
			t.Errorf("unfinishedSummary(%d tickets) = %q, want %q", len(tt.tickets), got, tt.want)
		}
	}
}

func TestFindTicket(t *testing.T) {
	tickets := []models.Ticket{
		{ID: "a1", Key: "WP-1"},
		{ID: "b2", Key: "WP-2"},
	}
	tests := []struct {
		ref  string
		want string
	}{
		{"a1", "a1"},
		{"WP-2", "b2"},
		{"wp-2", "b2"},
		{"WP-3", ""},
		{"", ""},
	}
	for _, tt := range tests {
		got, err := findTicket(tickets, tt.ref)
		if tt.want == "" {
			if err == nil {
				t.Errorf("findTicket(%q) = %s, want error", tt.ref, got.ID)
			}
			continue
		}
		if err != nil || got.ID != tt.want {
			t.Errorf("findTicket(%q) = %v, %v; want %s", tt.ref, got, err, tt.want)
		}
	}
}

func TestFindSprint(t *testing.T) {
	sprints := []models.Sprint{
		{ID: "s1", Name: "Sprint 1"},
		{ID: "s2", Name: "Billing"},
	}
	if s, err := findSprint(sprints, "billing"); err != nil || s.ID != "s2" {
		t.Errorf("by name: %v, %v", s, err)
	}
	if s, err := findSprint(sprints, "s1"); err != nil || s.Name != "Sprint 1" {
		t.Errorf("by id: %v, %v", s, err)
	}
	if _, err := findSprint(sprints, "Sprint"); err == nil {
		t.Error("partial names should not match")
	}
}

func TestGroupTitle(t *testing.T) {
	sprints := []models.Sprint{{ID: "s1", Name: "Sprint 1"}}
	tests := []struct {
		key  partition.Key
		by   string
		want string
	}{
		{partition.Key(models.StatusInReview), "status", "In Review"},
		{partition.Backlog, "sprint", "Backlog"},
		{"s1", "sprint", "Sprint 1"},
		{"gone", "sprint", "gone"},
	}
	for _, tt := range tests {
		if got := groupTitle(tt.key, tt.by, sprints); got != tt.want {
			t.Errorf("groupTitle(%q, %s) = %q, want %q", tt.key, tt.by, got, tt.want)
		}
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"abc", "***"},
		{"abcd", "****"},
		{"sk-123456", "*****3456"},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncateText(t *testing.T) {
	if got := truncateText("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncateText("héllo wörld", 8); got != "héllo..." {
		t.Errorf("got %q", got)
	}
}

func TestFormatEvent(t *testing.T) {
	at := time.Date(2026, 3, 4, 9, 5, 7, 0, time.UTC)
	ticket := &models.Ticket{
		ID: "T1", Key: "WP-1", Title: "Fix login", Status: models.StatusInProgress,
		SprintID: models.StringPtr("s1"),
		Assignee: &models.User{ID: "u1", Name: "Sam"},
	}
	tests := []struct {
		name  string
		event channel.Event
		want  []string
	}{
		{"created", channel.Event{Kind: events.KindTicketCreated, Ticket: ticket},
			[]string{"09:05:07", "created", "WP-1", "Fix login", "sprint:s1", "@Sam"}},
		{"updated backlog", channel.Event{Kind: events.KindTicketUpdated, Ticket: &models.Ticket{ID: "T2", Key: "WP-2", Title: "Docs", Status: models.StatusUnstarted}},
			[]string{"updated", "WP-2", "backlog"}},
		{"deleted", channel.Event{Kind: events.KindTicketDeleted, TicketID: "T9"},
			[]string{"deleted T9"}},
		{"comment", channel.Event{Kind: events.KindCommentCreated, TicketID: "T1", Comment: &models.Comment{Text: "looks good"}},
			[]string{"comment on T1 by anonymous: looks good"}},
		{"notification", channel.Event{Kind: events.KindNotification, Notification: &models.Notification{Message: "You were assigned WP-1"}},
			[]string{"You were assigned WP-1"}},
		{"resync", channel.Resync(),
			[]string{"reconnected"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatEvent(tt.event, at)
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("formatEvent = %q, missing %q", got, want)
				}
			}
		})
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"board", "plan", "tickets", "move", "create", "assign", "delete", "show", "comment", "sprint", "projects", "watch", "config"} {
		c, _, err := rootCmd.Find([]string{name})
		if err != nil || c == rootCmd {
			t.Errorf("command %q not registered", name)
		}
	}
	for _, flag := range []string{"server", "api-key", "project", "transport", "debug"} {
		if rootCmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag --%s", flag)
		}
	}
}
