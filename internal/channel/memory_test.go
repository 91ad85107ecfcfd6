package channel

import (
	"context"
	"testing"
	"time"

	"github.com/marcus/boardsync/internal/events"
	"github.com/marcus/boardsync/internal/models"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func ticketEvent(id, project string) Event {
	return Event{
		Kind:      events.KindTicketUpdated,
		ProjectID: project,
		TicketID:  id,
		Ticket:    &models.Ticket{ID: id, Status: models.StatusUnstarted, ProjectID: project},
	}
}

func TestMemory_RoutesByScope(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory(8)

	p1, err := m.Subscribe(ctx, ProjectScope("p1"))
	if err != nil {
		t.Fatal(err)
	}
	p2, _ := m.Subscribe(ctx, ProjectScope("p2"))

	_ = m.Publish(ctx, ticketEvent("a", "p1"))
	_ = m.Publish(ctx, ticketEvent("b", "p2"))

	if ev := recv(t, p1); ev.TicketID != "a" {
		t.Errorf("p1 got %q", ev.TicketID)
	}
	if ev := recv(t, p2); ev.TicketID != "b" {
		t.Errorf("p2 got %q", ev.TicketID)
	}
	select {
	case ev := <-p1:
		t.Errorf("p1 got extra event %+v", ev)
	default:
	}
}

func TestMemory_InvalidScope(t *testing.T) {
	if _, err := NewMemory(0).Subscribe(context.Background(), Scope{}); err == nil {
		t.Error("expected error for empty scope")
	}
}

func TestMemory_ClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemory(1)
	ch, _ := m.Subscribe(ctx, ProjectScope("p1"))
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("unexpected event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
	deadline := time.Now().Add(time.Second)
	for m.Subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := m.Subscribers(); n != 0 {
		t.Errorf("Subscribers = %d", n)
	}
	// Publishing after close must not panic.
	_ = m.Publish(context.Background(), ticketEvent("x", "p1"))
}

func TestMemory_LaggedSubscriberGetsResync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory(1)
	ch, _ := m.Subscribe(ctx, ProjectScope("p1"))

	_ = m.Publish(ctx, ticketEvent("a", "p1"))
	_ = m.Publish(ctx, ticketEvent("b", "p1")) // dropped, queue full

	if ev := recv(t, ch); ev.TicketID != "a" {
		t.Fatalf("first = %+v", ev)
	}
	_ = m.Publish(ctx, ticketEvent("c", "p1")) // replaced by resync

	if ev := recv(t, ch); ev.Kind != events.KindResync {
		t.Fatalf("second = %+v, want resync", ev)
	}
	_ = m.Publish(ctx, ticketEvent("d", "p1"))
	if ev := recv(t, ch); ev.TicketID != "d" {
		t.Fatalf("third = %+v", ev)
	}
}
