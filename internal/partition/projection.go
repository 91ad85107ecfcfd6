package partition

import (
	"strings"

	"github.com/marcus/boardsync/internal/models"
)

// View is a display copy of a partition, optionally narrowed by a search
// query. Positions in a filtered view do not match the partition's real
// indices, so DragEnabled is false whenever a query is active.
type View struct {
	Buckets     []Bucket
	Query       string
	DragEnabled bool
}

// Bucket returns the view's bucket with key k.
func (v View) Bucket(k Key) (Bucket, bool) {
	for _, b := range v.Buckets {
		if b.Key == k {
			return b, true
		}
	}
	return Bucket{}, false
}

// Len returns the number of visible tickets.
func (v View) Len() int {
	n := 0
	for _, b := range v.Buckets {
		n += len(b.Tickets)
	}
	return n
}

// Project derives a filtered view of p for query. p is not modified.
func Project(p *Partition, query string) View {
	return Filter(p.Snapshot(), query)
}

// Filter narrows buckets to tickets matching query. An empty or blank query
// returns the buckets unchanged with dragging enabled. The input slices are
// not modified.
func Filter(buckets []Bucket, query string) View {
	if strings.TrimSpace(query) == "" {
		return View{Buckets: buckets, DragEnabled: true}
	}

	q := strings.ToLower(query)
	out := make([]Bucket, len(buckets))
	for i, b := range buckets {
		out[i] = Bucket{Key: b.Key, Tickets: make([]models.Ticket, 0, len(b.Tickets))}
		for _, t := range b.Tickets {
			if Matches(&t, q) {
				out[i].Tickets = append(out[i].Tickets, t)
			}
		}
	}
	return View{Buckets: out, Query: query, DragEnabled: false}
}

// Matches reports whether the ticket's title, id, or assignee name contains
// the lowercased query q.
func Matches(t *models.Ticket, q string) bool {
	if strings.Contains(strings.ToLower(t.Title), q) {
		return true
	}
	if strings.Contains(strings.ToLower(t.ID), q) {
		return true
	}
	if name := t.AssigneeName(); name != "" && strings.Contains(strings.ToLower(name), q) {
		return true
	}
	return false
}
