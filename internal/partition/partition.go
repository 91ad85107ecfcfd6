// Package partition holds tickets grouped into ordered buckets, either by
// workflow status (board columns) or by sprint assignment (planner buckets).
//
// A Partition is not safe for concurrent use. It is owned by a single engine
// goroutine; readers receive copies through Snapshot.
package partition

import (
	"errors"
	"fmt"

	"github.com/marcus/boardsync/internal/models"
)

// Key identifies a bucket: a status value, a sprint id, or Backlog.
type Key string

// Backlog is the bucket of tickets with no sprint assignment.
const Backlog Key = ""

// ErrNotFound is returned when a ticket is not where an operation expects it.
var ErrNotFound = errors.New("ticket not found")

// Scheme decides bucket placement. Key derives the bucket from the ticket's
// own field; Apply writes a bucket back into that field.
type Scheme interface {
	Key(t *models.Ticket) Key
	Apply(t *models.Ticket, k Key)
}

// Bucket is an ordered copy of one bucket's tickets.
type Bucket struct {
	Key     Key
	Tickets []models.Ticket
}

// IDs returns the ticket ids of the bucket in order.
func (b Bucket) IDs() []string {
	ids := make([]string, len(b.Tickets))
	for i := range b.Tickets {
		ids[i] = b.Tickets[i].ID
	}
	return ids
}

// Partition is the bucketed view of every ticket in a scope.
type Partition struct {
	scheme   Scheme
	declared []Key
	order    []Key
	buckets  map[Key][]string
	tickets  map[string]*models.Ticket
	where    map[string]Key
}

// New creates an empty partition with the given scheme and declared bucket order.
func New(scheme Scheme, keys ...Key) *Partition {
	p := &Partition{scheme: scheme}
	p.reset(keys)
	return p
}

func (p *Partition) reset(keys []Key) {
	p.declared = append([]Key(nil), keys...)
	p.order = nil
	p.buckets = make(map[Key][]string, len(keys))
	p.tickets = make(map[string]*models.Ticket)
	p.where = make(map[string]Key)
	for _, k := range keys {
		p.ensure(k)
	}
}

// ensure creates bucket k at the end of the order if it does not exist.
func (p *Partition) ensure(k Key) {
	if _, ok := p.buckets[k]; ok {
		return
	}
	p.buckets[k] = nil
	p.order = append(p.order, k)
}

// Scheme returns the partition's placement scheme.
func (p *Partition) Scheme() Scheme {
	return p.scheme
}

// Initialize discards all buckets and rebuilds them from tickets. Keys not
// among the declared buckets get a bucket created after the declared ones.
// When an id repeats, the last record wins.
func (p *Partition) Initialize(tickets []models.Ticket) {
	p.reset(p.declared)
	for i := range tickets {
		p.UpsertTicket(tickets[i])
	}
}

// SetBuckets replaces the declared bucket order, keeping current contents.
// Undeclared buckets that still hold tickets stay after the declared ones;
// empty undeclared buckets are dropped.
func (p *Partition) SetBuckets(keys ...Key) {
	old := p.order
	p.declared = append([]Key(nil), keys...)
	p.order = nil
	seen := make(map[Key]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
		p.order = append(p.order, k)
		if _, ok := p.buckets[k]; !ok {
			p.buckets[k] = nil
		}
	}
	for _, k := range old {
		if seen[k] {
			continue
		}
		if len(p.buckets[k]) == 0 {
			delete(p.buckets, k)
			continue
		}
		p.order = append(p.order, k)
	}
}

// MoveTicket removes ticket id from bucket from and inserts it into bucket to
// at index, clamped to the destination length. The ticket's bucket field is
// updated to match to. Moving within one bucket to the current index succeeds
// without change.
func (p *Partition) MoveTicket(id string, from, to Key, index int) error {
	src := p.buckets[from]
	pos := indexOf(src, id)
	if pos < 0 {
		return fmt.Errorf("%w: %s in bucket %q", ErrNotFound, id, from)
	}

	if from == to {
		index = clamp(index, 0, len(src)-1)
		if index == pos {
			return nil
		}
		src = removeAt(src, pos)
		p.buckets[from] = insertAt(src, index, id)
		return nil
	}

	p.buckets[from] = removeAt(src, pos)
	p.ensure(to)
	dst := p.buckets[to]
	p.buckets[to] = insertAt(dst, clamp(index, 0, len(dst)), id)
	p.where[id] = to
	if t := p.tickets[id]; t != nil {
		p.scheme.Apply(t, to)
	}
	return nil
}

// UpsertTicket places t in the bucket implied by its own field value,
// removing any previous copy first regardless of which bucket held it.
// The ticket always lands at the end of the bucket, so applying the same
// payload twice leaves the partition as the first application did.
func (p *Partition) UpsertTicket(t models.Ticket) {
	k := p.scheme.Key(&t)
	p.detach(t.ID)
	rec := t.Clone()
	p.tickets[t.ID] = &rec
	p.where[t.ID] = k
	p.ensure(k)
	p.buckets[k] = append(p.buckets[k], t.ID)
}

// RemoveTicket deletes ticket id from whichever bucket holds it.
// It reports whether the ticket was present.
func (p *Partition) RemoveTicket(id string) bool {
	if _, ok := p.tickets[id]; !ok {
		return false
	}
	p.detach(id)
	delete(p.tickets, id)
	return true
}

// ReplaceTicket refreshes the stored record of t without moving it, provided
// t still belongs to the bucket that currently holds it. It reports whether
// the record was replaced.
func (p *Partition) ReplaceTicket(t models.Ticket) bool {
	cur, ok := p.where[t.ID]
	if !ok || cur != p.scheme.Key(&t) {
		return false
	}
	rec := t.Clone()
	p.tickets[t.ID] = &rec
	return true
}

// detach removes id from its bucket and the location index.
func (p *Partition) detach(id string) {
	k, ok := p.where[id]
	if ok {
		if pos := indexOf(p.buckets[k], id); pos >= 0 {
			p.buckets[k] = removeAt(p.buckets[k], pos)
			delete(p.where, id)
			return
		}
	}
	// Index out of step with bucket contents; sweep every bucket.
	for key, ids := range p.buckets {
		if pos := indexOf(ids, id); pos >= 0 {
			p.buckets[key] = removeAt(ids, pos)
		}
	}
	delete(p.where, id)
}

// Keys returns the bucket keys in display order.
func (p *Partition) Keys() []Key {
	return append([]Key(nil), p.order...)
}

// Has reports whether bucket k exists.
func (p *Partition) Has(k Key) bool {
	_, ok := p.buckets[k]
	return ok
}

// Bucket returns a copy of bucket k's tickets in order.
func (p *Partition) Bucket(k Key) []models.Ticket {
	ids := p.buckets[k]
	out := make([]models.Ticket, 0, len(ids))
	for _, id := range ids {
		if t := p.tickets[id]; t != nil {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Ticket returns a copy of the stored ticket.
func (p *Partition) Ticket(id string) (models.Ticket, bool) {
	t, ok := p.tickets[id]
	if !ok {
		return models.Ticket{}, false
	}
	return t.Clone(), true
}

// Locate returns the bucket and position of ticket id.
func (p *Partition) Locate(id string) (Key, int, bool) {
	k, ok := p.where[id]
	if !ok {
		return "", -1, false
	}
	pos := indexOf(p.buckets[k], id)
	return k, pos, pos >= 0
}

// Len returns the number of tickets in the partition.
func (p *Partition) Len() int {
	return len(p.tickets)
}

// Snapshot returns a deep copy of every bucket in display order.
func (p *Partition) Snapshot() []Bucket {
	out := make([]Bucket, 0, len(p.order))
	for _, k := range p.order {
		out = append(out, Bucket{Key: k, Tickets: p.Bucket(k)})
	}
	return out
}

// Check verifies that every ticket appears in exactly one bucket, that the
// bucket agrees with the ticket's own field, and that no bucket references an
// unknown ticket.
func (p *Partition) Check() error {
	seen := make(map[string]Key, len(p.tickets))
	for _, k := range p.order {
		for _, id := range p.buckets[k] {
			if prev, dup := seen[id]; dup {
				return fmt.Errorf("ticket %s in buckets %q and %q", id, prev, k)
			}
			seen[id] = k
			t, ok := p.tickets[id]
			if !ok {
				return fmt.Errorf("bucket %q references unknown ticket %s", k, id)
			}
			if got := p.scheme.Key(t); got != k {
				return fmt.Errorf("ticket %s in bucket %q but its field says %q", id, k, got)
			}
			if p.where[id] != k {
				return fmt.Errorf("ticket %s indexed at %q, found in %q", id, p.where[id], k)
			}
		}
	}
	if len(seen) != len(p.tickets) {
		return fmt.Errorf("%d tickets stored, %d placed", len(p.tickets), len(seen))
	}
	return nil
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func removeAt(ids []string, i int) []string {
	return append(ids[:i:i], ids[i+1:]...)
}

func insertAt(ids []string, i int, id string) []string {
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:i]...)
	out = append(out, id)
	return append(out, ids[i:]...)
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
