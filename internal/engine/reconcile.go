package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/marcus/boardsync/internal/channel"
	"github.com/marcus/boardsync/internal/events"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/partition"
)

func (e *Engine) handle(m any) {
	switch m := m.(type) {
	case dropMsg:
		e.handleDrop(m.drop, m.reply)
	case moveMsg:
		e.handleMove(m)
	case queryMsg:
		if e.query != m.query {
			e.query = m.query
			e.changed()
		}
	case refreshMsg:
		e.startLoad()
	case scopeMsg:
		e.handleScope(m)
	case sprintMsg:
		e.handleSprint(m)
	case snapshotMsg:
		m.reply <- e.view()
	case loadedMsg:
		e.handleLoaded(m)
	case movedMsg:
		e.handleMoved(m)
	case sprintDoneMsg:
		e.handleSprintDone(m)
	default:
		e.log.Error("unknown engine message", "type", fmt.Sprintf("%T", m))
	}
}

// changed signals readers without blocking.
func (e *Engine) changed() {
	select {
	case e.changes <- struct{}{}:
	default:
	}
}

func (e *Engine) notify(level Level, msg string, err error) {
	n := Notice{Level: level, Message: msg, Err: err, At: time.Now()}
	select {
	case e.notices <- n:
	default:
		e.log.Debug("notice dropped", "message", msg)
	}
}

// postResult hands a gateway result back to the loop. Results are discarded
// once the engine stops.
func (e *Engine) postResult(m any) {
	select {
	case e.inbox <- m:
	case <-e.ctx.Done():
	}
}

// --- Loading ---

// startLoad fetches tickets and sprints for the current scope in the
// background. Only the newest outstanding load is installed.
func (e *Engine) startLoad() {
	e.loadSeq++
	if !e.loading {
		e.pending = nil
	}
	e.loading = true
	gen, seq := e.gen, e.loadSeq
	projectID, sprintID := e.cfg.ProjectID, e.cfg.SprintID
	if e.cfg.Mode == ModePlanner {
		sprintID = ""
	}
	e.changed()

	go func() {
		m := loadedMsg{gen: gen, seq: seq}
		m.sprints, m.err = e.gw.ListSprints(e.ctx, projectID)
		if m.err == nil {
			m.tickets, m.err = e.gw.ListTickets(e.ctx, projectID, sprintID)
		}
		e.postResult(m)
	}()
}

func (e *Engine) handleLoaded(m loadedMsg) {
	if m.gen != e.gen || m.seq != e.loadSeq {
		e.log.Debug("discarding stale load", "gen", m.gen, "seq", m.seq)
		return
	}
	e.loading = false
	pending := e.pending
	e.pending = nil

	if m.err != nil {
		e.log.Warn("load failed", "project", e.cfg.ProjectID, "err", m.err)
		msg := msgLoadFailed
		if e.cfg.Mode == ModePlanner {
			msg = msgPlanFailed
		}
		e.notify(LevelError, msg, m.err)
		e.changed()
		return
	}

	e.sprints = m.sprints
	tickets := make([]models.Ticket, 0, len(m.tickets))
	for _, t := range m.tickets {
		if err := t.Validate(); err != nil {
			e.log.Warn("skipping ticket", "err", err)
			continue
		}
		tickets = append(tickets, t)
	}
	if e.cfg.Mode == ModePlanner {
		e.part.SetBuckets(partition.SprintKeys(e.sprints)...)
	}
	e.part.Initialize(tickets)

	// Events that arrived while the fetch was outstanding may postdate it.
	for _, ev := range pending {
		e.applyTicketEvent(ev)
	}
	// So may unconfirmed moves: the server may have read before the PATCH.
	reapplied := e.reapplyInflight()
	e.loaded = true
	e.log.Debug("loaded", "tickets", e.part.Len(), "sprints", len(e.sprints), "replayed", len(pending), "reapplied", reapplied)
	e.debugCheck()
	e.changed()
}

// reapplyInflight moves every ticket with an unconfirmed move back to the
// bucket it was last dropped on and reports how many moved.
func (e *Engine) reapplyInflight() int {
	n := 0
	for id, mv := range e.inflight {
		from, _, ok := e.part.Locate(id)
		if !ok || from == mv.to || !e.part.Has(mv.to) {
			continue
		}
		if err := e.part.MoveTicket(id, from, mv.to, len(e.part.Bucket(mv.to))); err != nil {
			e.log.Warn("reapply in-flight move", "ticket", id, "to", mv.to, "err", err)
			continue
		}
		n++
	}
	return n
}

func (e *Engine) handleScope(m scopeMsg) {
	projectChanged := m.projectID != e.cfg.ProjectID
	e.cfg.ProjectID = m.projectID
	e.cfg.SprintID = m.sprintID
	e.gen++
	e.part = newPartition(e.cfg.Mode, nil)
	e.sprints = nil
	e.loaded = false
	e.loading = false
	e.pending = nil
	e.inflight = make(map[string]*inflightMove)
	if projectChanged {
		if err := e.subscribe(); err != nil {
			e.log.Error("subscribe failed", "project", m.projectID, "err", err)
		}
	}
	e.startLoad()
}

// --- Local moves ---

func (e *Engine) handleDrop(d Drop, reply chan error) {
	if d.Dest == nil {
		e.log.Debug("drop outside any bucket", "ticket", d.TicketID)
		reply <- nil
		return
	}
	if err := e.checkDrop(d.Dest.Key); err != nil {
		reply <- err
		return
	}

	from, to := d.Source.Key, d.Dest.Key
	if err := e.part.MoveTicket(d.TicketID, from, to, d.Dest.Index); err != nil {
		e.log.Warn("drop rejected by partition", "ticket", d.TicketID, "from", from, "to", to, "err", err)
		e.notify(LevelError, msgMoveFailed, err)
		e.startLoad()
		reply <- err
		return
	}
	e.changed()

	if from == to {
		// Reordering within a bucket is local only.
		reply <- nil
		return
	}
	e.sendMove(d.TicketID, to, reply)
}

func (e *Engine) handleMove(m moveMsg) {
	if err := e.checkDrop(m.to); err != nil {
		m.reply <- err
		return
	}
	from, _, ok := e.part.Locate(m.id)
	if !ok {
		err := fmt.Errorf("%w: %s", partition.ErrNotFound, m.id)
		e.notify(LevelError, msgMoveFailed, err)
		m.reply <- err
		return
	}
	if from == m.to {
		m.reply <- nil
		return
	}
	end := len(e.part.Bucket(m.to))
	e.handleDrop(Drop{TicketID: m.id, Source: Location{Key: from}, Dest: &Location{Key: m.to, Index: end}}, m.reply)
}

// checkDrop refuses drops the view does not allow.
func (e *Engine) checkDrop(to partition.Key) error {
	if !e.loaded {
		return ErrNotLoaded
	}
	if strings.TrimSpace(e.query) != "" {
		return ErrDragDisabled
	}
	if e.cfg.Mode == ModePlanner && to != partition.Backlog {
		for _, s := range e.sprints {
			if partition.Key(s.ID) == to && s.Status == models.SprintCompleted {
				return fmt.Errorf("%w: %s", ErrReadOnly, s.Name)
			}
		}
	}
	return nil
}

// sendMove persists the bucket field of ticket id in the background.
func (e *Engine) sendMove(id string, to partition.Key, reply chan error) {
	t, _ := e.part.Ticket(id)
	mv := e.inflight[id]
	if mv == nil {
		mv = &inflightMove{}
		e.inflight[id] = mv
	}
	mv.n++
	mv.to = to
	gen := e.gen
	mode := e.cfg.Mode
	e.log.Debug("move sent", "ticket", id, "to", to)

	go func() {
		var res *models.Ticket
		var err error
		if mode == ModePlanner {
			res, err = e.gw.UpdateTicketSprint(e.ctx, id, t.SprintID)
		} else {
			res, err = e.gw.UpdateTicketStatus(e.ctx, id, t.Status)
		}
		e.postResult(movedMsg{gen: gen, id: id, ticket: res, err: err, reply: reply})
	}()
}

func (e *Engine) handleMoved(m movedMsg) {
	if m.gen != e.gen {
		e.log.Debug("discarding move result for previous scope", "ticket", m.id)
		m.reply <- m.err
		return
	}
	if mv := e.inflight[m.id]; mv != nil {
		mv.n--
		if mv.n <= 0 {
			delete(e.inflight, m.id)
		}
	}

	if m.err != nil {
		e.log.Warn("move rejected", "ticket", m.id, "err", m.err)
		e.notify(LevelError, msgMoveFailed, m.err)
		e.startLoad()
		m.reply <- m.err
		return
	}

	if m.ticket != nil && m.ticket.Validate() == nil {
		if !e.part.ReplaceTicket(*m.ticket) && e.inScope(m.ticket) {
			e.part.UpsertTicket(*m.ticket)
		}
		// A fetch still outstanding may have been read before this write.
		if e.loading {
			e.pending = append(e.pending, channel.Event{Kind: events.KindTicketUpdated, ProjectID: m.ticket.ProjectID, Ticket: m.ticket})
		}
		e.debugCheck()
	}
	if e.cfg.RefreshOnConfirm {
		e.startLoad()
	}
	e.changed()
	m.reply <- nil
}

// --- Sprint lifecycle ---

func (e *Engine) handleSprint(m sprintMsg) {
	var cur *models.Sprint
	for i := range e.sprints {
		if e.sprints[i].ID == m.id {
			cur = &e.sprints[i]
			break
		}
	}
	if cur == nil {
		m.reply <- fmt.Errorf("%w: %s", ErrUnknownSprint, m.id)
		return
	}
	if !cur.Status.CanTransition(m.to) {
		m.reply <- fmt.Errorf("%w: %s -> %s", ErrInvalidChange, cur.Status, m.to)
		return
	}

	gen := e.gen
	go func() {
		var err error
		if m.to == models.SprintCompleted {
			_, err = e.gw.CompleteSprint(e.ctx, m.id)
		} else {
			_, err = e.gw.UpdateSprintStatus(e.ctx, m.id, m.to)
		}
		e.postResult(sprintDoneMsg{gen: gen, id: m.id, to: m.to, err: err, reply: m.reply})
	}()
}

func (e *Engine) handleSprintDone(m sprintDoneMsg) {
	if m.gen != e.gen {
		m.reply <- m.err
		return
	}
	if m.err != nil {
		e.log.Warn("sprint change rejected", "sprint", m.id, "to", m.to, "err", m.err)
		msg := msgStartFailed
		if m.to == models.SprintCompleted {
			msg = msgCompleteFailed
		}
		e.notify(LevelError, msg, m.err)
	}
	e.startLoad()
	m.reply <- m.err
}

// --- Remote events ---

func (e *Engine) applyEvent(ev channel.Event) {
	if ev.Kind == events.KindResync {
		e.log.Debug("resync requested by transport")
		e.startLoad()
		return
	}
	if ev.ProjectID != "" && ev.ProjectID != e.cfg.ProjectID {
		return
	}
	if e.loading {
		e.pending = append(e.pending, ev)
	}
	if e.applyTicketEvent(ev) {
		e.debugCheck()
		e.changed()
	}
}

// applyTicketEvent merges one ticket event into the partition. It reports
// whether the partition changed.
func (e *Engine) applyTicketEvent(ev channel.Event) bool {
	switch ev.Kind {
	case events.KindTicketCreated, events.KindTicketUpdated:
		if ev.Ticket == nil {
			e.log.Debug("ticket event without ticket", "kind", ev.Kind, "ticket", ev.TicketID)
			return false
		}
		t := *ev.Ticket
		if !e.inScope(&t) {
			return e.part.RemoveTicket(t.ID)
		}
		// Payloads without a timestamp are trusted as the newest.
		if cur, ok := e.part.Ticket(t.ID); ok && !cur.UpdatedAt.IsZero() && !t.UpdatedAt.IsZero() {
			if t.UpdatedAt.Before(cur.UpdatedAt) {
				e.log.Debug("ignoring stale ticket event", "ticket", t.ID, "kind", ev.Kind)
				return false
			}
			// An echo of the record already held keeps its position.
			if t.UpdatedAt.Equal(cur.UpdatedAt) && e.part.ReplaceTicket(t) {
				return true
			}
		}
		if e.inflight[t.ID] != nil {
			e.log.Debug("remote event for ticket with move in flight", "ticket", t.ID, "kind", ev.Kind)
		}
		e.part.UpsertTicket(t)
		return true
	case events.KindTicketDeleted:
		return e.part.RemoveTicket(ev.TicketID)
	default:
		e.log.Debug("event not applied to board", "kind", ev.Kind, "ticket", ev.TicketID)
		return false
	}
}

// inScope reports whether t belongs on this board.
func (e *Engine) inScope(t *models.Ticket) bool {
	if t.ProjectID != "" && t.ProjectID != e.cfg.ProjectID {
		return false
	}
	if e.cfg.Mode == ModeBoard && e.cfg.SprintID != "" {
		return t.InSprint(e.cfg.SprintID)
	}
	return true
}

func (e *Engine) debugCheck() {
	if err := e.part.Check(); err != nil {
		e.log.Error("partition invariant violated", "err", err)
	}
}

// --- Views ---

func (e *Engine) view() View {
	pv := partition.Project(e.part, e.query)
	inflight := make([]string, 0, len(e.inflight))
	for id := range e.inflight {
		inflight = append(inflight, id)
	}
	sort.Strings(inflight)
	return View{
		Mode:        e.cfg.Mode,
		ProjectID:   e.cfg.ProjectID,
		SprintID:    e.cfg.SprintID,
		Buckets:     pv.Buckets,
		Sprints:     append([]models.Sprint(nil), e.sprints...),
		Query:       e.query,
		DragEnabled: pv.DragEnabled && e.loaded,
		InFlight:    inflight,
		Loading:     e.loading,
		Loaded:      e.loaded,
		Generation:  e.gen,
	}
}

// IsRejection reports whether err came from the engine refusing a drop
// locally, as opposed to the server rejecting it.
func IsRejection(err error) bool {
	return errors.Is(err, ErrDragDisabled) || errors.Is(err, ErrReadOnly) || errors.Is(err, ErrNotLoaded)
}
