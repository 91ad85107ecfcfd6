package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/marcus/boardsync/internal/channel"
	"github.com/marcus/boardsync/internal/events"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/partition"
)

var (
	todo       = partition.Key(models.StatusUnstarted)
	inProgress = partition.Key(models.StatusInProgress)
	inReview   = partition.Key(models.StatusInReview)
	done       = partition.Key(models.StatusComplete)
)

// fakeGateway keeps server state in memory. Mutations wait on gate when it
// is set and fail with moveErr when it is set. ListTickets returns staleList
// instead of the live tickets when it is set.
type fakeGateway struct {
	mu        sync.Mutex
	tickets   []models.Ticket
	sprints   []models.Sprint
	staleList []models.Ticket
	moveErr   error
	gate      chan struct{}
	listGate  chan struct{}
	lists     int
	mutations []string
}

func (g *fakeGateway) ListTickets(ctx context.Context, projectID, sprintID string) ([]models.Ticket, error) {
	g.mu.Lock()
	gate := g.listGate
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lists++
	src := g.tickets
	if g.staleList != nil {
		src = g.staleList
	}
	var out []models.Ticket
	for _, t := range src {
		if projectID != "" && t.ProjectID != projectID {
			continue
		}
		if sprintID != "" && !t.InSprint(sprintID) {
			continue
		}
		out = append(out, t.Clone())
	}
	return out, nil
}

func (g *fakeGateway) ListSprints(ctx context.Context, projectID string) ([]models.Sprint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.Sprint(nil), g.sprints...), nil
}

func (g *fakeGateway) mutate(ctx context.Context, name, id string, fn func(t *models.Ticket)) (*models.Ticket, error) {
	g.mu.Lock()
	gate := g.gate
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mutations = append(g.mutations, name+":"+id)
	if g.moveErr != nil {
		return nil, g.moveErr
	}
	for i := range g.tickets {
		if g.tickets[i].ID == id {
			fn(&g.tickets[i])
			t := g.tickets[i].Clone()
			return &t, nil
		}
	}
	return nil, errors.New("not found")
}

func (g *fakeGateway) UpdateTicketStatus(ctx context.Context, id string, status models.Status) (*models.Ticket, error) {
	return g.mutate(ctx, "status", id, func(t *models.Ticket) { t.Status = status })
}

func (g *fakeGateway) UpdateTicketSprint(ctx context.Context, id string, sprintID *string) (*models.Ticket, error) {
	return g.mutate(ctx, "sprint", id, func(t *models.Ticket) {
		t.SprintID = nil
		if sprintID != nil {
			t.SprintID = models.StringPtr(*sprintID)
		}
	})
}

func (g *fakeGateway) setSprint(id string, status models.SprintStatus) (*models.Sprint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mutations = append(g.mutations, "sprint-status:"+id)
	if g.moveErr != nil {
		return nil, g.moveErr
	}
	for i := range g.sprints {
		if g.sprints[i].ID == id {
			g.sprints[i].Status = status
			s := g.sprints[i]
			return &s, nil
		}
	}
	return nil, errors.New("not found")
}

func (g *fakeGateway) UpdateSprintStatus(ctx context.Context, id string, status models.SprintStatus) (*models.Sprint, error) {
	return g.setSprint(id, status)
}

func (g *fakeGateway) CompleteSprint(ctx context.Context, id string) (*models.Sprint, error) {
	return g.setSprint(id, models.SprintCompleted)
}

func (g *fakeGateway) holdLists() {
	g.mu.Lock()
	g.listGate = make(chan struct{})
	g.mu.Unlock()
}

func (g *fakeGateway) releaseLists() {
	g.mu.Lock()
	close(g.listGate)
	g.listGate = nil
	g.mu.Unlock()
}

func (g *fakeGateway) holdMutations() {
	g.mu.Lock()
	g.gate = make(chan struct{})
	g.mu.Unlock()
}

func (g *fakeGateway) releaseMutations() {
	g.mu.Lock()
	close(g.gate)
	g.gate = nil
	g.mu.Unlock()
}

func (g *fakeGateway) listCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lists
}

func (g *fakeGateway) mutationLog() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.mutations...)
}

func tk(id string, status models.Status) models.Ticket {
	return models.Ticket{ID: id, Title: "Ticket " + id, Status: status, ProjectID: "p1"}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	t      *testing.T
	gw     *fakeGateway
	bus    *channel.Memory
	eng    *Engine
	cancel context.CancelFunc
}

func startEngine(t *testing.T, gw *fakeGateway, cfg Config) *harness {
	t.Helper()
	if cfg.ProjectID == "" {
		cfg.ProjectID = "p1"
	}
	cfg.Logger = quietLogger()
	bus := channel.NewMemory(16)
	eng := New(gw, bus, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)
	h := &harness{t: t, gw: gw, bus: bus, eng: eng, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		<-eng.Done()
	})
	return h
}

func (h *harness) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	h.t.Cleanup(cancel)
	return ctx
}

// waitFor polls the engine view until cond holds.
func (h *harness) waitFor(what string, cond func(View) bool) View {
	h.t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		v, err := h.eng.Snapshot(h.ctx())
		if err != nil {
			h.t.Fatalf("Snapshot: %v", err)
		}
		if cond(v) {
			return v
		}
		select {
		case <-h.eng.Changes():
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			h.t.Fatalf("timed out waiting for %s; last view %+v", what, v)
		}
	}
}

func (h *harness) waitLoaded() View {
	h.t.Helper()
	return h.waitFor("initial load", func(v View) bool { return v.Loaded && !v.Loading })
}

func (h *harness) waitSubscribed() {
	h.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for h.bus.Subscribers() == 0 {
		if time.Now().After(deadline) {
			h.t.Fatal("engine never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func ids(v View, k partition.Key) []string {
	b, ok := v.Bucket(k)
	if !ok {
		return nil
	}
	return b.IDs()
}

func bucketIs(k partition.Key, want ...string) func(View) bool {
	return func(v View) bool {
		got := ids(v, k)
		if len(got) == 0 && len(want) == 0 {
			return true
		}
		return reflect.DeepEqual(got, want)
	}
}

func boardGateway() *fakeGateway {
	return &fakeGateway{tickets: []models.Ticket{
		tk("T1", models.StatusUnstarted),
		tk("T2", models.StatusInProgress),
	}}
}

func drop(id string, from, to partition.Key, index int) Drop {
	return Drop{TicketID: id, Source: Location{Key: from}, Dest: &Location{Key: to, Index: index}}
}

func TestDrop_OptimisticThenConfirm(t *testing.T) {
	gw := boardGateway()
	gw.gate = make(chan struct{})
	h := startEngine(t, gw, DefaultConfig(ModeBoard, "p1"))
	h.waitLoaded()

	result := make(chan error, 1)
	go func() { result <- h.eng.Drop(h.ctx(), drop("T1", todo, inProgress, 0)) }()

	v := h.waitFor("optimistic move", func(v View) bool { return v.IsInFlight("T1") })
	if got := ids(v, inProgress); !reflect.DeepEqual(got, []string{"T1", "T2"}) {
		t.Errorf("optimistic InProgress = %v, want [T1 T2]", got)
	}
	if got := ids(v, todo); len(got) != 0 {
		t.Errorf("optimistic ToDo = %v, want empty", got)
	}

	close(gw.gate)
	if err := <-result; err != nil {
		t.Fatalf("Drop: %v", err)
	}

	v = h.waitFor("confirmation", func(v View) bool { return len(v.InFlight) == 0 })
	if got := ids(v, inProgress); !reflect.DeepEqual(got, []string{"T1", "T2"}) {
		t.Errorf("confirmed InProgress = %v, want [T1 T2]", got)
	}
	if n := gw.listCount(); n != 1 {
		t.Errorf("board refetched after confirm: %d list calls", n)
	}
	if got := gw.mutationLog(); !reflect.DeepEqual(got, []string{"status:T1"}) {
		t.Errorf("mutations = %v", got)
	}
}

func TestDrop_FailureRestoresServerState(t *testing.T) {
	gw := boardGateway()
	gw.moveErr = errors.New("HTTP 500")
	h := startEngine(t, gw, DefaultConfig(ModeBoard, "p1"))
	h.waitLoaded()

	err := h.eng.Drop(h.ctx(), drop("T1", todo, inProgress, 0))
	if err == nil {
		t.Fatal("Drop succeeded, want error")
	}

	h.waitFor("rollback", func(v View) bool {
		return bucketIs(todo, "T1")(v) && bucketIs(inProgress, "T2")(v) && !v.Loading
	})
	if n := gw.listCount(); n < 2 {
		t.Errorf("list calls = %d, want a refetch", n)
	}

	select {
	case n := <-h.eng.Notices():
		if n.Message != "Failed to move ticket" || n.Level != LevelError || n.Err == nil {
			t.Errorf("notice = %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no notice")
	}
}

func TestDrop_NoDestinationIsNoop(t *testing.T) {
	gw := boardGateway()
	h := startEngine(t, gw, DefaultConfig(ModeBoard, "p1"))
	before := h.waitLoaded()

	if err := h.eng.Drop(h.ctx(), Drop{TicketID: "T1", Source: Location{Key: todo}}); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	after, _ := h.eng.Snapshot(h.ctx())
	if !reflect.DeepEqual(before.Buckets, after.Buckets) {
		t.Error("no-destination drop changed buckets")
	}
	if n := gw.listCount(); n != 1 {
		t.Errorf("list calls = %d, want 1", n)
	}
	if m := gw.mutationLog(); len(m) != 0 {
		t.Errorf("mutations = %v", m)
	}
}

func TestDrop_SameBucketReorderIsLocal(t *testing.T) {
	gw := &fakeGateway{tickets: []models.Ticket{
		tk("a", models.StatusUnstarted),
		tk("b", models.StatusUnstarted),
	}}
	h := startEngine(t, gw, DefaultConfig(ModeBoard, "p1"))
	h.waitLoaded()

	if err := h.eng.Drop(h.ctx(), drop("b", todo, todo, 0)); err != nil {
		t.Fatal(err)
	}
	v, _ := h.eng.Snapshot(h.ctx())
	if got := ids(v, todo); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Errorf("ToDo = %v, want [b a]", got)
	}
	if m := gw.mutationLog(); len(m) != 0 {
		t.Errorf("reorder persisted: %v", m)
	}
}

func TestDrop_NotInSourceResyncs(t *testing.T) {
	gw := boardGateway()
	h := startEngine(t, gw, DefaultConfig(ModeBoard, "p1"))
	h.waitLoaded()

	err := h.eng.Drop(h.ctx(), drop("T1", inReview, done, 0))
	if !errors.Is(err, partition.ErrNotFound) {
		t.Fatalf("err = %v, want partition.ErrNotFound", err)
	}
	h.waitFor("resync", func(v View) bool { return gw.listCount() >= 2 && !v.Loading })
	if m := gw.mutationLog(); len(m) != 0 {
		t.Errorf("mutations = %v", m)
	}
}

func TestDrop_RefusedWhileSearching(t *testing.T) {
	gw := boardGateway()
	h := startEngine(t, gw, DefaultConfig(ModeBoard, "p1"))
	h.waitLoaded()

	if err := h.eng.SetQuery(h.ctx(), "T1"); err != nil {
		t.Fatal(err)
	}
	v := h.waitFor("query", func(v View) bool { return v.Query == "T1" })
	if v.DragEnabled {
		t.Error("DragEnabled with active query")
	}
	if got := ids(v, inProgress); len(got) != 0 {
		t.Errorf("filtered InProgress = %v", got)
	}

	err := h.eng.Drop(h.ctx(), drop("T1", todo, inProgress, 0))
	if !errors.Is(err, ErrDragDisabled) || !IsRejection(err) {
		t.Fatalf("err = %v, want ErrDragDisabled", err)
	}

	_ = h.eng.SetQuery(h.ctx(), "  ")
	v = h.waitFor("cleared query", func(v View) bool { return v.Query == "  " })
	if !v.DragEnabled {
		t.Error("blank query should enable drag")
	}
	if got := ids(v, todo); !reflect.DeepEqual(got, []string{"T1"}) {
		t.Errorf("ToDo = %v after refused drop", got)
	}
}

func TestRemoteUpdateMovesTicket(t *testing.T) {
	gw := boardGateway()
	h := startEngine(t, gw, DefaultConfig(ModeBoard, "p1"))
	h.waitLoaded()
	h.waitSubscribed()

	t2 := tk("T2", models.StatusComplete)
	_ = h.bus.Publish(h.ctx(), channel.Event{Kind: events.KindTicketUpdated, ProjectID: "p1", Ticket: &t2})

	h.waitFor("remote update", func(v View) bool {
		return bucketIs(done, "T2")(v) && bucketIs(inProgress)(v)
	})
}

func TestRemoteCreateAndDelete(t *testing.T) {
	gw := boardGateway()
	h := startEngine(t, gw, DefaultConfig(ModeBoard, "p1"))
	h.waitLoaded()
	h.waitSubscribed()

	t3 := tk("T3", models.StatusUnstarted)
	_ = h.bus.Publish(h.ctx(), channel.Event{Kind: events.KindTicketCreated, ProjectID: "p1", Ticket: &t3})
	h.waitFor("create", bucketIs(todo, "T1", "T3"))

	_ = h.bus.Publish(h.ctx(), channel.Event{Kind: events.KindTicketDeleted, TicketID: "T1"})
	h.waitFor("delete", bucketIs(todo, "T3"))

	other := tk("X", models.StatusUnstarted)
	other.ProjectID = "p2"
	_ = h.bus.Publish(h.ctx(), channel.Event{Kind: events.KindTicketCreated, ProjectID: "p2", Ticket: &other})
	_ = h.bus.Publish(h.ctx(), channel.Event{Kind: events.KindTicketDeleted, TicketID: "T3"})
	v := h.waitFor("second delete", bucketIs(todo))
	if _, ok := v.Bucket(todo); !ok {
		t.Error("ToDo bucket missing")
	}
	for _, b := range v.Buckets {
		for _, id := range b.IDs() {
			if id == "X" {
				t.Error("ticket from another project applied")
			}
		}
	}
}

func TestRemoteStaleUpdateIgnored(t *testing.T) {
	now := time.Now().UTC()
	t1 := tk("T1", models.StatusInReview)
	t1.UpdatedAt = now
	gw := &fakeGateway{tickets: []models.Ticket{t1}}
	h := startEngine(t, gw, DefaultConfig(ModeBoard, "p1"))
	h.waitLoaded()
	h.waitSubscribed()

	old := tk("T1", models.StatusUnstarted)
	old.UpdatedAt = now.Add(-time.Minute)
	_ = h.bus.Publish(h.ctx(), channel.Event{Kind: events.KindTicketUpdated, Ticket: &old})

	marker := tk("M", models.StatusComplete)
	_ = h.bus.Publish(h.ctx(), channel.Event{Kind: events.KindTicketCreated, Ticket: &marker})

	v := h.waitFor("marker", bucketIs(done, "M"))
	if got := ids(v, inReview); !reflect.DeepEqual(got, []string{"T1"}) {
		t.Errorf("stale event applied: InReview = %v", got)
	}
}

func TestResyncEventRefetches(t *testing.T) {
	gw := boardGateway()
	h := startEngine(t, gw, DefaultConfig(ModeBoard, "p1"))
	h.waitLoaded()
	h.waitSubscribed()

	gw.mu.Lock()
	gw.tickets[0].Status = models.StatusComplete
	gw.mu.Unlock()

	h.bus.Resync(channel.ProjectScope("p1"))
	h.waitFor("refetch", bucketIs(done, "T1"))
}

func TestEventsDuringLoadAreReplayed(t *testing.T) {
	gw := boardGateway()
	h := startEngine(t, gw, DefaultConfig(ModeBoard, "p1"))
	h.waitLoaded()
	h.waitSubscribed()

	gw.mu.Lock()
	gw.listGate = make(chan struct{})
	gw.mu.Unlock()
	if err := h.eng.Refresh(h.ctx()); err != nil {
		t.Fatal(err)
	}
	h.waitFor("loading", func(v View) bool { return v.Loading })

	t2 := tk("T2", models.StatusInReview)
	_ = h.bus.Publish(h.ctx(), channel.Event{Kind: events.KindTicketUpdated, ProjectID: "p1", Ticket: &t2})
	h.waitFor("event applied during load", bucketIs(inReview, "T2"))

	// The fetch result predates the event; the replay puts T2 back.
	gw.mu.Lock()
	close(gw.listGate)
	gw.listGate = nil
	gw.mu.Unlock()

	v := h.waitFor("load installed", func(v View) bool { return !v.Loading })
	if got := ids(v, inReview); !reflect.DeepEqual(got, []string{"T2"}) {
		t.Errorf("InReview = %v, want [T2]", got)
	}
	if got := ids(v, inProgress); len(got) != 0 {
		t.Errorf("InProgress = %v, want empty", got)
	}
}

// A refresh fetched before the move reached the server must not put the
// ticket back where it came from.
func TestMoveSurvivesOverlappingLoad(t *testing.T) {
	gw := boardGateway()
	h := startEngine(t, gw, DefaultConfig(ModeBoard, "p1"))
	h.waitLoaded()

	gw.holdLists()
	if err := h.eng.Refresh(h.ctx()); err != nil {
		t.Fatal(err)
	}
	h.waitFor("loading", func(v View) bool { return v.Loading })

	gw.holdMutations()
	result := make(chan error, 1)
	go func() { result <- h.eng.Drop(h.ctx(), drop("T1", todo, inProgress, 0)) }()
	h.waitFor("in flight", func(v View) bool { return v.IsInFlight("T1") })

	gw.releaseLists()
	v := h.waitFor("load installed", func(v View) bool { return !v.Loading })
	if got := ids(v, inProgress); !reflect.DeepEqual(got, []string{"T2", "T1"}) {
		t.Errorf("InProgress after load = %v, want [T2 T1]", got)
	}
	if got := ids(v, todo); len(got) != 0 {
		t.Errorf("ToDo after load = %v, want empty", got)
	}

	gw.releaseMutations()
	if err := <-result; err != nil {
		t.Fatalf("Drop: %v", err)
	}
	v = h.waitFor("confirmation", func(v View) bool { return len(v.InFlight) == 0 })
	if got := ids(v, inProgress); !reflect.DeepEqual(got, []string{"T2", "T1"}) {
		t.Errorf("InProgress after confirm = %v, want [T2 T1]", got)
	}
	if got := ids(v, todo); len(got) != 0 {
		t.Errorf("ToDo after confirm = %v, want empty", got)
	}
}

func TestConfirmedMoveSurvivesStaleLoad(t *testing.T) {
	gw := boardGateway()
	h := startEngine(t, gw, DefaultConfig(ModeBoard, "p1"))
	h.waitLoaded()

	// The refresh reads the server before the move lands.
	gw.mu.Lock()
	gw.staleList = []models.Ticket{tk("T1", models.StatusUnstarted), tk("T2", models.StatusInProgress)}
	gw.mu.Unlock()
	gw.holdLists()
	if err := h.eng.Refresh(h.ctx()); err != nil {
		t.Fatal(err)
	}
	h.waitFor("loading", func(v View) bool { return v.Loading })

	if err := h.eng.Drop(h.ctx(), drop("T1", todo, inProgress, 0)); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	h.waitFor("confirmation", func(v View) bool { return len(v.InFlight) == 0 })

	gw.releaseLists()
	v := h.waitFor("load installed", func(v View) bool { return !v.Loading })
	if got := ids(v, inProgress); !reflect.DeepEqual(got, []string{"T2", "T1"}) {
		t.Errorf("InProgress = %v, want [T2 T1]", got)
	}
	if got := ids(v, todo); len(got) != 0 {
		t.Errorf("ToDo = %v, want empty", got)
	}
}

func TestFailedMoveDuringLoadEndsInServerState(t *testing.T) {
	gw := boardGateway()
	h := startEngine(t, gw, DefaultConfig(ModeBoard, "p1"))
	h.waitLoaded()

	gw.holdLists()
	if err := h.eng.Refresh(h.ctx()); err != nil {
		t.Fatal(err)
	}
	h.waitFor("loading", func(v View) bool { return v.Loading })

	gw.mu.Lock()
	gw.moveErr = errors.New("HTTP 500")
	gw.mu.Unlock()
	gw.holdMutations()
	result := make(chan error, 1)
	go func() { result <- h.eng.Drop(h.ctx(), drop("T1", todo, inProgress, 0)) }()
	h.waitFor("in flight", func(v View) bool { return v.IsInFlight("T1") })

	gw.releaseLists()
	h.waitFor("load installed", func(v View) bool { return !v.Loading })

	gw.releaseMutations()
	if err := <-result; err == nil {
		t.Fatal("Drop succeeded, want error")
	}
	v := h.waitFor("server state", func(v View) bool {
		return len(v.InFlight) == 0 && !v.Loading && bucketIs(todo, "T1")(v)
	})
	if got := ids(v, inProgress); !reflect.DeepEqual(got, []string{"T2"}) {
		t.Errorf("InProgress = %v, want [T2]", got)
	}
}

func TestRemoteUpdateWithoutTimestampApplies(t *testing.T) {
	t1 := tk("T1", models.StatusInReview)
	t1.UpdatedAt = time.Now().UTC()
	gw := &fakeGateway{tickets: []models.Ticket{t1}}
	h := startEngine(t, gw, DefaultConfig(ModeBoard, "p1"))
	h.waitLoaded()
	h.waitSubscribed()

	upd := tk("T1", models.StatusComplete)
	_ = h.bus.Publish(h.ctx(), channel.Event{Kind: events.KindTicketUpdated, ProjectID: "p1", Ticket: &upd})
	h.waitFor("untimestamped update", func(v View) bool {
		return bucketIs(done, "T1")(v) && bucketIs(inReview)(v)
	})
}

func TestTicketEventWithoutPayloadIgnored(t *testing.T) {
	gw := boardGateway()
	h := startEngine(t, gw, DefaultConfig(ModeBoard, "p1"))
	h.waitLoaded()
	h.waitSubscribed()

	_ = h.bus.Publish(h.ctx(), channel.Event{Kind: events.KindTicketUpdated, ProjectID: "p1", TicketID: "T1"})
	_ = h.bus.Publish(h.ctx(), channel.Event{Kind: events.KindTicketCreated, ProjectID: "p1"})
	marker := tk("M", models.StatusComplete)
	_ = h.bus.Publish(h.ctx(), channel.Event{Kind: events.KindTicketCreated, ProjectID: "p1", Ticket: &marker})

	v := h.waitFor("marker", bucketIs(done, "M"))
	if got := ids(v, todo); !reflect.DeepEqual(got, []string{"T1"}) {
		t.Errorf("ToDo = %v, want [T1]", got)
	}
}

func TestScopeChangeDiscardsLateResults(t *testing.T) {
	gw := boardGateway()
	p2 := tk("P2T", models.StatusUnstarted)
	p2.ProjectID = "p2"
	gw.tickets = append(gw.tickets, p2)
	gw.gate = make(chan struct{})
	h := startEngine(t, gw, DefaultConfig(ModeBoard, "p1"))
	h.waitLoaded()

	result := make(chan error, 1)
	go func() { result <- h.eng.Drop(h.ctx(), drop("T1", todo, done, 0)) }()
	h.waitFor("in flight", func(v View) bool { return v.IsInFlight("T1") })

	if err := h.eng.SetScope(h.ctx(), "p2", ""); err != nil {
		t.Fatal(err)
	}
	v := h.waitFor("new scope", func(v View) bool { return v.ProjectID == "p2" && v.Loaded && !v.Loading })
	close(gw.gate)
	if err := <-result; err != nil {
		t.Fatalf("Drop: %v", err)
	}

	after, _ := h.eng.Snapshot(h.ctx())
	if after.Generation != v.Generation || len(after.InFlight) != 0 {
		t.Errorf("late result touched new scope: %+v", after)
	}
	if got := ids(after, todo); !reflect.DeepEqual(got, []string{"P2T"}) {
		t.Errorf("ToDo = %v, want [P2T]", got)
	}
	if got := ids(after, done); len(got) != 0 {
		t.Errorf("Done = %v, want empty", got)
	}
}

func TestDropBeforeLoadRefused(t *testing.T) {
	gw := boardGateway()
	gw.listGate = make(chan struct{})
	h := startEngine(t, gw, DefaultConfig(ModeBoard, "p1"))
	defer close(gw.listGate)

	err := h.eng.Drop(h.ctx(), drop("T1", todo, done, 0))
	if !errors.Is(err, ErrNotLoaded) {
		t.Errorf("err = %v, want ErrNotLoaded", err)
	}
}

func TestBoardSprintScope(t *testing.T) {
	a := tk("a", models.StatusUnstarted)
	a.SprintID = models.StringPtr("s1")
	b := tk("b", models.StatusUnstarted)
	gw := &fakeGateway{tickets: []models.Ticket{a, b}}
	cfg := DefaultConfig(ModeBoard, "p1")
	cfg.SprintID = "s1"
	h := startEngine(t, gw, cfg)
	h.waitSubscribed()
	h.waitFor("load", bucketIs(todo, "a"))

	// a leaves the sprint: it leaves the board.
	moved := a.Clone()
	moved.SprintID = nil
	_ = h.bus.Publish(h.ctx(), channel.Event{Kind: events.KindTicketUpdated, Ticket: &moved})
	h.waitFor("ticket left sprint", bucketIs(todo))
}

func TestStopEndsPendingCalls(t *testing.T) {
	gw := boardGateway()
	eng := New(gw, nil, Config{Mode: ModeBoard, ProjectID: "p1", Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)
	cancel()
	<-eng.Done()

	if _, err := eng.Snapshot(context.Background()); !errors.Is(err, ErrStopped) && err != nil {
		t.Errorf("Snapshot after stop: %v", err)
	}
	if err := eng.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run = %v", err)
	}
}
