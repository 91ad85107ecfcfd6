// Package engine reconciles a locally manipulated board or planner with the
// server. A single goroutine owns the partition: user drops mutate it
// optimistically, gateway calls confirm or reject them, and channel events
// are merged in as they arrive. Any failure is repaired by a full refetch.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/marcus/boardsync/internal/channel"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/partition"
)

// Errors reported to callers of Drop, Move and the sprint operations.
var (
	ErrStopped        = errors.New("engine stopped")
	ErrNotLoaded      = errors.New("board not loaded")
	ErrDragDisabled   = errors.New("drag disabled while searching")
	ErrReadOnly       = errors.New("bucket is read-only")
	ErrUnknownSprint  = errors.New("unknown sprint")
	ErrInvalidChange  = errors.New("invalid sprint transition")
	ErrAlreadyRunning = errors.New("engine already running")
)

// Notice messages.
const (
	msgMoveFailed     = "Failed to move ticket"
	msgLoadFailed     = "Failed to load board"
	msgPlanFailed     = "Failed to load backlog"
	msgStartFailed    = "Failed to start sprint"
	msgCompleteFailed = "Failed to complete sprint"
)

// Gateway is the subset of the remote data gateway the engine uses.
type Gateway interface {
	ListTickets(ctx context.Context, projectID, sprintID string) ([]models.Ticket, error)
	ListSprints(ctx context.Context, projectID string) ([]models.Sprint, error)
	UpdateTicketStatus(ctx context.Context, id string, status models.Status) (*models.Ticket, error)
	UpdateTicketSprint(ctx context.Context, id string, sprintID *string) (*models.Ticket, error)
	UpdateSprintStatus(ctx context.Context, id string, status models.SprintStatus) (*models.Sprint, error)
	CompleteSprint(ctx context.Context, id string) (*models.Sprint, error)
}

// Config configures an Engine.
type Config struct {
	Mode      Mode
	ProjectID string
	// SprintID narrows a board to one sprint. Ignored by the planner.
	SprintID string
	// RefreshOnConfirm refetches everything after each confirmed move.
	RefreshOnConfirm bool
	// RefreshInterval enables a periodic full refetch when positive.
	RefreshInterval time.Duration
	// InboxSize bounds the number of queued messages. Defaults to 64.
	InboxSize int
	Logger    *slog.Logger
}

// DefaultConfig returns the configuration used for mode: planners refresh
// after every confirmed move, boards do not.
func DefaultConfig(mode Mode, projectID string) Config {
	return Config{
		Mode:             mode,
		ProjectID:        projectID,
		RefreshOnConfirm: mode == ModePlanner,
	}
}

// Engine is the drag-reconciliation engine. Its exported methods are safe
// for concurrent use; all state is owned by the goroutine running Run.
type Engine struct {
	cfg     Config
	gw      Gateway
	sub     channel.Subscriber
	log     *slog.Logger
	inbox   chan any
	changes chan struct{}
	notices chan Notice
	done    chan struct{}
	running atomic.Bool

	// Owned by the Run goroutine.
	ctx        context.Context
	part       *partition.Partition
	sprints    []models.Sprint
	query      string
	gen        uint64
	loadSeq    uint64
	loading    bool
	loaded     bool
	pending    []channel.Event
	inflight   map[string]*inflightMove
	events     <-chan channel.Event
	stopEvents context.CancelFunc
}

// New creates an engine. sub may be nil, in which case only local moves and
// refetches update the partition.
func New(gw Gateway, sub channel.Subscriber, cfg Config) *Engine {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 64
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		gw:       gw,
		sub:      sub,
		log:      logger.With("component", "engine", "mode", cfg.Mode.String()),
		inbox:    make(chan any, cfg.InboxSize),
		changes:  make(chan struct{}, 1),
		notices:  make(chan Notice, 16),
		done:     make(chan struct{}),
		part:     newPartition(cfg.Mode, nil),
		inflight: make(map[string]*inflightMove),
	}
}

// inflightMove tracks unconfirmed moves of one ticket. to is the bucket of
// the most recent one; a load installed before confirmation puts the ticket
// back there.
type inflightMove struct {
	n  int
	to partition.Key
}

func newPartition(mode Mode, sprints []models.Sprint) *partition.Partition {
	if mode == ModePlanner {
		return partition.NewPlanner(sprints)
	}
	return partition.NewBoard()
}

// Changes delivers a value whenever the view may have changed. Notifications
// coalesce: a slow reader sees one pending value, not one per change.
func (e *Engine) Changes() <-chan struct{} { return e.changes }

// Notices delivers user-visible notices. Notices are dropped when the
// reader falls behind.
func (e *Engine) Notices() <-chan Notice { return e.notices }

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Run processes messages until ctx is done. It subscribes to the event
// channel and issues the initial load.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.done)
	e.ctx = ctx

	if err := e.subscribe(); err != nil {
		return err
	}
	defer func() {
		if e.stopEvents != nil {
			e.stopEvents()
		}
	}()
	e.startLoad()

	var tick <-chan time.Time
	if e.cfg.RefreshInterval > 0 {
		t := time.NewTicker(e.cfg.RefreshInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			e.log.Debug("engine stopped", "reason", ctx.Err())
			return nil
		case m := <-e.inbox:
			e.handle(m)
		case ev, ok := <-e.events:
			if !ok {
				e.log.Warn("event channel closed; live updates stopped")
				e.events = nil
				continue
			}
			e.applyEvent(ev)
		case <-tick:
			e.log.Debug("periodic refresh")
			e.startLoad()
		}
	}
}

func (e *Engine) subscribe() error {
	if e.stopEvents != nil {
		e.stopEvents()
		e.stopEvents = nil
		e.events = nil
	}
	if e.sub == nil || e.cfg.ProjectID == "" {
		return nil
	}
	ctx, cancel := context.WithCancel(e.ctx)
	ch, err := e.sub.Subscribe(ctx, channel.ProjectScope(e.cfg.ProjectID))
	if err != nil {
		cancel()
		return err
	}
	e.events = ch
	e.stopEvents = cancel
	return nil
}

// --- Requests ---

type dropMsg struct {
	drop  Drop
	reply chan error
}

type moveMsg struct {
	id    string
	to    partition.Key
	reply chan error
}

type queryMsg struct{ query string }

type refreshMsg struct{}

type scopeMsg struct {
	projectID string
	sprintID  string
}

type sprintMsg struct {
	id    string
	to    models.SprintStatus
	reply chan error
}

type snapshotMsg struct{ reply chan View }

// --- Results posted by gateway goroutines ---

type loadedMsg struct {
	gen     uint64
	seq     uint64
	tickets []models.Ticket
	sprints []models.Sprint
	err     error
}

type movedMsg struct {
	gen    uint64
	id     string
	ticket *models.Ticket
	err    error
	reply  chan error
}

type sprintDoneMsg struct {
	gen   uint64
	id    string
	to    models.SprintStatus
	err   error
	reply chan error
}

// post queues m for the loop, giving up if ctx ends or the engine stops.
func (e *Engine) post(ctx context.Context, m any) error {
	select {
	case e.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// await waits for a reply to a posted request.
func (e *Engine) await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// Drop applies the end of a drag gesture. The partition changes before the
// server is contacted; Drop returns once the server confirmed or rejected the
// move. A rejected move is rolled back by a full refetch.
func (e *Engine) Drop(ctx context.Context, d Drop) error {
	reply := make(chan error, 1)
	if err := e.post(ctx, dropMsg{drop: d, reply: reply}); err != nil {
		return err
	}
	return e.await(ctx, reply)
}

// Move moves ticket id to the end of bucket to, as a drop would.
func (e *Engine) Move(ctx context.Context, id string, to partition.Key) error {
	reply := make(chan error, 1)
	if err := e.post(ctx, moveMsg{id: id, to: to, reply: reply}); err != nil {
		return err
	}
	return e.await(ctx, reply)
}

// SetQuery sets the search query. Drops are refused while it is non-blank.
func (e *Engine) SetQuery(ctx context.Context, q string) error {
	return e.post(ctx, queryMsg{query: q})
}

// Refresh requests a full refetch.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.post(ctx, refreshMsg{})
}

// SetScope switches to another project or sprint. The partition is
// discarded and results for the previous scope are ignored.
func (e *Engine) SetScope(ctx context.Context, projectID, sprintID string) error {
	return e.post(ctx, scopeMsg{projectID: projectID, sprintID: sprintID})
}

// StartSprint moves a planned sprint to active and refetches.
func (e *Engine) StartSprint(ctx context.Context, id string) error {
	return e.changeSprint(ctx, id, models.SprintActive)
}

// CompleteSprint completes an active sprint and refetches. The server moves
// the sprint's unfinished tickets to the backlog.
func (e *Engine) CompleteSprint(ctx context.Context, id string) error {
	return e.changeSprint(ctx, id, models.SprintCompleted)
}

func (e *Engine) changeSprint(ctx context.Context, id string, to models.SprintStatus) error {
	reply := make(chan error, 1)
	if err := e.post(ctx, sprintMsg{id: id, to: to, reply: reply}); err != nil {
		return err
	}
	return e.await(ctx, reply)
}

// Snapshot returns the current view.
func (e *Engine) Snapshot(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := e.post(ctx, snapshotMsg{reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-e.done:
		return View{}, ErrStopped
	}
}
