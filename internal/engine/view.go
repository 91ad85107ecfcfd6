package engine

import (
	"time"

	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/partition"
)

// Mode selects how tickets are bucketed.
type Mode int

const (
	// ModeBoard buckets tickets by workflow status.
	ModeBoard Mode = iota
	// ModePlanner buckets tickets by sprint, with a backlog bucket.
	ModePlanner
)

func (m Mode) String() string {
	if m == ModePlanner {
		return "planner"
	}
	return "board"
}

// Location is a position within a bucket.
type Location struct {
	Key   partition.Key
	Index int
}

// Drop is the end of a drag gesture. A nil Dest means the card was released
// outside any bucket.
type Drop struct {
	TicketID string
	Source   Location
	Dest     *Location
}

// View is a read-only copy of the engine state for rendering.
type View struct {
	Mode        Mode
	ProjectID   string
	SprintID    string
	Buckets     []partition.Bucket
	Sprints     []models.Sprint
	Query       string
	DragEnabled bool
	InFlight    []string
	Loading     bool
	Loaded      bool
	Generation  uint64
}

// Bucket returns the view's bucket with key k.
func (v View) Bucket(k partition.Key) (partition.Bucket, bool) {
	for _, b := range v.Buckets {
		if b.Key == k {
			return b, true
		}
	}
	return partition.Bucket{}, false
}

// Sprint returns the sprint with the given id.
func (v View) Sprint(id string) (models.Sprint, bool) {
	for _, s := range v.Sprints {
		if s.ID == id {
			return s, true
		}
	}
	return models.Sprint{}, false
}

// ReadOnly reports whether drops onto bucket k are refused. Only completed
// sprint buckets are read-only.
func (v View) ReadOnly(k partition.Key) bool {
	if v.Mode != ModePlanner || k == partition.Backlog {
		return false
	}
	s, ok := v.Sprint(string(k))
	return ok && s.Status == models.SprintCompleted
}

// Title returns the display name of bucket k.
func (v View) Title(k partition.Key) string {
	if v.Mode == ModeBoard {
		return string(k)
	}
	if k == partition.Backlog {
		return "Backlog"
	}
	if s, ok := v.Sprint(string(k)); ok {
		return s.Name
	}
	return string(k)
}

// IsInFlight reports whether a move of ticket id awaits the server.
func (v View) IsInFlight(id string) bool {
	for _, x := range v.InFlight {
		if x == id {
			return true
		}
	}
	return false
}

// Level is the severity of a notice.
type Level int

const (
	LevelInfo Level = iota
	LevelError
)

// Notice is a short user-visible message. Err holds the underlying cause for
// logging and is not meant for display.
type Notice struct {
	Level   Level
	Message string
	Err     error
	At      time.Time
}
