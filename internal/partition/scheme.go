package partition

import "github.com/marcus/boardsync/internal/models"

// StatusScheme buckets tickets by workflow status (board columns).
type StatusScheme struct{}

func (StatusScheme) Key(t *models.Ticket) Key { return Key(t.Status) }

func (StatusScheme) Apply(t *models.Ticket, k Key) { t.Status = models.Status(k) }

// SprintScheme buckets tickets by sprint assignment, with Backlog for
// unscheduled tickets (planner buckets).
type SprintScheme struct{}

func (SprintScheme) Key(t *models.Ticket) Key {
	if t.SprintID == nil {
		return Backlog
	}
	return Key(*t.SprintID)
}

func (SprintScheme) Apply(t *models.Ticket, k Key) {
	if k == Backlog {
		t.SprintID = nil
		return
	}
	id := string(k)
	t.SprintID = &id
}

// StatusKeys returns the board column keys in workflow order.
func StatusKeys() []Key {
	keys := make([]Key, len(models.Statuses))
	for i, s := range models.Statuses {
		keys[i] = Key(s)
	}
	return keys
}

// SprintKeys returns planner bucket keys: open sprints in the given order,
// then Backlog, then completed sprints.
func SprintKeys(sprints []models.Sprint) []Key {
	keys := make([]Key, 0, len(sprints)+1)
	var done []Key
	for _, s := range sprints {
		if s.Status == models.SprintCompleted {
			done = append(done, Key(s.ID))
			continue
		}
		keys = append(keys, Key(s.ID))
	}
	keys = append(keys, Backlog)
	return append(keys, done...)
}

// NewBoard returns an empty partition with one bucket per workflow status.
func NewBoard() *Partition {
	return New(StatusScheme{}, StatusKeys()...)
}

// NewPlanner returns an empty partition with one bucket per sprint plus Backlog.
func NewPlanner(sprints []models.Sprint) *Partition {
	return New(SprintScheme{}, SprintKeys(sprints)...)
}
