// Package channel delivers ticket lifecycle events for a project or user
// scope. Payloads are decoded into a tagged union at the boundary; malformed
// events never reach subscribers.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/marcus/boardsync/internal/events"
	"github.com/marcus/boardsync/internal/models"
)

// ErrInvalidEvent is wrapped by every decode or validation failure.
var ErrInvalidEvent = errors.New("invalid event")

// Scope selects which events a subscription receives. Exactly one of
// ProjectID and UserID is set.
type Scope struct {
	ProjectID string
	UserID    string
}

// ProjectScope returns the scope of a project room (join_project).
func ProjectScope(id string) Scope { return Scope{ProjectID: id} }

// UserScope returns the scope of a user room (join_user).
func UserScope(id string) Scope { return Scope{UserID: id} }

// Validate checks that exactly one scope field is set.
func (s Scope) Validate() error {
	switch {
	case s.ProjectID != "" && s.UserID != "":
		return errors.New("scope: both project and user set")
	case s.ProjectID == "" && s.UserID == "":
		return errors.New("scope: empty")
	}
	return nil
}

// Room returns the broadcast room name, "project:<id>" or "user:<id>".
func (s Scope) Room() string {
	if s.UserID != "" {
		return "user:" + s.UserID
	}
	return "project:" + s.ProjectID
}

func (s Scope) String() string { return s.Room() }

// Event is one decoded channel message. Kind selects which payload field is
// set: Ticket for ticket_created/ticket_updated, TicketID for ticket_deleted,
// Comment for comment_created, Notification for notification. A resync event
// carries no payload.
type Event struct {
	Kind         events.Kind
	ProjectID    string
	UserID       string
	Ticket       *models.Ticket
	TicketID     string
	Comment      *models.Comment
	Notification *models.Notification
}

// Resync returns the local marker a transport emits after reconnecting.
func Resync() Event { return Event{Kind: events.KindResync} }

// Matches reports whether e belongs to scope s. A user scope receives only
// events addressed to that user. A project scope receives the project's
// events and events that carry no routing at all.
func (e Event) Matches(s Scope) bool {
	if e.Kind == events.KindResync {
		return true
	}
	if s.UserID != "" {
		return e.UserID == s.UserID
	}
	if e.ProjectID == "" {
		return e.UserID == ""
	}
	return e.ProjectID == s.ProjectID
}

type deletedPayload struct {
	ID string `json:"_id"`
}

// Decode parses a wire event. kind may use any spelling events.NormalizeKind
// accepts. The returned event has ProjectID taken from the payload when the
// payload carries one.
func Decode(kind string, data []byte) (Event, error) {
	k, ok := events.NormalizeKind(kind)
	if !ok {
		return Event{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, kind)
	}
	ev := Event{Kind: k}

	switch k {
	case events.KindTicketCreated, events.KindTicketUpdated:
		var t models.Ticket
		if err := json.Unmarshal(data, &t); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, k, err)
		}
		if err := t.Validate(); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, k, err)
		}
		ev.Ticket = &t
		ev.TicketID = t.ID
		ev.ProjectID = t.ProjectID

	case events.KindTicketDeleted:
		var p deletedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, k, err)
		}
		if p.ID == "" {
			return Event{}, fmt.Errorf("%w: %s: missing _id", ErrInvalidEvent, k)
		}
		ev.TicketID = p.ID

	case events.KindCommentCreated:
		var c models.Comment
		if err := json.Unmarshal(data, &c); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, k, err)
		}
		if c.TicketID == "" {
			return Event{}, fmt.Errorf("%w: %s: missing ticketId", ErrInvalidEvent, k)
		}
		ev.Comment = &c
		ev.TicketID = c.TicketID

	case events.KindNotification:
		var n models.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, k, err)
		}
		ev.Notification = &n
		ev.UserID = n.UserID
	}
	return ev, nil
}

// Encode returns the wire kind and JSON payload of e.
func Encode(e Event) (events.Kind, json.RawMessage, error) {
	var v any
	switch e.Kind {
	case events.KindTicketCreated, events.KindTicketUpdated:
		if e.Ticket == nil {
			return "", nil, fmt.Errorf("%w: %s without ticket", ErrInvalidEvent, e.Kind)
		}
		v = e.Ticket
	case events.KindTicketDeleted:
		if e.TicketID == "" {
			return "", nil, fmt.Errorf("%w: %s without id", ErrInvalidEvent, e.Kind)
		}
		v = deletedPayload{ID: e.TicketID}
	case events.KindCommentCreated:
		if e.Comment == nil {
			return "", nil, fmt.Errorf("%w: %s without comment", ErrInvalidEvent, e.Kind)
		}
		v = e.Comment
	case events.KindNotification:
		if e.Notification == nil {
			return "", nil, fmt.Errorf("%w: %s without notification", ErrInvalidEvent, e.Kind)
		}
		v = e.Notification
	default:
		return "", nil, fmt.Errorf("%w: kind %q is not sent on the wire", ErrInvalidEvent, e.Kind)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", e.Kind, err)
	}
	return e.Kind, data, nil
}

// Subscriber opens event subscriptions.
//
// Subscribe returns a channel of events for scope. The channel is closed
// when ctx is done or the subscription ends for good. Transports that
// reconnect send Resync() after each reconnect.
type Subscriber interface {
	Subscribe(ctx context.Context, scope Scope) (<-chan Event, error)
}

// Publisher sends events to subscribers of their scope.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// send delivers e on out unless ctx is done first.
func send(ctx context.Context, out chan<- Event, e Event) bool {
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}
