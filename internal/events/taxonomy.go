package events

import "strings"

// EntityType represents the entity an event carries.
type EntityType string

// ActionType represents what happened to the entity.
type ActionType string

// Kind is the canonical event name used on the wire: SSE event names and
// Pub/Sub "event" attributes.
type Kind string

// Canonical entity types
const (
	EntityTickets       EntityType = "tickets"
	EntityComments      EntityType = "comments"
	EntityNotifications EntityType = "notifications"
)

// Canonical action types
const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
)

// Canonical event kinds
const (
	KindTicketCreated  Kind = "ticket_created"
	KindTicketUpdated  Kind = "ticket_updated"
	KindTicketDeleted  Kind = "ticket_deleted"
	KindCommentCreated Kind = "comment_created"
	KindNotification   Kind = "notification"

	// KindResync is never sent by a server. Transports emit it locally after
	// a reconnect, when events may have been missed.
	KindResync Kind = "resync"
)

// AllKinds returns all kinds that may appear on the wire.
func AllKinds() map[Kind]bool {
	return map[Kind]bool{
		KindTicketCreated:  true,
		KindTicketUpdated:  true,
		KindTicketDeleted:  true,
		KindCommentCreated: true,
		KindNotification:   true,
	}
}

// IsValidKind checks if the given kind string is a canonical wire kind.
func IsValidKind(k string) bool {
	return AllKinds()[Kind(k)]
}

// NormalizeKind maps an event name to its canonical kind. It accepts the
// canonical snake_case form plus dotted ("ticket.updated") and camelCase
// ("ticketUpdated") spellings in any letter case. Returns "" and false for
// unknown names.
func NormalizeKind(name string) (Kind, bool) {
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, "-", "_")
	if !strings.Contains(s, "_") {
		s = snake(s)
	}
	switch strings.ToLower(s) {
	case "ticket_created", "tickets_create", "ticket_create":
		return KindTicketCreated, true
	case "ticket_updated", "tickets_update", "ticket_update":
		return KindTicketUpdated, true
	case "ticket_deleted", "tickets_delete", "ticket_delete":
		return KindTicketDeleted, true
	case "comment_created", "comments_create", "comment_create":
		return KindCommentCreated, true
	case "notification", "notifications", "notification_created":
		return KindNotification, true
	default:
		return "", false
	}
}

// snake inserts underscores before interior upper-case letters.
func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Entity returns the entity type carried by events of kind k.
func (k Kind) Entity() EntityType {
	switch k {
	case KindTicketCreated, KindTicketUpdated, KindTicketDeleted:
		return EntityTickets
	case KindCommentCreated:
		return EntityComments
	case KindNotification:
		return EntityNotifications
	}
	return ""
}

// Action returns the action represented by kind k.
func (k Kind) Action() ActionType {
	switch k {
	case KindTicketCreated, KindCommentCreated, KindNotification:
		return ActionCreate
	case KindTicketUpdated:
		return ActionUpdate
	case KindTicketDeleted:
		return ActionDelete
	}
	return ""
}

// KindFor returns the wire kind for an entity and action.
func KindFor(entity EntityType, action ActionType) (Kind, bool) {
	for k := range AllKinds() {
		if k.Entity() == entity && k.Action() == action {
			return k, true
		}
	}
	return "", false
}

// ValidEntityActionCombinations defines which actions are broadcast for each entity.
func ValidEntityActionCombinations() map[EntityType]map[ActionType]bool {
	return map[EntityType]map[ActionType]bool{
		EntityTickets: {
			ActionCreate: true,
			ActionUpdate: true,
			ActionDelete: true,
		},
		EntityComments: {
			ActionCreate: true,
		},
		EntityNotifications: {
			ActionCreate: true,
		},
	}
}

// IsValidEntityActionCombination checks if an entity type can have the given action type.
func IsValidEntityActionCombination(entityType EntityType, actionType ActionType) bool {
	actions, ok := ValidEntityActionCombinations()[entityType]
	if !ok {
		return false
	}
	return actions[actionType]
}
