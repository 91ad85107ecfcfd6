package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status represents a ticket's workflow status
type Status string

const (
	StatusUnstarted  Status = "To Do"
	StatusInProgress Status = "In Progress"
	StatusInReview   Status = "In Review"
	StatusComplete   Status = "Done"
)

// Statuses lists the workflow statuses in board column order.
var Statuses = []Status{StatusUnstarted, StatusInProgress, StatusInReview, StatusComplete}

// Priority represents ticket priority
type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium" // default
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// Type represents ticket type
type Type string

const (
	TypeTask  Type = "Task"
	TypeBug   Type = "Bug"
	TypeStory Type = "Story"
)

// SprintStatus represents a sprint's lifecycle status
type SprintStatus string

const (
	SprintPlanned   SprintStatus = "PLANNED"
	SprintActive    SprintStatus = "ACTIVE"
	SprintCompleted SprintStatus = "COMPLETED"
)

// ErrInvalid is wrapped by every validation failure in this package.
var ErrInvalid = errors.New("invalid")

// User is a lightweight reference to a project member.
type User struct {
	ID    string `json:"_id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Ticket is a unit of work on a project board.
// SprintID nil means the ticket is unscheduled (in the backlog).
type Ticket struct {
	ID          string    `json:"_id"`
	Key         string    `json:"key,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	Type        Type      `json:"type,omitempty"`
	ProjectID   string    `json:"projectId,omitempty"`
	SprintID    *string   `json:"sprintId"`
	Assignee    *User     `json:"assignee,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}

// Sprint is a time-boxed iteration. Tickets reference sprints by id.
type Sprint struct {
	ID        string       `json:"_id"`
	ProjectID string       `json:"projectId,omitempty"`
	Name      string       `json:"name"`
	StartDate time.Time    `json:"startDate"`
	EndDate   time.Time    `json:"endDate"`
	Status    SprintStatus `json:"status"`
	Goal      string       `json:"goal,omitempty"`
}

// Comment is a ticket comment as delivered by the event channel.
type Comment struct {
	ID        string    `json:"_id"`
	TicketID  string    `json:"ticketId"`
	Author    *User     `json:"author,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Notification is a per-user notice as delivered by the event channel.
type Notification struct {
	ID        string    `json:"_id"`
	UserID    string    `json:"userId,omitempty"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Project is the scope that owns tickets and sprints.
type Project struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	Key  string `json:"key,omitempty"`
}

// IsValidStatus checks if a status is valid
func IsValidStatus(s Status) bool {
	switch s {
	case StatusUnstarted, StatusInProgress, StatusInReview, StatusComplete:
		return true
	}
	return false
}

// IsValidPriority checks if a priority is valid
func IsValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// IsValidType checks if a type is valid
func IsValidType(t Type) bool {
	switch t {
	case TypeTask, TypeBug, TypeStory:
		return true
	}
	return false
}

// IsValidSprintStatus checks if a sprint status is valid
func IsValidSprintStatus(s SprintStatus) bool {
	switch s {
	case SprintPlanned, SprintActive, SprintCompleted:
		return true
	}
	return false
}

// ParseStatus converts user input to a Status.
// Accepts the wire values plus "todo", "unstarted", "in_progress", "review", "done", "complete".
func ParseStatus(s string) (Status, error) {
	if IsValidStatus(Status(s)) {
		return Status(s), nil
	}
	switch strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)) {
	case "todo", "unstarted", "open":
		return StatusUnstarted, nil
	case "inprogress", "started":
		return StatusInProgress, nil
	case "inreview", "review":
		return StatusInReview, nil
	case "done", "complete", "completed", "closed":
		return StatusComplete, nil
	}
	return "", fmt.Errorf("%w status %q", ErrInvalid, s)
}

// ParsePriority converts user input to a Priority (case-insensitive).
func ParsePriority(s string) (Priority, error) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical} {
		if strings.EqualFold(string(p), s) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w priority %q", ErrInvalid, s)
}

// ParseType converts user input to a Type (case-insensitive).
func ParseType(s string) (Type, error) {
	for _, t := range []Type{TypeTask, TypeBug, TypeStory} {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w type %q", ErrInvalid, s)
}

// ParseSprintStatus converts user input to a SprintStatus (case-insensitive).
func ParseSprintStatus(s string) (SprintStatus, error) {
	st := SprintStatus(strings.ToUpper(s))
	if !IsValidSprintStatus(st) {
		return "", fmt.Errorf("%w sprint status %q", ErrInvalid, s)
	}
	return st, nil
}

// Rank orders priorities from Low (0) to Critical (3); unknown values rank as Medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	default:
		return 1
	}
}

// CanTransition reports whether a sprint may move from s to next.
// Sprints only move forward one step: PLANNED -> ACTIVE -> COMPLETED.
func (s SprintStatus) CanTransition(next SprintStatus) bool {
	switch s {
	case SprintPlanned:
		return next == SprintActive
	case SprintActive:
		return next == SprintCompleted
	}
	return false
}

// Validate checks the fields required for a ticket to be placed on a board.
func (t *Ticket) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w ticket: missing id", ErrInvalid)
	}
	if !IsValidStatus(t.Status) {
		return fmt.Errorf("%w ticket %s: status %q", ErrInvalid, t.ID, t.Status)
	}
	if t.Priority != "" && !IsValidPriority(t.Priority) {
		return fmt.Errorf("%w ticket %s: priority %q", ErrInvalid, t.ID, t.Priority)
	}
	if t.Type != "" && !IsValidType(t.Type) {
		return fmt.Errorf("%w ticket %s: type %q", ErrInvalid, t.ID, t.Type)
	}
	if t.SprintID != nil && *t.SprintID == "" {
		t.SprintID = nil
	}
	return nil
}

// Validate checks sprint identity, status and date range.
func (s *Sprint) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w sprint: missing id", ErrInvalid)
	}
	if !IsValidSprintStatus(s.Status) {
		return fmt.Errorf("%w sprint %s: status %q", ErrInvalid, s.ID, s.Status)
	}
	if !s.StartDate.IsZero() && !s.EndDate.IsZero() && s.EndDate.Before(s.StartDate) {
		return fmt.Errorf("%w sprint %s: ends before it starts", ErrInvalid, s.ID)
	}
	return nil
}

// InSprint reports whether the ticket is assigned to the given sprint.
func (t *Ticket) InSprint(sprintID string) bool {
	return t.SprintID != nil && *t.SprintID == sprintID
}

// AssigneeName returns the assignee's display name, or "" if unassigned.
func (t *Ticket) AssigneeName() string {
	if t.Assignee == nil {
		return ""
	}
	return t.Assignee.Name
}

// ShortID returns the human key when present, otherwise the last four characters of the id.
func (t *Ticket) ShortID() string {
	if t.Key != "" {
		return t.Key
	}
	if len(t.ID) <= 4 {
		return t.ID
	}
	return t.ID[len(t.ID)-4:]
}

// Clone returns a deep copy of the ticket.
func (t Ticket) Clone() Ticket {
	if t.SprintID != nil {
		id := *t.SprintID
		t.SprintID = &id
	}
	if t.Assignee != nil {
		a := *t.Assignee
		t.Assignee = &a
	}
	return t
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
