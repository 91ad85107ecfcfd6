package serverdb

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/marcus/boardsync/internal/models"
)

const ticketColumns = `id, project_id, key, title, description, status, priority, type, sprint_id,
	assignee_id, assignee_name, assignee_email, created_at, updated_at`

func scanTicket(row scanner) (*models.Ticket, error) {
	var (
		t                    models.Ticket
		sprintID             sql.NullString
		aID, aName, aEmail   string
		createdAt, updatedAt string
	)
	err := row.Scan(&t.ID, &t.ProjectID, &t.Key, &t.Title, &t.Description, &t.Status, &t.Priority, &t.Type,
		&sprintID, &aID, &aName, &aEmail, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if sprintID.Valid {
		t.SprintID = models.StringPtr(sprintID.String)
	}
	if aID != "" || aName != "" {
		t.Assignee = &models.User{ID: aID, Name: aName, Email: aEmail}
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func assigneeColumns(u *models.User) (string, string, string) {
	if u == nil {
		return "", "", ""
	}
	return u.ID, u.Name, u.Email
}

func nullSprint(id *string) any {
	if id == nil {
		return nil
	}
	return *id
}

// TicketPatch lists the fields to change on a ticket. Nil fields are left
// alone. SetSprint distinguishes "move to backlog" (SprintID nil) from
// "leave the sprint unchanged"; the same goes for SetAssignee.
type TicketPatch struct {
	Title       *string
	Description *string
	Status      *models.Status
	Priority    *models.Priority
	Type        *models.Type
	SetSprint   bool
	SprintID    *string
	SetAssignee bool
	Assignee    *models.User
}

// CreateTicket inserts a ticket at the end of its project's order. Missing
// status, priority and type take their defaults, and the ticket gets the next
// human key of its project unless it already has one.
func (db *ServerDB) CreateTicket(t models.Ticket) (*models.Ticket, error) {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return nil, fmt.Errorf("%w ticket: title is required", models.ErrInvalid)
	}
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.Status == "" {
		t.Status = models.StatusUnstarted
	}
	if t.Priority == "" {
		t.Priority = models.PriorityMedium
	}
	if t.Type == "" {
		t.Type = models.TypeTask
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		projectKey string
		seq        int
	)
	err = tx.QueryRow(`SELECT key, ticket_seq FROM projects WHERE id = ?`, t.ProjectID).Scan(&projectKey, &seq)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", t.ProjectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	if err := checkSprint(tx, t.ProjectID, t.SprintID); err != nil {
		return nil, err
	}

	if t.Key == "" {
		seq++
		t.Key = fmt.Sprintf("%s-%d", projectKey, seq)
		if _, err := tx.Exec(`UPDATE projects SET ticket_seq = ? WHERE id = ?`, seq, t.ProjectID); err != nil {
			return nil, fmt.Errorf("bump ticket counter: %w", err)
		}
	}

	ts := now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = ts
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	aID, aName, aEmail := assigneeColumns(t.Assignee)
	_, err = tx.Exec(
		`INSERT INTO tickets (`+ticketColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Key, t.Title, t.Description, t.Status, t.Priority, t.Type, nullSprint(t.SprintID),
		aID, aName, aEmail, formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert ticket: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &t, nil
}

// GetTicket returns a ticket by ID, or nil if it does not exist.
func (db *ServerDB) GetTicket(id string) (*models.Ticket, error) {
	t, err := scanTicket(db.conn.QueryRow(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// ListTickets returns a project's tickets in creation order. A non-empty
// sprintID narrows the result to that sprint.
func (db *ServerDB) ListTickets(projectID, sprintID string) ([]models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE project_id = ?`
	args := []any{projectID}
	if sprintID != "" {
		query += ` AND sprint_id = ?`
		args = append(args, sprintID)
	}
	query += ` ORDER BY seq`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	tickets := []models.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tickets: iterate: %w", err)
	}
	return tickets, nil
}

// UpdateTicket applies patch and bumps the ticket's UpdatedAt.
func (db *ServerDB) UpdateTicket(id string, patch TicketPatch) (*models.Ticket, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := scanTicket(tx.QueryRow(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("ticket %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, fmt.Errorf("%w ticket %s: title is required", models.ErrInvalid, id)
		}
		t.Title = title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.Type != nil {
		t.Type = *patch.Type
	}
	if patch.SetAssignee {
		t.Assignee = patch.Assignee
	}
	if patch.SetSprint {
		t.SprintID = patch.SprintID
		if err := checkSprint(tx, t.ProjectID, t.SprintID); err != nil {
			return nil, err
		}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	t.UpdatedAt = now()
	aID, aName, aEmail := assigneeColumns(t.Assignee)
	_, err = tx.Exec(`
		UPDATE tickets SET title = ?, description = ?, status = ?, priority = ?, type = ?, sprint_id = ?,
			assignee_id = ?, assignee_name = ?, assignee_email = ?, updated_at = ?
		WHERE id = ?`,
		t.Title, t.Description, t.Status, t.Priority, t.Type, nullSprint(t.SprintID),
		aID, aName, aEmail, formatTime(t.UpdatedAt), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update ticket: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

// UpdateTicketStatus sets a ticket's workflow status.
func (db *ServerDB) UpdateTicketStatus(id string, status models.Status) (*models.Ticket, error) {
	return db.UpdateTicket(id, TicketPatch{Status: &status})
}

// UpdateTicketSprint assigns a ticket to a sprint, or to the backlog when
// sprintID is nil.
func (db *ServerDB) UpdateTicketSprint(id string, sprintID *string) (*models.Ticket, error) {
	return db.UpdateTicket(id, TicketPatch{SetSprint: true, SprintID: sprintID})
}

// DeleteTicket removes a ticket and returns its last state.
func (db *ServerDB) DeleteTicket(id string) (*models.Ticket, error) {
	t, err := db.GetTicket(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("ticket %s: %w", id, ErrNotFound)
	}
	if _, err := db.conn.Exec(`DELETE FROM tickets WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete ticket: %w", err)
	}
	return t, nil
}

// checkSprint verifies that a ticket of projectID may be placed in sprintID:
// the sprint exists, belongs to the project and is not completed.
func checkSprint(tx *sql.Tx, projectID string, sprintID *string) error {
	if sprintID == nil {
		return nil
	}
	var (
		owner  string
		status models.SprintStatus
	)
	err := tx.QueryRow(`SELECT project_id, status FROM sprints WHERE id = ?`, *sprintID).Scan(&owner, &status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("sprint %s: %w", *sprintID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get sprint: %w", err)
	}
	if owner != projectID {
		return fmt.Errorf("%w ticket: sprint %s belongs to another project", models.ErrInvalid, *sprintID)
	}
	if status == models.SprintCompleted {
		return fmt.Errorf("sprint %s is completed: %w", *sprintID, ErrInvalidTransition)
	}
	return nil
}
