package serverdb

import (
	"fmt"
	"strings"

	"github.com/marcus/boardsync/internal/models"
)

// CreateComment adds a comment to a ticket.
func (db *ServerDB) CreateComment(c models.Comment) (*models.Comment, error) {
	c.Text = strings.TrimSpace(c.Text)
	if c.Text == "" {
		return nil, fmt.Errorf("%w comment: text is required", models.ErrInvalid)
	}
	t, err := db.GetTicket(c.TicketID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("ticket %s: %w", c.TicketID, ErrNotFound)
	}
	if c.ID == "" {
		c.ID = NewID()
	}
	c.CreatedAt = now()

	var authorID, authorName string
	if c.Author != nil {
		authorID, authorName = c.Author.ID, c.Author.Name
	}
	_, err = db.conn.Exec(
		`INSERT INTO comments (id, ticket_id, author_id, author_name, text, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.TicketID, authorID, authorName, c.Text, formatTime(c.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert comment: %w", err)
	}
	return &c, nil
}

// ListComments returns a ticket's comments, oldest first.
func (db *ServerDB) ListComments(ticketID string) ([]models.Comment, error) {
	rows, err := db.conn.Query(
		`SELECT id, ticket_id, author_id, author_name, text, created_at FROM comments WHERE ticket_id = ? ORDER BY seq`,
		ticketID,
	)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := []models.Comment{}
	for rows.Next() {
		var (
			c                models.Comment
			authorID, author string
			createdAt        string
		)
		if err := rows.Scan(&c.ID, &c.TicketID, &authorID, &author, &c.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		if authorID != "" || author != "" {
			c.Author = &models.User{ID: authorID, Name: author}
		}
		c.CreatedAt = parseTime(createdAt)
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list comments: iterate: %w", err)
	}
	return comments, nil
}
