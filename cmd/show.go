package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/boardsync/internal/gateway"
	"github.com/marcus/boardsync/internal/input"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/output"
)

var showCmd = &cobra.Command{
	Use:     "show <ticket>",
	Aliases: []string{"view"},
	Short:   "Show a ticket with its description and comments",
	GroupID: "tickets",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		noComments, _ := cmd.Flags().GetBool("no-comments")

		ctx, cancel := requestContext(cmd.Context())
		defer cancel()
		gw := newGateway()

		t, err := resolveTicket(ctx, gw, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		var comments []models.Comment
		if !noComments {
			comments, err = gw.ListComments(ctx, t.ID)
			if err != nil {
				output.Error("%v", err)
				return err
			}
		}
		if jsonOut {
			return output.JSON(struct {
				*models.Ticket
				Comments []models.Comment `json:"comments"`
			}{t, comments})
		}

		sprint := ticketSprint(cmd, gw, t)
		fmt.Fprint(output.Stdout, output.FormatTicketLong(t, sprint))

		if t.Description != "" {
			rendered, err := output.RenderMarkdown(t.Description)
			if err != nil {
				rendered = t.Description
			}
			output.Info("\n%s", rendered)
		}
		if !noComments {
			output.Info("%s", output.SectionHeader("Comments", len(comments)))
			for _, c := range comments {
				output.Info("%s", formatComment(c))
			}
		}
		return nil
	},
}

// ticketSprint looks up the ticket's sprint for display. Failures only cost
// the sprint name.
func ticketSprint(cmd *cobra.Command, gw *gateway.Client, t *models.Ticket) *models.Sprint {
	if t.SprintID == nil || t.ProjectID == "" {
		return nil
	}
	ctx, cancel := requestContext(cmd.Context())
	defer cancel()
	sprints, err := gw.ListSprints(ctx, t.ProjectID)
	if err != nil {
		return nil
	}
	s, err := findSprint(sprints, *t.SprintID)
	if err != nil {
		return nil
	}
	return s
}

func formatComment(c models.Comment) string {
	author := "anonymous"
	if c.Author != nil && c.Author.Name != "" {
		author = c.Author.Name
	}
	head := author
	if !c.CreatedAt.IsZero() {
		head += " · " + output.FormatTimeAgo(c.CreatedAt)
	}
	return "  " + head + "\n" + output.IndentString(strings.TrimSpace(c.Text), 4)
}

var commentCmd = &cobra.Command{
	Use:   "comment <ticket> <message>",
	Short: "Add a comment to a ticket",
	Long: `Add a comment to a ticket. The message may be "-" to read stdin or
@file to read a file.

Examples:
  boardsync comment WP-12 "Blocked on the auth migration"
  git log -1 --format=%B | boardsync comment WP-12 -
  boardsync comment WP-12 @notes.md`,
	GroupID: "tickets",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd.Context())
		defer cancel()
		gw := newGateway()

		t, err := resolveTicket(ctx, gw, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		msg, err := input.Text(strings.Join(args[1:], " "), os.Stdin)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if msg == "" {
			return fmt.Errorf("empty comment")
		}
		req := &gateway.CreateCommentRequest{
			TicketID: t.ID,
			Message:  msg,
		}
		if author, _ := cmd.Flags().GetString("author"); author != "" {
			req.Author = &models.User{ID: cfg.UserID, Name: author}
		}
		if _, err := gw.CreateComment(ctx, req); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("COMMENTED %s", t.ShortID())
		return nil
	},
}

func init() {
	showCmd.Flags().Bool("json", false, "Output JSON")
	showCmd.Flags().Bool("no-comments", false, "Skip comments")
	commentCmd.Flags().String("author", "", "Author name shown with the comment")
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(commentCmd)
}
