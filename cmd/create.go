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

var createCmd = &cobra.Command{
	Use:     "create <title>",
	Aliases: []string{"add", "new"},
	Short:   "Create a ticket",
	Long: `Create a ticket in the configured project. It lands in the backlog
unless --sprint is given. The description may be "-" to read stdin or @file.

Examples:
  boardsync create "Fix login redirect" --type bug --priority high
  boardsync create "Billing export" --sprint "Sprint 4" --description @notes.md`,
	GroupID: "tickets",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireProject(); err != nil {
			return err
		}
		req, err := createRequest(cmd, strings.Join(args, " "))
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd.Context())
		defer cancel()
		gw := newGateway()

		if sprintRef, _ := cmd.Flags().GetString("sprint"); sprintRef != "" && sprintRef != "backlog" {
			sprints, err := gw.ListSprints(ctx, cfg.ProjectID)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			s, err := findSprint(sprints, sprintRef)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			if s.Status == models.SprintCompleted {
				return fmt.Errorf("sprint %s is completed", s.Name)
			}
			req.SprintID = models.StringPtr(s.ID)
		}

		t, err := gw.CreateTicket(ctx, req)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("CREATED %s", output.TicketOneLiner(t))
		return nil
	},
}

// createRequest builds the ticket body from flags. Sprint is resolved by
// the caller.
func createRequest(cmd *cobra.Command, title string) (*gateway.CreateTicketRequest, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	req := &gateway.CreateTicketRequest{ProjectID: cfg.ProjectID, Title: title}

	if v, _ := cmd.Flags().GetString("status"); v != "" {
		st, err := models.ParseStatus(v)
		if err != nil {
			return nil, err
		}
		req.Status = st
	}
	if v, _ := cmd.Flags().GetString("priority"); v != "" {
		p, err := models.ParsePriority(v)
		if err != nil {
			return nil, err
		}
		req.Priority = p
	}
	if v, _ := cmd.Flags().GetString("type"); v != "" {
		typ, err := models.ParseType(v)
		if err != nil {
			return nil, err
		}
		req.Type = typ
	}
	if v, _ := cmd.Flags().GetString("description"); v != "" {
		desc, err := input.Text(v, os.Stdin)
		if err != nil {
			return nil, err
		}
		req.Description = desc
	}
	if v, _ := cmd.Flags().GetString("assignee"); v != "" {
		req.Assignee = &models.User{Name: v}
	}
	return req, nil
}

var assignCmd = &cobra.Command{
	Use:   "assign <ticket> [name]",
	Short: "Set or clear a ticket's assignee",
	Long: `Assign a ticket to a project member, or clear the assignee with --clear.

Examples:
  boardsync assign WP-12 "Ana Lima" --id u42
  boardsync assign WP-12 --clear`,
	GroupID: "tickets",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		unassign, _ := cmd.Flags().GetBool("clear")
		userID, _ := cmd.Flags().GetString("id")
		email, _ := cmd.Flags().GetString("email")

		var assignee *models.User
		switch {
		case unassign && len(args) == 2:
			return fmt.Errorf("give a name or --clear, not both")
		case unassign:
		case len(args) == 2 && strings.TrimSpace(args[1]) != "":
			assignee = &models.User{ID: userID, Name: strings.TrimSpace(args[1]), Email: email}
		default:
			return fmt.Errorf("a name or --clear is required")
		}

		ctx, cancel := requestContext(cmd.Context())
		defer cancel()
		gw := newGateway()
		t, err := resolveTicket(ctx, gw, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		t, err = gw.AssignTicket(ctx, t.ID, assignee)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if assignee == nil {
			output.Success("UNASSIGNED %s", t.ShortID())
		} else {
			output.Success("ASSIGNED %s to %s", t.ShortID(), t.AssigneeName())
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <ticket>...",
	Aliases: []string{"rm"},
	Short:   "Delete tickets",
	Long: `Delete one or more tickets. Asks for confirmation unless --yes is given.
Boards that are open elsewhere drop the tickets as the deletions arrive.`,
	GroupID: "tickets",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		ctx, cancel := requestContext(cmd.Context())
		defer cancel()
		gw := newGateway()

		tickets := make([]*models.Ticket, 0, len(args))
		for _, ref := range args {
			t, err := resolveTicket(ctx, gw, ref)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			tickets = append(tickets, t)
		}

		if !yes {
			if !output.IsTerminal() {
				return fmt.Errorf("refusing to delete without --yes when not on a terminal")
			}
			ok, err := confirmPrompt(deletePrompt(tickets), "This cannot be undone.", "Delete")
			if err != nil {
				return err
			}
			if !ok {
				output.Info("Cancelled.")
				return nil
			}
		}

		var failed error
		for _, t := range tickets {
			if err := gw.DeleteTicket(ctx, t.ID); err != nil {
				output.Error("%v", err)
				failed = err
				continue
			}
			output.Success("DELETED %s", output.TicketOneLinerPlain(t))
		}
		return failed
	},
}

func deletePrompt(tickets []*models.Ticket) string {
	if len(tickets) == 1 {
		return fmt.Sprintf("Delete %s %q?", tickets[0].ShortID(), tickets[0].Title)
	}
	return fmt.Sprintf("Delete %d tickets?", len(tickets))
}

func init() {
	createCmd.Flags().String("status", "", "Initial status (default To Do)")
	createCmd.Flags().String("priority", "", "Low, Medium, High or Critical")
	createCmd.Flags().StringP("type", "t", "", "Task, Bug or Story")
	createCmd.Flags().StringP("sprint", "s", "", "Sprint id or name (default backlog)")
	createCmd.Flags().StringP("description", "d", "", `Description, "-" for stdin or @file`)
	createCmd.Flags().String("assignee", "", "Assignee name")
	assignCmd.Flags().Bool("clear", false, "Remove the assignee")
	assignCmd.Flags().String("id", "", "Assignee user id")
	assignCmd.Flags().String("email", "", "Assignee email")
	deleteCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(assignCmd)
	rootCmd.AddCommand(deleteCmd)
}
