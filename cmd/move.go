package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/marcus/boardsync/internal/config"
	"github.com/marcus/boardsync/internal/engine"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/output"
	"github.com/marcus/boardsync/internal/partition"
)

var moveCmd = &cobra.Command{
	Use:   "move <ticket>",
	Short: "Move a ticket to another status or sprint",
	Long: `Move a ticket the way a drop on the board would: to the end of the
target column. The ticket may be given by id or key.

Examples:
  boardsync move WP-12 --status "In Review"
  boardsync move WP-12 --status done
  boardsync move WP-12 --sprint "Sprint 4"
  boardsync move WP-12 --sprint backlog`,
	GroupID: "tickets",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		statusStr, _ := cmd.Flags().GetString("status")
		sprintRef, _ := cmd.Flags().GetString("sprint")
		if (statusStr == "") == (sprintRef == "") {
			return fmt.Errorf("exactly one of --status and --sprint is required")
		}

		mode := engine.ModeBoard
		if sprintRef != "" {
			mode = engine.ModePlanner
		}
		t, err := moveTicket(cmd.Context(), mode, args[0], statusStr, sprintRef)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("MOVED %s", output.TicketOneLiner(t))
		return nil
	},
}

// moveTicket loads the project into a one-shot engine and moves ref.
func moveTicket(parent context.Context, mode engine.Mode, ref, statusStr, sprintRef string) (*models.Ticket, error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, 2*requestTimeout)
	defer cancel()

	// No live updates needed for a single move.
	cfg.Transport = config.TransportNone
	eng, closeSub, err := newEngine(ctx, mode, slog.Default())
	if err != nil {
		return nil, err
	}
	defer closeSub()

	view, err := startEngine(ctx, eng)
	if err != nil {
		return nil, err
	}
	t, err := findTicket(viewTickets(view), ref)
	if err != nil {
		return nil, err
	}

	var to partition.Key
	switch {
	case statusStr != "":
		st, err := models.ParseStatus(statusStr)
		if err != nil {
			return nil, err
		}
		to = partition.Key(st)
	case sprintRef == "backlog":
		to = partition.Backlog
	default:
		s, err := findSprint(view.Sprints, sprintRef)
		if err != nil {
			return nil, err
		}
		to = partition.Key(s.ID)
	}

	if err := eng.Move(ctx, t.ID, to); err != nil {
		return nil, err
	}
	after, err := eng.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return findTicket(viewTickets(after), t.ID)
}

func viewTickets(v engine.View) []models.Ticket {
	var out []models.Ticket
	for _, b := range v.Buckets {
		out = append(out, b.Tickets...)
	}
	return out
}

func init() {
	moveCmd.Flags().String("status", "", "Target status (To Do, In Progress, In Review, Done)")
	moveCmd.Flags().String("sprint", "", "Target sprint id or name, or backlog")
	rootCmd.AddCommand(moveCmd)
}
