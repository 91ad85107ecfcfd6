package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/output"
	"github.com/marcus/boardsync/internal/partition"
)

// ticketGroup is one bucket in `tickets --json` output.
type ticketGroup struct {
	Key     string          `json:"key"`
	Title   string          `json:"title"`
	Tickets []models.Ticket `json:"tickets"`
}

var ticketsCmd = &cobra.Command{
	Use:     "tickets",
	Aliases: []string{"ls", "list"},
	Short:   "List tickets grouped by status or sprint",
	Long: `List the project's tickets grouped the way the board shows them.

Examples:
  boardsync tickets                   # By status
  boardsync tickets --by sprint       # Backlog plus one group per sprint
  boardsync tickets --search login    # Title, id or assignee contains "login"
  boardsync tickets --json`,
	GroupID: "tickets",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireProject(); err != nil {
			return err
		}
		by, _ := cmd.Flags().GetString("by")
		query, _ := cmd.Flags().GetString("search")
		sprintRef, _ := cmd.Flags().GetString("sprint")
		jsonOut, _ := cmd.Flags().GetBool("json")
		if by != "status" && by != "sprint" {
			return fmt.Errorf("--by must be status or sprint, got %q", by)
		}

		ctx, cancel := requestContext(cmd.Context())
		defer cancel()
		gw := newGateway()

		sprints, err := gw.ListSprints(ctx, cfg.ProjectID)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		sprintID := ""
		if sprintRef != "" {
			s, err := findSprint(sprints, sprintRef)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			sprintID = s.ID
		}
		tickets, err := gw.ListTickets(ctx, cfg.ProjectID, sprintID)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		var part *partition.Partition
		if by == "sprint" {
			part = partition.NewPlanner(sprints)
		} else {
			part = partition.NewBoard()
		}
		part.Initialize(tickets)
		view := partition.Project(part, query)

		groups := make([]ticketGroup, 0, len(view.Buckets))
		for _, b := range view.Buckets {
			groups = append(groups, ticketGroup{
				Key:     string(b.Key),
				Title:   groupTitle(b.Key, by, sprints),
				Tickets: b.Tickets,
			})
		}

		if jsonOut {
			return output.JSON(groups)
		}
		if view.Len() == 0 {
			output.Info("No tickets found.")
			return nil
		}
		for _, g := range groups {
			if len(g.Tickets) == 0 && query != "" {
				continue
			}
			output.Info("%s", output.SectionHeader(g.Title, len(g.Tickets)))
			for i := range g.Tickets {
				output.Info("  %s", output.FormatTicketShort(&g.Tickets[i]))
			}
		}
		return nil
	},
}

func groupTitle(k partition.Key, by string, sprints []models.Sprint) string {
	if by == "status" {
		return string(k)
	}
	if k == partition.Backlog {
		return "Backlog"
	}
	for _, s := range sprints {
		if s.ID == string(k) {
			return s.Name
		}
	}
	return string(k)
}

func init() {
	ticketsCmd.Flags().String("by", "status", "Group by status or sprint")
	ticketsCmd.Flags().StringP("search", "q", "", "Only tickets whose title, id or assignee contains this text")
	ticketsCmd.Flags().StringP("sprint", "s", "", "Only tickets of this sprint (id or name)")
	ticketsCmd.Flags().Bool("json", false, "Output JSON")
	rootCmd.AddCommand(ticketsCmd)
}
