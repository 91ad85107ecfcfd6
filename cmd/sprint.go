package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/marcus/boardsync/internal/dateparse"
	"github.com/marcus/boardsync/internal/gateway"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/output"
)

// confirmPrompt asks a yes/no question on the terminal. Tests replace it.
var confirmPrompt = func(title, description, affirmative string) (bool, error) {
	ok := false
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative(affirmative).
		Negative("Cancel").
		Value(&ok).
		WithTheme(huh.ThemeDracula()).
		Run()
	return ok, err
}

var sprintCmd = &cobra.Command{
	Use:     "sprint",
	Aliases: []string{"sprints"},
	Short:   "Manage sprints",
	GroupID: "sprints",
}

var sprintListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the project's sprints",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireProject(); err != nil {
			return err
		}
		jsonOut, _ := cmd.Flags().GetBool("json")
		ctx, cancel := requestContext(cmd.Context())
		defer cancel()
		gw := newGateway()

		sprints, err := gw.ListSprints(ctx, cfg.ProjectID)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if jsonOut {
			return output.JSON(sprints)
		}
		if len(sprints) == 0 {
			output.Info("No sprints.")
			return nil
		}
		tickets, err := gw.ListTickets(ctx, cfg.ProjectID, "")
		if err != nil {
			output.Error("%v", err)
			return err
		}
		counts := make(map[string]int)
		for i := range tickets {
			if tickets[i].SprintID != nil {
				counts[*tickets[i].SprintID]++
			}
		}
		for i := range sprints {
			output.Info("%s", output.FormatSprintLine(&sprints[i], counts[sprints[i].ID]))
		}
		return nil
	},
}

var sprintCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a planned sprint",
	Long: `Create a planned sprint.

Dates are YYYY-MM-DD, today, tomorrow, next-week, a day name, or an
offset such as +2w. --start is relative to today and --end to the start.

Examples:
  boardsync sprint create "Sprint 5" --start 2026-03-02 --end 2026-03-15
  boardsync sprint create "Sprint 5" --start monday --end +11d
  boardsync sprint create "Sprint 5" --weeks 2 --goal "Billing v2"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireProject(); err != nil {
			return err
		}
		startStr, _ := cmd.Flags().GetString("start")
		endStr, _ := cmd.Flags().GetString("end")
		weeks, _ := cmd.Flags().GetInt("weeks")
		goal, _ := cmd.Flags().GetString("goal")

		start, end, err := sprintDates(startStr, endStr, weeks, time.Now())
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd.Context())
		defer cancel()
		s, err := newGateway().CreateSprint(ctx, &gateway.CreateSprintRequest{
			ProjectID: cfg.ProjectID,
			Name:      strings.TrimSpace(args[0]),
			StartDate: start,
			EndDate:   end,
			Goal:      goal,
		})
		if err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("CREATED %s", output.FormatSprintLine(s, 0))
		return nil
	},
}

// sprintDates resolves --start/--end/--weeks. start defaults to today and is
// relative to now; end is relative to start and defaults to the last day of
// weeks whole weeks.
func sprintDates(startStr, endStr string, weeks int, now time.Time) (time.Time, time.Time, error) {
	if startStr == "" {
		startStr = "today"
	}
	start, err := dateparse.Day(startStr, now)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--start: %w", err)
	}
	if endStr == "" {
		if weeks <= 0 {
			return time.Time{}, time.Time{}, fmt.Errorf("--weeks must be positive")
		}
		return start, start.AddDate(0, 0, 7*weeks-1), nil
	}
	end, err := dateparse.Day(endStr, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--end: %w", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s is before start %s", end.Format(dateparse.Layout), start.Format(dateparse.Layout))
	}
	return start, end, nil
}

var sprintStartCmd = &cobra.Command{
	Use:   "start <sprint>",
	Short: "Start a planned sprint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd.Context())
		defer cancel()
		s, err := changeSprint(ctx, args[0], models.SprintActive, nil)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("STARTED %s %s", s.Name, output.FormatSprintStatus(s.Status))
		return nil
	},
}

var sprintCompleteCmd = &cobra.Command{
	Use:   "complete <sprint>",
	Short: "Complete the active sprint",
	Long: `Complete an active sprint. Tickets that are not Done move back to the
backlog. Asks for confirmation unless --yes is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		ctx, cancel := requestContext(cmd.Context())
		defer cancel()

		confirm := func(gw *gateway.Client, s *models.Sprint) (bool, error) {
			if yes {
				return true, nil
			}
			if !output.IsTerminal() {
				return false, fmt.Errorf("refusing to complete %s without --yes when not on a terminal", s.Name)
			}
			tickets, err := gw.ListTickets(ctx, s.ProjectID, s.ID)
			if err != nil {
				return false, err
			}
			return confirmPrompt(fmt.Sprintf("Complete %s?", s.Name), unfinishedSummary(tickets), "Complete")
		}

		s, err := changeSprint(ctx, args[0], models.SprintCompleted, confirm)
		if errors.Is(err, errCancelled) {
			output.Info("Cancelled.")
			return nil
		}
		if err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("COMPLETED %s %s", s.Name, output.FormatSprintStatus(s.Status))
		return nil
	},
}

var errCancelled = errors.New("cancelled")

// unfinishedSummary describes what completing a sprint will do.
func unfinishedSummary(tickets []models.Ticket) string {
	n := 0
	for _, t := range tickets {
		if t.Status != models.StatusComplete {
			n++
		}
	}
	switch n {
	case 0:
		return "All tickets are done."
	case 1:
		return "1 unfinished ticket will move to the backlog."
	}
	return fmt.Sprintf("%d unfinished tickets will move to the backlog.", n)
}

// changeSprint moves sprint ref to status to. confirm, when set, may veto
// the change after the sprint has been resolved.
func changeSprint(ctx context.Context, ref string, to models.SprintStatus, confirm func(*gateway.Client, *models.Sprint) (bool, error)) (*models.Sprint, error) {
	if err := cfg.RequireProject(); err != nil {
		return nil, err
	}
	gw := newGateway()
	sprints, err := gw.ListSprints(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	s, err := findSprint(sprints, ref)
	if err != nil {
		return nil, err
	}
	if !s.Status.CanTransition(to) {
		return nil, fmt.Errorf("sprint %s is %s and cannot become %s", s.Name, s.Status, to)
	}
	if confirm != nil {
		ok, err := confirm(gw, s)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errCancelled
		}
	}
	if to == models.SprintCompleted {
		return gw.CompleteSprint(ctx, s.ID)
	}
	return gw.UpdateSprintStatus(ctx, s.ID, to)
}

func init() {
	sprintListCmd.Flags().Bool("json", false, "Output JSON")
	sprintCreateCmd.Flags().String("start", "", "Start date (default today)")
	sprintCreateCmd.Flags().String("end", "", "Last day, or an offset from the start such as +13d")
	sprintCreateCmd.Flags().Int("weeks", 2, "Length in weeks when --end is not given")
	sprintCreateCmd.Flags().String("goal", "", "Sprint goal")
	sprintCompleteCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	sprintCmd.AddCommand(sprintListCmd)
	sprintCmd.AddCommand(sprintCreateCmd)
	sprintCmd.AddCommand(sprintStartCmd)
	sprintCmd.AddCommand(sprintCompleteCmd)
	rootCmd.AddCommand(sprintCmd)
}
