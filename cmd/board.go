package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/marcus/boardsync/internal/config"
	"github.com/marcus/boardsync/internal/engine"
	"github.com/marcus/boardsync/pkg/boardui"
)

const tuiKeys = `Key bindings:
  h/l, ←/→       Move between columns
  j/k, ↓/↑       Move between cards
  space          Grab the selected card
  h/l/j/k        Choose where the grabbed card goes
  enter          Drop it there
  esc            Put it back (or clear the search)
  /              Search title, id or assignee (dragging is off while searching)
  r              Refetch everything
  q              Quit`

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Interactive Kanban board",
	Long: `Open the project's Kanban board: one column per status.

Tickets move as soon as they are dropped; the server is updated in the
background and a rejected move puts the board back the way the server has it.

` + tuiKeys,
	GroupID: "board",
	RunE: func(cmd *cobra.Command, args []string) error {
		if sprint, _ := cmd.Flags().GetString("sprint"); sprint != "" {
			cfg.SprintID = sprint
		}
		return runBoard(cmd.Context(), engine.ModeBoard)
	},
}

var planCmd = &cobra.Command{
	Use:     "plan",
	Aliases: []string{"planner", "backlog"},
	Short:   "Interactive sprint planner",
	Long: `Open the sprint planner: the backlog plus one column per sprint.

Drag tickets between the backlog and sprints. Completed sprints are
read-only.

` + tuiKeys + `
  s              Start the sprint under the cursor
  c              Complete the sprint under the cursor`,
	GroupID: "board",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBoard(cmd.Context(), engine.ModePlanner)
	},
}

func runBoard(parent context.Context, mode engine.Mode) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// The terminal belongs to the board; logs go to a file.
	logger, closeLog, err := tuiLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	eng, closeSub, err := newEngine(ctx, mode, logger)
	if err != nil {
		return err
	}
	defer closeSub()

	errc := runEngine(ctx, eng)
	title := projectTitle(ctx)
	if mode == engine.ModePlanner {
		title += " · planner"
	}

	p := tea.NewProgram(boardui.New(eng, title), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error running board: %w", err)
	}
	cancel()
	if err := <-errc; err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}

// projectTitle returns the project's display name, or its id when the
// server cannot be reached.
func projectTitle(ctx context.Context) string {
	ctx, cancel := requestContext(ctx)
	defer cancel()
	p, err := newGateway().GetProject(ctx, cfg.ProjectID)
	if err != nil || p == nil {
		return cfg.ProjectID
	}
	if p.Key != "" {
		return fmt.Sprintf("%s (%s)", p.Name, p.Key)
	}
	return p.Name
}

// tuiLogger opens boardsync.log in the config directory.
func tuiLogger() (*slog.Logger, func(), error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "boardsync.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	setupLogging(f)
	return slog.Default(), func() { f.Close() }, nil
}

func init() {
	boardCmd.Flags().StringP("sprint", "s", "", "Only show tickets of this sprint")
	rootCmd.AddCommand(boardCmd)
	rootCmd.AddCommand(planCmd)
}
