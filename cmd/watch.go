package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/marcus/boardsync/internal/channel"
	"github.com/marcus/boardsync/internal/config"
	"github.com/marcus/boardsync/internal/events"
	"github.com/marcus/boardsync/internal/output"
)

// Styles for watch output
var (
	createdMark = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("+")  // green
	updatedMark = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Render("~")  // cyan
	deletedMark = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("-") // red
	noticeMark  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render("!") // orange
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live board events",
	Long: `Print ticket, comment and notification events as they arrive.

Examples:
  boardsync watch                 # Events for the configured project
  boardsync watch --user u-123    # Notifications for a user
  boardsync watch --json          # One JSON object per line`,
	GroupID: "board",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		jsonOut, _ := cmd.Flags().GetBool("json")

		scope := channel.ProjectScope(cfg.ProjectID)
		if userID != "" {
			scope = channel.UserScope(userID)
		}
		if err := scope.Validate(); err != nil {
			return fmt.Errorf("watch needs a project (--project) or --user: %w", err)
		}
		if cfg.Transport == config.TransportNone {
			return fmt.Errorf("event transport is disabled (transport=none)")
		}

		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}
		ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sub, closeSub, err := newSubscriber(ctx, slog.Default())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer closeSub()

		ch, err := sub.Subscribe(ctx, scope)
		if err != nil {
			output.Error("subscribe: %v", err)
			return err
		}
		if !jsonOut {
			output.Info("%s", dimStyle.Render(fmt.Sprintf("watching %s via %s (ctrl+c to stop)", scope, cfg.Transport)))
		}

		for {
			select {
			case <-ctx.Done():
				if !jsonOut {
					fmt.Fprintln(output.Stdout) // clean line after ^C
				}
				return nil
			case e, ok := <-ch:
				if !ok {
					return nil
				}
				if jsonOut {
					if err := printEventJSON(e); err != nil {
						slog.Debug("watch: encode", "kind", e.Kind, "err", err)
					}
					continue
				}
				output.Info("%s", formatEvent(e, time.Now()))
			}
		}
	},
}

// printEventJSON writes {"event": kind, "data": payload} on one line.
func printEventJSON(e channel.Event) error {
	kind, data, err := channel.Encode(e)
	if err != nil {
		return err
	}
	line, err := json.Marshal(struct {
		Event events.Kind     `json:"event"`
		Data  json.RawMessage `json:"data"`
	}{kind, data})
	if err != nil {
		return err
	}
	fmt.Fprintln(output.Stdout, string(line))
	return nil
}

func formatEvent(e channel.Event, at time.Time) string {
	ts := dimStyle.Render(at.Format("15:04:05"))
	switch e.Kind {
	case events.KindTicketCreated, events.KindTicketUpdated:
		mark := updatedMark
		verb := "updated"
		if e.Kind == events.KindTicketCreated {
			mark, verb = createdMark, "created"
		}
		line := fmt.Sprintf("%s %s %s %s", ts, mark, verb, output.TicketOneLiner(e.Ticket))
		if e.Ticket.SprintID == nil {
			line += dimStyle.Render(" backlog")
		} else {
			line += dimStyle.Render(" sprint:" + *e.Ticket.SprintID)
		}
		if name := e.Ticket.AssigneeName(); name != "" {
			line += dimStyle.Render(" @" + name)
		}
		return line
	case events.KindTicketDeleted:
		return fmt.Sprintf("%s %s deleted %s", ts, deletedMark, e.TicketID)
	case events.KindCommentCreated:
		author := "anonymous"
		if e.Comment.Author != nil && e.Comment.Author.Name != "" {
			author = e.Comment.Author.Name
		}
		return fmt.Sprintf("%s %s comment on %s by %s: %s", ts, createdMark, e.TicketID, author, truncateText(e.Comment.Text, 60))
	case events.KindNotification:
		return fmt.Sprintf("%s %s %s", ts, noticeMark, e.Notification.Message)
	case events.KindResync:
		return fmt.Sprintf("%s %s", ts, dimStyle.Render("reconnected; events may have been missed"))
	}
	return fmt.Sprintf("%s ? %s", ts, e.Kind)
}

func truncateText(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func init() {
	watchCmd.Flags().String("user", "", "Watch a user's notifications instead of the project")
	watchCmd.Flags().Bool("json", false, "Print events as JSON lines")
	rootCmd.AddCommand(watchCmd)
}
