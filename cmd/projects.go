package cmd

import (
	"github.com/spf13/cobra"

	"github.com/marcus/boardsync/internal/output"
)

var projectsCmd = &cobra.Command{
	Use:     "projects",
	Short:   "List projects on the server",
	GroupID: "board",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		ctx, cancel := requestContext(cmd.Context())
		defer cancel()

		projects, err := newGateway().ListProjects(ctx)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if jsonOut {
			return output.JSON(projects)
		}
		if len(projects) == 0 {
			output.Info("No projects.")
			return nil
		}
		for _, p := range projects {
			marker := "  "
			if p.ID == cfg.ProjectID {
				marker = "* "
			}
			output.Info("%s%-8s %s  %s", marker, p.Key, p.Name, p.ID)
		}
		return nil
	},
}

func init() {
	projectsCmd.Flags().Bool("json", false, "Output JSON")
	rootCmd.AddCommand(projectsCmd)
}
