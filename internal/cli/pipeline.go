package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var reviewerID string

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run the publishing gate pipeline for update items",
	Long: `The gate pipeline scores an update item on six gates (evidence, source,
translation, sensitivity, contradiction, quality) and decides its status and
visibility.`,
}

var pipelineRunCmd = &cobra.Command{
	Use:   "run <update-id>",
	Short: "Evaluate an update item without changing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			return printJSON(cmd.OutOrStdout(), a.pipeline.Run(cmd.Context(), id))
		})
	},
}

var pipelineApplyCmd = &cobra.Command{
	Use:   "apply <update-id>",
	Short: "Evaluate an update item and write the decision back",
	Long: `Apply runs the gates, stores the resulting status and visibility on the
item and notifies admins when it was auto-published.

Example:
  evidencegate pipeline apply 17 --reviewer editor-2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			decision := a.pipeline.Run(cmd.Context(), id)
			if err := printJSON(cmd.OutOrStdout(), decision); err != nil {
				return err
			}
			return a.pipeline.Apply(cmd.Context(), id, decision, reviewerID)
		})
	},
}

func init() {
	rootCmd.AddCommand(pipelineCmd)
	pipelineCmd.AddCommand(pipelineRunCmd, pipelineApplyCmd)

	pipelineApplyCmd.Flags().StringVar(&reviewerID, "reviewer", "", "reviewer recorded on the item")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
