package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/evidencegate/internal/model"
)

// errDeploymentBlocked gives CI a non-zero exit
var errDeploymentBlocked = errors.New("deployment blocked")

var (
	runType     string
	runLimit    int
	seedBattery bool
	runJSON     bool
)

var reliabilityCmd = &cobra.Command{
	Use:   "reliability",
	Short: "Run and inspect reliability evaluations",
	Long: `The reliability lab replays a battery of test questions through the
tribunal. Publication and deployment are blocked until the latest run is
recent and scores at or above the pass threshold.`,
}

var reliabilityRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reliability battery",
	Long: `Run adjudicates every active test question, scores the run and stores it.

Example:
  evidencegate reliability run --type release
  evidencegate reliability run --limit 5`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withApp(ctx, func(a *app) error {
			if seedBattery {
				if _, err := a.lab.InitializeTestSuite(ctx); err != nil {
					return err
				}
			}
			run, err := a.lab.Run(ctx, model.RunType(runType), runLimit)
			if err != nil {
				return err
			}
			if runJSON {
				return printJSON(cmd.OutOrStdout(), run)
			}
			printRun(cmd.OutOrStdout(), run)
			return nil
		})
	},
}

var reliabilityLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the most recent reliability run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			run, err := a.lab.Latest(cmd.Context())
			if err != nil {
				return err
			}
			if runJSON {
				return printJSON(cmd.OutOrStdout(), run)
			}
			printRun(cmd.OutOrStdout(), run)
			return nil
		})
	},
}

var reliabilityCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Exit non-zero when deployment should be blocked",
	Long: `Check is meant for CI: it prints the deployment status and exits 1 when
no recent passing reliability run exists.

Example:
  evidencegate reliability check --store postgres --dsn "$DATABASE_URL" || exit 1`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			status := a.lab.ShouldBlockDeployment(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), status); err != nil {
				return err
			}
			if status.Blocked {
				return fmt.Errorf("%w: %s", errDeploymentBlocked, status.Reason)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(reliabilityCmd)
	reliabilityCmd.AddCommand(reliabilityRunCmd, reliabilityLatestCmd, reliabilityCheckCmd)

	reliabilityRunCmd.Flags().StringVar(&runType, "type", string(model.RunManual), "run type (nightly, release, manual)")
	reliabilityRunCmd.Flags().IntVar(&runLimit, "limit", 0, "run at most this many tests (0 = all)")
	reliabilityRunCmd.Flags().BoolVar(&seedBattery, "seed", true, "store the test battery before running")
	for _, c := range []*cobra.Command{reliabilityRunCmd, reliabilityLatestCmd} {
		c.Flags().BoolVar(&runJSON, "json", false, "print the run as JSON")
	}
}

func printRun(w io.Writer, run *model.ReliabilityRun) {
	status := "PASSED"
	if run.DeploymentBlocked {
		status = "BLOCKED"
	}
	rule := strings.Repeat("═", 59)

	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "  Reliability run #%d (%s)\n", run.ID, run.RunType)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "  Score:          %.1f / %.0f  %s\n", run.ReliabilityScore, run.PassThreshold, status)
	fmt.Fprintf(w, "  Tests:          %d passed, %d failed, %d total\n", run.PassedTests, run.FailedTests, run.TotalTests)
	fmt.Fprintf(w, "  Coverage avg:   %.1f%%\n", run.CitationCoverageAvg)
	fmt.Fprintf(w, "  Resolution:     %.1f%%\n", run.ContradictionResolution)
	fmt.Fprintf(w, "  Hallucinations: %d\n", run.HallucinationCount)
	fmt.Fprintf(w, "  Avg latency:    %dms\n", run.AvgLatencyMillis)
	fmt.Fprintln(w)
	for _, r := range run.Results {
		mark := "✓"
		if !r.Passed {
			mark = "✗"
		}
		fmt.Fprintf(w, "  %s %-40s %s\n", mark, r.TestName, r.Details)
	}
}
