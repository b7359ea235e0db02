package cli

import (
	"github.com/spf13/cobra"

	"github.com/ppiankov/evidencegate/internal/contradiction"
	"github.com/ppiankov/evidencegate/internal/model"
)

var (
	resolvedValue  float64
	resolvedSource string
	resolveNotes   string
	resolvedBy     string
	correctTo      string
	listIndicator  string
	listLimit      int
)

var contradictionsCmd = &cobra.Command{
	Use:     "contradictions",
	Aliases: []string{"contradiction"},
	Short:   "Detect and manage contradictions between sources",
}

var contradictionsScanCmd = &cobra.Command{
	Use:   "scan <indicator-code>",
	Short: "Compare every observation pair of an indicator and record disagreements",
	Long: `Scan compares observations that share a date and regime. Pairs that
differ by more than the minor threshold are recorded once; repeated scans
do not duplicate records.

Example:
  evidencegate contradictions scan FX_RATE_ADEN`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			found, err := a.detector.Scan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), emptyIfNil(found))
		})
	},
}

var contradictionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open contradictions, or all records for one indicator",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			var (
				records []model.ContradictionRecord
				err     error
			)
			if listIndicator != "" {
				records, err = a.detector.List(cmd.Context(), listIndicator)
			} else {
				records, err = a.detector.Open(cmd.Context(), listLimit)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), emptyIfNil(records))
		})
	},
}

var contradictionsResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Close a contradiction with the value to publish",
	Long: `Resolve records the chosen value and its source. Resolved records are
final; resolving again with the same value is a no-op.

Example:
  evidencegate contradictions resolve 12 --value 530.5 --source "CBY Aden bulletin" --by analyst-3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			rec, err := a.detector.Resolve(cmd.Context(), id, contradiction.Resolution{
				Value:  resolvedValue,
				Source: resolvedSource,
				Notes:  resolveNotes,
				By:     resolvedBy,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		})
	},
}

var contradictionsCorrectCmd = &cobra.Command{
	Use:   "correct <id>",
	Short: "Manually move a contradiction to another status",
	Long: `Correct is the only way to move a record backwards. A resolved record
can never return to detected.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			rec, err := a.detector.Correct(cmd.Context(), id, model.ContradictionStatus(correctTo), resolveNotes, resolvedBy)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		})
	},
}

func init() {
	rootCmd.AddCommand(contradictionsCmd)
	contradictionsCmd.AddCommand(contradictionsScanCmd, contradictionsListCmd, contradictionsResolveCmd, contradictionsCorrectCmd)

	contradictionsListCmd.Flags().StringVar(&listIndicator, "indicator", "", "list every record for this indicator")
	contradictionsListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum open records")

	contradictionsResolveCmd.Flags().Float64Var(&resolvedValue, "value", 0, "resolved value (required)")
	contradictionsResolveCmd.Flags().StringVar(&resolvedSource, "source", "", "source of the resolved value (required)")
	_ = contradictionsResolveCmd.MarkFlagRequired("value")
	_ = contradictionsResolveCmd.MarkFlagRequired("source")

	contradictionsCorrectCmd.Flags().StringVar(&correctTo, "to", "", "target status (detected, investigating, explained, resolved)")
	_ = contradictionsCorrectCmd.MarkFlagRequired("to")

	for _, c := range []*cobra.Command{contradictionsResolveCmd, contradictionsCorrectCmd} {
		c.Flags().StringVar(&resolveNotes, "notes", "", "notes")
		c.Flags().StringVar(&resolvedBy, "by", "", "who made the change (required)")
		_ = c.MarkFlagRequired("by")
	}
}

func emptyIfNil(records []model.ContradictionRecord) []model.ContradictionRecord {
	if records == nil {
		return []model.ContradictionRecord{}
	}
	return records
}
