package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/worker"
)

var (
	tribunalFlags claimFlags
	claimsFile    string
	concurrency   int
	batchTimeout  time.Duration
	resultsPath   string
	ticketLimit   int
)

var tribunalCmd = &cobra.Command{
	Use:   "tribunal",
	Short: "Adjudicate claims with the evidence tribunal",
}

var tribunalRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tribunal for one claim or a file of claims",
	Long: `Run adjudicates claims through the analyst, skeptic, methodologist,
citation auditor and judge, and stores each verdict.

A claims file holds one JSON object per line; blank lines and lines starting
with # are skipped, and repeated claim ids are adjudicated once. Claims in a
file fan out across workers; each tribunal run stays sequential.

Example:
  evidencegate tribunal run --claim-id 42 --content "Remittances fell 20% in 2024"
  evidencegate tribunal run --file claims.jsonl --concurrency 4 --out verdicts.jsonl`,
	Args: cobra.NoArgs,
	RunE: runTribunal,
}

var tribunalStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show tribunal statistics and recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			stats, err := a.tribunal.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		})
	},
}

var tribunalTicketsCmd = &cobra.Command{
	Use:   "tickets",
	Short: "List open data-gap tickets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			tickets, err := a.tribunal.OpenTickets(cmd.Context(), ticketLimit)
			if err != nil {
				return err
			}
			if tickets == nil {
				tickets = []model.DataGapTicket{}
			}
			return printJSON(cmd.OutOrStdout(), tickets)
		})
	},
}

func init() {
	rootCmd.AddCommand(tribunalCmd)
	tribunalCmd.AddCommand(tribunalRunCmd, tribunalStatsCmd, tribunalTicketsCmd)

	f := tribunalRunCmd.Flags()
	f.Int64Var(&tribunalFlags.id, "claim-id", 0, "claim id")
	f.StringVar(&tribunalFlags.claimType, "type", "", "claim type")
	f.StringVar(&tribunalFlags.content, "content", "", "claim text")
	f.StringVar(&tribunalFlags.subject, "subject", "", "claim subject")
	f.StringVar(&tribunalFlags.pageContext, "page", "", "page the claim appears on")
	f.IntVar(&tribunalFlags.yearContext, "year", 0, "year the claim refers to")
	f.StringVar(&tribunalFlags.regimeTag, "regime", "", "political regime tag")
	f.StringVar(&claimsFile, "file", "", "JSON Lines file of claims")
	f.IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of claims adjudicated at once")
	f.DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout")
	f.StringVar(&resultsPath, "out", "", "write one tribunal result per line to this file")
	tribunalRunCmd.MarkFlagsMutuallyExclusive("file", "content")
	tribunalRunCmd.MarkFlagsOneRequired("file", "content")

	tribunalTicketsCmd.Flags().IntVar(&ticketLimit, "limit", 50, "maximum tickets")
}

func runTribunal(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	var claims []model.ClaimInput
	if claimsFile != "" {
		var err error
		if claims, err = worker.ReadClaimsFromFile(claimsFile); err != nil {
			return fmt.Errorf("read claims: %w", err)
		}
	} else {
		if tribunalFlags.id == 0 {
			return fmt.Errorf("--claim-id is required with --content")
		}
		claims = []model.ClaimInput{tribunalFlags.claim()}
	}

	return withApp(ctx, func(a *app) error {
		out := cmd.ErrOrStderr()
		fmt.Fprintf(out, "⚙️  Adjudicating %d claim(s) with %d workers...\n\n", len(claims), concurrency)

		processor := worker.NewBatchProcessor(a.tribunal, concurrency)
		results := processor.ProcessClaims(ctx, claims)

		for _, r := range results {
			switch {
			case r.Result == nil:
				fmt.Fprintf(out, "✗ claim %d: %v\n", r.Claim.ID, r.Error)
			case r.Error != nil:
				// verdict reached but not stored
				fmt.Fprintf(out, "! claim %d: %s (%v)\n", r.Claim.ID, r.Result.Verdict, r.Error)
			default:
				fmt.Fprintf(out, "✓ claim %d: %s (coverage %.1f%%)\n",
					r.Claim.ID, r.Result.Verdict, r.Result.Scores.CitationCoverage)
			}
		}

		if resultsPath != "" {
			if err := writeResults(resultsPath, results); err != nil {
				return err
			}
		}

		summary := worker.Summarize(results)
		fmt.Fprintf(out, "\n  Total: %d  PASS: %d  PASS_WARN: %d  FAIL: %d  degraded: %d  errors: %d\n",
			summary.Total, summary.Pass, summary.PassWarn, summary.Fail, summary.Degraded, summary.Errors)

		if claimsFile == "" && results[0].Result != nil {
			return printJSON(cmd.OutOrStdout(), results[0].Result)
		}
		return printJSON(cmd.OutOrStdout(), summary)
	})
}

type resultLine struct {
	Claim  model.ClaimInput      `json:"claim"`
	Result *model.TribunalResult `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// writeResults writes one JSON object per claim in input order
func writeResults(path string, results []*worker.ClaimResult) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close results file: %w", closeErr)
		}
	}()
	return encodeResults(f, results)
}

func encodeResults(w io.Writer, results []*worker.ClaimResult) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		line := resultLine{Claim: r.Claim, Result: r.Result}
		if r.Error != nil {
			line.Error = r.Error.Error()
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("write result for claim %d: %w", r.Claim.ID, err)
		}
	}
	return nil
}
