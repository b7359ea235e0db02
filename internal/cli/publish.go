package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/publication"
)

// errNotPublishable makes the process exit non-zero without an extra message
var errNotPublishable = errors.New("publication denied")

type claimFlags struct {
	id          int64
	claimType   string
	content     string
	subject     string
	pageContext string
	yearContext int
	regimeTag   string
	contentType string
	requestedBy string
}

func (f *claimFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.id, "claim-id", 0, "claim id (required)")
	cmd.Flags().StringVar(&f.claimType, "type", "", "claim type (e.g. statistic, event, analysis)")
	cmd.Flags().StringVar(&f.content, "content", "", "claim text (required)")
	cmd.Flags().StringVar(&f.subject, "subject", "", "claim subject")
	cmd.Flags().StringVar(&f.pageContext, "page", "", "page the claim appears on")
	cmd.Flags().IntVar(&f.yearContext, "year", 0, "year the claim refers to")
	cmd.Flags().StringVar(&f.regimeTag, "regime", "", "political regime tag")
	cmd.Flags().StringVar(&f.contentType, "content-type", "claim", "content type recorded in the audit log")
	cmd.Flags().StringVar(&f.requestedBy, "requested-by", "cli", "requester recorded in the audit log")
	_ = cmd.MarkFlagRequired("claim-id")
	_ = cmd.MarkFlagRequired("content")
}

func (f *claimFlags) claim() model.ClaimInput {
	return model.ClaimInput{
		ID:          f.id,
		Type:        f.claimType,
		Content:     f.content,
		Subject:     f.subject,
		PageContext: f.pageContext,
		YearContext: f.yearContext,
		RegimeTag:   f.regimeTag,
	}.WithDefaults()
}

func (f *claimFlags) request() publication.Request {
	return publication.Request{
		ContentType: f.contentType,
		Claim:       f.claim(),
		RequestedBy: f.requestedBy,
	}
}

var (
	publishFlags  claimFlags
	forceFlags    claimFlags
	checkOnly     bool
	adminID       string
	justification string
	statsJSON     bool
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Request publication of a claim",
	Long: `Publish runs the claim through the publication gate: the deployment
check, then the tribunal (reusing a verdict from the last 24h when one exists).
The decision is appended to the audit log. Exits non-zero when denied.

Example:
  evidencegate publish --claim-id 42 --content "Inflation reached 40% in 2023" --year 2023
  evidencegate publish --claim-id 42 --content "..." --check`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			req := publishFlags.request()
			if checkOnly {
				check, err := a.publication.CanPublish(cmd.Context(), req)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), check); err != nil {
					return err
				}
				if !check.CanPublish {
					return errNotPublishable
				}
				return nil
			}
			result, err := a.publication.RequestPublication(cmd.Context(), req)
			return printPublication(cmd.OutOrStdout(), result, err)
		})
	},
}

var forcePublishCmd = &cobra.Command{
	Use:   "force-publish",
	Short: "Publish a claim over a failing verdict (admin override)",
	Long: `Force-publish always publishes. The tribunal still runs and its verdict,
the admin id and the justification are recorded in the audit log.

Example:
  evidencegate force-publish --claim-id 42 --content "..." --admin ops-1 --justification "editor approved"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			result, err := a.publication.ForcePublish(cmd.Context(), forceFlags.request(), adminID, justification)
			return printPublication(cmd.OutOrStdout(), result, err)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <content-type> <content-id>",
	Short: "Show the publication audit log for one piece of content",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid content id %q", args[1])
		}
		return withApp(cmd.Context(), func(a *app) error {
			entries, err := a.publication.History(cmd.Context(), args[0], id)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []model.PublicationLogEntry{}
			}
			return printJSON(cmd.OutOrStdout(), entries)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show publication, tribunal and update statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			ctx := cmd.Context()
			pubs, err := a.publication.Stats(ctx)
			if err != nil {
				return err
			}
			runs, err := a.tribunal.Stats(ctx)
			if err != nil {
				return err
			}
			updates, err := a.pipeline.Stats(ctx)
			if err != nil {
				return err
			}

			if statsJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"publications": pubs,
					"tribunal":     runs,
					"updates":      updates,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Publications:  %d requests, %d published, %d blocked, %d forced, pass rate %.1f%%\n",
				pubs.TotalRequests, pubs.TotalPublications, pubs.BlockedCount, pubs.ForcePublishCount, pubs.PassRate)
			fmt.Fprintf(w, "Tribunal:      %d runs, pass rate %.1f%%, avg citation coverage %.1f%%, %d open tickets\n",
				runs.TotalRuns, runs.PassRate, runs.AvgCoverage, runs.OpenTickets)
			fmt.Fprintf(w, "Update items:  %d total, %d published, %d queued, %d rejected, avg score %d\n",
				updates.Total, updates.ByStatus[model.UpdatePublished], updates.ByStatus[model.UpdateQueuedReview],
				updates.ByStatus[model.UpdateRejected], updates.AvgScore)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(publishCmd, forcePublishCmd, historyCmd, statsCmd)

	publishFlags.register(publishCmd)
	publishCmd.Flags().BoolVar(&checkOnly, "check", false, "only report whether the claim could be published; nothing is logged")

	forceFlags.register(forcePublishCmd)
	forcePublishCmd.Flags().StringVar(&adminID, "admin", "", "admin id (required)")
	forcePublishCmd.Flags().StringVar(&justification, "justification", "", "reason for the override (required)")
	_ = forcePublishCmd.MarkFlagRequired("admin")
	_ = forcePublishCmd.MarkFlagRequired("justification")

	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print statistics as JSON")
}

// printPublication prints the result and turns a denial into a non-zero exit
func printPublication(w io.Writer, result *publication.Result, err error) error {
	if result != nil {
		if perr := printJSON(w, result); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if !result.Allowed {
		return errNotPublishable
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
