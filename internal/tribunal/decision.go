package tribunal

import (
	"fmt"
	"strings"

	"github.com/ppiankov/evidencegate/internal/citation"
	"github.com/ppiankov/evidencegate/internal/model"
)

// RuleInput is what the deterministic verdict rule looks at
type RuleInput struct {
	Coverage         float64
	DriftCount       int
	Unresolved       int // contradictions at medium severity or above
	MethodologyValid bool
	MinorIssues      []string

	// Auditor is the citation auditor's own recommendation; empty means none was given.
	// The rule never ends up more lenient than it.
	Auditor        model.Verdict
	AuditorReasons []string
}

// Rule applies the publication criteria without the judge:
// FAIL below warn coverage, on unresolved contradictions or invalid methodology;
// PASS at pass coverage with no drift and nothing flagged; PASS_WARN otherwise.
func Rule(in RuleInput, th model.Thresholds) (model.Verdict, []string) {
	var reasons []string
	if in.Coverage < th.CitationWarn {
		reasons = append(reasons, fmt.Sprintf("Citation coverage %.1f%% is below %.0f%% minimum", in.Coverage, th.CitationWarn))
	}
	if in.Unresolved > 0 {
		reasons = append(reasons, fmt.Sprintf("%d unresolved contradictions", in.Unresolved))
	}
	if !in.MethodologyValid {
		reasons = append(reasons, "Methodology is not valid")
	}
	if len(reasons) == 0 && in.Auditor == model.VerdictFail {
		reasons = append(reasons, auditorReason("fail", in.AuditorReasons))
	}
	if len(reasons) > 0 {
		return model.VerdictFail, reasons
	}

	if in.Coverage < th.CitationPass {
		reasons = append(reasons, fmt.Sprintf("Citation coverage %.1f%% is below %.0f%% threshold", in.Coverage, th.CitationPass))
	}
	if in.DriftCount > 0 {
		reasons = append(reasons, fmt.Sprintf("%d citation drift issues detected", in.DriftCount))
	}
	reasons = append(reasons, in.MinorIssues...)
	if len(reasons) == 0 && in.Auditor == model.VerdictPassWarn {
		reasons = append(reasons, auditorReason("warn", in.AuditorReasons))
	}
	if len(reasons) > 0 {
		return model.VerdictPassWarn, reasons
	}
	return model.VerdictPass, nil
}

func auditorReason(rec string, reasons []string) string {
	if len(reasons) == 0 {
		return "Citation auditor recommends " + rec
	}
	return "Citation auditor recommends " + rec + ": " + strings.Join(reasons, "; ")
}

// ruleInput collects the deterministic facts from the stage outputs
func ruleInput(skeptic SkepticOutput, method MethodologistOutput, audit *citation.Result) RuleInput {
	in := RuleInput{
		Coverage:         audit.CoveragePercent,
		DriftCount:       len(audit.CitationDriftFlags),
		MethodologyValid: method.OverallValid,
	}
	if audit.Recommendation != "" {
		in.Auditor = audit.Recommendation.Verdict()
		in.AuditorReasons = audit.Reasons
	}

	for _, c := range method.checks() {
		if !c.check.Valid {
			in.MethodologyValid = false
		}
	}
	if len(method.Corrections) > 0 && in.MethodologyValid {
		in.MinorIssues = append(in.MinorIssues, fmt.Sprintf("%d methodology corrections suggested", len(method.Corrections)))
	}

	minor := 0
	for _, c := range skeptic.Contradictions {
		if model.ParseSeverity(c.Severity) == model.SeverityLow {
			minor++
			continue
		}
		in.Unresolved++
	}
	for _, c := range audit.Conflicts {
		if c.Resolved {
			continue
		}
		if c.Severity == model.SeverityLow {
			minor++
			continue
		}
		in.Unresolved++
	}
	if minor > 0 {
		in.MinorIssues = append(in.MinorIssues, fmt.Sprintf("%d minor contradictions flagged", minor))
	}
	if n := len(skeptic.WeakInferences); n > 0 {
		in.MinorIssues = append(in.MinorIssues, fmt.Sprintf("%d weak inferences flagged", n))
	}
	switch rec := strings.ToLower(strings.TrimSpace(skeptic.Recommendation)); rec {
	case "caution", "reject":
		in.MinorIssues = append(in.MinorIssues, "Skeptic recommends "+rec)
	}
	return in
}

// parseVerdict reads the judge's verdict; anything unrecognised is FAIL
func parseVerdict(s string) model.Verdict {
	v := model.Verdict(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")))
	if v.Valid() {
		return v
	}
	return model.VerdictFail
}

func clampScore(v float64) float64 {
	return max(0, min(100, v))
}
