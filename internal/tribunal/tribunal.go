// Package tribunal adjudicates claims through five sequential roles before publication.
package tribunal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ppiankov/evidencegate/internal/citation"
	"github.com/ppiankov/evidencegate/internal/llm"
	"github.com/ppiankov/evidencegate/internal/logging"
	"github.com/ppiankov/evidencegate/internal/metrics"
	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/store"
)

// recentRunsInStats is how many runs Stats returns
const recentRunsInStats = 10

// Store is the persistence the tribunal needs
type Store interface {
	store.EvidenceStore
	store.TribunalStore
}

// Tribunal runs the Analyst, Skeptic, Methodologist, Citation Auditor and Judge in order
type Tribunal struct {
	llm        llm.Completer
	store      Store
	verifier   *citation.Verifier
	conflicts  citation.ConflictDetector
	thresholds model.Thresholds
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Tribunal
type Option func(*Tribunal)

// WithConflictDetector lets the citation auditor also check the evidence for internal conflicts
func WithConflictDetector(d citation.ConflictDetector) Option {
	return func(t *Tribunal) { t.conflicts = d }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Tribunal) { t.now = now }
}

// New creates a tribunal. The citation auditor stage uses verifier.
func New(completer llm.Completer, s Store, verifier *citation.Verifier, thresholds model.Thresholds, opts ...Option) *Tribunal {
	t := &Tribunal{
		llm:        completer,
		store:      s,
		verifier:   verifier,
		thresholds: thresholds,
		now:        time.Now,
		logger:     logging.New("tribunal"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run adjudicates one claim and persists the result with its data-gap tickets.
// Stage failures never abort the run; they degrade the verdict to FAIL.
// The result is returned even if persisting it fails.
func (t *Tribunal) Run(ctx context.Context, claim model.ClaimInput) (*model.TribunalResult, error) {
	claim = claim.WithDefaults()
	if strings.TrimSpace(claim.Content) == "" {
		return nil, errors.New("claim content is required")
	}
	start := t.now()

	evidence, err := t.store.EvidenceForClaim(ctx, claim.ID)
	if err != nil {
		return nil, fmt.Errorf("collect evidence for claim %d: %w", claim.ID, err)
	}

	evidenceBlock := formatEvidence(evidence)
	claimBlock := formatClaim(claim)
	var outputs model.RoleOutputs
	var degraded []model.Role

	t.logger.Info("running analyst", "claim", claim.ID, "evidence", len(evidence))
	analyst := runStage(ctx, t, claim.ID, model.RoleAnalyst, analystPrompt(evidenceBlock, claimBlock), analystFallback())
	outputs.Analyst = analyst.Raw
	if analyst.Degraded {
		degraded = append(degraded, model.RoleAnalyst)
	}

	t.logger.Info("running skeptic", "claim", claim.ID)
	skeptic := runStage(ctx, t, claim.ID, model.RoleSkeptic, skepticPrompt(evidenceBlock, claimBlock, outputs.Analyst), skepticFallback())
	outputs.Skeptic = skeptic.Raw
	if skeptic.Degraded {
		degraded = append(degraded, model.RoleSkeptic)
	}

	t.logger.Info("running methodologist", "claim", claim.ID)
	method := runStage(ctx, t, claim.ID, model.RoleMethodologist, methodologistPrompt(evidenceBlock, claimBlock, claim), methodologistFallback())
	outputs.Methodologist = method.Raw
	if method.Degraded {
		degraded = append(degraded, model.RoleMethodologist)
	}

	// The auditor works on the raw claim text, independent of the analyst's citations
	t.logger.Info("running citation auditor", "claim", claim.ID)
	audit := t.verifier.FullVerification(ctx, claim.Content, evidence, t.conflicts)
	auditJSON, _ := json.Marshal(audit)
	outputs.CitationAuditor = string(auditJSON)
	if audit.Degraded {
		degraded = append(degraded, model.RoleCitationAuditor)
		metrics.RecordStageDegraded(string(model.RoleCitationAuditor))
	}

	t.logger.Info("running judge", "claim", claim.ID)
	judge := runStage(ctx, t, claim.ID, model.RoleJudge, judgePrompt(claimBlock, outputs), judgeFallback(claim))
	outputs.Judge = judge.Raw
	if judge.Degraded {
		degraded = append(degraded, model.RoleJudge)
	}

	result := t.decide(claim, analyst.Output, skeptic.Output, method.Output, audit, judge.Output, degraded, evidence)
	result.RoleOutputs = outputs
	result.CreatedAt = t.now()
	result.DurationMillis = result.CreatedAt.Sub(start).Milliseconds()

	metrics.RecordTribunalRun(string(result.Verdict), result.Degraded(), result.CreatedAt.Sub(start).Seconds())
	if result.Degraded() {
		t.logger.Warn("tribunal run degraded", "claim", claim.ID, "verdict", result.Verdict, "stages", degraded)
	} else {
		t.logger.Info("tribunal verdict", "claim", claim.ID, "verdict", result.Verdict, "coverage", result.Scores.CitationCoverage)
	}

	if err := t.persist(ctx, result); err != nil {
		return result, err
	}
	return result, nil
}

// decide combines the judge with the deterministic rule; the stricter verdict wins
func (t *Tribunal) decide(claim model.ClaimInput, analyst AnalystOutput, skeptic SkepticOutput, method MethodologistOutput,
	audit *citation.Result, judge JudgeOutput, degraded []model.Role, evidence []model.EvidenceItem) *model.TribunalResult {
	judgeVerdict := parseVerdict(judge.Verdict)
	ruleVerdict, ruleReasons := Rule(ruleInput(skeptic, method, audit), t.thresholds)
	verdict := model.Stricter(judgeVerdict, ruleVerdict)

	warnings := append([]string{}, judge.MandatoryWarnings...)
	if verdict.Rank() < judgeVerdict.Rank() {
		warnings = append(warnings, fmt.Sprintf("Verdict lowered from %s to %s: %s", judgeVerdict, verdict, strings.Join(ruleReasons, "; ")))
	}
	for _, role := range degraded {
		warnings = append(warnings, fmt.Sprintf("%s stage failed; conservative default applied", roleTitle(role)))
	}
	if len(degraded) > 0 {
		verdict = model.VerdictFail
	}

	scores := model.TribunalScores{
		CitationCoverage:   clampScore(audit.CoveragePercent),
		ContradictionScore: clampScore(judge.Scores.ContradictionScore),
		EvidenceStrength:   clampScore(judge.Scores.EvidenceStrength),
		Uncertainty:        clampScore(judge.Scores.Uncertainty),
	}
	if slices.Contains(degraded, model.RoleJudge) {
		scores = model.TribunalScores{}
	}

	text := strings.TrimSpace(judge.PublishableText)
	if text == "" {
		text = claim.Content
	}

	limitations := judge.Limitations
	if limitations == nil {
		limitations = []string{}
	}

	reasoning := judge.reasoningText()
	if len(ruleReasons) > 0 {
		reasoning = strings.TrimSpace(reasoning + "\nRule: " + strings.Join(ruleReasons, "; "))
	}

	return &model.TribunalResult{
		ClaimID:            claim.ID,
		Verdict:            verdict,
		PublishableText:    text,
		Warnings:           warnings,
		Limitations:        limitations,
		WhatWouldChange:    judge.WhatWouldChange,
		Scores:             scores,
		Reasoning:          reasoning,
		DataGapTickets:     t.tickets(claim, analyst, judge),
		DegradedStages:     degraded,
		SupportingEvidence: supportingEvidence(analyst, audit, evidence),
	}
}

// tickets takes the judge's tickets and adds one for every analyst gap the judge did not cover
func (t *Tribunal) tickets(claim model.ClaimInput, analyst AnalystOutput, judge JudgeOutput) []model.DataGapTicket {
	now := t.now()
	out := []model.DataGapTicket{}
	seen := make(map[string]bool)
	add := func(field string, sources []string, priority model.Priority) {
		field = strings.TrimSpace(field)
		key := strings.ToLower(field)
		if field == "" || seen[key] {
			return
		}
		seen[key] = true
		if sources == nil {
			sources = []string{}
		}
		out = append(out, model.DataGapTicket{
			ClaimID:          claim.ID,
			MissingField:     field,
			SuggestedSources: sources,
			Priority:         priority,
			PageContext:      claim.PageContext,
			Status:           "open",
			CreatedAt:        now,
		})
	}
	for _, tk := range judge.DataGapTickets {
		add(tk.MissingField, tk.SuggestedSources, parsePriority(tk.Priority))
	}
	for _, gap := range analyst.EvidenceGaps {
		add(gap, nil, model.PriorityMedium)
	}
	return out
}

func (t *Tribunal) persist(ctx context.Context, result *model.TribunalResult) error {
	if err := t.store.InsertTribunalRun(ctx, result); err != nil {
		t.logger.Error("failed to store tribunal run", "claim", result.ClaimID, "error", err)
		return fmt.Errorf("store tribunal run: %w", err)
	}
	if len(result.DataGapTickets) == 0 {
		return nil
	}
	if err := t.store.InsertTickets(ctx, result.DataGapTickets); err != nil {
		t.logger.Error("failed to store data gap tickets", "claim", result.ClaimID, "count", len(result.DataGapTickets), "error", err)
		return fmt.Errorf("store data gap tickets: %w", err)
	}
	return nil
}

// QuickVerify answers from the most recent run inside the reuse window without calling any role
func (t *Tribunal) QuickVerify(ctx context.Context, claimID int64) (*model.QuickVerification, error) {
	run, err := t.store.LatestTribunalRun(ctx, claimID, t.now().Add(-t.thresholds.TribunalReuseWindow))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &model.QuickVerification{
			Verdict:  model.VerdictFail,
			Warnings: []string{"No recent tribunal verification found"},
		}, nil
	case err != nil:
		return nil, fmt.Errorf("quick verify claim %d: %w", claimID, err)
	}
	at := run.CreatedAt
	return &model.QuickVerification{
		CanPublish: run.Verdict.Publishable(),
		Verdict:    run.Verdict,
		Warnings:   run.Warnings,
		RunAt:      &at,
	}, nil
}

// Recent returns the latest run for a claim inside the reuse window, or store.ErrNotFound
func (t *Tribunal) Recent(ctx context.Context, claimID int64) (*model.TribunalResult, error) {
	return t.store.LatestTribunalRun(ctx, claimID, t.now().Add(-t.thresholds.TribunalReuseWindow))
}

// Stats aggregates every stored run
func (t *Tribunal) Stats(ctx context.Context) (*model.TribunalStats, error) {
	return t.store.TribunalStats(ctx, recentRunsInStats)
}

// OpenTickets lists open data-gap tickets
func (t *Tribunal) OpenTickets(ctx context.Context, limit int) ([]model.DataGapTicket, error) {
	return t.store.OpenTickets(ctx, limit)
}

// supportingEvidence lists evidence ids cited by the auditor or the analyst, limited to the claim's evidence set
func supportingEvidence(analyst AnalystOutput, audit *citation.Result, evidence []model.EvidenceItem) []int64 {
	known := make(map[int64]bool, len(evidence))
	for _, e := range evidence {
		known[e.ID] = true
	}
	seen := make(map[int64]bool)
	var ids []int64
	add := func(id int64) {
		if known[id] && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, s := range audit.Sentences {
		for _, id := range s.EvidenceIDs {
			add(id)
		}
	}
	for _, id := range analyst.CitationsUsed {
		add(id)
	}
	return ids
}

func roleTitle(r model.Role) string {
	switch r {
	case model.RoleAnalyst:
		return "Analyst"
	case model.RoleSkeptic:
		return "Skeptic"
	case model.RoleMethodologist:
		return "Methodologist"
	case model.RoleCitationAuditor:
		return "Citation Auditor"
	case model.RoleJudge:
		return "Judge"
	}
	return string(r)
}
