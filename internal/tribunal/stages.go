package tribunal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ppiankov/evidencegate/internal/citation"
	"github.com/ppiankov/evidencegate/internal/llm"
	"github.com/ppiankov/evidencegate/internal/metrics"
	"github.com/ppiankov/evidencegate/internal/model"
)

// stageOutcome is either a parsed stage output or the stage's conservative default
type stageOutcome[T any] struct {
	Output   T
	Raw      string
	Degraded bool
	Err      error
}

// AnalystOutput is the evidence-grounded formulation of the claim
type AnalystOutput struct {
	RefinedClaim       string        `json:"refinedClaim"`
	SupportingEvidence []EvidenceUse `json:"supportingEvidence"`
	EvidenceGaps       []string      `json:"evidenceGaps"`
	CitationsUsed      []int64       `json:"citationsUsed"`
	Confidence         string        `json:"confidence"`
}

// EvidenceUse is one evidence item the analyst relied on
type EvidenceUse struct {
	ID        int64  `json:"id"`
	Relevance string `json:"relevance"`
	Quote     string `json:"quote"`
}

// SkepticOutput is the adversarial review of the analyst's formulation
type SkepticOutput struct {
	Contradictions  []SkepticContradiction `json:"contradictions"`
	WeakInferences  []WeakInference        `json:"weakInferences"`
	MissingEvidence []string               `json:"missingEvidence"`
	BiasFlags       []BiasFlag             `json:"biasFlags"`
	OverallConcern  string                 `json:"overallConcern"`
	Recommendation  string                 `json:"recommendation"` // proceed, caution, reject
}

// SkepticContradiction is a disagreement the skeptic found
type SkepticContradiction struct {
	Description string  `json:"description"`
	Sources     []int64 `json:"sources"`
	Severity    string  `json:"severity"`
}

// WeakInference is a statement the evidence does not carry
type WeakInference struct {
	Statement string `json:"statement"`
	Reason    string `json:"reason"`
}

// BiasFlag is a concern about one source
type BiasFlag struct {
	Source  string `json:"source"`
	Concern string `json:"concern"`
}

// MethodCheck is one methodologist check
type MethodCheck struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues"`
}

// MethodologistOutput checks scope, units, regime tagging and statistics
type MethodologistOutput struct {
	TimeConsistency     MethodCheck `json:"timeConsistency"`
	UnitConsistency     MethodCheck `json:"unitConsistency"`
	RegimeTagging       MethodCheck `json:"regimeTagging"`
	Transformations     MethodCheck `json:"transformations"`
	StatisticalValidity MethodCheck `json:"statisticalValidity"`
	OverallValid        bool        `json:"overallValid"`
	Corrections         []string    `json:"corrections"`
}

type namedCheck struct {
	name  string
	check MethodCheck
}

func (m MethodologistOutput) checks() []namedCheck {
	return []namedCheck{
		{"time consistency", m.TimeConsistency},
		{"unit consistency", m.UnitConsistency},
		{"regime tagging", m.RegimeTagging},
		{"transformations", m.Transformations},
		{"statistical validity", m.StatisticalValidity},
	}
}

// JudgeOutput is the judge's synthesis
type JudgeOutput struct {
	Verdict           string          `json:"verdict"`
	PublishableText   string          `json:"publishableText"`
	MandatoryWarnings []string        `json:"mandatoryWarnings"`
	Limitations       []string        `json:"limitations"`
	WhatWouldChange   string          `json:"whatWouldChange"`
	DataGapTickets    []judgeTicket   `json:"dataGapTickets"`
	Scores            judgeScores     `json:"scores"`
	Reasoning         json.RawMessage `json:"reasoning"`
}

type judgeTicket struct {
	MissingField     string   `json:"missingField"`
	SuggestedSources []string `json:"suggestedSources"`
	Priority         string   `json:"priority"`
}

type judgeScores struct {
	CitationCoverage   float64 `json:"citationCoverage"`
	ContradictionScore float64 `json:"contradictionScore"`
	EvidenceStrength   float64 `json:"evidenceStrength"`
	Uncertainty        float64 `json:"uncertainty"`
}

// reasoningText flattens the judge's reasoning, which models return as a string or an object
func (j JudgeOutput) reasoningText() string {
	if len(j.Reasoning) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(j.Reasoning, &s); err == nil {
		return s
	}
	return string(j.Reasoning)
}

const systemPrompt = "You are an expert agent in an evidence tribunal for economic data. Always respond with valid JSON."

// runStage calls the inference service for one role. Any failure yields fallback marked degraded.
func runStage[T any](ctx context.Context, t *Tribunal, claimID int64, role model.Role, prompt string, fallback T) stageOutcome[T] {
	var out T
	raw, err := t.llm.CompleteJSON(ctx, llm.CompletionRequest{
		Stage:  string(role),
		System: systemPrompt,
		Prompt: prompt,
		JSON:   true,
	}, &out)
	if err != nil {
		t.logger.Warn("tribunal stage degraded", "claim", claimID, "stage", role, "error", err)
		metrics.RecordStageDegraded(string(role))
		if raw == "" {
			raw = "{}"
		}
		return stageOutcome[T]{Output: fallback, Raw: raw, Degraded: true, Err: err}
	}
	return stageOutcome[T]{Output: out, Raw: raw}
}

// Conservative defaults substituted for a stage that returned nothing usable

func analystFallback() AnalystOutput {
	return AnalystOutput{
		EvidenceGaps:  []string{},
		CitationsUsed: []int64{},
		Confidence:    "low",
	}
}

func skepticFallback() SkepticOutput {
	return SkepticOutput{
		OverallConcern: "high",
		Recommendation: "reject",
	}
}

func methodologistFallback() MethodologistOutput {
	return MethodologistOutput{
		OverallValid: false,
		Corrections:  []string{"Methodology review unavailable"},
	}
}

func judgeFallback(claim model.ClaimInput) JudgeOutput {
	return JudgeOutput{
		Verdict:           string(model.VerdictFail),
		PublishableText:   claim.Content,
		MandatoryWarnings: []string{"Failed to parse tribunal result"},
		Limitations:       []string{},
		WhatWouldChange:   "A tribunal run in which every stage returns a valid assessment",
	}
}

// Prompt builders

func formatEvidence(evidence []model.EvidenceItem) string {
	if len(evidence) == 0 {
		return "No evidence items found. This claim lacks supporting evidence."
	}
	type item struct {
		ID         int64  `json:"id"`
		ItemType   string `json:"itemType"`
		SourceOrg  string `json:"sourceOrg"`
		SourceDate string `json:"sourceDate,omitempty"`
		Text       string `json:"textContent"`
		PageRef    string `json:"pageRef,omitempty"`
		Grade      string `json:"confidenceGrade,omitempty"`
	}
	items := make([]item, len(evidence))
	for i, e := range evidence {
		items[i] = item{
			ID:         e.ID,
			ItemType:   e.ItemType,
			SourceOrg:  e.SourceOrg,
			SourceDate: e.SourceDate,
			Text:       citation.Truncate(citation.PlainText(e.Excerpt), 1000),
			PageRef:    e.PageRef,
			Grade:      string(e.Grade),
		}
	}
	data, _ := json.MarshalIndent(items, "", "  ")
	return string(data)
}

func formatClaim(c model.ClaimInput) string {
	data, _ := json.MarshalIndent(struct {
		Type    string `json:"type,omitempty"`
		Content string `json:"content"`
		Subject string `json:"subject,omitempty"`
	}{c.Type, c.Content, c.Subject}, "", "  ")
	return string(data)
}

func analystPrompt(evidence, claim string) string {
	return fmt.Sprintf(`You are the Analyst. Produce the best possible formulation of the claim using ONLY the evidence below.
Do not use outside knowledge.

Evidence Items:
%s

Claim to analyze:
%s

Identify which evidence items support the claim, note gaps in the evidence, and list every evidence ID you relied on.

Output format (JSON):
{
  "refinedClaim": "the evidence-grounded version of the claim",
  "supportingEvidence": [{"id": 1, "relevance": "high/medium/low", "quote": "relevant excerpt"}],
  "evidenceGaps": ["missing information"],
  "citationsUsed": [1, 2],
  "confidence": "high/medium/low"
}`, evidence, claim)
}

func skepticPrompt(evidence, claim, analyst string) string {
	return fmt.Sprintf(`You are the Skeptic. Stress-test the claim: find contradictions between evidence items, weak or
unsupported inferences, missing critical evidence, logical fallacies and source bias.

Evidence Items:
%s

Claim being analyzed:
%s

Analyst's assessment:
%s

Output format (JSON):
{
  "contradictions": [{"description": "...", "sources": [1, 2], "severity": "high/medium/low"}],
  "weakInferences": [{"statement": "...", "reason": "..."}],
  "missingEvidence": ["critical missing information"],
  "biasFlags": [{"source": "...", "concern": "..."}],
  "overallConcern": "high/medium/low",
  "recommendation": "proceed/caution/reject"
}`, evidence, claim, analyst)
}

func methodologistPrompt(evidence, claim string, c model.ClaimInput) string {
	year := "unknown"
	if c.YearContext > 0 {
		year = strconv.Itoa(c.YearContext)
	}
	return fmt.Sprintf(`You are the Methodologist. Check time scope, unit consistency, regime tagging, data
transformations and the statistical validity of any aggregation.

Evidence Items:
%s

Claim being analyzed:
%s

Context:
- Year context: %s
- Regime tag: %s
- Page context: %s

Output format (JSON):
{
  "timeConsistency": {"valid": true, "issues": []},
  "unitConsistency": {"valid": true, "issues": []},
  "regimeTagging": {"valid": true, "issues": []},
  "transformations": {"valid": true, "issues": []},
  "statisticalValidity": {"valid": true, "issues": []},
  "overallValid": true,
  "corrections": ["required corrections"]
}`, evidence, claim, year, c.RegimeTag, c.PageContext)
}

func judgePrompt(claim string, outputs model.RoleOutputs) string {
	return fmt.Sprintf(`You are the Judge. Make the final PASS/PASS_WARN/FAIL decision from the other roles' outputs.

Claim:
%s

Analyst: %s
Skeptic: %s
Methodologist: %s
Citation Auditor: %s

Decision criteria:
- PASS: citation coverage at least 95%%, no unresolved contradictions, methodology valid
- PASS_WARN: citation coverage 85-95%%, minor issues flagged
- FAIL: citation coverage below 85%%, unresolved contradictions, or methodology invalid

Draft publishable text (more conservative than the claim where needed), mandatory warnings, what would change
the verdict, and data gap tickets for missing information.

Output format (JSON):
{
  "verdict": "PASS/PASS_WARN/FAIL",
  "publishableText": "the text safe to publish",
  "mandatoryWarnings": ["warnings to display"],
  "limitations": ["limitations"],
  "whatWouldChange": "what evidence would change this verdict",
  "dataGapTickets": [{"missingField": "...", "suggestedSources": ["..."], "priority": "high/medium/low"}],
  "scores": {"citationCoverage": 95.5, "contradictionScore": 10, "evidenceStrength": 85, "uncertainty": 15},
  "reasoning": "reasoning for the verdict"
}`, claim, outputs.Analyst, outputs.Skeptic, outputs.Methodologist, outputs.CitationAuditor)
}

func parsePriority(s string) model.Priority {
	switch model.Priority(strings.ToLower(strings.TrimSpace(s))) {
	case model.PriorityHigh:
		return model.PriorityHigh
	case model.PriorityLow:
		return model.PriorityLow
	}
	return model.PriorityMedium
}
