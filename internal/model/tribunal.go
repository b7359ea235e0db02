package model

import "time"

// Verdict is the Tribunal's final judgment on a claim
type Verdict string

const (
	VerdictPass     Verdict = "PASS"
	VerdictPassWarn Verdict = "PASS_WARN"
	VerdictFail     Verdict = "FAIL"
)

// Publishable reports whether the verdict allows publication without override
func (v Verdict) Publishable() bool {
	return v == VerdictPass || v == VerdictPassWarn
}

// Valid reports whether v is a known verdict
func (v Verdict) Valid() bool {
	return v == VerdictPass || v == VerdictPassWarn || v == VerdictFail
}

// Rank orders verdicts from most to least conservative (FAIL=0)
func (v Verdict) Rank() int {
	switch v {
	case VerdictPass:
		return 2
	case VerdictPassWarn:
		return 1
	}
	return 0
}

// Stricter returns the more conservative of two verdicts
func Stricter(a, b Verdict) Verdict {
	if a.Rank() <= b.Rank() {
		return a
	}
	return b
}

// Role names one adjudication stage
type Role string

const (
	RoleAnalyst         Role = "analyst"
	RoleSkeptic         Role = "skeptic"
	RoleMethodologist   Role = "methodologist"
	RoleCitationAuditor Role = "citation_auditor"
	RoleJudge           Role = "judge"
)

// Roles lists the stages in execution order
var Roles = []Role{RoleAnalyst, RoleSkeptic, RoleMethodologist, RoleCitationAuditor, RoleJudge}

// TribunalScores are the Judge's 0–100 scores
type TribunalScores struct {
	CitationCoverage   float64 `json:"citationCoverage"`
	ContradictionScore float64 `json:"contradictionScore"`
	EvidenceStrength   float64 `json:"evidenceStrength"`
	Uncertainty        float64 `json:"uncertainty"`
}

// Priority ranks a data-gap ticket
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// DataGapTicket records evidence the Tribunal found missing
type DataGapTicket struct {
	ID               int64     `json:"id,omitempty"`
	ClaimID          int64     `json:"claimId"`
	MissingField     string    `json:"missingField"`
	SuggestedSources []string  `json:"suggestedSources"`
	Priority         Priority  `json:"priority"`
	PageContext      string    `json:"pageContext,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
}

// RoleOutputs keeps each stage's raw model output for audit
type RoleOutputs struct {
	Analyst         string `json:"analyst"`
	Skeptic         string `json:"skeptic"`
	Methodologist   string `json:"methodologist"`
	CitationAuditor string `json:"citationAuditor"`
	Judge           string `json:"judge"`
}

// TribunalResult is the outcome of one adjudication run
type TribunalResult struct {
	ID                 int64           `json:"id,omitempty"`
	ClaimID            int64           `json:"claimId"`
	Verdict            Verdict         `json:"verdict"`
	PublishableText    string          `json:"publishableText"`
	Warnings           []string        `json:"warnings"`
	Limitations        []string        `json:"limitations"`
	WhatWouldChange    string          `json:"whatWouldChange"`
	Scores             TribunalScores  `json:"scores"`
	Reasoning          string          `json:"reasoning,omitempty"`
	DataGapTickets     []DataGapTicket `json:"dataGapTickets"`
	DegradedStages     []Role          `json:"degradedStages,omitempty"`
	RoleOutputs        RoleOutputs     `json:"roleOutputs"`
	CreatedAt          time.Time       `json:"createdAt"`
	DurationMillis     int64           `json:"durationMs"`
	SupportingEvidence []int64         `json:"supportingEvidence,omitempty"`
}

// Degraded reports whether any stage fell back to its conservative default
func (r *TribunalResult) Degraded() bool {
	return len(r.DegradedStages) > 0
}

// TribunalStats aggregates past runs
type TribunalStats struct {
	TotalRuns        int              `json:"totalRuns"`
	PassCount        int              `json:"passCount"`
	PassWarnCount    int              `json:"passWarnCount"`
	FailCount        int              `json:"failCount"`
	PassRate         float64          `json:"passRate"` // PASS counts 1, PASS_WARN counts 0.5
	AvgCoverage      float64          `json:"avgCitationCoverage"`
	AvgContradiction float64          `json:"avgContradictionScore"`
	OpenTickets      int              `json:"openDataGapTickets"`
	RecentRuns       []TribunalResult `json:"recentRuns"`
}

// QuickVerification is the cached-run answer to "may this claim be published?"
type QuickVerification struct {
	CanPublish bool       `json:"canPublish"`
	Verdict    Verdict    `json:"verdict"`
	Warnings   []string   `json:"warnings"`
	RunAt      *time.Time `json:"runAt,omitempty"`
}
