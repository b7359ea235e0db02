// Package citation maps claim sentences to the evidence that supports them.
package citation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ppiankov/evidencegate/internal/llm"
	"github.com/ppiankov/evidencegate/internal/logging"
	"github.com/ppiankov/evidencegate/internal/model"
)

// Recommendation is the verifier's terminal verdict
type Recommendation string

const (
	RecommendPass Recommendation = "pass"
	RecommendWarn Recommendation = "warn"
	RecommendFail Recommendation = "fail"
)

// Verdict maps a recommendation onto the tribunal verdict scale
func (r Recommendation) Verdict() model.Verdict {
	switch r {
	case RecommendPass:
		return model.VerdictPass
	case RecommendWarn:
		return model.VerdictPassWarn
	}
	return model.VerdictFail
}

// Confidence is the auditor's certainty about one mapping
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

func parseConfidence(s string) Confidence {
	switch Confidence(strings.ToLower(strings.TrimSpace(s))) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceMedium:
		return ConfidenceMedium
	}
	return ConfidenceLow
}

// excerptRunes bounds how much of each evidence item is shown to the auditor
const excerptRunes = 200

// SentenceCitation is the audit of one sentence
type SentenceCitation struct {
	Sentence      string     `json:"sentence"`
	EvidenceIDs   []int64    `json:"evidenceIds"`
	Supported     bool       `json:"supported"`
	CitationDrift bool       `json:"citationDrift"`
	Confidence    Confidence `json:"confidence"`
	Notes         string     `json:"notes"`
}

// Result is the outcome of verifying one text
type Result struct {
	CoveragePercent      float64                  `json:"coveragePercent"`
	Sentences            []SentenceCitation       `json:"sentences"`
	UnsupportedSentences []string                 `json:"unsupportedSentences"`
	CitationDriftFlags   []string                 `json:"citationDriftFlags"`
	Conflicts            []model.EvidenceConflict `json:"contradictions"`
	Recommendation       Recommendation           `json:"recommendation"`
	Reasons              []string                 `json:"reasons"`

	// Degraded is set when the inference service failed and the conservative default was used
	Degraded bool `json:"degraded,omitempty"`
}

// ConflictDetector finds disagreements between evidence items
type ConflictDetector interface {
	DetectEvidenceConflicts(ctx context.Context, items []model.EvidenceItem) ([]model.EvidenceConflict, error)
}

// Verifier checks sentence-level citation coverage
type Verifier struct {
	llm        llm.Completer
	thresholds model.Thresholds
	batchSize  int
	logger     *slog.Logger
}

// NewVerifier creates a verifier. batchSize bounds sentences per inference call.
func NewVerifier(completer llm.Completer, thresholds model.Thresholds, batchSize int) *Verifier {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Verifier{
		llm:        completer,
		thresholds: thresholds,
		batchSize:  batchSize,
		logger:     logging.New("citation"),
	}
}

type mappingResponse struct {
	Mappings []struct {
		SentenceNum   int     `json:"sentenceNum"`
		EvidenceIDs   []int64 `json:"evidenceIds"`
		Supported     bool    `json:"supported"`
		CitationDrift bool    `json:"citationDrift"`
		Confidence    string  `json:"confidence"`
		Notes         string  `json:"notes"`
	} `json:"mappings"`
}

const auditorSystemPrompt = "You are a strict citation auditor. Only mark sentences as supported if the evidence directly supports the claim. Be conservative."

// Verify maps every sentence of text to supporting evidence and recommends pass, warn or fail
func (v *Verifier) Verify(ctx context.Context, text string, evidence []model.EvidenceItem) *Result {
	sentences := SplitSentences(text)

	if len(sentences) == 0 {
		return &Result{
			Sentences:            []SentenceCitation{},
			UnsupportedSentences: []string{},
			CitationDriftFlags:   []string{},
			Recommendation:       RecommendFail,
			Reasons:              []string{"No sentences found in text"},
		}
	}

	if len(evidence) == 0 {
		result := unsupportedResult(sentences, "No evidence items available")
		result.Reasons = []string{"No evidence items provided"}
		return result
	}

	known := make(map[int64]bool, len(evidence))
	for _, e := range evidence {
		known[e.ID] = true
	}
	evidenceBlock := formatEvidence(evidence)

	citations := make([]SentenceCitation, 0, len(sentences))
	for start := 0; start < len(sentences); start += v.batchSize {
		end := min(start+v.batchSize, len(sentences))
		batch, err := v.mapBatch(ctx, sentences[start:end], evidenceBlock, known)
		if err != nil {
			v.logger.Warn("citation verification degraded", "error", err, "sentences", len(sentences))
			result := unsupportedResult(sentences, "Verification failed")
			result.Reasons = []string{"Citation verification process failed"}
			result.Degraded = true
			return result
		}
		citations = append(citations, batch...)
	}

	return v.summarize(citations)
}

// FullVerification runs Verify and then checks the evidence for internal conflicts.
// A high-severity unresolved conflict fails the text; any other unresolved conflict downgrades pass to warn.
func (v *Verifier) FullVerification(ctx context.Context, text string, evidence []model.EvidenceItem, detector ConflictDetector) *Result {
	result := v.Verify(ctx, text, evidence)
	if detector == nil {
		return result
	}

	conflicts, err := detector.DetectEvidenceConflicts(ctx, evidence)
	if err != nil {
		v.logger.Warn("evidence conflict detection failed", "error", err)
		if result.Recommendation == RecommendPass {
			result.Recommendation = RecommendWarn
		}
		result.Reasons = append(result.Reasons, "Contradiction check could not be completed")
		return result
	}
	result.Conflicts = conflicts

	unresolved, high := 0, 0
	for _, c := range conflicts {
		if c.Resolved {
			continue
		}
		unresolved++
		if c.Severity == model.SeverityHigh {
			high++
		}
	}

	switch {
	case high > 0:
		result.Recommendation = RecommendFail
		result.Reasons = append(result.Reasons, fmt.Sprintf("%d high-severity unresolved contradictions", high))
	case unresolved > 0 && result.Recommendation == RecommendPass:
		result.Recommendation = RecommendWarn
		result.Reasons = append(result.Reasons, fmt.Sprintf("%d unresolved contradictions require attention", unresolved))
	}

	return result
}

func (v *Verifier) mapBatch(ctx context.Context, sentences []string, evidenceBlock string, known map[int64]bool) ([]SentenceCitation, error) {
	var resp mappingResponse
	_, err := v.llm.CompleteJSON(ctx, llm.CompletionRequest{
		Stage:  "citation",
		System: auditorSystemPrompt,
		Prompt: buildMappingPrompt(sentences, evidenceBlock),
	}, &resp)
	if err != nil {
		return nil, err
	}

	byNum := make(map[int]int, len(resp.Mappings))
	for i, m := range resp.Mappings {
		if _, dup := byNum[m.SentenceNum]; !dup {
			byNum[m.SentenceNum] = i
		}
	}

	out := make([]SentenceCitation, len(sentences))
	for i, sentence := range sentences {
		idx, ok := byNum[i+1]
		if !ok {
			out[i] = SentenceCitation{
				Sentence:    sentence,
				EvidenceIDs: []int64{},
				Confidence:  ConfidenceLow,
				Notes:       "No mapping found",
			}
			continue
		}
		m := resp.Mappings[idx]

		sc := SentenceCitation{
			Sentence:      sentence,
			EvidenceIDs:   []int64{},
			Supported:     m.Supported,
			CitationDrift: m.CitationDrift,
			Confidence:    parseConfidence(m.Confidence),
			Notes:         m.Notes,
		}
		var unknown []int64
		for _, id := range m.EvidenceIDs {
			if known[id] {
				sc.EvidenceIDs = append(sc.EvidenceIDs, id)
			} else {
				unknown = append(unknown, id)
			}
		}
		// Citing evidence outside the bundle is drift; support needs at least one real item
		if len(unknown) > 0 {
			sc.CitationDrift = true
			sc.Notes = strings.TrimSpace(sc.Notes + fmt.Sprintf(" cites unknown evidence %v", unknown))
		}
		if len(sc.EvidenceIDs) == 0 {
			sc.Supported = false
		}
		out[i] = sc
	}
	return out, nil
}

func (v *Verifier) summarize(citations []SentenceCitation) *Result {
	result := &Result{
		Sentences:            citations,
		UnsupportedSentences: []string{},
		CitationDriftFlags:   []string{},
	}

	supported := 0
	for _, c := range citations {
		if c.Supported {
			supported++
		} else {
			result.UnsupportedSentences = append(result.UnsupportedSentences, c.Sentence)
		}
		if c.CitationDrift {
			result.CitationDriftFlags = append(result.CitationDriftFlags, fmt.Sprintf("%q - %s", c.Sentence, c.Notes))
		}
	}
	result.CoveragePercent = float64(supported) / float64(len(citations)) * 100
	result.Recommendation, result.Reasons = Recommend(result.CoveragePercent, len(result.CitationDriftFlags), len(result.UnsupportedSentences), v.thresholds)
	return result
}

// Recommend applies the coverage rule: pass needs coverage at the pass threshold and no drift,
// warn needs coverage at the warn threshold, anything lower fails.
func Recommend(coverage float64, driftCount, unsupportedCount int, th model.Thresholds) (Recommendation, []string) {
	switch {
	case coverage >= th.CitationPass && driftCount == 0:
		return RecommendPass, []string{fmt.Sprintf("Citation coverage %.1f%% meets threshold", coverage)}
	case coverage >= th.CitationWarn:
		reasons := []string{fmt.Sprintf("Citation coverage %.1f%% is below %.0f%% threshold", coverage, th.CitationPass)}
		if coverage >= th.CitationPass {
			reasons = []string{fmt.Sprintf("Citation coverage %.1f%% meets threshold", coverage)}
		}
		if driftCount > 0 {
			reasons = append(reasons, fmt.Sprintf("%d citation drift issues detected", driftCount))
		}
		return RecommendWarn, reasons
	default:
		reasons := []string{fmt.Sprintf("Citation coverage %.1f%% is below %.0f%% minimum", coverage, th.CitationWarn)}
		if unsupportedCount > 0 {
			reasons = append(reasons, fmt.Sprintf("%d sentences lack evidence support", unsupportedCount))
		}
		return RecommendFail, reasons
	}
}

func unsupportedResult(sentences []string, note string) *Result {
	citations := make([]SentenceCitation, len(sentences))
	for i, s := range sentences {
		citations[i] = SentenceCitation{
			Sentence:    s,
			EvidenceIDs: []int64{},
			Confidence:  ConfidenceLow,
			Notes:       note,
		}
	}
	return &Result{
		Sentences:            citations,
		UnsupportedSentences: append([]string(nil), sentences...),
		CitationDriftFlags:   []string{},
		Recommendation:       RecommendFail,
	}
}

func formatEvidence(evidence []model.EvidenceItem) string {
	var b strings.Builder
	for _, e := range evidence {
		fmt.Fprintf(&b, "ID %d (%s): %q\n", e.ID, e.SourceOrg, Truncate(PlainText(e.Excerpt), excerptRunes))
	}
	return b.String()
}

func buildMappingPrompt(sentences []string, evidenceBlock string) string {
	var b strings.Builder
	b.WriteString("For each sentence, identify which evidence items (by ID) support it.\n\nSentences to verify:\n")
	for i, s := range sentences {
		fmt.Fprintf(&b, "%d. %q\n", i+1, s)
	}
	b.WriteString("\nEvidence items available:\n")
	b.WriteString(evidenceBlock)
	b.WriteString(`
For each sentence report the supporting evidence IDs (empty if none), whether there is citation drift
(evidence cited but does not actually support the statement) and a confidence level (high/medium/low).

Output JSON format:
{
  "mappings": [
    {"sentenceNum": 1, "evidenceIds": [1, 2], "supported": true, "citationDrift": false, "confidence": "high", "notes": "any issues"}
  ]
}`)
	return b.String()
}
