package contradiction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/evidencegate/internal/llm"
	"github.com/ppiankov/evidencegate/internal/logging"
	"github.com/ppiankov/evidencegate/internal/model"
)

// excerptRunes bounds how much of each evidence item is shown to the model
const excerptRunes = 500

// EvidenceAnalyzer asks the inference service for conflicts inside one evidence bundle
type EvidenceAnalyzer struct {
	llm    llm.Completer
	logger *slog.Logger
}

// NewEvidenceAnalyzer creates an analyzer
func NewEvidenceAnalyzer(completer llm.Completer) *EvidenceAnalyzer {
	return &EvidenceAnalyzer{
		llm:    completer,
		logger: logging.New("contradiction"),
	}
}

type conflictResponse struct {
	Contradictions []struct {
		Description string `json:"description"`
		SourceAID   int64  `json:"sourceAId"`
		SourceBID   int64  `json:"sourceBId"`
		ValueA      string `json:"valueA"`
		ValueB      string `json:"valueB"`
		Severity    string `json:"severity"`
		LikelyCause string `json:"likelyCause"`
	} `json:"contradictions"`
}

const conflictSystemPrompt = "You are an expert at detecting data contradictions. Be thorough but avoid flagging minor differences that can be explained by rounding or timing."

// DetectEvidenceConflicts returns conflicts between items. Fewer than two items cannot conflict.
// Conflicts citing ids outside the bundle are dropped.
func (a *EvidenceAnalyzer) DetectEvidenceConflicts(ctx context.Context, items []model.EvidenceItem) ([]model.EvidenceConflict, error) {
	if len(items) < 2 {
		return []model.EvidenceConflict{}, nil
	}

	byID := make(map[int64]model.EvidenceItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	var resp conflictResponse
	if _, err := a.llm.CompleteJSON(ctx, llm.CompletionRequest{
		Stage:  "contradiction",
		System: conflictSystemPrompt,
		Prompt: buildConflictPrompt(items),
	}, &resp); err != nil {
		return nil, fmt.Errorf("detect evidence conflicts: %w", err)
	}

	conflicts := make([]model.EvidenceConflict, 0, len(resp.Contradictions))
	for _, c := range resp.Contradictions {
		itemA, okA := byID[c.SourceAID]
		itemB, okB := byID[c.SourceBID]
		if !okA || !okB || c.SourceAID == c.SourceBID {
			a.logger.Debug("dropping conflict with unknown evidence", "sourceA", c.SourceAID, "sourceB", c.SourceBID)
			continue
		}
		cause := c.LikelyCause
		if cause == "" {
			cause = "Unknown cause"
		}
		conflicts = append(conflicts, model.EvidenceConflict{
			Description: c.Description,
			SourceA:     model.ConflictSide{EvidenceID: itemA.ID, Org: itemA.SourceOrg, Value: c.ValueA},
			SourceB:     model.ConflictSide{EvidenceID: itemB.ID, Org: itemB.SourceOrg, Value: c.ValueB},
			Severity:    model.ParseSeverity(c.Severity),
			LikelyCause: cause,
		})
	}
	return conflicts, nil
}

func buildConflictPrompt(items []model.EvidenceItem) string {
	var b strings.Builder
	b.WriteString("Analyze these evidence items and identify any contradictions.\n\nEvidence items:\n")
	for i, e := range items {
		if i > 0 {
			b.WriteString("---\n")
		}
		excerpt := e.Excerpt
		if utf8.RuneCountInString(excerpt) > excerptRunes {
			excerpt = string([]rune(excerpt)[:excerptRunes])
		}
		fmt.Fprintf(&b, "ID %d (%s, %s, Grade %s):\n%q\n", e.ID, e.SourceOrg, e.SourceDate, e.Grade, excerpt)
	}
	b.WriteString(`
Look for different values for the same metric, conflicting statements about the same event,
inconsistent time periods or definitions, and different methodologies producing different results.
For each contradiction explain the likely cause.

Output JSON format:
{
  "contradictions": [
    {"description": "...", "sourceAId": 1, "sourceBId": 2, "valueA": "...", "valueB": "...", "severity": "high|medium|low", "likelyCause": "..."}
  ]
}`)
	return b.String()
}
