package gates

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/evidencegate/internal/cache"
	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/store"
)

// Gate names as they appear in decisions and in the critical gate table
const (
	EvidenceGate      = "Evidence Gate"
	SourceGate        = "Source Gate"
	TranslationGate   = "Translation Gate"
	SensitivityGate   = "Sensitivity Gate"
	ContradictionGate = "Contradiction Gate"
	QualityGate       = "Quality Gate"
	SystemGate        = "System Gate"
)

// defaultGradeScore applies when the confidence grade is missing or unknown
const defaultGradeScore = 50

func result(gate string, passed bool, score int, reason string, warnings ...string) model.GateResult {
	return model.GateResult{
		GateName: gate,
		Passed:   passed,
		Score:    score,
		Reasons:  []string{reason},
		Warnings: nonNil(warnings),
	}
}

// Evidence requires an evidence pack whose bundle carries citations
func Evidence(item *model.UpdateItem) model.GateResult {
	if item.EvidencePackID == nil {
		return result(EvidenceGate, false, 0, "No evidence pack attached")
	}
	if item.Bundle == nil {
		return result(EvidenceGate, false, 20, "Evidence pack exists but no evidence bundle found")
	}
	n := len(item.Bundle.Citations)
	if n == 0 {
		return result(EvidenceGate, false, 30, "Evidence bundle has no citations")
	}
	return result(EvidenceGate, true, min(100, 50+n*10), fmt.Sprintf("Evidence pack with %d citation(s)", n))
}

// Translation requires complete English and Arabic content without placeholders
func Translation(item *model.UpdateItem, placeholders []string) model.GateResult {
	hasEn := item.TitleEn != "" && item.SummaryEn != ""
	hasAr := item.TitleAr != "" && item.SummaryAr != ""

	switch {
	case !hasEn && !hasAr:
		return result(TranslationGate, false, 0, "Missing both English and Arabic content")
	case !hasEn:
		return result(TranslationGate, false, 50, "Missing English translation")
	case !hasAr:
		return result(TranslationGate, false, 50, "Missing Arabic translation")
	}

	var found []string
	for _, text := range []string{item.TitleEn, item.SummaryEn, item.TitleAr, item.SummaryAr} {
		for _, p := range placeholders {
			if p != "" && strings.Contains(text, p) && !slices.Contains(found, p) {
				found = append(found, p)
			}
		}
	}
	if len(found) > 0 {
		warnings := make([]string, len(found))
		for i, p := range found {
			warnings[i] = "placeholder: " + p
		}
		return result(TranslationGate, false, 70, "Translation placeholders detected - needs human review", warnings...)
	}
	return result(TranslationGate, true, 100, "Both English and Arabic content present")
}

// Sensitivity passes only content explicitly classified as public-safe
func Sensitivity(item *model.UpdateItem) model.GateResult {
	switch item.Sensitivity {
	case model.SensitivityPublicSafe:
		return result(SensitivityGate, true, 100, "Content classified as public-safe")
	case model.SensitivityNeedsReview:
		return result(SensitivityGate, false, 60, "Content flagged for sensitivity review")
	case model.SensitivityRestrictedMeta:
		return result(SensitivityGate, false, 20, "Content marked as restricted - metadata only")
	}
	return result(SensitivityGate, false, 40, "Unknown sensitivity classification")
}

// Quality scores the confidence grade, adding 5 per good DQAF dimension
func Quality(item *model.UpdateItem, policy model.PolicyTables, passScore int) model.GateResult {
	score, ok := policy.GradeScores[string(item.ConfidenceGrade)]
	if !ok {
		score = defaultGradeScore
	}
	for _, dim := range policy.DQAFDimensions {
		rating := strings.ToLower(item.DQAF[strings.ToLower(dim)])
		if slices.Contains(policy.DQAFGoodRatings, rating) {
			score += 5
		}
	}

	grade := string(item.ConfidenceGrade)
	if grade == "" {
		grade = "(none)"
	}
	if score >= passScore {
		return result(QualityGate, true, min(100, score), fmt.Sprintf("Quality grade %s meets threshold", grade))
	}
	return result(QualityGate, false, min(100, score), fmt.Sprintf("Quality grade %s below threshold", grade))
}

// source resolves the item's source against the registry, or its URL against trusted domains
func (p *Pipeline) source(ctx context.Context, item *model.UpdateItem) model.GateResult {
	if item.SourceID == nil {
		if TrustedHost(item.SourceURL, p.policy.TrustedDomains) {
			return result(SourceGate, true, 80, "Source URL from trusted domain")
		}
		return result(SourceGate, false, 30, "No source ID and URL not from trusted domain")
	}

	src, err := p.lookupSource(ctx, *item.SourceID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return result(SourceGate, false, 20, "Source ID not found in registry")
	case err != nil:
		p.logger.Warn("source lookup failed", "update_id", item.ID, "source_id", *item.SourceID, "error", err)
		return result(SourceGate, false, 0, "Source registry unavailable: "+err.Error())
	}
	return result(SourceGate, true, 100, "Source verified: "+src.Name)
}

// TrustedHost reports whether rawURL's host is one of domains or a subdomain of one.
// Only the host counts; a domain mentioned in the path or query does not.
func TrustedHost(rawURL string, domains []string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return false
	}
	for _, domain := range domains {
		domain = strings.Trim(strings.ToLower(strings.TrimSpace(domain)), ".")
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// cachedSource is a registry lookup result; Missing records a known-unknown id
type cachedSource struct {
	Source  *model.Source `json:"source,omitempty"`
	Missing bool          `json:"missing,omitempty"`
}

// missingSourceTTL is short so newly registered sources are picked up quickly
const missingSourceTTL = time.Minute

func (p *Pipeline) lookupSource(ctx context.Context, id int64) (*model.Source, error) {
	key := cache.Key("source", strconv.FormatInt(id, 10))
	var hit cachedSource
	if cache.GetJSON(p.sources, key, &hit) {
		if hit.Missing {
			return nil, store.ErrNotFound
		}
		if hit.Source != nil {
			return hit.Source, nil
		}
	}

	found, err := p.store.Source(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		p.cacheSource(key, cachedSource{Missing: true}, min(missingSourceTTL, p.sourceTTL))
		return nil, err
	case err != nil:
		return nil, err
	}
	p.cacheSource(key, cachedSource{Source: found}, p.sourceTTL)
	return found, nil
}

func (p *Pipeline) cacheSource(key string, v cachedSource, ttl time.Duration) {
	if err := cache.SetJSON(p.sources, key, v, ttl); err != nil {
		p.logger.Debug("cache source failed", "key", key, "error", err)
	}
}

// contradictions fails when an open contradiction mentions one of the item's sectors or entities
func (p *Pipeline) contradictions(ctx context.Context, item *model.UpdateItem) model.GateResult {
	if len(item.Sectors) == 0 && len(item.Entities) == 0 {
		return result(ContradictionGate, true, 80, "No sectors/entities to check for contradictions")
	}

	open, err := p.store.Contradictions(ctx, store.ContradictionFilter{
		Statuses: []model.ContradictionStatus{model.StatusDetected, model.StatusInvestigating},
	})
	if err != nil {
		p.logger.Warn("contradiction lookup failed", "update_id", item.ID, "error", err)
		return result(ContradictionGate, false, 0, "Contradiction registry unavailable: "+err.Error())
	}

	terms := make([]string, 0, len(item.Sectors)+len(item.Entities))
	for _, t := range append(slices.Clone(item.Sectors), item.Entities...) {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}

	var related []string
	for _, rec := range open {
		desc := strings.ToLower(rec.Description)
		if slices.ContainsFunc(terms, func(t string) bool { return strings.Contains(desc, t) }) {
			related = append(related, fmt.Sprintf("contradiction %d: %s", rec.ID, rec.IndicatorCode))
		}
	}
	if len(related) > 0 {
		return result(ContradictionGate, false, 40, fmt.Sprintf("%d related contradiction(s) found", len(related)), related...)
	}
	return result(ContradictionGate, true, 100, "No related contradictions found")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
