// Package contradiction detects and tracks disagreements between data sources.
package contradiction

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/evidencegate/internal/logging"
	"github.com/ppiankov/evidencegate/internal/metrics"
	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/store"
)

// Plausible reasons attached to a contradiction record
const (
	ReasonMethodology  = "Different calculation methodologies used by sources"
	ReasonTiming       = "Data collected at different points in time"
	ReasonCoverage     = "Different geographic or demographic coverage"
	ReasonRegime       = "Different administrative zones or regime-specific reporting"
	ReasonExchangeRate = "Different exchange rates used for currency conversion"
	ReasonSampling     = "Different sampling methods or sample sizes"
)

// Detector compares sourced values and manages the contradiction registry
type Detector struct {
	store      store.ContradictionStore
	thresholds model.Thresholds
	policy     model.PolicyTables
	now        func() time.Time
	logger     *slog.Logger
}

// NewDetector creates a detector backed by s
func NewDetector(s store.ContradictionStore, thresholds model.Thresholds, policy model.PolicyTables) *Detector {
	return &Detector{
		store:      s,
		thresholds: thresholds,
		policy:     policy,
		now:        time.Now,
		logger:     logging.New("contradiction"),
	}
}

// DiscrepancyPercent returns |v1-v2| relative to their mean, as a percentage.
// It is symmetric in its arguments. When the mean is 0 but the values differ
// (opposite signs) the gap is measured against the larger magnitude, giving 200.
func DiscrepancyPercent(v1, v2 float64) float64 {
	if v1 == v2 {
		return 0
	}
	avg := (v1 + v2) / 2
	if avg == 0 {
		return math.Abs(v1-v2) / math.Max(math.Abs(v1), math.Abs(v2)) * 100
	}
	return math.Abs(v1-v2) / math.Abs(avg) * 100
}

// Classify buckets a discrepancy percentage
func (d *Detector) Classify(percent float64) model.DiscrepancyClass {
	switch {
	case percent < d.thresholds.DiscrepancyMinor:
		return model.DiscrepancyMinor
	case percent < d.thresholds.DiscrepancySignificant:
		return model.DiscrepancySignificant
	case percent < d.thresholds.DiscrepancyMajor:
		return model.DiscrepancyMajor
	}
	return model.DiscrepancyCritical
}

// PlausibleReasons lists likely explanations for a discrepancy, most general first
func (d *Detector) PlausibleReasons(indicatorCode, regimeTag string, class model.DiscrepancyClass) []string {
	code := strings.ToLower(indicatorCode)
	reasons := []string{ReasonMethodology, ReasonTiming}

	if slices.Contains(d.policy.AmbiguousRegimes, strings.ToLower(regimeTag)) {
		reasons = append(reasons, ReasonRegime)
	}
	if containsAny(code, d.policy.ExchangeRateIndicators) {
		reasons = append(reasons, ReasonExchangeRate)
	}
	if class != model.DiscrepancyMinor {
		reasons = append(reasons, ReasonCoverage)
	}
	if containsAny(code, d.policy.SurveyIndicators) {
		reasons = append(reasons, ReasonSampling)
	}
	return reasons
}

// Compare builds an unsaved contradiction record for two observations of the same indicator
func (d *Detector) Compare(a, b model.Observation) model.ContradictionRecord {
	percent := DiscrepancyPercent(a.Value, b.Value)
	class := d.Classify(percent)
	now := d.now()

	rec := model.ContradictionRecord{
		IndicatorCode:      a.IndicatorCode,
		Date:               a.Date,
		RegimeTag:          a.RegimeTag,
		Value1:             a.Value,
		Source1ID:          a.SourceID,
		Observation1ID:     a.ID,
		Value2:             b.Value,
		Source2ID:          b.SourceID,
		Observation2ID:     b.ID,
		DiscrepancyPercent: math.Round(percent*100) / 100,
		DiscrepancyType:    class,
		PlausibleReasons:   d.PlausibleReasons(a.IndicatorCode, a.RegimeTag, class),
		Status:             model.StatusDetected,
		DetectedAt:         now,
		UpdatedAt:          now,
	}
	rec.Description = describe(rec)
	return rec
}

// Detect records a contradiction between two observations when their discrepancy
// reaches the minor threshold. It returns nil when the values agree.
func (d *Detector) Detect(ctx context.Context, a, b model.Observation) (*model.ContradictionRecord, error) {
	rec := d.Compare(a, b)
	if DiscrepancyPercent(a.Value, b.Value) < d.thresholds.DiscrepancyMinor {
		return nil, nil
	}
	if err := d.store.InsertContradiction(ctx, &rec); err != nil {
		return nil, fmt.Errorf("insert contradiction: %w", err)
	}
	metrics.RecordContradiction(string(rec.DiscrepancyType))
	d.logger.Info("contradiction detected",
		"id", rec.ID,
		"indicator", rec.IndicatorCode,
		"date", rec.Date.Format(time.DateOnly),
		"discrepancy", rec.DiscrepancyPercent,
		"class", rec.DiscrepancyType)
	return &rec, nil
}

// Scan compares every pair of observations for an indicator that share a date and regime.
// Pairs already recorded are skipped, so repeated scans do not duplicate records.
func (d *Detector) Scan(ctx context.Context, indicatorCode string) ([]model.ContradictionRecord, error) {
	observations, err := d.store.Observations(ctx, indicatorCode)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}

	existing, err := d.store.Contradictions(ctx, store.ContradictionFilter{IndicatorCode: indicatorCode})
	if err != nil {
		return nil, fmt.Errorf("load contradictions: %w", err)
	}
	recorded := make(map[[2]int64]bool, len(existing))
	for _, rec := range existing {
		if rec.Observation1ID != 0 && rec.Observation2ID != 0 {
			recorded[pairKey(rec.Observation1ID, rec.Observation2ID)] = true
		}
	}

	type groupKey struct {
		date   string
		regime string
	}
	var order []groupKey
	groups := make(map[groupKey][]model.Observation)
	for _, obs := range observations {
		k := groupKey{date: obs.Date.UTC().Format(time.RFC3339), regime: obs.RegimeTag}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], obs)
	}

	var found []model.ContradictionRecord
	for _, k := range order {
		points := groups[k]
		for i := 0; i < len(points)-1; i++ {
			for j := i + 1; j < len(points); j++ {
				if recorded[pairKey(points[i].ID, points[j].ID)] {
					continue
				}
				rec, err := d.Detect(ctx, points[i], points[j])
				if err != nil {
					return found, err
				}
				if rec != nil {
					recorded[pairKey(points[i].ID, points[j].ID)] = true
					found = append(found, *rec)
				}
			}
		}
	}

	d.logger.Debug("scan complete", "indicator", indicatorCode, "observations", len(observations), "found", len(found))
	return found, nil
}

// List returns the contradictions recorded for an indicator, newest first
func (d *Detector) List(ctx context.Context, indicatorCode string) ([]model.ContradictionRecord, error) {
	return d.store.Contradictions(ctx, store.ContradictionFilter{IndicatorCode: indicatorCode})
}

// Open returns contradictions still awaiting investigation or resolution
func (d *Detector) Open(ctx context.Context, limit int) ([]model.ContradictionRecord, error) {
	return d.store.Contradictions(ctx, store.ContradictionFilter{
		Statuses: []model.ContradictionStatus{model.StatusDetected, model.StatusInvestigating},
		Limit:    limit,
	})
}

// Stats summarizes the registry; recent detections cover the last seven days
func (d *Detector) Stats(ctx context.Context) (*model.ContradictionStats, error) {
	all, err := d.store.Contradictions(ctx, store.ContradictionFilter{})
	if err != nil {
		return nil, err
	}

	stats := &model.ContradictionStats{
		Total: len(all),
		ByStatus: map[model.ContradictionStatus]int{
			model.StatusDetected:      0,
			model.StatusInvestigating: 0,
			model.StatusExplained:     0,
			model.StatusResolved:      0,
		},
		ByType: map[model.DiscrepancyClass]int{
			model.DiscrepancyMinor:       0,
			model.DiscrepancySignificant: 0,
			model.DiscrepancyMajor:       0,
			model.DiscrepancyCritical:    0,
		},
	}
	weekAgo := d.now().AddDate(0, 0, -7)
	for _, rec := range all {
		stats.ByStatus[rec.Status]++
		stats.ByType[rec.DiscrepancyType]++
		if rec.DetectedAt.After(weekAgo) {
			stats.RecentDetections++
		}
	}
	return stats, nil
}

func describe(rec model.ContradictionRecord) string {
	return fmt.Sprintf("%s on %s (%s): %s from source %d vs %s from source %d, discrepancy %.2f%% (%s)",
		rec.IndicatorCode,
		rec.Date.Format(time.DateOnly),
		rec.RegimeTag,
		strconv.FormatFloat(rec.Value1, 'f', -1, 64), rec.Source1ID,
		strconv.FormatFloat(rec.Value2, 'f', -1, 64), rec.Source2ID,
		rec.DiscrepancyPercent,
		rec.DiscrepancyType)
}

func pairKey(a, b int64) [2]int64 {
	if a > b {
		a, b = b, a
	}
	return [2]int64{a, b}
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(s, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
