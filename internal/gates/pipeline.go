package gates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/ppiankov/evidencegate/internal/cache"
	"github.com/ppiankov/evidencegate/internal/logging"
	"github.com/ppiankov/evidencegate/internal/metrics"
	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/store"
)

// NotificationPublished is the kind of notification written on publish
const NotificationPublished = "high_importance_update"

// Store is what the pipeline reads and writes
type Store interface {
	store.UpdateStore
	Contradictions(ctx context.Context, filter store.ContradictionFilter) ([]model.ContradictionRecord, error)
}

// Pipeline runs the six publishing gates against update items
type Pipeline struct {
	store     Store
	cfg       model.GatesConfig
	policy    model.PolicyTables
	sources   cache.Cache
	sourceTTL time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithSourceCache replaces the default in-memory source registry cache
func WithSourceCache(c cache.Cache, ttl time.Duration) Option {
	return func(p *Pipeline) {
		p.sources = c
		p.sourceTTL = ttl
	}
}

// WithClock sets the clock used for review timestamps
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a gate pipeline
func NewPipeline(s Store, cfg model.GatesConfig, policy model.PolicyTables, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     s,
		cfg:       cfg,
		policy:    policy,
		sourceTTL: 10 * time.Minute,
		now:       time.Now,
		logger:    logging.New("gates"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sources == nil {
		p.sources = cache.NewMemoryCache(p.sourceTTL, 2*p.sourceTTL)
	}
	return p
}

// Run evaluates every gate for the update item. A missing item or an unavailable
// store yields a rejected decision carrying a single System Gate failure.
func (p *Pipeline) Run(ctx context.Context, updateID int64) *model.PublishingDecision {
	item, err := p.store.UpdateItem(ctx, updateID)
	if err != nil {
		reason := "Update item not found"
		if !errors.Is(err, store.ErrNotFound) {
			reason = "Store not available: " + err.Error()
			p.logger.Error("load update item failed", "update_id", updateID, "error", err)
		}
		d := failedDecision(updateID, reason)
		metrics.RecordGateDecision(string(d.RecommendedStatus), []string{SystemGate})
		return d
	}

	gates := []model.GateResult{
		Evidence(item),
		p.source(ctx, item),
		Translation(item, p.policy.TranslationPlaceholders),
		Sensitivity(item),
		p.contradictions(ctx, item),
		Quality(item, p.policy, p.cfg.QualityPassScore),
	}
	d := p.decide(updateID, gates)

	var failed []string
	for _, g := range gates {
		if !g.Passed {
			failed = append(failed, g.GateName)
		}
	}
	metrics.RecordGateDecision(string(d.RecommendedStatus), failed)
	p.logger.Info("publishing pipeline complete",
		"update_id", updateID,
		"score", d.OverallScore,
		"status", d.RecommendedStatus,
		"visibility", d.RecommendedVisibility,
		"failed_gates", failed,
	)
	return d
}

func (p *Pipeline) decide(updateID int64, gates []model.GateResult) *model.PublishingDecision {
	passed := 0
	total := 0
	criticalPassed := true
	sensitivityPassed := false
	for _, g := range gates {
		total += g.Score
		if g.Passed {
			passed++
		}
		if slices.Contains(p.policy.CriticalGates, g.GateName) && !g.Passed {
			criticalPassed = false
		}
		if g.GateName == SensitivityGate {
			sensitivityPassed = g.Passed
		}
	}
	mean := float64(total) / float64(len(gates))

	canPublish := passed >= p.cfg.MinPassedGates && criticalPassed
	autoPublish := passed == len(gates) && mean >= float64(p.cfg.AutoPublishScore)

	visibility := model.VisibilityAdminOnly
	switch {
	case canPublish && sensitivityPassed && mean >= float64(p.cfg.PublicScore):
		visibility = model.VisibilityPublic
	case canPublish && sensitivityPassed && mean >= float64(p.cfg.VIPScore):
		visibility = model.VisibilityVIPOnly
	}

	status := model.UpdateQueuedReview
	switch {
	case autoPublish:
		status = model.UpdatePublished
	case !canPublish && passed < p.cfg.RejectBelowPassed:
		status = model.UpdateRejected
	}

	return &model.PublishingDecision{
		UpdateID:              updateID,
		CanPublish:            canPublish,
		AutoPublish:           autoPublish,
		RequiresReview:        canPublish && !autoPublish,
		Gates:                 gates,
		OverallScore:          int(math.Round(mean)),
		RecommendedVisibility: visibility,
		RecommendedStatus:     status,
	}
}

func failedDecision(updateID int64, reason string) *model.PublishingDecision {
	return &model.PublishingDecision{
		UpdateID:              updateID,
		Gates:                 []model.GateResult{result(SystemGate, false, 0, reason)},
		RecommendedVisibility: model.VisibilityAdminOnly,
		RecommendedStatus:     model.UpdateRejected,
	}
}

// Apply writes the decision back to the update item and notifies admins when it is published
func (p *Pipeline) Apply(ctx context.Context, updateID int64, d *model.PublishingDecision, reviewerID string) error {
	if d == nil {
		return errors.New("decision is required")
	}
	err := p.store.ApplyUpdateDecision(ctx, updateID, store.UpdateDecision{
		Status:     d.RecommendedStatus,
		Visibility: d.RecommendedVisibility,
		ReviewedBy: reviewerID,
		ReviewedAt: p.now(),
	})
	if err != nil {
		return fmt.Errorf("apply decision to update %d: %w", updateID, err)
	}

	if d.RecommendedStatus != model.UpdatePublished {
		return nil
	}
	item, err := p.store.UpdateItem(ctx, updateID)
	if err != nil {
		return fmt.Errorf("load published update %d: %w", updateID, err)
	}
	n := &model.Notification{
		UpdateID:  updateID,
		Kind:      NotificationPublished,
		Message:   fmt.Sprintf("Update Published: %s (score %d%%)", truncate(item.TitleEn, 100), d.OverallScore),
		CreatedAt: p.now(),
	}
	if err := p.store.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("notify publish of update %d: %w", updateID, err)
	}
	p.logger.Info("update published", "update_id", updateID, "visibility", d.RecommendedVisibility, "reviewer", reviewerID)
	return nil
}

// Stats summarizes update items, with an average quality score derived from their grades.
// Items without a grade count as C.
func (p *Pipeline) Stats(ctx context.Context) (*model.UpdateStats, error) {
	stats, err := p.store.UpdateStats(ctx)
	if err != nil {
		return nil, err
	}
	if stats.Total == 0 {
		return stats, nil
	}
	sum := 0
	for grade, n := range stats.ByGrade {
		if grade == "" {
			grade = model.GradeC
		}
		score, ok := p.policy.GradeScores[string(grade)]
		if !ok {
			score = defaultGradeScore
		}
		sum += score * n
	}
	stats.AvgScore = int(math.Round(float64(sum) / float64(stats.Total)))
	return stats, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
