// Package confidence grades data points A–D and keeps their vintage history.
package confidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ppiankov/evidencegate/internal/logging"
	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/store"
)

var validate = validator.New()

// LowReliabilityWarning is shown wherever a grade D value is displayed
const LowReliabilityWarning = "Low reliability: this value rests on limited or unverified data. Use with caution."

// Badge is the display label for a grade
type Badge struct {
	Grade       model.Grade `json:"grade"`
	Label       string      `json:"label"`
	Description string      `json:"description"`
}

var badges = map[model.Grade]Badge{
	model.GradeA: {Grade: model.GradeA, Label: "Highly Reliable", Description: "Official/audited data"},
	model.GradeB: {Grade: model.GradeB, Label: "Reliable", Description: "Credible source"},
	model.GradeC: {Grade: model.GradeC, Label: "Moderate", Description: "Proxy/modelled data"},
	model.GradeD: {Grade: model.GradeD, Label: "Low Reliability", Description: "Use with caution"},
}

// BadgeFor returns the badge for g; unknown grades get the grade D badge
func BadgeFor(g model.Grade) Badge {
	if b, ok := badges[g]; ok {
		return b
	}
	return badges[model.GradeD]
}

// Engine computes and records confidence ratings
type Engine struct {
	store  store.RatingStore
	cfg    model.RatingConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewEngine creates a rating engine
func NewEngine(s store.RatingStore, cfg model.RatingConfig) *Engine {
	return &Engine{
		store:  s,
		cfg:    cfg,
		now:    time.Now,
		logger: logging.New("confidence"),
	}
}

// Overall returns the weighted criteria score rounded to the nearest integer
func (e *Engine) Overall(c model.RatingCriteria) int {
	w := e.cfg.Weights
	sum := float64(c.SourceCredibility)*w.SourceCredibility +
		float64(c.DataCompleteness)*w.DataCompleteness +
		float64(c.Timeliness)*w.Timeliness +
		float64(c.Consistency)*w.Consistency +
		float64(c.Methodology)*w.Methodology
	// Trim float noise so 88.5 computed as 88.4999999 still rounds up
	sum = math.Round(sum*1e6) / 1e6
	return int(math.Round(sum))
}

// GradeFor maps an overall score to a letter
func (e *Engine) GradeFor(score int) model.Grade {
	switch {
	case score >= e.cfg.GradeA:
		return model.GradeA
	case score >= e.cfg.GradeB:
		return model.GradeB
	case score >= e.cfg.GradeC:
		return model.GradeC
	}
	return model.GradeD
}

// Recompute derives overall score, grade and warning from the stored criteria
func (e *Engine) Recompute(r model.ConfidenceRating) model.ConfidenceRating {
	r.OverallScore = e.Overall(r.Criteria)
	r.Grade = e.GradeFor(r.OverallScore)
	r.DisplayWarning = ""
	if r.Grade == model.GradeD {
		r.DisplayWarning = LowReliabilityWarning
	}
	return r
}

// RateRequest asks for a new rating of one data point
type RateRequest struct {
	DataPointType string               `json:"dataPointType" validate:"required"`
	DataPointID   int64                `json:"dataPointId" validate:"required"`
	Criteria      model.RatingCriteria `json:"criteria"`
	RatedBy       string               `json:"ratedBy" validate:"required"`
}

// Rate appends a new rating, linking it to the data point's previous rating
func (e *Engine) Rate(ctx context.Context, req RateRequest) (*model.ConfidenceRating, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid rating request: %w", err)
	}

	rating := e.Recompute(model.ConfidenceRating{
		DataPointType: req.DataPointType,
		DataPointID:   req.DataPointID,
		Criteria:      req.Criteria,
		RatedBy:       req.RatedBy,
		RatedAt:       e.now(),
	})

	previous, err := e.store.LatestRating(ctx, req.DataPointType, req.DataPointID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load previous rating: %w", err)
	default:
		id := previous.ID
		rating.PreviousRatingID = &id
		rating.PreviousGrade = previous.Grade
		if previous.Grade != rating.Grade {
			rating.ChangeReason = fmt.Sprintf("Grade changed from %s to %s (overall score %d -> %d)",
				previous.Grade, rating.Grade, previous.OverallScore, rating.OverallScore)
		}
	}

	if err := e.store.InsertRating(ctx, &rating); err != nil {
		return nil, fmt.Errorf("insert rating: %w", err)
	}

	if rating.Grade == model.GradeD {
		e.logger.Warn("data point rated low reliability", "type", rating.DataPointType, "id", rating.DataPointID, "score", rating.OverallScore)
	}
	return &rating, nil
}

// Latest returns the current rating with its score recomputed from criteria
func (e *Engine) Latest(ctx context.Context, dataPointType string, dataPointID int64) (*model.ConfidenceRating, error) {
	r, err := e.store.LatestRating(ctx, dataPointType, dataPointID)
	if err != nil {
		return nil, err
	}
	recomputed := e.keepHistory(*r)
	return &recomputed, nil
}

// History returns every rating of a data point, oldest first
func (e *Engine) History(ctx context.Context, dataPointType string, dataPointID int64) ([]model.ConfidenceRating, error) {
	history, err := e.store.RatingHistory(ctx, dataPointType, dataPointID)
	if err != nil {
		return nil, err
	}
	for i := range history {
		history[i] = e.keepHistory(history[i])
	}
	return history, nil
}

// keepHistory recomputes derived fields while leaving the supersession link intact
func (e *Engine) keepHistory(r model.ConfidenceRating) model.ConfidenceRating {
	recomputed := e.Recompute(r)
	if recomputed.Grade != r.Grade {
		e.logger.Warn("stored grade differs from recomputed grade", "id", r.ID, "stored", r.Grade, "recomputed", recomputed.Grade)
	}
	return recomputed
}
