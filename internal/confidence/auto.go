package confidence

import (
	"context"
	"math"

	"github.com/ppiankov/evidencegate/internal/model"
)

// SourceMeta is what is known about where a value came from
type SourceMeta struct {
	Official           bool    `json:"official"`
	Audited            bool    `json:"audited"`
	CoveragePercent    float64 `json:"coveragePercent"`
	LagDays            int     `json:"lagDays"`
	ContradictionCount int     `json:"contradictionCount"`
}

// AutoCriteria derives the five criteria from source metadata
func (e *Engine) AutoCriteria(meta SourceMeta) model.RatingCriteria {
	credibility, methodology := 50, 50
	if meta.Official {
		credibility += 30
		methodology += 20
	}
	if meta.Audited {
		credibility += 20
		methodology += 30
	}

	consistency := 100
	if meta.ContradictionCount > 0 {
		consistency -= e.cfg.ContradictionPenalty
	}

	return model.RatingCriteria{
		SourceCredibility: clampScore(credibility),
		DataCompleteness:  clampScore(int(math.Round(meta.CoveragePercent))),
		Timeliness:        timelinessForLag(meta.LagDays),
		Consistency:       clampScore(consistency),
		Methodology:       clampScore(methodology),
	}
}

// AutoRate rates a data point from its source metadata
func (e *Engine) AutoRate(ctx context.Context, dataPointType string, dataPointID int64, meta SourceMeta, ratedBy string) (*model.ConfidenceRating, error) {
	return e.Rate(ctx, RateRequest{
		DataPointType: dataPointType,
		DataPointID:   dataPointID,
		Criteria:      e.AutoCriteria(meta),
		RatedBy:       ratedBy,
	})
}

// timelinessForLag decays in steps past 7, 30, 90 and 180 days
func timelinessForLag(days int) int {
	switch {
	case days <= 7:
		return 100
	case days <= 30:
		return 85
	case days <= 90:
		return 70
	case days <= 180:
		return 50
	}
	return 30
}

func clampScore(v int) int {
	return max(0, min(100, v))
}
