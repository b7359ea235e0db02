package confidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ppiankov/evidencegate/internal/logging"
	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/store"
)

// ErrInvalidChangeType is returned for change types outside the known set
var ErrInvalidChangeType = errors.New("invalid change type")

// VintageInput is a new value for a data point
type VintageInput struct {
	DataPointType string           `json:"dataPointType" validate:"required"`
	DataPointID   int64            `json:"dataPointId" validate:"required"`
	VintageDate   time.Time        `json:"vintageDate" validate:"required"`
	Value         float64          `json:"value"`
	ChangeType    model.ChangeType `json:"changeType,omitempty"`
	ChangeReason  string           `json:"changeReason,omitempty"`
	SourceID      int64            `json:"sourceId,omitempty"`
	Grade         model.Grade      `json:"grade,omitempty"`
}

// Ledger records and queries data vintages
type Ledger struct {
	store  store.RatingStore
	now    func() time.Time
	logger *slog.Logger
}

// NewLedger creates a vintage ledger
func NewLedger(s store.RatingStore) *Ledger {
	return &Ledger{
		store:  s,
		now:    time.Now,
		logger: logging.New("vintage"),
	}
}

// Append records a new vintage after the existing history.
// The first vintage is always "initial"; later ones default to "revision".
func (l *Ledger) Append(ctx context.Context, in VintageInput) (*model.DataVintage, error) {
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid vintage: %w", err)
	}
	if in.VintageDate.IsZero() {
		return nil, errors.New("invalid vintage: vintage date is required")
	}
	if in.ChangeType != "" && !in.ChangeType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChangeType, in.ChangeType)
	}

	history, err := l.store.Vintages(ctx, in.DataPointType, in.DataPointID)
	if err != nil {
		return nil, fmt.Errorf("load vintages: %w", err)
	}

	v := model.DataVintage{
		DataPointType: in.DataPointType,
		DataPointID:   in.DataPointID,
		VintageDate:   in.VintageDate,
		Value:         in.Value,
		ChangeType:    in.ChangeType,
		ChangeReason:  in.ChangeReason,
		SourceID:      in.SourceID,
		Grade:         in.Grade,
		CreatedAt:     l.now(),
	}

	if len(history) == 0 {
		v.ChangeType = model.ChangeInitial
	} else {
		prev := history[len(history)-1].Value
		v.PreviousValue = &prev
		if v.ChangeType == "" || v.ChangeType == model.ChangeInitial {
			v.ChangeType = model.ChangeRevision
		}
		v.ChangeMagnitude = round2(v.Value - prev)
		if prev != 0 {
			v.ChangePercent = round2((v.Value - prev) / math.Abs(prev) * 100)
		}
	}

	if err := l.store.AppendVintage(ctx, &v); err != nil {
		return nil, fmt.Errorf("append vintage: %w", err)
	}
	l.logger.Debug("vintage appended", "type", v.DataPointType, "id", v.DataPointID, "change", v.ChangeType, "magnitude", v.ChangeMagnitude)
	return &v, nil
}

// History returns all vintages in date order
func (l *Ledger) History(ctx context.Context, dataPointType string, dataPointID int64) ([]model.DataVintage, error) {
	return l.store.Vintages(ctx, dataPointType, dataPointID)
}

// ValueAsOf returns the latest vintage dated on or before asOf
func (l *Ledger) ValueAsOf(ctx context.Context, dataPointType string, dataPointID int64, asOf time.Time) (*model.DataVintage, error) {
	history, err := l.store.Vintages(ctx, dataPointType, dataPointID)
	if err != nil {
		return nil, err
	}
	var found *model.DataVintage
	for i := range history {
		if history[i].VintageDate.After(asOf) {
			break
		}
		found = &history[i]
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

// Summarize aggregates the revision history of a data point
func (l *Ledger) Summarize(ctx context.Context, dataPointType string, dataPointID int64) (*model.RevisionSummary, error) {
	history, err := l.store.Vintages(ctx, dataPointType, dataPointID)
	if err != nil {
		return nil, err
	}
	return SummarizeVintages(history), nil
}

// SummarizeVintages aggregates vintages already in date order
func SummarizeVintages(history []model.DataVintage) *model.RevisionSummary {
	summary := &model.RevisionSummary{ByChangeType: make(map[model.ChangeType]int)}
	if len(history) == 0 {
		return summary
	}

	first := history[0].Value
	latest := history[len(history)-1].Value
	summary.FirstValue = first
	summary.LatestValue = latest
	summary.TotalRevisions = len(history) - 1
	summary.TotalChange = round2(latest - first)
	if first != 0 {
		summary.TotalChangePercent = round2((latest - first) / math.Abs(first) * 100)
	}
	for _, v := range history {
		summary.ByChangeType[v.ChangeType]++
	}
	return summary
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
