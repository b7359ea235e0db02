package contradiction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/store"
)

var (
	// ErrAlreadyResolved is returned when resolving again with a different value
	ErrAlreadyResolved = errors.New("contradiction already resolved with a different value")

	// ErrInvalidTransition is returned for a status change the lifecycle does not allow
	ErrInvalidTransition = errors.New("invalid contradiction status transition")
)

// Resolution is the manual decision that closes a contradiction
type Resolution struct {
	Value  float64
	Source string
	Notes  string
	By     string
}

// MarkInvestigating moves a detected contradiction into investigation
func (d *Detector) MarkInvestigating(ctx context.Context, id int64, by string) (*model.ContradictionRecord, error) {
	return d.advance(ctx, id, model.ContradictionTransition{To: model.StatusInvestigating}, by)
}

// MarkExplained records why two sources differ without choosing a value
func (d *Detector) MarkExplained(ctx context.Context, id int64, notes, by string) (*model.ContradictionRecord, error) {
	if strings.TrimSpace(notes) == "" {
		return nil, fmt.Errorf("%w: explanation notes are required", ErrInvalidTransition)
	}
	return d.advance(ctx, id, model.ContradictionTransition{To: model.StatusExplained, Notes: notes}, by)
}

// Resolve closes a contradiction with a chosen value and source.
// Resolving again with the same value returns the stored record unchanged.
func (d *Detector) Resolve(ctx context.Context, id int64, res Resolution) (*model.ContradictionRecord, error) {
	if strings.TrimSpace(res.By) == "" {
		return nil, fmt.Errorf("%w: resolver identity is required", ErrInvalidTransition)
	}

	current, err := d.store.Contradiction(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == model.StatusResolved {
		if current.ResolvedValue != nil && *current.ResolvedValue == res.Value {
			return current, nil
		}
		return nil, ErrAlreadyResolved
	}

	value := res.Value
	rec, err := d.store.TransitionContradiction(ctx, id,
		[]model.ContradictionStatus{model.StatusDetected, model.StatusInvestigating, model.StatusExplained},
		model.ContradictionTransition{
			To:             model.StatusResolved,
			Notes:          res.Notes,
			ResolvedValue:  &value,
			ResolvedSource: res.Source,
			ResolvedBy:     res.By,
			At:             d.now(),
		})
	if errors.Is(err, store.ErrConflict) {
		// Lost a race: someone else moved the record since we read it
		latest, rerr := d.store.Contradiction(ctx, id)
		if rerr == nil && latest.Status == model.StatusResolved {
			if latest.ResolvedValue != nil && *latest.ResolvedValue == value {
				return latest, nil
			}
			return nil, ErrAlreadyResolved
		}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve contradiction %d: %w", id, err)
	}
	d.logger.Info("contradiction resolved", "id", id, "value", value, "source", res.Source, "by", res.By)
	return rec, nil
}

// Correct is the manual override that may move a record backwards.
// A resolved record can never return to detected.
func (d *Detector) Correct(ctx context.Context, id int64, to model.ContradictionStatus, notes, by string) (*model.ContradictionRecord, error) {
	if to.Rank() < 0 {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if to == model.StatusResolved {
		return nil, fmt.Errorf("%w: use Resolve to close a contradiction", ErrInvalidTransition)
	}

	current, err := d.store.Contradiction(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == model.StatusResolved && to == model.StatusDetected {
		return nil, store.ErrImmutable
	}

	rec, err := d.store.TransitionContradiction(ctx, id, []model.ContradictionStatus{current.Status},
		model.ContradictionTransition{To: to, Notes: notes, ResolvedBy: by, At: d.now()})
	if err != nil {
		return nil, fmt.Errorf("correct contradiction %d: %w", id, err)
	}
	d.logger.Warn("contradiction status corrected", "id", id, "from", current.Status, "to", to, "by", by)
	return rec, nil
}

// advance applies a forward-only transition
func (d *Detector) advance(ctx context.Context, id int64, tr model.ContradictionTransition, by string) (*model.ContradictionRecord, error) {
	var from []model.ContradictionStatus
	for _, s := range []model.ContradictionStatus{model.StatusDetected, model.StatusInvestigating, model.StatusExplained} {
		if s.Rank() < tr.To.Rank() {
			from = append(from, s)
		}
	}
	tr.At = d.now()

	rec, err := d.store.TransitionContradiction(ctx, id, from, tr)
	if errors.Is(err, store.ErrConflict) {
		return nil, fmt.Errorf("%w: cannot move contradiction %d to %s", ErrInvalidTransition, id, tr.To)
	}
	if err != nil {
		return nil, err
	}
	d.logger.Info("contradiction status changed", "id", id, "to", tr.To, "by", by)
	return rec, nil
}
