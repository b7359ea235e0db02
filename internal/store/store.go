package store

import (
	"context"
	"errors"
	"time"

	"github.com/ppiankov/evidencegate/internal/model"
)

var (
	// ErrUnavailable means the backing database could not be reached
	ErrUnavailable = errors.New("store not available")

	// ErrNotFound means the requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrImmutable is returned for any attempt to rewrite an append-only record
	ErrImmutable = errors.New("record is immutable")

	// ErrConflict means a guarded status transition lost a race or was not allowed
	ErrConflict = errors.New("record changed concurrently or transition not allowed")

	// ErrOutOfOrder means a vintage is not later than the existing history
	ErrOutOfOrder = errors.New("vintage date must be later than existing vintages")
)

// EvidenceStore reads the evidence sets attached to claims
type EvidenceStore interface {
	EvidenceForClaim(ctx context.Context, claimID int64) ([]model.EvidenceItem, error)
	AddEvidence(ctx context.Context, item *model.EvidenceItem) error
}

// ContradictionFilter narrows a contradiction listing
type ContradictionFilter struct {
	IndicatorCode string
	Statuses      []model.ContradictionStatus
	Since         time.Time
	Limit         int
}

// ContradictionStore holds observations and the contradiction registry
type ContradictionStore interface {
	AddObservation(ctx context.Context, obs *model.Observation) error
	Observations(ctx context.Context, indicatorCode string) ([]model.Observation, error)
	InsertContradiction(ctx context.Context, rec *model.ContradictionRecord) error
	Contradiction(ctx context.Context, id int64) (*model.ContradictionRecord, error)
	Contradictions(ctx context.Context, filter ContradictionFilter) ([]model.ContradictionRecord, error)

	// TransitionContradiction applies tr only if the record's current status is in from.
	// It returns ErrConflict when the guard fails.
	TransitionContradiction(ctx context.Context, id int64, from []model.ContradictionStatus, tr model.ContradictionTransition) (*model.ContradictionRecord, error)
}

// RatingStore holds append-only confidence ratings and data vintages
type RatingStore interface {
	InsertRating(ctx context.Context, r *model.ConfidenceRating) error
	LatestRating(ctx context.Context, dataPointType string, dataPointID int64) (*model.ConfidenceRating, error)
	RatingHistory(ctx context.Context, dataPointType string, dataPointID int64) ([]model.ConfidenceRating, error)

	// AppendVintage returns ErrOutOfOrder unless v is strictly later than every stored vintage
	AppendVintage(ctx context.Context, v *model.DataVintage) error
	Vintages(ctx context.Context, dataPointType string, dataPointID int64) ([]model.DataVintage, error)
}

// TribunalStore holds tribunal runs and the data-gap tickets they raise
type TribunalStore interface {
	InsertTribunalRun(ctx context.Context, r *model.TribunalResult) error
	LatestTribunalRun(ctx context.Context, claimID int64, since time.Time) (*model.TribunalResult, error)
	TribunalStats(ctx context.Context, recent int) (*model.TribunalStats, error)
	InsertTickets(ctx context.Context, tickets []model.DataGapTicket) error
	OpenTickets(ctx context.Context, limit int) ([]model.DataGapTicket, error)
}

// ReliabilityStore holds the test battery and scored runs
type ReliabilityStore interface {
	// UpsertReliabilityTests inserts tests not yet known by name and returns how many were added
	UpsertReliabilityTests(ctx context.Context, tests []model.ReliabilityTest) (int, error)
	ActiveReliabilityTests(ctx context.Context) ([]model.ReliabilityTest, error)
	InsertReliabilityRun(ctx context.Context, run *model.ReliabilityRun) error
	LatestReliabilityRun(ctx context.Context) (*model.ReliabilityRun, error)
}

// PublicationStore is the append-only publication audit log
type PublicationStore interface {
	AppendPublication(ctx context.Context, e *model.PublicationLogEntry) error
	PublicationHistory(ctx context.Context, contentType string, contentID int64) ([]model.PublicationLogEntry, error)
	PublicationStats(ctx context.Context, recent int) (*model.PublicationStats, error)
}

// UpdateDecision is the workflow state written back to an update item
type UpdateDecision struct {
	Status     model.UpdateStatus
	Visibility model.Visibility
	ReviewedBy string
	ReviewedAt time.Time
}

// UpdateStore holds update items, the source registry and notifications
type UpdateStore interface {
	UpdateItem(ctx context.Context, id int64) (*model.UpdateItem, error)
	SaveUpdateItem(ctx context.Context, item *model.UpdateItem) error
	Source(ctx context.Context, id int64) (*model.Source, error)
	SaveSource(ctx context.Context, src *model.Source) error
	ApplyUpdateDecision(ctx context.Context, id int64, d UpdateDecision) error
	InsertNotification(ctx context.Context, n *model.Notification) error
	UpdateStats(ctx context.Context) (*model.UpdateStats, error)
}

// Store is the full evidence store
type Store interface {
	EvidenceStore
	ContradictionStore
	RatingStore
	TribunalStore
	ReliabilityStore
	PublicationStore
	UpdateStore

	Ping(ctx context.Context) error
	Close() error
}

// passRate weights PASS as 1 and PASS_WARN as 0.5
func passRate(pass, passWarn, total int) float64 {
	if total == 0 {
		return 0
	}
	return (float64(pass) + 0.5*float64(passWarn)) / float64(total) * 100
}

// percent returns part/total as a percentage, 0 when total is 0
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
