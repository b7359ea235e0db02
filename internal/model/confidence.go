package model

import "time"

// RatingCriteria are the five 0–100 inputs to a confidence rating
type RatingCriteria struct {
	SourceCredibility int `json:"sourceCredibility" validate:"gte=0,lte=100"`
	DataCompleteness  int `json:"dataCompleteness" validate:"gte=0,lte=100"`
	Timeliness        int `json:"timeliness" validate:"gte=0,lte=100"`
	Consistency       int `json:"consistency" validate:"gte=0,lte=100"`
	Methodology       int `json:"methodology" validate:"gte=0,lte=100"`
}

// ConfidenceRating is one immutable rating of a data point
type ConfidenceRating struct {
	ID               int64          `json:"id"`
	DataPointType    string         `json:"dataPointType"`
	DataPointID      int64          `json:"dataPointId"`
	Grade            Grade          `json:"grade"`
	Criteria         RatingCriteria `json:"criteria"`
	OverallScore     int            `json:"overallScore"`
	PreviousRatingID *int64         `json:"previousRatingId,omitempty"`
	PreviousGrade    Grade          `json:"previousGrade,omitempty"`
	ChangeReason     string         `json:"changeReason,omitempty"`
	DisplayWarning   string         `json:"displayWarning,omitempty"`
	RatedBy          string         `json:"ratedBy"`
	RatedAt          time.Time      `json:"ratedAt"`
}

// ChangeType classifies a new vintage of a data point
type ChangeType string

const (
	ChangeInitial     ChangeType = "initial"
	ChangeRevision    ChangeType = "revision"
	ChangeCorrection  ChangeType = "correction"
	ChangeRestatement ChangeType = "restatement"
	ChangeMethodology ChangeType = "methodology_change"
	ChangeRebasing    ChangeType = "rebasing"
)

// Valid reports whether c is a known change type
func (c ChangeType) Valid() bool {
	switch c {
	case ChangeInitial, ChangeRevision, ChangeCorrection, ChangeRestatement, ChangeMethodology, ChangeRebasing:
		return true
	}
	return false
}

// DataVintage is one version of a data point's value
type DataVintage struct {
	ID              int64      `json:"id"`
	DataPointType   string     `json:"dataPointType"`
	DataPointID     int64      `json:"dataPointId"`
	VintageDate     time.Time  `json:"vintageDate"`
	Value           float64    `json:"value"`
	PreviousValue   *float64   `json:"previousValue,omitempty"`
	ChangeType      ChangeType `json:"changeType"`
	ChangeMagnitude float64    `json:"changeMagnitude"`
	ChangePercent   float64    `json:"changePercent"`
	ChangeReason    string     `json:"changeReason,omitempty"`
	SourceID        int64      `json:"sourceId,omitempty"`
	Grade           Grade      `json:"grade,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// RevisionSummary aggregates the vintage history of one data point
type RevisionSummary struct {
	TotalRevisions     int                `json:"totalRevisions"`
	FirstValue         float64            `json:"firstValue"`
	LatestValue        float64            `json:"latestValue"`
	TotalChange        float64            `json:"totalChange"`
	TotalChangePercent float64            `json:"totalChangePercent"`
	ByChangeType       map[ChangeType]int `json:"byChangeType"`
}
