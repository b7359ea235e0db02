package model

import (
	"strings"
	"time"
)

// DiscrepancyClass buckets the size of a disagreement between two sources
type DiscrepancyClass string

const (
	DiscrepancyMinor       DiscrepancyClass = "minor"
	DiscrepancySignificant DiscrepancyClass = "significant"
	DiscrepancyMajor       DiscrepancyClass = "major"
	DiscrepancyCritical    DiscrepancyClass = "critical"
)

// ContradictionStatus is the lifecycle state of a contradiction record
type ContradictionStatus string

const (
	StatusDetected      ContradictionStatus = "detected"
	StatusInvestigating ContradictionStatus = "investigating"
	StatusExplained     ContradictionStatus = "explained"
	StatusResolved      ContradictionStatus = "resolved"
)

// Rank orders statuses along the forward lifecycle
func (s ContradictionStatus) Rank() int {
	switch s {
	case StatusDetected:
		return 0
	case StatusInvestigating:
		return 1
	case StatusExplained:
		return 2
	case StatusResolved:
		return 3
	}
	return -1
}

// Open reports whether the contradiction still needs attention
func (s ContradictionStatus) Open() bool {
	return s == StatusDetected || s == StatusInvestigating
}

// Observation is a single sourced value of an indicator
type Observation struct {
	ID            int64     `json:"id"`
	IndicatorCode string    `json:"indicatorCode"`
	Date          time.Time `json:"date"`
	RegimeTag     string    `json:"regimeTag"`
	SourceID      int64     `json:"sourceId"`
	Value         float64   `json:"value"`
}

// ContradictionRecord documents two sources disagreeing on the same indicator
type ContradictionRecord struct {
	ID                 int64               `json:"id"`
	IndicatorCode      string              `json:"indicatorCode"`
	Date               time.Time           `json:"date"`
	RegimeTag          string              `json:"regimeTag"`
	Value1             float64             `json:"value1"`
	Source1ID          int64               `json:"source1Id"`
	Observation1ID     int64               `json:"observation1Id,omitempty"`
	Value2             float64             `json:"value2"`
	Source2ID          int64               `json:"source2Id"`
	Observation2ID     int64               `json:"observation2Id,omitempty"`
	DiscrepancyPercent float64             `json:"discrepancyPercent"`
	DiscrepancyType    DiscrepancyClass    `json:"discrepancyType"`
	PlausibleReasons   []string            `json:"plausibleReasons"`
	Description        string              `json:"description"`
	Status             ContradictionStatus `json:"status"`
	ResolutionNotes    string              `json:"resolutionNotes,omitempty"`
	ResolvedValue      *float64            `json:"resolvedValue,omitempty"`
	ResolvedSource     string              `json:"resolvedSource,omitempty"`
	ResolvedBy         string              `json:"resolvedBy,omitempty"`
	ResolvedAt         *time.Time          `json:"resolvedAt,omitempty"`
	DetectedAt         time.Time           `json:"detectedAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

// ContradictionTransition is a requested status change applied atomically by the store
type ContradictionTransition struct {
	To             ContradictionStatus
	Notes          string
	ResolvedValue  *float64
	ResolvedSource string
	ResolvedBy     string
	At             time.Time
}

// ContradictionStats summarizes the registry
type ContradictionStats struct {
	Total            int                         `json:"total"`
	ByStatus         map[ContradictionStatus]int `json:"byStatus"`
	ByType           map[DiscrepancyClass]int    `json:"byType"`
	RecentDetections int                         `json:"recentDetections"` // last 7 days
}

// Severity grades a conflict found between two evidence items
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// ParseSeverity normalizes s, defaulting unknown values to medium
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityHigh:
		return SeverityHigh
	case SeverityLow:
		return SeverityLow
	}
	return SeverityMedium
}

// ConflictSide is one evidence item's position in a conflict
type ConflictSide struct {
	EvidenceID int64  `json:"id"`
	Org        string `json:"org"`
	Value      string `json:"value"`
}

// EvidenceConflict is a disagreement between two evidence items in one bundle
type EvidenceConflict struct {
	Description string       `json:"description"`
	SourceA     ConflictSide `json:"sourceA"`
	SourceB     ConflictSide `json:"sourceB"`
	Severity    Severity     `json:"severity"`
	LikelyCause string       `json:"likelyCause"`
	Resolved    bool         `json:"resolved"`
}
