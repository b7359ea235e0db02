package model

import "strings"

// Grade is the A–D reliability grade used for evidence items and confidence ratings
type Grade string

const (
	GradeA Grade = "A" // Highly reliable
	GradeB Grade = "B" // Reliable
	GradeC Grade = "C" // Moderate
	GradeD Grade = "D" // Low reliability
)

// Valid reports whether g is one of the four known grades
func (g Grade) Valid() bool {
	switch g {
	case GradeA, GradeB, GradeC, GradeD:
		return true
	}
	return false
}

// ParseGrade normalizes a grade letter, returning false for unknown values
func ParseGrade(s string) (Grade, bool) {
	g := Grade(strings.ToUpper(strings.TrimSpace(s)))
	return g, g.Valid()
}

// EvidenceItem is one excerpt in a claim's evidence set
type EvidenceItem struct {
	ID          int64  `json:"id"`
	ClaimID     int64  `json:"claimId,omitempty"`
	ItemType    string `json:"itemType"` // "document", "dataset", "statement", ...
	SourceOrg   string `json:"sourceOrg"`
	SourceDate  string `json:"sourceDate,omitempty"`
	Excerpt     string `json:"excerpt"`
	PageRef     string `json:"pageRef,omitempty"`
	DocumentURL string `json:"documentUrl,omitempty"`
	Grade       Grade  `json:"grade,omitempty"`
}

// Source is a registered publisher in the source registry
type Source struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
	Category string `json:"category,omitempty"`
}
