package model

import "time"

// PublicationLogEntry is one immutable audit record of a publish decision
type PublicationLogEntry struct {
	ID               int64          `json:"id"`
	PublicationID    string         `json:"publicationId"`
	ContentType      string         `json:"contentType"`
	ContentID        int64          `json:"contentId"`
	TribunalRunID    *int64         `json:"tribunalRunId,omitempty"`
	Verdict          Verdict        `json:"verdict"`
	Scores           TribunalScores `json:"scores"`
	Allowed          bool           `json:"allowed"`
	ForcePublished   bool           `json:"forcePublished"`
	BlockedReason    string         `json:"blockedReason,omitempty"`
	Justification    string         `json:"justification,omitempty"`
	Warnings         []string       `json:"warnings"`
	PublishableText  string         `json:"publishableText,omitempty"`
	RequestedBy      string         `json:"requestedBy"`
	ForcedBy         string         `json:"forcedBy,omitempty"`
	ReliabilityScore *float64       `json:"reliabilityScore,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// PublicationStats summarizes the audit log
type PublicationStats struct {
	TotalRequests       int                   `json:"totalRequests"`
	TotalPublications   int                   `json:"totalPublications"`
	BlockedCount        int                   `json:"blockedCount"`
	ForcePublishCount   int                   `json:"forcePublishCount"`
	PassRate            float64               `json:"passRate"`
	AvgCitationCoverage float64               `json:"avgCitationCoverage"`
	RecentPublications  []PublicationLogEntry `json:"recentPublications"`
}
