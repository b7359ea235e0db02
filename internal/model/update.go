package model

import "time"

// Sensitivity labels how safe an update is to show publicly
type Sensitivity string

const (
	SensitivityPublicSafe     Sensitivity = "public_safe"
	SensitivityNeedsReview    Sensitivity = "needs_review"
	SensitivityRestrictedMeta Sensitivity = "restricted_metadata_only"
)

// Visibility is the audience an update is shown to
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityVIPOnly   Visibility = "vip_only"
	VisibilityAdminOnly Visibility = "admin_only"
)

// UpdateStatus is the workflow state of an update item
type UpdateStatus string

const (
	UpdatePending        UpdateStatus = "pending"
	UpdatePublished      UpdateStatus = "published"
	UpdateQueuedReview   UpdateStatus = "queued_for_review"
	UpdateRejected       UpdateStatus = "rejected"
)

// EvidenceBundle is the citation set attached to an evidence pack
type EvidenceBundle struct {
	Citations []string `json:"citations"`
}

// UpdateItem is a bilingual news or data update awaiting the gate pipeline
type UpdateItem struct {
	ID              int64             `json:"id"`
	TitleEn         string            `json:"titleEn"`
	TitleAr         string            `json:"titleAr"`
	SummaryEn       string            `json:"summaryEn"`
	SummaryAr       string            `json:"summaryAr"`
	SourceID        *int64            `json:"sourceId,omitempty"`
	SourceURL       string            `json:"sourceUrl,omitempty"`
	EvidencePackID  *int64            `json:"evidencePackId,omitempty"`
	Bundle          *EvidenceBundle   `json:"bundle,omitempty"`
	Sensitivity     Sensitivity       `json:"sensitivityLevel"`
	Sectors         []string          `json:"sectors"`
	Entities        []string          `json:"entities"`
	ConfidenceGrade Grade             `json:"confidenceGrade,omitempty"`
	DQAF            map[string]string `json:"dqaf,omitempty"` // accuracy, timeliness, coherence, accessibility -> rating
	Status          UpdateStatus      `json:"status"`
	Visibility      Visibility        `json:"visibility"`
	ReviewedBy      string            `json:"reviewedBy,omitempty"`
	ReviewedAt      *time.Time        `json:"reviewedAt,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// GateResult is one gate's verdict on an update item
type GateResult struct {
	GateName string   `json:"gateName"`
	Passed   bool     `json:"passed"`
	Score    int      `json:"score"`
	Reasons  []string `json:"reasons"`
	Warnings []string `json:"warnings"`
}

// PublishingDecision aggregates the six gates
type PublishingDecision struct {
	UpdateID              int64        `json:"updateId"`
	CanPublish            bool         `json:"canPublish"`
	AutoPublish           bool         `json:"autoPublish"`
	RequiresReview        bool         `json:"requiresReview"`
	Gates                 []GateResult `json:"gates"`
	OverallScore          int          `json:"overallScore"`
	RecommendedVisibility Visibility   `json:"recommendedVisibility"`
	RecommendedStatus     UpdateStatus `json:"recommendedStatus"`
}

// Notification is written when an update is published
type Notification struct {
	ID        int64     `json:"id"`
	UpdateID  int64     `json:"updateId"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// UpdateStats summarizes update items by workflow state
type UpdateStats struct {
	Total        int                  `json:"total"`
	ByStatus     map[UpdateStatus]int `json:"byStatus"`
	ByVisibility map[Visibility]int   `json:"byVisibility"`
	ByGrade      map[Grade]int        `json:"byGrade"`
	AvgScore     int                  `json:"avgScore"`
}
