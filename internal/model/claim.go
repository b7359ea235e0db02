package model

// ClaimInput is a factual assertion submitted for adjudication
type ClaimInput struct {
	ID          int64  `json:"id" validate:"required"`
	Type        string `json:"type,omitempty"`
	Content     string `json:"content" validate:"required"`
	Subject     string `json:"subject,omitempty"`
	PageContext string `json:"pageContext,omitempty"` // Page the claim will appear on (default "general")
	YearContext int    `json:"yearContext,omitempty"`
	RegimeTag   string `json:"regimeTag,omitempty"` // "aden", "sanaa", "both", "mixed", "unknown"
}

// Default context values applied when a claim omits them
const (
	DefaultPageContext = "general"
	DefaultRegimeTag   = "both"
)

// WithDefaults returns a copy with empty context fields filled in
func (c ClaimInput) WithDefaults() ClaimInput {
	if c.PageContext == "" {
		c.PageContext = DefaultPageContext
	}
	if c.RegimeTag == "" {
		c.RegimeTag = DefaultRegimeTag
	}
	return c
}
