package publication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ppiankov/evidencegate/internal/logging"
	"github.com/ppiankov/evidencegate/internal/metrics"
	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/store"
)

var validate = validator.New()

// ErrJustificationRequired is returned when a forced publication lacks an admin or a justification
var ErrJustificationRequired = errors.New("force publish requires an admin id and a justification")

// Reasons and warnings written to the audit log
const (
	DeploymentBlockedPrefix = "Deployment blocked: "
	NoRecentVerification    = "No recent tribunal verification found"
)

// recentInStats is how many allowed publications Stats returns
const recentInStats = 10

// Adjudicator runs or reuses tribunal verdicts
type Adjudicator interface {
	Run(ctx context.Context, claim model.ClaimInput) (*model.TribunalResult, error)
	// Recent returns the latest verdict inside the reuse window, or store.ErrNotFound
	Recent(ctx context.Context, claimID int64) (*model.TribunalResult, error)
}

// DeploymentChecker reports whether the reliability lab currently blocks publishing
type DeploymentChecker interface {
	ShouldBlockDeployment(ctx context.Context) model.DeploymentStatus
}

// Request asks to publish one claim
type Request struct {
	ContentType string           `json:"contentType" validate:"required"`
	Claim       model.ClaimInput `json:"claim"`
	RequestedBy string           `json:"requestedBy" validate:"required"`
}

// Result is the outcome of a publish request, mirrored in the audit log
type Result struct {
	Allowed          bool                 `json:"allowed"`
	Verdict          model.Verdict        `json:"verdict"`
	PublicationID    string               `json:"publicationId"`
	Warnings         []string             `json:"warnings"`
	BlockedReason    string               `json:"blockedReason,omitempty"`
	PublishableText  string               `json:"publishableText,omitempty"`
	Scores           model.TribunalScores `json:"scores"`
	TribunalRunID    *int64               `json:"tribunalRunId,omitempty"`
	ReliabilityScore *float64             `json:"reliabilityScore,omitempty"`
}

// Check is the read-only answer to "could this be published right now"
type Check struct {
	CanPublish bool     `json:"canPublish"`
	Reason     string   `json:"reason"`
	Warnings   []string `json:"warnings"`
}

// Gate is the single entry point for publishing claims. Every request,
// allowed or not, is appended to the publication log.
type Gate struct {
	store      store.PublicationStore
	tribunal   Adjudicator
	deployment DeploymentChecker
	now        func() time.Time
	logger     *slog.Logger
}

// NewGate creates a publication gate
func NewGate(s store.PublicationStore, tribunal Adjudicator, deployment DeploymentChecker) *Gate {
	return &Gate{
		store:      s,
		tribunal:   tribunal,
		deployment: deployment,
		now:        time.Now,
		logger:     logging.New("publication"),
	}
}

// CanPublish checks deployment status and the most recent verdict without running the tribunal or writing the log
func (g *Gate) CanPublish(ctx context.Context, req Request) (*Check, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	status := g.deployment.ShouldBlockDeployment(ctx)
	if status.Blocked {
		return &Check{Reason: DeploymentBlockedPrefix + status.Reason, Warnings: []string{}}, nil
	}

	run, err := g.tribunal.Recent(ctx, req.Claim.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &Check{Reason: NoRecentVerification, Warnings: []string{NoRecentVerification}}, nil
	case err != nil:
		return &Check{Reason: "Tribunal history unavailable: " + err.Error(), Warnings: []string{}}, nil
	}

	check := &Check{
		CanPublish: run.Verdict.Publishable(),
		Reason:     fmt.Sprintf("Tribunal verdict %s", run.Verdict),
		Warnings:   nonNil(run.Warnings),
	}
	return check, nil
}

// RequestPublication decides and logs a publish request. The returned error is
// non-nil only for invalid requests or when the audit log could not be written;
// in the latter case the result is always a denial.
func (g *Gate) RequestPublication(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	claim := req.Claim.WithDefaults()

	status := g.deployment.ShouldBlockDeployment(ctx)
	if status.Blocked {
		res := &Result{
			Verdict:          model.VerdictFail,
			Warnings:         []string{},
			BlockedReason:    DeploymentBlockedPrefix + status.Reason,
			ReliabilityScore: score(status),
		}
		// show the last verdict, if any, so the caller knows what would be published
		if run, err := g.tribunal.Recent(ctx, claim.ID); err == nil {
			res.fromRun(run)
		}
		return g.record(ctx, req, res, "blocked", "", "")
	}

	run, err := g.verdict(ctx, claim)
	if err != nil {
		g.logger.Error("tribunal unavailable", "claim_id", claim.ID, "error", err)
		res := &Result{
			Verdict:          model.VerdictFail,
			Warnings:         []string{},
			BlockedReason:    "Tribunal unavailable: " + err.Error(),
			ReliabilityScore: score(status),
		}
		return g.record(ctx, req, res, "denied", "", "")
	}

	res := &Result{ReliabilityScore: score(status)}
	res.fromRun(run)
	res.Allowed = run.Verdict.Publishable()
	outcome := "allowed"
	if !res.Allowed {
		outcome = "denied"
		res.BlockedReason = fmt.Sprintf("Tribunal verdict %s", run.Verdict)
	}
	return g.record(ctx, req, res, outcome, "", "")
}

// ForcePublish publishes regardless of verdict and deployment status. The tribunal
// still runs so the log carries the verdict that was overridden.
func (g *Gate) ForcePublish(ctx context.Context, req Request, adminID, justification string) (*Result, error) {
	adminID = strings.TrimSpace(adminID)
	justification = strings.TrimSpace(justification)
	if adminID == "" || justification == "" {
		return nil, ErrJustificationRequired
	}
	if req.RequestedBy == "" {
		req.RequestedBy = adminID
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	claim := req.Claim.WithDefaults()

	status := g.deployment.ShouldBlockDeployment(ctx)
	res := &Result{Verdict: model.VerdictFail, Warnings: []string{}, ReliabilityScore: score(status)}

	var overridden []string
	if status.Blocked {
		overridden = append(overridden, "deployment blocked ("+status.Reason+")")
	}
	run, err := g.tribunal.Run(ctx, claim)
	if run != nil {
		res.fromRun(run)
	}
	if err != nil {
		g.logger.Warn("tribunal failed during forced publication", "claim_id", claim.ID, "error", err)
		res.Warnings = append(res.Warnings, "Tribunal run failed: "+err.Error())
	}
	if !res.Verdict.Publishable() {
		overridden = append(overridden, fmt.Sprintf("verdict %s", res.Verdict))
	}

	res.Allowed = true
	res.Warnings = append(res.Warnings, fmt.Sprintf("FORCE PUBLISHED by %s: %s", adminID, justification))
	res.BlockedReason = "Override by " + adminID
	if len(overridden) > 0 {
		res.BlockedReason += ": " + strings.Join(overridden, "; ")
	}

	g.logger.Warn("publication forced",
		"content_type", req.ContentType,
		"content_id", claim.ID,
		"admin", adminID,
		"verdict", res.Verdict,
		"overridden", overridden,
	)
	return g.record(ctx, req, res, "forced", adminID, justification)
}

// History returns every log entry for a piece of content, oldest first
func (g *Gate) History(ctx context.Context, contentType string, contentID int64) ([]model.PublicationLogEntry, error) {
	return g.store.PublicationHistory(ctx, contentType, contentID)
}

// Stats summarizes the publication log
func (g *Gate) Stats(ctx context.Context) (*model.PublicationStats, error) {
	return g.store.PublicationStats(ctx, recentInStats)
}

// verdict reuses a verdict from inside the reuse window or runs the tribunal
func (g *Gate) verdict(ctx context.Context, claim model.ClaimInput) (*model.TribunalResult, error) {
	run, err := g.tribunal.Recent(ctx, claim.ID)
	if err == nil {
		g.logger.Debug("reusing tribunal verdict", "claim_id", claim.ID, "run_id", run.ID, "verdict", run.Verdict)
		return run, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load recent verdict: %w", err)
	}
	// an unpersisted verdict has nothing to point the log at
	run, err = g.tribunal.Run(ctx, claim)
	if err != nil {
		return nil, fmt.Errorf("run tribunal: %w", err)
	}
	return run, nil
}

// record appends the log entry. A failed append turns the result into a denial.
func (g *Gate) record(ctx context.Context, req Request, res *Result, outcome, adminID, justification string) (*Result, error) {
	res.PublicationID = uuid.NewString()
	entry := &model.PublicationLogEntry{
		PublicationID:    res.PublicationID,
		ContentType:      req.ContentType,
		ContentID:        req.Claim.ID,
		TribunalRunID:    res.TribunalRunID,
		Verdict:          res.Verdict,
		Scores:           res.Scores,
		Allowed:          res.Allowed,
		ForcePublished:   adminID != "",
		BlockedReason:    res.BlockedReason,
		Justification:    justification,
		Warnings:         res.Warnings,
		PublishableText:  res.PublishableText,
		RequestedBy:      req.RequestedBy,
		ForcedBy:         adminID,
		ReliabilityScore: res.ReliabilityScore,
		CreatedAt:        g.now(),
	}

	if err := g.store.AppendPublication(ctx, entry); err != nil {
		g.logger.Error("append publication log failed", "content_type", req.ContentType, "content_id", req.Claim.ID, "error", err)
		metrics.RecordPublication("denied")
		res.Allowed = false
		res.BlockedReason = "Publication log unavailable: " + err.Error()
		return res, fmt.Errorf("append publication log: %w", err)
	}

	metrics.RecordPublication(outcome)
	g.logger.Info("publication decided",
		"publication_id", res.PublicationID,
		"content_type", req.ContentType,
		"content_id", req.Claim.ID,
		"verdict", res.Verdict,
		"allowed", res.Allowed,
		"outcome", outcome,
	)
	return res, nil
}

func (r *Result) fromRun(run *model.TribunalResult) {
	r.Verdict = run.Verdict
	r.Warnings = append(nonNil(r.Warnings), run.Warnings...)
	r.PublishableText = run.PublishableText
	r.Scores = run.Scores
	if run.ID != 0 {
		id := run.ID
		r.TribunalRunID = &id
	}
}

func validateRequest(req Request) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("invalid publication request: %w", err)
	}
	return nil
}

// score is nil when the lab has never produced a run
func score(status model.DeploymentStatus) *float64 {
	if status.LastRunAt == nil {
		return nil
	}
	s := status.ReliabilityScore
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
