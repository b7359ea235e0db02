package reliability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"time"

	"github.com/ppiankov/evidencegate/internal/logging"
	"github.com/ppiankov/evidencegate/internal/metrics"
	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/store"
	"github.com/ppiankov/evidencegate/internal/worker"
)

var (
	// ErrNoTests is returned when a run finds no active tests
	ErrNoTests = errors.New("no active reliability tests; initialize the test suite first")

	// ErrInvalidRunType is returned for run types outside the known set
	ErrInvalidRunType = errors.New("unknown run type")
)

// Reasons returned by ShouldBlockDeployment
const (
	ReasonNoRun  = "No reliability evaluation has been run"
	ReasonPassed = "Reliability check passed"
)

// limiterKey is the token bucket shared by all test runs
const limiterKey = "reliability"

// Lab runs the reliability battery and answers deployment checks
type Lab struct {
	store       store.ReliabilityStore
	adjudicator worker.Adjudicator
	cfg         model.ReliabilityConfig
	limiter     *worker.Limiter
	now         func() time.Time
	logger      *slog.Logger
}

// NewLab creates a lab. Tests are spaced by cfg.InterTestDelay to respect inference rate limits.
// A non-positive ContradictionResolved falls back to the default cut-off.
func NewLab(s store.ReliabilityStore, adjudicator worker.Adjudicator, cfg model.ReliabilityConfig) *Lab {
	if cfg.ContradictionResolved <= 0 {
		cfg.ContradictionResolved = model.DefaultReliabilityConfig().ContradictionResolved
	}
	return &Lab{
		store:       s,
		adjudicator: adjudicator,
		cfg:         cfg,
		limiter:     worker.NewIntervalLimiter(cfg.InterTestDelay),
		now:         time.Now,
		logger:      logging.New("reliability"),
	}
}

// InitializeTestSuite stores the battery and returns how many tests were new
func (l *Lab) InitializeTestSuite(ctx context.Context) (int, error) {
	var (
		tests []model.ReliabilityTest
		err   error
	)
	if l.cfg.BatteryFile != "" {
		tests, err = LoadBattery(l.cfg.BatteryFile)
	} else {
		tests, err = DefaultBattery()
	}
	if err != nil {
		return 0, err
	}

	added, err := l.store.UpsertReliabilityTests(ctx, tests)
	if err != nil {
		return 0, fmt.Errorf("store reliability tests: %w", err)
	}
	l.logger.Info("reliability test suite initialized", "tests", len(tests), "added", added)
	return added, nil
}

// Run executes up to limit active tests (all when limit <= 0), scores them and stores the run
func (l *Lab) Run(ctx context.Context, runType model.RunType, limit int) (*model.ReliabilityRun, error) {
	if runType == "" {
		runType = model.RunManual
	}
	if !runType.Valid() {
		return nil, fmt.Errorf("%w %q", ErrInvalidRunType, runType)
	}

	tests, err := l.store.ActiveReliabilityTests(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reliability tests: %w", err)
	}
	if limit > 0 && len(tests) > limit {
		tests = tests[:limit]
	}
	if len(tests) == 0 {
		return nil, ErrNoTests
	}

	run := &model.ReliabilityRun{
		RunType:       runType,
		PassThreshold: l.cfg.PassThreshold,
		StartedAt:     l.now(),
		Results:       make([]model.TestResult, 0, len(tests)),
	}

	for _, test := range tests {
		if err := l.limiter.Wait(ctx, limiterKey); err != nil {
			return nil, fmt.Errorf("reliability run interrupted: %w", err)
		}
		l.logger.Info("running reliability test", "test", test.TestName, "category", test.Category)
		run.Results = append(run.Results, l.RunTest(ctx, test))
	}

	run.CompletedAt = l.now()
	l.score(run)

	if err := l.store.InsertReliabilityRun(ctx, run); err != nil {
		return nil, fmt.Errorf("store reliability run: %w", err)
	}

	metrics.SetReliabilityScore(run.ReliabilityScore)
	logFn := l.logger.Info
	if run.DeploymentBlocked {
		logFn = l.logger.Warn
	}
	logFn("reliability run complete",
		"run", run.ID,
		"type", run.RunType,
		"passed", run.PassedTests,
		"total", run.TotalTests,
		"score", run.ReliabilityScore,
		"blocked", run.DeploymentBlocked)
	return run, nil
}

// RunTest adjudicates one test question and scores it.
// A test passes when the verdict is not FAIL, coverage meets the minimum and no hallucination is flagged.
func (l *Lab) RunTest(ctx context.Context, test model.ReliabilityTest) model.TestResult {
	start := l.now()
	result := model.TestResult{
		TestID:   test.ID,
		TestName: test.TestName,
		Category: test.Category,
		Verdict:  model.VerdictFail,
	}

	tr, err := l.adjudicator.Run(ctx, model.ClaimInput{
		ID:          -test.ID, // test claims never collide with real ones
		Type:        "test_question",
		Content:     test.Question,
		PageContext: "reliability_test_" + test.Category,
		YearContext: start.Year(),
	})
	result.LatencyMillis = l.now().Sub(start).Milliseconds()
	if err != nil && tr == nil {
		result.Details = "Error: " + err.Error()
		l.logger.Warn("reliability test errored", "test", test.TestName, "error", err)
		return result
	}

	result.Verdict = tr.Verdict
	result.CitationCoverage = tr.Scores.CitationCoverage
	result.ContradictionResolution = tr.Scores.ContradictionScore < l.cfg.ContradictionResolved
	result.Hallucination = hallucinated(test, tr)
	result.Passed = tr.Verdict != model.VerdictFail &&
		result.CitationCoverage >= l.cfg.MinCoverage &&
		!result.Hallucination
	result.Details = fmt.Sprintf("Verdict: %s, Coverage: %.1f%%", tr.Verdict, result.CitationCoverage)
	if err != nil {
		result.Details += " (" + err.Error() + ")"
	}
	return result
}

// hallucinated flags a PASS whose publishable text lacks the expected evidence
func hallucinated(test model.ReliabilityTest, tr *model.TribunalResult) bool {
	if test.ExpectedPattern == "" || tr.Verdict != model.VerdictPass {
		return false
	}
	re, err := regexp.Compile("(?i)" + test.ExpectedPattern)
	if err != nil {
		return false
	}
	return !re.MatchString(tr.PublishableText)
}

// score fills the aggregate fields of a run from its results
func (l *Lab) score(run *model.ReliabilityRun) {
	n := len(run.Results)
	run.TotalTests = n
	if n == 0 {
		run.DeploymentBlocked = true
		return
	}

	var coverage float64
	var resolved int
	var latency int64
	for _, r := range run.Results {
		if r.Passed {
			run.PassedTests++
		}
		if r.ContradictionResolution {
			resolved++
		}
		if r.Hallucination {
			run.HallucinationCount++
		}
		coverage += r.CitationCoverage
		latency += r.LatencyMillis
	}
	run.FailedTests = n - run.PassedTests
	run.CitationCoverageAvg = round2(coverage / float64(n))
	run.ContradictionResolution = round2(float64(resolved) / float64(n) * 100)
	run.AvgLatencyMillis = latency / int64(n)
	run.ReliabilityScore = Score(
		float64(run.PassedTests)/float64(n),
		run.CitationCoverageAvg,
		run.ContradictionResolution,
		float64(run.HallucinationCount)/float64(n),
	)
	run.DeploymentBlocked = run.ReliabilityScore < run.PassThreshold
}

// Score weights pass rate 40, coverage 30, contradiction resolution 20 and hallucination-free rate 10.
// passRate and hallucinationRate are fractions; coverage and resolution are percentages.
func Score(passRate, avgCoverage, avgResolution, hallucinationRate float64) float64 {
	return round2(40*passRate + 30*(avgCoverage/100) + 20*(avgResolution/100) + 10*(1-hallucinationRate))
}

// Latest returns the most recent run
func (l *Lab) Latest(ctx context.Context) (*model.ReliabilityRun, error) {
	return l.store.LatestReliabilityRun(ctx)
}

// ShouldBlockDeployment reads the latest run and fails closed when it is missing, stale or below threshold.
// It always reads the store so a newer blocking run is never hidden by an older answer.
func (l *Lab) ShouldBlockDeployment(ctx context.Context) model.DeploymentStatus {
	status := l.deploymentStatus(ctx)
	metrics.SetDeploymentBlocked(status.Blocked)
	if status.Blocked {
		l.logger.Warn("deployment blocked", "reason", status.Reason, "score", status.ReliabilityScore)
	}
	return status
}

func (l *Lab) deploymentStatus(ctx context.Context) model.DeploymentStatus {
	run, err := l.store.LatestReliabilityRun(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return model.DeploymentStatus{Blocked: true, Reason: ReasonNoRun}
	case err != nil:
		return model.DeploymentStatus{Blocked: true, Reason: "Reliability status unavailable: " + err.Error()}
	}

	completed := run.CompletedAt
	status := model.DeploymentStatus{ReliabilityScore: run.ReliabilityScore, LastRunAt: &completed}

	if age := l.now().Sub(run.CompletedAt); age > l.cfg.MaxRunAge {
		status.Blocked = true
		status.Reason = fmt.Sprintf("Last reliability run was %d hours ago (max %dh)",
			int(math.Round(age.Hours())), int(l.cfg.MaxRunAge.Hours()))
		return status
	}

	if run.DeploymentBlocked || run.ReliabilityScore < run.PassThreshold {
		status.Blocked = true
		status.Reason = fmt.Sprintf("Reliability score %.1f%% below threshold %g%%", run.ReliabilityScore, run.PassThreshold)
		return status
	}

	status.Reason = ReasonPassed
	return status
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
