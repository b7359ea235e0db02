package model

import "time"

// Difficulty grades how hard a reliability test is expected to be
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// RunType distinguishes how a reliability run was triggered
type RunType string

const (
	RunNightly RunType = "nightly"
	RunRelease RunType = "release"
	RunManual  RunType = "manual"
)

// Valid reports whether r is a known run type
func (r RunType) Valid() bool {
	return r == RunNightly || r == RunRelease || r == RunManual
}

// ReliabilityTest is one question in the regression battery
type ReliabilityTest struct {
	ID              int64      `json:"id" yaml:"-"`
	Category        string     `json:"category" yaml:"category"`
	TestName        string     `json:"testName" yaml:"name"`
	Question        string     `json:"question" yaml:"question"`
	ExpectedPattern string     `json:"expectedPattern" yaml:"pattern"`
	ExpectedSources []string   `json:"expectedSources" yaml:"sources"`
	Difficulty      Difficulty `json:"difficulty" yaml:"difficulty"`
	Active          bool       `json:"active" yaml:"-"`
}

// TestResult is the outcome of running one test through the Tribunal
type TestResult struct {
	TestID                  int64   `json:"testId"`
	TestName                string  `json:"testName"`
	Category                string  `json:"category"`
	Verdict                 Verdict `json:"verdict"`
	Passed                  bool    `json:"passed"`
	CitationCoverage        float64 `json:"citationCoverage"`
	ContradictionResolution bool    `json:"contradictionResolution"`
	Hallucination           bool    `json:"hallucinationDetected"`
	LatencyMillis           int64   `json:"latencyMs"`
	Details                 string  `json:"details"`
}

// ReliabilityRun is a scored execution of the battery
type ReliabilityRun struct {
	ID                      int64        `json:"id"`
	RunType                 RunType      `json:"runType"`
	TotalTests              int          `json:"totalTests"`
	PassedTests             int          `json:"passedTests"`
	FailedTests             int          `json:"failedTests"`
	CitationCoverageAvg     float64      `json:"citationCoverageAvg"`
	ContradictionResolution float64      `json:"contradictionResolutionRate"`
	HallucinationCount      int          `json:"hallucinationCount"`
	AvgLatencyMillis        int64        `json:"avgLatencyMs"`
	ReliabilityScore        float64      `json:"reliabilityScore"`
	PassThreshold           float64      `json:"passThreshold"`
	DeploymentBlocked       bool         `json:"deploymentBlocked"`
	Results                 []TestResult `json:"results"`
	StartedAt               time.Time    `json:"startedAt"`
	CompletedAt             time.Time    `json:"completedAt"`
}

// DeploymentStatus answers whether deployment should be blocked
type DeploymentStatus struct {
	Blocked          bool       `json:"blocked"`
	Reason           string     `json:"reason"`
	ReliabilityScore float64    `json:"reliabilityScore"`
	LastRunAt        *time.Time `json:"lastRunAt,omitempty"`
}
