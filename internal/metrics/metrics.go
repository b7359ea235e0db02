// Package metrics holds the prometheus collectors for the publication pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "evidencegate"

var (
	// tribunalRuns counts adjudications.
	// Labels: verdict (PASS, PASS_WARN, FAIL), degraded (true, false)
	tribunalRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tribunal",
		Name:      "runs_total",
		Help:      "Tribunal runs by verdict",
	}, []string{"verdict", "degraded"})

	// tribunalDuration measures a full five-stage run.
	tribunalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "tribunal",
		Name:      "duration_seconds",
		Help:      "Tribunal run duration in seconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	// stageDegradations counts stages that fell back to their conservative default.
	// Labels: stage (analyst, skeptic, methodologist, citation_auditor, judge)
	stageDegradations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tribunal",
		Name:      "stage_degraded_total",
		Help:      "Tribunal stages that degraded to the conservative default",
	}, []string{"stage"})

	// publicationRequests counts publish decisions.
	// Labels: outcome (allowed, denied, blocked, forced)
	publicationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "publication",
		Name:      "requests_total",
		Help:      "Publication requests by outcome",
	}, []string{"outcome"})

	// gateDecisions counts pipeline recommendations.
	// Labels: status (published, queued_for_review, rejected)
	gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gates",
		Name:      "decisions_total",
		Help:      "Publishing pipeline decisions by recommended status",
	}, []string{"status"})

	// gateFailures counts individual gate failures.
	// Labels: gate
	gateFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gates",
		Name:      "failures_total",
		Help:      "Individual gate failures",
	}, []string{"gate"})

	// reliabilityScore is the score of the latest completed reliability run.
	reliabilityScore = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "reliability",
		Name:      "score",
		Help:      "Reliability score of the latest run (0-100)",
	})

	// deploymentBlocked is 1 while the latest deployment check is blocked.
	deploymentBlocked = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "reliability",
		Name:      "deployment_blocked",
		Help:      "1 when deployment is blocked by the reliability lab",
	})

	// contradictions counts newly detected contradictions.
	// Labels: class (minor, significant, major, critical)
	contradictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "contradiction",
		Name:      "detected_total",
		Help:      "Contradictions recorded by discrepancy class",
	}, []string{"class"})
)

// RecordTribunalRun records one adjudication
func RecordTribunalRun(verdict string, degraded bool, durationSec float64) {
	label := "false"
	if degraded {
		label = "true"
	}
	tribunalRuns.WithLabelValues(verdict, label).Inc()
	tribunalDuration.Observe(durationSec)
}

// RecordStageDegraded records a stage falling back to its default
func RecordStageDegraded(stage string) {
	stageDegradations.WithLabelValues(stage).Inc()
}

// RecordPublication records a publish decision outcome
func RecordPublication(outcome string) {
	publicationRequests.WithLabelValues(outcome).Inc()
}

// RecordGateDecision records a pipeline recommendation and its failed gates
func RecordGateDecision(status string, failedGates []string) {
	gateDecisions.WithLabelValues(status).Inc()
	for _, g := range failedGates {
		gateFailures.WithLabelValues(g).Inc()
	}
}

// SetReliabilityScore publishes the latest run score
func SetReliabilityScore(score float64) {
	reliabilityScore.Set(score)
}

// SetDeploymentBlocked publishes the latest deployment check
func SetDeploymentBlocked(blocked bool) {
	if blocked {
		deploymentBlocked.Set(1)
		return
	}
	deploymentBlocked.Set(0)
}

// RecordContradiction records a newly detected contradiction
func RecordContradiction(class string) {
	contradictions.WithLabelValues(class).Inc()
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
