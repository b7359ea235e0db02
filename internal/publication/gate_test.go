package publication

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/store"
)

type fakeTribunal struct {
	recent    *model.TribunalResult
	recentErr error
	result    *model.TribunalResult
	runErr    error
	runs      int
}

func (f *fakeTribunal) Run(ctx context.Context, claim model.ClaimInput) (*model.TribunalResult, error) {
	f.runs++
	if f.result == nil {
		return nil, f.runErr
	}
	out := *f.result
	out.ClaimID = claim.ID
	return &out, f.runErr
}

func (f *fakeTribunal) Recent(ctx context.Context, claimID int64) (*model.TribunalResult, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	if f.recent == nil {
		return nil, store.ErrNotFound
	}
	out := *f.recent
	return &out, nil
}

type fakeDeployment struct {
	status model.DeploymentStatus
	calls  int
}

func (f *fakeDeployment) ShouldBlockDeployment(ctx context.Context) model.DeploymentStatus {
	f.calls++
	return f.status
}

var ranAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func passing() model.DeploymentStatus {
	return model.DeploymentStatus{Reason: "Reliability check passed", ReliabilityScore: 91.5, LastRunAt: &ranAt}
}

func blocked() model.DeploymentStatus {
	return model.DeploymentStatus{Blocked: true, Reason: "No reliability evaluation has been run"}
}

func verdict(v model.Verdict, id int64) *model.TribunalResult {
	return &model.TribunalResult{
		ID:              id,
		Verdict:         v,
		PublishableText: "Inflation in Aden reached 35% in 2024.",
		Warnings:        []string{"single source"},
		Scores:          model.TribunalScores{CitationCoverage: 96},
	}
}

func request() Request {
	return Request{
		ContentType: "kpi",
		Claim:       model.ClaimInput{ID: 42, Content: "Inflation in Aden reached 35% in 2024."},
		RequestedBy: "editor-1",
	}
}

func newGate(trib *fakeTribunal, dep *fakeDeployment) (*Gate, *store.Memory) {
	mem := store.NewMemory()
	g := NewGate(mem, trib, dep)
	g.now = func() time.Time { return ranAt.Add(time.Hour) }
	return g, mem
}

func TestRequestPublication_BlockedByDeployment(t *testing.T) {
	trib := &fakeTribunal{result: verdict(model.VerdictPass, 1)}
	g, mem := newGate(trib, &fakeDeployment{status: blocked()})

	res, err := g.RequestPublication(context.Background(), request())
	if err != nil {
		t.Fatalf("RequestPublication() error: %v", err)
	}
	if res.Allowed {
		t.Error("blocked deployment must deny publication")
	}
	if !strings.HasPrefix(res.BlockedReason, "Deployment blocked") {
		t.Errorf("unexpected blocked reason %q", res.BlockedReason)
	}
	if trib.runs != 0 {
		t.Errorf("tribunal should not run while blocked, ran %d times", trib.runs)
	}
	if res.ReliabilityScore != nil {
		t.Errorf("no run means no reliability score, got %v", *res.ReliabilityScore)
	}

	history, _ := mem.PublicationHistory(context.Background(), "kpi", 42)
	if len(history) != 1 || history[0].Allowed || history[0].PublicationID != res.PublicationID {
		t.Errorf("denial must be logged, got %+v", history)
	}
}

func TestRequestPublication_BlockedShowsLastVerdict(t *testing.T) {
	trib := &fakeTribunal{recent: verdict(model.VerdictPassWarn, 5)}
	g, _ := newGate(trib, &fakeDeployment{status: blocked()})

	res, err := g.RequestPublication(context.Background(), request())
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed || res.Verdict != model.VerdictPassWarn || res.PublishableText == "" {
		t.Errorf("expected denial carrying the last verdict, got %+v", res)
	}
}

func TestRequestPublication_RunsTribunal(t *testing.T) {
	tests := []struct {
		name    string
		verdict model.Verdict
		allowed bool
		outcome string
	}{
		{"pass", model.VerdictPass, true, ""},
		{"pass with warnings", model.VerdictPassWarn, true, ""},
		{"fail", model.VerdictFail, false, "Tribunal verdict FAIL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trib := &fakeTribunal{result: verdict(tt.verdict, 9)}
			g, mem := newGate(trib, &fakeDeployment{status: passing()})

			res, err := g.RequestPublication(context.Background(), request())
			if err != nil {
				t.Fatalf("RequestPublication() error: %v", err)
			}
			if res.Allowed != tt.allowed || res.Verdict != tt.verdict || res.BlockedReason != tt.outcome {
				t.Errorf("got allowed=%v verdict=%s reason=%q", res.Allowed, res.Verdict, res.BlockedReason)
			}
			if trib.runs != 1 {
				t.Errorf("expected one tribunal run, got %d", trib.runs)
			}
			if res.TribunalRunID == nil || *res.TribunalRunID != 9 {
				t.Errorf("expected tribunal run id 9, got %v", res.TribunalRunID)
			}
			if res.ReliabilityScore == nil || *res.ReliabilityScore != 91.5 {
				t.Errorf("expected reliability score 91.5, got %v", res.ReliabilityScore)
			}

			history, _ := mem.PublicationHistory(context.Background(), "kpi", 42)
			if len(history) != 1 {
				t.Fatalf("expected 1 log entry, got %d", len(history))
			}
			e := history[0]
			if e.Allowed != tt.allowed || e.ForcePublished || e.RequestedBy != "editor-1" || e.Scores.CitationCoverage != 96 {
				t.Errorf("unexpected log entry: %+v", e)
			}
		})
	}
}

func TestRequestPublication_ReusesRecentVerdict(t *testing.T) {
	trib := &fakeTribunal{recent: verdict(model.VerdictPass, 3), result: verdict(model.VerdictFail, 4)}
	g, _ := newGate(trib, &fakeDeployment{status: passing()})

	res, err := g.RequestPublication(context.Background(), request())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed || *res.TribunalRunID != 3 || trib.runs != 0 {
		t.Errorf("expected reuse of run 3, got %+v (runs=%d)", res, trib.runs)
	}
}

func TestRequestPublication_TribunalFailure(t *testing.T) {
	tests := []struct {
		name string
		trib *fakeTribunal
	}{
		{"history unavailable", &fakeTribunal{recentErr: store.ErrUnavailable}},
		{"run failed", &fakeTribunal{runErr: errors.New("evidence load failed")}},
		{"verdict not persisted", &fakeTribunal{result: verdict(model.VerdictPass, 0), runErr: store.ErrUnavailable}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, mem := newGate(tt.trib, &fakeDeployment{status: passing()})

			res, err := g.RequestPublication(context.Background(), request())
			if err != nil {
				t.Fatalf("RequestPublication() error: %v", err)
			}
			if res.Allowed || res.Verdict != model.VerdictFail || !strings.HasPrefix(res.BlockedReason, "Tribunal unavailable") {
				t.Errorf("expected denial, got %+v", res)
			}
			stats, _ := mem.PublicationStats(context.Background(), 10)
			if stats.BlockedCount != 1 {
				t.Errorf("denial must be logged, got %+v", stats)
			}
		})
	}
}

func TestRequestPublication_LogUnavailable(t *testing.T) {
	g, mem := newGate(&fakeTribunal{result: verdict(model.VerdictPass, 1)}, &fakeDeployment{status: passing()})
	mem.SetAvailable(false)

	res, err := g.RequestPublication(context.Background(), request())
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if res == nil || res.Allowed {
		t.Errorf("an unlogged publication must be denied, got %+v", res)
	}
}

func TestRequestPublication_Invalid(t *testing.T) {
	g, _ := newGate(&fakeTribunal{}, &fakeDeployment{status: passing()})

	bad := []Request{
		{Claim: model.ClaimInput{ID: 1, Content: "x"}, RequestedBy: "a"},
		{ContentType: "kpi", Claim: model.ClaimInput{ID: 1}, RequestedBy: "a"},
		{ContentType: "kpi", Claim: model.ClaimInput{Content: "x"}, RequestedBy: "a"},
		{ContentType: "kpi", Claim: model.ClaimInput{ID: 1, Content: "x"}},
	}
	for i, req := range bad {
		if _, err := g.RequestPublication(context.Background(), req); err == nil {
			t.Errorf("request %d: expected validation error", i)
		}
	}
}

func TestForcePublish(t *testing.T) {
	trib := &fakeTribunal{recent: verdict(model.VerdictPass, 2), result: verdict(model.VerdictFail, 8)}
	g, mem := newGate(trib, &fakeDeployment{status: blocked()})

	res, err := g.ForcePublish(context.Background(), request(), "admin-7", "  Ministry confirmed the figure by phone  ")
	if err != nil {
		t.Fatalf("ForcePublish() error: %v", err)
	}
	if !res.Allowed || res.Verdict != model.VerdictFail {
		t.Errorf("expected forced allow with the fresh FAIL verdict, got %+v", res)
	}
	if trib.runs != 1 {
		t.Errorf("tribunal must run for the record, ran %d times", trib.runs)
	}
	last := res.Warnings[len(res.Warnings)-1]
	if last != "FORCE PUBLISHED by admin-7: Ministry confirmed the figure by phone" {
		t.Errorf("unexpected override warning %q", last)
	}
	want := "Override by admin-7: deployment blocked (No reliability evaluation has been run); verdict FAIL"
	if res.BlockedReason != want {
		t.Errorf("BlockedReason = %q, want %q", res.BlockedReason, want)
	}

	history, _ := mem.PublicationHistory(context.Background(), "kpi", 42)
	if len(history) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(history))
	}
	e := history[0]
	if !e.ForcePublished || !e.Allowed || e.RequestedBy != "editor-1" || e.ForcedBy != "admin-7" || e.Justification != "Ministry confirmed the figure by phone" {
		t.Errorf("unexpected forced entry: %+v", e)
	}

	stats, _ := g.Stats(context.Background())
	if stats.ForcePublishCount != 1 || stats.TotalPublications != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestForcePublish_TribunalError(t *testing.T) {
	g, _ := newGate(&fakeTribunal{runErr: errors.New("timeout")}, &fakeDeployment{status: passing()})

	res, err := g.ForcePublish(context.Background(), request(), "admin-7", "Breaking news")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed || res.Verdict != model.VerdictFail || res.BlockedReason != "Override by admin-7: verdict FAIL" {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Warnings[0] != "Tribunal run failed: timeout" {
		t.Errorf("expected tribunal failure warning, got %v", res.Warnings)
	}
}

func TestForcePublish_RequiresJustification(t *testing.T) {
	g, mem := newGate(&fakeTribunal{}, &fakeDeployment{status: passing()})

	for _, tc := range [][2]string{{"", "reason"}, {"admin", ""}, {"admin", "   "}} {
		if _, err := g.ForcePublish(context.Background(), request(), tc[0], tc[1]); !errors.Is(err, ErrJustificationRequired) {
			t.Errorf("ForcePublish(%q, %q) error = %v", tc[0], tc[1], err)
		}
	}
	stats, _ := mem.PublicationStats(context.Background(), 10)
	if stats.TotalRequests != 0 {
		t.Errorf("rejected overrides must not be logged, got %d entries", stats.TotalRequests)
	}
}

func TestCanPublish(t *testing.T) {
	ctx := context.Background()

	g, mem := newGate(&fakeTribunal{}, &fakeDeployment{status: blocked()})
	check, err := g.CanPublish(ctx, request())
	if err != nil || check.CanPublish || !strings.HasPrefix(check.Reason, "Deployment blocked") {
		t.Errorf("blocked check = %+v, %v", check, err)
	}

	g, _ = newGate(&fakeTribunal{}, &fakeDeployment{status: passing()})
	check, _ = g.CanPublish(ctx, request())
	if check.CanPublish || check.Reason != NoRecentVerification {
		t.Errorf("no verdict check = %+v", check)
	}

	trib := &fakeTribunal{recent: verdict(model.VerdictPassWarn, 1)}
	g, _ = newGate(trib, &fakeDeployment{status: passing()})
	check, _ = g.CanPublish(ctx, request())
	if !check.CanPublish || len(check.Warnings) != 1 || trib.runs != 0 {
		t.Errorf("recent verdict check = %+v", check)
	}

	stats, _ := mem.PublicationStats(ctx, 10)
	if stats.TotalRequests != 0 {
		t.Error("CanPublish must not write the log")
	}
}

func TestHistoryAndStats(t *testing.T) {
	ctx := context.Background()
	trib := &fakeTribunal{result: verdict(model.VerdictPass, 1)}
	g, _ := newGate(trib, &fakeDeployment{status: passing()})

	for range 3 {
		if _, err := g.RequestPublication(ctx, request()); err != nil {
			t.Fatal(err)
		}
	}
	trib.result = verdict(model.VerdictFail, 2)
	other := request()
	other.Claim.ID = 43
	if _, err := g.RequestPublication(ctx, other); err != nil {
		t.Fatal(err)
	}

	history, err := g.History(ctx, "kpi", 42)
	if err != nil || len(history) != 3 {
		t.Fatalf("History() = %d entries, %v", len(history), err)
	}
	seen := map[string]bool{}
	for _, e := range history {
		if seen[e.PublicationID] {
			t.Errorf("duplicate publication id %s", e.PublicationID)
		}
		seen[e.PublicationID] = true
	}

	stats, err := g.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRequests != 4 || stats.TotalPublications != 3 || stats.PassRate != 75 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(stats.RecentPublications) != 3 {
		t.Errorf("expected 3 recent publications, got %d", len(stats.RecentPublications))
	}
}
