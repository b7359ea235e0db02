package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ppiankov/evidencegate/internal/model"
)

func TestMemory_Unavailable(t *testing.T) {
	m := NewMemory()
	m.SetAvailable(false)
	ctx := context.Background()

	if _, err := m.EvidenceForClaim(ctx, 1); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if err := m.AppendPublication(ctx, &model.PublicationLogEntry{PublicationID: "x"}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if _, err := m.LatestReliabilityRun(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}

	m.SetAvailable(true)
	if err := m.Ping(ctx); err != nil {
		t.Errorf("expected ping to succeed, got %v", err)
	}
}

func TestMemory_PublicationLogAppendOnly(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e := &model.PublicationLogEntry{PublicationID: "pub-1", ContentType: "claim", ContentID: 7, Verdict: model.VerdictPass, Allowed: true}
	if err := m.AppendPublication(ctx, e); err != nil {
		t.Fatalf("append: %v", err)
	}
	if e.ID == 0 {
		t.Error("expected ID to be assigned")
	}

	// Re-appending a persisted entry is a rewrite attempt
	if err := m.AppendPublication(ctx, e); !errors.Is(err, ErrImmutable) {
		t.Errorf("expected ErrImmutable for re-append, got %v", err)
	}
	if err := m.AppendPublication(ctx, &model.PublicationLogEntry{PublicationID: "pub-1"}); !errors.Is(err, ErrImmutable) {
		t.Errorf("expected ErrImmutable for duplicate publication id, got %v", err)
	}

	// Mutating the caller's copy must not change the log
	e.Allowed = false
	history, err := m.PublicationHistory(ctx, "claim", 7)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || !history[0].Allowed {
		t.Errorf("log entry changed after append: %+v", history)
	}
}

func TestMemory_TransitionContradiction(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec := &model.ContradictionRecord{IndicatorCode: "fx_rate", Status: model.StatusDetected}
	if err := m.InsertContradiction(ctx, rec); err != nil {
		t.Fatal(err)
	}

	value := 530.0
	now := time.Now()
	got, err := m.TransitionContradiction(ctx, rec.ID,
		[]model.ContradictionStatus{model.StatusDetected},
		model.ContradictionTransition{To: model.StatusResolved, ResolvedValue: &value, ResolvedBy: "analyst", At: now})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.Status != model.StatusResolved || got.ResolvedValue == nil || *got.ResolvedValue != 530 {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(now) {
		t.Errorf("expected resolvedAt to be set")
	}

	// Guard no longer matches
	_, err = m.TransitionContradiction(ctx, rec.ID,
		[]model.ContradictionStatus{model.StatusDetected},
		model.ContradictionTransition{To: model.StatusInvestigating, At: now})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	_, err = m.TransitionContradiction(ctx, 999, nil, model.ContradictionTransition{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_ContradictionsFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	for i, status := range []model.ContradictionStatus{model.StatusDetected, model.StatusResolved, model.StatusInvestigating} {
		rec := &model.ContradictionRecord{IndicatorCode: "cpi", Status: status, DetectedAt: now.Add(time.Duration(i) * time.Minute)}
		if err := m.InsertContradiction(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	open, err := m.Contradictions(ctx, ContradictionFilter{Statuses: []model.ContradictionStatus{model.StatusDetected, model.StatusInvestigating}})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open contradictions, got %d", len(open))
	}
	if open[0].Status != model.StatusInvestigating {
		t.Errorf("expected newest first, got %s", open[0].Status)
	}

	limited, _ := m.Contradictions(ctx, ContradictionFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}
}

func TestMemory_VintageOrdering(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := m.AppendVintage(ctx, &model.DataVintage{DataPointType: "gdp", DataPointID: 1, VintageDate: day, Value: 10}); err != nil {
		t.Fatal(err)
	}
	if err := m.AppendVintage(ctx, &model.DataVintage{DataPointType: "gdp", DataPointID: 1, VintageDate: day, Value: 11}); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("expected ErrOutOfOrder for same date, got %v", err)
	}
	if err := m.AppendVintage(ctx, &model.DataVintage{DataPointType: "gdp", DataPointID: 1, VintageDate: day.AddDate(0, -1, 0), Value: 9}); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("expected ErrOutOfOrder for earlier date, got %v", err)
	}
	// Another data point has its own history
	if err := m.AppendVintage(ctx, &model.DataVintage{DataPointType: "gdp", DataPointID: 2, VintageDate: day, Value: 3}); err != nil {
		t.Errorf("unexpected error for independent data point: %v", err)
	}
}

func TestMemory_TribunalStats(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	verdicts := []model.Verdict{model.VerdictPass, model.VerdictPassWarn, model.VerdictFail, model.VerdictPass}
	for i, v := range verdicts {
		r := &model.TribunalResult{ClaimID: int64(i + 1), Verdict: v, Scores: model.TribunalScores{CitationCoverage: 80}, CreatedAt: now}
		if err := m.InsertTribunalRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	_ = m.InsertTickets(ctx, []model.DataGapTicket{{ClaimID: 1, MissingField: "x", Status: "open"}})

	stats, err := m.TribunalStats(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRuns != 4 || stats.PassCount != 2 || stats.PassWarnCount != 1 || stats.FailCount != 1 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	// (2 + 0.5) / 4
	if stats.PassRate != 62.5 {
		t.Errorf("expected pass rate 62.5, got %f", stats.PassRate)
	}
	if len(stats.RecentRuns) != 2 || stats.RecentRuns[0].ClaimID != 4 {
		t.Errorf("expected 2 most recent runs newest first, got %+v", stats.RecentRuns)
	}
	if stats.OpenTickets != 1 {
		t.Errorf("expected 1 open ticket, got %d", stats.OpenTickets)
	}
}

func TestMemory_LatestTribunalRunWindow(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	old := &model.TribunalResult{ClaimID: 5, Verdict: model.VerdictPass, CreatedAt: now.Add(-48 * time.Hour)}
	if err := m.InsertTribunalRun(ctx, old); err != nil {
		t.Fatal(err)
	}

	if _, err := m.LatestTribunalRun(ctx, 5, now.Add(-24*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected stale run to be ignored, got %v", err)
	}
	if r, err := m.LatestTribunalRun(ctx, 5, now.Add(-72*time.Hour)); err != nil || r.ID != old.ID {
		t.Errorf("expected run within window, got %v, %v", r, err)
	}
}

func TestMemory_ReliabilityTestsUpsert(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	tests := []model.ReliabilityTest{{TestName: "a"}, {TestName: "b"}}
	added, err := m.UpsertReliabilityTests(ctx, tests)
	if err != nil || added != 2 {
		t.Fatalf("expected 2 added, got %d, %v", added, err)
	}
	added, _ = m.UpsertReliabilityTests(ctx, append(tests, model.ReliabilityTest{TestName: "c"}))
	if added != 1 {
		t.Errorf("expected only the new test to be added, got %d", added)
	}

	active, _ := m.ActiveReliabilityTests(ctx)
	if len(active) != 3 {
		t.Errorf("expected 3 active tests, got %d", len(active))
	}
}

func TestMemory_UpdateDecision(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	item := &model.UpdateItem{TitleEn: "t", Status: model.UpdatePending}
	if err := m.SaveUpdateItem(ctx, item); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	err := m.ApplyUpdateDecision(ctx, item.ID, UpdateDecision{
		Status: model.UpdatePublished, Visibility: model.VisibilityPublic, ReviewedBy: "system", ReviewedAt: now,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, _ := m.UpdateItem(ctx, item.ID)
	if got.Status != model.UpdatePublished || got.Visibility != model.VisibilityPublic || got.ReviewedAt == nil {
		t.Errorf("decision not applied: %+v", got)
	}

	if err := m.ApplyUpdateDecision(ctx, 12345, UpdateDecision{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	stats, _ := m.UpdateStats(ctx)
	if stats.Total != 1 || stats.ByStatus[model.UpdatePublished] != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
