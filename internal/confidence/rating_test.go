package confidence

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/store"
)

func newTestEngine() (*Engine, *store.Memory) {
	mem := store.NewMemory()
	e := NewEngine(mem, model.DefaultRatingConfig())
	e.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e, mem
}

func TestOverall_WorkedExample(t *testing.T) {
	e, _ := newTestEngine()
	c := model.RatingCriteria{
		SourceCredibility: 90,
		DataCompleteness:  80,
		Timeliness:        100,
		Consistency:       80,
		Methodology:       90,
	}
	score := e.Overall(c)
	if score != 89 {
		t.Fatalf("expected 89, got %d", score)
	}
	if g := e.GradeFor(score); g != model.GradeA {
		t.Errorf("expected grade A, got %s", g)
	}
}

func TestGradeFor_Boundaries(t *testing.T) {
	e, _ := newTestEngine()
	tests := []struct {
		score int
		want  model.Grade
	}{
		{100, model.GradeA},
		{85, model.GradeA},
		{84, model.GradeB},
		{70, model.GradeB},
		{69, model.GradeC},
		{50, model.GradeC},
		{49, model.GradeD},
		{0, model.GradeD},
	}
	for _, tt := range tests {
		if got := e.GradeFor(tt.score); got != tt.want {
			t.Errorf("GradeFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestRecompute_Deterministic(t *testing.T) {
	e, _ := newTestEngine()
	r := model.ConfidenceRating{Criteria: model.RatingCriteria{
		SourceCredibility: 40, DataCompleteness: 30, Timeliness: 50, Consistency: 20, Methodology: 40,
	}}
	first := e.Recompute(r)
	second := e.Recompute(first)
	if first.Grade != second.Grade || first.OverallScore != second.OverallScore {
		t.Fatalf("recompute not stable: %+v vs %+v", first, second)
	}
	if first.Grade != model.GradeD {
		t.Errorf("expected D, got %s (score %d)", first.Grade, first.OverallScore)
	}
	if first.DisplayWarning != LowReliabilityWarning {
		t.Errorf("grade D must carry the display warning")
	}
}

func TestRate_LinksPreviousRating(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()

	high := model.RatingCriteria{SourceCredibility: 90, DataCompleteness: 80, Timeliness: 100, Consistency: 80, Methodology: 90}
	first, err := e.Rate(ctx, RateRequest{DataPointType: "indicator", DataPointID: 7, Criteria: high, RatedBy: "analyst"})
	if err != nil {
		t.Fatalf("Rate() error: %v", err)
	}
	if first.PreviousRatingID != nil || first.ChangeReason != "" {
		t.Errorf("first rating should have no predecessor: %+v", first)
	}

	same, err := e.Rate(ctx, RateRequest{DataPointType: "indicator", DataPointID: 7, Criteria: high, RatedBy: "analyst"})
	if err != nil {
		t.Fatalf("Rate() error: %v", err)
	}
	if same.PreviousRatingID == nil || *same.PreviousRatingID != first.ID {
		t.Fatalf("expected link to rating %d, got %v", first.ID, same.PreviousRatingID)
	}
	if same.ChangeReason != "" {
		t.Errorf("unchanged grade should have no change reason, got %q", same.ChangeReason)
	}

	low := model.RatingCriteria{SourceCredibility: 60, DataCompleteness: 60, Timeliness: 60, Consistency: 60, Methodology: 60}
	changed, err := e.Rate(ctx, RateRequest{DataPointType: "indicator", DataPointID: 7, Criteria: low, RatedBy: "reviewer"})
	if err != nil {
		t.Fatalf("Rate() error: %v", err)
	}
	if changed.Grade != model.GradeC || changed.PreviousGrade != model.GradeA {
		t.Fatalf("expected A -> C, got %s -> %s", changed.PreviousGrade, changed.Grade)
	}
	if !strings.Contains(changed.ChangeReason, "from A to C") {
		t.Errorf("unexpected change reason %q", changed.ChangeReason)
	}

	history, err := e.History(ctx, "indicator", 7)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 ratings, got %d", len(history))
	}

	latest, err := e.Latest(ctx, "indicator", 7)
	if err != nil {
		t.Fatalf("Latest() error: %v", err)
	}
	if latest.ID != changed.ID {
		t.Errorf("latest should be %d, got %d", changed.ID, latest.ID)
	}
}

func TestRate_Validation(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()

	tests := []struct {
		name string
		req  RateRequest
	}{
		{"missing rater", RateRequest{DataPointType: "indicator", DataPointID: 1}},
		{"missing type", RateRequest{DataPointID: 1, RatedBy: "a"}},
		{"criterion out of range", RateRequest{DataPointType: "indicator", DataPointID: 1, RatedBy: "a",
			Criteria: model.RatingCriteria{SourceCredibility: 120}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Rate(ctx, tt.req); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRate_StoreUnavailable(t *testing.T) {
	e, mem := newTestEngine()
	mem.SetAvailable(false)
	_, err := e.Rate(context.Background(), RateRequest{DataPointType: "indicator", DataPointID: 1, RatedBy: "a"})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestLatest_NotFound(t *testing.T) {
	e, _ := newTestEngine()
	if _, err := e.Latest(context.Background(), "indicator", 99); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAutoCriteria(t *testing.T) {
	e, _ := newTestEngine()

	c := e.AutoCriteria(SourceMeta{Official: true, Audited: true, CoveragePercent: 92.4, LagDays: 5})
	want := model.RatingCriteria{SourceCredibility: 100, DataCompleteness: 92, Timeliness: 100, Consistency: 100, Methodology: 100}
	if c != want {
		t.Errorf("official audited: got %+v, want %+v", c, want)
	}

	c = e.AutoCriteria(SourceMeta{CoveragePercent: 40, LagDays: 200, ContradictionCount: 3})
	want = model.RatingCriteria{SourceCredibility: 50, DataCompleteness: 40, Timeliness: 30, Consistency: 80, Methodology: 50}
	if c != want {
		t.Errorf("unofficial stale: got %+v, want %+v", c, want)
	}
}

func TestTimelinessForLag(t *testing.T) {
	tests := []struct {
		days int
		want int
	}{
		{0, 100}, {7, 100}, {8, 85}, {30, 85}, {31, 70}, {90, 70}, {91, 50}, {180, 50}, {181, 30},
	}
	for _, tt := range tests {
		if got := timelinessForLag(tt.days); got != tt.want {
			t.Errorf("timelinessForLag(%d) = %d, want %d", tt.days, got, tt.want)
		}
	}
}

func TestAutoRate(t *testing.T) {
	e, _ := newTestEngine()
	r, err := e.AutoRate(context.Background(), "indicator", 3, SourceMeta{Official: true, CoveragePercent: 80, LagDays: 45}, "system")
	if err != nil {
		t.Fatalf("AutoRate() error: %v", err)
	}
	// 80*.3 + 80*.2 + 70*.2 + 100*.15 + 70*.15 = 24+16+14+15+10.5 = 79.5
	if r.OverallScore != 80 || r.Grade != model.GradeB {
		t.Errorf("expected 80/B, got %d/%s", r.OverallScore, r.Grade)
	}
}

func TestBadgeFor(t *testing.T) {
	if b := BadgeFor(model.GradeA); b.Label != "Highly Reliable" {
		t.Errorf("unexpected A badge %+v", b)
	}
	if b := BadgeFor(model.Grade("Z")); b.Grade != model.GradeD {
		t.Errorf("unknown grade should fall back to D, got %+v", b)
	}
}
