package confidence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/store"
)

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestLedger_AppendAndValueAsOf(t *testing.T) {
	l := NewLedger(store.NewMemory())
	ctx := context.Background()

	values := []float64{100, 104, 102.5}
	for i, v := range values {
		if _, err := l.Append(ctx, VintageInput{DataPointType: "indicator", DataPointID: 1, VintageDate: day(i*10 + 1), Value: v}); err != nil {
			t.Fatalf("Append(%d) error: %v", i, err)
		}
	}

	for i, v := range values {
		got, err := l.ValueAsOf(ctx, "indicator", 1, day(i*10+1))
		if err != nil {
			t.Fatalf("ValueAsOf(%d) error: %v", i, err)
		}
		if got.Value != v {
			t.Errorf("ValueAsOf(vintage %d) = %v, want %v", i, got.Value, v)
		}
	}

	between, err := l.ValueAsOf(ctx, "indicator", 1, day(15))
	if err != nil {
		t.Fatalf("ValueAsOf(between) error: %v", err)
	}
	if between.Value != 104 {
		t.Errorf("expected 104 between vintages, got %v", between.Value)
	}

	if _, err := l.ValueAsOf(ctx, "indicator", 1, day(1).Add(-time.Hour)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound before first vintage, got %v", err)
	}
}

func TestLedger_ChangeFields(t *testing.T) {
	l := NewLedger(store.NewMemory())
	ctx := context.Background()

	first, err := l.Append(ctx, VintageInput{DataPointType: "indicator", DataPointID: 2, VintageDate: day(1), Value: 200, ChangeType: model.ChangeCorrection})
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if first.ChangeType != model.ChangeInitial || first.PreviousValue != nil {
		t.Errorf("first vintage should be initial without previous value: %+v", first)
	}

	second, err := l.Append(ctx, VintageInput{DataPointType: "indicator", DataPointID: 2, VintageDate: day(2), Value: 150})
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if second.ChangeType != model.ChangeRevision {
		t.Errorf("expected default revision, got %s", second.ChangeType)
	}
	if second.PreviousValue == nil || *second.PreviousValue != 200 {
		t.Errorf("expected previous value 200, got %v", second.PreviousValue)
	}
	if second.ChangeMagnitude != -50 || second.ChangePercent != -25 {
		t.Errorf("expected -50 / -25%%, got %v / %v", second.ChangeMagnitude, second.ChangePercent)
	}

	third, err := l.Append(ctx, VintageInput{DataPointType: "indicator", DataPointID: 2, VintageDate: day(3), Value: 160, ChangeType: model.ChangeRestatement})
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if third.ChangeType != model.ChangeRestatement {
		t.Errorf("expected restatement, got %s", third.ChangeType)
	}

	summary, err := l.Summarize(ctx, "indicator", 2)
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	if summary.TotalRevisions != 2 || summary.FirstValue != 200 || summary.LatestValue != 160 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if summary.TotalChange != -40 || summary.TotalChangePercent != -20 {
		t.Errorf("expected -40 / -20%%, got %v / %v", summary.TotalChange, summary.TotalChangePercent)
	}
	if summary.ByChangeType[model.ChangeInitial] != 1 || summary.ByChangeType[model.ChangeRevision] != 1 || summary.ByChangeType[model.ChangeRestatement] != 1 {
		t.Errorf("unexpected change type counts %v", summary.ByChangeType)
	}
}

func TestLedger_RejectsOutOfOrder(t *testing.T) {
	l := NewLedger(store.NewMemory())
	ctx := context.Background()

	if _, err := l.Append(ctx, VintageInput{DataPointType: "indicator", DataPointID: 3, VintageDate: day(10), Value: 1}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	for _, d := range []time.Time{day(10), day(5)} {
		if _, err := l.Append(ctx, VintageInput{DataPointType: "indicator", DataPointID: 3, VintageDate: d, Value: 2}); !errors.Is(err, store.ErrOutOfOrder) {
			t.Errorf("Append(%s) expected ErrOutOfOrder, got %v", d.Format("2006-01-02"), err)
		}
	}
}

func TestLedger_InvalidInput(t *testing.T) {
	l := NewLedger(store.NewMemory())
	ctx := context.Background()

	if _, err := l.Append(ctx, VintageInput{DataPointType: "indicator", DataPointID: 4, VintageDate: day(1), ChangeType: "guess"}); !errors.Is(err, ErrInvalidChangeType) {
		t.Errorf("expected ErrInvalidChangeType, got %v", err)
	}
	if _, err := l.Append(ctx, VintageInput{DataPointType: "indicator", DataPointID: 4}); err == nil {
		t.Error("expected error for missing vintage date")
	}
}

func TestSummarizeVintages_Empty(t *testing.T) {
	s := SummarizeVintages(nil)
	if s.TotalRevisions != 0 || s.ByChangeType == nil {
		t.Errorf("unexpected empty summary %+v", s)
	}
}
