package reliability

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/store"
)

// fakeAdjudicator answers by question text
type fakeAdjudicator struct {
	mu      sync.Mutex
	results map[string]*model.TribunalResult
	errs    map[string]error
	claims  []model.ClaimInput
}

func (f *fakeAdjudicator) Run(ctx context.Context, claim model.ClaimInput) (*model.TribunalResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims = append(f.claims, claim)
	if err, ok := f.errs[claim.Content]; ok {
		return nil, err
	}
	if r, ok := f.results[claim.Content]; ok {
		out := *r
		return &out, nil
	}
	return &model.TribunalResult{Verdict: model.VerdictFail}, nil
}

func testConfig() model.ReliabilityConfig {
	cfg := model.DefaultReliabilityConfig()
	cfg.InterTestDelay = 0
	return cfg
}

func seedTests(t *testing.T, mem *store.Memory, tests ...model.ReliabilityTest) {
	t.Helper()
	if _, err := mem.UpsertReliabilityTests(context.Background(), tests); err != nil {
		t.Fatalf("UpsertReliabilityTests: %v", err)
	}
}

func TestDefaultBattery(t *testing.T) {
	tests, err := DefaultBattery()
	if err != nil {
		t.Fatalf("DefaultBattery() error: %v", err)
	}
	if len(tests) != 45 {
		t.Errorf("expected 45 tests, got %d", len(tests))
	}

	categories := make(map[string]int)
	for _, tc := range tests {
		categories[tc.Category]++
	}
	for _, c := range []string{"central_bank_split", "fx_gap", "inflation", "aid_flows", "sanctions",
		"sector_metrics", "humanitarian", "banking", "trade"} {
		if categories[c] != 5 {
			t.Errorf("category %s has %d tests, want 5", c, categories[c])
		}
	}
}

func TestParseBattery_Errors(t *testing.T) {
	tests := map[string]string{
		"duplicate name":     "- {name: a, question: q}\n- {name: a, question: r}\n",
		"missing question":   "- {name: a}\n",
		"bad pattern":        "- {name: a, question: q, pattern: '(['}\n",
		"unknown difficulty": "- {name: a, question: q, difficulty: brutal}\n",
		"not a list":         "name: a\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseBattery([]byte(data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestInitializeTestSuite_Idempotent(t *testing.T) {
	mem := store.NewMemory()
	lab := NewLab(mem, &fakeAdjudicator{}, testConfig())
	ctx := context.Background()

	added, err := lab.InitializeTestSuite(ctx)
	if err != nil {
		t.Fatalf("InitializeTestSuite() error: %v", err)
	}
	if added != 45 {
		t.Errorf("expected 45 added, got %d", added)
	}
	added, err = lab.InitializeTestSuite(ctx)
	if err != nil {
		t.Fatalf("InitializeTestSuite() error: %v", err)
	}
	if added != 0 {
		t.Errorf("second initialization should add nothing, got %d", added)
	}
}

func TestRunTest_Scoring(t *testing.T) {
	cases := []struct {
		name          string
		test          model.ReliabilityTest
		result        *model.TribunalResult
		passed        bool
		hallucination bool
		resolved      bool
	}{
		{
			name:     "pass with expected evidence",
			test:     model.ReliabilityTest{ID: 1, TestName: "a", Question: "q1", ExpectedPattern: `2016|September`},
			result:   &model.TribunalResult{Verdict: model.VerdictPass, PublishableText: "The split happened in september 2016", Scores: model.TribunalScores{CitationCoverage: 96, ContradictionScore: 10}},
			passed:   true,
			resolved: true,
		},
		{
			name:          "pass without expected evidence is hallucination",
			test:          model.ReliabilityTest{ID: 2, TestName: "b", Question: "q2", ExpectedPattern: `Aden`},
			result:        &model.TribunalResult{Verdict: model.VerdictPass, PublishableText: "It is in Sanaa", Scores: model.TribunalScores{CitationCoverage: 100, ContradictionScore: 50}},
			hallucination: true,
		},
		{
			name:     "pass warn never hallucinates",
			test:     model.ReliabilityTest{ID: 3, TestName: "c", Question: "q3", ExpectedPattern: `Aden`},
			result:   &model.TribunalResult{Verdict: model.VerdictPassWarn, PublishableText: "unclear", Scores: model.TribunalScores{CitationCoverage: 88}},
			passed:   true,
			resolved: true,
		},
		{
			name:   "low coverage fails",
			test:   model.ReliabilityTest{ID: 4, TestName: "d", Question: "q4"},
			result: &model.TribunalResult{Verdict: model.VerdictPassWarn, Scores: model.TribunalScores{CitationCoverage: 80, ContradictionScore: 30}},
		},
		{
			name:     "fail verdict fails",
			test:     model.ReliabilityTest{ID: 5, TestName: "e", Question: "q5"},
			result:   &model.TribunalResult{Verdict: model.VerdictFail, Scores: model.TribunalScores{CitationCoverage: 100}},
			resolved: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			adj := &fakeAdjudicator{results: map[string]*model.TribunalResult{tc.test.Question: tc.result}}
			lab := NewLab(store.NewMemory(), adj, testConfig())
			got := lab.RunTest(context.Background(), tc.test)
			if got.Passed != tc.passed || got.Hallucination != tc.hallucination || got.ContradictionResolution != tc.resolved {
				t.Errorf("got passed=%v hallucination=%v resolved=%v, want %v %v %v",
					got.Passed, got.Hallucination, got.ContradictionResolution, tc.passed, tc.hallucination, tc.resolved)
			}
			if adj.claims[0].ID != -tc.test.ID {
				t.Errorf("test claims should use negative ids, got %d", adj.claims[0].ID)
			}
		})
	}
}

func TestRunTest_ContradictionCutoff(t *testing.T) {
	adj := &fakeAdjudicator{results: map[string]*model.TribunalResult{
		"q": {Verdict: model.VerdictPass, Scores: model.TribunalScores{CitationCoverage: 100, ContradictionScore: 40}},
	}}
	test := model.ReliabilityTest{ID: 1, TestName: "x", Question: "q"}

	if got := NewLab(store.NewMemory(), adj, testConfig()).RunTest(context.Background(), test); got.ContradictionResolution {
		t.Error("score 40 must not count as resolved at the default cut-off of 30")
	}

	cfg := testConfig()
	cfg.ContradictionResolved = 50
	if got := NewLab(store.NewMemory(), adj, cfg).RunTest(context.Background(), test); !got.ContradictionResolution {
		t.Error("score 40 should count as resolved with the cut-off raised to 50")
	}

	cfg.ContradictionResolved = 0
	if lab := NewLab(store.NewMemory(), adj, cfg); lab.cfg.ContradictionResolved != 30 {
		t.Errorf("unset cut-off should default to 30, got %v", lab.cfg.ContradictionResolved)
	}
}

func TestRunTest_Error(t *testing.T) {
	adj := &fakeAdjudicator{errs: map[string]error{"q": errors.New("boom")}}
	lab := NewLab(store.NewMemory(), adj, testConfig())
	got := lab.RunTest(context.Background(), model.ReliabilityTest{ID: 1, TestName: "x", Question: "q"})
	if got.Passed || got.Verdict != model.VerdictFail || !strings.Contains(got.Details, "boom") {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestScore(t *testing.T) {
	if got := Score(1, 100, 100, 0); got != 100 {
		t.Errorf("perfect run = %v, want 100", got)
	}
	if got := Score(0, 0, 0, 1); got != 0 {
		t.Errorf("worst run = %v, want 0", got)
	}
	// 40*0.5 + 30*0.9 + 20*0.5 + 10*0.75 = 20 + 27 + 10 + 7.5
	if got := Score(0.5, 90, 50, 0.25); got != 64.5 {
		t.Errorf("mixed run = %v, want 64.5", got)
	}
}

func TestRun_StoresScoredRun(t *testing.T) {
	mem := store.NewMemory()
	seedTests(t, mem,
		model.ReliabilityTest{TestName: "a", Category: "fx_gap", Question: "q1"},
		model.ReliabilityTest{TestName: "b", Category: "fx_gap", Question: "q2"},
	)
	adj := &fakeAdjudicator{results: map[string]*model.TribunalResult{
		"q1": {Verdict: model.VerdictPass, Scores: model.TribunalScores{CitationCoverage: 100, ContradictionScore: 0}},
		"q2": {Verdict: model.VerdictPass, Scores: model.TribunalScores{CitationCoverage: 100, ContradictionScore: 0}},
	}}
	lab := NewLab(mem, adj, testConfig())

	run, err := lab.Run(context.Background(), model.RunNightly, 0)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if run.TotalTests != 2 || run.PassedTests != 2 || run.ReliabilityScore != 100 || run.DeploymentBlocked {
		t.Errorf("unexpected run %+v", run)
	}

	latest, err := lab.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest() error: %v", err)
	}
	if latest.ID != run.ID {
		t.Errorf("latest run = %d, want %d", latest.ID, run.ID)
	}
}

func TestRun_LimitAndBlocked(t *testing.T) {
	mem := store.NewMemory()
	seedTests(t, mem,
		model.ReliabilityTest{TestName: "a", Question: "q1"},
		model.ReliabilityTest{TestName: "b", Question: "q2"},
		model.ReliabilityTest{TestName: "c", Question: "q3"},
	)
	adj := &fakeAdjudicator{}
	lab := NewLab(mem, adj, testConfig())

	run, err := lab.Run(context.Background(), model.RunRelease, 2)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if run.TotalTests != 2 || len(adj.claims) != 2 {
		t.Errorf("limit not applied: %d tests, %d calls", run.TotalTests, len(adj.claims))
	}
	// All FAIL with zero coverage: only resolution (0 < 30) and no hallucination score
	if run.ReliabilityScore != 30 || !run.DeploymentBlocked {
		t.Errorf("expected score 30 and blocked, got %v / %v", run.ReliabilityScore, run.DeploymentBlocked)
	}
}

func TestRun_Errors(t *testing.T) {
	mem := store.NewMemory()
	lab := NewLab(mem, &fakeAdjudicator{}, testConfig())
	ctx := context.Background()

	if _, err := lab.Run(ctx, model.RunManual, 0); !errors.Is(err, ErrNoTests) {
		t.Errorf("expected ErrNoTests, got %v", err)
	}
	if _, err := lab.Run(ctx, "hourly", 0); !errors.Is(err, ErrInvalidRunType) {
		t.Errorf("expected ErrInvalidRunType, got %v", err)
	}

	seedTests(t, mem, model.ReliabilityTest{TestName: "a", Question: "q1"})
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := lab.Run(cancelled, model.RunManual, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRun_Throttled(t *testing.T) {
	mem := store.NewMemory()
	seedTests(t, mem,
		model.ReliabilityTest{TestName: "a", Question: "q1"},
		model.ReliabilityTest{TestName: "b", Question: "q2"},
		model.ReliabilityTest{TestName: "c", Question: "q3"},
	)
	cfg := testConfig()
	cfg.InterTestDelay = 30 * time.Millisecond
	lab := NewLab(mem, &fakeAdjudicator{}, cfg)

	start := time.Now()
	if _, err := lab.Run(context.Background(), model.RunManual, 0); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 55*time.Millisecond {
		t.Errorf("three tests should be spaced by the inter-test delay, took %v", elapsed)
	}
}

func TestShouldBlockDeployment(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	insert := func(t *testing.T, mem *store.Memory, score float64, completed time.Time) {
		t.Helper()
		run := &model.ReliabilityRun{
			RunType:           model.RunNightly,
			ReliabilityScore:  score,
			PassThreshold:     85,
			DeploymentBlocked: score < 85,
			StartedAt:         completed.Add(-time.Minute),
			CompletedAt:       completed,
		}
		if err := mem.InsertReliabilityRun(ctx, run); err != nil {
			t.Fatalf("InsertReliabilityRun: %v", err)
		}
	}
	newLab := func(mem *store.Memory) *Lab {
		lab := NewLab(mem, &fakeAdjudicator{}, testConfig())
		lab.now = func() time.Time { return now }
		return lab
	}

	t.Run("no run", func(t *testing.T) {
		status := newLab(store.NewMemory()).ShouldBlockDeployment(ctx)
		if !status.Blocked || status.Reason != ReasonNoRun {
			t.Errorf("unexpected status %+v", status)
		}
	})

	t.Run("stale run", func(t *testing.T) {
		mem := store.NewMemory()
		insert(t, mem, 95, now.Add(-30*time.Hour))
		status := newLab(mem).ShouldBlockDeployment(ctx)
		if !status.Blocked || status.Reason != "Last reliability run was 30 hours ago (max 24h)" {
			t.Errorf("unexpected status %+v", status)
		}
	})

	t.Run("below threshold", func(t *testing.T) {
		mem := store.NewMemory()
		insert(t, mem, 72.4, now.Add(-time.Hour))
		status := newLab(mem).ShouldBlockDeployment(ctx)
		if !status.Blocked || !strings.HasPrefix(status.Reason, "Reliability score 72.4% below threshold 85%") || status.ReliabilityScore != 72.4 {
			t.Errorf("unexpected status %+v", status)
		}
	})

	t.Run("passing", func(t *testing.T) {
		mem := store.NewMemory()
		insert(t, mem, 91, now.Add(-2*time.Hour))
		status := newLab(mem).ShouldBlockDeployment(ctx)
		if status.Blocked || status.Reason != ReasonPassed || status.LastRunAt == nil {
			t.Errorf("unexpected status %+v", status)
		}
	})

	t.Run("newer blocking run wins", func(t *testing.T) {
		mem := store.NewMemory()
		insert(t, mem, 91, now.Add(-2*time.Hour))
		lab := newLab(mem)
		if lab.ShouldBlockDeployment(ctx).Blocked {
			t.Fatal("first check should pass")
		}
		insert(t, mem, 60, now.Add(-time.Hour))
		if !lab.ShouldBlockDeployment(ctx).Blocked {
			t.Error("a newer blocking run must be seen immediately")
		}
	})

	t.Run("store unavailable", func(t *testing.T) {
		mem := store.NewMemory()
		mem.SetAvailable(false)
		status := newLab(mem).ShouldBlockDeployment(ctx)
		if !status.Blocked || !strings.Contains(status.Reason, "store not available") {
			t.Errorf("unexpected status %+v", status)
		}
	})
}
