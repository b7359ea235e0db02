package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/publication"
	"github.com/ppiankov/evidencegate/internal/store"
	"github.com/ppiankov/evidencegate/internal/worker"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, model.DefaultConfig())
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func TestDecodeConfig_Defaults(t *testing.T) {
	cfg, err := decodeConfig(newTestViper())
	if err != nil {
		t.Fatalf("decodeConfig: %v", err)
	}
	want := model.DefaultConfig()
	if cfg.Server.Addr != want.Server.Addr {
		t.Errorf("Addr = %q, want %q", cfg.Server.Addr, want.Server.Addr)
	}
	if cfg.Thresholds.TribunalReuseWindow != want.Thresholds.TribunalReuseWindow {
		t.Errorf("TribunalReuseWindow = %v, want %v", cfg.Thresholds.TribunalReuseWindow, want.Thresholds.TribunalReuseWindow)
	}
	if cfg.Reliability.PassThreshold != 85 {
		t.Errorf("PassThreshold = %v, want 85", cfg.Reliability.PassThreshold)
	}
	if cfg.Policy.GradeScores["A"] != want.Policy.GradeScores["A"] {
		t.Errorf("GradeScores[A] = %d, want %d", cfg.Policy.GradeScores["A"], want.Policy.GradeScores["A"])
	}
}

func TestDecodeConfig_EnvOverridesFile(t *testing.T) {
	file := `
server:
  addr: ":7000"
reliability:
  max_run_age: 2h
  contradiction_resolved: 45
gates:
  auto_publish_score: 95
`
	v := newTestViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(file)); err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	t.Setenv("EVIDENCEGATE_SERVER_ADDR", ":9999")
	t.Setenv("EVIDENCEGATE_STORE_DRIVER", "postgres")

	cfg, err := decodeConfig(v)
	if err != nil {
		t.Fatalf("decodeConfig: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("Addr = %q, want env value", cfg.Server.Addr)
	}
	if cfg.Store.Driver != "postgres" {
		t.Errorf("Driver = %q, want env value", cfg.Store.Driver)
	}
	if cfg.Reliability.MaxRunAge != 2*time.Hour {
		t.Errorf("MaxRunAge = %v, want file value", cfg.Reliability.MaxRunAge)
	}
	if cfg.Reliability.ContradictionResolved != 45 {
		t.Errorf("ContradictionResolved = %v, want file value", cfg.Reliability.ContradictionResolved)
	}
	if cfg.Gates.AutoPublishScore != 95 {
		t.Errorf("AutoPublishScore = %d, want file value", cfg.Gates.AutoPublishScore)
	}
	if cfg.Gates.MinPassedGates != model.DefaultGatesConfig().MinPassedGates {
		t.Errorf("MinPassedGates = %d, want default", cfg.Gates.MinPassedGates)
	}
}

func TestDefaultConfigFileRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeDefaultConfig(&buf); err != nil {
		t.Fatalf("writeDefaultConfig: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "# evidencegate configuration") {
		t.Error("missing header")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(&buf); err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	cfg, err := decodeConfig(v)
	if err != nil {
		t.Fatalf("decodeConfig: %v", err)
	}
	if cfg.Rating.Weights.Sum() < 0.999 || cfg.Rating.Weights.Sum() > 1.001 {
		t.Errorf("weights sum = %v, want 1", cfg.Rating.Weights.Sum())
	}
	if cfg.Reliability.InterTestDelay != 500*time.Millisecond {
		t.Errorf("InterTestDelay = %v", cfg.Reliability.InterTestDelay)
	}
	// grade keys survive viper's lower-casing
	if _, ok := cfg.Policy.GradeScores["B"]; !ok {
		t.Errorf("GradeScores = %v, want upper-case keys", cfg.Policy.GradeScores)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, err := openStore(ctx, model.StoreConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := s.(*store.Memory); !ok {
		t.Errorf("got %T, want *store.Memory", s)
	}

	if _, err := openStore(ctx, model.StoreConfig{Driver: "postgres"}); err == nil {
		t.Error("postgres without dsn should fail")
	}
	if _, err := openStore(ctx, model.StoreConfig{Driver: "sqlite"}); err == nil {
		t.Error("unknown driver should fail")
	}
}

func TestNewApp_Memory(t *testing.T) {
	a, err := newApp(context.Background(), model.DefaultConfig())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer func() { _ = a.Close() }()

	if a.llm.IsEnabled() {
		t.Error("inference should be disabled by default")
	}
	svc := a.services()
	if svc.Publisher == nil || svc.Gates == nil || svc.Reliability == nil || svc.Tribunal == nil {
		t.Errorf("services not wired: %+v", svc)
	}

	// a fresh store has no reliability run, so publication is blocked
	status := a.lab.ShouldBlockDeployment(context.Background())
	if !status.Blocked {
		t.Error("deployment should be blocked without a reliability run")
	}
}

func TestNewApp_UnknownProvider(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.LLM.Provider = "mystery"
	if _, err := newApp(context.Background(), cfg); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestPrintPublication(t *testing.T) {
	var buf bytes.Buffer

	if err := printPublication(&buf, &publication.Result{Allowed: true, Verdict: model.VerdictPass}, nil); err != nil {
		t.Errorf("allowed: %v", err)
	}
	if !strings.Contains(buf.String(), `"allowed": true`) {
		t.Errorf("output = %s", buf.String())
	}

	buf.Reset()
	err := printPublication(&buf, &publication.Result{Allowed: false, Verdict: model.VerdictFail}, nil)
	if !errors.Is(err, errNotPublishable) {
		t.Errorf("denied: err = %v, want errNotPublishable", err)
	}

	buf.Reset()
	cause := errors.New("log down")
	if err := printPublication(&buf, nil, cause); !errors.Is(err, cause) {
		t.Errorf("err = %v, want cause", err)
	}
	if buf.Len() != 0 {
		t.Error("nothing should be printed without a result")
	}
}

func TestEncodeResults(t *testing.T) {
	results := []*worker.ClaimResult{
		{Index: 0, Claim: model.ClaimInput{ID: 1, Content: "a"}, Result: &model.TribunalResult{Verdict: model.VerdictPass}},
		{Index: 1, Claim: model.ClaimInput{ID: 2, Content: "b"}, Error: errors.New("cancelled")},
	}
	var buf bytes.Buffer
	if err := encodeResults(&buf, results); err != nil {
		t.Fatalf("encodeResults: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"verdict":"PASS"`) {
		t.Errorf("line 1 = %s", lines[0])
	}
	if !strings.Contains(lines[1], `"error":"cancelled"`) || strings.Contains(lines[1], `"result"`) {
		t.Errorf("line 2 = %s", lines[1])
	}
}

func TestPrintRun(t *testing.T) {
	var buf bytes.Buffer
	printRun(&buf, &model.ReliabilityRun{
		ID:                1,
		RunType:           model.RunRelease,
		TotalTests:        2,
		PassedTests:       1,
		FailedTests:       1,
		ReliabilityScore:  50,
		PassThreshold:     85,
		DeploymentBlocked: true,
		Results: []model.TestResult{
			{TestName: "fx_gap_basic", Passed: true, Details: "Verdict: PASS"},
			{TestName: "aid_flows_2023", Details: "Verdict: FAIL"},
		},
	})
	out := buf.String()
	for _, want := range []string{"BLOCKED", "✓ fx_gap_basic", "✗ aid_flows_2023", "1 passed, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestParseID(t *testing.T) {
	if id, err := parseID("17"); err != nil || id != 17 {
		t.Errorf("parseID(17) = %d, %v", id, err)
	}
	for _, bad := range []string{"", "x", "0", "-3"} {
		if _, err := parseID(bad); err == nil {
			t.Errorf("parseID(%q) should fail", bad)
		}
	}
}
