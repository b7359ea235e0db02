package model

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStricter(t *testing.T) {
	tests := []struct {
		a, b, want Verdict
	}{
		{VerdictPass, VerdictPass, VerdictPass},
		{VerdictPass, VerdictPassWarn, VerdictPassWarn},
		{VerdictPassWarn, VerdictFail, VerdictFail},
		{VerdictFail, VerdictPass, VerdictFail},
	}
	for _, tt := range tests {
		if got := Stricter(tt.a, tt.b); got != tt.want {
			t.Errorf("Stricter(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestVerdictPublishable(t *testing.T) {
	if !VerdictPass.Publishable() || !VerdictPassWarn.Publishable() {
		t.Error("PASS and PASS_WARN should be publishable")
	}
	if VerdictFail.Publishable() {
		t.Error("FAIL should not be publishable")
	}
	if Verdict("MAYBE").Valid() {
		t.Error("unknown verdict should be invalid")
	}
}

func TestClaimWithDefaults(t *testing.T) {
	c := ClaimInput{ID: 1, Content: "x"}.WithDefaults()
	if c.PageContext != "general" || c.RegimeTag != "both" {
		t.Errorf("unexpected defaults: %+v", c)
	}

	c = ClaimInput{ID: 1, Content: "x", RegimeTag: "aden"}.WithDefaults()
	if c.RegimeTag != "aden" {
		t.Errorf("explicit regime tag overwritten: %s", c.RegimeTag)
	}
}

func TestParseGrade(t *testing.T) {
	if g, ok := ParseGrade(" b "); !ok || g != GradeB {
		t.Errorf("ParseGrade(b) = %s, %v", g, ok)
	}
	if _, ok := ParseGrade("E"); ok {
		t.Error("E should not be a valid grade")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Thresholds.CitationPass != 95 || cfg.Thresholds.CitationWarn != 85 {
		t.Errorf("unexpected citation thresholds: %+v", cfg.Thresholds)
	}
	if sum := cfg.Rating.Weights.Sum(); sum < 0.9999 || sum > 1.0001 {
		t.Errorf("rating weights sum to %f, want 1", sum)
	}
	if cfg.Reliability.PassThreshold != 85 {
		t.Errorf("expected reliability threshold 85, got %f", cfg.Reliability.PassThreshold)
	}
	if cfg.LLM.Provider != "" {
		t.Errorf("LLM should be disabled by default, got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Timeout != 30 {
		t.Errorf("expected inference timeout 30s, got %ds", cfg.LLM.Timeout)
	}
	if cfg.Reliability.ContradictionResolved != 30 {
		t.Errorf("expected contradiction resolution cut-off 30, got %v", cfg.Reliability.ContradictionResolved)
	}
}

func TestDefaultPolicyTables(t *testing.T) {
	p := DefaultPolicyTables()

	if len(p.TrustedDomains) != 8 {
		t.Errorf("expected 8 trusted domains, got %d", len(p.TrustedDomains))
	}
	if p.GradeScores["A"] != 100 || p.GradeScores["D"] != 40 {
		t.Errorf("unexpected grade scores: %v", p.GradeScores)
	}
	if len(p.CriticalGates) != 3 {
		t.Errorf("expected 3 critical gates, got %v", p.CriticalGates)
	}
}

func TestLoadPolicyTablesMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("trusted_domains:\n  - example.org\n"), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPolicyTables(path)
	if err != nil {
		t.Fatalf("LoadPolicyTables: %v", err)
	}
	if len(p.TrustedDomains) != 1 || p.TrustedDomains[0] != "example.org" {
		t.Errorf("override not applied: %v", p.TrustedDomains)
	}
	if len(p.TranslationPlaceholders) != 2 {
		t.Errorf("defaults not merged: %v", p.TranslationPlaceholders)
	}
}

func TestContradictionStatusRank(t *testing.T) {
	if !(StatusDetected.Rank() < StatusInvestigating.Rank() &&
		StatusInvestigating.Rank() < StatusExplained.Rank() &&
		StatusExplained.Rank() < StatusResolved.Rank()) {
		t.Error("status ranks out of order")
	}
	if !StatusDetected.Open() || StatusResolved.Open() {
		t.Error("unexpected Open() results")
	}
}

func TestPolicyTablesNormalize(t *testing.T) {
	p := PolicyTables{GradeScores: map[string]int{"a": 100, "B": 80}}.Normalize()
	if p.GradeScores["A"] != 100 || p.GradeScores["B"] != 80 {
		t.Errorf("GradeScores = %v", p.GradeScores)
	}
	if _, ok := p.GradeScores["a"]; ok {
		t.Error("lower-case key should be gone")
	}
}
