package gates

import (
	"testing"

	"github.com/ppiankov/evidencegate/internal/model"
)

func ptr(v int64) *int64 { return &v }

func withCitations(n int) *model.UpdateItem {
	item := &model.UpdateItem{EvidencePackID: ptr(9), Bundle: &model.EvidenceBundle{}}
	for range n {
		item.Bundle.Citations = append(item.Bundle.Citations, "https://example.org/report")
	}
	return item
}

func TestEvidence(t *testing.T) {
	tests := []struct {
		name   string
		item   *model.UpdateItem
		passed bool
		score  int
	}{
		{"no pack", &model.UpdateItem{}, false, 0},
		{"no bundle", &model.UpdateItem{EvidencePackID: ptr(1)}, false, 20},
		{"no citations", withCitations(0), false, 30},
		{"three citations", withCitations(3), true, 80},
		{"capped", withCitations(8), true, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evidence(tt.item)
			if got.Passed != tt.passed || got.Score != tt.score {
				t.Errorf("Evidence() = passed %v score %d, want %v %d", got.Passed, got.Score, tt.passed, tt.score)
			}
			if got.GateName != EvidenceGate || len(got.Reasons) != 1 {
				t.Errorf("unexpected result shape: %+v", got)
			}
		})
	}
}

func TestTrustedHost(t *testing.T) {
	domains := model.DefaultPolicyTables().TrustedDomains
	tests := []struct {
		url  string
		want bool
	}{
		{"https://worldbank.org/en/country/yemen", true},
		{"https://data.worldbank.org/indicator", true},
		{"https://RELIEFWEB.INT/report/yemen", true},
		{"https://www.imf.org.:443/en", true},
		{"https://evil.example/?via=worldbank.org", false},
		{"https://notworldbank.org.attacker.net/report", false},
		{"https://notworldbank.org/report", false},
		{"https://attacker.net/worldbank.org/report", false},
		{"worldbank.org/report", false}, // no scheme, so no host
		{"", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		if got := TrustedHost(tt.url, domains); got != tt.want {
			t.Errorf("TrustedHost(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestTranslation(t *testing.T) {
	placeholders := model.DefaultPolicyTables().TranslationPlaceholders
	full := model.UpdateItem{TitleEn: "Rates", SummaryEn: "Rates rose", TitleAr: "أسعار", SummaryAr: "ارتفعت الأسعار"}

	enOnly := full
	enOnly.TitleAr, enOnly.SummaryAr = "", ""
	arOnly := full
	arOnly.SummaryEn = ""
	pending := full
	pending.SummaryAr = "[EN Translation Pending]"

	tests := []struct {
		name   string
		item   model.UpdateItem
		passed bool
		score  int
		reason string
	}{
		{"both missing", model.UpdateItem{}, false, 0, "Missing both English and Arabic content"},
		{"arabic missing", enOnly, false, 50, "Missing Arabic translation"},
		{"english missing", arOnly, false, 50, "Missing English translation"},
		{"placeholder", pending, false, 70, "Translation placeholders detected - needs human review"},
		{"complete", full, true, 100, "Both English and Arabic content present"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Translation(&tt.item, placeholders)
			if got.Passed != tt.passed || got.Score != tt.score || got.Reasons[0] != tt.reason {
				t.Errorf("Translation() = %+v", got)
			}
		})
	}

	got := Translation(&pending, placeholders)
	if len(got.Warnings) != 1 || got.Warnings[0] != "placeholder: [EN Translation Pending]" {
		t.Errorf("expected placeholder warning, got %v", got.Warnings)
	}
}

func TestSensitivity(t *testing.T) {
	tests := []struct {
		level  model.Sensitivity
		passed bool
		score  int
	}{
		{model.SensitivityPublicSafe, true, 100},
		{model.SensitivityNeedsReview, false, 60},
		{model.SensitivityRestrictedMeta, false, 20},
		{"", false, 40},
		{"secret", false, 40},
	}
	for _, tt := range tests {
		got := Sensitivity(&model.UpdateItem{Sensitivity: tt.level})
		if got.Passed != tt.passed || got.Score != tt.score {
			t.Errorf("Sensitivity(%q) = passed %v score %d, want %v %d", tt.level, got.Passed, got.Score, tt.passed, tt.score)
		}
	}
}

func TestQuality(t *testing.T) {
	policy := model.DefaultPolicyTables()
	allGood := map[string]string{"accuracy": "good", "timeliness": "excellent", "coherence": "Good", "accessibility": "excellent"}

	tests := []struct {
		name   string
		grade  model.Grade
		dqaf   map[string]string
		passed bool
		score  int
	}{
		{"grade A", model.GradeA, nil, true, 100},
		{"grade A capped", model.GradeA, allGood, true, 100},
		{"grade C", model.GradeC, nil, false, 60},
		{"grade C lifted", model.GradeC, map[string]string{"accuracy": "good", "coherence": "excellent", "timeliness": "poor"}, true, 70},
		{"grade D", model.GradeD, allGood, false, 60},
		{"no grade", "", nil, false, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Quality(&model.UpdateItem{ConfidenceGrade: tt.grade, DQAF: tt.dqaf}, policy, 70)
			if got.Passed != tt.passed || got.Score != tt.score {
				t.Errorf("Quality() = passed %v score %d, want %v %d", got.Passed, got.Score, tt.passed, tt.score)
			}
		})
	}
}
