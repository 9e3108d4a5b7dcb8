package diag

import (
	"math"
	"testing"
)

func TestConfidenceClamping(t *testing.T) {
	if got := NewConfidence(1.4).Value(); got != 1 {
		t.Errorf("NewConfidence(1.4) = %v, want 1", got)
	}
	if got := NewConfidence(0.3).Penalize(0.5).Value(); got != 0 {
		t.Errorf("over-penalized confidence = %v, want 0", got)
	}
	if got := NewConfidence(0.8).Penalize(0.2).Value(); math.Abs(got-0.6) > 1e-12 {
		t.Errorf("penalized confidence = %v, want 0.6", got)
	}
	if got := NewConfidence(0.8).Scale(0.5).Value(); got != 0.4 {
		t.Errorf("scaled confidence = %v, want 0.4", got)
	}
	if got := NewConfidence(0.8).Scale(2).Value(); got != 1 {
		t.Errorf("over-scaled confidence = %v, want 1", got)
	}
}

func TestTrailExtendAndBlocking(t *testing.T) {
	var a, b Trail
	a.AddEvidence("interval_data", "energy_kwh", "120.5")
	a.AddBecause("energy summed over 2976 intervals")
	b.AddMissing("no_demand_samples", "interval_data", SeverityBlocking, "no power values")

	a.Extend(b)

	if len(a.Evidence) != 1 || len(a.Because) != 1 || len(a.MissingInfo) != 1 {
		t.Fatalf("extend lost items: %+v", a)
	}
	if !a.HasBlocking() {
		t.Error("blocking item must propagate through Extend")
	}
	if b.HasBlocking() != true {
		t.Error("source trail unchanged")
	}
}

func TestDedupeMissingKeepsHighestSeverity(t *testing.T) {
	items := []MissingInfo{
		{ID: "coverage", Severity: SeverityInfo, Description: "first"},
		{ID: "coverage", Severity: SeverityWarning, Description: "second"},
		{ID: "coverage", Severity: SeverityInfo, Description: "third"},
		{ID: "no_usage", Severity: SeverityBlocking},
		{ID: "aa_note", Severity: SeverityWarning},
	}

	out := DedupeMissing(items)

	if len(out) != 3 {
		t.Fatalf("got %d items, want 3", len(out))
	}
	if out[0].ID != "no_usage" {
		t.Errorf("blocking items must sort first, got %s", out[0].ID)
	}
	if out[1].ID != "aa_note" || out[2].ID != "coverage" {
		t.Errorf("warning items must sort by ID, got %s then %s", out[1].ID, out[2].ID)
	}
	for _, m := range out {
		if m.ID == "coverage" && m.Severity != SeverityWarning {
			t.Errorf("duplicate resolution kept %s, want the warning", m.Severity)
		}
	}
}

func TestDedupeMissingEmpty(t *testing.T) {
	if out := DedupeMissing(nil); len(out) != 0 {
		t.Fatalf("got %v, want empty", out)
	}
}
