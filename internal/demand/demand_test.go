package demand

import (
	"testing"

	"meter-determinants/internal/diag"
)

func fp(v float64) *float64 { return &v }

func TestClassifyRate(t *testing.T) {
	cases := []struct {
		code string
		want RateFamily
	}{
		{"E-19", FamilyLargeGeneral},
		{"b-20 s", FamilyLargeGeneral},
		{"E-1", FamilyResidential},
		{"E-TOU-C", FamilyResidential},
		{"B-10", FamilyGeneralDemand},
		{"TOU-GS-3", FamilyGeneralDemand},
		{"A-6", FamilySmallGeneral},
		{"GS-2", FamilySmallGeneral},
		{"", FamilyUnknown},
		{"Z-99", FamilyUnknown},
	}
	for _, c := range cases {
		if got := ClassifyRate(c.code); got != c.want {
			t.Errorf("ClassifyRate(%q) = %s, want %s", c.code, got, c.want)
		}
	}
}

func TestApplyNoComputedMaxBlocks(t *testing.T) {
	out, trail := Apply(DefaultRules("PGE"), FamilyLargeGeneral, nil, nil)
	if out.Method != "none" || out.BillingDemandKW != nil {
		t.Fatalf("got %+v, want no-op outcome", out)
	}
	if !trail.HasBlocking() {
		t.Fatal("missing computed max must be blocking")
	}
}

func TestApplyIdentityForNonRatchetFamilies(t *testing.T) {
	history := []HistoryEntry{{ComputedMaxKW: fp(500)}}
	for _, f := range []RateFamily{FamilyResidential, FamilySmallGeneral, FamilyUnknown} {
		out, _ := Apply(DefaultRules("PGE"), f, fp(80), history)
		if out.Method != "identity" {
			t.Errorf("%s: method = %q, want identity", f, out.Method)
		}
		if out.BillingDemandKW == nil || *out.BillingDemandKW != 80 {
			t.Errorf("%s: billing demand = %v, want 80", f, out.BillingDemandKW)
		}
		if out.RatchetDemandKW != nil {
			t.Errorf("%s: no ratchet floor expected", f)
		}
	}
}

func TestApplyRatchetFloor(t *testing.T) {
	history := []HistoryEntry{
		{ComputedMaxKW: fp(180), BillingKW: fp(200)},
		{ComputedMaxKW: fp(150)},
	}
	out, _ := Apply(DefaultRules("PGE"), FamilyLargeGeneral, fp(60), history)

	if out.Method != "ratchet" {
		t.Fatalf("method = %q, want ratchet", out.Method)
	}
	// Floor is 50% of the 200 kW historical max, above the 60 kW computed.
	if out.BillingDemandKW == nil || *out.BillingDemandKW != 100 {
		t.Errorf("billing demand = %v, want 100", out.BillingDemandKW)
	}
	if out.HistoryMaxKW == nil || *out.HistoryMaxKW != 200 {
		t.Errorf("history max = %v, want 200", out.HistoryMaxKW)
	}
}

func TestApplyRatchetNeverBelowComputed(t *testing.T) {
	history := []HistoryEntry{{BillingKW: fp(100)}}
	out, _ := Apply(DefaultRules("PGE"), FamilyGeneralDemand, fp(300), history)

	if out.BillingDemandKW == nil || *out.BillingDemandKW != 300 {
		t.Errorf("billing demand = %v, want computed 300", out.BillingDemandKW)
	}
	if out.RatchetDemandKW == nil || *out.RatchetDemandKW != 50 {
		t.Errorf("ratchet floor = %v, want 50", out.RatchetDemandKW)
	}
}

func TestApplyRatchetWithoutHistoryWarns(t *testing.T) {
	out, trail := Apply(DefaultRules("PGE"), FamilyLargeGeneral, fp(120), nil)

	if out.Method != "identity" || out.BillingDemandKW == nil || *out.BillingDemandKW != 120 {
		t.Fatalf("got %+v, want identity at 120", out)
	}
	warned := false
	for _, m := range trail.MissingInfo {
		if m.ID == "demand_rule_needs_history" && m.Severity == diag.SeverityWarning {
			warned = true
		}
	}
	if !warned {
		t.Fatal("ratchet family without history must warn")
	}
}

func TestZeroFloorDisablesRatchet(t *testing.T) {
	rules := Rules{Utility: "PGE", RatchetFloorPct: 0}
	out, _ := Apply(rules, FamilyLargeGeneral, fp(60), []HistoryEntry{{BillingKW: fp(400)}})
	if out.Method != "identity" {
		t.Errorf("method = %q, want identity when floor is zero", out.Method)
	}
}
