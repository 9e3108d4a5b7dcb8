package reconcile

import (
	"math"
	"testing"
	"time"

	"meter-determinants/internal/cycle"
	"meter-determinants/internal/determinant"
	"meter-determinants/internal/meter"
)

func fp(v float64) *float64 { return &v }

func det(y int, m time.Month, demandKW, energyKWh, coverage float64, observed int) determinant.CycleDeterminant {
	start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	c := cycle.New(start, start.AddDate(0, 1, 0), start.Format("2006-01"), "UTC")
	return determinant.CycleDeterminant{
		MeterID:       "m1",
		Cycle:         c,
		EnergyKWh:     &energyKWh,
		DemandMaxKW:   &demandKW,
		CoveragePct:   coverage,
		ObservedCount: observed,
		Confidence:    0.8,
	}
}

func rec(y int, m time.Month, demandKW, energyKWh *float64) meter.BillingRecord {
	start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return meter.BillingRecord{
		MeterID:        "m1",
		PeriodStart:    &start,
		PeriodEnd:      start.AddDate(0, 1, 0),
		StatedDemandKW: demandKW,
		StatedKWh:      energyKWh,
		Source:         "billing_export",
	}
}

func TestReconcileFlagsDemandMismatch(t *testing.T) {
	dets := []determinant.CycleDeterminant{det(2024, time.January, 120, 5000, 1, 2900)}
	records := []meter.BillingRecord{rec(2024, time.January, fp(100), fp(5000))}

	summary, enriched := Reconcile(DefaultParams(), dets, records)

	if summary.SelectedCount != 1 {
		t.Fatalf("selected = %d, want 1", summary.SelectedCount)
	}
	m := summary.Matches[0]
	if !m.DemandMismatch || m.EnergyMismatch {
		t.Fatalf("want demand mismatch only, got %+v", m)
	}
	if m.DeltaDemandPct == nil || math.Abs(*m.DeltaDemandPct-0.20) > 1e-9 {
		t.Errorf("delta = %v, want 0.20", m.DeltaDemandPct)
	}
	if math.Abs(summary.ConfidenceImpact-0.88) > 1e-9 {
		t.Errorf("impact = %v, want 0.88", summary.ConfidenceImpact)
	}
	if math.Abs(enriched[0].Confidence-0.8*0.88) > 1e-9 {
		t.Errorf("enriched confidence = %v, want %v", enriched[0].Confidence, 0.8*0.88)
	}
	// Inputs are not mutated.
	if dets[0].Confidence != 0.8 {
		t.Error("input determinant mutated")
	}
}

func TestReconcileThresholdIsStrict(t *testing.T) {
	dets := []determinant.CycleDeterminant{det(2024, time.January, 112, 5000, 1, 2900)}
	records := []meter.BillingRecord{rec(2024, time.January, fp(100), fp(5000))}

	summary, _ := Reconcile(DefaultParams(), dets, records)
	m := summary.Matches[0]
	if m.DemandMismatch {
		t.Fatal("a delta exactly at the threshold must not flag")
	}
	if summary.ConfidenceImpact != 1 {
		t.Errorf("impact = %v, want 1", summary.ConfidenceImpact)
	}
}

func TestReconcileBothMismatchesCompound(t *testing.T) {
	dets := []determinant.CycleDeterminant{det(2024, time.January, 150, 7000, 1, 2900)}
	records := []meter.BillingRecord{rec(2024, time.January, fp(100), fp(5000))}

	summary, _ := Reconcile(DefaultParams(), dets, records)
	if !summary.AnyDemandMismatch || !summary.AnyEnergyMismatch {
		t.Fatal("both mismatches expected")
	}
	if math.Abs(summary.ConfidenceImpact-0.80) > 1e-9 {
		t.Errorf("impact = %v, want 0.80", summary.ConfidenceImpact)
	}
}

func TestReconcileSkipReasons(t *testing.T) {
	dets := []determinant.CycleDeterminant{
		det(2023, time.November, 100, 5000, 1, 0),     // ends before any interval data
		det(2024, time.January, 100, 5000, 0.5, 2900), // poor coverage
		det(2024, time.February, 100, 5000, 1, 2800),  // healthy
		det(2024, time.March, 100, 5000, 1, 2900),     // no stated bill
	}
	records := []meter.BillingRecord{
		rec(2023, time.November, fp(100), fp(5000)),
		rec(2024, time.January, fp(100), fp(5000)),
		rec(2024, time.February, fp(100), fp(5000)),
	}

	summary, _ := Reconcile(DefaultParams(), dets, records)

	wantSkip := []string{SkipOutOfOverlapWindow, SkipLowCoverage, "", SkipNoUsage}
	for i, want := range wantSkip {
		if got := summary.Matches[i].SkipReason; got != want {
			t.Errorf("cycle %s: skip = %q, want %q", summary.Matches[i].CycleLabel, got, want)
		}
	}
	if !summary.Matches[2].IsReconcilable || !summary.Matches[2].Selected {
		t.Error("the healthy cycle must be reconcilable and selected")
	}
}

func TestWindowCapsAtMostRecentTwelve(t *testing.T) {
	var dets []determinant.CycleDeterminant
	var records []meter.BillingRecord
	start := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 14; i++ {
		ts := start.AddDate(0, i, 0)
		dets = append(dets, det(ts.Year(), ts.Month(), 100, 5000, 1, 2900))
		records = append(records, rec(ts.Year(), ts.Month(), fp(100), fp(5000)))
	}

	summary, _ := Reconcile(DefaultParams(), dets, records)

	if summary.SelectedCount != 12 {
		t.Fatalf("selected = %d, want 12", summary.SelectedCount)
	}
	if summary.Matches[0].Selected || summary.Matches[1].Selected {
		t.Error("the two oldest cycles must fall outside the window")
	}
	for i := 2; i < 14; i++ {
		if !summary.Matches[i].Selected {
			t.Errorf("cycle %s should be in the window", summary.Matches[i].CycleLabel)
		}
	}
}

func TestWindowPrefersMostRecentRunOnTie(t *testing.T) {
	// Two reconcilable runs of two months each, split by a gap in March.
	dets := []determinant.CycleDeterminant{
		det(2024, time.January, 100, 5000, 1, 2900),
		det(2024, time.February, 100, 5000, 1, 2800),
		det(2024, time.March, 100, 5000, 0.2, 2900), // breaks the run
		det(2024, time.April, 100, 5000, 1, 2900),
		det(2024, time.May, 100, 5000, 1, 2900),
	}
	var records []meter.BillingRecord
	for m := time.January; m <= time.May; m++ {
		records = append(records, rec(2024, m, fp(100), fp(5000)))
	}

	summary, _ := Reconcile(DefaultParams(), dets, records)

	if summary.SelectedCount != 2 {
		t.Fatalf("selected = %d, want 2", summary.SelectedCount)
	}
	for i, want := range []bool{false, false, false, true, true} {
		if summary.Matches[i].Selected != want {
			t.Errorf("cycle %s: selected = %v, want %v", summary.Matches[i].CycleLabel, summary.Matches[i].Selected, want)
		}
	}
}
