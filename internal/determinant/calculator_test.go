package determinant

import (
	"math"
	"testing"
	"time"

	"meter-determinants/internal/cycle"
	"meter-determinants/internal/meter"
	"meter-determinants/internal/tou"
	"meter-determinants/internal/zonetime"
)

func fp(v float64) *float64 { return &v }

func utcCycle(y int, m time.Month, label string) cycle.BillingCycle {
	start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return cycle.New(start, start.AddDate(0, 1, 0), label, "UTC")
}

func powerPoint(ts time.Time, kw float64) meter.IntervalPoint {
	return meter.IntervalPoint{Timestamp: ts, Valid: true, PowerKW: fp(kw)}
}

func weekdaySchedule() *tou.Schedule {
	return &tou.Schedule{
		Utility:  "PGE",
		RateCode: "E-19",
		Weekday: tou.DayPlan{
			tou.OnPeak: {{StartHour: 16, EndHour: 21}},
		},
		Weekend: tou.DayPlan{},
	}
}

func hasMissing(d CycleDeterminant, id string) bool {
	for _, m := range d.Trail.MissingInfo {
		if m.ID == id {
			return true
		}
	}
	return false
}

func TestCalculateTouDecomposition(t *testing.T) {
	zone := zonetime.LoadZone("UTC")
	c := utcCycle(2024, time.January, "2024-01")

	// 2024-01-03 is a Wednesday. Four on-peak points at 100 kW and four
	// off-peak points at 200 kW, 15-minute intervals.
	var points []meter.IntervalPoint
	for i := 0; i < 4; i++ {
		points = append(points, powerPoint(time.Date(2024, time.January, 3, 17, i*15, 0, 0, time.UTC), 100))
		points = append(points, powerPoint(time.Date(2024, time.January, 3, 3, i*15, 0, 0, time.UTC), 200))
	}

	d := Calculate(DefaultParams(), "m1", c, points, 15, zone, weekdaySchedule(), nil)

	if d.TouSource != "computed" {
		t.Fatalf("TouSource = %q, want computed", d.TouSource)
	}
	if got := d.KWMaxByTouPeriod[tou.OnPeak]; got != 100 {
		t.Errorf("on-peak max = %v, want 100", got)
	}
	if got := d.KWMaxByTouPeriod[tou.OffPeak]; got != 200 {
		t.Errorf("off-peak max = %v, want 200", got)
	}

	// Each 100 kW quarter-hour is 25 kWh; each 200 kW one is 50 kWh.
	if got := d.KWhByTouPeriod[tou.OnPeak]; math.Abs(got-100) > 1e-9 {
		t.Errorf("on-peak energy = %v, want 100", got)
	}
	if got := d.KWhByTouPeriod[tou.OffPeak]; math.Abs(got-200) > 1e-9 {
		t.Errorf("off-peak energy = %v, want 200", got)
	}

	if d.DemandMaxKW == nil || *d.DemandMaxKW != 200 {
		t.Errorf("cycle demand max = %v, want 200", d.DemandMaxKW)
	}
	if d.EnergyKWh == nil || math.Abs(*d.EnergyKWh-300) > 1e-9 {
		t.Errorf("cycle energy = %v, want 300", d.EnergyKWh)
	}

	wantUnused := map[tou.Bucket]bool{tou.PartialPeak: true, tou.SuperOffPeak: true}
	if len(d.UnusedTouBuckets) != len(wantUnused) {
		t.Fatalf("unused buckets = %v", d.UnusedTouBuckets)
	}
	for _, b := range d.UnusedTouBuckets {
		if !wantUnused[b] {
			t.Errorf("unexpected unused bucket %s", b)
		}
	}
}

func TestExpectedCountAcrossSpringForward(t *testing.T) {
	zone := zonetime.LoadZone("America/Los_Angeles")
	start := zone.MonthStart(time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC))
	end := zone.NextMonthStart(start)
	c := cycle.New(start, end, "2024-03", "America/Los_Angeles")

	d := Calculate(DefaultParams(), "m1", c, nil, 15, zone, nil, nil)
	// March 2024 loses an hour locally: 31 days minus 60 minutes of slots.
	if d.ExpectedCount != 2972 {
		t.Errorf("March expected count = %d, want 2972", d.ExpectedCount)
	}

	jan := cycle.New(
		zone.MonthStart(time.Date(2024, time.January, 10, 12, 0, 0, 0, time.UTC)),
		zone.NextMonthStart(zone.MonthStart(time.Date(2024, time.January, 10, 12, 0, 0, 0, time.UTC))),
		"2024-01", "America/Los_Angeles")
	dj := Calculate(DefaultParams(), "m1", jan, nil, 15, zone, nil, nil)
	if dj.ExpectedCount != 2976 {
		t.Errorf("January expected count = %d, want 2976", dj.ExpectedCount)
	}
}

func TestCalculateLowCoveragePenalized(t *testing.T) {
	zone := zonetime.LoadZone("UTC")
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := cycle.New(start, start.Add(time.Hour), "tiny", "UTC")

	d := Calculate(DefaultParams(), "m1", c, []meter.IntervalPoint{powerPoint(start, 50)}, 15, zone, nil, nil)

	if d.CoveragePct != 0.25 {
		t.Fatalf("coverage = %v, want 0.25", d.CoveragePct)
	}
	if !hasMissing(d, "low_interval_coverage") {
		t.Fatal("low coverage must raise a warning")
	}
	if math.Abs(d.Confidence-0.6) > 1e-9 {
		t.Errorf("confidence = %v, want 0.6", d.Confidence)
	}
}

func TestCalculateFullCoverageUnpenalized(t *testing.T) {
	zone := zonetime.LoadZone("UTC")
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := cycle.New(start, start.Add(time.Hour), "tiny", "UTC")

	points := make([]meter.IntervalPoint, 0, 4)
	for i := 0; i < 4; i++ {
		points = append(points, powerPoint(start.Add(time.Duration(i)*15*time.Minute), 50))
	}
	d := Calculate(DefaultParams(), "m1", c, points, 15, zone, nil, nil)

	if d.CoveragePct != 1 {
		t.Fatalf("coverage = %v, want 1", d.CoveragePct)
	}
	if hasMissing(d, "low_interval_coverage") {
		t.Fatal("full coverage must not warn")
	}
	if math.Abs(d.Confidence-0.8) > 1e-9 {
		t.Errorf("confidence = %v, want 0.8", d.Confidence)
	}
}

func TestCoverageNeverDecreasesWithMorePoints(t *testing.T) {
	zone := zonetime.LoadZone("UTC")
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := cycle.New(start, start.AddDate(0, 0, 1), "day", "UTC")

	var points []meter.IntervalPoint
	prev := 0.0
	for i := 0; i < 100; i++ {
		points = append(points, powerPoint(start.Add(time.Duration(i)*15*time.Minute), 50))
		d := Calculate(DefaultParams(), "m1", c, points, 15, zone, nil, nil)
		if d.CoveragePct < prev {
			t.Fatalf("coverage dropped from %v to %v at %d points", prev, d.CoveragePct, i+1)
		}
		if d.CoveragePct > 1 {
			t.Fatalf("coverage %v exceeds 1", d.CoveragePct)
		}
		prev = d.CoveragePct
	}
}

func TestCalculateCrossCheckMismatch(t *testing.T) {
	zone := zonetime.LoadZone("UTC")
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := cycle.New(start, start.Add(time.Hour), "tiny", "UTC")

	// Stated 100 kW against 10 kWh per quarter hour, which implies 40 kW.
	points := make([]meter.IntervalPoint, 0, 4)
	for i := 0; i < 4; i++ {
		points = append(points, meter.IntervalPoint{
			Timestamp: start.Add(time.Duration(i) * 15 * time.Minute),
			Valid:     true,
			PowerKW:   fp(100),
			EnergyKWh: fp(10),
		})
	}
	d := Calculate(DefaultParams(), "m1", c, points, 15, zone, nil, nil)

	if !hasMissing(d, "kw_kwh_cross_check_failed") {
		t.Fatal("disagreeing kW and kWh must warn")
	}
	if math.Abs(d.Confidence-0.68) > 1e-9 {
		t.Errorf("confidence = %v, want 0.68", d.Confidence)
	}
	// Power stays authoritative, so the energy total follows the stated kW.
	if d.EnergyKWh == nil || *d.EnergyKWh != 100 {
		t.Errorf("energy = %v, want 100", d.EnergyKWh)
	}
}

func TestObservedTouAdoptedWithoutSchedule(t *testing.T) {
	zone := zonetime.LoadZone("UTC")
	c := utcCycle(2024, time.January, "2024-01")
	points := []meter.IntervalPoint{powerPoint(c.Start, 50)}

	observed := &ObservedTou{
		DemandKW:  map[tou.Bucket]float64{tou.OnPeak: 90},
		EnergyKWh: map[tou.Bucket]float64{tou.OnPeak: 400},
	}
	d := Calculate(DefaultParams(), "m1", c, points, 15, zone, nil, observed)

	if d.TouSource != "observed" {
		t.Fatalf("TouSource = %q, want observed", d.TouSource)
	}
	if d.KWMaxByTouPeriod[tou.OnPeak] != 90 || d.KWhByTouPeriod[tou.OnPeak] != 400 {
		t.Errorf("observed values not adopted: %v %v", d.KWMaxByTouPeriod, d.KWhByTouPeriod)
	}
}

func TestObservedTouDeltaWarnsComputedKept(t *testing.T) {
	zone := zonetime.LoadZone("UTC")
	c := utcCycle(2024, time.January, "2024-01")

	// Wednesday on-peak at 100 kW; observed claims 130 kW in the same bucket.
	points := []meter.IntervalPoint{powerPoint(time.Date(2024, time.January, 3, 17, 0, 0, 0, time.UTC), 100)}
	observed := &ObservedTou{DemandKW: map[tou.Bucket]float64{tou.OnPeak: 130}}

	d := Calculate(DefaultParams(), "m1", c, points, 15, zone, weekdaySchedule(), observed)

	if d.TouSource != "computed" {
		t.Fatalf("TouSource = %q, want computed", d.TouSource)
	}
	if !hasMissing(d, "tou_demand_observed_delta_onPeak") {
		t.Fatal("a large observed delta must warn")
	}
	if d.KWMaxByTouPeriod[tou.OnPeak] != 100 {
		t.Errorf("computed value must be kept, got %v", d.KWMaxByTouPeriod[tou.OnPeak])
	}
}

func TestTimezoneFallbackWarns(t *testing.T) {
	zone := zonetime.LoadZone("Not/AZone")
	c := cycle.New(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), "2024-01", "Not/AZone")

	d := Calculate(DefaultParams(), "m1", c, nil, 15, zone, nil, nil)
	if !hasMissing(d, "timezone_fallback") {
		t.Fatal("unknown zone must be surfaced on every determinant")
	}
}
