package loadmodel

import (
	"math"
	"testing"
	"time"

	"meter-determinants/internal/meter"
)

// syntheticSeries builds n quarter-hour points whose temperatures sweep
// [lowF, highF] linearly and whose load follows the given response function.
func syntheticSeries(n int, lowF, highF float64, load func(tempF float64) float64) meter.IntervalSeries {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	points := make([]meter.IntervalPoint, n)
	for i := 0; i < n; i++ {
		temp := lowF + (highF-lowF)*float64(i)/float64(n-1)
		kw := load(temp)
		t := temp
		points[i] = meter.IntervalPoint{
			Timestamp:    start.Add(time.Duration(i) * 15 * time.Minute),
			Valid:        true,
			PowerKW:      &kw,
			TemperatureF: &t,
		}
	}
	return meter.IntervalSeries{MeterID: "m1", Points: points, NominalDuration: 15, Timezone: "UTC"}
}

func TestFitRecoversCoolingModel(t *testing.T) {
	series := syntheticSeries(1500, 50, 90, func(temp float64) float64 {
		return 5 + 2*math.Max(0, temp-70)
	})

	res := Fit(DefaultParams(), series)

	if res.Classification != ClassCoolingDriven {
		t.Fatalf("classification = %s, want %s", res.Classification, ClassCoolingDriven)
	}
	if math.Abs(res.BalanceTempF-70) > 2 {
		t.Errorf("balance temp = %.1f, want 70 within 2°F", res.BalanceTempF)
	}
	if math.Abs(res.CoolingSlope-2) > 0.1 {
		t.Errorf("cooling slope = %.3f, want 2", res.CoolingSlope)
	}
	if math.Abs(res.BaseKW-5) > 0.5 {
		t.Errorf("base = %.3f, want 5", res.BaseKW)
	}
	if res.R2 < 0.99 {
		t.Errorf("R² = %.3f, want near 1 on noiseless data", res.R2)
	}
	if res.PointsUsed != 1500 {
		t.Errorf("points used = %d, want 1500", res.PointsUsed)
	}
}

func TestFitRecoversHeatingModel(t *testing.T) {
	series := syntheticSeries(1500, 40, 80, func(temp float64) float64 {
		return 10 + 1.5*math.Max(0, 60-temp)
	})

	res := Fit(DefaultParams(), series)

	if res.Classification != ClassHeatingDriven {
		t.Fatalf("classification = %s, want %s", res.Classification, ClassHeatingDriven)
	}
	if math.Abs(res.BalanceTempF-60) > 2 {
		t.Errorf("balance temp = %.1f, want 60 within 2°F", res.BalanceTempF)
	}
	if math.Abs(res.HeatingSlope-1.5) > 0.1 {
		t.Errorf("heating slope = %.3f, want 1.5", res.HeatingSlope)
	}
	if res.CoolingSlope > 0.05 {
		t.Errorf("cooling slope = %.3f, want ~0", res.CoolingSlope)
	}
}

func TestFitMixedResponse(t *testing.T) {
	series := syntheticSeries(1500, 45, 90, func(temp float64) float64 {
		return 4 + 1.2*math.Max(0, temp-65) + 0.9*math.Max(0, 65-temp)
	})

	res := Fit(DefaultParams(), series)
	if res.Classification != ClassMixed {
		t.Fatalf("classification = %s, want %s", res.Classification, ClassMixed)
	}
}

func TestFitFlatLoadIsBaseLoad(t *testing.T) {
	series := syntheticSeries(1200, 50, 90, func(float64) float64 { return 7.5 })

	res := Fit(DefaultParams(), series)
	if res.Classification != ClassBaseLoad {
		t.Fatalf("classification = %s, want %s", res.Classification, ClassBaseLoad)
	}
	if res.CoolingSlope >= slopeEpsilon || res.HeatingSlope >= slopeEpsilon {
		t.Errorf("flat load fitted slopes %.3f/%.3f", res.CoolingSlope, res.HeatingSlope)
	}
}

func TestFitTooFewPoints(t *testing.T) {
	series := syntheticSeries(200, 50, 90, func(temp float64) float64 {
		return 5 + 2*math.Max(0, temp-70)
	})

	res := Fit(DefaultParams(), series)
	if res.Classification != ClassInsufficientData {
		t.Fatalf("classification = %s, want %s", res.Classification, ClassInsufficientData)
	}
	if res.PointsUsed != 200 {
		t.Errorf("points used = %d, want 200", res.PointsUsed)
	}
}

func TestFitMinPointsFloor(t *testing.T) {
	params := Params{MinPoints: 1, BalanceLowF: 45, BalanceHighF: 85, BalanceStepF: 1}
	series := syntheticSeries(40, 50, 90, func(temp float64) float64 {
		return 5 + 2*math.Max(0, temp-70)
	})

	res := Fit(params, series)
	if res.Classification != ClassInsufficientData {
		t.Fatal("the 50-point floor must hold even when configured lower")
	}
}

func TestFitFlatTemperature(t *testing.T) {
	series := syntheticSeries(1200, 70, 70.5, func(float64) float64 { return 5 })

	res := Fit(DefaultParams(), series)
	if res.Classification != ClassInsufficientData {
		t.Fatalf("classification = %s, want %s on flat weather", res.Classification, ClassInsufficientData)
	}
}

func TestFitSkipsPointsWithoutTemperatureOrPower(t *testing.T) {
	series := syntheticSeries(1500, 50, 90, func(temp float64) float64 {
		return 5 + 2*math.Max(0, temp-70)
	})
	series.Points[0].TemperatureF = nil
	series.Points[1].PowerKW = nil
	series.Points[2].Valid = false

	res := Fit(DefaultParams(), series)
	if res.PointsUsed != 1497 {
		t.Errorf("points used = %d, want 1497", res.PointsUsed)
	}
}
