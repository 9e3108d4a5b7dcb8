// Package loadmodel fits a weather-response model to interval data: a
// piecewise-linear load curve with an unknown balance temperature, found by
// grid search over candidate change points.
package loadmodel

import (
	"fmt"
	"math"
	"sort"

	"meter-determinants/internal/diag"
	"meter-determinants/internal/meter"
)

// Classification labels for the fitted model.
const (
	ClassCoolingDriven    = "cooling_driven"
	ClassHeatingDriven    = "heating_driven"
	ClassMixed            = "mixed"
	ClassBaseLoad         = "base_load"
	ClassInsufficientData = "insufficient_data"
)

const (
	// slopeEpsilon is the kW-per-degree magnitude below which a slope is
	// treated as zero for classification.
	slopeEpsilon = 0.08
	// classifyR2Gate is the minimum fit quality for a non-trivial class.
	classifyR2Gate = 0.4
	// minTemperatureStddev guards against degenerate fits on flat weather.
	minTemperatureStddev = 3.0
)

// Params bounds the grid search and the data-sufficiency gate.
type Params struct {
	MinPoints    int
	BalanceLowF  float64
	BalanceHighF float64
	BalanceStepF float64
}

// DefaultParams returns the reference search bounds: 45–85°F in 1°F steps,
// at least 1000 usable points.
func DefaultParams() Params {
	return Params{MinPoints: 1000, BalanceLowF: 45, BalanceHighF: 85, BalanceStepF: 1}
}

// Result is the fitted model. Model: power = Base + CoolSlope·max(0, T−Tb) +
// HeatSlope·max(0, Tb−T), slopes non-negative.
type Result struct {
	Classification string     `json:"classification"`
	BalanceTempF   float64    `json:"balanceTempF"`
	BaseKW         float64    `json:"baseKw"`
	CoolingSlope   float64    `json:"coolingSlopeKwPerF"`
	HeatingSlope   float64    `json:"heatingSlopeKwPerF"`
	R2             float64    `json:"r2"`
	PointsUsed     int        `json:"pointsUsed"`
	Trail          diag.Trail `json:"trail"`
}

// Fit runs the change-point regression over a series' points. Insufficient
// or degenerate data returns an insufficient_data result, never an error.
func Fit(params Params, series meter.IntervalSeries) Result {
	temps, loads := usableSamples(series)

	minPoints := params.MinPoints
	if minPoints < 50 {
		minPoints = 50
	}

	var res Result
	res.PointsUsed = len(temps)

	if len(temps) < minPoints {
		res.Classification = ClassInsufficientData
		res.Trail.AddMissing("load_model_insufficient_points", "load_attribution", diag.SeverityWarning,
			fmt.Sprintf("%d usable points below the %d minimum", len(temps), minPoints))
		return res
	}
	if stddev(temps) < minTemperatureStddev {
		res.Classification = ClassInsufficientData
		res.Trail.AddMissing("load_model_flat_temperature", "load_attribution", diag.SeverityWarning,
			fmt.Sprintf("temperature spread %.2f°F below the %.0f°F minimum", stddev(temps), minTemperatureStddev))
		return res
	}

	low, high := clampSearchBounds(params, temps)

	best := candidate{sse: math.Inf(1), r2: math.Inf(-1)}
	for tb := low; tb <= high+1e-9; tb += params.BalanceStepF {
		c := fitAt(tb, temps, loads)
		// Highest R² wins; equal R² falls to the lower SSE. Strict
		// comparisons keep the scan order (ascending Tb) as the final
		// deterministic tie-break.
		if c.r2 > best.r2 || (c.r2 == best.r2 && c.sse < best.sse) {
			best = c
		}
	}

	res.BalanceTempF = best.tb
	res.BaseKW = best.base
	res.CoolingSlope = best.cool
	res.HeatingSlope = best.heat
	res.R2 = best.r2
	res.Classification = classify(best)
	res.Trail.AddBecause(fmt.Sprintf("balance point %.0f°F selected by R² %.3f over %d points",
		best.tb, best.r2, len(temps)))
	res.Trail.AddEvidence("interval_data", "load_model", fmt.Sprintf(
		"base %.3f kW, cooling %.3f kW/°F, heating %.3f kW/°F", best.base, best.cool, best.heat))
	return res
}

type candidate struct {
	tb, base, cool, heat float64
	r2, sse              float64
}

// fitAt solves the least-squares fit for a fixed balance temperature. The
// 3×3 normal-equations system is solved by Gaussian elimination with partial
// pivoting; negative slopes are clamped to zero and the intercept re-centred
// before scoring.
func fitAt(tb float64, temps, loads []float64) candidate {
	n := float64(len(temps))

	// Design columns: 1, cdd = max(0, T−Tb), hdd = max(0, Tb−T).
	var sc, sh, scc, shh, sch, sy, scy, shy float64
	for i, t := range temps {
		cdd := math.Max(0, t-tb)
		hdd := math.Max(0, tb-t)
		y := loads[i]
		sc += cdd
		sh += hdd
		scc += cdd * cdd
		shh += hdd * hdd
		sch += cdd * hdd
		sy += y
		scy += cdd * y
		shy += hdd * y
	}

	a := [3][4]float64{
		{n, sc, sh, sy},
		{sc, scc, sch, scy},
		{sh, sch, shh, shy},
	}
	coef, ok := solve3(a)
	if !ok {
		return candidate{tb: tb, r2: math.Inf(-1), sse: math.Inf(1)}
	}

	base, cool, heat := coef[0], coef[1], coef[2]
	if cool < 0 {
		cool = 0
	}
	if heat < 0 {
		heat = 0
	}

	// Re-centre the intercept after clamping so the mean residual stays zero.
	var shift float64
	for i, t := range temps {
		pred := cool*math.Max(0, t-tb) + heat*math.Max(0, tb-t)
		shift += loads[i] - pred
	}
	base = shift / n

	mean := sy / n
	var sse, sst float64
	for i, t := range temps {
		pred := base + cool*math.Max(0, t-tb) + heat*math.Max(0, tb-t)
		r := loads[i] - pred
		sse += r * r
		d := loads[i] - mean
		sst += d * d
	}
	r2 := 0.0
	if sst > 0 {
		r2 = 1 - sse/sst
	}

	return candidate{tb: tb, base: base, cool: cool, heat: heat, r2: r2, sse: sse}
}

// solve3 solves an augmented 3×4 system by Gaussian elimination with partial
// pivoting. ok is false for a singular system.
func solve3(a [3][4]float64) ([3]float64, bool) {
	for col := 0; col < 3; col++ {
		pivot := col
		for row := col + 1; row < 3; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return [3]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]

		for row := col + 1; row < 3; row++ {
			factor := a[row][col] / a[col][col]
			for k := col; k < 4; k++ {
				a[row][k] -= factor * a[col][k]
			}
		}
	}

	var x [3]float64
	for row := 2; row >= 0; row-- {
		sum := a[row][3]
		for k := row + 1; k < 3; k++ {
			sum -= a[row][k] * x[k]
		}
		x[row] = sum / a[row][row]
	}
	return x, true
}

func classify(c candidate) string {
	cooling := c.cool >= slopeEpsilon
	heating := c.heat >= slopeEpsilon
	if c.r2 < classifyR2Gate || (!cooling && !heating) {
		return ClassBaseLoad
	}
	switch {
	case cooling && heating:
		return ClassMixed
	case cooling:
		return ClassCoolingDriven
	default:
		return ClassHeatingDriven
	}
}

func usableSamples(series meter.IntervalSeries) (temps, loads []float64) {
	for _, p := range series.Points {
		if p.TemperatureF == nil {
			continue
		}
		res := meter.ResolvePoint(p, series.NominalDuration)
		if !res.Usable || res.PowerKW == nil {
			continue
		}
		temps = append(temps, *p.TemperatureF)
		loads = append(loads, *res.PowerKW)
	}
	return temps, loads
}

// clampSearchBounds narrows the Tb grid to the sample's 10th–90th percentile
// temperatures so the change point never sits in the data's sparse tails.
func clampSearchBounds(params Params, temps []float64) (low, high float64) {
	sorted := append([]float64(nil), temps...)
	sort.Float64s(sorted)
	p10 := sorted[int(0.10*float64(len(sorted)-1))]
	p90 := sorted[int(0.90*float64(len(sorted)-1))]

	low, high = params.BalanceLowF, params.BalanceHighF
	if p10 > low {
		low = math.Ceil(p10)
	}
	if p90 < high {
		high = math.Floor(p90)
	}
	if high < low {
		low, high = params.BalanceLowF, params.BalanceHighF
	}
	return low, high
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}
