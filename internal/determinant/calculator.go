package determinant

import (
	"fmt"
	"math"
	"sort"
	"time"

	"meter-determinants/internal/cycle"
	"meter-determinants/internal/diag"
	"meter-determinants/internal/meter"
	"meter-determinants/internal/tou"
	"meter-determinants/internal/zonetime"
)

// Params holds the calculator's thresholds and penalties.
type Params struct {
	BaseConfidence        float64
	CrossCheckTolerance   float64
	CrossCheckMaxMismatch float64
	CrossCheckPenalty     float64
	CoverageMinimum       float64
	CoveragePenalty       float64
	OutlierFactor         float64
	ObservedTouDelta      float64
}

// DefaultParams returns the reference thresholds.
func DefaultParams() Params {
	return Params{
		BaseConfidence:        0.8,
		CrossCheckTolerance:   0.02,
		CrossCheckMaxMismatch: 0.10,
		CrossCheckPenalty:     0.12,
		CoverageMinimum:       0.9,
		CoveragePenalty:       0.2,
		OutlierFactor:         1.8,
		ObservedTouDelta:      0.12,
	}
}

// ObservedTou is external TOU truth for one cycle, typically a billing-export
// TOU column.
type ObservedTou struct {
	DemandKW  map[tou.Bucket]float64 `json:"demandKw,omitempty"`
	EnergyKWh map[tou.Bucket]float64 `json:"energyKwh,omitempty"`
	Source    string                 `json:"source,omitempty"`
}

// Calculate aggregates one cycle's assigned points into a determinant. The
// schedule may be nil (no TOU decomposition) and observed may be nil (no
// external TOU truth); both degrade with diagnostics rather than failing.
func Calculate(params Params, meterID string, c cycle.BillingCycle, points []meter.IntervalPoint,
	nominalDuration int, zone zonetime.Zone, schedule *tou.Schedule, observed *ObservedTou) CycleDeterminant {

	d := CycleDeterminant{MeterID: meterID, Cycle: c}
	conf := diag.NewConfidence(params.BaseConfidence)

	if zone.Fallback {
		d.Trail.AddMissing("timezone_fallback", "timezone", diag.SeverityWarning,
			fmt.Sprintf("time zone %q unknown; local-time math degraded to UTC", c.Timezone))
	}

	var (
		energySum     float64
		energyCount   int
		kwValues      []float64
		kwTimes       []time.Time
		energyValues  []float64
		energyTimes   []time.Time
		comparable    int
		mismatched    int
		confidenceSum float64
		usableCount   int
	)

	for _, p := range points {
		res := meter.ResolvePoint(p, nominalDuration)
		d.Trail.MissingInfo = append(d.Trail.MissingInfo, res.Trail.MissingInfo...)
		if !res.Usable {
			continue
		}
		usableCount++
		confidenceSum += res.Confidence

		if res.EnergyKWh != nil {
			energySum += *res.EnergyKWh
			energyCount++
			energyValues = append(energyValues, *res.EnergyKWh)
			energyTimes = append(energyTimes, p.Timestamp)
		}
		if res.PowerKW != nil {
			kwValues = append(kwValues, *res.PowerKW)
			kwTimes = append(kwTimes, p.Timestamp)
		}

		if ok, match := crossCheck(p, nominalDuration, params.CrossCheckTolerance); ok {
			comparable++
			if !match {
				mismatched++
			}
		}
	}

	if energyCount > 0 {
		total := energySum
		d.EnergyKWh = &total
		d.Trail.AddBecause(fmt.Sprintf("energy total %.3f kWh from %d resolvable intervals", total, energyCount))
		d.Trail.AddEvidence("interval_data", "energy_kwh", fmt.Sprintf("%.3f", total))
	} else {
		d.Trail.AddMissing("no_energy_samples", "interval_data", diag.SeverityBlocking,
			"no interval points resolvable to energy in cycle "+c.Label)
	}

	if len(kwValues) > 0 {
		maxKW, maxAt := maxWithTime(kwValues, kwTimes)
		d.DemandMaxKW = &maxKW
		d.DemandMaxAt = &maxAt
		d.Trail.AddBecause(fmt.Sprintf("demand max %.3f kW at %s", maxKW, maxAt.Format(time.RFC3339)))
		d.Trail.AddEvidence("interval_data", "demand_max_kw", fmt.Sprintf("%.3f", maxKW))
	} else {
		d.Trail.AddMissing("no_demand_samples", "interval_data", diag.SeverityBlocking,
			"no interval points resolvable to power in cycle "+c.Label)
	}

	// kW/kWh consistency cross-check over points carrying both.
	if comparable > 0 {
		fraction := float64(mismatched) / float64(comparable)
		if fraction > params.CrossCheckMaxMismatch {
			conf = conf.Penalize(params.CrossCheckPenalty)
			d.Trail.AddMissing("kw_kwh_cross_check_failed", "interval_data", diag.SeverityWarning,
				fmt.Sprintf("%.0f%% of %d comparable points disagree between kW and kWh beyond %.0f%% tolerance",
					fraction*100, comparable, params.CrossCheckTolerance*100))
		}
	}

	labelTou(&d, kwValues, kwTimes, energyValues, energyTimes, zone, schedule)
	mergeObservedTou(&d, params, observed)

	// Coverage against the expected sample count for the cycle span.
	d.ObservedCount = usableCount
	d.ExpectedCount = expectedCount(c, nominalDuration)
	d.CoveragePct = coverage(usableCount, d.ExpectedCount)
	d.Trail.AddBecause(fmt.Sprintf("coverage %.1f%% (%d of %d expected intervals)",
		d.CoveragePct*100, usableCount, d.ExpectedCount))
	if d.CoveragePct < params.CoverageMinimum {
		conf = conf.Penalize(params.CoveragePenalty)
		d.Trail.AddMissing("low_interval_coverage", "interval_data", diag.SeverityWarning,
			fmt.Sprintf("interval coverage %.1f%% below %.0f%% in cycle %s",
				d.CoveragePct*100, params.CoverageMinimum*100, c.Label))
	}

	if d.DemandMaxKW != nil && len(kwValues) >= 20 {
		p95 := percentile95(kwValues)
		if p95 > 0 && *d.DemandMaxKW > params.OutlierFactor*p95 {
			d.Trail.AddMissing("possible_demand_spike", "interval_data", diag.SeverityWarning,
				fmt.Sprintf("demand max %.2f kW exceeds %.1f times the 95th percentile %.2f kW; possible spike",
					*d.DemandMaxKW, params.OutlierFactor, p95))
		}
	}

	if usableCount > 0 {
		// Average per-point resolver confidence tempers the base score when
		// most values were derived rather than read directly.
		avg := confidenceSum / float64(usableCount)
		if avg < 0.8 {
			conf = conf.Penalize(0.8 - avg)
		}
	}

	d.Confidence = conf.Value()
	return d
}

// crossCheck compares stated kW against kWh-derived kW on points carrying
// both. ok is false when the point is not comparable.
func crossCheck(p meter.IntervalPoint, fallbackDuration int, tolerance float64) (ok, match bool) {
	if !p.Valid || p.PowerKW == nil || p.EnergyKWh == nil {
		return false, false
	}
	duration := fallbackDuration
	if p.DurationMinutes != nil {
		duration = *p.DurationMinutes
	}
	if duration <= 0 {
		return false, false
	}
	derived := *p.EnergyKWh * 60 / float64(duration)
	stated := *p.PowerKW
	if stated == 0 {
		return true, derived == 0
	}
	rel := math.Abs(derived-stated) / math.Abs(stated)
	return true, rel <= tolerance
}

func labelTou(d *CycleDeterminant, kwValues []float64, kwTimes []time.Time,
	energyValues []float64, energyTimes []time.Time, zone zonetime.Zone, schedule *tou.Schedule) {

	if schedule == nil {
		d.Trail.AddMissing("no_tou_schedule", "tou", diag.SeverityInfo,
			"no TOU schedule resolvable for rate; no TOU decomposition")
		return
	}

	kwMax := make(map[tou.Bucket]float64)
	kwMaxAt := make(map[tou.Bucket]time.Time)
	kwhSum := make(map[tou.Bucket]float64)
	seen := make(map[string]bool)

	for i, kw := range kwValues {
		b := schedule.Label(kwTimes[i], zone)
		seen[string(b)] = true
		if cur, ok := kwMax[b]; !ok || kw > cur {
			kwMax[b] = kw
			kwMaxAt[b] = kwTimes[i]
		}
	}
	for i, kwh := range energyValues {
		b := schedule.Label(energyTimes[i], zone)
		seen[string(b)] = true
		kwhSum[b] += kwh
	}

	if len(kwMax) == 0 && len(kwhSum) == 0 {
		d.Trail.AddMissing("no_tou_samples", "tou", diag.SeverityInfo,
			"TOU schedule resolved but no samples could be labeled")
		return
	}

	d.KWMaxByTouPeriod = kwMax
	d.KWMaxTouAt = kwMaxAt
	d.KWhByTouPeriod = kwhSum
	d.TouSource = "computed"

	for _, b := range tou.CanonicalBuckets() {
		if !seen[string(b)] {
			d.UnusedTouBuckets = append(d.UnusedTouBuckets, b)
		}
	}
	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	d.TouLabelsSeen = labels

	d.Trail.AddBecause(fmt.Sprintf("TOU decomposition over %d observed buckets (schedule %s/%s)",
		len(seen), schedule.Utility, schedule.RateCode))
}

// mergeObservedTou applies external TOU truth. Observed values become primary
// only when no computed decomposition exists; when both exist the computed
// values stay primary and large per-bucket deltas raise warnings.
func mergeObservedTou(d *CycleDeterminant, params Params, observed *ObservedTou) {
	if observed == nil {
		return
	}
	source := observed.Source
	if source == "" {
		source = "billing_export"
	}

	if d.TouSource == "" {
		if len(observed.DemandKW) > 0 {
			d.KWMaxByTouPeriod = copyBuckets(observed.DemandKW)
		}
		if len(observed.EnergyKWh) > 0 {
			d.KWhByTouPeriod = copyBuckets(observed.EnergyKWh)
		}
		if len(observed.DemandKW) > 0 || len(observed.EnergyKWh) > 0 {
			d.TouSource = "observed"
			d.Trail.AddEvidence(source, "tou_values", "observed TOU values adopted; no interval-based decomposition")
			d.Trail.AddBecause("TOU values taken from external observed source")
		}
		return
	}

	for _, b := range tou.CanonicalBuckets() {
		checkObservedDelta(d, params, b, "demand", d.KWMaxByTouPeriod, observed.DemandKW)
		checkObservedDelta(d, params, b, "energy", d.KWhByTouPeriod, observed.EnergyKWh)
	}
}

func checkObservedDelta(d *CycleDeterminant, params Params, b tou.Bucket, kind string,
	computed, observed map[tou.Bucket]float64) {

	obs, okO := observed[b]
	comp, okC := computed[b]
	if !okO || !okC || obs == 0 {
		return
	}
	rel := math.Abs(comp-obs) / math.Abs(obs)
	if rel > params.ObservedTouDelta {
		d.Trail.AddMissing(fmt.Sprintf("tou_%s_observed_delta_%s", kind, b), "tou", diag.SeverityWarning,
			fmt.Sprintf("computed %s %s %.2f differs from observed %.2f by %.0f%%; computed value kept",
				b, kind, comp, obs, rel*100))
	}
}

func copyBuckets(m map[tou.Bucket]float64) map[tou.Bucket]float64 {
	out := make(map[tou.Bucket]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func maxWithTime(values []float64, times []time.Time) (float64, time.Time) {
	max, at := values[0], times[0]
	for i := 1; i < len(values); i++ {
		if values[i] > max {
			max, at = values[i], times[i]
		}
	}
	return max, at
}

// expectedCount is the ceiling of cycle minutes over the nominal interval
// length. DST transitions shorten or lengthen the UTC span and therefore the
// expectation, which is the intended behaviour.
func expectedCount(c cycle.BillingCycle, nominalDuration int) int {
	if nominalDuration <= 0 {
		nominalDuration = 15
	}
	minutes := c.DurationMinutes()
	return (minutes + nominalDuration - 1) / nominalDuration
}

func coverage(observed, expected int) float64 {
	if expected <= 0 {
		return 0
	}
	ratio := float64(observed) / float64(expected)
	return math.Min(1, ratio)
}

// percentile95 is nearest-rank on a sorted copy; deterministic for fixed
// input.
func percentile95(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
