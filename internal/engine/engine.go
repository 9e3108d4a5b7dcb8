// Package engine runs the full determinants pipeline for a pack of meters:
// cycle derivation, interval assignment, per-cycle calculation, demand rules,
// and bill reconciliation. Every operation is a pure function of its inputs;
// callers may parallelise across meters with no coordination.
package engine

import (
	"meter-determinants/internal/cycle"
	"meter-determinants/internal/demand"
	"meter-determinants/internal/determinant"
	"meter-determinants/internal/diag"
	"meter-determinants/internal/meter"
	"meter-determinants/internal/reconcile"
	"meter-determinants/internal/tou"
	"meter-determinants/internal/zonetime"
)

// Stable algorithm version strings stamped on outputs so downstream
// consumers can detect behaviour changes.
const (
	DeterminantsVersion    = "determinants/1.0"
	TouLabelingVersion     = "tou-labeling/1.0"
	LoadAttributionVersion = "load-attribution/1.0"
)

// RateContext selects the TOU schedule and demand rules for a pack.
type RateContext struct {
	Utility  string `json:"utility"`
	RateCode string `json:"rateCode"`
}

// Input is the full explicit input of one computation pass.
type Input struct {
	Series         []meter.IntervalSeries                        `json:"series"`
	BillingRecords []meter.BillingRecord                         `json:"billingRecords,omitempty"`
	ExplicitCycles map[string][]cycle.BillingCycle               `json:"explicitCycles,omitempty"`
	ObservedTou    map[string]map[string]determinant.ObservedTou `json:"observedTou,omitempty"`
	Rate           RateContext                                   `json:"rate"`
}

// Options carries thresholds and collaborator hooks. Zero values select the
// reference defaults and no TOU resolution.
type Options struct {
	Calculator       determinant.Params
	Reconciliation   reconcile.Params
	DemandRules      demand.Rules
	ScheduleResolver tou.Resolver
}

// DefaultOptions returns reference thresholds with no schedule resolver.
func DefaultOptions() Options {
	return Options{
		Calculator:     determinant.DefaultParams(),
		Reconciliation: reconcile.DefaultParams(),
	}
}

// Versions tags the algorithms that produced a result.
type Versions struct {
	Determinants    string `json:"determinants"`
	TouLabeling     string `json:"touLabeling"`
	LoadAttribution string `json:"loadAttribution"`
}

// MeterResult is the per-meter output: determinants in cycle order plus the
// reconciliation summary and the derivation trail.
type MeterResult struct {
	MeterID        string                         `json:"meterId"`
	Determinants   []determinant.CycleDeterminant `json:"determinants"`
	Reconciliation reconcile.Summary              `json:"reconciliation"`
	Trail          diag.Trail                     `json:"trail"`
}

// Result is the pack-level output.
type Result struct {
	Meters      []MeterResult      `json:"meters"`
	Confidence  float64            `json:"confidence"`
	MissingInfo []diag.MissingInfo `json:"missingInfo"`
	Versions    Versions           `json:"versions"`
}

// Compute runs the determinants pipeline over every series in the input.
func Compute(input Input, opts Options) Result {
	if opts.Calculator == (determinant.Params{}) {
		opts.Calculator = determinant.DefaultParams()
	}
	if opts.Reconciliation == (reconcile.Params{}) {
		opts.Reconciliation = reconcile.DefaultParams()
	}
	rules := opts.DemandRules
	if rules == (demand.Rules{}) {
		rules = demand.DefaultRules(input.Rate.Utility)
	}

	var schedule *tou.Schedule
	if opts.ScheduleResolver != nil {
		schedule = opts.ScheduleResolver(input.Rate.Utility, input.Rate.RateCode)
	}
	family := demand.ClassifyRate(input.Rate.RateCode)

	result := Result{
		Versions: Versions{
			Determinants:    DeterminantsVersion,
			TouLabeling:     TouLabelingVersion,
			LoadAttribution: LoadAttributionVersion,
		},
	}

	var allMissing []diag.MissingInfo
	var confidenceSum float64
	var confidenceCount int

	for _, series := range input.Series {
		mr := computeMeter(series, input, opts, rules, family, schedule)
		result.Meters = append(result.Meters, mr)

		allMissing = append(allMissing, mr.Trail.MissingInfo...)
		for _, d := range mr.Determinants {
			allMissing = append(allMissing, d.Trail.MissingInfo...)
			confidenceSum += d.Confidence
			confidenceCount++
		}
		for _, m := range mr.Reconciliation.Matches {
			allMissing = append(allMissing, m.Trail.MissingInfo...)
		}
	}

	if confidenceCount > 0 {
		result.Confidence = confidenceSum / float64(confidenceCount)
	}
	result.MissingInfo = diag.DedupeMissing(allMissing)
	return result
}

func computeMeter(series meter.IntervalSeries, input Input, opts Options,
	rules demand.Rules, family demand.RateFamily, schedule *tou.Schedule) MeterResult {

	mr := MeterResult{MeterID: series.MeterID}

	zone := zonetime.LoadZone(series.Timezone)
	if zone.Fallback && series.Timezone != "" {
		mr.Trail.AddMissing("timezone_fallback", "timezone", diag.SeverityWarning,
			"time zone "+series.Timezone+" unknown; degraded to UTC")
	}

	records := recordsForMeter(input.BillingRecords, series.MeterID)

	derived := cycle.Derive(input.ExplicitCycles[series.MeterID], records, series, zone)
	mr.Trail.Extend(derived.Trail)
	if len(derived.Cycles) == 0 {
		return mr
	}

	assigned := cycle.Assign(series.Points, derived.Cycles)
	observedByLabel := input.ObservedTou[series.MeterID]

	determinants := make([]determinant.CycleDeterminant, 0, len(derived.Cycles))
	var history []demand.HistoryEntry

	for i, c := range derived.Cycles {
		var observed *determinant.ObservedTou
		if o, ok := observedByLabel[c.Label]; ok {
			observed = &o
		}

		d := determinant.Calculate(opts.Calculator, series.MeterID, c, assigned[i],
			series.NominalDuration, zone, schedule, observed)

		outcome, trail := demand.Apply(rules, family, d.DemandMaxKW, history)
		d = d.WithDemandRule(outcome, trail)

		history = append(history, demand.HistoryEntry{
			ComputedMaxKW: d.DemandMaxKW,
			BillingKW:     outcome.BillingDemandKW,
		})
		determinants = append(determinants, d)
	}

	summary, final := reconcile.Reconcile(opts.Reconciliation, determinants, records)
	mr.Determinants = final
	mr.Reconciliation = summary
	return mr
}

func recordsForMeter(records []meter.BillingRecord, meterID string) []meter.BillingRecord {
	var out []meter.BillingRecord
	for _, r := range records {
		if r.MeterID == meterID {
			out = append(out, r)
		}
	}
	return out
}
