// Package reconcile compares computed cycle determinants against stated
// billing records and decides which cycles are trustworthy enough to audit.
package reconcile

import (
	"fmt"
	"math"
	"time"

	"meter-determinants/internal/determinant"
	"meter-determinants/internal/diag"
	"meter-determinants/internal/meter"
)

// Skip reasons for cycles that are not reconcilable.
const (
	SkipNoUsage            = "no_usage"
	SkipOutOfOverlapWindow = "out_of_overlap_window"
	SkipLowCoverage        = "low_interval_coverage"
)

// Params configures reconciliation.
type Params struct {
	MismatchThreshold float64
	CoverageMinimum   float64
	WindowSize        int
	DemandPenalty     float64
	EnergyPenalty     float64
}

// DefaultParams returns the reference thresholds: 12% mismatch, 90% coverage,
// a 12-cycle window.
func DefaultParams() Params {
	return Params{
		MismatchThreshold: 0.12,
		CoverageMinimum:   0.9,
		WindowSize:        12,
		DemandPenalty:     0.12,
		EnergyPenalty:     0.08,
	}
}

// Match is the per-cycle comparison result.
type Match struct {
	CycleLabel       string     `json:"cycleLabel"`
	CycleEnd         time.Time  `json:"cycleEnd"`
	IsReconcilable   bool       `json:"isReconcilable"`
	SkipReason       string     `json:"skipReason,omitempty"`
	Selected         bool       `json:"selected"`
	StatedDemandKW   *float64   `json:"statedDemandKw,omitempty"`
	StatedKWh        *float64   `json:"statedKwh,omitempty"`
	ComputedDemandKW *float64   `json:"computedDemandKw,omitempty"`
	ComputedKWh      *float64   `json:"computedKwh,omitempty"`
	DeltaDemandPct   *float64   `json:"deltaDemandPct,omitempty"`
	DeltaEnergyPct   *float64   `json:"deltaEnergyPct,omitempty"`
	DemandMismatch   bool       `json:"demandMismatch"`
	EnergyMismatch   bool       `json:"energyMismatch"`
	Trail            diag.Trail `json:"trail"`
}

// Summary is the reconciliation result for one meter.
type Summary struct {
	Matches           []Match `json:"matches"`
	SelectedCount     int     `json:"selectedCount"`
	AnyDemandMismatch bool    `json:"anyDemandMismatch"`
	AnyEnergyMismatch bool    `json:"anyEnergyMismatch"`
	ConfidenceImpact  float64 `json:"confidenceImpact"`
}

// Reconcile matches computed determinants against stated billing records and
// selects the audit window. It returns the summary plus the determinants with
// the aggregate confidence impact applied; inputs are not mutated.
func Reconcile(params Params, determinants []determinant.CycleDeterminant,
	records []meter.BillingRecord) (Summary, []determinant.CycleDeterminant) {

	summary := Summary{ConfidenceImpact: 1}

	usageFirst, usageLast, haveUsage := meter.RecordsTimeRange(records)
	intervalFirst, intervalLast, haveInterval := determinantsTimeRange(determinants)

	matches := make([]Match, len(determinants))
	for i, d := range determinants {
		matches[i] = classify(d, records, params,
			usageFirst, usageLast, haveUsage, intervalFirst, intervalLast, haveInterval)
	}

	selectWindow(matches, params.WindowSize)

	for i := range matches {
		if !matches[i].Selected {
			continue
		}
		summary.SelectedCount++
		compare(&matches[i], params)
		if matches[i].DemandMismatch {
			summary.AnyDemandMismatch = true
		}
		if matches[i].EnergyMismatch {
			summary.AnyEnergyMismatch = true
		}
	}

	if summary.AnyDemandMismatch {
		summary.ConfidenceImpact -= params.DemandPenalty
	}
	if summary.AnyEnergyMismatch {
		summary.ConfidenceImpact -= params.EnergyPenalty
	}

	summary.Matches = matches

	out := make([]determinant.CycleDeterminant, len(determinants))
	for i, d := range determinants {
		out[i] = d.WithConfidenceScaled(summary.ConfidenceImpact)
	}
	return summary, out
}

func classify(d determinant.CycleDeterminant, records []meter.BillingRecord, params Params,
	usageFirst, usageLast time.Time, haveUsage bool,
	intervalFirst, intervalLast time.Time, haveInterval bool) Match {

	m := Match{
		CycleLabel:       d.Cycle.Label,
		CycleEnd:         d.Cycle.End,
		ComputedDemandKW: d.BillingDemandKW(),
		ComputedKWh:      d.EnergyKWh,
	}

	record := findRecord(d, records)
	if record == nil {
		m.SkipReason = SkipNoUsage
		m.Trail.AddMissing("no_stated_record", "reconciliation", diag.SeverityInfo,
			"no stated billing record matches cycle "+d.Cycle.Label)
		return m
	}
	m.StatedDemandKW = record.StatedDemandKW
	m.StatedKWh = record.StatedKWh
	m.Trail.AddEvidence(record.Source, "stated_bill", record.PeriodEnd.Format("2006-01-02"))

	if !haveUsage || !haveInterval ||
		d.Cycle.End.Before(laterOf(usageFirst, intervalFirst)) ||
		d.Cycle.Start.After(earlierOf(usageLast, intervalLast)) {
		m.SkipReason = SkipOutOfOverlapWindow
		return m
	}

	if d.CoveragePct < params.CoverageMinimum {
		m.SkipReason = SkipLowCoverage
		return m
	}

	m.IsReconcilable = true
	return m
}

// findRecord matches by exact (start, end), falling back to end alone.
func findRecord(d determinant.CycleDeterminant, records []meter.BillingRecord) *meter.BillingRecord {
	for i, r := range records {
		if r.PeriodStart != nil && r.PeriodStart.Equal(d.Cycle.Start) && r.PeriodEnd.Equal(d.Cycle.End) {
			return &records[i]
		}
	}
	for i, r := range records {
		if r.PeriodEnd.Equal(d.Cycle.End) {
			return &records[i]
		}
	}
	return nil
}

// selectWindow marks the latest run of up to limit reconcilable cycles that
// are consecutive by calendar month. The scan walks candidate start points
// from the most recent cycle backwards and keeps the first maximal-length run
// found, so for runs of equal length the most recent wins. Deterministic for
// fixed input.
func selectWindow(matches []Match, limit int) {
	type candidate struct {
		index int
		end   time.Time
	}
	var eligible []candidate
	for i, m := range matches {
		if m.IsReconcilable {
			eligible = append(eligible, candidate{index: i, end: m.CycleEnd})
		}
	}
	if len(eligible) == 0 {
		return
	}
	// Matches arrive sorted by cycle start ascending; walk from the newest.
	bestStart, bestLen := -1, 0
	for start := len(eligible) - 1; start >= 0; start-- {
		length := 1
		for i := start; i > 0 && length < limit; i-- {
			if !consecutiveMonths(eligible[i-1].end, eligible[i].end) {
				break
			}
			length++
		}
		if length > bestLen {
			bestStart, bestLen = start, length
		}
		if bestLen >= limit {
			break
		}
	}
	for i := bestStart; i > bestStart-bestLen; i-- {
		matches[eligible[i].index].Selected = true
	}
}

// consecutiveMonths reports whether earlier's end falls in the calendar month
// immediately before later's end (UTC month arithmetic).
func consecutiveMonths(earlier, later time.Time) bool {
	e, l := earlier.UTC(), later.UTC()
	ey, em := e.Year(), int(e.Month())
	ly, lm := l.Year(), int(l.Month())
	return ly*12+lm-(ey*12+em) == 1
}

func compare(m *Match, params Params) {
	if m.StatedDemandKW != nil && m.ComputedDemandKW != nil && *m.StatedDemandKW != 0 {
		delta := (*m.ComputedDemandKW - *m.StatedDemandKW) / *m.StatedDemandKW
		m.DeltaDemandPct = &delta
		if math.Abs(delta) > params.MismatchThreshold {
			m.DemandMismatch = true
			m.Trail.AddMissing("demand_mismatch", "reconciliation", diag.SeverityWarning,
				fmt.Sprintf("cycle %s: computed demand differs from stated by %.1f%%", m.CycleLabel, delta*100))
		}
	}
	if m.StatedKWh != nil && m.ComputedKWh != nil && *m.StatedKWh != 0 {
		delta := (*m.ComputedKWh - *m.StatedKWh) / *m.StatedKWh
		m.DeltaEnergyPct = &delta
		if math.Abs(delta) > params.MismatchThreshold {
			m.EnergyMismatch = true
			m.Trail.AddMissing("energy_mismatch", "reconciliation", diag.SeverityWarning,
				fmt.Sprintf("cycle %s: computed energy differs from stated by %.1f%%", m.CycleLabel, delta*100))
		}
	}
}

func determinantsTimeRange(determinants []determinant.CycleDeterminant) (first, last time.Time, ok bool) {
	for _, d := range determinants {
		if d.ObservedCount == 0 {
			continue
		}
		if !ok {
			first, last = d.Cycle.Start, d.Cycle.End
			ok = true
			continue
		}
		if d.Cycle.Start.Before(first) {
			first = d.Cycle.Start
		}
		if d.Cycle.End.After(last) {
			last = d.Cycle.End
		}
	}
	return first, last, ok
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
