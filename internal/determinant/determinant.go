// Package determinant computes per-cycle billing determinants from assigned
// interval samples: energy totals, peak demand, time-of-use breakdowns,
// coverage, and the audit trail that makes each value defensible.
package determinant

import (
	"time"

	"meter-determinants/internal/cycle"
	"meter-determinants/internal/demand"
	"meter-determinants/internal/diag"
	"meter-determinants/internal/tou"
)

// CycleDeterminant is the engine's principal output for one (meter, cycle).
// It is assembled once per computation pass; the demand-rule and
// reconciliation stages return enriched copies rather than mutating it.
type CycleDeterminant struct {
	MeterID string             `json:"meterId"`
	Cycle   cycle.BillingCycle `json:"cycle"`

	EnergyKWh   *float64   `json:"energyKwh,omitempty"`
	DemandMaxKW *float64   `json:"demandMaxKw,omitempty"`
	DemandMaxAt *time.Time `json:"demandMaxAt,omitempty"`

	KWMaxByTouPeriod map[tou.Bucket]float64   `json:"kwMaxByTouPeriod,omitempty"`
	KWMaxTouAt       map[tou.Bucket]time.Time `json:"kwMaxTouAt,omitempty"`
	KWhByTouPeriod   map[tou.Bucket]float64   `json:"kwhByTouPeriod,omitempty"`
	UnusedTouBuckets []tou.Bucket             `json:"unusedTouBuckets,omitempty"`
	TouLabelsSeen    []string                 `json:"touLabelsSeen,omitempty"`
	TouSource        string                   `json:"touSource,omitempty"`

	CoveragePct   float64 `json:"coveragePct"`
	ObservedCount int     `json:"observedCount"`
	ExpectedCount int     `json:"expectedCount"`

	DemandRule *demand.Outcome `json:"demandRule,omitempty"`

	Confidence float64    `json:"confidence"`
	Trail      diag.Trail `json:"trail"`
}

// BillingDemandKW returns post-rule billing demand when the demand stage has
// run, else the computed maximum.
func (d CycleDeterminant) BillingDemandKW() *float64 {
	if d.DemandRule != nil && d.DemandRule.BillingDemandKW != nil {
		return d.DemandRule.BillingDemandKW
	}
	return d.DemandMaxKW
}

// WithDemandRule returns a copy enriched with a demand-rule outcome.
func (d CycleDeterminant) WithDemandRule(outcome demand.Outcome, trail diag.Trail) CycleDeterminant {
	out := d
	out.DemandRule = &outcome
	out.Trail = cloneTrail(d.Trail)
	out.Trail.Extend(trail)
	return out
}

// WithConfidenceScaled returns a copy with confidence multiplied by factor,
// clamped. The reconciliation stage applies its aggregate impact this way.
func (d CycleDeterminant) WithConfidenceScaled(factor float64) CycleDeterminant {
	out := d
	out.Confidence = diag.NewConfidence(d.Confidence).Scale(factor).Value()
	return out
}

func cloneTrail(t diag.Trail) diag.Trail {
	var out diag.Trail
	out.Evidence = append(out.Evidence, t.Evidence...)
	out.Because = append(out.Because, t.Because...)
	out.MissingInfo = append(out.MissingInfo, t.MissingInfo...)
	return out
}
