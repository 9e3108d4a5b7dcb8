// Package demand turns a cycle's computed maximum demand into the demand a
// utility would actually bill, applying ratchet rules for the rate families
// that carry them.
package demand

import (
	"fmt"
	"strings"

	"meter-determinants/internal/diag"
)

// RateFamily is the closed set of rate families the rule engine understands.
// Dispatch is an exhaustive switch; adding a family means extending the enum
// and the switch, not matching open-ended strings.
type RateFamily int

const (
	FamilyUnknown RateFamily = iota
	FamilyResidential
	FamilySmallGeneral
	FamilyGeneralDemand
	FamilyLargeGeneral
)

// String implements fmt.Stringer for logging and evidence.
func (f RateFamily) String() string {
	switch f {
	case FamilyResidential:
		return "residential"
	case FamilySmallGeneral:
		return "small_general"
	case FamilyGeneralDemand:
		return "general_demand"
	case FamilyLargeGeneral:
		return "large_general"
	default:
		return "unknown"
	}
}

// ClassifyRate maps a rate code to its family. Classification is coarse and
// by prefix; unmatched codes get identity treatment downstream.
func ClassifyRate(rateCode string) RateFamily {
	code := strings.ToUpper(strings.TrimSpace(rateCode))
	switch {
	case code == "":
		return FamilyUnknown
	case strings.HasPrefix(code, "E-19"), strings.HasPrefix(code, "E-20"), strings.HasPrefix(code, "B-19"), strings.HasPrefix(code, "B-20"):
		return FamilyLargeGeneral
	case strings.HasPrefix(code, "E-1"), strings.HasPrefix(code, "E-TOU"), strings.HasPrefix(code, "EV"):
		return FamilyResidential
	case strings.HasPrefix(code, "B-10"), strings.HasPrefix(code, "GS-D"), strings.HasPrefix(code, "TOU-GS"):
		return FamilyGeneralDemand
	case strings.HasPrefix(code, "A-"), strings.HasPrefix(code, "B-"), strings.HasPrefix(code, "GS"):
		return FamilySmallGeneral
	default:
		return FamilyUnknown
	}
}

// HistoryEntry is one prior cycle's demand as seen by the ratchet: what was
// computed and, when known, what was billed.
type HistoryEntry struct {
	ComputedMaxKW *float64
	BillingKW     *float64
}

// Outcome is the rule engine's result for one cycle.
type Outcome struct {
	BillingDemandKW *float64 `json:"billingDemandKw,omitempty"`
	RatchetDemandKW *float64 `json:"ratchetDemandKw,omitempty"`
	RatchetFloorPct *float64 `json:"ratchetFloorPct,omitempty"`
	HistoryMaxKW    *float64 `json:"historyMaxKw,omitempty"`
	Method          string   `json:"method"`
	Confidence      float64  `json:"confidence"`
}

// Rules configures the engine. RatchetFloorPct applies to the families that
// ratchet; zero disables ratcheting entirely.
type Rules struct {
	Utility         string
	RatchetFloorPct float64
}

// DefaultRules returns the engine defaults: a 50% ratchet floor for the
// families that carry one.
func DefaultRules(utility string) Rules {
	return Rules{Utility: utility, RatchetFloorPct: 0.5}
}

func (r Rules) ratchets(f RateFamily) bool {
	if r.RatchetFloorPct <= 0 {
		return false
	}
	switch f {
	case FamilyGeneralDemand, FamilyLargeGeneral:
		return true
	case FamilyResidential, FamilySmallGeneral, FamilyUnknown:
		return false
	default:
		return false
	}
}

// Apply runs the demand rule for one cycle. A missing computed max is
// blocking: no rule can run. Ratchet families with no history fall back to
// identity with a needs_history warning. The ratchet floor is never applied
// below the current computed max.
func Apply(rules Rules, family RateFamily, computedMaxKW *float64, history []HistoryEntry) (Outcome, diag.Trail) {
	var trail diag.Trail

	if computedMaxKW == nil {
		trail.AddMissing("demand_rule_no_computed_max", "demand", diag.SeverityBlocking,
			"no computed maximum demand; demand rule cannot run")
		return Outcome{Method: "none", Confidence: 0}, trail
	}

	computed := *computedMaxKW

	if !rules.ratchets(family) {
		billing := computed
		trail.AddBecause(fmt.Sprintf("rate family %s: billing demand equals computed maximum", family))
		return Outcome{BillingDemandKW: &billing, Method: "identity", Confidence: 0.9}, trail
	}

	historyMax, ok := maxHistoricalDemand(history)
	if !ok {
		billing := computed
		trail.AddMissing("demand_rule_needs_history", "demand", diag.SeverityWarning,
			fmt.Sprintf("rate family %s ratchets but no prior-cycle history exists; using identity", family))
		return Outcome{BillingDemandKW: &billing, Method: "identity", Confidence: 0.7}, trail
	}

	floorPct := rules.RatchetFloorPct
	floor := floorPct * historyMax
	billing := computed
	if floor > billing {
		billing = floor
	}

	trail.AddBecause(fmt.Sprintf("ratchet floor %.1f%% of historical max %.2f kW = %.2f kW; billing demand max(%.2f, %.2f)",
		floorPct*100, historyMax, floor, computed, floor))
	trail.AddEvidence("demand_rule", "ratchet_floor_pct", fmt.Sprintf("%.2f", floorPct))

	return Outcome{
		BillingDemandKW: &billing,
		RatchetDemandKW: &floor,
		RatchetFloorPct: &floorPct,
		HistoryMaxKW:    &historyMax,
		Method:          "ratchet",
		Confidence:      0.85,
	}, trail
}

// maxHistoricalDemand takes the maximum over both billed and computed demand
// across the history, so a ratchet established by a prior bill survives even
// when only computed values are available.
func maxHistoricalDemand(history []HistoryEntry) (float64, bool) {
	var max float64
	found := false
	for _, h := range history {
		for _, v := range []*float64{h.BillingKW, h.ComputedMaxKW} {
			if v == nil {
				continue
			}
			if !found || *v > max {
				max = *v
				found = true
			}
		}
	}
	return max, found
}
