package meter

import (
	"fmt"

	"meter-determinants/internal/diag"
)

// Per-point confidence levels assigned by the resolver. These are local
// signals; the calculator combines them with cycle-level penalties later.
const (
	confidenceDirect   = 0.9
	confidenceDerived  = 0.75
	confidenceUnusable = 0.25
)

// Resolution is the resolver's view of one point: power and energy on a
// common footing, with a local confidence and any diagnostics raised while
// deriving the missing half.
type Resolution struct {
	PowerKW    *float64
	EnergyKWh  *float64
	Usable     bool
	Confidence float64
	Trail      diag.Trail
}

// supportedDerivation reports whether energy-to-power derivation is defined
// for the duration. Only the two common interval lengths are supported.
func supportedDerivation(durationMinutes int) bool {
	return durationMinutes == 15 || durationMinutes == 30
}

// ResolvePoint resolves the kW/kWh duality for one sample. When PowerKW is
// present it is authoritative and energy is derived whenever the duration is
// known. When only EnergyKWh is present, power is derived only for 15 and 30
// minute intervals; other durations flag an unsupported item instead of
// guessing. fallbackDuration is the series nominal duration, used when the
// point carries none.
func ResolvePoint(p IntervalPoint, fallbackDuration int) Resolution {
	var res Resolution

	if !p.Valid {
		res.Confidence = confidenceUnusable
		res.Trail.AddMissing("interval_point_invalid", "interval_data", diag.SeverityInfo,
			"interval point marked invalid by source; excluded from aggregation")
		return res
	}

	duration := fallbackDuration
	if p.DurationMinutes != nil {
		duration = *p.DurationMinutes
	}

	switch {
	case p.PowerKW != nil:
		kw := *p.PowerKW
		res.PowerKW = &kw
		res.Usable = true
		res.Confidence = confidenceDirect
		if duration > 0 {
			kwh := kw * float64(duration) / 60
			res.EnergyKWh = &kwh
			res.Trail.AddBecause(fmt.Sprintf("energy derived from %.3f kW over %d min", kw, duration))
		} else {
			res.Confidence = confidenceDerived
			res.Trail.AddMissing("interval_duration_unknown", "interval_data", diag.SeverityInfo,
				"interval duration unknown; energy not derivable from power")
		}

	case p.EnergyKWh != nil:
		kwh := *p.EnergyKWh
		res.EnergyKWh = &kwh
		res.Usable = true
		res.Confidence = confidenceDerived
		if supportedDerivation(duration) {
			kw := kwh * 60 / float64(duration)
			res.PowerKW = &kw
			res.Trail.AddBecause(fmt.Sprintf("power derived from %.3f kWh over %d min", kwh, duration))
		} else {
			res.Trail.AddMissing("interval_duration_unsupported", "interval_data", diag.SeverityWarning,
				fmt.Sprintf("duration %d min unsupported for kWh-to-kW derivation", duration))
		}

	default:
		res.Confidence = confidenceUnusable
		res.Trail.AddMissing("interval_point_empty", "interval_data", diag.SeverityInfo,
			"interval point carries neither power nor energy")
	}

	return res
}
