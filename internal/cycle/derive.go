package cycle

import (
	"fmt"
	"sort"
	"time"

	"meter-determinants/internal/diag"
	"meter-determinants/internal/meter"
	"meter-determinants/internal/zonetime"
)

// defaultBillingDays approximates a cycle start when a record states neither
// a start date nor a day count.
const defaultBillingDays = 30

// DeriveResult is the deriver's output: sorted, deduplicated cycles plus the
// provenance trail of the strategy that produced them.
type DeriveResult struct {
	Cycles []BillingCycle
	Trail  diag.Trail
}

// Derive produces billing cycles for one meter by the highest-priority
// strategy available: caller-supplied explicit cycles, boundaries taken from
// stated billing records, or a calendar-month walk over the interval span.
// Empty or unusable inputs yield an empty list plus a blocking item, never an
// error.
func Derive(explicit []BillingCycle, records []meter.BillingRecord, series meter.IntervalSeries, zone zonetime.Zone) DeriveResult {
	if len(explicit) > 0 {
		return deriveExplicit(explicit)
	}
	if len(records) > 0 {
		return deriveFromRecords(records, zone)
	}
	return deriveCalendarMonths(series, zone)
}

func deriveExplicit(explicit []BillingCycle) DeriveResult {
	var res DeriveResult
	res.Cycles = normalize(explicit)
	res.Trail.AddEvidence("provided", "cycles", fmt.Sprintf("%d caller-supplied cycles", len(res.Cycles)))
	res.Trail.AddBecause("billing cycles taken as provided by caller")
	return res
}

func deriveFromRecords(records []meter.BillingRecord, zone zonetime.Zone) DeriveResult {
	var res DeriveResult
	cycles := make([]BillingCycle, 0, len(records))

	for _, r := range records {
		end := r.PeriodEnd
		var start time.Time
		switch {
		case r.PeriodStart != nil:
			start = *r.PeriodStart
		case r.BillingDays != nil && *r.BillingDays > 0:
			start = end.AddDate(0, 0, -*r.BillingDays)
			res.Trail.AddMissing("cycle_start_approximated", "billing_cycles", diag.SeverityInfo,
				fmt.Sprintf("cycle ending %s: start approximated as end minus %d billing days",
					end.Format("2006-01-02"), *r.BillingDays))
		default:
			start = end.AddDate(0, 0, -defaultBillingDays)
			res.Trail.AddMissing("cycle_start_approximated", "billing_cycles", diag.SeverityWarning,
				fmt.Sprintf("cycle ending %s: no start date or day count; assumed %d days",
					end.Format("2006-01-02"), defaultBillingDays))
		}

		if !start.Before(end) {
			res.Trail.AddMissing("cycle_record_invalid", "billing_cycles", diag.SeverityWarning,
				fmt.Sprintf("billing record ending %s has an inverted or empty period; skipped", end.Format("2006-01-02")))
			continue
		}

		cycles = append(cycles, BillingCycle{
			Start:    start,
			End:      end,
			Label:    end.Format("2006-01"),
			Timezone: zone.Name,
		})
	}

	if len(cycles) == 0 {
		res.Trail.AddMissing("no_cycles_derivable", "billing_cycles", diag.SeverityBlocking,
			"no usable billing records; cycles cannot be derived")
		return res
	}

	res.Cycles = normalize(cycles)
	res.Trail.AddEvidence("billing_records", "cycles", fmt.Sprintf("%d cycles from stated bill periods", len(res.Cycles)))
	res.Trail.AddBecause("billing cycles derived from stated billing record boundaries")
	return res
}

func deriveCalendarMonths(series meter.IntervalSeries, zone zonetime.Zone) DeriveResult {
	var res DeriveResult

	first, last, ok := series.TimeRange()
	if !ok {
		res.Trail.AddMissing("no_cycles_derivable", "billing_cycles", diag.SeverityBlocking,
			"no interval data and no billing records; cycles cannot be derived")
		return res
	}

	var cycles []BillingCycle
	start := zone.MonthStart(first)
	for start.Before(last) || start.Equal(last) {
		end := zone.NextMonthStart(start)
		parts := zone.Parts(start)
		cycles = append(cycles, BillingCycle{
			Start:    start,
			End:      end,
			Label:    fmt.Sprintf("%04d-%02d", parts.Year, parts.Month),
			Timezone: zone.Name,
		})
		start = end
	}

	res.Cycles = normalize(cycles)
	res.Trail.AddEvidence("calendar_fallback", "cycles", fmt.Sprintf("%d local calendar months", len(res.Cycles)))
	res.Trail.AddBecause("no explicit cycles or billing records; fell back to local calendar months")
	res.Trail.AddMissing("cycles_calendar_fallback", "billing_cycles", diag.SeverityInfo,
		"billing cycles approximated by local calendar months")
	return res
}

// normalize deduplicates cycles by (start, end) and sorts ascending by start,
// then end.
func normalize(cycles []BillingCycle) []BillingCycle {
	type key struct {
		start, end int64
	}
	seen := make(map[key]bool, len(cycles))
	out := make([]BillingCycle, 0, len(cycles))
	for _, c := range cycles {
		k := key{c.Start.UnixNano(), c.End.UnixNano()}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].End.Before(out[j].End)
	})
	return out
}
