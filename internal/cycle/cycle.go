// Package cycle derives ordered billing-cycle ranges and assigns raw interval
// samples to them.
package cycle

import (
	"fmt"
	"time"

	"meter-determinants/internal/meter"
)

// BillingCycle is a half-open [Start, End) billing period.
type BillingCycle struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Label    string    `json:"label"`
	Timezone string    `json:"timezone"`
}

// New constructs a cycle, panicking on an inverted range. An inverted range
// is a caller contract violation, not a data-quality condition.
func New(start, end time.Time, label, timezone string) BillingCycle {
	if !start.Before(end) {
		panic(fmt.Sprintf("cycle: start %s not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339)))
	}
	return BillingCycle{Start: start, End: end, Label: label, Timezone: timezone}
}

// Contains reports half-open membership: the start boundary is in, the end
// boundary is out.
func (c BillingCycle) Contains(t time.Time) bool {
	return !t.Before(c.Start) && t.Before(c.End)
}

// DurationMinutes is the cycle length in whole minutes.
func (c BillingCycle) DurationMinutes() int {
	return int(c.End.Sub(c.Start) / time.Minute)
}

// Assign buckets points into cycles by half-open membership. Points outside
// every cycle are dropped; the calculator accounts for them through coverage.
// Cycles must be sorted and non-overlapping, as the deriver produces them.
func Assign(points []meter.IntervalPoint, cycles []BillingCycle) map[int][]meter.IntervalPoint {
	assigned := make(map[int][]meter.IntervalPoint, len(cycles))
	for _, p := range points {
		for i, c := range cycles {
			if c.Contains(p.Timestamp) {
				assigned[i] = append(assigned[i], p)
				break
			}
		}
	}
	return assigned
}
