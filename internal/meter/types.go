// Package meter holds the raw input value types of the determinants engine:
// interval samples as read from a source, series-level metadata, and stated
// billing records. The engine borrows these read-only and never mutates them.
package meter

import "time"

// IntervalPoint is one raw meter sample. Exactly one of PowerKW and EnergyKWh
// is authoritative; the other is derivable only for supported durations.
type IntervalPoint struct {
	Timestamp       time.Time `json:"timestamp"`
	DurationMinutes *int      `json:"durationMinutes,omitempty"`
	PowerKW         *float64  `json:"powerKw,omitempty"`
	EnergyKWh       *float64  `json:"energyKwh,omitempty"`
	TemperatureF    *float64  `json:"temperatureF,omitempty"`
	Valid           bool      `json:"valid"`
}

// IntervalSeries is the ordered sample stream for one meter.
type IntervalSeries struct {
	MeterID         string          `json:"meterId"`
	Points          []IntervalPoint `json:"points"`
	NominalDuration int             `json:"nominalDurationMinutes"`
	Timezone        string          `json:"timezone"`
	Source          string          `json:"source"`
}

// TimeRange returns the first and last timestamps of the series, or ok=false
// when no valid points exist.
func (s IntervalSeries) TimeRange() (first, last time.Time, ok bool) {
	for _, p := range s.Points {
		if !p.Valid {
			continue
		}
		if !ok {
			first, last = p.Timestamp, p.Timestamp
			ok = true
			continue
		}
		if p.Timestamp.Before(first) {
			first = p.Timestamp
		}
		if p.Timestamp.After(last) {
			last = p.Timestamp
		}
	}
	return first, last, ok
}

// BillingRecord is one stated bill line for a meter, as reported by the
// utility. The end date is authoritative; the start date may be absent.
type BillingRecord struct {
	MeterID        string     `json:"meterId"`
	PeriodStart    *time.Time `json:"periodStart,omitempty"`
	PeriodEnd      time.Time  `json:"periodEnd"`
	BillingDays    *int       `json:"billingDays,omitempty"`
	StatedDemandKW *float64   `json:"statedDemandKw,omitempty"`
	StatedKWh      *float64   `json:"statedKwh,omitempty"`
	Source         string     `json:"source"`
}

// RecordsTimeRange returns the span covered by stated billing records, or
// ok=false when the list is empty.
func RecordsTimeRange(records []BillingRecord) (first, last time.Time, ok bool) {
	for _, r := range records {
		start := r.PeriodEnd
		if r.PeriodStart != nil {
			start = *r.PeriodStart
		}
		if !ok {
			first, last = start, r.PeriodEnd
			ok = true
			continue
		}
		if start.Before(first) {
			first = start
		}
		if r.PeriodEnd.After(last) {
			last = r.PeriodEnd
		}
	}
	return first, last, ok
}
