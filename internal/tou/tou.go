// Package tou labels interval samples with time-of-use periods according to a
// rate's weekday/weekend hour schedule.
package tou

import (
	"meter-determinants/internal/zonetime"
	"time"
)

// Bucket is one of the four canonical time-of-use periods.
type Bucket string

const (
	OnPeak       Bucket = "onPeak"
	PartialPeak  Bucket = "partialPeak"
	OffPeak      Bucket = "offPeak"
	SuperOffPeak Bucket = "superOffPeak"
)

// CanonicalBuckets lists the buckets in their fixed reporting order.
func CanonicalBuckets() []Bucket {
	return []Bucket{OnPeak, PartialPeak, OffPeak, SuperOffPeak}
}

// Known reports whether a raw label maps to a canonical bucket.
func Known(b Bucket) bool {
	switch b {
	case OnPeak, PartialPeak, OffPeak, SuperOffPeak:
		return true
	}
	return false
}

// HourRange is a half-open local-hour span [StartHour, EndHour). Spans that
// wrap midnight (e.g. 21–8) are expressed with EndHour < StartHour.
type HourRange struct {
	StartHour int `json:"startHour" mapstructure:"start_hour"`
	EndHour   int `json:"endHour" mapstructure:"end_hour"`
}

func (r HourRange) contains(hour int) bool {
	if r.StartHour == r.EndHour {
		return false
	}
	if r.StartHour < r.EndHour {
		return hour >= r.StartHour && hour < r.EndHour
	}
	return hour >= r.StartHour || hour < r.EndHour
}

// DayPlan maps buckets to their hour ranges for one kind of day. Buckets are
// checked in canonical order; the first match wins, and hours matched by no
// bucket fall through to off-peak.
type DayPlan map[Bucket][]HourRange

// Schedule is a rate's TOU definition.
type Schedule struct {
	Utility  string  `json:"utility" mapstructure:"utility"`
	RateCode string  `json:"rateCode" mapstructure:"rate_code"`
	Weekday  DayPlan `json:"weekday" mapstructure:"weekday"`
	Weekend  DayPlan `json:"weekend" mapstructure:"weekend"`
}

// Resolver is the collaborator contract for schedule lookup. A nil schedule
// means no TOU decomposition is possible for the rate; the calculator then
// degrades rather than fabricating buckets.
type Resolver func(utility, rateCode string) *Schedule

// Label assigns the bucket for an instant under the schedule, using the
// zone's local civil time.
func (s *Schedule) Label(instant time.Time, zone zonetime.Zone) Bucket {
	p := zone.Parts(instant)
	plan := s.Weekday
	if p.Weekday == time.Saturday || p.Weekday == time.Sunday {
		plan = s.Weekend
	}
	for _, b := range CanonicalBuckets() {
		for _, r := range plan[b] {
			if r.contains(p.Hour) {
				return b
			}
		}
	}
	return OffPeak
}
