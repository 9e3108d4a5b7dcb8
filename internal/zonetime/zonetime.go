// Package zonetime converts between UTC instants and local civil time for an
// arbitrary IANA zone. The local-to-UTC direction has no closed form across
// DST transitions; it is resolved by iterative refinement with a fixed cap so
// results stay bit-identical for identical inputs.
package zonetime

import "time"

const (
	// maxRefineIterations bounds the local-to-UTC fixed-point loop.
	maxRefineIterations = 4
	// convergenceThreshold accepts a guess once the correction is under a minute.
	convergenceThreshold = time.Minute
)

// CivilParts is the local civil decomposition of an instant.
type CivilParts struct {
	Year    int
	Month   time.Month
	Day     int
	Hour    int
	Minute  int
	Second  int
	Weekday time.Weekday
}

// Zone wraps a resolved location plus whether the requested name had to be
// degraded to UTC. Callers surface the fallback as a warning; the conversion
// itself never fails.
type Zone struct {
	Name     string
	Location *time.Location
	Fallback bool
}

// LoadZone resolves an IANA zone name, degrading to UTC when the name is
// unknown or empty.
func LoadZone(name string) Zone {
	if name == "" {
		return Zone{Name: "UTC", Location: time.UTC, Fallback: true}
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Zone{Name: name, Location: time.UTC, Fallback: true}
	}
	return Zone{Name: name, Location: loc}
}

// Parts decomposes an instant into local civil fields.
func (z Zone) Parts(instant time.Time) CivilParts {
	local := instant.In(z.Location)
	year, month, day := local.Date()
	hour, minute, second := local.Clock()
	return CivilParts{
		Year:    year,
		Month:   month,
		Day:     day,
		Hour:    hour,
		Minute:  minute,
		Second:  second,
		Weekday: local.Weekday(),
	}
}

// LocalToUTC resolves local civil fields to a UTC instant. The loop starts
// from the naive UTC reading of the fields, recomputes the zone offset at the
// current guess, and corrects until the adjustment is below one minute or the
// iteration cap is reached. Ambiguous or nonexistent local times (DST folds
// and gaps) resolve to some valid instant deterministically; this is an
// accepted approximation, not a defect.
func (z Zone) LocalToUTC(p CivilParts) time.Time {
	naive := time.Date(p.Year, p.Month, p.Day, p.Hour, p.Minute, p.Second, 0, time.UTC)
	guess := naive

	for i := 0; i < maxRefineIterations; i++ {
		_, offsetSec := guess.In(z.Location).Zone()
		candidate := naive.Add(-time.Duration(offsetSec) * time.Second)
		correction := candidate.Sub(guess)
		if correction < 0 {
			correction = -correction
		}
		guess = candidate
		if correction < convergenceThreshold {
			break
		}
	}

	return guess
}

// MonthStart returns the UTC instant of local midnight on the first of the
// month containing instant.
func (z Zone) MonthStart(instant time.Time) time.Time {
	p := z.Parts(instant)
	return z.LocalToUTC(CivilParts{Year: p.Year, Month: p.Month, Day: 1})
}

// NextMonthStart returns the UTC instant of local midnight on the first of
// the following month.
func (z Zone) NextMonthStart(instant time.Time) time.Time {
	p := z.Parts(instant)
	year, month := p.Year, p.Month
	if month == time.December {
		year++
		month = time.January
	} else {
		month++
	}
	return z.LocalToUTC(CivilParts{Year: year, Month: month, Day: 1})
}
