package rollup

import (
	"fmt"
	"strings"
	"time"
)

// Granularity selects the bucket size of a rollup.
type Granularity string

// Supported granularities.
const (
	Hourly  Granularity = "hourly"
	Daily   Granularity = "daily"
	Monthly Granularity = "monthly"
)

// monthThreshold is the fraction of a month two month starts must be apart
// to count as a month boundary.
const monthThreshold = 0.9

// ParseGranularity converts a case-insensitive name into a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	if !g.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownGranularity, s)
	}
	return g, nil
}

// Valid reports whether g is one of the supported granularities.
func (g Granularity) Valid() bool {
	switch g {
	case Hourly, Daily, Monthly:
		return true
	}
	return false
}

// crossed reports whether the bucket containing next lies past the bucket
// containing prev, with both judged as calendar times in loc.
func (g Granularity) crossed(prev, next time.Time, loc *time.Location) bool {
	switch g {
	case Hourly:
		return true
	case Daily:
		return daysBetween(startOfDay(prev, loc), startOfDay(next, loc)) >= 1
	case Monthly:
		return monthsBetween(startOfMonth(prev, loc), startOfMonth(next, loc)) >= monthThreshold
	}
	return false
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func startOfMonth(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}

// daysBetween counts calendar days from a to b. Days shortened or lengthened
// by a DST change still count as one.
func daysBetween(a, b time.Time) int {
	civil := func(t time.Time) int64 {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix() / 86400
	}
	return int(civil(b) - civil(a))
}

// monthsBetween returns the number of months from a to b, with the
// remainder expressed as a fraction of the month it falls in.
func monthsBetween(a, b time.Time) float64 {
	whole := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	anchor := a.AddDate(0, whole, 0)
	if b.Before(anchor) {
		whole--
		anchor = a.AddDate(0, whole, 0)
	}
	next := a.AddDate(0, whole+1, 0)
	return float64(whole) + float64(b.Sub(anchor))/float64(next.Sub(anchor))
}
