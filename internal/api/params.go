package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// maxQueryParamLen caps the length of any query parameter value.
	maxQueryParamLen = 100

	// dateLayout is the bare-date form of from/to.
	dateLayout = "2006-01-02"

	// defaultMeasurementRange is the window used when from is omitted.
	defaultMeasurementRange = 24 * time.Hour

	// defaultRollupRange is the window used for rollups when from is omitted.
	defaultRollupRange = 31 * 24 * time.Hour
)

// timeRange is a parsed from/to pair, both inclusive.
type timeRange struct {
	From time.Time
	To   time.Time
}

// parseRange reads the from and to query parameters.
//
// A missing to means now; a missing from means span before to. Dates are
// read in loc, with to extended to the last second of its day.
func parseRange(r *http.Request, loc *time.Location, now time.Time, span time.Duration) (timeRange, error) {
	q := r.URL.Query()

	to, err := parseTimeParam(q.Get("to"), loc, true, now)
	if err != nil {
		return timeRange{}, fmt.Errorf("invalid to: %w", err)
	}
	from, err := parseTimeParam(q.Get("from"), loc, false, to.Add(-span))
	if err != nil {
		return timeRange{}, fmt.Errorf("invalid from: %w", err)
	}
	if to.Before(from) {
		return timeRange{}, fmt.Errorf("to must not be before from")
	}

	return timeRange{From: from, To: to}, nil
}

// parseTimeParam parses a YYYY-MM-DD date, an RFC3339 timestamp or unix
// seconds, with a fallback default for an empty value.
func parseTimeParam(raw string, loc *time.Location, endOfDay bool, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	if len(raw) > maxQueryParamLen {
		return time.Time{}, fmt.Errorf("value too long")
	}

	if day, err := time.ParseInLocation(dateLayout, raw, loc); err == nil {
		if endOfDay {
			return day.AddDate(0, 0, 1).Add(-time.Second), nil
		}
		return day, nil
	}

	if parsed, err := parseRFC3339(raw); err == nil {
		return parsed, nil
	}

	parsed, err := parseUnixTimestamp(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not a date, RFC3339 timestamp or unix time", raw)
	}
	return parsed, nil
}

// parseRFC3339 parses a timestamp in RFC3339 or RFC3339Nano format.
func parseRFC3339(raw string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err == nil {
		return parsed.UTC(), nil
	}

	parsed, err = time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}

	return parsed.UTC(), nil
}

// parseUnixTimestamp parses a Unix timestamp string into time.Time.
func parseUnixTimestamp(raw string) (time.Time, error) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return time.Time{}, fmt.Errorf("not a finite number")
	}

	seconds, fraction := math.Modf(value)
	return time.Unix(int64(seconds), int64(fraction*float64(time.Second))).UTC(), nil
}

// parseChannelParam parses the optional channel filter. An empty value
// means every channel.
func parseChannelParam(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	ch, err := strconv.Atoi(raw)
	if err != nil || ch <= 0 {
		return nil, fmt.Errorf("invalid channel %q", raw)
	}
	return &ch, nil
}

// parseBoolParam parses an optional boolean flag.
func parseBoolParam(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(strings.ToLower(raw))
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
	return v, nil
}
