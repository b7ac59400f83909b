package meter

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/meterlog/internal/measurement"
)

// milliUnits scales raw meter values before storage.
const milliUnits = 1000

var (
	linePattern   = regexp.MustCompile(`^channel_(\d{1,2}) : (.*)`)
	numberPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)
)

// Reading is one channel value parsed from a meter response, already scaled
// to milli-units.
type Reading struct {
	Channel int
	Value   float64
}

// Parse extracts the readings for allow-listed channels from a response.
//
// Lines look like "channel_<N> : <value>". Channels are matched against
// allowed textually, so "1" admits channel_1 but not channel_01. Lines that
// do not match, channels outside allowed, and values without a leading
// number are skipped. Trailing text after the number (a unit, say) is ignored.
func Parse(response string, allowed []string) []Reading {
	var readings []Reading

	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimRight(line, "\r")

		m := linePattern.FindStringSubmatch(line)
		if m == nil || !slices.Contains(allowed, m[1]) {
			continue
		}

		channel, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		value, ok := leadingFloat(m[2])
		if !ok {
			continue
		}

		readings = append(readings, Reading{
			Channel: channel,
			Value:   value * milliUnits,
		})
	}

	return readings
}

// leadingFloat parses the number at the start of s.
func leadingFloat(s string) (float64, bool) {
	num := numberPattern.FindString(strings.TrimSpace(s))
	if num == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Rows stamps readings with the hour bucket of at, ready for storage.
// Every row of one poll shares the same timestamp.
func Rows(readings []Reading, at time.Time) []measurement.Measurement {
	bucket := measurement.HourBucket(at)

	rows := make([]measurement.Measurement, 0, len(readings))
	for _, r := range readings {
		rows = append(rows, measurement.Measurement{
			Channel:       r.Channel,
			MeasuredValue: r.Value,
			RecordedTime:  bucket,
		})
	}
	return rows
}
