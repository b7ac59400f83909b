package measurement

import "time"

// TimeLayout renders rollup endpoints as "YYYY-MM-DD HH:mm:ss".
const TimeLayout = "2006-01-02 15:04:05"

// YearMonthLayout names a monthly shard, e.g. "2024-03".
const YearMonthLayout = "2006-01"

// Measurement is one stored meter reading.
//
// MeasuredValue is the raw meter value multiplied by 1000 (milli-units).
// RecordedTime is the unix time of the top of the hour the reading was taken
// in; every poll within the same hour lands on the same bucket.
type Measurement struct {
	ID            int64   `json:"id"`
	Channel       int     `json:"channel"`
	MeasuredValue float64 `json:"measured_value"`
	RecordedTime  int64   `json:"recorded_time"`
}

// Time returns RecordedTime as a UTC time.
func (m Measurement) Time() time.Time {
	return time.Unix(m.RecordedTime, 0).UTC()
}

// HourBucket truncates t to the start of its UTC hour and returns unix seconds.
func HourBucket(t time.Time) int64 {
	return t.Truncate(time.Hour).Unix()
}

// FormatUnix renders unix seconds in loc using TimeLayout.
func FormatUnix(unix int64, loc *time.Location) string {
	return time.Unix(unix, 0).In(loc).Format(TimeLayout)
}

// YearMonth returns the shard key of t as seen in loc.
func YearMonth(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(YearMonthLayout)
}
