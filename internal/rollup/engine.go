package rollup

import (
	"sort"
	"time"

	"github.com/nerrad567/meterlog/internal/measurement"
)

// Options configures a rollup.
type Options struct {
	Granularity Granularity

	// Zone is the reporting ("server") timezone. Bucket boundaries are
	// calendar boundaries in this zone.
	Zone *time.Location

	// LocalZone is the caller's own timezone, used only to render the
	// from_local_time/to_local_time fields. Default: time.Local.
	LocalZone *time.Location

	// AddFirst emits a zero-diff baseline record the first time each
	// channel is seen.
	AddFirst bool
}

// Record is the consumption of one channel between two bucket boundaries.
//
// Diff is MeasuredValue minus the value at the previous boundary, in the same
// milli-units as the stored readings. Baseline records carry Diff 0 and no
// interval strings.
type Record struct {
	Channel       int     `json:"channel"`
	RecordedTime  int64   `json:"recorded_time"`
	MeasuredValue float64 `json:"measured_value"`
	Diff          float64 `json:"diff"`

	FromUTCTime    string `json:"from_utc_time,omitempty"`
	ToUTCTime      string `json:"to_utc_time,omitempty"`
	FromServerTime string `json:"from_server_time,omitempty"`
	ToServerTime   string `json:"to_server_time,omitempty"`
	FromLocalTime  string `json:"from_local_time,omitempty"`
	ToLocalTime    string `json:"to_local_time,omitempty"`

	// Baseline marks the first observation of a channel.
	Baseline bool `json:"baseline,omitempty"`

	// Trailing marks the closing record for a bucket still in progress.
	Trailing bool `json:"trailing,omitempty"`

	// CounterReset is set when Diff is negative, which a cumulative meter
	// only produces after a reset or rollover.
	CounterReset bool `json:"counter_reset,omitempty"`
}

// channelState is the per-channel progress through the input.
type channelState struct {
	lastEmitted measurement.Measurement
	lastSeen    measurement.Measurement
}

// Compute turns time-ordered measurements into rollup records.
//
// Input must be sorted by (recorded_time, channel); Compute does not re-sort.
// For each channel, a record is emitted whenever a reading lands in a later
// bucket than the last emitted one. Readings repeating the previous
// recorded_time of their channel are tracked but never start a bucket.
//
// If the final timestamp of the input did not close a bucket, one trailing
// record per channel (ascending channel order) closes the partial bucket at
// the channel's latest reading. Channels with nothing new since their last
// emitted record get no trailing record.
//
// Returns:
//   - []Record: Records in emission order (never nil)
//   - error: ErrUnknownGranularity or ErrNoTimezone
func Compute(measurements []measurement.Measurement, opts Options) ([]Record, error) {
	if !opts.Granularity.Valid() {
		return nil, ErrUnknownGranularity
	}
	if opts.Zone == nil {
		return nil, ErrNoTimezone
	}
	if opts.LocalZone == nil {
		opts.LocalZone = time.Local
	}

	var (
		out    = []Record{}
		states = make(map[int]*channelState)

		lastTimestamp int64
		closedBucket  bool
	)

	for i, m := range measurements {
		if i == 0 || m.RecordedTime != lastTimestamp {
			lastTimestamp = m.RecordedTime
			closedBucket = false
		}

		st, ok := states[m.Channel]
		if !ok {
			states[m.Channel] = &channelState{lastEmitted: m, lastSeen: m}
			if opts.AddFirst {
				out = append(out, Record{
					Channel:       m.Channel,
					RecordedTime:  m.RecordedTime,
					MeasuredValue: m.MeasuredValue,
					Baseline:      true,
				})
			}
			continue
		}

		if m.RecordedTime != st.lastSeen.RecordedTime &&
			opts.Granularity.crossed(st.lastEmitted.Time(), m.Time(), opts.Zone) {
			out = append(out, opts.interval(st.lastEmitted, m))
			st.lastEmitted = m
			closedBucket = true
		}
		st.lastSeen = m
	}

	if closedBucket {
		return out, nil
	}

	channels := make([]int, 0, len(states))
	for ch := range states {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	for _, ch := range channels {
		st := states[ch]
		if st.lastSeen.RecordedTime <= st.lastEmitted.RecordedTime {
			continue
		}
		rec := opts.interval(st.lastEmitted, st.lastSeen)
		rec.Trailing = true
		out = append(out, rec)
	}

	return out, nil
}

// interval builds the record for the span from one reading to a later one.
func (o Options) interval(from, to measurement.Measurement) Record {
	diff := to.MeasuredValue - from.MeasuredValue
	return Record{
		Channel:        to.Channel,
		RecordedTime:   to.RecordedTime,
		MeasuredValue:  to.MeasuredValue,
		Diff:           diff,
		FromUTCTime:    measurement.FormatUnix(from.RecordedTime, time.UTC),
		ToUTCTime:      measurement.FormatUnix(to.RecordedTime, time.UTC),
		FromServerTime: measurement.FormatUnix(from.RecordedTime, o.Zone),
		ToServerTime:   measurement.FormatUnix(to.RecordedTime, o.Zone),
		FromLocalTime:  measurement.FormatUnix(from.RecordedTime, o.LocalZone),
		ToLocalTime:    measurement.FormatUnix(to.RecordedTime, o.LocalZone),
		CounterReset:   diff < 0,
	}
}

// CounterResets returns the records whose diff went negative.
func CounterResets(records []Record) []Record {
	var resets []Record
	for _, r := range records {
		if r.CounterReset {
			resets = append(resets, r)
		}
	}
	return resets
}
