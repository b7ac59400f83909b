package measurement

import (
	"testing"
	"time"
)

func TestHourBucket(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want int64
	}{
		{"on the hour", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), 1709287200},
		{"mid hour", time.Date(2024, 3, 1, 10, 59, 59, 999, time.UTC), 1709287200},
		{"non-UTC input", time.Date(2024, 3, 1, 11, 30, 0, 0, time.FixedZone("CET", 3600)), 1709287200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HourBucket(tt.in); got != tt.want {
				t.Errorf("HourBucket(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatUnix(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Budapest")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// 2024-03-01T10:00:00Z
	if got := FormatUnix(1709287200, time.UTC); got != "2024-03-01 10:00:00" {
		t.Errorf("FormatUnix(UTC) = %q", got)
	}
	if got := FormatUnix(1709287200, loc); got != "2024-03-01 11:00:00" {
		t.Errorf("FormatUnix(Budapest) = %q", got)
	}
}

func TestYearMonth(t *testing.T) {
	at := time.Date(2024, 3, 31, 23, 30, 0, 0, time.UTC)

	if got := YearMonth(at, time.UTC); got != "2024-03" {
		t.Errorf("YearMonth(UTC) = %q, want 2024-03", got)
	}
	if got := YearMonth(at, time.FixedZone("UTC+2", 2*3600)); got != "2024-04" {
		t.Errorf("YearMonth(UTC+2) = %q, want 2024-04", got)
	}
}

func TestMeasurement_Time(t *testing.T) {
	m := Measurement{RecordedTime: 1709287200}
	if got := m.Time(); !got.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Time() = %v", got)
	}
}
