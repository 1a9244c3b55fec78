package astro

import (
	"math"
	"testing"
	"time"
)

func TestTimeToJD(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name string
		in   time.Time
		want float64
	}{
		{
			name: "unix epoch",
			in:   time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
			want: 2440587.5,
		},
		{
			name: "J2000.0",
			in:   time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC),
			want: 2451545.0,
		},
		{
			name: "midday offsets by half a day",
			in:   time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC),
			want: 2460477.0,
		},
		{
			name: "midnight lands on half-integer JD",
			in:   time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
			want: 2460476.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TimeToJD(tt.in)
			if math.Abs(got-tt.want) > 1e-8 {
				t.Errorf("TimeToJD(%v) = %.9f, want %.9f", tt.in, got, tt.want)
			}
		})
	}
}

func TestJDToTimeRoundTrip(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	in := time.Date(2025, 3, 10, 7, 42, 13, 0, time.UTC)

	got := JDToTime(TimeToJD(in))
	if diff := got.Sub(in); diff < -time.Microsecond || diff > time.Microsecond {
		t.Errorf("round trip drifted by %v (got %v, want %v)", diff, got, in)
	}
}

func TestJDToMJD(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	if got := JDToMJD(2460000.5); got != 60000.0 {
		t.Errorf("JDToMJD(2460000.5) = %f, want 60000.0", got)
	}
}
