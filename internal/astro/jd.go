// Package astro provides time-scale and spherical-geometry helpers shared by
// the cross-match services.
package astro

import "time"

const (
	// JDUnixEpoch is the Julian Date of the Unix epoch (1970-01-01T00:00:00 UTC).
	JDUnixEpoch = 2440587.5

	// MJDOffset is subtracted from a Julian Date to get a Modified Julian Date.
	MJDOffset = 2400000.5

	nanosPerDay = 86400.0 * 1e9
)

// TimeToJD converts a wall-clock time to a Julian Date.
func TimeToJD(t time.Time) float64 {
	return float64(t.UnixNano())/nanosPerDay + JDUnixEpoch
}

// JDToTime converts a Julian Date to a UTC wall-clock time.
func JDToTime(jd float64) time.Time {
	return time.Unix(0, int64((jd-JDUnixEpoch)*nanosPerDay)).UTC()
}

// JDToMJD converts a Julian Date to a Modified Julian Date.
func JDToMJD(jd float64) float64 {
	return jd - MJDOffset
}
