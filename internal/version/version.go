// Package version computes the CalVer string reported by
// containerdiff --version.
package version

import (
	"fmt"
	"time"
)

// Compute returns a CalVer version in the format YYYY.DDD.HHMM:
//   - YYYY = year (e.g., 2026)
//   - DDD  = day of year (1-366)
//   - HHMM = hour*100 + minute in UTC (0-2359)
//
// All three components are plain decimal integers without zero padding
// (08:30 on day 45 gives "2026.45.830"), so versions compare correctly
// component by component as numbers, not as strings.
func Compute() string {
	return ComputeAt(time.Now().UTC())
}

// ComputeAt computes CalVer for a specific time, for deterministic
// testing.
func ComputeAt(t time.Time) string {
	year := t.Year()
	dayOfYear := t.YearDay()
	hhmm := t.Hour()*100 + t.Minute()
	return fmt.Sprintf("%d.%d.%d", year, dayOfYear, hhmm)
}
