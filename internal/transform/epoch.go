package transform

import (
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// j2000 is the Julian Date of the J2000.0 epoch (January 1, 2000, 12:00:00 TT).
const j2000 = 2451545.0

// julianYearDays is the length of a Julian year in days.
const julianYearDays = 365.25

// GaiaDR3Epoch is the reference epoch of Gaia DR3 astrometry (J2016.0).
var GaiaDR3Epoch = time.Date(2016, 1, 1, 12, 0, 0, 0, time.UTC)

// JulianDate converts a time.Time (UTC) to Julian Date.
// Whole seconds go through go-satellite's JDay; the sub-second remainder is
// added separately since JDay only takes integer seconds.
func JulianDate(t time.Time) float64 {
	t = t.UTC()
	jd := satellite.JDay(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	return jd + float64(t.Nanosecond())/1e9/86400.0
}

// JulianEpoch returns the Julian epoch (e.g. 2016.0) of t.
func JulianEpoch(t time.Time) float64 {
	return 2000.0 + (JulianDate(t)-j2000)/julianYearDays
}

// YearsSince returns the number of Julian years from ref to t.
// Negative when t is before ref.
func YearsSince(ref, t time.Time) float64 {
	return (JulianDate(t) - JulianDate(ref)) / julianYearDays
}

// MyrSince returns the number of millions of Julian years from ref to t.
func MyrSince(ref, t time.Time) float64 {
	return YearsSince(ref, t) / 1e6
}
