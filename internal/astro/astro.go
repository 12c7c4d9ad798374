// Package astro provides the astronomical quantities the night schedule
// needs: sunset and sunrise for a site, and the Moon's angular distance
// from a pointing.
//
// Sun times come from github.com/nathan-osman/go-sunrise. The Moon uses a
// low-precision series good to about a degree, far inside the tolerance of
// a moon-avoidance threshold.
package astro

import (
	"errors"
	"math"
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// ErrNoSunEvent is returned when the sun does not rise or set on a date at
// the site (polar day or night).
var ErrNoSunEvent = errors.New("astro: no sunrise or sunset on this date")

// Site is a geographic position in degrees, east and north positive.
type Site struct {
	Latitude  float64
	Longitude float64
}

// Sunset returns the instant of sunset on date's calendar day, in date's location.
func Sunset(date time.Time, site Site) (time.Time, error) {
	_, set, err := sunTimes(date, site)
	return set, err
}

// Sunrise returns the instant of sunrise on date's calendar day, in date's location.
func Sunrise(date time.Time, site Site) (time.Time, error) {
	rise, _, err := sunTimes(date, site)
	return rise, err
}

func sunTimes(date time.Time, site Site) (time.Time, time.Time, error) {
	rise, set := sunrise.SunriseSunset(site.Latitude, site.Longitude, date.Year(), date.Month(), date.Day())
	if rise.IsZero() || set.IsZero() {
		return time.Time{}, time.Time{}, ErrNoSunEvent
	}
	loc := date.Location()
	return rise.In(loc), set.In(loc), nil
}

const (
	deg = math.Pi / 180
	// j2000 is the Julian date of 2000-01-01 12:00 TT, ignoring TT-UTC.
	j2000 = 2451545.0
)

// daysSinceJ2000 returns fractional days from the J2000 epoch.
func daysSinceJ2000(t time.Time) float64 {
	jd := float64(t.UTC().UnixNano())/float64(24*time.Hour) + 2440587.5
	return jd - j2000
}

// moonEquatorial returns the Moon's geocentric right ascension and
// declination in radians.
func moonEquatorial(d float64) (ra, dec float64) {
	l := (218.316 + 13.176396*d) * deg // mean longitude
	m := (134.963 + 13.064993*d) * deg // mean anomaly
	f := (93.272 + 13.229350*d) * deg  // argument of latitude

	lambda := l + 6.289*deg*math.Sin(m)
	beta := 5.128 * deg * math.Sin(f)
	eps := (23.4393 - 3.563e-7*d) * deg

	ra = math.Atan2(math.Sin(lambda)*math.Cos(eps)-math.Tan(beta)*math.Sin(eps), math.Cos(lambda))
	dec = math.Asin(math.Sin(beta)*math.Cos(eps) + math.Cos(beta)*math.Sin(eps)*math.Sin(lambda))
	return ra, dec
}

// MoonPosition returns the Moon's azimuth (degrees east of north) and
// zenith angle (degrees) at t for the site.
func MoonPosition(t time.Time, site Site) (azimuth, zenith float64) {
	d := daysSinceJ2000(t)
	ra, dec := moonEquatorial(d)

	lst := (280.16+360.9856235*d)*deg + site.Longitude*deg
	h := lst - ra
	phi := site.Latitude * deg

	alt := math.Asin(math.Sin(phi)*math.Sin(dec) + math.Cos(phi)*math.Cos(dec)*math.Cos(h))
	az := math.Atan2(math.Sin(h), math.Cos(h)*math.Sin(phi)-math.Tan(dec)*math.Cos(phi)) + math.Pi

	return normalizeDegrees(az / deg), 90 - alt/deg
}

// MoonSeparation returns the angle in degrees between the pointing
// (azimuth, zenith) and the Moon at t.
func MoonSeparation(t time.Time, site Site, azimuth, zenith float64) float64 {
	moonAz, moonZen := MoonPosition(t, site)
	return Separation(azimuth, zenith, moonAz, moonZen)
}

// Separation returns the great-circle angle in degrees between two
// horizontal-coordinate pointings.
func Separation(az1, zen1, az2, zen2 float64) float64 {
	z1, z2 := zen1*deg, zen2*deg
	c := math.Cos(z1)*math.Cos(z2) + math.Sin(z1)*math.Sin(z2)*math.Cos((az1-az2)*deg)
	return math.Acos(math.Max(-1, math.Min(1, c))) / deg
}

func normalizeDegrees(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	return a
}
