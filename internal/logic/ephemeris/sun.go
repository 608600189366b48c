// Package ephemeris computes the apparent position of the sun.
package ephemeris

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// Provider returns the horizontal coordinates of the sun, in degrees, for
// an observer at lat/lon (degrees, east positive). Azimuth is measured
// clockwise from north in [0, 360).
type Provider func(utc time.Time, latitude, longitude float64) (azimuthDeg, elevationDeg float64)

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi
	j2000   = 2451545.0
)

// SunPosition is a low-precision solar model (about 0.01° in declination
// between 1950 and 2050) using the Julian date and Greenwich mean sidereal
// time from go-satellite. Refraction is not applied.
func SunPosition(utc time.Time, latitude, longitude float64) (azimuthDeg, elevationDeg float64) {
	utc = utc.UTC()
	jd := satellite.JDay(utc.Year(), int(utc.Month()), utc.Day(), utc.Hour(), utc.Minute(), utc.Second())
	jd += float64(utc.Nanosecond()) / 1e9 / 86400
	n := jd - j2000

	meanLon := normalize(280.460 + 0.9856474*n)
	meanAnomaly := normalize(357.528+0.9856003*n) * deg2rad
	eclipticLon := (meanLon + 1.915*math.Sin(meanAnomaly) + 0.020*math.Sin(2*meanAnomaly)) * deg2rad
	obliquity := (23.439 - 0.0000004*n) * deg2rad

	ra := math.Atan2(math.Cos(obliquity)*math.Sin(eclipticLon), math.Cos(eclipticLon))
	dec := math.Asin(math.Sin(obliquity) * math.Sin(eclipticLon))

	gmst := satellite.ThetaG_JD(jd)
	hourAngle := gmst + longitude*deg2rad - ra

	lat := latitude * deg2rad
	sinEl := math.Sin(lat)*math.Sin(dec) + math.Cos(lat)*math.Cos(dec)*math.Cos(hourAngle)
	el := math.Asin(clamp(sinEl, -1, 1))

	az := math.Atan2(
		-math.Cos(dec)*math.Sin(hourAngle),
		math.Sin(dec)*math.Cos(lat)-math.Cos(dec)*math.Sin(lat)*math.Cos(hourAngle),
	)

	return normalize(az * rad2deg), el * rad2deg
}

// normalize maps degrees into [0, 360).
func normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Fixed returns a Provider that always reports the same position.
func Fixed(azimuthDeg, elevationDeg float64) Provider {
	return func(time.Time, float64, float64) (float64, float64) {
		return azimuthDeg, elevationDeg
	}
}
