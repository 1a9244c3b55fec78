package astro

import "math"

const degToRad = math.Pi / 180.0

// GreatCircleDistance returns the angular separation in degrees between two
// sky positions. Coordinates are J2000 right ascension and declination in
// degrees. The atan2 form stays numerically stable at arcsecond separations,
// where the plain arccos form loses precision.
func GreatCircleDistance(ra1, dec1, ra2, dec2 float64) float64 {
	ra1r, dec1r := ra1*degToRad, dec1*degToRad
	ra2r, dec2r := ra2*degToRad, dec2*degToRad

	deltaRA := ra2r - ra1r

	num := math.Hypot(
		math.Cos(dec2r)*math.Sin(deltaRA),
		math.Cos(dec1r)*math.Sin(dec2r)-math.Sin(dec1r)*math.Cos(dec2r)*math.Cos(deltaRA),
	)
	den := math.Sin(dec1r)*math.Sin(dec2r) + math.Cos(dec1r)*math.Cos(dec2r)*math.Cos(deltaRA)

	return math.Atan2(num, den) / degToRad
}
