package catalog

// Red-star post-filter thresholds. The catalog-side star cut lets through
// nearby red stars with mid-range sgscore; this local rule removes them
// using PS1 colors.
const (
	redStarDistPSNRMax = 1.0
	redStarSGScoreMin  = 0.2
	redStarColorMin    = 3.0
)

// IsRedStar reports whether an alert is an obvious stellar contaminant.
//
// An alert is rejected when all three hold: the nearest PS1 source is within
// (0, 1] arcsec, its sgscore exceeds 0.2, and at least one color pair
// (r-i, r-z, i-z) exceeds 3 magnitudes with both magnitudes positive.
// Missing fields never reject.
func IsRedStar(a *Alert) bool {
	if a.DistPSNR == nil || *a.DistPSNR <= 0 || *a.DistPSNR > redStarDistPSNRMax {
		return false
	}

	if a.SGScore == nil || *a.SGScore <= redStarSGScoreMin {
		return false
	}

	return redColor(a.SRMag, a.SIMag) || redColor(a.SRMag, a.SZMag) || redColor(a.SIMag, a.SZMag)
}

func redColor(blue, red *float64) bool {
	return blue != nil && red != nil && *blue > 0 && *red > 0 && *blue-*red > redStarColorMin
}
