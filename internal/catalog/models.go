// Package catalog provides the remote alert-catalog client used by the
// matcher: cone-search query construction, batched submission with bounded
// concurrency, catalog-side quality cuts, and the local red-star post-filter.
package catalog

// Alert is one projected alert returned by the catalog.
//
// The projection flattens the nested candidate document into top-level keys.
// PS1 cross-match fields and solar-system fields can be absent upstream, so
// they are pointers; nil means the catalog had no value.
type Alert struct {
	// Candid is the immutable alert identifier.
	Candid int64 `json:"candid"`

	// ObjectID is the catalog's object designation grouping alerts of the
	// same source.
	ObjectID string `json:"object_id"`

	// JD is the alert timestamp as a Julian Date.
	JD float64 `json:"jd"`

	// RA and Dec are the alert position in degrees.
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`

	// FID is the filter (band) identifier.
	FID int `json:"fid"`

	// MagPSF and SigmaPSF are the PSF-fit magnitude and its uncertainty.
	MagPSF   float64 `json:"magpsf"`
	SigmaPSF float64 `json:"sigmapsf"`

	// DRB is the deep-learning real/bogus score.
	DRB float64 `json:"drb"`

	// JDStartHist is the JD of the object's first detection.
	JDStartHist float64 `json:"jdstarthist"`

	// SGScore is the star-galaxy discriminator of the nearest PS1 source.
	SGScore *float64 `json:"sgscore"`

	// DistPSNR is the distance to the nearest PS1 source in arcsec.
	DistPSNR *float64 `json:"distpsnr"`

	// SSDistNR and SSMagNR locate the nearest known solar-system object.
	SSDistNR *float64 `json:"ssdistnr"`
	SSMagNR  *float64 `json:"ssmagnr"`

	// NDetHist is the detection history count.
	NDetHist int `json:"ndethist"`

	// SRMag, SIMag and SZMag are PS1 star colors, fetched only for the
	// red-star post-filter and never persisted.
	SRMag *float64 `json:"srmag"`
	SIMag *float64 `json:"simag"`
	SZMag *float64 `json:"szmag"`
}
