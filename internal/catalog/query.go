package catalog

import (
	"time"

	"github.com/Theodlz/ep-ztf-xmatch/internal/astro"
	"github.com/Theodlz/ep-ztf-xmatch/internal/config"
	"github.com/Theodlz/ep-ztf-xmatch/internal/ep"
)

// AlertCatalog is the catalog collection the matcher queries.
const AlertCatalog = "ZTF_alerts"

// SearchParams holds the cone-search tuning knobs.
type SearchParams struct {
	// DeltaT is the prompt half-window in Julian days.
	DeltaT float64

	// DeltaTArchival is the archival lookback extent in Julian days.
	DeltaTArchival float64

	// RadiusMultiplier scales the positional error into the search radius.
	RadiusMultiplier float64

	// Cuts are the catalog-side quality thresholds.
	Cuts QualityCuts
}

// LoadSearchParams reads the search parameters from the environment, with
// quality-cut overrides from the optional YAML file.
func LoadSearchParams() SearchParams {
	return SearchParams{
		DeltaT:           config.GetEnvFloat("DELTA_T", 1.0),
		DeltaTArchival:   config.GetEnvFloat("DELTA_T_ARCHIVAL", 31.0),
		RadiusMultiplier: config.GetEnvFloat("RADIUS_MULTIPLIER", 1.0),
		Cuts:             LoadQualityCutsFromEnv(),
	}
}

// Window returns the alert time window in JD for an event observed at
// obsStart.
//
// The archival window covers what existed in the cone before the event:
// [jd - DeltaT - DeltaTArchival, jd - DeltaT]. The prompt window covers the
// event and its aftermath: [jd - DeltaT, jd + DeltaTArchival]. An alert at
// exactly jd - DeltaT belongs to both windows; the archival pass runs first,
// and the upsert keeps the row it wrote.
func (p SearchParams) Window(obsStart time.Time, archival bool) (jdStart, jdEnd float64) {
	jd := astro.TimeToJD(obsStart)

	if archival {
		return jd - p.DeltaT - p.DeltaTArchival, jd - p.DeltaT
	}

	return jd - p.DeltaT, jd + p.DeltaTArchival
}

// Radius returns the cone-search radius in arcseconds for an event's
// positional error (degrees).
func (p SearchParams) Radius(posErrDeg float64) float64 {
	return posErrDeg * 3600.0 * p.RadiusMultiplier
}

// ConeSearchQuery is one cone-search request, bound to the event it was
// built for. EventID keys results and failures on the caller's side;
// Label is the wire radec key the catalog echoes back. Both must be
// unique per event, not per name: two versions of one event can sit in
// the same batch with different windows.
type ConeSearchQuery struct {
	EventID int64
	Label   string
	Body    map[string]interface{}
}

// queryLabel builds the wire radec key. (name, version) is unique in the
// events table, so versions of one name stay distinct within a batch.
func queryLabel(event ep.Event) string {
	if event.Version == "" {
		return event.Name
	}

	return event.Name + "_" + event.Version
}

// BuildConeSearch constructs the cone-search query for one event and one
// pass.
//
// The filter applies the catalog-side quality cuts: jd window, rb and drb
// floors, the solar-system disjunction, and the star rejection disjunction.
// The positive-difference (isdiffpos) cut applies to the prompt pass only:
// archival candidates for pre-existing sources are interesting either way.
func BuildConeSearch(event ep.Event, p SearchParams, archival bool) ConeSearchQuery {
	jdStart, jdEnd := p.Window(event.ObsStart, archival)

	filter := map[string]interface{}{
		"candidate.jd": map[string]interface{}{
			"$gte": jdStart,
			"$lte": jdEnd,
		},
		"candidate.rb": map[string]interface{}{
			"$gt": p.Cuts.RBMin,
		},
		"candidate.drb": map[string]interface{}{
			"$gt": p.Cuts.DRBMin,
		},
		"$and": []interface{}{
			// Remove known solar system objects.
			map[string]interface{}{
				"$or": []interface{}{
					map[string]interface{}{"candidate.ssdistnr": map[string]interface{}{"$lt": 0}},
					map[string]interface{}{"candidate.ssdistnr": map[string]interface{}{"$gte": p.Cuts.SSDistMin}},
					map[string]interface{}{"candidate.ssmagnr": map[string]interface{}{"$lte": -p.Cuts.SSMagWindow}},
					map[string]interface{}{"candidate.ssmagnr": map[string]interface{}{"$gte": p.Cuts.SSMagWindow}},
				},
			},
			// Remove known stars based on sgscore and associated distance.
			map[string]interface{}{
				"$or": []interface{}{
					map[string]interface{}{"candidate.sgscore1": map[string]interface{}{"$lt": p.Cuts.SGScoreMax}},
					map[string]interface{}{"candidate.distpsnr1": map[string]interface{}{"$gt": p.Cuts.DistPSNRMax}},
					map[string]interface{}{"candidate.distpsnr1": map[string]interface{}{"$lt": 0}},
				},
			},
		},
	}

	if !archival {
		filter["candidate.isdiffpos"] = map[string]interface{}{
			"$in": []interface{}{"t", "T", "true", "True", true, "1", 1},
		}
	}

	label := queryLabel(event)

	return ConeSearchQuery{
		EventID: event.ID,
		Label:   label,
		Body: map[string]interface{}{
			"query_type": "cone_search",
			"query": map[string]interface{}{
				"object_coordinates": map[string]interface{}{
					"radec": map[string]interface{}{
						label: []interface{}{event.RA, event.Dec},
					},
					"cone_search_radius": p.Radius(event.PosErr),
					"cone_search_unit":   "arcsec",
				},
				"catalogs": map[string]interface{}{
					AlertCatalog: map[string]interface{}{
						"filter":     filter,
						"projection": alertProjection(),
					},
				},
			},
		},
	}
}

// alertProjection flattens the candidate document into the Alert shape.
// The three PS1 color magnitudes exist only to feed the red-star
// post-filter.
func alertProjection() map[string]interface{} {
	return map[string]interface{}{
		"_id":         0,
		"candid":      1,
		"object_id":   "$objectId",
		"jd":          "$candidate.jd",
		"ra":          "$candidate.ra",
		"dec":         "$candidate.dec",
		"fid":         "$candidate.fid",
		"magpsf":      "$candidate.magpsf",
		"sigmapsf":    "$candidate.sigmapsf",
		"drb":         "$candidate.drb",
		"jdstarthist": "$candidate.jdstarthist",
		"sgscore":     "$candidate.sgscore1",
		"distpsnr":    "$candidate.distpsnr1",
		"ssdistnr":    "$candidate.ssdistnr",
		"ssmagnr":     "$candidate.ssmagnr",
		"ndethist":    "$candidate.ndethist",
		"srmag":       "$candidate.srmag1",
		"simag":       "$candidate.simag1",
		"szmag":       "$candidate.szmag1",
	}
}
