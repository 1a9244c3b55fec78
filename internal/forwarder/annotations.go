package forwarder

import "math"

// AnnotationOrigin marks annotations owned by this pipeline. Other
// origins on the same source are never touched.
const AnnotationOrigin = "ZTF+EP"

// Annotation is one SkyPortal annotation document.
type Annotation struct {
	ID       int64          `json:"id"`
	Origin   string         `json:"origin"`
	AuthorID int64          `json:"author_id"`
	Data     AnnotationData `json:"data"`
}

// AnnotationData is the wire form: parallel lists, one slot per
// annotated event, aligned by index. Fields the catalog had no value
// for carry null, so every slice element is a pointer.
type AnnotationData struct {
	Name           []*string  `json:"name"`
	DeltaT         []*float64 `json:"delta_t"`
	DistanceArcmin []*float64 `json:"distance_arcmin"`
	DRB            []*float64 `json:"drb"`
	Age            []*float64 `json:"age"`
	SGScore        []*float64 `json:"sgscore"`
	DistPSNR       []*float64 `json:"distpsnr"`
	SSDistNR       []*float64 `json:"ssdistnr"`
	SSMagNR        []*float64 `json:"ssmagnr"`
	NDetHist       []*int     `json:"ndethist"`
	EPMJD          []*float64 `json:"ep_mjd"`
}

// AnnotationRecord is one event's entry in decoded form.
type AnnotationRecord struct {
	Name           string
	DeltaT         *float64
	DistanceArcmin *float64
	DRB            *float64
	Age            *float64
	SGScore        *float64
	DistPSNR       *float64
	SSDistNR       *float64
	SSMagNR        *float64
	NDetHist       *int
	EPMJD          *float64
}

// Records decodes the parallel lists into per-event records. The name
// list sets the length; shorter sibling lists read as null.
func (d AnnotationData) Records() []AnnotationRecord {
	records := make([]AnnotationRecord, 0, len(d.Name))

	for i, name := range d.Name {
		if name == nil {
			continue
		}

		records = append(records, AnnotationRecord{
			Name:           *name,
			DeltaT:         floatAt(d.DeltaT, i),
			DistanceArcmin: floatAt(d.DistanceArcmin, i),
			DRB:            floatAt(d.DRB, i),
			Age:            floatAt(d.Age, i),
			SGScore:        floatAt(d.SGScore, i),
			DistPSNR:       floatAt(d.DistPSNR, i),
			SSDistNR:       floatAt(d.SSDistNR, i),
			SSMagNR:        floatAt(d.SSMagNR, i),
			NDetHist:       intAt(d.NDetHist, i),
			EPMJD:          floatAt(d.EPMJD, i),
		})
	}

	return records
}

// EncodeAnnotationData rebuilds the parallel lists from records.
func EncodeAnnotationData(records []AnnotationRecord) AnnotationData {
	data := AnnotationData{
		Name:           make([]*string, len(records)),
		DeltaT:         make([]*float64, len(records)),
		DistanceArcmin: make([]*float64, len(records)),
		DRB:            make([]*float64, len(records)),
		Age:            make([]*float64, len(records)),
		SGScore:        make([]*float64, len(records)),
		DistPSNR:       make([]*float64, len(records)),
		SSDistNR:       make([]*float64, len(records)),
		SSMagNR:        make([]*float64, len(records)),
		NDetHist:       make([]*int, len(records)),
		EPMJD:          make([]*float64, len(records)),
	}

	for i := range records {
		rec := records[i]
		data.Name[i] = &rec.Name
		data.DeltaT[i] = rec.DeltaT
		data.DistanceArcmin[i] = rec.DistanceArcmin
		data.DRB[i] = rec.DRB
		data.Age[i] = rec.Age
		data.SGScore[i] = rec.SGScore
		data.DistPSNR[i] = rec.DistPSNR
		data.SSDistNR[i] = rec.SSDistNR
		data.SSMagNR[i] = rec.SSMagNR
		data.NDetHist[i] = rec.NDetHist
		data.EPMJD[i] = rec.EPMJD
	}

	return data
}

// MergeRecord upserts one event's record into the list, keyed by event
// name.
func MergeRecord(records []AnnotationRecord, rec AnnotationRecord) []AnnotationRecord {
	for i := range records {
		if records[i].Name == rec.Name {
			records[i] = rec

			return records
		}
	}

	return append(records, rec)
}

// Round2 rounds to two decimals, passing nil through.
func Round2(v *float64) *float64 {
	if v == nil {
		return nil
	}

	rounded := math.Round(*v*100) / 100

	return &rounded
}

func floatAt(list []*float64, i int) *float64 {
	if i >= len(list) {
		return nil
	}

	return list[i]
}

func intAt(list []*int, i int) *int {
	if i >= len(list) {
		return nil
	}

	return list[i]
}
