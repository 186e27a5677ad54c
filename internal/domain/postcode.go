package domain

import (
	"fmt"
	"strings"
)

// waLatitudeCutoff keeps only the southern part of Western Australia.
const waLatitudeCutoff = -20

// WeatherStationInfo is shown once a postcode resolves.
const WeatherStationInfo = "Nearest weather station data"

// PostcodeRecord is one retained postcode.
type PostcodeRecord struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Locality  string  `json:"locality"`
	State     string  `json:"state"`
}

// PostcodeIndex maps a 4-digit postcode to its record.
type PostcodeIndex map[string]PostcodeRecord

// DatasetEntry is one row of the public postcode dataset. Lat and Long are
// the coarse coordinates; the precise ones win when present.
type DatasetEntry struct {
	Postcode    string
	State       string
	Locality    string
	Lat         *float64
	Long        *float64
	LatPrecise  *float64
	LongPrecise *float64
}

// ResolvedLocation is a postcode turned into coordinates.
type ResolvedLocation struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	DisplayName string  `json:"display_name"`
}

// ValidPostcode reports whether s is exactly four ASCII digits.
func ValidPostcode(s string) bool {
	if len(s) != 4 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// inRegion keeps Victoria, the Northern Territory, and Western Australia
// south of 20°S. The WA test uses the coarse latitude.
func inRegion(e DatasetEntry) bool {
	switch e.State {
	case "VIC", "NT":
		return true
	case "WA":
		return deref(e.Lat) < waLatitudeCutoff
	default:
		return false
	}
}

// BuildIndex filters the dataset to the target region. The first retained
// entry for a postcode wins; entries that fail the region filter do not
// claim the postcode.
func BuildIndex(entries []DatasetEntry) PostcodeIndex {
	idx := make(PostcodeIndex)
	for _, e := range entries {
		if e.Postcode == "" {
			continue
		}
		if _, seen := idx[e.Postcode]; seen {
			continue
		}
		if !inRegion(e) {
			continue
		}
		idx[e.Postcode] = PostcodeRecord{
			Latitude:  firstOf(e.LatPrecise, e.Lat),
			Longitude: firstOf(e.LongPrecise, e.Long),
			Locality:  e.Locality,
			State:     e.State,
		}
	}
	return idx
}

// Resolve looks up postcode. An empty index reports ErrDataUnavailable.
func (idx PostcodeIndex) Resolve(postcode string) (ResolvedLocation, error) {
	if len(idx) == 0 {
		return ResolvedLocation{}, NewUserError(ErrDataUnavailable, MsgIndexNotLoaded, nil)
	}
	rec, ok := idx[strings.TrimSpace(postcode)]
	if !ok {
		return ResolvedLocation{}, NewUserError(ErrPostcodeNotFound, MsgPostcodeNotFound,
			fmt.Errorf("postcode %q", postcode))
	}
	return ResolvedLocation{
		Latitude:    rec.Latitude,
		Longitude:   rec.Longitude,
		DisplayName: fmt.Sprintf("%s, %s", rec.Locality, rec.State),
	}, nil
}

func firstOf(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
