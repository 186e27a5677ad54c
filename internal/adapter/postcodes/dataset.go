package postcodes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/couchcryptid/lawn-watering-advisor/internal/domain"
)

// datasetRecord is one row of the public postcode dataset. Numeric fields
// arrive as numbers or strings depending on the row.
type datasetRecord struct {
	Postcode    flexString `json:"postcode"`
	State       string     `json:"state"`
	Locality    string     `json:"locality"`
	Lat         flexFloat  `json:"lat"`
	Long        flexFloat  `json:"long"`
	LatPrecise  flexFloat  `json:"Lat_precise"`
	LongPrecise flexFloat  `json:"Long_precise"`
}

func (r datasetRecord) toEntry() domain.DatasetEntry {
	return domain.DatasetEntry{
		Postcode:    string(r.Postcode),
		State:       r.State,
		Locality:    r.Locality,
		Lat:         r.Lat.v,
		Long:        r.Long.v,
		LatPrecise:  r.LatPrecise.v,
		LongPrecise: r.LongPrecise.v,
	}
}

// parseDataset decodes the raw dataset and filters it into an index.
func parseDataset(data []byte) (domain.PostcodeIndex, error) {
	var records []datasetRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode postcode dataset: %w", err)
	}
	entries := make([]domain.DatasetEntry, len(records))
	for i, r := range records {
		entries[i] = r.toEntry()
	}
	return domain.BuildIndex(entries), nil
}

// flexFloat accepts a JSON number, a numeric string, an empty string, or null.
type flexFloat struct {
	v *float64
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		return nil
	}
	s := string(bytes.Trim(b, `"`))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse coordinate %s: %w", b, err)
	}
	f.v = &v
	return nil
}

// flexString accepts a JSON string or an integer. Integers are zero padded
// to four digits so 800 becomes "0800".
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = flexString(str)
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("parse postcode %s: %w", b, err)
	}
	*s = flexString(fmt.Sprintf("%04d", n))
	return nil
}
