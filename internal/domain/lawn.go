package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Season is a Southern Hemisphere season.
type Season string

const (
	Spring Season = "spring"
	Summer Season = "summer"
	Autumn Season = "autumn"
	Winter Season = "winter"
)

// SeasonFor maps the month of t to its Southern Hemisphere season.
func SeasonFor(t time.Time) Season {
	switch t.Month() {
	case time.December, time.January, time.February:
		return Summer
	case time.March, time.April, time.May:
		return Autumn
	case time.June, time.July, time.August:
		return Winter
	default:
		return Spring
	}
}

// Title returns the capitalised season name, e.g. "Winter".
func (s Season) Title() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// GrassType identifies a grass species.
type GrassType string

const (
	Buffalo          GrassType = "buffalo"
	Kikuyu           GrassType = "kikuyu"
	CouchBermuda     GrassType = "couch_bermuda"
	Zoysia           GrassType = "zoysia"
	QLDBlueCouch     GrassType = "qld_blue_couch"
	TallFescue       GrassType = "tall_fescue"
	FineFescue       GrassType = "fine_fescue"
	SeashorePaspalum GrassType = "seashore_paspalum"
)

// DefaultGrass is preselected on a new session.
const DefaultGrass = Buffalo

// SeasonalTargets is the weekly rainfall need in mm for each season.
type SeasonalTargets struct {
	Spring float64 `json:"spring"`
	Summer float64 `json:"summer"`
	Autumn float64 `json:"autumn"`
	Winter float64 `json:"winter"`
}

// For returns the target for season s, or 0 for an unknown season.
func (t SeasonalTargets) For(s Season) float64 {
	switch s {
	case Spring:
		return t.Spring
	case Summer:
		return t.Summer
	case Autumn:
		return t.Autumn
	case Winter:
		return t.Winter
	default:
		return 0
	}
}

// GrassProfile is a row of the grass reference table.
type GrassProfile struct {
	ID             GrassType       `json:"id"`
	DisplayName    string          `json:"display_name"`
	ScientificName string          `json:"scientific_name"`
	Targets        SeasonalTargets `json:"targets_mm_per_week"`
}

var grasses = []GrassProfile{
	{Buffalo, "Buffalo (Soft-leaf)", "Stenotaphrum secundatum", SeasonalTargets{20, 25, 15, 0}},
	{Kikuyu, "Kikuyu", "Cenchrus clandestinus", SeasonalTargets{20, 30, 15, 0}},
	{CouchBermuda, "Couch / Bermuda", "Cynodon dactylon", SeasonalTargets{15, 25, 10, 0}},
	{Zoysia, "Zoysia", "Zoysia spp.", SeasonalTargets{20, 25, 15, 0}},
	{QLDBlueCouch, "QLD Blue Couch", "Digitaria didactyla", SeasonalTargets{15, 25, 15, 0}},
	{TallFescue, "Tall Fescue", "Festuca arundinacea", SeasonalTargets{25, 30, 25, 10}},
	{FineFescue, "Fine Fescue", "Festuca spp.", SeasonalTargets{20, 30, 20, 10}},
	{SeashorePaspalum, "Seashore Paspalum", "Paspalum vaginatum", SeasonalTargets{20, 30, 15, 0}},
}

// Grasses returns the grass reference table in display order.
func Grasses() []GrassProfile {
	out := make([]GrassProfile, len(grasses))
	copy(out, grasses)
	return out
}

// LookupGrass finds a grass profile by id.
func LookupGrass(id GrassType) (GrassProfile, bool) {
	for _, g := range grasses {
		if g.ID == id {
			return g, true
		}
	}
	return GrassProfile{}, false
}

// winterDormant grasses use the binary top-up rule in winter.
var winterDormant = map[GrassType]bool{
	Buffalo:          true,
	Kikuyu:           true,
	Zoysia:           true,
	SeashorePaspalum: true,
}

// SprinklerType identifies a sprinkler kind.
type SprinklerType string

const (
	Oscillating SprinklerType = "Oscillating"
	FixedDome   SprinklerType = "Fixed/Dome"
	RotaryGear  SprinklerType = "Rotary/Gear-drive"
	Impact      SprinklerType = "Impact"
	Dripline    SprinklerType = "Dripline"
)

// DefaultSprinkler is preselected on a new session.
const DefaultSprinkler = Oscillating

// defaultSprinklerRate applies to sprinkler types missing from the table.
const defaultSprinklerRate = 20

// SprinklerProfile is a row of the sprinkler reference table. Rate is the
// number of minutes the sprinkler needs to deliver 10mm.
type SprinklerProfile struct {
	Type        SprinklerType `json:"type"`
	Rate        float64       `json:"minutes_per_10mm"`
	DisplayRate float64       `json:"mm_per_minute"`
}

var sprinklerRates = []struct {
	t    SprinklerType
	rate float64
}{
	{Oscillating, 20},
	{FixedDome, 20},
	{RotaryGear, 30},
	{Impact, 25},
	{Dripline, 40},
}

// Sprinklers returns the sprinkler reference table in display order.
func Sprinklers() []SprinklerProfile {
	out := make([]SprinklerProfile, 0, len(sprinklerRates))
	for _, s := range sprinklerRates {
		out = append(out, SprinklerProfile{
			Type:        s.t,
			Rate:        s.rate,
			DisplayRate: roundTo(10/s.rate, 2),
		})
	}
	return out
}

// SprinklerRate returns the rate for t, defaulting to 20 for unknown types.
func SprinklerRate(t SprinklerType) float64 {
	for _, s := range sprinklerRates {
		if s.t == t {
			return s.rate
		}
	}
	return defaultSprinklerRate
}

// KnownSprinkler reports whether t is in the reference table.
func KnownSprinkler(t SprinklerType) bool {
	for _, s := range sprinklerRates {
		if s.t == t {
			return true
		}
	}
	return false
}

// DaysOfWeek lists the notification day choices.
var DaysOfWeek = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// DefaultNotificationTime is preselected on a new session.
const DefaultNotificationTime = "18:00"

// roundTo rounds x to the given decimal places, half to even on the exact
// binary value.
func roundTo(x float64, places int) float64 {
	v, err := strconv.ParseFloat(strconv.FormatFloat(x, 'f', places, 64), 64)
	if err != nil {
		return x
	}
	return v
}

// roundToFive rounds x to the nearest multiple of five, half to even.
func roundToFive(x float64) int {
	return int(5 * math.RoundToEven(x/5))
}
