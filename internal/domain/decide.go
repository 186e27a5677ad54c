package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// WeekEndingLayout formats WateringRecommendation.WeekEndingLabel.
const WeekEndingLayout = "02 Jan 2006"

// Status labels.
const (
	StatusHeavyRain = "Heavy Rain - Skip"
	StatusLightRain = "Light Rain - Monitor"
	StatusVeryDry   = "Very Dry - Deep Water"
	StatusDry       = "Dry - Water Needed"
	StatusAllGood   = "All Good"
)

const splitAdvice = " Consider splitting this into two shorter sessions to improve absorption."

const (
	heavyRainForecastMm = 25
	lightRainForecastMm = 5
	monitorBandMm       = 3
	deepWaterDeficitMm  = 15
	winterTopUpMm       = 5.0
	longSessionMinutes  = 45
)

// WateringRecommendation is the result of a decision. Millimetre values are
// rounded to one decimal place and WateringMinutes is a multiple of five.
type WateringRecommendation struct {
	WeekEnding      time.Time `json:"week_ending"`
	WeekEndingLabel string    `json:"week_ending_label"`
	Season          string    `json:"season"`
	TargetMm        float64   `json:"target_mm"`
	ObservedMm      float64   `json:"observed_mm"`
	DeficitMm       float64   `json:"deficit_mm"`
	Forecast48hMm   float64   `json:"forecast_48h_mm"`
	WateringMinutes int       `json:"watering_minutes"`
	Emoji           string    `json:"emoji"`
	StatusText      string    `json:"status_text"`
	Recommendation  string    `json:"recommendation"`
}

// Decide computes the watering recommendation for a week. An unknown grass
// has a zero target and an unknown sprinkler uses the default rate.
func Decide(grass GrassType, sprinkler SprinklerType, today time.Time, series PrecipitationSeries) (WateringRecommendation, error) {
	if len(series) < MinSeriesLength {
		return WateringRecommendation{}, NewUserError(ErrInsufficientData, MsgInsufficientData,
			fmt.Errorf("got %d days, need %d", len(series), MinSeriesLength))
	}

	season := SeasonFor(today)
	var target float64
	if profile, ok := LookupGrass(grass); ok {
		target = profile.Targets.For(season)
	}

	observed := series.Observed()
	deficit := deficitFor(grass, season, target, observed, series)
	forecast := series.Forecast()

	rawMinutes := deficit * (SprinklerRate(sprinkler) / 10.0)
	minutes := roundToFive(rawMinutes)

	var emoji, status, message string
	switch {
	case forecast >= heavyRainForecastMm || (target > 0 && observed >= target):
		emoji, status = "🌧️", StatusHeavyRain
		message = "Nature's got it covered. No watering needed this week."
		minutes = 0
	case (forecast >= lightRainForecastMm && forecast < heavyRainForecastMm) ||
		(target > 0 && math.Abs(target-observed) <= monitorBandMm):
		emoji, status = "🌦️", StatusLightRain
		message = "Monitor your lawn. Watering may not be necessary."
		minutes = roundToFive(float64(minutes) / 2)
	case deficit > deepWaterDeficitMm && forecast < lightRainForecastMm:
		emoji, status = "🔥", StatusVeryDry
		message = fmt.Sprintf("A deep watering is needed. Water for %d minutes.", minutes)
	case deficit > 0:
		emoji, status = "☀️", StatusDry
		message = fmt.Sprintf("Your lawn is thirsty. Water for %d minutes.", minutes)
	default:
		emoji, status = "✅", StatusAllGood
		message = "Your lawn has received enough water recently."
		minutes = 0
	}

	if minutes > longSessionMinutes && !strings.Contains(message, "split") {
		message += splitAdvice
	}

	return WateringRecommendation{
		WeekEnding:      today,
		WeekEndingLabel: today.Format(WeekEndingLayout),
		Season:          season.Title(),
		TargetMm:        roundTo(target, 1),
		ObservedMm:      roundTo(observed, 1),
		DeficitMm:       roundTo(deficit, 1),
		Forecast48hMm:   roundTo(forecast, 1),
		WateringMinutes: minutes,
		Emoji:           emoji,
		StatusText:      status,
		Recommendation:  message,
	}, nil
}

func deficitFor(grass GrassType, season Season, target, observed float64, series PrecipitationSeries) float64 {
	if winterDormant[grass] && season == Winter {
		if len(series) >= extendedHistoryDays {
			if series.sum(0, extendedHistoryDays) < 10 {
				return winterTopUpMm
			}
			return 0
		}
		if observed < winterTopUpMm {
			return winterTopUpMm
		}
		return 0
	}
	// Fine fescue in winter takes the general formula along with every
	// other grass and season.
	return math.Max(0, target-observed)
}
