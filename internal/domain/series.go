package domain

import "time"

const (
	// ObservedDays is the number of trailing days compared against the target.
	ObservedDays = 7
	// ForecastDays follows the observed window.
	ForecastDays = 2
	// MinSeriesLength is the shortest series Decide accepts.
	MinSeriesLength = ObservedDays + ForecastDays
	// extendedHistoryDays enables the 14-day winter top-up rule.
	extendedHistoryDays = 14
)

// DailyPrecipitation is one day's rainfall. A nil Millimetres means the
// provider had no reading for that day.
type DailyPrecipitation struct {
	Date        time.Time `json:"date"`
	Millimetres *float64  `json:"mm"`
}

// PrecipitationSeries is ordered oldest first. Indices 0-6 are observed,
// 7-8 are forecast.
type PrecipitationSeries []DailyPrecipitation

// SeriesFromValues builds a series starting at start, one entry per day.
func SeriesFromValues(start time.Time, values []*float64) PrecipitationSeries {
	out := make(PrecipitationSeries, len(values))
	for i, v := range values {
		out[i] = DailyPrecipitation{Date: start.AddDate(0, 0, i), Millimetres: v}
	}
	return out
}

// sum totals entries [from, to), clamped to the series length. Missing
// readings count as zero.
func (s PrecipitationSeries) sum(from, to int) float64 {
	if to > len(s) {
		to = len(s)
	}
	var total float64
	for i := from; i < to; i++ {
		if s[i].Millimetres != nil {
			total += *s[i].Millimetres
		}
	}
	return total
}

// Observed is the trailing seven-day total.
func (s PrecipitationSeries) Observed() float64 {
	return s.sum(0, ObservedDays)
}

// Forecast is the total of the two days after the observed window.
func (s PrecipitationSeries) Forecast() float64 {
	return s.sum(ObservedDays, MinSeriesLength)
}
