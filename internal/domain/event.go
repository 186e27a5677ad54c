package domain

import "time"

// CalculationInput is what the user submits for a calculation. The
// notification fields are stored and echoed but nothing is scheduled.
type CalculationInput struct {
	Grass            GrassType     `json:"grass_type"`
	Postcode         string        `json:"postcode"`
	Sprinkler        SprinklerType `json:"sprinkler_type"`
	NotificationDay  string        `json:"notification_day"`
	NotificationTime string        `json:"notification_time"`
}

// DefaultInput is the form state of a new session.
func DefaultInput() CalculationInput {
	return CalculationInput{
		Grass:            DefaultGrass,
		Sprinkler:        DefaultSprinkler,
		NotificationDay:  DaysOfWeek[0],
		NotificationTime: DefaultNotificationTime,
	}
}

// RecommendationEvent records a completed calculation for downstream consumers.
type RecommendationEvent struct {
	ID             string                 `json:"id"`
	SessionID      string                 `json:"session_id"`
	Input          CalculationInput       `json:"input"`
	Location       ResolvedLocation       `json:"location"`
	Recommendation WateringRecommendation `json:"recommendation"`
	ComputedAt     time.Time              `json:"computed_at"`
}
