package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/lawn-watering-advisor/internal/domain"
	"github.com/couchcryptid/lawn-watering-advisor/internal/observability"
)

// LocationResolver maps a postcode to coordinates.
type LocationResolver interface {
	Resolve(ctx context.Context, postcode string) (domain.ResolvedLocation, error)
}

// RainfallFetcher returns the precipitation series around today for a point.
type RainfallFetcher interface {
	FetchRainfall(ctx context.Context, lat, lon float64) (domain.PrecipitationSeries, error)
}

// EventPublisher receives every successful recommendation.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.RecommendationEvent) error
}

// Options tunes an Orchestrator. Zero values fall back to defaults.
type Options struct {
	// Location decides "today" and the season. Defaults to the region zone.
	Location *time.Location
	// Timeout bounds a whole attempt. Zero means no deadline.
	Timeout time.Duration
	// Publisher is optional.
	Publisher EventPublisher
	// PublishTimeout bounds each background publish. Defaults to 5s.
	PublishTimeout time.Duration
}

const defaultPublishTimeout = 5 * time.Second

// Orchestrator runs the resolve, fetch and compute sequence for a session.
type Orchestrator struct {
	resolver  LocationResolver
	fetcher   RainfallFetcher
	publisher EventPublisher
	loc       *time.Location
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics

	publishTimeout time.Duration
	publishing     sync.WaitGroup
}

// New creates an Orchestrator with the given stages and observability.
func New(r LocationResolver, f RainfallFetcher, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Orchestrator {
	loc := opts.Location
	if loc == nil {
		loc = domain.RegionLocation()
	}
	publishTimeout := opts.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}
	return &Orchestrator{
		resolver:       r,
		fetcher:        f,
		publisher:      opts.Publisher,
		loc:            loc,
		timeout:        opts.Timeout,
		logger:         logger,
		metrics:        metrics,
		publishTimeout: publishTimeout,
	}
}

// Wait blocks until background publishes have finished.
func (o *Orchestrator) Wait() {
	o.publishing.Wait()
}

// Calculate validates input, resolves the postcode, fetches rainfall and
// computes a recommendation, committing progress to sess after each stage.
// The returned error carries the message also stored on the session.
//
// Only one attempt may run per session; a concurrent call fails with
// domain.ErrCalculationInProgress and leaves the session untouched.
func (o *Orchestrator) Calculate(ctx context.Context, sess *Session, input domain.CalculationInput) (rec domain.WateringRecommendation, err error) {
	if !sess.begin() {
		o.metrics.Calculations.WithLabelValues("busy").Inc()
		return domain.WateringRecommendation{}, domain.NewUserError(domain.ErrCalculationInProgress, domain.MsgCalculationInProgress, nil)
	}

	start := time.Now()
	o.metrics.CalculationsInFlight.Inc()
	logger := o.logger.With("session_id", sess.ID(), "postcode", input.Postcode)

	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("%v", r)
			logger.Error("calculation panicked", "panic", r, "stack", string(debug.Stack()))
			err = domain.NewUserError(domain.ErrUnexpected, domain.UnexpectedMessage(cause), cause)
			rec = domain.WateringRecommendation{}
			o.fail(sess, err)
		}
		sess.end()
		o.metrics.CalculationsInFlight.Dec()
		o.metrics.Calculations.WithLabelValues(outcome(err)).Inc()
		o.metrics.CalculationDuration.Observe(time.Since(start).Seconds())
	}()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	sess.update(func(st *SessionState) {
		st.CalculationInput = input
		st.Stage = StageValidating
	})
	if !domain.ValidPostcode(input.Postcode) {
		err = domain.NewUserError(domain.ErrValidation, domain.MsgInvalidPostcode, fmt.Errorf("postcode %q", input.Postcode))
		o.fail(sess, err)
		return domain.WateringRecommendation{}, err
	}

	sess.update(func(st *SessionState) {
		st.Loading = true
		st.ErrorMessage = ""
		st.ShowResults = false
		st.Stage = StageResolvingLocation
	})

	loc, err := o.resolve(ctx, input.Postcode)
	if err != nil {
		logger.Warn("resolve location failed", "error", err)
		sess.update(func(st *SessionState) {
			st.Location = nil
			st.WeatherStationInfo = ""
		})
		o.fail(sess, err)
		return domain.WateringRecommendation{}, err
	}
	sess.update(func(st *SessionState) {
		st.Location = &loc
		st.WeatherStationInfo = domain.WeatherStationInfo
		st.Stage = StageFetchingWeather
	})

	series, err := o.fetch(ctx, loc)
	if err != nil {
		logger.Warn("fetch rainfall failed", "error", err, "lat", loc.Latitude, "lon", loc.Longitude)
		o.fail(sess, err)
		return domain.WateringRecommendation{}, err
	}
	sess.update(func(st *SessionState) { st.Stage = StageComputing })

	rec, err = o.compute(input, series)
	if err != nil {
		logger.Warn("compute recommendation failed", "error", err, "days", len(series))
		o.fail(sess, err)
		return domain.WateringRecommendation{}, err
	}
	sess.update(func(st *SessionState) {
		st.Result = &rec
		st.ShowResults = true
		st.Loading = false
		st.Stage = StageDone
	})

	logger.Info("recommendation computed",
		"status", rec.StatusText,
		"season", rec.Season,
		"deficit_mm", rec.DeficitMm,
		"minutes", rec.WateringMinutes,
	)
	o.publish(ctx, sess.ID(), input, loc, rec, logger)
	return rec, nil
}

func (o *Orchestrator) resolve(ctx context.Context, postcode string) (domain.ResolvedLocation, error) {
	defer o.observeStage("resolve", time.Now())
	return o.resolver.Resolve(ctx, postcode)
}

func (o *Orchestrator) fetch(ctx context.Context, loc domain.ResolvedLocation) (domain.PrecipitationSeries, error) {
	defer o.observeStage("fetch", time.Now())
	return o.fetcher.FetchRainfall(ctx, loc.Latitude, loc.Longitude)
}

func (o *Orchestrator) compute(input domain.CalculationInput, series domain.PrecipitationSeries) (domain.WateringRecommendation, error) {
	defer o.observeStage("compute", time.Now())
	return domain.Decide(input.Grass, input.Sprinkler, domain.Today(o.loc), series)
}

func (o *Orchestrator) observeStage(stage string, start time.Time) {
	o.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// publish is best effort and runs in the background, so neither the caller
// nor the session waits on the broker. The context keeps the caller's values
// but not its cancellation.
func (o *Orchestrator) publish(ctx context.Context, sessionID string, input domain.CalculationInput, loc domain.ResolvedLocation, rec domain.WateringRecommendation, logger *slog.Logger) {
	if o.publisher == nil {
		return
	}
	event := domain.RecommendationEvent{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Input:          input,
		Location:       loc,
		Recommendation: rec,
		ComputedAt:     domain.Now(),
	}

	o.publishing.Add(1)
	go func() {
		defer o.publishing.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.publishTimeout)
		defer cancel()
		if err := o.publisher.Publish(pctx, event); err != nil {
			logger.Warn("publish recommendation failed", "error", err, "event_id", event.ID)
		}
	}()
}

func (o *Orchestrator) fail(sess *Session, err error) {
	msg := domain.UserMessage(err)
	sess.update(func(st *SessionState) {
		st.ErrorMessage = msg
		st.ShowResults = false
		st.Loading = false
		st.Stage = StageError
	})
}

// outcome maps an attempt's error to the calculations_total label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrPostcodeNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrDataUnavailable),
		errors.Is(err, domain.ErrDataMissing),
		errors.Is(err, domain.ErrDataCorrupt):
		return "data_unavailable"
	case errors.Is(err, domain.ErrService):
		return "service_error"
	case errors.Is(err, domain.ErrConnectivity):
		return "connectivity"
	case errors.Is(err, domain.ErrInsufficientData):
		return "insufficient_data"
	default:
		return "unexpected"
	}
}
