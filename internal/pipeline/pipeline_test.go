package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/lawn-watering-advisor/internal/domain"
	"github.com/couchcryptid/lawn-watering-advisor/internal/observability"
	"github.com/couchcryptid/lawn-watering-advisor/internal/pipeline"
)

// --- mocks ---

type mockResolver struct {
	locations map[string]domain.ResolvedLocation
	err       error
	panicMsg  string
	calls     atomic.Int64
}

func (m *mockResolver) Resolve(_ context.Context, postcode string) (domain.ResolvedLocation, error) {
	m.calls.Add(1)
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	if m.err != nil {
		return domain.ResolvedLocation{}, m.err
	}
	loc, ok := m.locations[postcode]
	if !ok {
		return domain.ResolvedLocation{}, domain.NewUserError(domain.ErrPostcodeNotFound, domain.MsgPostcodeNotFound, nil)
	}
	return loc, nil
}

type mockFetcher struct {
	series  domain.PrecipitationSeries
	err     error
	calls   atomic.Int64
	started chan struct{}
	release chan struct{}
}

func (m *mockFetcher) FetchRainfall(ctx context.Context, _, _ float64) (domain.PrecipitationSeries, error) {
	m.calls.Add(1)
	if m.started != nil {
		close(m.started)
	}
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.series, nil
}

// blockingPublisher holds every Publish until release is closed or the
// publish context ends.
type blockingPublisher struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32

	mu   sync.Mutex
	errs []error
}

func (b *blockingPublisher) Publish(ctx context.Context, _ domain.RecommendationEvent) error {
	b.calls.Add(1)
	b.started <- struct{}{}
	var err error
	select {
	case <-b.release:
	case <-ctx.Done():
		err = ctx.Err()
	}
	b.mu.Lock()
	b.errs = append(b.errs, err)
	b.mu.Unlock()
	return err
}

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.RecommendationEvent
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, event domain.RecommendationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

// --- helpers ---

var (
	melbourne = domain.ResolvedLocation{Latitude: -37.8136, Longitude: 144.9631, DisplayName: "MELBOURNE, VIC"}
	winterNow = time.Date(2024, time.July, 15, 9, 0, 0, 0, time.UTC)
)

func freezeClock(t *testing.T) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(winterNow))
	t.Cleanup(func() { domain.SetClock(nil) })
}

func dryWeek() domain.PrecipitationSeries {
	vals := []float64{0.5, 0.5, 0.5, 0.5, 0, 0, 0, 0, 0}
	ptrs := make([]*float64, len(vals))
	for i := range vals {
		v := vals[i]
		ptrs[i] = &v
	}
	return domain.SeriesFromValues(winterNow.AddDate(0, 0, -7), ptrs)
}

func fescueInput(postcode string) domain.CalculationInput {
	in := domain.DefaultInput()
	in.Grass = domain.TallFescue
	in.Postcode = postcode
	return in
}

func newOrchestrator(r pipeline.LocationResolver, f pipeline.RainfallFetcher, opts pipeline.Options, metrics *observability.Metrics) *pipeline.Orchestrator {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return pipeline.New(r, f, opts, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)
}

// --- tests ---

func TestCalculate_HappyPath(t *testing.T) {
	freezeClock(t)
	resolver := &mockResolver{locations: map[string]domain.ResolvedLocation{"3000": melbourne}}
	fetcher := &mockFetcher{series: dryWeek()}
	pub := &mockPublisher{}
	metrics := observability.NewMetricsForTesting()
	o := newOrchestrator(resolver, fetcher, pipeline.Options{Publisher: pub}, metrics)

	sess := pipeline.NewSession()
	rec, err := o.Calculate(context.Background(), sess, fescueInput("3000"))
	require.NoError(t, err)

	assert.Equal(t, 15, rec.WateringMinutes)
	assert.Equal(t, domain.StatusDry, rec.StatusText)
	assert.Equal(t, "Winter", rec.Season)

	st := sess.Snapshot()
	assert.False(t, st.Loading)
	assert.True(t, st.ShowResults)
	assert.Empty(t, st.ErrorMessage)
	assert.Equal(t, pipeline.StageDone, st.Stage)
	require.NotNil(t, st.Location)
	assert.Equal(t, "MELBOURNE, VIC", st.Location.DisplayName)
	assert.Equal(t, domain.WeatherStationInfo, st.WeatherStationInfo)
	require.NotNil(t, st.Result)
	assert.Equal(t, rec, *st.Result)
	assert.Equal(t, domain.TallFescue, st.Grass)

	o.Wait()
	require.Len(t, pub.events, 1)
	assert.Equal(t, sess.ID(), pub.events[0].SessionID)
	assert.NotEmpty(t, pub.events[0].ID)
	assert.Equal(t, rec, pub.events[0].Recommendation)
	assert.True(t, winterNow.Equal(pub.events[0].ComputedAt))

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Calculations.WithLabelValues("success")), 1e-9)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.CalculationsInFlight), 1e-9)
}

func TestCalculate_InvalidPostcodeDoesNoIO(t *testing.T) {
	tests := []struct {
		name     string
		postcode string
	}{
		{"empty", ""},
		{"too short", "300"},
		{"too long", "30000"},
		{"letters", "3a00"},
		{"whitespace", " 300"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &mockResolver{}
			fetcher := &mockFetcher{}
			metrics := observability.NewMetricsForTesting()
			o := newOrchestrator(resolver, fetcher, pipeline.Options{}, metrics)

			sess := pipeline.NewSession()
			_, err := o.Calculate(context.Background(), sess, fescueInput(tt.postcode))
			require.ErrorIs(t, err, domain.ErrValidation)

			st := sess.Snapshot()
			assert.Equal(t, domain.MsgInvalidPostcode, st.ErrorMessage)
			assert.Equal(t, pipeline.StageError, st.Stage)
			assert.False(t, st.Loading)
			assert.Equal(t, tt.postcode, st.Postcode)
			assert.Zero(t, resolver.calls.Load())
			assert.Zero(t, fetcher.calls.Load())
			assert.InDelta(t, 1, testutil.ToFloat64(metrics.Calculations.WithLabelValues("validation")), 1e-9)
		})
	}
}

func TestCalculate_UnknownPostcodeSkipsWeather(t *testing.T) {
	resolver := &mockResolver{locations: map[string]domain.ResolvedLocation{"3000": melbourne}}
	fetcher := &mockFetcher{series: dryWeek()}
	o := newOrchestrator(resolver, fetcher, pipeline.Options{}, observability.NewMetricsForTesting())

	sess := pipeline.NewSession()
	_, err := o.Calculate(context.Background(), sess, fescueInput("9999"))
	require.ErrorIs(t, err, domain.ErrPostcodeNotFound)

	st := sess.Snapshot()
	assert.Equal(t, domain.MsgPostcodeNotFound, st.ErrorMessage)
	assert.Nil(t, st.Location)
	assert.Empty(t, st.WeatherStationInfo)
	assert.False(t, st.Loading)
	assert.False(t, st.ShowResults)
	assert.Zero(t, fetcher.calls.Load())
}

func TestCalculate_StageFailures(t *testing.T) {
	tests := []struct {
		name     string
		resolver *mockResolver
		fetcher  *mockFetcher
		wantErr  error
		wantMsg  string
		outcome  string
	}{
		{
			name:     "index not loaded",
			resolver: &mockResolver{err: domain.NewUserError(domain.ErrDataUnavailable, domain.MsgIndexNotLoaded, errors.New("download failed"))},
			fetcher:  &mockFetcher{},
			wantErr:  domain.ErrDataUnavailable,
			wantMsg:  domain.MsgIndexNotLoaded,
			outcome:  "data_unavailable",
		},
		{
			name:     "weather service error",
			resolver: &mockResolver{locations: map[string]domain.ResolvedLocation{"3000": melbourne}},
			fetcher:  &mockFetcher{err: &domain.ServiceError{StatusCode: 503}},
			wantErr:  domain.ErrService,
			wantMsg:  "Weather service error: 503. Please try again later.",
			outcome:  "service_error",
		},
		{
			name:     "connectivity",
			resolver: &mockResolver{locations: map[string]domain.ResolvedLocation{"3000": melbourne}},
			fetcher:  &mockFetcher{err: domain.NewUserError(domain.ErrConnectivity, domain.MsgConnectivity, errors.New("dial tcp: refused"))},
			wantErr:  domain.ErrConnectivity,
			wantMsg:  domain.MsgConnectivity,
			outcome:  "connectivity",
		},
		{
			name:     "short series",
			resolver: &mockResolver{locations: map[string]domain.ResolvedLocation{"3000": melbourne}},
			fetcher:  &mockFetcher{series: dryWeek()[:8]},
			wantErr:  domain.ErrInsufficientData,
			wantMsg:  domain.MsgInsufficientData,
			outcome:  "insufficient_data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			freezeClock(t)
			pub := &mockPublisher{}
			metrics := observability.NewMetricsForTesting()
			o := newOrchestrator(tt.resolver, tt.fetcher, pipeline.Options{Publisher: pub}, metrics)

			sess := pipeline.NewSession()
			_, err := o.Calculate(context.Background(), sess, fescueInput("3000"))
			require.ErrorIs(t, err, tt.wantErr)

			st := sess.Snapshot()
			assert.Equal(t, tt.wantMsg, st.ErrorMessage)
			assert.Equal(t, pipeline.StageError, st.Stage)
			assert.False(t, st.Loading)
			assert.False(t, st.ShowResults)
			assert.Nil(t, st.Result)
			assert.Empty(t, pub.events)
			assert.InDelta(t, 1, testutil.ToFloat64(metrics.Calculations.WithLabelValues(tt.outcome)), 1e-9)
		})
	}
}

func TestCalculate_PanicIsRecovered(t *testing.T) {
	resolver := &mockResolver{panicMsg: "index exploded"}
	metrics := observability.NewMetricsForTesting()
	o := newOrchestrator(resolver, &mockFetcher{}, pipeline.Options{}, metrics)

	sess := pipeline.NewSession()
	_, err := o.Calculate(context.Background(), sess, fescueInput("3000"))
	require.ErrorIs(t, err, domain.ErrUnexpected)

	st := sess.Snapshot()
	assert.Equal(t, "An unexpected error occurred: index exploded", st.ErrorMessage)
	assert.False(t, st.Loading)
	assert.False(t, sess.Running())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Calculations.WithLabelValues("unexpected")), 1e-9)
}

func TestCalculate_NewAttemptClearsPreviousError(t *testing.T) {
	freezeClock(t)
	resolver := &mockResolver{locations: map[string]domain.ResolvedLocation{"3000": melbourne}}
	o := newOrchestrator(resolver, &mockFetcher{series: dryWeek()}, pipeline.Options{}, observability.NewMetricsForTesting())
	sess := pipeline.NewSession()

	_, err := o.Calculate(context.Background(), sess, fescueInput("12"))
	require.Error(t, err)
	require.NotEmpty(t, sess.Snapshot().ErrorMessage)

	_, err = o.Calculate(context.Background(), sess, fescueInput("3000"))
	require.NoError(t, err)
	st := sess.Snapshot()
	assert.Empty(t, st.ErrorMessage)
	assert.True(t, st.ShowResults)
}

func TestCalculate_FailureHidesPreviousResult(t *testing.T) {
	freezeClock(t)
	resolver := &mockResolver{locations: map[string]domain.ResolvedLocation{"3000": melbourne}}
	fetcher := &mockFetcher{series: dryWeek()}
	o := newOrchestrator(resolver, fetcher, pipeline.Options{}, observability.NewMetricsForTesting())
	sess := pipeline.NewSession()

	_, err := o.Calculate(context.Background(), sess, fescueInput("3000"))
	require.NoError(t, err)

	fetcher.err = &domain.ServiceError{StatusCode: 500}
	_, err = o.Calculate(context.Background(), sess, fescueInput("3000"))
	require.Error(t, err)
	assert.False(t, sess.Snapshot().ShowResults)
}

func TestCalculate_ConcurrentAttemptRejected(t *testing.T) {
	freezeClock(t)
	resolver := &mockResolver{locations: map[string]domain.ResolvedLocation{"3000": melbourne}}
	fetcher := &mockFetcher{series: dryWeek(), started: make(chan struct{}), release: make(chan struct{})}
	metrics := observability.NewMetricsForTesting()
	o := newOrchestrator(resolver, fetcher, pipeline.Options{}, metrics)
	sess := pipeline.NewSession()

	done := make(chan error, 1)
	go func() {
		_, err := o.Calculate(context.Background(), sess, fescueInput("3000"))
		done <- err
	}()

	<-fetcher.started
	assert.True(t, sess.Snapshot().Loading)
	assert.Equal(t, pipeline.StageFetchingWeather, sess.Snapshot().Stage)

	_, err := o.Calculate(context.Background(), sess, fescueInput("3001"))
	require.ErrorIs(t, err, domain.ErrCalculationInProgress)
	assert.Equal(t, "3000", sess.Snapshot().Postcode)

	close(fetcher.release)
	require.NoError(t, <-done)
	assert.False(t, sess.Snapshot().Loading)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Calculations.WithLabelValues("busy")), 1e-9)
}

func TestCalculate_Timeout(t *testing.T) {
	resolver := &mockResolver{locations: map[string]domain.ResolvedLocation{"3000": melbourne}}
	fetcher := &mockFetcher{release: make(chan struct{})}
	o := newOrchestrator(resolver, fetcher, pipeline.Options{Timeout: 50 * time.Millisecond}, observability.NewMetricsForTesting())
	sess := pipeline.NewSession()

	_, err := o.Calculate(context.Background(), sess, fescueInput("3000"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	st := sess.Snapshot()
	assert.False(t, st.Loading)
	assert.Equal(t, pipeline.StageError, st.Stage)
	assert.NotEmpty(t, st.ErrorMessage)
}

func TestCalculate_PublishFailureIsNotFatal(t *testing.T) {
	freezeClock(t)
	resolver := &mockResolver{locations: map[string]domain.ResolvedLocation{"3000": melbourne}}
	pub := &mockPublisher{err: errors.New("broker down")}
	o := newOrchestrator(resolver, &mockFetcher{series: dryWeek()}, pipeline.Options{Publisher: pub}, observability.NewMetricsForTesting())
	sess := pipeline.NewSession()

	_, err := o.Calculate(context.Background(), sess, fescueInput("3000"))
	require.NoError(t, err)
	o.Wait()
	assert.True(t, sess.Snapshot().ShowResults)
}

func TestCalculate_SlowBrokerDoesNotHoldSession(t *testing.T) {
	freezeClock(t)
	resolver := &mockResolver{locations: map[string]domain.ResolvedLocation{"3000": melbourne}}
	pub := &blockingPublisher{started: make(chan struct{}, 2), release: make(chan struct{})}
	o := newOrchestrator(resolver, &mockFetcher{series: dryWeek()}, pipeline.Options{Publisher: pub, PublishTimeout: time.Minute}, observability.NewMetricsForTesting())
	sess := pipeline.NewSession()

	done := make(chan error, 1)
	go func() {
		_, err := o.Calculate(context.Background(), sess, fescueInput("3000"))
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Calculate waited on the publisher")
	}
	<-pub.started

	st := sess.Snapshot()
	assert.Equal(t, pipeline.StageDone, st.Stage)
	assert.True(t, st.ShowResults)
	assert.False(t, sess.Running())

	_, err := o.Calculate(context.Background(), sess, fescueInput("3000"))
	require.NoError(t, err)
	<-pub.started

	close(pub.release)
	o.Wait()
	assert.Equal(t, int32(2), pub.calls.Load())
}

func TestCalculate_PublishOutlivesCallerContext(t *testing.T) {
	freezeClock(t)
	resolver := &mockResolver{locations: map[string]domain.ResolvedLocation{"3000": melbourne}}
	pub := &blockingPublisher{started: make(chan struct{}, 1), release: make(chan struct{})}
	o := newOrchestrator(resolver, &mockFetcher{series: dryWeek()}, pipeline.Options{Publisher: pub, PublishTimeout: 20 * time.Millisecond}, observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	_, err := o.Calculate(ctx, pipeline.NewSession(), fescueInput("3000"))
	require.NoError(t, err)
	cancel()
	<-pub.started

	o.Wait()
	require.Len(t, pub.errs, 1)
	require.ErrorIs(t, pub.errs[0], context.DeadlineExceeded)
}
