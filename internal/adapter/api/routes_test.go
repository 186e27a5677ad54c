package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/lawn-watering-advisor/internal/adapter/api"
	"github.com/couchcryptid/lawn-watering-advisor/internal/domain"
	"github.com/couchcryptid/lawn-watering-advisor/internal/observability"
	"github.com/couchcryptid/lawn-watering-advisor/internal/pipeline"
)

type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, postcode string) (domain.ResolvedLocation, error) {
	if postcode != "3000" {
		return domain.ResolvedLocation{}, domain.NewUserError(domain.ErrPostcodeNotFound, domain.MsgPostcodeNotFound, nil)
	}
	return domain.ResolvedLocation{Latitude: -37.8136, Longitude: 144.9631, DisplayName: "MELBOURNE, VIC"}, nil
}

type stubFetcher struct {
	err error
}

func (f stubFetcher) FetchRainfall(_ context.Context, _, _ float64) (domain.PrecipitationSeries, error) {
	if f.err != nil {
		return nil, f.err
	}
	vals := make([]*float64, 9)
	half := 0.5
	for i := 0; i < 4; i++ {
		vals[i] = &half
	}
	return domain.SeriesFromValues(time.Date(2024, 7, 8, 0, 0, 0, 0, time.UTC), vals), nil
}

func newTestApp(t *testing.T, fetcher stubFetcher) (*fiber.App, *pipeline.SessionStore) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, 7, 15, 9, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { domain.SetClock(nil) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	orch := pipeline.New(stubResolver{}, fetcher, pipeline.Options{Location: time.UTC}, logger, metrics)
	sessions := pipeline.NewSessionStore(time.Hour, metrics)
	return api.NewApp(api.Config{}, orch, sessions, logger), sessions
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp, out
}

func TestReferenceData(t *testing.T) {
	app, _ := newTestApp(t, stubFetcher{})

	resp, body := doJSON(t, app, http.MethodGet, "/api/v1/grasses", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["grasses"], 8)
	assert.Equal(t, "buffalo", body["default"])

	resp, body = doJSON(t, app, http.MethodGet, "/api/v1/sprinklers", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	sprinklers, ok := body["sprinklers"].([]any)
	require.True(t, ok)
	require.Len(t, sprinklers, 5)
	first, ok := sprinklers[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Oscillating", first["type"])
	assert.InDelta(t, 0.5, first["mm_per_minute"], 1e-9)

	resp, body = doJSON(t, app, http.MethodGet, "/api/v1/days", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["days"], 7)
	assert.Equal(t, "18:00", body["default_notification_time"])
}

func TestSessionFlow(t *testing.T) {
	app, _ := newTestApp(t, stubFetcher{})

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/sessions", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, ok := body["id"].(string)
	require.True(t, ok)
	assert.Equal(t, "buffalo", body["grass_type"])
	assert.Equal(t, "idle", body["stage"])

	resp, body = doJSON(t, app, http.MethodPost, "/api/v1/sessions/"+id+"/calculate",
		`{"grass_type":"tall_fescue","postcode":"3000","notification_day":"Friday"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "done", body["stage"])
	assert.Equal(t, true, body["show_results"])
	assert.Equal(t, false, body["loading"])
	assert.Equal(t, "Friday", body["notification_day"])
	assert.Equal(t, "Oscillating", body["sprinkler_type"])
	result, ok := body["result"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 15, result["watering_minutes"], 1e-9)
	assert.Equal(t, domain.StatusDry, result["status_text"])

	resp, body = doJSON(t, app, http.MethodGet, "/api/v1/sessions/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "3000", body["postcode"])
	assert.Equal(t, domain.WeatherStationInfo, body["weather_station_info"])
}

func TestSessionCalculate_Errors(t *testing.T) {
	tests := []struct {
		name       string
		fetcher    stubFetcher
		body       string
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "invalid postcode is recorded",
			body:       `{"postcode":"30a0"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantMsg:    domain.MsgInvalidPostcode,
		},
		{
			name:       "unknown postcode",
			body:       `{"postcode":"0800"}`,
			wantStatus: http.StatusNotFound,
			wantMsg:    domain.MsgPostcodeNotFound,
		},
		{
			name:       "weather service error",
			fetcher:    stubFetcher{err: &domain.ServiceError{StatusCode: 500}},
			body:       `{"postcode":"3000"}`,
			wantStatus: http.StatusBadGateway,
			wantMsg:    "Weather service error: 500. Please try again later.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, sessions := newTestApp(t, tt.fetcher)
			sess := sessions.Create()

			resp, body := doJSON(t, app, http.MethodPost, "/api/v1/sessions/"+sess.ID()+"/calculate", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantMsg, body["error_message"])
			assert.Equal(t, "error", body["stage"])
			assert.Equal(t, false, body["loading"])
		})
	}
}

func TestSessionCalculate_RequestValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"unknown grass", `{"postcode":"3000","grass_type":"astroturf"}`, "grass_type"},
		{"unknown sprinkler", `{"postcode":"3000","sprinkler_type":"Hose"}`, "sprinkler_type"},
		{"bad day", `{"postcode":"3000","notification_day":"Someday"}`, "notification_day"},
		{"bad time", `{"postcode":"3000","notification_time":"6pm"}`, "notification_time"},
		{"malformed json", `{"postcode":`, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, sessions := newTestApp(t, stubFetcher{})
			sess := sessions.Create()

			resp, body := doJSON(t, app, http.MethodPost, "/api/v1/sessions/"+sess.ID()+"/calculate", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, true, body["error"])
			assert.Contains(t, body["message"], tt.wantMsg)
			assert.Equal(t, pipeline.StageIdle, sess.Snapshot().Stage)
		})
	}
}

func TestSessionLookup(t *testing.T) {
	app, _ := newTestApp(t, stubFetcher{})

	resp, _ := doJSON(t, app, http.MethodGet, "/api/v1/sessions/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodGet, "/api/v1/sessions/9b2f7d0e-4c1a-4a52-9a7e-3f6d2b8c1e00", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "session not found", body["message"])
}

func TestCalculateOnce(t *testing.T) {
	app, sessions := newTestApp(t, stubFetcher{})

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/calculate",
		`{"grass_type":"tall_fescue","postcode":"3000","sprinkler_type":"Dripline"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec, ok := body["recommendation"].(map[string]any)
	require.True(t, ok)
	// 8mm deficit at 40 minutes per 10mm is 32 minutes, rounded to 30.
	assert.InDelta(t, 30, rec["watering_minutes"], 1e-9)
	assert.Equal(t, "15 Jul 2024", rec["week_ending_label"])
	loc, ok := body["location"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "MELBOURNE, VIC", loc["display_name"])
	assert.Equal(t, 0, sessions.Len())

	resp, body = doJSON(t, app, http.MethodPost, "/api/v1/calculate", `{"postcode":"12"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, domain.MsgInvalidPostcode, body["message"])
}
