// Package openmeteo fetches daily precipitation from the Open-Meteo forecast API.
package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/lawn-watering-advisor/internal/adapter/resilient"
	"github.com/couchcryptid/lawn-watering-advisor/internal/domain"
	"github.com/couchcryptid/lawn-watering-advisor/internal/observability"
)

const (
	defaultBaseURL = "https://api.open-meteo.com/v1/forecast"
	dateLayout     = "2006-01-02"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timezone   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Backoff    resilient.Backoff
}

// Client requests seven past days and two forecast days of precipitation.
type Client struct {
	baseURL  string
	timezone string
	location *time.Location
	timeout  time.Duration
	http     *resilient.Client
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewClient creates an Open-Meteo client.
func NewClient(opts Options, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timezone == "" {
		opts.Timezone = domain.RegionTimezone
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	loc, err := time.LoadLocation(opts.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return &Client{
		baseURL:  opts.BaseURL,
		timezone: opts.Timezone,
		location: loc,
		timeout:  opts.Timeout,
		http:     resilient.New("openmeteo", httpClient, opts.Backoff, logger),
		logger:   logger,
		metrics:  metrics,
	}
}

// response is the subset of the forecast payload we read. The rest of the
// metadata is ignored.
type response struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
	Daily     struct {
		Time             []string   `json:"time"`
		PrecipitationSum []*float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

// FetchRainfall returns the daily precipitation series around today. A non-2xx
// response yields *domain.ServiceError; anything else that goes wrong is a
// connectivity error.
func (c *Client) FetchRainfall(ctx context.Context, lat, lon float64) (domain.PrecipitationSeries, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(lat, lon), nil)
	})
	c.metrics.RainfallAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		var se *resilient.StatusError
		if errors.As(err, &se) {
			c.metrics.RainfallRequests.WithLabelValues("service_error").Inc()
			c.logger.Warn("weather service error", "status", se.StatusCode, "body", se.Body)
			return nil, fmt.Errorf("fetch rainfall: %w", &domain.ServiceError{StatusCode: se.StatusCode})
		}
		return nil, c.connectivity(err)
	}
	defer resp.Body.Close()

	var payload response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, c.connectivity(fmt.Errorf("decode response: %w", err))
	}

	c.metrics.RainfallRequests.WithLabelValues("success").Inc()
	return c.toSeries(payload), nil
}

func (c *Client) requestURL(lat, lon float64) string {
	params := url.Values{
		"latitude":      {strconv.FormatFloat(lat, 'f', -1, 64)},
		"longitude":     {strconv.FormatFloat(lon, 'f', -1, 64)},
		"daily":         {"precipitation_sum"},
		"past_days":     {strconv.Itoa(domain.ObservedDays)},
		"forecast_days": {strconv.Itoa(domain.ForecastDays)},
		"timezone":      {c.timezone},
	}
	return c.baseURL + "?" + params.Encode()
}

// toSeries pairs each reading with its date. Missing or unparsable dates are
// left zero; the engine only reads positions.
func (c *Client) toSeries(p response) domain.PrecipitationSeries {
	series := make(domain.PrecipitationSeries, len(p.Daily.PrecipitationSum))
	for i, mm := range p.Daily.PrecipitationSum {
		series[i].Millimetres = mm
		if i < len(p.Daily.Time) {
			if d, err := time.ParseInLocation(dateLayout, p.Daily.Time[i], c.location); err == nil {
				series[i].Date = d
			}
		}
	}
	return series
}

func (c *Client) connectivity(err error) error {
	c.metrics.RainfallRequests.WithLabelValues("connectivity").Inc()
	c.logger.Warn("weather service unreachable", "error", err)
	return domain.NewUserError(domain.ErrConnectivity, domain.MsgConnectivity, err)
}
