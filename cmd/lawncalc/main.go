// Command lawncalc runs a single watering calculation and prints the result.
// It uses the same configuration as the service, so the postcode cache file
// and Open-Meteo settings come from the environment or a .env file.
//
// Usage:
//
//	go run ./cmd/lawncalc -postcode 3000 -grass tall_fescue -sprinkler Impact
//
// -rain supplies the nine daily totals (seven observed, two forecast) and
// skips the weather request. Empty entries are missing days. -date fixes
// "today" for reproducible output.
//
//	go run ./cmd/lawncalc -postcode 3000 -date 2024-07-15 -rain 0.5,0.5,,0,0,0,0,0,0
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/lawn-watering-advisor/internal/adapter/openmeteo"
	"github.com/couchcryptid/lawn-watering-advisor/internal/adapter/postcodes"
	"github.com/couchcryptid/lawn-watering-advisor/internal/adapter/resilient"
	"github.com/couchcryptid/lawn-watering-advisor/internal/config"
	"github.com/couchcryptid/lawn-watering-advisor/internal/domain"
	"github.com/couchcryptid/lawn-watering-advisor/internal/observability"
	"github.com/couchcryptid/lawn-watering-advisor/internal/pipeline"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// options holds the parsed command line.
type options struct {
	input   domain.CalculationInput
	date    string
	rain    string
	envFile string
	asJSON  bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("lawncalc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	grass := fs.String("grass", string(domain.DefaultGrass), "grass type id")
	sprinkler := fs.String("sprinkler", string(domain.DefaultSprinkler), "sprinkler type")
	fs.StringVar(&o.input.Postcode, "postcode", "", "4-digit postcode (required)")
	fs.StringVar(&o.date, "date", "", "treat this YYYY-MM-DD as today")
	fs.StringVar(&o.rain, "rain", "", "comma-separated daily rainfall in mm, skips the weather request")
	fs.StringVar(&o.envFile, "env", ".env", "optional dotenv file")
	fs.BoolVar(&o.asJSON, "json", false, "print the session snapshot as JSON")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.input.Postcode == "" {
		fs.Usage()
		return o, errors.New("-postcode is required")
	}
	if _, ok := domain.LookupGrass(domain.GrassType(*grass)); !ok {
		return o, fmt.Errorf("unknown grass %q", *grass)
	}
	if !domain.KnownSprinkler(domain.SprinklerType(*sprinkler)) {
		return o, fmt.Errorf("unknown sprinkler %q", *sprinkler)
	}
	o.input.Grass = domain.GrassType(*grass)
	o.input.Sprinkler = domain.SprinklerType(*sprinkler)
	o.input.NotificationDay = domain.DaysOfWeek[0]
	o.input.NotificationTime = domain.DefaultNotificationTime
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "lawncalc: %v\n", err)
		return 2
	}

	if err := config.LoadDotEnv(opts.envFile); err != nil {
		fmt.Fprintf(stderr, "lawncalc: %v\n", err)
		return 1
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "lawncalc: load config: %v\n", err)
		return 1
	}
	loc, err := time.LoadLocation(cfg.WeatherTimezone)
	if err != nil {
		fmt.Fprintf(stderr, "lawncalc: %v\n", err)
		return 1
	}

	if opts.date != "" {
		day, err := time.ParseInLocation("2006-01-02", opts.date, loc)
		if err != nil {
			fmt.Fprintf(stderr, "lawncalc: invalid -date: %v\n", err)
			return 2
		}
		domain.SetClock(clockwork.NewFakeClockAt(day.Add(12 * time.Hour)))
		defer domain.SetClock(nil)
	}

	logger := observability.NewStderrLogger(cfg)
	metrics := observability.NewUnregisteredMetrics()

	store := postcodes.NewStore(postcodes.Options{
		DatasetURL: cfg.PostcodeDatasetURL,
		CachePath:  cfg.PostcodeCachePath,
		Timeout:    cfg.PostcodeTimeout,
		Backoff:    resilient.DefaultBackoff,
	}, logger, metrics)

	var fetcher pipeline.RainfallFetcher
	if opts.rain != "" {
		series, err := parseRain(opts.rain, domain.Today(loc))
		if err != nil {
			fmt.Fprintf(stderr, "lawncalc: invalid -rain: %v\n", err)
			return 2
		}
		fetcher = staticRainfall(series)
	} else {
		backoff := resilient.DefaultBackoff
		backoff.MaxRetries = cfg.WeatherMaxRetries
		fetcher = openmeteo.NewClient(openmeteo.Options{
			BaseURL:  cfg.WeatherBaseURL,
			Timezone: cfg.WeatherTimezone,
			Timeout:  cfg.WeatherTimeout,
			Backoff:  backoff,
		}, logger, metrics)
	}

	orch := pipeline.New(store, fetcher, pipeline.Options{Location: loc, Timeout: cfg.CalculateTimeout}, logger, metrics)
	sess := pipeline.NewSession()
	_, calcErr := orch.Calculate(ctx, sess, opts.input)
	st := sess.Snapshot()

	if opts.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			fmt.Fprintf(stderr, "lawncalc: %v\n", err)
			return 1
		}
	} else {
		printReport(stdout, st)
	}
	if calcErr != nil {
		return 1
	}
	return 0
}

func printReport(w io.Writer, st pipeline.SessionState) {
	if st.ErrorMessage != "" {
		fmt.Fprintf(w, "Error: %s\n", st.ErrorMessage)
		return
	}
	rec := st.Result
	fmt.Fprintf(w, "%s (%s)\n", st.Location.DisplayName, st.WeatherStationInfo)
	fmt.Fprintf(w, "Week ending %s, %s\n\n", rec.WeekEndingLabel, rec.Season)
	fmt.Fprintf(w, "  %-22s %6.1f mm\n", "Target", rec.TargetMm)
	fmt.Fprintf(w, "  %-22s %6.1f mm\n", "Rain, last 7 days", rec.ObservedMm)
	fmt.Fprintf(w, "  %-22s %6.1f mm\n", "Deficit", rec.DeficitMm)
	fmt.Fprintf(w, "  %-22s %6.1f mm\n\n", "Forecast, next 48h", rec.Forecast48hMm)
	fmt.Fprintf(w, "%s %s\n", rec.Emoji, rec.StatusText)
	fmt.Fprintf(w, "%s\n", rec.Recommendation)
	fmt.Fprintf(w, "Watering time: %d minutes\n", rec.WateringMinutes)
}

// parseRain builds a series ending with two forecast days after today.
func parseRain(s string, today time.Time) (domain.PrecipitationSeries, error) {
	fields := strings.Split(s, ",")
	values := make([]*float64, len(fields))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("day %d: %w", i+1, err)
		}
		values[i] = &v
	}
	start := today.AddDate(0, 0, -domain.ObservedDays)
	return domain.SeriesFromValues(start, values), nil
}

type staticRainfall domain.PrecipitationSeries

func (s staticRainfall) FetchRainfall(context.Context, float64, float64) (domain.PrecipitationSeries, error) {
	return domain.PrecipitationSeries(s), nil
}
