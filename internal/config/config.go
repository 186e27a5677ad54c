package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

const (
	defaultDatasetURL = "https://raw.githubusercontent.com/matthewproctor/australianpostcodes/master/australian_postcodes.json"
	defaultWeatherURL = "https://api.open-meteo.com/v1/forecast"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	APIAddr         string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Postcode index.
	PostcodeDatasetURL string
	PostcodeCachePath  string
	PostcodeTimeout    time.Duration

	// Weather provider.
	WeatherBaseURL    string
	WeatherTimezone   string
	WeatherTimeout    time.Duration
	WeatherMaxRetries int // opt-in; zero reports failures straight back

	CalculateTimeout time.Duration
	SessionTTL       time.Duration

	// Rainfall cache. A zero TTL disables caching; RedisAddr selects Redis
	// over the in-memory LRU.
	RainfallCacheSize int
	RainfallCacheTTL  time.Duration
	RedisAddr         string
	RedisPassword     string
	RedisDB           int

	// Recommendation events.
	KafkaBrokers []string
	KafkaTopic   string
	KafkaEnabled bool

	// KafkaPublishTimeout bounds each background publish.
	KafkaPublishTimeout time.Duration
}

// LoadDotEnv loads variables from the given files (default ".env") without
// overriding ones already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		APIAddr:         sharedcfg.EnvOrDefault("API_ADDR", ":8080"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":9090"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		PostcodeDatasetURL: sharedcfg.EnvOrDefault("POSTCODE_DATASET_URL", defaultDatasetURL),
		PostcodeCachePath:  sharedcfg.EnvOrDefault("POSTCODE_CACHE_PATH", "assets/postcodes.json"),

		WeatherBaseURL:  sharedcfg.EnvOrDefault("OPEN_METEO_URL", defaultWeatherURL),
		WeatherTimezone: sharedcfg.EnvOrDefault("WEATHER_TIMEZONE", "Australia/Melbourne"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		KafkaTopic: sharedcfg.EnvOrDefault("KAFKA_TOPIC", "lawn-recommendations"),
	}

	for _, d := range []struct {
		key       string
		dst       *time.Duration
		def       string
		allowZero bool
	}{
		{"POSTCODE_TIMEOUT", &cfg.PostcodeTimeout, "30s", false},
		{"WEATHER_TIMEOUT", &cfg.WeatherTimeout, "15s", false},
		{"CALCULATE_TIMEOUT", &cfg.CalculateTimeout, "30s", false},
		{"SESSION_TTL", &cfg.SessionTTL, "24h", false},
		{"RAINFALL_CACHE_TTL", &cfg.RainfallCacheTTL, "30m", true},
		{"KAFKA_PUBLISH_TIMEOUT", &cfg.KafkaPublishTimeout, "5s", false},
	} {
		if *d.dst, err = parseDuration(d.key, d.def, d.allowZero); err != nil {
			return nil, err
		}
	}

	if cfg.WeatherMaxRetries, err = parseInt("WEATHER_MAX_RETRIES", 0, 0, 10); err != nil {
		return nil, err
	}
	if cfg.RainfallCacheSize, err = parseInt("RAINFALL_CACHE_SIZE", 256, 1, 1_000_000); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = parseInt("REDIS_DB", 0, 0, 15); err != nil {
		return nil, err
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(v)
	}
	cfg.KafkaEnabled = len(cfg.KafkaBrokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		cfg.KafkaEnabled = v == "true"
	}

	if cfg.CalculateTimeout < cfg.WeatherTimeout {
		return nil, errors.New("CALCULATE_TIMEOUT must not be shorter than WEATHER_TIMEOUT")
	}
	if _, err := time.LoadLocation(cfg.WeatherTimezone); err != nil {
		return nil, fmt.Errorf("invalid WEATHER_TIMEZONE: %w", err)
	}
	if cfg.PostcodeCachePath == "" {
		return nil, errors.New("POSTCODE_CACHE_PATH is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required")
	}

	return cfg, nil
}

func parseDuration(key, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be an integer between %d and %d", key, lo, hi)
	}
	return n, nil
}
