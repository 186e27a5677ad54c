// Package redis stores rainfall series in Redis so several advisor
// instances share one cache.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/couchcryptid/lawn-watering-advisor/internal/domain"
)

const keyPrefix = "lawn_advisor:"

// SeriesCache implements openmeteo.SeriesCache on a Redis client.
type SeriesCache struct {
	client *goredis.Client
}

// NewClient connects to Redis and verifies the connection with PING.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// NewSeriesCache wraps an existing client.
func NewSeriesCache(client *goredis.Client) *SeriesCache {
	return &SeriesCache{client: client}
}

// Get returns the cached series for key. A missing key is not an error.
func (c *SeriesCache) Get(ctx context.Context, key string) (domain.PrecipitationSeries, bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s from redis: %w", key, err)
	}

	var series domain.PrecipitationSeries
	if err := json.Unmarshal(data, &series); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached series: %w", err)
	}
	return series, true, nil
}

// Set stores series under key. A zero ttl keeps the key until evicted.
func (c *SeriesCache) Set(ctx context.Context, key string, series domain.PrecipitationSeries, ttl time.Duration) error {
	data, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("marshal series: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set %s in redis: %w", key, err)
	}
	return nil
}

// CheckReadiness pings Redis.
func (c *SeriesCache) CheckReadiness(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
