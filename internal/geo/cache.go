package geo

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
)

// CachedGeocoder memoizes a Geocoder in Redis. Cache failures degrade to a
// direct lookup.
type CachedGeocoder struct {
	next   Geocoder
	client *redis.Client
	ttl    time.Duration
}

// NewCachedGeocoder wraps next with a Redis cache.
func NewCachedGeocoder(next Geocoder, client *redis.Client, ttl time.Duration) *CachedGeocoder {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &CachedGeocoder{next: next, client: client, ttl: ttl}
}

func cacheKey(query string) string {
	return "geocode:" + strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Geocode returns the cached point for query or resolves and stores it.
func (c *CachedGeocoder) Geocode(ctx context.Context, query string) (domain.Point, error) {
	key := cacheKey(query)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var p domain.Point
		if json.Unmarshal(raw, &p) == nil {
			return p, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logger.Warn("geocode cache read failed", "error", err)
	}

	p, err := c.next.Geocode(ctx, query)
	if err != nil {
		return p, err
	}
	if data, mErr := json.Marshal(p); mErr == nil {
		if sErr := c.client.Set(ctx, key, data, c.ttl).Err(); sErr != nil {
			logger.Warn("geocode cache write failed", "error", sErr)
		}
	}
	return p, nil
}
