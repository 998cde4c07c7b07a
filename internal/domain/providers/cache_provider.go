package providers

import (
	"context"
	"errors"
	"fmt"
)

// ErrCacheMiss is returned by Get when the key is absent
var ErrCacheMiss = errors.New("cache miss")

// CacheProvider defines the interface for caching operations
type CacheProvider interface {
	// Get retrieves a value from cache, returning ErrCacheMiss when absent
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration
	Set(ctx context.Context, key string, value []byte, expirationSeconds int) error

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// DeletePattern removes all keys matching a glob pattern
	DeletePattern(ctx context.Context, pattern string) error

	// Exists checks if a key exists in cache
	Exists(ctx context.Context, key string) (bool, error)
}

// DemandForecastKeyPrefix prefixes cached predictor responses
const DemandForecastKeyPrefix = "forecast:demand:"

// DemandForecastKey returns the cache key for one predictor response
func DemandForecastKey(hospitalID int64, daysAhead int) string {
	return fmt.Sprintf("%s%d:%d", DemandForecastKeyPrefix, hospitalID, daysAhead)
}

// DemandForecastPattern matches every cached predictor response of a hospital
func DemandForecastPattern(hospitalID int64) string {
	return fmt.Sprintf("%s%d:*", DemandForecastKeyPrefix, hospitalID)
}
