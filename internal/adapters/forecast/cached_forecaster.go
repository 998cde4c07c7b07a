package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/providers"
	"github.com/zatekoja/careflow/internal/infrastructure/observability"
)

// CachedForecaster caches predictor responses per hospital and horizon
type CachedForecaster struct {
	next       providers.DemandForecaster
	cache      providers.CacheProvider
	ttlSeconds int
	metrics    *observability.Metrics
}

// NewCachedForecaster wraps next with a cache
func NewCachedForecaster(next providers.DemandForecaster, cache providers.CacheProvider, ttlSeconds int, metrics *observability.Metrics) *CachedForecaster {
	if ttlSeconds <= 0 {
		ttlSeconds = 600
	}
	return &CachedForecaster{next: next, cache: cache, ttlSeconds: ttlSeconds, metrics: metrics}
}

var _ providers.DemandForecaster = (*CachedForecaster)(nil)

// PredictDemand implements providers.DemandForecaster. Cache failures fall
// through to the predictor; predictor failures are never cached.
func (f *CachedForecaster) PredictDemand(ctx context.Context, hospitalID int64, daysAhead int) (entities.DemandForecast, error) {
	key := providers.DemandForecastKey(hospitalID, daysAhead)
	logger := observability.LoggerFromContext(ctx)

	cached, err := f.cache.Get(ctx, key)
	switch {
	case err == nil:
		var forecast entities.DemandForecast
		if jsonErr := json.Unmarshal(cached, &forecast); jsonErr == nil {
			observability.RecordCacheHit(ctx, f.metrics, key)
			return forecast, nil
		}
		logger.Warn().Str("key", key).Msg("discarding undecodable cached forecast")
	case errors.Is(err, providers.ErrCacheMiss):
		observability.RecordCacheMiss(ctx, f.metrics, key)
	default:
		logger.Warn().Err(err).Str("key", key).Msg("forecast cache read failed")
	}

	forecast, err := f.next.PredictDemand(ctx, hospitalID, daysAhead)
	if err != nil {
		return nil, err
	}

	// Only complete series are worth caching
	if forecast.Validate(daysAhead) == nil {
		data, err := json.Marshal(forecast)
		if err == nil {
			// Cache asynchronously with a fresh context
			go func() {
				cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := f.cache.Set(cacheCtx, key, data, f.ttlSeconds); err != nil {
					observability.GetLogger().Warn().Err(err).Str("key", key).Msg("forecast cache write failed")
				}
			}()
		}
	}
	return forecast, nil
}
