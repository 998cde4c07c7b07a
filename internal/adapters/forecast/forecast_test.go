package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/providers"
	"github.com/zatekoja/careflow/internal/infrastructure/clients/predictor"
	apperrors "github.com/zatekoja/careflow/pkg/errors"
)

type countingForecaster struct {
	mu       sync.Mutex
	calls    int
	forecast entities.DemandForecast
	err      error
}

func (f *countingForecaster) PredictDemand(ctx context.Context, hospitalID int64, daysAhead int) (entities.DemandForecast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.forecast, f.err
}

func (f *countingForecaster) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (c *memoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, providers.ErrCacheMiss
	}
	return v, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, value []byte, expirationSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memoryCache) DeletePattern(ctx context.Context, pattern string) error {
	return nil
}

func (c *memoryCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok, nil
}

func TestHTTPForecaster_ConvertsWardNames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(predictor.BedDemandResponse{
			HospitalID: 3,
			Predictions: []map[string]float64{
				{"icu": 1, "general": 4.2, "emergency": 2, "special_care": 0.5, "maternity": 9},
			},
		})
	}))
	defer server.Close()

	f := NewHTTPForecaster(predictor.NewClient(server.URL, time.Second))
	forecast, err := f.PredictDemand(context.Background(), 3, 1)
	require.NoError(t, err)
	require.NoError(t, forecast.Validate(1))

	assert.InDelta(t, 4.2, forecast[0][entities.WardTypeGeneral], 1e-9)
	assert.InDelta(t, 0.5, forecast[0][entities.WardTypeSpecialCare], 1e-9)
	assert.Len(t, forecast[0], 4)
}

func TestHTTPForecaster_FailureIsForecastUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := NewHTTPForecaster(predictor.NewClient(server.URL, time.Second))
	_, err := f.PredictDemand(context.Background(), 3, 1)
	assert.True(t, apperrors.IsForecastUnavailable(err))
}

func TestStaticForecaster(t *testing.T) {
	f, err := NewStaticForecaster(map[string]float64{"General": 12, "icu": 2})
	require.NoError(t, err)

	forecast, err := f.PredictDemand(context.Background(), 1, 3)
	require.NoError(t, err)
	require.NoError(t, forecast.Validate(3))
	assert.Equal(t, 12.0, forecast[2][entities.WardTypeGeneral])
	assert.Equal(t, 2.0, forecast[0][entities.WardTypeICU])
	assert.Equal(t, 0.0, forecast[1][entities.WardTypeEmergency])

	_, err = NewStaticForecaster(map[string]float64{"Maternity": 1})
	assert.Error(t, err)

	_, err = NewStaticForecaster(map[string]float64{"ICU": -1})
	assert.Error(t, err)
}

func TestBreakerForecaster_OpensAfterConsecutiveFailures(t *testing.T) {
	next := &countingForecaster{err: errors.New("predictor down")}
	f := NewBreakerForecaster(next, BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := f.PredictDemand(context.Background(), 1, 1)
		assert.EqualError(t, err, "predictor down")
	}
	assert.Equal(t, gobreaker.StateOpen, f.State())

	_, err := f.PredictDemand(context.Background(), 1, 1)
	assert.True(t, apperrors.IsForecastUnavailable(err))
	assert.Equal(t, 2, next.Calls())
}

func TestBreakerForecaster_PassesThroughSuccess(t *testing.T) {
	next := &countingForecaster{forecast: entities.ZeroDemand(2)}
	f := NewBreakerForecaster(next, BreakerConfig{})

	forecast, err := f.PredictDemand(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Len(t, forecast, 2)
	assert.Equal(t, gobreaker.StateClosed, f.State())
}

func TestCachedForecaster_ServesFromCache(t *testing.T) {
	next := &countingForecaster{forecast: entities.ZeroDemand(2)}
	cache := newMemoryCache()
	f := NewCachedForecaster(next, cache, 60, nil)

	_, err := f.PredictDemand(context.Background(), 4, 2)
	require.NoError(t, err)

	key := providers.DemandForecastKey(4, 2)
	require.Eventually(t, func() bool {
		ok, _ := cache.Exists(context.Background(), key)
		return ok
	}, time.Second, 10*time.Millisecond)

	forecast, err := f.PredictDemand(context.Background(), 4, 2)
	require.NoError(t, err)
	require.NoError(t, forecast.Validate(2))
	assert.Equal(t, 1, next.Calls())
}

func TestCachedForecaster_DoesNotCacheFailures(t *testing.T) {
	next := &countingForecaster{err: apperrors.NewForecastUnavailableError("down", nil)}
	cache := newMemoryCache()
	f := NewCachedForecaster(next, cache, 60, nil)

	_, err := f.PredictDemand(context.Background(), 4, 2)
	assert.True(t, apperrors.IsForecastUnavailable(err))

	_, err = f.PredictDemand(context.Background(), 4, 2)
	assert.Error(t, err)
	assert.Equal(t, 2, next.Calls())

	ok, _ := cache.Exists(context.Background(), providers.DemandForecastKey(4, 2))
	assert.False(t, ok)
}

func TestNewDemandForecaster(t *testing.T) {
	f, err := NewDemandForecaster(Config{Provider: "static", StaticDemand: map[string]float64{"General": 1}}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &StaticForecaster{}, f)

	f, err = NewDemandForecaster(Config{Provider: "http", URL: "http://localhost:1"}, newMemoryCache(), nil)
	require.NoError(t, err)
	assert.IsType(t, &CachedForecaster{}, f)

	f, err = NewDemandForecaster(Config{Provider: "http", URL: "http://localhost:1"}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &BreakerForecaster{}, f)

	_, err = NewDemandForecaster(Config{Provider: "http"}, nil, nil)
	assert.Error(t, err)

	_, err = NewDemandForecaster(Config{Provider: "oracle"}, nil, nil)
	assert.Error(t, err)
}
