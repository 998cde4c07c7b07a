package forecast

import (
	"fmt"
	"time"

	"github.com/zatekoja/careflow/internal/domain/providers"
	"github.com/zatekoja/careflow/internal/infrastructure/clients/predictor"
	"github.com/zatekoja/careflow/internal/infrastructure/observability"
)

// Config configures the demand forecaster chain.
type Config struct {
	Provider           string // static | http
	URL                string
	Timeout            time.Duration
	StaticDemand       map[string]float64
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
	CacheTTLSeconds    int
}

// NewDemandForecaster builds the configured forecaster. HTTP predictors are
// wrapped with a circuit breaker, and with a cache when one is given.
func NewDemandForecaster(cfg Config, cache providers.CacheProvider, metrics *observability.Metrics) (providers.DemandForecaster, error) {
	switch cfg.Provider {
	case "", "static":
		return NewStaticForecaster(cfg.StaticDemand)
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("forecast URL is required for the http provider")
		}
	default:
		return nil, fmt.Errorf("unknown forecast provider %q", cfg.Provider)
	}

	var forecaster providers.DemandForecaster = NewHTTPForecaster(predictor.NewClient(cfg.URL, cfg.Timeout))
	forecaster = NewBreakerForecaster(forecaster, BreakerConfig{
		MaxFailures: cfg.BreakerMaxFailures,
		OpenTimeout: cfg.BreakerOpenTimeout,
	})
	if cache != nil {
		forecaster = NewCachedForecaster(forecaster, cache, cfg.CacheTTLSeconds, metrics)
	}
	return forecaster, nil
}
