package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/providers"
	"github.com/zatekoja/careflow/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/careflow/pkg/errors"
)

// BreakerConfig tunes the predictor circuit breaker
type BreakerConfig struct {
	// MaxFailures consecutive failures open the circuit
	MaxFailures uint32

	// OpenTimeout is how long the circuit stays open before a probe
	OpenTimeout time.Duration
}

// BreakerForecaster stops calling a failing predictor until it recovers
type BreakerForecaster struct {
	next    providers.DemandForecaster
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerForecaster wraps next with a circuit breaker
func NewBreakerForecaster(next providers.DemandForecaster, cfg BreakerConfig) *BreakerForecaster {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	maxFailures := cfg.MaxFailures

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "demand-forecaster",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.GetLogger().Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return &BreakerForecaster{next: next, breaker: breaker}
}

var _ providers.DemandForecaster = (*BreakerForecaster)(nil)

// PredictDemand implements providers.DemandForecaster
func (f *BreakerForecaster) PredictDemand(ctx context.Context, hospitalID int64, daysAhead int) (entities.DemandForecast, error) {
	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.next.PredictDemand(ctx, hospitalID, daysAhead)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperrors.NewForecastUnavailableError(fmt.Sprintf("predictor circuit %s", f.breaker.State()), err)
		}
		return nil, err
	}
	return result.(entities.DemandForecast), nil
}

// State reports the breaker state
func (f *BreakerForecaster) State() gobreaker.State {
	return f.breaker.State()
}
