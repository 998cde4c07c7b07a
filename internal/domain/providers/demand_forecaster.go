package providers

import (
	"context"

	"github.com/zatekoja/careflow/internal/domain/entities"
)

// DemandForecaster defines the interface to the external bed demand predictor
type DemandForecaster interface {
	// PredictDemand returns per-day, per-ward-type demand for the next daysAhead days
	PredictDemand(ctx context.Context, hospitalID int64, daysAhead int) (entities.DemandForecast, error)
}
