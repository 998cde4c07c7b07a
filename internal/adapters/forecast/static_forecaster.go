package forecast

import (
	"context"
	"fmt"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/providers"
)

// StaticForecaster predicts the same demand for every hospital and day.
// Used in development and when no predictor is deployed.
type StaticForecaster struct {
	demand map[entities.WardType]float64
}

// NewStaticForecaster builds a forecaster from ward name to demand pairs.
// Wards left out predict zero demand.
func NewStaticForecaster(demand map[string]float64) (*StaticForecaster, error) {
	parsed := make(map[entities.WardType]float64, len(entities.WardTypes))
	for _, wt := range entities.WardTypes {
		parsed[wt] = 0
	}
	for name, value := range demand {
		wt, err := entities.ParseWardType(name)
		if err != nil {
			return nil, err
		}
		if value < 0 {
			return nil, fmt.Errorf("negative demand %v for %s", value, wt)
		}
		parsed[wt] = value
	}
	return &StaticForecaster{demand: parsed}, nil
}

var _ providers.DemandForecaster = (*StaticForecaster)(nil)

// PredictDemand implements providers.DemandForecaster
func (f *StaticForecaster) PredictDemand(ctx context.Context, hospitalID int64, daysAhead int) (entities.DemandForecast, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(entities.DemandForecast, daysAhead)
	for day := range out {
		out[day] = make(map[entities.WardType]float64, len(f.demand))
		for wt, value := range f.demand {
			out[day][wt] = value
		}
	}
	return out, nil
}
