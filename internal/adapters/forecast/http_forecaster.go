// Package forecast adapts demand predictors to providers.DemandForecaster.
package forecast

import (
	"context"
	"fmt"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/providers"
	"github.com/zatekoja/careflow/internal/infrastructure/clients/predictor"
	apperrors "github.com/zatekoja/careflow/pkg/errors"
)

// HTTPForecaster reads demand from the external prediction service
type HTTPForecaster struct {
	client predictor.Client
}

// NewHTTPForecaster creates a forecaster over a predictor client
func NewHTTPForecaster(client predictor.Client) *HTTPForecaster {
	return &HTTPForecaster{client: client}
}

var _ providers.DemandForecaster = (*HTTPForecaster)(nil)

// PredictDemand implements providers.DemandForecaster. Ward names in the
// response are matched loosely; unknown wards are ignored.
func (f *HTTPForecaster) PredictDemand(ctx context.Context, hospitalID int64, daysAhead int) (entities.DemandForecast, error) {
	resp, err := f.client.PredictBedDemand(ctx, predictor.BedDemandRequest{HospitalID: hospitalID, DaysAhead: daysAhead})
	if err != nil {
		return nil, apperrors.NewForecastUnavailableError(fmt.Sprintf("predictor request for hospital %d failed", hospitalID), err)
	}

	out := make(entities.DemandForecast, 0, len(resp.Predictions))
	for _, day := range resp.Predictions {
		demand := make(map[entities.WardType]float64, len(day))
		for name, value := range day {
			wt, err := entities.ParseWardType(name)
			if err != nil {
				continue
			}
			demand[wt] = value
		}
		out = append(out, demand)
	}
	return out, nil
}
