package services

import (
	"context"
	"fmt"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/providers"
	"github.com/zatekoja/careflow/internal/domain/repositories"
	"github.com/zatekoja/careflow/internal/infrastructure/observability"
)

// ForecastWarmingService pre-fetches demand predictions so that forecast
// requests are served from cache.
type ForecastWarmingService struct {
	tx         *Transactor
	forecaster providers.DemandForecaster
}

// NewForecastWarmingService creates a new forecast warming service
func NewForecastWarmingService(tx *Transactor, forecaster providers.DemandForecaster) *ForecastWarmingService {
	return &ForecastWarmingService{tx: tx, forecaster: forecaster}
}

// WarmForecasts requests a daysAhead prediction for every active hospital.
// Individual failures are logged and skipped; the number of hospitals warmed
// is returned.
func (s *ForecastWarmingService) WarmForecasts(ctx context.Context, daysAhead int) (int, error) {
	if daysAhead < 1 {
		return 0, fmt.Errorf("days ahead must be at least 1")
	}

	logger := observability.LoggerFromContext(ctx)
	logger.Info().Int("days_ahead", daysAhead).Msg("starting forecast warming")

	var hospitals []*entities.Hospital
	err := s.tx.View(ctx, func(ctx context.Context, r repositories.DirectoryReader) error {
		var err error
		hospitals, err = r.ListHospitals(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list hospitals: %w", err)
	}

	warmed := 0
	for _, h := range hospitals {
		if err := ctx.Err(); err != nil {
			return warmed, err
		}
		if _, err := s.forecaster.PredictDemand(ctx, h.ID, daysAhead); err != nil {
			logger.Warn().Err(err).Int64("hospital_id", h.ID).Msg("failed to warm forecast")
			continue
		}
		warmed++
	}

	logger.Info().Int("warmed", warmed).Int("hospitals", len(hospitals)).Msg("forecast warming completed")
	return warmed, nil
}
