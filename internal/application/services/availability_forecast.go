package services

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/repositories"
	"github.com/zatekoja/careflow/internal/infrastructure/observability"
	"github.com/zatekoja/careflow/pkg/clock"
	apperrors "github.com/zatekoja/careflow/pkg/errors"
)

// ForecastOptions controls how predictor failures are handled
type ForecastOptions struct {
	// BestEffort assumes zero demand when the predictor fails instead of
	// returning an error. The result is then marked Degraded.
	BestEffort bool
}

// ForecastAvailability projects free beds per ward type for the next
// daysAhead days as total beds minus predicted demand, floored at zero.
func (a *BedAllocator) ForecastAvailability(ctx context.Context, hospitalID int64, daysAhead int, opts ForecastOptions) (*entities.AvailabilityForecast, error) {
	if daysAhead < 1 || daysAhead > a.cfg.MaxForecastDays {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("days ahead must be between 1 and %d", a.cfg.MaxForecastDays))
	}

	ctx, span := observability.StartSpan(ctx, "BedAllocator.ForecastAvailability")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.Int64("hospital_id", hospitalID),
		attribute.Int("days_ahead", daysAhead),
	)

	var snapshot entities.OccupancySnapshot
	err := a.tx.View(ctx, func(ctx context.Context, r repositories.DirectoryReader) error {
		if _, err := r.GetHospital(ctx, hospitalID); err != nil {
			return err
		}
		beds, err := r.ListBeds(ctx, repositories.BedFilter{HospitalID: &hospitalID})
		if err != nil {
			return err
		}
		snapshot = entities.NewOccupancySnapshot(hospitalID, a.cfg.MinBuffer, beds)
		return nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	demand, err := a.predictDemand(ctx, hospitalID, daysAhead)
	degraded := false
	if err != nil {
		observability.RecordForecastFailure(ctx, a.metrics, opts.BestEffort)
		if !opts.BestEffort {
			observability.RecordError(span, err)
			return nil, err
		}
		observability.LoggerFromContext(ctx).Warn().
			Err(err).
			Int64("hospital_id", hospitalID).
			Msg("demand forecast unavailable, assuming zero demand")
		demand = entities.ZeroDemand(daysAhead)
		degraded = true
	}

	today := clock.StartOfDay(a.clock.Now())
	result := &entities.AvailabilityForecast{
		HospitalID: hospitalID,
		Days:       make([]entities.DayAvailability, 0, daysAhead),
		Degraded:   degraded,
	}
	for day := 0; day < daysAhead; day++ {
		predicted := make(map[entities.WardType]int, len(entities.WardTypes))
		for _, wt := range entities.WardTypes {
			free := float64(snapshot.Wards[wt].Total) - math.Ceil(demand[day][wt])
			predicted[wt] = int(math.Max(0, free))
		}
		result.Days = append(result.Days, entities.DayAvailability{
			Date:               today.AddDate(0, 0, day),
			PredictedAvailable: predicted,
		})
	}
	return result, nil
}

// predictDemand calls the predictor under its own deadline and rejects
// malformed series.
func (a *BedAllocator) predictDemand(ctx context.Context, hospitalID int64, daysAhead int) (entities.DemandForecast, error) {
	if a.forecaster == nil {
		return nil, apperrors.NewForecastUnavailableError("no demand forecaster configured", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.ForecastTimeout)
	defer cancel()

	demand, err := a.forecaster.PredictDemand(callCtx, hospitalID, daysAhead)
	if err != nil {
		if apperrors.IsForecastUnavailable(err) {
			return nil, err
		}
		return nil, apperrors.NewForecastUnavailableError(fmt.Sprintf("demand prediction for hospital %d failed", hospitalID), err)
	}
	if err := demand.Validate(daysAhead); err != nil {
		return nil, apperrors.NewForecastUnavailableError(fmt.Sprintf("malformed demand forecast for hospital %d", hospitalID), err)
	}
	return demand, nil
}
