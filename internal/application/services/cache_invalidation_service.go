package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/providers"
	"github.com/zatekoja/careflow/internal/infrastructure/observability"
)

// CacheInvalidationService drops cached demand forecasts when bed events
// arrive for a hospital.
type CacheInvalidationService struct {
	cache    providers.CacheProvider
	eventBus providers.EventBus
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewCacheInvalidationService creates a new cache invalidation service
func NewCacheInvalidationService(cache providers.CacheProvider, eventBus providers.EventBus) *CacheInvalidationService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CacheInvalidationService{
		cache:    cache,
		eventBus: eventBus,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins listening for events and invalidating cache
func (s *CacheInvalidationService) Start() error {
	eventChan, err := s.eventBus.Subscribe(s.ctx, providers.EventChannelResourceUpdates)
	if err != nil {
		return fmt.Errorf("failed to subscribe to resource updates: %w", err)
	}

	s.wg.Add(1)
	go s.processEvents(eventChan)
	observability.GetLogger().Info().Msg("cache invalidation service started")
	return nil
}

// Stop stops the cache invalidation service
func (s *CacheInvalidationService) Stop() {
	s.cancel()
	s.wg.Wait()
	observability.GetLogger().Info().Msg("cache invalidation service stopped")
}

func (s *CacheInvalidationService) processEvents(eventChan <-chan *entities.ResourceEvent) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if event == nil {
				continue
			}
			s.handleEvent(event)
		}
	}
}

// The predictor's demand model takes current occupancy as an input, so a
// bed status change makes the hospital's cached predictions stale.
func (s *CacheInvalidationService) handleEvent(event *entities.ResourceEvent) {
	switch event.EventType {
	case entities.ResourceEventTypeBedAllocated, entities.ResourceEventTypeBedReleased, entities.ResourceEventTypeBedMaintenance:
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.InvalidateHospitalForecasts(ctx, event.HospitalID); err != nil {
		observability.GetLogger().Warn().
			Err(err).
			Str("event_id", event.ID).
			Int64("hospital_id", event.HospitalID).
			Msg("failed to invalidate forecast cache")
	}
}

// InvalidateHospitalForecasts drops every cached forecast of a hospital
func (s *CacheInvalidationService) InvalidateHospitalForecasts(ctx context.Context, hospitalID int64) error {
	pattern := providers.DemandForecastPattern(hospitalID)
	if err := s.cache.DeletePattern(ctx, pattern); err != nil {
		return fmt.Errorf("failed to invalidate pattern %s: %w", pattern, err)
	}
	observability.GetLogger().Debug().Int64("hospital_id", hospitalID).Msg("invalidated forecast cache")
	return nil
}
