package services

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/providers"
	"github.com/zatekoja/careflow/internal/domain/repositories"
	"github.com/zatekoja/careflow/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/careflow/pkg/errors"
)

const (
	// DefaultMinBuffer is the number of free beds per ward type the
	// fallback search tries to leave untouched
	DefaultMinBuffer = 2

	// DefaultMaxForecastDays bounds the availability forecast horizon
	DefaultMaxForecastDays = 30

	// DefaultForecastTimeout bounds a single predictor call
	DefaultForecastTimeout = 2 * time.Second

	msgAllocated = "Bed allocated successfully"
	msgNoBeds    = "No available beds found"
)

// AllocatorConfig tunes the bed allocator
type AllocatorConfig struct {
	// MinBuffer defaults to DefaultMinBuffer when zero. A negative value
	// turns the buffer preference off.
	MinBuffer int

	// FallbackBandKm groups fallback hospitals into distance bands from the
	// preferred hospital; zero disables distance ranking.
	FallbackBandKm float64

	MaxForecastDays int
	ForecastTimeout time.Duration
}

// AllocationRequest asks for a bed for a patient
type AllocationRequest struct {
	PatientID           int64
	PreferredHospitalID *int64
	WardType            entities.WardType
}

// Allocation is a committed bed assignment
type Allocation struct {
	Bed          *entities.Bed `json:"bed"`
	HospitalID   int64         `json:"hospital_id"`
	UsedFallback bool          `json:"used_fallback"`
	Message      string        `json:"message"`
}

// BedAllocator matches patients to free beds across the hospital network
type BedAllocator struct {
	tx         *Transactor
	clock      providers.Clock
	forecaster providers.DemandForecaster
	cfg        AllocatorConfig
	metrics    *observability.Metrics
	events     eventPublisher
}

// NewBedAllocator creates a new bed allocator
func NewBedAllocator(tx *Transactor, clk providers.Clock, forecaster providers.DemandForecaster, cfg AllocatorConfig, metrics *observability.Metrics) *BedAllocator {
	switch {
	case cfg.MinBuffer == 0:
		cfg.MinBuffer = DefaultMinBuffer
	case cfg.MinBuffer < 0:
		// negative disables the buffer
		cfg.MinBuffer = 0
	}
	if cfg.MaxForecastDays <= 0 {
		cfg.MaxForecastDays = DefaultMaxForecastDays
	}
	if cfg.ForecastTimeout <= 0 {
		cfg.ForecastTimeout = DefaultForecastTimeout
	}
	return &BedAllocator{
		tx:         tx,
		clock:      clk,
		forecaster: forecaster,
		cfg:        cfg,
		metrics:    metrics,
	}
}

// SetEventBus sets the event bus for bed change notifications
func (a *BedAllocator) SetEventBus(bus providers.EventBus) {
	a.events.bus = bus
}

// ListAvailable returns free beds, optionally limited to one hospital and
// one ward type, ordered by hospital id then bed id.
func (a *BedAllocator) ListAvailable(ctx context.Context, hospitalID *int64, wardType *entities.WardType) ([]*entities.Bed, error) {
	if wardType != nil && !wardType.IsValid() {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("invalid ward type %q", *wardType))
	}

	available := entities.BedStatusAvailable
	var beds []*entities.Bed
	err := a.tx.View(ctx, func(ctx context.Context, r repositories.DirectoryReader) error {
		if hospitalID != nil {
			if _, err := r.GetHospital(ctx, *hospitalID); err != nil {
				return err
			}
		}
		var err error
		beds, err = r.ListBeds(ctx, repositories.BedFilter{
			HospitalID: hospitalID,
			WardType:   wardType,
			Status:     &available,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return beds, nil
}

// Allocate assigns a free bed to a patient, trying the preferred hospital
// first and then the rest of the network in fallback order.
func (a *BedAllocator) Allocate(ctx context.Context, req AllocationRequest) (*Allocation, error) {
	if req.WardType == "" {
		req.WardType = entities.WardTypeGeneral
	}
	if !req.WardType.IsValid() {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("invalid ward type %q", req.WardType))
	}

	ctx, span := observability.StartSpan(ctx, "BedAllocator.Allocate")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.Int64("patient_id", req.PatientID),
		attribute.String("ward_type", string(req.WardType)),
	)

	var allocation *Allocation
	err := a.tx.Run(ctx, "allocate_bed", func(ctx context.Context, tx repositories.DirectoryTx) error {
		var err error
		allocation, err = a.allocate(ctx, tx, req)
		return err
	})
	if err != nil {
		observability.RecordError(span, err)
		observability.RecordAllocation(ctx, a.metrics, string(req.WardType), string(apperrors.TypeOf(err)), false)
		observability.LoggerFromContext(ctx).Warn().
			Err(err).
			Int64("patient_id", req.PatientID).
			Str("ward_type", string(req.WardType)).
			Msg("bed allocation failed")
		return nil, err
	}

	observability.RecordAllocation(ctx, a.metrics, string(req.WardType), "allocated", allocation.UsedFallback)
	observability.LoggerFromContext(ctx).Info().
		Int64("patient_id", req.PatientID).
		Int64("bed_id", allocation.Bed.ID).
		Int64("hospital_id", allocation.HospitalID).
		Bool("fallback", allocation.UsedFallback).
		Msg("bed allocated")

	a.publishBedEvent(ctx, entities.ResourceEventTypeBedAllocated, allocation.Bed)
	return allocation, nil
}

func (a *BedAllocator) allocate(ctx context.Context, tx repositories.DirectoryTx, req AllocationRequest) (*Allocation, error) {
	if _, err := tx.GetPatient(ctx, req.PatientID); err != nil {
		return nil, err
	}

	var preferred *entities.Hospital
	if req.PreferredHospitalID != nil {
		h, err := tx.GetHospital(ctx, *req.PreferredHospitalID)
		if err != nil {
			return nil, err
		}
		preferred = h
	}

	available := entities.BedStatusAvailable
	free, err := tx.ListBeds(ctx, repositories.BedFilter{WardType: &req.WardType, Status: &available})
	if err != nil {
		return nil, err
	}
	byHospital := make(map[int64][]*entities.Bed)
	for _, b := range free {
		byHospital[b.HospitalID] = append(byHospital[b.HospitalID], b)
	}

	var chosen *entities.Bed
	usedFallback := false

	if preferred != nil && preferred.IsActive && len(byHospital[preferred.ID]) > 0 {
		chosen = byHospital[preferred.ID][0]
	} else {
		hospitals, err := tx.ListHospitals(ctx)
		if err != nil {
			return nil, err
		}
		ranked := rankFallback(preferred, hospitals, byHospital, a.cfg.MinBuffer, a.cfg.FallbackBandKm)
		if len(ranked) == 0 {
			return nil, apperrors.NewNoCapacityError(msgNoBeds)
		}
		chosen = ranked[0].beds[0]
		usedFallback = preferred != nil
	}

	chosen.Occupy(req.PatientID, a.clock.Now())
	if err := tx.UpdateBed(ctx, chosen); err != nil {
		return nil, err
	}

	return &Allocation{
		Bed:          chosen,
		HospitalID:   chosen.HospitalID,
		UsedFallback: usedFallback,
		Message:      msgAllocated,
	}, nil
}

// Release frees an occupied bed
func (a *BedAllocator) Release(ctx context.Context, bedID int64) (*entities.Bed, error) {
	ctx, span := observability.StartSpan(ctx, "BedAllocator.Release")
	defer span.End()
	observability.SetSpanAttributes(span, attribute.Int64("bed_id", bedID))

	var released *entities.Bed
	err := a.tx.Run(ctx, "release_bed", func(ctx context.Context, tx repositories.DirectoryTx) error {
		bed, err := tx.GetBed(ctx, bedID)
		if err != nil {
			return err
		}
		if bed.Status != entities.BedStatusOccupied {
			return apperrors.NewInvalidInputError(fmt.Sprintf("bed %d is not occupied", bedID))
		}
		bed.Vacate()
		if err := tx.UpdateBed(ctx, bed); err != nil {
			return err
		}
		released = bed
		return nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	observability.LoggerFromContext(ctx).Info().
		Int64("bed_id", released.ID).
		Int64("hospital_id", released.HospitalID).
		Msg("bed released")

	a.publishBedEvent(ctx, entities.ResourceEventTypeBedReleased, released)
	return released, nil
}

// SetMaintenance takes a free bed out of service or returns it. Occupied
// beds must be released first.
func (a *BedAllocator) SetMaintenance(ctx context.Context, bedID int64, underMaintenance bool) (*entities.Bed, error) {
	ctx, span := observability.StartSpan(ctx, "BedAllocator.SetMaintenance")
	defer span.End()

	target := entities.BedStatusAvailable
	if underMaintenance {
		target = entities.BedStatusMaintenance
	}

	var bed *entities.Bed
	changed := false
	err := a.tx.Run(ctx, "set_bed_maintenance", func(ctx context.Context, tx repositories.DirectoryTx) error {
		changed = false
		var err error
		bed, err = tx.GetBed(ctx, bedID)
		if err != nil {
			return err
		}
		if bed.Status == entities.BedStatusOccupied {
			return apperrors.NewInvalidInputError(fmt.Sprintf("bed %d is occupied", bedID))
		}
		if bed.Status == target {
			return nil
		}
		bed.Status = target
		changed = true
		return tx.UpdateBed(ctx, bed)
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	if changed {
		a.publishBedEvent(ctx, entities.ResourceEventTypeBedMaintenance, bed)
	}
	return bed, nil
}

// Occupancy returns the per-ward occupancy of a hospital
func (a *BedAllocator) Occupancy(ctx context.Context, hospitalID int64) (entities.OccupancySnapshot, error) {
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
	return snapshot, err
}

// DeactivateHospital takes a hospital out of the network. Its beds stay in the
// directory but are no longer offered by Allocate.
func (a *BedAllocator) DeactivateHospital(ctx context.Context, hospitalID int64) (*entities.Hospital, error) {
	ctx, span := observability.StartSpan(ctx, "BedAllocator.DeactivateHospital")
	defer span.End()
	observability.SetSpanAttributes(span, attribute.Int64("hospital_id", hospitalID))

	var hospital *entities.Hospital
	err := a.tx.Run(ctx, "deactivate_hospital", func(ctx context.Context, tx repositories.DirectoryTx) error {
		if err := tx.DeactivateHospital(ctx, hospitalID); err != nil {
			return err
		}
		var err error
		hospital, err = tx.GetHospital(ctx, hospitalID)
		return err
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	observability.LoggerFromContext(ctx).Info().
		Int64("hospital_id", hospitalID).
		Msg("hospital deactivated")
	return hospital, nil
}

func (a *BedAllocator) publishBedEvent(ctx context.Context, eventType entities.ResourceEventType, bed *entities.Bed) {
	event := entities.NewBedEvent(eventType, bed, a.clock.Now())
	a.events.publish(ctx, event, providers.GetHospitalChannel(bed.HospitalID))
}
