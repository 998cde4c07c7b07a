package services_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/careflow/internal/application/services"
	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/providers"
	apperrors "github.com/zatekoja/careflow/pkg/errors"
)

var defaultAllocatorConfig = services.AllocatorConfig{
	MinBuffer:       services.DefaultMinBuffer,
	MaxForecastDays: services.DefaultMaxForecastDays,
	ForecastTimeout: time.Second,
}

func newAllocator(f *fixture, forecaster providers.DemandForecaster) *services.BedAllocator {
	return services.NewBedAllocator(f.tx, f.clock, forecaster, defaultAllocatorConfig, nil)
}

func ptr[T any](v T) *T { return &v }

func TestBedAllocator_Allocate_FallsBackToOtherHospital(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	h2 := f.hospital("H2", entities.Location{})
	f.beds(h1, entities.WardTypeGeneral, entities.BedStatusAvailable, 3)
	h2Beds := f.beds(h2, entities.WardTypeICU, entities.BedStatusAvailable, 1)
	p := f.patient(youngDOB, "")

	allocation, err := newAllocator(f, nil).Allocate(context.Background(), services.AllocationRequest{
		PatientID:           p,
		PreferredHospitalID: &h1,
		WardType:            entities.WardTypeICU,
	})
	require.NoError(t, err)
	assert.Equal(t, h2, allocation.HospitalID)
	assert.True(t, allocation.UsedFallback)
	assert.Equal(t, "Bed allocated successfully", allocation.Message)
	assert.Equal(t, h2Beds[0], allocation.Bed.ID)

	stored := f.bed(h2Beds[0])
	assert.Equal(t, entities.BedStatusOccupied, stored.Status)
	require.NotNil(t, stored.CurrentPatientID)
	assert.Equal(t, p, *stored.CurrentPatientID)
	require.NotNil(t, stored.LastSanitized)
	assert.True(t, stored.LastSanitized.Equal(fixtureNow))
}

func TestBedAllocator_Allocate_PrefersPreferredHospitalLowestBed(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	h2 := f.hospital("H2", entities.Location{})
	f.beds(h2, entities.WardTypeGeneral, entities.BedStatusAvailable, 5)
	f.beds(h1, entities.WardTypeGeneral, entities.BedStatusMaintenance, 1)
	h1Beds := f.beds(h1, entities.WardTypeGeneral, entities.BedStatusAvailable, 2)
	p := f.patient(youngDOB, "")

	// ward type defaults to General
	allocation, err := newAllocator(f, nil).Allocate(context.Background(), services.AllocationRequest{
		PatientID:           p,
		PreferredHospitalID: &h1,
	})
	require.NoError(t, err)
	assert.Equal(t, h1Beds[0], allocation.Bed.ID)
	assert.False(t, allocation.UsedFallback)
}

func TestBedAllocator_Allocate_NoCapacity(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	f.beds(h1, entities.WardTypeICU, entities.BedStatusOccupied, 2)
	f.beds(h1, entities.WardTypeICU, entities.BedStatusMaintenance, 1)
	f.beds(h1, entities.WardTypeGeneral, entities.BedStatusAvailable, 4)
	p := f.patient(youngDOB, "")

	_, err := newAllocator(f, nil).Allocate(context.Background(), services.AllocationRequest{
		PatientID: p,
		WardType:  entities.WardTypeICU,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsNoCapacity(err))

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "No available beds found", appErr.Message)
}

func TestBedAllocator_Allocate_Validation(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	f.beds(h1, entities.WardTypeGeneral, entities.BedStatusAvailable, 1)
	p := f.patient(youngDOB, "")
	a := newAllocator(f, nil)
	ctx := context.Background()

	_, err := a.Allocate(ctx, services.AllocationRequest{PatientID: p, WardType: "Maternity"})
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = a.Allocate(ctx, services.AllocationRequest{PatientID: 9999})
	assert.True(t, apperrors.IsNotFound(err))

	_, err = a.Allocate(ctx, services.AllocationRequest{PatientID: p, PreferredHospitalID: ptr(int64(9999))})
	assert.True(t, apperrors.IsNotFound(err))

	// nothing was claimed by the failed calls
	beds, err := a.ListAvailable(ctx, &h1, nil)
	require.NoError(t, err)
	assert.Len(t, beds, 1)
}

func TestBedAllocator_Allocate_BufferSafeHospitalFirst(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	h2 := f.hospital("H2", entities.Location{})
	h3 := f.hospital("H3", entities.Location{})
	f.beds(h2, entities.WardTypeICU, entities.BedStatusAvailable, 2)
	f.beds(h3, entities.WardTypeICU, entities.BedStatusAvailable, 4)
	p := f.patient(youngDOB, "")

	allocation, err := newAllocator(f, nil).Allocate(context.Background(), services.AllocationRequest{
		PatientID: p, PreferredHospitalID: &h1, WardType: entities.WardTypeICU,
	})
	require.NoError(t, err)
	assert.Equal(t, h3, allocation.HospitalID)
}

func TestBedAllocator_Allocate_MoreHeadroomThenLowerID(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	h2 := f.hospital("H2", entities.Location{})
	h3 := f.hospital("H3", entities.Location{})
	h4 := f.hospital("H4", entities.Location{})
	f.beds(h2, entities.WardTypeICU, entities.BedStatusAvailable, 4)
	f.beds(h3, entities.WardTypeICU, entities.BedStatusAvailable, 6)
	f.beds(h4, entities.WardTypeICU, entities.BedStatusAvailable, 6)
	a := newAllocator(f, nil)

	allocation, err := a.Allocate(context.Background(), services.AllocationRequest{
		PatientID: f.patient(youngDOB, ""), PreferredHospitalID: &h1, WardType: entities.WardTypeICU,
	})
	require.NoError(t, err)
	assert.Equal(t, h3, allocation.HospitalID)

	// H3 now has 5 free, H4 has 6
	allocation, err = a.Allocate(context.Background(), services.AllocationRequest{
		PatientID: f.patient(youngDOB, ""), PreferredHospitalID: &h1, WardType: entities.WardTypeICU,
	})
	require.NoError(t, err)
	assert.Equal(t, h4, allocation.HospitalID)
}

func TestBedAllocator_Allocate_NearerBandBeatsBuffer(t *testing.T) {
	f := newFixture(t)
	// Lagos, Ikeja (about 14km), Ibadan (about 115km)
	h1 := f.hospital("Lagos Island", entities.Location{Latitude: 6.4541, Longitude: 3.3947})
	far := f.hospital("Ibadan", entities.Location{Latitude: 7.3775, Longitude: 3.9470})
	near := f.hospital("Ikeja", entities.Location{Latitude: 6.6018, Longitude: 3.3515})
	f.beds(far, entities.WardTypeICU, entities.BedStatusAvailable, 10)
	f.beds(near, entities.WardTypeICU, entities.BedStatusAvailable, 1)

	cfg := defaultAllocatorConfig
	cfg.FallbackBandKm = 25
	a := services.NewBedAllocator(f.tx, f.clock, nil, cfg, nil)

	allocation, err := a.Allocate(context.Background(), services.AllocationRequest{
		PatientID: f.patient(youngDOB, ""), PreferredHospitalID: &h1, WardType: entities.WardTypeICU,
	})
	require.NoError(t, err)
	assert.Equal(t, near, allocation.HospitalID)

	// without bands the buffer rule decides
	b := newAllocator(f, nil)
	f.beds(near, entities.WardTypeICU, entities.BedStatusAvailable, 1)
	allocation, err = b.Allocate(context.Background(), services.AllocationRequest{
		PatientID: f.patient(youngDOB, ""), PreferredHospitalID: &h1, WardType: entities.WardTypeICU,
	})
	require.NoError(t, err)
	assert.Equal(t, far, allocation.HospitalID)
}

func TestBedAllocator_Allocate_SkipsInactiveHospitals(t *testing.T) {
	f := newFixture(t)
	closed := f.hospital("Closed", entities.Location{})
	open := f.hospital("Open", entities.Location{})
	f.beds(closed, entities.WardTypeICU, entities.BedStatusAvailable, 3)
	openBeds := f.beds(open, entities.WardTypeICU, entities.BedStatusAvailable, 1)
	a := newAllocator(f, nil)
	ctx := context.Background()

	f.clock.Advance(time.Hour)
	hospital, err := a.DeactivateHospital(ctx, closed)
	require.NoError(t, err)
	assert.False(t, hospital.IsActive)
	assert.Equal(t, fixtureNow.Add(time.Hour), hospital.UpdatedAt)
	assert.Equal(t, fixtureNow, hospital.CreatedAt)

	allocation, err := a.Allocate(ctx, services.AllocationRequest{
		PatientID:           f.patient(youngDOB, ""),
		PreferredHospitalID: &closed,
		WardType:            entities.WardTypeICU,
	})
	require.NoError(t, err)
	assert.Equal(t, open, allocation.HospitalID)
	assert.Equal(t, openBeds[0], allocation.Bed.ID)
	assert.True(t, allocation.UsedFallback)

	_, err = a.Allocate(ctx, services.AllocationRequest{
		PatientID: f.patient(youngDOB, ""), WardType: entities.WardTypeICU,
	})
	assert.True(t, apperrors.IsNoCapacity(err))

	_, err = a.DeactivateHospital(ctx, 9999)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestBedAllocator_ZeroMinBufferUsesDefault(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	f.beds(h1, entities.WardTypeICU, entities.BedStatusAvailable, 3)

	snapshot, err := services.NewBedAllocator(f.tx, f.clock, nil, services.AllocatorConfig{}, nil).Occupancy(context.Background(), h1)
	require.NoError(t, err)
	assert.Equal(t, services.DefaultMinBuffer, snapshot.MinBuffer)
	assert.Equal(t, 1, snapshot.Wards[entities.WardTypeICU].BufferHeadroom)

	snapshot, err = services.NewBedAllocator(f.tx, f.clock, nil, services.AllocatorConfig{MinBuffer: -1}, nil).Occupancy(context.Background(), h1)
	require.NoError(t, err)
	assert.Equal(t, 0, snapshot.MinBuffer)
	assert.Equal(t, 3, snapshot.Wards[entities.WardTypeICU].BufferHeadroom)
}

func TestBedAllocator_ReleaseThenAllocateRoundTrip(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	bedIDs := f.beds(h1, entities.WardTypeEmergency, entities.BedStatusAvailable, 1)
	a := newAllocator(f, nil)
	ctx := context.Background()
	first := f.patient(youngDOB, "")
	second := f.patient(seniorDOB, "")

	_, err := a.Allocate(ctx, services.AllocationRequest{PatientID: first, PreferredHospitalID: &h1, WardType: entities.WardTypeEmergency})
	require.NoError(t, err)

	released, err := a.Release(ctx, bedIDs[0])
	require.NoError(t, err)
	assert.Equal(t, entities.BedStatusAvailable, released.Status)
	assert.Nil(t, released.CurrentPatientID)

	allocation, err := a.Allocate(ctx, services.AllocationRequest{PatientID: second, PreferredHospitalID: &h1, WardType: entities.WardTypeEmergency})
	require.NoError(t, err)
	assert.Equal(t, bedIDs[0], allocation.Bed.ID)
	assert.Equal(t, second, *f.bed(bedIDs[0]).CurrentPatientID)
}

func TestBedAllocator_Release_Errors(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	bedIDs := f.beds(h1, entities.WardTypeGeneral, entities.BedStatusAvailable, 1)
	a := newAllocator(f, nil)

	_, err := a.Release(context.Background(), bedIDs[0])
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = a.Release(context.Background(), 9999)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestBedAllocator_SetMaintenance(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	free := f.beds(h1, entities.WardTypeGeneral, entities.BedStatusAvailable, 1)
	busy := f.beds(h1, entities.WardTypeGeneral, entities.BedStatusOccupied, 1)
	a := newAllocator(f, nil)
	ctx := context.Background()

	bed, err := a.SetMaintenance(ctx, free[0], true)
	require.NoError(t, err)
	assert.Equal(t, entities.BedStatusMaintenance, bed.Status)

	available, err := a.ListAvailable(ctx, &h1, nil)
	require.NoError(t, err)
	assert.Empty(t, available)

	_, err = a.SetMaintenance(ctx, busy[0], true)
	assert.True(t, apperrors.IsInvalidInput(err))

	bed, err = a.SetMaintenance(ctx, free[0], false)
	require.NoError(t, err)
	assert.Equal(t, entities.BedStatusAvailable, bed.Status)
}

func TestBedAllocator_ListAvailable(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	h2 := f.hospital("H2", entities.Location{})
	h2ICU := f.beds(h2, entities.WardTypeICU, entities.BedStatusAvailable, 1)
	h1ICU := f.beds(h1, entities.WardTypeICU, entities.BedStatusAvailable, 2)
	f.beds(h1, entities.WardTypeGeneral, entities.BedStatusAvailable, 1)
	f.beds(h1, entities.WardTypeICU, entities.BedStatusOccupied, 1)
	a := newAllocator(f, nil)
	ctx := context.Background()

	beds, err := a.ListAvailable(ctx, nil, ptr(entities.WardTypeICU))
	require.NoError(t, err)
	require.Len(t, beds, 3)
	assert.Equal(t, []int64{h1ICU[0], h1ICU[1], h2ICU[0]}, []int64{beds[0].ID, beds[1].ID, beds[2].ID})

	beds, err = a.ListAvailable(ctx, &h1, nil)
	require.NoError(t, err)
	assert.Len(t, beds, 3)

	_, err = a.ListAvailable(ctx, ptr(int64(9999)), nil)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = a.ListAvailable(ctx, nil, ptr(entities.WardType("Maternity")))
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestBedAllocator_Occupancy(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	f.beds(h1, entities.WardTypeICU, entities.BedStatusAvailable, 1)
	f.beds(h1, entities.WardTypeICU, entities.BedStatusOccupied, 2)
	f.beds(h1, entities.WardTypeGeneral, entities.BedStatusAvailable, 5)
	f.beds(h1, entities.WardTypeGeneral, entities.BedStatusMaintenance, 1)

	snapshot, err := newAllocator(f, nil).Occupancy(context.Background(), h1)
	require.NoError(t, err)
	require.Len(t, snapshot.Wards, 4)

	icu := snapshot.Wards[entities.WardTypeICU]
	assert.Equal(t, entities.WardOccupancy{Total: 3, Occupied: 2, Available: 1, BufferHeadroom: -1}, icu)
	assert.True(t, icu.BelowBuffer())

	general := snapshot.Wards[entities.WardTypeGeneral]
	assert.Equal(t, entities.WardOccupancy{Total: 6, Available: 5, Maintenance: 1, BufferHeadroom: 3}, general)

	assert.Equal(t, 0, snapshot.Wards[entities.WardTypeSpecialCare].Total)

	_, err = newAllocator(f, nil).Occupancy(context.Background(), 9999)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestBedAllocator_ConcurrentAllocationsNeverDoubleBook(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	const beds = 3
	f.beds(h1, entities.WardTypeICU, entities.BedStatusAvailable, beds)

	const requests = 12
	patients := make([]int64, requests)
	for i := range patients {
		patients[i] = f.patient(youngDOB, "")
	}

	tx := services.NewTransactor(f.dir, 50, nil)
	a := services.NewBedAllocator(tx, f.clock, nil, defaultAllocatorConfig, nil)

	var wg sync.WaitGroup
	results := make([]*services.Allocation, requests)
	errs := make([]error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = a.Allocate(context.Background(), services.AllocationRequest{
				PatientID: patients[i], PreferredHospitalID: &h1, WardType: entities.WardTypeICU,
			})
		}(i)
	}
	wg.Wait()

	claimed := make(map[int64]int64)
	for i := range results {
		if errs[i] != nil {
			assert.True(t, apperrors.IsNoCapacity(errs[i]) || apperrors.IsContention(errs[i]), "unexpected error: %v", errs[i])
			continue
		}
		_, dup := claimed[results[i].Bed.ID]
		assert.False(t, dup, "bed %d allocated twice", results[i].Bed.ID)
		claimed[results[i].Bed.ID] = patients[i]
	}
	assert.Len(t, claimed, beds)

	for bedID, patientID := range claimed {
		stored := f.bed(bedID)
		require.NotNil(t, stored.CurrentPatientID)
		assert.Equal(t, patientID, *stored.CurrentPatientID)
	}
}

func TestBedAllocator_ContentionExhaustion(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	bedIDs := f.beds(h1, entities.WardTypeICU, entities.BedStatusAvailable, 1)
	p := f.patient(youngDOB, "")

	dir := &conflictingDirectory{Directory: f.dir}
	tx := services.NewTransactor(dir, 3, nil)
	a := services.NewBedAllocator(tx, f.clock, nil, defaultAllocatorConfig, nil)

	_, err := a.Allocate(context.Background(), services.AllocationRequest{PatientID: p, WardType: entities.WardTypeICU})
	assert.True(t, apperrors.IsContention(err))
	assert.Equal(t, 3, dir.attempts)
	assert.Equal(t, entities.BedStatusAvailable, f.bed(bedIDs[0]).Status)
}

func TestBedAllocator_CommitFailureLeavesBedUntouched(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	bedIDs := f.beds(h1, entities.WardTypeICU, entities.BedStatusAvailable, 1)
	p := f.patient(youngDOB, "")

	tx := services.NewTransactor(failingCommitDirectory{Directory: f.dir}, 3, nil)
	a := services.NewBedAllocator(tx, f.clock, nil, defaultAllocatorConfig, nil)

	_, err := a.Allocate(context.Background(), services.AllocationRequest{PatientID: p, WardType: entities.WardTypeICU})
	assert.ErrorIs(t, err, errCommitFailed)

	bed := f.bed(bedIDs[0])
	assert.Equal(t, entities.BedStatusAvailable, bed.Status)
	assert.Nil(t, bed.CurrentPatientID)
	assert.Nil(t, bed.LastSanitized)
	assert.Equal(t, int64(1), bed.Version)
}

func TestBedAllocator_ExpiredContextIsTimeout(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	f.beds(h1, entities.WardTypeICU, entities.BedStatusAvailable, 1)
	p := f.patient(youngDOB, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newAllocator(f, nil).Allocate(ctx, services.AllocationRequest{PatientID: p, WardType: entities.WardTypeICU})
	assert.Equal(t, apperrors.ErrorTypeTimeout, apperrors.TypeOf(err))
}

func TestBedAllocator_PublishesBedEvents(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	bedIDs := f.beds(h1, entities.WardTypeICU, entities.BedStatusAvailable, 1)
	bus := NewMockEventBus()
	a := newAllocator(f, nil)
	a.SetEventBus(bus)
	ctx := context.Background()

	_, err := a.Allocate(ctx, services.AllocationRequest{PatientID: f.patient(youngDOB, ""), WardType: entities.WardTypeICU})
	require.NoError(t, err)
	_, err = a.Release(ctx, bedIDs[0])
	require.NoError(t, err)

	events := bus.Published(providers.GetHospitalChannel(h1))
	require.Len(t, events, 2)
	assert.Equal(t, entities.ResourceEventTypeBedAllocated, events[0].EventType)
	assert.Equal(t, entities.ResourceEventTypeBedReleased, events[1].EventType)
	assert.Equal(t, bedIDs[0], events[1].ChangedFields["bed_id"])
}

func demandSeries(days int, perWard map[entities.WardType]float64) entities.DemandForecast {
	out := make(entities.DemandForecast, days)
	for d := range out {
		out[d] = make(map[entities.WardType]float64, len(entities.WardTypes))
		for _, wt := range entities.WardTypes {
			out[d][wt] = perWard[wt]
		}
	}
	return out
}

func TestBedAllocator_ForecastAvailability(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	f.beds(h1, entities.WardTypeGeneral, entities.BedStatusAvailable, 12)
	f.beds(h1, entities.WardTypeGeneral, entities.BedStatusOccupied, 8)
	f.beds(h1, entities.WardTypeICU, entities.BedStatusAvailable, 4)

	demand := demandSeries(3, map[entities.WardType]float64{entities.WardTypeGeneral: 4.2, entities.WardTypeICU: 1})
	demand[2][entities.WardTypeGeneral] = 25

	forecaster := new(MockDemandForecaster)
	forecaster.On("PredictDemand", mock.Anything, h1, 3).Return(demand, nil)

	result, err := newAllocator(f, forecaster).ForecastAvailability(context.Background(), h1, 3, services.ForecastOptions{})
	require.NoError(t, err)
	require.Len(t, result.Days, 3)
	assert.False(t, result.Degraded)

	assert.Equal(t, 15, result.Days[0].PredictedAvailable[entities.WardTypeGeneral])
	assert.Equal(t, 3, result.Days[0].PredictedAvailable[entities.WardTypeICU])
	assert.Equal(t, 0, result.Days[0].PredictedAvailable[entities.WardTypeEmergency])
	assert.Equal(t, 0, result.Days[2].PredictedAvailable[entities.WardTypeGeneral])

	midnight := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	for d, day := range result.Days {
		assert.True(t, day.Date.Equal(midnight.AddDate(0, 0, d)))
	}
	forecaster.AssertExpectations(t)
}

func TestBedAllocator_ForecastAvailability_Strict(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	f.beds(h1, entities.WardTypeGeneral, entities.BedStatusAvailable, 5)

	short := demandSeries(2, nil)
	missing := demandSeries(3, nil)
	delete(missing[1], entities.WardTypeICU)
	negative := demandSeries(3, nil)
	negative[0][entities.WardTypeGeneral] = -1
	nan := demandSeries(3, nil)
	nan[2][entities.WardTypeICU] = math.NaN()

	testCases := []struct {
		name   string
		demand entities.DemandForecast
		err    error
	}{
		{"predictor error", nil, errors.New("connection refused")},
		{"short series", short, nil},
		{"missing ward type", missing, nil},
		{"negative demand", negative, nil},
		{"NaN demand", nan, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			forecaster := new(MockDemandForecaster)
			if tc.demand == nil {
				forecaster.On("PredictDemand", mock.Anything, h1, 3).Return(nil, tc.err)
			} else {
				forecaster.On("PredictDemand", mock.Anything, h1, 3).Return(tc.demand, tc.err)
			}

			_, err := newAllocator(f, forecaster).ForecastAvailability(context.Background(), h1, 3, services.ForecastOptions{})
			assert.True(t, apperrors.IsForecastUnavailable(err), "got %v", err)
		})
	}
}

func TestBedAllocator_ForecastAvailability_BestEffort(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	f.beds(h1, entities.WardTypeGeneral, entities.BedStatusAvailable, 5)
	f.beds(h1, entities.WardTypeGeneral, entities.BedStatusOccupied, 2)

	forecaster := new(MockDemandForecaster)
	forecaster.On("PredictDemand", mock.Anything, h1, 2).Return(nil, errors.New("predictor down"))

	result, err := newAllocator(f, forecaster).ForecastAvailability(context.Background(), h1, 2, services.ForecastOptions{BestEffort: true})
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	require.Len(t, result.Days, 2)
	for _, day := range result.Days {
		assert.Equal(t, 7, day.PredictedAvailable[entities.WardTypeGeneral])
	}
}

type blockingForecaster struct{}

func (blockingForecaster) PredictDemand(ctx context.Context, _ int64, _ int) (entities.DemandForecast, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestBedAllocator_ForecastAvailability_PredictorTimeout(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})

	cfg := defaultAllocatorConfig
	cfg.ForecastTimeout = 20 * time.Millisecond
	a := services.NewBedAllocator(f.tx, f.clock, blockingForecaster{}, cfg, nil)

	_, err := a.ForecastAvailability(context.Background(), h1, 3, services.ForecastOptions{})
	assert.True(t, apperrors.IsForecastUnavailable(err))
}

func TestBedAllocator_ForecastAvailability_Validation(t *testing.T) {
	f := newFixture(t)
	h1 := f.hospital("H1", entities.Location{})
	a := newAllocator(f, new(MockDemandForecaster))
	ctx := context.Background()

	_, err := a.ForecastAvailability(ctx, h1, 0, services.ForecastOptions{})
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = a.ForecastAvailability(ctx, h1, services.DefaultMaxForecastDays+1, services.ForecastOptions{})
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = a.ForecastAvailability(ctx, 9999, 3, services.ForecastOptions{})
	assert.True(t, apperrors.IsNotFound(err))
}
