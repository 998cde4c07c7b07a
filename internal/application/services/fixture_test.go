package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/careflow/internal/adapters/memory"
	"github.com/zatekoja/careflow/internal/application/services"
	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/repositories"
	"github.com/zatekoja/careflow/pkg/clock"
	apperrors "github.com/zatekoja/careflow/pkg/errors"
)

// Monday 09:00 local to the fixture clock
var fixtureNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	dir   *memory.Directory
	clock *clock.Fixed
	tx    *services.Transactor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFixed(fixtureNow)
	dir := memory.NewDirectory(memory.WithClock(clk))
	return &fixture{
		t:     t,
		dir:   dir,
		clock: clk,
		tx:    services.NewTransactor(dir, services.DefaultTxMaxAttempts, nil),
	}
}

func (f *fixture) write(fn func(ctx context.Context, tx repositories.DirectoryTx) error) {
	f.t.Helper()
	require.NoError(f.t, f.dir.WithTx(context.Background(), fn))
}

func (f *fixture) hospital(name string, loc entities.Location) int64 {
	f.t.Helper()
	h := &entities.Hospital{Name: name, Location: loc}
	f.write(func(ctx context.Context, tx repositories.DirectoryTx) error {
		return tx.CreateHospital(ctx, h)
	})
	return h.ID
}

func (f *fixture) beds(hospitalID int64, wardType entities.WardType, status entities.BedStatus, n int) []int64 {
	f.t.Helper()
	var ids []int64
	f.write(func(ctx context.Context, tx repositories.DirectoryTx) error {
		for i := 0; i < n; i++ {
			b := &entities.Bed{HospitalID: hospitalID, WardType: wardType, Status: status}
			if status == entities.BedStatusOccupied {
				pid := int64(-1)
				b.CurrentPatientID = &pid
			}
			if err := tx.CreateBed(ctx, b); err != nil {
				return err
			}
			ids = append(ids, b.ID)
		}
		return nil
	})
	return ids
}

func (f *fixture) patient(dob time.Time, history string) int64 {
	f.t.Helper()
	p := &entities.Patient{FirstName: "Test", LastName: "Patient", DateOfBirth: dob, MedicalHistory: history}
	f.write(func(ctx context.Context, tx repositories.DirectoryTx) error {
		return tx.CreatePatient(ctx, p)
	})
	return p.ID
}

func (f *fixture) appointment(a entities.Appointment) int64 {
	f.t.Helper()
	if a.Type == "" {
		a.Type = entities.AppointmentTypeRegular
	}
	if a.Status == "" {
		a.Status = entities.AppointmentStatusScheduled
	}
	f.write(func(ctx context.Context, tx repositories.DirectoryTx) error {
		return tx.CreateAppointment(ctx, &a)
	})
	return a.ID
}

func (f *fixture) bed(id int64) *entities.Bed {
	f.t.Helper()
	var bed *entities.Bed
	require.NoError(f.t, f.dir.View(context.Background(), func(ctx context.Context, r repositories.DirectoryReader) error {
		var err error
		bed, err = r.GetBed(ctx, id)
		return err
	}))
	return bed
}

func (f *fixture) getAppointment(id int64) *entities.Appointment {
	f.t.Helper()
	var appt *entities.Appointment
	require.NoError(f.t, f.dir.View(context.Background(), func(ctx context.Context, r repositories.DirectoryReader) error {
		var err error
		appt, err = r.GetAppointment(ctx, id)
		return err
	}))
	return appt
}

// MockDemandForecaster is a testify mock of providers.DemandForecaster
type MockDemandForecaster struct {
	mock.Mock
}

func (m *MockDemandForecaster) PredictDemand(ctx context.Context, hospitalID int64, daysAhead int) (entities.DemandForecast, error) {
	args := m.Called(ctx, hospitalID, daysAhead)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(entities.DemandForecast), args.Error(1)
}

// failingCommitDirectory runs the transaction body, then fails instead of
// committing.
type failingCommitDirectory struct {
	repositories.Directory
}

var (
	errCommitFailed = errors.New("commit failed")
	errConflict     = apperrors.NewContentionError("record was modified concurrently", nil)
)

func (d failingCommitDirectory) WithTx(ctx context.Context, fn func(ctx context.Context, tx repositories.DirectoryTx) error) error {
	return d.Directory.WithTx(ctx, func(ctx context.Context, tx repositories.DirectoryTx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return errCommitFailed
	})
}

// conflictingDirectory reports a write conflict on every commit
type conflictingDirectory struct {
	repositories.Directory
	attempts int
}

func (d *conflictingDirectory) WithTx(ctx context.Context, fn func(ctx context.Context, tx repositories.DirectoryTx) error) error {
	d.attempts++
	return d.Directory.WithTx(ctx, func(ctx context.Context, tx repositories.DirectoryTx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return errConflict
	})
}
