package database

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/repositories"
	"github.com/zatekoja/careflow/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/careflow/pkg/clock"
	apperrors "github.com/zatekoja/careflow/pkg/errors"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func setupMockDB(t *testing.T) (*DirectoryAdapter, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "postgres")
	adapter := NewDirectoryAdapter(postgres.NewClientFromDB(db), WithDirectoryClock(clock.NewFixed(testNow)))
	return adapter, mock
}

func bedRows() *sqlmock.Rows {
	cols := make([]string, len(bedColumns))
	for i, c := range bedColumns {
		cols[i] = c.(string)
	}
	return sqlmock.NewRows(cols)
}

func TestDirectoryAdapter_GetBedNotFound(t *testing.T) {
	adapter, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "beds"`)).WithArgs(int64(42)).WillReturnRows(bedRows())
	mock.ExpectRollback()

	err := adapter.View(context.Background(), func(ctx context.Context, r repositories.DirectoryReader) error {
		_, err := r.GetBed(ctx, 42)
		return err
	})

	assert.True(t, apperrors.IsNotFound(err))
	assert.EqualError(t, err, "NOT_FOUND: bed 42 not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryAdapter_ListBeds(t *testing.T) {
	adapter, mock := setupMockDB(t)

	rows := bedRows().
		AddRow(int64(1), int64(7), "General", "available", nil, nil, int64(1), true, testNow, testNow).
		AddRow(int64(2), int64(7), "General", "occupied", int64(99), testNow, int64(3), true, testNow, testNow)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY "hospital_id" ASC, "id" ASC`)).WillReturnRows(rows)
	mock.ExpectRollback()

	var beds []*entities.Bed
	wt := entities.WardTypeGeneral
	err := adapter.View(context.Background(), func(ctx context.Context, r repositories.DirectoryReader) error {
		var err error
		beds, err = r.ListBeds(ctx, repositories.BedFilter{WardType: &wt})
		return err
	})

	require.NoError(t, err)
	require.Len(t, beds, 2)
	assert.Equal(t, entities.BedStatusAvailable, beds[0].Status)
	assert.Nil(t, beds[0].CurrentPatientID)
	require.NotNil(t, beds[1].CurrentPatientID)
	assert.Equal(t, int64(99), *beds[1].CurrentPatientID)
	assert.Equal(t, int64(3), beds[1].Version)
	assert.True(t, beds[1].IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryAdapter_UpdateBedBumpsVersion(t *testing.T) {
	adapter, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "beds" SET`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	pid := int64(5)
	bed := &entities.Bed{ID: 3, HospitalID: 1, WardType: entities.WardTypeICU, Status: entities.BedStatusOccupied, CurrentPatientID: &pid, Version: 4}
	err := adapter.WithTx(context.Background(), func(ctx context.Context, tx repositories.DirectoryTx) error {
		return tx.UpdateBed(ctx, bed)
	})

	require.NoError(t, err)
	assert.Equal(t, int64(5), bed.Version)
	assert.Equal(t, testNow, bed.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryAdapter_UpdateBedStaleVersion(t *testing.T) {
	adapter, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "beds" SET`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`COUNT(*) > 0`)).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	bed := &entities.Bed{ID: 3, HospitalID: 1, WardType: entities.WardTypeICU, Status: entities.BedStatusAvailable, Version: 4}
	err := adapter.WithTx(context.Background(), func(ctx context.Context, tx repositories.DirectoryTx) error {
		return tx.UpdateBed(ctx, bed)
	})

	assert.True(t, apperrors.IsContention(err))
	assert.Equal(t, int64(4), bed.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryAdapter_UpdateMissingAppointment(t *testing.T) {
	adapter, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "appointments" SET`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`COUNT(*) > 0`)).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	appt := &entities.Appointment{
		ID:          8,
		PatientID:   1,
		ScheduledAt: testNow,
		Type:        entities.AppointmentTypeRegular,
		Status:      entities.AppointmentStatusScheduled,
		Version:     1,
	}
	err := adapter.WithTx(context.Background(), func(ctx context.Context, tx repositories.DirectoryTx) error {
		return tx.UpdateAppointment(ctx, appt)
	})

	assert.True(t, apperrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryAdapter_InvalidBedNeverReachesDatabase(t *testing.T) {
	adapter, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	bed := &entities.Bed{ID: 3, HospitalID: 1, WardType: entities.WardTypeICU, Status: entities.BedStatusOccupied, Version: 1}
	err := adapter.WithTx(context.Background(), func(ctx context.Context, tx repositories.DirectoryTx) error {
		return tx.UpdateBed(ctx, bed)
	})

	assert.True(t, apperrors.IsInvalidInput(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryAdapter_CreateHospital(t *testing.T) {
	adapter, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "hospitals"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectCommit()

	h := &entities.Hospital{Name: "Lagos General", Location: entities.Location{Latitude: 6.45, Longitude: 3.39}}
	err := adapter.WithTx(context.Background(), func(ctx context.Context, tx repositories.DirectoryTx) error {
		return tx.CreateHospital(ctx, h)
	})

	require.NoError(t, err)
	assert.Equal(t, int64(11), h.ID)
	assert.True(t, h.IsActive)
	assert.Equal(t, testNow, h.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryAdapter_DeactivateHospital(t *testing.T) {
	adapter, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "hospitals" SET`)).
		WithArgs(false, testNow, int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := adapter.WithTx(context.Background(), func(ctx context.Context, tx repositories.DirectoryTx) error {
		return tx.DeactivateHospital(ctx, 11)
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryAdapter_DeactivateMissingHospital(t *testing.T) {
	adapter, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "hospitals" SET`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := adapter.WithTx(context.Background(), func(ctx context.Context, tx repositories.DirectoryTx) error {
		return tx.DeactivateHospital(ctx, 99)
	})

	assert.True(t, apperrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryAdapter_GetPatientHistoryTags(t *testing.T) {
	adapter, mock := setupMockDB(t)

	dob := time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "first_name", "last_name", "date_of_birth", "medical_history", "history_tags",
		"is_active", "created_at", "updated_at",
	}).AddRow(int64(4), "Ada", "Obi", dob, "t2dm, htn", []byte(`{diabetes,hypertension}`), true, testNow, testNow)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "patients"`)).WillReturnRows(rows)
	mock.ExpectRollback()

	var patient *entities.Patient
	err := adapter.View(context.Background(), func(ctx context.Context, r repositories.DirectoryReader) error {
		var err error
		patient, err = r.GetPatient(ctx, 4)
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"diabetes", "hypertension"}, patient.HistoryTags)
	assert.Equal(t, dob, patient.DateOfBirth)
	assert.Equal(t, "Ada Obi", patient.FullName())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryAdapter_SerializationFailureIsContention(t *testing.T) {
	adapter, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "beds" SET`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})

	bed := &entities.Bed{ID: 3, HospitalID: 1, WardType: entities.WardTypeICU, Status: entities.BedStatusAvailable, Version: 1}
	err := adapter.WithTx(context.Background(), func(ctx context.Context, tx repositories.DirectoryTx) error {
		return tx.UpdateBed(ctx, bed)
	})

	assert.True(t, apperrors.IsContention(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryAdapter_CallbackErrorRollsBack(t *testing.T) {
	adapter, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := adapter.WithTx(context.Background(), func(ctx context.Context, tx repositories.DirectoryTx) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperrors.ErrorType
	}{
		{name: "serialization failure", err: &pq.Error{Code: "40001"}, want: apperrors.ErrorTypeContention},
		{name: "deadlock", err: &pq.Error{Code: "40P01"}, want: apperrors.ErrorTypeContention},
		{name: "foreign key", err: &pq.Error{Code: "23503"}, want: apperrors.ErrorTypeNotFound},
		{name: "check violation", err: &pq.Error{Code: "23514", Message: "beds_occupancy"}, want: apperrors.ErrorTypeInvalidInput},
		{name: "other driver error", err: sql.ErrConnDone, want: apperrors.ErrorTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperrors.TypeOf(translateError(tt.err, "op")))
		})
	}

	assert.ErrorIs(t, translateError(context.DeadlineExceeded, "op"), context.DeadlineExceeded)
	assert.Nil(t, translateError(nil, "op"))
}
