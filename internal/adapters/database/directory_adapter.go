package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/providers"
	"github.com/zatekoja/careflow/internal/domain/repositories"
	"github.com/zatekoja/careflow/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/careflow/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/careflow/pkg/errors"
)

//go:embed schema.sql
var schemaSQL string

var dialect = goqu.Dialect("postgres")

var (
	hospitalColumns = []interface{}{"id", "name", "latitude", "longitude", "is_active", "created_at", "updated_at"}
	bedColumns      = []interface{}{
		"id", "hospital_id", "ward_type", "status", "current_patient_id", "last_sanitized",
		"version", "is_active", "created_at", "updated_at",
	}
	patientColumns = []interface{}{
		"id", "first_name", "last_name", "date_of_birth", "medical_history", "history_tags",
		"is_active", "created_at", "updated_at",
	}
	appointmentColumns = []interface{}{
		"id", "patient_id", "doctor_id", "department_id", "scheduled_at", "appointment_type", "status",
		"queue_number", "estimated_wait_minutes", "version", "is_active", "created_at", "updated_at",
	}
)

type hospitalRow struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Latitude  float64   `db:"latitude"`
	Longitude float64   `db:"longitude"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r hospitalRow) toEntity() *entities.Hospital {
	return &entities.Hospital{
		ID:       r.ID,
		Name:     r.Name,
		Location: entities.Location{Latitude: r.Latitude, Longitude: r.Longitude},
		Auditable: entities.Auditable{
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
			IsActive:  r.IsActive,
		},
	}
}

type patientRow struct {
	ID             int64          `db:"id"`
	FirstName      string         `db:"first_name"`
	LastName       string         `db:"last_name"`
	DateOfBirth    sql.NullTime   `db:"date_of_birth"`
	MedicalHistory string         `db:"medical_history"`
	HistoryTags    pq.StringArray `db:"history_tags"`
	IsActive       bool           `db:"is_active"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r patientRow) toEntity() *entities.Patient {
	p := &entities.Patient{
		ID:             r.ID,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		MedicalHistory: r.MedicalHistory,
		Auditable: entities.Auditable{
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
			IsActive:  r.IsActive,
		},
	}
	if r.DateOfBirth.Valid {
		p.DateOfBirth = r.DateOfBirth.Time
	}
	if len(r.HistoryTags) > 0 {
		p.HistoryTags = []string(r.HistoryTags)
	}
	return p
}

// DirectoryAdapter implements repositories.Directory on PostgreSQL. Bed and
// appointment updates are guarded by their version column.
type DirectoryAdapter struct {
	db      *sqlx.DB
	clock   providers.Clock
	metrics *observability.Metrics
}

// DirectoryOption configures a DirectoryAdapter
type DirectoryOption func(*DirectoryAdapter)

// WithDirectoryClock sets the clock used for audit timestamps
func WithDirectoryClock(c providers.Clock) DirectoryOption {
	return func(a *DirectoryAdapter) { a.clock = c }
}

// WithDirectoryMetrics records query durations
func WithDirectoryMetrics(m *observability.Metrics) DirectoryOption {
	return func(a *DirectoryAdapter) { a.metrics = m }
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewDirectoryAdapter creates a new PostgreSQL directory
func NewDirectoryAdapter(client *postgres.Client, opts ...DirectoryOption) *DirectoryAdapter {
	a := &DirectoryAdapter{db: client.DB(), clock: systemClock{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ repositories.Directory = (*DirectoryAdapter)(nil)

// EnsureSchema creates the directory tables when missing
func (a *DirectoryAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, schemaSQL); err != nil {
		return apperrors.NewInternalError("failed to apply schema", err)
	}
	return nil
}

// WithTx implements repositories.Directory
func (a *DirectoryAdapter) WithTx(ctx context.Context, fn func(ctx context.Context, tx repositories.DirectoryTx) error) error {
	sqlTx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return translateError(err, "failed to begin transaction")
	}

	tx := &pgTx{pgReader: pgReader{q: sqlTx, metrics: a.metrics}, now: a.clock.Now()}
	if err := fn(ctx, tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			observability.LoggerFromContext(ctx).Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return translateError(err, "failed to commit transaction")
	}
	return nil
}

// View implements repositories.Directory using a read-only snapshot
func (a *DirectoryAdapter) View(ctx context.Context, fn func(ctx context.Context, r repositories.DirectoryReader) error) error {
	sqlTx, err := a.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return translateError(err, "failed to begin read transaction")
	}
	defer func() { _ = sqlTx.Rollback() }()

	return fn(ctx, &pgReader{q: sqlTx, metrics: a.metrics})
}

// translateError maps driver errors onto application errors. Context errors
// pass through untouched.
func translateError(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return apperrors.NewContentionError(message, err)
		case "23503":
			return apperrors.NewNotFoundError(fmt.Sprintf("%s: referenced record does not exist", message))
		case "23514":
			return apperrors.NewInvalidInputError(fmt.Sprintf("%s: %s", message, pqErr.Message))
		}
	}
	return apperrors.NewInternalError(message, err)
}

type queryer interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

type pgReader struct {
	q       queryer
	metrics *observability.Metrics
}

func (r *pgReader) observe(ctx context.Context, operation string, start time.Time) {
	observability.RecordDBMetric(ctx, r.metrics, operation, time.Since(start))
}

func (r *pgReader) get(ctx context.Context, operation string, dest interface{}, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build query", err)
	}
	defer r.observe(ctx, operation, time.Now())
	return sqlx.GetContext(ctx, r.q, dest, query, args...)
}

func (r *pgReader) selectAll(ctx context.Context, operation string, dest interface{}, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build query", err)
	}
	defer r.observe(ctx, operation, time.Now())
	return sqlx.SelectContext(ctx, r.q, dest, query, args...)
}

func (r *pgReader) GetHospital(ctx context.Context, id int64) (*entities.Hospital, error) {
	var row hospitalRow
	err := r.get(ctx, "get_hospital", &row, dialect.From("hospitals").Select(hospitalColumns...).Where(goqu.Ex{"id": id}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("hospital %d not found", id))
	}
	if err != nil {
		return nil, translateError(err, "failed to get hospital")
	}
	return row.toEntity(), nil
}

func (r *pgReader) ListHospitals(ctx context.Context) ([]*entities.Hospital, error) {
	var rows []hospitalRow
	ds := dialect.From("hospitals").Select(hospitalColumns...).
		Where(goqu.Ex{"is_active": true}).
		Order(goqu.I("id").Asc())
	if err := r.selectAll(ctx, "list_hospitals", &rows, ds); err != nil {
		return nil, translateError(err, "failed to list hospitals")
	}
	out := make([]*entities.Hospital, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

func (r *pgReader) GetBed(ctx context.Context, id int64) (*entities.Bed, error) {
	bed := &entities.Bed{}
	err := r.get(ctx, "get_bed", bed, dialect.From("beds").Select(bedColumns...).Where(goqu.Ex{"id": id}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("bed %d not found", id))
	}
	if err != nil {
		return nil, translateError(err, "failed to get bed")
	}
	return bed, nil
}

func (r *pgReader) ListBeds(ctx context.Context, filter repositories.BedFilter) ([]*entities.Bed, error) {
	ds := dialect.From("beds").Select(bedColumns...)
	if filter.HospitalID != nil {
		ds = ds.Where(goqu.Ex{"hospital_id": *filter.HospitalID})
	}
	if filter.WardType != nil {
		ds = ds.Where(goqu.Ex{"ward_type": string(*filter.WardType)})
	}
	if filter.Status != nil {
		ds = ds.Where(goqu.Ex{"status": string(*filter.Status)})
	}
	ds = ds.Order(goqu.I("hospital_id").Asc(), goqu.I("id").Asc())

	var beds []*entities.Bed
	if err := r.selectAll(ctx, "list_beds", &beds, ds); err != nil {
		return nil, translateError(err, "failed to list beds")
	}
	return beds, nil
}

func (r *pgReader) GetPatient(ctx context.Context, id int64) (*entities.Patient, error) {
	var row patientRow
	err := r.get(ctx, "get_patient", &row, dialect.From("patients").Select(patientColumns...).Where(goqu.Ex{"id": id}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("patient %d not found", id))
	}
	if err != nil {
		return nil, translateError(err, "failed to get patient")
	}
	return row.toEntity(), nil
}

func (r *pgReader) GetAppointment(ctx context.Context, id int64) (*entities.Appointment, error) {
	appt := &entities.Appointment{}
	err := r.get(ctx, "get_appointment", appt, dialect.From("appointments").Select(appointmentColumns...).Where(goqu.Ex{"id": id}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("appointment %d not found", id))
	}
	if err != nil {
		return nil, translateError(err, "failed to get appointment")
	}
	return appt, nil
}

func (r *pgReader) ListAppointments(ctx context.Context, filter repositories.AppointmentFilter) ([]*entities.Appointment, error) {
	ds := dialect.From("appointments").Select(appointmentColumns...)

	var conds []exp.Expression
	if filter.DoctorID != nil {
		conds = append(conds, goqu.C("doctor_id").Eq(*filter.DoctorID))
	}
	if filter.DepartmentID != nil {
		conds = append(conds, goqu.C("department_id").Eq(*filter.DepartmentID))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		conds = append(conds, goqu.C("status").In(statuses))
	}
	if filter.From != nil {
		conds = append(conds, goqu.C("scheduled_at").Gte(*filter.From))
	}
	if filter.To != nil {
		conds = append(conds, goqu.C("scheduled_at").Lte(*filter.To))
	}
	if len(conds) > 0 {
		ds = ds.Where(conds...)
	}
	ds = ds.Order(goqu.I("scheduled_at").Asc(), goqu.I("id").Asc())

	var appts []*entities.Appointment
	if err := r.selectAll(ctx, "list_appointments", &appts, ds); err != nil {
		return nil, translateError(err, "failed to list appointments")
	}
	return appts, nil
}

type pgTx struct {
	pgReader
	now time.Time
}

func (tx *pgTx) insert(ctx context.Context, operation, table string, record goqu.Record) (int64, error) {
	query, args, err := dialect.Insert(table).Rows(record).Returning("id").Prepared(true).ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build insert query", err)
	}
	defer tx.observe(ctx, operation, time.Now())

	var id int64
	if err := sqlx.GetContext(ctx, tx.q, &id, query, args...); err != nil {
		return 0, translateError(err, fmt.Sprintf("failed to insert into %s", table))
	}
	return id, nil
}

// updateVersioned applies record where the row still has the expected
// version. Zero affected rows means either a concurrent writer or a
// missing row.
func (tx *pgTx) updateVersioned(ctx context.Context, operation, table, kind string, id, version int64, record goqu.Record) error {
	query, args, err := dialect.Update(table).
		Set(record).
		Where(goqu.Ex{"id": id, "version": version}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	start := time.Now()
	result, err := tx.q.ExecContext(ctx, query, args...)
	tx.observe(ctx, operation, start)
	if err != nil {
		return translateError(err, fmt.Sprintf("failed to update %s", kind))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rows == 0 {
		var exists bool
		existsQuery, existsArgs, _ := dialect.From(table).
			Select(goqu.L("COUNT(*) > 0")).
			Where(goqu.Ex{"id": id}).
			Prepared(true).
			ToSQL()
		if err := sqlx.GetContext(ctx, tx.q, &exists, existsQuery, existsArgs...); err != nil {
			return translateError(err, fmt.Sprintf("failed to check %s", kind))
		}
		if !exists {
			return apperrors.NewNotFoundError(fmt.Sprintf("%s %d not found", kind, id))
		}
		return apperrors.NewContentionError(fmt.Sprintf("%s %d was modified concurrently", kind, id), nil)
	}
	return nil
}

func (tx *pgTx) CreateHospital(ctx context.Context, h *entities.Hospital) error {
	if h.Name == "" {
		return apperrors.NewInvalidInputError("hospital name is required")
	}
	h.Touch(tx.now)
	id, err := tx.insert(ctx, "create_hospital", "hospitals", goqu.Record{
		"name":       h.Name,
		"latitude":   h.Location.Latitude,
		"longitude":  h.Location.Longitude,
		"is_active":  h.IsActive,
		"created_at": h.CreatedAt,
		"updated_at": h.UpdatedAt,
	})
	if err != nil {
		return err
	}
	h.ID = id
	return nil
}

func (tx *pgTx) CreateBed(ctx context.Context, b *entities.Bed) error {
	if _, err := tx.GetHospital(ctx, b.HospitalID); err != nil {
		return err
	}
	if b.Status == "" {
		b.Status = entities.BedStatusAvailable
	}
	if err := b.Validate(); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	b.Version = 1
	b.Touch(tx.now)
	id, err := tx.insert(ctx, "create_bed", "beds", goqu.Record{
		"hospital_id":        b.HospitalID,
		"ward_type":          string(b.WardType),
		"status":             string(b.Status),
		"current_patient_id": b.CurrentPatientID,
		"last_sanitized":     b.LastSanitized,
		"version":            b.Version,
		"is_active":          b.IsActive,
		"created_at":         b.CreatedAt,
		"updated_at":         b.UpdatedAt,
	})
	if err != nil {
		return err
	}
	b.ID = id
	return nil
}

func (tx *pgTx) CreatePatient(ctx context.Context, p *entities.Patient) error {
	p.Touch(tx.now)
	var dob sql.NullTime
	if !p.DateOfBirth.IsZero() {
		dob = sql.NullTime{Time: p.DateOfBirth, Valid: true}
	}
	tags := pq.StringArray(p.HistoryTags)
	if tags == nil {
		tags = pq.StringArray{}
	}
	id, err := tx.insert(ctx, "create_patient", "patients", goqu.Record{
		"first_name":      p.FirstName,
		"last_name":       p.LastName,
		"date_of_birth":   dob,
		"medical_history": p.MedicalHistory,
		"history_tags":    tags,
		"is_active":       p.IsActive,
		"created_at":      p.CreatedAt,
		"updated_at":      p.UpdatedAt,
	})
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

func (tx *pgTx) CreateAppointment(ctx context.Context, a *entities.Appointment) error {
	if err := a.Validate(); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if _, err := tx.GetPatient(ctx, a.PatientID); err != nil {
		return err
	}
	a.Version = 1
	a.Touch(tx.now)
	id, err := tx.insert(ctx, "create_appointment", "appointments", goqu.Record{
		"patient_id":             a.PatientID,
		"doctor_id":              a.DoctorID,
		"department_id":          a.DepartmentID,
		"scheduled_at":           a.ScheduledAt,
		"appointment_type":       string(a.Type),
		"status":                 string(a.Status),
		"queue_number":           a.QueueNumber,
		"estimated_wait_minutes": a.EstimatedWaitMinutes,
		"version":                a.Version,
		"is_active":              a.IsActive,
		"created_at":             a.CreatedAt,
		"updated_at":             a.UpdatedAt,
	})
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}

func (tx *pgTx) UpdateBed(ctx context.Context, b *entities.Bed) error {
	if err := b.Validate(); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	next := b.Version + 1
	err := tx.updateVersioned(ctx, "update_bed", "beds", "bed", b.ID, b.Version, goqu.Record{
		"ward_type":          string(b.WardType),
		"status":             string(b.Status),
		"current_patient_id": b.CurrentPatientID,
		"last_sanitized":     b.LastSanitized,
		"version":            next,
		"is_active":          b.IsActive,
		"updated_at":         tx.now,
	})
	if err != nil {
		return err
	}
	b.Version = next
	b.UpdatedAt = tx.now
	return nil
}

func (tx *pgTx) UpdateAppointment(ctx context.Context, a *entities.Appointment) error {
	if err := a.Validate(); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	next := a.Version + 1
	err := tx.updateVersioned(ctx, "update_appointment", "appointments", "appointment", a.ID, a.Version, goqu.Record{
		"doctor_id":              a.DoctorID,
		"department_id":          a.DepartmentID,
		"scheduled_at":           a.ScheduledAt,
		"appointment_type":       string(a.Type),
		"status":                 string(a.Status),
		"queue_number":           a.QueueNumber,
		"estimated_wait_minutes": a.EstimatedWaitMinutes,
		"version":                next,
		"is_active":              a.IsActive,
		"updated_at":             tx.now,
	})
	if err != nil {
		return err
	}
	a.Version = next
	a.UpdatedAt = tx.now
	return nil
}

func (tx *pgTx) DeactivateHospital(ctx context.Context, id int64) error {
	query, args, err := dialect.Update("hospitals").
		Set(goqu.Record{"is_active": false, "updated_at": tx.now}).
		Where(goqu.Ex{"id": id}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	start := time.Now()
	result, err := tx.q.ExecContext(ctx, query, args...)
	tx.observe(ctx, "deactivate_hospital", start)
	if err != nil {
		return translateError(err, "failed to deactivate hospital")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rows == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("hospital %d not found", id))
	}
	return nil
}
