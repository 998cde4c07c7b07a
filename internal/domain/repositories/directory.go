package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/careflow/internal/domain/entities"
)

// DirectoryReader defines read operations on the resource directory
type DirectoryReader interface {
	// GetHospital retrieves a hospital by ID
	GetHospital(ctx context.Context, id int64) (*entities.Hospital, error)

	// ListHospitals retrieves active hospitals ordered by ID
	ListHospitals(ctx context.Context) ([]*entities.Hospital, error)

	// GetBed retrieves a bed by ID
	GetBed(ctx context.Context, id int64) (*entities.Bed, error)

	// ListBeds retrieves beds matching the filter ordered by hospital ID, then bed ID
	ListBeds(ctx context.Context, filter BedFilter) ([]*entities.Bed, error)

	// GetPatient retrieves a patient by ID
	GetPatient(ctx context.Context, id int64) (*entities.Patient, error)

	// GetAppointment retrieves an appointment by ID
	GetAppointment(ctx context.Context, id int64) (*entities.Appointment, error)

	// ListAppointments retrieves appointments matching the filter ordered by scheduled time, then ID
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]*entities.Appointment, error)
}

// DirectoryWriter defines write operations on the resource directory. Updates
// are version-checked: a record modified since it was read fails with a
// contention error and the record's Version is bumped on success.
type DirectoryWriter interface {
	// CreateHospital stores a new hospital and assigns its ID
	CreateHospital(ctx context.Context, hospital *entities.Hospital) error

	// CreateBed stores a new bed and assigns its ID
	CreateBed(ctx context.Context, bed *entities.Bed) error

	// CreatePatient stores a new patient and assigns its ID
	CreatePatient(ctx context.Context, patient *entities.Patient) error

	// CreateAppointment stores a new appointment and assigns its ID
	CreateAppointment(ctx context.Context, appointment *entities.Appointment) error

	// UpdateBed persists bed state
	UpdateBed(ctx context.Context, bed *entities.Bed) error

	// UpdateAppointment persists appointment state
	UpdateAppointment(ctx context.Context, appointment *entities.Appointment) error

	// DeactivateHospital soft-deletes a hospital so it no longer appears in
	// ListHospitals. Its beds and history are kept.
	DeactivateHospital(ctx context.Context, id int64) error
}

// DirectoryTx is the transactional handle passed to WithTx callbacks
type DirectoryTx interface {
	DirectoryReader
	DirectoryWriter
}

// Directory is the single source of truth for hospitals, beds, patients and
// appointments.
type Directory interface {
	// WithTx runs fn in one transaction. A non-nil error from fn rolls back
	// every write made through tx.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx DirectoryTx) error) error

	// View runs fn against a read-only snapshot
	View(ctx context.Context, fn func(ctx context.Context, r DirectoryReader) error) error
}

// BedFilter defines filters for listing beds
type BedFilter struct {
	HospitalID *int64
	WardType   *entities.WardType
	Status     *entities.BedStatus
}

// AppointmentFilter defines filters for listing appointments
type AppointmentFilter struct {
	DoctorID     *int64
	DepartmentID *int64
	Statuses     []entities.AppointmentStatus

	// From and To bound ScheduledAt inclusively
	From *time.Time
	To   *time.Time
}

// Matches reports whether bed satisfies the filter
func (f BedFilter) Matches(bed *entities.Bed) bool {
	if f.HospitalID != nil && bed.HospitalID != *f.HospitalID {
		return false
	}
	if f.WardType != nil && bed.WardType != *f.WardType {
		return false
	}
	if f.Status != nil && bed.Status != *f.Status {
		return false
	}
	return true
}

// Matches reports whether appointment satisfies the filter
func (f AppointmentFilter) Matches(a *entities.Appointment) bool {
	if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
		return false
	}
	if f.DepartmentID != nil && a.DepartmentID != *f.DepartmentID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if a.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && a.ScheduledAt.Before(*f.From) {
		return false
	}
	if f.To != nil && a.ScheduledAt.After(*f.To) {
		return false
	}
	return true
}
