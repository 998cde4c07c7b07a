// Package memory provides an in-memory resource directory. Transactions work
// on a private copy of the state and are validated on commit: a write to a
// bed or appointment that another transaction committed first fails with a
// contention error, so callers can retry.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/providers"
	"github.com/zatekoja/careflow/internal/domain/repositories"
	apperrors "github.com/zatekoja/careflow/pkg/errors"
)

type state struct {
	hospitals    map[int64]*entities.Hospital
	beds         map[int64]*entities.Bed
	patients     map[int64]*entities.Patient
	appointments map[int64]*entities.Appointment
}

func newState() state {
	return state{
		hospitals:    map[int64]*entities.Hospital{},
		beds:         map[int64]*entities.Bed{},
		patients:     map[int64]*entities.Patient{},
		appointments: map[int64]*entities.Appointment{},
	}
}

func (s state) clone() state {
	out := state{
		hospitals:    make(map[int64]*entities.Hospital, len(s.hospitals)),
		beds:         make(map[int64]*entities.Bed, len(s.beds)),
		patients:     make(map[int64]*entities.Patient, len(s.patients)),
		appointments: make(map[int64]*entities.Appointment, len(s.appointments)),
	}
	for k, v := range s.hospitals {
		h := *v
		out.hospitals[k] = &h
	}
	for k, v := range s.beds {
		out.beds[k] = v.Clone()
	}
	for k, v := range s.patients {
		out.patients[k] = v.Clone()
	}
	for k, v := range s.appointments {
		out.appointments[k] = v.Clone()
	}
	return out
}

// Directory is an in-memory implementation of repositories.Directory
type Directory struct {
	mu     sync.RWMutex
	state  state
	nextID atomic.Int64
	clock  providers.Clock
}

// Option configures a Directory
type Option func(*Directory)

// WithClock sets the clock used for audit timestamps
func WithClock(c providers.Clock) Option {
	return func(d *Directory) { d.clock = c }
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// NewDirectory creates an empty in-memory directory
func NewDirectory(opts ...Option) *Directory {
	d := &Directory{state: newState(), clock: wallClock{}}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ repositories.Directory = (*Directory)(nil)

// WithTx runs fn against a private copy of the state and commits its writes
// if none of the written records changed underneath it.
func (d *Directory) WithTx(ctx context.Context, fn func(ctx context.Context, tx repositories.DirectoryTx) error) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewTimeoutError("transaction aborted before start", err)
	}

	d.mu.RLock()
	tx := &transaction{
		dir:            d,
		reader:         reader{state: d.state.clone()},
		now:            d.clock.Now(),
		bedWrites:      map[int64]int64{},
		apptWrites:     map[int64]int64{},
		hospitalWrites: map[int64]bool{},
		created:        map[string]map[int64]bool{},
	}
	d.mu.RUnlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return apperrors.NewTimeoutError("transaction aborted before commit", err)
	}
	return d.commit(tx)
}

// View runs fn against a snapshot of the committed state
func (d *Directory) View(ctx context.Context, fn func(ctx context.Context, r repositories.DirectoryReader) error) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewTimeoutError("view aborted", err)
	}
	d.mu.RLock()
	snapshot := d.state.clone()
	d.mu.RUnlock()

	return fn(ctx, &reader{state: snapshot})
}

func (d *Directory) commit(tx *transaction) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, expected := range tx.bedWrites {
		if tx.created["bed"][id] {
			continue
		}
		current, ok := d.state.beds[id]
		if !ok || current.Version != expected {
			return apperrors.NewContentionError(fmt.Sprintf("bed %d was modified concurrently", id), nil)
		}
	}
	for id, expected := range tx.apptWrites {
		if tx.created["appointment"][id] {
			continue
		}
		current, ok := d.state.appointments[id]
		if !ok || current.Version != expected {
			return apperrors.NewContentionError(fmt.Sprintf("appointment %d was modified concurrently", id), nil)
		}
	}

	for id := range tx.created["hospital"] {
		d.state.hospitals[id] = tx.state.hospitals[id]
	}
	for id := range tx.hospitalWrites {
		d.state.hospitals[id] = tx.state.hospitals[id]
	}
	for id := range tx.created["patient"] {
		d.state.patients[id] = tx.state.patients[id]
	}
	for id := range tx.bedWrites {
		d.state.beds[id] = tx.state.beds[id]
	}
	for id := range tx.created["bed"] {
		d.state.beds[id] = tx.state.beds[id]
	}
	for id := range tx.apptWrites {
		d.state.appointments[id] = tx.state.appointments[id]
	}
	for id := range tx.created["appointment"] {
		d.state.appointments[id] = tx.state.appointments[id]
	}
	return nil
}

type reader struct {
	state state
}

func (r *reader) GetHospital(_ context.Context, id int64) (*entities.Hospital, error) {
	h, ok := r.state.hospitals[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("hospital %d not found", id))
	}
	out := *h
	return &out, nil
}

func (r *reader) ListHospitals(_ context.Context) ([]*entities.Hospital, error) {
	out := make([]*entities.Hospital, 0, len(r.state.hospitals))
	for _, h := range r.state.hospitals {
		if !h.IsActive {
			continue
		}
		cp := *h
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *reader) GetBed(_ context.Context, id int64) (*entities.Bed, error) {
	b, ok := r.state.beds[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("bed %d not found", id))
	}
	return b.Clone(), nil
}

func (r *reader) ListBeds(_ context.Context, filter repositories.BedFilter) ([]*entities.Bed, error) {
	out := make([]*entities.Bed, 0)
	for _, b := range r.state.beds {
		if filter.Matches(b) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HospitalID != out[j].HospitalID {
			return out[i].HospitalID < out[j].HospitalID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *reader) GetPatient(_ context.Context, id int64) (*entities.Patient, error) {
	p, ok := r.state.patients[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("patient %d not found", id))
	}
	return p.Clone(), nil
}

func (r *reader) GetAppointment(_ context.Context, id int64) (*entities.Appointment, error) {
	a, ok := r.state.appointments[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("appointment %d not found", id))
	}
	return a.Clone(), nil
}

func (r *reader) ListAppointments(_ context.Context, filter repositories.AppointmentFilter) ([]*entities.Appointment, error) {
	out := make([]*entities.Appointment, 0)
	for _, a := range r.state.appointments {
		if filter.Matches(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type transaction struct {
	reader
	dir *Directory
	now time.Time

	// version of each written record as first seen by this transaction
	bedWrites  map[int64]int64
	apptWrites map[int64]int64

	hospitalWrites map[int64]bool
	created        map[string]map[int64]bool
}

func (tx *transaction) markCreated(kind string, id int64) {
	if tx.created[kind] == nil {
		tx.created[kind] = map[int64]bool{}
	}
	tx.created[kind][id] = true
}

func (tx *transaction) CreateHospital(_ context.Context, h *entities.Hospital) error {
	if h.Name == "" {
		return apperrors.NewInvalidInputError("hospital name is required")
	}
	h.ID = tx.dir.nextID.Add(1)
	h.Touch(tx.now)
	stored := *h
	tx.state.hospitals[h.ID] = &stored
	tx.markCreated("hospital", h.ID)
	return nil
}

func (tx *transaction) CreateBed(_ context.Context, b *entities.Bed) error {
	if _, ok := tx.state.hospitals[b.HospitalID]; !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("hospital %d not found", b.HospitalID))
	}
	if b.Status == "" {
		b.Status = entities.BedStatusAvailable
	}
	if err := b.Validate(); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	b.ID = tx.dir.nextID.Add(1)
	b.Version = 1
	b.Touch(tx.now)
	tx.state.beds[b.ID] = b.Clone()
	tx.markCreated("bed", b.ID)
	return nil
}

func (tx *transaction) CreatePatient(_ context.Context, p *entities.Patient) error {
	p.ID = tx.dir.nextID.Add(1)
	p.Touch(tx.now)
	tx.state.patients[p.ID] = p.Clone()
	tx.markCreated("patient", p.ID)
	return nil
}

func (tx *transaction) CreateAppointment(_ context.Context, a *entities.Appointment) error {
	if err := a.Validate(); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if _, ok := tx.state.patients[a.PatientID]; !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("patient %d not found", a.PatientID))
	}
	a.ID = tx.dir.nextID.Add(1)
	a.Version = 1
	a.Touch(tx.now)
	tx.state.appointments[a.ID] = a.Clone()
	tx.markCreated("appointment", a.ID)
	return nil
}

func (tx *transaction) UpdateBed(_ context.Context, b *entities.Bed) error {
	current, ok := tx.state.beds[b.ID]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("bed %d not found", b.ID))
	}
	if current.Version != b.Version {
		return apperrors.NewContentionError(fmt.Sprintf("bed %d was modified concurrently", b.ID), nil)
	}
	if err := b.Validate(); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if _, seen := tx.bedWrites[b.ID]; !seen {
		tx.bedWrites[b.ID] = current.Version
	}
	b.Version = current.Version + 1
	b.Touch(tx.now)
	tx.state.beds[b.ID] = b.Clone()
	return nil
}

func (tx *transaction) UpdateAppointment(_ context.Context, a *entities.Appointment) error {
	current, ok := tx.state.appointments[a.ID]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("appointment %d not found", a.ID))
	}
	if current.Version != a.Version {
		return apperrors.NewContentionError(fmt.Sprintf("appointment %d was modified concurrently", a.ID), nil)
	}
	if err := a.Validate(); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if _, seen := tx.apptWrites[a.ID]; !seen {
		tx.apptWrites[a.ID] = current.Version
	}
	a.Version = current.Version + 1
	a.Touch(tx.now)
	tx.state.appointments[a.ID] = a.Clone()
	return nil
}

func (tx *transaction) DeactivateHospital(_ context.Context, id int64) error {
	current, ok := tx.state.hospitals[id]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("hospital %d not found", id))
	}
	updated := *current
	updated.SoftDelete(tx.now)
	tx.state.hospitals[id] = &updated
	tx.hospitalWrites[id] = true
	return nil
}
