package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/providers"
	"github.com/zatekoja/careflow/internal/domain/repositories"
	"github.com/zatekoja/careflow/internal/infrastructure/observability"
	"github.com/zatekoja/careflow/pkg/clock"
	apperrors "github.com/zatekoja/careflow/pkg/errors"
	"github.com/zatekoja/careflow/pkg/utils"
)

// DefaultAverageConsultationMinutes is the assumed length of one consultation
const DefaultAverageConsultationMinutes = 15

// QueueAssignment is the outcome of re-queuing one appointment
type QueueAssignment struct {
	AppointmentID        int64     `json:"appointment_id"`
	PatientID            int64     `json:"patient_id"`
	DoctorID             int64     `json:"doctor_id"`
	ScheduledAt          time.Time `json:"scheduled_at"`
	PriorityScore        int       `json:"priority_score"`
	QueueNumber          int       `json:"queue_number"`
	EstimatedWaitMinutes int       `json:"estimated_wait_minutes"`
}

// QueueOptimization is the result of OptimizeQueue
type QueueOptimization struct {
	DepartmentID int64             `json:"department_id"`
	Assignments  []QueueAssignment `json:"assignments"`

	// Updated counts appointments whose queue number or wait changed
	Updated int `json:"updated"`
}

// BookingRequest describes a new appointment
type BookingRequest struct {
	PatientID    int64
	DoctorID     int64
	DepartmentID int64
	ScheduledAt  time.Time
	Type         entities.AppointmentType
}

// QueueScheduler orders a department's appointments by urgency and estimates
// wait times per doctor.
type QueueScheduler struct {
	tx         *Transactor
	clock      providers.Clock
	normalizer *utils.HistoryNormalizer
	avgMinutes int
	metrics    *observability.Metrics
	events     eventPublisher
}

// NewQueueScheduler creates a new queue scheduler
func NewQueueScheduler(tx *Transactor, clk providers.Clock, avgConsultationMinutes int, metrics *observability.Metrics) *QueueScheduler {
	if avgConsultationMinutes <= 0 {
		avgConsultationMinutes = DefaultAverageConsultationMinutes
	}
	return &QueueScheduler{
		tx:         tx,
		clock:      clk,
		normalizer: utils.DefaultHistoryNormalizer(),
		avgMinutes: avgConsultationMinutes,
		metrics:    metrics,
	}
}

// SetEventBus sets the event bus for queue change notifications
func (s *QueueScheduler) SetEventBus(bus providers.EventBus) {
	s.events.bus = bus
}

// SetHistoryNormalizer replaces the medical history normalizer
func (s *QueueScheduler) SetHistoryNormalizer(n *utils.HistoryNormalizer) {
	if n != nil {
		s.normalizer = n
	}
}

// EstimateWait returns the expected wait in minutes for an appointment with
// doctorID at appointmentTime, counting the doctor's active appointments from
// the start of that day up to and including appointmentTime.
func (s *QueueScheduler) EstimateWait(ctx context.Context, doctorID, departmentID int64, appointmentTime time.Time) (int, error) {
	if appointmentTime.IsZero() {
		return 0, apperrors.NewInvalidInputError("appointment time is required")
	}

	ctx, span := observability.StartSpan(ctx, "QueueScheduler.EstimateWait")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.Int64("doctor_id", doctorID),
		attribute.Int64("department_id", departmentID),
	)

	var wait int
	err := s.tx.View(ctx, func(ctx context.Context, r repositories.DirectoryReader) error {
		var err error
		wait, err = s.estimateWait(ctx, r, doctorID, appointmentTime)
		return err
	})
	if err != nil {
		observability.RecordError(span, err)
		return 0, err
	}
	return wait, nil
}

func (s *QueueScheduler) estimateWait(ctx context.Context, r repositories.DirectoryReader, doctorID int64, appointmentTime time.Time) (int, error) {
	local := appointmentTime.In(s.clock.Now().Location())
	dayStart := clock.StartOfDay(local)

	active, err := r.ListAppointments(ctx, repositories.AppointmentFilter{
		DoctorID: &doctorID,
		Statuses: entities.ActiveAppointmentStatuses,
		From:     &dayStart,
		To:       &appointmentTime,
	})
	if err != nil {
		return 0, err
	}
	return len(active) * s.avgMinutes, nil
}

// PriorityScore returns the urgency score of an appointment for its patient
func (s *QueueScheduler) PriorityScore(appointment *entities.Appointment, patient *entities.Patient) int {
	return priorityScore(appointment, patient, s.clock.Now(), s.normalizer)
}

// OptimizeQueue recomputes queue numbers and wait estimates for every
// upcoming scheduled appointment of a department in one transaction.
func (s *QueueScheduler) OptimizeQueue(ctx context.Context, departmentID int64) (*QueueOptimization, error) {
	ctx, span := observability.StartSpan(ctx, "QueueScheduler.OptimizeQueue")
	defer span.End()
	observability.SetSpanAttributes(span, attribute.Int64("department_id", departmentID))

	var result *QueueOptimization
	err := s.tx.Run(ctx, "optimize_queue", func(ctx context.Context, tx repositories.DirectoryTx) error {
		var err error
		result, err = s.optimize(ctx, tx, departmentID)
		return err
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	observability.RecordQueueOptimized(ctx, s.metrics, departmentID, result.Updated)
	observability.LoggerFromContext(ctx).Info().
		Int64("department_id", departmentID).
		Int("appointments", len(result.Assignments)).
		Int("updated", result.Updated).
		Msg("queue optimized")

	if result.Updated > 0 {
		event := entities.NewQueueEvent(entities.ResourceEventTypeQueueOptimized, departmentID, s.clock.Now(), map[string]interface{}{
			"appointments": len(result.Assignments),
			"updated":      result.Updated,
		})
		s.events.publish(ctx, event, providers.GetDepartmentChannel(departmentID))
	}
	return result, nil
}

func (s *QueueScheduler) optimize(ctx context.Context, tx repositories.DirectoryTx, departmentID int64) (*QueueOptimization, error) {
	now := s.clock.Now()

	all, err := tx.ListAppointments(ctx, repositories.AppointmentFilter{DepartmentID: &departmentID})
	if err != nil {
		return nil, err
	}
	// Same-slot counts include every status
	slotCounts := make(map[int64]int, len(all))
	for _, a := range all {
		slotCounts[a.ScheduledAt.UnixNano()]++
	}

	upcoming, err := tx.ListAppointments(ctx, repositories.AppointmentFilter{
		DepartmentID: &departmentID,
		Statuses:     []entities.AppointmentStatus{entities.AppointmentStatusScheduled},
		From:         &now,
	})
	if err != nil {
		return nil, err
	}

	result := &QueueOptimization{DepartmentID: departmentID, Assignments: make([]QueueAssignment, 0, len(upcoming))}
	patients := make(map[int64]*entities.Patient)

	for _, appt := range upcoming {
		patient, ok := patients[appt.PatientID]
		if !ok {
			patient, err = tx.GetPatient(ctx, appt.PatientID)
			if err != nil {
				if apperrors.IsNotFound(err) {
					return nil, apperrors.NewNotFoundError(fmt.Sprintf("patient %d of appointment %d not found", appt.PatientID, appt.ID))
				}
				return nil, err
			}
			patients[appt.PatientID] = patient
		}

		score := priorityScore(appt, patient, now, s.normalizer)
		number := queueNumber(slotCounts[appt.ScheduledAt.UnixNano()], score)
		wait, err := s.estimateWait(ctx, tx, appt.DoctorID, appt.ScheduledAt)
		if err != nil {
			return nil, err
		}

		if appt.QueueNumber == nil || *appt.QueueNumber != number ||
			appt.EstimatedWaitMinutes == nil || *appt.EstimatedWaitMinutes != wait {
			appt.SetQueue(number, wait)
			if err := tx.UpdateAppointment(ctx, appt); err != nil {
				return nil, err
			}
			result.Updated++
		}

		result.Assignments = append(result.Assignments, QueueAssignment{
			AppointmentID:        appt.ID,
			PatientID:            appt.PatientID,
			DoctorID:             appt.DoctorID,
			ScheduledAt:          appt.ScheduledAt,
			PriorityScore:        score,
			QueueNumber:          number,
			EstimatedWaitMinutes: wait,
		})
	}

	sort.SliceStable(result.Assignments, func(i, j int) bool {
		a, b := result.Assignments[i], result.Assignments[j]
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		return a.AppointmentID < b.AppointmentID
	})
	return result, nil
}

// BookAppointment stores a new scheduled appointment with its wait estimate.
// The estimate does not count the new appointment itself.
func (s *QueueScheduler) BookAppointment(ctx context.Context, req BookingRequest) (*entities.Appointment, error) {
	if req.ScheduledAt.IsZero() {
		return nil, apperrors.NewInvalidInputError("appointment time is required")
	}
	if req.Type == "" {
		req.Type = entities.AppointmentTypeRegular
	}
	if !req.Type.IsValid() {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("invalid appointment type %q", req.Type))
	}

	ctx, span := observability.StartSpan(ctx, "QueueScheduler.BookAppointment")
	defer span.End()

	var booked *entities.Appointment
	err := s.tx.Run(ctx, "book_appointment", func(ctx context.Context, tx repositories.DirectoryTx) error {
		if _, err := tx.GetPatient(ctx, req.PatientID); err != nil {
			return err
		}
		wait, err := s.estimateWait(ctx, tx, req.DoctorID, req.ScheduledAt)
		if err != nil {
			return err
		}
		appt := &entities.Appointment{
			PatientID:            req.PatientID,
			DoctorID:             req.DoctorID,
			DepartmentID:         req.DepartmentID,
			ScheduledAt:          req.ScheduledAt,
			Type:                 req.Type,
			Status:               entities.AppointmentStatusScheduled,
			EstimatedWaitMinutes: &wait,
		}
		if err := tx.CreateAppointment(ctx, appt); err != nil {
			return err
		}
		booked = appt
		return nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	observability.LoggerFromContext(ctx).Info().
		Int64("appointment_id", booked.ID).
		Int64("doctor_id", booked.DoctorID).
		Int("estimated_wait_minutes", *booked.EstimatedWaitMinutes).
		Msg("appointment booked")

	s.events.publish(ctx, s.appointmentEvent(booked), providers.GetDepartmentChannel(booked.DepartmentID))
	return booked, nil
}

// UpdateAppointmentStatus moves an appointment through its lifecycle.
// Completing an appointment re-optimises the department queue; a failure
// there is logged since the status change is already committed.
func (s *QueueScheduler) UpdateAppointmentStatus(ctx context.Context, appointmentID int64, status entities.AppointmentStatus) (*entities.Appointment, error) {
	if !status.IsValid() {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("invalid appointment status %q", status))
	}

	ctx, span := observability.StartSpan(ctx, "QueueScheduler.UpdateAppointmentStatus")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.Int64("appointment_id", appointmentID),
		attribute.String("status", string(status)),
	)

	var updated *entities.Appointment
	err := s.tx.Run(ctx, "update_appointment_status", func(ctx context.Context, tx repositories.DirectoryTx) error {
		appt, err := tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if !appt.Status.CanTransitionTo(status) {
			return apperrors.NewInvalidInputError(fmt.Sprintf("cannot move appointment %d from %s to %s", appt.ID, appt.Status, status))
		}
		appt.Status = status
		if status.IsTerminal() {
			appt.ClearQueue()
		}
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
		updated = appt
		return nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	s.events.publish(ctx, s.appointmentEvent(updated), providers.GetDepartmentChannel(updated.DepartmentID))

	if status == entities.AppointmentStatusCompleted {
		if _, err := s.OptimizeQueue(ctx, updated.DepartmentID); err != nil {
			observability.LoggerFromContext(ctx).Error().
				Err(err).
				Int64("department_id", updated.DepartmentID).
				Msg("queue optimization after completion failed")
		}
	}
	return updated, nil
}

func (s *QueueScheduler) appointmentEvent(appt *entities.Appointment) *entities.ResourceEvent {
	fields := map[string]interface{}{
		"appointment_id": appt.ID,
		"doctor_id":      appt.DoctorID,
		"status":         string(appt.Status),
	}
	if appt.QueueNumber != nil {
		fields["queue_number"] = *appt.QueueNumber
	}
	if appt.EstimatedWaitMinutes != nil {
		fields["estimated_wait_minutes"] = *appt.EstimatedWaitMinutes
	}
	return entities.NewQueueEvent(entities.ResourceEventTypeAppointment, appt.DepartmentID, s.clock.Now(), fields)
}
