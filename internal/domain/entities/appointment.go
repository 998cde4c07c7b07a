package entities

import (
	"fmt"
	"time"
)

// AppointmentStatus represents the status of an appointment
type AppointmentStatus string

const (
	AppointmentStatusScheduled  AppointmentStatus = "scheduled"
	AppointmentStatusInProgress AppointmentStatus = "in-progress"
	AppointmentStatusCompleted  AppointmentStatus = "completed"
	AppointmentStatusCancelled  AppointmentStatus = "cancelled"
)

// ActiveAppointmentStatuses are the statuses that hold a place in a queue
var ActiveAppointmentStatuses = []AppointmentStatus{AppointmentStatusScheduled, AppointmentStatusInProgress}

// IsValid reports whether s is a known status
func (s AppointmentStatus) IsValid() bool {
	switch s {
	case AppointmentStatusScheduled, AppointmentStatusInProgress, AppointmentStatusCompleted, AppointmentStatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether the status holds a queue place
func (s AppointmentStatus) IsActive() bool {
	return s == AppointmentStatusScheduled || s == AppointmentStatusInProgress
}

// IsTerminal reports whether no further transitions are allowed
func (s AppointmentStatus) IsTerminal() bool {
	return s == AppointmentStatusCompleted || s == AppointmentStatusCancelled
}

// CanTransitionTo reports whether moving from s to next is allowed
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	switch s {
	case AppointmentStatusScheduled:
		// walk-in visits can be closed without being started
		return next == AppointmentStatusInProgress || next == AppointmentStatusCompleted || next == AppointmentStatusCancelled
	case AppointmentStatusInProgress:
		return next == AppointmentStatusCompleted || next == AppointmentStatusCancelled
	}
	return false
}

// AppointmentType represents the kind of visit
type AppointmentType string

const (
	AppointmentTypeRegular   AppointmentType = "regular"
	AppointmentTypeFollowUp  AppointmentType = "follow-up"
	AppointmentTypeEmergency AppointmentType = "emergency"
)

// IsValid reports whether t is a known appointment type
func (t AppointmentType) IsValid() bool {
	switch t {
	case AppointmentTypeRegular, AppointmentTypeFollowUp, AppointmentTypeEmergency:
		return true
	}
	return false
}

// Appointment represents a scheduled consultation with a doctor
type Appointment struct {
	ID                   int64             `json:"id" db:"id"`
	PatientID            int64             `json:"patient_id" db:"patient_id"`
	DoctorID             int64             `json:"doctor_id" db:"doctor_id"`
	DepartmentID         int64             `json:"department_id" db:"department_id"`
	ScheduledAt          time.Time         `json:"scheduled_at" db:"scheduled_at"`
	Type                 AppointmentType   `json:"appointment_type" db:"appointment_type"`
	Status               AppointmentStatus `json:"status" db:"status"`
	QueueNumber          *int              `json:"queue_number,omitempty" db:"queue_number"`
	EstimatedWaitMinutes *int              `json:"estimated_wait_minutes,omitempty" db:"estimated_wait_minutes"`
	Version              int64             `json:"version" db:"version"`
	Auditable
}

// Validate checks field-level constraints
func (a *Appointment) Validate() error {
	if a.ScheduledAt.IsZero() {
		return fmt.Errorf("appointment time is required")
	}
	if !a.Status.IsValid() {
		return fmt.Errorf("invalid appointment status %q", a.Status)
	}
	if !a.Type.IsValid() {
		return fmt.Errorf("invalid appointment type %q", a.Type)
	}
	if a.QueueNumber != nil && *a.QueueNumber < 1 {
		return fmt.Errorf("queue number must be at least 1")
	}
	if a.EstimatedWaitMinutes != nil && *a.EstimatedWaitMinutes < 0 {
		return fmt.Errorf("estimated wait must not be negative")
	}
	return nil
}

// SetQueue records a queue position and wait estimate
func (a *Appointment) SetQueue(queueNumber, waitMinutes int) {
	q, w := queueNumber, waitMinutes
	a.QueueNumber = &q
	a.EstimatedWaitMinutes = &w
}

// ClearQueue drops the queue position and wait estimate
func (a *Appointment) ClearQueue() {
	a.QueueNumber = nil
	a.EstimatedWaitMinutes = nil
}

// Clone returns a deep copy
func (a *Appointment) Clone() *Appointment {
	out := *a
	if a.QueueNumber != nil {
		q := *a.QueueNumber
		out.QueueNumber = &q
	}
	if a.EstimatedWaitMinutes != nil {
		w := *a.EstimatedWaitMinutes
		out.EstimatedWaitMinutes = &w
	}
	return &out
}
