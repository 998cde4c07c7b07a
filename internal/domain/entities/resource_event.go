package entities

import (
	"time"

	"github.com/google/uuid"
)

// ResourceEventType represents the type of resource event
type ResourceEventType string

const (
	ResourceEventTypeBedAllocated   ResourceEventType = "bed_allocated"
	ResourceEventTypeBedReleased    ResourceEventType = "bed_released"
	ResourceEventTypeBedMaintenance ResourceEventType = "bed_maintenance"
	ResourceEventTypeQueueOptimized ResourceEventType = "queue_optimized"
	ResourceEventTypeAppointment    ResourceEventType = "appointment_updated"
)

// ResourceEvent represents a committed change to directory state
type ResourceEvent struct {
	ID            string                 `json:"id"`
	EventType     ResourceEventType      `json:"event_type"`
	HospitalID    int64                  `json:"hospital_id,omitempty"`
	DepartmentID  int64                  `json:"department_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	ChangedFields map[string]interface{} `json:"changed_fields"`
}

// NewBedEvent creates an event describing a bed change
func NewBedEvent(eventType ResourceEventType, bed *Bed, at time.Time) *ResourceEvent {
	fields := map[string]interface{}{
		"bed_id":    bed.ID,
		"ward_type": string(bed.WardType),
		"status":    string(bed.Status),
	}
	if bed.CurrentPatientID != nil {
		fields["patient_id"] = *bed.CurrentPatientID
	}
	return &ResourceEvent{
		ID:            uuid.NewString(),
		EventType:     eventType,
		HospitalID:    bed.HospitalID,
		Timestamp:     at,
		ChangedFields: fields,
	}
}

// NewQueueEvent creates an event describing a department queue change
func NewQueueEvent(eventType ResourceEventType, departmentID int64, at time.Time, changed map[string]interface{}) *ResourceEvent {
	return &ResourceEvent{
		ID:            uuid.NewString(),
		EventType:     eventType,
		DepartmentID:  departmentID,
		Timestamp:     at,
		ChangedFields: changed,
	}
}
