package entities

import (
	"fmt"
	"strings"
	"time"
)

// WardType represents the category of a bed
type WardType string

const (
	WardTypeICU         WardType = "ICU"
	WardTypeGeneral     WardType = "General"
	WardTypeEmergency   WardType = "Emergency"
	WardTypeSpecialCare WardType = "Special Care"
)

// WardTypes lists every ward type in reporting order
var WardTypes = []WardType{WardTypeICU, WardTypeGeneral, WardTypeEmergency, WardTypeSpecialCare}

// IsValid reports whether w is a known ward type
func (w WardType) IsValid() bool {
	switch w {
	case WardTypeICU, WardTypeGeneral, WardTypeEmergency, WardTypeSpecialCare:
		return true
	}
	return false
}

// ParseWardType accepts the canonical names case-insensitively, plus
// "SpecialCare" and "special_care" spellings.
func ParseWardType(s string) (WardType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	switch key {
	case "icu":
		return WardTypeICU, nil
	case "general":
		return WardTypeGeneral, nil
	case "emergency":
		return WardTypeEmergency, nil
	case "specialcare":
		return WardTypeSpecialCare, nil
	}
	return "", fmt.Errorf("invalid ward type: %q", s)
}

// BedStatus represents the status of a bed
type BedStatus string

const (
	BedStatusAvailable   BedStatus = "available"
	BedStatusOccupied    BedStatus = "occupied"
	BedStatusMaintenance BedStatus = "maintenance"
)

// IsValid reports whether s is a known bed status
func (s BedStatus) IsValid() bool {
	switch s {
	case BedStatusAvailable, BedStatusOccupied, BedStatusMaintenance:
		return true
	}
	return false
}

// Bed represents a single bed in a hospital ward
type Bed struct {
	ID               int64      `json:"id" db:"id"`
	HospitalID       int64      `json:"hospital_id" db:"hospital_id"`
	WardType         WardType   `json:"ward_type" db:"ward_type"`
	Status           BedStatus  `json:"status" db:"status"`
	CurrentPatientID *int64     `json:"current_patient_id,omitempty" db:"current_patient_id"`
	LastSanitized    *time.Time `json:"last_sanitized,omitempty" db:"last_sanitized"`
	Version          int64      `json:"version" db:"version"`
	Auditable
}

// Validate checks the occupancy invariant: a patient is recorded if and
// only if the bed is occupied.
func (b *Bed) Validate() error {
	if !b.WardType.IsValid() {
		return fmt.Errorf("bed %d: invalid ward type %q", b.ID, b.WardType)
	}
	if !b.Status.IsValid() {
		return fmt.Errorf("bed %d: invalid status %q", b.ID, b.Status)
	}
	occupied := b.Status == BedStatusOccupied
	if occupied && b.CurrentPatientID == nil {
		return fmt.Errorf("bed %d: occupied without a patient", b.ID)
	}
	if !occupied && b.CurrentPatientID != nil {
		return fmt.Errorf("bed %d: patient recorded on a %s bed", b.ID, b.Status)
	}
	return nil
}

// Occupy assigns the bed to a patient and stamps the hand-off inspection time
func (b *Bed) Occupy(patientID int64, at time.Time) {
	pid := patientID
	stamp := at
	b.Status = BedStatusOccupied
	b.CurrentPatientID = &pid
	b.LastSanitized = &stamp
}

// Vacate frees the bed
func (b *Bed) Vacate() {
	b.Status = BedStatusAvailable
	b.CurrentPatientID = nil
}

// Clone returns a deep copy
func (b *Bed) Clone() *Bed {
	out := *b
	if b.CurrentPatientID != nil {
		pid := *b.CurrentPatientID
		out.CurrentPatientID = &pid
	}
	if b.LastSanitized != nil {
		ts := *b.LastSanitized
		out.LastSanitized = &ts
	}
	return &out
}
