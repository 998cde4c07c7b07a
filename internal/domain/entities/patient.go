package entities

import "time"

// Patient represents a patient record owned by the surrounding application
type Patient struct {
	ID             int64     `json:"id" db:"id"`
	FirstName      string    `json:"first_name" db:"first_name"`
	LastName       string    `json:"last_name" db:"last_name"`
	DateOfBirth    time.Time `json:"date_of_birth" db:"date_of_birth"`
	MedicalHistory string    `json:"medical_history,omitempty" db:"medical_history"`
	HistoryTags    []string  `json:"history_tags,omitempty" db:"-"`
	Auditable
}

// AgeAt returns the patient's age in whole years at t. An unknown date of
// birth yields 0.
func (p *Patient) AgeAt(t time.Time) int {
	if p.DateOfBirth.IsZero() || t.Before(p.DateOfBirth) {
		return 0
	}
	age := t.Year() - p.DateOfBirth.Year()
	birthday := time.Date(t.Year(), p.DateOfBirth.Month(), p.DateOfBirth.Day(), 0, 0, 0, 0, t.Location())
	if t.Before(birthday) {
		age--
	}
	return age
}

// FullName returns first and last name joined
func (p *Patient) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Clone returns a deep copy
func (p *Patient) Clone() *Patient {
	out := *p
	if p.HistoryTags != nil {
		out.HistoryTags = append([]string(nil), p.HistoryTags...)
	}
	return &out
}
