package entities

import "time"

// Auditable carries the bookkeeping fields shared by every stored record
type Auditable struct {
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	IsActive  bool      `json:"is_active" db:"is_active"`
}

// Touch stamps the record as modified at now, initialising CreatedAt on first use
func (a *Auditable) Touch(now time.Time) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
		a.IsActive = true
	}
	a.UpdatedAt = now
}

// SoftDelete flags the record inactive without removing it
func (a *Auditable) SoftDelete(now time.Time) {
	a.IsActive = false
	a.UpdatedAt = now
}
