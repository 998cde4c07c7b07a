package entities

// Hospital represents a hospital in the network. Beds reference it by ID.
type Hospital struct {
	ID       int64    `json:"id" db:"id"`
	Name     string   `json:"name" db:"name"`
	Location Location `json:"location" db:"-"`
	Auditable
}

// Location represents geographical coordinates
type Location struct {
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
}

// IsSet reports whether coordinates were provided
func (l Location) IsSet() bool {
	return l.Latitude != 0 || l.Longitude != 0
}
