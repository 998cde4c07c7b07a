package entities

// WardOccupancy summarises the beds of one ward type in one hospital
type WardOccupancy struct {
	Total       int `json:"total"`
	Occupied    int `json:"occupied"`
	Available   int `json:"available"`
	Maintenance int `json:"maintenance"`

	// BufferHeadroom is Available minus the allocator's minimum buffer;
	// negative when the ward is already below its buffer.
	BufferHeadroom int `json:"buffer_headroom"`
}

// BelowBuffer reports whether the ward has fewer free beds than the buffer
func (w WardOccupancy) BelowBuffer() bool {
	return w.BufferHeadroom < 0
}

// OccupancySnapshot is the derived per-ward view of one hospital
type OccupancySnapshot struct {
	HospitalID int64                      `json:"hospital_id"`
	MinBuffer  int                        `json:"min_buffer"`
	Wards      map[WardType]WardOccupancy `json:"wards"`
}

// NewOccupancySnapshot tallies beds of a single hospital. Every ward type is
// present in the result even when the hospital has none of it.
func NewOccupancySnapshot(hospitalID int64, minBuffer int, beds []*Bed) OccupancySnapshot {
	wards := make(map[WardType]WardOccupancy, len(WardTypes))
	for _, wt := range WardTypes {
		wards[wt] = WardOccupancy{}
	}
	for _, b := range beds {
		if b.HospitalID != hospitalID {
			continue
		}
		w := wards[b.WardType]
		w.Total++
		switch b.Status {
		case BedStatusOccupied:
			w.Occupied++
		case BedStatusAvailable:
			w.Available++
		case BedStatusMaintenance:
			w.Maintenance++
		}
		wards[b.WardType] = w
	}
	for wt, w := range wards {
		w.BufferHeadroom = w.Available - minBuffer
		wards[wt] = w
	}
	return OccupancySnapshot{HospitalID: hospitalID, MinBuffer: minBuffer, Wards: wards}
}
