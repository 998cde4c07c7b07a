package entities

import (
	"fmt"
	"math"
	"time"
)

// DemandForecast holds predicted bed demand indexed by day offset
type DemandForecast []map[WardType]float64

// Validate checks that the forecast covers days ahead and every ward type
// with a finite, non-negative number.
func (f DemandForecast) Validate(daysAhead int) error {
	if len(f) < daysAhead {
		return fmt.Errorf("forecast covers %d days, %d requested", len(f), daysAhead)
	}
	for day := 0; day < daysAhead; day++ {
		for _, wt := range WardTypes {
			demand, ok := f[day][wt]
			if !ok {
				return fmt.Errorf("day %d: missing demand for %s", day, wt)
			}
			if math.IsNaN(demand) || math.IsInf(demand, 0) || demand < 0 {
				return fmt.Errorf("day %d: invalid demand %v for %s", day, demand, wt)
			}
		}
	}
	return nil
}

// ZeroDemand returns a forecast of zero demand for every ward and day
func ZeroDemand(daysAhead int) DemandForecast {
	out := make(DemandForecast, daysAhead)
	for day := range out {
		out[day] = make(map[WardType]float64, len(WardTypes))
		for _, wt := range WardTypes {
			out[day][wt] = 0
		}
	}
	return out
}

// DayAvailability is the projected free capacity for one day
type DayAvailability struct {
	Date               time.Time        `json:"date"`
	PredictedAvailable map[WardType]int `json:"predicted_available"`
}

// AvailabilityForecast is the multi-day projection for one hospital
type AvailabilityForecast struct {
	HospitalID int64             `json:"hospital_id"`
	Days       []DayAvailability `json:"days"`

	// Degraded is set when the predictor failed and zero demand was assumed
	Degraded bool `json:"degraded"`
}
