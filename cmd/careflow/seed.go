package main

import (
	"context"
	"time"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/repositories"
	"github.com/zatekoja/careflow/internal/infrastructure/observability"
	"github.com/zatekoja/careflow/pkg/clock"
	"github.com/zatekoja/careflow/pkg/utils"
)

type seedSummary struct {
	Hospitals    int  `json:"hospitals"`
	Beds         int  `json:"beds"`
	Patients     int  `json:"patients"`
	Appointments int  `json:"appointments"`
	Skipped      bool `json:"skipped"`
}

type seedHospital struct {
	name     string
	location entities.Location
	beds     map[entities.WardType]int
	occupied map[entities.WardType]int
}

var seedHospitals = []seedHospital{
	{
		name:     "Lagos University Teaching Hospital",
		location: entities.Location{Latitude: 6.5166, Longitude: 3.3522},
		beds:     map[entities.WardType]int{entities.WardTypeICU: 6, entities.WardTypeGeneral: 30, entities.WardTypeEmergency: 10, entities.WardTypeSpecialCare: 4},
		occupied: map[entities.WardType]int{entities.WardTypeICU: 5, entities.WardTypeGeneral: 22, entities.WardTypeEmergency: 7, entities.WardTypeSpecialCare: 3},
	},
	{
		name:     "Lagos Island General Hospital",
		location: entities.Location{Latitude: 6.4541, Longitude: 3.3947},
		beds:     map[entities.WardType]int{entities.WardTypeICU: 4, entities.WardTypeGeneral: 20, entities.WardTypeEmergency: 8, entities.WardTypeSpecialCare: 2},
		occupied: map[entities.WardType]int{entities.WardTypeICU: 1, entities.WardTypeGeneral: 9, entities.WardTypeEmergency: 3},
	},
	{
		name:     "Ikeja Specialist Hospital",
		location: entities.Location{Latitude: 6.6018, Longitude: 3.3515},
		beds:     map[entities.WardType]int{entities.WardTypeICU: 3, entities.WardTypeGeneral: 15, entities.WardTypeEmergency: 5},
		occupied: map[entities.WardType]int{entities.WardTypeICU: 3, entities.WardTypeGeneral: 6, entities.WardTypeEmergency: 2},
	},
	{
		name:     "University College Hospital Ibadan",
		location: entities.Location{Latitude: 7.4018, Longitude: 3.9031},
		beds:     map[entities.WardType]int{entities.WardTypeICU: 8, entities.WardTypeGeneral: 40, entities.WardTypeEmergency: 12, entities.WardTypeSpecialCare: 6},
		occupied: map[entities.WardType]int{entities.WardTypeICU: 2, entities.WardTypeGeneral: 18, entities.WardTypeEmergency: 4, entities.WardTypeSpecialCare: 1},
	},
}

type seedPatient struct {
	first, last string
	born        time.Time
	history     string
}

var seedPatients = []seedPatient{
	{"Adaeze", "Okafor", time.Date(1952, 4, 11, 0, 0, 0, 0, time.UTC), "t2dm, htn"},
	{"Tunde", "Bakare", time.Date(1988, 9, 2, 0, 0, 0, 0, time.UTC), ""},
	{"Ngozi", "Eze", time.Date(1975, 1, 23, 0, 0, 0, 0, time.UTC), "copd; previous mi"},
	{"Ibrahim", "Musa", time.Date(2001, 6, 30, 0, 0, 0, 0, time.UTC), "asthma"},
	{"Folake", "Adeyemi", time.Date(1947, 12, 5, 0, 0, 0, 0, time.UTC), "breast carcinoma, ckd"},
}

// seedDirectory loads a demo hospital network. A directory that already
// holds hospitals is left untouched.
func seedDirectory(ctx context.Context, dir repositories.Directory) (seedSummary, error) {
	var summary seedSummary

	var existing []*entities.Hospital
	err := dir.View(ctx, func(ctx context.Context, r repositories.DirectoryReader) error {
		var err error
		existing, err = r.ListHospitals(ctx)
		return err
	})
	if err != nil {
		return summary, err
	}
	if len(existing) > 0 {
		summary.Skipped = true
		return summary, nil
	}

	normalizer := utils.DefaultHistoryNormalizer()
	now := time.Now()

	err = dir.WithTx(ctx, func(ctx context.Context, tx repositories.DirectoryTx) error {
		summary = seedSummary{}

		var patientIDs []int64
		for _, sp := range seedPatients {
			p := &entities.Patient{
				FirstName:      sp.first,
				LastName:       sp.last,
				DateOfBirth:    sp.born,
				MedicalHistory: sp.history,
				HistoryTags:    normalizer.Normalize(sp.history, nil),
			}
			if err := tx.CreatePatient(ctx, p); err != nil {
				return err
			}
			patientIDs = append(patientIDs, p.ID)
			summary.Patients++
		}

		// Occupied beds are assigned round-robin to the seeded patients
		next := 0
		for _, sh := range seedHospitals {
			h := &entities.Hospital{Name: sh.name, Location: sh.location}
			if err := tx.CreateHospital(ctx, h); err != nil {
				return err
			}
			summary.Hospitals++

			for _, wt := range entities.WardTypes {
				for i := 0; i < sh.beds[wt]; i++ {
					bed := &entities.Bed{HospitalID: h.ID, WardType: wt, Status: entities.BedStatusAvailable}
					if i < sh.occupied[wt] {
						bed.Occupy(patientIDs[next%len(patientIDs)], now)
						next++
					}
					if err := tx.CreateBed(ctx, bed); err != nil {
						return err
					}
					summary.Beds++
				}
			}
		}

		// Tomorrow's clinic in department 1 with two doctors
		day := clock.StartOfDay(now).AddDate(0, 0, 1)
		slots := []struct {
			patient int
			doctor  int64
			offset  time.Duration
			kind    entities.AppointmentType
		}{
			{0, 101, 9 * time.Hour, entities.AppointmentTypeRegular},
			{1, 101, 9 * time.Hour, entities.AppointmentTypeRegular},
			{2, 101, 9*time.Hour + 30*time.Minute, entities.AppointmentTypeFollowUp},
			{3, 102, 10 * time.Hour, entities.AppointmentTypeEmergency},
			{4, 102, 10 * time.Hour, entities.AppointmentTypeRegular},
		}
		for _, s := range slots {
			appt := &entities.Appointment{
				PatientID:    patientIDs[s.patient],
				DoctorID:     s.doctor,
				DepartmentID: 1,
				ScheduledAt:  day.Add(s.offset),
				Type:         s.kind,
				Status:       entities.AppointmentStatusScheduled,
			}
			if err := tx.CreateAppointment(ctx, appt); err != nil {
				return err
			}
			summary.Appointments++
		}
		return nil
	})
	if err != nil {
		return summary, err
	}

	observability.LoggerFromContext(ctx).Info().
		Int("hospitals", summary.Hospitals).
		Int("beds", summary.Beds).
		Int("patients", summary.Patients).
		Int("appointments", summary.Appointments).
		Msg("seeded directory")
	return summary, nil
}
