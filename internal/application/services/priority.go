package services

import (
	"time"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/pkg/utils"
)

const (
	seniorAge = 65

	seniorWeight    = 2
	criticalWeight  = 3
	emergencyWeight = 5
)

var criticalConditions = []string{"heart disease", "diabetes", "cancer", "respiratory"}

// priorityScore weighs age, critical history and visit type. Higher is more
// urgent.
func priorityScore(appointment *entities.Appointment, patient *entities.Patient, now time.Time, normalizer *utils.HistoryNormalizer) int {
	score := 0
	if patient != nil {
		if patient.AgeAt(now) > seniorAge {
			score += seniorWeight
		}
		if hasCriticalCondition(patient, normalizer) {
			score += criticalWeight
		}
	}
	if appointment.Type == entities.AppointmentTypeEmergency {
		score += emergencyWeight
	}
	return score
}

func hasCriticalCondition(patient *entities.Patient, normalizer *utils.HistoryNormalizer) bool {
	if patient.MedicalHistory == "" && len(patient.HistoryTags) == 0 {
		return false
	}
	return utils.ContainsAny(normalizer.Normalize(patient.MedicalHistory, patient.HistoryTags), criticalConditions)
}

// queueNumber lowers the same-slot position by half the priority score,
// never below 1.
func queueNumber(baseQueueCount, score int) int {
	return max(1, baseQueueCount-score/2)
}
