package services

import (
	"math"
	"sort"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/pkg/geo"
)

// fallbackCandidate is a hospital other than the preferred one that has at
// least one free bed of the requested ward type.
type fallbackCandidate struct {
	hospital *entities.Hospital
	beds     []*entities.Bed

	band       int
	bufferSafe bool
	headroom   int
}

// rankFallback orders candidate hospitals by distance band from the
// preferred hospital, then keeps hospitals that stay at or above the buffer
// after this assignment ahead of those that would drop below it, then by
// remaining headroom, then by id. free must hold available beds of the
// requested ward type grouped by hospital, each list ordered by bed id.
func rankFallback(preferred *entities.Hospital, hospitals []*entities.Hospital, free map[int64][]*entities.Bed, minBuffer int, bandKm float64) []fallbackCandidate {
	candidates := make([]fallbackCandidate, 0, len(hospitals))
	for _, h := range hospitals {
		if !h.IsActive || (preferred != nil && h.ID == preferred.ID) {
			continue
		}
		beds := free[h.ID]
		if len(beds) == 0 {
			continue
		}
		headroom := len(beds) - 1 - minBuffer
		candidates = append(candidates, fallbackCandidate{
			hospital:   h,
			beds:       beds,
			band:       distanceBand(preferred, h, bandKm),
			bufferSafe: headroom >= 0,
			headroom:   headroom,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.band != b.band {
			return a.band < b.band
		}
		if a.bufferSafe != b.bufferSafe {
			return a.bufferSafe
		}
		if a.headroom != b.headroom {
			return a.headroom > b.headroom
		}
		return a.hospital.ID < b.hospital.ID
	})
	return candidates
}

func distanceBand(preferred, h *entities.Hospital, bandKm float64) int {
	if preferred == nil || bandKm <= 0 || !preferred.Location.IsSet() || !h.Location.IsSet() {
		return 0
	}
	km := geo.DistanceKm(preferred.Location.Latitude, preferred.Location.Longitude, h.Location.Latitude, h.Location.Longitude)
	return int(math.Floor(km / bandKm))
}
