// Package proximity works out which station the user is standing at.
package proximity

import (
	"fmt"
	"math"
	"sort"

	"fuelpay/internal/models"
)

const (
	// DefaultThreshold is the distance in km within which a station counts as "here".
	DefaultThreshold = 0.02

	earthRadiusKm = 6371.0
)

// Distance returns the great-circle distance between two coordinates in km.
func Distance(a, b models.Coordinate) float64 {
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Latitude))*math.Cos(toRadians(b.Latitude))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// FormatDistance renders meters below one km and km with two decimals otherwise.
func FormatDistance(km float64) string {
	if km < 1 {
		return fmt.Sprintf("%dm away", int(math.Round(km*1000)))
	}
	return fmt.Sprintf("%.2fkm away", km)
}

// Annotate returns a copy of stations with distance fields filled in,
// sorted nearest first. Equal distances keep their input order.
func Annotate(stations []models.Station, pos models.Coordinate) []models.Station {
	result := make([]models.Station, len(stations))
	for i, st := range stations {
		st.Distance = Distance(pos, st.Location)
		st.FormattedDistance = FormatDistance(st.Distance)
		result[i] = st
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Distance < result[j].Distance
	})
	return result
}

// Nearest picks the closest station within threshold km. Stations must
// already carry a distance (see Annotate).
func Nearest(stations []models.Station, threshold float64) (models.Station, bool) {
	var (
		best  models.Station
		found bool
	)
	for _, st := range stations {
		if st.Distance > threshold {
			continue
		}
		if !found || st.Distance < best.Distance {
			best = st
			found = true
		}
	}
	return best, found
}

// NearestByPumpType applies Nearest separately for each pump classification.
func NearestByPumpType(stations []models.Station, threshold float64) map[models.PumpType]models.Station {
	grouped := make(map[models.PumpType][]models.Station)
	for _, st := range stations {
		grouped[st.PumpType] = append(grouped[st.PumpType], st)
	}
	result := make(map[models.PumpType]models.Station, len(grouped))
	for kind, list := range grouped {
		if st, ok := Nearest(list, threshold); ok {
			result[kind] = st
		}
	}
	return result
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
