package eta

import (
	"math"

	"github.com/example/ride-sharing/internal/models"
)

// fallback city speed when a vehicle type has no catalog speed
const defaultSpeedKmh = 30.0

// EstimateMinutes is distance over the vehicle's catalog speed, rounded up to whole minutes.
// There is no routing engine; this is the same straight-line estimate the catalog implies.
func EstimateMinutes(distanceKm float64, v *models.Vehicle) int {
	if distanceKm <= 0 {
		return 0
	}
	speed := defaultSpeedKmh
	if v != nil {
		if s := v.SpeedKmh(); s > 0 {
			speed = s
		}
	}
	return int(math.Ceil(distanceKm * 60 / speed))
}
