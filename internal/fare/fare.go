package fare

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/example/ride-sharing/internal/models"
)

const (
	BaseFare        = 50.0
	CancellationFee = 20.0

	minSampledKm = 5
	maxSampledKm = 25
)

// Compute returns BaseFare + distance*rate, rounded to two decimals.
func Compute(distanceKm float64, v *models.Vehicle) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: vehicle is required", models.ErrInvalidInput)
	}
	if distanceKm <= 0 {
		return 0, fmt.Errorf("%w: distance must be positive", models.ErrInvalidInput)
	}
	return models.RoundMoney(BaseFare + distanceKm*v.RatePerKm), nil
}

// DistanceSource supplies trip distances when the caller does not.
type DistanceSource interface {
	DistanceKm() float64
}

// RandomDistance samples whole kilometres uniformly in [5,25].
type RandomDistance struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomDistance(seed int64) *RandomDistance {
	return &RandomDistance{rng: rand.New(rand.NewSource(seed))}
}

func (r *RandomDistance) DistanceKm() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return float64(minSampledKm + r.rng.Intn(maxSampledKm-minSampledKm+1))
}

// FixedDistance always returns the same distance.
type FixedDistance float64

func (f FixedDistance) DistanceKm() float64 { return float64(f) }

// Resolve picks the supplied distance, or samples one when it is zero.
func Resolve(supplied float64, src DistanceSource) (float64, error) {
	if supplied < 0 {
		return 0, fmt.Errorf("%w: distance must be positive", models.ErrInvalidInput)
	}
	if supplied > 0 {
		return supplied, nil
	}
	return src.DistanceKm(), nil
}
