package matcher

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/ride-sharing/internal/dispatch"
	"github.com/example/ride-sharing/internal/eta"
	"github.com/example/ride-sharing/internal/fare"
	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/observability"
	"github.com/example/ride-sharing/internal/storage"
)

// Request is a rider asking to go somewhere.
type Request struct {
	Rider       *models.Rider
	Destination string
	// DistanceKm is optional; zero means the Distances source picks one.
	DistanceKm float64
}

type Service struct {
	Store     storage.TripStore
	Dispatch  dispatch.Dispatcher // optional
	Distances fare.DistanceSource
	Now       func() time.Time // optional, defaults to time.Now
	Logger    *slog.Logger     // optional
}

// Find picks the best available driver of type vt among candidates and returns a ride
// already bound to that driver. The highest average rating wins; ties keep the first
// candidate in iteration order. Nobody is told about the ride until Announce.
func (s *Service) Find(req Request, vt models.VehicleType, candidates []*models.Driver) (*models.Ride, error) {
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	if req.Rider == nil {
		return nil, fmt.Errorf("%w: rider is required", models.ErrInvalidInput)
	}
	best := Best(vt, candidates)
	if best == nil {
		observability.MatchFailures.WithLabelValues("no_driver").Inc()
		return nil, fmt.Errorf("%w: no %s drivers available", models.ErrNoDriverAvailable, vt)
	}

	dist, err := fare.Resolve(req.DistanceKm, s.Distances)
	if err != nil {
		return nil, err
	}
	amount, err := fare.Compute(dist, best.Vehicle)
	if err != nil {
		return nil, err
	}

	driverID := best.ID
	ride := &models.Ride{
		StartLocation:    req.Rider.CurrentLocation,
		EndLocation:      req.Destination,
		Vehicle:          *best.Vehicle,
		DistanceKm:       dist,
		Fare:             amount,
		EstimatedMinutes: eta.EstimateMinutes(dist, best.Vehicle),
		CancellationFee:  fare.CancellationFee,
	}
	if err := s.Store.SaveRide(ride); err != nil {
		return nil, fmt.Errorf("save ride: %w", err)
	}

	// bind: the driver is committed before the caller sees the ride
	now := s.now()
	ride.DriverID = &driverID
	ride.Status = models.RideInProgress
	ride.StartTime = &now
	best.IsAvailable = false
	return ride, nil
}

// Announce counts a confirmed match and offers it to the bound driver. Delivery is best
// effort and may block on the network, so callers must not hold locks.
func (s *Service) Announce(ride models.Ride) {
	observability.MatchesTotal.Inc()
	if s.Dispatch == nil || ride.DriverID == nil {
		return
	}
	offer := models.MatchOffer{
		RideID:           ride.ID,
		DriverID:         *ride.DriverID,
		VehicleType:      ride.Vehicle.Type,
		Pickup:           ride.StartLocation,
		Destination:      ride.EndLocation,
		DistanceKm:       ride.DistanceKm,
		Fare:             ride.Fare,
		EstimatedMinutes: ride.EstimatedMinutes,
	}
	if err := s.Dispatch.Offer(offer); err != nil && s.Logger != nil {
		s.Logger.Debug("offer not delivered", "ride_id", ride.ID.String(), "driver_id", offer.DriverID.String(), "error", err)
	}
}

// Release undoes Find: the driver is free again and the ride leaves the arena.
func (s *Service) Release(ride *models.Ride, driver *models.Driver) error {
	if driver != nil {
		driver.IsAvailable = true
	}
	return s.Store.DeleteRide(ride.ID)
}

// Best returns the highest-rated candidate serving vt, or nil.
func Best(vt models.VehicleType, candidates []*models.Driver) *models.Driver {
	vt = models.VehicleType(strings.ToLower(string(vt)))
	var best *models.Driver
	for _, d := range candidates {
		if d == nil || !d.Serves(vt) {
			continue
		}
		if best == nil || d.AverageRating > best.AverageRating {
			best = d
		}
	}
	return best
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
