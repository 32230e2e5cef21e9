package dispatch

import (
	"log/slog"

	"github.com/example/ride-sharing/internal/models"
)

// Dispatcher tells a driver about a ride bound to them. Delivery is best effort.
type Dispatcher interface {
	Offer(offer models.MatchOffer) error
}

// LogDispatcher only records offers. Used when no live channel exists.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d *LogDispatcher) Offer(offer models.MatchOffer) error {
	if d.Logger == nil {
		return nil
	}
	d.Logger.Info("dispatch offer",
		"ride_id", offer.RideID.String(),
		"driver_id", offer.DriverID.String(),
		"fare", offer.Fare,
		"distance_km", offer.DistanceKm,
	)
	return nil
}
