package marketplace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/example/ride-sharing/internal/logging"
	"github.com/example/ride-sharing/internal/matcher"
	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/observability"
)

// RequestRide matches the rider with the best available driver of the requested type and
// confirms the ride if the rider can pay for it. When the rider cannot, the driver binding
// is rolled back and the error wraps *models.FundsError. The driver is offered the ride
// only once it is confirmed, after the registry lock is released.
func (r *Registry) RequestRide(ctx context.Context, req models.RideRequest) (models.Ride, error) {
	vt, err := models.ParseVehicleType(req.VehicleType)
	if err != nil {
		return models.Ride{}, err
	}
	if strings.TrimSpace(req.Destination) == "" {
		return models.Ride{}, fmt.Errorf("%w: destination is required", models.ErrInvalidInput)
	}
	logger := r.log(ctx)

	r.mu.Lock()
	rider, err := r.riderByID(req.RiderID)
	if err != nil {
		r.mu.Unlock()
		return models.Ride{}, err
	}
	if rider.HasActiveRide() {
		r.mu.Unlock()
		return models.Ride{}, fmt.Errorf("%w: rider already has an active ride", models.ErrInvalidInput)
	}

	ride, err := r.matcher.Find(matcher.Request{
		Rider:       rider,
		Destination: req.Destination,
		DistanceKm:  req.DistanceKm,
	}, vt, r.drivers)
	if err != nil {
		r.mu.Unlock()
		logger.Info("ride request not matched", "rider_id", req.RiderID.String(), "vehicle_type", string(vt), "error", err)
		return models.Ride{}, err
	}
	driver, err := r.driverByID(*ride.DriverID)
	if err != nil {
		r.mu.Unlock()
		return models.Ride{}, err
	}

	if !rider.CanAfford(ride.Fare) {
		if rerr := r.matcher.Release(ride, driver); rerr != nil {
			logger.Error("release after failed affordability check", "ride_id", ride.ID.String(), "error", rerr)
		}
		fe := &models.FundsError{Need: ride.Fare, Balance: rider.Wallet}
		r.mu.Unlock()
		observability.MatchFailures.WithLabelValues("insufficient_funds").Inc()
		logger.Info("ride request rejected", "rider_id", req.RiderID.String(), "fare", fe.Need, "balance", fe.Balance)
		return models.Ride{}, fmt.Errorf("request ride: %w", fe)
	}

	riderID, rideID := rider.ID, ride.ID
	ride.RiderID = &riderID
	rider.CurrentRide = &rideID
	if err := r.rides.UpdateRide(ride); err != nil {
		r.mu.Unlock()
		return models.Ride{}, fmt.Errorf("update ride: %w", err)
	}
	r.refreshGauge()
	out := cloneRide(ride)
	r.mu.Unlock()

	logger.Info("ride confirmed",
		"ride_id", out.ID.String(),
		"rider_id", riderID.String(),
		"driver_id", out.DriverID.String(),
		"fare", out.Fare,
		"distance_km", out.DistanceKm,
	)
	r.matcher.Announce(out)
	return out, nil
}

// CompleteRide settles the fare from rider to driver and frees the driver. There is no
// balance check here; affordability was checked when the ride was confirmed.
func (r *Registry) CompleteRide(ctx context.Context, rideID uuid.UUID) (models.Ride, error) {
	r.mu.Lock()
	ride, err := r.rideByID(rideID)
	if err != nil {
		r.mu.Unlock()
		return models.Ride{}, err
	}
	if ride.IsTerminal() {
		r.mu.Unlock()
		return models.Ride{}, fmt.Errorf("complete ride %s: %w", rideID, models.ErrAlreadyTerminal)
	}
	rider, driver, err := r.parties(ride)
	if err != nil {
		r.mu.Unlock()
		return models.Ride{}, err
	}
	if rider == nil {
		r.mu.Unlock()
		return models.Ride{}, fmt.Errorf("%w: ride %s has no rider", models.ErrInvalidInput, rideID)
	}
	if err := ride.Transition(models.RideCompleted, r.now()); err != nil {
		r.mu.Unlock()
		return models.Ride{}, err
	}

	rider.Debit(ride.Fare)
	rider.RideHistory = append(rider.RideHistory, ride.ID)
	rider.CurrentRide = nil
	if driver != nil {
		driver.Credit(ride.Fare)
		driver.TotalRides++
		driver.IsAvailable = true
		driver.RideHistory = append(driver.RideHistory, ride.ID)
	}
	r.totalCompleted++
	if err := r.rides.UpdateRide(ride); err != nil {
		r.log(ctx).Error("update completed ride", "ride_id", ride.ID.String(), "error", err)
	}
	r.refreshGauge()
	out := cloneRide(ride)
	balance := rider.Wallet
	r.mu.Unlock()

	r.log(ctx).Info("ride completed", "ride_id", out.ID.String(), "fare", out.Fare, "rider_balance", balance)

	observability.RidesCompleted.Inc()
	observability.FaresSettled.Add(out.Fare)
	r.publish(ctx, out)
	return out, nil
}

type CancelResult struct {
	Ride       models.Ride `json:"ride"`
	FeeCharged bool        `json:"fee_charged"`
	Fee        float64     `json:"fee"`
}

// CancelRide cancels an in-progress ride. A rider who can afford the cancellation fee pays
// it to the bound driver; one who cannot still gets the cancellation, free of charge.
// Driver-initiated cancellations never charge a fee.
func (r *Registry) CancelRide(ctx context.Context, rideID uuid.UUID, by models.Initiator) (CancelResult, error) {
	if by != models.ByRider && by != models.ByDriver {
		return CancelResult{}, fmt.Errorf("%w: unknown initiator %q", models.ErrInvalidInput, by)
	}

	r.mu.Lock()
	ride, err := r.rideByID(rideID)
	if err != nil {
		r.mu.Unlock()
		return CancelResult{}, err
	}
	if ride.IsTerminal() {
		r.mu.Unlock()
		return CancelResult{}, fmt.Errorf("cancel ride %s: %w", rideID, models.ErrAlreadyTerminal)
	}
	rider, driver, err := r.parties(ride)
	if err != nil {
		r.mu.Unlock()
		return CancelResult{}, err
	}
	if err := ride.Transition(models.RideCancelled, r.now()); err != nil {
		r.mu.Unlock()
		return CancelResult{}, err
	}
	ride.CancelledBy = by

	res := CancelResult{}
	if by == models.ByRider && rider != nil && rider.CanAfford(ride.CancellationFee) {
		rider.Debit(ride.CancellationFee)
		if driver != nil {
			driver.Credit(ride.CancellationFee)
		}
		res.FeeCharged = true
		res.Fee = ride.CancellationFee
	}
	if driver != nil {
		driver.IsAvailable = true
	}
	if rider != nil && rider.CurrentRide != nil && *rider.CurrentRide == ride.ID {
		rider.CurrentRide = nil
	}
	if err := r.rides.UpdateRide(ride); err != nil {
		r.log(ctx).Error("update cancelled ride", "ride_id", ride.ID.String(), "error", err)
	}
	r.refreshGauge()
	res.Ride = cloneRide(ride)
	r.mu.Unlock()

	r.log(ctx).Info("ride cancelled", "ride_id", res.Ride.ID.String(), "by", string(by), "fee_charged", res.FeeCharged)
	observability.RidesCancelled.WithLabelValues(string(by), strconv.FormatBool(res.FeeCharged)).Inc()
	r.publish(ctx, res.Ride)
	return res, nil
}

// RateDriver applies the rider's score for a completed ride to the driver.
// Each ride can rate its driver once.
func (r *Registry) RateDriver(rideID uuid.UUID, score int) (models.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ride, err := r.ratableRide(rideID)
	if err != nil {
		return models.Driver{}, err
	}
	if ride.DriverRating != nil {
		return models.Driver{}, fmt.Errorf("%w: driver of ride %s", models.ErrAlreadyRated, rideID)
	}
	_, driver, err := r.parties(ride)
	if err != nil {
		return models.Driver{}, err
	}
	if driver == nil {
		return models.Driver{}, fmt.Errorf("%w: ride %s has no driver", models.ErrInvalidInput, rideID)
	}
	if err := driver.Rating.Apply(score); err != nil {
		return models.Driver{}, err
	}
	ride.DriverRating = &score
	observability.RatingsTotal.WithLabelValues("driver").Inc()
	r.logger.Info("driver rated", "ride_id", ride.ID.String(), "driver_id", driver.ID.String(), "score", score, "average", driver.AverageRating)
	return cloneDriver(driver), nil
}

// RateRider applies the driver's score for a completed ride to the rider.
// Each ride can rate its rider once.
func (r *Registry) RateRider(rideID uuid.UUID, score int) (models.Rider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ride, err := r.ratableRide(rideID)
	if err != nil {
		return models.Rider{}, err
	}
	if ride.RiderRating != nil {
		return models.Rider{}, fmt.Errorf("%w: rider of ride %s", models.ErrAlreadyRated, rideID)
	}
	rider, _, err := r.parties(ride)
	if err != nil {
		return models.Rider{}, err
	}
	if rider == nil {
		return models.Rider{}, fmt.Errorf("%w: ride %s has no rider", models.ErrInvalidInput, rideID)
	}
	if err := rider.Rating.Apply(score); err != nil {
		return models.Rider{}, err
	}
	ride.RiderRating = &score
	observability.RatingsTotal.WithLabelValues("rider").Inc()
	r.logger.Info("rider rated", "ride_id", ride.ID.String(), "rider_id", rider.ID.String(), "score", score, "average", rider.AverageRating)
	return cloneRider(rider), nil
}

func (r *Registry) ratableRide(rideID uuid.UUID) (*models.Ride, error) {
	ride, err := r.rideByID(rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideCompleted {
		return nil, fmt.Errorf("%w: only completed rides can be rated, ride %s is %s", models.ErrInvalidInput, rideID, ride.Status)
	}
	return ride, nil
}

// parties resolves the ride's rider and driver; either may be nil when unbound.
func (r *Registry) parties(ride *models.Ride) (*models.Rider, *models.Driver, error) {
	var (
		rider  *models.Rider
		driver *models.Driver
		err    error
	)
	if ride.RiderID != nil {
		if rider, err = r.riderByID(*ride.RiderID); err != nil {
			return nil, nil, err
		}
	}
	if ride.DriverID != nil {
		if driver, err = r.driverByID(*ride.DriverID); err != nil {
			return nil, nil, err
		}
	}
	return rider, driver, nil
}

func (r *Registry) publish(ctx context.Context, ride models.Ride) {
	if r.events == nil {
		return
	}
	if err := r.events.PublishRide(ctx, ride); err != nil && !errors.Is(err, context.Canceled) {
		r.log(ctx).Warn("publish ride event", "ride_id", ride.ID.String(), "error", err)
	}
}

func (r *Registry) log(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, r.logger)
}
