package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Account holds the attributes shared by riders and drivers.
type Account struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	NationalID string    `json:"nid"`
	Wallet     float64   `json:"wallet"`
}

func (a *Account) Credit(amount float64) { a.Wallet = RoundMoney(a.Wallet + amount) }

// Debit never fails; callers check affordability beforehand where it matters.
func (a *Account) Debit(amount float64) { a.Wallet = RoundMoney(a.Wallet - amount) }

func (a *Account) CanAfford(amount float64) bool { return a.Wallet >= amount }

// Rating is a running average kept without storing individual scores.
type Rating struct {
	AverageRating float64 `json:"average_rating"`
	TotalRatings  int     `json:"total_ratings"`
}

// Apply folds score into the average: new = (old*(n-1) + score) / n.
func (r *Rating) Apply(score int) error {
	if score < 1 || score > 5 {
		return fmt.Errorf("%w: got %d", ErrInvalidRating, score)
	}
	r.TotalRatings++
	n := float64(r.TotalRatings)
	r.AverageRating = (r.AverageRating*(n-1) + float64(score)) / n
	return nil
}

type Rider struct {
	Account
	Rating
	CurrentLocation string      `json:"current_location"`
	CurrentRide     *uuid.UUID  `json:"current_ride,omitempty"`
	RideHistory     []uuid.UUID `json:"ride_history"`
}

func (r *Rider) HasActiveRide() bool { return r.CurrentRide != nil }

type Driver struct {
	Account
	Rating
	CurrentLocation string      `json:"current_location"`
	Vehicle         *Vehicle    `json:"vehicle,omitempty"`
	IsAvailable     bool        `json:"is_available"`
	TotalRides      int         `json:"total_rides"`
	RideHistory     []uuid.UUID `json:"ride_history"`
}

// Serves reports whether the driver can take a ride of type t right now.
func (d *Driver) Serves(t VehicleType) bool {
	return d.IsAvailable && d.Vehicle != nil && d.Vehicle.Type == t
}

type RideStatus string

const (
	RideInProgress RideStatus = "in_progress"
	RideCompleted  RideStatus = "completed"
	RideCancelled  RideStatus = "cancelled"
)

// AllowedTransitions is the ride state flow as code. Terminal states have no entry.
var AllowedTransitions = map[RideStatus][]RideStatus{
	RideInProgress: {RideCompleted, RideCancelled},
}

func CanTransition(from, to RideStatus) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Initiator identifies who cancelled a ride.
type Initiator string

const (
	ByRider  Initiator = "rider"
	ByDriver Initiator = "driver"
)

func ParseInitiator(s string) (Initiator, error) {
	switch Initiator(s) {
	case ByRider, ByDriver:
		return Initiator(s), nil
	case "":
		return ByRider, nil
	}
	return "", fmt.Errorf("%w: unknown initiator %q", ErrInvalidInput, s)
}

type RideRequest struct {
	RiderID     uuid.UUID `json:"rider_id"`
	Destination string    `json:"destination"`
	VehicleType string    `json:"vehicle_type"`
	// DistanceKm is optional; zero means sample one.
	DistanceKm float64 `json:"distance_km,omitempty"`
}

type Ride struct {
	ID               uuid.UUID  `json:"id"`
	StartLocation    string     `json:"start_location"`
	EndLocation      string     `json:"end_location"`
	Vehicle          Vehicle    `json:"vehicle"`
	DriverID         *uuid.UUID `json:"driver_id,omitempty"`
	RiderID          *uuid.UUID `json:"rider_id,omitempty"`
	DistanceKm       float64    `json:"distance_km"`
	Fare             float64    `json:"fare"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	Status           RideStatus `json:"status"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	CancellationFee  float64    `json:"cancellation_fee"`
	CancelledBy      Initiator  `json:"cancelled_by,omitempty"`
	DriverRating     *int       `json:"driver_rating,omitempty"`
	RiderRating      *int       `json:"rider_rating,omitempty"`
}

func (r *Ride) IsTerminal() bool { return len(AllowedTransitions[r.Status]) == 0 }

// Transition moves the ride to status to and stamps the end time.
func (r *Ride) Transition(to RideStatus, at time.Time) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: ride %s is %s", ErrAlreadyTerminal, r.ID, r.Status)
	}
	r.Status = to
	r.EndTime = &at
	return nil
}

// Duration is zero until the ride has both timestamps.
func (r *Ride) Duration() time.Duration {
	if r.StartTime == nil || r.EndTime == nil {
		return 0
	}
	return r.EndTime.Sub(*r.StartTime)
}

func (r *Ride) String() string {
	return fmt.Sprintf("Ride: %s -> %s (%.0f km) - %s", r.StartLocation, r.EndLocation, r.DistanceKm, r.Status)
}

// RoundMoney rounds to two decimal places.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

// MatchOffer is what a driver is told about a ride bound to them.
type MatchOffer struct {
	RideID           uuid.UUID   `json:"ride_id"`
	DriverID         uuid.UUID   `json:"driver_id"`
	VehicleType      VehicleType `json:"vehicle_type"`
	Pickup           string      `json:"pickup"`
	Destination      string      `json:"destination"`
	DistanceKm       float64     `json:"distance_km"`
	Fare             float64     `json:"fare"`
	EstimatedMinutes int         `json:"estimated_minutes"`
}
