package marketplace

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-sharing/internal/fare"
	"github.com/example/ride-sharing/internal/models"
)

const DefaultCompanyName = "QuickRide Bangladesh"

// Snapshot is the persisted form of a registry: four independent documents.
type Snapshot struct {
	Company CompanyRecord
	Riders  []RiderRecord
	Drivers []DriverRecord
	Rides   []RideRecord
}

type CompanyRecord struct {
	Name        string    `json:"company_name"`
	TotalRides  int       `json:"total_rides"`
	LastUpdated time.Time `json:"last_updated"`
}

type RiderRecord struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	NationalID       string    `json:"nid"`
	CurrentLocation  string    `json:"current_location"`
	Wallet           float64   `json:"wallet"`
	RideHistoryCount int       `json:"ride_history_count"`
	AverageRating    float64   `json:"average_rating"`
	TotalRatings     int       `json:"total_ratings"`
}

type VehicleRecord struct {
	Type         models.VehicleType `json:"type"`
	LicensePlate string             `json:"license_plate"`
	Rate         float64            `json:"rate"`
}

type DriverRecord struct {
	ID              uuid.UUID      `json:"id"`
	Name            string         `json:"name"`
	Email           string         `json:"email"`
	NationalID      string         `json:"nid"`
	CurrentLocation string         `json:"current_location"`
	Wallet          float64        `json:"wallet"`
	TotalRides      int            `json:"total_rides"`
	IsAvailable     bool           `json:"is_available"`
	AverageRating   float64        `json:"average_rating"`
	TotalRatings    int            `json:"total_ratings"`
	Vehicle         *VehicleRecord `json:"vehicle"`
}

// RideRecord keeps completed rides and any ride still in progress at save time.
type RideRecord struct {
	ID            uuid.UUID          `json:"id"`
	StartLocation string             `json:"start_location"`
	EndLocation   string             `json:"end_location"`
	Distance      float64            `json:"distance"`
	Fare          float64            `json:"fare"`
	VehicleType   models.VehicleType `json:"vehicle_type"`
	LicensePlate  string             `json:"license_plate"`
	Rate          float64            `json:"rate"`
	RiderID       *uuid.UUID         `json:"rider_id"`
	DriverID      *uuid.UUID         `json:"driver_id"`
	RiderName     string             `json:"rider_name,omitempty"`
	DriverName    string             `json:"driver_name,omitempty"`
	StartTime     *time.Time         `json:"start_time"`
	EndTime       *time.Time         `json:"end_time"`
	Status        models.RideStatus  `json:"status"`
	DriverRating  *int               `json:"driver_rating,omitempty"`
	RiderRating   *int               `json:"rider_rating,omitempty"`
}

// Snapshot captures the registry for persistence. Cancelled rides are not kept.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Company: CompanyRecord{Name: r.name, TotalRides: r.totalCompleted, LastUpdated: r.now()},
		Riders:  make([]RiderRecord, 0, len(r.riders)),
		Drivers: make([]DriverRecord, 0, len(r.drivers)),
		Rides:   []RideRecord{},
	}
	names := make(map[uuid.UUID]string, len(r.riders)+len(r.drivers))
	for _, rider := range r.riders {
		names[rider.ID] = rider.Name
		snap.Riders = append(snap.Riders, RiderRecord{
			ID:               rider.ID,
			Name:             rider.Name,
			Email:            rider.Email,
			NationalID:       rider.NationalID,
			CurrentLocation:  rider.CurrentLocation,
			Wallet:           rider.Wallet,
			RideHistoryCount: len(rider.RideHistory),
			AverageRating:    rider.AverageRating,
			TotalRatings:     rider.TotalRatings,
		})
	}
	for _, d := range r.drivers {
		names[d.ID] = d.Name
		rec := DriverRecord{
			ID:              d.ID,
			Name:            d.Name,
			Email:           d.Email,
			NationalID:      d.NationalID,
			CurrentLocation: d.CurrentLocation,
			Wallet:          d.Wallet,
			TotalRides:      d.TotalRides,
			IsAvailable:     d.IsAvailable,
			AverageRating:   d.AverageRating,
			TotalRatings:    d.TotalRatings,
		}
		if d.Vehicle != nil {
			rec.Vehicle = &VehicleRecord{Type: d.Vehicle.Type, LicensePlate: d.Vehicle.LicensePlate, Rate: d.Vehicle.RatePerKm}
		}
		snap.Drivers = append(snap.Drivers, rec)
	}
	for _, ride := range r.rides.List() {
		if ride.Status == models.RideCancelled {
			continue
		}
		c := cloneRide(ride)
		rec := RideRecord{
			ID:            c.ID,
			StartLocation: c.StartLocation,
			EndLocation:   c.EndLocation,
			Distance:      c.DistanceKm,
			Fare:          c.Fare,
			VehicleType:   c.Vehicle.Type,
			LicensePlate:  c.Vehicle.LicensePlate,
			Rate:          c.Vehicle.RatePerKm,
			RiderID:       c.RiderID,
			DriverID:      c.DriverID,
			StartTime:     c.StartTime,
			EndTime:       c.EndTime,
			Status:        c.Status,
			DriverRating:  c.DriverRating,
			RiderRating:   c.RiderRating,
		}
		if c.RiderID != nil {
			rec.RiderName = names[*c.RiderID]
		}
		if c.DriverID != nil {
			rec.DriverName = names[*c.DriverID]
		}
		snap.Rides = append(snap.Rides, rec)
	}
	return snap
}

// Restore loads a snapshot into an empty registry. Rides are re-linked into rider and
// driver histories by ID; an in-progress ride becomes the rider's current ride again.
func (r *Registry) Restore(snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.riders) > 0 || len(r.drivers) > 0 || len(r.rides.List()) > 0 {
		return fmt.Errorf("%w: restore needs an empty registry", models.ErrInvalidInput)
	}
	if snap.Company.TotalRides < 0 {
		return fmt.Errorf("%w: negative total rides", models.ErrInvalidInput)
	}

	riders := make([]*models.Rider, 0, len(snap.Riders))
	byRider := make(map[uuid.UUID]*models.Rider, len(snap.Riders))
	for _, rec := range snap.Riders {
		id := rec.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		rider := &models.Rider{
			Account: models.Account{
				ID: id, Name: rec.Name, Email: rec.Email, NationalID: rec.NationalID, Wallet: rec.Wallet,
			},
			Rating:          models.Rating{AverageRating: rec.AverageRating, TotalRatings: rec.TotalRatings},
			CurrentLocation: rec.CurrentLocation,
		}
		riders = append(riders, rider)
		byRider[id] = rider
	}

	drivers := make([]*models.Driver, 0, len(snap.Drivers))
	byDriver := make(map[uuid.UUID]*models.Driver, len(snap.Drivers))
	for _, rec := range snap.Drivers {
		id := rec.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		d := &models.Driver{
			Account: models.Account{
				ID: id, Name: rec.Name, Email: rec.Email, NationalID: rec.NationalID, Wallet: rec.Wallet,
			},
			Rating:          models.Rating{AverageRating: rec.AverageRating, TotalRatings: rec.TotalRatings},
			CurrentLocation: rec.CurrentLocation,
			IsAvailable:     rec.IsAvailable,
			TotalRides:      rec.TotalRides,
		}
		if rec.Vehicle != nil {
			vt, err := models.ParseVehicleType(string(rec.Vehicle.Type))
			if err != nil {
				return fmt.Errorf("restore driver %q: %w", rec.Name, err)
			}
			v, err := models.NewVehicle(vt, rec.Vehicle.LicensePlate, rec.Vehicle.Rate)
			if err != nil {
				return fmt.Errorf("restore driver %q: %w", rec.Name, err)
			}
			d.Vehicle = v
		}
		drivers = append(drivers, d)
		byDriver[id] = d
	}

	var rides []*models.Ride
	seen := make(map[uuid.UUID]bool, len(snap.Rides))
	for _, rec := range snap.Rides {
		if rec.Status != models.RideCompleted && rec.Status != models.RideInProgress {
			continue
		}
		id := rec.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate ride %s in snapshot", models.ErrInvalidInput, id)
		}
		seen[id] = true
		rides = append(rides, &models.Ride{
			ID:              id,
			StartLocation:   rec.StartLocation,
			EndLocation:     rec.EndLocation,
			Vehicle:         models.Vehicle{Type: rec.VehicleType, LicensePlate: rec.LicensePlate, RatePerKm: rec.Rate},
			RiderID:         rec.RiderID,
			DriverID:        rec.DriverID,
			DistanceKm:      rec.Distance,
			Fare:            rec.Fare,
			Status:          rec.Status,
			StartTime:       rec.StartTime,
			EndTime:         rec.EndTime,
			CancellationFee: fare.CancellationFee,
			DriverRating:    rec.DriverRating,
			RiderRating:     rec.RiderRating,
		})
	}

	// link on the local copies; nothing is visible until the arena accepts every ride
	for _, ride := range rides {
		var rider *models.Rider
		var driver *models.Driver
		if ride.RiderID != nil {
			rider = byRider[*ride.RiderID]
		}
		if ride.DriverID != nil {
			driver = byDriver[*ride.DriverID]
		}
		switch ride.Status {
		case models.RideCompleted:
			if rider != nil {
				rider.RideHistory = append(rider.RideHistory, ride.ID)
			}
			if driver != nil {
				driver.RideHistory = append(driver.RideHistory, ride.ID)
			}
		case models.RideInProgress:
			if rider != nil {
				id := ride.ID
				rider.CurrentRide = &id
			}
			if driver != nil {
				driver.IsAvailable = false
			}
		}
	}

	for i, ride := range rides {
		if err := r.rides.SaveRide(ride); err != nil {
			for _, saved := range rides[:i] {
				_ = r.rides.DeleteRide(saved.ID)
			}
			return fmt.Errorf("restore ride %s: %w", ride.ID, err)
		}
	}

	if snap.Company.Name != "" {
		r.name = snap.Company.Name
	}
	r.riders = riders
	r.drivers = drivers
	r.totalCompleted = snap.Company.TotalRides
	r.refreshGauge()
	r.logger.Info("registry restored",
		"riders", len(riders),
		"drivers", len(drivers),
		"rides", len(rides),
		"total_rides", r.totalCompleted,
	)
	return nil
}
