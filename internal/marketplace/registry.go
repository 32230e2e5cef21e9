package marketplace

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-sharing/internal/dispatch"
	"github.com/example/ride-sharing/internal/fare"
	"github.com/example/ride-sharing/internal/matcher"
	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/observability"
	"github.com/example/ride-sharing/internal/storage"
)

const DefaultTopRatedLimit = 5

// RideEvents receives rides that reached a terminal state.
type RideEvents interface {
	PublishRide(ctx context.Context, r models.Ride) error
}

// Registry owns every rider, driver and ride of one marketplace session. All methods
// serialize on a single lock so a settlement and its availability flip land together.
// Values handed out are copies; mutate through Registry methods only.
type Registry struct {
	mu             sync.Mutex
	name           string
	riders         []*models.Rider
	drivers        []*models.Driver
	rides          storage.TripStore
	matcher        *matcher.Service
	events         RideEvents
	logger         *slog.Logger
	now            func() time.Time
	totalCompleted int
}

type Option func(*Registry)

func WithDispatcher(d dispatch.Dispatcher) Option {
	return func(r *Registry) { r.matcher.Dispatch = d }
}

func WithEvents(e RideEvents) Option {
	return func(r *Registry) { r.events = e }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
		r.matcher.Logger = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
		r.matcher.Now = now
	}
}

// New builds an empty registry. A nil store gets an in-memory arena.
func New(name string, store storage.TripStore, distances fare.DistanceSource, opts ...Option) *Registry {
	if store == nil {
		store = storage.NewMemoryStore()
	}
	if distances == nil {
		distances = fare.NewRandomDistance(time.Now().UnixNano())
	}
	r := &Registry{
		name:    name,
		rides:   store,
		matcher: &matcher.Service{Store: store, Distances: distances},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) Name() string { return r.name }

type NewRider struct {
	Name          string  `json:"name"`
	Email         string  `json:"email"`
	NationalID    string  `json:"nid"`
	Location      string  `json:"current_location"`
	InitialAmount float64 `json:"initial_amount"`
}

type NewDriver struct {
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	NationalID string          `json:"nid"`
	Location   string          `json:"current_location"`
	Vehicle    *models.Vehicle `json:"vehicle,omitempty"`
}

func validateIdentity(name, email, nid string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: name is required", models.ErrInvalidInput)
	case strings.TrimSpace(email) == "":
		return fmt.Errorf("%w: email is required", models.ErrInvalidInput)
	case strings.TrimSpace(nid) == "":
		return fmt.Errorf("%w: nid is required", models.ErrInvalidInput)
	}
	return nil
}

// RegisterRider appends a rider. Names are not unique.
func (r *Registry) RegisterRider(in NewRider) (models.Rider, error) {
	if err := validateIdentity(in.Name, in.Email, in.NationalID); err != nil {
		return models.Rider{}, err
	}
	if in.InitialAmount < 0 {
		return models.Rider{}, fmt.Errorf("%w: initial amount cannot be negative", models.ErrInvalidInput)
	}
	rider := &models.Rider{
		Account: models.Account{
			ID:         uuid.New(),
			Name:       in.Name,
			Email:      in.Email,
			NationalID: in.NationalID,
			Wallet:     models.RoundMoney(in.InitialAmount),
		},
		CurrentLocation: in.Location,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.riders = append(r.riders, rider)
	r.logger.Info("rider registered", "rider_id", rider.ID.String(), "name", rider.Name)
	return cloneRider(rider), nil
}

// RegisterDriver appends a driver, available from the start. The vehicle is optional.
func (r *Registry) RegisterDriver(in NewDriver) (models.Driver, error) {
	if err := validateIdentity(in.Name, in.Email, in.NationalID); err != nil {
		return models.Driver{}, err
	}
	var v *models.Vehicle
	if in.Vehicle != nil {
		nv, err := models.NewVehicle(in.Vehicle.Type, in.Vehicle.LicensePlate, in.Vehicle.RatePerKm)
		if err != nil {
			return models.Driver{}, err
		}
		v = nv
	}
	driver := &models.Driver{
		Account: models.Account{
			ID:         uuid.New(),
			Name:       in.Name,
			Email:      in.Email,
			NationalID: in.NationalID,
		},
		CurrentLocation: in.Location,
		Vehicle:         v,
		IsAvailable:     true,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers = append(r.drivers, driver)
	r.refreshGauge()
	r.logger.Info("driver registered", "driver_id", driver.ID.String(), "name", driver.Name)
	return cloneDriver(driver), nil
}

func (r *Registry) Rider(id uuid.UUID) (models.Rider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rider, err := r.riderByID(id)
	if err != nil {
		return models.Rider{}, err
	}
	return cloneRider(rider), nil
}

func (r *Registry) Driver(id uuid.UUID) (models.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.driverByID(id)
	if err != nil {
		return models.Driver{}, err
	}
	return cloneDriver(d), nil
}

func (r *Registry) Ride(id uuid.UUID) (models.Ride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ride, err := r.rideByID(id)
	if err != nil {
		return models.Ride{}, err
	}
	return cloneRide(ride), nil
}

// FindRiderByName returns the first rider whose name matches, ignoring case.
func (r *Registry) FindRiderByName(name string) (models.Rider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rider := range r.riders {
		if strings.EqualFold(rider.Name, name) {
			return cloneRider(rider), nil
		}
	}
	return models.Rider{}, fmt.Errorf("%w: rider %q", models.ErrNotFound, name)
}

// FindDriverByName returns the first driver whose name matches, ignoring case.
func (r *Registry) FindDriverByName(name string) (models.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.drivers {
		if strings.EqualFold(d.Name, name) {
			return cloneDriver(d), nil
		}
	}
	return models.Driver{}, fmt.Errorf("%w: driver %q", models.ErrNotFound, name)
}

func (r *Registry) Riders() []models.Rider {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Rider, 0, len(r.riders))
	for _, rider := range r.riders {
		out = append(out, cloneRider(rider))
	}
	return out
}

func (r *Registry) Drivers() []models.Driver {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneDrivers(r.drivers)
}

func (r *Registry) AvailableDrivers() []models.Driver {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneDrivers(r.availableLocked())
}

// TopRated returns rated drivers ordered by (average rating, total rides), best first.
func (r *Registry) TopRated(limit int) []models.Driver {
	if limit <= 0 {
		limit = DefaultTopRatedLimit
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rated := make([]*models.Driver, 0, len(r.drivers))
	for _, d := range r.drivers {
		if d.TotalRatings > 0 {
			rated = append(rated, d)
		}
	}
	sort.SliceStable(rated, func(i, j int) bool {
		if rated[i].AverageRating != rated[j].AverageRating {
			return rated[i].AverageRating > rated[j].AverageRating
		}
		return rated[i].TotalRides > rated[j].TotalRides
	})
	if len(rated) > limit {
		rated = rated[:limit]
	}
	return cloneDrivers(rated)
}

// ValidateRatingThreshold is the caller-side check for ByMinRating input.
func ValidateRatingThreshold(threshold float64) error {
	if threshold < 1.0 || threshold > 5.0 {
		return fmt.Errorf("%w: rating threshold must be between 1.0 and 5.0", models.ErrInvalidInput)
	}
	return nil
}

// ByMinRating returns drivers rated at least threshold, highest first.
func (r *Registry) ByMinRating(threshold float64) []models.Driver {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Driver
	for _, d := range r.drivers {
		if d.AverageRating >= threshold {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AverageRating > out[j].AverageRating })
	return cloneDrivers(out)
}

// SearchRidersByName is a case-insensitive substring search.
func (r *Registry) SearchRidersByName(query string) []models.Rider {
	q := strings.ToLower(query)
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Rider
	for _, rider := range r.riders {
		if strings.Contains(strings.ToLower(rider.Name), q) {
			out = append(out, cloneRider(rider))
		}
	}
	return out
}

// LoadCash tops up a rider's wallet.
func (r *Registry) LoadCash(riderID uuid.UUID, amount float64) (models.Rider, error) {
	if amount <= 0 {
		return models.Rider{}, fmt.Errorf("%w: amount must be greater than 0", models.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rider, err := r.riderByID(riderID)
	if err != nil {
		return models.Rider{}, err
	}
	rider.Credit(amount)
	r.logger.Info("wallet topped up", "rider_id", rider.ID.String(), "amount", amount, "balance", rider.Wallet)
	return cloneRider(rider), nil
}

func (r *Registry) UpdateLocation(riderID uuid.UUID, location string) (models.Rider, error) {
	if strings.TrimSpace(location) == "" {
		return models.Rider{}, fmt.Errorf("%w: location is required", models.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rider, err := r.riderByID(riderID)
	if err != nil {
		return models.Rider{}, err
	}
	rider.CurrentLocation = location
	return cloneRider(rider), nil
}

// AssignVehicle replaces a driver's vehicle. Not allowed mid-ride.
func (r *Registry) AssignVehicle(driverID uuid.UUID, v models.Vehicle) (models.Driver, error) {
	nv, err := models.NewVehicle(v.Type, v.LicensePlate, v.RatePerKm)
	if err != nil {
		return models.Driver{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.driverByID(driverID)
	if err != nil {
		return models.Driver{}, err
	}
	if !d.IsAvailable {
		return models.Driver{}, fmt.Errorf("%w: driver is on a ride", models.ErrInvalidInput)
	}
	d.Vehicle = nv
	r.logger.Info("vehicle assigned", "driver_id", d.ID.String(), "vehicle", nv.String())
	return cloneDriver(d), nil
}

// History lists a rider's completed rides, oldest first.
func (r *Registry) History(riderID uuid.UUID) ([]models.Ride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rider, err := r.riderByID(riderID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Ride, 0, len(rider.RideHistory))
	for _, id := range rider.RideHistory {
		if ride, ok := r.rides.Get(id); ok {
			out = append(out, cloneRide(ride))
		}
	}
	return out, nil
}

type Stats struct {
	Name             string `json:"company_name"`
	Riders           int    `json:"total_riders"`
	Drivers          int    `json:"total_drivers"`
	AvailableDrivers int    `json:"available_drivers"`
	CompletedRides   int    `json:"completed_rides"`
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Name:             r.name,
		Riders:           len(r.riders),
		Drivers:          len(r.drivers),
		AvailableDrivers: len(r.availableLocked()),
		CompletedRides:   r.totalCompleted,
	}
}

func (r *Registry) String() string {
	s := r.Stats()
	return fmt.Sprintf("%s\n   Riders: %d | Drivers: %d | Total Rides: %d", s.Name, s.Riders, s.Drivers, s.CompletedRides)
}

func (r *Registry) availableLocked() []*models.Driver {
	var out []*models.Driver
	for _, d := range r.drivers {
		if d.IsAvailable {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) refreshGauge() {
	observability.DriversAvailable.Set(float64(len(r.availableLocked())))
}

func (r *Registry) riderByID(id uuid.UUID) (*models.Rider, error) {
	for _, rider := range r.riders {
		if rider.ID == id {
			return rider, nil
		}
	}
	return nil, fmt.Errorf("%w: rider %s", models.ErrNotFound, id)
}

func (r *Registry) driverByID(id uuid.UUID) (*models.Driver, error) {
	for _, d := range r.drivers {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: driver %s", models.ErrNotFound, id)
}

func (r *Registry) rideByID(id uuid.UUID) (*models.Ride, error) {
	ride, ok := r.rides.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: ride %s", models.ErrNotFound, id)
	}
	return ride, nil
}

func cloneRider(r *models.Rider) models.Rider {
	c := *r
	c.RideHistory = append([]uuid.UUID(nil), r.RideHistory...)
	if r.CurrentRide != nil {
		id := *r.CurrentRide
		c.CurrentRide = &id
	}
	return c
}

func cloneDriver(d *models.Driver) models.Driver {
	c := *d
	c.RideHistory = append([]uuid.UUID(nil), d.RideHistory...)
	if d.Vehicle != nil {
		v := *d.Vehicle
		c.Vehicle = &v
	}
	return c
}

func cloneDrivers(in []*models.Driver) []models.Driver {
	out := make([]models.Driver, 0, len(in))
	for _, d := range in {
		out = append(out, cloneDriver(d))
	}
	return out
}

func cloneRide(r *models.Ride) models.Ride {
	c := *r
	copyID := func(p *uuid.UUID) *uuid.UUID {
		if p == nil {
			return nil
		}
		v := *p
		return &v
	}
	copyTime := func(p *time.Time) *time.Time {
		if p == nil {
			return nil
		}
		v := *p
		return &v
	}
	copyInt := func(p *int) *int {
		if p == nil {
			return nil
		}
		v := *p
		return &v
	}
	c.DriverID = copyID(r.DriverID)
	c.RiderID = copyID(r.RiderID)
	c.StartTime = copyTime(r.StartTime)
	c.EndTime = copyTime(r.EndTime)
	c.DriverRating = copyInt(r.DriverRating)
	c.RiderRating = copyInt(r.RiderRating)
	return c
}
