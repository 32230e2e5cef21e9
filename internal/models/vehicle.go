package models

import (
	"fmt"
	"strings"
)

type VehicleType string

const (
	VehicleCar  VehicleType = "car"
	VehicleBike VehicleType = "bike"
	VehicleCNG  VehicleType = "cng"
)

// Spec is the static per-type entry of the vehicle catalog.
type Spec struct {
	SpeedKmh  float64
	RatePerKm float64
	Capacity  int
}

var catalog = map[VehicleType]Spec{
	VehicleCar:  {SpeedKmh: 50, RatePerKm: 30, Capacity: 4},
	VehicleBike: {SpeedKmh: 60, RatePerKm: 20, Capacity: 2},
	VehicleCNG:  {SpeedKmh: 15, RatePerKm: 25, Capacity: 3},
}

// VehicleTypes lists the catalog in menu order.
func VehicleTypes() []VehicleType {
	return []VehicleType{VehicleCar, VehicleBike, VehicleCNG}
}

// ParseVehicleType accepts any casing and surrounding whitespace.
func ParseVehicleType(s string) (VehicleType, error) {
	vt := VehicleType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := catalog[vt]; !ok {
		return "", fmt.Errorf("%w: unknown vehicle type %q", ErrInvalidInput, s)
	}
	return vt, nil
}

// SpecFor returns the catalog entry for t.
func SpecFor(t VehicleType) (Spec, bool) {
	s, ok := catalog[t]
	return s, ok
}

type Vehicle struct {
	Type         VehicleType `json:"type"`
	LicensePlate string      `json:"license_plate"`
	RatePerKm    float64     `json:"rate"`
}

// NewVehicle builds a vehicle of type t. A non-positive rate falls back to the catalog rate.
func NewVehicle(t VehicleType, plate string, rate float64) (*Vehicle, error) {
	spec, ok := catalog[t]
	if !ok {
		return nil, fmt.Errorf("%w: unknown vehicle type %q", ErrInvalidInput, t)
	}
	if strings.TrimSpace(plate) == "" {
		return nil, fmt.Errorf("%w: license plate is required", ErrInvalidInput)
	}
	if rate <= 0 {
		rate = spec.RatePerKm
	}
	return &Vehicle{Type: t, LicensePlate: plate, RatePerKm: rate}, nil
}

func (v *Vehicle) Capacity() int {
	return catalog[v.Type].Capacity
}

func (v *Vehicle) SpeedKmh() float64 {
	return catalog[v.Type].SpeedKmh
}

func (v *Vehicle) String() string {
	return fmt.Sprintf("%s (%s) - Rate: %.2f/km", strings.ToUpper(string(v.Type)), v.LicensePlate, v.RatePerKm)
}
